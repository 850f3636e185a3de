// Package version carries the build metadata stamped into release
// binaries. Local builds report the development defaults.
package version

import (
	"runtime"
	"strings"
)

// Values reported when the release pipeline did not stamp a field.
const (
	DevelopmentVersion = "dev"
	Unknown            = "unknown"
)

// Stamped at link time, for example:
//
//	go build -ldflags "-X github.com/flockwork/flockwork/pkg/version.AppVersion=v1.4.0"
var (
	AppVersion = DevelopmentVersion
	GitCommit  = Unknown
	BuildTime  = Unknown
)

// Info describes one replica binary.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Current combines the stamped build metadata with the configured
// service name and the Go runtime the binary was compiled with.
func Current(serviceName string) Info {
	return Info{
		Service:   orDefault(serviceName, Unknown),
		Version:   orDefault(AppVersion, DevelopmentVersion),
		Commit:    orDefault(GitCommit, Unknown),
		BuildTime: orDefault(BuildTime, Unknown),
		GoVersion: runtime.Version(),
	}
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
