package store

import (
	"context"
	"fmt"
)

// Table names shared by every replica of a fleet. The coordination protocol
// assumes all replicas point at the same three tables.
const (
	ParametersTable = "flockwork_parameters"
	LeasesTable     = "flockwork_leases"
	JobsTable       = "flockwork_jobs"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + ParametersTable + ` (
	id    TEXT PRIMARY KEY,
	value DOUBLE PRECISION NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS ` + LeasesTable + ` (
	name        TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	version     BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS ` + JobsTable + ` (
	id           BIGSERIAL PRIMARY KEY,
	queue        SMALLINT NOT NULL,
	status       SMALLINT NOT NULL,
	worker       TEXT NOT NULL DEFAULT '',
	heartbeat_at TIMESTAMPTZ NOT NULL,
	progress     BYTEA,
	attempts     INT NOT NULL DEFAULT 0,
	version      BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS idx_` + JobsTable + `_poll ON ` + JobsTable + ` (queue, status, heartbeat_at)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + ParametersTable + ` (
	id    VARCHAR(255) PRIMARY KEY,
	value DOUBLE NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS ` + LeasesTable + ` (
	name        VARCHAR(255) PRIMARY KEY,
	owner       VARCHAR(255) NOT NULL,
	acquired_at DATETIME(6) NOT NULL,
	expires_at  DATETIME(6) NOT NULL,
	version     BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS ` + JobsTable + ` (
	id           BIGINT AUTO_INCREMENT PRIMARY KEY,
	queue        SMALLINT NOT NULL,
	status       SMALLINT NOT NULL,
	worker       VARCHAR(255) NOT NULL DEFAULT '',
	heartbeat_at DATETIME(6) NOT NULL,
	progress     BLOB,
	attempts     INT NOT NULL DEFAULT 0,
	version      BIGINT NOT NULL DEFAULT 0,
	KEY idx_` + JobsTable + `_poll (queue, status, heartbeat_at)
)`,
}

// Schema returns the DDL statements for the coordination tables in the
// given dialect. Statements are idempotent.
func Schema(d Dialect) []string {
	if d == DialectMySQL {
		return mysqlSchema
	}
	return postgresSchema
}

// EnsureSchema applies the coordination table DDL. Replicas call it on boot;
// integration tests call it against throwaway containers.
func EnsureSchema(ctx context.Context, q Querier, d Dialect) error {
	for _, stmt := range Schema(d) {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
