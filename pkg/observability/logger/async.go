package logger

import (
	"context"
	"sync"
	"sync/atomic"
)

// AsyncConfig configures asynchronous log dispatch.
type AsyncConfig struct {
	Enabled        bool
	Buffer         int
	Workers        int
	DropOnOverflow bool
}

type entryLevel int

const (
	entryDebug entryLevel = iota
	entryInfo
	entryWarn
	entryError
)

type pendingEntry struct {
	sink  Logger
	level entryLevel
	msg   string
	args  []any
}

type dispatcher struct {
	pending        chan pendingEntry
	dropOnOverflow bool
	wg             sync.WaitGroup
	stopOnce       sync.Once
	stopped        atomic.Bool
}

// AsyncLogger buffers log entries and writes them from worker goroutines.
// Children created via With share the parent's dispatcher, so a single Close
// drains the whole family.
type AsyncLogger struct {
	sink Logger
	disp *dispatcher
}

// WrapAsync wraps base with asynchronous dispatch when cfg.Enabled is set,
// and returns base unchanged otherwise.
func WrapAsync(base Logger, cfg AsyncConfig) Logger {
	if !cfg.Enabled {
		return base
	}

	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 1024
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	d := &dispatcher{
		pending:        make(chan pendingEntry, buffer),
		dropOnOverflow: cfg.DropOnOverflow,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for e := range d.pending {
				e.write()
			}
		}()
	}

	return &AsyncLogger{sink: base, disp: d}
}

func (e pendingEntry) write() {
	switch e.level {
	case entryDebug:
		e.sink.Debug(e.msg, e.args...)
	case entryInfo:
		e.sink.Info(e.msg, e.args...)
	case entryWarn:
		e.sink.Warn(e.msg, e.args...)
	case entryError:
		e.sink.Error(e.msg, e.args...)
	}
}

// Debug logs a debug-level message asynchronously.
func (l *AsyncLogger) Debug(msg string, args ...any) {
	l.enqueue(entryDebug, msg, args...)
}

// Info logs an info-level message asynchronously.
func (l *AsyncLogger) Info(msg string, args ...any) {
	l.enqueue(entryInfo, msg, args...)
}

// Warn logs a warn-level message asynchronously.
func (l *AsyncLogger) Warn(msg string, args ...any) {
	l.enqueue(entryWarn, msg, args...)
}

// Error logs an error-level message asynchronously.
func (l *AsyncLogger) Error(msg string, args ...any) {
	l.enqueue(entryError, msg, args...)
}

// With returns a child logger with additional fields, sharing this logger's
// dispatcher.
func (l *AsyncLogger) With(args ...any) Logger {
	return &AsyncLogger{sink: l.sink.With(args...), disp: l.disp}
}

// WithContext returns a child logger bound to ctx, sharing this logger's
// dispatcher.
func (l *AsyncLogger) WithContext(ctx context.Context) Logger {
	return &AsyncLogger{sink: l.sink.WithContext(ctx), disp: l.disp}
}

// Close drains queued entries and stops the workers. Entries logged after
// Close are written synchronously.
func (l *AsyncLogger) Close() {
	l.disp.stopOnce.Do(func() {
		l.disp.stopped.Store(true)
		close(l.disp.pending)
		l.disp.wg.Wait()
	})
}

func (l *AsyncLogger) enqueue(level entryLevel, msg string, args ...any) {
	e := pendingEntry{sink: l.sink, level: level, msg: msg, args: args}

	if l.disp.stopped.Load() {
		e.write()
		return
	}

	if l.disp.dropOnOverflow {
		select {
		case l.disp.pending <- e:
		default:
		}
		return
	}

	l.disp.pending <- e
}
