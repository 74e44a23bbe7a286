package profiler

import (
	"log/slog"
	"time"
)

// ProfilerBuilderOption is a functional option for configuring a Profiler via NewProfiler.
type ProfilerBuilderOption func(*Profiler)

// WithLogger sets the logger records are written to.
//
// Parameters:
//   - log: the logger, nil keeps slog.Default()
//
// Returns:
//   - ProfilerBuilderOption: a function that sets the logger
func WithLogger(log *slog.Logger) ProfilerBuilderOption {
	return func(p *Profiler) {
		if log != nil {
			p.log = log
		}
	}
}

// WithSource adds draw storage counters to every record.
//
// Parameters:
//   - s: the draw storage to read
//
// Returns:
//   - ProfilerBuilderOption: a function that sets the source
func WithSource(s Source) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.source = s
	}
}

// WithInterval sets how often a record is logged.
//
// Parameters:
//   - d: the interval, ignored when not positive
//
// Returns:
//   - ProfilerBuilderOption: a function that sets the interval
func WithInterval(d time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.now = now
	}
}
