package loader

import "log/slog"

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithLogger sets the logger import progress and skipped primitives are reported to.
//
// Parameters:
//   - log: the logger, nil keeps the discarding default
//
// Returns:
//   - LoaderBuilderOption: a function that sets the logger
func WithLogger(log *slog.Logger) LoaderBuilderOption {
	return func(l *loader) {
		if log != nil {
			l.log = log
		}
	}
}

// WithScale multiplies every imported position by s.
//
// Parameters:
//   - s: the uniform scale, ignored when not positive
//
// Returns:
//   - LoaderBuilderOption: a function that sets the import scale
func WithScale(s float32) LoaderBuilderOption {
	return func(l *loader) {
		if s > 0 {
			l.scale = s
		}
	}
}
