package scene

import (
	"log/slog"

	"github.com/Carmen-Shannon/oxy-meshlet/common"
)

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithLogger sets the logger the scene reports spawns and clears to.
//
// Parameters:
//   - logger: the logger, nil keeps the discarding default
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) SceneBuilderOption {
	return func(s *scene) {
		s.log = common.Coalesce(logger, s.log)
	}
}

// WithComputeWorkers sets the number of worker goroutines used to advance object transforms
// during Update. Defaults to runtime.NumCPU()-1.
//
// Parameters:
//   - n: the number of compute workers (minimum 1)
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithComputeWorkers(n int) SceneBuilderOption {
	return func(s *scene) {
		if n < 1 {
			n = 1
		}
		s.computeWorkers = n
	}
}

// WithParallelThreshold sets the number of moving objects from which Update splits the
// transform work across the compute pool.
//
// Parameters:
//   - objects: the threshold, values below 1 are ignored
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithParallelThreshold(objects int) SceneBuilderOption {
	return func(s *scene) {
		if objects >= 1 {
			s.parallelThreshold = objects
		}
	}
}
