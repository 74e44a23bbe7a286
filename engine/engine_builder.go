package engine

import (
	"log/slog"
	"time"

	"github.com/Carmen-Shannon/oxy-meshlet/common"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/profiler"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/scene"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/window"
	"github.com/go-gl/mathgl/mgl32"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithLogger sets the logger for frame warnings. The default profiler logs to it as well.
//
// Parameters:
//   - logger: the logger, nil keeps the discarding default
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) EngineBuilderOption {
	return func(e *engine) {
		e.log = common.Coalesce(logger, e.log)
	}
}

// WithProfiling enables or disables per-interval statistics output.
//
// Parameters:
//   - enabled: if true, enables profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithProfiler replaces the default profiler, which reports the engine's draw storage to the
// engine's logger once per second.
//
// Parameters:
//   - p: the profiler
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = p
	}
}

// WithTickRate sets the engine tick rate in frames per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target ticks per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Duration(float64(time.Second) / fps)
	}
}

// WithWindow sets the window the render loop polls. Run requires one.
//
// Parameters:
//   - w: a pre-configured Window instance
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithScene registers a scene at the given key during engine construction.
//
// Parameters:
//   - key: the update order key
//   - s: the Scene to register
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithScene(key int, s scene.Scene) EngineBuilderOption {
	return func(e *engine) {
		e.scenes[key] = s
	}
}

// WithLight sets the direction the shadow-casting light travels. Cascades are fitted along it.
//
// Parameters:
//   - dir: the light direction, need not be normalized
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithLight(dir mgl32.Vec3) EngineBuilderOption {
	return func(e *engine) {
		if dir.Len() > 0 {
			e.lightDir = dir
		}
	}
}

// WithCascadeLambda sets the blend between uniform (0) and logarithmic (1) cascade splits.
//
// Parameters:
//   - lambda: the blend factor, clamped to [0, 1]
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithCascadeLambda(lambda float32) EngineBuilderOption {
	return func(e *engine) {
		e.cascadeLambda = mgl32.Clamp(lambda, 0, 1)
	}
}

// WithRenderFrameLimit sets an optional render frame rate cap in frames per second.
// Pass 0 to uncap the render loop (default).
//
// Parameters:
//   - fps: maximum render frames per second (0 = uncapped)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithRenderFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.renderFrameLimit = 0
			return
		}
		e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
	}
}
