// Command meshlet_viewer renders a procedural landscape with props and skinned columns through
// the draw storage: every object is culled per meshlet cluster on the GPU and drawn with one
// indirect draw per command, into the main view and each shadow cascade.
//
// Keys: F freezes culling, G toggles ghost props, = and - add and remove props, Esc quits.
// Drag with the left button to orbit and scroll to zoom.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/Carmen-Shannon/oxy-meshlet/engine"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/camera"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/config"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/draw_storage"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/loader"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/scene"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/shader"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/window"
	"github.com/go-gl/mathgl/mgl32"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "meshlet_viewer.json", "settings file; defaults are used when it does not exist")
	validate := flag.Bool("validate-shaders", false, "compile every shader with naga and exit")
	flag.Parse()

	settings, found, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	level, err := settings.Level()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	if !found {
		log.Info("settings file not found, using defaults", slog.String("path", *configPath))
	}

	if *validate {
		if err := validateShaders(log); err != nil {
			log.Error("shader validation failed", slog.Any("error", err))
			return 1
		}
		return 0
	}

	if err := view(settings, log); err != nil {
		if errors.Is(err, window.ErrNoWindow) {
			log.Error("no display available; try -validate-shaders on headless machines", slog.Any("error", err))
			return 1
		}
		log.Error("viewer failed", slog.Any("error", err))
		return 1
	}
	return 0
}

// validateShaders expands and compiles the kernels and the draw shaders without a GPU.
func validateShaders(log *slog.Logger) error {
	sources, err := allSources()
	if err != nil {
		return err
	}
	if err := shader.ValidateAll(sources); err != nil {
		return err
	}
	log.Info("shaders valid", slog.Int("count", len(sources)))
	return nil
}

// view opens the window and runs the viewer until it closes.
func view(settings config.Settings, log *slog.Logger) error {
	// ── Window + Device ────────────────────────────────────────────
	win, err := window.NewWindow(
		window.WithTitle(settings.Window.Title),
		window.WithSize(settings.Window.Width, settings.Window.Height),
		window.WithResizable(true),
	)
	if err != nil {
		return err
	}
	defer win.Close()

	cascades := settings.DrawStorage.ShadowCascades
	gpu, err := device.NewWGPUDevice(win.SurfaceDescriptor(),
		device.WithVSync(settings.Device.VSync),
		device.WithForceFallbackAdapter(settings.Device.ForceFallbackAdapter),
		device.WithShadowMaps(cascades, settings.Device.ShadowMapSize),
	)
	if err != nil {
		return err
	}
	defer gpu.Release()

	width, height := win.FramebufferSize()
	if err := gpu.ConfigureSurface(width, height); err != nil {
		return err
	}

	// ── Draw Storage + Pipelines ───────────────────────────────────
	reg, err := newRegistry()
	if err != nil {
		return err
	}
	storage := draw_storage.NewDrawStorage(gpu, reg,
		draw_storage.WithLogger(log),
		draw_storage.WithShadowCascades(cascades),
		draw_storage.WithMarshalWorkers(settings.DrawStorage.MarshalWorkers),
		draw_storage.WithParallelMarshalThreshold(settings.DrawStorage.ParallelMarshalThreshold),
		draw_storage.WithInitialInstanceCapacity(settings.DrawStorage.InitialInstanceCapacity),
		draw_storage.WithBindless(settings.DrawStorage.Bindless),
	)
	defer storage.Release()
	for _, p := range append(storage.Kernels(), reg.Pipelines()...) {
		if err := gpu.RegisterPipeline(p); err != nil {
			return fmt.Errorf("pipeline %s: %w", p.PipelineKey(), err)
		}
	}

	// ── Camera ─────────────────────────────────────────────────────
	extent := float32(settings.Scene.LandscapeChunks) * chunkSize / 2
	orbit := camera.NewOrbitController(
		camera.WithTarget(mgl32.Vec3{0, 0, 0}),
		camera.WithRadius(max(extent*1.2, 10)),
		camera.WithAngles(0.6, 0.5),
		camera.WithRadiusBounds(2, max(extent*6, 50)),
	)
	cam := camera.NewCamera(
		camera.WithAspect(float32(width)/float32(max(height, 1))),
		camera.WithClipPlanes(0.05, max(extent*8, 85)),
		camera.WithController(orbit),
	)

	// ── Scene ──────────────────────────────────────────────────────
	s := scene.NewScene("world", storage,
		scene.WithLogger(log),
		scene.WithComputeWorkers(settings.DrawStorage.MarshalWorkers),
	)
	w, err := newWorld(gpu, settings.Scene, log)
	if err != nil {
		return err
	}
	ld := loader.NewLoader(gpu, loader.WithLogger(log))
	defer func() {
		if err := s.Clear(); err != nil {
			log.Warn("scene clear failed", slog.Any("error", err))
		}
		s.Release()
		if err := w.freeLandscape(); err != nil {
			log.Warn("landscape free failed", slog.Any("error", err))
		}
		w.release()
		ld.Release()
	}()

	if err := w.populate(s); err != nil {
		return err
	}
	if models := settings.Scene.Models; len(models) > 0 {
		if settings.DrawStorage.Bindless {
			// Model parts own their buffers, which bindless commands cannot mix.
			log.Warn("models are skipped with bindless draw storage", slog.Int("models", len(models)))
		} else if err := w.loadModels(s, ld, models); err != nil {
			return err
		}
	}

	// ── Engine ─────────────────────────────────────────────────────
	eng := engine.NewEngine(gpu, storage, cam,
		engine.WithLogger(log),
		engine.WithWindow(win),
		engine.WithScene(0, s),
		engine.WithProfiling(true),
	)
	win.SetInput(newViewer(eng, s, w, orbit, log))
	defer win.SetInput(nil)

	log.Info("viewer started",
		slog.Int("width", width),
		slog.Int("height", height),
		slog.Int("cascades", cascades),
		slog.Bool("bindless", settings.DrawStorage.Bindless),
	)
	return eng.Run()
}
