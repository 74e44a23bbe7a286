package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/camera"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/draw_storage"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/profiler"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/scene"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/window"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrNoWindow is returned by Run when the engine was built without a window.
var ErrNoWindow = errors.New("engine: Run requires a window")

// Renderer is the part of the GPU device the render loop drives. device.WGPUDevice implements it.
// A Renderer that also implements device.HiZSource feeds the main view's occlusion culling.
type Renderer interface {
	// BeginFrame acquires the next surface texture and starts recording a frame.
	BeginFrame() (device.Frame, error)

	// ConfigureSurface resizes the swapchain and depth attachments.
	ConfigureSurface(width, height int) error
}

// engine implements the Engine interface.
// Coordinates the tick thread with the render loop running on the window thread.
type engine struct {
	// mu serializes every use of the draw storage and scenes between the tick goroutine, the
	// render loop, and Do.
	mu sync.Mutex

	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	window  window.Window
	gpu     Renderer
	storage draw_storage.DrawStorage
	cam     camera.Camera
	log     *slog.Logger

	lightDir      mgl32.Vec3
	cascadeLambda float32

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)

	scenes map[int]scene.Scene

	renderFrameLimit time.Duration // minimum frame duration; 0 = uncapped

	resizePending bool
	width, height int
	frames        uint64
}

// Engine drives a draw storage: a fixed-rate tick advances the scenes, and the render loop
// commits the draw storage, culls every viewport, and draws the shadow cascades and the main
// view each frame.
type Engine interface {
	// Window returns the underlying window, or nil.
	//
	// Returns:
	//   - window.Window: the window instance
	Window() window.Window

	// Storage returns the draw storage the engine renders.
	//
	// Returns:
	//   - draw_storage.DrawStorage: the draw storage
	Storage() draw_storage.DrawStorage

	// Camera returns the main camera.
	//
	// Returns:
	//   - camera.Camera: the camera
	Camera() camera.Camera

	// EnableProfiler enables per-interval statistics output to the log.
	EnableProfiler()

	// DisableProfiler disables statistics output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in frames per second.
	// The scenes are updated and the tick callback is called at this rate.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick, after the scenes are
	// updated. It runs holding the engine lock.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called after each rendered frame.
	//
	// Parameters:
	//   - callback: function to call each render frame, receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	// Pass 0 to uncap the render loop (default).
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// AddScene registers a scene at the given key. Scenes are updated in ascending key order.
	//
	// Parameters:
	//   - key: the update order key
	//   - s: the Scene to register
	AddScene(key int, s scene.Scene)

	// RemoveScene removes the scene at the given key.
	//
	// Parameters:
	//   - key: the key of the scene to remove
	RemoveScene(key int)

	// Scene retrieves the scene registered at the given key, or nil.
	//
	// Parameters:
	//   - key: the key of the scene to retrieve
	//
	// Returns:
	//   - scene.Scene: the scene at the key, or nil if not found
	Scene(key int) scene.Scene

	// Do runs fn holding the engine lock, so it may use the draw storage and scenes while the
	// engine is running. Input handlers use it.
	//
	// Parameters:
	//   - fn: the function to run
	Do(fn func())

	// Resize reconfigures the surface and camera aspect before the next frame.
	//
	// Parameters:
	//   - width: the framebuffer width in pixels
	//   - height: the framebuffer height in pixels
	Resize(width, height int)

	// Frames returns the number of submitted frames.
	Frames() uint64

	// Run starts the tick goroutine and runs the render loop on the calling goroutine until the
	// window closes, Quit is called, or a frame fails.
	//
	// Returns:
	//   - error: ErrNoWindow without a window, or the error that stopped the render loop
	Run() error

	// Quit signals all engine goroutines to stop.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

var _ Engine = &engine{}

// NewEngine creates an Engine rendering storage through gpu from the point of view of cam.
// NewEngine panics if any of them is nil.
//
// Parameters:
//   - gpu: the device frames are recorded on
//   - storage: the draw storage to render
//   - cam: the main camera
//   - options: functional options for engine configuration (window, tick rate, profiling, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(gpu Renderer, storage draw_storage.DrawStorage, cam camera.Camera, options ...EngineBuilderOption) Engine {
	if gpu == nil {
		panic("engine: NewEngine requires a non-nil Renderer")
	}
	if storage == nil {
		panic("engine: NewEngine requires a non-nil DrawStorage")
	}
	if cam == nil {
		panic("engine: NewEngine requires a non-nil Camera")
	}
	e := &engine{
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		gpu:             gpu,
		storage:         storage,
		cam:             cam,
		log:             slog.New(slog.DiscardHandler),
		lightDir:        mgl32.Vec3{-0.4, -0.8, -0.45},
		cascadeLambda:   0.75,
		scenes:          make(map[int]scene.Scene),
		engineTickRate:  time.Second / 60,
	}

	for _, opt := range options {
		opt(e)
	}
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler(profiler.WithLogger(e.log), profiler.WithSource(storage))
	}
	return e
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Storage() draw_storage.DrawStorage {
	return e.storage
}

func (e *engine) Camera() camera.Camera {
	return e.cam
}

func (e *engine) Run() error {
	if e.window == nil {
		return ErrNoWindow
	}
	e.mu.Lock()
	e.running = true
	rate := e.engineTickRate
	e.mu.Unlock()

	e.wg.Add(1)
	go e.handleEngine(rate)
	err := e.handleRender()
	e.signalQuit()
	e.wg.Wait()
	return err
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		close(e.quitChannel)
	})
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Updates the scenes and fires the tick callback at the configured tick rate, and listens for
// dynamic rate changes via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine(rate time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now
			e.tick(dt)
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.mu.Lock()
			e.engineTickRate = newRate
			e.mu.Unlock()
		}
	}
}

// tick updates every scene in key order and then runs the tick callback.
func (e *engine) tick(dt float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := make([]int, 0, len(e.scenes))
	for k := range e.scenes {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		if err := e.scenes[k].Update(dt); err != nil {
			e.log.Warn("scene update failed", slog.String("scene", e.scenes[k].Name()), slog.Any("error", err))
		}
	}
	if e.tickCallback != nil {
		e.tickCallback(dt)
	}
}

// handleRender runs the render loop until the window closes or the engine quits. Polling runs
// on the window thread between frames.
func (e *engine) handleRender() error {
	lastRender := time.Now()

	for e.window.Poll() {
		select {
		case <-e.quitChannel:
			return nil
		default:
		}

		now := time.Now()
		dt := float32(now.Sub(lastRender).Seconds())
		lastRender = now

		if err := e.renderFrame(); err != nil {
			return err
		}
		if e.renderCallback != nil {
			e.renderCallback(dt)
		}

		// Frame rate limiting
		if e.renderFrameLimit > 0 {
			elapsed := time.Since(lastRender)
			if remaining := e.renderFrameLimit - elapsed; remaining > 0 {
				time.Sleep(remaining)
			}
		}
	}
	return nil
}

// renderFrame runs one frame: commit, per-viewport views, the HiZ of the previous frame, bind
// groups, the visibility pass, one depth pass per shadow cascade, and the main pass. A frame whose
// surface texture cannot be acquired is skipped.
func (e *engine) renderFrame() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.resizePending {
		e.resizePending = false
		if err := e.gpu.ConfigureSurface(e.width, e.height); err != nil {
			return fmt.Errorf("engine: resize: %w", err)
		}
		e.cam.SetAspect(float32(e.width) / float32(e.height))
	}
	e.cam.Update()

	if _, err := e.storage.Commit(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.storage.SetView(draw_storage.ViewportMain, e.cam)
	cascades := camera.FitCascades(e.cam, e.lightDir, e.storage.Viewports()-1, e.cascadeLambda)
	for i, c := range cascades {
		e.storage.SetView(draw_storage.ViewportMain+1+i, c)
	}
	if src, ok := e.gpu.(device.HiZSource); ok {
		e.storage.SetHiZ(src.HiZ())
	}
	if err := e.storage.PrepareUniforms(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	frame, err := e.gpu.BeginFrame()
	if err != nil {
		e.log.Warn("frame skipped", slog.Any("error", err))
		return nil
	}
	e.storage.VisibilityPass(frame)
	for i := range cascades {
		if err := frame.BeginShadowPass(i); err != nil {
			frame.Release()
			return fmt.Errorf("engine: %w", err)
		}
		e.storage.DrawShadow(frame, i)
		frame.EndPass()
	}
	frame.BeginMainPass()
	e.storage.DrawGBuffer(frame)
	if err := frame.Submit(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.frames++

	if e.profilingEnabled {
		e.profiler.Tick()
	}
	return nil
}

// EnableProfiler enables per-interval statistics output to the log.
func (e *engine) EnableProfiler() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profilingEnabled = true
}

// DisableProfiler disables statistics output.
func (e *engine) DisableProfiler() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Duration(float64(time.Second) / fps)

	e.mu.Lock()
	running := e.running
	if !running {
		e.engineTickRate = newRate
	}
	e.mu.Unlock()
	if !running {
		return
	}

	// Non-blocking send - if channel is full, replace the pending value
	select {
	case e.tickRateChannel <- newRate:
	default:
		// Channel has a pending update, drain and send new value
		select {
		case <-e.tickRateChannel:
		default:
		}
		e.tickRateChannel <- newRate
	}
}

// SetTickCallback registers the function called each engine tick.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickCallback = callback
}

// SetRenderCallback registers the function called each render frame.
func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

// SetRenderFrameLimit sets an optional render frame rate cap.
// Pass 0 to uncap the render loop.
func (e *engine) SetRenderFrameLimit(fps float64) {
	if fps <= 0 {
		e.renderFrameLimit = 0
		return
	}
	e.renderFrameLimit = time.Duration(float64(time.Second) / fps)
}

func (e *engine) AddScene(key int, s scene.Scene) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scenes[key] = s
}

func (e *engine) RemoveScene(key int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.scenes, key)
}

func (e *engine) Scene(key int) scene.Scene {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scenes[key]
}

func (e *engine) Do(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func (e *engine) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.width, e.height = width, height
	e.resizePending = true
}

func (e *engine) Frames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}
