// Package window opens the GLFW window the viewer presents into and turns its input into viewer
// actions.
package window

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// Action is a discrete viewer command bound to a key.
type Action uint8

const (
	ActionNone Action = iota
	// ActionFreeze toggles freezing the visibility pass.
	ActionFreeze
	// ActionGhost toggles the ghost flag of props.
	ActionGhost
	// ActionSpawn adds a batch of props.
	ActionSpawn
	// ActionDespawn frees a batch of props.
	ActionDespawn
	// ActionQuit closes the window.
	ActionQuit
)

// Input receives window events. Handlers run on the thread calling Poll.
type Input interface {
	// OnAction is called for a bound key press.
	OnAction(a Action)
	// OnOrbit is called while the left button drags, in pixels.
	OnOrbit(dx, dy float32)
	// OnZoom is called for wheel motion, positive towards the target.
	OnZoom(delta float32)
	// OnResize is called with the new framebuffer size.
	OnResize(width, height int)
}

type glfwWindow struct {
	window *glfw.Window
	input  Input
	keys   map[glfw.Key]Action

	dragging     bool
	lastX, lastY float64
}

// Window is a native window with a WebGPU surface.
type Window interface {
	// SurfaceDescriptor returns the platform surface descriptor for wgpu.
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// FramebufferSize returns the drawable size in pixels.
	FramebufferSize() (int, int)

	// SetInput routes events to in, or drops them when in is nil.
	SetInput(in Input)

	// Poll processes pending events.
	//
	// Returns:
	//   - bool: false once the window should close
	Poll() bool

	// Close destroys the window and terminates GLFW.
	Close()
}

var _ Window = &glfwWindow{}

// ErrNoWindow is returned when GLFW cannot create a window, typically on a headless machine.
var ErrNoWindow = errors.New("window: cannot create window")

// NewWindow initializes GLFW and opens a window without a client API. The calling goroutine is
// locked to its OS thread for the lifetime of the process.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the window
//   - error: ErrNoWindow wrapping the GLFW error on failure
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	cfg := windowConfig{
		title:  "Meshlet Viewer",
		width:  1280,
		height: 720,
		keys: map[glfw.Key]Action{
			glfw.KeyF:      ActionFreeze,
			glfw.KeyG:      ActionGhost,
			glfw.KeyEqual:  ActionSpawn,
			glfw.KeyMinus:  ActionDespawn,
			glfw.KeyEscape: ActionQuit,
		},
	}
	for _, opt := range options {
		opt(&cfg)
	}

	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoWindow, err)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, boolHint(cfg.resizable))
	win, err := glfw.CreateWindow(cfg.width, cfg.height, cfg.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrNoWindow, err)
	}

	w := &glfwWindow{window: win, keys: cfg.keys}
	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		a, ok := w.keys[key]
		if !ok {
			return
		}
		if a == ActionQuit {
			win.SetShouldClose(true)
		}
		if w.input != nil {
			w.input.OnAction(a)
		}
	})
	win.SetMouseButtonCallback(func(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
		if button != glfw.MouseButtonLeft {
			return
		}
		w.dragging = action == glfw.Press
		w.lastX, w.lastY = win.GetCursorPos()
	})
	win.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) {
		if w.dragging && w.input != nil {
			w.input.OnOrbit(float32(x-w.lastX), float32(y-w.lastY))
		}
		w.lastX, w.lastY = x, y
	})
	win.SetScrollCallback(func(_ *glfw.Window, _, yoff float64) {
		if w.input != nil {
			w.input.OnZoom(float32(yoff))
		}
	})
	// Framebuffer size differs from window size on high-DPI displays; the surface needs pixels.
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		if w.input != nil && width > 0 && height > 0 {
			w.input.OnResize(width, height)
		}
	})
	return w, nil
}

func (w *glfwWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	return wgpuglfw.GetSurfaceDescriptor(w.window)
}

func (w *glfwWindow) FramebufferSize() (int, int) {
	return w.window.GetFramebufferSize()
}

func (w *glfwWindow) SetInput(in Input) {
	w.input = in
}

func (w *glfwWindow) Poll() bool {
	glfw.PollEvents()
	return !w.window.ShouldClose()
}

func (w *glfwWindow) Close() {
	w.window.Destroy()
	glfw.Terminate()
}

func boolHint(b bool) int {
	if b {
		return glfw.True
	}
	return glfw.False
}
