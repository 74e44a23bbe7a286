package window

import "github.com/go-gl/glfw/v3.3/glfw"

type windowConfig struct {
	title         string
	width, height int
	resizable     bool
	keys          map[glfw.Key]Action
}

// WindowBuilderOption is a functional option for configuring a window via NewWindow.
type WindowBuilderOption func(*windowConfig)

// WithTitle sets the window title.
//
// Parameters:
//   - title: the title bar text
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithTitle(title string) WindowBuilderOption {
	return func(c *windowConfig) {
		c.title = title
	}
}

// WithSize sets the initial window size in screen coordinates.
//
// Parameters:
//   - width: the width, ignored when not positive
//   - height: the height, ignored when not positive
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSize(width, height int) WindowBuilderOption {
	return func(c *windowConfig) {
		if width > 0 && height > 0 {
			c.width, c.height = width, height
		}
	}
}

// WithResizable allows the user to resize the window.
func WithResizable(resizable bool) WindowBuilderOption {
	return func(c *windowConfig) {
		c.resizable = resizable
	}
}

// WithKeyBinding binds key to a, replacing any previous binding. ActionNone removes it.
//
// Parameters:
//   - key: the GLFW key
//   - a: the action
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithKeyBinding(key glfw.Key, a Action) WindowBuilderOption {
	return func(c *windowConfig) {
		if a == ActionNone {
			delete(c.keys, key)
			return
		}
		c.keys[key] = a
	}
}
