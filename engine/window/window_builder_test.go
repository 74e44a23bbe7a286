package window

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
)

func TestBuilderOptions(t *testing.T) {
	cfg := windowConfig{width: 1, height: 1, keys: map[glfw.Key]Action{glfw.KeyF: ActionFreeze}}
	for _, opt := range []WindowBuilderOption{
		WithTitle("t"),
		WithSize(640, 0),
		WithSize(800, 600),
		WithKeyBinding(glfw.KeyF, ActionNone),
		WithKeyBinding(glfw.KeySpace, ActionFreeze),
	} {
		opt(&cfg)
	}
	if cfg.title != "t" || cfg.width != 800 || cfg.height != 600 {
		t.Errorf("config = %+v", cfg)
	}
	if _, ok := cfg.keys[glfw.KeyF]; ok {
		t.Error("ActionNone did not unbind F")
	}
	if cfg.keys[glfw.KeySpace] != ActionFreeze {
		t.Error("space not bound to freeze")
	}
}
