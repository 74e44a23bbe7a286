package main

import (
	"log/slog"

	"github.com/Carmen-Shannon/oxy-meshlet/engine"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/camera"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/scene"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/window"
)

// viewer routes window input to the camera, the draw storage, and the scene. Every mutation runs
// through engine.Do so it never overlaps a tick or a frame.
type viewer struct {
	eng   engine.Engine
	scene scene.Scene
	world *world
	orbit camera.OrbitController
	log   *slog.Logger

	frozen bool
	ghost  bool
}

var _ window.Input = &viewer{}

func newViewer(eng engine.Engine, s scene.Scene, w *world, orbit camera.OrbitController, log *slog.Logger) *viewer {
	return &viewer{eng: eng, scene: s, world: w, orbit: orbit, log: log}
}

func (v *viewer) OnAction(a window.Action) {
	switch a {
	case window.ActionFreeze:
		v.eng.Do(func() {
			v.frozen = !v.frozen
			v.eng.Storage().Freeze(v.frozen)
		})
		v.log.Info("visibility frozen", slog.Bool("frozen", v.frozen))
	case window.ActionGhost:
		v.eng.Do(func() {
			v.ghost = !v.ghost
			if err := v.scene.SetGhost(v.ghost); err != nil {
				v.log.Warn("ghost toggle failed", slog.Any("error", err))
			}
		})
		v.log.Info("ghost props", slog.Bool("ghost", v.ghost))
	case window.ActionSpawn:
		v.eng.Do(func() {
			n, err := v.world.spawnProps(v.scene, spawnBatch)
			if err != nil {
				v.log.Warn("spawn failed", slog.Any("error", err))
			}
			v.log.Info("props spawned", slog.Int("count", n), slog.Int("total", len(v.world.props)))
		})
	case window.ActionDespawn:
		v.eng.Do(func() {
			n, err := v.world.despawnProps(v.scene, spawnBatch)
			if err != nil {
				v.log.Warn("despawn failed", slog.Any("error", err))
			}
			v.log.Info("props removed", slog.Int("count", n), slog.Int("total", len(v.world.props)))
		})
	case window.ActionQuit:
		v.eng.Quit()
	}
}

func (v *viewer) OnOrbit(dx, dy float32) {
	v.eng.Do(func() { v.orbit.Orbit(dx, dy) })
}

func (v *viewer) OnZoom(delta float32) {
	v.eng.Do(func() { v.orbit.Zoom(delta) })
}

func (v *viewer) OnResize(width, height int) {
	v.eng.Resize(width, height)
}
