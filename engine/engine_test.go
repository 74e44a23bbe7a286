package engine

import (
	"errors"
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/camera"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device/devicetest"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/draw_storage"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/game_object"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/material"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/mesh"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
)

type fakeRenderer struct {
	cascades   int
	frames     []*devicetest.Frame
	configured [][2]int
	failBegin  error
}

func (r *fakeRenderer) BeginFrame() (device.Frame, error) {
	if r.failBegin != nil {
		return nil, r.failBegin
	}
	f := &devicetest.Frame{Cascades: r.cascades}
	r.frames = append(r.frames, f)
	return f, nil
}

func (r *fakeRenderer) ConfigureSurface(width, height int) error {
	r.configured = append(r.configured, [2]int{width, height})
	return nil
}

type fixture struct {
	dev     *devicetest.Device
	gpu     *fakeRenderer
	storage draw_storage.DrawStorage
	tri     *mesh.StaticMesh
	engine  *engine
}

func newFixture(t *testing.T, options ...EngineBuilderOption) fixture {
	t.Helper()
	dev := devicetest.NewDevice()
	reg := pipeline.NewRegistry()
	color := pipeline.NewPipeline("color", pipeline.PipelineTypeRender)
	depth := pipeline.NewPipeline("depth", pipeline.PipelineTypeRender, pipeline.WithEntryPoints("vs_main", ""))
	reg.Register(pipeline.ObjectMovable, pipeline.PassColor, pipeline.AnyAlpha, color)
	reg.Register(pipeline.ObjectMovable, pipeline.PassShadow, pipeline.AnyAlpha, depth)

	tri, err := mesh.NewStaticMesh(dev, "tri", []mesh.GPUVertex{
		{Position: [3]float32{0, 0, 0}},
		{Position: [3]float32{1, 0, 0}},
		{Position: [3]float32{0, 1, 0}},
	}, []uint32{0, 1, 2})
	if err != nil {
		t.Fatalf("NewStaticMesh() error = %v", err)
	}
	storage := draw_storage.NewDrawStorage(dev, reg, draw_storage.WithShadowCascades(1))
	gpu := &fakeRenderer{cascades: 1}
	e := NewEngine(gpu, storage, camera.NewCamera(), options...).(*engine)
	return fixture{dev: dev, gpu: gpu, storage: storage, tri: tri, engine: e}
}

func TestRenderFrameRecordsPassesInOrder(t *testing.T) {
	f := newFixture(t)
	item := f.storage.Allocate(f.tri, material.NewMaterial(), 0, f.tri.IndexCount(), pipeline.ObjectMovable)
	if err := item.SetObjMatrix(mgl32.Translate3D(0, 0, -5)); err != nil {
		t.Fatalf("SetObjMatrix() error = %v", err)
	}

	if err := f.engine.renderFrame(); err != nil {
		t.Fatalf("renderFrame() error = %v", err)
	}
	if len(f.gpu.frames) != 1 || f.engine.Frames() != 1 {
		t.Fatalf("frames begun = %d, Frames() = %d, want 1, 1", len(f.gpu.frames), f.engine.Frames())
	}
	frame := f.gpu.frames[0]
	if want := []string{"shadow 0", "end", "main", "submit"}; !slices.Equal(frame.Passes, want) {
		t.Errorf("passes = %v, want %v", frame.Passes, want)
	}
	// init and cull for the main viewport and the cascade
	if len(frame.Dispatches) != 4 {
		t.Errorf("dispatches = %d, want 4", len(frame.Dispatches))
	}
	if len(frame.Draws) != 2 {
		t.Fatalf("draws = %d, want 2", len(frame.Draws))
	}
	if frame.Draws[0].Pipeline.PipelineKey() != "depth" || frame.Draws[1].Pipeline.PipelineKey() != "color" {
		t.Errorf("draw order = %s, %s, want depth, color", frame.Draws[0].Pipeline.PipelineKey(), frame.Draws[1].Pipeline.PipelineKey())
	}
}

func TestRenderFrameSkipsUnavailableSurface(t *testing.T) {
	f := newFixture(t)
	f.gpu.failBegin = errors.New("surface outdated")
	if err := f.engine.renderFrame(); err != nil {
		t.Fatalf("renderFrame() error = %v, want nil", err)
	}
	if f.engine.Frames() != 0 {
		t.Errorf("Frames() = %d, want 0", f.engine.Frames())
	}
}

func TestRenderFrameReturnsCommitErrors(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("out of memory")
	f.dev.FailCreate = boom
	if err := f.engine.renderFrame(); !errors.Is(err, boom) {
		t.Errorf("renderFrame() error = %v, want %v", err, boom)
	}
}

func TestResizeAppliesBeforeNextFrame(t *testing.T) {
	f := newFixture(t)
	f.engine.Resize(0, 100)
	f.engine.Resize(300, 100)
	if len(f.gpu.configured) != 0 {
		t.Fatal("Resize configured the surface outside the render loop")
	}
	if err := f.engine.renderFrame(); err != nil {
		t.Fatalf("renderFrame() error = %v", err)
	}
	if !slices.Equal(f.gpu.configured, [][2]int{{300, 100}}) {
		t.Errorf("configured = %v, want [[300 100]]", f.gpu.configured)
	}
	if got := f.engine.Camera().Aspect(); got != 3 {
		t.Errorf("Camera().Aspect() = %v, want 3", got)
	}
}

func TestTickUpdatesScenesThenCallback(t *testing.T) {
	f := newFixture(t)
	s := scene.NewScene("test", f.storage)
	obj, err := s.Spawn(f.tri, material.NewMaterial(), 0, f.tri.IndexCount(), pipeline.ObjectMovable,
		game_object.WithRotationSpeed(mgl32.Vec3{0, 2, 0}))
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	f.engine.AddScene(0, s)

	var got float32
	f.engine.SetTickCallback(func(dt float32) {
		got = dt
		if obj.Rotation().Y() != 0.5 {
			t.Errorf("callback ran before the scene update: Rotation().Y() = %v", obj.Rotation().Y())
		}
	})
	f.engine.tick(0.25)
	if got != 0.25 {
		t.Errorf("tick callback dt = %v, want 0.25", got)
	}

	f.engine.RemoveScene(0)
	if f.engine.Scene(0) != nil {
		t.Error("Scene(0) after RemoveScene should be nil")
	}
}

func TestRunWithoutWindow(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.Run(); !errors.Is(err, ErrNoWindow) {
		t.Errorf("Run() error = %v, want ErrNoWindow", err)
	}
	f.engine.Quit()
	f.engine.Quit()
}

func TestNewEnginePanicsOnNilDeps(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewEngine(nil, ...) did not panic")
		}
	}()
	NewEngine(nil, nil, nil)
}

type hizRenderer struct {
	*fakeRenderer
	hiz device.Buffer
}

func (r *hizRenderer) HiZ() (device.Buffer, uint32, uint32) {
	return r.hiz, 4, 2
}

func TestRenderFrameCullsAgainstRendererHiZ(t *testing.T) {
	f := newFixture(t)
	hiz, err := f.dev.CreateBuffer("hiz", device.UsageStorage, 4*2*4, nil)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(&hizRenderer{fakeRenderer: f.gpu, hiz: hiz}, f.storage, camera.NewCamera()).(*engine)
	f.storage.Allocate(f.tri, material.NewMaterial(), 0, f.tri.IndexCount(), pipeline.ObjectMovable)

	if err := e.renderFrame(); err != nil {
		t.Fatalf("renderFrame() error = %v", err)
	}
	bound := 0
	for _, bg := range f.dev.BindGroups {
		for _, b := range bg.Bindings {
			if b.Buffer == hiz {
				bound++
				if b.Binding != 5 {
					t.Errorf("%s binds the HiZ buffer at %d, want 5", bg.Label, b.Binding)
				}
			}
		}
	}
	if bound != 1 {
		t.Errorf("HiZ buffer bound %d times, want once by the main cull", bound)
	}
}

func TestRenderFrameReleasesFrameOnShadowPassError(t *testing.T) {
	f := newFixture(t)
	f.gpu.cascades = 0
	f.storage.Allocate(f.tri, material.NewMaterial(), 0, f.tri.IndexCount(), pipeline.ObjectMovable)

	if err := f.engine.renderFrame(); err == nil {
		t.Fatal("renderFrame() error = nil, want the shadow pass error")
	}
	if len(f.gpu.frames) != 1 {
		t.Fatalf("frames begun = %d, want 1", len(f.gpu.frames))
	}
	if want := []string{"release"}; !slices.Equal(f.gpu.frames[0].Passes, want) {
		t.Errorf("passes = %v, want %v", f.gpu.frames[0].Passes, want)
	}
	if f.engine.Frames() != 0 {
		t.Errorf("Frames() = %d, want 0", f.engine.Frames())
	}
}
