package camera

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

func TestNewCameraDefaults(t *testing.T) {
	c := NewCamera()
	if !approx(c.Fov(), 65*math.Pi/180) {
		t.Errorf("Fov() = %v, want 65 degrees", c.Fov())
	}
	if c.ZNear() != 0.01 || c.Far() != 85 {
		t.Errorf("clip planes = (%v, %v), want (0.01, 85)", c.ZNear(), c.Far())
	}
	if c.View() != mgl32.Ident4() {
		t.Errorf("View() without controller = %v, want identity", c.View())
	}
}

func TestCameraFollowsController(t *testing.T) {
	ctrl := NewOrbitController(WithTarget(mgl32.Vec3{1, 2, 3}), WithRadius(5), WithAngles(0, 0))
	c := NewCamera(WithController(ctrl))

	want := mgl32.Vec3{1, 2, 8}
	if got := ctrl.Position(); !got.ApproxEqualThreshold(want, 1e-4) {
		t.Fatalf("Position() = %v, want %v", got, want)
	}
	if got := c.Position(); !got.ApproxEqualThreshold(want, 1e-3) {
		t.Errorf("camera Position() = %v, want %v", got, want)
	}

	// The target must project to the center of the screen.
	clip := c.ViewProjection().Mul4x1(mgl32.Vec4{1, 2, 3, 1})
	if !approx(clip.X()/clip.W(), 0) || !approx(clip.Y()/clip.W(), 0) {
		t.Errorf("target clip = %v, want centered", clip)
	}
}

func TestOrbitClamps(t *testing.T) {
	ctrl := NewOrbitController(WithRadiusBounds(1, 4), WithRadius(2))
	ctrl.Zoom(100)
	if ctrl.Radius() != 1 {
		t.Errorf("Radius() after zoom in = %v, want 1", ctrl.Radius())
	}
	ctrl.Zoom(-100)
	if ctrl.Radius() != 4 {
		t.Errorf("Radius() after zoom out = %v, want 4", ctrl.Radius())
	}
	ctrl.Orbit(0, 1000)
	if p := ctrl.Position(); p.Y() >= ctrl.Radius() {
		t.Errorf("Position().Y() = %v, elevation should be clamped below the pole", p.Y())
	}
}

func TestCascadeCoversCenter(t *testing.T) {
	c := NewCascade(mgl32.Vec3{0, -1, 0.2}, mgl32.Vec3{5, 0, 5}, 10)
	clip := c.Projection().Mul4(c.View()).Mul4x1(mgl32.Vec4{5, 0, 5, 1})
	if !approx(clip.X(), 0) || !approx(clip.Y(), 0) {
		t.Errorf("center clip xy = (%v, %v), want (0, 0)", clip.X(), clip.Y())
	}
	if z := clip.Z() / clip.W(); z <= 0 || z >= 1 {
		t.Errorf("center depth = %v, want inside (0, 1)", z)
	}
}

func TestCascadeSplits(t *testing.T) {
	s := CascadeSplits(1, 100, 2, 1)
	if len(s) != 3 {
		t.Fatalf("len = %d, want 3", len(s))
	}
	if s[0] != 1 || s[2] != 100 || !approx(s[1], 10) {
		t.Errorf("CascadeSplits(1, 100, 2, 1) = %v, want [1 10 100]", s)
	}
	u := CascadeSplits(0.5, 10.5, 2, 0)
	if !approx(u[1], 5.5) {
		t.Errorf("uniform split = %v, want 5.5", u[1])
	}
}

func TestGPUSceneUniformMarshal(t *testing.T) {
	c := NewCamera(WithController(NewOrbitController()))
	u := NewGPUSceneUniform(c, 3)
	if u.Size() != 256 {
		t.Fatalf("Size() = %d, want 256", u.Size())
	}
	buf := u.Marshal()
	if len(buf) != 256 {
		t.Fatalf("len(Marshal()) = %d, want 256", len(buf))
	}
	if got := math.Float32frombits(uint32(buf[236]) | uint32(buf[237])<<8 | uint32(buf[238])<<16 | uint32(buf[239])<<24); got != c.ZNear() {
		t.Errorf("znear = %v, want %v", got, c.ZNear())
	}
	if buf[240] != 3 {
		t.Errorf("viewport byte = %d, want 3", buf[240])
	}
	// The target sits inside every plane of the frustum.
	f := u.Frustum()
	if !f.IntersectsSphere(mgl32.Vec3{}, 0.1) {
		t.Error("frustum does not contain the orbit target")
	}
}

func TestFitCascadesFollowsForward(t *testing.T) {
	c := NewCamera(WithClipPlanes(1, 41))
	cascades := FitCascades(c, mgl32.Vec3{0, -1, 0.1}, 2, 0)
	if len(cascades) != 2 {
		t.Fatalf("len = %d, want 2", len(cascades))
	}
	// uniform splits at 1, 21, 41: slice centers at 11 and 31 down -Z
	for i, z := range []float32{-11, -31} {
		vc := cascades[i]
		clip := vc.Projection().Mul4(vc.View()).Mul4x1(mgl32.Vec4{0, 0, z, 1})
		if !approx(clip.X(), 0) || !approx(clip.Y(), 0) {
			t.Errorf("cascade %d: slice center clip xy = (%v, %v), want (0, 0)", i, clip.X(), clip.Y())
		}
	}
	if FitCascades(c, mgl32.Vec3{0, -1, 0}, 0, 0.5) != nil {
		t.Error("FitCascades(n = 0) should return nil")
	}
}
