package game_object

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestModelMatrixComposesTRS(t *testing.T) {
	g := NewGameObject(
		WithPosition(mgl32.Vec3{1, 2, 3}),
		WithRotation(mgl32.Vec3{0, math.Pi / 2, 0}),
		WithScale(mgl32.Vec3{2, 2, 2}),
	)
	// +X scaled to 2, turned a quarter about Y onto -Z, then moved.
	got := g.ModelMatrix().Mul4x1(mgl32.Vec4{1, 0, 0, 1}).Vec3()
	want := mgl32.Vec3{1, 2, 1}
	if !got.ApproxEqualThreshold(want, 1e-5) {
		t.Errorf("ModelMatrix() * (1,0,0) = %v, want %v", got, want)
	}
}

func TestAdvance(t *testing.T) {
	still := NewGameObject()
	if still.Moving() || still.Advance(1) {
		t.Error("object without rotation speed reported movement")
	}

	g := NewGameObject(WithRotationSpeed(mgl32.Vec3{0, 1, 0}))
	if !g.Moving() {
		t.Fatal("Moving() = false, want true")
	}
	if g.Advance(0) {
		t.Error("Advance(0) = true, want false")
	}
	if !g.Advance(0.5) {
		t.Fatal("Advance(0.5) = false, want true")
	}
	if r := g.Rotation(); r.Y() != 0.5 {
		t.Errorf("Rotation().Y() = %v, want 0.5", r.Y())
	}
}

func TestNewGameObjectDefaults(t *testing.T) {
	g := NewGameObject()
	if g.Scale() != (mgl32.Vec3{1, 1, 1}) {
		t.Errorf("Scale() = %v, want unit scale", g.Scale())
	}
	if !g.Item().IsEmpty() {
		t.Error("Item() of a new object should be the null item")
	}
	if g.ID() != 0 || g.Ghost() {
		t.Errorf("ID() = %d, Ghost() = %v, want 0, false", g.ID(), g.Ghost())
	}
}
