package game_object

import (
	"github.com/Carmen-Shannon/oxy-meshlet/engine/draw_storage"
	"github.com/go-gl/mathgl/mgl32"
)

type gameObject struct {
	id   uint64
	item draw_storage.Item

	position      mgl32.Vec3
	rotation      mgl32.Vec3
	rotationSpeed mgl32.Vec3
	scale         mgl32.Vec3
	ghost         bool
}

// GameObject is a scene entity drawn through a draw storage item. Its transform is kept as
// position, Euler rotation, and scale, and is composed into the object-to-world matrix on demand.
// A GameObject is not safe for concurrent use; the Scene advances each object from one worker.
type GameObject interface {
	// ID returns the object's unique identifier.
	//
	// Returns:
	//   - uint64: the object ID, 0 until the object is added to a Scene
	ID() uint64

	// Item returns the draw storage handle of the object.
	//
	// Returns:
	//   - draw_storage.Item: the handle, the null item when the object is not drawn
	Item() draw_storage.Item

	// Position returns the world-space position.
	//
	// Returns:
	//   - mgl32.Vec3: the position
	Position() mgl32.Vec3

	// Rotation returns the Euler rotation in radians, applied X then Y then Z.
	//
	// Returns:
	//   - mgl32.Vec3: the rotation
	Rotation() mgl32.Vec3

	// RotationSpeed returns the rotation rate in radians per second.
	//
	// Returns:
	//   - mgl32.Vec3: the rotation rate per axis
	RotationSpeed() mgl32.Vec3

	// Scale returns the per-axis scale.
	//
	// Returns:
	//   - mgl32.Vec3: the scale
	Scale() mgl32.Vec3

	// Ghost reports whether the object is drawn as a ghost.
	Ghost() bool

	// Moving reports whether Advance changes the transform.
	Moving() bool

	// ModelMatrix composes translation, rotation, and scale.
	//
	// Returns:
	//   - mgl32.Mat4: the object-to-world matrix
	ModelMatrix() mgl32.Mat4

	// Advance applies the rotation rate over dt seconds.
	//
	// Parameters:
	//   - dt: elapsed time in seconds
	//
	// Returns:
	//   - bool: true if the transform changed
	Advance(dt float32) bool

	// SetID sets the object's identifier. Scenes assign it on Add.
	SetID(id uint64)

	// SetItem binds the object to a draw storage handle.
	SetItem(item draw_storage.Item)

	// SetPosition sets the world-space position.
	SetPosition(p mgl32.Vec3)

	// SetRotation sets the Euler rotation in radians.
	SetRotation(r mgl32.Vec3)

	// SetRotationSpeed sets the rotation rate in radians per second.
	SetRotationSpeed(r mgl32.Vec3)

	// SetScale sets the per-axis scale.
	SetScale(s mgl32.Vec3)

	// SetGhost records the ghost state. The Scene forwards it to the draw storage.
	SetGhost(ghost bool)
}

var _ GameObject = &gameObject{}

// NewGameObject creates a GameObject at the origin with unit scale.
//
// Parameters:
//   - options: functional options to configure the object
//
// Returns:
//   - GameObject: the newly created object
func NewGameObject(options ...GameObjectBuilderOption) GameObject {
	g := &gameObject{
		scale: mgl32.Vec3{1, 1, 1},
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

func (g *gameObject) ID() uint64 {
	return g.id
}

func (g *gameObject) Item() draw_storage.Item {
	return g.item
}

func (g *gameObject) Position() mgl32.Vec3 {
	return g.position
}

func (g *gameObject) Rotation() mgl32.Vec3 {
	return g.rotation
}

func (g *gameObject) RotationSpeed() mgl32.Vec3 {
	return g.rotationSpeed
}

func (g *gameObject) Scale() mgl32.Vec3 {
	return g.scale
}

func (g *gameObject) Ghost() bool {
	return g.ghost
}

func (g *gameObject) Moving() bool {
	return g.rotationSpeed != mgl32.Vec3{}
}

func (g *gameObject) ModelMatrix() mgl32.Mat4 {
	t := mgl32.Translate3D(g.position.X(), g.position.Y(), g.position.Z())
	r := mgl32.HomogRotate3DZ(g.rotation.Z()).
		Mul4(mgl32.HomogRotate3DY(g.rotation.Y())).
		Mul4(mgl32.HomogRotate3DX(g.rotation.X()))
	s := mgl32.Scale3D(g.scale.X(), g.scale.Y(), g.scale.Z())
	return t.Mul4(r).Mul4(s)
}

func (g *gameObject) Advance(dt float32) bool {
	if !g.Moving() || dt == 0 {
		return false
	}
	g.rotation = g.rotation.Add(g.rotationSpeed.Mul(dt))
	return true
}

func (g *gameObject) SetID(id uint64) {
	g.id = id
}

func (g *gameObject) SetItem(item draw_storage.Item) {
	g.item = item
}

func (g *gameObject) SetPosition(p mgl32.Vec3) {
	g.position = p
}

func (g *gameObject) SetRotation(r mgl32.Vec3) {
	g.rotation = r
}

func (g *gameObject) SetRotationSpeed(r mgl32.Vec3) {
	g.rotationSpeed = r
}

func (g *gameObject) SetScale(s mgl32.Vec3) {
	g.scale = s
}

func (g *gameObject) SetGhost(ghost bool) {
	g.ghost = ghost
}
