package game_object

import (
	"github.com/Carmen-Shannon/oxy-meshlet/engine/draw_storage"
	"github.com/go-gl/mathgl/mgl32"
)

// GameObjectBuilderOption is a functional option for configuring a GameObject during construction.
type GameObjectBuilderOption func(*gameObject)

// WithID sets the ID of the GameObject.
//
// Parameters:
//   - id: unique identifier for the GameObject
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the ID
func WithID(id uint64) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.id = id
	}
}

// WithItem binds the GameObject to a draw storage handle.
//
// Parameters:
//   - item: the handle returned by a DrawStorage allocation
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the item
func WithItem(item draw_storage.Item) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.item = item
	}
}

// WithPosition sets the initial world-space position.
//
// Parameters:
//   - p: the position
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the position
func WithPosition(p mgl32.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.position = p
	}
}

// WithRotation sets the initial Euler rotation in radians.
//
// Parameters:
//   - r: the rotation about X, Y, and Z
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the rotation
func WithRotation(r mgl32.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.rotation = r
	}
}

// WithRotationSpeed sets the rotation rate in radians per second. Objects with a non-zero rate
// are advanced every scene update.
//
// Parameters:
//   - r: the rate about X, Y, and Z
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the rotation speed
func WithRotationSpeed(r mgl32.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.rotationSpeed = r
	}
}

// WithScale sets the per-axis scale.
//
// Parameters:
//   - s: the scale
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the scale
func WithScale(s mgl32.Vec3) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.scale = s
	}
}
