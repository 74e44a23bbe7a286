package draw_storage

import (
	"errors"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/material"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/mesh"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrStaleItem is returned when an Item is used after the object it named was freed.
var ErrStaleItem = errors.New("draw storage: stale item")

// Item is a handle to an allocated object. It does not own the object: it stays valid until
// Free, after which every use reports ErrStaleItem. The zero Item is the null item returned for
// unrenderable allocations; every operation on it is a no-op.
type Item struct {
	owner *drawStorageImpl
	id    int
	gen   uint32
}

// IsEmpty reports whether the item is the null item.
func (it Item) IsEmpty() bool {
	return it.owner == nil
}

// Valid reports whether the item names a live object.
func (it Item) Valid() bool {
	return it.owner != nil && it.owner.check(it) == nil
}

// SetObjMatrix sets the object-to-world transform. See DrawStorage.UpdateTransform.
func (it Item) SetObjMatrix(m mgl32.Mat4) error {
	if it.owner == nil {
		return nil
	}
	return it.owner.UpdateTransform(it, m)
}

// SetAsGhost sets the ghost flag. See DrawStorage.UpdateGhost.
func (it Item) SetAsGhost(ghost bool) error {
	if it.owner == nil {
		return nil
	}
	return it.owner.UpdateGhost(it, ghost)
}

// SetFatness sets the normal displacement. See DrawStorage.UpdateFatness.
func (it Item) SetFatness(f float32) error {
	if it.owner == nil {
		return nil
	}
	return it.owner.UpdateFatness(it, f)
}

// SetMorph selects the morph samples of a Morph object. See DrawStorage.UpdateMorph.
func (it Item) SetMorph(m GPUMorphData) error {
	if it.owner == nil {
		return nil
	}
	return it.owner.UpdateMorph(it, m)
}

// Free releases the object. Freeing the null item is a no-op.
func (it Item) Free() error {
	if it.owner == nil {
		return nil
	}
	return it.owner.Free(it)
}

// Material returns the material the object was allocated with, the zero Material when stale.
func (it Item) Material() material.Material {
	if obj := it.object(); obj != nil {
		return it.owner.buckets[obj.bucketId].mat
	}
	return material.Material{}
}

// Position returns the object-to-world transform, identity when stale.
func (it Item) Position() mgl32.Mat4 {
	if obj := it.object(); obj != nil {
		return obj.pos
	}
	return mgl32.Ident4()
}

// ObjectType returns the type the object was allocated as, ObjectNone when stale.
func (it Item) ObjectType() pipeline.ObjectType {
	if obj := it.object(); obj != nil {
		return obj.typ
	}
	return pipeline.ObjectNone
}

// Mesh returns the geometry the object draws from, nil when stale.
func (it Item) Mesh() mesh.Geometry {
	if obj := it.object(); obj != nil {
		return it.owner.buckets[obj.bucketId].geom
	}
	return nil
}

// MeshSlice returns the object's index sub-range as offset and length, zero when stale.
func (it Item) MeshSlice() (int, int) {
	if obj := it.object(); obj != nil {
		return obj.iboOff, obj.iboLen
	}
	return 0, 0
}

// Bounds returns the bounds of the object's geometry in object space, zero when stale.
func (it Item) Bounds() mesh.Bounds {
	if g := it.Mesh(); g != nil {
		return g.Bounds()
	}
	return mesh.Bounds{}
}

func (it Item) object() *object {
	if it.owner == nil || it.owner.check(it) != nil {
		return nil
	}
	return &it.owner.objects[it.id]
}
