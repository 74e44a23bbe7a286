package draw_storage

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-meshlet/common"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/instance"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/material"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/mesh"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
	"github.com/go-gl/mathgl/mgl32"
)

// object is one registry slot. A slot is free iff it is empty; there is no free list.
type object struct {
	typ       pipeline.ObjectType
	iboOff    int
	iboLen    int
	bucketId  int
	cmdId     int
	clusterId int

	inst    instance.Id
	morph   instance.Id
	animPtr uint32

	pos       mgl32.Mat4
	fatness   float32
	ghost     bool
	morphData GPUMorphData
}

func (o *object) isEmpty() bool {
	return o.typ == pipeline.ObjectNone && o.iboLen == 0
}

// clusterCount returns how many cluster table entries the object owns.
func (o *object) clusterCount() int {
	if o.typ == pipeline.ObjectLandscape {
		return mesh.MeshletCount(o.iboLen)
	}
	return 1
}

func (d *drawStorageImpl) Allocate(geom mesh.Geometry, mat material.Material, iboOff, iboLen int, objType pipeline.ObjectType) Item {
	switch objType {
	case pipeline.ObjectStatic, pipeline.ObjectMovable, pipeline.ObjectMorph:
	default:
		panic(fmt.Sprintf("draw storage: Allocate with object type %s", objType))
	}
	checkRange(geom, iboOff, iboLen)

	color, depth := d.resolve(mat, objType)
	if color == nil && depth == nil {
		return Item{}
	}
	id := d.implAlloc()
	obj := &d.objects[id]
	obj.typ = objType
	obj.iboOff, obj.iboLen = iboOff, iboLen
	obj.bucketId = d.bucketId(geom, mat)
	obj.cmdId = d.commandId(color, depth, obj.typ, obj.bucketId, mat)
	obj.pos = mgl32.Ident4()
	obj.clusterId = d.wholeCluster(geom.Bounds(), iboOff, iboLen, obj.bucketId, obj.cmdId, objType)

	obj.inst = d.instances.Alloc()
	d.clusters[obj.clusterId].InstanceId = obj.inst.Slot()
	if objType == pipeline.ObjectMorph {
		obj.morph = d.morphs.Alloc()
		obj.animPtr = obj.morph.Slot()
	}
	d.updateInstance(id)
	return d.item(id)
}

func (d *drawStorageImpl) AllocateLandscape(geom mesh.Geometry, mat material.Material, iboOff, iboLen int, clusters []mesh.Cluster) Item {
	checkRange(geom, iboOff, iboLen)
	first, count := mesh.MeshletCount(iboOff), mesh.MeshletCount(iboLen)
	if clusters == nil {
		all := geom.Clusters()
		if first+count > len(all) {
			panic(fmt.Sprintf("draw storage: geometry has %d clusters, range needs %d", len(all), first+count))
		}
		clusters = all[first : first+count]
	}
	if len(clusters) != count {
		panic(fmt.Sprintf("draw storage: %d clusters for %d meshlets", len(clusters), count))
	}

	color, depth := d.resolve(mat, pipeline.ObjectLandscape)
	if color == nil && depth == nil {
		return Item{}
	}
	id := d.implAlloc()
	obj := &d.objects[id]
	obj.typ = pipeline.ObjectLandscape
	obj.iboOff, obj.iboLen = iboOff, iboLen
	obj.bucketId = d.bucketId(geom, mat)
	obj.cmdId = d.commandId(color, depth, obj.typ, obj.bucketId, mat)
	obj.pos = mgl32.Ident4()
	obj.clusterId = d.meshletClusters(clusters, first, obj.bucketId, obj.cmdId)
	return d.item(id)
}

func (d *drawStorageImpl) AllocateAnimated(geom mesh.Geometry, mat material.Material, animPtr uint32, iboOff, iboLen int) Item {
	checkRange(geom, iboOff, iboLen)

	color, depth := d.resolve(mat, pipeline.ObjectAnimated)
	if color == nil && depth == nil {
		return Item{}
	}
	id := d.implAlloc()
	obj := &d.objects[id]
	obj.typ = pipeline.ObjectAnimated
	obj.iboOff, obj.iboLen = iboOff, iboLen
	obj.bucketId = d.bucketId(geom, mat)
	obj.cmdId = d.commandId(color, depth, obj.typ, obj.bucketId, mat)
	obj.pos = mgl32.Ident4()
	obj.clusterId = d.wholeCluster(geom.Bounds(), iboOff, iboLen, obj.bucketId, obj.cmdId, pipeline.ObjectAnimated)

	obj.animPtr = animPtr
	obj.inst = d.instances.Alloc()
	d.clusters[obj.clusterId].InstanceId = obj.inst.Slot()
	d.updateInstance(id)
	return d.item(id)
}

func (d *drawStorageImpl) Free(item Item) error {
	if item.owner == nil {
		return nil
	}
	if err := d.check(item); err != nil {
		return err
	}
	obj := &d.objects[item.id]
	d.cmds[obj.cmdId].maxPayload -= uint32(mesh.MeshletCount(obj.iboLen))
	d.cmdState.mark(StateTopologyDirty)
	d.killClusters(obj.clusterId, obj.clusterCount())
	d.instances.Free(obj.inst)
	d.morphs.Free(obj.morph)

	*obj = object{}
	d.gens[item.id]++
	for len(d.objects) > 0 && d.objects[len(d.objects)-1].isEmpty() {
		d.objects = d.objects[:len(d.objects)-1]
	}
	return nil
}

func (d *drawStorageImpl) UpdateTransform(item Item, m mgl32.Mat4) error {
	if item.owner == nil {
		return nil
	}
	if err := d.check(item); err != nil {
		return err
	}
	d.objects[item.id].pos = m
	d.updateInstance(item.id)
	return nil
}

func (d *drawStorageImpl) UpdateGhost(item Item, ghost bool) error {
	if item.owner == nil {
		return nil
	}
	if err := d.check(item); err != nil {
		return err
	}
	d.objects[item.id].ghost = ghost
	d.updateInstance(item.id)
	return nil
}

func (d *drawStorageImpl) UpdateFatness(item Item, f float32) error {
	if item.owner == nil {
		return nil
	}
	if err := d.check(item); err != nil {
		return err
	}
	d.objects[item.id].fatness = f
	d.updateInstance(item.id)
	return nil
}

func (d *drawStorageImpl) UpdateMorph(item Item, m GPUMorphData) error {
	if item.owner == nil {
		return nil
	}
	if err := d.check(item); err != nil {
		return err
	}
	d.objects[item.id].morphData = m
	d.updateInstance(item.id)
	return nil
}

// check validates an item against the slot generation.
func (d *drawStorageImpl) check(item Item) error {
	if item.owner != d {
		if item.owner == nil {
			return ErrStaleItem
		}
		panic("draw storage: item belongs to a different draw storage")
	}
	if item.id >= len(d.objects) || d.gens[item.id] != item.gen || d.objects[item.id].isEmpty() {
		return ErrStaleItem
	}
	return nil
}

func (d *drawStorageImpl) item(id int) Item {
	return Item{owner: d, id: id, gen: d.gens[id]}
}

// implAlloc returns the first empty slot, growing the registry when there is none.
func (d *drawStorageImpl) implAlloc() int {
	for i := range d.objects {
		if d.objects[i].isEmpty() {
			return i
		}
	}
	d.objects = append(d.objects, object{})
	if len(d.gens) < len(d.objects) {
		d.gens = append(d.gens, 0)
	}
	return len(d.objects) - 1
}

// updateInstance re-serializes the instance record of an object and moves its cluster to the
// transformed bounds. Landscape has no instance record.
func (d *drawStorageImpl) updateInstance(id int) {
	obj := &d.objects[id]
	if obj.typ == pipeline.ObjectLandscape {
		return
	}

	desc := GPUInstanceDesc{
		Rows:    common.AffineRows(obj.pos),
		AnimPtr: obj.animPtr,
		Fatness: obj.fatness,
		MorphId: NoInstance,
	}
	if obj.ghost {
		desc.Flags |= instanceFlagGhost
	}
	if !obj.morph.IsEmpty() {
		desc.MorphId = obj.morph.Slot()
		obj.morph.Set(obj.morphData.Marshal())
	}
	obj.inst.Set(desc.Marshal())

	b := d.buckets[obj.bucketId].geom.Bounds()
	c := &d.clusters[obj.clusterId]
	center := obj.pos.Mul4x1(b.Center().Vec4(1)).Vec3()
	c.Pos = center
	c.R = b.RConservative * maxScale(obj.pos)
	d.clusterDirty.add(uint32(obj.clusterId))
	d.clusterState.mark(StateInstanceDirty)
}

// maxScale returns the largest axis scale of an affine transform.
func maxScale(m mgl32.Mat4) float32 {
	return max(m.Col(0).Vec3().Len(), m.Col(1).Vec3().Len(), m.Col(2).Vec3().Len())
}

func checkRange(geom mesh.Geometry, iboOff, iboLen int) {
	if geom == nil {
		panic("draw storage: nil geometry")
	}
	if iboOff < 0 || iboLen < 0 || !mesh.Aligned(iboOff) || !mesh.Aligned(iboLen) {
		panic(fmt.Sprintf("draw storage: index range [%d, +%d) is not aligned to %d", iboOff, iboLen, mesh.MeshletIndexCount))
	}
}
