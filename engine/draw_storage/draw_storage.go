// Package draw_storage aggregates heterogeneous renderables into a small set of indirect draws.
//
// Objects are grouped into buckets (material + geometry) and draw commands (resolved pipelines).
// Every object contributes one cull cluster, or one per meshlet for landscape. Each frame the
// visibility pass resets the indirect commands of every viewport and a cull kernel appends the
// meshlets of visible clusters to the viewport's payload list; the draw pass then issues one
// DrawIndirect per command.
//
// A DrawStorage is single-threaded: every method must be called from the goroutine that owns it.
// The expected frame order is
//
//	Commit → SetView → PrepareUniforms → VisibilityPass → DrawShadow/DrawGBuffer
package draw_storage

import (
	"log/slog"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/camera"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/instance"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/material"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/mesh"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
	"github.com/go-gl/mathgl/mgl32"
)

// ViewportMain is the camera viewport. Shadow cascade i is viewport i+1.
const ViewportMain = 0

// Stats is a snapshot of table sizes.
type Stats struct {
	Objects       int    // backing object slots
	LiveObjects   int    // non-empty object slots
	Buckets       int    // buckets ever created
	Commands      int    // draw commands ever created
	Clusters      int    // cluster table entries, dead ones included
	LiveClusters  int    // clusters with a non-negative radius
	Payload       uint32 // meshlets reserved across all commands
	Instances     int    // live instance heap slots, bone palettes included
	Reallocations int    // commits that replaced at least one buffer
}

// DrawStorage is the GPU-driven draw aggregator.
type DrawStorage interface {
	// Allocate registers a static, movable or morph object drawing iboLen indices of geom from
	// iboOff. One whole-object cluster is created, sized by the geometry's conservative radius.
	// Morph objects also reserve a morph slot.
	//
	// Parameters:
	//   - geom: the geometry, compared by identity
	//   - mat: the material, copied
	//   - iboOff: first index, a multiple of mesh.MeshletIndexCount
	//   - iboLen: index count, a multiple of mesh.MeshletIndexCount
	//   - objType: ObjectStatic, ObjectMovable or ObjectMorph
	//
	// Returns:
	//   - Item: the handle, or the null item if no pipeline renders the material
	Allocate(geom mesh.Geometry, mat material.Material, iboOff, iboLen int, objType pipeline.ObjectType) Item

	// AllocateLandscape registers world-space geometry with one cluster per meshlet.
	//
	// Parameters:
	//   - geom: the geometry, compared by identity
	//   - mat: the material, copied
	//   - iboOff: first index, a multiple of mesh.MeshletIndexCount
	//   - iboLen: index count, a multiple of mesh.MeshletIndexCount
	//   - clusters: one sphere per meshlet of the range; nil takes them from geom.Clusters()
	//
	// Returns:
	//   - Item: the handle, or the null item if no pipeline renders the material
	AllocateLandscape(geom mesh.Geometry, mat material.Material, iboOff, iboLen int, clusters []mesh.Cluster) Item

	// AllocateAnimated registers a skinned object whose bone palette starts at heap slot animPtr
	// of Instances().
	//
	// Parameters:
	//   - geom: the geometry, compared by identity
	//   - mat: the material, copied
	//   - animPtr: the first bone matrix slot
	//   - iboOff: first index, a multiple of mesh.MeshletIndexCount
	//   - iboLen: index count, a multiple of mesh.MeshletIndexCount
	//
	// Returns:
	//   - Item: the handle, or the null item if no pipeline renders the material
	AllocateAnimated(geom mesh.Geometry, mat material.Material, animPtr uint32, iboOff, iboLen int) Item

	// Free releases an object and its clusters and instance slots. Trailing empty slots are
	// dropped. Freeing the null item is a no-op.
	//
	// Returns:
	//   - error: ErrStaleItem if the item was already freed
	Free(item Item) error

	// UpdateTransform sets the object-to-world matrix and moves the object's cluster with it.
	// Landscape ignores it.
	//
	// Returns:
	//   - error: ErrStaleItem if the item was freed
	UpdateTransform(item Item, m mgl32.Mat4) error

	// UpdateGhost sets the ghost flag of the instance record. The command is not changed.
	//
	// Returns:
	//   - error: ErrStaleItem if the item was freed
	UpdateGhost(item Item, ghost bool) error

	// UpdateFatness sets the displacement along vertex normals. Landscape ignores it.
	//
	// Returns:
	//   - error: ErrStaleItem if the item was freed
	UpdateFatness(item Item, f float32) error

	// UpdateMorph sets the morph samples of a Morph object. Other types ignore it.
	//
	// Returns:
	//   - error: ErrStaleItem if the item was freed
	UpdateMorph(item Item, m GPUMorphData) error

	// Len returns the number of object slots, empty interior holes included.
	Len() int

	// Live returns the number of allocated objects.
	Live() int

	// Stats returns a snapshot of table sizes.
	Stats() Stats

	// Instances returns the instance heap. Animation systems allocate bone palettes in it with
	// AllocRange; the draw storage commits it.
	Instances() instance.Heap

	// Kernels returns the compute pipelines of the visibility pass. They must be created on the
	// device before the first PrepareUniforms.
	Kernels() []pipeline.Pipeline

	// Viewports returns the number of viewports: the main one plus the shadow cascades.
	Viewports() int

	// SetView captures the camera of a viewport into its scene uniform.
	//
	// Parameters:
	//   - viewport: ViewportMain or a cascade index plus one
	//   - v: the view
	SetView(viewport int, v camera.View)

	// SetHiZ sets the farthest-depth buffer the main viewport is occlusion-culled against,
	// width*height float32 values. A nil buffer disables occlusion culling.
	SetHiZ(buf device.Buffer, width, height uint32)

	// Commit uploads every pending change. When a buffer must be replaced the device is waited
	// on once, replaced buffers are released, and bindings are marked dirty.
	//
	// Returns:
	//   - bool: true if any buffer was replaced
	//   - error: an error if a buffer could not be created
	Commit() (bool, error)

	// PrepareUniforms rebuilds bind groups after Commit replaced buffers. It is a no-op when
	// bindings are current.
	//
	// Returns:
	//   - error: an error if a bind group could not be created
	PrepareUniforms() error

	// VisibilityPass records, for each viewport, the reset of its indirect commands followed by
	// the cluster cull. It records nothing while frozen or before PrepareUniforms.
	VisibilityPass(enc device.Encoder)

	// Draw records one indirect draw per command visible in the viewport, in alpha order.
	Draw(enc device.Encoder, viewport int)

	// DrawGBuffer draws the main viewport with color pipelines.
	DrawGBuffer(enc device.Encoder)

	// DrawShadow draws a shadow cascade with depth pipelines.
	DrawShadow(enc device.Encoder, layer int)

	// Freeze stops the visibility pass so the last culling result stays on screen.
	Freeze(frozen bool)

	// CPUVisibleClusters counts live clusters inside the frustum of the view last set for a
	// viewport, without occlusion. Profilers compare it against GPU output.
	CPUVisibleClusters(viewport int) int

	// Release frees every GPU resource the draw storage created and stops its marshal workers.
	// Calling it again is a no-op.
	Release()
}

type drawStorageImpl struct {
	dev      device.Device
	resolver pipeline.Resolver
	log      *slog.Logger

	cascades          int
	bindless          bool
	marshalWorkers    int
	parallelThreshold int
	instanceCapacity  int

	objects []object
	gens    []uint32

	buckets  []bucket
	cmds     []drawCmd
	ord      []int
	clusters []GPUCluster

	bucketState  TableState
	cmdState     TableState
	clusterState TableState
	clusterDirty dirtySet

	instances instance.Heap
	morphs    instance.Heap

	k     kernels
	views []view
	gpu   tables

	hiz        device.Buffer
	hizWidth   uint32
	hizHeight  uint32
	hizDefault device.Buffer

	bindingsDirty bool
	boundCommands int
	frozen        bool
	reallocs      int

	pool worker.DynamicWorkerPool
}

var _ DrawStorage = &drawStorageImpl{}

// NewDrawStorage creates an empty draw storage.
//
// Parameters:
//   - dev: the device buffers and bind groups are created on
//   - resolver: the pipeline lookup for (material, object type, pass)
//   - options: functional options to configure the draw storage
//
// Returns:
//   - DrawStorage: the draw storage
func NewDrawStorage(dev device.Device, resolver pipeline.Resolver, options ...DrawStorageBuilderOption) DrawStorage {
	if dev == nil {
		panic("draw storage: nil device")
	}
	if resolver == nil {
		panic("draw storage: nil resolver")
	}
	d := &drawStorageImpl{
		dev:               dev,
		resolver:          resolver,
		log:               slog.New(slog.DiscardHandler),
		cascades:          2,
		marshalWorkers:    4,
		parallelThreshold: 16384,
		instanceCapacity:  1024,
	}
	for _, opt := range options {
		opt(d)
	}

	d.instances = instance.NewHeap("DrawStorage Instances", (&GPUInstanceDesc{}).Size(),
		instance.WithInitialCapacity(d.instanceCapacity))
	d.morphs = instance.NewHeap("DrawStorage Morph", (&GPUMorphData{}).Size())
	d.k = newKernels()
	d.views = make([]view, 1+d.cascades)
	d.pool = worker.NewDynamicWorkerPool(d.marshalWorkers, 256, 1*time.Second)
	return d
}

func (d *drawStorageImpl) Len() int {
	return len(d.objects)
}

func (d *drawStorageImpl) Live() int {
	n := 0
	for i := range d.objects {
		if !d.objects[i].isEmpty() {
			n++
		}
	}
	return n
}

func (d *drawStorageImpl) Stats() Stats {
	s := Stats{
		Objects:       len(d.objects),
		LiveObjects:   d.Live(),
		Buckets:       len(d.buckets),
		Commands:      len(d.cmds),
		Clusters:      len(d.clusters),
		Instances:     d.instances.Live(),
		Reallocations: d.reallocs,
	}
	for i := range d.clusters {
		if d.clusters[i].R >= 0 {
			s.LiveClusters++
		}
	}
	for i := range d.cmds {
		s.Payload += d.cmds[i].maxPayload
	}
	return s
}

func (d *drawStorageImpl) Instances() instance.Heap {
	return d.instances
}

func (d *drawStorageImpl) Kernels() []pipeline.Pipeline {
	return d.k.all()
}

func (d *drawStorageImpl) Viewports() int {
	return len(d.views)
}

func (d *drawStorageImpl) Freeze(frozen bool) {
	d.frozen = frozen
}

func (d *drawStorageImpl) Release() {
	d.releaseBindings()
	for i := range d.views {
		d.views[i].release()
	}
	d.gpu.release()
	d.releaseRetired()
	if d.hizDefault != nil {
		d.hizDefault.Release()
		d.hizDefault = nil
	}
	d.instances.Release()
	d.morphs.Release()
	d.bindingsDirty = true
	if d.pool != nil {
		d.pool.Stop()
		d.pool = nil
	}
}
