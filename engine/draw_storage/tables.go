package draw_storage

import (
	"slices"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/material"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/mesh"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
)

// TableState is the synchronization state of a host table with its GPU copy. States are ordered:
// marking a table with a lower state than it holds is a no-op.
type TableState uint8

const (
	// StateClean means the GPU copy matches the host table.
	StateClean TableState = iota
	// StateInstanceDirty means entries changed in place; the GPU buffer is still large enough.
	StateInstanceDirty
	// StateTopologyDirty means entries were added or removed.
	StateTopologyDirty
)

// String returns a readable name for the state, used in logs.
func (s TableState) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateInstanceDirty:
		return "instance_dirty"
	case StateTopologyDirty:
		return "topology_dirty"
	}
	return "unknown"
}

func (s *TableState) mark(n TableState) {
	if n > *s {
		*s = n
	}
}

// bucket is a unique (material, geometry) pair. Buckets are never removed.
type bucket struct {
	mat  material.Material
	geom mesh.Geometry
}

// drawCmd is one indirect draw. Commands are never removed; a command whose objects were all
// freed keeps a zero payload and is skipped when drawing.
type drawCmd struct {
	color      pipeline.Pipeline
	depth      pipeline.Pipeline
	objType    pipeline.ObjectType
	bucketId   int // bucket whose geometry is bound
	alphaOrder int

	maxPayload   uint32
	firstPayload uint32

	bindings []device.BindGroup // per viewport, nil where the pass has no pipeline
}

// pipelineFor returns the pipeline drawing the command in a viewport.
func (c *drawCmd) pipelineFor(viewport int) pipeline.Pipeline {
	if viewport == ViewportMain {
		return c.color
	}
	return c.depth
}

// resolve looks up the color and shadow pipelines of a material.
func (d *drawStorageImpl) resolve(mat material.Material, objType pipeline.ObjectType) (pipeline.Pipeline, pipeline.Pipeline) {
	return d.resolver.Resolve(mat, objType, pipeline.PassColor), d.resolver.Resolve(mat, objType, pipeline.PassShadow)
}

// bucketId returns the bucket of (geom, mat), appending one when none matches.
func (d *drawStorageImpl) bucketId(geom mesh.Geometry, mat material.Material) int {
	for i := range d.buckets {
		if d.buckets[i].geom == geom && d.buckets[i].mat == mat {
			return i
		}
	}
	d.buckets = append(d.buckets, bucket{mat: mat, geom: geom})
	d.bucketState.mark(StateTopologyDirty)
	return len(d.buckets) - 1
}

// commandId returns the command drawing with (color, depth) for objType, appending one when none
// matches. A command binds the buffers of one geometry, so without bindless addressing buckets
// whose geometry lives in other buffers get their own command.
func (d *drawStorageImpl) commandId(color, depth pipeline.Pipeline, objType pipeline.ObjectType, bucketId int, mat material.Material) int {
	for i := range d.cmds {
		c := &d.cmds[i]
		if c.color != color || c.depth != depth || c.objType != objType {
			continue
		}
		if d.bindless {
			d.checkSharedGeometry(c.bucketId, bucketId)
			return i
		}
		if c.bucketId == bucketId || d.sharesBuffers(c.bucketId, bucketId) {
			return i
		}
	}

	d.cmds = append(d.cmds, drawCmd{
		color:      color,
		depth:      depth,
		objType:    objType,
		bucketId:   bucketId,
		alphaOrder: mat.AlphaOrder(),
		bindings:   make([]device.BindGroup, len(d.views)),
	})
	d.cmdState.mark(StateTopologyDirty)
	return len(d.cmds) - 1
}

// sharesBuffers reports whether two buckets draw from the same vertex and index buffers.
func (d *drawStorageImpl) sharesBuffers(a, b int) bool {
	ga, gb := d.buckets[a].geom, d.buckets[b].geom
	return ga.VertexBuffer() == gb.VertexBuffer() && ga.IndexBuffer() == gb.IndexBuffer()
}

func (d *drawStorageImpl) checkSharedGeometry(bound, other int) {
	if !d.sharesBuffers(bound, other) {
		panic("draw storage: bindless commands require every geometry to share one vertex and index buffer")
	}
}

// wholeCluster reserves the single cluster of a non-landscape object. Its sphere is placed by
// updateInstance.
func (d *drawStorageImpl) wholeCluster(b mesh.Bounds, iboOff, iboLen, bucketId, cmdId int, objType pipeline.ObjectType) int {
	id := d.reserveClusters(1)
	d.clusters[id] = GPUCluster{
		Pos:          b.Center(),
		R:            b.RConservative,
		BucketId:     uint32(bucketId),
		CommandId:    uint32(cmdId),
		FirstMeshlet: uint32(mesh.MeshletCount(iboOff)),
		MeshletCount: uint32(mesh.MeshletCount(iboLen)),
		InstanceId:   NoInstance,
		ObjType:      uint32(objType),
	}
	d.cmds[cmdId].maxPayload += uint32(mesh.MeshletCount(iboLen))
	return id
}

// meshletClusters reserves one cluster per meshlet of a landscape object.
func (d *drawStorageImpl) meshletClusters(clusters []mesh.Cluster, firstMeshlet, bucketId, cmdId int) int {
	id := d.reserveClusters(len(clusters))
	for i, c := range clusters {
		d.clusters[id+i] = GPUCluster{
			Pos:          c.Pos,
			R:            c.R,
			BucketId:     uint32(bucketId),
			CommandId:    uint32(cmdId),
			FirstMeshlet: uint32(firstMeshlet + i),
			MeshletCount: 1,
			InstanceId:   NoInstance,
			ObjType:      uint32(pipeline.ObjectLandscape),
		}
	}
	d.cmds[cmdId].maxPayload += uint32(len(clusters))
	return id
}

// reserveClusters returns the first entry of n contiguous dead clusters, appending when no run
// is long enough. Dead runs are reused first-fit, lowest index first, so a freed hole is refilled
// before the table grows; a run longer than n keeps its tail dead.
func (d *drawStorageImpl) reserveClusters(n int) int {
	d.clusterState.mark(StateTopologyDirty)
	run := 0
	for i := range d.clusters {
		if d.clusters[i].R >= 0 {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1
		}
	}
	id := len(d.clusters)
	d.clusters = append(d.clusters, make([]GPUCluster, n)...)
	return id
}

// killClusters marks clusters dead. The cull kernel skips them and reserveClusters reuses them.
func (d *drawStorageImpl) killClusters(id, n int) {
	for i := id; i < id+n; i++ {
		d.clusters[i] = GPUCluster{R: -1}
	}
	d.clusterState.mark(StateTopologyDirty)
}

// dirtySet is an ordered-on-demand set of table indices.
type dirtySet struct {
	indices []uint32
	bits    []uint64
}

func (s *dirtySet) add(i uint32) {
	word := int(i / 64)
	if word >= len(s.bits) {
		s.bits = append(s.bits, make([]uint64, word+1-len(s.bits))...)
	}
	bit := uint64(1) << (i % 64)
	if s.bits[word]&bit != 0 {
		return
	}
	s.bits[word] |= bit
	s.indices = append(s.indices, i)
}

func (s *dirtySet) reset() {
	s.indices = s.indices[:0]
	clear(s.bits)
}

// runs calls fn for each maximal run [start, end) of consecutive dirty indices, ascending.
func (s *dirtySet) runs(fn func(start, end uint32)) {
	if len(s.indices) == 0 {
		return
	}
	slices.Sort(s.indices)
	start, end := s.indices[0], s.indices[0]+1
	for _, i := range s.indices[1:] {
		if i == end {
			end++
			continue
		}
		fn(start, end)
		start, end = i, i+1
	}
	fn(start, end)
}
