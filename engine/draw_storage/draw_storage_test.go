package draw_storage

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/camera"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device/devicetest"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/material"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/mesh"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
	"github.com/go-gl/mathgl/mgl32"
)

const m = mesh.MeshletIndexCount

type fakeGeometry struct {
	vbo, ibo device.Buffer
	bounds   mesh.Bounds
	clusters []mesh.Cluster
}

func (g *fakeGeometry) VertexBuffer() device.Buffer { return g.vbo }
func (g *fakeGeometry) IndexBuffer() device.Buffer  { return g.ibo }
func (g *fakeGeometry) Bounds() mesh.Bounds         { return g.bounds }
func (g *fakeGeometry) Clusters() []mesh.Cluster    { return g.clusters }

func newGeometry(t *testing.T, dev *devicetest.Device, meshlets int) *fakeGeometry {
	t.Helper()
	vbo, err := dev.CreateBuffer("vbo", device.UsageStorage, 64, nil)
	if err != nil {
		t.Fatal(err)
	}
	ibo, err := dev.CreateBuffer("ibo", device.UsageStorage|device.UsageIndex, uint64(meshlets*m*4), nil)
	if err != nil {
		t.Fatal(err)
	}
	g := &fakeGeometry{
		vbo:    vbo,
		ibo:    ibo,
		bounds: mesh.NewBounds(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}),
	}
	for i := 0; i < meshlets; i++ {
		g.clusters = append(g.clusters, mesh.Cluster{Pos: mgl32.Vec3{float32(i), 0, 0}, R: 0.5})
	}
	return g
}

type pipelines struct {
	solid, transparent, depth, landscape, landscapeDepth, animated pipeline.Pipeline
}

// newRegistry registers color pipelines for every object type and shadow pipelines for solid
// classes only, so transparent materials draw in the main viewport alone.
func newRegistry() (*pipeline.Registry, pipelines) {
	p := pipelines{
		solid:          pipeline.NewPipeline("solid", pipeline.PipelineTypeRender),
		transparent:    pipeline.NewPipeline("transparent", pipeline.PipelineTypeRender),
		depth:          pipeline.NewPipeline("depth", pipeline.PipelineTypeRender, pipeline.WithEntryPoints("vs_main", "")),
		landscape:      pipeline.NewPipeline("landscape", pipeline.PipelineTypeRender),
		landscapeDepth: pipeline.NewPipeline("landscape_depth", pipeline.PipelineTypeRender, pipeline.WithEntryPoints("vs_main", "")),
		animated:       pipeline.NewPipeline("animated", pipeline.PipelineTypeRender),
	}
	r := pipeline.NewRegistry()
	for _, t := range []pipeline.ObjectType{pipeline.ObjectStatic, pipeline.ObjectMovable, pipeline.ObjectMorph} {
		r.Register(t, pipeline.PassColor, pipeline.AnyAlpha, p.solid)
		r.Register(t, pipeline.PassColor, material.Transparent, p.transparent)
		r.Register(t, pipeline.PassShadow, material.Solid, p.depth)
		r.Register(t, pipeline.PassShadow, material.AlphaTest, p.depth)
	}
	r.Register(pipeline.ObjectLandscape, pipeline.PassColor, pipeline.AnyAlpha, p.landscape)
	r.Register(pipeline.ObjectLandscape, pipeline.PassShadow, pipeline.AnyAlpha, p.landscapeDepth)
	r.Register(pipeline.ObjectAnimated, pipeline.PassColor, pipeline.AnyAlpha, p.animated)
	return r, p
}

func newStorage(t *testing.T, options ...DrawStorageBuilderOption) (*drawStorageImpl, *devicetest.Device, pipelines) {
	t.Helper()
	dev := devicetest.NewDevice()
	reg, p := newRegistry()
	return NewDrawStorage(dev, reg, options...).(*drawStorageImpl), dev, p
}

func mustCommit(t *testing.T, d DrawStorage) bool {
	t.Helper()
	realloc, err := d.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return realloc
}

func TestLiveCountMatchesAllocationsMinusFrees(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 4)
	mat := material.NewMaterial()
	rng := rand.New(rand.NewSource(7))

	var live []Item
	allocs, frees := 0, 0
	for step := 0; step < 500; step++ {
		if len(live) == 0 || rng.Intn(3) != 0 {
			var it Item
			switch rng.Intn(3) {
			case 0:
				it = d.Allocate(g, mat, 0, m*(1+rng.Intn(4)), pipeline.ObjectStatic)
			case 1:
				it = d.AllocateLandscape(g, mat, m, 2*m, nil)
			default:
				it = d.AllocateAnimated(g, mat, 0, 0, m)
			}
			if it.IsEmpty() {
				t.Fatal("allocation returned the null item")
			}
			live = append(live, it)
			allocs++
		} else {
			i := rng.Intn(len(live))
			if err := live[i].Free(); err != nil {
				t.Fatalf("Free() error = %v", err)
			}
			live = append(live[:i], live[i+1:]...)
			frees++
		}

		if got, want := d.Live(), allocs-frees; got != want {
			t.Fatalf("step %d: Live() = %d, want %d", step, got, want)
		}
		owner := make(map[int]int)
		for _, it := range live {
			obj := d.objects[it.id]
			for c := obj.clusterId; c < obj.clusterId+obj.clusterCount(); c++ {
				if prev, ok := owner[c]; ok {
					t.Fatalf("step %d: cluster %d owned by objects %d and %d", step, c, prev, it.id)
				}
				owner[c] = it.id
			}
		}
	}
}

func TestTailFreeShrinksAndHoleIsReused(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 1)
	mat := material.NewMaterial()

	items := make([]Item, 4)
	for i := range items {
		items[i] = d.Allocate(g, mat, 0, m, pipeline.ObjectStatic)
	}
	if d.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", d.Len())
	}

	if err := items[3].Free(); err != nil {
		t.Fatal(err)
	}
	if d.Len() != 3 {
		t.Errorf("Len() after tail free = %d, want 3", d.Len())
	}

	if err := items[1].Free(); err != nil {
		t.Fatal(err)
	}
	if d.Len() != 3 {
		t.Errorf("Len() after interior free = %d, want 3", d.Len())
	}

	reused := d.Allocate(g, mat, 0, m, pipeline.ObjectStatic)
	if reused.id != 1 {
		t.Errorf("allocate after interior free took slot %d, want 1", reused.id)
	}
	if d.Len() != 3 {
		t.Errorf("Len() after refill = %d, want 3", d.Len())
	}
	if items[1].Valid() {
		t.Error("freed item still valid after its slot was reused")
	}
	if !reused.Valid() {
		t.Error("new item in reused slot is not valid")
	}
}

func TestBucketAndCommandDedup(t *testing.T) {
	d, dev, _ := newStorage(t)
	g1 := newGeometry(t, dev, 2)
	g2 := newGeometry(t, dev, 2)
	solid := material.NewMaterial(material.WithAlpha(material.Solid))
	water := material.NewMaterial(material.WithAlpha(material.Water))

	a := d.Allocate(g1, solid, 0, m, pipeline.ObjectStatic)
	d.Allocate(g2, water, 0, m, pipeline.ObjectStatic)
	d.AllocateLandscape(g2, solid, 0, 2*m, nil)
	b := d.Allocate(g1, solid, m, m, pipeline.ObjectStatic)
	c := d.Allocate(g1, water, 0, m, pipeline.ObjectStatic)

	oa, ob, oc := d.objects[a.id], d.objects[b.id], d.objects[c.id]
	if oa.bucketId != ob.bucketId {
		t.Errorf("same material and mesh: bucketId %d != %d", oa.bucketId, ob.bucketId)
	}
	if oa.cmdId != ob.cmdId {
		t.Errorf("same pipelines and type: cmdId %d != %d", oa.cmdId, ob.cmdId)
	}
	if oc.bucketId == oa.bucketId {
		t.Errorf("different material, same mesh: both in bucket %d", oa.bucketId)
	}
	if got := len(d.buckets); got != 4 {
		t.Errorf("buckets = %d, want 4", got)
	}
}

func TestBindlessSharesCommandsAcrossBuckets(t *testing.T) {
	d, dev, _ := newStorage(t, WithBindless(true))
	g := newGeometry(t, dev, 2)
	shared := &fakeGeometry{vbo: g.vbo, ibo: g.ibo, bounds: g.bounds}

	a := d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectStatic)
	b := d.Allocate(shared, material.NewMaterial(material.WithEnvMapping(0.5)), 0, m, pipeline.ObjectStatic)
	if d.objects[a.id].bucketId == d.objects[b.id].bucketId {
		t.Fatal("distinct materials share a bucket")
	}
	if d.objects[a.id].cmdId != d.objects[b.id].cmdId {
		t.Error("bindless commands split by bucket")
	}

	other := newGeometry(t, dev, 1)
	defer func() {
		if recover() == nil {
			t.Error("bindless command over a separate index buffer did not panic")
		}
	}()
	d.Allocate(other, material.NewMaterial(), 0, m, pipeline.ObjectStatic)
}

func TestCommandsShareBuffersWithoutBindless(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 2)
	shared := &fakeGeometry{vbo: g.vbo, ibo: g.ibo, bounds: g.bounds}
	other := newGeometry(t, dev, 1)

	a := d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectStatic)
	b := d.Allocate(shared, material.NewMaterial(material.WithEnvMapping(0.5)), m, m, pipeline.ObjectStatic)
	c := d.Allocate(other, material.NewMaterial(), 0, m, pipeline.ObjectStatic)

	oa, ob, oc := d.objects[a.id], d.objects[b.id], d.objects[c.id]
	if oa.bucketId == ob.bucketId {
		t.Fatal("distinct materials share a bucket")
	}
	if oa.cmdId != ob.cmdId {
		t.Errorf("buckets over shared buffers: cmdId %d != %d", oa.cmdId, ob.cmdId)
	}
	if oc.cmdId == oa.cmdId {
		t.Errorf("geometry with its own buffers shares command %d", oa.cmdId)
	}
	if got := len(d.cmds); got != 2 {
		t.Errorf("commands = %d, want 2", got)
	}
}

func TestPayloadMatchesLiveMeshlets(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 4)
	mats := []material.Material{
		material.NewMaterial(material.WithAlpha(material.Solid)),
		material.NewMaterial(material.WithAlpha(material.Transparent)),
	}

	var items []Item
	for i := 0; i < 12; i++ {
		mat := mats[i%2]
		switch i % 3 {
		case 0:
			items = append(items, d.Allocate(g, mat, 0, m*(1+i%4), pipeline.ObjectMovable))
		case 1:
			items = append(items, d.AllocateLandscape(g, mat, 0, 3*m, nil))
		default:
			items = append(items, d.AllocateAnimated(g, mat, 0, m, 2*m))
		}
	}
	for _, i := range []int{1, 4, 5, 10} {
		if err := items[i].Free(); err != nil {
			t.Fatal(err)
		}
	}
	mustCommit(t, d)

	perCmd := make(map[uint32]uint32)
	for _, c := range d.clusters {
		if c.R >= 0 {
			perCmd[c.CommandId] += c.MeshletCount
		}
	}
	var total uint32
	for id, c := range d.cmds {
		if c.maxPayload != perCmd[uint32(id)] {
			t.Errorf("command %d: maxPayload = %d, live meshlets = %d", id, c.maxPayload, perCmd[uint32(id)])
		}
		if c.firstPayload != total {
			t.Errorf("command %d: firstPayload = %d, want %d", id, c.firstPayload, total)
		}
		total += c.maxPayload
	}
	want := max(uint64(total)*payloadEntrySize, payloadEntrySize)
	for v := range d.views {
		if got := d.views[v].visClusters.Size(); got < want {
			t.Errorf("viewport %d payload buffer = %d bytes, want at least %d", v, got, want)
		}
	}
}

func TestLandscapeAllocateAndFree(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 2)

	it := d.AllocateLandscape(g, material.NewMaterial(), 0, 2*m, nil)
	if it.IsEmpty() {
		t.Fatal("AllocateLandscape() returned the null item")
	}
	if len(d.clusters) != 2 || len(d.cmds) != 1 || len(d.buckets) != 1 {
		t.Fatalf("clusters, commands, buckets = %d, %d, %d, want 2, 1, 1", len(d.clusters), len(d.cmds), len(d.buckets))
	}
	if d.cmds[0].maxPayload != 2 {
		t.Errorf("maxPayload = %d, want 2", d.cmds[0].maxPayload)
	}
	for i, c := range d.clusters {
		if c.MeshletCount != 1 || c.FirstMeshlet != uint32(i) || c.InstanceId != NoInstance {
			t.Errorf("cluster %d = %+v, want one meshlet at %d without instance", i, c, i)
		}
		if mgl32.Vec3(c.Pos) != g.clusters[i].Pos {
			t.Errorf("cluster %d pos = %v, want %v", i, c.Pos, g.clusters[i].Pos)
		}
	}
	if d.Instances().Live() != 0 {
		t.Errorf("landscape reserved %d instance slots", d.Instances().Live())
	}

	if err := d.Free(it); err != nil {
		t.Fatal(err)
	}
	for i, c := range d.clusters {
		if c.R != -1 || c.MeshletCount != 0 {
			t.Errorf("cluster %d not dead after free: %+v", i, c)
		}
	}
	if d.cmds[0].maxPayload != 0 {
		t.Errorf("maxPayload after free = %d, want 0", d.cmds[0].maxPayload)
	}
	if d.Len() != 0 {
		t.Errorf("Len() after freeing the tail = %d, want 0", d.Len())
	}
}

func TestAnimatedUpdateTransform(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 1)
	palette := d.Instances().AllocRange(4)

	it := d.AllocateAnimated(g, material.NewMaterial(), palette.Slot(), 0, m)
	if len(d.clusters) != 1 || d.Instances().Live() != 5 {
		t.Fatalf("clusters = %d, instance slots = %d, want 1, 5", len(d.clusters), d.Instances().Live())
	}
	mustCommit(t, d)
	dev.ResetLog()

	buckets, cmds, clusters := len(d.buckets), len(d.cmds), len(d.clusters)
	if err := it.SetObjMatrix(mgl32.Translate3D(5, 0, -2).Mul4(mgl32.Scale3D(2, 2, 2))); err != nil {
		t.Fatal(err)
	}
	if len(d.buckets) != buckets || len(d.cmds) != cmds || len(d.clusters) != clusters {
		t.Fatal("UpdateTransform changed table topology")
	}
	c := d.clusters[d.objects[it.id].clusterId]
	if !mgl32.Vec3(c.Pos).ApproxEqualThreshold(mgl32.Vec3{5, 0, -2}, 1e-5) {
		t.Errorf("cluster pos = %v, want (5, 0, -2)", c.Pos)
	}
	if want := g.bounds.RConservative * 2; mgl32.Abs(c.R-want) > 1e-5 {
		t.Errorf("cluster radius = %v, want %v", c.R, want)
	}
	if d.clusterState != StateInstanceDirty || d.cmdState != StateClean || d.bucketState != StateClean {
		t.Errorf("states = %s %s %s, want instance_dirty clean clean", d.clusterState, d.cmdState, d.bucketState)
	}

	realloc := mustCommit(t, d)
	if realloc || dev.WaitIdles != 0 {
		t.Errorf("transform commit realloc = %v, idle waits = %d, want false, 0", realloc, dev.WaitIdles)
	}
	var clusterWrites, instanceWrites int
	for _, w := range dev.Writes {
		switch w.Buffer {
		case d.gpu.clusters:
			clusterWrites++
		case d.instances.Buffer():
			instanceWrites++
		default:
			t.Errorf("unexpected write to %q", w.Buffer.Label())
		}
	}
	if clusterWrites != 1 || instanceWrites != 1 {
		t.Errorf("cluster, instance writes = %d, %d, want 1, 1", clusterWrites, instanceWrites)
	}
	inst := d.instances.Buffer().(*devicetest.Buffer)
	off := int(d.objects[it.id].inst.Slot()) * 64
	if got := binary.LittleEndian.Uint32(inst.Contents[off+48:]); got != palette.Slot() {
		t.Errorf("instance anim pointer = %d, want %d", got, palette.Slot())
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 2)
	d.Allocate(g, material.NewMaterial(), 0, 2*m, pipeline.ObjectStatic)
	d.AllocateLandscape(g, material.NewMaterial(), 0, 2*m, nil)

	if !mustCommit(t, d) {
		t.Error("first Commit() = false, want true")
	}
	if dev.WaitIdles != 1 {
		t.Errorf("first Commit() waited %d times, want 1", dev.WaitIdles)
	}
	dev.ResetLog()
	buffers := len(dev.Buffers)

	if mustCommit(t, d) {
		t.Error("second Commit() = true, want false")
	}
	if len(dev.Writes) != 0 || len(dev.Buffers) != buffers || dev.WaitIdles != 0 {
		t.Errorf("second Commit() touched the device: %d writes, %d new buffers, %d idle waits",
			len(dev.Writes), len(dev.Buffers)-buffers, dev.WaitIdles)
	}
}

func TestCommitReleasesReplacedBuffersAfterIdle(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 1)
	d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectStatic)
	mustCommit(t, d)
	old := d.gpu.clusters.(*devicetest.Buffer)

	for i := 0; i < 8; i++ {
		d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectStatic)
	}
	dev.ResetLog()
	if !mustCommit(t, d) {
		t.Fatal("Commit() after growth = false, want true")
	}
	if dev.WaitIdles != 1 {
		t.Errorf("idle waits = %d, want exactly 1", dev.WaitIdles)
	}
	if !old.Released {
		t.Error("replaced cluster buffer not released")
	}
	if !d.bindingsDirty {
		t.Error("bindings not marked dirty after reallocation")
	}
}

func TestCommitErrorIsWrapped(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 1)
	d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectStatic)

	boom := errors.New("out of memory")
	dev.FailCreate = boom
	if _, err := d.Commit(); !errors.Is(err, boom) {
		t.Fatalf("Commit() error = %v, want wrapping %v", err, boom)
	}
	dev.FailCreate = nil
	if !mustCommit(t, d) {
		t.Error("retry Commit() = false, want true")
	}
}

func TestStaleItem(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 1)
	it := d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectMovable)
	if err := it.Free(); err != nil {
		t.Fatal(err)
	}

	for name, err := range map[string]error{
		"Free":            it.Free(),
		"UpdateTransform": d.UpdateTransform(it, mgl32.Ident4()),
		"UpdateGhost":     d.UpdateGhost(it, true),
		"UpdateFatness":   d.UpdateFatness(it, 1),
		"UpdateMorph":     d.UpdateMorph(it, GPUMorphData{}),
	} {
		if !errors.Is(err, ErrStaleItem) {
			t.Errorf("%s() on stale item error = %v, want ErrStaleItem", name, err)
		}
	}
	if it.Mesh() != nil || it.Material() != (material.Material{}) {
		t.Error("stale item accessors returned live data")
	}
	if off, n := it.MeshSlice(); off != 0 || n != 0 {
		t.Errorf("stale MeshSlice() = %d, %d, want 0, 0", off, n)
	}
}

func TestUnrenderableReturnsNullItem(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 1)

	empty := NewDrawStorage(dev, pipeline.NewRegistry()).(*drawStorageImpl)
	it := empty.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectStatic)
	if !it.IsEmpty() {
		t.Fatal("Allocate() without pipelines returned a live item")
	}
	if empty.Len() != 0 || len(empty.buckets) != 0 || len(empty.cmds) != 0 {
		t.Errorf("unrenderable allocate left state: %d objects, %d buckets, %d commands", empty.Len(), len(empty.buckets), len(empty.cmds))
	}
	if err := it.Free(); err != nil {
		t.Errorf("Free() on null item error = %v", err)
	}
	if err := it.SetObjMatrix(mgl32.Ident4()); err != nil {
		t.Errorf("SetObjMatrix() on null item error = %v", err)
	}

	if it := d.Allocate(g, material.NewMaterial(material.WithAlpha(material.Transparent)), 0, m, pipeline.ObjectStatic); it.IsEmpty() {
		t.Error("Allocate() with only a color pipeline returned the null item")
	}
}

func TestMisalignedRangePanics(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 2)
	defer func() {
		if recover() == nil {
			t.Error("Allocate() with misaligned range did not panic")
		}
	}()
	d.Allocate(g, material.NewMaterial(), 3, m, pipeline.ObjectStatic)
}

func TestGhostDoesNotMoveCommand(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 1)
	it := d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectMovable)
	mustCommit(t, d)
	cmd := d.objects[it.id].cmdId

	if err := it.SetAsGhost(true); err != nil {
		t.Fatal(err)
	}
	if d.objects[it.id].cmdId != cmd || d.cmdState != StateClean {
		t.Error("ghost flag changed the command")
	}
	mustCommit(t, d)
	inst := d.instances.Buffer().(*devicetest.Buffer)
	off := int(d.objects[it.id].inst.Slot())*64 + 56
	if inst.Contents[off]&instanceFlagGhost == 0 {
		t.Error("ghost flag not written to the instance record")
	}
}

func TestMorphReservesMorphSlot(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 1)
	it := d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectMorph)
	obj := d.objects[it.id]
	if obj.morph.IsEmpty() || obj.animPtr != obj.morph.Slot() {
		t.Fatalf("morph object: morph empty = %v, animPtr = %d", obj.morph.IsEmpty(), obj.animPtr)
	}
	if err := it.SetMorph(GPUMorphData{Index: 3, Sample0: 1, Sample1: 2, Alpha: 0.5}); err != nil {
		t.Fatal(err)
	}
	mustCommit(t, d)
	if got := d.morphs.Buffer().(*devicetest.Buffer).Contents[0]; got != 3 {
		t.Errorf("morph index = %d, want 3", got)
	}
	if err := it.Free(); err != nil {
		t.Fatal(err)
	}
	if d.morphs.Live() != 0 {
		t.Errorf("morph slots after free = %d, want 0", d.morphs.Live())
	}
}

func TestVisibilityAndDraw(t *testing.T) {
	d, dev, p := newStorage(t, WithShadowCascades(1))
	g := newGeometry(t, dev, 2)
	d.Allocate(g, material.NewMaterial(material.WithAlpha(material.Transparent)), 0, m, pipeline.ObjectStatic)
	d.Allocate(g, material.NewMaterial(material.WithAlpha(material.Solid)), 0, 2*m, pipeline.ObjectStatic)
	d.AllocateLandscape(g, material.NewMaterial(), 0, 2*m, nil)
	freed := d.Allocate(g, material.NewMaterial(material.WithAlpha(material.Water)), 0, m, pipeline.ObjectStatic)
	if err := freed.Free(); err != nil {
		t.Fatal(err)
	}

	mustCommit(t, d)
	enc := &devicetest.Encoder{}
	d.VisibilityPass(enc)
	if len(enc.Dispatches) != 0 {
		t.Fatal("VisibilityPass() recorded work before PrepareUniforms")
	}
	cam := camera.NewCamera()
	d.SetView(ViewportMain, cam)
	d.SetView(1, cam)
	if err := d.PrepareUniforms(); err != nil {
		t.Fatal(err)
	}

	d.VisibilityPass(enc)
	if len(enc.Dispatches) != 4 {
		t.Fatalf("dispatches = %d, want 4", len(enc.Dispatches))
	}
	for i, want := range []pipeline.Pipeline{d.k.init, d.k.init, d.k.cullHiZ, d.k.cull} {
		if enc.Dispatches[i].Pipeline != want {
			t.Errorf("dispatch %d pipeline = %s, want %s", i, enc.Dispatches[i].Pipeline.PipelineKey(), want.PipelineKey())
		}
	}
	if got := enc.Dispatches[2].Threads; got != uint32(len(d.clusters)) {
		t.Errorf("cull threads = %d, want %d", got, len(d.clusters))
	}

	d.DrawGBuffer(enc)
	var order []pipeline.Pipeline
	for _, dr := range enc.Draws {
		order = append(order, dr.Pipeline)
		if dr.Offset%32 != 0 {
			t.Errorf("indirect offset %d not a multiple of 32", dr.Offset)
		}
	}
	want := []pipeline.Pipeline{p.solid, p.landscape, p.transparent}
	if len(order) != len(want) {
		t.Fatalf("main draws = %d, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("draw %d = %s, want %s", i, order[i].PipelineKey(), want[i].PipelineKey())
		}
	}

	enc.Draws = nil
	d.DrawShadow(enc, 0)
	if len(enc.Draws) != 2 {
		t.Fatalf("shadow draws = %d, want 2 (transparent has no depth pipeline)", len(enc.Draws))
	}
	for _, dr := range enc.Draws {
		if dr.Pipeline != p.depth && dr.Pipeline != p.landscapeDepth {
			t.Errorf("shadow draw with %s", dr.Pipeline.PipelineKey())
		}
		if dr.Indirect != d.views[1].indirect {
			t.Error("shadow draw reads the wrong indirect buffer")
		}
	}

	enc.Dispatches = nil
	d.Freeze(true)
	d.VisibilityPass(enc)
	if len(enc.Dispatches) != 0 {
		t.Error("VisibilityPass() recorded work while frozen")
	}
}

func TestLandscapeBindsClusterTable(t *testing.T) {
	d, dev, _ := newStorage(t, WithShadowCascades(0))
	g := newGeometry(t, dev, 1)
	d.AllocateLandscape(g, material.NewMaterial(), 0, m, nil)
	d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectStatic)
	mustCommit(t, d)
	if err := d.PrepareUniforms(); err != nil {
		t.Fatal(err)
	}

	for _, c := range d.cmds {
		bg := c.bindings[ViewportMain].(*devicetest.BindGroup)
		var instances device.Buffer
		for _, b := range bg.Bindings {
			if b.Binding == BindingInstances {
				instances = b.Buffer
			}
		}
		want := d.instances.Buffer()
		if c.objType == pipeline.ObjectLandscape {
			want = d.gpu.clusters
		}
		if instances != want {
			t.Errorf("%s command binds %q as instances", c.objType, instances.Label())
		}
	}
}

func TestParallelClusterMarshalMatchesSerial(t *testing.T) {
	d, dev, _ := newStorage(t, WithMarshalWorkers(3), WithParallelMarshalThreshold(1))
	g := newGeometry(t, dev, 64)
	d.AllocateLandscape(g, material.NewMaterial(), 0, 64*m, nil)
	for i := 0; i < 10; i++ {
		d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectStatic)
	}

	got := d.marshalClusters()
	for i := range d.clusters {
		want := d.clusters[i].Marshal()
		if string(got[i*48:(i+1)*48]) != string(want) {
			t.Fatalf("cluster %d serialized differently in parallel", i)
		}
	}
}

func TestCPUVisibleClusters(t *testing.T) {
	d, dev, _ := newStorage(t)
	g := newGeometry(t, dev, 1)
	near := d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectMovable)
	far := d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectMovable)
	if err := near.SetObjMatrix(mgl32.Translate3D(0, 0, -5)); err != nil {
		t.Fatal(err)
	}
	if err := far.SetObjMatrix(mgl32.Translate3D(0, 0, 500)); err != nil {
		t.Fatal(err)
	}

	cam := camera.NewCamera()
	d.SetView(ViewportMain, cam)
	if got := d.CPUVisibleClusters(ViewportMain); got != 1 {
		t.Errorf("CPUVisibleClusters() = %d, want 1", got)
	}
}

// cullHiZBinding returns the buffer bound at the HiZ slot of a viewport's cull group, or nil.
func cullHiZBinding(t *testing.T, d *drawStorageImpl, viewport int) device.Buffer {
	t.Helper()
	bg, ok := d.views[viewport].cullBG.(*devicetest.BindGroup)
	if !ok {
		t.Fatalf("viewport %d has no cull bind group", viewport)
	}
	for _, b := range bg.Bindings {
		if b.Binding == 5 {
			return b.Buffer
		}
	}
	return nil
}

func cullParams(d *drawStorageImpl, viewport int) (flags, width, height uint32) {
	c := d.views[viewport].params.(*devicetest.Buffer).Contents
	return binary.LittleEndian.Uint32(c[12:]), binary.LittleEndian.Uint32(c[16:]), binary.LittleEndian.Uint32(c[20:])
}

func TestSetHiZRebindsMainCull(t *testing.T) {
	d, dev, _ := newStorage(t, WithShadowCascades(1))
	g := newGeometry(t, dev, 1)
	d.Allocate(g, material.NewMaterial(), 0, m, pipeline.ObjectStatic)
	mustCommit(t, d)
	cam := camera.NewCamera()
	d.SetView(ViewportMain, cam)
	d.SetView(1, cam)
	if err := d.PrepareUniforms(); err != nil {
		t.Fatal(err)
	}
	if got := cullHiZBinding(t, d, ViewportMain); got != d.hizDefault {
		t.Errorf("HiZ binding before SetHiZ = %v, want the far placeholder", got)
	}

	hiz, err := dev.CreateBuffer("hiz", device.UsageStorage, 40*30*4, nil)
	if err != nil {
		t.Fatal(err)
	}
	d.SetHiZ(hiz, 40, 30)
	if !d.bindingsDirty {
		t.Fatal("bindingsDirty after SetHiZ() = false, want true")
	}
	if err := d.PrepareUniforms(); err != nil {
		t.Fatal(err)
	}
	if got := cullHiZBinding(t, d, ViewportMain); got != hiz {
		t.Errorf("HiZ binding = %v, want %v", got, hiz)
	}
	if got := cullHiZBinding(t, d, 1); got != nil {
		t.Errorf("shadow cull binds %q at the HiZ slot", got.Label())
	}
	d.SetHiZ(hiz, 40, 30)
	if d.bindingsDirty {
		t.Error("SetHiZ() with the bound buffer marked bindings dirty")
	}

	enc := &devicetest.Encoder{}
	d.VisibilityPass(enc)
	if flags, w, h := cullParams(d, ViewportMain); flags&cullFlagHiZ == 0 || w != 40 || h != 30 {
		t.Errorf("main cull params flags, width, height = %d, %d, %d, want HiZ, 40, 30", flags, w, h)
	}
	if flags, w, h := cullParams(d, 1); flags != 0 || w != 0 || h != 0 {
		t.Errorf("shadow cull params flags, width, height = %d, %d, %d, want 0, 0, 0", flags, w, h)
	}

	d.SetHiZ(nil, 40, 30)
	if err := d.PrepareUniforms(); err != nil {
		t.Fatal(err)
	}
	d.VisibilityPass(enc)
	if flags, _, _ := cullParams(d, ViewportMain); flags != 0 {
		t.Errorf("main cull flags after clearing HiZ = %d, want 0", flags)
	}
	if got := cullHiZBinding(t, d, ViewportMain); got != d.hizDefault {
		t.Errorf("HiZ binding after clearing = %v, want the far placeholder", got)
	}
}

func TestSetHiZPanicsOnSmallBuffer(t *testing.T) {
	d, dev, _ := newStorage(t)
	hiz, err := dev.CreateBuffer("hiz", device.UsageStorage, 16, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Error("SetHiZ() with a 16 byte buffer for 4x4 did not panic")
		}
	}()
	d.SetHiZ(hiz, 4, 4)
}

func TestReleaseStopsWorkersAndIsRepeatable(t *testing.T) {
	d, dev, _ := newStorage(t, WithShadowCascades(1), WithMarshalWorkers(2), WithParallelMarshalThreshold(1))
	g := newGeometry(t, dev, 4)
	d.AllocateLandscape(g, material.NewMaterial(), 0, 4*m, nil)
	mustCommit(t, d)
	if err := d.PrepareUniforms(); err != nil {
		t.Fatal(err)
	}

	d.Release()
	if d.pool != nil {
		t.Error("worker pool still set after Release()")
	}
	for _, b := range dev.Live() {
		if b != g.vbo && b != g.ibo {
			t.Errorf("buffer %q live after Release()", b.Label())
		}
	}
	d.Release()

	if got := len(d.marshalClusters()); got != 4*48 {
		t.Errorf("marshalClusters() after Release() = %d bytes, want %d", got, 4*48)
	}
}
