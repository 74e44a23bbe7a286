package draw_storage

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-meshlet/common"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/camera"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/instance"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/mesh"
)

// view is the GPU state of one viewport.
type view struct {
	scene       device.Buffer
	params      device.Buffer
	visClusters device.Buffer
	indirect    device.Buffer

	initBG device.BindGroup
	cullBG device.BindGroup

	uniform camera.GPUSceneUniform
	hasView bool
}

func (v *view) release() {
	for _, b := range []*device.Buffer{&v.scene, &v.params, &v.visClusters, &v.indirect} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
}

// tables holds the GPU copies of the shared tables.
type tables struct {
	clusters   device.Buffer
	buckets    device.Buffer
	drawParams device.Buffer
	empty      device.Buffer // bound where a heap has no buffer yet

	retired []device.Buffer
}

func (t *tables) release() {
	for _, b := range []*device.Buffer{&t.clusters, &t.buckets, &t.drawParams, &t.empty} {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}
}

func (d *drawStorageImpl) Commit() (bool, error) {
	realloc := false
	if err := d.ensureStatic(); err != nil {
		return false, err
	}

	if d.bucketState != StateClean {
		r, err := d.commitBuckets()
		if err != nil {
			return false, err
		}
		realloc = realloc || r
	}
	if d.cmdState != StateClean {
		r, err := d.commitCommands()
		if err != nil {
			return false, err
		}
		realloc = realloc || r
	}
	if d.clusterState != StateClean {
		r, err := d.commitClusters()
		if err != nil {
			return false, err
		}
		realloc = realloc || r
	}
	for _, h := range []instance.Heap{d.instances, d.morphs} {
		r, err := h.Commit(d.dev)
		if err != nil {
			return false, fmt.Errorf("draw storage: %w", err)
		}
		realloc = realloc || r
	}

	if realloc {
		d.dev.WaitIdle()
		d.releaseBindings()
		d.releaseRetired()
		d.bindingsDirty = true
		d.reallocs++
		d.log.Debug("draw storage reallocated",
			slog.Int("buckets", len(d.buckets)),
			slog.Int("commands", len(d.cmds)),
			slog.Int("clusters", len(d.clusters)),
			slog.Int("instances", d.instances.Len()),
		)
	}
	return realloc, nil
}

// ensureStatic creates the per-viewport uniform buffers and placeholders on first use.
func (d *drawStorageImpl) ensureStatic() error {
	if d.gpu.empty != nil {
		return nil
	}
	var err error
	if d.hizDefault == nil {
		far := make([]byte, 4)
		binary.LittleEndian.PutUint32(far, math.Float32bits(1))
		if d.hizDefault, err = d.dev.CreateBuffer("DrawStorage HiZ Default", device.UsageStorage, 4, far); err != nil {
			return fmt.Errorf("draw storage: %w", err)
		}
	}
	for i := range d.views {
		v := &d.views[i]
		if v.scene == nil {
			data := v.uniform.Marshal()
			if v.scene, err = d.dev.CreateBuffer(fmt.Sprintf("DrawStorage Scene %d", i), device.UsageUniform, uint64(len(data)), data); err != nil {
				return fmt.Errorf("draw storage: %w", err)
			}
		}
		if v.params == nil {
			if v.params, err = d.dev.CreateBuffer(fmt.Sprintf("DrawStorage Cull Params %d", i), device.UsageUniform, uint64((&GPUCullParams{}).Size()), nil); err != nil {
				return fmt.Errorf("draw storage: %w", err)
			}
		}
	}
	if d.gpu.empty, err = d.dev.CreateBuffer("DrawStorage Empty", device.UsageStorage, 64, nil); err != nil {
		return fmt.Errorf("draw storage: %w", err)
	}
	d.bindingsDirty = true
	return nil
}

// commitBuckets uploads the bucket table.
func (d *drawStorageImpl) commitBuckets() (bool, error) {
	data := make([]byte, 0, len(d.buckets)*64)
	for i := range d.buckets {
		b := &d.buckets[i]
		bounds := b.geom.Bounds()
		gb := GPUBucket{
			BBoxMin:            bounds.Min,
			Radius:             bounds.RConservative,
			BBoxMax:            bounds.Max,
			AlphaWeight:        b.mat.AlphaWeight,
			TexAniMapDirPeriod: b.mat.TexAniMapDirPeriod,
			WaveMaxAmplitude:   b.mat.WaveMaxAmplitude,
			EnvMapping:         b.mat.EnvMapping,
			Alpha:              uint32(b.mat.Alpha),
		}
		data = append(data, gb.Marshal()...)
	}
	r, err := d.upload(&d.gpu.buckets, "DrawStorage Buckets", device.UsageStorage, data)
	if err != nil {
		return false, err
	}
	d.bucketState = StateClean
	return r, nil
}

// commitCommands assigns payload ranges, orders commands, and uploads the draw parameters and
// the indirect commands of every viewport.
func (d *drawStorageImpl) commitCommands() (bool, error) {
	var total uint32
	for i := range d.cmds {
		d.cmds[i].firstPayload = total
		total += d.cmds[i].maxPayload
	}

	d.ord = d.ord[:0]
	for i := range d.cmds {
		d.ord = append(d.ord, i)
	}
	sort.SliceStable(d.ord, func(a, b int) bool {
		return d.cmds[d.ord[a]].alphaOrder < d.cmds[d.ord[b]].alphaOrder
	})

	params := make([]byte, len(d.cmds)*drawParamsStride)
	indirect := make([]byte, 0, len(d.cmds)*(&GPUIndirectCmd{}).Size())
	for i := range d.cmds {
		c := &d.cmds[i]
		p := GPUDrawParams{
			FirstPayload: c.firstPayload,
			MaxPayload:   c.maxPayload,
			CommandId:    uint32(i),
			ObjType:      uint32(c.objType),
		}
		copy(params[i*drawParamsStride:], p.Marshal())
		ic := GPUIndirectCmd{
			VertexCount: mesh.MeshletIndexCount,
			WriteOffset: c.firstPayload,
			MaxPayload:  c.maxPayload,
		}
		indirect = append(indirect, ic.Marshal()...)
	}

	realloc, err := d.upload(&d.gpu.drawParams, "DrawStorage Draw Params", device.UsageUniform, params)
	if err != nil {
		return false, err
	}
	payloadSize := max(uint64(total)*payloadEntrySize, payloadEntrySize)
	for i := range d.views {
		v := &d.views[i]
		r, err := d.reserve(&v.visClusters, fmt.Sprintf("DrawStorage Payload %d", i), device.UsageStorage, payloadSize)
		if err != nil {
			return false, err
		}
		realloc = realloc || r
		if r, err = d.upload(&v.indirect, fmt.Sprintf("DrawStorage Indirect %d", i), device.UsageStorage|device.UsageIndirect, indirect); err != nil {
			return false, err
		}
		realloc = realloc || r
	}
	if len(d.cmds) != d.boundCommands {
		d.bindingsDirty = true
	}
	d.cmdState = StateClean
	return realloc, nil
}

// commitClusters uploads the cluster table, in full after topology changes and as coalesced
// runs of moved clusters otherwise.
func (d *drawStorageImpl) commitClusters() (bool, error) {
	stride := (&GPUCluster{}).Size()
	if d.clusterState == StateInstanceDirty && d.gpu.clusters != nil {
		d.clusterDirty.runs(func(start, end uint32) {
			if int(end) > len(d.clusters) {
				end = uint32(len(d.clusters))
			}
			if start >= end {
				return
			}
			buf := make([]byte, int(end-start)*stride)
			for i := start; i < end; i++ {
				d.clusters[i].marshalTo(buf[int(i-start)*stride:])
			}
			d.dev.WriteBuffer(d.gpu.clusters, uint64(start)*uint64(stride), buf)
		})
		d.clusterDirty.reset()
		d.clusterState = StateClean
		return false, nil
	}

	data := d.marshalClusters()
	r, err := d.upload(&d.gpu.clusters, "DrawStorage Clusters", device.UsageStorage, data)
	if err != nil {
		return false, err
	}
	d.clusterDirty.reset()
	d.clusterState = StateClean
	return r, nil
}

// marshalClusters serializes the whole cluster table. Large tables are split into chunks
// serialized on the worker pool while it runs.
func (d *drawStorageImpl) marshalClusters() []byte {
	stride := (&GPUCluster{}).Size()
	out := make([]byte, len(d.clusters)*stride)
	n := len(d.clusters)
	if d.pool == nil || d.marshalWorkers <= 1 || n < d.parallelThreshold {
		for i := range d.clusters {
			d.clusters[i].marshalTo(out[i*stride:])
		}
		return out
	}

	chunk := (n + d.marshalWorkers - 1) / d.marshalWorkers
	var wg sync.WaitGroup
	for task, start := 0, 0; start < n; task, start = task+1, start+chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		lo, hi := start, end
		d.pool.SubmitTask(worker.Task{
			ID: task,
			Do: func() (any, error) {
				defer wg.Done()
				for i := lo; i < hi; i++ {
					d.clusters[i].marshalTo(out[i*stride:])
				}
				return nil, nil
			},
		})
	}
	wg.Wait()
	return out
}

// upload writes data into *buf, replacing the buffer when it is missing or too small. Empty data
// still gets a minimal buffer so bind groups always have something to bind.
func (d *drawStorageImpl) upload(buf *device.Buffer, label string, usage device.BufferUsage, data []byte) (bool, error) {
	size := common.AlignUp(uint64(max(len(data), 16)), 16)
	if *buf != nil && (*buf).Size() >= size {
		if len(data) > 0 {
			d.dev.WriteBuffer(*buf, 0, data)
		}
		return false, nil
	}
	nb, err := d.dev.CreateBuffer(label, usage, size, data)
	if err != nil {
		return false, fmt.Errorf("draw storage: failed to create %s: %w", label, err)
	}
	d.retire(*buf)
	*buf = nb
	return true, nil
}

// reserve makes *buf at least size bytes without writing it.
func (d *drawStorageImpl) reserve(buf *device.Buffer, label string, usage device.BufferUsage, size uint64) (bool, error) {
	if *buf != nil && (*buf).Size() >= size {
		return false, nil
	}
	nb, err := d.dev.CreateBuffer(label, usage, size, nil)
	if err != nil {
		return false, fmt.Errorf("draw storage: failed to create %s: %w", label, err)
	}
	d.retire(*buf)
	*buf = nb
	return true, nil
}

func (d *drawStorageImpl) retire(buf device.Buffer) {
	if buf != nil {
		d.gpu.retired = append(d.gpu.retired, buf)
	}
}

// releaseRetired frees replaced buffers. The device must be idle.
func (d *drawStorageImpl) releaseRetired() {
	for _, b := range d.gpu.retired {
		b.Release()
	}
	d.gpu.retired = d.gpu.retired[:0]
	d.instances.ReleaseRetired()
	d.morphs.ReleaseRetired()
}
