package draw_storage

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/camera"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
)

func (d *drawStorageImpl) SetView(viewport int, v camera.View) {
	vp := &d.views[viewport]
	vp.uniform = camera.NewGPUSceneUniform(v, uint32(viewport))
	vp.hasView = true
	if vp.scene != nil {
		d.dev.WriteBuffer(vp.scene, 0, vp.uniform.Marshal())
	}
}

func (d *drawStorageImpl) SetHiZ(buf device.Buffer, width, height uint32) {
	if buf != nil && buf.Size() < uint64(width)*uint64(height)*4 {
		panic(fmt.Sprintf("draw storage: HiZ buffer of %d bytes is smaller than %dx%d", buf.Size(), width, height))
	}
	if buf == nil {
		width, height = 0, 0
	}
	if buf != d.hiz {
		d.bindingsDirty = true
	}
	d.hiz, d.hizWidth, d.hizHeight = buf, width, height
}

func (d *drawStorageImpl) PrepareUniforms() error {
	if !d.bindingsDirty || d.gpu.empty == nil {
		return nil
	}
	if d.bucketState == StateTopologyDirty || d.cmdState == StateTopologyDirty || d.clusterState == StateTopologyDirty {
		return errors.New("draw storage: PrepareUniforms with uncommitted allocations")
	}
	d.releaseBindings()
	if len(d.cmds) == 0 || d.gpu.clusters == nil {
		d.bindingsDirty = false
		d.boundCommands = len(d.cmds)
		return nil
	}

	for i := range d.views {
		if err := d.bindView(i); err != nil {
			return err
		}
	}
	for id := range d.cmds {
		for v := range d.views {
			if err := d.bindCommand(id, v); err != nil {
				return err
			}
		}
	}
	d.bindingsDirty = false
	d.boundCommands = len(d.cmds)
	return nil
}

// bindView builds the init and cull bind groups of a viewport.
func (d *drawStorageImpl) bindView(i int) error {
	v := &d.views[i]
	var err error
	v.initBG, err = d.dev.CreateBindGroup(fmt.Sprintf("DrawStorage Init %d", i), d.k.init, []device.Binding{
		{Binding: 0, Buffer: v.indirect},
		{Binding: 1, Buffer: v.params},
	})
	if err != nil {
		return fmt.Errorf("draw storage: %w", err)
	}

	cull := d.cullKernel(i)
	bindings := []device.Binding{
		{Binding: 0, Buffer: v.scene},
		{Binding: 1, Buffer: v.params},
		{Binding: 2, Buffer: d.gpu.clusters},
		{Binding: 3, Buffer: v.indirect},
		{Binding: 4, Buffer: v.visClusters},
	}
	if cull == d.k.cullHiZ {
		bindings = append(bindings, device.Binding{Binding: 5, Buffer: d.hizBuffer()})
	}
	if v.cullBG, err = d.dev.CreateBindGroup(fmt.Sprintf("DrawStorage Cull %d", i), cull, bindings); err != nil {
		return fmt.Errorf("draw storage: %w", err)
	}
	return nil
}

// bindCommand builds the draw bind group of a command for a viewport whose pass has a pipeline.
func (d *drawStorageImpl) bindCommand(id, viewport int) error {
	c := &d.cmds[id]
	p := c.pipelineFor(viewport)
	if p == nil {
		return nil
	}
	v := &d.views[viewport]
	geom := d.buckets[c.bucketId].geom

	instances := d.heapBuffer(d.instances.Buffer())
	if c.objType == pipeline.ObjectLandscape {
		instances = d.gpu.clusters
	}
	bg, err := d.dev.CreateBindGroup(fmt.Sprintf("DrawStorage Cmd %d View %d", id, viewport), p, []device.Binding{
		{Binding: BindingScene, Buffer: v.scene},
		{Binding: BindingInstances, Buffer: instances},
		{Binding: BindingBuckets, Buffer: d.gpu.buckets},
		{Binding: BindingPayload, Buffer: v.visClusters},
		{Binding: BindingDrawParams, Buffer: d.gpu.drawParams, Offset: uint64(id) * drawParamsStride, Size: uint64((&GPUDrawParams{}).Size())},
		{Binding: BindingIndices, Buffer: geom.IndexBuffer()},
		{Binding: BindingVertices, Buffer: geom.VertexBuffer()},
		{Binding: BindingMorph, Buffer: d.heapBuffer(d.morphs.Buffer())},
	})
	if err != nil {
		return fmt.Errorf("draw storage: %w", err)
	}
	c.bindings[viewport] = bg
	return nil
}

func (d *drawStorageImpl) heapBuffer(b device.Buffer) device.Buffer {
	if b == nil {
		return d.gpu.empty
	}
	return b
}

func (d *drawStorageImpl) hizBuffer() device.Buffer {
	if d.hiz == nil {
		return d.hizDefault
	}
	return d.hiz
}

// cullKernel returns the cull variant of a viewport: occlusion culling runs on the main one only.
func (d *drawStorageImpl) cullKernel(viewport int) pipeline.Pipeline {
	if viewport == ViewportMain {
		return d.k.cullHiZ
	}
	return d.k.cull
}

// releaseBindings frees every bind group. It is called once the GPU no longer reads them.
func (d *drawStorageImpl) releaseBindings() {
	for i := range d.views {
		v := &d.views[i]
		if v.initBG != nil {
			v.initBG.Release()
			v.initBG = nil
		}
		if v.cullBG != nil {
			v.cullBG.Release()
			v.cullBG = nil
		}
	}
	for i := range d.cmds {
		for v, bg := range d.cmds[i].bindings {
			if bg != nil {
				bg.Release()
				d.cmds[i].bindings[v] = nil
			}
		}
	}
}

func (d *drawStorageImpl) VisibilityPass(enc device.Encoder) {
	if d.frozen || d.bindingsDirty || len(d.cmds) == 0 {
		return
	}
	for i := range d.views {
		v := &d.views[i]
		if v.initBG == nil {
			continue
		}
		params := GPUCullParams{
			FirstCluster: 0,
			ClusterCount: uint32(len(d.clusters)),
			ZNear:        v.uniform.ZNear,
			CommandCount: uint32(len(d.cmds)),
		}
		if i == ViewportMain && d.hiz != nil {
			params.Flags |= cullFlagHiZ
			params.HiZWidth, params.HiZHeight = d.hizWidth, d.hizHeight
		}
		d.dev.WriteBuffer(v.params, 0, params.Marshal())
		enc.Dispatch(d.k.init, v.initBG, uint32(len(d.cmds)))
	}
	for i := range d.views {
		v := &d.views[i]
		if v.cullBG == nil || len(d.clusters) == 0 {
			continue
		}
		enc.Dispatch(d.cullKernel(i), v.cullBG, uint32(len(d.clusters)))
	}
}

func (d *drawStorageImpl) Draw(enc device.Encoder, viewport int) {
	if d.bindingsDirty || viewport < 0 || viewport >= len(d.views) {
		return
	}
	stride := uint64((&GPUIndirectCmd{}).Size())
	indirect := d.views[viewport].indirect
	for _, id := range d.ord {
		c := &d.cmds[id]
		bg := c.bindings[viewport]
		if bg == nil || c.maxPayload == 0 {
			continue
		}
		enc.DrawIndirect(c.pipelineFor(viewport), bg, indirect, uint64(id)*stride)
	}
}

func (d *drawStorageImpl) DrawGBuffer(enc device.Encoder) {
	d.Draw(enc, ViewportMain)
}

func (d *drawStorageImpl) DrawShadow(enc device.Encoder, layer int) {
	d.Draw(enc, ViewportMain+1+layer)
}

func (d *drawStorageImpl) CPUVisibleClusters(viewport int) int {
	vp := &d.views[viewport]
	if !vp.hasView {
		return 0
	}
	frustum := vp.uniform.Frustum()
	n := 0
	for i := range d.clusters {
		c := &d.clusters[i]
		if c.R < 0 || c.MeshletCount == 0 {
			continue
		}
		if frustum.IntersectsSphere(c.Pos, c.R) {
			n++
		}
	}
	return n
}
