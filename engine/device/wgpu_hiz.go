package device

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
)

// HiZTile is the side in pixels of the depth tile reduced into one HiZ texel.
const HiZTile = 8

//go:embed assets/hiz_reduce.wgsl
var hizReduceSource string

// HiZSource is implemented by renderers that reduce the main depth attachment into a
// farthest-depth buffer at the end of every frame. The next frame culls against it.
type HiZSource interface {
	// HiZ returns the farthest-depth buffer and its size in texels.
	//
	// Returns:
	//   - Buffer: width*height float32 depths, or nil before the surface is configured
	//   - uint32: the width in texels
	//   - uint32: the height in texels
	HiZ() (Buffer, uint32, uint32)
}

// HiZReduceSource returns the WGSL of the depth reduction kernel.
func HiZReduceSource() string {
	return hizReduceSource
}

// HiZSize returns the HiZ dimensions of a width x height depth attachment.
func HiZSize(width, height int) (uint32, uint32) {
	return uint32((max(width, 1) + HiZTile - 1) / HiZTile), uint32((max(height, 1) + HiZTile - 1) / HiZTile)
}

// farDepths returns n float32 depths at the far plane.
func farDepths(n int) []byte {
	buf := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(1))
	}
	return buf
}

func (d *wgpuDeviceImpl) HiZ() (Buffer, uint32, uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hizBuffer == nil {
		return nil, 0, 0
	}
	return d.hizBuffer, d.hizWidth, d.hizHeight
}

func (d *wgpuDeviceImpl) createHiZPipeline() error {
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "HiZ Reduce",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: hizReduceSource,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create shader module for HiZ reduce: %w", err)
	}
	defer module.Release()

	d.hizPipeline, err = d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: "HiZ Reduce Compute Pipeline",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "cs_main",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create compute pipeline HiZ reduce: %w", err)
	}
	return nil
}

// createHiZ replaces the HiZ buffer and its bind group for the current depth attachment. The
// buffer starts at the far plane so nothing is occluded before the first reduction.
func (d *wgpuDeviceImpl) createHiZ(width, height int) error {
	d.releaseHiZ()
	w, h := HiZSize(width, height)
	far := farDepths(int(w * h))
	buf, err := d.CreateBuffer("HiZ", UsageStorage, uint64(len(far)), far)
	if err != nil {
		return err
	}
	hiz := buf.(*wgpuBuffer)
	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "HiZ Reduce",
		Layout: d.hizPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: d.depthTextureView},
			{Binding: 1, Buffer: hiz.buffer, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		hiz.Release()
		return fmt.Errorf("failed to create bind group HiZ reduce: %w", err)
	}
	d.hizBuffer, d.hizBindGroup = hiz, bg
	d.hizWidth, d.hizHeight = w, h
	return nil
}

func (d *wgpuDeviceImpl) releaseHiZ() {
	if d.hizBindGroup != nil {
		d.hizBindGroup.Release()
		d.hizBindGroup = nil
	}
	if d.hizBuffer != nil {
		d.hizBuffer.Release()
		d.hizBuffer = nil
	}
	d.hizWidth, d.hizHeight = 0, 0
}

// reduceDepth records the depth reduction. It must run after the main pass has ended.
func (f *wgpuFrame) reduceDepth() {
	d := f.device
	if d.hizBindGroup == nil {
		return
	}
	pass := f.encoder.BeginComputePass(nil)
	pass.SetPipeline(d.hizPipeline)
	pass.SetBindGroup(0, d.hizBindGroup, nil)
	pass.DispatchWorkgroups((d.hizWidth+7)/8, (d.hizHeight+7)/8, 1)
	pass.End()
	pass.Release()
}
