package device

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// Frame records one frame into a single command encoder. Compute dispatches must be recorded
// outside of a render pass; DrawIndirect requires one.
type Frame interface {
	Encoder

	// BeginMainPass starts the color pass into the surface with the main depth attachment.
	BeginMainPass()

	// BeginShadowPass starts a depth-only pass into the shadow cascade at layer.
	//
	// Parameters:
	//   - layer: the cascade index
	//
	// Returns:
	//   - error: an error if the layer does not exist
	BeginShadowPass(layer int) error

	// EndPass ends the current render pass, if any.
	EndPass()

	// Submit ends any open pass, reduces the main depth into the HiZ buffer, submits the
	// recorded work, and presents the surface.
	//
	// Returns:
	//   - error: an error if the command buffer could not be finished
	Submit() error

	// Release abandons the frame without submitting or presenting it.
	Release()
}

type wgpuFrame struct {
	device         *wgpuDeviceImpl
	encoder        *wgpu.CommandEncoder
	pass           *wgpu.RenderPassEncoder
	surfaceTexture *wgpu.Texture
	surfaceView    *wgpu.TextureView
}

var _ Frame = &wgpuFrame{}

func (f *wgpuFrame) Dispatch(p pipeline.Pipeline, bg BindGroup, threads uint32) {
	if f.pass != nil {
		panic(errors.New("device: compute dispatch inside a render pass"))
	}
	if threads == 0 {
		return
	}
	cp, ok := p.Pipeline().(*wgpu.ComputePipeline)
	if !ok {
		panic(fmt.Errorf("%s: %w", p.PipelineKey(), ErrPipelineNotCreated))
	}
	pass := f.encoder.BeginComputePass(nil)
	pass.SetPipeline(cp)
	pass.SetBindGroup(0, bg.(*wgpuBindGroup).group, nil)
	pass.DispatchWorkgroups(Workgroups(threads), 1, 1)
	pass.End()
	pass.Release()
}

func (f *wgpuFrame) DrawIndirect(p pipeline.Pipeline, bg BindGroup, indirect Buffer, offset uint64) {
	if f.pass == nil {
		panic(errors.New("device: indirect draw outside of a render pass"))
	}
	rp, ok := p.Pipeline().(*wgpu.RenderPipeline)
	if !ok {
		panic(fmt.Errorf("%s: %w", p.PipelineKey(), ErrPipelineNotCreated))
	}
	f.pass.SetPipeline(rp)
	f.pass.SetBindGroup(0, bg.(*wgpuBindGroup).group, nil)
	f.pass.DrawIndirect(indirect.(*wgpuBuffer).buffer, offset)
}

func (f *wgpuFrame) BeginMainPass() {
	f.EndPass()
	f.pass = f.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       f.surfaceView,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: f.device.clearColor,
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            f.device.depthTextureView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1.0,
		},
	})
}

func (f *wgpuFrame) BeginShadowPass(layer int) error {
	if layer < 0 || layer >= len(f.device.shadowViews) {
		return fmt.Errorf("shadow cascade %d out of range [0, %d)", layer, len(f.device.shadowViews))
	}
	f.EndPass()
	f.pass = f.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            f.device.shadowViews[layer],
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1.0,
		},
	})
	return nil
}

func (f *wgpuFrame) EndPass() {
	if f.pass == nil {
		return
	}
	f.pass.End()
	f.pass.Release()
	f.pass = nil
}

func (f *wgpuFrame) Submit() error {
	f.EndPass()
	defer f.release()
	f.reduceDepth()

	commandBuffer, err := f.encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("failed to finish frame: %w", err)
	}
	f.device.queue.Submit(commandBuffer)
	commandBuffer.Release()
	f.device.surface.Present()
	return nil
}

func (f *wgpuFrame) Release() {
	f.EndPass()
	f.release()
}

func (f *wgpuFrame) release() {
	if f.encoder == nil {
		return
	}
	f.encoder.Release()
	f.surfaceView.Release()
	f.surfaceTexture.Release()
	f.encoder, f.surfaceView, f.surfaceTexture = nil, nil, nil
}
