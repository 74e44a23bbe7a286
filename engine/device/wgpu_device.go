package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/Carmen-Shannon/oxy-meshlet/common"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

const (
	// ColorFormatFallback is used when the surface reports no preferred format.
	ColorFormatFallback = wgpu.TextureFormatBGRA8Unorm
	// DepthFormat is the depth attachment format of the main pass.
	DepthFormat = wgpu.TextureFormatDepth24Plus
	// ShadowFormat is the depth format of every shadow cascade.
	ShadowFormat = wgpu.TextureFormatDepth32Float
)

type wgpuDeviceImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	surfaceFormat    wgpu.TextureFormat
	presentMode      wgpu.PresentMode
	forceFallback    bool
	depthTexture     *wgpu.Texture
	depthTextureView *wgpu.TextureView
	clearColor       wgpu.Color

	shadowMapSize  int
	shadowCascades int
	shadowTextures []*wgpu.Texture
	shadowViews    []*wgpu.TextureView

	hizPipeline  *wgpu.ComputePipeline
	hizBindGroup *wgpu.BindGroup
	hizBuffer    *wgpuBuffer
	hizWidth     uint32
	hizHeight    uint32
}

// WGPUDevice is the cogentcore/webgpu implementation of Device. Besides resource creation it owns
// the surface, the main depth attachment with its HiZ reduction, and one depth texture per shadow
// cascade, and it creates the device objects behind pipeline handles.
type WGPUDevice interface {
	Device
	HiZSource

	// Native returns the underlying wgpu device.
	Native() *wgpu.Device

	// ConfigureSurface (re)configures the swapchain and main depth attachment for a new size.
	//
	// Parameters:
	//   - width: the surface width in pixels
	//   - height: the surface height in pixels
	//
	// Returns:
	//   - error: an error if the depth attachment could not be created
	ConfigureSurface(width, height int) error

	// RegisterPipeline creates the wgpu pipeline behind p and stores it on the handle. Render
	// pipelines target the surface format and DepthFormat, so ConfigureSurface must run first;
	// depth-only pipelines target ShadowFormat.
	//
	// Parameters:
	//   - p: the pipeline handle to create
	//
	// Returns:
	//   - error: an error if shader compilation or pipeline creation fails
	RegisterPipeline(p pipeline.Pipeline) error

	// BeginFrame acquires the next surface texture and starts recording a frame.
	//
	// Returns:
	//   - Frame: the frame encoder
	//   - error: an error if the surface texture could not be acquired
	BeginFrame() (Frame, error)

	// ShadowCascades returns the number of shadow depth textures owned by the device.
	ShadowCascades() int

	// Release frees every resource owned by the device.
	Release()
}

var _ WGPUDevice = &wgpuDeviceImpl{}

// NewWGPUDevice creates an instance, adapter, and device compatible with the given surface.
// The calling goroutine is locked to its OS thread, which the windowing system requires.
//
// Parameters:
//   - surfaceDescriptor: the platform surface to present to
//   - options: functional options to configure the device
//
// Returns:
//   - WGPUDevice: the device
//   - error: an error if no adapter or device is available
func NewWGPUDevice(surfaceDescriptor *wgpu.SurfaceDescriptor, options ...WGPUDeviceBuilderOption) (WGPUDevice, error) {
	runtime.LockOSThread()
	d := &wgpuDeviceImpl{
		mu:             &sync.Mutex{},
		presentMode:    wgpu.PresentModeFifo,
		shadowMapSize:  2048,
		shadowCascades: 2,
		clearColor:     wgpu.Color{R: 0.1, G: 0.1, B: 0.1, A: 1.0},
	}
	for _, opt := range options {
		opt(d)
	}

	d.instance = wgpu.CreateInstance(nil)
	d.surface = d.instance.CreateSurface(surfaceDescriptor)

	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: d.forceFallback,
		CompatibleSurface:    d.surface,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request adapter: %w", err)
	}
	d.adapter = a

	limits := wgpu.DefaultLimits()
	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Meshlet Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request device: %w", err)
	}
	d.device = dev
	d.queue = dev.GetQueue()

	if err := d.createShadowTextures(); err != nil {
		d.Release()
		return nil, err
	}
	if err := d.createHiZPipeline(); err != nil {
		d.Release()
		return nil, err
	}
	return d, nil
}

func (d *wgpuDeviceImpl) Native() *wgpu.Device {
	return d.device
}

func (d *wgpuDeviceImpl) ShadowCascades() int {
	return d.shadowCascades
}

func (d *wgpuDeviceImpl) ConfigureSurface(width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	capabilities := d.surface.GetCapabilities(d.adapter)
	d.surfaceFormat = ColorFormatFallback
	if len(capabilities.Formats) > 0 {
		d.surfaceFormat = capabilities.Formats[0]
	}
	alphaMode := wgpu.CompositeAlphaModeAuto
	if len(capabilities.AlphaModes) > 0 {
		alphaMode = capabilities.AlphaModes[0]
	}

	d.surface.Configure(d.adapter, d.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      d.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: d.presentMode,
		AlphaMode:   alphaMode,
	})

	if d.depthTextureView != nil {
		d.depthTextureView.Release()
		d.depthTexture.Release()
	}
	tex, view, err := d.createDepthTexture("Depth Texture", width, height, DepthFormat)
	if err != nil {
		return err
	}
	d.depthTexture, d.depthTextureView = tex, view
	return d.createHiZ(width, height)
}

func (d *wgpuDeviceImpl) createShadowTextures() error {
	for i := 0; i < d.shadowCascades; i++ {
		tex, view, err := d.createDepthTexture(fmt.Sprintf("Shadow Cascade %d", i), d.shadowMapSize, d.shadowMapSize, ShadowFormat)
		if err != nil {
			return err
		}
		d.shadowTextures = append(d.shadowTextures, tex)
		d.shadowViews = append(d.shadowViews, view)
	}
	return nil
}

func (d *wgpuDeviceImpl) createDepthTexture(label string, width, height int, format wgpu.TextureFormat) (*wgpu.Texture, *wgpu.TextureView, error) {
	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: label,
		Size: wgpu.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", label, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, nil, fmt.Errorf("failed to create %s view: %w", label, err)
	}
	return tex, view, nil
}

func (d *wgpuDeviceImpl) CreateBuffer(label string, usage BufferUsage, size uint64, data []byte) (Buffer, error) {
	if uint64(len(data)) > size {
		return nil, fmt.Errorf("buffer %q: %d bytes of data exceed size %d", label, len(data), size)
	}
	size = common.AlignUp(max(size, 4), 4)
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Usage: toWGPUUsage(usage),
		Size:  size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer %q: %w", label, err)
	}
	if len(data) > 0 {
		d.queue.WriteBuffer(buf, 0, data)
	}
	return &wgpuBuffer{label: label, size: size, buffer: buf, owner: d}, nil
}

func (d *wgpuDeviceImpl) WriteBuffer(buf Buffer, offset uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	b, ok := buf.(*wgpuBuffer)
	if !ok || b.owner != d {
		panic(ErrForeignResource)
	}
	d.queue.WriteBuffer(b.buffer, offset, data)
}

func (d *wgpuDeviceImpl) CreateBindGroup(label string, p pipeline.Pipeline, bindings []Binding) (BindGroup, error) {
	layout, err := bindGroupLayout(p)
	if err != nil {
		return nil, err
	}
	entries := make([]wgpu.BindGroupEntry, 0, len(bindings))
	for _, b := range bindings {
		buf, ok := b.Buffer.(*wgpuBuffer)
		if !ok || buf.owner != d {
			return nil, fmt.Errorf("bind group %q binding %d: %w", label, b.Binding, ErrForeignResource)
		}
		size := b.Size
		if size == 0 {
			size = wgpu.WholeSize
		}
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: b.Binding,
			Buffer:  buf.buffer,
			Offset:  b.Offset,
			Size:    size,
		})
	}
	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bind group %q: %w", label, err)
	}
	return &wgpuBindGroup{group: bg}, nil
}

func (d *wgpuDeviceImpl) WaitIdle() {
	d.device.Poll(true, nil)
}

func (d *wgpuDeviceImpl) RegisterPipeline(p pipeline.Pipeline) error {
	if p.Source() == "" {
		return errors.New("pipeline source must be set to create a pipeline")
	}
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: p.PipelineKey(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: p.Source(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create shader module for %s: %w", p.PipelineKey(), err)
	}
	defer module.Release()

	var layout *wgpu.PipelineLayout
	if entries := p.LayoutEntries(); entries != nil {
		bgl, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label:   p.PipelineKey() + " Layout",
			Entries: entries,
		})
		if err != nil {
			return fmt.Errorf("failed to create bind group layout for %s: %w", p.PipelineKey(), err)
		}
		layout, err = d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
			Label:            p.PipelineKey(),
			BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
		})
		if err != nil {
			return fmt.Errorf("failed to create pipeline layout for %s: %w", p.PipelineKey(), err)
		}
	}

	switch p.Type() {
	case pipeline.PipelineTypeCompute:
		created, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:  p.PipelineKey() + " Compute Pipeline",
			Layout: layout,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     module,
				EntryPoint: p.ComputeEntry(),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create compute pipeline %s: %w", p.PipelineKey(), err)
		}
		p.SetComputePipeline(created)
	case pipeline.PipelineTypeRender:
		created, err := d.device.CreateRenderPipeline(d.renderPipelineDescriptor(p, module, layout))
		if err != nil {
			return fmt.Errorf("failed to create render pipeline %s: %w", p.PipelineKey(), err)
		}
		p.SetRenderPipeline(created)
	default:
		return fmt.Errorf("unknown pipeline type %d", p.Type())
	}
	return nil
}

func (d *wgpuDeviceImpl) renderPipelineDescriptor(p pipeline.Pipeline, module *wgpu.ShaderModule, layout *wgpu.PipelineLayout) *wgpu.RenderPipelineDescriptor {
	depthCompare := wgpu.CompareFunctionLess
	if !p.DepthTestEnabled() {
		depthCompare = wgpu.CompareFunctionAlways
	}
	depthFormat := DepthFormat
	var fragment *wgpu.FragmentState
	if p.DepthOnly() {
		depthFormat = ShadowFormat
	} else {
		target := wgpu.ColorTargetState{
			Format:    d.surfaceFormat,
			WriteMask: wgpu.ColorWriteMaskAll,
		}
		if p.BlendEnabled() {
			target.Blend = p.BlendState()
		}
		fragment = &wgpu.FragmentState{
			Module:     module,
			EntryPoint: p.FragmentEntry(),
			Targets:    []wgpu.ColorTargetState{target},
		}
	}

	return &wgpu.RenderPipelineDescriptor{
		Label:  p.PipelineKey() + " Render Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: p.VertexEntry(),
		},
		Fragment: fragment,
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: p.FrontFace(),
			CullMode:  p.CullMode(),
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:              depthFormat,
			DepthWriteEnabled:   p.DepthWriteEnabled(),
			DepthCompare:        depthCompare,
			DepthBias:           p.DepthBias(),
			DepthBiasSlopeScale: p.DepthBiasSlopeScale(),
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		},
	}
}

func (d *wgpuDeviceImpl) BeginFrame() (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.depthTextureView == nil {
		return nil, errors.New("surface must be configured before the first frame")
	}
	surfaceTexture, err := d.surface.GetCurrentTexture()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire surface texture: %w", err)
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return nil, fmt.Errorf("failed to create surface view: %w", err)
	}
	encoder, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		view.Release()
		surfaceTexture.Release()
		return nil, fmt.Errorf("failed to create command encoder: %w", err)
	}
	return &wgpuFrame{
		device:         d,
		encoder:        encoder,
		surfaceTexture: surfaceTexture,
		surfaceView:    view,
	}, nil
}

func (d *wgpuDeviceImpl) Release() {
	d.releaseHiZ()
	if d.hizPipeline != nil {
		d.hizPipeline.Release()
		d.hizPipeline = nil
	}
	for i := range d.shadowViews {
		d.shadowViews[i].Release()
		d.shadowTextures[i].Release()
	}
	d.shadowViews, d.shadowTextures = nil, nil
	if d.depthTextureView != nil {
		d.depthTextureView.Release()
		d.depthTexture.Release()
		d.depthTextureView, d.depthTexture = nil, nil
	}
	if d.queue != nil {
		d.queue.Release()
	}
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.surface != nil {
		d.surface.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
}

func bindGroupLayout(p pipeline.Pipeline) (*wgpu.BindGroupLayout, error) {
	switch native := p.Pipeline().(type) {
	case *wgpu.ComputePipeline:
		return native.GetBindGroupLayout(0), nil
	case *wgpu.RenderPipeline:
		return native.GetBindGroupLayout(0), nil
	default:
		return nil, fmt.Errorf("%s: %w", p.PipelineKey(), ErrPipelineNotCreated)
	}
}

func toWGPUUsage(u BufferUsage) wgpu.BufferUsage {
	out := wgpu.BufferUsageCopyDst
	if u&UsageStorage != 0 {
		out |= wgpu.BufferUsageStorage
	}
	if u&UsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	if u&UsageIndirect != 0 {
		out |= wgpu.BufferUsageIndirect
	}
	if u&UsageVertex != 0 {
		out |= wgpu.BufferUsageVertex
	}
	if u&UsageIndex != 0 {
		out |= wgpu.BufferUsageIndex
	}
	return out
}

type wgpuBuffer struct {
	label  string
	size   uint64
	buffer *wgpu.Buffer
	owner  *wgpuDeviceImpl
}

func (b *wgpuBuffer) Label() string { return b.label }
func (b *wgpuBuffer) Size() uint64  { return b.size }
func (b *wgpuBuffer) Release() {
	if b.buffer != nil {
		b.buffer.Release()
		b.buffer = nil
	}
}

type wgpuBindGroup struct {
	group *wgpu.BindGroup
}

func (g *wgpuBindGroup) Release() {
	if g.group != nil {
		g.group.Release()
		g.group = nil
	}
}
