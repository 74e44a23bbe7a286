package pipeline

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineType identifies whether a pipeline is a compute pipeline or a render pipeline.
type PipelineType int

const (
	// PipelineTypeCompute indicates a compute pipeline with a single compute entry point.
	PipelineTypeCompute PipelineType = iota

	// PipelineTypeRender indicates a render pipeline with a vertex entry point and an optional
	// fragment entry point. Depth-only pipelines leave the fragment entry empty.
	PipelineTypeRender
)

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	pipelineType PipelineType
	pipelineKey  string

	// source is the WGSL module the entry points live in.
	source                                   string
	vertexEntry, fragmentEntry, computeEntry string
	// layoutEntries describes bind group 0; nil lets the device derive the layout from the shader.
	layoutEntries   []wgpu.BindGroupLayoutEntry
	renderPipeline  *wgpu.RenderPipeline
	computePipeline *wgpu.ComputePipeline

	depthTestEnabled    bool
	depthWriteEnabled   bool
	depthBias           int32
	depthBiasSlopeScale float32
	blendEnabled        bool
	cullMode            wgpu.CullMode
	frontFace           wgpu.FrontFace
	blendState          *wgpu.BlendState
}

// Pipeline is a GPU pipeline handle: the WGSL source and entry points it is built from, the
// fixed-function state a device needs to create it, and the device object once created.
//
// Draw storage compares pipelines by interface identity, so a Pipeline must be created once and
// shared; two handles built from the same options are different pipelines.
type Pipeline interface {
	// Type returns the type of the pipeline.
	Type() PipelineType

	// PipelineKey returns the unique key associated with this pipeline, used for labels and lookups.
	PipelineKey() string

	// Source returns the WGSL source the pipeline entry points are compiled from.
	Source() string

	// VertexEntry returns the vertex entry point, empty for compute pipelines.
	VertexEntry() string

	// FragmentEntry returns the fragment entry point. Empty means a depth-only render pipeline.
	FragmentEntry() string

	// ComputeEntry returns the compute entry point, empty for render pipelines.
	ComputeEntry() string

	// LayoutEntries returns the explicit entries of bind group 0, or nil for a shader-derived layout.
	LayoutEntries() []wgpu.BindGroupLayoutEntry

	// DepthOnly reports whether this is a render pipeline without a fragment stage.
	DepthOnly() bool

	// Pipeline returns the underlying pipeline object, either *wgpu.RenderPipeline or *wgpu.ComputePipeline.
	// It is nil until a device has created the pipeline.
	//
	// Returns:
	//   - any: the underlying pipeline object
	Pipeline() any

	// DepthTestEnabled returns whether depth testing is enabled for this pipeline.
	DepthTestEnabled() bool

	// DepthWriteEnabled returns whether depth writing is enabled for this pipeline.
	DepthWriteEnabled() bool

	// DepthBias returns the constant depth bias.
	DepthBias() int32

	// DepthBiasSlopeScale returns the slope-scaled depth bias.
	DepthBiasSlopeScale() float32

	// BlendEnabled returns whether blending is enabled for this pipeline.
	BlendEnabled() bool

	// CullMode returns the face culling mode.
	CullMode() wgpu.CullMode

	// FrontFace returns the front face winding order.
	FrontFace() wgpu.FrontFace

	// BlendState returns the blend state used when blending is enabled.
	BlendState() *wgpu.BlendState

	// SetRenderPipeline stores the device render pipeline.
	//
	// Parameters:
	//   - p: the WebGPU render pipeline to set
	SetRenderPipeline(p *wgpu.RenderPipeline)

	// SetComputePipeline stores the device compute pipeline.
	//
	// Parameters:
	//   - p: the WebGPU compute pipeline to set
	SetComputePipeline(p *wgpu.ComputePipeline)
}

var _ Pipeline = &pipeline{}

// NewPipeline is the entry point to create a new Pipeline. Render pipelines default to a
// "vs_main"/"fs_main" pair, compute pipelines to "cs_main".
//
// Parameters:
//   - pipelineKey: the unique key for this pipeline
//   - pipelineType: the type of pipeline to create (render or compute)
//   - opts: a variadic list of PipelineBuilderOption functions to configure the pipeline
//
// Returns:
//   - Pipeline: a new Pipeline instance with the specified type and configuration
func NewPipeline(pipelineKey string, pipelineType PipelineType, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		pipelineKey:       pipelineKey,
		pipelineType:      pipelineType,
		depthTestEnabled:  true,
		depthWriteEnabled: true,
		cullMode:          wgpu.CullModeBack,
		frontFace:         wgpu.FrontFaceCCW,
		blendState: &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
			Alpha: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
		},
	}
	switch pipelineType {
	case PipelineTypeRender:
		p.vertexEntry = "vs_main"
		p.fragmentEntry = "fs_main"
	case PipelineTypeCompute:
		p.computeEntry = "cs_main"
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) Type() PipelineType {
	return p.pipelineType
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) Source() string {
	return p.source
}

func (p *pipeline) VertexEntry() string {
	return p.vertexEntry
}

func (p *pipeline) FragmentEntry() string {
	return p.fragmentEntry
}

func (p *pipeline) ComputeEntry() string {
	return p.computeEntry
}

func (p *pipeline) LayoutEntries() []wgpu.BindGroupLayoutEntry {
	return p.layoutEntries
}

func (p *pipeline) DepthOnly() bool {
	return p.pipelineType == PipelineTypeRender && p.fragmentEntry == ""
}

func (p *pipeline) Pipeline() any {
	switch p.pipelineType {
	case PipelineTypeRender:
		if p.renderPipeline == nil {
			return nil
		}
		return p.renderPipeline
	case PipelineTypeCompute:
		if p.computePipeline == nil {
			return nil
		}
		return p.computePipeline
	default:
		return nil
	}
}

func (p *pipeline) DepthTestEnabled() bool {
	return p.depthTestEnabled
}

func (p *pipeline) DepthWriteEnabled() bool {
	return p.depthWriteEnabled
}

func (p *pipeline) DepthBias() int32 {
	return p.depthBias
}

func (p *pipeline) DepthBiasSlopeScale() float32 {
	return p.depthBiasSlopeScale
}

func (p *pipeline) BlendEnabled() bool {
	return p.blendEnabled
}

func (p *pipeline) CullMode() wgpu.CullMode {
	return p.cullMode
}

func (p *pipeline) FrontFace() wgpu.FrontFace {
	return p.frontFace
}

func (p *pipeline) BlendState() *wgpu.BlendState {
	return p.blendState
}

func (p *pipeline) SetRenderPipeline(rp *wgpu.RenderPipeline) {
	p.renderPipeline = rp
}

func (p *pipeline) SetComputePipeline(cp *wgpu.ComputePipeline) {
	p.computePipeline = cp
}
