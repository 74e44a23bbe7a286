package draw_storage

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/camera"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/mesh"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// Group 0 of every draw pipeline. Draw shaders may leave any of these unused.
const (
	// BindingScene is the per-viewport SceneUniform.
	BindingScene = 0
	// BindingInstances is the instance heap, or the cluster table for landscape commands.
	BindingInstances = 1
	// BindingBuckets is the bucket table.
	BindingBuckets = 2
	// BindingPayload is the viewport's visible-meshlet list.
	BindingPayload = 3
	// BindingDrawParams is the command's DrawParams block.
	BindingDrawParams = 4
	// BindingIndices is the geometry's meshlet-aligned index buffer.
	BindingIndices = 5
	// BindingVertices is the geometry's vertex buffer.
	BindingVertices = 6
	// BindingMorph is the morph heap.
	BindingMorph = 7
)

// Kernel pipeline keys.
const (
	KernelClusterInit    = "cluster_init"
	KernelClusterCull    = "cluster_cull"
	KernelClusterCullHiZ = "cluster_cull_hiz"
)

// DrawLayoutEntries returns the bind group layout every draw pipeline handed to the draw storage
// must be created with, via pipeline.WithBindGroupLayout.
//
// Returns:
//   - []wgpu.BindGroupLayoutEntry: the group 0 entries
func DrawLayoutEntries() []wgpu.BindGroupLayoutEntry {
	vs := wgpu.ShaderStageVertex
	all := wgpu.ShaderStageVertex | wgpu.ShaderStageFragment
	return []wgpu.BindGroupLayoutEntry{
		uniformEntry(BindingScene, all),
		storageEntry(BindingInstances, vs, true),
		storageEntry(BindingBuckets, all, true),
		storageEntry(BindingPayload, vs, true),
		uniformEntry(BindingDrawParams, all),
		storageEntry(BindingIndices, vs, true),
		storageEntry(BindingVertices, vs, true),
		storageEntry(BindingMorph, vs, true),
	}
}

// DrawPrelude returns WGSL declaring the draw bindings shared by every object type, with the
// struct definitions they need and meshlet_vertex() to resolve a vertex. Shaders declare
// BindingInstances and BindingVertices themselves, since their element type depends on the
// object type.
//
// Returns:
//   - string: the expanded WGSL
//   - error: an error if expansion fails
func DrawPrelude() (string, error) {
	return newPreProcessor().Process(drawPreludeSource)
}

// DrawShader expands a draw shader body behind the prelude. The body may include any struct
// the draw storage shares with the GPU (//@oxy:include instance_desc, cluster, vertex,
// skinned_vertex) and constants such as MESHLET_INDEX_COUNT.
//
// Parameters:
//   - body: the shader's own declarations and entry points
//
// Returns:
//   - string: the expanded WGSL
//   - error: an error if expansion fails
func DrawShader(body string) (string, error) {
	return newPreProcessor().Process(drawPreludeSource + "\n" + body)
}

// KernelSources returns the expanded WGSL of the culling kernels keyed by pipeline key.
//
// Returns:
//   - map[string]string: the kernel sources
//   - error: an error if expansion fails
func KernelSources() (map[string]string, error) {
	out := make(map[string]string, 3)

	src, err := newPreProcessor().Process(clusterInitSource)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KernelClusterInit, err)
	}
	out[KernelClusterInit] = src

	for key, occlusion := range map[string]string{
		KernelClusterCull:    occlusionNoneSource,
		KernelClusterCullHiZ: occlusionHiZSource,
	} {
		p := newPreProcessor()
		p.RegisterStruct("occlusion", occlusion)
		src, err := p.Process(clusterCullSource)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = src
	}
	return out, nil
}

// kernels holds the compute pipelines of the visibility pass.
type kernels struct {
	init    pipeline.Pipeline
	cull    pipeline.Pipeline
	cullHiZ pipeline.Pipeline
}

func newKernels() kernels {
	sources, err := KernelSources()
	if err != nil {
		panic(fmt.Errorf("draw storage kernels: %w", err))
	}
	cs := wgpu.ShaderStageCompute
	return kernels{
		init: pipeline.NewPipeline(KernelClusterInit, pipeline.PipelineTypeCompute,
			pipeline.WithSource(sources[KernelClusterInit]),
			pipeline.WithBindGroupLayout([]wgpu.BindGroupLayoutEntry{
				storageEntry(0, cs, false),
				uniformEntry(1, cs),
			}),
		),
		cull: pipeline.NewPipeline(KernelClusterCull, pipeline.PipelineTypeCompute,
			pipeline.WithSource(sources[KernelClusterCull]),
			pipeline.WithBindGroupLayout(cullEntries(false)),
		),
		cullHiZ: pipeline.NewPipeline(KernelClusterCullHiZ, pipeline.PipelineTypeCompute,
			pipeline.WithSource(sources[KernelClusterCullHiZ]),
			pipeline.WithBindGroupLayout(cullEntries(true)),
		),
	}
}

func (k kernels) all() []pipeline.Pipeline {
	return []pipeline.Pipeline{k.init, k.cull, k.cullHiZ}
}

func cullEntries(hiz bool) []wgpu.BindGroupLayoutEntry {
	cs := wgpu.ShaderStageCompute
	entries := []wgpu.BindGroupLayoutEntry{
		uniformEntry(0, cs),
		uniformEntry(1, cs),
		storageEntry(2, cs, true),
		storageEntry(3, cs, false),
		storageEntry(4, cs, false),
	}
	if hiz {
		entries = append(entries, storageEntry(5, cs, true))
	}
	return entries
}

func newPreProcessor() shader.PreProcessor {
	p := shader.NewPreProcessor()
	p.RegisterStruct("scene_uniform", camera.GPUSceneUniformSource)
	p.RegisterStruct("cluster", GPUClusterSource)
	p.RegisterStruct("bucket", GPUBucketSource)
	p.RegisterStruct("indirect_cmd", GPUIndirectCmdSource)
	p.RegisterStruct("instance_desc", GPUInstanceDescSource)
	p.RegisterStruct("morph_data", GPUMorphDataSource)
	p.RegisterStruct("cull_params", GPUCullParamsSource)
	p.RegisterStruct("draw_params", GPUDrawParamsSource)
	p.RegisterStruct("vertex", mesh.GPUVertexSource)
	p.RegisterStruct("skinned_vertex", mesh.GPUSkinnedVertexSource)
	p.RegisterConst("WORKGROUP_SIZE", device.WorkgroupSize)
	p.RegisterConst("MESHLET_INDEX_COUNT", mesh.MeshletIndexCount)
	return p
}

func uniformEntry(binding uint32, visibility wgpu.ShaderStage) wgpu.BindGroupLayoutEntry {
	return wgpu.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: visibility,
		Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
	}
}

func storageEntry(binding uint32, visibility wgpu.ShaderStage, readOnly bool) wgpu.BindGroupLayoutEntry {
	t := wgpu.BufferBindingTypeStorage
	if readOnly {
		t = wgpu.BufferBindingTypeReadOnlyStorage
	}
	return wgpu.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: visibility,
		Buffer:     wgpu.BufferBindingLayout{Type: t},
	}
}
