package main

import (
	"embed"
	"fmt"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/draw_storage"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/material"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

//go:embed assets/*.wgsl
var assets embed.FS

// Draw shader keys, also used as pipeline keys.
const (
	shaderMesh      = "viewer_mesh"
	shaderLandscape = "viewer_landscape"
	shaderSkinned   = "viewer_skinned"
)

var shaderFiles = map[string]string{
	shaderMesh:      "assets/mesh.wgsl",
	shaderLandscape: "assets/landscape.wgsl",
	shaderSkinned:   "assets/skinned.wgsl",
}

// Shadow pipelines are offset to keep cascades free of acne on the terrain.
const (
	shadowDepthBias      = 2
	shadowDepthBiasSlope = 2.0
)

// drawSources returns the fully expanded WGSL of every viewer draw shader, keyed by shader key.
//
// Returns:
//   - map[string]string: the sources
//   - error: an error if an asset is missing or a directive cannot be expanded
func drawSources() (map[string]string, error) {
	common, err := assets.ReadFile("assets/common.wgsl")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(shaderFiles))
	for key, file := range shaderFiles {
		body, err := assets.ReadFile(file)
		if err != nil {
			return nil, err
		}
		src, err := draw_storage.DrawShader(string(body) + "\n" + string(common))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = src
	}
	return out, nil
}

// newRegistry builds the pipelines of the viewer and the rules selecting them.
//
// Props of every object type share the mesh shader. Transparent and ghost materials blend
// without writing depth and cast no shadow.
//
// Returns:
//   - *pipeline.Registry: the populated registry
//   - error: an error if a shader cannot be expanded
func newRegistry() (*pipeline.Registry, error) {
	sources, err := drawSources()
	if err != nil {
		return nil, err
	}
	layout := draw_storage.DrawLayoutEntries()
	color := func(key, src string, opts ...pipeline.PipelineBuilderOption) pipeline.Pipeline {
		base := []pipeline.PipelineBuilderOption{
			pipeline.WithSource(src),
			pipeline.WithEntryPoints("vs_main", "fs_main"),
			pipeline.WithBindGroupLayout(layout),
		}
		return pipeline.NewPipeline(key, pipeline.PipelineTypeRender, append(base, opts...)...)
	}
	depth := func(key, src string) pipeline.Pipeline {
		return pipeline.NewPipeline(key, pipeline.PipelineTypeRender,
			pipeline.WithSource(src),
			pipeline.WithEntryPoints("vs_main", ""),
			pipeline.WithBindGroupLayout(layout),
			pipeline.WithDepthBias(shadowDepthBias, shadowDepthBiasSlope),
		)
	}

	meshSolid := color(shaderMesh+"_solid", sources[shaderMesh])
	meshBlend := color(shaderMesh+"_blend", sources[shaderMesh],
		pipeline.WithEntryPoints("vs_main", "fs_transparent"),
		pipeline.WithBlendEnabled(true),
		pipeline.WithDepthWriteEnabled(false),
		pipeline.WithCullMode(wgpu.CullModeNone),
	)
	meshDepth := depth(shaderMesh+"_depth", sources[shaderMesh])

	reg := pipeline.NewRegistry()
	for _, typ := range []pipeline.ObjectType{pipeline.ObjectStatic, pipeline.ObjectMovable, pipeline.ObjectMorph} {
		reg.Register(typ, pipeline.PassColor, pipeline.AnyAlpha, meshSolid)
		reg.Register(typ, pipeline.PassColor, material.Transparent, meshBlend)
		reg.Register(typ, pipeline.PassShadow, material.Solid, meshDepth)
		reg.Register(typ, pipeline.PassShadow, material.AlphaTest, meshDepth)
	}

	reg.Register(pipeline.ObjectLandscape, pipeline.PassColor, pipeline.AnyAlpha, color(shaderLandscape, sources[shaderLandscape]))
	reg.Register(pipeline.ObjectLandscape, pipeline.PassShadow, pipeline.AnyAlpha, depth(shaderLandscape+"_depth", sources[shaderLandscape]))

	reg.Register(pipeline.ObjectAnimated, pipeline.PassColor, pipeline.AnyAlpha, color(shaderSkinned, sources[shaderSkinned]))
	reg.Register(pipeline.ObjectAnimated, pipeline.PassShadow, pipeline.AnyAlpha, depth(shaderSkinned+"_depth", sources[shaderSkinned]))
	return reg, nil
}

// allSources returns the compute kernels and the viewer draw shaders, for validation.
func allSources() (map[string]string, error) {
	out, err := draw_storage.KernelSources()
	if err != nil {
		return nil, err
	}
	draw, err := drawSources()
	if err != nil {
		return nil, err
	}
	for k, v := range draw {
		out[k] = v
	}
	out["hiz_reduce"] = device.HiZReduceSource()
	return out, nil
}
