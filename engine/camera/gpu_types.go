package camera

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-meshlet/common"
)

// GPUSceneUniformSource is the canonical WGSL definition of the SceneUniform struct.
// Matches GPUSceneUniform layout exactly (256 bytes).
//
//go:embed assets/scene_uniform.wgsl
var GPUSceneUniformSource string

// GPUSceneUniform is the per-viewport uniform read by both the cull kernel and the draw shaders.
// Size: 256 bytes, which is also the minimum uniform offset alignment.
type GPUSceneUniform struct {
	ViewProj [16]float32   // offset   0: projection * view (mat4x4<f32>)
	View     [16]float32   // offset  64: view matrix (mat4x4<f32>)
	Planes   [6][4]float32 // offset 128: frustum planes, xyz normal + w distance, inside positive
	Eye      [3]float32    // offset 224: world-space eye position
	ZNear    float32       // offset 236: near plane distance
	Viewport uint32        // offset 240: viewport index, 0 is the main view
	_pad     [3]uint32     // offset 244: padding to 256 bytes
}

// NewGPUSceneUniform captures a View into its GPU representation.
//
// Parameters:
//   - v: the view to capture
//   - viewport: the viewport index
//
// Returns:
//   - GPUSceneUniform: the uniform block
func NewGPUSceneUniform(v View, viewport uint32) GPUSceneUniform {
	view := v.View()
	viewProj := v.Projection().Mul4(view)
	frustum := common.ExtractFrustum(viewProj)

	u := GPUSceneUniform{
		ViewProj: viewProj,
		View:     view,
		ZNear:    v.ZNear(),
		Viewport: viewport,
	}
	for i, p := range frustum.Planes {
		u.Planes[i] = [4]float32{p.Normal[0], p.Normal[1], p.Normal[2], p.Distance}
	}
	u.Eye = view.Inv().Col(3).Vec3()
	return u
}

// Size returns the size of the GPUSceneUniform struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (256)
func (g *GPUSceneUniform) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUSceneUniform struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUSceneUniform) Marshal() []byte {
	buf := make([]byte, g.Size())
	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(g.ViewProj[i]))
		binary.LittleEndian.PutUint32(buf[64+i*4:], math.Float32bits(g.View[i]))
	}
	for p := range 6 {
		for c := range 4 {
			binary.LittleEndian.PutUint32(buf[128+p*16+c*4:], math.Float32bits(g.Planes[p][c]))
		}
	}
	for i := range 3 {
		binary.LittleEndian.PutUint32(buf[224+i*4:], math.Float32bits(g.Eye[i]))
	}
	binary.LittleEndian.PutUint32(buf[236:], math.Float32bits(g.ZNear))
	binary.LittleEndian.PutUint32(buf[240:], g.Viewport)
	return buf
}

// Frustum returns the planes of the uniform as a common.Frustum.
func (g *GPUSceneUniform) Frustum() common.Frustum {
	var f common.Frustum
	for i, p := range g.Planes {
		f.Planes[i] = common.Plane{Normal: [3]float32{p[0], p[1], p[2]}, Distance: p[3]}
	}
	return f
}
