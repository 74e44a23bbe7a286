package mesh

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUVertexSource is the canonical WGSL definition of the Vertex struct.
// Matches GPUVertex layout exactly (32 bytes, storage-buffer aligned as array<f32, 8>).
//
//go:embed assets/vertex.wgsl
var GPUVertexSource string

// GPUVertex is the GPU representation of a static mesh vertex, pulled from a storage buffer by
// the draw shaders.
// Size: 32 bytes.
type GPUVertex struct {
	Position [3]float32 // offset  0
	Normal   [3]float32 // offset 12
	TexCoord [2]float32 // offset 24
}

// Size returns the size of the GPUVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes
func (g *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUVertex struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload
func (g *GPUVertex) Marshal() []byte {
	buf := make([]byte, 32)
	g.marshalTo(buf)
	return buf
}

func (g *GPUVertex) marshalTo(buf []byte) {
	for i := range 3 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(g.Position[i]))
		binary.LittleEndian.PutUint32(buf[12+i*4:], math.Float32bits(g.Normal[i]))
	}
	binary.LittleEndian.PutUint32(buf[24:], math.Float32bits(g.TexCoord[0]))
	binary.LittleEndian.PutUint32(buf[28:], math.Float32bits(g.TexCoord[1]))
}

// GPUSkinnedVertexSource is the canonical WGSL definition of the SkinnedVertex struct.
// Matches GPUSkinnedVertex layout exactly (64 bytes).
//
//go:embed assets/skinned_vertex.wgsl
var GPUSkinnedVertexSource string

// GPUSkinnedVertex extends GPUVertex with up to four bone influences.
// Size: 64 bytes.
type GPUSkinnedVertex struct {
	GPUVertex              // offset  0
	BoneIndices [4]uint32  // offset 32: indices into the object's bone palette
	BoneWeights [4]float32 // offset 48: blend weights, summing to 1
}

// Size returns the size of the GPUSkinnedVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes
func (g *GPUSkinnedVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUSkinnedVertex struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 64-byte buffer ready for GPU upload
func (g *GPUSkinnedVertex) Marshal() []byte {
	buf := make([]byte, 64)
	g.marshalTo(buf)
	return buf
}

func (g *GPUSkinnedVertex) marshalTo(buf []byte) {
	g.GPUVertex.marshalTo(buf)
	for i := range 4 {
		binary.LittleEndian.PutUint32(buf[32+i*4:], g.BoneIndices[i])
		binary.LittleEndian.PutUint32(buf[48+i*4:], math.Float32bits(g.BoneWeights[i]))
	}
}

func marshalIndices(indices []uint32) []byte {
	buf := make([]byte, len(indices)*4)
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(buf[i*4:], idx)
	}
	return buf
}
