package draw_storage

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// NoInstance is the instance id of clusters whose object has no instance record (landscape).
const NoInstance = 0xFFFFFFFF

// drawParamsStride is the byte distance between per-command draw parameter blocks. Uniform
// bindings must start on a multiple of the device's minimum uniform offset alignment.
const drawParamsStride = 256

// payloadEntrySize is the size of one visible-meshlet record, a vec4<u32>.
const payloadEntrySize = 16

// instanceFlagGhost is bit 0 of GPUInstanceDesc.Flags.
const instanceFlagGhost = 1

// cullFlagHiZ enables the occlusion test of the HiZ cull variant.
const cullFlagHiZ = 1

var (
	//go:embed assets/cluster.wgsl
	GPUClusterSource string
	//go:embed assets/bucket.wgsl
	GPUBucketSource string
	//go:embed assets/indirect_cmd.wgsl
	GPUIndirectCmdSource string
	//go:embed assets/instance_desc.wgsl
	GPUInstanceDescSource string
	//go:embed assets/morph_data.wgsl
	GPUMorphDataSource string
	//go:embed assets/cull_params.wgsl
	GPUCullParamsSource string
	//go:embed assets/draw_params.wgsl
	GPUDrawParamsSource string

	//go:embed assets/cluster_init.wgsl
	clusterInitSource string
	//go:embed assets/cluster_cull.wgsl
	clusterCullSource string
	//go:embed assets/occlusion_none.wgsl
	occlusionNoneSource string
	//go:embed assets/occlusion_hiz.wgsl
	occlusionHiZSource string
	//go:embed assets/draw_prelude.wgsl
	drawPreludeSource string
)

// GPUCluster is one cull unit: a bounding sphere and the draw command its meshlets feed.
// Size: 48 bytes.
type GPUCluster struct {
	Pos          [3]float32 // offset  0: sphere center, world space
	R            float32    // offset 12: sphere radius, negative when the cluster is dead
	BucketId     uint32     // offset 16
	CommandId    uint32     // offset 20
	FirstMeshlet uint32     // offset 24: meshlet index into the geometry's index buffer
	MeshletCount uint32     // offset 28
	InstanceId   uint32     // offset 32: instance slot, NoInstance for landscape
	ObjType      uint32     // offset 36
	_pad         [2]uint32  // offset 40
}

// Size returns the size of the GPUCluster struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (48)
func (c *GPUCluster) Size() int {
	return int(unsafe.Sizeof(*c))
}

// Marshal serializes the GPUCluster struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (c *GPUCluster) Marshal() []byte {
	buf := make([]byte, c.Size())
	c.marshalTo(buf)
	return buf
}

func (c *GPUCluster) marshalTo(buf []byte) {
	for i := range 3 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(c.Pos[i]))
	}
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(c.R))
	binary.LittleEndian.PutUint32(buf[16:], c.BucketId)
	binary.LittleEndian.PutUint32(buf[20:], c.CommandId)
	binary.LittleEndian.PutUint32(buf[24:], c.FirstMeshlet)
	binary.LittleEndian.PutUint32(buf[28:], c.MeshletCount)
	binary.LittleEndian.PutUint32(buf[32:], c.InstanceId)
	binary.LittleEndian.PutUint32(buf[36:], c.ObjType)
	clear(buf[40:48])
}

// GPUBucket is the per-bucket material and bounds record read by draw shaders.
// Size: 64 bytes.
type GPUBucket struct {
	BBoxMin            [3]float32 // offset  0
	Radius             float32    // offset 12: conservative radius of the geometry
	BBoxMax            [3]float32 // offset 16
	AlphaWeight        float32    // offset 28
	TexAniMapDirPeriod [2]int32   // offset 32
	WaveMaxAmplitude   float32    // offset 40
	EnvMapping         float32    // offset 44
	Alpha              uint32     // offset 48: material.AlphaFunc
	_pad               [3]uint32  // offset 52
}

// Size returns the size of the GPUBucket struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (64)
func (b *GPUBucket) Size() int {
	return int(unsafe.Sizeof(*b))
}

// Marshal serializes the GPUBucket struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (b *GPUBucket) Marshal() []byte {
	buf := make([]byte, b.Size())
	for i := range 3 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(b.BBoxMin[i]))
		binary.LittleEndian.PutUint32(buf[16+i*4:], math.Float32bits(b.BBoxMax[i]))
	}
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(b.Radius))
	binary.LittleEndian.PutUint32(buf[28:], math.Float32bits(b.AlphaWeight))
	binary.LittleEndian.PutUint32(buf[32:], uint32(b.TexAniMapDirPeriod[0]))
	binary.LittleEndian.PutUint32(buf[36:], uint32(b.TexAniMapDirPeriod[1]))
	binary.LittleEndian.PutUint32(buf[40:], math.Float32bits(b.WaveMaxAmplitude))
	binary.LittleEndian.PutUint32(buf[44:], math.Float32bits(b.EnvMapping))
	binary.LittleEndian.PutUint32(buf[48:], b.Alpha)
	return buf
}

// GPUIndirectCmd is one indirect draw. The first 16 bytes are the DrawIndirect arguments; the
// cull kernel appends visible meshlets at WriteOffset and counts them in InstanceCount.
// Size: 32 bytes.
type GPUIndirectCmd struct {
	VertexCount   uint32    // offset  0: always mesh.MeshletIndexCount
	InstanceCount uint32    // offset  4: visible meshlets, reset each frame by the init kernel
	FirstVertex   uint32    // offset  8
	FirstInstance uint32    // offset 12
	WriteOffset   uint32    // offset 16: first payload entry of the command
	MaxPayload    uint32    // offset 20: payload entries reserved for the command
	_pad          [2]uint32 // offset 24
}

// Size returns the size of the GPUIndirectCmd struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (32)
func (c *GPUIndirectCmd) Size() int {
	return int(unsafe.Sizeof(*c))
}

// Marshal serializes the GPUIndirectCmd struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (c *GPUIndirectCmd) Marshal() []byte {
	buf := make([]byte, c.Size())
	binary.LittleEndian.PutUint32(buf[0:], c.VertexCount)
	binary.LittleEndian.PutUint32(buf[4:], c.InstanceCount)
	binary.LittleEndian.PutUint32(buf[8:], c.FirstVertex)
	binary.LittleEndian.PutUint32(buf[12:], c.FirstInstance)
	binary.LittleEndian.PutUint32(buf[16:], c.WriteOffset)
	binary.LittleEndian.PutUint32(buf[20:], c.MaxPayload)
	return buf
}

// GPUInstanceDesc is the per-object record in the instance heap.
// Size: 64 bytes, the heap stride.
type GPUInstanceDesc struct {
	Rows    [3][4]float32 // offset  0: first three rows of the object-to-world matrix
	AnimPtr uint32        // offset 48: bone palette slot (animated) or morph slot (morph)
	Fatness float32       // offset 52: displacement along the vertex normal
	Flags   uint32        // offset 56: bit 0 ghost
	MorphId uint32        // offset 60: morph slot, NoInstance when none
}

// Size returns the size of the GPUInstanceDesc struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (64)
func (d *GPUInstanceDesc) Size() int {
	return int(unsafe.Sizeof(*d))
}

// Marshal serializes the GPUInstanceDesc struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (d *GPUInstanceDesc) Marshal() []byte {
	buf := make([]byte, d.Size())
	for r := range 3 {
		for c := range 4 {
			binary.LittleEndian.PutUint32(buf[r*16+c*4:], math.Float32bits(d.Rows[r][c]))
		}
	}
	binary.LittleEndian.PutUint32(buf[48:], d.AnimPtr)
	binary.LittleEndian.PutUint32(buf[52:], math.Float32bits(d.Fatness))
	binary.LittleEndian.PutUint32(buf[56:], d.Flags)
	binary.LittleEndian.PutUint32(buf[60:], d.MorphId)
	return buf
}

// GPUMorphData selects and blends two samples of a morph animation.
// Size: 16 bytes.
type GPUMorphData struct {
	Index   uint32  // offset  0: morph animation index
	Sample0 uint32  // offset  4
	Sample1 uint32  // offset  8
	Alpha   float32 // offset 12: blend factor from Sample0 to Sample1
}

// Size returns the size of the GPUMorphData struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (m *GPUMorphData) Size() int {
	return int(unsafe.Sizeof(*m))
}

// Marshal serializes the GPUMorphData struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (m *GPUMorphData) Marshal() []byte {
	buf := make([]byte, m.Size())
	binary.LittleEndian.PutUint32(buf[0:], m.Index)
	binary.LittleEndian.PutUint32(buf[4:], m.Sample0)
	binary.LittleEndian.PutUint32(buf[8:], m.Sample1)
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(m.Alpha))
	return buf
}

// GPUCullParams is the per-viewport uniform of the init and cull kernels.
// Size: 32 bytes.
type GPUCullParams struct {
	FirstCluster uint32  // offset  0
	ClusterCount uint32  // offset  4
	ZNear        float32 // offset  8
	Flags        uint32  // offset 12: bit 0 enables the HiZ test
	HiZWidth     uint32  // offset 16
	HiZHeight    uint32  // offset 20
	CommandCount uint32  // offset 24
	_pad         uint32  // offset 28
}

// Size returns the size of the GPUCullParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (32)
func (p *GPUCullParams) Size() int {
	return int(unsafe.Sizeof(*p))
}

// Marshal serializes the GPUCullParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (p *GPUCullParams) Marshal() []byte {
	buf := make([]byte, p.Size())
	binary.LittleEndian.PutUint32(buf[0:], p.FirstCluster)
	binary.LittleEndian.PutUint32(buf[4:], p.ClusterCount)
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(p.ZNear))
	binary.LittleEndian.PutUint32(buf[12:], p.Flags)
	binary.LittleEndian.PutUint32(buf[16:], p.HiZWidth)
	binary.LittleEndian.PutUint32(buf[20:], p.HiZHeight)
	binary.LittleEndian.PutUint32(buf[24:], p.CommandCount)
	return buf
}

// GPUDrawParams is the per-command uniform block, placed at a drawParamsStride stride.
// Size: 16 bytes.
type GPUDrawParams struct {
	FirstPayload uint32 // offset  0
	MaxPayload   uint32 // offset  4
	CommandId    uint32 // offset  8
	ObjType      uint32 // offset 12
}

// Size returns the size of the GPUDrawParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (p *GPUDrawParams) Size() int {
	return int(unsafe.Sizeof(*p))
}

// Marshal serializes the GPUDrawParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (p *GPUDrawParams) Marshal() []byte {
	buf := make([]byte, p.Size())
	binary.LittleEndian.PutUint32(buf[0:], p.FirstPayload)
	binary.LittleEndian.PutUint32(buf[4:], p.MaxPayload)
	binary.LittleEndian.PutUint32(buf[8:], p.CommandId)
	binary.LittleEndian.PutUint32(buf[12:], p.ObjType)
	return buf
}
