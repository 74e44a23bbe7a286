package mesh

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/go-gl/mathgl/mgl32"
)

// StaticMesh is rigid geometry uploaded once. Landscape chunks and props are both static meshes;
// what differs is how they are allocated in the draw storage.
type StaticMesh struct {
	label      string
	vbo, ibo   device.Buffer
	bounds     Bounds
	clusters   []Cluster
	indexCount int
}

var _ Geometry = &StaticMesh{}

// NewStaticMesh uploads vertices and meshlet-padded indices and precomputes bounds and per-meshlet
// clusters.
//
// Parameters:
//   - dev: the device to allocate on
//   - label: debug label prefix for the buffers
//   - vertices: the vertices
//   - indices: triangle-list indices into vertices
//
// Returns:
//   - *StaticMesh: the uploaded mesh
//   - error: an error if an index is out of range or a buffer cannot be created
func NewStaticMesh(dev device.Device, label string, vertices []GPUVertex, indices []uint32) (*StaticMesh, error) {
	positions := make([]mgl32.Vec3, len(vertices))
	for i := range vertices {
		positions[i] = vertices[i].Position
	}
	padded, err := checkIndices(label, indices, len(vertices))
	if err != nil {
		return nil, err
	}

	data := make([]byte, len(vertices)*32)
	for i := range vertices {
		vertices[i].marshalTo(data[i*32:])
	}
	vbo, ibo, err := upload(dev, label, data, padded)
	if err != nil {
		return nil, err
	}
	return &StaticMesh{
		label:      label,
		vbo:        vbo,
		ibo:        ibo,
		bounds:     boundsOf(positions),
		clusters:   BuildClusters(positions, padded),
		indexCount: len(padded),
	}, nil
}

func (m *StaticMesh) VertexBuffer() device.Buffer { return m.vbo }
func (m *StaticMesh) IndexBuffer() device.Buffer  { return m.ibo }
func (m *StaticMesh) Bounds() Bounds              { return m.bounds }
func (m *StaticMesh) Clusters() []Cluster         { return m.clusters }

// IndexCount returns the padded index count, always a multiple of MeshletIndexCount.
func (m *StaticMesh) IndexCount() int { return m.indexCount }

// Release frees the GPU buffers.
func (m *StaticMesh) Release() {
	m.vbo.Release()
	m.ibo.Release()
}

func checkIndices(label string, indices []uint32, vertexCount int) ([]uint32, error) {
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("mesh %q: index count %d is not a triangle list", label, len(indices))
	}
	for i, idx := range indices {
		if int(idx) >= vertexCount {
			return nil, fmt.Errorf("mesh %q: index %d at %d out of range [0, %d)", label, idx, i, vertexCount)
		}
	}
	return PadIndices(append([]uint32(nil), indices...)), nil
}

func upload(dev device.Device, label string, vertexData []byte, indices []uint32) (device.Buffer, device.Buffer, error) {
	vbo, err := dev.CreateBuffer(label+" vertices", device.UsageStorage, uint64(len(vertexData)), vertexData)
	if err != nil {
		return nil, nil, fmt.Errorf("mesh %q: %w", label, err)
	}
	indexData := marshalIndices(indices)
	ibo, err := dev.CreateBuffer(label+" indices", device.UsageStorage|device.UsageIndex, uint64(len(indexData)), indexData)
	if err != nil {
		vbo.Release()
		return nil, nil, fmt.Errorf("mesh %q: %w", label, err)
	}
	return vbo, ibo, nil
}
