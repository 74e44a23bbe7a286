package mesh

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/go-gl/mathgl/mgl32"
)

// AnimMesh is skinned geometry. Its bounds are those of the bind pose; the draw storage culls
// animated objects with one whole-object sphere, so the bind pose radius is what callers should
// inflate when animations move vertices far from it.
type AnimMesh struct {
	StaticMesh
	boneCount int
}

var _ Geometry = &AnimMesh{}

// NewAnimMesh uploads skinned vertices and meshlet-padded indices.
//
// Parameters:
//   - dev: the device to allocate on
//   - label: debug label prefix for the buffers
//   - vertices: the skinned vertices in bind pose
//   - indices: triangle-list indices into vertices
//   - boneCount: the size of the bone palette the vertices index into
//
// Returns:
//   - *AnimMesh: the uploaded mesh
//   - error: an error if a bone or vertex index is out of range or a buffer cannot be created
func NewAnimMesh(dev device.Device, label string, vertices []GPUSkinnedVertex, indices []uint32, boneCount int) (*AnimMesh, error) {
	positions := make([]mgl32.Vec3, len(vertices))
	for i := range vertices {
		positions[i] = vertices[i].Position
		for j, b := range vertices[i].BoneIndices {
			if vertices[i].BoneWeights[j] != 0 && int(b) >= boneCount {
				return nil, fmt.Errorf("mesh %q: vertex %d references bone %d of %d", label, i, b, boneCount)
			}
		}
	}
	padded, err := checkIndices(label, indices, len(vertices))
	if err != nil {
		return nil, err
	}

	data := make([]byte, len(vertices)*64)
	for i := range vertices {
		vertices[i].marshalTo(data[i*64:])
	}
	vbo, ibo, err := upload(dev, label, data, padded)
	if err != nil {
		return nil, err
	}
	return &AnimMesh{
		StaticMesh: StaticMesh{
			label:      label,
			vbo:        vbo,
			ibo:        ibo,
			bounds:     boundsOf(positions),
			clusters:   BuildClusters(positions, padded),
			indexCount: len(padded),
		},
		boneCount: boneCount,
	}, nil
}

// BoneCount returns the number of bones in the palette the mesh was skinned against.
func (m *AnimMesh) BoneCount() int { return m.boneCount }
