// Package loader imports glTF 2.0 meshes as draw storage geometry. Each triangle primitive
// becomes one Part; skinned primitives become animated meshes.
package loader

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/material"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/mesh"
	"github.com/go-gl/mathgl/mgl32"
)

// Part is one imported primitive, ready to allocate in the draw storage.
type Part struct {
	// Name is "<mesh>/<primitive index>".
	Name string
	// Geometry is a *mesh.StaticMesh, or a *mesh.AnimMesh when Skinned.
	Geometry mesh.Geometry
	// Material is the draw material mapped from the glTF alpha mode.
	Material material.Material
	// IndexCount is the meshlet-padded index count of Geometry.
	IndexCount int
	// Skinned reports whether the primitive carries JOINTS_0 and WEIGHTS_0.
	Skinned bool
	// BoneCount is the bone palette size the vertices index into, 0 unless Skinned.
	BoneCount int
}

type loader struct {
	mu sync.RWMutex

	dev   device.Device
	log   *slog.Logger
	scale float32

	cache map[string][]Part
}

// Loader imports glTF files and caches the resulting parts by path.
type Loader interface {
	// Load imports a .gltf or .glb file, returning the cached parts when the path was loaded before.
	//
	// Parameters:
	//   - path: the file path
	//
	// Returns:
	//   - []Part: the imported primitives
	//   - error: an error if the file cannot be read or holds no usable primitive
	Load(path string) ([]Part, error)

	// LoadReader imports a document from r and caches it under name.
	//
	// Parameters:
	//   - name: the cache key
	//   - r: the document bytes
	//   - isGLB: true for the binary container
	//
	// Returns:
	//   - []Part: the imported primitives
	//   - error: an error if the document is invalid; external buffer URIs are not resolvable
	LoadReader(name string, r io.Reader, isGLB bool) ([]Part, error)

	// Release frees the GPU buffers of every cached part and clears the cache.
	Release()
}

var _ Loader = &loader{}

// NewLoader creates a Loader that uploads geometry to dev.
//
// Parameters:
//   - dev: the device geometry is uploaded to
//   - options: functional options to configure the loader
//
// Returns:
//   - Loader: the loader
func NewLoader(dev device.Device, options ...LoaderBuilderOption) Loader {
	if dev == nil {
		panic("loader: nil device")
	}
	l := &loader{
		dev:   dev,
		log:   slog.New(slog.DiscardHandler),
		scale: 1,
		cache: make(map[string][]Part),
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

func (l *loader) Load(path string) ([]Part, error) {
	if parts, ok := l.cached(path); ok {
		return parts, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gltf", ".glb":
	default:
		return nil, fmt.Errorf("loader: unsupported file extension %q", filepath.Ext(path))
	}
	f, err := parseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return l.store(path, f)
}

func (l *loader) LoadReader(name string, r io.Reader, isGLB bool) ([]Part, error) {
	if parts, ok := l.cached(name); ok {
		return parts, nil
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	f, err := parse(buf.Bytes(), isGLB, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	return l.store(name, f)
}

func (l *loader) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, parts := range l.cache {
		for _, p := range parts {
			switch g := p.Geometry.(type) {
			case *mesh.StaticMesh:
				g.Release()
			case *mesh.AnimMesh:
				g.Release()
			}
		}
		delete(l.cache, key)
	}
}

func (l *loader) cached(key string) ([]Part, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	parts, ok := l.cache[key]
	return parts, ok
}

func (l *loader) store(key string, f *gltfFile) ([]Part, error) {
	parts, err := l.importParts(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("failed to load %s: no triangle primitives", key)
	}
	l.mu.Lock()
	l.cache[key] = parts
	l.mu.Unlock()
	l.log.Info("model loaded", slog.String("name", key), slog.Int("parts", len(parts)))
	return parts, nil
}

func (l *loader) importParts(f *gltfFile) ([]Part, error) {
	var parts []Part
	for mi := range f.doc.Meshes {
		m := &f.doc.Meshes[mi]
		for pi := range m.Primitives {
			prim := &m.Primitives[pi]
			name := fmt.Sprintf("%s/%d", m.Name, pi)
			if prim.Mode != nil && *prim.Mode != gltfModeTriangles {
				l.log.Warn("skipping non-triangle primitive", slog.String("part", name), slog.Int("mode", *prim.Mode))
				continue
			}
			part, err := l.importPrimitive(f, name, prim)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			parts = append(parts, part)
		}
	}
	return parts, nil
}

func (l *loader) importPrimitive(f *gltfFile, name string, prim *gltfPrimitive) (Part, error) {
	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return Part{}, fmt.Errorf("primitive has no POSITION")
	}
	positions, err := f.floats(posIdx, 3)
	if err != nil {
		return Part{}, err
	}
	vertices := make([]mesh.GPUVertex, len(positions))
	for i, p := range positions {
		vertices[i].Position = [3]float32{p[0] * l.scale, p[1] * l.scale, p[2] * l.scale}
	}
	if idx, ok := prim.Attributes["NORMAL"]; ok {
		normals, err := f.floats(idx, 3)
		if err != nil {
			return Part{}, err
		}
		for i := range vertices {
			if i < len(normals) {
				vertices[i].Normal = [3]float32{normals[i][0], normals[i][1], normals[i][2]}
			}
		}
	}
	if idx, ok := prim.Attributes["TEXCOORD_0"]; ok {
		uvs, err := f.floats(idx, 2)
		if err != nil {
			return Part{}, err
		}
		for i := range vertices {
			if i < len(uvs) {
				vertices[i].TexCoord = [2]float32{uvs[i][0], uvs[i][1]}
			}
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		if indices, err = f.indices(*prim.Indices); err != nil {
			return Part{}, err
		}
	} else {
		indices = make([]uint32, len(vertices))
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	part := Part{Name: name, Material: f.material(prim.Material)}
	jointIdx, hasJoints := prim.Attributes["JOINTS_0"]
	weightIdx, hasWeights := prim.Attributes["WEIGHTS_0"]
	if !hasJoints || !hasWeights {
		sm, err := mesh.NewStaticMesh(l.dev, name, vertices, indices)
		if err != nil {
			return Part{}, err
		}
		part.Geometry, part.IndexCount = sm, sm.IndexCount()
		return part, nil
	}

	joints, _, err := f.uints(jointIdx)
	if err != nil {
		return Part{}, err
	}
	weights, err := f.floats(weightIdx, 4)
	if err != nil {
		return Part{}, err
	}
	skinned := make([]mesh.GPUSkinnedVertex, len(vertices))
	bones := 0
	for i := range skinned {
		skinned[i].GPUVertex = vertices[i]
		if i >= len(joints) || i >= len(weights) {
			continue
		}
		skinned[i].BoneIndices = joints[i]
		skinned[i].BoneWeights = weights[i]
		for c, j := range joints[i] {
			if weights[i][c] != 0 {
				bones = max(bones, int(j)+1)
			}
		}
	}
	am, err := mesh.NewAnimMesh(l.dev, name, skinned, indices, bones)
	if err != nil {
		return Part{}, err
	}
	part.Geometry, part.IndexCount = am, am.IndexCount()
	part.Skinned, part.BoneCount = true, bones
	return part, nil
}

// material maps a glTF material onto a draw material. The base color alpha becomes the alpha
// weight of blended materials.
func (f *gltfFile) material(index *int) material.Material {
	if index == nil || *index < 0 || *index >= len(f.doc.Materials) {
		return material.NewMaterial(material.WithAlpha(material.Solid))
	}
	gm := &f.doc.Materials[*index]
	opts := []material.MaterialBuilderOption{}
	switch gm.AlphaMode {
	case "MASK":
		opts = append(opts, material.WithAlpha(material.AlphaTest))
	case "BLEND":
		opts = append(opts, material.WithAlpha(material.Transparent))
		if gm.PBR != nil && gm.PBR.BaseColorFactor != nil {
			opts = append(opts, material.WithAlphaWeight(mgl32.Clamp(gm.PBR.BaseColorFactor[3], 0, 1)))
		}
	default:
		opts = append(opts, material.WithAlpha(material.Solid))
	}
	return material.NewMaterial(opts...)
}
