// Package mesh holds the geometry sources the draw storage aggregates. Index buffers are laid out
// in meshlets of MeshletIndexCount indices; a mesh whose triangle count is not a multiple of the
// meshlet size is padded with degenerate triangles when it is built.
package mesh

import (
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// MeshletTriangleCount is the number of triangles in one meshlet.
	MeshletTriangleCount = 64
	// MeshletIndexCount is the number of indices in one meshlet. Every index sub-range handed to
	// the draw storage starts and ends on a multiple of it.
	MeshletIndexCount = MeshletTriangleCount * 3
)

// Bounds is an axis-aligned box with the radius of a sphere around its center that contains
// every vertex.
type Bounds struct {
	Min, Max mgl32.Vec3
	// RConservative is half the box diagonal.
	RConservative float32
}

// NewBounds builds Bounds from box corners.
//
// Parameters:
//   - lo: the minimum corner
//   - hi: the maximum corner
//
// Returns:
//   - Bounds: the bounds with RConservative filled in
func NewBounds(lo, hi mgl32.Vec3) Bounds {
	return Bounds{Min: lo, Max: hi, RConservative: hi.Sub(lo).Len() / 2}
}

// Center returns the center of the box.
func (b Bounds) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Cluster is the bounding sphere of one meshlet, in the space the mesh vertices are in.
type Cluster struct {
	Pos mgl32.Vec3
	R   float32
}

// Geometry is an immutable GPU geometry resource. The draw storage keeps references to it and
// compares them by identity; the asset system owns its lifetime.
type Geometry interface {
	// VertexBuffer returns the storage buffer holding the vertices.
	VertexBuffer() device.Buffer
	// IndexBuffer returns the storage buffer holding the meshlet-aligned indices.
	IndexBuffer() device.Buffer
	// Bounds returns the bounding volume of the whole mesh.
	Bounds() Bounds
	// Clusters returns one bounding sphere per meshlet, indexed by index offset / MeshletIndexCount.
	Clusters() []Cluster
}

// MeshletCount returns how many meshlets an index count spans.
func MeshletCount(indexCount int) int {
	return indexCount / MeshletIndexCount
}

// Aligned reports whether an index offset or length falls on a meshlet boundary.
func Aligned(n int) bool {
	return n%MeshletIndexCount == 0
}

// PadIndices appends degenerate triangles, repeating the last index, until the count is a
// multiple of MeshletIndexCount. An empty slice stays empty.
//
// Parameters:
//   - indices: triangle-list indices
//
// Returns:
//   - []uint32: the padded indices, sharing storage with indices when capacity allows
func PadIndices(indices []uint32) []uint32 {
	if len(indices) == 0 || Aligned(len(indices)) {
		return indices
	}
	last := indices[len(indices)-1]
	for !Aligned(len(indices)) {
		indices = append(indices, last)
	}
	return indices
}

// BuildClusters computes one bounding sphere per meshlet of an aligned index list. Each sphere
// is centered on the meshlet's box center with the radius to its farthest vertex.
//
// Parameters:
//   - positions: vertex positions
//   - indices: meshlet-aligned triangle-list indices
//
// Returns:
//   - []Cluster: one cluster per meshlet
func BuildClusters(positions []mgl32.Vec3, indices []uint32) []Cluster {
	out := make([]Cluster, 0, MeshletCount(len(indices)))
	for start := 0; start+MeshletIndexCount <= len(indices); start += MeshletIndexCount {
		chunk := indices[start : start+MeshletIndexCount]
		lo, hi := positions[chunk[0]], positions[chunk[0]]
		for _, idx := range chunk[1:] {
			lo, hi = minVec(lo, positions[idx]), maxVec(hi, positions[idx])
		}
		center := lo.Add(hi).Mul(0.5)
		var r float32
		for _, idx := range chunk {
			r = max(r, positions[idx].Sub(center).Len())
		}
		out = append(out, Cluster{Pos: center, R: r})
	}
	return out
}

// boundsOf returns the box around positions. Empty input yields a zero box.
func boundsOf(positions []mgl32.Vec3) Bounds {
	if len(positions) == 0 {
		return Bounds{}
	}
	lo, hi := positions[0], positions[0]
	for _, p := range positions[1:] {
		lo, hi = minVec(lo, p), maxVec(hi, p)
	}
	return NewBounds(lo, hi)
}

func minVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{min(a[0], b[0]), min(a[1], b[1]), min(a[2], b[2])}
}

func maxVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{max(a[0], b[0]), max(a[1], b[1]), max(a[2], b[2])}
}
