package common

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Plane represents a plane in 3D space using the equation: ax + by + cz + d = 0
// where (a, b, c) is the normal and d is the distance from origin.
type Plane struct {
	Normal   [3]float32
	Distance float32
}

// Frustum represents the six planes of a view frustum for culling.
// Planes are oriented so that positive half-space is inside the frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

// FrustumPlane indices for clarity
const (
	FrustumLeft   = 0
	FrustumRight  = 1
	FrustumBottom = 2
	FrustumTop    = 3
	FrustumNear   = 4
	FrustumFar    = 5
)

// ExtractFrustum extracts frustum planes from a combined view-projection matrix using the
// Gribb/Hartmann method. The near plane uses the WebGPU [0, 1] depth convention, so it is
// taken from row 2 alone rather than row3 + row2.
//
// Reference: https://www8.cs.umu.se/kurser/5DV051/HT12/lab/plane_extraction.pdf
//
// Parameters:
//   - viewProj: the view-projection matrix (column-major, mgl32 layout)
//
// Returns:
//   - Frustum: the extracted frustum with normalized planes
func ExtractFrustum(viewProj mgl32.Mat4) Frustum {
	var f Frustum
	r0, r1, r2, r3 := viewProj.Row(0), viewProj.Row(1), viewProj.Row(2), viewProj.Row(3)

	f.setPlane(FrustumLeft, r3.Add(r0))
	f.setPlane(FrustumRight, r3.Sub(r0))
	f.setPlane(FrustumBottom, r3.Add(r1))
	f.setPlane(FrustumTop, r3.Sub(r1))
	f.setPlane(FrustumNear, r2)
	f.setPlane(FrustumFar, r3.Sub(r2))

	for i := range f.Planes {
		f.normalizePlane(i)
	}
	return f
}

// IntersectsSphere reports whether a bounding sphere is at least partially inside the frustum.
// Spheres with a negative radius are treated as dead and never intersect.
//
// Parameters:
//   - center: the sphere center in the same space the frustum was extracted in
//   - radius: the sphere radius
//
// Returns:
//   - bool: true if the sphere touches the inside of every plane
func (f *Frustum) IntersectsSphere(center mgl32.Vec3, radius float32) bool {
	if radius < 0 {
		return false
	}
	for i := range f.Planes {
		p := &f.Planes[i]
		d := p.Normal[0]*center[0] + p.Normal[1]*center[1] + p.Normal[2]*center[2] + p.Distance
		if d < -radius {
			return false
		}
	}
	return true
}

func (f *Frustum) setPlane(index int, v mgl32.Vec4) {
	f.Planes[index].Normal = [3]float32{v[0], v[1], v[2]}
	f.Planes[index].Distance = v[3]
}

// normalizePlane normalizes a frustum plane so that the normal has unit length.
func (f *Frustum) normalizePlane(index int) {
	p := &f.Planes[index]
	length := float32(math.Sqrt(float64(
		p.Normal[0]*p.Normal[0] +
			p.Normal[1]*p.Normal[1] +
			p.Normal[2]*p.Normal[2],
	)))

	if length > 0 {
		invLen := 1.0 / length
		p.Normal[0] *= invLen
		p.Normal[1] *= invLen
		p.Normal[2] *= invLen
		p.Distance *= invLen
	}
}
