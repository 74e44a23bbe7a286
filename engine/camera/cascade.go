package camera

import (
	"math"

	"github.com/Carmen-Shannon/oxy-meshlet/common"
	"github.com/go-gl/mathgl/mgl32"
)

// Cascade is the orthographic light-space View of one shadow cascade.
type Cascade struct {
	view       mgl32.Mat4
	projection mgl32.Mat4
	near       float32
}

var _ View = Cascade{}

// NewCascade builds a cascade that covers a sphere around center as seen along lightDir.
// The light eye sits 2*radius behind the center so casters up to one radius outside the sphere
// still land in the depth range.
//
// Parameters:
//   - lightDir: the direction light travels, need not be normalized
//   - center: the world-space center of the covered region
//   - radius: the radius of the covered region
//
// Returns:
//   - Cascade: the cascade view
func NewCascade(lightDir, center mgl32.Vec3, radius float32) Cascade {
	dir := lightDir.Normalize()
	up := mgl32.Vec3{0, 1, 0}
	if float32(math.Abs(float64(dir.Dot(up)))) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}
	eye := center.Sub(dir.Mul(2 * radius))
	near := float32(0.01)
	return Cascade{
		view:       mgl32.LookAtV(eye, center, up),
		projection: common.OrthoZO(-radius, radius, -radius, radius, near, 4*radius),
		near:       near,
	}
}

func (c Cascade) View() mgl32.Mat4 {
	return c.view
}

func (c Cascade) Projection() mgl32.Mat4 {
	return c.projection
}

func (c Cascade) ZNear() float32 {
	return c.near
}

// CascadeSplits partitions [near, far] into n ranges with the practical split scheme, blending
// logarithmic and uniform splits by lambda. The result holds n+1 distances starting at near and
// ending at far.
//
// Parameters:
//   - near: the camera near plane
//   - far: the farthest shadowed distance
//   - n: the number of cascades
//   - lambda: 0 for uniform splits, 1 for logarithmic
//
// Returns:
//   - []float32: the split distances
func CascadeSplits(near, far float32, n int, lambda float32) []float32 {
	if n <= 0 {
		return []float32{near, far}
	}
	out := make([]float32, n+1)
	out[0] = near
	for i := 1; i < n; i++ {
		p := float32(i) / float32(n)
		logSplit := near * float32(math.Pow(float64(far/near), float64(p)))
		uniSplit := near + (far-near)*p
		out[i] = lambda*logSplit + (1-lambda)*uniSplit
	}
	out[n] = far
	return out
}

// FitCascades covers the view frustum of c, up to its far plane, with n cascades along lightDir.
// Each cascade is the sphere around the middle of its split slice that encloses the slice.
//
// Parameters:
//   - c: the main camera
//   - lightDir: the direction light travels
//   - n: the number of cascades
//   - lambda: the split blend passed to CascadeSplits
//
// Returns:
//   - []Cascade: one cascade per split, nearest first
func FitCascades(c Camera, lightDir mgl32.Vec3, n int, lambda float32) []Cascade {
	if n <= 0 {
		return nil
	}
	v := c.View()
	forward := mgl32.Vec3{-v.At(2, 0), -v.At(2, 1), -v.At(2, 2)}
	tanHalf := float32(math.Tan(float64(c.Fov()) / 2))
	spread := tanHalf * max(c.Aspect(), 1)

	splits := CascadeSplits(c.ZNear(), c.Far(), n, lambda)
	out := make([]Cascade, n)
	for i := range n {
		lo, hi := splits[i], splits[i+1]
		mid := (lo + hi) / 2
		half := (hi - lo) / 2
		side := hi * spread
		radius := float32(math.Sqrt(float64(half*half + 2*side*side)))
		out[i] = NewCascade(lightDir, c.Position().Add(forward.Mul(mid)), radius)
	}
	return out
}
