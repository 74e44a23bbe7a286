package common

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// PerspectiveZO creates a right-handed perspective projection matrix that maps depth into the
// WebGPU clip range [0, 1]. mgl32.Perspective targets the OpenGL [-1, 1] range and cannot be
// used directly with a wgpu depth buffer.
//
// Parameters:
//   - fovY: vertical field of view in radians
//   - aspect: viewport aspect ratio (width/height)
//   - near: near clipping plane distance (must be > 0)
//   - far: far clipping plane distance (must be > near)
//
// Returns:
//   - mgl32.Mat4: the projection matrix
func PerspectiveZO(fovY, aspect, near, far float32) mgl32.Mat4 {
	f := 1.0 / float32(math.Tan(float64(fovY)/2.0))

	var out mgl32.Mat4
	out[0] = f / aspect
	out[5] = f
	out[10] = far / (near - far)
	out[11] = -1.0
	out[14] = (near * far) / (near - far)
	return out
}

// OrthoZO creates a right-handed orthographic projection matrix with WebGPU [0, 1] depth.
// Shadow cascades use this to build their light-space projections.
//
// Parameters:
//   - left, right, bottom, top: the view volume extents
//   - near, far: the depth extents
//
// Returns:
//   - mgl32.Mat4: the projection matrix
func OrthoZO(left, right, bottom, top, near, far float32) mgl32.Mat4 {
	out := mgl32.Ident4()
	out[0] = 2 / (right - left)
	out[5] = 2 / (top - bottom)
	out[10] = 1 / (near - far)
	out[12] = -(right + left) / (right - left)
	out[13] = -(top + bottom) / (top - bottom)
	out[14] = near / (near - far)
	return out
}

// AffineRows returns the upper 3 rows of a column-major 4x4 transform. The bottom row of an
// affine transform is always (0, 0, 0, 1) and is dropped to keep per-instance GPU records compact;
// shaders rebuild the position as dot(row, vec4(p, 1)) per component.
//
// Parameters:
//   - m: the affine transform
//
// Returns:
//   - [3][4]float32: rows 0..2, each (x, y, z, translation)
func AffineRows(m mgl32.Mat4) [3][4]float32 {
	var out [3][4]float32
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			out[row][col] = m.At(row, col)
		}
	}
	return out
}

// AlignUp rounds v up to the next multiple of align. align must be a power of two.
//
// Parameters:
//   - v: the value to round
//   - align: the power-of-two alignment
//
// Returns:
//   - uint64: the aligned value
func AlignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
