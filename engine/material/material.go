package material

// Texture is the identity of a sampled image. Device textures satisfy it; materials only compare
// it, they never read from it.
type Texture interface {
	Label() string
}

// AlphaFunc identifies how a material's fragments are composited with the framebuffer.
// The value drives both pipeline selection and the draw order of indirect commands.
type AlphaFunc uint8

const (
	// InvalidAlpha marks a material whose blend mode could not be determined.
	InvalidAlpha AlphaFunc = iota
	// AlphaTest discards fragments below the alpha cutoff and writes depth.
	AlphaTest
	// Transparent blends fragments using straight alpha.
	Transparent
	// AdditiveLight adds fragment color to the framebuffer.
	AdditiveLight
	// Multiply multiplies the framebuffer by the fragment color.
	Multiply
	// Multiply2 multiplies the framebuffer by twice the fragment color.
	Multiply2
	// Solid is fully opaque geometry.
	Solid
	// Water is opaque-ordered geometry with animated surface waves.
	Water
)

// String returns a readable name for the alpha function, used in logs and pipeline keys.
func (a AlphaFunc) String() string {
	switch a {
	case AlphaTest:
		return "alpha_test"
	case Transparent:
		return "transparent"
	case AdditiveLight:
		return "additive"
	case Multiply:
		return "multiply"
	case Multiply2:
		return "multiply2"
	case Solid:
		return "solid"
	case Water:
		return "water"
	default:
		return "invalid"
	}
}

// Material is a value-comparable description of a surface. Two materials are equal when every
// field compares equal with ==, which is what bucket deduplication relies on: materials are
// copied into buckets by value and never shared by pointer.
//
// Texture is compared by identity (the dynamic type and pointer held by the interface).
type Material struct {
	// Texture is the diffuse texture, or nil for untextured geometry.
	Texture Texture
	// Alpha selects the blend mode.
	Alpha AlphaFunc
	// TexAniMapDirPeriod is the texture-coordinate scroll direction scaled by its period, in texels.
	TexAniMapDirPeriod [2]int32
	// WaveMaxAmplitude is the peak vertex displacement of animated water/foliage, 0 for none.
	WaveMaxAmplitude float32
	// AlphaWeight scales the output alpha for transparent classes.
	AlphaWeight float32
	// EnvMapping is the environment reflection strength, 0 for none.
	EnvMapping float32
	// IsGhost draws the surface as a translucent ghost regardless of Alpha.
	IsGhost bool
}

// NewMaterial creates a Material with AlphaTest blending and unit alpha weight, then applies options.
//
// Parameters:
//   - options: functional options to configure the material
//
// Returns:
//   - Material: the configured material value
func NewMaterial(options ...MaterialBuilderOption) Material {
	m := Material{
		Alpha:       AlphaTest,
		AlphaWeight: 1,
	}
	for _, opt := range options {
		opt(&m)
	}
	return m
}

// IsSolid reports whether the material is drawn in the opaque phase and writes depth.
func (m Material) IsSolid() bool {
	if m.IsGhost {
		return false
	}
	switch m.Alpha {
	case Solid, AlphaTest, Water:
		return true
	}
	return false
}

// AlphaOrder returns the sort key used to order draw commands. Opaque classes sort before
// blended classes so that transparent geometry is composited over a finished depth buffer.
// Ghost materials always sort as Transparent.
//
// Returns:
//   - int: the sort key, lower draws first
func (m Material) AlphaOrder() int {
	return alphaOrder(m.Alpha, m.IsGhost)
}

func alphaOrder(a AlphaFunc, ghost bool) int {
	if ghost {
		return alphaOrder(Transparent, false)
	}
	switch a {
	case Solid:
		return 0
	case AlphaTest:
		return 1
	case Water:
		return 2
	case Multiply, Multiply2:
		return 3
	case Transparent:
		return 4
	case AdditiveLight:
		return 5
	}
	return 6
}
