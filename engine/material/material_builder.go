package material

// MaterialBuilderOption is a functional option used to configure a Material during construction via NewMaterial.
type MaterialBuilderOption func(*Material)

// WithTexture sets the diffuse texture for the material.
//
// Parameters:
//   - tex: the texture to sample, compared by identity
//
// Returns:
//   - MaterialBuilderOption: a function that sets the material texture
func WithTexture(tex Texture) MaterialBuilderOption {
	return func(m *Material) {
		m.Texture = tex
	}
}

// WithAlpha sets the blend mode for the material.
//
// Parameters:
//   - a: the AlphaFunc to use
//
// Returns:
//   - MaterialBuilderOption: a function that sets the material blend mode
func WithAlpha(a AlphaFunc) MaterialBuilderOption {
	return func(m *Material) {
		m.Alpha = a
	}
}

// WithTextureAnimation sets the texture scroll direction and period.
//
// Parameters:
//   - dirPeriod: scroll direction scaled by period, in texels
//
// Returns:
//   - MaterialBuilderOption: a function that sets the texture animation
func WithTextureAnimation(dirPeriod [2]int32) MaterialBuilderOption {
	return func(m *Material) {
		m.TexAniMapDirPeriod = dirPeriod
	}
}

// WithWave sets the peak wave displacement for animated surfaces.
//
// Parameters:
//   - amplitude: the maximum vertex displacement
//
// Returns:
//   - MaterialBuilderOption: a function that sets the wave amplitude
func WithWave(amplitude float32) MaterialBuilderOption {
	return func(m *Material) {
		m.WaveMaxAmplitude = amplitude
	}
}

// WithAlphaWeight sets the alpha multiplier used by blended classes.
//
// Parameters:
//   - w: the alpha weight
//
// Returns:
//   - MaterialBuilderOption: a function that sets the alpha weight
func WithAlphaWeight(w float32) MaterialBuilderOption {
	return func(m *Material) {
		m.AlphaWeight = w
	}
}

// WithEnvMapping sets the environment reflection strength.
//
// Parameters:
//   - strength: reflection strength, 0 disables environment mapping
//
// Returns:
//   - MaterialBuilderOption: a function that sets the environment mapping strength
func WithEnvMapping(strength float32) MaterialBuilderOption {
	return func(m *Material) {
		m.EnvMapping = strength
	}
}

// WithGhost marks the material as a ghost surface.
//
// Parameters:
//   - ghost: true to draw the surface as a translucent ghost
//
// Returns:
//   - MaterialBuilderOption: a function that sets the ghost flag
func WithGhost(ghost bool) MaterialBuilderOption {
	return func(m *Material) {
		m.IsGhost = ghost
	}
}
