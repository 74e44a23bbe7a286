package camera

import "github.com/go-gl/mathgl/mgl32"

// OrbitControllerOption is a functional option used to configure an OrbitController during construction.
type OrbitControllerOption func(*orbitControllerImpl)

// WithTarget sets the pivot point.
//
// Parameters:
//   - target: the world-space look-at point
//
// Returns:
//   - OrbitControllerOption: a function that sets the target
func WithTarget(target mgl32.Vec3) OrbitControllerOption {
	return func(oc *orbitControllerImpl) {
		oc.target = target
	}
}

// WithRadius sets the initial distance from the target.
//
// Parameters:
//   - radius: distance from target
//
// Returns:
//   - OrbitControllerOption: a function that sets the radius
func WithRadius(radius float32) OrbitControllerOption {
	return func(oc *orbitControllerImpl) {
		oc.radius = radius
	}
}

// WithAngles sets the initial azimuth and elevation in radians.
//
// Parameters:
//   - azimuth: horizontal angle around +Y
//   - elevation: vertical angle from the horizontal plane
//
// Returns:
//   - OrbitControllerOption: a function that sets both angles
func WithAngles(azimuth, elevation float32) OrbitControllerOption {
	return func(oc *orbitControllerImpl) {
		oc.azimuth = azimuth
		oc.elevation = elevation
	}
}

// WithRadiusBounds sets the zoom limits.
//
// Parameters:
//   - minRadius: closest allowed distance
//   - maxRadius: farthest allowed distance
//
// Returns:
//   - OrbitControllerOption: a function that sets the radius bounds
func WithRadiusBounds(minRadius, maxRadius float32) OrbitControllerOption {
	return func(oc *orbitControllerImpl) {
		oc.minRadius = minRadius
		oc.maxRadius = maxRadius
	}
}

// WithSpeeds sets the per-step orbit angle and the zoom multiplier.
//
// Parameters:
//   - orbit: radians per orbit step
//   - zoom: distance per zoom unit
//
// Returns:
//   - OrbitControllerOption: a function that sets both speeds
func WithSpeeds(orbit, zoom float32) OrbitControllerOption {
	return func(oc *orbitControllerImpl) {
		oc.orbitSpeed = orbit
		oc.zoomSpeed = zoom
	}
}
