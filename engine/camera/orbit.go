package camera

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

type orbitControllerImpl struct {
	mu *sync.Mutex

	target mgl32.Vec3

	radius    float32
	azimuth   float32
	elevation float32

	minRadius    float32
	maxRadius    float32
	minElevation float32
	maxElevation float32

	orbitSpeed float32
	zoomSpeed  float32
}

// OrbitController places the eye on a sphere around a target point. Angles are in radians;
// elevation is measured from the horizontal plane.
type OrbitController interface {
	// Position returns the eye position derived from target, radius, azimuth, and elevation.
	Position() mgl32.Vec3

	// Target returns the look-at point.
	Target() mgl32.Vec3

	// SetTarget moves the pivot point; the eye follows.
	SetTarget(target mgl32.Vec3)

	// Orbit rotates by the given number of orbit speed steps. Elevation is clamped to bounds.
	//
	// Parameters:
	//   - azimuthSteps: horizontal steps, positive rotates right
	//   - elevationSteps: vertical steps, positive tilts up
	Orbit(azimuthSteps, elevationSteps float32)

	// Zoom moves toward the target by delta zoom speed units. Radius is clamped to bounds.
	Zoom(delta float32)

	// Radius returns the distance from eye to target.
	Radius() float32
}

var _ OrbitController = &orbitControllerImpl{}

// NewOrbitController creates an orbit controller at radius 10 looking slightly down at the origin.
//
// Parameters:
//   - options: functional options to configure the controller
//
// Returns:
//   - OrbitController: the newly created controller
func NewOrbitController(options ...OrbitControllerOption) OrbitController {
	oc := &orbitControllerImpl{
		mu:           &sync.Mutex{},
		radius:       10.0,
		elevation:    float32(math.Pi / 6),
		minRadius:    0.5,
		maxRadius:    80.0,
		minElevation: float32(-math.Pi/2 + 0.1),
		maxElevation: float32(math.Pi/2 - 0.1),
		orbitSpeed:   0.03,
		zoomSpeed:    1.0,
	}
	for _, option := range options {
		option(oc)
	}
	oc.clamp()
	return oc
}

func (oc *orbitControllerImpl) Position() mgl32.Vec3 {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	cosElev := float32(math.Cos(float64(oc.elevation)))
	sinElev := float32(math.Sin(float64(oc.elevation)))
	cosAzim := float32(math.Cos(float64(oc.azimuth)))
	sinAzim := float32(math.Sin(float64(oc.azimuth)))
	return oc.target.Add(mgl32.Vec3{
		oc.radius * cosElev * sinAzim,
		oc.radius * sinElev,
		oc.radius * cosElev * cosAzim,
	})
}

func (oc *orbitControllerImpl) Target() mgl32.Vec3 {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.target
}

func (oc *orbitControllerImpl) SetTarget(target mgl32.Vec3) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.target = target
}

func (oc *orbitControllerImpl) Orbit(azimuthSteps, elevationSteps float32) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.azimuth += azimuthSteps * oc.orbitSpeed
	oc.elevation += elevationSteps * oc.orbitSpeed
	oc.clamp()
}

func (oc *orbitControllerImpl) Zoom(delta float32) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.radius -= delta * oc.zoomSpeed
	oc.clamp()
}

func (oc *orbitControllerImpl) Radius() float32 {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.radius
}

// clamp keeps radius and elevation inside their bounds. Caller must hold the mutex or own oc.
func (oc *orbitControllerImpl) clamp() {
	oc.radius = mgl32.Clamp(oc.radius, oc.minRadius, oc.maxRadius)
	oc.elevation = mgl32.Clamp(oc.elevation, oc.minElevation, oc.maxElevation)
}
