package camera

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-meshlet/common"
	"github.com/go-gl/mathgl/mgl32"
)

// View is what the draw storage reads from a viewpoint each frame: the two matrices that place
// and project the scene, and the near plane distance the cull kernel rejects against.
type View interface {
	View() mgl32.Mat4
	Projection() mgl32.Mat4
	ZNear() float32
}

type cameraImpl struct {
	mu *sync.Mutex

	up mgl32.Vec3

	fov    float32
	aspect float32
	near   float32
	far    float32

	view       mgl32.Mat4
	projection mgl32.Mat4

	controller OrbitController
}

// Camera is a perspective View driven by an optional OrbitController. Matrices are recomputed
// whenever a projection parameter changes and on Update.
type Camera interface {
	View

	// Fov returns the vertical field of view in radians.
	Fov() float32

	// Aspect returns the aspect ratio (width / height).
	Aspect() float32

	// Far returns the far clipping plane distance.
	Far() float32

	// Position returns the world-space eye position.
	Position() mgl32.Vec3

	// ViewProjection returns Projection() * View().
	ViewProjection() mgl32.Mat4

	// Controller returns the attached controller, or nil.
	Controller() OrbitController

	// SetAspect sets the aspect ratio and recomputes the projection.
	//
	// Parameters:
	//   - aspect: width / height
	SetAspect(aspect float32)

	// SetController attaches an OrbitController.
	//
	// Parameters:
	//   - ctrl: the controller to attach
	SetController(ctrl OrbitController)

	// Update reads position and target from the controller and recomputes the view matrix.
	// It does nothing without a controller.
	Update()
}

var _ Camera = &cameraImpl{}

// NewCamera creates a perspective camera with a 65 degree field of view and near/far planes of
// 0.01 and 85, looking down -Z from the origin until a controller is attached.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu:     &sync.Mutex{},
		up:     mgl32.Vec3{0, 1, 0},
		fov:    65.0 * (math.Pi / 180.0),
		aspect: 1.0,
		near:   0.01,
		far:    85.0,
		view:   mgl32.Ident4(),
	}
	for _, option := range options {
		option(c)
	}
	c.updateMatrices()
	return c
}

func (c *cameraImpl) View() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *cameraImpl) Projection() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projection
}

func (c *cameraImpl) ZNear() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) Far() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.far
}

func (c *cameraImpl) Position() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.Inv().Col(3).Vec3()
}

func (c *cameraImpl) ViewProjection() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projection.Mul4(c.view)
}

func (c *cameraImpl) Controller() OrbitController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
	c.updateMatrices()
}

func (c *cameraImpl) SetController(ctrl OrbitController) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
	c.updateMatrices()
}

func (c *cameraImpl) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil {
		return
	}
	c.updateMatrices()
}

// updateMatrices recomputes the projection, and the view when a controller is attached.
// Caller must hold the mutex.
func (c *cameraImpl) updateMatrices() {
	c.projection = common.PerspectiveZO(c.fov, c.aspect, c.near, c.far)
	if c.controller == nil {
		return
	}
	eye, target := c.controller.Position(), c.controller.Target()
	c.view = mgl32.LookAtV(eye, target, c.up)
}
