package device

import "github.com/cogentcore/webgpu/wgpu"

// WGPUDeviceBuilderOption is a functional option used to configure a WGPUDevice during construction.
type WGPUDeviceBuilderOption func(*wgpuDeviceImpl)

// WithVSync selects FIFO presentation when enabled and immediate presentation otherwise.
//
// Parameters:
//   - enabled: whether to wait for vertical sync
//
// Returns:
//   - WGPUDeviceBuilderOption: a function that sets the present mode
func WithVSync(enabled bool) WGPUDeviceBuilderOption {
	return func(d *wgpuDeviceImpl) {
		if enabled {
			d.presentMode = wgpu.PresentModeFifo
		} else {
			d.presentMode = wgpu.PresentModeImmediate
		}
	}
}

// WithForceFallbackAdapter requests the software fallback adapter.
//
// Parameters:
//   - force: whether to force the fallback adapter
//
// Returns:
//   - WGPUDeviceBuilderOption: a function that sets the adapter preference
func WithForceFallbackAdapter(force bool) WGPUDeviceBuilderOption {
	return func(d *wgpuDeviceImpl) {
		d.forceFallback = force
	}
}

// WithShadowMaps sets the number and resolution of the shadow cascade depth textures.
//
// Parameters:
//   - cascades: the number of cascades
//   - size: the width and height of each cascade in texels
//
// Returns:
//   - WGPUDeviceBuilderOption: a function that sets the shadow map configuration
func WithShadowMaps(cascades, size int) WGPUDeviceBuilderOption {
	return func(d *wgpuDeviceImpl) {
		d.shadowCascades = max(cascades, 0)
		d.shadowMapSize = max(size, 1)
	}
}

// WithClearColor sets the color the main pass clears to.
//
// Parameters:
//   - c: the clear color
//
// Returns:
//   - WGPUDeviceBuilderOption: a function that sets the clear color
func WithClearColor(c wgpu.Color) WGPUDeviceBuilderOption {
	return func(d *wgpuDeviceImpl) {
		d.clearColor = c
	}
}
