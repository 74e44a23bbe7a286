// Package device is the narrow GPU surface the draw storage is written against: buffers, bind
// groups, an idle wait, compute dispatch, and indirect draws. The wgpu implementation lives in
// this package too; tests substitute a recording fake.
package device

import (
	"errors"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
)

// WorkgroupSize is the compute workgroup width every kernel dispatched through Encoder.Dispatch
// must declare with @workgroup_size.
const WorkgroupSize = 64

// BufferUsage describes how a buffer is bound. Every buffer is also a copy destination.
type BufferUsage uint32

const (
	// UsageStorage binds the buffer as a storage buffer.
	UsageStorage BufferUsage = 1 << iota
	// UsageUniform binds the buffer as a uniform buffer.
	UsageUniform
	// UsageIndirect allows the buffer as an indirect draw argument source.
	UsageIndirect
	// UsageVertex binds the buffer as a vertex buffer.
	UsageVertex
	// UsageIndex binds the buffer as an index buffer.
	UsageIndex
)

var (
	// ErrPipelineNotCreated is returned when a pipeline is used before the device created it.
	ErrPipelineNotCreated = errors.New("device: pipeline has not been created")
	// ErrForeignResource is returned when a resource from another device is passed in.
	ErrForeignResource = errors.New("device: resource belongs to a different device")
)

// Buffer is a GPU buffer.
type Buffer interface {
	// Label returns the debug label the buffer was created with.
	Label() string
	// Size returns the allocated size in bytes.
	Size() uint64
	// Release frees the GPU allocation. The buffer must not be used afterwards.
	Release()
}

// Texture is a sampled GPU image. It satisfies material.Texture.
type Texture interface {
	Label() string
	Release()
}

// BindGroup is a set of resources bound to group 0 of a pipeline.
type BindGroup interface {
	Release()
}

// Binding is one buffer entry of a bind group. Size 0 binds from Offset to the end of the buffer.
type Binding struct {
	Binding uint32
	Buffer  Buffer
	Offset  uint64
	Size    uint64
}

// Device creates and updates GPU resources.
type Device interface {
	// CreateBuffer allocates a buffer. When data is non-nil it is uploaded at offset 0 and must
	// not exceed size.
	//
	// Parameters:
	//   - label: debug label
	//   - usage: binding usage flags
	//   - size: size in bytes, rounded up to 4 by implementations
	//   - data: optional initial contents
	//
	// Returns:
	//   - Buffer: the new buffer
	//   - error: an error if allocation fails
	CreateBuffer(label string, usage BufferUsage, size uint64, data []byte) (Buffer, error)

	// WriteBuffer queues a write of data into buf at offset. The data is copied before returning.
	WriteBuffer(buf Buffer, offset uint64, data []byte)

	// CreateBindGroup builds group 0 of p from the given bindings.
	//
	// Parameters:
	//   - label: debug label
	//   - p: the pipeline whose layout the group must match
	//   - bindings: the buffer entries
	//
	// Returns:
	//   - BindGroup: the bind group
	//   - error: an error if p was not created or the entries do not match its layout
	CreateBindGroup(label string, p pipeline.Pipeline, bindings []Binding) (BindGroup, error)

	// WaitIdle blocks until every submitted command has finished on the GPU.
	WaitIdle()
}

// Encoder records GPU work for one frame.
type Encoder interface {
	// Dispatch runs the compute pipeline p over threads invocations, WorkgroupSize per group.
	Dispatch(p pipeline.Pipeline, bg BindGroup, threads uint32)

	// DrawIndirect issues one indirect draw whose arguments are read from indirect at offset.
	DrawIndirect(p pipeline.Pipeline, bg BindGroup, indirect Buffer, offset uint64)
}

// Workgroups returns the number of WorkgroupSize-wide groups needed to cover threads.
func Workgroups(threads uint32) uint32 {
	return (threads + WorkgroupSize - 1) / WorkgroupSize
}
