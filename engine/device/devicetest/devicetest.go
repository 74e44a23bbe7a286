// Package devicetest provides an in-memory device.Device and device.Encoder that record every
// call, for tests of code that drives the GPU.
package devicetest

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
)

// Buffer is a host-memory buffer. Contents reflects every write.
type Buffer struct {
	label    string
	Usage    device.BufferUsage
	Contents []byte
	Released bool
}

func (b *Buffer) Label() string { return b.label }
func (b *Buffer) Size() uint64  { return uint64(len(b.Contents)) }
func (b *Buffer) Release()      { b.Released = true }

// BindGroup records what it was created from.
type BindGroup struct {
	Label    string
	Pipeline pipeline.Pipeline
	Bindings []device.Binding
	Released bool
}

func (g *BindGroup) Release() { g.Released = true }

// Write is one recorded WriteBuffer call.
type Write struct {
	Buffer *Buffer
	Offset uint64
	Size   int
}

// Device records buffer creation, writes, bind groups, and idle waits.
type Device struct {
	Buffers    []*Buffer
	Writes     []Write
	BindGroups []*BindGroup
	WaitIdles  int

	// FailCreate makes CreateBuffer fail when set.
	FailCreate error
}

var _ device.Device = &Device{}

// NewDevice creates an empty recording device.
func NewDevice() *Device {
	return &Device{}
}

func (d *Device) CreateBuffer(label string, usage device.BufferUsage, size uint64, data []byte) (device.Buffer, error) {
	if d.FailCreate != nil {
		return nil, d.FailCreate
	}
	if uint64(len(data)) > size {
		return nil, fmt.Errorf("buffer %q: %d bytes of data exceed size %d", label, len(data), size)
	}
	b := &Buffer{label: label, Usage: usage, Contents: make([]byte, size)}
	copy(b.Contents, data)
	d.Buffers = append(d.Buffers, b)
	return b, nil
}

func (d *Device) WriteBuffer(buf device.Buffer, offset uint64, data []byte) {
	b := buf.(*Buffer)
	if b.Released {
		panic(fmt.Sprintf("write to released buffer %q", b.label))
	}
	if offset+uint64(len(data)) > uint64(len(b.Contents)) {
		panic(fmt.Sprintf("write of %d bytes at %d overflows buffer %q of %d bytes", len(data), offset, b.label, len(b.Contents)))
	}
	copy(b.Contents[offset:], data)
	d.Writes = append(d.Writes, Write{Buffer: b, Offset: offset, Size: len(data)})
}

func (d *Device) CreateBindGroup(label string, p pipeline.Pipeline, bindings []device.Binding) (device.BindGroup, error) {
	for _, b := range bindings {
		if b.Buffer.(*Buffer).Released {
			return nil, fmt.Errorf("bind group %q binds released buffer %q", label, b.Buffer.Label())
		}
	}
	g := &BindGroup{Label: label, Pipeline: p, Bindings: append([]device.Binding(nil), bindings...)}
	d.BindGroups = append(d.BindGroups, g)
	return g, nil
}

func (d *Device) WaitIdle() {
	d.WaitIdles++
}

// Live returns the buffers that have not been released.
func (d *Device) Live() []*Buffer {
	var out []*Buffer
	for _, b := range d.Buffers {
		if !b.Released {
			out = append(out, b)
		}
	}
	return out
}

// ResetLog clears recorded writes and idle waits but keeps the resources.
func (d *Device) ResetLog() {
	d.Writes = nil
	d.WaitIdles = 0
}

// Dispatch is one recorded compute dispatch.
type Dispatch struct {
	Pipeline  pipeline.Pipeline
	BindGroup *BindGroup
	Threads   uint32
}

// Draw is one recorded indirect draw.
type Draw struct {
	Pipeline  pipeline.Pipeline
	BindGroup *BindGroup
	Indirect  *Buffer
	Offset    uint64
}

// Encoder records dispatches and draws in order.
type Encoder struct {
	Dispatches []Dispatch
	Draws      []Draw
}

var _ device.Encoder = &Encoder{}

func (e *Encoder) Dispatch(p pipeline.Pipeline, bg device.BindGroup, threads uint32) {
	e.Dispatches = append(e.Dispatches, Dispatch{Pipeline: p, BindGroup: bg.(*BindGroup), Threads: threads})
}

func (e *Encoder) DrawIndirect(p pipeline.Pipeline, bg device.BindGroup, indirect device.Buffer, offset uint64) {
	e.Draws = append(e.Draws, Draw{Pipeline: p, BindGroup: bg.(*BindGroup), Indirect: indirect.(*Buffer), Offset: offset})
}

// Frame is a recording device.Frame. Passes logs pass boundaries in order: "main",
// "shadow <layer>", "end", "submit" and "release".
type Frame struct {
	Encoder
	Passes []string

	// Cascades is the number of shadow layers BeginShadowPass accepts.
	Cascades int
}

var _ device.Frame = &Frame{}

func (f *Frame) BeginMainPass() {
	f.Passes = append(f.Passes, "main")
}

func (f *Frame) BeginShadowPass(layer int) error {
	if layer < 0 || layer >= f.Cascades {
		return fmt.Errorf("shadow layer %d out of range", layer)
	}
	f.Passes = append(f.Passes, fmt.Sprintf("shadow %d", layer))
	return nil
}

func (f *Frame) EndPass() {
	f.Passes = append(f.Passes, "end")
}

func (f *Frame) Submit() error {
	f.Passes = append(f.Passes, "submit")
	return nil
}

func (f *Frame) Release() {
	f.Passes = append(f.Passes, "release")
}
