// Package instance manages GPU-resident per-object records: fixed-stride slots in one storage
// buffer, mirrored on the host, uploaded in coalesced runs of changed slots.
//
// A Heap is not safe for concurrent use. It is owned by the draw storage, which is
// single-threaded by contract.
package instance

import (
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
)

// Id is a run of one or more contiguous slots in a Heap. The zero Id is empty.
type Id struct {
	heap  *heapImpl
	slot  uint32
	count uint32
}

// IsEmpty reports whether the Id refers to no slot.
func (id Id) IsEmpty() bool {
	return id.heap == nil
}

// Slot returns the record index of the first slot, which is its byte offset divided by the heap
// stride. Shaders index the heap buffer with it.
func (id Id) Slot() uint32 {
	return id.slot
}

// Count returns the number of slots in the run.
func (id Id) Count() int {
	return int(id.count)
}

// Set copies records into the run starting at its first slot and marks them for upload. data
// longer than the run panics.
//
// Parameters:
//   - data: the record bytes, at most Count()*Stride() long
func (id Id) Set(data []byte) {
	if id.heap == nil {
		return
	}
	id.heap.set(id, data)
}

type heapImpl struct {
	label    string
	stride   int
	minSlots int

	data []byte
	used []uint64 // 1 bit per slot
	len  int      // slots below len may be used; all slots at or above it are free

	buffer  device.Buffer
	retired []device.Buffer

	dirtyIndices []uint32
	dirtyBitset  []uint64
}

// Heap is a growable array of fixed-stride GPU records.
type Heap interface {
	// Alloc reserves the lowest free slot, zeroed.
	//
	// Returns:
	//   - Id: the reserved slot
	Alloc() Id

	// AllocRange reserves the lowest run of n contiguous free slots, zeroed. Bone palettes use
	// it so a shader can index them from one base slot.
	//
	// Parameters:
	//   - n: the run length, at least 1
	//
	// Returns:
	//   - Id: the reserved run
	AllocRange(n int) Id

	// Free releases a run. Freeing an empty Id is a no-op; freeing another heap's Id panics.
	Free(id Id)

	// Stride returns the record size in bytes.
	Stride() int

	// Len returns one past the highest slot ever in use since the last shrink; the GPU buffer
	// holds at least this many records.
	Len() int

	// Live returns the number of reserved slots.
	Live() int

	// Buffer returns the current GPU buffer, nil before the first Commit.
	Buffer() device.Buffer

	// Dirty reports whether Commit has work to do.
	Dirty() bool

	// Commit uploads pending changes. When the GPU buffer is missing or too small a new one is
	// created with the full contents and the old one is retired, not released.
	//
	// Parameters:
	//   - dev: the device to allocate and write on
	//
	// Returns:
	//   - bool: true if the buffer was replaced
	//   - error: an error if buffer creation fails
	Commit(dev device.Device) (bool, error)

	// ReleaseRetired releases buffers replaced by Commit. Call it once the GPU is idle.
	ReleaseRetired()

	// Release frees the GPU buffer and every retired one.
	Release()
}

var _ Heap = &heapImpl{}

// NewHeap creates an empty heap of records of the given stride.
//
// Parameters:
//   - label: debug label of the GPU buffer
//   - stride: record size in bytes, a positive multiple of 4
//   - options: functional options to configure the heap
//
// Returns:
//   - Heap: the heap
func NewHeap(label string, stride int, options ...HeapBuilderOption) Heap {
	if stride <= 0 || stride%4 != 0 {
		panic(fmt.Sprintf("instance: stride %d is not a positive multiple of 4", stride))
	}
	h := &heapImpl{
		label:    label,
		stride:   stride,
		minSlots: 64,
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

func (h *heapImpl) Alloc() Id {
	return h.AllocRange(1)
}

func (h *heapImpl) AllocRange(n int) Id {
	if n < 1 {
		panic(fmt.Sprintf("instance: invalid run length %d", n))
	}
	slot := h.firstFreeRun(n)
	capSlots := len(h.data) / h.stride
	if slot+n > capSlots {
		h.grow(max(h.minSlots, capSlots*2, slot+n))
	}
	for s := slot; s < slot+n; s++ {
		h.used[s/64] |= 1 << (s % 64)
		h.enqueueDirty(uint32(s))
	}
	h.len = max(h.len, slot+n)
	clear(h.data[slot*h.stride : (slot+n)*h.stride])
	return Id{heap: h, slot: uint32(slot), count: uint32(n)}
}

func (h *heapImpl) Free(id Id) {
	if id.heap == nil {
		return
	}
	if id.heap != h {
		panic("instance: Id freed on a heap that does not own it")
	}
	for s := int(id.slot); s < int(id.slot+id.count); s++ {
		h.used[s/64] &^= 1 << (s % 64)
	}
	for h.len > 0 && !h.isUsed(h.len-1) {
		h.len--
	}
}

func (h *heapImpl) Stride() int {
	return h.stride
}

func (h *heapImpl) Len() int {
	return h.len
}

func (h *heapImpl) Live() int {
	n := 0
	for slot := 0; slot < h.len; slot++ {
		if h.isUsed(slot) {
			n++
		}
	}
	return n
}

func (h *heapImpl) Buffer() device.Buffer {
	return h.buffer
}

func (h *heapImpl) Dirty() bool {
	return h.needsRealloc() || len(h.dirtyIndices) > 0
}

func (h *heapImpl) Commit(dev device.Device) (bool, error) {
	if h.needsRealloc() {
		size := uint64(max(len(h.data), h.stride))
		buf, err := dev.CreateBuffer(h.label, device.UsageStorage, size, h.data)
		if err != nil {
			return false, fmt.Errorf("instance heap %q: %w", h.label, err)
		}
		if h.buffer != nil {
			h.retired = append(h.retired, h.buffer)
		}
		h.buffer = buf
		h.clearDirty()
		return true, nil
	}
	if len(h.dirtyIndices) == 0 {
		return false, nil
	}

	slices.Sort(h.dirtyIndices)
	runStart := h.dirtyIndices[0]
	runEnd := runStart + 1
	for _, idx := range h.dirtyIndices[1:] {
		if idx == runEnd {
			runEnd++
			continue
		}
		h.flushRange(dev, runStart, runEnd)
		runStart, runEnd = idx, idx+1
	}
	h.flushRange(dev, runStart, runEnd)
	h.clearDirty()
	return false, nil
}

func (h *heapImpl) ReleaseRetired() {
	for _, b := range h.retired {
		b.Release()
	}
	h.retired = h.retired[:0]
}

func (h *heapImpl) Release() {
	h.ReleaseRetired()
	if h.buffer != nil {
		h.buffer.Release()
		h.buffer = nil
	}
}

func (h *heapImpl) set(id Id, data []byte) {
	if len(data) > int(id.count)*h.stride {
		panic(fmt.Sprintf("instance: %d bytes exceed a run of %d slots of stride %d", len(data), id.count, h.stride))
	}
	if !h.isUsed(int(id.slot)) {
		panic(fmt.Sprintf("instance: write to free slot %d", id.slot))
	}
	off := int(id.slot) * h.stride
	copy(h.data[off:off+len(data)], data)
	for s := id.slot; int(s-id.slot)*h.stride < len(data); s++ {
		h.enqueueDirty(s)
	}
}

func (h *heapImpl) needsRealloc() bool {
	if h.len == 0 {
		return false
	}
	return h.buffer == nil || h.buffer.Size() < uint64(len(h.data))
}

// firstFreeRun returns the first slot of the lowest run of n free slots. The run may extend past
// the current capacity.
func (h *heapImpl) firstFreeRun(n int) int {
	total := len(h.used) * 64
	start, run := 0, 0
	for slot := 0; slot < total; slot++ {
		if n == 1 && h.used[slot/64] == ^uint64(0) {
			slot += 63
			start, run = slot+1, 0
			continue
		}
		if h.isUsed(slot) {
			start, run = slot+1, 0
			continue
		}
		run++
		if run == n {
			return start
		}
	}
	return start
}

func (h *heapImpl) isUsed(slot int) bool {
	return h.used[slot/64]&(1<<(slot%64)) != 0
}

// grow resizes host storage to hold slots records. The GPU buffer is replaced on the next Commit.
func (h *heapImpl) grow(slots int) {
	slots = (slots + 63) &^ 63
	data := make([]byte, slots*h.stride)
	copy(data, h.data)
	h.data = data

	used := make([]uint64, slots/64)
	copy(used, h.used)
	h.used = used

	bits := make([]uint64, slots/64)
	copy(bits, h.dirtyBitset)
	h.dirtyBitset = bits
}

// enqueueDirty adds a slot to the dirty queue if not already present.
func (h *heapImpl) enqueueDirty(slot uint32) {
	word := slot / 64
	bit := uint64(1) << (slot % 64)
	if h.dirtyBitset[word]&bit != 0 {
		return
	}
	h.dirtyBitset[word] |= bit
	h.dirtyIndices = append(h.dirtyIndices, slot)
}

func (h *heapImpl) clearDirty() {
	h.dirtyIndices = h.dirtyIndices[:0]
	clear(h.dirtyBitset)
}

// flushRange uploads the contiguous run of slots [start, end) as one write.
func (h *heapImpl) flushRange(dev device.Device, start, end uint32) {
	off := uint64(start) * uint64(h.stride)
	dev.WriteBuffer(h.buffer, off, h.data[off:uint64(end)*uint64(h.stride)])
}
