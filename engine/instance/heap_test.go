package instance

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/device/devicetest"
)

func TestHeapAllocReusesLowestSlot(t *testing.T) {
	h := NewHeap("test", 16)
	a, b, c := h.Alloc(), h.Alloc(), h.Alloc()
	if a.Slot() != 0 || b.Slot() != 1 || c.Slot() != 2 {
		t.Fatalf("slots = %d %d %d, want 0 1 2", a.Slot(), b.Slot(), c.Slot())
	}
	h.Free(b)
	if h.Live() != 2 || h.Len() != 3 {
		t.Errorf("Live() = %d, Len() = %d, want 2, 3", h.Live(), h.Len())
	}
	if d := h.Alloc(); d.Slot() != 1 {
		t.Errorf("Alloc() after free = %d, want 1", d.Slot())
	}
	h.Free(c)
	if h.Len() != 2 {
		t.Errorf("Len() after freeing tail = %d, want 2", h.Len())
	}
}

func TestHeapCommitUploadsAndCoalesces(t *testing.T) {
	dev := devicetest.NewDevice()
	h := NewHeap("test", 8, WithInitialCapacity(4))
	ids := make([]Id, 5)
	for i := range ids {
		ids[i] = h.Alloc()
	}

	realloc, err := h.Commit(dev)
	if err != nil || !realloc {
		t.Fatalf("first Commit() = %v, %v, want true, nil", realloc, err)
	}
	if h.Buffer() == nil || h.Buffer().Size() < 5*8 {
		t.Fatalf("Buffer() too small after commit")
	}
	if realloc, _ := h.Commit(dev); realloc || len(dev.Writes) != 0 {
		t.Fatalf("idle Commit() realloc = %v, writes = %d, want false, 0", realloc, len(dev.Writes))
	}

	ids[3].Set([]byte{3, 0, 0, 0})
	ids[1].Set([]byte{1, 0, 0, 0})
	ids[2].Set([]byte{2, 0, 0, 0})
	if !h.Dirty() {
		t.Fatal("Dirty() = false after Set")
	}
	if _, err := h.Commit(dev); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(dev.Writes) != 1 {
		t.Fatalf("writes = %d, want 1 coalesced run", len(dev.Writes))
	}
	if w := dev.Writes[0]; w.Offset != 8 || w.Size != 24 {
		t.Errorf("write = offset %d size %d, want offset 8 size 24", w.Offset, w.Size)
	}
	buf := h.Buffer().(*devicetest.Buffer)
	if buf.Contents[16] != 2 || buf.Contents[24] != 3 {
		t.Errorf("buffer contents not updated: %v", buf.Contents[:32])
	}
}

func TestHeapGrowRetiresOldBuffer(t *testing.T) {
	dev := devicetest.NewDevice()
	h := NewHeap("test", 4, WithInitialCapacity(64))
	for i := 0; i < 64; i++ {
		h.Alloc()
	}
	if _, err := h.Commit(dev); err != nil {
		t.Fatal(err)
	}
	first := h.Buffer().(*devicetest.Buffer)

	id := h.Alloc()
	id.Set([]byte{7, 0, 0, 0})
	realloc, err := h.Commit(dev)
	if err != nil || !realloc {
		t.Fatalf("Commit() after growth = %v, %v, want true, nil", realloc, err)
	}
	if first.Released {
		t.Error("old buffer released before ReleaseRetired")
	}
	h.ReleaseRetired()
	if !first.Released {
		t.Error("old buffer not released by ReleaseRetired")
	}
	if got := h.Buffer().(*devicetest.Buffer).Contents[64*4]; got != 7 {
		t.Errorf("new buffer slot 64 = %d, want 7", got)
	}
}

func TestHeapSetPanicsOnOversizedRecord(t *testing.T) {
	h := NewHeap("test", 4)
	id := h.Alloc()
	defer func() {
		if recover() == nil {
			t.Error("Set() with oversized record did not panic")
		}
	}()
	id.Set(make([]byte, 8))
}

func TestEmptyId(t *testing.T) {
	var id Id
	if !id.IsEmpty() {
		t.Error("zero Id is not empty")
	}
	id.Set([]byte{1})
	NewHeap("test", 4).Free(id)
}

func TestHeapAllocRange(t *testing.T) {
	h := NewHeap("test", 4)
	a := h.Alloc()
	b := h.AllocRange(3)
	if b.Slot() != 1 || b.Count() != 3 {
		t.Fatalf("AllocRange(3) = slot %d count %d, want 1, 3", b.Slot(), b.Count())
	}
	h.Alloc()
	h.Free(a)
	// slot 0 is a run of one, too short for two.
	if d := h.AllocRange(2); d.Slot() != 5 {
		t.Errorf("AllocRange(2) = %d, want 5", d.Slot())
	}
	h.Free(b)
	if d := h.AllocRange(4); d.Slot() != 0 {
		t.Errorf("AllocRange(4) after freeing [0, 4) = %d, want 0", d.Slot())
	}
	if h.Live() != 7 {
		t.Errorf("Live() = %d, want 7", h.Live())
	}

	b2 := h.AllocRange(2)
	b2.Set(make([]byte, 8))
	defer func() {
		if recover() == nil {
			t.Error("Set() past the end of a range did not panic")
		}
	}()
	b2.Set(make([]byte, 12))
}

func TestHeapAllocRangeGrowsPastCapacity(t *testing.T) {
	dev := devicetest.NewDevice()
	h := NewHeap("test", 4, WithInitialCapacity(4))
	h.Alloc()
	r := h.AllocRange(16)
	if r.Slot() != 1 {
		t.Fatalf("AllocRange(16) = %d, want 1", r.Slot())
	}
	if _, err := h.Commit(dev); err != nil {
		t.Fatal(err)
	}
	if got := h.Buffer().Size(); got < 17*4 {
		t.Errorf("buffer size = %d, want at least %d", got, 17*4)
	}
}

func TestHeapCommitCoalescesReversedDirtySlots(t *testing.T) {
	dev := devicetest.NewDevice()
	h := NewHeap("test", 4, WithInitialCapacity(4096))
	ids := make([]Id, 4096)
	for i := range ids {
		ids[i] = h.Alloc()
	}
	if _, err := h.Commit(dev); err != nil {
		t.Fatal(err)
	}
	dev.ResetLog()

	for i := len(ids) - 1; i >= 0; i-- {
		if i%512 != 0 {
			ids[i].Set([]byte{byte(i), 0, 0, 0})
		}
	}
	if _, err := h.Commit(dev); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(dev.Writes) != 8 {
		t.Fatalf("writes = %d, want 8", len(dev.Writes))
	}
	for i, w := range dev.Writes {
		if want := uint64(i*512+1) * 4; w.Offset != want || w.Size != 511*4 {
			t.Errorf("write %d = offset %d size %d, want offset %d size %d", i, w.Offset, w.Size, want, 511*4)
		}
	}
}
