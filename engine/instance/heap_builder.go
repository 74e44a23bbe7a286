package instance

// HeapBuilderOption is a functional option used to configure a Heap during construction via NewHeap.
type HeapBuilderOption func(*heapImpl)

// WithInitialCapacity sets the slot count reserved on first allocation. The heap doubles from there.
//
// Parameters:
//   - slots: the minimum number of slots, rounded up to a multiple of 64
//
// Returns:
//   - HeapBuilderOption: a function that sets the initial capacity
func WithInitialCapacity(slots int) HeapBuilderOption {
	return func(h *heapImpl) {
		h.minSlots = max(slots, 1)
	}
}
