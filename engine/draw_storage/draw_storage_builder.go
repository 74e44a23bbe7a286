package draw_storage

import "log/slog"

// DrawStorageBuilderOption is a functional option used to configure a DrawStorage during
// construction via NewDrawStorage.
type DrawStorageBuilderOption func(*drawStorageImpl)

// WithLogger sets the logger commit reallocations are reported to. The default discards.
//
// Parameters:
//   - logger: the logger, nil keeps the default
//
// Returns:
//   - DrawStorageBuilderOption: a function that sets the logger
func WithLogger(logger *slog.Logger) DrawStorageBuilderOption {
	return func(d *drawStorageImpl) {
		if logger != nil {
			d.log = logger
		}
	}
}

// WithShadowCascades sets the number of shadow viewports culled and drawn after the main one.
//
// Parameters:
//   - n: the cascade count, 0 disables shadow viewports
//
// Returns:
//   - DrawStorageBuilderOption: a function that sets the cascade count
func WithShadowCascades(n int) DrawStorageBuilderOption {
	return func(d *drawStorageImpl) {
		d.cascades = max(n, 0)
	}
}

// WithMarshalWorkers sets how many workers serialize the cluster table on a full rebuild.
//
// Parameters:
//   - n: the worker count, at least 1
//
// Returns:
//   - DrawStorageBuilderOption: a function that sets the worker count
func WithMarshalWorkers(n int) DrawStorageBuilderOption {
	return func(d *drawStorageImpl) {
		d.marshalWorkers = max(n, 1)
	}
}

// WithParallelMarshalThreshold sets the cluster count from which full rebuilds are serialized
// in parallel chunks.
//
// Parameters:
//   - clusters: the threshold
//
// Returns:
//   - DrawStorageBuilderOption: a function that sets the threshold
func WithParallelMarshalThreshold(clusters int) DrawStorageBuilderOption {
	return func(d *drawStorageImpl) {
		d.parallelThreshold = clusters
	}
}

// WithInitialInstanceCapacity sets the slot count the instance heap reserves on first use.
//
// Parameters:
//   - slots: the initial capacity
//
// Returns:
//   - DrawStorageBuilderOption: a function that sets the initial capacity
func WithInitialInstanceCapacity(slots int) DrawStorageBuilderOption {
	return func(d *drawStorageImpl) {
		d.instanceCapacity = slots
	}
}

// WithBindless merges every bucket that resolves to the same pipelines and object type into one
// command. Every geometry must then live in one shared vertex and index buffer; allocating over
// another buffer panics.
//
// Without it, which is the default, commands are only merged across buckets whose geometries
// share buffers, and a geometry with its own buffers gets its own command per pipeline pair,
// since a command binds a single vertex and index buffer.
//
// Parameters:
//   - enabled: whether commands are shared across buckets
//
// Returns:
//   - DrawStorageBuilderOption: a function that sets bindless addressing
func WithBindless(enabled bool) DrawStorageBuilderOption {
	return func(d *drawStorageImpl) {
		d.bindless = enabled
	}
}
