package scene

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-meshlet/common"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/draw_storage"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/game_object"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/instance"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/material"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/mesh"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrNotRenderable is returned by the spawn methods when no pipeline draws the material and
// object type. Nothing is allocated in that case.
var ErrNotRenderable = errors.New("scene: no pipeline renders the object")

// Rig is an animated object together with its bone palette. Bones are stacked along +Y, Segment
// apart, and sway about Z.
type Rig struct {
	Item    draw_storage.Item
	Palette instance.Id
	Segment float32
	Sway    float32
	Phase   float32
}

type morpher struct {
	item  draw_storage.Item
	phase float32
}

// Scene owns the simulated content of a draw storage: movable game objects, animated rigs, and
// morphing objects. Update advances all of them and pushes the results into the draw storage.
// Thread-safe for concurrent access.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// Storage returns the draw storage the scene allocates in.
	Storage() draw_storage.DrawStorage

	// Spawn allocates geometry in the draw storage and adds a GameObject drawing it.
	//
	// Parameters:
	//   - geom: the geometry
	//   - mat: the material
	//   - iboOff: first index, meshlet aligned
	//   - iboLen: index count, meshlet aligned
	//   - objType: ObjectStatic, ObjectMovable or ObjectMorph
	//   - options: options applied to the new GameObject
	//
	// Returns:
	//   - game_object.GameObject: the added object
	//   - error: ErrNotRenderable when no pipeline draws the object
	Spawn(geom mesh.Geometry, mat material.Material, iboOff, iboLen int, objType pipeline.ObjectType, options ...game_object.GameObjectBuilderOption) (game_object.GameObject, error)

	// SpawnRig allocates a bone palette and an animated object using it.
	//
	// Parameters:
	//   - geom: the skinned geometry
	//   - mat: the material
	//   - iboLen: index count from offset 0, meshlet aligned
	//   - bones: the palette size
	//   - segment: the rest distance between bones
	//   - sway: the peak bone rotation in radians, 0 for a rest pose
	//   - transform: the object-to-world matrix
	//
	// Returns:
	//   - *Rig: the rig
	//   - error: ErrNotRenderable when no pipeline draws the object
	SpawnRig(geom mesh.Geometry, mat material.Material, iboLen, bones int, segment, sway float32, transform mgl32.Mat4) (*Rig, error)

	// Add registers an object whose item was allocated by the caller, assigns it an ID, and
	// pushes its transform and ghost state. Morph items are animated by Update like spawned ones.
	//
	// Returns:
	//   - uint64: the assigned ID
	//   - error: an error if the item is stale
	Add(obj game_object.GameObject) (uint64, error)

	// Get returns the object with the given ID, or nil.
	Get(id uint64) game_object.GameObject

	// Remove frees an object's item and forgets it. Unknown IDs are ignored.
	//
	// Returns:
	//   - error: an error if the item was stale
	Remove(id uint64) error

	// Objects returns the registered objects in ID order.
	Objects() []game_object.GameObject

	// Rigs returns the animated rigs.
	Rigs() []*Rig

	// Count returns the number of registered objects.
	Count() int

	// SetGhost sets the ghost state of every registered object.
	//
	// Returns:
	//   - error: the first draw storage error
	SetGhost(ghost bool) error

	// Update advances objects, rigs, and morphs by deltaTime seconds. Object transforms are
	// computed on the worker pool and applied to the draw storage serially.
	//
	// Returns:
	//   - error: the first draw storage error
	Update(deltaTime float32) error

	// Clear frees every object, rig, and palette.
	//
	// Returns:
	//   - error: the joined draw storage errors
	Clear() error

	// Release stops the compute workers. Objects stay allocated; Update keeps working serially.
	Release()
}

type scene struct {
	mu      *sync.RWMutex
	name    string
	storage draw_storage.DrawStorage
	log     *slog.Logger

	registry map[uint64]game_object.GameObject
	nextID   uint64
	rigs     []*Rig
	morphs   []morpher
	elapsed  float32

	// computePool runs the per-object transform work of Update. Workers persist across
	// frames.
	computePool       worker.DynamicWorkerPool
	computeWorkers    int
	parallelThreshold int

	moving   []game_object.GameObject // scratch, reused across updates
	matrices []mgl32.Mat4
}

var _ Scene = &scene{}

// NewScene creates an empty Scene over a draw storage. NewScene panics if storage is nil.
//
// Parameters:
//   - name: the name of the scene
//   - storage: the draw storage objects are allocated in
//   - options: functional options to further configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, storage draw_storage.DrawStorage, options ...SceneBuilderOption) Scene {
	if storage == nil {
		panic("scene: NewScene requires a non-nil DrawStorage")
	}
	s := &scene{
		mu:                &sync.RWMutex{},
		name:              name,
		storage:           storage,
		log:               slog.New(slog.DiscardHandler),
		registry:          make(map[uint64]game_object.GameObject),
		nextID:            1,
		computeWorkers:    max(runtime.NumCPU()-1, 1),
		parallelThreshold: 512,
	}
	for _, option := range options {
		option(s)
	}

	// Initialize the compute pool after options so WithComputeWorkers can override the default.
	s.computePool = worker.NewDynamicWorkerPool(s.computeWorkers, 256, 1*time.Second)
	return s
}

func (s *scene) Name() string {
	return s.name
}

func (s *scene) Storage() draw_storage.DrawStorage {
	return s.storage
}

func (s *scene) Spawn(geom mesh.Geometry, mat material.Material, iboOff, iboLen int, objType pipeline.ObjectType, options ...game_object.GameObjectBuilderOption) (game_object.GameObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.storage.Allocate(geom, mat, iboOff, iboLen, objType)
	if item.IsEmpty() {
		return nil, ErrNotRenderable
	}
	obj := game_object.NewGameObject(options...)
	obj.SetItem(item)
	if _, err := s.add(obj); err != nil {
		return nil, errors.Join(err, s.storage.Free(item))
	}
	return obj, nil
}

func (s *scene) SpawnRig(geom mesh.Geometry, mat material.Material, iboLen, bones int, segment, sway float32, transform mgl32.Mat4) (*Rig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	heap := s.storage.Instances()
	palette := heap.AllocRange(bones)
	item := s.storage.AllocateAnimated(geom, mat, palette.Slot(), 0, iboLen)
	if item.IsEmpty() {
		heap.Free(palette)
		return nil, ErrNotRenderable
	}
	r := &Rig{
		Item:    item,
		Palette: palette,
		Segment: segment,
		Sway:    sway,
		Phase:   float32(len(s.rigs)) * 0.9,
	}
	if err := s.storage.UpdateTransform(item, transform); err != nil {
		heap.Free(palette)
		return nil, fmt.Errorf("scene %s: %w", s.name, errors.Join(err, s.storage.Free(item)))
	}
	r.pose(s.elapsed)
	s.rigs = append(s.rigs, r)
	s.log.Debug("rig spawned", slog.String("scene", s.name), slog.Int("bones", bones), slog.Uint64("palette", uint64(palette.Slot())))
	return r, nil
}

func (s *scene) Add(obj game_object.GameObject) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(obj)
}

// add registers obj. Caller must hold the write lock.
func (s *scene) add(obj game_object.GameObject) (uint64, error) {
	if err := s.storage.UpdateTransform(obj.Item(), obj.ModelMatrix()); err != nil {
		return 0, fmt.Errorf("scene %s: %w", s.name, err)
	}
	if obj.Ghost() {
		if err := s.storage.UpdateGhost(obj.Item(), true); err != nil {
			return 0, fmt.Errorf("scene %s: %w", s.name, err)
		}
	}
	if obj.ID() == 0 {
		obj.SetID(s.nextID)
		s.nextID++
	}
	s.registry[obj.ID()] = obj
	item := obj.Item()
	if item.ObjectType() == pipeline.ObjectMorph && !slices.ContainsFunc(s.morphs, func(m morpher) bool { return m.item == item }) {
		s.morphs = append(s.morphs, morpher{item: item, phase: float32(obj.ID()) * 0.7})
	}
	return obj.ID(), nil
}

func (s *scene) Get(id uint64) game_object.GameObject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry[id]
}

func (s *scene) Remove(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.registry[id]
	if !ok {
		return nil
	}
	delete(s.registry, id)
	item := obj.Item()
	s.morphs = slices.DeleteFunc(s.morphs, func(m morpher) bool { return m.item == item })
	if err := s.storage.Free(item); err != nil {
		return fmt.Errorf("scene %s: %w", s.name, err)
	}
	return nil
}

func (s *scene) Objects() []game_object.GameObject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedObjects()
}

// sortedObjects returns the registry in ID order. Caller must hold the lock.
func (s *scene) sortedObjects() []game_object.GameObject {
	out := make([]game_object.GameObject, 0, len(s.registry))
	for _, obj := range s.registry {
		out = append(out, obj)
	}
	slices.SortFunc(out, func(a, b game_object.GameObject) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return out
}

func (s *scene) Rigs() []*Rig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rigs)
}

func (s *scene) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.registry)
}

func (s *scene) SetGhost(ghost bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range s.sortedObjects() {
		obj.SetGhost(ghost)
		if err := s.storage.UpdateGhost(obj.Item(), ghost); err != nil {
			return fmt.Errorf("scene %s: %w", s.name, err)
		}
	}
	return nil
}

func (s *scene) Update(deltaTime float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed += deltaTime

	s.moving = s.moving[:0]
	for _, obj := range s.registry {
		if obj.Moving() {
			s.moving = append(s.moving, obj)
		}
	}
	s.advance(deltaTime)
	for i, obj := range s.moving {
		if err := s.storage.UpdateTransform(obj.Item(), s.matrices[i]); err != nil {
			return fmt.Errorf("scene %s: %w", s.name, err)
		}
	}

	for _, r := range s.rigs {
		r.pose(s.elapsed)
	}
	for _, m := range s.morphs {
		alpha := 0.5 + 0.5*float32(math.Sin(float64(s.elapsed+m.phase)))
		if err := s.storage.UpdateMorph(m.item, draw_storage.GPUMorphData{Sample0: 0, Sample1: 1, Alpha: alpha}); err != nil {
			return fmt.Errorf("scene %s: %w", s.name, err)
		}
	}
	return nil
}

// advance fills s.matrices with the advanced transforms of s.moving. Large sets are split into
// chunks computed on the compute pool.
func (s *scene) advance(deltaTime float32) {
	n := len(s.moving)
	s.matrices = slices.Grow(s.matrices[:0], n)[:n]
	if s.computePool == nil || s.computeWorkers <= 1 || n < s.parallelThreshold {
		for i, obj := range s.moving {
			obj.Advance(deltaTime)
			s.matrices[i] = obj.ModelMatrix()
		}
		return
	}

	// A WaitGroup provides per-frame barrier sync; the pool's own Wait blocks until workers
	// idle-exit.
	var wg sync.WaitGroup
	chunk := (n + s.computeWorkers - 1) / s.computeWorkers
	for task, start := 0, 0; start < n; task, start = task+1, start+chunk {
		lo, hi := start, min(start+chunk, n)
		wg.Add(1)
		s.computePool.SubmitTask(worker.Task{
			ID: task,
			Do: func() (any, error) {
				defer wg.Done()
				for i := lo; i < hi; i++ {
					s.moving[i].Advance(deltaTime)
					s.matrices[i] = s.moving[i].ModelMatrix()
				}
				return nil, nil
			},
		})
	}
	wg.Wait()
}

func (s *scene) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for id, obj := range s.registry {
		errs = append(errs, s.storage.Free(obj.Item()))
		delete(s.registry, id)
	}
	for _, r := range s.rigs {
		errs = append(errs, s.storage.Free(r.Item))
		s.storage.Instances().Free(r.Palette)
	}
	s.rigs = nil
	s.morphs = nil
	s.log.Debug("scene cleared", slog.String("scene", s.name))
	return errors.Join(errs...)
}

func (s *scene) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.computePool != nil {
		s.computePool.Stop()
		s.computePool = nil
	}
}

// pose writes the bone palette at time t. Each bone turns about Z around its joint and carries
// the bones above it.
func (r *Rig) pose(t float32) {
	bones := r.Palette.Count()
	data := make([]byte, 0, bones*(&draw_storage.GPUInstanceDesc{}).Size())
	parent := mgl32.Ident4()
	for i := range bones {
		angle := r.Sway * float32(math.Sin(float64(2*t+r.Phase+0.6*float32(i))))
		y := float32(i) * r.Segment
		joint := mgl32.Translate3D(0, y, 0).Mul4(mgl32.HomogRotate3DZ(angle)).Mul4(mgl32.Translate3D(0, -y, 0))
		parent = parent.Mul4(joint)
		desc := draw_storage.GPUInstanceDesc{Rows: common.AffineRows(parent)}
		data = append(data, desc.Marshal()...)
	}
	r.Palette.Set(data)
}
