package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/config"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/device"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/draw_storage"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/game_object"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/loader"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/material"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/mesh"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/pipeline"
	"github.com/Carmen-Shannon/oxy-meshlet/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
)

// ── Landscape ──────────────────────────────────────────────────────
const (
	// chunkQuads is the quad count per chunk side: 512 triangles, 8 meshlets.
	chunkQuads = 16
	// chunkSize is the world-space side of a chunk.
	chunkSize = 16.0
	// chunkIndexCount is the index range of one chunk in the terrain mesh.
	chunkIndexCount = chunkQuads * chunkQuads * 6
)

// ── Props and rigs ─────────────────────────────────────────────────
const (
	// spawnBatch is the number of props added or removed per key press.
	spawnBatch = 250

	columnBones   = 4
	columnSegment = 1.0
	columnSway    = 0.25
	columnRadius  = 0.3
	// columnRings is the ring count of the column, two per bone plus the top.
	columnRings = columnBones*2 + 1
)

// errNoLandscapePipeline is returned when the registry has no landscape rule.
var errNoLandscapePipeline = errors.New("viewer: no pipeline renders the landscape")

// heightAt returns the terrain height at a world position.
func heightAt(x, z float32) float32 {
	fx, fz := float64(x), float64(z)
	return float32(1.5*math.Sin(fx*0.15)*math.Cos(fz*0.12) + 0.5*math.Sin(fx*0.4+fz*0.3))
}

// normalAt returns the terrain normal at a world position from central differences.
func normalAt(x, z float32) mgl32.Vec3 {
	const e = 0.05
	dx := (heightAt(x+e, z) - heightAt(x-e, z)) / (2 * e)
	dz := (heightAt(x, z+e) - heightAt(x, z-e)) / (2 * e)
	return mgl32.Vec3{-dx, 1, -dz}.Normalize()
}

// shape is an index range of the prop atlas.
type shape struct {
	name     string
	off, len int
}

// world is the procedural content of the viewer: a chunked landscape, props scattered over it,
// and swaying columns. Props of every shape share one atlas mesh so that bindless commands can
// merge them.
type world struct {
	log      *slog.Logger
	rng      *rand.Rand
	settings config.SceneSettings
	extent   float32 // half the landscape side

	terrain *mesh.StaticMesh
	atlas   *mesh.StaticMesh
	column  *mesh.AnimMesh
	shapes  []shape

	ground, solid, glass, stone material.Material

	chunks []draw_storage.Item
	props  []uint64
}

// newWorld builds the meshes of the procedural scene. Nothing is allocated in a draw storage
// until populate.
//
// Parameters:
//   - dev: the device the meshes are uploaded to
//   - settings: the scene sizes and seed
//   - log: the logger
//
// Returns:
//   - *world: the world
//   - error: an error if a mesh cannot be created
func newWorld(dev device.Device, settings config.SceneSettings, log *slog.Logger) (*world, error) {
	w := &world{
		log:      log,
		rng:      rand.New(rand.NewSource(settings.Seed)),
		settings: settings,
		extent:   float32(settings.LandscapeChunks) * chunkSize / 2,
		ground:   material.NewMaterial(material.WithAlpha(material.Solid)),
		solid:    material.NewMaterial(material.WithAlpha(material.Solid)),
		glass:    material.NewMaterial(material.WithAlpha(material.Transparent), material.WithAlphaWeight(0.45)),
		stone:    material.NewMaterial(material.WithAlpha(material.AlphaTest)),
	}

	var err error
	if settings.LandscapeChunks > 0 {
		if w.terrain, err = w.buildTerrain(dev); err != nil {
			w.release()
			return nil, err
		}
	}
	if w.atlas, w.shapes, err = buildAtlas(dev); err != nil {
		w.release()
		return nil, err
	}
	if w.column, err = buildColumn(dev); err != nil {
		w.release()
		return nil, err
	}
	return w, nil
}

// buildTerrain lays out every chunk as its own vertex grid, with the index range of chunk i at
// [i*chunkIndexCount, (i+1)*chunkIndexCount).
func (w *world) buildTerrain(dev device.Device) (*mesh.StaticMesh, error) {
	n := w.settings.LandscapeChunks
	side := chunkQuads + 1
	verts := make([]mesh.GPUVertex, 0, n*n*side*side)
	indices := make([]uint32, 0, n*n*chunkIndexCount)
	step := float32(chunkSize) / chunkQuads

	for cz := range n {
		for cx := range n {
			base := uint32(len(verts))
			ox := -w.extent + float32(cx)*chunkSize
			oz := -w.extent + float32(cz)*chunkSize
			for j := range side {
				for i := range side {
					x, z := ox+float32(i)*step, oz+float32(j)*step
					verts = append(verts, mesh.GPUVertex{
						Position: [3]float32{x, heightAt(x, z), z},
						Normal:   normalAt(x, z),
						TexCoord: [2]float32{float32(i) / chunkQuads, float32(j) / chunkQuads},
					})
				}
			}
			for j := range chunkQuads {
				for i := range chunkQuads {
					v00 := base + uint32(j*side+i)
					v10 := v00 + 1
					v01 := v00 + uint32(side)
					v11 := v01 + 1
					indices = append(indices, v00, v01, v10, v10, v01, v11)
				}
			}
		}
	}
	return mesh.NewStaticMesh(dev, "Terrain", verts, indices)
}

// flatTriangles turns a triangle soup into flat-shaded vertices and sequential indices.
func flatTriangles(tris [][3]mgl32.Vec3, verts []mesh.GPUVertex, indices []uint32) ([]mesh.GPUVertex, []uint32) {
	for _, t := range tris {
		n := t[1].Sub(t[0]).Cross(t[2].Sub(t[0])).Normalize()
		for _, p := range t {
			indices = append(indices, uint32(len(verts)))
			verts = append(verts, mesh.GPUVertex{Position: p, Normal: n})
		}
	}
	return verts, indices
}

// boxTriangles returns a unit cube centered on the origin, wound counter-clockwise from outside.
func boxTriangles() [][3]mgl32.Vec3 {
	faces := [][3]mgl32.Vec3{
		// normal, u, v with u x v = normal
		{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		{{-1, 0, 0}, {0, 0, 1}, {0, 1, 0}},
		{{0, 1, 0}, {0, 0, 1}, {1, 0, 0}},
		{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}},
		{{0, 0, 1}, {1, 0, 0}, {0, 1, 0}},
		{{0, 0, -1}, {0, 1, 0}, {1, 0, 0}},
	}
	tris := make([][3]mgl32.Vec3, 0, 12)
	for _, f := range faces {
		n, u, v := f[0].Mul(0.5), f[1].Mul(0.5), f[2].Mul(0.5)
		c0 := n.Sub(u).Sub(v)
		c1 := n.Add(u).Sub(v)
		c2 := n.Add(u).Add(v)
		c3 := n.Sub(u).Add(v)
		tris = append(tris, [3]mgl32.Vec3{c0, c1, c2}, [3]mgl32.Vec3{c0, c2, c3})
	}
	return tris
}

// pyramidTriangles returns a square pyramid inside the unit cube, apex up.
func pyramidTriangles() [][3]mgl32.Vec3 {
	const h = 0.5
	apex := mgl32.Vec3{0, h, 0}
	c := [4]mgl32.Vec3{{-h, -h, h}, {h, -h, h}, {h, -h, -h}, {-h, -h, -h}}
	return [][3]mgl32.Vec3{
		{c[0], c[1], apex},
		{c[1], c[2], apex},
		{c[2], c[3], apex},
		{c[3], c[0], apex},
		{c[0], c[3], c[2]},
		{c[0], c[2], c[1]},
	}
}

// buildAtlas packs the prop shapes into one mesh, each padded to whole meshlets.
func buildAtlas(dev device.Device) (*mesh.StaticMesh, []shape, error) {
	var (
		verts   []mesh.GPUVertex
		indices []uint32
		shapes  []shape
	)
	for _, s := range []struct {
		name string
		tris [][3]mgl32.Vec3
	}{
		{"box", boxTriangles()},
		{"pyramid", pyramidTriangles()},
	} {
		off := len(indices)
		verts, indices = flatTriangles(s.tris, verts, indices)
		indices = mesh.PadIndices(indices)
		shapes = append(shapes, shape{name: s.name, off: off, len: len(indices) - off})
	}
	m, err := mesh.NewStaticMesh(dev, "Prop Atlas", verts, indices)
	if err != nil {
		return nil, nil, err
	}
	return m, shapes, nil
}

// buildColumn builds a square column standing on the origin, skinned to columnBones bones
// stacked columnSegment apart.
func buildColumn(dev device.Device) (*mesh.AnimMesh, error) {
	const sides = 4
	verts := make([]mesh.GPUSkinnedVertex, 0, columnRings*sides)
	for k := range columnRings {
		y := float32(k) * columnSegment / 2
		bone := min(int(y/columnSegment), columnBones-1)
		for s := range sides {
			a := float64(s)*math.Pi/2 + math.Pi/4
			n := mgl32.Vec3{float32(math.Cos(a)), 0, float32(math.Sin(a))}
			v := mesh.GPUSkinnedVertex{
				BoneIndices: [4]uint32{uint32(bone)},
				BoneWeights: [4]float32{1},
			}
			v.Position = [3]float32{n[0] * columnRadius, y, n[2] * columnRadius}
			v.Normal = n
			v.TexCoord = [2]float32{float32(s) / sides, y / (columnBones * columnSegment)}
			verts = append(verts, v)
		}
	}
	indices := make([]uint32, 0, (columnRings-1)*sides*6)
	for k := range columnRings - 1 {
		for s := range sides {
			a := uint32(k*sides + s)
			b := uint32(k*sides + (s+1)%sides)
			c, d := a+sides, b+sides
			indices = append(indices, a, c, b, b, c, d)
		}
	}
	return mesh.NewAnimMesh(dev, "Column", verts, indices, columnBones)
}

// randomGround returns a random point on the landscape, inset from its border.
func (w *world) randomGround(inset float32) (float32, float32) {
	span := max(w.extent-inset, 1)
	x := (w.rng.Float32()*2 - 1) * span
	z := (w.rng.Float32()*2 - 1) * span
	return x, z
}

// populate allocates the landscape and spawns the configured props and columns.
//
// Parameters:
//   - s: the scene to spawn into
//
// Returns:
//   - error: an error if an allocation fails
func (w *world) populate(s scene.Scene) error {
	if w.terrain != nil {
		storage := s.Storage()
		n := w.settings.LandscapeChunks
		for c := range n * n {
			item := storage.AllocateLandscape(w.terrain, w.ground, c*chunkIndexCount, chunkIndexCount, nil)
			if item.IsEmpty() {
				return errNoLandscapePipeline
			}
			w.chunks = append(w.chunks, item)
		}
	}
	if _, err := w.spawnProps(s, w.settings.Props); err != nil {
		return err
	}
	for range w.settings.Animated {
		x, z := w.randomGround(2)
		transform := mgl32.Translate3D(x, heightAt(x, z), z).Mul4(mgl32.HomogRotate3DY(w.rng.Float32() * 2 * math.Pi))
		rig, err := s.SpawnRig(w.column, w.stone, w.column.IndexCount(), columnBones, columnSegment, columnSway, transform)
		if err != nil {
			return fmt.Errorf("viewer: column: %w", err)
		}
		rig.Phase = w.rng.Float32() * 2 * math.Pi
	}
	w.log.Info("world populated",
		slog.Int("chunks", len(w.chunks)),
		slog.Int("props", len(w.props)),
		slog.Int("columns", len(s.Rigs())),
	)
	return nil
}

// spawnProps scatters n props over the landscape. Most spin, some stand still, some morph, and
// some are transparent.
//
// Returns:
//   - int: the number of props spawned
//   - error: the first spawn error
func (w *world) spawnProps(s scene.Scene, n int) (int, error) {
	for i := range n {
		sh := w.shapes[w.rng.Intn(len(w.shapes))]
		scale := 0.5 + w.rng.Float32()
		x, z := w.randomGround(1)
		pos := mgl32.Vec3{x, heightAt(x, z) + scale/2, z}

		mat, typ := w.solid, pipeline.ObjectMovable
		spin := mgl32.Vec3{0, 0.5 + 1.5*w.rng.Float32(), 0}
		switch r := w.rng.Intn(10); {
		case r < 2:
			typ, spin = pipeline.ObjectStatic, mgl32.Vec3{}
		case r == 2:
			typ = pipeline.ObjectMorph
		case r == 3:
			mat = w.glass
		}

		obj, err := s.Spawn(w.atlas, mat, sh.off, sh.len, typ,
			game_object.WithPosition(pos),
			game_object.WithRotation(mgl32.Vec3{0, w.rng.Float32() * 2 * math.Pi, 0}),
			game_object.WithRotationSpeed(spin),
			game_object.WithScale(mgl32.Vec3{scale, scale, scale}),
		)
		if err != nil {
			return i, fmt.Errorf("viewer: %s prop: %w", sh.name, err)
		}
		w.props = append(w.props, obj.ID())
	}
	return n, nil
}

// despawnProps removes up to n of the most recently spawned props.
//
// Returns:
//   - int: the number of props removed
//   - error: the joined remove errors
func (w *world) despawnProps(s scene.Scene, n int) (int, error) {
	n = min(n, len(w.props))
	var errs []error
	for _, id := range w.props[len(w.props)-n:] {
		if err := s.Remove(id); err != nil {
			errs = append(errs, err)
		}
	}
	w.props = w.props[:len(w.props)-n]
	return n, errors.Join(errs...)
}

// loadModels places the parts of each glTF file in a row along the landscape's -Z edge. Static
// parts become static objects and skinned parts become rigs in their rest pose.
//
// Parameters:
//   - s: the scene to spawn into
//   - ld: the loader
//   - paths: the glTF files
//
// Returns:
//   - error: an error if a file cannot be loaded or a part cannot be spawned
func (w *world) loadModels(s scene.Scene, ld loader.Loader, paths []string) error {
	for i, path := range paths {
		parts, err := ld.Load(path)
		if err != nil {
			return err
		}
		x := (float32(i) - float32(len(paths)-1)/2) * 6
		z := -w.extent + 4
		pos := mgl32.Vec3{x, heightAt(x, z), z}
		for _, p := range parts {
			if p.Skinned {
				_, err = s.SpawnRig(p.Geometry, p.Material, p.IndexCount, p.BoneCount, 0, 0, mgl32.Translate3D(pos[0], pos[1], pos[2]))
			} else {
				_, err = s.Spawn(p.Geometry, p.Material, 0, p.IndexCount, pipeline.ObjectStatic, game_object.WithPosition(pos))
			}
			if errors.Is(err, scene.ErrNotRenderable) {
				w.log.Warn("model part skipped", slog.String("part", p.Name), slog.String("alpha", p.Material.Alpha.String()))
				continue
			}
			if err != nil {
				return fmt.Errorf("viewer: %s: %w", p.Name, err)
			}
		}
		w.log.Info("model loaded", slog.String("path", path), slog.Int("parts", len(parts)))
	}
	return nil
}

// freeLandscape frees the landscape chunks.
func (w *world) freeLandscape() error {
	var errs []error
	for _, item := range w.chunks {
		if err := item.Free(); err != nil {
			errs = append(errs, err)
		}
	}
	w.chunks = nil
	return errors.Join(errs...)
}

// release frees the meshes. Every object drawing them must be freed first.
func (w *world) release() {
	if w.terrain != nil {
		w.terrain.Release()
		w.terrain = nil
	}
	if w.atlas != nil {
		w.atlas.Release()
		w.atlas = nil
	}
	if w.column != nil {
		w.column.Release()
		w.column = nil
	}
}
