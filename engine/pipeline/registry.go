package pipeline

import (
	"github.com/Carmen-Shannon/oxy-meshlet/engine/material"
)

// ObjectType classifies a renderable by how its vertices reach the GPU.
type ObjectType uint8

const (
	// ObjectNone marks an empty object slot.
	ObjectNone ObjectType = iota
	// ObjectLandscape is world geometry addressed per meshlet through the cluster table.
	ObjectLandscape
	// ObjectStatic is non-moving geometry with an instance transform.
	ObjectStatic
	// ObjectMovable is geometry whose transform changes at runtime.
	ObjectMovable
	// ObjectAnimated is skinned geometry reading a bone palette.
	ObjectAnimated
	// ObjectMorph is geometry deformed by morph targets.
	ObjectMorph
)

func (t ObjectType) String() string {
	switch t {
	case ObjectLandscape:
		return "landscape"
	case ObjectStatic:
		return "static"
	case ObjectMovable:
		return "movable"
	case ObjectAnimated:
		return "animated"
	case ObjectMorph:
		return "morph"
	default:
		return "none"
	}
}

// Pass names the kind of pass a pipeline draws in.
type Pass uint8

const (
	// PassColor is the main-view G-buffer pass.
	PassColor Pass = iota
	// PassShadow is the depth-only shadow cascade pass.
	PassShadow
)

func (p Pass) String() string {
	if p == PassShadow {
		return "shadow"
	}
	return "color"
}

// Resolver picks the pipeline that draws a material of a given object type in a pass. It
// returns nil when no pipeline exists for the combination.
type Resolver interface {
	Resolve(mat material.Material, objType ObjectType, pass Pass) Pipeline
}

// AnyAlpha registers a pipeline for every blend mode of an object type and pass that has no
// more specific registration.
const AnyAlpha = material.AlphaFunc(0xFF)

type registryKey struct {
	objType ObjectType
	pass    Pass
	alpha   material.AlphaFunc
}

// Registry is a Resolver backed by a rule table keyed on (object type, pass, blend mode).
// Ghost materials resolve as Transparent. The zero value is not usable; call NewRegistry.
type Registry struct {
	rules map[registryKey]Pipeline
}

var _ Resolver = &Registry{}

// NewRegistry creates an empty Registry.
//
// Returns:
//   - *Registry: a registry with no rules
func NewRegistry() *Registry {
	return &Registry{rules: make(map[registryKey]Pipeline)}
}

// Register binds p to the given object type, pass, and blend mode. Passing AnyAlpha makes p the
// fallback for the object type and pass. Registering a nil pipeline removes the rule.
//
// Parameters:
//   - objType: the object type the rule applies to
//   - pass: the pass the rule applies to
//   - alpha: the blend mode, or AnyAlpha
//   - p: the pipeline to resolve to
func (r *Registry) Register(objType ObjectType, pass Pass, alpha material.AlphaFunc, p Pipeline) {
	k := registryKey{objType: objType, pass: pass, alpha: alpha}
	if p == nil {
		delete(r.rules, k)
		return
	}
	r.rules[k] = p
}

// Resolve implements Resolver.
func (r *Registry) Resolve(mat material.Material, objType ObjectType, pass Pass) Pipeline {
	alpha := mat.Alpha
	if mat.IsGhost {
		alpha = material.Transparent
	}
	if p, ok := r.rules[registryKey{objType: objType, pass: pass, alpha: alpha}]; ok {
		return p
	}
	return r.rules[registryKey{objType: objType, pass: pass, alpha: AnyAlpha}]
}

// Pipelines returns every distinct registered pipeline, in no particular order.
//
// Returns:
//   - []Pipeline: the registered pipelines
func (r *Registry) Pipelines() []Pipeline {
	seen := make(map[Pipeline]struct{}, len(r.rules))
	out := make([]Pipeline, 0, len(r.rules))
	for _, p := range r.rules {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
