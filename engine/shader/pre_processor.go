// pre_processor.go implements the WGSL pre-processor. It scans shader source for @oxy:
// annotations on comment lines and replaces them with registered WGSL text:
//
//	//@oxy:include <name>   injects the struct source registered under name
//	//@oxy:const <name>     emits `const <name>: u32 = <value>u;` for a registered constant
//
// Struct sources live next to the Go types they mirror (embedded .wgsl assets), so the
// pre-processor is the one place a shader picks up the exact byte layout the host writes.
package shader

import (
	"fmt"
	"strings"
)

// annotationPrefix is the marker that identifies an annotation within a WGSL comment line.
const annotationPrefix = "@oxy:"

type preProcessor struct {
	structs   map[string]string
	constants map[string]uint32
}

// PreProcessor expands @oxy: annotations in WGSL source.
type PreProcessor interface {
	// RegisterStruct makes source available to //@oxy:include name.
	//
	// Parameters:
	//   - name: the include name
	//   - source: the WGSL text to inject
	RegisterStruct(name, source string)

	// RegisterConst makes value available to //@oxy:const name.
	//
	// Parameters:
	//   - name: the WGSL constant name
	//   - value: the constant value
	RegisterConst(name string, value uint32)

	// Process expands every annotation in source. A struct included more than once is emitted
	// only at its first site.
	//
	// Parameters:
	//   - source: the raw WGSL source
	//
	// Returns:
	//   - string: the expanded source
	//   - error: an error naming the line of a malformed or unknown annotation
	Process(source string) (string, error)
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a pre-processor with empty registries.
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor() PreProcessor {
	return &preProcessor{
		structs:   make(map[string]string),
		constants: make(map[string]uint32),
	}
}

func (p *preProcessor) RegisterStruct(name, source string) {
	p.structs[name] = source
}

func (p *preProcessor) RegisterConst(name string, value uint32) {
	p.constants[name] = value
}

func (p *preProcessor) Process(source string) (string, error) {
	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	included := make(map[string]bool)

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "//") {
			out = append(out, line)
			continue
		}
		_, after, ok := strings.Cut(trimmed, annotationPrefix)
		if !ok {
			out = append(out, line)
			continue
		}

		args := strings.Fields(after)
		if len(args) != 2 {
			return "", fmt.Errorf("line %d: @oxy annotation requires a kind and one argument", i+1)
		}
		switch args[0] {
		case "include":
			src, ok := p.structs[args[1]]
			if !ok {
				return "", fmt.Errorf("line %d: unknown @oxy:include argument %q", i+1, args[1])
			}
			if !included[args[1]] {
				included[args[1]] = true
				out = append(out, strings.TrimRight(src, "\n"))
			}
		case "const":
			v, ok := p.constants[args[1]]
			if !ok {
				return "", fmt.Errorf("line %d: unknown @oxy:const argument %q", i+1, args[1])
			}
			out = append(out, fmt.Sprintf("const %s: u32 = %du;", args[1], v))
		default:
			return "", fmt.Errorf("line %d: unknown annotation type %q", i+1, args[0])
		}
	}
	return strings.Join(out, "\n"), nil
}
