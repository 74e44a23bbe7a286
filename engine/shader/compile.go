package shader

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/naga"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// Compile translates WGSL to SPIR-V with naga. wgpu consumes WGSL directly; compiling is how
// sources are validated before a device exists.
//
// Parameters:
//   - source: the WGSL source, already pre-processed
//
// Returns:
//   - []byte: the SPIR-V module
//   - error: the naga diagnostic, wrapped
func Compile(source string) ([]byte, error) {
	spirv, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile shader: %w", err)
	}
	if len(spirv) < 4 || le32(spirv) != spirvMagic {
		return nil, errors.New("failed to compile shader: output is not a SPIR-V module")
	}
	return spirv, nil
}

// ValidateAll compiles every named source and joins the failures, sorted by name.
//
// Parameters:
//   - sources: pre-processed WGSL keyed by name
//
// Returns:
//   - error: nil when every source compiles
func ValidateAll(sources map[string]string) error {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if _, err := Compile(sources[name]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
