package shader

import (
	"strings"
	"testing"
)

func TestProcessIncludeAndConst(t *testing.T) {
	p := NewPreProcessor()
	p.RegisterStruct("params", "struct Params {\n    n: u32,\n};\n")
	p.RegisterConst("WORKGROUP_SIZE", 64)

	src := strings.Join([]string{
		"//@oxy:include params",
		"//@oxy:include params",
		"// @oxy:const WORKGROUP_SIZE",
		"// ordinary comment",
		"@group(0) @binding(0) var<uniform> params: Params;",
	}, "\n")
	got, err := p.Process(src)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if n := strings.Count(got, "struct Params"); n != 1 {
		t.Errorf("struct emitted %d times, want 1:\n%s", n, got)
	}
	if !strings.Contains(got, "const WORKGROUP_SIZE: u32 = 64u;") {
		t.Errorf("const not expanded:\n%s", got)
	}
	if !strings.Contains(got, "// ordinary comment") {
		t.Errorf("plain comment dropped:\n%s", got)
	}
}

func TestProcessErrors(t *testing.T) {
	p := NewPreProcessor()
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown include", "//@oxy:include nope", "unknown @oxy:include"},
		{"unknown const", "x\n//@oxy:const NOPE", "line 2"},
		{"unknown kind", "//@oxy:group 0 0", "requires a kind"},
		{"bad kind", "//@oxy:define X", "unknown annotation type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Process(tt.src)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Process() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

const testKernel = `
struct Params {
    count: u32,
};

@group(0) @binding(0) var<uniform> params: Params;
@group(0) @binding(1) var<storage, read_write> values: array<u32>;

@compute @workgroup_size(64)
fn cs_main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x >= params.count) {
        return;
    }
    values[gid.x] = gid.x * 2u;
}
`

func skipOnNagaLimitation(t *testing.T, err error) {
	t.Helper()
	msg := err.Error()
	if strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported") {
		t.Skipf("Skipping: naga feature not yet implemented: %v", err)
	}
	if strings.Contains(msg, "lowering error") || strings.Contains(msg, "atomic") {
		t.Skipf("Skipping: naga atomic/lowering limitation: %v", err)
	}
}

func TestCompile(t *testing.T) {
	spirv, err := Compile(testKernel)
	if err != nil {
		skipOnNagaLimitation(t, err)
		t.Fatalf("Compile() error = %v", err)
	}
	if le32(spirv) != spirvMagic {
		t.Errorf("magic = 0x%08X, want 0x%08X", le32(spirv), spirvMagic)
	}
}

func TestValidateAllReportsBrokenSource(t *testing.T) {
	err := ValidateAll(map[string]string{"broken": "fn main( {"})
	if err == nil {
		t.Fatal("ValidateAll() error = nil for broken source")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error %q does not name the source", err)
	}
}
