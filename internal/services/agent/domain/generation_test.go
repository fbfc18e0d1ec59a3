package domain

import "testing"

func TestGenerationNames(t *testing.T) {
	t.Parallel()

	names := NamesFor("", 9)
	if names.Precache != "titan-fleet-v9" {
		t.Fatalf("precache = %q, want %q", names.Precache, "titan-fleet-v9")
	}
	if names.Runtime != "titan-fleet-runtime-v9" {
		t.Fatalf("runtime = %q, want %q", names.Runtime, "titan-fleet-runtime-v9")
	}
	if !names.Contains("titan-fleet-runtime-v9") {
		t.Fatal("expected runtime name to be contained")
	}
	if names.Contains("titan-fleet-v8") || names.Contains("") {
		t.Fatal("unexpected name contained")
	}
}

func TestParseGenerationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		ok      bool
		kind    GenerationKind
		version int
	}{
		{name: "precache", input: "titan-fleet-v8", ok: true, kind: KindPrecache, version: 8},
		{name: "runtime", input: "titan-fleet-runtime-v12", ok: true, kind: KindRuntime, version: 12},
		{name: "foreign", input: "other-app-v1", ok: false},
		{name: "missing version", input: "titan-fleet-v", ok: false},
		{name: "zero version", input: "titan-fleet-v0", ok: false},
		{name: "garbage suffix", input: "titan-fleet-vx", ok: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gen, ok := ParseGenerationName("titan-fleet", tc.input)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if gen.Kind != tc.kind {
				t.Fatalf("kind = %q, want %q", gen.Kind, tc.kind)
			}
			if gen.Version != tc.version {
				t.Fatalf("version = %d, want %d", gen.Version, tc.version)
			}
		})
	}
}
