package plugin

import (
	"bytes"
	_ "embed"
	"log/slog"
	"strings"
	"testing"
)

// testdata/policy.wasm is assembled from testdata/policy.wat. Its
// pre_signature denies secrets named d*, fails secrets named x* with exit
// code 1 and allows everything else. It has no post_signature.
//
//go:embed testdata/policy.wasm
var fixturePolicy []byte

func TestNewWASMLoader(t *testing.T) {
	loader, err := NewWASMLoader()
	if err != nil {
		t.Fatalf("NewWASMLoader() error = %v", err)
	}

	if loader == nil {
		t.Fatal("NewWASMLoader() returned nil loader")
	}

	// Verify loader implements Loader interface
	var _ Loader = loader
}

func TestWASMLoader_Load_InvalidWASM(t *testing.T) {
	loader, err := NewWASMLoader()
	if err != nil {
		t.Fatalf("NewWASMLoader() error = %v", err)
	}

	// Extism will fail to parse invalid WASM; the exact error depends on Extism.
	if _, err := loader.Load([]byte("this is not valid WASM data"), "test-policy"); err == nil {
		t.Error("WASMLoader.Load() with invalid WASM error = nil, want error")
	}
}

func TestWASMLoader_EmptyData(t *testing.T) {
	loader, err := NewWASMLoader()
	if err != nil {
		t.Fatalf("NewWASMLoader() error = %v", err)
	}

	if _, err := loader.Load([]byte{}, "empty-policy"); err == nil {
		t.Error("WASMLoader.Load() with empty data error = nil, want error")
	}
	if _, err := loader.Load(nil, "nil-policy"); err == nil {
		t.Error("WASMLoader.Load() with nil data error = nil, want error")
	}
}

func TestWASMLoader_Registered(t *testing.T) {
	factory, err := GetLoaderFactory("wasm")
	if err != nil {
		t.Fatalf("GetLoaderFactory(wasm) error = %v", err)
	}
	loader, err := factory()
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	if _, ok := loader.(*WASMLoader); !ok {
		t.Errorf("factory() = %T, want *WASMLoader", loader)
	}
}

func TestWASMPolicy_Closed(t *testing.T) {
	policy := &WASMPolicy{name: "closed"}
	if err := policy.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if policy.Name() != "closed" {
		t.Errorf("Name() = %q, want %q", policy.Name(), "closed")
	}
	if _, err := policy.Evaluate(t.Context(), Event{Phase: PhasePreSignature}); err == nil {
		t.Error("Evaluate() on a closed policy error = nil, want error")
	}
}

func TestLoadPolicy_WASM(t *testing.T) {
	policy, err := LoadPolicy("wasm", "testdata/policy.wasm")
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	defer policy.Close()

	if got := policy.Name(); got != "fixture-policy" {
		t.Errorf("Name() = %q, want the exported name %q", got, "fixture-policy")
	}
	verdict, err := policy.Evaluate(t.Context(), Event{Phase: PhasePreSignature, Secret: "github"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !verdict.Allow {
		t.Errorf("Evaluate() = %+v, want allow", verdict)
	}
}

func TestWASMPolicy_Evaluate(t *testing.T) {
	var logs bytes.Buffer
	loader := &WASMLoader{logger: slog.New(slog.NewTextHandler(&logs, nil))}
	policy, err := loader.Load(fixturePolicy, "fixture")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer policy.Close()

	tests := []struct {
		name    string
		event   Event
		want    Verdict
		wantErr string
	}{
		{
			name:  "allow",
			event: Event{Phase: PhasePreSignature, Secret: "github", Store: "mock", Intact: true},
			want:  Verdict{Allow: true},
		},
		{
			name:  "deny",
			event: Event{Phase: PhasePreSignature, Secret: "deploy", Store: "mock", Intact: true},
			want:  Verdict{Allow: false, Reason: "denied by fixture"},
		},
		{
			name:  "missing post_signature allows",
			event: Event{Phase: PhasePostSignature, Secret: "deploy", Store: "mock"},
			want:  Verdict{Allow: true},
		},
		{
			name:    "non-zero exit",
			event:   Event{Phase: PhasePreSignature, Secret: "xfail", Store: "mock"},
			wantErr: "pre_signature",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Evaluate(t.Context(), tt.event)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Evaluate() error = %v, want error mentioning %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %+v, want %+v", got, tt.want)
			}
		})
	}

	// pre_signature ran three times; post_signature never reached the module.
	if n := strings.Count(logs.String(), "msg=evaluating"); n != 3 {
		t.Errorf("agent_log lines = %d, want 3; log:\n%s", n, logs.String())
	}
	if !strings.Contains(logs.String(), "policy=fixture") {
		t.Errorf("agent_log output missing policy attribute:\n%s", logs.String())
	}
}

func TestWASMLoader_RequiresPreSignature(t *testing.T) {
	// The smallest valid module: no exports at all.
	empty := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	loader, err := NewWASMLoader()
	if err != nil {
		t.Fatalf("NewWASMLoader() error = %v", err)
	}
	if _, err := loader.Load(empty, "empty"); err == nil || !strings.Contains(err.Error(), "pre_signature") {
		t.Errorf("Load() error = %v, want missing pre_signature", err)
	}
}
