package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	extism "github.com/extism/go-sdk"
)

func init() {
	RegisterLoader("wasm", func() (Loader, error) {
		return NewWASMLoader()
	})
}

// WASMLoader loads WASM policies using Extism SDK.
//
// A policy module exports pre_signature and optionally post_signature. Each
// reads the JSON-encoded Event as its input and writes a JSON Verdict as its
// output. Modules run under WASI with no network or filesystem access. They
// may import env.agent_log to write to the agent's log.
type WASMLoader struct {
	logger *slog.Logger
}

// NewWASMLoader creates a new WASM loader.
func NewWASMLoader() (*WASMLoader, error) {
	return &WASMLoader{logger: slog.Default()}, nil
}

// Load compiles and instantiates a WASM policy from raw bytes.
func (wl *WASMLoader) Load(data []byte, name string) (Policy, error) {
	if len(data) == 0 {
		return nil, errors.New("empty WASM module")
	}
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmData{Data: data},
		},
	}

	ctx := context.Background()
	config := extism.PluginConfig{
		EnableWasi: true,
	}
	hostFunctions := []extism.HostFunction{
		newLogFunction(wl.logger.With("policy", name)),
	}

	plugin, err := extism.NewPlugin(ctx, manifest, config, hostFunctions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Extism plugin: %w", err)
	}
	if !plugin.FunctionExists(string(PhasePreSignature)) {
		plugin.Close(ctx)
		return nil, fmt.Errorf("policy %s does not export %s", name, PhasePreSignature)
	}

	return &WASMPolicy{
		name:   name,
		plugin: plugin,
		ctx:    ctx,
	}, nil
}

// WASMPolicy implements the Policy interface for WASM modules. Calls into the
// module are serialized.
type WASMPolicy struct {
	name   string
	mu     sync.Mutex
	plugin *extism.Plugin
	ctx    context.Context
}

// Close shuts down the plugin instance and releases resources.
func (wp *WASMPolicy) Close() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.plugin != nil {
		err := wp.plugin.Close(wp.ctx)
		wp.plugin = nil
		return err
	}
	return nil
}

// Name returns the policy name, preferring the WASM exported name().
func (wp *WASMPolicy) Name() string {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.plugin == nil || !wp.plugin.FunctionExists("name") {
		return wp.name
	}
	exitCode, result, err := wp.plugin.Call("name", nil)
	if err != nil || exitCode != 0 || len(result) == 0 {
		return wp.name
	}
	return string(result)
}

// Evaluate calls the function named after the event's phase. A module without
// post_signature allows every post-signature event.
func (wp *WASMPolicy) Evaluate(ctx context.Context, event Event) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	input, err := json.Marshal(event)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to encode event: %w", err)
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.plugin == nil {
		return Verdict{}, errors.New("policy is closed")
	}

	function := string(event.Phase)
	if !wp.plugin.FunctionExists(function) {
		if event.Phase == PhasePostSignature {
			return Verdict{Allow: true}, nil
		}
		return Verdict{}, fmt.Errorf("policy %s does not export %s", wp.name, function)
	}

	exitCode, output, err := wp.plugin.Call(function, input)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to call %s: %w", function, err)
	}
	if exitCode != 0 {
		return Verdict{}, fmt.Errorf("%s returned non-zero exit code: %d", function, exitCode)
	}
	return decodeVerdict(output)
}

func decodeVerdict(output []byte) (Verdict, error) {
	if len(output) == 0 {
		return Verdict{}, errors.New("policy returned empty result")
	}
	var verdict Verdict
	if err := json.Unmarshal(output, &verdict); err != nil {
		return Verdict{}, fmt.Errorf("failed to parse verdict: %w", err)
	}
	return verdict, nil
}

// newLogFunction creates the env.agent_log host function.
// WASM signature: (param i64) -> void - takes a message offset
func newLogFunction(logger *slog.Logger) extism.HostFunction {
	fn := extism.NewHostFunctionWithStack(
		"agent_log",
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			message, err := p.ReadString(stack[0])
			if err != nil {
				p.Log(extism.LogLevelWarn, fmt.Sprintf("agent_log: failed to read message: %v", err))
				return
			}
			logger.Info(message)
		},
		[]extism.ValueType{extism.ValueTypeI64}, // message offset
		[]extism.ValueType{},                    // void
	)
	fn.SetNamespace("env")
	return fn
}
