package provenance

import (
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultMaxDepth  = 64
	defaultIconCache = 128
)

// Tracer walks a peer's ancestry until it reaches a visible application.
type Tracer struct {
	inspector ProcessInspector
	icons     *lru.Cache[string, string]
	logger    *slog.Logger
	maxDepth  int
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithLogger sets the tracer's logger.
func WithLogger(logger *slog.Logger) TracerOption {
	return func(t *Tracer) { t.logger = logger }
}

// WithMaxDepth bounds the number of hops recorded in a chain.
func WithMaxDepth(depth int) TracerOption {
	return func(t *Tracer) {
		if depth > 0 {
			t.maxDepth = depth
		}
	}
}

// NewTracer creates a tracer using inspector for process lookups.
func NewTracer(inspector ProcessInspector, opts ...TracerOption) *Tracer {
	icons, _ := lru.New[string, string](defaultIconCache)
	t := &Tracer{
		inspector: inspector,
		icons:     icons,
		logger:    slog.Default(),
		maxDepth:  defaultMaxDepth,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Trace builds the provenance chain for pid. The chain always contains at
// least the record for pid itself, even if nothing about it could be resolved.
func (t *Tracer) Trace(pid int) Provenance {
	var chain []Process
	seen := make(map[int]bool)

	current := pid
	for {
		proc, visible := t.resolve(current)
		chain = append(chain, proc)
		seen[current] = true

		if visible || proc.ParentPID == nil || len(chain) >= t.maxDepth {
			break
		}
		next := *proc.ParentPID
		if seen[next] {
			break
		}
		current = next
	}

	prov := Provenance{Chain: chain}
	t.logger.Debug("traced request provenance", "pid", pid, "provenance", prov)
	return prov
}

// resolve builds the Process record for pid. Lookup failures produce a bare
// record with no parent and an invalid signature.
func (t *Tracer) resolve(pid int) (Process, bool) {
	info, err := t.inspector.Process(pid)
	if err != nil {
		t.logger.Debug("failed to inspect process", "pid", pid, "error", err)
		return Process{PID: pid}, false
	}

	proc := Process{
		PID:                pid,
		Name:               info.Name,
		ExecutablePath:     info.ExecutablePath,
		CodeSignatureValid: t.inspector.CodeSignatureValid(info),
	}
	if info.PPID > 0 && info.PPID != pid {
		ppid := info.PPID
		proc.ParentPID = &ppid
	}

	app, ok := t.inspector.Application(info)
	if !ok {
		return proc, false
	}
	proc.AppName = app.Name
	proc.IconPath = t.iconPath(app)
	return proc, true
}

func (t *Tracer) iconPath(app Application) string {
	resolver, ok := t.inspector.(IconResolver)
	if !ok || app.Path == "" {
		return ""
	}
	if icon, ok := t.icons.Get(app.Path); ok {
		return icon
	}
	icon := resolver.IconPath(app)
	t.icons.Add(app.Path, icon)
	return icon
}
