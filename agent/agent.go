// Package agent implements the SSH agent protocol on top of a list of secret
// stores: it lists their keys, answers sign requests and lets a witness veto
// each signature.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/crypto/openssh"
	"github.com/joncooperworks/secretagent/metrics"
	"github.com/joncooperworks/secretagent/overlay"
	"github.com/joncooperworks/secretagent/provenance"
)

// Agent dispatches agent requests. It keeps no state between requests apart
// from the per-store signing locks.
type Agent struct {
	stores      *keystore.StoreList
	witness     Witness
	overlay     *overlay.Overlay
	broadcaster *keystore.Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger
	onReload    func(context.Context, *keystore.StoreList)

	requestsPerSecond float64
	burst             int

	locksMu sync.Mutex
	locks   map[string]*semaphore.Weighted
}

// Option configures an Agent.
type Option func(*Agent)

// WithWitness sets the witness consulted around every signature.
func WithWitness(w Witness) Option {
	return func(a *Agent) { a.witness = w }
}

// WithOverlay advertises certificates from o in place of bare keys.
func WithOverlay(o *overlay.Overlay) Option {
	return func(a *Agent) { a.overlay = o }
}

// WithBroadcaster makes Run follow reload events from b.
func WithBroadcaster(b *keystore.Broadcaster) Option {
	return func(a *Agent) { a.broadcaster = b }
}

// WithMetrics records request counters in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithLogger sets the agent's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithReloadHook calls fn after Run has handled each reload event.
func WithReloadHook(fn func(ctx context.Context, stores *keystore.StoreList)) Option {
	return func(a *Agent) { a.onReload = fn }
}

// WithRateLimit throttles each session to requestsPerSecond with the given
// burst. A non-positive rate disables throttling.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(a *Agent) {
		a.requestsPerSecond = requestsPerSecond
		a.burst = burst
	}
}

// New creates an Agent serving the secrets in stores.
func New(stores *keystore.StoreList, opts ...Option) *Agent {
	a := &Agent{
		stores: stores,
		logger: slog.Default(),
		locks:  make(map[string]*semaphore.Weighted),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle answers one request frame. It always returns exactly one response
// frame; any failure is reported to the client as a bare failure response and
// only detailed in the log.
func (a *Agent) Handle(ctx context.Context, frame []byte, prov provenance.Provenance) []byte {
	req, err := Parse(frame)
	if err != nil {
		a.metrics.ObserveRequest("malformed")
		a.logger.Debug("malformed request", "error", err)
		return failureResponse()
	}
	a.metrics.ObserveRequest(req.Type.String())

	logger := a.logger.With("request", req.Type.String(), "pid", prov.Origin().PID)
	response, err := a.dispatch(ctx, req, prov)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoMatchingKey), errors.Is(err, ErrUnsupportedRequest):
			logger.Debug("request failed", "opcode", req.Opcode, "error", err)
		case errors.Is(err, ErrObjection):
			logger.Info("signature refused", "error", err)
		default:
			logger.Warn("request failed", "error", err)
		}
		return failureResponse()
	}
	return response
}

func (a *Agent) dispatch(ctx context.Context, req Request, prov provenance.Provenance) ([]byte, error) {
	switch req.Type {
	case RequestIdentities:
		a.reloadIfNecessary(ctx)
		return identitiesAnswer(a.identities()), nil
	case SignRequest:
		a.reloadIfNecessary(ctx)
		return a.sign(ctx, req, prov)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRequest, req.Type)
	}
}

// identities lists every secret in store order, preferring a certificate
// from the overlay over the bare key.
func (a *Agent) identities() []identity {
	var out []identity
	for _, stored := range a.stores.AllSecrets() {
		secret := stored.Secret
		blob, err := openssh.PublicKeyBlob(secret)
		if err != nil {
			a.logger.Warn("skipping secret", "store", stored.Store.Name(), "secret", secret.Name, "error", err)
			continue
		}
		comment, _ := openssh.KeyTypeIdentifier(secret.KeyType)
		id := identity{blob: blob, comment: comment}

		if a.overlay != nil {
			entry, err := a.overlay.Lookup(secret)
			switch {
			case err == nil:
				id = identity{blob: entry.Blob, comment: entry.Name}
			case errors.Is(err, overlay.ErrDoesNotExist):
			default:
				a.logger.Warn("ignoring certificate", "secret", secret.Name, "error", err)
			}
		}
		out = append(out, id)
	}
	return out
}

func (a *Agent) sign(ctx context.Context, req Request, prov provenance.Provenance) ([]byte, error) {
	keyBlob := req.KeyBlob
	if overlay.IsCertificate(keyBlob) {
		reduced, err := overlay.ReducedPublicKey(keyBlob)
		if err != nil {
			a.metrics.ObserveSignature(metrics.OutcomeNoMatch)
			return nil, fmt.Errorf("failed to reduce certificate: %w", err)
		}
		keyBlob = reduced
	}

	stored, ok := a.find(keyBlob)
	if !ok {
		a.metrics.ObserveSignature(metrics.OutcomeNoMatch)
		return nil, fmt.Errorf("%w: %s", ErrNoMatchingKey, openssh.FingerprintSHA256(keyBlob))
	}
	secret, store := stored.Secret, stored.Store

	if a.witness != nil {
		if err := a.witness.PreSignature(ctx, secret, store, prov); err != nil {
			a.metrics.ObserveSignature(metrics.OutcomeObjection)
			return nil, fmt.Errorf("%w: %w", ErrObjection, err)
		}
	}

	raw, err := a.signWithStore(ctx, store, secret, req.Data, prov)
	if err != nil {
		a.metrics.ObserveSignature(metrics.OutcomeFailed)
		return nil, fmt.Errorf("failed to sign with %s: %w", store.Name(), err)
	}
	blob, err := openssh.SignatureBlob(secret, raw)
	if err != nil {
		a.metrics.ObserveSignature(metrics.OutcomeFailed)
		return nil, fmt.Errorf("failed to encode signature: %w", err)
	}

	if a.witness != nil {
		if err := a.witness.PostSignature(ctx, secret, store, prov); err != nil {
			a.logger.Warn("post-signature witness failed", "secret", secret.Name, "error", err)
		}
	}
	a.metrics.ObserveSignature(metrics.OutcomeSigned)
	a.logger.Debug("signed", "store", store.Name(), "secret", secret.Name, "fingerprint", openssh.FingerprintSHA256(keyBlob))
	return signResponse(blob), nil
}

// find returns the first secret, in store then secret order, whose public
// key blob equals keyBlob.
func (a *Agent) find(keyBlob []byte) (keystore.StoredSecret, bool) {
	for _, stored := range a.stores.AllSecrets() {
		blob, err := openssh.PublicKeyBlob(stored.Secret)
		if err != nil {
			continue
		}
		if bytes.Equal(blob, keyBlob) {
			return stored, true
		}
	}
	return keystore.StoredSecret{}, false
}

// signWithStore signs data, serializing interactive signatures per store so
// that a backend never shows two authentication prompts at once.
func (a *Agent) signWithStore(ctx context.Context, store keystore.SecretStore, secret keystore.Secret, data []byte, prov provenance.Provenance) ([]byte, error) {
	if secret.Authentication.Interactive() {
		lock := a.storeLock(store.ID())
		if err := lock.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer lock.Release(1)
	}
	return store.Sign(ctx, data, secret, prov)
}

func (a *Agent) storeLock(id string) *semaphore.Weighted {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	lock, ok := a.locks[id]
	if !ok {
		lock = semaphore.NewWeighted(1)
		a.locks[id] = lock
	}
	return lock
}

// reloadIfNecessary reloads stores that currently hold no secrets.
func (a *Agent) reloadIfNecessary(ctx context.Context) {
	for _, store := range a.stores.Stores() {
		if len(store.Secrets()) > 0 {
			continue
		}
		if err := store.Reload(ctx); err != nil {
			a.logger.Warn("failed to reload store", "store", store.Name(), "error", err)
		}
	}
}

// Run follows reload events until ctx is cancelled. Each event drops cached
// certificates and reloads the store it names, or every store when it names
// none. Without a broadcaster Run just waits for ctx.
func (a *Agent) Run(ctx context.Context) error {
	if a.broadcaster == nil {
		<-ctx.Done()
		return nil
	}
	events, unsubscribe := a.broadcaster.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			a.reload(ctx, event)
		}
	}
}

func (a *Agent) reload(ctx context.Context, event keystore.ReloadEvent) {
	a.logger.Info("reloading secrets", "store", event.StoreID, "source", event.Source)
	if a.overlay != nil {
		a.overlay.Invalidate()
	}

	stores := a.stores.Stores()
	if !event.AllStores() {
		store, ok := a.stores.Lookup(event.StoreID)
		if !ok {
			a.logger.Warn("reload for unknown store", "store", event.StoreID)
			return
		}
		stores = []keystore.SecretStore{store}
	}
	for _, store := range stores {
		if err := store.Reload(ctx); err != nil {
			a.logger.Warn("failed to reload store", "store", store.Name(), "error", err)
		}
	}
	if a.onReload != nil {
		a.onReload(ctx, a.stores)
	}
}
