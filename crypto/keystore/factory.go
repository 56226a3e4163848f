package keystore

import (
	"context"
	"fmt"
	"log/slog"
)

// Options configures a store created through the registry.
type Options struct {
	// Kind selects the registered factory.
	Kind string
	// Name is the display name of the store. Defaults to the kind.
	Name string
	// Service is the keyring service name holding the keys.
	Service string
	// Backends restricts which keyring backends may be opened, in preference order.
	Backends []string
	// FileDir is the directory used by the encrypted file keyring backend.
	FileDir string
	// PasswordEnv names an environment variable holding the file backend password.
	PasswordEnv string
	// Authentication is the requirement advertised for every secret in the store.
	Authentication AuthenticationRequirement
	// Socket is the upstream agent socket for proxy stores.
	Socket string

	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) name() string {
	if o.Name != "" {
		return o.Name
	}
	return o.Kind
}

// NewStore creates a store of opts.Kind through the registry and loads its
// secrets once. A failed initial load is logged, not returned: the store
// stays registered with no secrets and is reloaded on its next use.
func NewStore(ctx context.Context, opts Options) (SecretStore, error) {
	factory, err := GetStoreFactory(opts.Kind)
	if err != nil {
		return nil, fmt.Errorf("unsupported store kind: %s", opts.Kind)
	}
	store, err := factory(opts)
	if err != nil {
		return nil, err
	}
	if err := store.Reload(ctx); err != nil {
		opts.logger().Warn("failed to load secrets", "store", store.Name(), "error", err)
	}
	return store, nil
}
