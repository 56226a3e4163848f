package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/overlay"
)

func newPublishKeysCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish-keys",
		Short: "Write the public key of every secret to the public key directory",
		Long: `Write one authorized_keys line per secret to the public key directory, named
after the key's MD5 fingerprint. Existing public keys are replaced; certificates
placed next to them are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := openStores(cmd.Context(), a.cfg.Stores, a.logger)
			if err != nil {
				return err
			}
			if err := publishKeys(a.cfg.PublicKeyDir, stores); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d public keys to %s\n", len(stores.AllSecrets()), a.cfg.PublicKeyDir)
			return nil
		},
	}
}

func publishKeys(dir string, stores *keystore.StoreList) error {
	var secrets []keystore.Secret
	for _, s := range stores.AllSecrets() {
		secrets = append(secrets, s.Secret)
	}
	return overlay.WritePublicKeys(dir, secrets, true)
}

// keyPublisher returns an agent reload hook that rewrites dir from the
// reloaded stores.
func keyPublisher(dir string, logger *slog.Logger) func(context.Context, *keystore.StoreList) {
	return func(_ context.Context, stores *keystore.StoreList) {
		if err := publishKeys(dir, stores); err != nil {
			logger.Warn("failed to publish public keys", "path", dir, "error", err)
		}
	}
}
