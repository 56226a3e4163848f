package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joncooperworks/secretagent/config"
	"github.com/joncooperworks/secretagent/crypto/keystore"
	"github.com/joncooperworks/secretagent/crypto/openssh"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	total := 0
	for _, sc := range cfg.Stores {
		opts, err := sc.StoreOptions()
		if err != nil {
			logger.Error("invalid store", "store", sc.Name, "error", err)
			os.Exit(1)
		}
		opts.Logger = logger
		store, err := keystore.NewStore(ctx, opts)
		if err != nil {
			logger.Error("failed to open store", "store", sc.Kind, "error", err)
			os.Exit(1)
		}

		secrets := store.Secrets()
		total += len(secrets)
		fmt.Printf("%s (%d):\n", store.Name(), len(secrets))
		for _, secret := range secrets {
			blob, err := openssh.PublicKeyBlob(secret)
			if err != nil {
				fmt.Printf("  - %s %s (unsupported)\n", secret.Name, secret.KeyType)
				continue
			}
			fmt.Printf("  - %s %s %s [%s]\n", secret.Name, secret.KeyType, openssh.FingerprintSHA256(blob), secret.Authentication)
		}
	}

	if total == 0 {
		fmt.Println("No keys found in any store")
	}
}
