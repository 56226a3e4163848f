// Command secretagent serves the OpenSSH agent protocol on a Unix socket and
// signs with keys held by the configured secret stores.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/joncooperworks/secretagent/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the state shared by every subcommand once flags are parsed.
type app struct {
	configPath string
	socketPath string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "secretagent",
		Short: "SSH agent backed by pluggable secret stores",
		Long: `secretagent answers OpenSSH agent requests on a Unix socket. Keys stay in
the configured secret stores; the agent lists their public halves and asks the
owning store to sign. Every signature can be audited or refused by the
configured witnesses.

Point SSH at the agent with:
  export SSH_AUTH_SOCK=~/.secretagent/socket.ssh`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.Flags())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to the configuration file (default ~/.secretagent/config.yaml)")
	flags.StringVar(&a.socketPath, "socket", "", "agent socket path")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newPublishKeysCmd(a))
	return cmd
}

// load reads the configuration and applies flags given on the command line.
func (a *app) load(flags *pflag.FlagSet) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if flags.Changed("socket") {
		cfg.SocketPath = a.socketPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}

	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	return nil
}
