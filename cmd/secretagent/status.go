package main

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
	sshagent "golang.org/x/crypto/ssh/agent"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the agent is running and which keys it offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.DialTimeout("unix", a.cfg.SocketPath, 2*time.Second)
			if err != nil {
				return fmt.Errorf("agent is not running at %s: %w", a.cfg.SocketPath, err)
			}
			defer conn.Close()

			keys, err := sshagent.NewClient(conn).List()
			if err != nil {
				return fmt.Errorf("failed to list identities: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Agent running at %s\n", a.cfg.SocketPath)
			if len(keys) == 0 {
				fmt.Fprintln(out, "No identities")
				return nil
			}
			fmt.Fprintf(out, "Identities (%d):\n", len(keys))
			for _, key := range keys {
				fmt.Fprintf(out, "  - %s %s (%s)\n", ssh.FingerprintSHA256(key), key.Comment, key.Type())
			}
			return nil
		},
	}
}
