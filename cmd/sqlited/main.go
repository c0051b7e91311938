// Command sqlited runs one node of a replicated SQLite cluster: the
// gateway, the cooperative thread pool, the intercepting VFS, and the raft
// consensus hand-off spec.md describes, wired together behind a minimal
// TCP listener. Packaging (init scripts, container images, release
// tooling) is out of this module's scope.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts nodeOptions

	cmd := &cobra.Command{
		Use:   "sqlited",
		Short: "Run a node of a replicated SQLite cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := newNode(opts)
			if err != nil {
				return fmt.Errorf("sqlited: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return n.run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.listen, "listen", "127.0.0.1:8650", "address this node binds its client and raft transport to")
	flags.StringVar(&opts.advertise, "advertise", "", "address other nodes should dial to reach this one (defaults to --listen)")
	flags.StringSliceVar(&opts.join, "join", nil, "addresses of existing cluster members; when set, this node skips bootstrapping a new cluster and does not contact them itself")
	flags.StringVar(&opts.dataDir, "data-dir", "./data", "directory for this node's raft and database files")
	flags.StringVar(&opts.nodeID, "node-id", "", "stable identifier for this node (defaults to a generated uuid)")

	return cmd
}
