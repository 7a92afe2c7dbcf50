package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josepot/smoldot/node"
	tmos "github.com/josepot/smoldot/libs/os"
)

// AddNodeFlags exposes some common configuration options on the command-line
// These are exposed for convenience of commands embedding a light node
func AddNodeFlags(cmd *cobra.Command) {
	// bind flags
	cmd.Flags().String("moniker", config.Moniker, "node name")
	cmd.Flags().String("chain-spec-file", config.ChainSpec, "chain spec file")

	// checkpoint flags
	cmd.Flags().String(
		"checkpoint-backend",
		config.CheckpointBackend,
		"where the finalized checkpoint is kept: db | file")

	// rpc flags
	cmd.Flags().String("rpc.laddr", config.RPC.ListenAddress, "RPC listen address. Port required")

	// p2p flags
	cmd.Flags().String("p2p.peers", config.P2P.Peers, "comma-delimited id@http://host:port full nodes")

	// instrumentation flags
	cmd.Flags().Bool("instrumentation.prometheus", config.Instrumentation.Prometheus, "serve Prometheus metrics")

	addDBFlags(cmd)
}

func addDBFlags(cmd *cobra.Command) {
	cmd.Flags().String(
		"db-backend",
		config.DBBackend,
		"database backend: goleveldb | memdb")
	cmd.Flags().String(
		"db-dir",
		config.DBPath,
		"database directory")
}

// NewRunNodeCmd returns the command that starts a light node and runs it
// until it is interrupted.
func NewRunNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the light node",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := node.New(config, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(cmd.Context()); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			logger.Info("started node", "chain", n.ChainSpec().ChainID, "best", n.GetBestHead().Number)

			// Stop upon receiving SIGTERM or CTRL-C.
			tmos.TrapSignal(logger, func() {
				if n.IsRunning() {
					n.Stop()
				}
			})

			n.Wait()
			return nil
		},
	}

	AddNodeFlags(cmd)
	return cmd
}
