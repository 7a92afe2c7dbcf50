package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	cfg "github.com/josepot/smoldot/config"
	"github.com/josepot/smoldot/internal/checkpoint"
	"github.com/josepot/smoldot/node"
	"github.com/josepot/smoldot/types"
)

type checkpointInfo struct {
	Number         uint64     `json:"number"`
	Hash           types.Hash `json:"hash"`
	StateRoot      types.Hash `json:"state_root"`
	AuthoritySetID uint64     `json:"authority_set_id"`
	Authorities    int        `json:"authorities"`
	TotalWeight    uint64     `json:"total_weight"`
}

// NewCheckpointCmd returns the commands inspecting and clearing the stored
// finalized checkpoint.
func NewCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or remove the finalized checkpoint",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := showCheckpoint(config)
			if err != nil {
				return err
			}
			bz, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bz))
			return nil
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove every checkpoint; the node restarts from genesis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return resetCheckpoint(config)
		},
	}

	addDBFlags(showCmd)
	addDBFlags(resetCmd)
	cmd.AddCommand(showCmd, resetCmd)
	return cmd
}

func showCheckpoint(conf *cfg.Config) (*checkpointInfo, error) {
	cps, err := node.OpenCheckpointStore(conf, cfg.DefaultDBProvider)
	if err != nil {
		return nil, err
	}
	defer cps.Close()

	h, set, err := cps.Load()
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return nil, errors.New("no checkpoint stored; the node starts from genesis")
	} else if err != nil {
		return nil, err
	}
	return &checkpointInfo{
		Number:         h.Number,
		Hash:           h.Hash(),
		StateRoot:      h.StateRoot,
		AuthoritySetID: set.SetID,
		Authorities:    len(set.Authorities),
		TotalWeight:    set.TotalWeight(),
	}, nil
}

func resetCheckpoint(conf *cfg.Config) error {
	cps, err := node.OpenCheckpointStore(conf, cfg.DefaultDBProvider)
	if err != nil {
		return err
	}
	defer cps.Close()

	if err := cps.Reset(); err != nil {
		return err
	}
	logger.Info("Removed checkpoints", "backend", conf.CheckpointBackend)
	return nil
}
