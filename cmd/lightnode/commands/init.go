package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	cfg "github.com/josepot/smoldot/config"
	tmos "github.com/josepot/smoldot/libs/os"
	"github.com/josepot/smoldot/types"
)

// InitFilesCmd initializes a fresh light node home directory.
var InitFilesCmd = &cobra.Command{
	Use:   "init [chain-spec]",
	Short: "Initialize the light node home directory",
	Long: `Write the default config file and import the chain spec the node will
follow. Without an argument an existing chain spec is kept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var specFile string
		if len(args) == 1 {
			specFile = args[0]
		}
		return initFiles(config, specFile)
	},
}

func initFiles(conf *cfg.Config, specFile string) error {
	if err := cfg.EnsureRoot(conf.RootDir); err != nil {
		return err
	}

	target := conf.ChainSpecFile()
	switch {
	case specFile != "":
		spec, err := types.ChainSpecFromFile(specFile)
		if err != nil {
			return err
		}
		if err := spec.SaveAs(target); err != nil {
			return fmt.Errorf("writing chain spec: %w", err)
		}
		logger.Info("Imported chain spec", "chain", spec.ChainID, "path", target)
	case tmos.FileExists(target):
		logger.Info("Found chain spec", "path", target)
	default:
		return errors.New("no chain spec: pass the chain spec file to import")
	}

	configFile := conf.ConfigFilePath()
	if tmos.FileExists(configFile) {
		logger.Info("Found config file", "path", configFile)
		return nil
	}
	if err := cfg.WriteConfigFile(conf.RootDir, conf); err != nil {
		return err
	}
	logger.Info("Generated config file", "path", configFile)
	return nil
}
