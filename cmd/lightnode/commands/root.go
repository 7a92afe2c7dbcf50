package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "github.com/josepot/smoldot/config"
	"github.com/josepot/smoldot/libs/cli"
	"github.com/josepot/smoldot/libs/log"
)

var (
	config = cfg.DefaultConfig()
	logger = log.MustNewDefaultLogger(log.LogFormatPlain, log.LogLevelInfo)
)

// DefaultHome is the root directory used when --home is not given.
var DefaultHome = os.ExpandEnv(filepath.Join("$HOME", ".lightnode"))

// ParseConfig retrieves the default environment configuration,
// sets up the light node root and ensures that the root exists
func ParseConfig(conf *cfg.Config) (*cfg.Config, error) {
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}

	conf.SetRoot(conf.RootDir)

	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCmd is the root command for the light node.
var RootCmd = &cobra.Command{
	Use:   "lightnode",
	Short: "Light client following a chain from its finality proofs",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == VersionCmd.Name() {
			return nil
		}

		pconf, err := ParseConfig(config)
		if err != nil {
			return err
		}
		config = pconf
		if err := cfg.EnsureRoot(config.RootDir); err != nil {
			return err
		}
		logger, err = log.NewDefaultLogger(config.LogFormat, config.LogLevel)
		return err
	},
}

func init() {
	RootCmd.PersistentFlags().String("log-level", config.LogLevel, "log level")
	RootCmd.PersistentFlags().String("log-format", config.LogFormat, "log format: plain | json")
}

// NewRootCmd returns the root command with every subcommand attached,
// prepared to read --home, the environment and the config file.
func NewRootCmd() *cobra.Command {
	RootCmd.AddCommand(
		InitFilesCmd,
		NewRunNodeCmd(),
		NewCheckpointCmd(),
		VersionCmd,
	)
	return cli.PrepareBaseCmd(RootCmd, "LN", DefaultHome)
}
