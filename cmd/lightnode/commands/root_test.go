package commands

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	cfg "github.com/josepot/smoldot/config"
	"github.com/josepot/smoldot/internal/test/factory"
	tmos "github.com/josepot/smoldot/libs/os"
	"github.com/josepot/smoldot/node"
	"github.com/josepot/smoldot/types"
)

func TestParseConfig(t *testing.T) {
	defer viper.Reset()
	dir := t.TempDir()

	viper.Reset()
	viper.Set("home", dir)
	viper.Set("log-level", "debug")
	viper.Set("p2p.peers", "alice@http://127.0.0.1:30333")
	conf, err := ParseConfig(cfg.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, dir, conf.RootDir)
	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, []string{"alice@http://127.0.0.1:30333"}, conf.P2P.PeerList())
	assert.Equal(t, filepath.Join(dir, "config", "chainspec.toml"), conf.ChainSpecFile())

	viper.Set("checkpoint-backend", "tape")
	_, err = ParseConfig(cfg.DefaultConfig())
	assert.Error(t, err)
}

func testChainSpec() *types.ChainSpec {
	return &types.ChainSpec{
		ChainID: "lightnode_test",
		Genesis: types.GenesisSpec{
			StateRoot:   types.HashBytes([]byte("genesis state")),
			Authorities: factory.NewKeyring(3).Authorities(),
		},
	}
}

func TestInitFiles(t *testing.T) {
	conf := cfg.TestConfig().SetRoot(t.TempDir())

	err := initFiles(conf, "")
	assert.Error(t, err, "nothing to import")

	specFile := filepath.Join(t.TempDir(), "spec.toml")
	require.NoError(t, testChainSpec().SaveAs(specFile))
	require.NoError(t, initFiles(conf, specFile))
	assert.True(t, tmos.FileExists(conf.ConfigFilePath()))

	spec, err := types.ChainSpecFromFile(conf.ChainSpecFile())
	require.NoError(t, err)
	assert.Equal(t, "lightnode_test", spec.ChainID)
	assert.Equal(t, types.EngineAura, spec.Consensus.Engine)

	// Running it again keeps the imported files.
	require.NoError(t, initFiles(conf, ""))

	err = initFiles(conf, filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestCheckpointShowAndReset(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		dbBackend dbm.BackendType
	}{
		{"file", cfg.CheckpointBackendFile, dbm.MemDBBackend},
		{"goleveldb", cfg.CheckpointBackendDB, dbm.GoLevelDBBackend},
	}

	kr := factory.NewKeyring(3)
	set := kr.AuthoritySet(4, 35, 35, 30)
	chain := kr.AuraChain(t, factory.Genesis(), 1, 3, set)

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			conf := cfg.TestConfig().SetRoot(t.TempDir())
			conf.CheckpointBackend = tc.backend
			conf.DBBackend = string(tc.dbBackend)
			require.NoError(t, cfg.EnsureRoot(conf.RootDir))

			_, err := showCheckpoint(conf)
			assert.Error(t, err)

			cps, err := node.OpenCheckpointStore(conf, cfg.DefaultDBProvider)
			require.NoError(t, err)
			require.NoError(t, cps.SaveCheckpoint(chain[2], set))
			require.NoError(t, cps.Close())

			info, err := showCheckpoint(conf)
			require.NoError(t, err)
			assert.Equal(t, uint64(3), info.Number)
			assert.Equal(t, chain[2].Hash(), info.Hash)
			assert.Equal(t, uint64(4), info.AuthoritySetID)
			assert.Equal(t, 3, info.Authorities)
			assert.Equal(t, uint64(100), info.TotalWeight)

			require.NoError(t, resetCheckpoint(conf))
			_, err = showCheckpoint(conf)
			assert.Error(t, err)
		})
	}
}
