package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josepot/smoldot/types"
)

func ensureFiles(t *testing.T, rootDir string, files ...string) {
	for _, f := range files {
		p := rootify(f, rootDir)
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}
}

func TestEnsureRoot(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, EnsureRoot(tmpDir))
	require.NoError(t, WriteConfigFile(tmpDir, DefaultConfig()))

	// make sure config is set properly
	data, err := os.ReadFile(filepath.Join(tmpDir, defaultConfigFilePath))
	require.NoError(t, err)

	checkConfig(t, string(data))

	ensureFiles(t, tmpDir, "data")
}

func TestEnsureTestRoot(t *testing.T) {
	cfg, err := ResetTestRoot(t.TempDir(), t.Name())
	require.NoError(t, err)
	rootDir := cfg.RootDir

	// make sure config is set properly
	data, err := os.ReadFile(filepath.Join(rootDir, defaultConfigFilePath))
	require.NoError(t, err)

	checkConfig(t, string(data))

	ensureFiles(t, rootDir, "data", defaultChainSpecPath)

	spec, err := types.ChainSpecFromFile(cfg.ChainSpecFile())
	require.NoError(t, err)
	assert.Equal(t, "lightnode_test", spec.ChainID)
	assert.Len(t, spec.Genesis.Authorities, 1)
}

func checkConfig(t *testing.T, configFile string) {
	t.Helper()
	// list of words we expect in the config
	var elems = []string{
		"moniker",
		"chain-spec-file",
		"checkpoint-backend",
		"db-backend",
		"log-level",
		"sync",
		"request-timeout",
		"download-ahead",
		"state-query",
		"rpc",
		"laddr",
		"p2p",
		"peers",
		"instrumentation",
		"prometheus",
	}
	for _, e := range elems {
		if !strings.Contains(configFile, e) {
			t.Errorf("config file was expected to contain %s but did not", e)
		}
	}

	// the template must render valid TOML
	var raw map[string]interface{}
	_, err := toml.Decode(configFile, &raw)
	require.NoError(t, err)
}

func TestTemplateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := DefaultConfig()
	want.P2P.Peers = "a@http://127.0.0.1:30333"
	want.RPC.CORSAllowedOrigins = []string{"*"}
	want.CheckpointBackend = CheckpointBackendFile
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, want.WriteToTemplate(path))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	got := DefaultConfig()
	require.NoError(t, v.Unmarshal(got))
	assert.Equal(t, want.Sync, got.Sync)
	assert.Equal(t, want.StateQuery, got.StateQuery)
	assert.Equal(t, want.RPC, got.RPC)
	assert.Equal(t, want.P2P, got.P2P)
	assert.Equal(t, want.Instrumentation, got.Instrumentation)
	assert.Equal(t, want.BaseConfig, got.BaseConfig)
}
