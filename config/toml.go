package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/creachadair/atomicfile"

	tmos "github.com/josepot/smoldot/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't exist,
// and returns an error if it fails.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{rootDir, filepath.Join(rootDir, defaultConfigDir), filepath.Join(rootDir, defaultDataDir)} {
		if err := tmos.EnsureDir(dir, defaultDirPerm); err != nil {
			return err
		}
	}
	return nil
}

// WriteConfigFile renders config using the template and writes it to
// the default config path under rootDir.
// This function is called by cmd/lightnode/commands/init.go
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	if _, err := atomicfile.WriteAll(path, &buffer, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func writeDefaultConfigFileIfNone(rootDir string) error {
	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if !tmos.FileExists(configFilePath) {
		return WriteConfigFile(rootDir, DefaultConfig())
	}
	return nil
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/lightnode/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.lightnode" by default, but could be changed via $LN_HOME env variable
# or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Path to the TOML file describing the chain: consensus engine, genesis
# header and genesis authorities
chain-spec-file = "{{ js .BaseConfig.ChainSpec }}"

# Where the finalized checkpoint is kept: db | file
checkpoint-backend = "{{ .BaseConfig.CheckpointBackend }}"

# Path to the checkpoint file, used by the file backend
checkpoint-file = "{{ js .BaseConfig.CheckpointFile }}"

# Database backend: goleveldb | memdb
# * goleveldb (github.com/syndtr/goleveldb - most popular implementation)
#   - pure go
#   - stable
# * memdb
#   - nothing survives a restart; for tests
db-backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db-dir = "{{ js .BaseConfig.DBPath }}"

# Output level for logging, including package level options
log-level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log-format = "{{ .BaseConfig.LogFormat }}"

#######################################################################
###                    Sync Configuration Options                   ###
#######################################################################
[sync]

# Maximum number of requests in flight to a single peer
max-requests-per-peer = {{ .Sync.MaxRequestsPerPeer }}

# Maximum number of requests in flight overall
max-in-flight = {{ .Sync.MaxInFlight }}

# A request not answered in time is retried with another peer
request-timeout = "{{ .Sync.RequestTimeout }}"

# How often timeouts are checked and new requests scheduled
tick-interval = "{{ .Sync.TickInterval }}"

# How far above the best head headers are requested
download-ahead = {{ .Sync.DownloadAhead }}

# Maximum number of headers asked for in one request
max-headers-per-request = {{ .Sync.MaxHeadersPerRequest }}

# Capacity of the cache of headers whose parent is unknown
max-disjoint-headers = {{ .Sync.MaxDisjointHeaders }}

# Capacity of the cache of headers that failed verification
bad-block-cache-size = {{ .Sync.BadBlockCacheSize }}

# A finality proof is requested for every best chain header whose number
# is a multiple of this. 0 disables periodic requests.
justification-period = {{ .Sync.JustificationPeriod }}

# The node is synced when its best head is within this many blocks of
# its best peer
near-head-distance = {{ .Sync.NearHeadDistance }}

# The node is stalled when peers are ahead and its best head has not
# moved for this long
stall-timeout = "{{ .Sync.StallTimeout }}"

#######################################################################
###                 State Query Configuration Options               ###
#######################################################################
[state-query]

# Number of peers asked for a proof before a query fails
max-attempts = {{ .StateQuery.MaxAttempts }}

# Timeout of a single proof request
request-timeout = "{{ .StateQuery.RequestTimeout }}"

#######################################################################
###                 RPC Server Configuration Options                ###
#######################################################################
[rpc]

# TCP or UNIX socket address for the RPC server to listen on
laddr = "{{ .RPC.ListenAddress }}"

# A list of origins a cross-domain request can be executed from
# Default value '[]' disables cors support
# Use '["*"]' to allow any origin
cors-allowed-origins = [{{ range .RPC.CORSAllowedOrigins }}{{ printf "%q, " . }}{{end}}]

# A list of methods the client is allowed to use with cross-domain requests
cors-allowed-methods = [{{ range .RPC.CORSAllowedMethods }}{{ printf "%q, " . }}{{end}}]

# A list of non simple headers the client is allowed to use with cross-domain requests
cors-allowed-headers = [{{ range .RPC.CORSAllowedHeaders }}{{ printf "%q, " . }}{{end}}]

# Maximum number of simultaneous connections (including WebSocket).
# If you want to accept a larger number than the default, make sure
# you increase your OS limits.
# 0 - unlimited.
max-open-connections = {{ .RPC.MaxOpenConnections }}

# Maximum size of request body, in bytes
max-body-bytes = {{ .RPC.MaxBodyBytes }}

# Maximum size of request header, in bytes
max-header-bytes = {{ .RPC.MaxHeaderBytes }}

# How long a state query may take
timeout-query = "{{ .RPC.TimeoutQuery }}"

#######################################################################
###                 P2P Configuration Options                       ###
#######################################################################
[p2p]

# Comma separated list of peers, as id@http://host:port
peers = "{{ .P2P.Peers }}"

# Timeout for connecting to a peer
dial-timeout = "{{ .P2P.DialTimeout }}"

# Delay before reconnecting to a peer whose announcement stream broke
reconnect-interval = "{{ .P2P.ReconnectInterval }}"

# Maximum size of a peer response, in bytes
max-response-bytes = {{ .P2P.MaxResponseBytes }}

#######################################################################
###                 Instrumentation Configuration Options           ###
#######################################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
# Check out the documentation for the list of available metrics.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus-listen-addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Maximum number of simultaneous connections.
# If you want to accept a larger number than the default, make sure
# you increase your OS limits.
# 0 - unlimited.
max-open-connections = {{ .Instrumentation.MaxOpenConnections }}

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`

/****** these are for test settings ***********/

// ResetTestRoot creates a fresh home directory under dir with a default
// config file and a single-authority test chain spec.
func ResetTestRoot(dir, testName string) (*Config, error) {
	rootDir, err := os.MkdirTemp(dir, fmt.Sprintf("%s_", testName))
	if err != nil {
		return nil, err
	}
	if err := EnsureRoot(rootDir); err != nil {
		return nil, err
	}
	if err := writeDefaultConfigFileIfNone(rootDir); err != nil {
		return nil, err
	}

	config := TestConfig().SetRoot(rootDir)
	if !tmos.FileExists(config.ChainSpecFile()) {
		if err := os.WriteFile(config.ChainSpecFile(), []byte(testChainSpec), 0644); err != nil {
			return nil, fmt.Errorf("failed to write file: %w", err)
		}
	}
	config.Instrumentation.Namespace = strings.ReplaceAll(testName, "-", "_")
	return config, nil
}

const testChainSpec = `chain_id = "lightnode_test"

[consensus]
engine = "aura"
slot_duration = "6s"
max_future_slots = 2
quorum = "2/3"

[genesis]
state_root = "0000000000000000000000000000000000000000000000000000000000000000"
extrinsics_root = "0000000000000000000000000000000000000000000000000000000000000000"

[[genesis.authorities]]
pub_key = "013FFE69A2F5781D38EFB32E77D24C9BC4A1F0122F39894F182F4A90852615A1"
weight = 10
`
