package config

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/josepot/smoldot/types"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"

	// CheckpointBackendDB keeps checkpoints in the node database.
	CheckpointBackendDB = "db"
	// CheckpointBackendFile keeps the latest checkpoint in a single file.
	CheckpointBackendFile = "file"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
// NOTE: libs/cli must know to look in the config dir!
var (
	DefaultLightNodeDir = ".lightnode"
	defaultConfigDir    = "config"
	defaultDataDir      = "data"

	defaultConfigFileName     = "config.toml"
	defaultChainSpecName      = "chainspec.toml"
	defaultCheckpointFileName = "checkpoint.bin"

	defaultConfigFilePath     = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultChainSpecPath      = filepath.Join(defaultConfigDir, defaultChainSpecName)
	defaultCheckpointFilePath = filepath.Join(defaultDataDir, defaultCheckpointFileName)
)

// Config defines the top level configuration for a light node
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Sync            *SyncConfig            `mapstructure:"sync"`
	StateQuery      *StateQueryConfig      `mapstructure:"state-query"`
	RPC             *RPCConfig             `mapstructure:"rpc"`
	P2P             *P2PConfig             `mapstructure:"p2p"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a light node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Sync:            DefaultSyncConfig(),
		StateQuery:      DefaultStateQueryConfig(),
		RPC:             DefaultRPCConfig(),
		P2P:             DefaultP2PConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Sync:            TestSyncConfig(),
		StateQuery:      TestStateQueryConfig(),
		RPC:             TestRPCConfig(),
		P2P:             TestP2PConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [sync] section: %w", err)
	}
	if err := cfg.StateQuery.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [state-query] section: %w", err)
	}
	if err := cfg.RPC.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [rpc] section: %w", err)
	}
	if err := cfg.P2P.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [p2p] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a light node
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Path to the TOML file describing the chain: consensus engine, genesis
	// header and genesis authorities
	ChainSpec string `mapstructure:"chain-spec-file"`

	// Where the finalized checkpoint is kept: db | file
	CheckpointBackend string `mapstructure:"checkpoint-backend"`

	// Path to the checkpoint file, used by the file backend
	CheckpointFile string `mapstructure:"checkpoint-file"`

	// Database backend: goleveldb | memdb
	// * goleveldb (github.com/syndtr/goleveldb - most popular implementation)
	//   - pure go
	//   - stable
	// * memdb
	//   - nothing survives a restart; for tests
	DBBackend string `mapstructure:"db-backend"`

	// Database directory
	DBPath string `mapstructure:"db-dir"`

	// Output level for logging
	LogLevel string `mapstructure:"log-level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log-format"`
}

// DefaultBaseConfig returns a default base configuration for a light node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:           "lightnode",
		ChainSpec:         defaultChainSpecPath,
		CheckpointBackend: CheckpointBackendDB,
		CheckpointFile:    defaultCheckpointFilePath,
		DBBackend:         "goleveldb",
		DBPath:            defaultDataDir,
		LogLevel:          "info",
		LogFormat:         LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing a light node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.DBBackend = "memdb"
	return cfg
}

// ConfigFilePath returns the full path to the config file
func (cfg BaseConfig) ConfigFilePath() string {
	return rootify(defaultConfigFilePath, cfg.RootDir)
}

// ChainSpecFile returns the full path to the chain spec file
func (cfg BaseConfig) ChainSpecFile() string {
	return rootify(cfg.ChainSpec, cfg.RootDir)
}

// CheckpointFilePath returns the full path to the checkpoint file
func (cfg BaseConfig) CheckpointFilePath() string {
	return rootify(cfg.CheckpointFile, cfg.RootDir)
}

// DBDir returns the full path to the database directory
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log-format (must be 'plain' or 'json')")
	}
	switch cfg.CheckpointBackend {
	case CheckpointBackendDB, CheckpointBackendFile:
	default:
		return errors.New("unknown checkpoint-backend (must be 'db' or 'file')")
	}
	return nil
}

//-----------------------------------------------------------------------------
// SyncConfig

// SyncConfig defines the configuration of the header sync
type SyncConfig struct {
	// Maximum number of requests in flight to a single peer
	MaxRequestsPerPeer int `mapstructure:"max-requests-per-peer"`

	// Maximum number of requests in flight overall
	MaxInFlight int `mapstructure:"max-in-flight"`

	// A request not answered in time is retried with another peer
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// How often timeouts are checked and new requests scheduled
	TickInterval time.Duration `mapstructure:"tick-interval"`

	// How far above the best head headers are requested
	DownloadAhead uint64 `mapstructure:"download-ahead"`

	// Maximum number of headers asked for in one request
	MaxHeadersPerRequest uint64 `mapstructure:"max-headers-per-request"`

	// Capacity of the cache of headers whose parent is unknown
	MaxDisjointHeaders int `mapstructure:"max-disjoint-headers"`

	// Capacity of the cache of headers that failed verification
	BadBlockCacheSize int `mapstructure:"bad-block-cache-size"`

	// A finality proof is requested for every best chain header whose number
	// is a multiple of this. 0 disables periodic requests.
	JustificationPeriod uint64 `mapstructure:"justification-period"`

	// The node is synced when its best head is within this many blocks of
	// its best peer
	NearHeadDistance uint64 `mapstructure:"near-head-distance"`

	// The node is stalled when peers are ahead and its best head has not
	// moved for this long
	StallTimeout time.Duration `mapstructure:"stall-timeout"`
}

// DefaultSyncConfig returns a default configuration for the header sync
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		MaxRequestsPerPeer:   2,
		MaxInFlight:          16,
		RequestTimeout:       10 * time.Second,
		TickInterval:         200 * time.Millisecond,
		DownloadAhead:        2048,
		MaxHeadersPerRequest: 128,
		MaxDisjointHeaders:   1024,
		BadBlockCacheSize:    1024,
		JustificationPeriod:  512,
		NearHeadDistance:     2,
		StallTimeout:         time.Minute,
	}
}

// TestSyncConfig returns a configuration for testing the header sync
func TestSyncConfig() *SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.RequestTimeout = 500 * time.Millisecond
	cfg.TickInterval = 10 * time.Millisecond
	cfg.DownloadAhead = 64
	cfg.MaxHeadersPerRequest = 16
	cfg.StallTimeout = 5 * time.Second
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *SyncConfig) ValidateBasic() error {
	if cfg.MaxRequestsPerPeer <= 0 {
		return errors.New("max-requests-per-peer must be positive")
	}
	if cfg.MaxInFlight <= 0 {
		return errors.New("max-in-flight must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request-timeout must be positive")
	}
	if cfg.TickInterval <= 0 {
		return errors.New("tick-interval must be positive")
	}
	if cfg.MaxHeadersPerRequest == 0 || cfg.MaxHeadersPerRequest > types.MaxHeadersPerRequest {
		return fmt.Errorf("max-headers-per-request must be in [1, %d]", types.MaxHeadersPerRequest)
	}
	if cfg.MaxDisjointHeaders <= 0 {
		return errors.New("max-disjoint-headers must be positive")
	}
	if cfg.BadBlockCacheSize <= 0 {
		return errors.New("bad-block-cache-size must be positive")
	}
	if cfg.StallTimeout <= 0 {
		return errors.New("stall-timeout must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// StateQueryConfig

// StateQueryConfig defines the configuration of storage queries
type StateQueryConfig struct {
	// Number of peers asked for a proof before a query fails
	MaxAttempts int `mapstructure:"max-attempts"`

	// Timeout of a single proof request
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
}

// DefaultStateQueryConfig returns a default configuration for storage queries
func DefaultStateQueryConfig() *StateQueryConfig {
	return &StateQueryConfig{
		MaxAttempts:    3,
		RequestTimeout: 10 * time.Second,
	}
}

// TestStateQueryConfig returns a configuration for testing storage queries
func TestStateQueryConfig() *StateQueryConfig {
	cfg := DefaultStateQueryConfig()
	cfg.RequestTimeout = time.Second
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *StateQueryConfig) ValidateBasic() error {
	if cfg.MaxAttempts <= 0 {
		return errors.New("max-attempts must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request-timeout must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// RPCConfig

// RPCConfig defines the configuration options for the light node RPC server
type RPCConfig struct {
	// TCP or UNIX socket address for the RPC server to listen on
	ListenAddress string `mapstructure:"laddr"`

	// A list of origins a cross-domain request can be executed from.
	// If the special '*' value is present in the list, all origins will be allowed.
	// An origin may contain a wildcard (*) to replace 0 or more characters (i.e.: http://*.domain.com).
	// Only one wildcard can be used per origin.
	CORSAllowedOrigins []string `mapstructure:"cors-allowed-origins"`

	// A list of methods the client is allowed to use with cross-domain requests.
	CORSAllowedMethods []string `mapstructure:"cors-allowed-methods"`

	// A list of non simple headers the client is allowed to use with cross-domain requests.
	CORSAllowedHeaders []string `mapstructure:"cors-allowed-headers"`

	// Maximum number of simultaneous connections (including WebSocket).
	// If you want to accept a larger number than the default, make sure
	// you increase your OS limits.
	// 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max-open-connections"`

	// Maximum size of request body, in bytes
	MaxBodyBytes int64 `mapstructure:"max-body-bytes"`

	// Maximum size of request header, in bytes
	MaxHeaderBytes int `mapstructure:"max-header-bytes"`

	// How long a state query may take
	TimeoutQuery time.Duration `mapstructure:"timeout-query"`
}

// DefaultRPCConfig returns a default configuration for the RPC server
func DefaultRPCConfig() *RPCConfig {
	return &RPCConfig{
		ListenAddress:      "tcp://127.0.0.1:9933",
		CORSAllowedOrigins: []string{},
		CORSAllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		CORSAllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "X-Server-Time"},
		MaxOpenConnections: 900,
		MaxBodyBytes:       int64(1000000), // 1MB
		MaxHeaderBytes:     1 << 20,        // same as the net/http default
		TimeoutQuery:       30 * time.Second,
	}
}

// TestRPCConfig returns a configuration for testing the RPC server
func TestRPCConfig() *RPCConfig {
	cfg := DefaultRPCConfig()
	cfg.ListenAddress = "tcp://127.0.0.1:0"
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *RPCConfig) ValidateBasic() error {
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max-open-connections can't be negative")
	}
	if cfg.MaxBodyBytes < 0 {
		return errors.New("max-body-bytes can't be negative")
	}
	if cfg.MaxHeaderBytes < 0 {
		return errors.New("max-header-bytes can't be negative")
	}
	if cfg.TimeoutQuery <= 0 {
		return errors.New("timeout-query must be positive")
	}
	return nil
}

// IsCorsEnabled returns true if cross-origin resource sharing is enabled.
func (cfg *RPCConfig) IsCorsEnabled() bool {
	return len(cfg.CORSAllowedOrigins) != 0
}

//-----------------------------------------------------------------------------
// P2PConfig

// P2PConfig defines the peers the light node syncs from
type P2PConfig struct {
	// Comma separated list of peers, as id@http://host:port
	Peers string `mapstructure:"peers"`

	// Timeout for connecting to a peer
	DialTimeout time.Duration `mapstructure:"dial-timeout"`

	// Delay before reconnecting to a peer whose announcement stream broke
	ReconnectInterval time.Duration `mapstructure:"reconnect-interval"`

	// Maximum size of a peer response, in bytes
	MaxResponseBytes int64 `mapstructure:"max-response-bytes"`
}

// DefaultP2PConfig returns a default configuration for the peer transport
func DefaultP2PConfig() *P2PConfig {
	return &P2PConfig{
		DialTimeout:       3 * time.Second,
		ReconnectInterval: 5 * time.Second,
		MaxResponseBytes:  16 << 20,
	}
}

// TestP2PConfig returns a configuration for testing the peer transport
func TestP2PConfig() *P2PConfig {
	cfg := DefaultP2PConfig()
	cfg.DialTimeout = 500 * time.Millisecond
	cfg.ReconnectInterval = 50 * time.Millisecond
	return cfg
}

// PeerList splits Peers.
func (cfg *P2PConfig) PeerList() []string {
	var out []string
	for _, p := range strings.Split(cfg.Peers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *P2PConfig) ValidateBasic() error {
	if cfg.DialTimeout <= 0 {
		return errors.New("dial-timeout must be positive")
	}
	if cfg.ReconnectInterval <= 0 {
		return errors.New("reconnect-interval must be positive")
	}
	if cfg.MaxResponseBytes <= 0 {
		return errors.New("max-response-bytes must be positive")
	}
	for _, p := range cfg.PeerList() {
		if !strings.Contains(p, "@") {
			return fmt.Errorf("peer %q is not of the form id@url", p)
		}
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	// Check out the documentation for the list of available metrics.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus-listen-addr"`

	// Maximum number of simultaneous connections.
	// If you want to accept a larger number than the default, make sure
	// you increase your OS limits.
	// 0 - unlimited.
	MaxOpenConnections int `mapstructure:"max-open-connections"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		MaxOpenConnections:   3,
		Namespace:            "lightnode",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max-open-connections can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
