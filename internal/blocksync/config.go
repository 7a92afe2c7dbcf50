package blocksync

import (
	"errors"
	"fmt"
	"time"

	"github.com/josepot/smoldot/types"
)

// Config holds the tunables of the Syncer.
type Config struct {
	// Maximum number of requests in flight to a single peer.
	MaxRequestsPerPeer int
	// Maximum number of requests in flight overall.
	MaxInFlight int
	// A request not answered within RequestTimeout is cancelled and retried
	// with another peer.
	RequestTimeout time.Duration
	// How often timeouts are checked and new requests scheduled.
	TickInterval time.Duration
	// How far above the best head headers are requested.
	DownloadAhead uint64
	// Maximum number of headers asked for in one request.
	MaxHeadersPerRequest uint64
	// Capacity of the cache of headers whose parent is unknown.
	MaxDisjointHeaders int
	// Capacity of the cache of headers that failed verification.
	BadBlockCacheSize int
	// A justification is requested for best chain headers whose number is a
	// multiple of JustificationPeriod. Zero disables periodic requests.
	JustificationPeriod uint64
	// The client is synced when the best head is within NearHeadDistance of
	// the best peer.
	NearHeadDistance uint64
	// The client is stalled when peers are ahead and the best head has not
	// moved for StallTimeout.
	StallTimeout time.Duration
}

// DefaultConfig returns a configuration suitable for public networks.
func DefaultConfig() Config {
	return Config{
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

// TestConfig returns a configuration with short timers for tests.
func TestConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 500 * time.Millisecond
	cfg.TickInterval = 10 * time.Millisecond
	cfg.DownloadAhead = 64
	cfg.MaxHeadersPerRequest = 16
	cfg.StallTimeout = 5 * time.Second
	return cfg
}

// ValidateBasic performs basic validation.
func (c Config) ValidateBasic() error {
	if c.MaxRequestsPerPeer <= 0 {
		return errors.New("max_requests_per_peer must be positive")
	}
	if c.MaxInFlight <= 0 {
		return errors.New("max_in_flight must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.TickInterval <= 0 {
		return errors.New("tick_interval must be positive")
	}
	if c.MaxHeadersPerRequest == 0 || c.MaxHeadersPerRequest > types.MaxHeadersPerRequest {
		return fmt.Errorf("max_headers_per_request must be in [1, %d]", types.MaxHeadersPerRequest)
	}
	if c.MaxDisjointHeaders <= 0 {
		return errors.New("max_disjoint_headers must be positive")
	}
	if c.BadBlockCacheSize <= 0 {
		return errors.New("bad_block_cache_size must be positive")
	}
	if c.StallTimeout <= 0 {
		return errors.New("stall_timeout must be positive")
	}
	return nil
}
