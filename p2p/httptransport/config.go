package httptransport

import (
	"errors"
	"time"
)

// Config configures the Client and the Announcer.
type Config struct {
	// DialTimeout bounds connecting to a peer, for requests and for the
	// announce websocket.
	DialTimeout time.Duration
	// ReconnectInterval is the pause before redialing a dropped announce
	// websocket.
	ReconnectInterval time.Duration
	// MaxResponseBytes bounds a response body and a gossip message.
	MaxResponseBytes int64
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:       3 * time.Second,
		ReconnectInterval: 5 * time.Second,
		MaxResponseBytes:  16 << 20,
	}
}

func (cfg Config) ValidateBasic() error {
	if cfg.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}
	if cfg.ReconnectInterval <= 0 {
		return errors.New("reconnect interval must be positive")
	}
	if cfg.MaxResponseBytes <= 0 {
		return errors.New("max response bytes must be positive")
	}
	return nil
}
