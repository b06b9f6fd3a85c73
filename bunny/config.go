package bunny

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"
)

// Transport names accepted by Config.Transport.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// Config is the driver configuration. It can be embedded in a YAML file.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	TLS                   bool        `yaml:"tls"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify"`
	TLSConfig             *tls.Config `yaml:"-"`

	Transport     string `yaml:"transport"`
	WebSocketPath string `yaml:"websocket_path"`

	// Failover lists extra host:port addresses tried in turn after a failure.
	Failover []string `yaml:"failover"`

	AutoReconnect bool            `yaml:"auto_reconnect"`
	Reconnect     ReconnectConfig `yaml:"reconnect"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
	// HeartbeatTimeout treats a silent transport as failed. Zero disables it.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	// CommandTimeout bounds the wait for a correlated response. Zero disables it.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// ReconnectConfig contains reconnection settings.
type ReconnectConfig struct {
	Strategy  string        `yaml:"strategy"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	Factor    float64       `yaml:"factor"`
	// MaxAttempts caps consecutive reconnect attempts. Zero means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:          "localhost",
		Port:          3000,
		Transport:     TransportTCP,
		WebSocketPath: "/",
		AutoReconnect: true,
		Reconnect: ReconnectConfig{
			Strategy:    "linear",
			BaseDelay:   500 * time.Millisecond,
			Factor:      2,
			MaxAttempts: 5,
		},
		DialTimeout: 10 * time.Second,
	}
}

// Address returns the primary host:port.
func (config Config) Address() string {
	return joinHostPort(config.Host, config.Port)
}

// Validate checks the configuration for errors.
func (config Config) Validate() error {
	var errs []string

	if config.Host == "" {
		errs = append(errs, "host is required")
	}
	if config.Port < 1 || config.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	switch config.Transport {
	case "", TransportTCP, TransportWebSocket:
	default:
		errs = append(errs, fmt.Sprintf("transport %q must be tcp or websocket", config.Transport))
	}
	switch config.Reconnect.Strategy {
	case "", "linear", "fixed", "exponential":
	default:
		errs = append(errs, fmt.Sprintf("reconnect.strategy %q must be linear, fixed, or exponential", config.Reconnect.Strategy))
	}
	if config.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "reconnect.max_attempts must not be negative")
	}
	if config.Reconnect.BaseDelay < 0 || config.Reconnect.MaxDelay < 0 {
		errs = append(errs, "reconnect delays must not be negative")
	}
	if config.HeartbeatTimeout < 0 || config.CommandTimeout < 0 || config.DialTimeout < 0 {
		errs = append(errs, "timeouts must not be negative")
	}

	if len(errs) > 0 {
		return NewError(CommandError, "configuration errors: "+strings.Join(errs, "; "))
	}
	return nil
}

// tlsConfig returns the TLS settings for dialing, or nil for plain transport.
func (config Config) tlsConfig() *tls.Config {
	if config.TLSConfig != nil {
		cloned := config.TLSConfig.Clone()
		if config.TLSInsecureSkipVerify {
			cloned.InsecureSkipVerify = true
		}
		return cloned
	}
	if !config.TLS {
		return nil
	}
	return &tls.Config{
		ServerName:         config.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: config.TLSInsecureSkipVerify, // #nosec G402 -- explicit opt-in only
	}
}

func (config Config) dialer() Dialer {
	if config.Transport == TransportWebSocket {
		return &WebSocketDialer{
			Path:             config.WebSocketPath,
			TLSConfig:        config.tlsConfig(),
			HandshakeTimeout: config.DialTimeout,
		}
	}
	return &TCPDialer{Timeout: config.DialTimeout, TLSConfig: config.tlsConfig()}
}

func (config Config) addresses() []string {
	addresses := []string{config.Address()}
	return append(addresses, config.Failover...)
}
