package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thejuampi/bunnymq-client-go/bunny"
)

// Config is the root configuration.
type Config struct {
	Client  bunny.Config  `yaml:"client"`
	Queues  []QueueConfig `yaml:"queues"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Broker  BrokerConfig  `yaml:"broker"`
}

// QueueConfig is a queue declared by bunnyctl before it runs a command.
type QueueConfig struct {
	Name    string             `yaml:"name"`
	Options *bunny.QueueConfig `yaml:"options"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// BrokerConfig configures the fake broker.
type BrokerConfig struct {
	Address           string            `yaml:"address"`
	WebSocketAddress  string            `yaml:"websocket_address"`
	WebSocketPath     string            `yaml:"websocket_path"`
	AdminAddress      string            `yaml:"admin_address"`
	Users             map[string]string `yaml:"users"`
	HeartbeatInterval time.Duration     `yaml:"heartbeat_interval"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Client: bunny.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Address:   ":9108",
			Path:      "/metrics",
			Namespace: "bunnymq",
		},
		Broker: BrokerConfig{
			Address:       "127.0.0.1:3000",
			WebSocketPath: "/",
		},
	}
}

// applyEnvOverrides applies BUNNY_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("BUNNY_HOST"); v != "" {
		cfg.Client.Host = v
	}
	if v := os.Getenv("BUNNY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BUNNY_PORT: %w", err)
		}
		cfg.Client.Port = port
	}
	if v := os.Getenv("BUNNY_USERNAME"); v != "" {
		cfg.Client.Username = v
	}
	if v := os.Getenv("BUNNY_PASSWORD"); v != "" {
		cfg.Client.Password = v
	}

	if v := os.Getenv("BUNNY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BUNNY_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
		cfg.Metrics.Enabled = true
	}

	if v := os.Getenv("BUNNY_BROKER_ADDRESS"); v != "" {
		cfg.Broker.Address = v
	}
	if v := os.Getenv("BUNNY_BROKER_USERS"); v != "" {
		users, err := ParseUsers(v)
		if err != nil {
			return fmt.Errorf("BUNNY_BROKER_USERS: %w", err)
		}
		cfg.Broker.Users = users
	}
	return nil
}

// ParseUsers parses "user1:pass1,user2:pass2".
func ParseUsers(pairs string) (map[string]string, error) {
	users := make(map[string]string)
	for _, pair := range strings.Split(pairs, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		username, password, ok := strings.Cut(pair, ":")
		if !ok || username == "" {
			return nil, fmt.Errorf("invalid user entry %q", pair)
		}
		users[username] = password
	}
	return users, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Client.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("client: %w", err))
	}
	for i, queue := range c.Queues {
		if queue.Name == "" {
			errs = append(errs, fmt.Errorf("queues[%d].name is required", i))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, errors.New("metrics.address is required when metrics are enabled"))
	}
	if c.Broker.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("broker.heartbeat_interval must not be negative"))
	}

	return errors.Join(errs...)
}
