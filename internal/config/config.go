package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Tree backends.
const (
	BackendSQLite = "sqlite"
	BackendBunt   = "bunt"
	BackendRedis  = "redis"
)

// Push gateways.
const (
	GatewayHTTP = "http"
	GatewayAMQP = "amqp"
	GatewayNoop = "noop"
)

// Config represents the global ~/.campus/config.toml.
type Config struct {
	DefaultSession string             `toml:"default_session"`
	MetricsAddr    string             `toml:"metrics_addr,omitempty"`
	Sessions       map[string]Session `toml:"sessions,omitempty"`
	Store          Store              `toml:"store"`
	Push           Push               `toml:"push"`
	Media          Media              `toml:"media"`
}

// Session holds per-session settings.
type Session struct {
	UserID string `toml:"user_id"`
}

// Store selects where the tree lives. An empty Path means the session
// directory.
type Store struct {
	Backend  string `toml:"backend"`
	Path     string `toml:"path,omitempty"`
	RedisURL string `toml:"redis_url,omitempty"`
}

// Push configures notification delivery.
type Push struct {
	Gateway   string `toml:"gateway"`
	URL       string `toml:"url,omitempty"`
	AMQPURL   string `toml:"amqp_url,omitempty"`
	Exchange  string `toml:"exchange,omitempty"`
	QueueSize int    `toml:"queue_size"`
}

// Media configures attachment uploads. Empty Endpoint disables them.
type Media struct {
	Endpoint  string `toml:"endpoint,omitempty"`
	Bucket    string `toml:"bucket,omitempty"`
	AccessKey string `toml:"access_key,omitempty"`
	SecretKey string `toml:"secret_key,omitempty"`
	Secure    bool   `toml:"secure,omitempty"`
	PublicURL string `toml:"public_url,omitempty"`
}

// Default returns the settings used for anything the file leaves out.
func Default() *Config {
	return &Config{
		Store: Store{Backend: BackendSQLite},
		Push:  Push{Gateway: GatewayHTTP, QueueSize: 1000},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects unknown backend and gateway names.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendBunt:
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	switch c.Push.Gateway {
	case GatewayHTTP, GatewayAMQP, GatewayNoop:
	default:
		return fmt.Errorf("unknown push.gateway %q", c.Push.Gateway)
	}
	if c.Push.QueueSize < 0 {
		return fmt.Errorf("push.queue_size must not be negative, got %d", c.Push.QueueSize)
	}
	return nil
}

// UserID returns the signed-in user of a session, if one is set.
func (c *Config) UserID(session string) string {
	return c.Sessions[session].UserID
}

// SetUserID records the signed-in user of a session.
func (c *Config) SetUserID(session, userID string) {
	if c.Sessions == nil {
		c.Sessions = map[string]Session{}
	}
	c.Sessions[session] = Session{UserID: userID}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
