// Package config loads the service configuration: built-in defaults, then an
// optional TOML file, then REALTIME_ environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables. A double underscore
// separates levels: REALTIME_HTTP__ADDR sets http.addr.
const EnvPrefix = "REALTIME_"

// DefaultPaths are tried in order when no file is given.
var DefaultPaths = []string{"./realtime.toml", "$HOME/.realtime.toml"}

type Config struct {
	HTTP      HTTP      `koanf:"http"`
	WS        WS        `koanf:"ws"`
	Store     Store     `koanf:"store"`
	Broker    Broker    `koanf:"broker"`
	Auth      Auth      `koanf:"auth"`
	Log       Log       `koanf:"log"`
	Discovery Discovery `koanf:"discovery"`
}

type HTTP struct {
	Addr             string        `koanf:"addr"`
	ReadTimeout      time.Duration `koanf:"read_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
	// AllowedOrigins lists accepted Origin headers. Empty means same host
	// only; "*" accepts any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type WS struct {
	SendBuffer      int           `koanf:"send_buffer"`
	PingInterval    time.Duration `koanf:"ping_interval"`
	PongWait        time.Duration `koanf:"pong_wait"`
	WriteWait       time.Duration `koanf:"write_wait"`
	MaxMessageBytes int64         `koanf:"max_message_bytes"`
	RatePerSecond   float64       `koanf:"rate_per_second"`
	RateBurst       int           `koanf:"rate_burst"`
}

type Store struct {
	Driver   string        `koanf:"driver"`
	DSN      string        `koanf:"dsn"`
	BoltPath string        `koanf:"bolt_path"`
	Timeout  time.Duration `koanf:"timeout"`
}

type Broker struct {
	Driver        string        `koanf:"driver"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	Prefix        string        `koanf:"prefix"`
	MembershipTTL time.Duration `koanf:"membership_ttl"`
}

type Auth struct {
	JWTSecret  string `koanf:"jwt_secret"`
	CookieName string `koanf:"cookie_name"`
	// AnonymousWatch lets unauthenticated clients watch like counters.
	AnonymousWatch bool `koanf:"anonymous_watch"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type Discovery struct {
	Enabled bool   `koanf:"enabled"`
	Service string `koanf:"service"`
	Domain  string `koanf:"domain"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"http.addr":              ":8080",
		"http.read_timeout":      "15s",
		"http.write_timeout":     "15s",
		"http.handshake_timeout": "10s",
		"http.shutdown_timeout":  "15s",

		"ws.send_buffer":       256,
		"ws.ping_interval":     "54s",
		"ws.pong_wait":         "60s",
		"ws.write_wait":        "10s",
		"ws.max_message_bytes": 64 * 1024,
		"ws.rate_per_second":   10.0,
		"ws.rate_burst":        20,

		"store.driver":    "bolt",
		"store.bolt_path": "realtime.db",
		"store.timeout":   "5s",

		"broker.driver":         "memory",
		"broker.redis_addr":     "localhost:6379",
		"broker.prefix":         "realtime:",
		"broker.membership_ttl": "10m",

		"auth.cookie_name":     "token",
		"auth.anonymous_watch": true,

		"log.level":  "info",
		"log.format": "console",

		"discovery.service": "_realtime._tcp",
		"discovery.domain":  "local.",
	}
}

// Load builds the configuration. An explicit path must exist; otherwise the
// first readable default path is used, if any.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	} else {
		for _, p := range DefaultPaths {
			p = os.ExpandEnv(p)
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load config %s: %w", p, err)
			}
			break
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate reports the first inconsistency found.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.HandshakeTimeout <= 0 {
		return fmt.Errorf("http.handshake_timeout must be positive")
	}

	if c.WS.SendBuffer <= 0 {
		return fmt.Errorf("ws.send_buffer must be positive")
	}
	if c.WS.PongWait <= 0 || c.WS.WriteWait <= 0 {
		return fmt.Errorf("ws.pong_wait and ws.write_wait must be positive")
	}
	if c.WS.PingInterval <= 0 || c.WS.PingInterval >= c.WS.PongWait {
		return fmt.Errorf("ws.ping_interval (%s) must be positive and below ws.pong_wait (%s)", c.WS.PingInterval, c.WS.PongWait)
	}
	if c.WS.MaxMessageBytes <= 0 {
		return fmt.Errorf("ws.max_message_bytes must be positive")
	}
	if c.WS.RatePerSecond > 0 && c.WS.RateBurst <= 0 {
		return fmt.Errorf("ws.rate_burst must be positive when ws.rate_per_second is set")
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	case "bolt":
		if c.Store.BoltPath == "" {
			return fmt.Errorf("store.bolt_path is required for the bolt driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Broker.Driver {
	case "memory":
	case "redis":
		if c.Broker.RedisAddr == "" {
			return fmt.Errorf("broker.redis_addr is required for the redis driver")
		}
		if c.Broker.MembershipTTL <= 0 {
			return fmt.Errorf("broker.membership_ttl must be positive")
		}
	default:
		return fmt.Errorf("unknown broker.driver %q", c.Broker.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}
