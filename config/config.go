// Package config loads duplex-rpc settings: built-in defaults, then a YAML file, then DUPLEXRPC_* environment
// variables, each layer overriding the previous one.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const ServiceName = "keybase-daemon"

type Config struct {
	Network string `yaml:"network"` // "tcp" or "unix"
	Listen  string `yaml:"listen"`  // Daemon listen address
	Codec   string `yaml:"codec"`   // "cbor" or "json"

	Heartbeat time.Duration `yaml:"heartbeat"`

	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Daemon    DaemonConfig    `yaml:"daemon"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type ServerConfig struct {
	Advertise      string        `yaml:"advertise"` // Address registered in discovery; defaults to Listen
	Metrics        string        `yaml:"metrics"`   // Address serving /metrics; empty disables it
	HandlerTimeout time.Duration `yaml:"handlerTimeout"`
	RateLimit      float64       `yaml:"rateLimit"` // Inbound calls per second per connection; 0 disables
	RateBurst      int           `yaml:"rateBurst"`
	ShutdownGrace  time.Duration `yaml:"shutdownGrace"`
}

type ClientConfig struct {
	Address      string        `yaml:"address"`  // Static daemon address; when empty, discovery is used
	Balancer     string        `yaml:"balancer"` // "round_robin", "weighted_random" or "consistent_hash"
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	DialAttempts uint          `yaml:"dialAttempts"`
	DialDelay    time.Duration `yaml:"dialDelay"`
}

type DiscoveryConfig struct {
	Endpoints   []string      `yaml:"endpoints"` // etcd endpoints; empty disables discovery
	Service     string        `yaml:"service"`
	TTL         int64         `yaml:"ttl"` // Lease TTL in seconds
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

type DaemonConfig struct {
	ServerURI        string          `yaml:"serverUri"`
	MaxLoginAttempts int             `yaml:"maxLoginAttempts"`
	Accounts         []AccountConfig `yaml:"accounts"`
}

type AccountConfig struct {
	Username   string         `yaml:"username"`
	UID        string         `yaml:"uid"` // Hex
	Passphrase string         `yaml:"passphrase"`
	Devices    []DeviceConfig `yaml:"devices"`
}

type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

func Default() Config {
	return Config{
		Network:   "tcp",
		Listen:    "127.0.0.1:40401",
		Codec:     "cbor",
		Heartbeat: 30 * time.Second,
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			HandlerTimeout: 0,
			RateBurst:      1,
			ShutdownGrace:  5 * time.Second,
		},
		Client: ClientConfig{
			Balancer:     "round_robin",
			DialTimeout:  3 * time.Second,
			DialAttempts: 5,
			DialDelay:    200 * time.Millisecond,
		},
		Discovery: DiscoveryConfig{
			Service:     ServiceName,
			TTL:         10,
			DialTimeout: 5 * time.Second,
		},
		Daemon: DaemonConfig{
			ServerURI:        "https://api.keybase.io:443",
			MaxLoginAttempts: 3,
		},
	}
}

// Load reads path on top of Default and applies environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overrides cfg from DUPLEXRPC_* variables.
func ApplyEnvOverrides(cfg *Config) error {
	if v := env("NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := env("LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := env("CODEC"); v != "" {
		cfg.Codec = v
	}
	if v := env("ADDRESS"); v != "" {
		cfg.Client.Address = v
	}
	if v := env("METRICS"); v != "" {
		cfg.Server.Metrics = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := env("ETCD_ENDPOINTS"); v != "" {
		cfg.Discovery.Endpoints = nil
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				cfg.Discovery.Endpoints = append(cfg.Discovery.Endpoints, ep)
			}
		}
	}
	if err := envDuration("HEARTBEAT", &cfg.Heartbeat); err != nil {
		return err
	}
	if err := envDuration("HANDLER_TIMEOUT", &cfg.Server.HandlerTimeout); err != nil {
		return err
	}
	if v := env("DIAL_ATTEMPTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("DUPLEXRPC_DIAL_ATTEMPTS: %w", err)
		}
		cfg.Client.DialAttempts = uint(n)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Network {
	case "tcp", "unix":
	default:
		errs = append(errs, fmt.Errorf("network must be tcp or unix, got %q", c.Network))
	}
	switch c.Codec {
	case "cbor", "json":
	default:
		errs = append(errs, fmt.Errorf("codec must be cbor or json, got %q", c.Codec))
	}
	switch c.Client.Balancer {
	case "round_robin", "weighted_random", "consistent_hash":
	default:
		errs = append(errs, fmt.Errorf("client.balancer must be round_robin, weighted_random or consistent_hash, got %q", c.Client.Balancer))
	}
	if c.Listen == "" {
		errs = append(errs, errors.New("listen must be set"))
	}
	if c.Heartbeat < 0 || c.Server.HandlerTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, errors.New("server.rateBurst must be at least 1 when rateLimit is set"))
	}
	for i, acct := range c.Daemon.Accounts {
		if acct.Username == "" {
			errs = append(errs, fmt.Errorf("daemon.accounts[%d]: username must be set", i))
		}
	}
	return errors.Join(errs...)
}

// AdvertiseAddr is the address registered in discovery.
func (c Config) AdvertiseAddr() string {
	if c.Server.Advertise != "" {
		return c.Server.Advertise
	}
	return c.Listen
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv("DUPLEXRPC_" + name))
}

func envDuration(name string, dst *time.Duration) error {
	v := env(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("DUPLEXRPC_%s: %w", name, err)
	}
	*dst = d
	return nil
}
