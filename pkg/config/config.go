// Package config loads the provisioner configuration. Values come from the
// defaults, then the YAML file, then PROVISIONER_* environment variables;
// command line flags are applied last by the binary.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/unit-provisioner/pkg/ledger"
	"github.com/psantana5/unit-provisioner/pkg/principal"
	"github.com/psantana5/unit-provisioner/pkg/store"
	"github.com/psantana5/unit-provisioner/pkg/tls"
	"github.com/psantana5/unit-provisioner/pkg/tracing"
)

// EnvPrefix prefixes every environment variable
const EnvPrefix = "PROVISIONER_"

// Config is the complete server configuration
type Config struct {
	Port            int           `yaml:"port" env:"PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	TLS       tls.Config      `yaml:"tls" envPrefix:"TLS_"`
	Store     store.Config    `yaml:"store" envPrefix:"STORE_"`
	Identity  IdentityConfig  `yaml:"identity" envPrefix:"IDENTITY_"`
	Endpoints EndpointsConfig `yaml:"endpoints" envPrefix:"ENDPOINTS_"`
	Fees      ledger.Fees     `yaml:"fees" envPrefix:"FEES_"`

	// UnitCredits is the credit allowance a new unit is priced at
	UnitCredits uint64 `yaml:"unit_credits" env:"UNIT_CREDITS"`

	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Relay     RelayConfig     `yaml:"relay" envPrefix:"RELAY_"`
	Upstream  UpstreamConfig  `yaml:"upstream" envPrefix:"UPSTREAM_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Tracing   tracing.Config  `yaml:"tracing" envPrefix:"TRACING_"`
}

// IdentityConfig names the principals the service deals with, in text form
type IdentityConfig struct {
	Self        string   `yaml:"self" env:"SELF"`
	Minter      string   `yaml:"minter" env:"MINTER"`
	Maintainers []string `yaml:"maintainers" env:"MAINTAINERS" envSeparator:","`
}

// EndpointsConfig holds the base URLs of the external services
type EndpointsConfig struct {
	Ledger  string        `yaml:"ledger" env:"LEDGER"`
	Minter  string        `yaml:"minter" env:"MINTER"`
	Units   string        `yaml:"units" env:"UNITS"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"RPS"`
	Burst int     `yaml:"burst" env:"BURST"`
}

type AuthConfig struct {
	// MaxSkew bounds the age of a request signature
	MaxSkew time.Duration `yaml:"max_skew" env:"MAX_SKEW"`
	// MaintainerKeyHash is a bcrypt hash; when set admin routes also need the key
	MaintainerKeyHash string `yaml:"maintainer_key_hash" env:"MAINTAINER_KEY_HASH"`
	MaxBodyBytes      int64  `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

type RelayConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// UpstreamConfig controls probing of the ledger, minter and unit manager
type UpstreamConfig struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"` // 0 disables probing
	Path     string        `yaml:"path" env:"PATH"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	JSON  bool   `yaml:"json" env:"JSON"`
	// File writes logs under /var/log/provisioner (or ./logs) as well
	File bool `yaml:"file" env:"FILE"`
}

// Default returns the configuration used when nothing else is set
func Default() Config {
	return Config{
		Port:            8080,
		MetricsPort:     9090,
		ShutdownTimeout: 30 * time.Second,
		Store: store.Config{
			Type: "sqlite",
			Path: "provisioner.db",
		},
		Endpoints: EndpointsConfig{
			Timeout: 2 * time.Minute,
		},
		Fees:        ledger.DefaultFees,
		UnitCredits: 5_000_000_000_000,
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 10,
		},
		Auth: AuthConfig{
			MaxSkew:      5 * time.Minute,
			MaxBodyBytes: 32 << 20,
		},
		Relay: RelayConfig{
			Timeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			Interval: 30 * time.Second,
			Path:     "/health",
			Timeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracing: tracing.Config{
			ServiceName: "unit-provisioner",
		},
	}
}

// Load reads path (if not empty) over the defaults and applies the
// environment. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from PROVISIONER_* variables
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Identities are the parsed principals of IdentityConfig
type Identities struct {
	Self        principal.Principal
	Minter      principal.Principal
	Maintainers []principal.Principal
}

// Identities parses the configured principals
func (c Config) Identities() (Identities, error) {
	var ids Identities
	var err error
	if ids.Self, err = principal.FromText(c.Identity.Self); err != nil {
		return ids, fmt.Errorf("identity.self: %w", err)
	}
	if ids.Minter, err = principal.FromText(c.Identity.Minter); err != nil {
		return ids, fmt.Errorf("identity.minter: %w", err)
	}
	for i, m := range c.Identity.Maintainers {
		p, err := principal.FromText(m)
		if err != nil {
			return ids, fmt.Errorf("identity.maintainers[%d]: %w", i, err)
		}
		ids.Maintainers = append(ids.Maintainers, p)
	}
	return ids, nil
}

// Validate reports every problem with the configuration at once
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 || (c.MetricsPort != 0 && c.MetricsPort == c.Port) {
		errs = append(errs, fmt.Errorf("metrics_port %d invalid", c.MetricsPort))
	}
	if c.Identity.Self == "" {
		errs = append(errs, errors.New("identity.self is required"))
	}
	if c.Identity.Minter == "" {
		errs = append(errs, errors.New("identity.minter is required"))
	}
	if c.Identity.Self != "" && c.Identity.Minter != "" {
		if _, err := c.Identities(); err != nil {
			errs = append(errs, err)
		}
	}
	for name, raw := range map[string]string{
		"endpoints.ledger": c.Endpoints.Ledger,
		"endpoints.minter": c.Endpoints.Minter,
		"endpoints.units":  c.Endpoints.Units,
	} {
		if err := validateURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	switch c.Store.Type {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.type %q is not supported", c.Store.Type))
	}
	if c.Store.Type == "postgres" && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required for postgres"))
	}
	if c.UnitCredits == 0 {
		errs = append(errs, errors.New("unit_credits must be positive"))
	}
	if c.Fees.Service <= c.Fees.Network {
		errs = append(errs, errors.New("fees.service must exceed fees.network"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if c.Upstream.Interval < 0 {
		errs = append(errs, errors.New("upstream.interval must not be negative"))
	}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level %q is not supported", c.Log.Level))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}

	return errors.Join(errs...)
}

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true, "fatal": true,
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", raw)
	}
	return nil
}
