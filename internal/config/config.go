// Package config handles configuration loading and validation for edgeproxy.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LBPolicy identifies a load-balancing algorithm for a pool.
type LBPolicy string

const (
	PolicyRandom         LBPolicy = "random"
	PolicyRoundRobin     LBPolicy = "round_robin"
	PolicyConsistentHash LBPolicy = "consistent_hash"
)

// ParsePolicy resolves the accepted synonyms for each LB policy.
func ParsePolicy(raw string) (LBPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "random":
		return PolicyRandom, nil
	case "round-robin", "round_robin", "rr":
		return PolicyRoundRobin, nil
	case "consistent-hash", "consistent_hash", "ch":
		return PolicyConsistentHash, nil
	default:
		return "", fmt.Errorf("unknown load_balancing type: %q", raw)
	}
}

// TLSFiles names the PEM-encoded certificate chain and private key paths.
type TLSFiles struct {
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
}

// ListenConfig describes the UDP/QUIC bind address.
type ListenConfig struct {
	Protocol string   `mapstructure:"protocol"`
	Address  string   `mapstructure:"address"`
	Port     int      `mapstructure:"port"`
	TLS      TLSFiles `mapstructure:"tls"`
}

// RouteMatch is the (host, path-prefix) criteria a pool is selected by.
type RouteMatch struct {
	Host       string `mapstructure:"host"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// HealthCheckConfig is the per-backend probe configuration (spec §3 HealthCheck).
type HealthCheckConfig struct {
	Path             string `mapstructure:"path"`
	IntervalMS       int    `mapstructure:"interval_ms"`
	TimeoutMS        int    `mapstructure:"timeout_ms"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	SuccessThreshold int    `mapstructure:"success_threshold"`
	CooldownMS       int    `mapstructure:"cooldown_ms"`
}

func (h HealthCheckConfig) Interval() time.Duration { return time.Duration(h.IntervalMS) * time.Millisecond }
func (h HealthCheckConfig) Timeout() time.Duration  { return time.Duration(h.TimeoutMS) * time.Millisecond }
func (h HealthCheckConfig) Cooldown() time.Duration { return time.Duration(h.CooldownMS) * time.Millisecond }

// Backend is a single origin endpoint within a pool.
type Backend struct {
	ID          string            `mapstructure:"id"`
	Address     string            `mapstructure:"address"`
	Weight      int               `mapstructure:"weight"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
}

// loadBalancing is the nested `load_balancing: { type }` block.
type loadBalancing struct {
	Type string `mapstructure:"type"`
}

// Upstream is a named pool: routing criteria, policy, and ordered backends.
type Upstream struct {
	LoadBalancing loadBalancing `mapstructure:"load_balancing"`
	Route         RouteMatch    `mapstructure:"route"`
	Backends      []Backend     `mapstructure:"backends"`

	// Policy is resolved from LoadBalancing.Type during Validate.
	Policy LBPolicy `mapstructure:"-"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the fully validated, immutable-for-run process configuration.
type Config struct {
	Version  int                 `mapstructure:"version"`
	Listen   ListenConfig        `mapstructure:"listen"`
	Upstream map[string]Upstream `mapstructure:"upstream"`
	Log      LogConfig           `mapstructure:"log"`

	// DeprecatedLoadBalancing is read but always ignored: see spec §9
	// Open Questions. The top-level load_balancing field is carried only
	// so older config files parse without error.
	DeprecatedLoadBalancing loadBalancing `mapstructure:"load_balancing"`
}

// PoolNames returns the configured pool names in deterministic
// (lexicographic) order, matching the router's tie-break rule.
func (c *Config) PoolNames() []string {
	names := make([]string, 0, len(c.Upstream))
	for name := range c.Upstream {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListenAddress returns "host:port" for the UDP bind.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Listen.Address, c.Listen.Port)
}

func defaultHealthCheck() HealthCheckConfig {
	return HealthCheckConfig{
		Path:             "/health",
		IntervalMS:       5000,
		TimeoutMS:        1000,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		CooldownMS:       5000,
	}
}

// applyDefaults fills in zero-valued optional fields before validation.
func (c *Config) applyDefaults() {
	if c.Listen.Protocol == "" {
		c.Listen.Protocol = "http3"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	def := defaultHealthCheck()
	for name, up := range c.Upstream {
		for i := range up.Backends {
			b := &up.Backends[i]
			if b.Weight == 0 {
				b.Weight = 100
			}
			hc := &b.HealthCheck
			if hc.Path == "" {
				hc.Path = def.Path
			}
			if hc.IntervalMS == 0 {
				hc.IntervalMS = def.IntervalMS
			}
			if hc.TimeoutMS == 0 {
				hc.TimeoutMS = def.TimeoutMS
			}
			if hc.FailureThreshold == 0 {
				hc.FailureThreshold = def.FailureThreshold
			}
			if hc.SuccessThreshold == 0 {
				hc.SuccessThreshold = def.SuccessThreshold
			}
			if hc.CooldownMS == 0 {
				hc.CooldownMS = def.CooldownMS
			}
		}
		c.Upstream[name] = up
	}
}

// Validate enforces the invariants in spec §3's Data Model table.
func (c *Config) Validate() error {
	if c.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("invalid listen.port: %d (must be 1-65535)", c.Listen.Port)
	}
	if c.Listen.TLS.Cert == "" || c.Listen.TLS.Key == "" {
		return fmt.Errorf("listen.tls.cert and listen.tls.key are required")
	}
	if _, err := os.Stat(c.Listen.TLS.Cert); err != nil {
		return fmt.Errorf("listen.tls.cert not readable: %w", err)
	}
	if _, err := os.Stat(c.Listen.TLS.Key); err != nil {
		return fmt.Errorf("listen.tls.key not readable: %w", err)
	}
	if len(c.Upstream) == 0 {
		return fmt.Errorf("at least one upstream pool is required")
	}

	for name, up := range c.Upstream {
		policy, err := ParsePolicy(up.LoadBalancing.Type)
		if err != nil {
			return fmt.Errorf("pool %q: %w", name, err)
		}
		up.Policy = policy

		if up.Route.Host == "" && up.Route.PathPrefix == "" {
			return fmt.Errorf("pool %q: route must set host and/or path_prefix", name)
		}
		if up.Route.PathPrefix != "" && !strings.HasPrefix(up.Route.PathPrefix, "/") {
			return fmt.Errorf("pool %q: route.path_prefix must begin with '/'", name)
		}
		if len(up.Backends) == 0 {
			return fmt.Errorf("pool %q: at least one backend is required", name)
		}

		seen := make(map[string]bool, len(up.Backends))
		for i, b := range up.Backends {
			if b.ID == "" {
				return fmt.Errorf("pool %q: backend[%d] id is required", name, i)
			}
			if seen[b.ID] {
				return fmt.Errorf("pool %q: duplicate backend id %q", name, b.ID)
			}
			seen[b.ID] = true
			if b.Address == "" {
				return fmt.Errorf("pool %q: backend %q address is required", name, b.ID)
			}
			if b.Weight <= 0 {
				return fmt.Errorf("pool %q: backend %q weight must be positive", name, b.ID)
			}
			hc := b.HealthCheck
			if hc.FailureThreshold < 1 {
				return fmt.Errorf("pool %q: backend %q failure_threshold must be >=1", name, b.ID)
			}
			if hc.SuccessThreshold < 1 {
				return fmt.Errorf("pool %q: backend %q success_threshold must be >=1", name, b.ID)
			}
			if hc.IntervalMS <= 0 {
				return fmt.Errorf("pool %q: backend %q interval must be positive", name, b.ID)
			}
			if hc.CooldownMS <= 0 {
				return fmt.Errorf("pool %q: backend %q cooldown must be positive", name, b.ID)
			}
		}

		c.Upstream[name] = up
	}

	return nil
}

// Load reads, defaults, and validates configuration from the file named by
// the command's --config flag, with EDGEPROXY_-prefixed env var overrides.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("EDGEPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindFlags(v, cmd); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	configFile, _ := cmd.Flags().GetString("config")
	if configFile == "" {
		return nil, fmt.Errorf("config file path is required (-c/--config)")
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	flagBindings := map[string]string{
		"log-level": "log.level",
	}
	for flag, key := range flagBindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}
