// Package routerconfig assembles the router's configuration from
// cobra flags, an optional YAML file, and environment variable
// overrides for the discovery defaults, and validates it.
package routerconfig

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sgl-project/router/pkg/policy"
	"github.com/sgl-project/router/pkg/routererrors"
)

// DiscoveryConfig mirrors spec.md's discovery options.
type DiscoveryConfig struct {
	Enable        bool   `yaml:"enable"`
	LabelSelector string `yaml:"label_selector"`
	PortName      string `yaml:"port_name"`
	Protocol      string `yaml:"protocol"`
	WorkerPath    string `yaml:"worker_path"`
}

// Config is the router's full set of recognized options.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	WorkerURLs []string `yaml:"worker_urls"`
	Policy     string   `yaml:"policy"`

	WorkerStartupTimeoutSecs  int `yaml:"worker_startup_timeout_secs"`
	WorkerStartupCheckInterval int `yaml:"worker_startup_check_interval"`

	CacheThreshold       float64 `yaml:"cache_threshold"`
	BalanceAbsThreshold  int     `yaml:"balance_abs_threshold"`
	BalanceRelThreshold  float64 `yaml:"balance_rel_threshold"`
	EvictionIntervalSecs int     `yaml:"eviction_interval_secs"`
	MaxTreeSize          int     `yaml:"max_tree_size"`

	MaxPayloadSize int  `yaml:"max_payload_size"`
	Verbose        bool `yaml:"verbose"`

	Discovery DiscoveryConfig `yaml:"discovery"`
}

// Default returns a Config populated with spec.md §6's documented
// defaults.
func Default() Config {
	return Config{
		Host:                       "0.0.0.0",
		Port:                       8080,
		Policy:                     string(policy.KindRoundRobin),
		WorkerStartupTimeoutSecs:   300,
		WorkerStartupCheckInterval: 10,
		CacheThreshold:             0.50,
		BalanceAbsThreshold:        32,
		BalanceRelThreshold:        1.0001,
		EvictionIntervalSecs:       60,
		MaxTreeSize:                1 << 24,
		MaxPayloadSize:             4 * 1024 * 1024,
		Discovery: DiscoveryConfig{
			LabelSelector: "sgl-role=llm-worker",
			Protocol:      "http",
		},
	}
}

// LoadFile merges a YAML config file on top of cfg's current values;
// fields absent from the file are left untouched.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// ApplyDiscoveryEnvOverrides applies SGL_K8S_* environment variables,
// which take precedence over both flags and the config file.
func ApplyDiscoveryEnvOverrides(cfg *Config) {
	if v := os.Getenv("SGL_K8S_LABEL_SELECTOR"); v != "" {
		cfg.Discovery.LabelSelector = v
	}
	if v := os.Getenv("SGL_K8S_PORT_NAME"); v != "" {
		cfg.Discovery.PortName = v
	}
	if v := os.Getenv("SGL_K8S_PROTOCOL"); v != "" {
		cfg.Discovery.Protocol = v
	}
	if v := os.Getenv("SGL_K8S_WORKER_PATH"); v != "" {
		cfg.Discovery.WorkerPath = v
	}
}

// Validate checks the invariants that abort startup with
// ConfigInvalid: an unknown policy, a malformed worker URL, or an
// empty initial worker set with discovery disabled.
func (c Config) Validate() error {
	switch policy.Kind(c.Policy) {
	case policy.KindRandom, policy.KindRoundRobin, policy.KindCacheAware:
	default:
		return fmt.Errorf("%w: unknown policy %q", routererrors.ErrConfigInvalid, c.Policy)
	}

	for _, u := range c.WorkerURLs {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("%w: malformed worker url %q", routererrors.ErrConfigInvalid, u)
		}
	}

	if len(c.WorkerURLs) == 0 && !c.Discovery.Enable {
		return fmt.Errorf("%w: no initial workers and discovery is disabled", routererrors.ErrConfigInvalid)
	}

	return nil
}

// CacheAwarePolicyConfig projects the CacheAware-specific fields into
// policy.CacheAwareConfig.
func (c Config) CacheAwarePolicyConfig() policy.CacheAwareConfig {
	return policy.CacheAwareConfig{
		CacheThreshold:       c.CacheThreshold,
		BalanceAbsThreshold:  c.BalanceAbsThreshold,
		BalanceRelThreshold:  c.BalanceRelThreshold,
		EvictionIntervalSecs: c.EvictionIntervalSecs,
		MaxTreeSize:          c.MaxTreeSize,
	}
}

// NormalizedWorkerPath mirrors the discovery driver's own
// normalisation so config validation and rendering agree.
func NormalizedWorkerPath(path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
