package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds global Burrow configuration.
type Config struct {
	// DataDir is the base directory for persistent state (VM database,
	// daemon lock file). Env: BURROW_DATA_DIR. Default: /var/lib/burrow.
	DataDir string `mapstructure:"data_dir"`
	// APIAddr is the listen address of the HTTP lifecycle ingress.
	// Default: 127.0.0.1:7600.
	APIAddr string `mapstructure:"api_addr"`
	// MetricsAddr is the listen address of the Prometheus endpoint.
	// Default: 127.0.0.1:7601.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// LogLevel is one of debug/info/warn/error. Default: info.
	LogLevel string `mapstructure:"log_level"`
	// LogJSON selects JSON log output instead of console output.
	LogJSON bool `mapstructure:"log_json"`

	// Workers is the fixed dispatcher pool size. Default: 4.
	Workers int `mapstructure:"workers"`
	// MaxWaitSeconds bounds the host-wide free-memory wait. Default: 64.
	MaxWaitSeconds int `mapstructure:"max_wait_seconds"`
	// MemoryOverheadKiB is added to a VM's memory when computing the
	// required host free memory for a build. Default: 10240 (10 MiB for
	// shadow/frame table overhead).
	MemoryOverheadKiB uint64 `mapstructure:"memory_overhead_kib"`

	// SameSocketDelta is the maximum distance increase over the local
	// distance for a node pair to count as same-socket. Default: 4.
	SameSocketDelta int `mapstructure:"same_socket_delta"`
	// NUMAPolicy is "best-effort" (fall back to round-robin allocation
	// when no placement fits) or "strict" (fail the build). Default:
	// best-effort.
	NUMAPolicy string `mapstructure:"numa_policy"`

	// XLBinary is the path or name of the xl executable. Default: "xl".
	XLBinary string `mapstructure:"xl_binary"`
	// DryRun swaps the xl backend and oracle for in-memory fakes; useful
	// for development on hosts without a hypervisor.
	DryRun bool `mapstructure:"dry_run"`

	// ReconcileInterval is the seconds between reconciler scans for VMs
	// whose start failed with a recoverable error. 0 disables the
	// reconciler. Default: 30.
	ReconcileInterval int `mapstructure:"reconcile_interval"`
	// MaxStartRetries bounds reconciler-driven start retries per VM.
	// Default: 3.
	MaxStartRetries int `mapstructure:"max_start_retries"`
}

const (
	PolicyBestEffort = "best-effort"
	PolicyStrict     = "strict"
)

// Load reads configuration from an optional file plus BURROW_* environment
// variables, applying defaults for everything unset. An empty path means
// env and defaults only.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", "/var/lib/burrow")
	v.SetDefault("api_addr", "127.0.0.1:7600")
	v.SetDefault("metrics_addr", "127.0.0.1:7601")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("workers", 4)
	v.SetDefault("max_wait_seconds", 64)
	v.SetDefault("memory_overhead_kib", 10240)
	v.SetDefault("same_socket_delta", 4)
	v.SetDefault("numa_policy", PolicyBestEffort)
	v.SetDefault("xl_binary", "xl")
	v.SetDefault("dry_run", false)
	v.SetDefault("reconcile_interval", 30)
	v.SetDefault("max_start_retries", 3)

	v.SetEnvPrefix("BURROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as runtime
// misbehavior deep inside the scheduler.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.MaxWaitSeconds < 0 {
		return fmt.Errorf("max_wait_seconds must be >= 0, got %d", c.MaxWaitSeconds)
	}
	if c.NUMAPolicy != PolicyBestEffort && c.NUMAPolicy != PolicyStrict {
		return fmt.Errorf("numa_policy must be %q or %q, got %q", PolicyBestEffort, PolicyStrict, c.NUMAPolicy)
	}
	if c.SameSocketDelta < 0 {
		return fmt.Errorf("same_socket_delta must be >= 0, got %d", c.SameSocketDelta)
	}
	return nil
}
