// Package config provides configuration loading, defaults, and validation for
// the visibility engine.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix for all engine settings.
const envPrefix = "DEALEREDGE"

// envKeys lists every configuration key so environment overrides reach
// Unmarshal even when the key is absent from the config file.  Viper only
// surfaces automatic-env values for keys it already knows about.
var envKeys = []string{
	"server.port", "server.mode", "server.read_timeout", "server.write_timeout", "server.shutdown_timeout",
	"database.host", "database.port", "database.user", "database.password", "database.db_name",
	"database.ssl_mode", "database.max_conns", "database.min_conns", "database.conn_max_lifetime",
	"database.conn_max_idle_time", "database.migration_path",
	"redis.addr", "redis.password", "redis.db", "redis.pool_size", "redis.min_idle_conns",
	"redis.dial_timeout", "redis.read_timeout", "redis.write_timeout", "redis.key_prefix",
	"kafka.brokers", "kafka.group_id", "kafka.auto_offset_reset", "kafka.producer_retries", "kafka.batch_timeout",
	"cache.l1_ttl", "cache.l2_ttl", "cache.l3_ttl", "cache.l4_ttl",
	"cache.l1_max_entries", "cache.variance_pct", "cache.sweep_interval", "cache.stats_interval",
	"pipeline.submit_stagger", "pipeline.stale_after", "pipeline.base_priority", "pipeline.error_log_limit",
	"geo.default_pool", "geo.max_cluster_size", "geo.single_cluster_threshold", "geo.cluster_refresh_interval",
	"competitive.opportunity_gap_threshold", "competitive.threat_gap_threshold",
	"competitive.opportunity_confidence", "competitive.threat_confidence",
	"competitive.bulk_concurrency", "competitive.recommendation_score_floor",
	"metrics.enabled", "metrics.namespace", "metrics.path",
	"log.level", "log.format", "log.output_paths", "log.error_output_paths",
}

// newViper builds a pre-configured Viper instance: YAML file type,
// DEALEREDGE_ env prefix, automatic env binding, and a key replacer mapping
// "." → "_" so nested keys like "database.host" resolve to
// "DEALEREDGE_DATABASE_HOST".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// Load reads the YAML file at configPath, merges DEALEREDGE_* environment
// overrides, applies defaults for unset fields, and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from DEALEREDGE_* environment
// variables with no config file — the preferred strategy for containerised
// deployments.
func LoadFromEnv() (*Config, error) {
	v := newViper()
	return unmarshalAndFinalize(v)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file is modified.  Used to hot-reload the
// geographic pool reference table and log level; callers apply only the safe
// subset of changes at runtime.
//
// Watch is non-blocking; viper manages the background watcher (fsnotify).
// A changed file that fails to parse or validate is skipped so the process
// never enters a broken state.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)

	// Initial read — errors ignored here; callers call Load first.
	_ = v.ReadInConfig()

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
}

// MustLoad wraps Load and panics on error.  Intended for main() where a
// config-load failure is always fatal.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
