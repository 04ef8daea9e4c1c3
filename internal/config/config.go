// Package config loads modelfetch's runtime configuration: the §6
// scheduler/store options plus the HTTP client knobs the teacher already
// exposed on its CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors spec.md §6's recognized options.
type Config struct {
	MaxConcurrent     int           `yaml:"max_concurrent"`
	FlushWindowBytes  int64         `yaml:"flush_window_bytes"`
	CacheName         string        `yaml:"cache_name"`
	StoreName         string        `yaml:"store_name"`
	StoreVersion      int           `yaml:"store_version"`
	QuotaBytes        int64         `yaml:"quota_bytes"`
	Timeout           time.Duration `yaml:"timeout"`
	KeepAliveTimeout  time.Duration `yaml:"keep_alive_timeout"`
	ProxyURL          string        `yaml:"proxy_url"`
	UserAgent         string        `yaml:"user_agent"`
	MirrorBucket      string        `yaml:"mirror_bucket"`
	TokenEnv          string        `yaml:"token_env"`
}

// Default returns the §6-mandated defaults.
func Default() Config {
	return Config{
		MaxConcurrent:    3,
		FlushWindowBytes: 5 << 20, // ~5 MiB
		CacheName:        "transformers-cache",
		StoreName:        "modelfetch-chunks",
		StoreVersion:     1,
		QuotaBytes:       0, // 0 == unbounded
		Timeout:          3 * time.Minute,
		KeepAliveTimeout: 90 * time.Second,
		UserAgent:        "modelfetch/1.0",
	}
}

// Load reads a YAML file into Config, starting from Default() so an
// omitted field keeps its default rather than zeroing out.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}
