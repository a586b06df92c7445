// Package config loads the settings shared by the command line tools.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/absint"
	"github.com/jalbrekt85/heimdall-go/core/resolver"
)

// Config holds engine, resolver and cache settings.
type Config struct {
	// Bounds limits the exploration of each function body.
	Bounds absint.Bounds `yaml:"bounds"`

	Resolver ResolverConfig `yaml:"resolver"`

	// SkipResolving disables name lookups entirely.
	SkipResolving bool `yaml:"skip_resolving"`

	// CacheDir is the badger directory for decompiled interfaces. Empty
	// disables the persistent cache.
	CacheDir string `yaml:"cache_dir"`

	// Parallelism bounds concurrent function analyses. Zero uses GOMAXPROCS.
	Parallelism int `yaml:"parallelism"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// ResolverConfig configures the signature database lookup.
type ResolverConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheMaxMB    int           `yaml:"cache_max_mb"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	hc := resolver.DefaultHTTPConfig()
	return &Config{
		Bounds: absint.DefaultBounds(),
		Resolver: ResolverConfig{
			Endpoint:      hc.Endpoint,
			Timeout:       hc.Timeout,
			RatePerSecond: hc.RatePerSecond,
			Burst:         hc.Burst,
			CacheTTL:      hc.CacheTTL,
			CacheMaxMB:    hc.CacheMaxMB,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every limit is usable.
func (c *Config) Validate() error {
	if c.Bounds.MaxSteps < 0 || c.Bounds.MaxPaths < 0 || c.Bounds.MaxBlockVisits < 0 {
		return errors.New("bounds must not be negative")
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("parallelism must not be negative, got %d", c.Parallelism)
	}
	if c.Resolver.Timeout < 0 {
		return fmt.Errorf("resolver timeout must not be negative, got %s", c.Resolver.Timeout)
	}
	if c.Resolver.RatePerSecond < 0 {
		return fmt.Errorf("resolver rate must not be negative, got %v", c.Resolver.RatePerSecond)
	}
	if c.Resolver.CacheMaxMB < 0 {
		return fmt.Errorf("resolver cache size must not be negative, got %d", c.Resolver.CacheMaxMB)
	}
	if !c.SkipResolving && c.Resolver.Endpoint != "" &&
		!strings.HasPrefix(c.Resolver.Endpoint, "http://") && !strings.HasPrefix(c.Resolver.Endpoint, "https://") {
		return fmt.Errorf("resolver endpoint must be an http(s) url, got %q", c.Resolver.Endpoint)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "", "info":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
}

// HTTPConfig converts the resolver settings.
func (c *Config) HTTPConfig() resolver.HTTPConfig {
	return resolver.HTTPConfig{
		Endpoint:      c.Resolver.Endpoint,
		Timeout:       c.Resolver.Timeout,
		RatePerSecond: c.Resolver.RatePerSecond,
		Burst:         c.Resolver.Burst,
		CacheTTL:      c.Resolver.CacheTTL,
		CacheMaxMB:    c.Resolver.CacheMaxMB,
	}
}
