package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/absint"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, absint.DefaultBounds(), cfg.Bounds)
	require.Equal(t, 25*time.Second, cfg.Resolver.Timeout)
	require.False(t, cfg.SkipResolving)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, log.LevelInfo, lvl)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heimdall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
bounds:
  max_steps: 5000
  max_paths: 16
resolver:
  endpoint: http://localhost:8080/lookup
  timeout: 3s
skip_resolving: true
cache_dir: /tmp/heimdall
parallelism: 4
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Bounds.MaxSteps)
	require.Equal(t, 16, cfg.Bounds.MaxPaths)
	// Unset fields keep their defaults.
	require.Equal(t, absint.DefaultBounds().MaxBlockVisits, cfg.Bounds.MaxBlockVisits)
	require.Equal(t, 3*time.Second, cfg.Resolver.Timeout)
	require.Equal(t, time.Hour, cfg.Resolver.CacheTTL)
	require.True(t, cfg.SkipResolving)
	require.Equal(t, "/tmp/heimdall", cfg.CacheDir)
	require.Equal(t, 4, cfg.Parallelism)

	hc := cfg.HTTPConfig()
	require.Equal(t, "http://localhost:8080/lookup", hc.Endpoint)
	require.Equal(t, 3*time.Second, hc.Timeout)

	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "bogus: 1\n", "failed to parse"},
		{"negative bound", "bounds:\n  max_paths: -1\n", "negative"},
		{"bad level", "log_level: loud\n", "unknown log level"},
		{"bad endpoint", "resolver:\n  endpoint: ftp://x\n", "http(s)"},
		{"bad duration", "resolver:\n  timeout: soon\n", "failed to parse"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tc.want), err.Error())
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
