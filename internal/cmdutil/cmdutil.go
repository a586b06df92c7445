// Package cmdutil holds the setup shared by the command line tools.
package cmdutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/jalbrekt85/heimdall-go/core/cache"
	"github.com/jalbrekt85/heimdall-go/core/decompiler"
	"github.com/jalbrekt85/heimdall-go/core/resolver"
	"github.com/jalbrekt85/heimdall-go/internal/config"
)

// SetupLogging installs a terminal handler at lvl as the default logger.
func SetupLogging(w io.Writer, lvl slog.Level) {
	useColor := false
	if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			useColor = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(w, lvl, useColor)))
}

// ReadCode returns bytecode hex from an argument. "-" reads stdin, "@path"
// reads a file, anything else is taken as hex.
func ReadCode(arg string, stdin io.Reader) (string, error) {
	var raw []byte
	switch {
	case arg == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	case strings.HasPrefix(arg, "@"):
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", fmt.Errorf("read %s: %w", arg[1:], err)
		}
		raw = b
	default:
		return strings.TrimSpace(arg), nil
	}
	return strings.Join(strings.Fields(string(raw)), ""), nil
}

// Engine bundles the long-lived pieces a tool needs to decompile.
type Engine struct {
	Resolver resolver.Resolver
	Cache    *cache.Cache

	http *resolver.HTTP
}

// NewEngine builds the resolver chain and opens the cache described by cfg.
// An empty resolver endpoint keeps lookups on the builtin table.
func NewEngine(cfg *config.Config) (*Engine, error) {
	e := &Engine{Resolver: resolver.Builtin()}
	if !cfg.SkipResolving && cfg.Resolver.Endpoint != "" {
		h, err := resolver.NewHTTP(cfg.HTTPConfig())
		if err != nil {
			return nil, err
		}
		e.http = h
		e.Resolver = resolver.Chain{resolver.Builtin(), h}
	}
	if cfg.CacheDir != "" {
		c, err := cache.Open(cfg.CacheDir)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.Cache = c
	}
	return e, nil
}

// Options returns decompiler options for cfg using the engine's resolver
// and cache.
func (e *Engine) Options(cfg *config.Config) decompiler.Options {
	return decompiler.Options{
		SkipResolving:   cfg.SkipResolving,
		ResolverTimeout: cfg.Resolver.Timeout,
		Bounds:          cfg.Bounds,
		Resolver:        e.Resolver,
		Parallelism:     cfg.Parallelism,
		Cache:           e.Cache,
	}
}

// Close releases the cache and resolver.
func (e *Engine) Close() {
	if e.Cache != nil {
		if err := e.Cache.Close(); err != nil {
			log.Warn("Failed to close cache", "err", err)
		}
	}
	if e.http != nil {
		if err := e.http.Close(); err != nil {
			log.Warn("Failed to close resolver", "err", err)
		}
	}
}
