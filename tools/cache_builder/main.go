// Command cache_builder decompiles a list of contracts into the persistent
// result cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pterm/pterm"

	"github.com/jalbrekt85/heimdall-go/internal/cmdutil"
	"github.com/jalbrekt85/heimdall-go/internal/config"
)

func main() {
	input := flag.String("input", "-", "File with one \"hex\" or \"label,hex\" per line, - for stdin")
	configPath := flag.String("config", "", "YAML config file")
	cacheDir := flag.String("cache-dir", "", "Cache directory (overrides the config)")
	workers := flag.Int("workers", runtime.GOMAXPROCS(0), "Contracts decompiled concurrently")
	timeout := flag.Duration("timeout", 2*time.Minute, "Per contract time limit")
	skipResolving := flag.Bool("skip-resolving", false, "Store placeholder names only")
	flag.Parse()

	if err := run(*input, *configPath, *cacheDir, *workers, *timeout, *skipResolving); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func run(input, configPath, cacheDir string, workers int, timeout time.Duration, skipResolving bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}
	if cfg.CacheDir == "" {
		return fmt.Errorf("no cache directory: set cache_dir or pass -cache-dir")
	}
	if skipResolving {
		cfg.SkipResolving = true
	}
	// Workers already run contracts in parallel.
	if cfg.Parallelism == 0 {
		cfg.Parallelism = 1
	}
	lvl, _ := cfg.Level()
	cmdutil.SetupLogging(os.Stderr, lvl)

	in := os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	contracts, err := readContracts(in)
	if err != nil {
		return err
	}

	engine, err := cmdutil.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bar, err := pterm.DefaultProgressbar.WithTotal(len(contracts)).WithTitle("Decompiling").Start()
	if err != nil {
		return err
	}
	var barMu sync.Mutex
	b := &builder{
		cache:    engine.Cache,
		opts:     engine.Options(cfg),
		workers:  max(workers, 1),
		timeout:  timeout,
		progress: func() {
			barMu.Lock()
			bar.Increment()
			barMu.Unlock()
		},
	}
	sum, err := b.run(ctx, contracts)
	_, _ = bar.Stop()
	if err != nil {
		return err
	}
	log.Info("Cache build finished", "dir", cfg.CacheDir, "elapsed", sum.Elapsed)

	stats := engine.Cache.Stats()
	return pterm.DefaultTable.WithHasHeader(true).WithData([][]string{
		{"Decompiled", "Skipped", "Failed", "Timed out", "Degraded", "Functions", "Writes", "Elapsed", "Contracts/s"},
		{
			fmt.Sprint(sum.Decompiled),
			fmt.Sprint(sum.Skipped),
			fmt.Sprint(sum.Failed),
			fmt.Sprint(sum.TimedOut),
			fmt.Sprint(sum.Degraded),
			fmt.Sprint(sum.Functions),
			fmt.Sprint(stats.Writes),
			sum.Elapsed.Round(time.Millisecond).String(),
			fmt.Sprintf("%.1f", sum.throughput()),
		},
	}).Render()
}
