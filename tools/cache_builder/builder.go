package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/jalbrekt85/heimdall-go/core/cache"
	"github.com/jalbrekt85/heimdall-go/core/decompiler"
)

// batchSize is how many results are buffered before a cache write.
const batchSize = 64

// contract is one input line: an optional label and its bytecode hex.
type contract struct {
	Label string
	Hex   string
}

// readContracts parses "hex" or "label,hex" lines into lowercase 0x hex.
// Blank lines and lines starting with # are skipped.
func readContracts(r io.Reader) ([]contract, error) {
	var out []contract
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		c := contract{Label: fmt.Sprintf("line %d", n), Hex: line}
		if label, code, ok := strings.Cut(line, ","); ok {
			c.Label, c.Hex = strings.TrimSpace(label), strings.TrimSpace(code)
		}
		c.Hex = strings.ToLower(c.Hex)
		if !strings.HasPrefix(c.Hex, "0x") {
			c.Hex = "0x" + c.Hex
		}
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return out, nil
}

// summary counts what a build did.
type summary struct {
	Decompiled int
	Skipped    int
	Failed     int
	TimedOut   int
	Degraded   int
	Functions  int
	Elapsed    time.Duration
}

// throughput is decompiled contracts per second.
func (s summary) throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Decompiled) / s.Elapsed.Seconds()
}

// builder decompiles contracts with a bounded worker pool and stores the
// results in batches.
type builder struct {
	cache    *cache.Cache
	opts     decompiler.Options
	workers  int
	timeout  time.Duration
	progress func()
}

func (b *builder) run(ctx context.Context, contracts []contract) (summary, error) {
	start := time.Now()
	var (
		mu      sync.Mutex
		pending []cache.Entry
		sum     summary
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		batch := pending
		pending = nil
		return b.cache.PutBatch(batch)
	}

	opts := b.opts
	opts.Cache = nil // results are written in batches below
	mode := cache.Mode{SkipResolving: opts.SkipResolving, Bounds: opts.Bounds}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, c := range contracts {
		c := c
		g.Go(func() error {
			defer b.tick()
			if b.cache.Has(c.Hex, mode) {
				mu.Lock()
				sum.Skipped++
				mu.Unlock()
				return nil
			}
			cctx, cancel := context.WithTimeout(gctx, b.timeout)
			defer cancel()
			out, err := decompiler.Decompile(cctx, c.Hex, opts)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("Failed to decompile", "contract", c.Label, "err", err)
				sum.Failed++
				return nil
			}
			if cctx.Err() != nil {
				log.Warn("Decompilation timed out", "contract", c.Label, "timeout", b.timeout)
				sum.TimedOut++
				return nil
			}
			if out.Degraded() {
				log.Warn("Skipping degraded result", "contract", c.Label)
				sum.Degraded++
				return nil
			}
			sum.Decompiled++
			sum.Functions += len(out.Functions)
			pending = append(pending, cache.Entry{Hex: c.Hex, Mode: mode, ABI: out})
			if len(pending) >= batchSize {
				return flush()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	if err := flush(); err != nil {
		return sum, err
	}
	sum.Elapsed = time.Since(start)
	return sum, nil
}

func (b *builder) tick() {
	if b.progress != nil {
		b.progress()
	}
}
