// Package decompiler recovers a contract interface from deployed bytecode:
// disassembly, control flow, dispatcher extraction, per-function abstract
// interpretation and type inference, with optional selector resolution.
package decompiler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/jalbrekt85/heimdall-go/core/abi"
	"github.com/jalbrekt85/heimdall-go/core/cache"
	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/absint"
	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/compiler"
	"github.com/jalbrekt85/heimdall-go/core/resolver"
)

// ErrMalformedInput is returned for empty or non-hex bytecode.
var ErrMalformedInput = errors.New("malformed bytecode")

// DefaultResolverTimeout bounds one selector lookup.
const DefaultResolverTimeout = resolver.DefaultTimeout

// Options controls one decompilation.
type Options struct {
	// SkipResolving keeps placeholder names and never touches Resolver.
	SkipResolving bool
	// ResolverTimeout bounds each lookup. Zero uses DefaultResolverTimeout.
	ResolverTimeout time.Duration
	// Bounds limits each function's exploration. Zero fields use defaults.
	Bounds absint.Bounds
	// Resolver names selectors. Nil uses the builtin signature table.
	Resolver resolver.Resolver
	// Parallelism bounds concurrent analyses. Zero uses GOMAXPROCS.
	Parallelism int
	// Inferencer overrides the default rule set.
	Inferencer *abi.Inferencer
	// Cache, when set, is consulted before and filled after a run.
	Cache *cache.Cache
}

// Decompile parses a hex string (with or without 0x) and recovers its
// interface.
func Decompile(ctx context.Context, code string, opts Options) (*abi.DecompiledABI, error) {
	code = strings.TrimSpace(code)
	if !strings.HasPrefix(code, "0x") && !strings.HasPrefix(code, "0X") {
		code = "0x" + code
	}
	raw, err := hexutil.Decode(strings.ToLower(code))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return DecompileBytes(ctx, raw, opts)
}

// DecompileBytes recovers the interface of raw runtime bytecode. It fails
// only on empty input; every other problem becomes a diagnostic.
func DecompileBytes(ctx context.Context, code []byte, opts Options) (*abi.DecompiledABI, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: empty code", ErrMalformedInput)
	}
	var (
		key  string
		mode = cache.Mode{SkipResolving: opts.SkipResolving, Bounds: opts.Bounds}
	)
	if opts.Cache != nil {
		key = hexutil.Encode(code)
		out, ok, err := opts.Cache.Get(key, mode)
		switch {
		case err != nil:
			cacheTotal.WithLabelValues("error").Inc()
			log.Debug("Cache read failed", "err", err)
		case ok:
			cacheTotal.WithLabelValues("hit").Inc()
			return out, nil
		default:
			cacheTotal.WithLabelValues("miss").Inc()
		}
	}

	start := time.Now()
	out := run(ctx, code, opts)
	decompileDuration.Observe(time.Since(start).Seconds())
	functionsTotal.Add(float64(len(out.Functions)))
	countDiagnostics(out.Diagnostics)
	for i := range out.Functions {
		countDiagnostics(out.Functions[i].Diagnostics)
	}

	switch {
	case opts.Cache == nil:
	case ctx.Err() != nil:
		log.Debug("Not caching result of cancelled run", "err", ctx.Err())
	case out.Degraded():
		log.Debug("Not caching degraded result", "functions", len(out.Functions))
	default:
		if err := opts.Cache.Put(key, mode, out); err != nil {
			log.Debug("Cache write failed", "err", err)
		}
	}
	return out, nil
}

func countDiagnostics(ds []abi.Diagnostic) {
	for _, d := range ds {
		diagnosticsTotal.WithLabelValues(string(d.Kind)).Inc()
	}
}

func run(ctx context.Context, code []byte, opts Options) *abi.DecompiledABI {
	runtimeCode, md := compiler.SplitMetadata(code)
	cfg := compiler.BuildCFG(runtimeCode)
	table := compiler.ExtractDispatch(cfg)
	log.Debug("Dispatcher extracted", "size", len(runtimeCode), "functions", len(table.Entries),
		"duplicates", len(table.Duplicates), "unrecognized", len(table.Unrecognized),
		"fallback", table.HasFallback, "receive", table.HasReceive)

	var (
		names    map[[4]byte]string
		nameDiag map[[4]byte]abi.Diagnostic
		resolved = make(chan struct{})
	)
	if opts.SkipResolving || len(table.Entries) == 0 {
		close(resolved)
	} else {
		go func() {
			defer close(resolved)
			names, nameDiag = resolveAll(ctx, table.Entries, opts)
		}()
	}

	inferencer := opts.Inferencer
	if inferencer == nil {
		inferencer = abi.NewInferencer()
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	var (
		infs              = make([]abi.Inference, len(table.Entries))
		fallback, receive *abi.Special
		specialDiags      = make([]abi.Diagnostic, 2)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, e := range table.Entries {
		i, e := i, e
		g.Go(func() error {
			tr := absint.Analyze(gctx, cfg, absint.Request{
				Entry:        e.Target,
				Selector:     e.Selector,
				HasSelector:  true,
				ValueGuarded: e.ValueGuarded,
			}, opts.Bounds)
			inf := inferencer.Infer(tr)
			if !tr.ViaPrelude && e.Target != cfg.Entry() {
				inf.Diagnostics = append(inf.Diagnostics, abi.Diagnostic{
					Kind:    abi.DiagUnreachableFunctionBody,
					Offset:  e.Target,
					Message: "no dispatcher path reached the body; analysed in isolation",
				})
			}
			log.Trace("Function analysed", "selector", e.SelectorHex(), "steps", tr.Steps,
				"paths", tr.Paths, "truncated", tr.Truncated, "inputs", inf.Inputs)
			infs[i] = inf
			return nil
		})
	}
	if table.HasFallback {
		g.Go(func() error {
			fallback, specialDiags[0] = special(gctx, cfg, inferencer, absint.Request{
				Entry:       table.Fallback,
				Selector:    unusedSelector(table),
				HasSelector: true,
			}, opts.Bounds, "fallback")
			return nil
		})
	}
	if table.HasReceive {
		g.Go(func() error {
			receive, specialDiags[1] = special(gctx, cfg, inferencer, absint.Request{
				Entry:         table.Receive,
				EmptyCalldata: true,
			}, opts.Bounds, "receive")
			return nil
		})
	}
	_ = g.Wait()
	<-resolved

	for i, e := range table.Entries {
		if d, ok := nameDiag[e.Selector]; ok {
			infs[i].Diagnostics = append(infs[i].Diagnostics, d)
		}
	}
	out := abi.Assemble(table, infs, names)
	out.Fallback, out.Receive = fallback, receive
	if md != nil {
		out.Compiler = md.Compiler
	}
	for _, d := range specialDiags {
		if d.Kind != "" {
			out.Diagnostics = append(out.Diagnostics, d)
		}
	}
	if table.Truncated {
		out.Diagnostics = append(out.Diagnostics, abi.Diagnostic{
			Kind:    abi.DiagTruncatedExploration,
			Message: "dispatcher walk exceeded its step bound",
		})
	}
	return out
}

// special analyses a fallback or receive entry. Entries that never complete
// successfully, such as the default reverting fallback, are omitted. A
// truncated exploration is reported as an ABI-level diagnostic.
func special(ctx context.Context, cfg *compiler.CFG, in *abi.Inferencer, req absint.Request, bounds absint.Bounds, what string) (*abi.Special, abi.Diagnostic) {
	tr := absint.Analyze(ctx, cfg, req, bounds)
	var diag abi.Diagnostic
	if tr.Truncated {
		diag = abi.Diagnostic{
			Kind:    abi.DiagTruncatedExploration,
			Offset:  req.Entry,
			Message: fmt.Sprintf("%s stopped after %d steps over %d paths", what, tr.Steps, tr.Paths),
		}
	}
	if len(tr.SuccessfulExits()) == 0 {
		return nil, diag
	}
	return abi.SpecialFrom(in.Infer(tr)), diag
}

// unusedSelector picks calldata that no dispatch entry matches.
func unusedSelector(table *compiler.DispatchTable) [4]byte {
	candidates := [][4]byte{{0xff, 0xff, 0xff, 0xff}, {0, 0, 0, 0}, {0xde, 0xad, 0xbe, 0xef}}
	for _, c := range candidates {
		if _, ok := table.Lookup(c); !ok {
			return c
		}
	}
	for v := uint32(1); ; v++ {
		c := [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
		if _, ok := table.Lookup(c); !ok {
			return c
		}
	}
}

// resolveAll looks every selector up concurrently. Failures become
// per-selector diagnostics and never block past the per-call timeout.
func resolveAll(ctx context.Context, entries []compiler.SelectorEntry, opts Options) (map[[4]byte]string, map[[4]byte]abi.Diagnostic) {
	r := opts.Resolver
	if r == nil {
		r = resolver.Builtin()
	}
	timeout := opts.ResolverTimeout
	if timeout <= 0 {
		timeout = DefaultResolverTimeout
	}

	var (
		mu    sync.Mutex
		names = make(map[[4]byte]string)
		diags = make(map[[4]byte]abi.Diagnostic)
		wg    sync.WaitGroup
	)
	for _, e := range entries {
		e := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			sig, err := r.Resolve(cctx, e.Selector)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && resolver.Matches(sig.Text, e.Selector):
				resolverTotal.WithLabelValues("resolved").Inc()
				names[e.Selector] = sig.Text
			case err == nil:
				resolverTotal.WithLabelValues("unavailable").Inc()
				diags[e.Selector] = abi.Diagnostic{Kind: abi.DiagResolverUnavailable, Offset: e.CompareAt,
					Message: fmt.Sprintf("%q does not hash to %s", sig.Text, e.SelectorHex())}
			case errors.Is(err, resolver.ErrNotFound):
				resolverTotal.WithLabelValues("not_found").Inc()
			case errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded):
				resolverTotal.WithLabelValues("timeout").Inc()
				diags[e.Selector] = abi.Diagnostic{Kind: abi.DiagResolverTimeout, Offset: e.CompareAt,
					Message: fmt.Sprintf("no answer within %s", timeout)}
			default:
				resolverTotal.WithLabelValues("unavailable").Inc()
				diags[e.Selector] = abi.Diagnostic{Kind: abi.DiagResolverUnavailable, Offset: e.CompareAt,
					Message: err.Error()}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout + time.Second):
		// A resolver ignoring its context must not hold up the result.
		log.Warn("Resolver did not return in time", "timeout", timeout)
		mu.Lock()
		defer mu.Unlock()
		out, od := make(map[[4]byte]string, len(names)), make(map[[4]byte]abi.Diagnostic, len(entries))
		for k, v := range names {
			out[k] = v
		}
		for _, e := range entries {
			if _, ok := names[e.Selector]; ok {
				continue
			}
			if d, ok := diags[e.Selector]; ok {
				od[e.Selector] = d
			} else {
				od[e.Selector] = abi.Diagnostic{Kind: abi.DiagResolverTimeout, Offset: e.CompareAt,
					Message: fmt.Sprintf("no answer within %s", timeout)}
			}
		}
		return out, od
	}
	return names, diags
}
