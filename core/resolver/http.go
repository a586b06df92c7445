package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"
)

// DefaultEndpoint is the public signature database lookup URL.
const DefaultEndpoint = "https://api.openchain.xyz/signature-database/v1/lookup"

// DefaultTimeout bounds one lookup.
const DefaultTimeout = 25 * time.Second

// HTTPConfig configures an HTTP signature lookup.
type HTTPConfig struct {
	Endpoint string
	Timeout  time.Duration
	// RatePerSecond and Burst limit outgoing requests. Zero disables the
	// limit.
	RatePerSecond float64
	Burst         int
	// CacheTTL and CacheMaxMB size the in-memory result cache. Zero
	// CacheTTL disables caching.
	CacheTTL   time.Duration
	CacheMaxMB int
	Client     *http.Client
}

// DefaultHTTPConfig returns the settings used by the command line tools.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Endpoint:      DefaultEndpoint,
		Timeout:       DefaultTimeout,
		RatePerSecond: 5,
		Burst:         5,
		CacheTTL:      time.Hour,
		CacheMaxMB:    16,
	}
}

// HTTP resolves selectors against a signature database speaking the
// openchain lookup protocol.
type HTTP struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	limiter  *rate.Limiter
	cache    *bigcache.BigCache
}

// notFoundMarker is cached for selectors the database does not know.
var notFoundMarker = []byte{0}

// NewHTTP builds an HTTP resolver.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	h := &HTTP{endpoint: cfg.Endpoint, timeout: cfg.Timeout, client: cfg.Client}
	if h.client == nil {
		h.client = &http.Client{}
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	if cfg.CacheTTL > 0 {
		bc := bigcache.DefaultConfig(cfg.CacheTTL)
		bc.Shards = 64
		bc.MaxEntrySize = 256
		bc.HardMaxCacheSize = cfg.CacheMaxMB
		bc.Verbose = false
		cache, err := bigcache.New(context.Background(), bc)
		if err != nil {
			return nil, fmt.Errorf("resolver cache: %w", err)
		}
		h.cache = cache
	}
	return h, nil
}

// Close releases the cache.
func (h *HTTP) Close() error {
	if h.cache == nil {
		return nil
	}
	return h.cache.Close()
}

type lookupResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		Function map[string][]struct {
			Name     string `json:"name"`
			Filtered bool   `json:"filtered"`
		} `json:"function"`
	} `json:"result"`
}

// Resolve returns the first unfiltered candidate whose hash matches the
// selector.
func (h *HTTP) Resolve(ctx context.Context, selector [4]byte) (Signature, error) {
	key := hexutil.Encode(selector[:])
	if h.cache != nil {
		if v, err := h.cache.Get(key); err == nil {
			if len(v) == 1 && v[0] == notFoundMarker[0] {
				return Signature{}, ErrNotFound
			}
			return Signature{Selector: selector, Text: string(v)}, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return Signature{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	q := req.URL.Query()
	q.Set("function", key)
	q.Set("filter", "true")
	req.URL.RawQuery = q.Encode()

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Signature{}, fmt.Errorf("%w: %w", ErrUnavailable, context.DeadlineExceeded)
		}
		return Signature{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Signature{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Signature{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if !body.OK {
		return Signature{}, fmt.Errorf("%w: lookup rejected", ErrUnavailable)
	}
	for _, c := range body.Result.Function[key] {
		if c.Filtered || !Matches(c.Name, selector) {
			continue
		}
		h.store(key, []byte(c.Name))
		log.Trace("Resolved selector", "selector", key, "signature", c.Name)
		return Signature{Selector: selector, Text: c.Name}, nil
	}
	h.store(key, notFoundMarker)
	return Signature{}, ErrNotFound
}

func (h *HTTP) store(key string, v []byte) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Set(key, v); err != nil {
		log.Debug("Resolver cache write failed", "key", key, "err", err)
	}
}
