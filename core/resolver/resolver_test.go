package resolver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jalbrekt85/heimdall-go/core/resolver"
)

var transferSel = [4]byte{0xa9, 0x05, 0x9c, 0xbb}

func TestSelector(t *testing.T) {
	require.Equal(t, transferSel, resolver.Selector("transfer(address,uint256)"))
	require.True(t, resolver.Matches("balanceOf(address)", [4]byte{0x70, 0xa0, 0x82, 0x31}))
}

func TestBuiltin(t *testing.T) {
	sig, err := resolver.Builtin().Resolve(context.Background(), transferSel)
	require.NoError(t, err)
	require.Equal(t, "transfer(address,uint256)", sig.Text)
	require.Equal(t, "transfer", sig.Name())

	_, err = resolver.Builtin().Resolve(context.Background(), [4]byte{1, 2, 3, 4})
	require.ErrorIs(t, err, resolver.ErrNotFound)
}

type failing struct{ err error }

func (f failing) Resolve(context.Context, [4]byte) (resolver.Signature, error) {
	return resolver.Signature{}, f.err
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	c := resolver.Chain{failing{resolver.ErrNotFound}, resolver.Builtin()}
	sig, err := c.Resolve(ctx, transferSel)
	require.NoError(t, err)
	require.Equal(t, "transfer", sig.Name())

	c = resolver.Chain{failing{resolver.ErrUnavailable}, resolver.NewTable()}
	_, err = c.Resolve(ctx, transferSel)
	require.ErrorIs(t, err, resolver.ErrUnavailable)

	_, err = resolver.Chain{resolver.NewTable()}.Resolve(ctx, transferSel)
	require.ErrorIs(t, err, resolver.ErrNotFound)
}

func lookupServer(t *testing.T, hits *atomic.Int32, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		key := r.URL.Query().Get("function")
		var candidates []map[string]any
		if key == "0xa9059cbb" {
			candidates = []map[string]any{
				{"name": "collision(uint256)", "filtered": false},
				{"name": "transfer(address,uint256)", "filtered": false},
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"function": map[string]any{key: candidates}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPResolve(t *testing.T) {
	var hits atomic.Int32
	srv := lookupServer(t, &hits, 0)
	cfg := resolver.DefaultHTTPConfig()
	cfg.Endpoint = srv.URL
	cfg.RatePerSecond = 0
	h, err := resolver.NewHTTP(cfg)
	require.NoError(t, err)
	defer h.Close()

	ctx := context.Background()
	sig, err := h.Resolve(ctx, transferSel)
	require.NoError(t, err)
	require.Equal(t, "transfer(address,uint256)", sig.Text)

	// Served from the cache.
	sig, err = h.Resolve(ctx, transferSel)
	require.NoError(t, err)
	require.Equal(t, "transfer", sig.Name())
	require.EqualValues(t, 1, hits.Load())

	_, err = h.Resolve(ctx, [4]byte{1, 2, 3, 4})
	require.ErrorIs(t, err, resolver.ErrNotFound)
	_, err = h.Resolve(ctx, [4]byte{1, 2, 3, 4})
	require.ErrorIs(t, err, resolver.ErrNotFound)
	require.EqualValues(t, 2, hits.Load())
}

func TestHTTPTimeout(t *testing.T) {
	var hits atomic.Int32
	srv := lookupServer(t, &hits, 500*time.Millisecond)
	h, err := resolver.NewHTTP(resolver.HTTPConfig{Endpoint: srv.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = h.Resolve(context.Background(), transferSel)
	require.ErrorIs(t, err, resolver.ErrUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestHTTPUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	h, err := resolver.NewHTTP(resolver.HTTPConfig{Endpoint: srv.URL})
	require.NoError(t, err)
	_, err = h.Resolve(context.Background(), transferSel)
	require.ErrorIs(t, err, resolver.ErrUnavailable)
}
