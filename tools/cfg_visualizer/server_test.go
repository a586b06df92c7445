package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jalbrekt85/heimdall-go/core/abi"
	"github.com/jalbrekt85/heimdall-go/internal/cmdutil"
	"github.com/jalbrekt85/heimdall-go/internal/config"
	"github.com/jalbrekt85/heimdall-go/internal/evmasm"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Resolver.Endpoint = ""
	engine, err := cmdutil.NewEngine(cfg)
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return newServer(cfg, engine)
}

func post(s *server, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	s.router.ServeHTTP(w, req)
	return w
}

func TestVisualize(t *testing.T) {
	s := newTestServer(t)

	w := post(s, "/cfg", " 0x6003565b00\n")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.HasPrefix(w.Body.String(), "digraph"), w.Body.String())

	w = post(s, "/visualize", "0xzz")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = post(s, "/visualize", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecompileEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := post(s, "/abi", evmasm.ERC20().Hex())
	require.Equal(t, http.StatusOK, w.Code)
	parsed, err := abi.FromJSON(w.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, parsed.Functions, len(evmasm.ERC20Signatures))
	// The builtin table names every ERC20 function.
	for i, f := range parsed.Functions {
		require.Equal(t, abi.SignatureName(evmasm.ERC20Signatures[i]), f.Name)
	}

	w = post(s, "/abi?resolve=false", evmasm.ERC20().Hex())
	require.Equal(t, http.StatusOK, w.Code)
	parsed, err = abi.FromJSON(w.Body.Bytes())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(parsed.Functions[0].Name, abi.UnresolvedPrefix))
}

func TestIndexAndHealth(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/", "/health", "/metrics"} {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
	}
}
