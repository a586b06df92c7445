package main

import (
	_ "embed"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jalbrekt85/heimdall-go/core/decompiler"
	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/compiler"
	"github.com/jalbrekt85/heimdall-go/internal/cmdutil"
	"github.com/jalbrekt85/heimdall-go/internal/config"
)

//go:embed index.html
var indexHTML []byte

// maxBodySize caps the posted hex.
const maxBodySize = 1 << 20

type server struct {
	router *gin.Engine
	cfg    *config.Config
	engine *cmdutil.Engine
}

func newServer(cfg *config.Config, engine *cmdutil.Engine) *server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &server{router: router, cfg: cfg, engine: engine}
	router.GET("/", s.index)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/cfg", s.visualize)
	router.POST("/visualize", s.visualize)
	router.POST("/abi", s.decompile)
	return s
}

func (s *server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// readCode cleans up the posted hex (0x prefix, whitespace) and decodes it.
func readCode(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
	body, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to read body")
		return nil, false
	}
	hexStr := strings.ToLower(strings.Join(strings.Fields(string(body)), ""))
	if !strings.HasPrefix(hexStr, "0x") {
		hexStr = "0x" + hexStr
	}
	code, err := hexutil.Decode(hexStr)
	if err != nil || len(code) == 0 {
		msg := "empty bytecode"
		if err != nil {
			msg = err.Error()
		}
		c.String(http.StatusBadRequest, "Invalid hex string: %s", msg)
		return nil, false
	}
	return code, true
}

func (s *server) visualize(c *gin.Context) {
	code, ok := readCode(c)
	if !ok {
		return
	}
	code, _ = compiler.SplitMetadata(code)
	cfg := compiler.BuildCFG(code)
	table := compiler.ExtractDispatch(cfg)
	highlight := make(map[uint64]string, len(table.Entries))
	for _, e := range table.Entries {
		highlight[e.Target] = e.SelectorHex()
	}
	c.String(http.StatusOK, "%s", cfg.Graph(highlight).String())
}

func (s *server) decompile(c *gin.Context) {
	code, ok := readCode(c)
	if !ok {
		return
	}
	opts := s.engine.Options(s.cfg)
	if c.Query("resolve") == "false" {
		opts.SkipResolving = true
	}
	out, err := decompiler.DecompileBytes(c.Request.Context(), code, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, decompiler.ErrMalformedInput) {
			status = http.StatusBadRequest
		}
		c.String(status, "%s", err.Error())
		return
	}
	data, err := out.MarshalJSON()
	if err != nil {
		log.Error("Failed to encode ABI", "err", err)
		c.String(http.StatusInternalServerError, "%s", err.Error())
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}
