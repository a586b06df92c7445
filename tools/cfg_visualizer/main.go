// Command cfg_visualizer serves control-flow graphs and recovered ABIs of
// posted bytecode over HTTP.
package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/jalbrekt85/heimdall-go/internal/cmdutil"
	"github.com/jalbrekt85/heimdall-go/internal/config"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "Listen address")
	configPath := flag.String("config", "", "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Crit("Failed to load config", "err", err)
	}
	lvl, _ := cfg.Level()
	cmdutil.SetupLogging(os.Stderr, lvl)

	engine, err := cmdutil.NewEngine(cfg)
	if err != nil {
		log.Crit("Failed to set up decompiler", "err", err)
	}
	defer engine.Close()

	s := newServer(cfg, engine)
	log.Info("Starting CFG visualizer", "url", "http://"+*addr)
	if err := http.ListenAndServe(*addr, s.router); err != nil {
		log.Error("Server stopped", "err", err)
	}
}
