// Command heimdall recovers contract interfaces from EVM bytecode.
package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jalbrekt85/heimdall-go/internal/cmdutil"
	"github.com/jalbrekt85/heimdall-go/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "heimdall",
	Short: "heimdall - EVM bytecode to ABI decompiler",
	Long: `heimdall recovers the external interface of a deployed contract from its
runtime bytecode: selectors, argument and return types, and mutability.

Bytecode arguments are hex, "@path" to read a file, or "-" for stdin.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		lvl, err := cfg.Level()
		if err != nil {
			return err
		}
		cmdutil.SetupLogging(os.Stderr, lvl)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.String("log-level", "", "Log level (trace, debug, info, warn, error, crit)")
	pf.Int("max-steps", 0, "Instruction budget per function")
	pf.Int("max-paths", 0, "Path budget per function")
	pf.Int("parallelism", 0, "Concurrent function analyses")

	rootCmd.AddCommand(decompileCmd)
	rootCmd.AddCommand(cfgCmd)
	rootCmd.AddCommand(disasmCmd)
	rootCmd.AddCommand(selectorsCmd)
}

// loadConfig reads --config and applies the flags the user set on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("max-steps") {
		cfg.Bounds.MaxSteps, _ = flags.GetInt("max-steps")
	}
	if flags.Changed("max-paths") {
		cfg.Bounds.MaxPaths, _ = flags.GetInt("max-paths")
	}
	if flags.Changed("parallelism") {
		cfg.Parallelism, _ = flags.GetInt("parallelism")
	}
	if flags.Changed("skip-resolving") {
		cfg.SkipResolving, _ = flags.GetBool("skip-resolving")
	}
	if flags.Changed("timeout") {
		cfg.Resolver.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("cache-dir") {
		cfg.CacheDir, _ = flags.GetString("cache-dir")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
