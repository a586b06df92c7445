package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jalbrekt85/heimdall-go/core/decompiler"
	"github.com/jalbrekt85/heimdall-go/core/opcodeCompiler/compiler"
	"github.com/jalbrekt85/heimdall-go/internal/cmdutil"
)

// parseCode reads a bytecode argument and strips its metadata trailer.
func parseCode(cmd *cobra.Command, arg string) ([]byte, *compiler.Metadata, error) {
	text, err := cmdutil.ReadCode(arg, cmd.InOrStdin())
	if err != nil {
		return nil, nil, err
	}
	text = strings.ToLower(text)
	if !strings.HasPrefix(text, "0x") {
		text = "0x" + text
	}
	raw, err := hexutil.Decode(text)
	if err != nil || len(raw) == 0 {
		return nil, nil, fmt.Errorf("%w: %q", decompiler.ErrMalformedInput, arg)
	}
	code, md := compiler.SplitMetadata(raw)
	return code, md, nil
}

var cfgCmd = &cobra.Command{
	Use:   "cfg <bytecode>",
	Short: "Render the control-flow graph as Graphviz DOT",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, _, err := parseCode(cmd, args[0])
		if err != nil {
			return err
		}
		cfg := compiler.BuildCFG(code)
		table := compiler.ExtractDispatch(cfg)
		highlight := make(map[uint64]string, len(table.Entries))
		for _, e := range table.Entries {
			highlight[e.Target] = e.SelectorHex()
		}
		if table.HasFallback {
			highlight[table.Fallback] = "fallback"
		}
		if table.HasReceive {
			highlight[table.Receive] = "receive"
		}
		log.Debug("Built control-flow graph", "blocks", len(cfg.Blocks()), "unresolved", len(cfg.UnresolvedJumps()))

		dot := cfg.Graph(highlight).String()
		path, _ := cmd.Flags().GetString("out")
		if path == "" {
			fmt.Fprintln(cmd.OutOrStdout(), dot)
			return nil
		}
		if err := os.WriteFile(path, []byte(dot), 0o644); err != nil {
			return err
		}
		pterm.Success.Printfln("Wrote %d blocks to %s", len(cfg.Blocks()), path)
		return nil
	},
}

var disasmCmd = &cobra.Command{
	Use:   "disasm <bytecode>",
	Short: "Print the instruction listing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, md, err := parseCode(cmd, args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, in := range compiler.Decode(code) {
			fmt.Fprintln(w, in)
		}
		if md != nil {
			fmt.Fprintf(w, "; metadata: %d bytes, compiler %q\n", md.Size, md.Compiler)
		}
		return nil
	},
}

var selectorsCmd = &cobra.Command{
	Use:   "selectors <bytecode>",
	Short: "List the dispatcher's selectors and handler offsets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, _, err := parseCode(cmd, args[0])
		if err != nil {
			return err
		}
		table := compiler.ExtractDispatch(compiler.BuildCFG(code))
		rows := [][]string{{"Selector", "Handler", "Compare", "Value guarded"}}
		for _, e := range table.Entries {
			rows = append(rows, []string{
				e.SelectorHex(),
				fmt.Sprintf("%#x", e.Target),
				fmt.Sprintf("%#x", e.CompareAt),
				fmt.Sprint(e.ValueGuarded),
			})
		}
		out, err := pterm.DefaultTable.WithHasHeader(true).WithData(rows).Srender()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		for _, u := range table.Unrecognized {
			pterm.Warning.Printfln("unrecognized comparison at %#x: %s", u.CompareAt, u.Reason)
		}
		return nil
	},
}

func init() {
	cfgCmd.Flags().StringP("out", "o", "", "Write DOT to a file instead of stdout")
}
