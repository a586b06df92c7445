package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jalbrekt85/heimdall-go/core/abi"
	"github.com/jalbrekt85/heimdall-go/core/decompiler"
	"github.com/jalbrekt85/heimdall-go/internal/cmdutil"
)

var decompileCmd = &cobra.Command{
	Use:   "decompile <bytecode>",
	Short: "Recover the ABI of runtime bytecode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		code, err := cmdutil.ReadCode(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		engine, err := cmdutil.NewEngine(cfg)
		if err != nil {
			return err
		}
		defer engine.Close()

		out, err := decompiler.Decompile(cmd.Context(), code, engine.Options(cfg))
		if err != nil {
			return err
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return writeJSON(cmd.OutOrStdout(), out)
		}
		return printABI(cmd.OutOrStdout(), out)
	},
}

func init() {
	decompileCmd.Flags().Bool("skip-resolving", false, "Keep placeholder names instead of looking selectors up")
	decompileCmd.Flags().Duration("timeout", decompiler.DefaultResolverTimeout, "Per selector lookup timeout")
	decompileCmd.Flags().String("cache-dir", "", "Directory for the persistent result cache")
	decompileCmd.Flags().BoolP("json", "j", false, "Output the JSON ABI")
}

func writeJSON(w io.Writer, out *abi.DecompiledABI) error {
	data, err := out.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(w)
	return err
}

func printABI(w io.Writer, out *abi.DecompiledABI) error {
	rows := [][]string{{"Selector", "Function", "Returns", "Mutability"}}
	for _, f := range out.Functions {
		rows = append(rows, []string{
			f.SelectorHex(),
			f.Signature(),
			strings.Join(f.OutputTypes(), ","),
			f.StateMutability,
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader(true).WithData(rows).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, table)

	if out.Fallback != nil {
		fmt.Fprintf(w, "fallback: %s\n", out.Fallback.StateMutability)
	}
	if out.Receive != nil {
		fmt.Fprintf(w, "receive: %s\n", out.Receive.StateMutability)
	}
	if out.Compiler != "" {
		fmt.Fprintf(w, "compiler: %s\n", out.Compiler)
	}
	for _, d := range out.Diagnostics {
		fmt.Fprintln(w, pterm.Warning.Sprint(d.String()))
	}
	for _, f := range out.Functions {
		for _, d := range f.Diagnostics {
			fmt.Fprintln(w, pterm.Warning.Sprintf("%s: %s", f.SelectorHex(), d))
		}
	}
	return nil
}
