package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/migadu/sora-sieve/cache"
	"github.com/spf13/cobra"
)

// binaryExt is the file extension of compiled scripts.
const binaryExt = ".svbin"

type compileOptions struct {
	*rootOptions
	Output string
}

type compileResult struct {
	Script string `json:"script"`
	Output string `json:"output"`
	Size   int    `json:"size"`
	Key    string `json:"key"`
}

func newCompileCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &compileOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <script>",
		Short: "Compile a script to a binary",
		Long: `Compile a Sieve script to its serialized binary.

The binary is written next to the script with the .svbin extension unless
--output names another file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")
	return cmd
}

func runCompile(cmd *cobra.Command, opts *compileOptions, path string) error {
	src, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	engine, err := opts.engine()
	if err != nil {
		return err
	}
	raw, err := engine.Compile(string(src))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	out := opts.Output
	if out == "" {
		if path == "-" {
			return fmt.Errorf("--output is required when reading from standard input")
		}
		out = strings.TrimSuffix(path, filepath.Ext(path)) + binaryExt
	}
	if err := os.WriteFile(out, raw, 0644); err != nil {
		return fmt.Errorf("writing binary: %w", err)
	}

	res := compileResult{
		Script: path,
		Output: out,
		Size:   len(raw),
		Key:    cache.Key(string(src), engine.Library().Enabled()),
	}
	if opts.wantJSON() {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: compiled to %s (%s)\n", path, out, humanize.Bytes(uint64(res.Size)))
	return nil
}
