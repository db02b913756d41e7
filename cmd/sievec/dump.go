package main

import (
	"bytes"
	"fmt"

	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/spf13/cobra"
)

func newDumpCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <script|binary>",
		Short: "Print the listing of a compiled script",
		Long: `Print the annotated listing of a binary. A script is compiled first;
files starting with the binary magic are loaded as they are.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			engine, err := opts.engine()
			if err != nil {
				return err
			}
			if !bytes.HasPrefix(data, []byte(bytecode.Magic)) {
				if data, err = engine.Compile(string(data)); err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
			}
			listing, err := engine.Dump(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if opts.wantJSON() {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"dump": listing})
			}
			fmt.Fprint(cmd.OutOrStdout(), listing)
			return nil
		},
	}
}
