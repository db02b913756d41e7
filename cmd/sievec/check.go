package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type checkResult struct {
	Script string `json:"script"`
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <script>...",
		Short: "Validate scripts without writing binaries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.engine()
			if err != nil {
				return err
			}
			var failed []error
			results := make([]checkResult, 0, len(args))
			for _, path := range args {
				res := checkResult{Script: path, Valid: true}
				src, err := readInput(cmd, path)
				if err == nil {
					err = engine.Check(string(src))
				}
				if err != nil {
					res.Valid = false
					res.Error = err.Error()
					failed = append(failed, fmt.Errorf("%s: %w", path, err))
				}
				results = append(results, res)
			}

			if opts.wantJSON() {
				if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else {
				for _, res := range results {
					if res.Valid {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", res.Script)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.Script, res.Error)
					}
				}
			}
			return errors.Join(failed...)
		},
	}
}
