package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/migadu/sora-sieve/consts"
	"github.com/migadu/sora-sieve/server/sieveengine"
	"github.com/spf13/cobra"
)

type runOptions struct {
	*rootOptions
	From     string
	To       string
	AuthUser string
	Username string
	Trace    string
}

type runResult struct {
	Summary sieveengine.Summary `json:"summary"`
	Error   string              `json:"error,omitempty"`
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <script> <message>",
		Short: "Run a script against a message",
		Long: `Run a Sieve script against an RFC 5322 message and print what delivery
would do with it. Use "-" to read the message from standard input.

A failing script still prints its outcome, the implicit keep, and exits
with an error.`,
		Args: cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Trace == "" {
				return nil
			}
			// Traces are logged at debug level.
			opts.cfg.Sieve.TraceLevel = opts.Trace
			opts.cfg.Logging.Level = "debug"
			return opts.initLogging()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(cmd, opts, args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&opts.From, "from", "f", "", "envelope sender")
	cmd.Flags().StringVarP(&opts.To, "to", "t", "", "envelope recipient")
	cmd.Flags().StringVar(&opts.AuthUser, "auth", "", "authenticated user")
	cmd.Flags().StringVarP(&opts.Username, "user", "u", "", "owner of the script")
	cmd.Flags().StringVar(&opts.Trace, "trace", "", "trace level (actions|commands|tests|matching)")
	return cmd
}

func runScript(cmd *cobra.Command, opts *runOptions, scriptPath, messagePath string) error {
	if scriptPath == "-" && messagePath == "-" {
		return fmt.Errorf("script and message cannot both be read from standard input")
	}
	src, err := readInput(cmd, scriptPath)
	if err != nil {
		return err
	}
	msg, err := readInput(cmd, messagePath)
	if err != nil {
		return err
	}

	engine, err := opts.engine()
	if err != nil {
		return err
	}
	exec, err := engine.NewExecutor(cmd.Context(), string(src))
	if err != nil {
		return fmt.Errorf("%s: %w", scriptPath, err)
	}
	summary, runErr := exec.Evaluate(cmd.Context(), sieveengine.Context{
		EnvelopeFrom: opts.From,
		EnvelopeTo:   opts.To,
		AuthUser:     opts.AuthUser,
		Username:     opts.Username,
		Message:      msg,
	})
	if errors.Is(runErr, consts.ErrMalformedMessage) {
		return fmt.Errorf("%s: %w", messagePath, runErr)
	}

	res := runResult{Summary: summary}
	if runErr != nil {
		res.Error = runErr.Error()
	}
	if opts.wantJSON() {
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		printSummary(cmd, summary)
	}
	return runErr
}

func printSummary(cmd *cobra.Command, s sieveengine.Summary) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "action: %s\n", s.Action)
	if len(s.Mailboxes) > 0 {
		fmt.Fprintf(w, "fileinto: %s\n", strings.Join(s.Mailboxes, ", "))
	} else if s.Mailbox != "" {
		fmt.Fprintf(w, "mailbox: %s\n", s.Mailbox)
	}
	if len(s.Redirects) > 0 {
		fmt.Fprintf(w, "redirect: %s\n", strings.Join(s.Redirects, ", "))
	}
	if len(s.Flags) > 0 {
		fmt.Fprintf(w, "flags: %s\n", strings.Join(s.Flags, " "))
	}
	if s.Copy {
		fmt.Fprintln(w, "copy: kept in default mailbox")
	}
	if v := s.Vacation; v != nil {
		fmt.Fprintf(w, "vacation: %q every %d days\n", v.Subject, v.Days)
	}
	for _, n := range s.Notifications {
		fmt.Fprintf(w, "notify: %s %q\n", n.Method, n.Message)
	}
	if len(s.Actions) > 0 {
		fmt.Fprintln(w, "actions:")
		for _, a := range s.Actions {
			fmt.Fprintf(w, "  %s\n", a)
		}
	}
}
