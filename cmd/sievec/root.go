package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"

	"github.com/migadu/sora-sieve/config"
	"github.com/migadu/sora-sieve/logger"
	"github.com/migadu/sora-sieve/server/sieveengine"
	"github.com/spf13/cobra"
)

// validFormats are the accepted values of --format.
var validFormats = []string{"text", "json"}

// rootOptions holds the flags shared by every command and the configuration
// they resolve to.
type rootOptions struct {
	ConfigPath string
	Format     string
	LogLevel   string
	Extensions []string

	cfg     config.Config
	logFile *os.File
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "sievec",
		Short:         "Sieve bytecode compiler and interpreter",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logFile != nil {
				opts.logFile.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to TOML configuration file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (overrides config)")
	cmd.PersistentFlags().StringSliceVarP(&opts.Extensions, "extensions", "x", nil, "enabled extensions (overrides config)")

	cmd.AddCommand(newCompileCommand(opts))
	cmd.AddCommand(newDumpCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newServeCommand(opts))

	return cmd
}

// load resolves the configuration: defaults, then the file, then flags.
func (o *rootOptions) load(cmd *cobra.Command) error {
	if !slices.Contains(validFormats, o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, validFormats)
	}

	o.cfg = config.NewDefaultConfig()
	if o.ConfigPath != "" {
		if err := config.LoadConfigFromFile(o.ConfigPath, &o.cfg); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("configuration file %s not found", o.ConfigPath)
			}
			return fmt.Errorf("failed to load configuration: %w", err)
		}
	}
	if cmd.Flags().Changed("extensions") {
		o.cfg.Sieve.Extensions = o.Extensions
	}
	if o.LogLevel != "" {
		o.cfg.Logging.Level = o.LogLevel
	}
	if err := o.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return o.initLogging()
}

// initLogging (re)initializes the global logger from the resolved config.
func (o *rootOptions) initLogging() error {
	logFile, err := logger.Initialize(o.cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if o.logFile != nil {
		o.logFile.Close()
	}
	o.logFile = logFile
	return nil
}

// engine builds an engine without a persistent store.
func (o *rootOptions) engine() (*sieveengine.Engine, error) {
	return sieveengine.NewFromConfig(&o.cfg, nil)
}

func (o *rootOptions) wantJSON() bool { return o.Format == "json" }

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads path, or standard input for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
