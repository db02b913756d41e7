package config

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/migadu/sora-sieve/consts"
)

// LoggingConfig selects where and how the process logs.
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// SpamtestConfig tells the spamtest and virustest tests where scores live.
type SpamtestConfig struct {
	SpamHeader    string  `toml:"spam_header"`
	SpamThreshold float64 `toml:"spam_threshold"`
	VirusHeader   string  `toml:"virus_header"`
}

// VacationConfig bounds the :days argument of vacation.
type VacationConfig struct {
	MinDays     int `toml:"min_days"`
	MaxDays     int `toml:"max_days"`
	DefaultDays int `toml:"default_days"`
}

// SieveConfig holds compiler and interpreter settings.
type SieveConfig struct {
	// Extensions scripts may require. Empty enables the default set.
	Extensions          []string       `toml:"extensions"`
	MaxScriptSize       string         `toml:"max_script_size"`
	MaxOperations       int            `toml:"max_operations"`
	ExecutionTimeout    string         `toml:"execution_timeout"`
	DefaultMailbox      string         `toml:"default_mailbox"`
	SubaddressSeparator string         `toml:"subaddress_separator"`
	CrossCheck          bool           `toml:"cross_check"` // Also validate scripts with go-sieve
	TraceLevel          string         `toml:"trace_level"` // "none", "actions", "commands", "tests", "matching"
	Spamtest            SpamtestConfig `toml:"spamtest"`
	Vacation            VacationConfig `toml:"vacation"`
}

// CacheConfig sizes the in-memory cache of loaded programs.
type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Size    int    `toml:"size"`
	TTL     string `toml:"ttl"`
}

// StoreConfig locates the SQLite database of compiled binaries.
type StoreConfig struct {
	Path          string `toml:"path"`           // Empty disables the store
	MaxAge        string `toml:"max_age"`        // Binaries unused for longer are pruned
	PruneInterval string `toml:"prune_interval"` // How often pruning runs
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// HTTPAPIConfig holds HTTP API server configuration
type HTTPAPIConfig struct {
	Start        bool     `toml:"start"`
	Addr         string   `toml:"addr"`
	APIKey       string   `toml:"api_key"`
	AllowedHosts []string `toml:"allowed_hosts"` // If empty, all hosts are allowed
	TLS          bool     `toml:"tls"`
	TLSCertFile  string   `toml:"tls_cert_file"`
	TLSKeyFile   string   `toml:"tls_key_file"`
}

type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Sieve   SieveConfig   `toml:"sieve"`
	Cache   CacheConfig   `toml:"cache"`
	Store   StoreConfig   `toml:"store"`
	Metrics MetricsConfig `toml:"metrics"`
	HTTPAPI HTTPAPIConfig `toml:"http_api"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Sieve: SieveConfig{
			MaxScriptSize:    "64KiB",
			MaxOperations:    100000,
			ExecutionTimeout: "5s",
			DefaultMailbox:   consts.DefaultMailbox,
			TraceLevel:       "none",
			Spamtest: SpamtestConfig{
				SpamHeader:    "X-Spam-Score",
				SpamThreshold: 10,
				VirusHeader:   "X-Virus-Score",
			},
			Vacation: VacationConfig{
				MinDays:     1,
				MaxDays:     60,
				DefaultDays: 7,
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    1000,
			TTL:     "10m",
		},
		Store: StoreConfig{
			MaxAge:        "720h",
			PruneInterval: "1h",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		HTTPAPI: HTTPAPIConfig{
			Addr: ":8080",
		},
	}
}

// GetMaxScriptSize parses the maximum script size
func (c *SieveConfig) GetMaxScriptSize() (int64, error) {
	if c.MaxScriptSize == "" {
		c.MaxScriptSize = "64KiB"
	}
	return parseSize(c.MaxScriptSize)
}

// GetExecutionTimeout parses the per-run timeout
func (c *SieveConfig) GetExecutionTimeout() (time.Duration, error) {
	if c.ExecutionTimeout == "" {
		c.ExecutionTimeout = "5s"
	}
	return time.ParseDuration(c.ExecutionTimeout)
}

// GetMaxScriptSizeWithDefault returns the maximum script size, 64 KiB if it
// does not parse.
func (c *SieveConfig) GetMaxScriptSizeWithDefault() int64 {
	size, err := c.GetMaxScriptSize()
	if err != nil {
		slog.Warn("Invalid sieve max_script_size, using default", "value", c.MaxScriptSize, "error", err)
		return 64 * 1024
	}
	return size
}

// GetExecutionTimeoutWithDefault returns the per-run timeout, 5s if it does
// not parse.
func (c *SieveConfig) GetExecutionTimeoutWithDefault() time.Duration {
	d, err := c.GetExecutionTimeout()
	if err != nil {
		slog.Warn("Invalid sieve execution_timeout, using default", "value", c.ExecutionTimeout, "error", err)
		return 5 * time.Second
	}
	return d
}

// GetTTL parses how long a loaded program stays cached
func (c *CacheConfig) GetTTL() (time.Duration, error) {
	if c.TTL == "" {
		c.TTL = "10m"
	}
	return time.ParseDuration(c.TTL)
}

func (c *CacheConfig) GetTTLWithDefault() time.Duration {
	d, err := c.GetTTL()
	if err != nil {
		slog.Warn("Invalid cache ttl, using default", "value", c.TTL, "error", err)
		return 10 * time.Minute
	}
	return d
}

// GetMaxAge parses how long an unused binary is kept
func (c *StoreConfig) GetMaxAge() (time.Duration, error) {
	if c.MaxAge == "" {
		c.MaxAge = "720h"
	}
	return time.ParseDuration(c.MaxAge)
}

// GetPruneInterval parses how often the store is pruned
func (c *StoreConfig) GetPruneInterval() (time.Duration, error) {
	if c.PruneInterval == "" {
		c.PruneInterval = "1h"
	}
	return time.ParseDuration(c.PruneInterval)
}

// Validate checks values that would otherwise only fail at first use.
func (c *Config) Validate() error {
	if _, err := c.Sieve.GetMaxScriptSize(); err != nil {
		return fmt.Errorf("sieve.max_script_size: %w", err)
	}
	if _, err := c.Sieve.GetExecutionTimeout(); err != nil {
		return fmt.Errorf("sieve.execution_timeout: %w", err)
	}
	if c.Sieve.MaxOperations < 0 {
		return fmt.Errorf("sieve.max_operations must not be negative")
	}
	v := c.Sieve.Vacation
	if v.MinDays < 0 || v.MaxDays < 0 || (v.MaxDays > 0 && v.MinDays > v.MaxDays) {
		return fmt.Errorf("sieve.vacation: min_days %d and max_days %d are inconsistent", v.MinDays, v.MaxDays)
	}
	if _, err := c.Cache.GetTTL(); err != nil {
		return fmt.Errorf("cache.ttl: %w", err)
	}
	if _, err := c.Store.GetMaxAge(); err != nil {
		return fmt.Errorf("store.max_age: %w", err)
	}
	if _, err := c.Store.GetPruneInterval(); err != nil {
		return fmt.Errorf("store.prune_interval: %w", err)
	}
	if c.HTTPAPI.Start && c.HTTPAPI.TLS && (c.HTTPAPI.TLSCertFile == "" || c.HTTPAPI.TLSKeyFile == "") {
		return fmt.Errorf("http_api: tls requires tls_cert_file and tls_key_file")
	}
	return nil
}

// parseSize parses sizes such as "64KiB" or "1MiB".
func parseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// LoadConfigFromFile decodes configPath over cfg. Unknown keys are logged
// and ignored; duplicate keys keep their first occurrence.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		if !strings.Contains(err.Error(), "has already been defined") {
			return enhanceConfigError(err)
		}
		slog.Warn("Configuration file contains duplicate keys, only the first occurrence is used",
			"path", configPath, "error", err)
		cleaned := removeDuplicateKeysFromTOML(string(content))
		if metadata, err = toml.Decode(cleaned, cfg); err != nil {
			return enhanceConfigError(err)
		}
	}

	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		slog.Warn("Configuration file contains unknown keys that will be ignored",
			"path", configPath, "keys", keys)
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// removeDuplicateKeysFromTOML comments out every repeated key of a table,
// keeping the first. Each [[array]] element starts a fresh set of keys.
func removeDuplicateKeysFromTOML(content string) string {
	lines := strings.Split(content, "\n")
	seenKeys := make(map[string]int)
	result := make([]string, 0, len(lines))
	var currentSection, lastArrayTable string

	for lineNum, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "#"):
		case strings.HasPrefix(trimmed, "[[") && strings.HasSuffix(trimmed, "]]"):
			currentSection = strings.TrimSpace(trimmed[2 : len(trimmed)-2])
			if currentSection == lastArrayTable {
				for k := range seenKeys {
					if strings.HasPrefix(k, currentSection+".") {
						delete(seenKeys, k)
					}
				}
			}
			lastArrayTable = currentSection
		case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
			currentSection = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			lastArrayTable = ""
		default:
			key, _, ok := strings.Cut(trimmed, "=")
			if !ok {
				break
			}
			fullKey := strings.TrimSpace(key)
			if currentSection != "" {
				fullKey = currentSection + "." + fullKey
			}
			if prevLine, exists := seenKeys[fullKey]; exists {
				slog.Warn("Duplicate configuration key ignored", "key", fullKey,
					"line", lineNum+1, "first_line", prevLine+1)
				result = append(result, "# DUPLICATE IGNORED: "+line)
				continue
			}
			seenKeys[fullKey] = lineNum
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}

// enhanceConfigError adds a hint to common TOML mistakes.
func enhanceConfigError(err error) error {
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "expected value but found \"f\"") ||
		strings.Contains(errMsg, "expected value but found \"t\""):
		return fmt.Errorf("%w\n\nHINT: boolean values must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	case strings.Contains(errMsg, "expected") || strings.Contains(errMsg, "invalid"):
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Please check that strings are quoted, brackets are balanced and section headers use [section]", err)
	}
	return err
}

// trimStringFields recursively trims whitespace from all string fields in a struct
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			trimStringFields(v.Index(i))
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			trimStringFields(v.Field(i))
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
