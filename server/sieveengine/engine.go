package sieveengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/migadu/sora-sieve/cache"
	"github.com/migadu/sora-sieve/config"
	"github.com/migadu/sora-sieve/consts"
	"github.com/migadu/sora-sieve/logger"
	"github.com/migadu/sora-sieve/pkg/metrics"
	"github.com/migadu/sora-sieve/pkg/retry"
	"github.com/migadu/sora-sieve/sieve"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/ext/spamtest"
	"github.com/migadu/sora-sieve/sieve/ext/vacation"
	"github.com/migadu/sora-sieve/sieve/interp"
	"golang.org/x/sync/singleflight"
)

// BinaryStore persists compiled binaries between restarts.
type BinaryStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, extensions []string) error
	Delete(ctx context.Context, key string) error
}

// Options configure an Engine.
type Options struct {
	Library        sieve.Options
	MaxScriptSize  int64
	MaxOperations  int
	Timeout        time.Duration
	DefaultMailbox string
	TraceLevel     interp.TraceLevel
	// CacheSize bounds the in-memory program cache; zero disables it.
	CacheSize int
	CacheTTL  time.Duration
}

// OptionsFromConfig maps the [sieve] and [cache] sections to Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	sc := cfg.Sieve
	lib := sieve.DefaultOptions()
	if len(sc.Extensions) > 0 {
		lib.Extensions = sc.Extensions
	}
	lib.SubaddressSeparator = sc.SubaddressSeparator
	lib.CrossCheck = sc.CrossCheck
	lib.Spamtest = spamtestConfig(sc.Spamtest)
	lib.Vacation = vacationConfig(sc.Vacation)

	level, err := interp.ParseTraceLevel(sc.TraceLevel)
	if err != nil {
		return Options{}, fmt.Errorf("sieve.trace_level: %w", err)
	}

	opts := Options{
		Library:        lib,
		MaxScriptSize:  sc.GetMaxScriptSizeWithDefault(),
		MaxOperations:  sc.MaxOperations,
		Timeout:        sc.GetExecutionTimeoutWithDefault(),
		DefaultMailbox: sc.DefaultMailbox,
		TraceLevel:     level,
	}
	if cfg.Cache.Enabled {
		opts.CacheSize = cfg.Cache.Size
		opts.CacheTTL = cfg.Cache.GetTTLWithDefault()
	}
	return opts, nil
}

func spamtestConfig(c config.SpamtestConfig) spamtest.Config {
	out := spamtest.DefaultConfig()
	if c.SpamHeader != "" {
		out.SpamHeader = c.SpamHeader
	}
	if c.SpamThreshold > 0 {
		out.SpamThreshold = c.SpamThreshold
	}
	if c.VirusHeader != "" {
		out.VirusHeader = c.VirusHeader
	}
	return out
}

func vacationConfig(c config.VacationConfig) vacation.Config {
	out := vacation.DefaultConfig()
	if c.MinDays > 0 {
		out.MinDays = uint64(c.MinDays)
	}
	if c.MaxDays > 0 {
		out.MaxDays = uint64(c.MaxDays)
	}
	if c.DefaultDays > 0 {
		out.DefaultDays = uint64(c.DefaultDays)
	}
	return out
}

// Engine compiles, caches and runs scripts for a host. It is safe for
// concurrent use.
type Engine struct {
	lib      *sieve.Library
	opts     Options
	programs *ProgramCache
	store    BinaryStore
	sfGroup  singleflight.Group

	retryConfig retry.BackoffConfig
}

// New builds the extension library and the caches. store may be nil.
func New(opts Options, store BinaryStore) (*Engine, error) {
	lib, err := sieve.New(opts.Library)
	if err != nil {
		return nil, fmt.Errorf("failed to build sieve library: %w", err)
	}
	if opts.MaxOperations <= 0 {
		opts.MaxOperations = interp.DefaultMaxOperations
	}
	if opts.DefaultMailbox == "" {
		opts.DefaultMailbox = consts.DefaultMailbox
	}
	e := &Engine{lib: lib, opts: opts, store: store, retryConfig: retry.DefaultBackoffConfig()}
	if opts.CacheSize > 0 {
		e.programs = NewProgramCache(opts.CacheSize, opts.CacheTTL)
	}
	logger.Info("Sieve engine initialized", "component", "sieve",
		"extensions", lib.Enabled(), "max_script_size", opts.MaxScriptSize,
		"max_operations", opts.MaxOperations, "timeout", opts.Timeout,
		"program_cache", opts.CacheSize, "binary_store", store != nil)
	return e, nil
}

// NewFromConfig is New with options taken from cfg.
func NewFromConfig(cfg *config.Config, store BinaryStore) (*Engine, error) {
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return New(opts, store)
}

func (e *Engine) Library() *sieve.Library { return e.lib }

// Programs returns the in-memory program cache, nil when disabled.
func (e *Engine) Programs() *ProgramCache { return e.programs }

// Compile compiles src into a serialized binary.
func (e *Engine) Compile(src string) ([]byte, error) {
	if e.opts.MaxScriptSize > 0 && int64(len(src)) > e.opts.MaxScriptSize {
		metrics.CompilationsTotal.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", consts.ErrScriptTooLarge, len(src), e.opts.MaxScriptSize)
	}
	start := time.Now()
	raw, err := e.lib.Compile(src)
	metrics.CompileDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CompilationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", consts.ErrInvalidScript, err)
	}
	metrics.CompilationsTotal.WithLabelValues("success").Inc()
	return raw, nil
}

// Check reports whether src compiles.
func (e *Engine) Check(src string) error {
	_, err := e.Compile(src)
	return err
}

// Load decodes a serialized binary.
func (e *Engine) Load(raw []byte) (*interp.Program, error) {
	prog, err := e.lib.Load(raw)
	if err != nil {
		metrics.BinaryLoadFailures.WithLabelValues(loadFailureReason(err)).Inc()
		return nil, err
	}
	return prog, nil
}

func loadFailureReason(err error) string {
	switch {
	case errors.Is(err, bytecode.ErrUnsupportedExtension):
		return "unsupported_extension"
	case errors.Is(err, bytecode.ErrVersionMismatch):
		return "version_mismatch"
	case errors.Is(err, bytecode.ErrCorrupt):
		return "corrupt"
	default:
		return "other"
	}
}

// Dump renders the code listing of a serialized binary.
func (e *Engine) Dump(raw []byte) (string, error) {
	return e.lib.Dump(raw)
}

// Program returns the loaded program for src. It looks in memory, then in
// the binary store, and compiles only when both miss. Concurrent callers
// asking for the same script share one compilation.
func (e *Engine) Program(ctx context.Context, src string) (*interp.Program, error) {
	key := cache.Key(src, e.lib.Enabled())
	if e.programs != nil {
		if prog, ok := e.programs.Get(key); ok {
			return prog, nil
		}
	}

	v, err, _ := e.sfGroup.Do(key, func() (any, error) {
		if prog := e.loadStored(ctx, key); prog != nil {
			return prog, nil
		}
		raw, err := e.Compile(src)
		if err != nil {
			return nil, err
		}
		prog, err := e.Load(raw)
		if err != nil {
			return nil, fmt.Errorf("load fresh binary: %w", err)
		}
		if e.store != nil {
			if err := e.persist(ctx, key, raw); err != nil {
				logger.Warn("Failed to persist compiled script", "component", "sieve", "key", key, "error", err)
			}
		}
		return prog, nil
	})
	if err != nil {
		return nil, err
	}
	prog := v.(*interp.Program)
	if e.programs != nil {
		e.programs.Set(key, prog)
	}
	return prog, nil
}

// persist writes raw to the store, retrying while SQLite reports contention.
func (e *Engine) persist(ctx context.Context, key string, raw []byte) error {
	return retry.WithRetry(ctx, func() error {
		err := e.store.Put(ctx, key, raw, e.lib.Enabled())
		if errors.Is(err, consts.ErrStoreClosed) {
			return retry.Stop(err)
		}
		return err
	}, e.retryConfig)
}

// loadStored returns the stored program for key, or nil. Binaries that no
// longer load are dropped from the store.
func (e *Engine) loadStored(ctx context.Context, key string) *interp.Program {
	if e.store == nil {
		return nil
	}
	raw, err := e.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, consts.ErrBinaryNotFound) {
			logger.Warn("Failed to read stored binary", "component", "sieve", "key", key, "error", err)
		}
		return nil
	}
	prog, err := e.Load(raw)
	if err != nil {
		logger.Warn("Stored binary is unusable, recompiling", "component", "sieve", "key", key, "error", err)
		if err := e.store.Delete(ctx, key); err != nil {
			logger.Warn("Failed to delete stored binary", "component", "sieve", "key", key, "error", err)
		}
		return nil
	}
	return prog
}

// Execution is the outcome of one run.
type Execution struct {
	ID string
	// Result is nil when the run faulted.
	Result *interp.Result
	// Implicit is the keep applied when nothing cancels it, and the only
	// action of a faulted run.
	Implicit   *interp.Action
	Operations int
	Duration   time.Duration
}

// Actions returns the queued actions, none for a faulted run.
func (x *Execution) Actions() []*interp.Action {
	if x.Result == nil {
		return nil
	}
	return x.Result.Actions()
}

// Summary applies the commit policy to the run.
func (x *Execution) Summary() Summary {
	return Summarize(x.Actions(), x.Implicit)
}

// Execute runs prog against env. A faulted run still returns an Execution
// whose summary is the implicit keep, together with the fault.
func (e *Engine) Execute(ctx context.Context, prog *interp.Program, env *interp.ScriptEnv) (*Execution, error) {
	runEnv := interp.ScriptEnv{}
	if env != nil {
		runEnv = *env
	}
	if runEnv.DefaultMailbox == "" {
		runEnv.DefaultMailbox = e.opts.DefaultMailbox
	}

	x := &Execution{ID: uuid.NewString()}
	if id, ok := ctx.Value(consts.ExecutionIDKey).(string); ok && id != "" {
		x.ID = id
	}
	log := logger.With("component", "sieve", "execution_id", x.ID, "username", runEnv.Username)

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	iopts := interp.Options{MaxOperations: e.opts.MaxOperations}
	if e.opts.TraceLevel > interp.TraceNone {
		iopts.Trace = logger.TraceWriter(log, slog.LevelDebug)
		iopts.TraceLevel = e.opts.TraceLevel
	}

	start := time.Now()
	in := interp.NewInterpreter(prog, &runEnv, iopts)
	res, err := in.Run(ctx)
	x.Duration = time.Since(start)
	x.Operations = in.Operations()

	metrics.ExecutionDuration.Observe(x.Duration.Seconds())
	metrics.OperationsExecuted.Observe(float64(x.Operations))

	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("error").Inc()
		x.Implicit = &interp.Action{
			Def:     interp.ActionKeep,
			Context: &interp.KeepContext{Mailbox: runEnv.Mailbox()},
		}
		log.Warn("Sieve script failed, applying implicit keep", "error", err, "operations", x.Operations)
		return x, err
	}

	metrics.ExecutionsTotal.WithLabelValues("success").Inc()
	x.Result = res
	x.Implicit = in.ImplicitKeep()
	for _, a := range res.Actions() {
		metrics.ActionsQueued.WithLabelValues(a.Kind()).Inc()
	}
	log.Debug("Sieve script executed", "operations", x.Operations, "actions", res.Len(), "duration", x.Duration)
	return x, nil
}

// ExecuteScript compiles or fetches src and runs it against env.
func (e *Engine) ExecuteScript(ctx context.Context, src string, env *interp.ScriptEnv) (*Execution, error) {
	prog, err := e.Program(ctx, src)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, prog, env)
}
