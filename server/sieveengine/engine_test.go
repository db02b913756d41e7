package sieveengine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/migadu/sora-sieve/cache"
	"github.com/migadu/sora-sieve/config"
	"github.com/migadu/sora-sieve/consts"
	"github.com/migadu/sora-sieve/sieve"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/migadu/sora-sieve/sieve/interp"
	"github.com/migadu/sora-sieve/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a BinaryStore kept in a map.
type memStore struct {
	mu                  sync.Mutex
	data                map[string][]byte
	gets, puts, deletes int
	// putErrs are returned by the next Put calls, in order.
	putErrs []error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	data, ok := s.data[key]
	if !ok {
		return nil, consts.ErrBinaryNotFound
	}
	return data, nil
}

func (s *memStore) Put(ctx context.Context, key string, data []byte, extensions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if len(s.putErrs) > 0 {
		err := s.putErrs[0]
		s.putErrs = s.putErrs[1:]
		if err != nil {
			return err
		}
	}
	s.data[key] = data
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.data, key)
	return nil
}

func newTestEngine(t *testing.T, store BinaryStore) *Engine {
	t.Helper()
	e, err := New(Options{Library: sieve.DefaultOptions(), CacheSize: 16}, store)
	require.NoError(t, err)
	return e
}

func testMessage() *testutils.Message {
	return &testutils.Message{Headers: map[string][]string{
		"From":    {"alice@example.com"},
		"To":      {"user@example.com"},
		"Subject": {"Lunch on Friday"},
	}}
}

func run(t *testing.T, e *Engine, src string) (*Execution, Summary) {
	t.Helper()
	x, err := e.ExecuteScript(context.Background(), src, testutils.Env(testMessage()))
	require.NoError(t, err)
	return x, x.Summary()
}

func TestSummarizeCommitPolicy(t *testing.T) {
	e := newTestEngine(t, nil)

	tests := []struct {
		name     string
		script   string
		action   Action
		mailbox  string
		redirect string
		copy     bool
	}{
		{"empty script keeps", ``, ActionKeep, "INBOX", "", false},
		{"explicit keep", `keep;`, ActionKeep, "INBOX", "", false},
		{"fileinto cancels keep", `require "fileinto"; fileinto "Work";`, ActionFileInto, "Work", "", false},
		{"fileinto copy keeps", `require ["fileinto", "copy"]; fileinto :copy "Work";`, ActionFileInto, "Work", "", true},
		{"fileinto and keep", `require "fileinto"; fileinto "A"; keep;`, ActionFileInto, "A", "", true},
		{"fileinto wins over redirect", `require "fileinto"; redirect "bob@example.com"; fileinto "B";`, ActionFileInto, "B", "", false},
		{"redirect", `redirect "bob@example.com";`, ActionRedirect, "", "bob@example.com", false},
		{"redirect copy", `require "copy"; redirect :copy "bob@example.com";`, ActionRedirect, "", "bob@example.com", true},
		{"discard", `discard;`, ActionDiscard, "", "", false},
		{"keep wins over discard", `discard; keep;`, ActionKeep, "INBOX", "", false},
		{"discard wins over vacation", `require "vacation"; vacation "away"; discard;`, ActionDiscard, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, s := run(t, e, tt.script)
			assert.Equal(t, tt.action, s.Action)
			assert.Equal(t, tt.mailbox, s.Mailbox)
			assert.Equal(t, tt.redirect, s.RedirectTo)
			assert.Equal(t, tt.copy, s.Copy)
		})
	}
}

func TestSummarizeCollectsEverything(t *testing.T) {
	e := newTestEngine(t, nil)
	_, s := run(t, e, `
require ["fileinto", "imap4flags", "notify"];
fileinto :flags "\\Flagged" "lists/one";
fileinto "lists/two";
redirect "bob@example.com";
notify :method "mailto:bob@example.org" :high :message "new mail";
`)
	assert.Equal(t, ActionFileInto, s.Action)
	assert.Equal(t, "lists/one", s.Mailbox)
	assert.Equal(t, []string{"lists/one", "lists/two"}, s.Mailboxes)
	assert.Equal(t, []string{"bob@example.com"}, s.Redirects)
	assert.Equal(t, []string{`\Flagged`}, s.Flags)
	require.Len(t, s.Notifications, 1)
	assert.Equal(t, "mailto:bob@example.org", s.Notifications[0].Method)
	assert.Equal(t, "new mail", s.Notifications[0].Message)
	assert.Len(t, s.Actions, 4)
	assert.Equal(t, `fileinto "lists/one" [flags \Flagged]`, s.Actions[0])
}

func TestSummarizeImplicitKeepFlags(t *testing.T) {
	e := newTestEngine(t, nil)
	_, s := run(t, e, `require "imap4flags"; setflag "\\Seen";`)
	assert.Equal(t, ActionKeep, s.Action)
	assert.Equal(t, "INBOX", s.Mailbox)
	assert.Equal(t, []string{`\Seen`}, s.Flags)
}

func TestSummarizeVacation(t *testing.T) {
	e := newTestEngine(t, nil)
	_, s := run(t, e, `require "vacation"; vacation :days 3 :handle "h1" "I am away";`)
	assert.Equal(t, ActionVacation, s.Action)
	assert.Equal(t, "INBOX", s.Mailbox)
	require.NotNil(t, s.Vacation)
	assert.Equal(t, uint64(3), s.Vacation.Days)
	assert.Equal(t, "Auto: Lunch on Friday", s.Vacation.Subject)
	assert.Equal(t, "I am away", s.Vacation.Body)
	assert.Equal(t, "h1", s.Vacation.Handle)
}

func TestExecuteFaultAppliesImplicitKeep(t *testing.T) {
	e, err := New(Options{Library: sieve.DefaultOptions(), MaxOperations: 1}, nil)
	require.NoError(t, err)

	x, err := e.ExecuteScript(context.Background(), `require "fileinto"; fileinto "A"; fileinto "B";`,
		testutils.Env(testMessage()))
	require.Error(t, err)
	assert.ErrorIs(t, err, interp.ErrOperationLimit)
	var execErr *interp.ExecError
	assert.True(t, errors.As(err, &execErr))

	require.NotNil(t, x)
	assert.Nil(t, x.Result)
	assert.Empty(t, x.Actions())
	s := x.Summary()
	assert.Equal(t, ActionKeep, s.Action)
	assert.Equal(t, "INBOX", s.Mailbox)
}

func TestExecuteUsesDefaultMailbox(t *testing.T) {
	e, err := New(Options{Library: sieve.DefaultOptions(), DefaultMailbox: "Incoming"}, nil)
	require.NoError(t, err)
	_, s := run(t, e, `keep;`)
	assert.Equal(t, "Incoming", s.Mailbox)

	env := testutils.Env(testMessage())
	env.DefaultMailbox = "Other"
	x, err := e.ExecuteScript(context.Background(), `keep;`, env)
	require.NoError(t, err)
	assert.Equal(t, "Other", x.Summary().Mailbox)
	assert.Equal(t, "Other", env.DefaultMailbox, "caller's env must not change")
}

func TestExecuteExecutionID(t *testing.T) {
	e := newTestEngine(t, nil)
	x, _ := run(t, e, `keep;`)
	assert.Len(t, x.ID, 36)
	assert.Positive(t, x.Operations)

	ctx := context.WithValue(context.Background(), consts.ExecutionIDKey, "req-1")
	x, err := e.ExecuteScript(ctx, `keep;`, testutils.Env(testMessage()))
	require.NoError(t, err)
	assert.Equal(t, "req-1", x.ID)
}

func TestExecuteWithTrace(t *testing.T) {
	e, err := New(Options{Library: sieve.DefaultOptions(), TraceLevel: interp.TraceMatching}, nil)
	require.NoError(t, err)
	_, s := run(t, e, `if header :contains "subject" "lunch" { discard; }`)
	assert.Equal(t, ActionDiscard, s.Action)
}

func TestCompileErrors(t *testing.T) {
	e, err := New(Options{Library: sieve.DefaultOptions(), MaxScriptSize: 16}, nil)
	require.NoError(t, err)

	_, err = e.Compile(`require "fileinto"; fileinto "a/very/long/mailbox";`)
	assert.ErrorIs(t, err, consts.ErrScriptTooLarge)

	_, err = e.Compile(`frobnicate;`)
	assert.ErrorIs(t, err, consts.ErrInvalidScript)

	assert.NoError(t, e.Check(`keep;`))
}

func TestCompileDisabledExtension(t *testing.T) {
	opts := sieve.DefaultOptions()
	opts.Extensions = []string{"fileinto"}
	e, err := New(Options{Library: opts}, nil)
	require.NoError(t, err)

	assert.NoError(t, e.Check(`require "fileinto"; fileinto "A";`))
	assert.ErrorIs(t, e.Check(`require "vacation"; vacation "away";`), consts.ErrInvalidScript)
}

func TestDump(t *testing.T) {
	e := newTestEngine(t, nil)
	raw, err := e.Compile(`require "fileinto"; fileinto "Work";`)
	require.NoError(t, err)
	out, err := e.Dump(raw)
	require.NoError(t, err)
	assert.Contains(t, out, "FILEINTO")
	assert.Contains(t, out, "[End of code]")
}

func TestProgramCachesInMemoryAndStore(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, store)
	ctx := context.Background()
	src := `require "fileinto"; fileinto "Work";`

	p1, err := e.Program(ctx, src)
	require.NoError(t, err)
	p2, err := e.Program(ctx, src)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, store.gets)
	assert.Equal(t, 1, store.puts)
	assert.Equal(t, 1, e.Programs().Len())

	// A fresh engine finds the binary in the store.
	e2 := newTestEngine(t, store)
	_, err = e2.Program(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, store.gets)
	assert.Equal(t, 1, store.puts)
}

func TestProgramRetriesStoreWrites(t *testing.T) {
	store := newMemStore()
	store.putErrs = []error{errors.New("database is locked"), errors.New("database is locked")}
	e := newTestEngine(t, store)
	e.retryConfig.InitialInterval = time.Millisecond
	e.retryConfig.MaxInterval = time.Millisecond

	_, err := e.Program(context.Background(), `keep;`)
	require.NoError(t, err)
	assert.Equal(t, 3, store.puts)
	assert.Len(t, store.data, 1)
}

func TestProgramStopsRetryOnClosedStore(t *testing.T) {
	store := newMemStore()
	store.putErrs = []error{consts.ErrStoreClosed}
	e := newTestEngine(t, store)

	// The program is still usable without the store.
	_, err := e.Program(context.Background(), `keep;`)
	require.NoError(t, err)
	assert.Equal(t, 1, store.puts)
	assert.Empty(t, store.data)
}

func TestProgramReplacesUnusableBinary(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, store)
	src := `keep;`
	key := cache.Key(src, e.Library().Enabled())
	store.data[key] = []byte("garbage")

	_, err := e.Program(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, store.deletes)
	assert.Equal(t, 1, store.puts)
	assert.True(t, bytes.HasPrefix(store.data[key], []byte(bytecode.Magic)))
}

func TestProgramConcurrent(t *testing.T) {
	e := newTestEngine(t, newMemStore())
	src := `require "fileinto"; if header :is "to" "user@example.com" { fileinto "Me"; }`

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			x, err := e.ExecuteScript(context.Background(), src, testutils.Env(testMessage()))
			if assert.NoError(t, err) {
				assert.Equal(t, "Me", x.Summary().Mailbox)
			}
		}()
	}
	wg.Wait()
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Sieve.Extensions = []string{"fileinto", "vacation"}
	cfg.Sieve.Vacation.MaxDays = 30
	cfg.Sieve.TraceLevel = "commands"

	opts, err := OptionsFromConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"fileinto", "vacation"}, opts.Library.Extensions)
	assert.Equal(t, uint64(30), opts.Library.Vacation.MaxDays)
	assert.Equal(t, interp.TraceCommands, opts.TraceLevel)
	assert.Equal(t, int64(64*1024), opts.MaxScriptSize)
	assert.Equal(t, cfg.Cache.Size, opts.CacheSize)

	cfg.Cache.Enabled = false
	opts, err = OptionsFromConfig(&cfg)
	require.NoError(t, err)
	assert.Zero(t, opts.CacheSize)

	cfg.Sieve.TraceLevel = "verbose"
	_, err = OptionsFromConfig(&cfg)
	assert.Error(t, err)

	cfg.Sieve.TraceLevel = ""
	e, err := NewFromConfig(&cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"fileinto", "vacation"}, e.Library().Enabled())
}
