// Package cache persists compiled Sieve binaries in an embedded SQLite
// database so a restart does not recompile every script.
//
// Entries are keyed by a BLAKE3 digest of the script source, the enabled
// extensions and the binary format version. A binary that no longer loads
// is simply replaced by the caller after recompiling.
package cache

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/migadu/sora-sieve/consts"
	"github.com/migadu/sora-sieve/logger"
	"github.com/migadu/sora-sieve/pkg/metrics"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PruneBatchSize bounds how many rows one prune statement deletes.
const PruneBatchSize = 1000

// Key derives the store key of a script compiled with the given extensions.
func Key(script string, extensions []string) string {
	exts := append([]string(nil), extensions...)
	sort.Strings(exts)
	h := blake3.New(32, nil)
	fmt.Fprintf(h, "v%d.%d\x00", bytecode.VersionMajor, bytecode.VersionMinor)
	h.Write([]byte(strings.Join(exts, ",")))
	h.Write([]byte{0})
	h.Write([]byte(script))
	return hex.EncodeToString(h.Sum(nil))
}

// BinaryStore is a SQLite table of compiled binaries.
type BinaryStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool

	hits      int64
	misses    int64
	startTime time.Time
}

// Open opens or creates the store at path and applies pending migrations.
func Open(path string) (*BinaryStore, error) {
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return nil, fmt.Errorf("binary store path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create binary store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open binary store: %w", err)
	}
	// A single connection serializes writers; SQLite would otherwise
	// report SQLITE_BUSY under concurrent deliveries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		logger.Warn("Binary store: failed to enable WAL", "error", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("binary store ping failed: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Binary store opened", "path", path)
	return &BinaryStore{db: db, startTime: time.Now()}, nil
}

func migrateSchema(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database. Further calls fail with consts.ErrStoreClosed.
func (s *BinaryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	logger.Info("Binary store: closing database connection")
	return s.db.Close()
}

func (s *BinaryStore) check() error {
	if s.closed {
		return consts.ErrStoreClosed
	}
	return nil
}

// Get returns the binary stored under key and records the access. A miss
// returns consts.ErrBinaryNotFound.
func (s *BinaryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM binaries WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		atomic.AddInt64(&s.misses, 1)
		metrics.BinaryCacheOperations.WithLabelValues("store_get", "miss").Inc()
		return nil, consts.ErrBinaryNotFound
	}
	if err != nil {
		metrics.BinaryCacheOperations.WithLabelValues("store_get", "error").Inc()
		return nil, fmt.Errorf("failed to read binary %s: %w", key, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE binaries SET last_access = ?, hits = hits + 1 WHERE key = ?`, time.Now().UTC(), key); err != nil {
		logger.Warn("Binary store: failed to record access", "key", key, "error", err)
	}
	atomic.AddInt64(&s.hits, 1)
	metrics.BinaryCacheOperations.WithLabelValues("store_get", "hit").Inc()
	return data, nil
}

// Put stores data under key, replacing what was there.
func (s *BinaryStore) Put(ctx context.Context, key string, data []byte, extensions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO binaries (key, data, size, extensions, created_at, last_access, hits)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		key, data, len(data), strings.Join(extensions, ","), now, now)
	if err != nil {
		metrics.BinaryCacheOperations.WithLabelValues("store_put", "error").Inc()
		return fmt.Errorf("failed to store binary %s: %w", key, err)
	}
	metrics.BinaryCacheOperations.WithLabelValues("store_put", "success").Inc()
	logger.Debug("Binary store: stored binary", "key", key, "size", len(data))
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BinaryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM binaries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete binary %s: %w", key, err)
	}
	metrics.BinaryCacheOperations.WithLabelValues("store_delete", "success").Inc()
	return nil
}

// Prune deletes binaries not accessed within maxAge and returns how many
// were removed.
func (s *BinaryStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	var total int64
	for {
		n, err := s.pruneBatch(ctx, cutoff)
		if err != nil {
			return total, err
		}
		total += n
		if n < PruneBatchSize {
			break
		}
	}
	if total > 0 {
		logger.Info("Binary store: pruned unused binaries", "count", total, "max_age", maxAge)
		metrics.BinaryCacheOperations.WithLabelValues("store_prune", "success").Add(float64(total))
	}
	return total, nil
}

func (s *BinaryStore) pruneBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM binaries WHERE key IN (
			SELECT key FROM binaries WHERE last_access < ? ORDER BY last_access LIMIT ?
		)`, cutoff, PruneBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to prune binaries: %w", err)
	}
	return res.RowsAffected()
}

// StartPruneLoop prunes every interval until ctx is done.
func (s *BinaryStore) StartPruneLoop(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Prune(ctx, maxAge); err != nil && !errors.Is(err, consts.ErrStoreClosed) {
					logger.Warn("Binary store: prune failed", "error", err)
				}
			}
		}
	}()
}

// GetStats returns the number of binaries and their total size.
func (s *BinaryStore) GetStats(ctx context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, 0, err
	}
	var count, size int64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM binaries`)
	if err := row.Scan(&count, &size); err != nil {
		return 0, 0, fmt.Errorf("failed to query binary store statistics: %w", err)
	}
	return count, size, nil
}

// StoreMetrics holds hit/miss counters of a store.
type StoreMetrics struct {
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
	HitRate   float64   `json:"hit_rate"`
	TotalOps  int64     `json:"total_ops"`
	StartTime time.Time `json:"start_time"`
	Uptime    string    `json:"uptime"`
}

// GetMetrics returns the hit/miss counters since open or the last reset.
func (s *BinaryStore) GetMetrics() *StoreMetrics {
	hits := atomic.LoadInt64(&s.hits)
	misses := atomic.LoadInt64(&s.misses)
	totalOps := hits + misses

	var hitRate float64
	if totalOps > 0 {
		hitRate = float64(hits) / float64(totalOps) * 100
	}
	return &StoreMetrics{
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
		TotalOps:  totalOps,
		StartTime: s.startTime,
		Uptime:    time.Since(s.startTime).String(),
	}
}

// ResetMetrics resets the hit/miss counters
func (s *BinaryStore) ResetMetrics() {
	atomic.StoreInt64(&s.hits, 0)
	atomic.StoreInt64(&s.misses, 0)
	s.startTime = time.Now()
}
