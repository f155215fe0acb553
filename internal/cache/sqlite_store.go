package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"payndeliver-cart/pkg/uid"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteStore is a file-backed Store.
// Writes by other processes are detected by polling PRAGMA data_version and
// diffing the per-key (revision, origin) pairs. Revisions come from a counter
// in kv_seq that only moves forward, so a purge followed by a write never
// reuses a revision another instance has already seen.
type SQLiteStore struct {
	db     *sql.DB
	origin string
	quota  int64
	log    *zap.Logger
	hub    *hub

	mu          sync.Mutex
	revisions   map[string]revision
	dataVersion int64

	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
}

// NewSQLiteStore opens (or creates) the store at path. A positive quota limits
// the total key plus value bytes; pollInterval controls change detection.
func NewSQLiteStore(ctx context.Context, path string, quotaBytes int64, pollInterval time.Duration, log *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite store: %w", err)
	}

	// A single connection keeps data_version meaningful: it only moves when
	// another connection commits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createKVTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	childCtx, cancel := context.WithCancel(ctx)
	s := &SQLiteStore{
		db:        db,
		origin:    uid.New(),
		quota:     quotaBytes,
		log:       log.Named("sqlite-store"),
		hub:       newHub(),
		revisions: make(map[string]revision),
		cancel:    cancel,
	}

	if err := s.loadSnapshot(childCtx); err != nil {
		cancel()
		db.Close()
		return nil, err
	}

	s.waitGroup.Add(1)
	go s.run(childCtx, pollInterval)

	return s, nil
}

func (s *SQLiteStore) loadSnapshot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.queryDataVersion(ctx)
	if err != nil {
		return err
	}
	revisions, err := s.queryRevisions(ctx)
	if err != nil {
		return err
	}
	s.dataVersion = version
	s.revisions = revisions
	return nil
}

// createKVTables creates the kv table and its revision counter. The counter
// is seeded from existing rows so older files keep increasing revisions.
func createKVTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			rev INTEGER NOT NULL,
			origin TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kv_seq (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			rev INTEGER NOT NULL
		)`,
		`INSERT OR IGNORE INTO kv_seq (id, rev) SELECT 1, COALESCE(MAX(rev), 0) FROM kv`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create kv tables: %w", err)
		}
	}
	return nil
}

// Get retrieves a value by key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, nil
}

// Set stores a value, failing with ErrQuotaExceeded when it would not fit.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.quota > 0 {
		var used int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM kv WHERE key != ?`, key,
		).Scan(&used); err != nil {
			return fmt.Errorf("failed to measure store: %w", err)
		}
		if used+int64(len(key)+len(value)) > s.quota {
			return ErrQuotaExceeded
		}
	}

	var rev int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE kv_seq SET rev = rev + 1 WHERE id = 1 RETURNING rev`,
	).Scan(&rev); err != nil {
		return mapSQLiteError(fmt.Errorf("failed to allocate revision: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, rev, origin) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			rev = excluded.rev,
			origin = excluded.origin`,
		key, value, rev, s.origin); err != nil {
		return mapSQLiteError(fmt.Errorf("failed to write %q: %w", key, err))
	}

	if err := tx.Commit(); err != nil {
		return mapSQLiteError(fmt.Errorf("failed to commit %q: %w", key, err))
	}

	s.revisions[key] = revision{rev: rev, origin: s.origin}
	return nil
}

// Delete removes a value by key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	delete(s.revisions, key)
	return nil
}

// Clear removes all entries.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	s.revisions = make(map[string]revision)
	return nil
}

// Subscribe reports writes committed by other connections.
func (s *SQLiteStore) Subscribe() (<-chan Change, func()) {
	return s.hub.subscribe()
}

// Close stops change detection and closes the database.
func (s *SQLiteStore) Close() error {
	var dbErr error
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
		s.hub.close()
		dbErr = s.db.Close()
	})
	return dbErr
}

func (s *SQLiteStore) run(ctx context.Context, interval time.Duration) {
	defer s.waitGroup.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.poll(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("change detection failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

type revision struct {
	rev    int64
	origin string
}

// poll publishes the difference between the stored revisions and the snapshot.
func (s *SQLiteStore) poll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.queryDataVersion(ctx)
	if err != nil {
		return err
	}
	if version == s.dataVersion {
		return nil
	}
	s.dataVersion = version

	current, err := s.queryRevisions(ctx)
	if err != nil {
		return err
	}

	var changed []string
	for key, r := range current {
		if known, ok := s.revisions[key]; ok && known == r {
			continue
		}
		s.revisions[key] = r
		if r.origin != s.origin {
			changed = append(changed, key)
		}
	}
	for key := range s.revisions {
		if _, ok := current[key]; !ok {
			delete(s.revisions, key)
			s.hub.publish(Change{Key: key, Deleted: true})
		}
	}

	for _, key := range changed {
		var value []byte
		err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
		if err == sql.ErrNoRows {
			delete(s.revisions, key)
			s.hub.publish(Change{Key: key, Deleted: true})
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read changed key %q: %w", key, err)
		}
		s.hub.publish(Change{Key: key, Value: value})
	}
	return nil
}

func (s *SQLiteStore) queryDataVersion(ctx context.Context) (int64, error) {
	var version int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read data_version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) queryRevisions(ctx context.Context) (map[string]revision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, rev, origin FROM kv`)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]revision)
	for rows.Next() {
		var key string
		var r revision
		if err := rows.Scan(&key, &r.rev, &r.origin); err != nil {
			return nil, err
		}
		out[key] = r
	}
	return out, rows.Err()
}

// mapSQLiteError turns a full database into ErrQuotaExceeded.
func mapSQLiteError(err error) error {
	if err != nil && strings.Contains(err.Error(), "database or disk is full") {
		return ErrQuotaExceeded
	}
	return err
}

var _ Store = (*SQLiteStore)(nil)
