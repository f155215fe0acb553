package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"payndeliver-cart/internal/model"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteCartRepository implements CartRepository using SQLite.
// Thread-safe with WAL mode for concurrent reads.
type SQLiteCartRepository struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *zap.Logger
}

// NewSQLiteCartRepository creates a new SQLite cart repository.
// dbPath is the path to the SQLite database file (e.g., "./data/carts.db")
func NewSQLiteCartRepository(dbPath string, log *zap.Logger) (*SQLiteCartRepository, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports 1 writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log = log.Named("sqlite-carts")
	log.Info("initialized", zap.String("path", dbPath))
	return &SQLiteCartRepository{db: db, log: log}, nil
}

// createSQLiteTables creates the carts table. updated_at holds unix milliseconds.
func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS carts (
		user_id TEXT PRIMARY KEY,
		products_json TEXT NOT NULL,
		total TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_carts_updated_at ON carts(updated_at);
	`
	_, err := db.Exec(query)
	return err
}

const sqliteUpsertCart = `
	INSERT INTO carts (user_id, products_json, total, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		products_json = excluded.products_json,
		total = excluded.total,
		updated_at = excluded.updated_at`

// GetCart retrieves a cart by user ID.
func (r *SQLiteCartRepository) GetCart(ctx context.Context, userID string) (*model.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var rawProducts string
	var updatedAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT products_json, updated_at FROM carts WHERE user_id = ?`, userID,
	).Scan(&rawProducts, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	cart, err := buildCart(userID, []byte(rawProducts))
	if err != nil {
		return nil, err
	}
	cart.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return cart, nil
}

// UpsertCart creates or replaces a cart.
func (r *SQLiteCartRepository) UpsertCart(ctx context.Context, cart *model.Cart) error {
	products, err := encodeProducts(cart.Products)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.ExecContext(ctx, sqliteUpsertCart,
		cart.UserID, string(products), model.Total(cart.Products).String(), cart.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

// BatchUpsertCarts creates or replaces several carts in one transaction.
func (r *SQLiteCartRepository) BatchUpsertCarts(ctx context.Context, carts []*model.Cart) error {
	if len(carts) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertCart)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, cart := range carts {
		products, err := encodeProducts(cart.Products)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			cart.UserID, string(products), model.Total(cart.Products).String(), cart.UpdatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to batch upsert cart %s: %w", cart.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteCart removes a cart.
func (r *SQLiteCartRepository) DeleteCart(ctx context.Context, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete cart: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteInactiveCarts deletes carts that haven't been updated within the threshold.
func (r *SQLiteCartRepository) DeleteInactiveCarts(ctx context.Context, threshold time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-threshold).UnixMilli()
	result, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete inactive carts: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.log.Info("cleaned up inactive carts", zap.Int64("deleted", deleted), zap.Duration("threshold", threshold))
	}
	return deleted, nil
}

// GetStats returns statistics about the cart database.
func (r *SQLiteCartRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]interface{})

	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM carts").Scan(&count); err != nil {
		return nil, err
	}
	stats["total_carts"] = count

	var lastUpdate sql.NullInt64
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM carts").Scan(&lastUpdate); err == nil && lastUpdate.Valid {
		stats["last_update"] = time.UnixMilli(lastUpdate.Int64).UTC()
	}

	// Database file size (approximate from page count)
	var pageCount, pageSize int64
	r.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	r.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats["db_size_bytes"] = pageCount * pageSize

	return stats, nil
}

// Ping checks the database connection.
func (r *SQLiteCartRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLiteCartRepository) Close() error {
	return r.db.Close()
}

var _ CartRepository = (*SQLiteCartRepository)(nil)
