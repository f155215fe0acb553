package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"payndeliver-cart/internal/model"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// MySQLCartRepository implements CartRepository using MySQL.
type MySQLCartRepository struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenMySQLCartRepository connects to MySQL and creates the carts table.
// The DSN must set parseTime=true.
func OpenMySQLCartRepository(ctx context.Context, dsn string, log *zap.Logger) (*MySQLCartRepository, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS carts (
		user_id VARCHAR(191) NOT NULL PRIMARY KEY,
		products JSON NOT NULL,
		total DECIMAL(20,6) NOT NULL DEFAULT 0,
		updated_at DATETIME(3) NOT NULL,
		INDEX idx_carts_updated_at (updated_at)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	r := NewMySQLCartRepository(db, log)
	r.log.Info("initialized", zap.String("addr", cfg.Addr), zap.String("db", cfg.DBName))
	return r, nil
}

// NewMySQLCartRepository creates a new MySQL cart repository.
func NewMySQLCartRepository(db *sql.DB, log *zap.Logger) *MySQLCartRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &MySQLCartRepository{db: db, log: log.Named("mysql-carts")}
}

const mysqlUpsertCart = `
	INSERT INTO carts (user_id, products, total, updated_at)
	VALUES (?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		products = VALUES(products),
		total = VALUES(total),
		updated_at = VALUES(updated_at)`

// GetCart retrieves a cart by user ID.
func (r *MySQLCartRepository) GetCart(ctx context.Context, userID string) (*model.Cart, error) {
	query := `SELECT products, updated_at FROM carts WHERE user_id = ? LIMIT 1`

	var rawProducts []byte
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&rawProducts, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	cart, err := buildCart(userID, rawProducts)
	if err != nil {
		return nil, err
	}
	cart.UpdatedAt = updatedAt.UTC()
	return cart, nil
}

// UpsertCart creates or replaces a cart.
func (r *MySQLCartRepository) UpsertCart(ctx context.Context, cart *model.Cart) error {
	products, err := encodeProducts(cart.Products)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, mysqlUpsertCart,
		cart.UserID, string(products), model.Total(cart.Products).String(), cart.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert cart: %w", err)
	}
	return nil
}

// BatchUpsertCarts creates or replaces several carts in one transaction.
func (r *MySQLCartRepository) BatchUpsertCarts(ctx context.Context, carts []*model.Cart) error {
	if len(carts) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, cart := range carts {
		products, err := encodeProducts(cart.Products)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, mysqlUpsertCart,
			cart.UserID, string(products), model.Total(cart.Products).String(), cart.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to batch upsert cart %s: %w", cart.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteCart removes a cart.
func (r *MySQLCartRepository) DeleteCart(ctx context.Context, userID string) (bool, error) {
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
func (r *MySQLCartRepository) DeleteInactiveCarts(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold).UTC()

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
func (r *MySQLCartRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM carts").Scan(&count); err != nil {
		return nil, err
	}
	stats["total_carts"] = count

	var lastUpdate sql.NullTime
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM carts").Scan(&lastUpdate); err == nil && lastUpdate.Valid {
		stats["last_update"] = lastUpdate.Time
	}

	dbStats := r.db.Stats()
	stats["connections"] = map[string]interface{}{
		"open":     dbStats.OpenConnections,
		"in_use":   dbStats.InUse,
		"idle":     dbStats.Idle,
		"max_open": dbStats.MaxOpenConnections,
	}
	return stats, nil
}

// Ping checks the database connection.
func (r *MySQLCartRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection pool.
func (r *MySQLCartRepository) Close() error {
	return r.db.Close()
}

var _ CartRepository = (*MySQLCartRepository)(nil)
