package repository

import (
	"context"
	"time"

	"payndeliver-cart/internal/model"
)

// CartRepository defines cart data access methods.
type CartRepository interface {
	// GetCart retrieves a cart by user ID. Returns nil, nil if none exists.
	GetCart(ctx context.Context, userID string) (*model.Cart, error)

	// UpsertCart creates or replaces the cart of cart.UserID.
	UpsertCart(ctx context.Context, cart *model.Cart) error

	// BatchUpsertCarts creates or replaces several carts at once.
	BatchUpsertCarts(ctx context.Context, carts []*model.Cart) error

	// DeleteCart removes a cart. Reports whether one existed.
	DeleteCart(ctx context.Context, userID string) (bool, error)

	// DeleteInactiveCarts removes carts not updated within threshold.
	DeleteInactiveCarts(ctx context.Context, threshold time.Duration) (int64, error)

	// GetStats returns statistics about the cart database.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the repository connection.
	Close() error
}
