package service

import (
	"context"
	"fmt"

	"payndeliver-cart/internal/cache"
	"payndeliver-cart/internal/model"
	"payndeliver-cart/internal/repository"

	"go.uber.org/zap"
)

// CartService handles cart business logic.
type CartService struct {
	repo   repository.CartRepository
	buffer *cache.RedisCartBuffer
	log    *zap.Logger
}

// NewCartService creates a new cart service.
// Returns nil if repo is nil (required dependency).
func NewCartService(repo repository.CartRepository, log *zap.Logger) *CartService {
	if repo == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CartService{repo: repo, log: log.Named("cart-service")}
}

// SetBuffer enables write-behind caching through buffer.
func (s *CartService) SetBuffer(buffer *cache.RedisCartBuffer) {
	s.buffer = buffer
}

// GetCart retrieves a cart. Checks the Redis buffer first, then the database.
// Returns nil, nil if the user has no cart.
func (s *CartService) GetCart(ctx context.Context, userID string) (*model.Cart, error) {
	if s.buffer != nil {
		c, err := s.buffer.Get(ctx, userID)
		if err != nil {
			s.log.Warn("buffer read failed, falling back to database", zap.String("user_id", userID), zap.Error(err))
		} else if c != nil {
			return c, nil
		}
	}
	return s.repo.GetCart(ctx, userID)
}

// SaveCart replaces the cart of userID with products, which must already be
// normalized. If the buffer is set the write goes to Redis first.
func (s *CartService) SaveCart(ctx context.Context, userID string, products []model.LineItem) (*model.Cart, error) {
	c := model.NewCart(userID, products)

	if s.buffer != nil {
		err := s.buffer.Add(ctx, c)
		if err == nil {
			return c, nil
		}
		s.log.Warn("buffer write failed, writing through", zap.String("user_id", userID), zap.Error(err))
	}

	if err := s.repo.UpsertCart(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCart removes a cart from the buffer and the database.
// Reports whether a cart existed in either.
func (s *CartService) DeleteCart(ctx context.Context, userID string) (bool, error) {
	buffered := false
	if s.buffer != nil {
		c, err := s.buffer.Get(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("failed to read buffered cart: %w", err)
		}
		buffered = c != nil
		if err := s.buffer.Remove(ctx, userID); err != nil {
			return false, fmt.Errorf("failed to remove buffered cart: %w", err)
		}
	}

	deleted, err := s.repo.DeleteCart(ctx, userID)
	if err != nil {
		return false, err
	}
	return deleted || buffered, nil
}

// Stats returns repository statistics plus the buffer backlog.
func (s *CartService) Stats(ctx context.Context) (map[string]interface{}, error) {
	stats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	if s.buffer != nil {
		if pending, err := s.buffer.Count(ctx); err == nil {
			stats["buffer_pending"] = pending
		}
	}
	return stats, nil
}

// Ping checks the repository connection.
func (s *CartService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// CreateFlushFunc creates a flush function for the Redis buffer.
func CreateFlushFunc(repo repository.CartRepository) cache.FlushFunc {
	return func(ctx context.Context, carts []*model.Cart) error {
		return repo.BatchUpsertCarts(ctx, carts)
	}
}
