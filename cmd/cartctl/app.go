package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"payndeliver-cart/internal/cache"
	"payndeliver-cart/internal/cart"
	"payndeliver-cart/internal/client"
	"payndeliver-cart/internal/config"
	"payndeliver-cart/internal/logger"
	"payndeliver-cart/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// identityKey is the cache key holding the signed-in user ID. It shares the
// cart's store and is kept when a full store is purged.
const identityKey = "identity"

// flushTimeout bounds how long a command waits for queued pushes on exit.
const flushTimeout = 30 * time.Second

// app is the wiring shared by every command.
type app struct {
	log     *zap.Logger
	store   cache.Store
	redis   *redis.Client
	cache   *cache.Persistent
	cart    *cart.Store
	changes chan []model.LineItem
}

// options are the root flags layered over the environment config.
type options struct {
	logLevel  string
	storeType string
	storePath string
	server    string
	apiKey    string
}

func (o *options) apply(cfg *config.Config) {
	if o.logLevel != "" {
		cfg.App.LogLevel = o.logLevel
	}
	if o.storeType != "" {
		cfg.Store.Type = o.storeType
	}
	if o.storePath != "" {
		cfg.Store.Path = o.storePath
	}
	if o.server != "" {
		cfg.Sync.BaseURL = o.server
	}
	if o.apiKey != "" {
		cfg.Sync.APIKey = o.apiKey
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.Must(cfg.App.Environment, cfg.App.LogLevel)
	a := &app{log: log, changes: make(chan []model.LineItem, 16)}

	store, err := a.openStore(ctx, &cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.cache = cache.NewPersistent(a.store, log).Preserve(identityKey)

	var syncer cart.Syncer
	if cfg.Sync.BaseURL != "" && cfg.Sync.BaseURL != "none" {
		c, err := client.New(cfg.Sync.BaseURL,
			client.WithTimeout(cfg.Sync.Timeout),
			client.WithAPIKey(cfg.Sync.APIKey),
			client.WithLogger(log))
		if err != nil {
			a.closeStore()
			return nil, errors.Wrap(err, "invalid sync server")
		}
		syncer = c
	}

	a.cart = cart.New(a.cache, syncer,
		cart.WithLogger(log),
		cart.WithOnChange(func(items []model.LineItem) {
			select {
			case a.changes <- items:
			default:
			}
		}))
	return a, nil
}

// openStore returns the configured durable store, or nil for "none".
func (a *app) openStore(ctx context.Context, cfg *config.StoreConfig) (cache.Store, error) {
	switch cfg.Type {
	case "none", "":
		a.log.Debug("running without a durable store")
		return nil, nil
	case "memory":
		return cache.NewMemoryStore(cfg.QuotaBytes), nil
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s, err := cache.NewRedisStore(ctx, a.redis, cfg.RedisPrefix, a.log)
		if err != nil {
			a.redis.Close()
			return nil, errors.Wrap(err, "failed to open redis store")
		}
		return s, nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, "failed to create %s", dir)
			}
		}
		s, err := cache.NewSQLiteStore(ctx, cfg.Path, cfg.QuotaBytes, cfg.PollInterval, a.log)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open sqlite store")
		}
		return s, nil
	default:
		return nil, errors.Newf("unknown store type %q", cfg.Type)
	}
}

// restoreIdentity re-applies the persisted sign-in, replacing the local items
// with the server cart.
func (a *app) restoreIdentity(ctx context.Context) {
	userID := cache.Read(ctx, a.cache, identityKey, "")
	if userID == "" {
		return
	}
	if err := a.cart.SetIdentity(ctx, userID); err != nil {
		a.log.Debug("identity restore interrupted", zap.Error(err))
	}
}

// login persists userID and loads its server cart. A failed fetch keeps the
// local items and is reported through the cart's LastError.
func (a *app) login(ctx context.Context, userID string) {
	a.cache.Write(ctx, identityKey, userID)
	if err := a.cart.SetIdentity(ctx, userID); err != nil {
		a.log.Debug("sign-in fetch failed", zap.Error(err))
	}
}

func (a *app) logout(ctx context.Context) {
	a.cache.Remove(ctx, identityKey)
	_ = a.cart.SetIdentity(ctx, "")
}

// close waits for queued pushes then releases everything.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	var result error
	if err := a.cart.Flush(ctx); err != nil {
		result = errors.Wrap(err, "pending cart sync did not finish")
	}
	a.cart.Close()
	a.closeStore()
	a.log.Sync()
	return result
}

func (a *app) closeStore() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func describe(s *cart.Store) string {
	if id := s.UserID(); id != "" {
		return fmt.Sprintf("%s (%s)", s.State(), id)
	}
	return s.State().String()
}
