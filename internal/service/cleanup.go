package service

import (
	"context"
	"sync"
	"time"

	"payndeliver-cart/internal/repository"

	"go.uber.org/zap"
)

// CleanupConfig holds configuration for the cleanup scheduler.
type CleanupConfig struct {
	// InactiveThreshold is the age after which an untouched cart is deleted.
	// Default: 30 days
	InactiveThreshold time.Duration

	// CleanupInterval is how often the cleanup runs.
	// Default: 24 hours
	CleanupInterval time.Duration

	// StartupDelay postpones the first run after Start.
	// Default: 1 minute
	StartupDelay time.Duration
}

// DefaultCleanupConfig returns default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		InactiveThreshold: 30 * 24 * time.Hour,
		CleanupInterval:   24 * time.Hour,
		StartupDelay:      time.Minute,
	}
}

// CleanupScheduler periodically deletes abandoned carts.
type CleanupScheduler struct {
	repo      repository.CartRepository
	config    CleanupConfig
	log       *zap.Logger
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.Mutex
}

// NewCleanupScheduler creates a new cleanup scheduler.
func NewCleanupScheduler(repo repository.CartRepository, config CleanupConfig, log *zap.Logger) *CleanupScheduler {
	defaults := DefaultCleanupConfig()
	if config.InactiveThreshold == 0 {
		config.InactiveThreshold = defaults.InactiveThreshold
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.StartupDelay == 0 {
		config.StartupDelay = defaults.StartupDelay
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &CleanupScheduler{
		repo:   repo,
		config: config,
		log:    log.Named("cleanup"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the cleanup scheduler.
func (s *CleanupScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.CleanupInterval)
	s.mu.Unlock()

	s.log.Info("started",
		zap.Duration("interval", s.config.CleanupInterval),
		zap.Duration("threshold", s.config.InactiveThreshold))

	s.wg.Add(1)
	go s.run()
}

// run is the main cleanup loop.
func (s *CleanupScheduler) run() {
	defer s.wg.Done()

	startup := time.NewTimer(s.config.StartupDelay)
	defer startup.Stop()

	for {
		select {
		case <-startup.C:
			s.runCleanup()
		case <-s.ticker.C:
			s.runCleanup()
		case <-s.stopCh:
			s.log.Info("stopped")
			return
		}
	}
}

// runCleanup performs the actual cleanup.
func (s *CleanupScheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := s.repo.DeleteInactiveCarts(ctx, s.config.InactiveThreshold)
	if err != nil {
		s.log.Error("cleanup failed", zap.Error(err))
		return
	}

	if deleted > 0 {
		s.log.Info("cleaned up abandoned carts", zap.Int64("deleted", deleted))
	} else {
		s.log.Debug("no abandoned carts to clean up")
	}
}

// Stop stops the cleanup scheduler and waits for a running cleanup to end.
func (s *CleanupScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// RunNow triggers an immediate cleanup run.
func (s *CleanupScheduler) RunNow(ctx context.Context) (int64, error) {
	return s.repo.DeleteInactiveCarts(ctx, s.config.InactiveThreshold)
}
