// Package cart holds the client-side cart state and mirrors it to the cart
// server. Local state is authoritative for the active session; the server
// copy is overwritten wholesale on every mutation made while signed in.
package cart

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"payndeliver-cart/internal/cache"
	"payndeliver-cart/internal/client"
	"payndeliver-cart/internal/middleware"
	"payndeliver-cart/internal/model"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CacheKey is the durable cache key holding the item list.
const CacheKey = "cart"

// Messages shown through LastError.
const (
	MsgFetchFailed = "failed to load cart"
	MsgSyncFailed  = "cart sync failed"
)

// Syncer is the server side of the cart. *client.CartClient implements it.
// Fetch reports a missing record with an error matching client.ErrNotFound.
type Syncer interface {
	Fetch(ctx context.Context, userID string) (*model.Cart, error)
	Push(ctx context.Context, userID string, items []model.LineItem) (*model.Cart, error)
}

// State is the coarse identity state of a cart.
type State int

const (
	StateAnonymous State = iota
	StateIdentified
)

func (s State) String() string {
	if s == StateIdentified {
		return "identified"
	}
	return "anonymous"
}

// Store is the single mutator of one cart. It is safe for concurrent use;
// mutations are applied in the order their calls acquire the store.
type Store struct {
	cache       *cache.Persistent
	syncer      Syncer
	log         *zap.Logger
	pushTimeout time.Duration
	onChange    func([]model.LineItem)

	mu          sync.Mutex
	items       []model.LineItem
	userID      string
	lastErr     string
	fetchGen    uint64
	cancelFetch context.CancelFunc

	queue *pushQueue

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithPushTimeout bounds each server push. Defaults to 15s.
func WithPushTimeout(d time.Duration) Option {
	return func(s *Store) { s.pushTimeout = d }
}

// WithOnChange registers fn to receive a snapshot after every change to the
// items, whether local, fetched or made by another store sharing the cache.
func WithOnChange(fn func(items []model.LineItem)) Option {
	return func(s *Store) { s.onChange = fn }
}

// New creates an anonymous store holding whatever cart the cache has.
// syncer may be nil, in which case the store never talks to a server.
func New(c *cache.Persistent, syncer Syncer, opts ...Option) *Store {
	s := &Store{
		cache:       c,
		syncer:      syncer,
		log:         zap.NewNop(),
		pushTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("cart")
	s.ctx, s.cancel = context.WithCancel(context.Background())

	stored := cache.Read(context.Background(), c, CacheKey, []model.LineItem{})
	items, problems := model.NormalizeItems(stored)
	if len(problems) > 0 {
		s.log.Warn("dropped invalid cached items", zap.Int("count", len(problems)))
	}
	s.items = items

	s.queue = newPushQueue(s.push)
	return s
}

// Items returns a copy of the current items in insertion order.
func (s *Store) Items() []model.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneItems(s.items)
}

// Total returns the sum of price * quantity over the current items.
func (s *Store) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Total(s.items)
}

// Snapshot returns the cart as a record owned by the current identity.
func (s *Store) Snapshot() *model.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.NewCart(s.userID, model.CloneItems(s.items))
}

// UserID returns the current identity, empty when anonymous.
func (s *Store) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// State reports whether the cart belongs to a signed-in user.
func (s *Store) State() State {
	if s.UserID() == "" {
		return StateAnonymous
	}
	return StateIdentified
}

// LastError returns the message of the most recent failure, or "".
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// DismissError clears LastError.
func (s *Store) DismissError() {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
}

// AddItem increments the quantity of the line with item's ID, or appends item
// with quantity 1. Items with an empty ID or a negative price are ignored.
func (s *Store) AddItem(item model.LineItem) []model.LineItem {
	item.Quantity = 1
	valid, problems := model.NormalizeItems([]model.LineItem{item})
	if len(problems) > 0 {
		s.log.Warn("ignoring invalid item",
			zap.String("id", item.ID),
			zap.String("field", problems[0].Field),
			zap.String("reason", problems[0].Message))
		return s.Items()
	}
	item = valid[0]

	return s.mutate(true, func(items []model.LineItem) []model.LineItem {
		for i := range items {
			if items[i].ID == item.ID {
				items[i].Quantity++
				return items
			}
		}
		return append(items, item)
	})
}

// RemoveItem removes the line with id. Removing an absent id changes nothing.
func (s *Store) RemoveItem(id string) []model.LineItem {
	return s.mutate(true, func(items []model.LineItem) []model.LineItem {
		out := items[:0]
		for _, item := range items {
			if item.ID != id {
				out = append(out, item)
			}
		}
		return out
	})
}

// UpdateQuantity sets the quantity of the line with id. A quantity below 1
// removes the line.
func (s *Store) UpdateQuantity(id string, quantity int) []model.LineItem {
	if quantity < 1 {
		return s.RemoveItem(id)
	}
	return s.mutate(true, func(items []model.LineItem) []model.LineItem {
		for i := range items {
			if items[i].ID == id {
				items[i].Quantity = quantity
			}
		}
		return items
	})
}

// Clear empties the cart.
func (s *Store) Clear() []model.LineItem {
	return s.mutate(true, func([]model.LineItem) []model.LineItem {
		return []model.LineItem{}
	})
}

// mutate applies fn to a copy of the items, writes the result through to the
// cache and, when push is set and a user is signed in, queues a server push.
func (s *Store) mutate(push bool, fn func([]model.LineItem) []model.LineItem) []model.LineItem {
	s.mu.Lock()
	next := fn(model.CloneItems(s.items))
	if next == nil {
		next = []model.LineItem{}
	}
	s.items = next
	snapshot := model.CloneItems(next)
	s.cache.Write(context.Background(), CacheKey, snapshot)
	if push && s.userID != "" && s.syncer != nil {
		s.queue.enqueue(pushJob{userID: s.userID, items: model.CloneItems(snapshot)})
	}
	s.mu.Unlock()

	s.changed(snapshot)
	return snapshot
}

func (s *Store) changed(items []model.LineItem) {
	if s.onChange != nil {
		s.onChange(model.CloneItems(items))
	}
}

// SetIdentity moves the cart between the anonymous and identified states.
// Signing in, or switching users, replaces the items with the server's cart.
// Signing out empties the local cart and leaves the server record alone.
// Setting the current identity again does nothing.
func (s *Store) SetIdentity(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.userID == userID {
		s.mu.Unlock()
		return nil
	}
	previous := s.userID
	s.userID = userID
	s.fetchGen++
	gen := s.fetchGen
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.mu.Unlock()

	s.log.Info("identity changed",
		zap.Bool("was_identified", previous != ""),
		zap.Bool("identified", userID != ""))

	// The previous user's items never carry over to another identity, even
	// when the new user's fetch misses or fails.
	if previous != "" || userID == "" {
		s.mutate(false, func([]model.LineItem) []model.LineItem {
			return []model.LineItem{}
		})
	}
	if userID == "" {
		return nil
	}
	return s.fetch(ctx, userID, gen)
}

// FetchFromServer replaces the items with the server's cart for the current
// identity. It does nothing while anonymous.
// A missing server record leaves the items unchanged and is not an error.
// Any other failure leaves the items unchanged and sets LastError.
func (s *Store) FetchFromServer(ctx context.Context) error {
	s.mu.Lock()
	userID, gen := s.userID, s.fetchGen
	s.mu.Unlock()
	if userID == "" {
		return nil
	}
	return s.fetch(ctx, userID, gen)
}

func (s *Store) fetch(ctx context.Context, userID string, gen uint64) error {
	if s.syncer == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	ctx, requestID := middleware.EnsureRequestID(ctx)

	s.mu.Lock()
	if gen != s.fetchGen {
		s.mu.Unlock()
		return nil
	}
	s.cancelFetch = cancel
	s.mu.Unlock()

	remote, err := s.syncer.Fetch(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, client.ErrNotFound):
			s.log.Info("no server cart, keeping local items")
			return nil
		case ctx.Err() != nil:
			s.log.Debug("cart fetch cancelled", zap.Error(err))
			return ctx.Err()
		}
		s.log.Warn("cart fetch failed",
			zap.String("kind", client.Kind(err)),
			zap.String("request_id", requestID),
			zap.Error(err))
		s.setError(MsgFetchFailed)
		return err
	}

	s.mu.Lock()
	if gen != s.fetchGen {
		s.mu.Unlock()
		s.log.Debug("discarding fetch for a previous identity")
		return nil
	}
	s.cancelFetch = nil
	s.items = model.CloneItems(remote.Products)
	if s.items == nil {
		s.items = []model.LineItem{}
	}
	snapshot := model.CloneItems(s.items)
	s.cache.Write(context.Background(), CacheKey, snapshot)
	s.mu.Unlock()

	s.log.Debug("loaded server cart", zap.Int("items", len(snapshot)))
	s.changed(snapshot)
	return nil
}

func (s *Store) setError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

// push runs on the queue worker. It is never cancelled once started.
func (s *Store) push(job pushJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
	defer cancel()
	ctx, requestID := middleware.EnsureRequestID(ctx)

	if _, err := s.syncer.Push(ctx, job.userID, job.items); err != nil {
		s.log.Warn("cart push failed",
			zap.String("kind", client.Kind(err)),
			zap.String("request_id", requestID),
			zap.Error(err))
		s.setError(MsgSyncFailed)
		return
	}
	s.log.Debug("pushed cart", zap.Int("items", len(job.items)))
}

// Watch applies cart changes written to the cache by other stores until ctx
// is done. It neither writes back to the cache nor pushes to the server.
func (s *Store) Watch(ctx context.Context) {
	s.cache.Watch(ctx, CacheKey, func(raw []byte, deleted bool) {
		items := []model.LineItem{}
		if !deleted {
			var decoded []model.LineItem
			if err := json.Unmarshal(raw, &decoded); err != nil {
				s.log.Warn("ignoring unreadable cart change", zap.Error(err))
				return
			}
			items, _ = model.NormalizeItems(decoded)
		}

		s.mu.Lock()
		s.items = items
		snapshot := model.CloneItems(items)
		s.mu.Unlock()

		s.log.Debug("cart refreshed from another store", zap.Int("items", len(snapshot)))
		s.changed(snapshot)
	})
}

// Flush waits until every queued push has completed or ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	return s.queue.wait(ctx)
}

// Close cancels in-flight fetches and stops the push worker once queued
// pushes have completed.
func (s *Store) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.queue.close()
	})
	return nil
}
