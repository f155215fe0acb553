package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"payndeliver-cart/pkg/uid"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps entries in one Redis hash and announces writes on a pub/sub
// channel so other instances sharing the prefix can refresh.
// The caller owns the redis.Client lifecycle.
type RedisStore struct {
	client *redis.Client
	prefix string
	origin string
	log    *zap.Logger
	hub    *hub
	pubsub *redis.PubSub

	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
}

// redisChange is the pub/sub message body.
type redisChange struct {
	Origin  string `json:"origin"`
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// NewRedisStore creates a store under prefix and subscribes to its change channel.
func NewRedisStore(ctx context.Context, client *redis.Client, prefix string, log *zap.Logger) (*RedisStore, error) {
	if prefix == "" {
		prefix = "payndeliver:local"
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &RedisStore{
		client: client,
		prefix: prefix,
		origin: uid.New(),
		log:    log.Named("redis-store"),
		hub:    newHub(),
	}

	s.pubsub = client.Subscribe(ctx, s.channel())
	// Wait for the subscription to be confirmed so no change is missed.
	if _, err := s.pubsub.Receive(ctx); err != nil {
		s.pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel(), err)
	}

	childCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.waitGroup.Add(1)
	go s.listen(childCtx)

	return s, nil
}

func (s *RedisStore) hashKey() string {
	return s.prefix + ":kv"
}

func (s *RedisStore) channel() string {
	return s.prefix + ":changes"
}

// Get retrieves a value by key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.HGet(ctx, s.hashKey(), key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, mapRedisError(err)
	}
	return data, nil
}

// Set stores a value and publishes the change.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	msg, err := json.Marshal(redisChange{Origin: s.origin, Key: key, Value: value})
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.hashKey(), key, value)
	pipe.Publish(ctx, s.channel(), msg)
	_, err = pipe.Exec(ctx)
	return mapRedisError(err)
}

// Delete removes a value by key and publishes the change.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	msg, err := json.Marshal(redisChange{Origin: s.origin, Key: key, Deleted: true})
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.hashKey(), key)
	pipe.Publish(ctx, s.channel(), msg)
	_, err = pipe.Exec(ctx)
	return mapRedisError(err)
}

// Clear removes every entry, publishing one deletion per key.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.client.HKeys(ctx, s.hashKey()).Result()
	if err != nil {
		return mapRedisError(err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.hashKey())
	for _, key := range keys {
		msg, err := json.Marshal(redisChange{Origin: s.origin, Key: key, Deleted: true})
		if err != nil {
			return err
		}
		pipe.Publish(ctx, s.channel(), msg)
	}
	_, err = pipe.Exec(ctx)
	return mapRedisError(err)
}

// Subscribe reports writes published by other instances.
func (s *RedisStore) Subscribe() (<-chan Change, func()) {
	return s.hub.subscribe()
}

// Close ends the pub/sub subscription. The redis client stays open.
func (s *RedisStore) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
		s.waitGroup.Wait()
		s.hub.close()
	})
	return err
}

func (s *RedisStore) listen(ctx context.Context) {
	defer s.waitGroup.Done()

	messages := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var change redisChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.log.Warn("dropping malformed change message", zap.Error(err))
				continue
			}
			if change.Origin == s.origin {
				continue
			}
			s.hub.publish(Change{Key: change.Key, Value: change.Value, Deleted: change.Deleted})
		case <-ctx.Done():
			return
		}
	}
}

// mapRedisError turns Redis out-of-memory replies into ErrQuotaExceeded.
func mapRedisError(err error) error {
	if err != nil && strings.Contains(err.Error(), "OOM") {
		return ErrQuotaExceeded
	}
	return err
}

var _ Store = (*RedisStore)(nil)
