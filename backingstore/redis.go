package backingstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const bindingTransitionsTopic = "bindings:transitions"

// RedisBindingStore implements BindingStore against a Redis hash keyed by
// binding name, with a pub/sub topic used to fan out rewrites so other
// nodes can decache their local copy.
type RedisBindingStore struct {
	client *redis.Client
}

// NewRedisBindingStore connects to addr/db and verifies the connection
// with a ping before returning.
func NewRedisBindingStore(addr, password string, db int) (*RedisBindingStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisBindingStore{client: client}, nil
}

// Close closes the underlying client.
func (s *RedisBindingStore) Close() error {
	return s.client.Close()
}

func (s *RedisBindingStore) Fetch(ctx context.Context, name string) (*BindingRecord, error) {
	objectID, err := s.client.HGet(ctx, "bindings", name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &BindingRecord{ObjectID: objectID}, nil
}

func (s *RedisBindingStore) Flush(ctx context.Context, name string, rec *BindingRecord) error {
	if err := s.client.HSet(ctx, "bindings", name, rec.ObjectID).Err(); err != nil {
		return err
	}
	return s.client.Publish(ctx, bindingTransitionsTopic, name).Err()
}

// Subscribe returns a channel of binding names rewritten by other nodes.
// The returned channel is closed once ctx is done or the subscription
// breaks; callers should treat closure as "resubscribe if still needed".
func (s *RedisBindingStore) Subscribe(ctx context.Context) (<-chan string, error) {
	pubsub := s.client.Subscribe(ctx, bindingTransitionsTopic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
