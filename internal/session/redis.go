package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "doctrack:session:"
	redisIndexKey      = "doctrack:sessions"
	redisUpdateRetries = 5
)

// RedisBackend stores sessions as JSON documents in Redis. Keys expire after ttl so
// abandoned records never outlive the retention window.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend returns a Redis-backed session store.
func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

// Insert writes s unless the id already exists.
func (b *RedisBackend) Insert(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	ok, err := b.client.SetNX(ctx, b.key(s.ID), data, b.ttl).Result()
	if err != nil {
		return fmt.Errorf("session: redis insert: %w", err)
	}
	if !ok {
		return ErrDuplicateID
	}
	if err := b.client.SAdd(ctx, redisIndexKey, s.ID).Err(); err != nil {
		return fmt.Errorf("session: redis index: %w", err)
	}
	return nil
}

// Get loads the session.
func (b *RedisBackend) Get(ctx context.Context, id string) (*Session, error) {
	payload, err := b.client.Get(ctx, b.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	return decodeSession(payload)
}

// Update applies fn inside a WATCH/MULTI transaction, retrying when another writer
// touched the key first.
func (b *RedisBackend) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	key := b.key(id)
	var updated *Session
	txf := func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		sess, err := decodeSession(payload)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("session: encode: %w", err)
		}
		ttl, err := tx.PTTL(ctx, key).Result()
		if err != nil {
			return err
		}
		if ttl < 0 {
			ttl = 0
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		if err == nil {
			updated = sess
		}
		return err
	}

	for i := 0; i < redisUpdateRetries; i++ {
		err := b.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("session: redis update %s: too much contention", id)
}

// Delete removes the session and its index entry.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	removed, err := b.client.Del(ctx, b.key(id)).Result()
	if err != nil {
		return fmt.Errorf("session: redis delete: %w", err)
	}
	if err := b.client.SRem(ctx, redisIndexKey, id).Err(); err != nil {
		return fmt.Errorf("session: redis index: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// IDs lists indexed ids. Entries whose key already expired are dropped from the index.
func (b *RedisBackend) IDs(ctx context.Context) ([]string, error) {
	ids, err := b.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("session: redis index: %w", err)
	}
	live := ids[:0]
	for _, id := range ids {
		n, err := b.client.Exists(ctx, b.key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("session: redis exists: %w", err)
		}
		if n == 0 {
			_ = b.client.SRem(ctx, redisIndexKey, id).Err()
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

func (b *RedisBackend) key(id string) string {
	return redisKeyPrefix + id
}

func decodeSession(payload []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &s, nil
}

var _ Backend = (*RedisBackend)(nil)
