package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/answerdesk/answerdesk/pkg/config"
)

// Cache is the hot session tier. Implementations hold the rolling
// summary, a bounded window of recent messages, and the message
// counter, all expiring together on the session TTL.
type Cache interface {
	// SaveState writes the session state blob and refreshes the TTL.
	SaveState(ctx context.Context, sess *Session) error

	// LoadState reads the session state blob. Returns
	// ErrSessionNotFound when the key is absent or expired.
	LoadState(ctx context.Context, sessionID string) (*Session, error)

	// AppendMessage pushes a message onto the recent window, trims it
	// to the configured size, bumps the message counter, and refreshes
	// all TTLs in one round trip. Returns the new counter value.
	AppendMessage(ctx context.Context, sessionID string, msg Message) (int64, error)

	// RestoreMessages replaces the recent window and sets the message
	// counter to total, for rebuilding an evicted session from the
	// durable log.
	RestoreMessages(ctx context.Context, sessionID string, msgs []Message, total int64) error

	// RecentMessages returns the window, oldest first.
	RecentMessages(ctx context.Context, sessionID string) ([]Message, error)

	// Delete removes all keys for the session.
	Delete(ctx context.Context, sessionID string) error

	// Close releases the connection.
	Close() error
}

// RedisCache implements Cache on Redis. Per-session keys:
//
//	session:<id>   JSON state blob
//	messages:<id>  list of recent messages, newest at the tail
//	msgcount:<id>  total message counter
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	window int
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg *config.CacheConfig, ttl time.Duration, window int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeout)*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	if window <= 0 {
		window = 8
	}

	return &RedisCache{client: client, ttl: ttl, window: window}, nil
}

func (c *RedisCache) stateKey(sessionID string) string {
	return "session:" + sessionID
}

func (c *RedisCache) messagesKey(sessionID string) string {
	return "messages:" + sessionID
}

func (c *RedisCache) countKey(sessionID string) string {
	return "msgcount:" + sessionID
}

// SaveState implements Cache.
func (c *RedisCache) SaveState(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := c.client.Set(ctx, c.stateKey(sess.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session state: %w", err)
	}
	return nil
}

// LoadState implements Cache.
func (c *RedisCache) LoadState(ctx context.Context, sessionID string) (*Session, error) {
	data, err := c.client.Get(ctx, c.stateKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session state: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// AppendMessage implements Cache.
func (c *RedisCache) AppendMessage(ctx context.Context, sessionID string, msg Message) (int64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	msgKey := c.messagesKey(sessionID)
	cntKey := c.countKey(sessionID)

	pipe := c.client.Pipeline()
	pipe.RPush(ctx, msgKey, data)
	pipe.LTrim(ctx, msgKey, int64(-c.window), -1)
	count := pipe.Incr(ctx, cntKey)
	pipe.Expire(ctx, msgKey, c.ttl)
	pipe.Expire(ctx, cntKey, c.ttl)
	pipe.Expire(ctx, c.stateKey(sessionID), c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}
	return count.Val(), nil
}

// RestoreMessages implements Cache.
func (c *RedisCache) RestoreMessages(ctx context.Context, sessionID string, msgs []Message, total int64) error {
	msgKey := c.messagesKey(sessionID)
	cntKey := c.countKey(sessionID)

	pipe := c.client.Pipeline()
	pipe.Del(ctx, msgKey)
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		pipe.RPush(ctx, msgKey, data)
	}
	pipe.LTrim(ctx, msgKey, int64(-c.window), -1)
	pipe.Set(ctx, cntKey, total, c.ttl)
	pipe.Expire(ctx, msgKey, c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to restore messages: %w", err)
	}
	return nil
}

// RecentMessages implements Cache.
func (c *RedisCache) RecentMessages(ctx context.Context, sessionID string) ([]Message, error) {
	items, err := c.client.LRange(ctx, c.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent messages: %w", err)
	}

	messages := make([]Message, 0, len(items))
	for _, item := range items {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Delete implements Cache.
func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	keys := []string{c.stateKey(sessionID), c.messagesKey(sessionID), c.countKey(sessionID)}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session keys: %w", err)
	}
	return nil
}

// Close implements Cache.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ensure interface compliance at compile time.
var _ Cache = (*RedisCache)(nil)
