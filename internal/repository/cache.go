package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rinario-studio/inboxd/pkg/constant"
)

// Cache holds the denormalizations that sit in front of the shard
// cluster: the per-conversation participant list and the per-user
// unread-conversation counter.
type Cache interface {
	GetParticipants(ctx context.Context, conversationID int64) []int64
	SetParticipants(ctx context.Context, conversationID int64, ids []int64)
	InvalidateParticipants(ctx context.Context, conversationID int64)
	IncrUnread(ctx context.Context, userID int64)
	DecrUnread(ctx context.Context, userID int64)
	GetUnread(ctx context.Context, userID int64) int64
}

// redisCache is the redis-backed Cache. Every method tolerates a nil
// client so tests can run without redis; misses fall through to the
// database.
type redisCache struct {
	rdb *redis.Client
}

// NewCache creates a new Cache
func NewCache(rdb *redis.Client) Cache {
	return &redisCache{rdb: rdb}
}

const participantsTTL = 12 * time.Hour

// GetParticipants returns the cached participant user ids, or nil on miss.
func (c *redisCache) GetParticipants(ctx context.Context, conversationID int64) []int64 {
	if c.rdb == nil {
		return nil
	}
	key := fmt.Sprintf(constant.RedisKeyParticipants(), conversationID)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}

// SetParticipants caches the participant user ids for a conversation.
func (c *redisCache) SetParticipants(ctx context.Context, conversationID int64, ids []int64) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	key := fmt.Sprintf(constant.RedisKeyParticipants(), conversationID)
	c.rdb.Set(ctx, key, raw, participantsTTL)
}

// InvalidateParticipants drops the cached participant list. Called
// whenever the recipient set changes.
func (c *redisCache) InvalidateParticipants(ctx context.Context, conversationID int64) {
	if c.rdb == nil {
		return
	}
	key := fmt.Sprintf(constant.RedisKeyParticipants(), conversationID)
	c.rdb.Del(ctx, key)
}

// IncrUnread bumps the user's unread-conversations counter.
func (c *redisCache) IncrUnread(ctx context.Context, userID int64) {
	if c.rdb == nil {
		return
	}
	key := fmt.Sprintf(constant.RedisKeyUnreadCount(), userID)
	c.rdb.Incr(ctx, key)
}

// DecrUnread lowers the counter, clamping at zero.
func (c *redisCache) DecrUnread(ctx context.Context, userID int64) {
	if c.rdb == nil {
		return
	}
	key := fmt.Sprintf(constant.RedisKeyUnreadCount(), userID)
	if n, err := c.rdb.Decr(ctx, key).Result(); err == nil && n < 0 {
		c.rdb.Set(ctx, key, 0, 0)
	}
}

// GetUnread reads the user's unread-conversations counter.
func (c *redisCache) GetUnread(ctx context.Context, userID int64) int64 {
	if c.rdb == nil {
		return 0
	}
	key := fmt.Sprintf(constant.RedisKeyUnreadCount(), userID)
	n, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		return 0
	}
	return n
}
