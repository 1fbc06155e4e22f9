package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 2 * time.Second

// Redis keeps conversation windows in a shared Redis so multiple server
// processes observe the same short-term memory. Every operation falls
// through to a process-local buffer on transport failure, so a dev
// deployment without Redis keeps working.
type Redis struct {
	client   *redis.Client
	local    *Local
	maxSize  int64
	ttl      time.Duration
	keyspace string
}

// NewRedis creates a distributed buffer backed by client, mirroring writes
// into local so reads survive a Redis outage.
func NewRedis(client *redis.Client, maxSize int, ttl time.Duration, local *Local) *Redis {
	if maxSize <= 0 {
		maxSize = 10
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{
		client:   client,
		local:    local,
		maxSize:  int64(maxSize),
		ttl:      ttl,
		keyspace: "reverie:buffer:",
	}
}

func (r *Redis) listKey(conversationID string) string {
	return r.keyspace + conversationID
}

func (r *Redis) summaryKey(conversationID string) string {
	return r.keyspace + conversationID + ":summary"
}

func (r *Redis) Append(ctx context.Context, conversationID, role, content string) []Entry {
	localTrimmed := r.local.Append(ctx, conversationID, role, content)

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	raw, err := json.Marshal(Entry{Role: role, Content: content, Timestamp: time.Now()})
	if err != nil {
		return localTrimmed
	}

	key := r.listKey(conversationID)
	length, err := r.client.RPush(ctx, key, raw).Result()
	if err != nil {
		slog.Warn("buffer append falling back to local", "conversation", conversationID, "err", err)
		return localTrimmed
	}
	r.client.Expire(ctx, key, r.ttl)

	if overflow := length - r.maxSize; overflow > 0 {
		popped, err := r.client.LPopCount(ctx, key, int(overflow)).Result()
		if err != nil {
			return localTrimmed
		}
		trimmed := make([]Entry, 0, len(popped))
		for _, p := range popped {
			var entry Entry
			if err := json.Unmarshal([]byte(p), &entry); err != nil {
				continue
			}
			trimmed = append(trimmed, entry)
		}
		return trimmed
	}
	return nil
}

func (r *Redis) Recent(ctx context.Context, conversationID string, n int) []Entry {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	key := r.listKey(conversationID)
	start := int64(0)
	if n > 0 {
		start = -int64(n)
	}
	raw, err := r.client.LRange(opCtx, key, start, -1).Result()
	if err != nil {
		slog.Warn("buffer read falling back to local", "conversation", conversationID, "err", err)
		return r.local.Recent(ctx, conversationID, n)
	}
	r.client.Expire(opCtx, key, r.ttl)

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func (r *Redis) Summary(ctx context.Context, conversationID string) string {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	value, err := r.client.Get(opCtx, r.summaryKey(conversationID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ""
		}
		return r.local.Summary(ctx, conversationID)
	}
	return value
}

func (r *Redis) SetSummary(ctx context.Context, conversationID, text string) {
	r.local.SetSummary(ctx, conversationID, text)

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := r.client.Set(opCtx, r.summaryKey(conversationID), text, r.ttl).Err(); err != nil {
		slog.Warn("buffer summary write falling back to local", "conversation", conversationID, "err", err)
	}
}

func (r *Redis) Reset(ctx context.Context, conversationID string) {
	r.local.Reset(ctx, conversationID)

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := r.client.Del(opCtx, r.listKey(conversationID)).Err(); err != nil {
		slog.Warn("buffer reset failed on redis", "conversation", conversationID, "err", err)
	}
}

func (r *Redis) Clear(ctx context.Context, conversationID string) {
	r.local.Clear(ctx, conversationID)

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := r.client.Del(opCtx, r.listKey(conversationID), r.summaryKey(conversationID)).Err(); err != nil {
		slog.Warn("buffer clear failed on redis", "conversation", conversationID, "err", err)
	}
}

// CleanupExpired only sweeps the local mirror; Redis entries expire via
// server-side TTL.
func (r *Redis) CleanupExpired(ctx context.Context) int {
	return r.local.CleanupExpired(ctx)
}

func (r *Redis) Close() {
	r.local.Close()
}
