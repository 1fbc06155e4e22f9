package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalAppendTrimsWindow(t *testing.T) {
	l := NewLocal(3, time.Hour)
	defer l.Close()
	ctx := context.Background()

	require.Empty(t, l.Append(ctx, "c1", "user", "one"))
	require.Empty(t, l.Append(ctx, "c1", "assistant", "two"))
	require.Empty(t, l.Append(ctx, "c1", "user", "three"))

	trimmed := l.Append(ctx, "c1", "assistant", "four")
	require.Len(t, trimmed, 1)
	assert.Equal(t, "one", trimmed[0].Content)

	recent := l.Recent(ctx, "c1", 0)
	require.Len(t, recent, 3)
	assert.Equal(t, "two", recent[0].Content)
	assert.Equal(t, "four", recent[2].Content)
}

func TestLocalRecentSnapshotIsACopy(t *testing.T) {
	l := NewLocal(5, time.Hour)
	defer l.Close()
	ctx := context.Background()

	l.Append(ctx, "c1", "user", "hello")
	snapshot := l.Recent(ctx, "c1", 0)
	snapshot[0].Content = "mutated"

	again := l.Recent(ctx, "c1", 0)
	assert.Equal(t, "hello", again[0].Content)
}

func TestLocalRecentLimit(t *testing.T) {
	l := NewLocal(10, time.Hour)
	defer l.Close()
	ctx := context.Background()

	for _, content := range []string{"a", "b", "c", "d"} {
		l.Append(ctx, "c1", "user", content)
	}

	recent := l.Recent(ctx, "c1", 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Content)
	assert.Equal(t, "d", recent[1].Content)
}

func TestLocalResetPreservesSummary(t *testing.T) {
	l := NewLocal(5, time.Hour)
	defer l.Close()
	ctx := context.Background()

	l.Append(ctx, "c1", "user", "hello")
	l.SetSummary(ctx, "c1", "they said hello")

	l.Reset(ctx, "c1")

	assert.Empty(t, l.Recent(ctx, "c1", 0))
	assert.Equal(t, "they said hello", l.Summary(ctx, "c1"))
}

func TestLocalClearDropsEverything(t *testing.T) {
	l := NewLocal(5, time.Hour)
	defer l.Close()
	ctx := context.Background()

	l.Append(ctx, "c1", "user", "hello")
	l.SetSummary(ctx, "c1", "summary")

	l.Clear(ctx, "c1")

	assert.Empty(t, l.Recent(ctx, "c1", 0))
	assert.Empty(t, l.Summary(ctx, "c1"))
	assert.Equal(t, 0, l.ConversationCount())
}

func TestLocalCleanupExpired(t *testing.T) {
	l := NewLocal(5, 10*time.Millisecond)
	defer l.Close()
	ctx := context.Background()

	l.Append(ctx, "stale", "user", "old")
	time.Sleep(30 * time.Millisecond)
	l.Append(ctx, "fresh", "user", "new")

	cleaned := l.CleanupExpired(ctx)
	assert.Equal(t, 1, cleaned)
	assert.Equal(t, 1, l.ConversationCount())
	assert.Len(t, l.Recent(ctx, "fresh", 0), 1)
}

func TestLocalIsolatesConversations(t *testing.T) {
	l := NewLocal(5, time.Hour)
	defer l.Close()
	ctx := context.Background()

	l.Append(ctx, "c1", "user", "for c1")
	l.Append(ctx, "c2", "user", "for c2")

	recent := l.Recent(ctx, "c1", 0)
	require.Len(t, recent, 1)
	assert.Equal(t, "for c1", recent[0].Content)
}

// unreachableRedisClient returns a client whose every operation fails fast,
// standing in for a Redis outage.
func unreachableRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            "127.0.0.1:1",
		DialTimeout:     20 * time.Millisecond,
		ReadTimeout:     20 * time.Millisecond,
		WriteTimeout:    20 * time.Millisecond,
		MaxRetries:      -1,
		PoolTimeout:     20 * time.Millisecond,
		MinIdleConns:    0,
		ConnMaxIdleTime: time.Minute,
	})
}

func TestRedisFallsThroughToLocal(t *testing.T) {
	local := NewLocal(3, time.Hour)
	r := NewRedis(unreachableRedisClient(), 3, time.Hour, local)
	defer r.Close()
	ctx := context.Background()

	r.Append(ctx, "c1", "user", "one")
	r.Append(ctx, "c1", "assistant", "two")

	recent := r.Recent(ctx, "c1", 0)
	require.Len(t, recent, 2)
	assert.Equal(t, "one", recent[0].Content)
	assert.Equal(t, "two", recent[1].Content)
}

func TestRedisFallbackTrimsLikeLocal(t *testing.T) {
	local := NewLocal(2, time.Hour)
	r := NewRedis(unreachableRedisClient(), 2, time.Hour, local)
	defer r.Close()
	ctx := context.Background()

	r.Append(ctx, "c1", "user", "one")
	r.Append(ctx, "c1", "user", "two")
	trimmed := r.Append(ctx, "c1", "user", "three")

	require.Len(t, trimmed, 1)
	assert.Equal(t, "one", trimmed[0].Content)
	assert.Len(t, r.Recent(ctx, "c1", 0), 2)
}

func TestRedisSummaryFallback(t *testing.T) {
	local := NewLocal(5, time.Hour)
	r := NewRedis(unreachableRedisClient(), 5, time.Hour, local)
	defer r.Close()
	ctx := context.Background()

	r.SetSummary(ctx, "c1", "the summary")
	assert.Equal(t, "the summary", r.Summary(ctx, "c1"))

	r.Reset(ctx, "c1")
	assert.Equal(t, "the summary", r.Summary(ctx, "c1"))

	r.Clear(ctx, "c1")
	assert.Empty(t, r.Summary(ctx, "c1"))
}
