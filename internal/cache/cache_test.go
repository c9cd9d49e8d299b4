package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatescope/gatescope/internal/database"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func newTestMirror(t *testing.T) *database.LocalStore {
	t.Helper()
	store, err := database.NewLocalStore(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestManager(t *testing.T, client *redis.Client, mirror *database.LocalStore) *Manager {
	t.Helper()
	m, err := NewManagerWithClient(client, mirror)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSetGetRoundTrip(t *testing.T) {
	_, client := newTestRedis(t)
	m := newTestManager(t, client, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "greeting", "hello", time.Minute))

	value, found, err := m.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", value)

	_, found, err = m.Get(ctx, "no-such-key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetJSON(t *testing.T) {
	_, client := newTestRedis(t)
	m := newTestManager(t, client, nil)
	ctx := context.Background()

	type payload struct {
		Requests int64  `json:"requests"`
		Model    string `json:"model"`
	}
	require.NoError(t, m.Set(ctx, "stats", payload{Requests: 42, Model: "gpt-4"}, time.Minute))

	var out payload
	found, err := m.GetJSON(ctx, "stats", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), out.Requests)
	assert.Equal(t, "gpt-4", out.Model)
}

func TestLocalEnvelope(t *testing.T) {
	buf := encodeLocal([]byte("payload"), 1234567890)
	data, expireAt, ok := decodeLocal(buf)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, int64(1234567890), expireAt)

	_, _, ok = decodeLocal([]byte("short"))
	assert.False(t, ok)
}

func TestRedisExpiryHonored(t *testing.T) {
	mr, client := newTestRedis(t)
	m := newTestManager(t, client, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "volatile", "v", time.Second))
	assert.Positive(t, mr.TTL("volatile"))

	mr.FastForward(2 * time.Second)
	assert.False(t, mr.Exists("volatile"))
}

func TestIncr(t *testing.T) {
	mr, client := newTestRedis(t)
	m := newTestManager(t, client, nil)
	ctx := context.Background()

	n, err := m.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// TTL is only set on the first increment.
	assert.Positive(t, mr.TTL("counter"))
}

func TestIncrLocalFallback(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ctx := context.Background()

	n, err := m.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.Incr(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDeleteByPrefix(t *testing.T) {
	_, client := newTestRedis(t)
	m := newTestManager(t, client, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "dash:overview:24h", "a", 0))
	require.NoError(t, m.Set(ctx, "dash:usage:24h", "b", 0))
	require.NoError(t, m.Set(ctx, "other:key", "c", 0))

	removed, err := m.DeleteByPrefix(ctx, "dash:")
	require.NoError(t, err)
	// Each key counts once per tier it was removed from.
	assert.Equal(t, int64(4), removed)

	_, found, err := m.Get(ctx, "dash:overview:24h")
	require.NoError(t, err)
	assert.False(t, found)

	value, found, err := m.Get(ctx, "other:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "c", value)
}

func TestDegradesWhenRedisDies(t *testing.T) {
	mr, client := newTestRedis(t)
	m := newTestManager(t, client, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	assert.True(t, m.IsRedisAvailable())

	mr.Close()
	// The local tier still answers reads without touching Redis.
	value, found, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)

	require.NoError(t, m.Set(ctx, "k2", "v2", time.Minute))
	assert.False(t, m.IsRedisAvailable())

	value, found, err = m.Get(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", value)
}

func TestDurableKeysSurviveRestart(t *testing.T) {
	mirror := newTestMirror(t)
	ctx := context.Background()

	first := newTestManager(t, nil, mirror)
	require.NoError(t, first.Set(ctx, "app:config:model_status", `{"enabled":true}`, 0))
	require.NoError(t, first.Set(ctx, "dash:overview", "ephemeral", 0))

	// A fresh manager has an empty local tier; only durable prefixes come back.
	second := newTestManager(t, nil, mirror)

	value, found, err := second.Get(ctx, "app:config:model_status")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"enabled":true}`, value)

	_, found, err = second.Get(ctx, "dash:overview")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRestoreToRedis(t *testing.T) {
	mirror := newTestMirror(t)
	ctx := context.Background()

	seed := newTestManager(t, nil, mirror)
	require.NoError(t, seed.Set(ctx, "ai_ban:settings", `{"enabled":false}`, 0))
	require.NoError(t, seed.Set(ctx, "model_status:windows", `["1h","24h"]`, time.Hour))

	mr, client := newTestRedis(t)
	m := newTestManager(t, client, mirror)

	restored, err := m.RestoreToRedis(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	got, err := mr.Get("ai_ban:settings")
	require.NoError(t, err)
	assert.Equal(t, `{"enabled":false}`, got)
	assert.Positive(t, mr.TTL("model_status:windows"))
}

func TestHashFallbackWithoutRedis(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, m.HashSet(ctx, "model_status:health", "gpt-4", "green"))
	require.NoError(t, m.HashSet(ctx, "model_status:health", "claude", "yellow"))

	value, found, err := m.HashGet(ctx, "model_status:health", "gpt-4")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "green", value)

	fields, err := m.GetAllHashFields(ctx, "model_status:health")
	require.NoError(t, err)
	assert.Len(t, fields, 2)

	require.NoError(t, m.HashDelete(ctx, "model_status:health", "claude"))
	_, found, err = m.HashGet(ctx, "model_status:health", "claude")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStatsCounters(t *testing.T) {
	_, client := newTestRedis(t)
	m := newTestManager(t, client, nil)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	m.Get(ctx, "k")
	m.Get(ctx, "absent")

	stats := m.GetStats()
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(1), stats.LocalHits)
	assert.True(t, stats.RedisAvailable)
}
