package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/redis/go-redis/v9"

	"github.com/gatescope/gatescope/internal/config"
	"github.com/gatescope/gatescope/internal/database"
	"github.com/gatescope/gatescope/internal/logging"
	"github.com/gatescope/gatescope/internal/metrics"
)

// ErrCacheMiss indicates the key was not found in any cache layer.
var ErrCacheMiss = fmt.Errorf("cache miss")

// Durable prefixes are mirrored into SQLite on write so they survive a Redis
// restart. Everything else lives in memory/Redis only and is rebuilt by the
// warmup and refresh tasks.
var durablePrefixes = []string{"app:config", "ai_ban:", "model_status:"}

// Manager is the side-car's cache: an in-process bigcache tier, an optional
// Redis tier and a durable SQLite mirror for the prefixes above. When Redis
// is unreachable the manager degrades to the in-process tier plus the
// mirror; callers never see the difference beyond IsRedisAvailable.
type Manager struct {
	local  *bigcache.BigCache
	redis  *redis.Client
	mirror *database.LocalStore

	redisUp atomic.Bool
	hashMu  sync.Mutex

	localHits   atomic.Int64
	localMisses atomic.Int64
	redisHits   atomic.Int64
	redisMisses atomic.Int64
	mirrorHits  atomic.Int64
	sets        atomic.Int64
	deletes     atomic.Int64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	LocalHits      int64 `json:"local_hits"`
	LocalMisses    int64 `json:"local_misses"`
	RedisHits      int64 `json:"redis_hits"`
	RedisMisses    int64 `json:"redis_misses"`
	MirrorHits     int64 `json:"mirror_hits"`
	Sets           int64 `json:"sets"`
	Deletes        int64 `json:"deletes"`
	LocalEntries   int   `json:"local_entries"`
	RedisAvailable bool  `json:"redis_available"`
}

func NewManager(cfg config.RedisConfig, mirror *database.LocalStore) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	m, err := NewManagerWithClient(client, mirror)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.Warn("redis unreachable, cache degraded to local + mirror", "addr", cfg.Addr(), "error", err)
		m.redisUp.Store(false)
	} else {
		m.redisUp.Store(true)
	}

	return m, nil
}

// NewManagerWithClient wires an existing Redis client; used by tests.
func NewManagerWithClient(client *redis.Client, mirror *database.LocalStore) (*Manager, error) {
	localConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         10 * time.Minute,
		CleanWindow:        time.Minute,
		MaxEntriesInWindow: 1000 * 10 * 60,
		MaxEntrySize:       500,
		HardMaxCacheSize:   128,
		Verbose:            false,
	}

	local, err := bigcache.New(context.Background(), localConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create local cache: %w", err)
	}

	m := &Manager{local: local, redis: client, mirror: mirror}
	m.redisUp.Store(client != nil)
	return m, nil
}

func isDurable(key string) bool {
	for _, p := range durablePrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Local entries carry their absolute expiry in an 8-byte prefix, since
// bigcache only has a global life window.
func encodeLocal(data []byte, expireAt int64) []byte {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf, uint64(expireAt))
	copy(buf[8:], data)
	return buf
}

func decodeLocal(buf []byte) (data []byte, expireAt int64, ok bool) {
	if len(buf) < 8 {
		return nil, 0, false
	}
	return buf[8:], int64(binary.BigEndian.Uint64(buf)), true
}

func marshalValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

// Get returns the raw stored bytes as a string. Strings are stored verbatim
// by Set; other values are their JSON encoding.
func (m *Manager) Get(ctx context.Context, key string) (string, bool, error) {
	data, found, err := m.getBytes(ctx, key)
	if err != nil || !found {
		return "", found, err
	}
	return string(data), true, nil
}

// GetJSON unmarshals the stored value into out.
func (m *Manager) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	data, found, err := m.getBytes(ctx, key)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("cache value for %s is not valid JSON: %w", key, err)
	}
	return true, nil
}

func (m *Manager) getBytes(ctx context.Context, key string) ([]byte, bool, error) {
	now := time.Now().Unix()

	if buf, err := m.local.Get(key); err == nil {
		if data, expireAt, ok := decodeLocal(buf); ok {
			if expireAt == 0 || expireAt > now {
				m.localHits.Add(1)
				metrics.ObserveCacheHit("local")
				return data, true, nil
			}
			m.local.Delete(key)
		}
	}
	m.localMisses.Add(1)

	if m.redisAvailable() {
		data, err := m.redis.Get(ctx, key).Bytes()
		if err == nil {
			m.redisHits.Add(1)
			metrics.ObserveCacheHit("redis")
			ttl, ttlErr := m.redis.TTL(ctx, key).Result()
			expireAt := int64(0)
			if ttlErr == nil && ttl > 0 {
				expireAt = now + int64(ttl.Seconds())
			}
			m.local.Set(key, encodeLocal(data, expireAt))
			return data, true, nil
		}
		if err != redis.Nil {
			m.markRedisDown(err)
		}
		m.redisMisses.Add(1)
	}

	if m.mirror != nil && isDurable(key) {
		value, found, err := m.mirror.CacheGet(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if found {
			m.mirrorHits.Add(1)
			metrics.ObserveCacheHit("mirror")
			m.local.Set(key, encodeLocal([]byte(value), 0))
			return []byte(value), true, nil
		}
	}

	metrics.ObserveCacheMiss()
	return nil, false, nil
}

// Set stores a value in every applicable tier. ttl of zero means no expiry.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := marshalValue(value)
	if err != nil {
		return fmt.Errorf("unable to marshal cache value for %s: %w", key, err)
	}

	m.sets.Add(1)

	expireAt := int64(0)
	if ttl > 0 {
		expireAt = time.Now().Add(ttl).Unix()
	}

	if m.redisAvailable() {
		if err := m.redis.Set(ctx, key, data, ttl).Err(); err != nil {
			m.markRedisDown(err)
		}
	}

	if m.mirror != nil && isDurable(key) {
		if err := m.mirror.CacheSet(ctx, key, string(data), expireAt); err != nil {
			return fmt.Errorf("unable to mirror cache key %s: %w", key, err)
		}
	}

	m.local.Set(key, encodeLocal(data, expireAt))
	return nil
}

// Incr atomically increments a counter key, setting ttl on first increment.
// Backed by Redis when available; degrades to the in-process tier, which is
// good enough for rate limiting a single instance.
func (m *Manager) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if m.redisAvailable() {
		n, err := m.redis.Incr(ctx, key).Result()
		if err == nil {
			if n == 1 && ttl > 0 {
				m.redis.Expire(ctx, key, ttl)
			}
			return n, nil
		}
		m.markRedisDown(err)
	}

	var n int64 = 1
	now := time.Now().Unix()
	expireAt := int64(0)
	if ttl > 0 {
		expireAt = time.Now().Add(ttl).Unix()
	}
	if buf, err := m.local.Get(key); err == nil {
		if data, exp, ok := decodeLocal(buf); ok && (exp == 0 || exp > now) {
			if prev, perr := strconv.ParseInt(string(data), 10, 64); perr == nil {
				n = prev + 1
				expireAt = exp
			}
		}
	}
	m.local.Set(key, encodeLocal([]byte(strconv.FormatInt(n, 10)), expireAt))
	return n, nil
}

func (m *Manager) Delete(ctx context.Context, key string) error {
	m.deletes.Add(1)
	m.local.Delete(key)

	if m.redisAvailable() {
		if err := m.redis.Del(ctx, key).Err(); err != nil {
			m.markRedisDown(err)
		}
	}

	if m.mirror != nil && isDurable(key) {
		return m.mirror.CacheDelete(ctx, key)
	}
	return nil
}

// DeleteByPrefix removes every key with the given prefix from all tiers and
// returns the number of entries removed (a key present in several tiers
// counts once per tier).
func (m *Manager) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	var removed int64

	it := m.local.Iterator()
	var localKeys []string
	for it.SetNext() {
		entry, err := it.Value()
		if err != nil {
			continue
		}
		if strings.HasPrefix(entry.Key(), prefix) {
			localKeys = append(localKeys, entry.Key())
		}
	}
	for _, k := range localKeys {
		if m.local.Delete(k) == nil {
			removed++
		}
	}

	if m.redisAvailable() {
		iter := m.redis.Scan(ctx, 0, prefix+"*", 200).Iterator()
		for iter.Next(ctx) {
			if err := m.redis.Del(ctx, iter.Val()).Err(); err != nil {
				m.markRedisDown(err)
				break
			}
			removed++
		}
		if err := iter.Err(); err != nil {
			m.markRedisDown(err)
		}
	}

	if m.mirror != nil {
		n, err := m.mirror.CacheDeleteByPrefix(ctx, prefix)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	m.deletes.Add(removed)
	return removed, nil
}

// HashSet stores a field in a hash. Backed by a Redis hash when available,
// otherwise by a JSON object in the local tier (mirrored when durable).
func (m *Manager) HashSet(ctx context.Context, hashKey, field string, value interface{}) error {
	data, err := marshalValue(value)
	if err != nil {
		return fmt.Errorf("unable to marshal hash value for %s/%s: %w", hashKey, field, err)
	}

	if m.redisAvailable() {
		if err := m.redis.HSet(ctx, hashKey, field, data).Err(); err == nil {
			return nil
		} else {
			m.markRedisDown(err)
		}
	}

	m.hashMu.Lock()
	defer m.hashMu.Unlock()

	fields, err := m.loadLocalHash(ctx, hashKey)
	if err != nil {
		return err
	}
	fields[field] = string(data)
	return m.storeLocalHash(ctx, hashKey, fields)
}

func (m *Manager) HashGet(ctx context.Context, hashKey, field string) (string, bool, error) {
	if m.redisAvailable() {
		value, err := m.redis.HGet(ctx, hashKey, field).Result()
		if err == nil {
			return value, true, nil
		}
		if err == redis.Nil {
			return "", false, nil
		}
		m.markRedisDown(err)
	}

	fields, err := m.loadLocalHash(ctx, hashKey)
	if err != nil {
		return "", false, err
	}
	value, ok := fields[field]
	return value, ok, nil
}

func (m *Manager) HashDelete(ctx context.Context, hashKey, field string) error {
	if m.redisAvailable() {
		if err := m.redis.HDel(ctx, hashKey, field).Err(); err == nil {
			return nil
		} else {
			m.markRedisDown(err)
		}
	}

	m.hashMu.Lock()
	defer m.hashMu.Unlock()

	fields, err := m.loadLocalHash(ctx, hashKey)
	if err != nil {
		return err
	}
	delete(fields, field)
	return m.storeLocalHash(ctx, hashKey, fields)
}

func (m *Manager) GetAllHashFields(ctx context.Context, hashKey string) (map[string]string, error) {
	if m.redisAvailable() {
		fields, err := m.redis.HGetAll(ctx, hashKey).Result()
		if err == nil {
			return fields, nil
		}
		m.markRedisDown(err)
	}
	return m.loadLocalHash(ctx, hashKey)
}

func (m *Manager) loadLocalHash(ctx context.Context, hashKey string) (map[string]string, error) {
	fields := make(map[string]string)

	if buf, err := m.local.Get(hashKey); err == nil {
		if data, _, ok := decodeLocal(buf); ok {
			json.Unmarshal(data, &fields)
			return fields, nil
		}
	}

	if m.mirror != nil && isDurable(hashKey) {
		value, found, err := m.mirror.CacheGet(ctx, hashKey)
		if err != nil {
			return nil, err
		}
		if found {
			json.Unmarshal([]byte(value), &fields)
		}
	}
	return fields, nil
}

func (m *Manager) storeLocalHash(ctx context.Context, hashKey string, fields map[string]string) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	m.local.Set(hashKey, encodeLocal(data, 0))
	if m.mirror != nil && isDurable(hashKey) {
		return m.mirror.CacheSet(ctx, hashKey, string(data), 0)
	}
	return nil
}

func (m *Manager) IsRedisAvailable() bool {
	return m.redisAvailable()
}

// Reconnect re-probes Redis; the refresh task calls this so a Redis restart
// heals without a side-car restart.
func (m *Manager) Reconnect(ctx context.Context) bool {
	if m.redis == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return false
	}
	if m.redisUp.CompareAndSwap(false, true) {
		logging.Info("redis connection restored")
	}
	return true
}

// RestoreToRedis re-seeds Redis (and the local tier) from the SQLite mirror
// after a cold start, preserving remaining TTLs. Returns the count restored.
func (m *Manager) RestoreToRedis(ctx context.Context) (int, error) {
	if m.mirror == nil {
		return 0, nil
	}

	entries, err := m.mirror.CacheLoadActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("unable to load cache mirror: %w", err)
	}

	now := time.Now().Unix()
	restored := 0
	for _, e := range entries {
		m.local.Set(e.Key, encodeLocal([]byte(e.Value), e.ExpireAt))

		if m.redisAvailable() {
			var ttl time.Duration
			if e.ExpireAt > 0 {
				ttl = time.Duration(e.ExpireAt-now) * time.Second
				if ttl <= 0 {
					continue
				}
			}
			if err := m.redis.Set(ctx, e.Key, e.Value, ttl).Err(); err != nil {
				m.markRedisDown(err)
			}
		}
		restored++
	}
	return restored, nil
}

// CleanupExpired prunes expired rows from the SQLite mirror.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	if m.mirror == nil {
		return 0, nil
	}
	return m.mirror.CacheCleanup(ctx)
}

func (m *Manager) GetStats() Stats {
	return Stats{
		LocalHits:      m.localHits.Load(),
		LocalMisses:    m.localMisses.Load(),
		RedisHits:      m.redisHits.Load(),
		RedisMisses:    m.redisMisses.Load(),
		MirrorHits:     m.mirrorHits.Load(),
		Sets:           m.sets.Load(),
		Deletes:        m.deletes.Load(),
		LocalEntries:   m.local.Len(),
		RedisAvailable: m.redisAvailable(),
	}
}

// Ping probes the Redis tier; the local tier is always considered live.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.redisAvailable() {
		return fmt.Errorf("redis unavailable")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return m.redis.Ping(ctx).Err()
}

func (m *Manager) Close() error {
	if m.redis != nil {
		m.redis.Close()
	}
	return m.local.Close()
}

func (m *Manager) redisAvailable() bool {
	return m.redis != nil && m.redisUp.Load()
}

func (m *Manager) markRedisDown(err error) {
	if m.redisUp.CompareAndSwap(true, false) {
		logging.Warn("redis error, cache degraded to local + mirror", "error", err)
	}
}
