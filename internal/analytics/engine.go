package analytics

import (
	"context"
	"time"

	"github.com/gatescope/gatescope/internal/cache"
	"github.com/gatescope/gatescope/internal/database"
	"github.com/gatescope/gatescope/internal/geoip"
	"github.com/gatescope/gatescope/internal/logging"
)

// Cache TTLs per query family.
const (
	ttlOverview     = 3 * time.Minute
	ttlUsage        = 3 * time.Minute
	ttlModels       = 3 * time.Minute
	ttlDailyTrends  = 5 * time.Minute
	ttlHourlyTrends = 2 * time.Minute
	ttlTopUsers     = 3 * time.Minute
	ttlChannels     = 3 * time.Minute
	ttlIPDist       = 5 * time.Minute
	ttlLeaderboard  = 3 * time.Minute
	ttlRisk         = 2 * time.Minute
	ttlIPMonitor    = 5 * time.Minute
	ttlScale        = 6 * time.Hour
	ttlUserList     = 5 * time.Minute
)

// Engine computes every analytical read over the gateway database. Results
// are cached under deterministic keys; callers can bypass with noCache. All
// SQL is written with `?` placeholders and relies on the gateway's dialect
// rebinding, except the IN-list builders which are dialect-explicit.
type Engine struct {
	gw    *database.Gateway
	cache *cache.Manager
	geo   *geoip.Service
	local *database.LocalStore
	loc   *time.Location

	now func() time.Time
}

func NewEngine(gw *database.Gateway, c *cache.Manager, geo *geoip.Service, local *database.LocalStore, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{gw: gw, cache: c, geo: geo, local: local, loc: loc, now: time.Now}
}

// Gateway exposes the underlying pool for collaborators (index management,
// health probe).
func (e *Engine) Gateway() *database.Gateway { return e.gw }

// tzOffsetSeconds is the configured zone's current UTC offset, used as the
// constant shift in bucket arithmetic so grouping SQL is dialect-portable.
func (e *Engine) tzOffsetSeconds() int64 {
	_, offset := e.now().In(e.loc).Zone()
	return int64(offset)
}

// getCached loads a cached result into out; a decode failure counts as a
// miss so a shape change after deploy heals itself.
func (e *Engine) getCached(ctx context.Context, key string, out interface{}) bool {
	if e.cache == nil {
		return false
	}
	found, err := e.cache.GetJSON(ctx, key, out)
	if err != nil {
		logging.Debug("cache read failed", "key", key, "error", err)
		return false
	}
	return found
}

// putCache stores a computed result. Failures only log; the response is
// already in hand.
func (e *Engine) putCache(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, key, value, ttl); err != nil {
		logging.Warn("cache write failed", "key", key, "error", err)
	}
}
