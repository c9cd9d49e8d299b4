package warmup

import (
	"context"
	"fmt"
	"time"

	"github.com/gatescope/gatescope/internal/analytics"
	"github.com/gatescope/gatescope/internal/cache"
	"github.com/gatescope/gatescope/internal/logging"
	"github.com/gatescope/gatescope/internal/modelstatus"
)

// Phase names, in run order.
var phaseNames = []string{
	"restore",
	"check",
	"leaderboard",
	"dashboard",
	"user_activity",
	"ip_monitoring",
	"ip_distribution",
	"model_status",
}

// Progress after each phase. The final 100 is set on completion.
var phaseProgress = []int{5, 10, 15, 40, 55, 65, 80, 90}

// leaderboardPacing spaces the heavy ranking queries apart so a cold start
// does not slam the gateway DB.
const leaderboardPacing = 500 * time.Millisecond

// Orchestrator runs the staged cache warmup and publishes its progress.
// onDone fires exactly once per run, after the final phase.
type Orchestrator struct {
	engine *analytics.Engine
	models *modelstatus.Engine
	cache  *cache.Manager

	status *tracker
	onDone func()
}

func New(engine *analytics.Engine, models *modelstatus.Engine, c *cache.Manager, onDone func()) *Orchestrator {
	return &Orchestrator{
		engine: engine,
		models: models,
		cache:  c,
		status: newTracker(phaseNames),
		onDone: onDone,
	}
}

// Status returns the current warmup snapshot.
func (o *Orchestrator) Status() Snapshot {
	return o.status.Snapshot()
}

// Run executes all phases in order. Individual phase failures are recorded
// and do not stop the sequence; requests falling through to live SQL cover
// whatever stayed cold. Run is idempotent: calling it again resets the
// steps and repeats the sequence.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.status.begin()
	started := time.Now()

	phases := []struct {
		name    string
		message string
		fn      func(context.Context) error
	}{
		{"restore", "restoring cache from local mirror", o.restore},
		{"check", "probing cache liveness", o.check},
		{"leaderboard", "warming usage leaderboards", o.leaderboards},
		{"dashboard", "warming dashboard aggregates", o.dashboard},
		{"user_activity", "priming user listings", o.userActivity},
		{"ip_monitoring", "warming IP monitors", o.ipMonitoring},
		{"ip_distribution", "warming IP distribution", o.ipDistribution},
		{"model_status", "refreshing model list", o.modelStatus},
	}

	for i, phase := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.status.enterPhase(phase.name, phase.message, phaseProgress[i])

		err := phase.fn(ctx)
		o.status.finishPhase(phase.name, err)
		if err != nil {
			logging.Warn("warmup phase failed", "phase", phase.name, "error", err)
		} else {
			logging.Debug("warmup phase done", "phase", phase.name)
		}
	}

	o.status.complete()
	if o.onDone != nil {
		o.onDone()
	}
	logging.Info("warmup finished", "elapsed", time.Since(started).Round(time.Millisecond).String())
	return nil
}

func (o *Orchestrator) restore(ctx context.Context) error {
	restored, err := o.cache.RestoreToRedis(ctx)
	if err != nil {
		return err
	}
	logging.Info("cache restored from mirror", "entries", restored)
	return nil
}

func (o *Orchestrator) check(ctx context.Context) error {
	if err := o.cache.Ping(ctx); err != nil {
		// Degraded Redis is survivable; the local tier still serves.
		logging.Warn("redis unavailable during warmup", "error", err)
	}
	return nil
}

// leaderboards warms the usage rankings for today, this week and this
// month, paced so the three scans do not overlap on the DB.
func (o *Orchestrator) leaderboards(ctx context.Context) error {
	periods := []string{"24h", "7d", "30d"}
	var firstErr error
	for i, period := range periods {
		if i > 0 {
			select {
			case <-time.After(leaderboardPacing):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if _, err := o.engine.TopUsers(ctx, period, 20, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("top users %s: %w", period, err)
		}
	}
	if _, err := o.engine.Leaderboards(ctx, []string{"1h", "24h"}, 20, "requests", true); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("risk leaderboard: %w", err)
	}
	return firstErr
}

// dashboard warms the fixed hot set behind the landing page.
func (o *Orchestrator) dashboard(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"overview 7d", func() error { _, err := o.engine.Overview(ctx, "7d", true); return err }},
		{"usage 7d", func() error { _, err := o.engine.Usage(ctx, "7d", true); return err }},
		{"usage 24h", func() error { _, err := o.engine.Usage(ctx, "24h", true); return err }},
		{"usage 3d", func() error { _, err := o.engine.Usage(ctx, "3d", true); return err }},
		{"models 7d", func() error { _, err := o.engine.ModelUsageRanking(ctx, "7d", 20, true); return err }},
		{"daily trends 7d", func() error { _, err := o.engine.DailyTrends(ctx, 7, true); return err }},
		{"daily trends 3d", func() error { _, err := o.engine.DailyTrends(ctx, 3, true); return err }},
		{"top users 7d", func() error { _, err := o.engine.TopUsers(ctx, "7d", 10, true); return err }},
		{"hourly trends 24h", func() error { _, err := o.engine.HourlyTrends(ctx, 24, true); return err }},
		{"channels", func() error { _, err := o.engine.ChannelStats(ctx, true); return err }},
	}

	var firstErr error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.fn(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return firstErr
}

// userActivity primes the paged user listings, but only when the install
// is big enough that the first admin page load would otherwise stall.
func (o *Orchestrator) userActivity(ctx context.Context) error {
	scale, err := o.engine.Scale(ctx, false)
	if err != nil {
		return fmt.Errorf("system scale: %w", err)
	}
	if scale.Scale != "large" && scale.Scale != "xlarge" {
		logging.Debug("user listing warmup skipped", "scale", scale.Scale)
		return nil
	}

	var firstErr error
	for _, order := range []string{"quota", "used_quota", "request_count"} {
		if _, _, err := o.engine.ListUsers(ctx, order, "", 1, 20, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("user listing %s: %w", order, err)
		}
	}
	return firstErr
}

func (o *Orchestrator) ipMonitoring(ctx context.Context) error {
	var firstErr error
	for _, window := range []string{"1h", "24h", "7d"} {
		if _, err := o.engine.SharedIPs(ctx, window, 2, 50, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shared ips %s: %w", window, err)
		}
		if _, err := o.engine.MultiIPTokens(ctx, window, 2, 50, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("multi-ip tokens %s: %w", window, err)
		}
		if _, err := o.engine.MultiIPUsers(ctx, window, 2, 50, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("multi-ip users %s: %w", window, err)
		}
	}
	return firstErr
}

func (o *Orchestrator) ipDistribution(ctx context.Context) error {
	var firstErr error
	for _, window := range []string{"1h", "6h", "24h", "7d"} {
		if _, err := o.engine.Distribution(ctx, window, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("distribution %s: %w", window, err)
		}
	}
	return firstErr
}

func (o *Orchestrator) modelStatus(ctx context.Context) error {
	if _, err := o.models.AvailableModels(ctx, true); err != nil {
		return fmt.Errorf("available models: %w", err)
	}
	return nil
}
