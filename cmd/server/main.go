package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gatescope/gatescope/internal/accounts"
	"github.com/gatescope/gatescope/internal/aiban"
	"github.com/gatescope/gatescope/internal/analytics"
	"github.com/gatescope/gatescope/internal/api"
	"github.com/gatescope/gatescope/internal/auth"
	"github.com/gatescope/gatescope/internal/cache"
	"github.com/gatescope/gatescope/internal/config"
	"github.com/gatescope/gatescope/internal/database"
	"github.com/gatescope/gatescope/internal/geoip"
	"github.com/gatescope/gatescope/internal/logging"
	"github.com/gatescope/gatescope/internal/modelstatus"
	"github.com/gatescope/gatescope/internal/redemption"
	"github.com/gatescope/gatescope/internal/tasks"
	"github.com/gatescope/gatescope/internal/topup"
	"github.com/gatescope/gatescope/internal/warmup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := logging.Init(cfg.Log); err != nil {
		log.Fatalf("init logging: %v", err)
	}
	defer logging.Sync()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	local, err := database.NewLocalStore(cfg.Local.Path)
	if err != nil {
		logging.Fatal("open local store", "path", cfg.Local.Path, "error", err)
	}
	defer local.Close()

	gw, err := database.OpenGateway(cfg.Gateway)
	if err != nil {
		logging.Fatal("connect gateway database", "engine", cfg.Gateway.Engine, "error", err)
	}
	defer gw.Close()

	cacheMgr, err := cache.NewManager(cfg.Redis, local)
	if err != nil {
		logging.Fatal("init cache", "error", err)
	}
	defer cacheMgr.Close()

	geo := geoip.NewService(cfg.GeoIP.Dir)
	if err := geo.Reload(); err != nil {
		logging.Warn("geoip databases not loaded yet", "dir", cfg.GeoIP.Dir, "error", err)
	}
	go func() {
		if err := geo.Watch(rootCtx); err != nil && rootCtx.Err() == nil {
			logging.Warn("geoip watcher stopped", "error", err)
		}
	}()
	geoDownloader := geoip.NewDownloader(geo)

	engine := analytics.NewEngine(gw, cacheMgr, geo, local, cfg.Location)
	modelStatus := modelstatus.NewEngine(gw, cacheMgr)
	aiBan := aiban.NewService(engine, gw, local, cacheMgr)
	authSvc := auth.NewService(cfg.Auth, cacheMgr)

	manager := tasks.NewManager()
	orchestrator := warmup.New(engine, modelStatus, cacheMgr, manager.SignalWarmupDone)

	registerTasks(rootCtx, manager, taskDeps{
		engine:       engine,
		modelStatus:  modelStatus,
		aiBan:        aiBan,
		cache:        cacheMgr,
		gw:           gw,
		local:        local,
		geo:          geoDownloader,
		orchestrator: orchestrator,
	})

	handler := api.NewRouter(api.Deps{
		Gateway:     gw,
		Local:       local,
		Cache:       cacheMgr,
		Engine:      engine,
		ModelStatus: modelStatus,
		Geo:         geo,
		AIBan:       aiBan,
		Accounts:    accounts.NewService(gw, local, accounts.NewLinuxDoClient(cfg.LinuxDo.ProxyURL)),
		TopUps:      topup.NewService(gw),
		Redemptions: redemption.NewService(gw),
		Auth:        authSvc,
		Warmup:      orchestrator,
		Tasks:       manager,
	})

	host := cfg.Server.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logging.Info("server listening", "addr", addr, "engine", cfg.Gateway.Engine)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal("http server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info("shutting down")
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("http shutdown incomplete", "error", err)
	}

	manager.Stop()
	logging.Info("server exited")
}

type taskDeps struct {
	engine       *analytics.Engine
	modelStatus  *modelstatus.Engine
	aiBan        *aiban.Service
	cache        *cache.Manager
	gw           *database.Gateway
	local        *database.LocalStore
	geo          *geoip.Downloader
	orchestrator *warmup.Orchestrator
}

// registerTasks wires the background schedule. Warmup runs first and gates
// the refresh tasks; everything else starts immediately.
func registerTasks(ctx context.Context, m *tasks.Manager, d taskDeps) {
	m.Register("cache_warmup", 24*time.Hour, func(ctx context.Context) error {
		return d.orchestrator.Run(ctx)
	})

	m.Register("index_ensure", 24*time.Hour, func(ctx context.Context) error {
		_, err := d.gw.EnsureIndexes(ctx, 2*time.Second)
		return err
	})

	m.Register("ip_recording_enforce", 30*time.Minute, func(ctx context.Context) error {
		_, err := d.engine.EnableAllIPRecording(ctx)
		return err
	})

	m.Register("geoip_update", 24*time.Hour, func(ctx context.Context) error {
		return d.geo.UpdateAll(ctx, false)
	})

	m.Register("cache_cleanup", time.Hour, func(ctx context.Context) error {
		if _, err := d.cache.CleanupExpired(ctx); err != nil {
			return err
		}
		_, err := d.local.CacheCleanup(ctx)
		return err
	})

	m.StartAfterWarmup("cache_refresh", 5*time.Minute, func(ctx context.Context) error {
		if _, err := d.engine.Overview(ctx, "24h", true); err != nil {
			return err
		}
		if _, err := d.engine.Usage(ctx, "24h", true); err != nil {
			return err
		}
		_, err := d.engine.Leaderboards(ctx, []string{"1h", "24h"}, 20, "requests", true)
		return err
	})

	m.StartAfterWarmup("log_sync", 5*time.Minute, func(ctx context.Context) error {
		_, err := d.engine.SyncLogs(ctx)
		return err
	})

	m.StartAfterWarmup("model_status_refresh", 30*time.Minute, func(ctx context.Context) error {
		_, err := d.modelStatus.AvailableModels(ctx, true)
		return err
	})

	// The scan interval is fixed at registration; toggling the pipeline on
	// or off takes effect on the next tick through the settings check.
	interval := 10 * time.Minute
	if settings, err := d.aiBan.LoadSettings(ctx); err == nil && settings.ScanIntervalMinutes > 0 {
		interval = time.Duration(settings.ScanIntervalMinutes) * time.Minute
	}
	m.StartAfterWarmup("ai_ban_scan", interval, func(ctx context.Context) error {
		settings, err := d.aiBan.LoadSettings(ctx)
		if err != nil {
			return err
		}
		if !settings.Enabled {
			return nil
		}
		_, err = d.aiBan.Scan(ctx, "", 0, aiban.OperatorPipeline)
		return err
	})
}
