package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/tidewatch/tidewatch/internal/alerts"
	"github.com/tidewatch/tidewatch/internal/api"
	"github.com/tidewatch/tidewatch/internal/catalog"
	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/fetcher"
	"github.com/tidewatch/tidewatch/internal/hub"
	"github.com/tidewatch/tidewatch/internal/pipeline"
	"github.com/tidewatch/tidewatch/internal/store"
	"github.com/tidewatch/tidewatch/internal/upstream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("tidewatchd starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.HTTPPort,
		"upstream", cfg.Upstream.Type,
		"fetch_interval", cfg.Fetch.Interval,
		"stations", len(cfg.Stations),
		"alert_rules", len(cfg.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Station catalog, swapped atomically on config reload.
	registry := catalog.NewRegistry(catalog.FromConfig(cfg.Stations))

	// Durable log: file-backed when data_dir is set, in-memory otherwise.
	var readingLog store.ReadingLog
	if cfg.Store.DataDir != "" {
		fl, err := store.NewFileLog(cfg.Store.DataDir)
		if err != nil {
			slog.Error("failed to open durable log", "dir", cfg.Store.DataDir, "err", err)
			os.Exit(1)
		}
		defer fl.Close()
		readingLog = fl
	} else {
		slog.Warn("no data_dir configured — readings will not survive a restart")
		readingLog = store.NewMemLog()
	}

	// Latest-snapshot cache with background TTL eviction.
	cache := store.NewCache(cfg.Store.CacheTTL)
	go cache.Run(ctx)

	writer := store.NewWriter(readingLog, cache)

	// Alert engine — webhook delivery for every lifecycle transition.
	engine, err := alerts.New(cfg.Alerts, alerts.NewWebhookSink(cfg.Alerts.Webhooks))
	if err != nil {
		slog.Error("failed to compile alert rules", "err", err)
		os.Exit(1)
	}

	// Fanout hub — websocket subscribers with catch-up from the cache.
	fanout := hub.New(cache, cfg.Hub.Backlog)

	src, err := upstream.New(cfg.Upstream)
	if err != nil {
		slog.Error("failed to build upstream source", "err", err)
		os.Exit(1)
	}

	pipe := pipeline.New(writer, engine, fanout, cfg)
	fetch := fetcher.New(src, registry, pipe, cfg.Fetch)
	go fetch.Run(ctx)

	// Scheduled cache resync from the durable log.
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Store.ResyncSchedule, func() {
		ids := stationIDs(registry.Current())
		if err := writer.Resync(context.Background(), ids); err != nil {
			slog.Error("cache resync failed", "err", err)
			return
		}
		slog.Info("cache resync complete", "stations", len(ids))
	}); err != nil {
		slog.Error("invalid resync schedule", "schedule", cfg.Store.ResyncSchedule, "err", err)
		os.Exit(1)
	}
	sched.Start()

	// Hot-reload the station catalog on config file changes. Fetch, store and
	// alert settings stay fixed until restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			registry.Swap(catalog.FromConfig(next.Stations))
			slog.Info("station catalog refreshed", "stations", len(next.Stations))
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Combined HTTP server: REST API, websocket stream and Prometheus metrics.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(registry, cache, readingLog, writer, engine, fanout))
	httpMux.Handle("/ws/stream", fanout)
	httpMux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("tidewatchd shutting down")
	sched.Stop()
	fanout.Close()
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}

func stationIDs(snap *catalog.Snapshot) []string {
	stations := snap.All()
	ids := make([]string, 0, len(stations))
	for _, st := range stations {
		ids = append(ids, st.ID)
	}
	return ids
}
