package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"bookcal/internal/availability"
	"bookcal/internal/config"
	appLog "bookcal/internal/log"
	"bookcal/internal/metrics"
	"bookcal/internal/model"
	"bookcal/internal/provider"
	"bookcal/internal/refresh"
	"bookcal/internal/store"
	"bookcal/internal/web"
)

const (
	debugCacheDir   = "./cache/ics-cache"
	fetchTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	level := appLog.ParseLevel(conf.LogLevel)
	if flags.debug {
		level = appLog.LevelDebug
	}
	if err := appLog.Setup(level, conf.LogFormat); err != nil {
		appLog.Error("failed to set up logger", err)
		os.Exit(1)
	}
	defer appLog.Sync()

	appLog.Info("bookcal starting", "version", "0.1.0")

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.CacheDir = debugCacheDir
	}

	hours, err := conf.Hours()
	if err != nil {
		appLog.Error("invalid business hours", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"fetch_days", conf.FetchDays,
		"connections", len(conf.EnabledConnections()),
		"once", flags.once,
		"debug", flags.debug,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	registry := provider.NewDefaultRegistry(conf.CacheDir, &http.Client{Timeout: fetchTimeout})
	registry.SetObserver(m)

	refresher := refresh.New(registry, refresh.Options{
		Connections: conf.EnabledConnections,
		Location:    conf.Location(),
		FetchDays:   conf.FetchDays,
		Spec:        conf.RefreshCron,
		Metrics:     m,
		Store:       snapshotStore(conf),
	})

	if ok, err := refresher.Restore(ctx); err != nil {
		appLog.Error("failed to restore busy snapshot", err)
	} else if !ok {
		appLog.Debug("no stored busy snapshot")
	}

	if flags.once {
		if err := runOnce(ctx, conf, refresher, hours); err != nil {
			appLog.Error("single run failed", err)
			os.Exit(1)
		}
		return
	}

	srv, err := web.NewServer(conf, refresher, m)
	if err != nil {
		appLog.Error("failed to create web server", err)
		os.Exit(1)
	}

	if err := refresher.Start(ctx); err != nil {
		appLog.Error("failed to start refresh scheduler", err, "spec", conf.RefreshCron)
		os.Exit(1)
	}
	defer refresher.Stop()

	httpServer := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			appLog.Error("HTTP server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}
	appLog.Info("bookcal exiting")
}

// snapshotStore returns the Redis store when configured, nil otherwise.
func snapshotStore(conf *config.Config) store.SnapshotStore {
	if conf.Redis == nil || conf.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	appLog.Info("busy snapshots persisted to redis", "addr", conf.Redis.Addr, "db", conf.Redis.DB)
	return store.NewRedis(client, conf.Redis.Key, time.Duration(conf.Redis.TTLHours)*time.Hour)
}

// runOnce refreshes every connection and prints the next bookable slot as
// JSON on stdout.
func runOnce(ctx context.Context, conf *config.Config, refresher *refresh.Refresher, hours model.BusinessHours) error {
	snap, err := refresher.RunOnce(ctx)
	if err != nil && len(snap.Errors) == 0 {
		return err
	}

	engine := availability.Engine{Hours: hours, Busy: snap.Busy, Now: time.Now, Known: snap.Covers}
	now := time.Now().In(conf.Location())
	slot, ok, err := engine.NextAvailable(now, conf.HorizonDays)
	if err != nil {
		return err
	}

	out := struct {
		Found       bool              `json:"found"`
		Start       *time.Time        `json:"start,omitempty"`
		End         *time.Time        `json:"end,omitempty"`
		HorizonDays int               `json:"horizon_days"`
		Failed      map[string]string `json:"failed_connections,omitempty"`
		FetchedAt   time.Time         `json:"fetched_at"`
	}{
		Found:       ok,
		HorizonDays: conf.HorizonDays,
		Failed:      snap.Errors,
		FetchedAt:   snap.FetchedAt,
	}
	if ok {
		out.Start, out.End = &slot.Start, &slot.End
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/bookcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh, print the next available slot and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Debug logging and a local ./cache directory")

	flag.Parse()

	return cfg
}
