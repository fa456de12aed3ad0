package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/CvmiloM/TeLlevoAPP/internal/config"
	"github.com/CvmiloM/TeLlevoAPP/internal/history"
	httpapi "github.com/CvmiloM/TeLlevoAPP/internal/http"
	"github.com/CvmiloM/TeLlevoAPP/internal/location"
	"github.com/CvmiloM/TeLlevoAPP/internal/logging"
	"github.com/CvmiloM/TeLlevoAPP/internal/notify"
	"github.com/CvmiloM/TeLlevoAPP/internal/offline"
	"github.com/CvmiloM/TeLlevoAPP/internal/route"
	"github.com/CvmiloM/TeLlevoAPP/internal/store"
	"github.com/CvmiloM/TeLlevoAPP/internal/trip"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.RedisAddr != "" {
		rs := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		if err := rs.Ping(ctx); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		st = rs
		logger.Info("store: redis", "addr", cfg.RedisAddr)
	} else {
		st = store.NewMemoryStore()
		logger.Warn("store: in-memory, data is lost on restart")
	}

	var archive history.Archive = history.NewMemoryArchive()
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN, logger)
		}
		pg, err := history.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unreachable", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		archive = pg
		logger.Info("archive: postgres")
	}

	var notifier notify.Notifier = &notify.InboxNotifier{Store: st}
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kn.Close()
		notifier = kn
		logger.Info("notifier: kafka", "topic", cfg.KafkaTopic)
	}

	var resolver route.Resolver
	if cfg.OSRMEndpoint != "" {
		resolver = &route.CachingResolver{
			Inner: route.NewOSRMClient(cfg.OSRMEndpoint, cfg.RouteTimeout),
			Cache: route.NewCache(cfg.RouteCacheTTL),
		}
	}

	var position location.Provider
	if cfg.LocationEndpoint != "" {
		position = location.NewHTTPProvider(cfg.LocationEndpoint, cfg.LocationTimeout)
	}

	coord := trip.NewCoordinator(st, notifier, resolver, archive, logger)
	coord.Retries = cfg.ConflictRetries
	recon := offline.NewReconciler(st, offline.NewMemoryCache(), cfg.OfflineAttempt, logger)

	api := httpapi.NewServer(coord, st, recon, position, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exited", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open failed", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_trip_history.sql"))
	if err != nil {
		logger.Error("migration read failed", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec failed", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_trip_history.sql")
}
