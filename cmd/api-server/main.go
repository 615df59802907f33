package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hrplabs/hrp-booking/internal/api"
	"github.com/hrplabs/hrp-booking/internal/booking"
	"github.com/hrplabs/hrp-booking/internal/cache"
	"github.com/hrplabs/hrp-booking/internal/config"
	"github.com/hrplabs/hrp-booking/internal/db"
	"github.com/hrplabs/hrp-booking/internal/logger"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic("logger init error: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("edit_weekday", cfg.EditWeekday.String()),
		zap.Duration("grace_window", cfg.GraceWindow),
		zap.Int("horizon_days", cfg.HorizonDays))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	// Redis is optional: without it the service reads templates straight
	// from Postgres.
	var availabilityCache booking.AvailabilityCache

	routerCfg := api.RouterConfig{
		PgPool:    pgPool,
		Logger:    log,
		Location:  cfg.Location,
		Now:       time.Now,
		Env:       cfg.Env,
		Version:   version,
		RateLimit: cfg.RateLimit,
	}

	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		availabilityCache = cache.NewAvailabilityCache(client, cfg.CacheTTL, log)
		routerCfg.Redis = client
		log.Info("connected to Redis, availability cache enabled",
			zap.Duration("ttl", cfg.CacheTTL))
	} else {
		log.Info("no Redis configured, availability cache disabled")
	}

	repo := booking.NewPgRepository(pgPool)
	svc := booking.NewService(repo, availabilityCache, booking.Policy{
		GraceWindow: cfg.GraceWindow,
		HorizonDays: cfg.HorizonDays,
		EditWeekday: cfg.EditWeekday,
		Location:    cfg.Location,
	}, log)
	routerCfg.Service = svc

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}

	log.Info("api-server stopped")
}
