package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hrplabs/hrp-booking/internal/booking"
	"github.com/hrplabs/hrp-booking/internal/config"
	"github.com/hrplabs/hrp-booking/internal/db"
	"github.com/hrplabs/hrp-booking/internal/logger"
)

// The completion worker sweeps confirmed appointments whose slot has already
// passed and marks them completed, so day views and histories stay accurate
// without staff clicking through every visit.
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

	log.Info("completion-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	repo := booking.NewPgRepository(pgPool)
	svc := booking.NewService(repo, nil, booking.Policy{
		GraceWindow: cfg.GraceWindow,
		HorizonDays: cfg.HorizonDays,
		EditWeekday: cfg.EditWeekday,
		Location:    cfg.Location,
	}, log)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	completed, err := svc.CompleteElapsed(runCtx, time.Now())
	if err != nil {
		log.Error("completion run error", zap.Error(err))
		return
	}
	log.Info("completion run complete",
		zap.Int("completed", completed),
		zap.Duration("took", time.Since(start)))
}
