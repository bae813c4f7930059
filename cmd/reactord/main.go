package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/reactord/reactord/internal/auth"
	"github.com/reactord/reactord/internal/config"
	"github.com/reactord/reactord/internal/dbpool"
	"github.com/reactord/reactord/internal/logger"
	"github.com/reactord/reactord/internal/server"
)

func main() {
	cfg := config.New()

	log, err := logger.Init(logger.Config{
		Dir:       cfg.LogDir,
		Suffix:    cfg.LogSuffix,
		Level:     logger.Level(cfg.LogLevel),
		QueueSize: cfg.LogQueueSize,
	})
	if err != nil {
		os.Stderr.WriteString("reactord: logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	if err := server.ValidateResourceRoot(cfg.ResourceRoot); err != nil {
		log.Errorf("startup: %v", err)
		os.Exit(1)
	}

	pool, err := dbpool.Open(dbpool.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		PoolSize: cfg.DBPoolSize,
	})
	if err != nil {
		log.Errorf("startup: db pool: %v", err)
		os.Exit(1)
	}

	verifier := &auth.DBVerifier{Pool: pool}

	srv := server.New(cfg, log, verifier, pool)

	ctx, cancel := context.WithCancel(context.Background())
	go awaitSignal(log, cancel)

	if err := srv.Run(ctx); err != nil {
		log.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}

func awaitSignal(log *logger.Logger, cancel context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Infof("signal received: %v, shutting down", sig)
	cancel()
}
