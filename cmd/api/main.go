package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markdave123-py/studykb/internal/app"
	"github.com/markdave123-py/studykb/internal/config"
	"github.com/markdave123-py/studykb/internal/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg := config.LoadConfig()
	lg, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	application, err := app.NewApp(ctx, cfg, lg)
	if err != nil {
		lg.Error("startup failed", logger.Error(err))
		os.Exit(1)
	}
	defer application.Close()

	application.Ingestor.Start(ctx, cfg.IngestWorkers)

	server := app.NewServer(":"+cfg.Port, application.Handler(), lg)
	go func() {
		if err := server.Start(); err != nil {
			lg.Error("server error", logger.Error(err))
			cancel()
		}
	}()

	lg.Info("studykb is running", logger.Int("workers", cfg.IngestWorkers))
	<-ctx.Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown", logger.Error(err))
	}
	application.Ingestor.Wait()
	lg.Info("shut down")
}
