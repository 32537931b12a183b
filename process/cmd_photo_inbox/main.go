package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"labweb/pkg/bootstrap"
	"labweb/pkg/config"
	"labweb/pkg/logging"
	"labweb/process/photoinbox"
)

// Imports <username>.<ext> files from a directory as profile photos, optionally watching for new ones.
func main() {
	dirFlag := flag.String("dir", "inbox", "directory to scan for photos named <username>.<ext>")
	watch := flag.Bool("watch", false, "keep watching the directory after the initial scan")
	workers := flag.Int("workers", 0, "worker pool size (default NumCPU)")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.AppEnv).Named("inbox")
	defer logger.Sync()

	app, err := bootstrap.Open(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	in := &photoinbox.Inbox{
		Dir:      *dirFlag,
		Media:    app.Media,
		Profiles: app.Store,
		Logger:   logger,
		Workers:  *workers,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := in.Scan(ctx)
	if err != nil {
		logger.Fatal("scan failed", zap.Error(err))
	}
	logger.Info("scan finished", zap.Int64("imported", res.Imported), zap.Int64("failed", res.Failed))

	if *watch {
		res, err := in.Watch(ctx)
		if err != nil {
			logger.Fatal("watch failed", zap.Error(err))
		}
		logger.Info("watch stopped", zap.Int64("imported", res.Imported), zap.Int64("failed", res.Failed))
	}
}
