package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"labweb/pkg/config"
	"labweb/pkg/logging"
	"labweb/pkg/storage"
	"labweb/process/audit"
)

func main() {
	fix := flag.Bool("fix", false, "reset broken profiles to the default photo and delete orphaned files")
	grace := flag.Duration("grace", audit.DefaultGrace, "ignore unreferenced files modified within this window")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(cfg.AppEnv).Named("audit")
	defer logger.Sync()

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()
	media, err := storage.NewLocal(cfg.UploadBase)
	if err != nil {
		logger.Fatal("open upload base", zap.Error(err))
	}

	rep, err := audit.Run(context.Background(), db, media, audit.Options{Fix: *fix, Grace: *grace}, logger)
	if err != nil {
		logger.Fatal("audit failed", zap.Error(err))
	}
	for _, m := range rep.Missing {
		fmt.Printf("missing|%d|%s|%s\n", m.UserID, m.Username, m.Photo)
	}
	for _, ref := range rep.Orphans {
		fmt.Printf("orphan|%s\n", ref)
	}
	for _, ref := range rep.Recent {
		fmt.Printf("recent|%s\n", ref)
	}
	if rep.DefaultMissing {
		fmt.Println("default photo missing")
	}
	if *fix {
		fmt.Printf("reset=%d removed=%d\n", rep.Reset, rep.Removed)
	}
}
