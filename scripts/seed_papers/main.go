package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"labweb/pkg/bootstrap"
	"labweb/pkg/config"
	"labweb/pkg/logging"
	"labweb/process/paperseed"
)

func main() {
	file := flag.String("file", "papers.yaml", "YAML catalog to load")
	dryRun := flag.Bool("dry-run", false, "parse and validate only")
	flag.Parse()

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("open catalog: %v", err)
	}
	entries, err := paperseed.Load(f)
	f.Close()
	if err != nil {
		log.Fatal(err)
	}
	if *dryRun {
		fmt.Printf("%d entries OK\n", len(entries))
		return
	}

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.AppEnv).Named("seed")
	defer logger.Sync()
	app, err := bootstrap.Open(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	created, updated, err := paperseed.Apply(context.Background(), app.Store, entries, logger)
	if err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
	fmt.Printf("created=%d updated=%d\n", created, updated)
}
