package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"labweb/pkg/config"
	"labweb/process/report"
)

func main() {
	year := flag.Int("year", 0, "only this publication year (0 for all)")
	list := flag.Bool("list", false, "list matching papers")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DB_DSN not set; export DB_DSN and retry")
		os.Exit(2)
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	if err := report.Write(context.Background(), os.Stdout, gdb, *year, *list); err != nil {
		log.Fatal(err)
	}
}
