package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"labweb/pkg/config"
	"labweb/process/schemacheck"
)

// Prints the database's foreign keys and fails when the user cascades are missing.
func main() {
	list := flag.Bool("list", false, "print every foreign key")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DB_DSN not set; export DB_DSN and retry")
		os.Exit(2)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	fks, err := schemacheck.ForeignKeys(context.Background(), db)
	if err != nil {
		log.Fatal(err)
	}
	if *list {
		fmt.Println("Foreign keys:")
		for _, fk := range fks {
			fmt.Printf("- %s\n    def: %s\n", fk, fk.Definition)
		}
	}
	problems := schemacheck.Check(fks, schemacheck.Required)
	for _, p := range problems {
		fmt.Println("FAIL", p)
	}
	if len(problems) > 0 {
		os.Exit(1)
	}
	fmt.Println("schema OK")
}
