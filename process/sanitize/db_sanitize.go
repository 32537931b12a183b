package sanitize

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"labweb/models"
	"labweb/pkg/bootstrap"
	"labweb/pkg/config"
	"labweb/pkg/logging"
	"labweb/pkg/store"
)

// DefaultTables are the application tables, children first.
const DefaultTables = "refresh_tokens,papers,profiles,users"

var nameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Run executes the db_sanitize CLI behavior. Exported so a small cmd/main can call it.
func Run() {
	var (
		dryRun     = flag.Bool("dry-run", true, "Don't perform destructive actions; show what would be done")
		yes        = flag.Bool("yes", false, "Confirm destructive action (required to actually truncate)")
		reseed     = flag.Bool("reseed", false, "After truncation, reseed the admin user and profile")
		purgeMedia = flag.Bool("purge-media", false, "Also delete uploaded photos and paper documents")
		tables     = flag.String("tables", DefaultTables, "Comma-separated list of tables to truncate (default app tables)")
	)
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.AppEnv).Named("sanitize")
	defer logger.Sync()
	app, err := bootstrap.Open(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	existing, err := ExistingTables(ctx, app.DB, ParseTables(*tables))
	if err != nil {
		log.Fatal(err)
	}
	if len(existing) == 0 {
		log.Println("no requested tables present in the database; nothing to do")
		return
	}

	fmt.Println("Tables considered for truncation:")
	for _, t := range existing {
		fmt.Printf(" - %s\n", t)
	}
	if *purgeMedia {
		fmt.Printf("Media directories considered for purge: %s\n", strings.Join(MediaDirs, ", "))
	}

	if *dryRun {
		fmt.Println("dry-run enabled; no changes will be made. Use --dry-run=false --yes to execute.")
		return
	}
	if !*yes {
		fmt.Println("Destructive operation. Pass --yes to confirm execution. Aborting.")
		return
	}

	if err := Truncate(ctx, app.DB, existing); err != nil {
		log.Fatalf("truncate failed: %v", err)
	}
	log.Println("Truncate completed.")

	if *purgeMedia {
		if err := PurgeMedia(app.Media.Base()); err != nil {
			log.Fatalf("purge failed: %v", err)
		}
		log.Println("Media purged.")
	}
	if *reseed {
		if err := reseedAdmin(ctx, app.Store); err != nil {
			log.Fatalf("reseed failed: %v", err)
		}
		log.Println("Admin reseeded.")
	}
}

// ParseTables splits a comma-separated list and drops invalid identifiers.
func ParseTables(csv string) []string {
	parts := strings.Split(csv, ",")
	wanted := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !nameRe.MatchString(p) {
			log.Printf("warning: skipping invalid table name '%s'", p)
			continue
		}
		wanted = append(wanted, p)
	}
	return wanted
}

// ExistingTables keeps the names present in the public schema.
func ExistingTables(ctx context.Context, gdb *gorm.DB, wanted []string) ([]string, error) {
	existing := []string{}
	// check presence individually to avoid any injection risk
	for _, t := range wanted {
		var cnt int64
		if err := gdb.WithContext(ctx).Raw("SELECT count(*) FROM pg_tables WHERE schemaname = 'public' AND tablename = ?", t).Scan(&cnt).Error; err != nil {
			return nil, fmt.Errorf("failed to query pg_tables for %s: %w", t, err)
		}
		if cnt > 0 {
			existing = append(existing, t)
		} else {
			log.Printf("info: table %s not found, skipping", t)
		}
	}
	return existing, nil
}

// Truncate empties tables and restarts their sequences.
func Truncate(ctx context.Context, gdb *gorm.DB, tables []string) error {
	// build a quoted list of identifiers (we validated names) to avoid accidental injection
	quoted := make([]string, 0, len(tables))
	for _, t := range tables {
		quoted = append(quoted, fmt.Sprintf("\"%s\"", t))
	}
	stmt := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(quoted, ", "))
	log.Printf("Executing: %s", stmt)
	return gdb.WithContext(ctx).Exec(stmt).Error
}

// MediaDirs are the upload subdirectories owned by database rows.
var MediaDirs = []string{"photos", "papers"}

// PurgeMedia deletes MediaDirs under base. The default photo at the root is kept.
func PurgeMedia(base string) error {
	for _, d := range MediaDirs {
		if err := os.RemoveAll(filepath.Join(base, d)); err != nil {
			return err
		}
	}
	return nil
}

func reseedAdmin(ctx context.Context, st *store.Store) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	admin := models.User{Username: "admin", FirstName: "Lab", LastName: "Administrator", HashedPassword: hashed, IsActive: true}
	profile, err := st.CreateUser(ctx, &admin)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	profile.StaffStatus = models.StaffAdmin
	if err := st.SaveProfile(ctx, profile); err != nil {
		return fmt.Errorf("failed to promote admin profile: %w", err)
	}
	return nil
}
