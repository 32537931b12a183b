package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"labweb/models"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrUserExists = errors.New("user already exists")
	// ErrNotNormalized marks a profile write that committed but whose
	// AfterProfileSave step failed. The row points at a file that exists.
	ErrNotNormalized = errors.New("profile saved but photo not processed")
)

// ProfileHooks are the lifecycle callbacks around profile writes. The store
// passes the persisted and incoming state explicitly.
type ProfileHooks interface {
	// BeforeProfileUpdate runs after the row is written but before the
	// transaction commits. old is nil on the first save or when the row is gone.
	// An error rolls the write back.
	BeforeProfileUpdate(ctx context.Context, old, updated *models.Profile) error
	// AfterProfileSave runs once the write is committed, including the
	// profile created with a new user.
	AfterProfileSave(ctx context.Context, p *models.Profile) error
	// AfterProfileDelete runs once the profile row is gone.
	AfterProfileDelete(ctx context.Context, p *models.Profile) error
}

// NopHooks ignores every lifecycle event.
type NopHooks struct{}

func (NopHooks) BeforeProfileUpdate(context.Context, *models.Profile, *models.Profile) error {
	return nil
}
func (NopHooks) AfterProfileSave(context.Context, *models.Profile) error   { return nil }
func (NopHooks) AfterProfileDelete(context.Context, *models.Profile) error { return nil }

// Store is the GORM-backed persistence layer.
type Store struct {
	db     *gorm.DB
	hooks  ProfileHooks
	locks  *keyedMutex
	logger *zap.Logger
}

func New(db *gorm.DB, hooks ProfileHooks, logger *zap.Logger) *Store {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, hooks: hooks, locks: newKeyedMutex(), logger: logger}
}

// DB exposes the underlying handle for migrations and ad-hoc queries.
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates or updates the tables. Models are migrated one at a
// time so a failure on one doesn't block the others.
func (s *Store) AutoMigrate() error {
	tables := []struct {
		name  string
		model any
	}{
		{"users", &models.User{}},
		{"profiles", &models.Profile{}},
		{"papers", &models.Paper{}},
		{"refresh_tokens", &models.RefreshToken{}},
	}
	var errs []error
	for _, t := range tables {
		if err := s.db.AutoMigrate(t.model); err != nil {
			s.logger.Warn("migration warning", zap.String("table", t.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
