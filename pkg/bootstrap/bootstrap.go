// Package bootstrap wires the database, media storage and photo lifecycle the
// same way for the server and the batch tools.
package bootstrap

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"labweb/pkg/config"
	"labweb/pkg/photo"
	"labweb/pkg/storage"
	"labweb/pkg/store"
)

type App struct {
	DB     *gorm.DB
	Media  *storage.Local
	Photos *photo.Manager
	Store  *store.Store
}

// Open connects to Postgres and prepares the upload base. The default photo
// is written if it is missing.
func Open(cfg config.Config, logger *zap.Logger) (*App, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db, cfg, logger)
}

// New builds the App on an existing connection.
func New(db *gorm.DB, cfg config.Config, logger *zap.Logger) (*App, error) {
	media, err := storage.NewLocal(cfg.UploadBase)
	if err != nil {
		return nil, fmt.Errorf("prepare upload base: %w", err)
	}
	if err := photo.EnsureDefault(media); err != nil {
		return nil, fmt.Errorf("write default photo: %w", err)
	}
	photos := photo.NewManager(media, logger.Named("photo"))
	return &App{
		DB:     db,
		Media:  media,
		Photos: photos,
		Store:  store.New(db, photos, logger.Named("store")),
	}, nil
}
