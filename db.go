package main

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"labweb/models"
	"labweb/pkg/bootstrap"
	"labweb/pkg/photo"
	"labweb/pkg/storage"
	"labweb/pkg/store"
)

var (
	db     *gorm.DB
	st     *store.Store
	media  *storage.Local
	photos *photo.Manager
)

func initDB() {
	app, err := bootstrap.Open(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}
	db, st, media, photos = app.DB, app.Store, app.Media, app.Photos

	// Control schema migrations with env DB_AUTO_MIGRATE (default true). Any permission errors will be logged and ignored.
	if cfg.AutoMigrate {
		_ = st.AutoMigrate()
	}
	seedDB()
}

func seedDB() {
	ctx := context.Background()
	// Check if admin user exists
	if _, err := st.UserByUsername(ctx, "admin"); err == nil {
		return
	}
	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	admin := models.User{Username: "admin", FirstName: "Lab", LastName: "Administrator", HashedPassword: hashedPassword, IsActive: true}
	profile, err := st.CreateUser(ctx, &admin)
	if err != nil {
		logger.Error("failed to seed admin user", zap.Error(err))
		return
	}
	profile.StaffStatus = models.StaffAdmin
	if err := st.SaveProfile(ctx, profile); err != nil {
		logger.Error("failed to promote admin profile", zap.Error(err))
		return
	}
	logger.Info("Seeded admin user: username=admin, password=admin123", zap.Uint("user_id", admin.ID))
}
