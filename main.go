package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"labweb/pkg/config"
	"labweb/pkg/logging"
)

var (
	cfg       config.Config
	logger    *zap.Logger
	jwtSecret []byte // loaded from env JWT_SECRET (fallback to dev default)
)

func main() {
	// Auto-load ./.env if present before reading vars
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}
	var err error
	cfg, err = config.Load()
	if err != nil {
		log.Fatal(err)
	}
	jwtSecret = cfg.JWTSecret
	logger = logging.New(cfg.AppEnv)
	defer logger.Sync()

	// Support a lightweight migrate command: `./labweb migrate`
	// It runs AutoMigrate and seeding then exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		cfg.AutoMigrate = true
		initDB()
		fmt.Println("migration and seeding completed")
		return
	}

	initDB()

	if cfg.AppEnv == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.Gin(logger))
	r.MaxMultipartMemory = cfg.DocumentMaxBytes

	setupRoutes(r)

	logger.Info("listening", zap.String("port", cfg.Port), zap.String("upload_base", cfg.UploadBase))
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
