package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"labweb/models"
	"labweb/pkg/bootstrap"
	"labweb/pkg/config"
	"labweb/pkg/logging"
	"labweb/pkg/store"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("usage: go run ./cmd/create_user <username> <password> [User|Retired|Moderator|Admin]")
		os.Exit(2)
	}
	username := os.Args[1]
	password := os.Args[2]
	staff := models.StaffUser
	if len(os.Args) > 3 {
		s, err := models.ParseStaffStatus(os.Args[3])
		if err != nil {
			log.Fatal(err)
		}
		staff = s
	}
	if len(password) < 6 {
		log.Fatal("password too short (min 6)")
	}

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: could not load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.AppEnv)
	defer logger.Sync()
	app, err := bootstrap.Open(cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	ctx := context.Background()

	// check existing
	if existing, err := app.Store.UserByUsername(ctx, username); err == nil {
		fmt.Printf("user %s already exists (id=%d)\n", username, existing.ID)
		os.Exit(0)
	}

	hpw, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("bcrypt failed: %v", err)
	}
	user := models.User{Username: username, HashedPassword: hpw, IsActive: true}
	profile, err := app.Store.CreateUser(ctx, &user)
	if errors.Is(err, store.ErrUserExists) {
		fmt.Printf("user %s already exists\n", username)
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("failed to create user: %v", err)
	}
	if staff != models.StaffUser {
		profile.StaffStatus = staff
		if err := app.Store.SaveProfile(ctx, profile); err != nil {
			log.Printf("warning: failed to set staff status: %v", err)
		}
	}
	fmt.Printf("created user %s id=%d staff=%s\n", username, user.ID, profile.StaffStatus.Label())
}
