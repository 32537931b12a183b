package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"labweb/models"
	"labweb/pkg/store"
)

var (
	errInvalidInput       = errors.New("invalid input")
	errInvalidCredentials = errors.New("invalid credentials")
)

// RegisterUser creates an active user; the store gives it a default profile.
func RegisterUser(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username required", errInvalidInput)
	}
	if len(password) < 6 { // basic password policy
		return nil, fmt.Errorf("%w: password too short (min 6)", errInvalidInput)
	}
	if len(password) > 72 {
		return nil, fmt.Errorf("%w: password too long (max 72 bytes)", errInvalidInput)
	}
	// pre-check existing (optimistic)
	if _, err := st.UserByUsername(ctx, username); err == nil {
		return nil, store.ErrUserExists
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := models.User{Username: username, HashedPassword: hashedPassword, IsActive: true}
	if _, err := st.CreateUser(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate checks the password of an active user.
func Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := st.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	if !user.IsActive {
		return nil, errInvalidCredentials
	}
	return user, nil
}

// accessClaims is the payload of the bearer token.
type accessClaims struct {
	Username string `json:"username"`
	UserID   uint   `json:"uid"`
	Staff    string `json:"staff,omitempty"`
	jwt.RegisteredClaims
}

func issueAccessToken(user *models.User, staff models.StaffStatus, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := accessClaims{
		Username: user.Username,
		UserID:   user.ID,
		Staff:    string(staff),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
}

func parseAccessToken(tokenString string) (*accessClaims, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// issueTokens returns a fresh access token and refresh token for user.
func issueTokens(ctx context.Context, user *models.User) (string, string, error) {
	staff := models.StaffUser
	if p, err := st.ProfileByUserID(ctx, user.ID); err == nil {
		staff = p.StaffStatus
	}
	access, err := issueAccessToken(user, staff, cfg.AccessTokenTTL)
	if err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	refresh, err := st.CreateRefreshToken(ctx, user.ID, cfg.RefreshTokenTTL)
	if err != nil {
		return "", "", fmt.Errorf("create refresh token: %w", err)
	}
	return access, refresh, nil
}
