package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"labweb/models"
)

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// CreateRefreshToken generates a random refresh token, stores its hash with
// expiry and returns the raw token string.
func (s *Store) CreateRefreshToken(ctx context.Context, userID uint, ttl time.Duration) (string, error) {
	return createRefreshToken(s.db.WithContext(ctx), userID, ttl)
}

func createRefreshToken(db *gorm.DB, userID uint, ttl time.Duration) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	rt := models.RefreshToken{UserID: userID, TokenHash: hashToken(token), ExpiresAt: time.Now().Add(ttl)}
	if err := db.Omit(clause.Associations).Create(&rt).Error; err != nil {
		return "", err
	}
	return token, nil
}

// FindRefreshToken looks a token up by its raw value.
func (s *Store) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hashToken(token)).First(&rt).Error; err != nil {
		return nil, notFound(err)
	}
	return &rt, nil
}

// RotateRefreshToken revokes rt and issues its replacement in one transaction.
func (s *Store) RotateRefreshToken(ctx context.Context, rt *models.RefreshToken, ttl time.Duration) (string, error) {
	var next string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RefreshToken{}).Where("id = ? AND revoked = ?", rt.ID, false).Update("revoked", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 { // already rotated by a concurrent request
			return ErrNotFound
		}
		var err error
		next, err = createRefreshToken(tx, rt.UserID, ttl)
		return err
	})
	return next, err
}

func (s *Store) RevokeRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true).Error
}
