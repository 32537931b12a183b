package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"labweb/models"
)

// CreateUser inserts u and its profile in one transaction. Every user gets
// exactly one profile, starting with the default photo.
func (s *Store) CreateUser(ctx context.Context, u *models.User) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(u).Error; err != nil {
			if isUniqueConstraintError(err) { // race condition after any pre-check
				return ErrUserExists
			}
			return err
		}
		profile = models.NewProfile(u.ID)
		return tx.Create(&profile).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", u.Username, err)
	}
	s.logger.Info("user created", zap.Uint("user_id", u.ID), zap.String("username", u.Username))
	return &profile, s.afterSave(ctx, &profile)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) UserByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UpdateUserNames writes the user's first and last name.
func (s *Store) UpdateUserNames(ctx context.Context, u *models.User) error {
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).
		Updates(map[string]any{"first_name": u.FirstName, "last_name": u.LastName}).Error
}

func (s *Store) SetPassword(ctx context.Context, userID uint, hash []byte) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("hashed_password", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPeople returns every user with their profile, ordered by last name.
func (s *Store) ListPeople(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Preload("Profile").
		Order("last_name").Order("first_name").Order("id").
		Find(&users).Error
	return users, err
}

// DeleteUser removes the user, its profile and its refresh tokens. The
// profile's photo is cleaned up after the rows are gone.
func (s *Store) DeleteUser(ctx context.Context, userID uint) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	var profile models.Profile
	hasProfile := true
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).First(&profile).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			hasProfile = false
		}
		if hasProfile {
			if err := tx.Delete(&profile).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.User{}, userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete user %d: %w", userID, err)
	}
	s.logger.Info("user deleted", zap.Uint("user_id", userID))
	if !hasProfile {
		return nil
	}
	// the rows are already gone; a file that cannot be removed is only logged
	if err := s.hooks.AfterProfileDelete(ctx, &profile); err != nil {
		s.logger.Warn("profile cleanup failed", zap.Uint("user_id", userID), zap.Error(err))
	}
	return nil
}
