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

func (s *Store) ProfileByUserID(ctx context.Context, userID uint) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// SaveProfile writes p. The persisted row is read under a row lock and
// handed to BeforeProfileUpdate before the transaction commits;
// AfterProfileSave runs once it has. Writes to the same profile are
// serialized for the whole sequence. An error wrapping ErrNotNormalized
// means the write committed and only AfterProfileSave failed.
func (s *Store) SaveProfile(ctx context.Context, p *models.Profile) error {
	unlock := s.locks.Lock(p.UserID)
	defer unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old, err := lockedProfile(tx, p.ID)
		if err != nil {
			return err
		}
		return s.writeProfile(ctx, tx, old, p)
	})
	if err != nil {
		return fmt.Errorf("save profile %d: %w", p.ID, err)
	}
	return s.afterSave(ctx, p)
}

// UpdateProfile applies fn to the user's persisted profile and saves the
// result. The row is read inside the write transaction, so fields fn leaves
// alone keep whatever a concurrent writer committed. Errors follow SaveProfile.
func (s *Store) UpdateProfile(ctx context.Context, userID uint, fn func(p *models.Profile) error) (*models.Profile, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	var updated models.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old models.Profile
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&old).Error
		if err != nil {
			return notFound(err)
		}
		updated = old
		if err := fn(&updated); err != nil {
			return err
		}
		return s.writeProfile(ctx, tx, &old, &updated)
	})
	if err != nil {
		return nil, fmt.Errorf("update profile of user %d: %w", userID, err)
	}
	return &updated, s.afterSave(ctx, &updated)
}

func (s *Store) writeProfile(ctx context.Context, tx *gorm.DB, old, p *models.Profile) error {
	if err := tx.Omit(clause.Associations).Save(p).Error; err != nil {
		return err
	}
	return s.hooks.BeforeProfileUpdate(ctx, old, p)
}

func (s *Store) afterSave(ctx context.Context, p *models.Profile) error {
	if err := s.hooks.AfterProfileSave(ctx, p); err != nil {
		return fmt.Errorf("profile %d: %w: %w", p.ID, ErrNotNormalized, err)
	}
	s.logger.Debug("profile saved", zap.Uint("profile_id", p.ID), zap.String("photo", p.Photo))
	return nil
}

// lockedProfile loads the persisted row for update. It returns nil, nil when
// there is nothing to compare against.
func lockedProfile(tx *gorm.DB, id uint) (*models.Profile, error) {
	if id == 0 {
		return nil, nil
	}
	var old models.Profile
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&old, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &old, nil
}

// ModifyPhoto runs fn on the user's profile while holding the profile lock,
// then persists the crop fields fn recorded. fn edits the stored file in
// place and must not change the photo reference.
func (s *Store) ModifyPhoto(ctx context.Context, userID uint, fn func(p *models.Profile) error) (*models.Profile, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	p, err := s.ProfileByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", p.ID).Updates(map[string]any{
		"crop_x":      p.CropX,
		"crop_y":      p.CropY,
		"crop_width":  p.CropWidth,
		"crop_height": p.CropHeight,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("record crop for profile %d: %w", p.ID, err)
	}
	return p, nil
}
