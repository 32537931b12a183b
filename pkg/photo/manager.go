package photo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"labweb/models"
	"labweb/pkg/storage"
)

// Manager keeps exactly one live photo file per profile. The persistence
// layer calls its lifecycle callbacks around profile writes.
type Manager struct {
	store  storage.Storage
	logger *zap.Logger
}

func NewManager(st storage.Storage, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, logger: logger}
}

// Storage exposes the backing store.
func (m *Manager) Storage() storage.Storage { return m.store }

// AfterProfileSave normalizes the saved photo. The placeholder is left alone.
func (m *Manager) AfterProfileSave(ctx context.Context, p *models.Profile) error {
	if p.Photo == "" || IsDefault(p.Photo) {
		return nil
	}
	if err := Normalize(m.store, p.Photo); err != nil {
		return fmt.Errorf("normalize photo for profile %d: %w", p.ID, err)
	}
	m.logger.Debug("photo normalized", zap.Uint("profile_id", p.ID), zap.String("photo", p.Photo))
	return nil
}

// BeforeProfileUpdate removes the previously stored photo when the update
// replaces it. old is nil when there is no persisted row yet.
func (m *Manager) BeforeProfileUpdate(ctx context.Context, old, updated *models.Profile) error {
	if old == nil {
		return nil
	}
	if old.Photo == "" || IsDefault(old.Photo) {
		return nil
	}
	if storage.Clean(old.Photo) == storage.Clean(updated.Photo) {
		return nil
	}
	return m.discard(old.Photo)
}

// AfterProfileDelete removes the deleted profile's own photo.
func (m *Manager) AfterProfileDelete(ctx context.Context, p *models.Profile) error {
	if p.Photo == "" || IsDefault(p.Photo) {
		return nil
	}
	return m.discard(p.Photo)
}

// Crop applies r to the profile's stored photo and records the request in
// the profile's crop fields. The caller persists those fields.
func (m *Manager) Crop(ctx context.Context, p *models.Profile, r Rect) error {
	if p.Photo == "" || IsDefault(p.Photo) {
		return ErrDefaultPhoto
	}
	if err := Crop(m.store, p.Photo, r); err != nil {
		return fmt.Errorf("crop photo for profile %d: %w", p.ID, err)
	}
	p.CropX, p.CropY, p.CropWidth, p.CropHeight = r.X, r.Y, r.Width, r.Height
	m.logger.Info("photo cropped",
		zap.Uint("profile_id", p.ID),
		zap.String("photo", p.Photo),
		zap.Float64("x", r.X), zap.Float64("y", r.Y),
		zap.Float64("width", r.Width), zap.Float64("height", r.Height),
	)
	return nil
}

// discard deletes ref if it is still on disk. A missing file counts as already clean.
func (m *Manager) discard(ref string) error {
	if IsDefault(ref) || !m.store.Exists(ref) {
		return nil
	}
	if err := m.store.Remove(ref); err != nil {
		return fmt.Errorf("remove photo %s: %w", ref, err)
	}
	m.logger.Info("removed stale photo", zap.String("photo", ref))
	return nil
}
