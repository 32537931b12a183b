package store

import (
	"context"

	"labweb/models"
)

// ListPapers returns the catalog, newest first.
func (s *Store) ListPapers(ctx context.Context) ([]models.Paper, error) {
	var papers []models.Paper
	err := s.db.WithContext(ctx).Order("year desc").Order("id desc").Find(&papers).Error
	return papers, err
}

func (s *Store) PaperByID(ctx context.Context, id uint) (*models.Paper, error) {
	var p models.Paper
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// PaperByTitleAuthor finds a catalog entry by its display identity.
func (s *Store) PaperByTitleAuthor(ctx context.Context, title, author string) (*models.Paper, error) {
	var p models.Paper
	if err := s.db.WithContext(ctx).Where("title = ? AND author = ?", title, author).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) CreatePaper(ctx context.Context, p *models.Paper) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *Store) UpdatePaper(ctx context.Context, p *models.Paper) error {
	res := s.db.WithContext(ctx).Model(p).
		Select("author", "title", "year", "publisher", "link", "document", "document_name").
		Updates(p)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePaper removes the row and returns it so the caller can drop the document.
func (s *Store) DeletePaper(ctx context.Context, id uint) (*models.Paper, error) {
	p, err := s.PaperByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(&models.Paper{}, id).Error; err != nil {
		return nil, err
	}
	return p, nil
}
