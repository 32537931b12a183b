// Package paperseed loads a YAML paper catalog into the database. Entries are
// matched on title and author, so running it twice updates instead of
// duplicating.
package paperseed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"labweb/models"
	"labweb/pkg/store"
)

// Entry is one catalog item as written in the YAML file.
type Entry struct {
	Title     string `yaml:"title"`
	Author    string `yaml:"author"`
	Year      int    `yaml:"year"`
	Publisher string `yaml:"publisher"`
	Link      string `yaml:"link"`
}

type catalog struct {
	Papers []Entry `yaml:"papers"`
}

// Load parses a catalog. Unknown keys are rejected.
func Load(r io.Reader) ([]Entry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i := range c.Papers {
		e := &c.Papers[i]
		e.Title = strings.TrimSpace(e.Title)
		e.Author = strings.TrimSpace(e.Author)
		if e.Title == "" || e.Author == "" {
			return nil, fmt.Errorf("entry %d: title and author are required", i+1)
		}
		if e.Year < 1900 || e.Year > 2100 {
			return nil, fmt.Errorf("entry %d (%s): year %d out of range", i+1, e.Title, e.Year)
		}
	}
	return c.Papers, nil
}

// Papers is the part of the store the seeder writes through.
type Papers interface {
	PaperByTitleAuthor(ctx context.Context, title, author string) (*models.Paper, error)
	CreatePaper(ctx context.Context, p *models.Paper) error
	UpdatePaper(ctx context.Context, p *models.Paper) error
}

// Apply upserts entries and reports how many rows were created and updated.
// Stored documents are left alone.
func Apply(ctx context.Context, papers Papers, entries []Entry, logger *zap.Logger) (created, updated int, err error) {
	for _, e := range entries {
		p, err := papers.PaperByTitleAuthor(ctx, e.Title, e.Author)
		switch {
		case errors.Is(err, store.ErrNotFound):
			p = &models.Paper{}
			fill(p, e)
			if err := papers.CreatePaper(ctx, p); err != nil {
				return created, updated, fmt.Errorf("create %q: %w", e.Title, err)
			}
			created++
			logger.Info("paper created", zap.String("paper", p.String()), zap.Int("year", p.Year))
		case err != nil:
			return created, updated, fmt.Errorf("lookup %q: %w", e.Title, err)
		default:
			fill(p, e)
			if err := papers.UpdatePaper(ctx, p); err != nil {
				return created, updated, fmt.Errorf("update %q: %w", e.Title, err)
			}
			updated++
			logger.Debug("paper updated", zap.Uint("paper_id", p.ID), zap.String("paper", p.String()))
		}
	}
	return created, updated, nil
}

func fill(p *models.Paper, e Entry) {
	p.Title = e.Title
	p.Author = e.Author
	p.Year = e.Year
	p.Publisher = strings.TrimSpace(e.Publisher)
	p.Link = strings.TrimSpace(e.Link)
}
