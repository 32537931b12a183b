package paperseed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"labweb/models"
	"labweb/pkg/store"
)

const sample = `
papers:
  - title: " Deep Nets "
    author: A. Lovelace
    year: 2021
    publisher: JMLR
    link: https://example.org/deep
  - title: Sparse Codes
    author: G. Hopper
    year: 2019
`

type fakePapers struct {
	rows    []*models.Paper
	updates int
}

func (f *fakePapers) PaperByTitleAuthor(_ context.Context, title, author string) (*models.Paper, error) {
	for _, p := range f.rows {
		if p.Title == title && p.Author == author {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakePapers) CreatePaper(_ context.Context, p *models.Paper) error {
	p.ID = uint(len(f.rows) + 1)
	cp := *p
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakePapers) UpdatePaper(_ context.Context, p *models.Paper) error {
	f.updates++
	for i, r := range f.rows {
		if r.ID == p.ID {
			cp := *p
			f.rows[i] = &cp
		}
	}
	return nil
}

func TestLoad(t *testing.T) {
	entries, err := Load(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Deep Nets", entries[0].Title)
	assert.Equal(t, 2019, entries[1].Year)
}

func TestLoadRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":  "papers:\n  - title: A\n    author: B\n    year: 2020\n    pages: 12\n",
		"no author":    "papers:\n  - title: A\n    year: 2020\n",
		"year too old": "papers:\n  - title: A\n    author: B\n    year: 1200\n",
	} {
		_, err := Load(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadEmpty(t *testing.T) {
	entries, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestApplyIsIdempotent(t *testing.T) {
	entries, err := Load(strings.NewReader(sample))
	require.NoError(t, err)
	papers := &fakePapers{}
	ctx := context.Background()

	created, updated, err := Apply(ctx, papers, entries, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, 0, updated)

	papers.rows[0].Document = "papers/keep.pdf"
	entries[0].Publisher = "NeurIPS"
	created, updated, err = Apply(ctx, papers, entries, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 2, updated)
	require.Len(t, papers.rows, 2)
	assert.Equal(t, "NeurIPS", papers.rows[0].Publisher)
	assert.Equal(t, "papers/keep.pdf", papers.rows[0].Document, "documents survive a reseed")
}
