// Package audit compares profile photo references with the files under the
// upload base. It reports profiles pointing at missing files and files under
// photos/ that no profile references, and can repair both.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"labweb/models"
	"labweb/pkg/photo"
	"labweb/pkg/storage"
)

// PhotoDir is the storage prefix uploaded profile photos live under.
const PhotoDir = "photos"

// DefaultGrace is how old an unreferenced file must be before it counts as
// an orphan. Younger files may belong to a save that has not committed yet.
const DefaultGrace = 15 * time.Minute

type Options struct {
	// Fix resets broken profiles and deletes orphans.
	Fix bool
	// Grace defaults to DefaultGrace.
	Grace time.Duration
}

// Missing is a profile whose photo file is gone.
type Missing struct {
	UserID   int64
	Username string
	Photo    string
}

type Report struct {
	Profiles       int
	Missing        []Missing
	Orphans        []string
	DefaultMissing bool
	// unreferenced but within the grace period; never removed
	Recent []string
	// filled when fixing
	Reset   int64
	Removed int
}

// Run audits the photo references. With opts.Fix set, broken profiles are
// reset to the default photo and orphaned files are deleted.
func Run(ctx context.Context, db *sql.DB, media *storage.Local, opts Options, logger *zap.Logger) (Report, error) {
	var rep Report
	referenced := map[string]bool{}

	rows, err := db.QueryContext(ctx, `SELECT p.user_id, u.username, p.photo FROM profiles p JOIN users u ON u.id = p.user_id ORDER BY p.user_id`)
	if err != nil {
		return rep, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m Missing
		if err := rows.Scan(&m.UserID, &m.Username, &m.Photo); err != nil {
			return rep, fmt.Errorf("scan profile: %w", err)
		}
		rep.Profiles++
		ref := storage.Clean(m.Photo)
		if ref == "" || photo.IsDefault(ref) {
			continue
		}
		referenced[ref] = true
		if !media.Exists(ref) {
			rep.Missing = append(rep.Missing, m)
		}
	}
	if err := rows.Err(); err != nil {
		return rep, err
	}
	rep.DefaultMissing = !media.Exists(models.DefaultPhoto)

	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	rep.Orphans, rep.Recent, err = orphans(media, referenced, time.Now().Add(-grace))
	if err != nil {
		return rep, err
	}
	logger.Info("audit finished",
		zap.Int("profiles", rep.Profiles),
		zap.Int("missing", len(rep.Missing)),
		zap.Int("orphans", len(rep.Orphans)),
		zap.Int("recent", len(rep.Recent)),
		zap.Bool("default_missing", rep.DefaultMissing),
	)
	if !opts.Fix {
		return rep, nil
	}

	if rep.DefaultMissing {
		if err := photo.EnsureDefault(media); err != nil {
			return rep, fmt.Errorf("restore default photo: %w", err)
		}
		logger.Info("default photo restored")
	}
	if len(rep.Missing) > 0 {
		ids := make([]int64, 0, len(rep.Missing))
		for _, m := range rep.Missing {
			ids = append(ids, m.UserID)
		}
		res, err := db.ExecContext(ctx,
			`UPDATE profiles SET photo = $1, crop_x = 0, crop_y = 0, crop_width = 0, crop_height = 0, updated_at = now() WHERE user_id = ANY($2)`,
			models.DefaultPhoto, pq.Array(ids))
		if err != nil {
			return rep, fmt.Errorf("reset profiles: %w", err)
		}
		rep.Reset, _ = res.RowsAffected()
		logger.Info("profiles reset to default photo", zap.Int64("count", rep.Reset))
	}
	for _, ref := range rep.Orphans {
		if err := media.Remove(ref); err != nil {
			logger.Warn("could not remove orphan", zap.String("photo", ref), zap.Error(err))
			continue
		}
		rep.Removed++
	}
	return rep, nil
}

// orphans lists files under PhotoDir that are not in referenced and were
// last modified before cutoff. Unreferenced files newer than cutoff are
// returned as recent. Partial uploads (.upload-*) are skipped.
func orphans(media *storage.Local, referenced map[string]bool, cutoff time.Time) (old, recent []string, err error) {
	root := filepath.Join(media.Base(), PhotoDir)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(media.Base(), path)
		if err != nil {
			return err
		}
		ref := storage.Clean(filepath.ToSlash(rel))
		if referenced[ref] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			recent = append(recent, ref)
		} else {
			old = append(old, ref)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(old)
	sort.Strings(recent)
	return old, recent, nil
}
