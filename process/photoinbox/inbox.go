// Package photoinbox imports profile photos dropped into a directory. A file
// named <username>.<ext> becomes that user's photo through the normal profile
// save path, so the old photo is removed and the new one normalized.
package photoinbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"labweb/models"
	"labweb/pkg/photo"
	"labweb/pkg/storage"
	"labweb/pkg/store"
)

// ErrUnknownUser is returned for a file whose name matches no user.
var ErrUnknownUser = errors.New("no user for inbox file")

// Profiles is the part of the store the inbox writes through.
type Profiles interface {
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID uint, fn func(p *models.Profile) error) (*models.Profile, error)
}

type Inbox struct {
	Dir      string
	Media    storage.Storage
	Profiles Profiles
	Logger   *zap.Logger
	// Workers defaults to NumCPU.
	Workers int
	// Settle is how long a file must stay unchanged before it is imported.
	Settle time.Duration
}

func (in *Inbox) workers() int {
	if in.Workers <= 0 {
		return runtime.NumCPU()
	}
	return in.Workers
}

func (in *Inbox) logger() *zap.Logger {
	if in.Logger == nil {
		return zap.NewNop()
	}
	return in.Logger
}

func (in *Inbox) settle() time.Duration {
	if in.Settle <= 0 {
		return 300 * time.Millisecond
	}
	return in.Settle
}

// Candidate reports whether name looks like an inbox photo.
func Candidate(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.TrimSuffix(name, filepath.Ext(name)) == "" {
		return false
	}
	return photo.CheckExtension(name) == nil
}

// Import stores Dir/name as the photo of the user it is named after and
// removes it from the inbox.
func (in *Inbox) Import(ctx context.Context, name string) error {
	if !Candidate(name) {
		return fmt.Errorf("%w: %s", photo.ErrUnsupportedFormat, name)
	}
	ext := filepath.Ext(name)
	username := strings.TrimSuffix(name, ext)
	user, err := in.Profiles.UserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrUnknownUser, name, err)
	}

	src := filepath.Join(in.Dir, name)
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	ref := "photos/" + xid.New().String() + strings.ToLower(ext)
	err = in.Media.Write(ref, f)
	f.Close()
	if err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	if _, _, err := photo.Dimensions(in.Media, ref); err != nil {
		in.discard(ref)
		return fmt.Errorf("decode %s: %w", name, err)
	}

	_, err = in.Profiles.UpdateProfile(ctx, user.ID, func(p *models.Profile) error {
		p.Photo = ref
		return nil
	})
	switch {
	case errors.Is(err, store.ErrNotNormalized):
		// committed: the profile points at ref
		in.logger().Warn("photo imported without normalizing", zap.String("username", username), zap.Error(err))
	case err != nil:
		in.discard(ref)
		return fmt.Errorf("save profile for %s: %w", username, err)
	}
	if err := os.Remove(src); err != nil {
		in.logger().Warn("imported file left in inbox", zap.String("file", name), zap.Error(err))
	}
	in.logger().Info("photo imported", zap.String("username", username), zap.String("photo", ref))
	return nil
}

func (in *Inbox) discard(ref string) {
	if err := in.Media.Remove(ref); err != nil {
		in.logger().Warn("failed to remove stored photo", zap.String("ref", ref), zap.Error(err))
	}
}

// List returns the inbox candidates currently in Dir, sorted by name.
func (in *Inbox) List() ([]string, error) {
	entries, err := os.ReadDir(in.Dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !Candidate(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Result counts the outcome of a batch.
type Result struct {
	Imported int64
	Failed   int64
}

// Scan imports everything currently in the inbox.
func (in *Inbox) Scan(ctx context.Context) (Result, error) {
	files, err := in.List()
	if err != nil {
		return Result{}, err
	}
	in.logger().Info("scanning inbox", zap.String("dir", in.Dir), zap.Int("files", len(files)), zap.Int("workers", in.workers()))
	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, f := range files {
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return in.run(ctx, ch), nil
}

// run feeds names from ch to the worker pool until ch is closed.
func (in *Inbox) run(ctx context.Context, ch <-chan string) Result {
	var res Result
	var wg sync.WaitGroup
	for i := 0; i < in.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range ch {
				if err := in.Import(ctx, name); err != nil {
					atomic.AddInt64(&res.Failed, 1)
					in.logger().Warn("import failed", zap.String("file", name), zap.Error(err))
					continue
				}
				atomic.AddInt64(&res.Imported, 1)
			}
		}()
	}
	wg.Wait()
	return res
}

// Watch imports files as they appear until ctx is cancelled. A file is picked
// up once it has not changed for Settle.
func (in *Inbox) Watch(ctx context.Context) (Result, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return Result{}, err
	}
	defer w.Close()
	if err := w.Add(in.Dir); err != nil {
		return Result{}, err
	}
	in.logger().Info("watching inbox", zap.String("dir", in.Dir), zap.Duration("settle", in.settle()))

	ch := make(chan string, 64)
	go func() {
		defer close(ch)
		pending := map[string]time.Time{}
		ticker := time.NewTicker(in.settle() / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				name := filepath.Base(ev.Name)
				if Candidate(name) {
					pending[name] = time.Now()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				in.logger().Warn("watch error", zap.Error(err))
			case now := <-ticker.C:
				for name, t := range pending {
					if now.Sub(t) < in.settle() {
						continue
					}
					delete(pending, name)
					select {
					case ch <- name:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return in.run(ctx, ch), nil
}
