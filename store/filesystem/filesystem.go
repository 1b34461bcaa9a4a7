package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"github.com/mdpipe/mdcache/internal/lock"
	"github.com/mdpipe/mdcache/internal/util"
	"github.com/mdpipe/mdcache/store"
)

const (
	// Ext is the suffix of every cache file.
	Ext = ".json.gz"

	tempSuffix = ".tmp"
	hashLen    = 64
	dirPerm    = 0o755
	filePerm   = 0o644
)

type Options struct {
	// Dir holds the cache files. Required. With the default FS it is
	// resolved to an absolute path.
	Dir string
	// FS is the filesystem Dir lives on. nil => the OS filesystem.
	FS    billy.Filesystem
	Clock store.Clock // nil => time.Now
	Hooks store.Hooks // nil => store.NopHooks
}

type Store struct {
	fs    billy.Filesystem
	dir   string
	lock  lock.Mutex
	now   store.Clock
	hooks store.Hooks
	codec func() *codec
}

var _ store.Storage = (*Store)(nil)

func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("filesystem store: dir is required: %w", store.ErrUnavailable)
	}
	bfs, dir := opts.FS, opts.Dir
	if bfs == nil {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("filesystem store: resolve dir: %w", err)
		}
		bfs, dir = osfs.New("/"), abs
	}
	return &Store{
		fs:    bfs,
		dir:   dir,
		now:   store.ClockOrNow(opts.Clock),
		hooks: store.HooksOrNop(opts.Hooks),
		codec: sync.OnceValue(newCodec),
	}, nil
}

// Dir returns the directory holding the cache files.
func (s *Store) Dir() string { return s.dir }

// Path returns the file that holds key.
func (s *Store) Path(key string) string {
	return s.fs.Join(s.dir, util.HashKey(key)+Ext)
}

func (s *Store) ready(ctx context.Context) error {
	if s == nil || s.fs == nil || s.dir == "" {
		return store.ErrUnavailable
	}
	return ctx.Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.ready(ctx); err != nil {
		return "", false, err
	}
	p := s.Path(key)
	e, err := s.read(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", false, nil
	case err == nil && !e.Expired(s.now()):
		return e.Data, true, nil
	case err != nil && !errors.Is(err, store.ErrCorrupt):
		return "", false, fmt.Errorf("filesystem store: read %s: %w", p, err)
	}

	// expired or corrupt: re-check under the lock, a writer may have replaced it
	var reason string
	err = s.lock.Do(func() error {
		var err error
		_, reason, err = s.inspectLocked(p, s.now())
		return err
	})
	if reason != "" {
		s.hooks.SelfHeal(s.dir, key, reason)
	}
	return "", false, err
}

func (s *Store) Set(ctx context.Context, key, value string, opts ...store.SetOption) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	so, err := store.ResolveSetOptions(opts)
	if err != nil {
		return err
	}
	return s.lock.Do(func() error {
		b, err := store.NewEntry(value, s.now(), so).Marshal()
		if err != nil {
			return err
		}
		return s.writeLocked(s.Path(key), b)
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.lock.Do(func() error {
		return s.remove(s.Path(key))
	})
}

// Clear removes every cache file in Dir, plus temporary files abandoned by
// writers that died mid-write.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.lock.Do(func() error {
		infos, err := s.readDir()
		if err != nil {
			return err
		}
		for _, fi := range infos {
			name := fi.Name()
			if fi.IsDir() || !(isEntryName(name) || isTempName(name)) {
				continue
			}
			if err := s.remove(s.fs.Join(s.dir, name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Size lists Dir without the lock, then inspects each entry under it.
//
// Filenames are hashes, so SelfHeal events raised here carry the filename
// stem (util.HashKey of the original key) rather than the key itself.
func (s *Store) Size(ctx context.Context) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	infos, err := s.readDir()
	if err != nil {
		return 0, err
	}
	n := 0
	var healed [][2]string
	err = s.lock.Do(func() error {
		now := s.now()
		for _, fi := range infos {
			name := fi.Name()
			if fi.IsDir() || !isEntryName(name) {
				continue
			}
			live, reason, err := s.inspectLocked(s.fs.Join(s.dir, name), now)
			if err != nil {
				return err
			}
			if reason != "" {
				healed = append(healed, [2]string{strings.TrimSuffix(name, Ext), reason})
			}
			if live {
				n++
			}
		}
		return nil
	})
	for _, h := range healed {
		s.hooks.SelfHeal(s.dir, h[0], h[1])
	}
	return n, err
}

// inspectLocked re-reads p and removes it when expired or corrupt, returning
// the SelfHeal reason for a removal. Caller holds s.lock.
func (s *Store) inspectLocked(p string, now time.Time) (live bool, reason string, err error) {
	e, err := s.read(p)
	reason = store.ReasonExpired
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, "", nil
	case errors.Is(err, store.ErrCorrupt):
		reason = store.ReasonCorrupt
	case err != nil:
		return false, "", fmt.Errorf("filesystem store: read %s: %w", p, err)
	case !e.Expired(now):
		return true, "", nil
	}
	if err := s.remove(p); err != nil {
		return false, "", err
	}
	return false, reason, nil
}

func (s *Store) read(p string) (store.Entry, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return store.Entry{}, err
	}
	defer f.Close()
	b, err := s.codec().decompress(f)
	if err != nil {
		return store.Entry{}, err
	}
	return store.UnmarshalEntry(b)
}

// writeLocked writes data to p through a temporary file and a rename.
// On failure the temporary file is removed and p is left untouched.
func (s *Store) writeLocked(p string, data []byte) (err error) {
	if err := s.fs.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("filesystem store: create dir %s: %w", s.dir, err)
	}
	tmp := s.fs.Join(s.dir, tempName(filepath.Base(p)))
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return fmt.Errorf("filesystem store: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = s.fs.Remove(tmp)
		}
	}()

	if err := s.codec().compress(f, data); err != nil {
		_ = f.Close()
		return fmt.Errorf("filesystem store: write %s: %w", tmp, err)
	}
	if sf, ok := f.(interface{ Sync() error }); ok {
		if err := sf.Sync(); err != nil {
			_ = f.Close()
			return fmt.Errorf("filesystem store: sync %s: %w", tmp, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("filesystem store: close %s: %w", tmp, err)
	}

	if err := s.fs.Rename(tmp, p); err != nil {
		// some platforms refuse to rename onto an existing file
		if rmErr := s.fs.Remove(p); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return fmt.Errorf("filesystem store: replace %s: %w", p, errors.Join(err, rmErr))
		}
		if err := s.fs.Rename(tmp, p); err != nil {
			return fmt.Errorf("filesystem store: rename %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) remove(p string) error {
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filesystem store: remove %s: %w", p, err)
	}
	return nil
}

// readDir lists Dir. A missing Dir is an empty store.
func (s *Store) readDir() ([]os.FileInfo, error) {
	infos, err := s.fs.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filesystem store: list %s: %w", s.dir, err)
	}
	return infos, nil
}

// tempName is unique per process, instant and call: pid, nanoseconds and a
// random UUID.
func tempName(base string) string {
	return fmt.Sprintf(".%s.%d.%d.%s%s",
		strings.TrimSuffix(base, Ext)[:16], os.Getpid(), time.Now().UnixNano(), uuid.NewString(), tempSuffix)
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix)
}

func isEntryName(name string) bool {
	return len(name) == hashLen+len(Ext) && strings.HasSuffix(name, Ext)
}
