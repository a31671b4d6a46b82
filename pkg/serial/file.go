package serial

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"sync"

	"github.com/spf13/afero"

	"github.com/remiblancher/eassl/internal/fsutil"
	"github.com/remiblancher/eassl/pkg/pki"
)

// FileStore keeps the counter in a text file holding the hex value.
type FileStore struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	next *big.Int
}

var _ Store = (*FileStore)(nil)

// LoadFile opens an existing counter file.
func LoadFile(fsys afero.Fs, path string) (*FileStore, error) {
	v, err := readValue(fsys, path)
	if err != nil {
		return nil, err
	}
	return &FileStore{fs: fsys, path: path, next: v}, nil
}

// CreateFile writes a new counter file holding start (1 when nil). An
// existing file is only replaced when its value is not larger than start.
func CreateFile(ctx context.Context, fsys afero.Fs, path string, start *big.Int) (*FileStore, error) {
	v, err := checkStart(start)
	if err != nil {
		return nil, err
	}

	existing, err := readValue(fsys, path)
	switch {
	case err == nil && existing.Cmp(v) > 0:
		return nil, pki.NewPathError("create serial", pki.KindConflict, path,
			fmt.Errorf("existing counter %s is ahead of %s", Format(existing), Format(v)))
	case err != nil && !pki.IsNotFound(err):
		return nil, err
	}

	s := &FileStore{fs: fsys, path: path, next: v}
	if err := s.Persist(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func readValue(fsys afero.Fs, path string) (*big.Int, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, pki.NewPathError("load serial", pki.KindNotFound, path, err)
		}
		return nil, pki.NewPathError("load serial", pki.KindFormat, path, err)
	}
	v, err := Parse(string(data))
	if err != nil {
		return nil, pki.NewPathError("load serial", pki.KindFormat, path, errors.Unwrap(err))
	}
	return v, nil
}

// Path returns the counter file path.
func (s *FileStore) Path() string {
	return s.path
}

// Advance moves the in-memory counter forward to v. A counter already at or
// past v is unchanged.
func (s *FileStore) Advance(v *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v != nil && v.Cmp(s.next) > 0 {
		s.next = new(big.Int).Set(v)
	}
}

func (s *FileStore) PeekNext() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.next)
}

func (s *FileStore) Issue() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.next
	s.next = inc(v)
	return new(big.Int).Set(v)
}

// Persist writes the counter through a temp file in the same directory,
// synced and renamed over the old file.
func (s *FileStore) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(s.next)
}

// Reserve takes the next value under the process mutex and, on the OS
// filesystem, an exclusive flock on <path>.lock. The file is re-read under
// the lock so another process's reservations are never repeated.
func (s *FileStore) Reserve(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(ctx, s.fs, s.path+".lock")
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", s.path, err)
	}
	defer unlock()

	onDisk, err := readValue(s.fs, s.path)
	switch {
	case err == nil:
		if onDisk.Cmp(s.next) > 0 {
			s.next = onDisk
		}
	case !pki.IsNotFound(err):
		return nil, err
	}

	v := s.next
	next := inc(v)
	if err := s.writeLocked(next); err != nil {
		return nil, err
	}
	s.next = next
	return new(big.Int).Set(v), nil
}

func (s *FileStore) writeLocked(v *big.Int) error {
	if err := fsutil.WriteAtomic(s.fs, s.path, []byte(Format(v)), 0644); err != nil {
		return fmt.Errorf("failed to persist serial %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
