package serial

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.etcd.io/bbolt"

	"github.com/remiblancher/eassl/internal/fsutil"
	"github.com/remiblancher/eassl/pkg/pki"
)

var serialBucket = []byte("serials")

const boltTimeout = 5 * time.Second

// BoltStore keeps the counter in a bbolt database. Reserve is a single
// read-modify-write transaction; bbolt's file lock keeps other processes
// out while the database is open.
//
// A store with a mirror file also keeps that file in step: Reserve takes
// the larger of the database and file values under the file's flock and
// writes the advance to both, so a FileStore on the same file never repeats
// a value handed out here.
type BoltStore struct {
	db   *bbolt.DB
	key  []byte
	mu   sync.Mutex
	next *big.Int

	mirrorFs   afero.Fs
	mirrorPath string
}

var _ Store = (*BoltStore)(nil)

// OpenBolt opens (or creates) the database at path and the counter named
// name inside it. start is a floor: a missing counter, or one behind start,
// is set to start.
func OpenBolt(path, name string, start *big.Int) (*BoltStore, error) {
	if name == "" {
		return nil, pki.NewError("open serial db", pki.KindInvalidInput, errors.New("counter name is required"))
	}
	v, err := checkStart(start)
	if err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: boltTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}

	s := &BoltStore{db: db, key: []byte(name)}
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(serialBucket)
		if err != nil {
			return err
		}
		stored, err := s.stored(b, path)
		if err != nil {
			return err
		}
		if stored != nil && stored.Cmp(v) >= 0 {
			s.next = stored
			return nil
		}
		s.next = v
		return b.Put(s.key, []byte(Format(v)))
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// PeekBolt reads the counter name from the database at path without
// creating anything. A missing database or counter is a NotFound error.
func PeekBolt(path, name string) (*big.Int, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, pki.NewPathError("peek serial db", pki.KindNotFound, path, err)
		}
		return nil, pki.NewPathError("peek serial db", pki.KindFormat, path, err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: boltTimeout, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	defer func() { _ = db.Close() }()

	var v *big.Int
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(serialBucket)
		if b == nil || b.Get([]byte(name)) == nil {
			return pki.NewPathError("peek serial db", pki.KindNotFound, path, fmt.Errorf("no counter %q", name))
		}
		raw := b.Get([]byte(name))
		parsed, err := Parse(string(raw))
		if err != nil {
			return pki.NewPathError("peek serial db", pki.KindFormat, path, errors.Unwrap(err))
		}
		v = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *BoltStore) stored(b *bbolt.Bucket, path string) (*big.Int, error) {
	raw := b.Get(s.key)
	if raw == nil {
		return nil, nil
	}
	v, err := Parse(string(raw))
	if err != nil {
		return nil, pki.NewPathError("read serial db", pki.KindFormat, path, errors.Unwrap(err))
	}
	return v, nil
}

// Mirror ties the counter to the text file at path on fsys. A file that is
// ahead of the database moves the counter forward; a missing file is
// created on the next Reserve or Persist.
func (s *BoltStore) Mirror(fsys afero.Fs, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mirrorFs = fsys
	s.mirrorPath = path

	v, err := readValue(fsys, path)
	switch {
	case err == nil:
		if v.Cmp(s.next) > 0 {
			s.next = v
		}
		return nil
	case pki.IsNotFound(err):
		return nil
	default:
		return err
	}
}

func (s *BoltStore) PeekNext() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.next)
}

func (s *BoltStore) Issue() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.next
	s.next = inc(v)
	return new(big.Int).Set(v)
}

// Persist writes the in-memory counter to the database and, when mirrored,
// raises the mirror file to it.
func (s *BoltStore) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockMirror(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := s.raiseMirror(s.next); err != nil {
			return err
		}
		return tx.Bucket(serialBucket).Put(s.key, []byte(Format(s.next)))
	})
}

func (s *BoltStore) Reserve(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lockMirror(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var reserved *big.Int
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(serialBucket)
		current := s.next
		stored, err := s.stored(b, s.db.Path())
		if err != nil {
			return err
		}
		if stored != nil && stored.Cmp(current) > 0 {
			current = stored
		}
		if s.mirrorFs != nil {
			onDisk, err := readValue(s.mirrorFs, s.mirrorPath)
			switch {
			case err == nil:
				if onDisk.Cmp(current) > 0 {
					current = onDisk
				}
			case !pki.IsNotFound(err):
				return err
			}
		}

		next := inc(current)
		// The mirror is written first: if the commit fails it is ahead, never behind.
		if err := s.raiseMirror(next); err != nil {
			return err
		}
		reserved = current
		return b.Put(s.key, []byte(Format(next)))
	})
	if err != nil {
		return nil, fmt.Errorf("reserving serial: %w", err)
	}

	s.next = inc(reserved)
	return new(big.Int).Set(reserved), nil
}

func (s *BoltStore) lockMirror(ctx context.Context) (func(), error) {
	if s.mirrorFs == nil {
		return func() {}, nil
	}
	unlock, err := lockFile(ctx, s.mirrorFs, s.mirrorPath+".lock")
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", s.mirrorPath, err)
	}
	return unlock, nil
}

// raiseMirror writes v to the mirror file unless the file already holds a
// larger value. The caller holds the mirror lock.
func (s *BoltStore) raiseMirror(v *big.Int) error {
	if s.mirrorFs == nil {
		return nil
	}
	onDisk, err := readValue(s.mirrorFs, s.mirrorPath)
	switch {
	case err == nil:
		if onDisk.Cmp(v) >= 0 {
			return nil
		}
	case !pki.IsNotFound(err):
		return err
	}
	if err := fsutil.WriteAtomic(s.mirrorFs, s.mirrorPath, []byte(Format(v)), 0644); err != nil {
		return fmt.Errorf("failed to persist serial %s: %w", s.mirrorPath, err)
	}
	return nil
}

// Close releases the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
