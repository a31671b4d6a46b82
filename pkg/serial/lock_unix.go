//go:build unix

package serial

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

const lockRetryInterval = 10 * time.Millisecond

// lockFile takes an exclusive advisory lock on path. Only the OS filesystem
// is shared between processes; for other filesystems the caller's mutex is
// enough and the returned unlock is a no-op.
func lockFile(ctx context.Context, fsys afero.Fs, path string) (func(), error) {
	if _, ok := fsys.(*afero.OsFs); !ok {
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	fd := int(f.Fd())

	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			_ = f.Close()
			return nil, err
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		_ = unix.Flock(fd, unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
