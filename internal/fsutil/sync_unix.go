//go:build unix

package fsutil

import "github.com/spf13/afero"

// SyncDir flushes directory metadata so a rename survives a crash.
func SyncDir(fsys afero.Fs, dir string) error {
	d, err := fsys.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}
