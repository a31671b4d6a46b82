//go:build !unix

package fsutil

import "github.com/spf13/afero"

// SyncDir is a no-op where directories cannot be synced.
func SyncDir(_ afero.Fs, _ string) error {
	return nil
}
