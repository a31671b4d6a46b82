//go:build !unix

package serial

import (
	"context"

	"github.com/spf13/afero"
)

// lockFile only serializes within the process on this platform.
func lockFile(_ context.Context, _ afero.Fs, _ string) (func(), error) {
	return func() {}, nil
}
