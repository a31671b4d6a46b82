package pki

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// PKIError Tests
// =============================================================================

func TestU_PKIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *PKIError
		expected string
	}{
		{
			name:     "[Unit] PKIError: with wrapped error",
			err:      NewError("issue", KindCrypto, errors.New("test error")),
			expected: "issue: test error",
		},
		{
			name:     "[Unit] PKIError: with path",
			err:      NewPathError("load key", KindNotFound, "/ca/cakey.pem", errors.New("no such file")),
			expected: "load key /ca/cakey.pem: no such file",
		},
		{
			name:     "[Unit] PKIError: without wrapped error",
			err:      &PKIError{Op: "pem", Kind: KindNotSigned},
			expected: "pem: not signed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestU_PKIError_Is(t *testing.T) {
	tests := []struct {
		name     string
		kind     ErrorKind
		sentinel error
	}{
		{"[Unit] Is: NotFound", KindNotFound, ErrNotFound},
		{"[Unit] Is: Format", KindFormat, ErrFormat},
		{"[Unit] Is: Decryption", KindDecryption, ErrDecryption},
		{"[Unit] Is: NotSigned", KindNotSigned, ErrNotSigned},
		{"[Unit] Is: Crypto", KindCrypto, ErrCrypto},
		{"[Unit] Is: InvalidInput", KindInvalidInput, ErrInvalidInput},
		{"[Unit] Is: Conflict", KindConflict, ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("context: %w", NewError("op", tt.kind, errors.New("inner")))
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}

	t.Run("[Unit] Is: other kinds do not match", func(t *testing.T) {
		err := NewError("op", KindFormat, nil)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestU_Predicates(t *testing.T) {
	assert.True(t, IsNotFound(NewError("op", KindNotFound, nil)))
	assert.True(t, IsFormat(NewError("op", KindFormat, nil)))
	assert.True(t, IsDecryption(NewError("op", KindDecryption, nil)))
	assert.True(t, IsNotSigned(NewError("op", KindNotSigned, nil)))
	assert.True(t, IsCrypto(NewError("op", KindCrypto, nil)))
	assert.True(t, IsInvalidInput(NewError("op", KindInvalidInput, nil)))

	assert.False(t, IsNotFound(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestU_PKIError_ExitCode(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected int
	}{
		{KindNotFound, 2},
		{KindFormat, 3},
		{KindInvalidInput, 3},
		{KindDecryption, 4},
		{KindConflict, 5},
		{KindCrypto, 1},
		{KindUnknown, 1},
	}

	for _, tt := range tests {
		t.Run("[Unit] ExitCode: "+tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, NewError("op", tt.kind, nil).ExitCode())
		})
	}
}
