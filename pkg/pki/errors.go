// Package pki defines the error kinds shared by the eassl packages.
//
// Every failure surfaced by the key, certificate, serial and CA packages is a
// *PKIError carrying an ErrorKind, so callers branch on the kind instead of
// matching error strings:
//
//	key, err := crypto.LoadKeyFile(fs, path, pass)
//	if pki.IsDecryption(err) {
//	    // ask for the passphrase again
//	}
package pki

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes errors.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindNotFound: a key, certificate or serial file does not exist.
	KindNotFound
	// KindFormat: content is not a well-formed key, CSR, certificate or serial value.
	KindFormat
	// KindDecryption: passphrase missing or wrong for an encrypted key.
	KindDecryption
	// KindNotSigned: serialization requested before the certificate was signed.
	KindNotSigned
	// KindCrypto: an underlying primitive failed.
	KindCrypto
	// KindInvalidInput: the caller passed an unusable option.
	KindInvalidInput
	// KindConflict: the operation would overwrite existing state.
	KindConflict
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindFormat:
		return "format error"
	case KindDecryption:
		return "decryption error"
	case KindNotSigned:
		return "not signed"
	case KindCrypto:
		return "crypto failure"
	case KindInvalidInput:
		return "invalid input"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind. errors.Is(err, ErrNotFound) holds for any
// *PKIError of kind KindNotFound.
var (
	ErrNotFound     = errors.New("not found")
	ErrFormat       = errors.New("format error")
	ErrDecryption   = errors.New("decryption error")
	ErrNotSigned    = errors.New("certificate not signed")
	ErrCrypto       = errors.New("crypto failure")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// PKIError wraps errors with the operation, kind and (optionally) the file
// path involved.
type PKIError struct {
	Op   string // Operation that failed (e.g. "load key", "issue")
	Kind ErrorKind
	Path string
	Err  error
}

func (e *PKIError) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", msg, e.Kind)
}

func (e *PKIError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *PKIError) Is(target error) bool {
	return target != nil && target == sentinel(e.Kind)
}

func sentinel(k ErrorKind) error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindFormat:
		return ErrFormat
	case KindDecryption:
		return ErrDecryption
	case KindNotSigned:
		return ErrNotSigned
	case KindCrypto:
		return ErrCrypto
	case KindInvalidInput:
		return ErrInvalidInput
	case KindConflict:
		return ErrConflict
	default:
		return nil
	}
}

// ExitCode returns the process exit code the CLI uses for this error.
func (e *PKIError) ExitCode() int {
	switch e.Kind {
	case KindNotFound:
		return 2
	case KindFormat, KindInvalidInput:
		return 3
	case KindDecryption:
		return 4
	case KindConflict:
		return 5
	default:
		return 1
	}
}

// NewError creates a new PKIError.
func NewError(op string, kind ErrorKind, err error) *PKIError {
	return &PKIError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// NewPathError creates a new PKIError that names the file involved.
func NewPathError(op string, kind ErrorKind, path string, err error) *PKIError {
	return &PKIError{
		Op:   op,
		Kind: kind,
		Path: path,
		Err:  err,
	}
}

// KindOf returns the kind of the first *PKIError in err's chain.
func KindOf(err error) ErrorKind {
	var pkiErr *PKIError
	if errors.As(err, &pkiErr) {
		return pkiErr.Kind
	}
	return KindUnknown
}

// IsNotFound checks if an error indicates a missing file.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsFormat checks if an error indicates malformed content.
func IsFormat(err error) bool { return KindOf(err) == KindFormat }

// IsDecryption checks if an error indicates a missing or wrong passphrase.
func IsDecryption(err error) bool { return KindOf(err) == KindDecryption }

// IsNotSigned checks if an error indicates an unsigned certificate.
func IsNotSigned(err error) bool { return KindOf(err) == KindNotSigned }

// IsCrypto checks if an error indicates a primitive failure.
func IsCrypto(err error) bool { return KindOf(err) == KindCrypto }

// IsInvalidInput checks if an error indicates an unusable option.
func IsInvalidInput(err error) bool { return KindOf(err) == KindInvalidInput }
