// Package ca ties a key, a self-signed authority certificate and a serial
// store into a certificate authority that signs requests.
package ca

import (
	"errors"
	"fmt"

	"github.com/remiblancher/eassl/pkg/pki"
)

// CAError represents a Certificate Authority operation error with structured context.
// It supports errors.Is() and errors.As().
type CAError struct {
	Op     string // Operation: "create", "load", "save", "issue"
	Serial string // Certificate serial number (if applicable)
	Err    error
}

func (e *CAError) Error() string {
	if e.Serial != "" {
		return fmt.Sprintf("ca %s [%s]: %v", e.Op, e.Serial, e.Err)
	}
	return fmt.Sprintf("ca %s: %v", e.Op, e.Err)
}

func (e *CAError) Unwrap() error { return e.Err }

// NewCAError creates a new CAError with the given operation and error.
func NewCAError(op string, err error) *CAError {
	return &CAError{Op: op, Err: err}
}

// NewCAErrorWithSerial creates a new CAError carrying the serial that was
// consumed before the failure.
func NewCAErrorWithSerial(op, serial string, err error) *CAError {
	return &CAError{Op: op, Serial: serial, Err: err}
}

// Mismatched or non-CA material is a format error.
var (
	// ErrKeyMismatch indicates the private key does not match the certificate.
	ErrKeyMismatch = pki.NewError("ca", pki.KindFormat, errors.New("key does not match certificate"))

	// ErrNotAuthority indicates the certificate cannot sign other certificates.
	ErrNotAuthority = pki.NewError("ca", pki.KindFormat, errors.New("certificate is not a CA"))
)
