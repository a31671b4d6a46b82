// Package serial keeps the certificate serial counter of a CA.
//
// A Store hands out each value at most once. Reserve is the only operation
// that is safe across processes: it takes the value and makes the advance
// durable in one critical section, so a serial is consumed before the
// certificate that uses it is built. If issuance fails afterwards the value
// is lost, never reused.
package serial

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/remiblancher/eassl/pkg/pki"
)

// Store is a monotonic serial counter.
type Store interface {
	// PeekNext returns the value the next Issue or Reserve will return.
	PeekNext() *big.Int

	// Issue returns the next value and advances the counter in memory only.
	Issue() *big.Int

	// Persist makes the in-memory counter durable.
	Persist(ctx context.Context) error

	// Reserve is Issue followed by Persist as one critical section.
	Reserve(ctx context.Context) (*big.Int, error)

	Close() error
}

var one = big.NewInt(1)

// Format renders v as uppercase hex padded to at least four digits, the
// format of serial.txt (e.g. 000B).
func Format(v *big.Int) string {
	return fmt.Sprintf("%04X", v)
}

// Parse reads a hex counter value. Surrounding whitespace is ignored.
func Parse(text string) (*big.Int, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, pki.NewError("parse serial", pki.KindFormat, errors.New("serial is empty"))
	}
	if s[0] == '-' || s[0] == '+' {
		return nil, pki.NewError("parse serial", pki.KindFormat, fmt.Errorf("serial %q is not hexadecimal", s))
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, pki.NewError("parse serial", pki.KindFormat, fmt.Errorf("serial %q is not hexadecimal", s))
	}
	return v, nil
}

func checkStart(start *big.Int) (*big.Int, error) {
	if start == nil {
		return big.NewInt(1), nil
	}
	if start.Sign() < 0 {
		return nil, pki.NewError("serial store", pki.KindInvalidInput, errors.New("start must not be negative"))
	}
	return new(big.Int).Set(start), nil
}

func inc(v *big.Int) *big.Int {
	return new(big.Int).Add(v, one)
}
