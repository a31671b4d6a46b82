package ca

import (
	"errors"
	"math/big"

	"github.com/spf13/afero"

	pkicrypto "github.com/remiblancher/eassl/pkg/crypto"
	"github.com/remiblancher/eassl/pkg/pki"
	"github.com/remiblancher/eassl/pkg/x509util"
)

// DefaultName is the subject of an authority created without a name.
var DefaultName = x509util.DistinguishedName{CommonName: "CA"}

// AuthorityOptions configures NewAuthorityCertificate.
type AuthorityOptions struct {
	// Name defaults to CN=CA.
	Name x509util.DistinguishedName
	// ValidDays defaults to 3650.
	ValidDays int
	// Digest defaults to sha512.
	Digest x509util.Digest
	// Serial defaults to a random 128-bit value.
	Serial *big.Int
}

// NewAuthorityCertificate builds a self-signed CA certificate for key.
func NewAuthorityCertificate(key *pkicrypto.Key, opts AuthorityOptions) (*x509util.Certificate, error) {
	if key == nil {
		return nil, pki.NewError("create authority", pki.KindInvalidInput, errors.New("key is required"))
	}
	name := opts.Name
	if name.IsZero() {
		name = DefaultName
	}

	csr, err := x509util.NewSigningRequest(name, key)
	if err != nil {
		return nil, err
	}
	return x509util.NewCertificate(csr, x509util.CertificateOptions{
		Serial:    opts.Serial,
		Role:      x509util.RoleCA,
		ValidDays: opts.ValidDays,
		Digest:    opts.Digest,
	})
}

// LoadAuthorityCertificateFile loads a CA certificate and checks that it is
// self-issued, comparing the encoded issuer and subject names.
func LoadAuthorityCertificateFile(fsys afero.Fs, path string) (*x509util.Certificate, error) {
	cert, err := x509util.LoadCertificateFile(fsys, path)
	if err != nil {
		return nil, err
	}
	if !cert.IsSelfSigned() {
		return nil, pki.NewPathError("load authority", pki.KindFormat, path,
			errors.New("authority certificate is not self-signed"))
	}
	return cert, nil
}
