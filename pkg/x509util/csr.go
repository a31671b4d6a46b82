package x509util

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io/fs"

	"github.com/spf13/afero"

	pkicrypto "github.com/remiblancher/eassl/pkg/crypto"
	"github.com/remiblancher/eassl/pkg/pki"
)

const (
	PEMTypeCSR       = "CERTIFICATE REQUEST"
	pemTypeLegacyCSR = "NEW CERTIFICATE REQUEST"
)

// SigningRequest binds a subject name to a public key. Requests built with
// NewSigningRequest carry the private key; parsed ones do not.
type SigningRequest struct {
	subject DistinguishedName
	key     *pkicrypto.Key
	csr     *x509.CertificateRequest
}

// NewSigningRequest builds a request for name signed with key using SHA-256.
func NewSigningRequest(name DistinguishedName, key *pkicrypto.Key) (*SigningRequest, error) {
	if key == nil {
		return nil, pki.NewError("create csr", pki.KindInvalidInput, errors.New("key is required"))
	}

	rawSubject, err := name.DER()
	if err != nil {
		return nil, err
	}

	template := &x509.CertificateRequest{
		RawSubject:         rawSubject,
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, pki.NewError("create csr", pki.KindCrypto, err)
	}

	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, pki.NewError("create csr", pki.KindCrypto, err)
	}

	return &SigningRequest{subject: name, key: key, csr: csr}, nil
}

// ParseSigningRequest decodes a PEM request and checks its self-signature.
func ParseSigningRequest(data []byte) (*SigningRequest, error) {
	return parseSigningRequest("parse csr", "", data)
}

// LoadSigningRequestFile reads a PEM request from path.
func LoadSigningRequestFile(fsys afero.Fs, path string) (*SigningRequest, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, pki.NewPathError("load csr", pki.KindNotFound, path, err)
		}
		return nil, pki.NewPathError("load csr", pki.KindFormat, path, err)
	}
	return parseSigningRequest("load csr", path, data)
}

func parseSigningRequest(op, path string, data []byte) (*SigningRequest, error) {
	block, _ := pem.Decode(data)
	if block == nil || (block.Type != PEMTypeCSR && block.Type != pemTypeLegacyCSR) {
		return nil, pki.NewPathError(op, pki.KindFormat, path, errors.New("no CERTIFICATE REQUEST block found"))
	}

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, pki.NewPathError(op, pki.KindFormat, path, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, pki.NewPathError(op, pki.KindFormat, path, err)
	}

	return &SigningRequest{subject: NameFromPKIX(csr.Subject), csr: csr}, nil
}

// Subject returns the requested name.
func (r *SigningRequest) Subject() DistinguishedName {
	return r.subject
}

// Key returns the requester's private key, or nil for a parsed request.
func (r *SigningRequest) Key() *pkicrypto.Key {
	return r.key
}

// PublicKey returns the key embedded in the request.
func (r *SigningRequest) PublicKey() crypto.PublicKey {
	return r.csr.PublicKey
}

// RawSubject returns the DER-encoded subject exactly as it appears in the request.
func (r *SigningRequest) RawSubject() []byte {
	return r.csr.RawSubject
}

func (r *SigningRequest) DER() []byte {
	return r.csr.Raw
}

func (r *SigningRequest) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: PEMTypeCSR, Bytes: r.csr.Raw})
}

// CheckSignature verifies the request against its own public key.
func (r *SigningRequest) CheckSignature() error {
	if err := r.csr.CheckSignature(); err != nil {
		return pki.NewError("verify csr", pki.KindCrypto, err)
	}
	return nil
}
