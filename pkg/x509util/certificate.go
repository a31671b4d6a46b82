package x509util

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // fingerprints only
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
	"github.com/spf13/afero"

	"github.com/remiblancher/eassl/pkg/pki"
)

const PEMTypeCertificate = "CERTIFICATE"

// Role selects the extension policy of a certificate.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
	RoleCA     Role = "ca"
)

// ParseRole maps a role name to a Role. The empty string means server.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoleServer:
		return RoleServer, nil
	case RoleClient:
		return RoleClient, nil
	case RoleCA:
		return RoleCA, nil
	}
	return "", pki.NewError("parse role", pki.KindInvalidInput, fmt.Errorf("unknown role %q (expected server, client or ca)", s))
}

// Digest is the hash used to sign a certificate.
type Digest string

const (
	SHA256 Digest = "sha256"
	SHA384 Digest = "sha384"
	SHA512 Digest = "sha512"

	DefaultDigest    = SHA512
	DefaultValidDays = 3650
)

// ParseDigest accepts sha256, sha384 and sha512 (with or without the dash).
// The empty string selects the default.
func ParseDigest(s string) (Digest, error) {
	d := Digest(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", ""))
	switch d {
	case "":
		return DefaultDigest, nil
	case SHA256, SHA384, SHA512:
		return d, nil
	}
	return "", pki.NewError("parse digest", pki.KindInvalidInput, fmt.Errorf("unsupported digest %q", s))
}

func (d Digest) signatureAlgorithm() (x509.SignatureAlgorithm, error) {
	switch d {
	case SHA256:
		return x509.SHA256WithRSA, nil
	case SHA384:
		return x509.SHA384WithRSA, nil
	case SHA512:
		return x509.SHA512WithRSA, nil
	}
	return x509.UnknownSignatureAlgorithm, pki.NewError("sign", pki.KindInvalidInput, fmt.Errorf("unsupported digest %q", d))
}

func digestOf(alg x509.SignatureAlgorithm) Digest {
	switch alg {
	case x509.SHA256WithRSA, x509.SHA256WithRSAPSS, x509.ECDSAWithSHA256:
		return SHA256
	case x509.SHA384WithRSA, x509.SHA384WithRSAPSS, x509.ECDSAWithSHA384:
		return SHA384
	case x509.SHA512WithRSA, x509.SHA512WithRSAPSS, x509.ECDSAWithSHA512:
		return SHA512
	case x509.SHA1WithRSA, x509.ECDSAWithSHA1:
		return "sha1"
	}
	return Digest(strings.ToLower(alg.String()))
}

// CertificateOptions configures NewCertificate.
type CertificateOptions struct {
	// Issuer signs the certificate. Nil makes it self-signed with the CSR key.
	Issuer *Certificate
	// Serial defaults to a random 128-bit value.
	Serial *big.Int
	// Role defaults to server.
	Role Role
	// ValidDays defaults to 3650.
	ValidDays int
	AltNames  []string
	// Digest is used when the certificate is signed at construction.
	// Defaults to sha512.
	Digest Digest
	// NotBefore defaults to now.
	NotBefore time.Time
}

// policy is the defaulted and validated part of CertificateOptions.
type policy struct {
	ValidDays int      `default:"3650" validate:"min=1"`
	AltNames  []string `validate:"dive,required"`
	Digest    Digest   `default:"sha512" validate:"oneof=sha256 sha384 sha512"`
}

var validate = validator.New()

// Certificate is an X.509 certificate built from a signing request. It is
// unsigned until Sign is called, except for self-signed certificates which
// are signed at construction.
type Certificate struct {
	subject    DistinguishedName
	issuer     DistinguishedName
	issuerCert *Certificate
	role       Role
	publicKey  crypto.PublicKey
	template   *x509.Certificate
	cert       *x509.Certificate
	digest     Digest
}

// NewCertificate builds a certificate for csr.
func NewCertificate(csr *SigningRequest, opts CertificateOptions) (*Certificate, error) {
	if csr == nil {
		return nil, pki.NewError("create certificate", pki.KindInvalidInput, errors.New("signing request is required"))
	}
	p := policy{ValidDays: opts.ValidDays, Digest: opts.Digest}
	defaults.SetDefaults(&p)
	p.AltNames = opts.AltNames
	if err := validate.Struct(p); err != nil {
		return nil, pki.NewError("create certificate", pki.KindInvalidInput, err)
	}

	role, err := ParseRole(string(opts.Role))
	if err != nil {
		return nil, err
	}
	if opts.Issuer == nil && csr.Key() == nil {
		return nil, pki.NewError("create certificate", pki.KindInvalidInput,
			errors.New("self-signed certificate needs a signing request with a private key"))
	}
	if opts.Issuer != nil && !opts.Issuer.IsSigned() {
		return nil, pki.NewError("create certificate", pki.KindNotSigned, errors.New("issuer certificate is not signed"))
	}

	serial := opts.Serial
	if serial == nil {
		if serial, err = generateSerialNumber(); err != nil {
			return nil, pki.NewError("create certificate", pki.KindCrypto, err)
		}
	}
	if serial.Sign() < 0 {
		return nil, pki.NewError("create certificate", pki.KindInvalidInput, errors.New("serial must not be negative"))
	}

	notBefore := opts.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now()
	}
	notBefore = notBefore.UTC()

	var issuerKeyID []byte
	issuer := csr.Subject()
	if opts.Issuer != nil {
		issuer = opts.Issuer.Subject()
		issuerKeyID = opts.Issuer.X509().SubjectKeyId
		if len(issuerKeyID) == 0 {
			if issuerKeyID, err = SubjectKeyID(opts.Issuer.PublicKey()); err != nil {
				return nil, pki.NewError("authority key id", pki.KindCrypto, err)
			}
		}
	}

	exts, err := policyExtensions(role, csr.PublicKey(), issuerKeyID, p.AltNames)
	if err != nil {
		return nil, err
	}

	c := &Certificate{
		subject:    csr.Subject(),
		issuer:     issuer,
		issuerCert: opts.Issuer,
		role:       role,
		publicKey:  csr.PublicKey(),
		template: &x509.Certificate{
			SerialNumber:    new(big.Int).Set(serial),
			RawSubject:      csr.RawSubject(),
			NotBefore:       notBefore,
			NotAfter:        notBefore.Add(time.Duration(p.ValidDays) * 24 * time.Hour),
			ExtraExtensions: exts,
		},
	}

	if opts.Issuer == nil {
		if err := c.Sign(csr.Key(), p.Digest); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Sign signs the certificate with signer, which must hold the issuer's key
// (or the subject's key for a self-signed certificate). Signing again
// replaces the previous signature.
func (c *Certificate) Sign(signer crypto.Signer, digest Digest) error {
	if signer == nil {
		return pki.NewError("sign", pki.KindInvalidInput, errors.New("signer is required"))
	}
	if c.template == nil {
		return pki.NewError("sign", pki.KindInvalidInput, errors.New("parsed certificates cannot be re-signed"))
	}
	if digest == "" {
		digest = DefaultDigest
	}
	sigAlg, err := digest.signatureAlgorithm()
	if err != nil {
		return err
	}

	parent := c.template
	signerPub := c.publicKey
	if c.issuerCert != nil {
		parent = c.issuerCert.X509()
		signerPub = c.issuerCert.PublicKey()
	}
	if !publicKeysEqual(signer.Public(), signerPub) {
		return pki.NewError("sign", pki.KindInvalidInput, errors.New("signer does not match the issuer public key"))
	}

	c.template.SignatureAlgorithm = sigAlg
	der, err := x509.CreateCertificate(rand.Reader, c.template, parent, c.publicKey, signer)
	if err != nil {
		return pki.NewError("sign", pki.KindCrypto, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return pki.NewError("sign", pki.KindCrypto, err)
	}

	c.cert = cert
	c.digest = digest
	return nil
}

func publicKeysEqual(a, b crypto.PublicKey) bool {
	k, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	return ok && k.Equal(b)
}

// ParseCertificate decodes a PEM certificate.
func ParseCertificate(data []byte) (*Certificate, error) {
	return parseCertificate("parse certificate", "", data)
}

// LoadCertificateFile reads a PEM certificate from path.
func LoadCertificateFile(fsys afero.Fs, path string) (*Certificate, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, pki.NewPathError("load certificate", pki.KindNotFound, path, err)
		}
		return nil, pki.NewPathError("load certificate", pki.KindFormat, path, err)
	}
	return parseCertificate("load certificate", path, data)
}

// LoadCertificate accepts either PEM text or a path to a PEM file.
func LoadCertificate(fsys afero.Fs, pathOrText string) (*Certificate, error) {
	if strings.Contains(pathOrText, "-----BEGIN") {
		return ParseCertificate([]byte(pathOrText))
	}
	return LoadCertificateFile(fsys, pathOrText)
}

func parseCertificate(op, path string, data []byte) (*Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != PEMTypeCertificate {
		return nil, pki.NewPathError(op, pki.KindFormat, path, errors.New("no CERTIFICATE block found"))
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, pki.NewPathError(op, pki.KindFormat, path, err)
	}
	return FromX509(cert), nil
}

// FromX509 wraps a parsed certificate.
func FromX509(cert *x509.Certificate) *Certificate {
	return &Certificate{
		subject:   NameFromPKIX(cert.Subject),
		issuer:    NameFromPKIX(cert.Issuer),
		role:      inferRole(cert),
		publicKey: cert.PublicKey,
		cert:      cert,
		digest:    digestOf(cert.SignatureAlgorithm),
	}
}

func inferRole(cert *x509.Certificate) Role {
	if cert.BasicConstraintsValid && cert.IsCA {
		return RoleCA
	}
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageClientAuth {
			return RoleClient
		}
	}
	return RoleServer
}

// IsSigned reports whether the certificate has a signature.
func (c *Certificate) IsSigned() bool {
	return c.cert != nil
}

// DER returns the signed certificate encoding.
func (c *Certificate) DER() ([]byte, error) {
	if c.cert == nil {
		return nil, pki.NewError("certificate der", pki.KindNotSigned, nil)
	}
	return c.cert.Raw, nil
}

// PEM returns the signed certificate as PEM text.
func (c *Certificate) PEM() ([]byte, error) {
	der, err := c.DER()
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: PEMTypeCertificate, Bytes: der}), nil
}

// FingerprintSHA1 returns the SHA-1 of the DER encoding as colon-separated
// uppercase hex.
func (c *Certificate) FingerprintSHA1() (string, error) {
	der, err := c.DER()
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(der) //nolint:gosec
	return hexColon(sum[:]), nil
}

// FingerprintSHA256 is FingerprintSHA1 with SHA-256.
func (c *Certificate) FingerprintSHA256() (string, error) {
	der, err := c.DER()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return hexColon(sum[:]), nil
}

func (c *Certificate) Subject() DistinguishedName { return c.subject }
func (c *Certificate) Issuer() DistinguishedName  { return c.issuer }
func (c *Certificate) Role() Role                 { return c.role }
func (c *Certificate) PublicKey() crypto.PublicKey {
	return c.publicKey
}

// Digest returns the signature hash, or "" while unsigned.
func (c *Certificate) Digest() Digest {
	if c.cert == nil {
		return ""
	}
	return c.digest
}

// X509 returns the parsed certificate once signed, otherwise the template.
func (c *Certificate) X509() *x509.Certificate {
	if c.cert != nil {
		return c.cert
	}
	return c.template
}

func (c *Certificate) Serial() *big.Int {
	return new(big.Int).Set(c.X509().SerialNumber)
}

func (c *Certificate) NotBefore() time.Time { return c.X509().NotBefore }
func (c *Certificate) NotAfter() time.Time  { return c.X509().NotAfter }

// IsSelfSigned reports whether the issuer name equals the subject name.
func (c *Certificate) IsSelfSigned() bool {
	if c.cert != nil {
		return bytes.Equal(c.cert.RawIssuer, c.cert.RawSubject)
	}
	return c.issuerCert == nil
}

// Extensions returns the extensions in the order they appear in the
// certificate.
func (c *Certificate) Extensions() []Extension {
	src := c.X509().Extensions
	if c.cert == nil {
		src = c.template.ExtraExtensions
	}
	out := make([]Extension, 0, len(src))
	for _, ext := range src {
		out = append(out, RenderExtension(ext))
	}
	return out
}

// Extension looks up an extension by short name or dotted OID.
func (c *Certificate) Extension(name string) (Extension, bool) {
	for _, ext := range c.Extensions() {
		if ext.Name == name || ext.OID.String() == name {
			return ext, true
		}
	}
	return Extension{}, false
}

// CheckSignatureFrom verifies that issuer signed c.
func (c *Certificate) CheckSignatureFrom(issuer *Certificate) error {
	if c.cert == nil || issuer.cert == nil {
		return pki.NewError("verify certificate", pki.KindNotSigned, nil)
	}
	if err := c.cert.CheckSignatureFrom(issuer.cert); err != nil {
		return pki.NewError("verify certificate", pki.KindCrypto, err)
	}
	return nil
}

func generateSerialNumber() (*big.Int, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, serialNumberLimit)
}
