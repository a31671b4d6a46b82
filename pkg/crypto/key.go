// Package crypto provides the RSA key pairs used by the CA, requests and
// self-signed certificates.
//
// Keys serialize to PKCS#1 PEM. When a passphrase is supplied the block is
// encrypted with the legacy Proc-Type/DEK-Info scheme (AES-256-CBC), which is
// what existing OpenSSL-era CA directories contain.
package crypto

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"

	"github.com/remiblancher/eassl/pkg/pki"
)

const (
	// PEMTypeRSA is the PKCS#1 block type written by PEM.
	PEMTypeRSA = "RSA PRIVATE KEY"
	// PEMTypePKCS8 is accepted on load.
	PEMTypePKCS8 = "PRIVATE KEY"

	// DefaultBits is the modulus size used when KeyOptions.Bits is zero.
	DefaultBits = 2048
)

// KeyOptions configures GenerateKey.
type KeyOptions struct {
	Bits       int    `default:"2048" validate:"min=1024,max=16384"`
	Passphrase []byte `validate:"-"`
}

var validate = validator.New()

// Key is an RSA key pair with an optional passphrase for serialization.
type Key struct {
	priv *rsa.PrivateKey
	pass *memguard.Enclave
}

var _ crypto.Signer = (*Key)(nil)

// GenerateKey creates a fresh RSA key.
func GenerateKey(opts KeyOptions) (*Key, error) {
	defaults.SetDefaults(&opts)
	if err := validate.Struct(opts); err != nil {
		return nil, pki.NewError("generate key", pki.KindInvalidInput, err)
	}

	priv, err := rsa.GenerateKey(rand.Reader, opts.Bits)
	if err != nil {
		return nil, pki.NewError("generate key", pki.KindCrypto, err)
	}
	return NewKey(priv, opts.Passphrase), nil
}

// NewKey wraps an existing RSA private key. The passphrase is copied into a
// locked enclave; the caller keeps ownership of its slice.
func NewKey(priv *rsa.PrivateKey, passphrase []byte) *Key {
	return &Key{priv: priv, pass: sealPassphrase(passphrase)}
}

func sealPassphrase(p []byte) *memguard.Enclave {
	if len(p) == 0 {
		return nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	return memguard.NewEnclave(buf)
}

// ParseKey decodes a PEM private key. Encrypted blocks need passphrase; a
// missing or wrong one is a decryption error.
func ParseKey(data []byte, passphrase []byte) (*Key, error) {
	return parseKey("parse key", "", data, passphrase)
}

// LoadKeyFile reads and parses the key stored at path.
func LoadKeyFile(fsys afero.Fs, path string, passphrase []byte) (*Key, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, pki.NewPathError("load key", pki.KindNotFound, path, err)
		}
		return nil, pki.NewPathError("load key", pki.KindFormat, path, err)
	}
	return parseKey("load key", path, data, passphrase)
}

func parseKey(op, path string, data []byte, passphrase []byte) (*Key, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, pki.NewPathError(op, pki.KindFormat, path, errors.New("no PEM block found"))
	}

	keyBytes := block.Bytes
	encrypted := x509.IsEncryptedPEMBlock(block) //nolint:staticcheck // legacy PEM encryption is the on-disk format
	if encrypted {
		if len(passphrase) == 0 {
			return nil, pki.NewPathError(op, pki.KindDecryption, path, errors.New("key is encrypted but no passphrase provided"))
		}
		var err error
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, pki.NewPathError(op, pki.KindDecryption, path, err)
		}
	}

	priv, err := parseRSA(block.Type, keyBytes)
	if err != nil {
		// A wrong passphrase can pass the padding check and still yield garbage.
		kind := pki.KindFormat
		if encrypted {
			kind = pki.KindDecryption
		}
		return nil, pki.NewPathError(op, kind, path, err)
	}

	if !encrypted {
		passphrase = nil
	}
	return NewKey(priv, passphrase), nil
}

func parseRSA(pemType string, der []byte) (*rsa.PrivateKey, error) {
	switch pemType {
	case PEMTypeRSA:
		return x509.ParsePKCS1PrivateKey(der)
	case PEMTypePKCS8:
		k, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, err
		}
		priv, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported key type %T", k)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("unknown PEM type: %s", pemType)
	}
}

// PEM serializes the key, encrypted with its own passphrase when it has one.
func (k *Key) PEM() ([]byte, error) {
	if k.pass == nil {
		return k.EncryptedPEM(nil)
	}
	buf, err := k.pass.Open()
	if err != nil {
		return nil, pki.NewError("key pem", pki.KindCrypto, fmt.Errorf("opening passphrase enclave: %w", err))
	}
	defer buf.Destroy()
	return k.EncryptedPEM(buf.Bytes())
}

// EncryptedPEM serializes the key with an explicit passphrase. An empty
// passphrase produces an unencrypted block.
func (k *Key) EncryptedPEM(passphrase []byte) ([]byte, error) {
	block := &pem.Block{
		Type:  PEMTypeRSA,
		Bytes: x509.MarshalPKCS1PrivateKey(k.priv),
	}

	if len(passphrase) > 0 {
		var err error
		block, err = x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, passphrase, x509.PEMCipherAES256) //nolint:staticcheck
		if err != nil {
			return nil, pki.NewError("key pem", pki.KindCrypto, err)
		}
	}
	return pem.EncodeToMemory(block), nil
}

// HasPassphrase reports whether PEM output will be encrypted.
func (k *Key) HasPassphrase() bool {
	return k.pass != nil
}

// WithPassphrase returns a copy of the key that serializes with passphrase.
func (k *Key) WithPassphrase(passphrase []byte) *Key {
	return NewKey(k.priv, passphrase)
}

// Length returns the modulus size in bits.
func (k *Key) Length() int {
	return k.priv.N.BitLen()
}

// Public returns the RSA public key.
func (k *Key) Public() crypto.PublicKey {
	return &k.priv.PublicKey
}

// Sign signs digest with PKCS#1 v1.5, or PSS when opts asks for it.
func (k *Key) Sign(random io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return k.priv.Sign(random, digest, opts)
}

// PrivateKey returns the underlying RSA key.
func (k *Key) PrivateKey() *rsa.PrivateKey {
	return k.priv
}

// Equal reports whether pub is this key's public half.
func (k *Key) Equal(pub crypto.PublicKey) bool {
	return k.priv.PublicKey.Equal(pub)
}

// AuthorizedKey renders the public key as an OpenSSH authorized_keys line.
func (k *Key) AuthorizedKey() (string, error) {
	pub, err := ssh.NewPublicKey(&k.priv.PublicKey)
	if err != nil {
		return "", pki.NewError("ssh public key", pki.KindCrypto, err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))), nil
}

// SSHFingerprint returns the OpenSSH SHA256 fingerprint of the public key.
func (k *Key) SSHFingerprint() (string, error) {
	pub, err := ssh.NewPublicKey(&k.priv.PublicKey)
	if err != nil {
		return "", pki.NewError("ssh fingerprint", pki.KindCrypto, err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

// IsEncryptedPEM reports whether data starts with an encrypted PEM block.
func IsEncryptedPEM(data []byte) bool {
	block, _ := pem.Decode(bytes.TrimSpace(data))
	return block != nil && x509.IsEncryptedPEMBlock(block) //nolint:staticcheck
}
