package ca

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/remiblancher/eassl/internal/fsutil"
	"github.com/remiblancher/eassl/pkg/audit"
	pkicrypto "github.com/remiblancher/eassl/pkg/crypto"
	"github.com/remiblancher/eassl/pkg/pki"
	"github.com/remiblancher/eassl/pkg/serial"
	"github.com/remiblancher/eassl/pkg/x509util"
)

// CA directory layout.
const (
	KeyFile      = "cakey.pem"
	CertFile     = "cacert.pem"
	SerialFile   = "serial.txt"
	SerialDBFile = "serial.db"
)

// SerialBackend selects where a loaded CA keeps its counter.
type SerialBackend string

const (
	SerialBackendFile SerialBackend = "file"
	SerialBackendBolt SerialBackend = "bolt"
)

// Options configures New.
type Options struct {
	// Name defaults to CN=CA.
	Name x509util.DistinguishedName
	// Key configures the generated key. A passphrase encrypts cakey.pem on Save.
	Key       pkicrypto.KeyOptions
	ValidDays int
	Digest    x509util.Digest
}

// LoadOptions configures Load.
type LoadOptions struct {
	SerialBackend SerialBackend `default:"file" validate:"oneof=file bolt"`
	// ReadOnly loads the counter without creating or writing anything in
	// dir. A read-only CA cannot issue.
	ReadOnly bool
}

// IssueOptions configures Issue.
type IssueOptions struct {
	// Role defaults to server.
	Role x509util.Role
	// ValidDays defaults to 3650.
	ValidDays int
	// Digest defaults to sha512.
	Digest   x509util.Digest
	AltNames []string
}

var validate = validator.New()

// CA represents a Certificate Authority.
type CA struct {
	key     *pkicrypto.Key
	cert    *x509util.Certificate
	serials  serial.Store
	dir      string
	readOnly bool
	logger   zerolog.Logger
}

// New creates an authority with a fresh key, a self-signed certificate and
// an in-memory serial counter starting at 1. Call Save to give it a
// directory.
func New(opts Options) (*CA, error) {
	key, err := pkicrypto.GenerateKey(opts.Key)
	if err != nil {
		return nil, NewCAError("create", err)
	}

	cert, err := NewAuthorityCertificate(key, AuthorityOptions{
		Name:      opts.Name,
		ValidDays: opts.ValidDays,
		Digest:    opts.Digest,
	})
	if err != nil {
		return nil, NewCAError("create", err)
	}

	store, err := serial.NewMemory(nil)
	if err != nil {
		return nil, NewCAError("create", err)
	}

	if err := audit.LogCACreated(cert.Subject().String(), fmt.Sprintf("RSA-%d", key.Length()), true); err != nil {
		return nil, err
	}

	return &CA{key: key, cert: cert, serials: store, logger: zerolog.Nop()}, nil
}

// NewFromParts adopts an existing key, authority certificate and serial
// store.
func NewFromParts(key *pkicrypto.Key, cert *x509util.Certificate, store serial.Store) (*CA, error) {
	if key == nil || cert == nil || store == nil {
		return nil, NewCAError("create", pki.NewError("create", pki.KindInvalidInput,
			errors.New("key, certificate and serial store are required")))
	}
	if !cert.IsSigned() || cert.Role() != x509util.RoleCA {
		return nil, NewCAError("create", ErrNotAuthority)
	}
	if !key.Equal(cert.PublicKey()) {
		return nil, NewCAError("create", ErrKeyMismatch)
	}
	return &CA{key: key, cert: cert, serials: store, logger: zerolog.Nop()}, nil
}

// Load reads cakey.pem, cacert.pem and the serial counter from dir. The
// passphrase is only needed for an encrypted key.
func Load(fsys afero.Fs, dir string, passphrase []byte, opts LoadOptions) (*CA, error) {
	defaults.SetDefaults(&opts)
	if err := validate.Struct(opts); err != nil {
		return nil, NewCAError("load", pki.NewError("load", pki.KindInvalidInput, err))
	}

	keyPath := filepath.Join(dir, KeyFile)
	key, err := pkicrypto.LoadKeyFile(fsys, keyPath, passphrase)
	if err != nil {
		if pki.IsDecryption(err) {
			if auditErr := audit.LogAuthFailed(keyPath, "wrong or missing passphrase"); auditErr != nil {
				return nil, auditErr
			}
		}
		_ = audit.LogCALoaded(dir, "", false, err.Error())
		return nil, NewCAError("load", err)
	}
	if key.HasPassphrase() {
		if err := audit.LogKeyAccessed(keyPath, true, ""); err != nil {
			return nil, err
		}
	}

	cert, err := LoadAuthorityCertificateFile(fsys, filepath.Join(dir, CertFile))
	if err != nil {
		_ = audit.LogCALoaded(dir, "", false, err.Error())
		return nil, NewCAError("load", err)
	}

	store, err := openStore(fsys, dir, opts)
	if err != nil {
		_ = audit.LogCALoaded(dir, cert.Subject().String(), false, err.Error())
		return nil, NewCAError("load", err)
	}

	ca, err := NewFromParts(key, cert, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ca.dir = dir
	ca.readOnly = opts.ReadOnly

	if err := audit.LogCALoaded(dir, cert.Subject().String(), true, ""); err != nil {
		_ = store.Close()
		return nil, err
	}
	return ca, nil
}

// boltCounter names the CA counter inside serial.db.
const boltCounter = "ca"

// openStore opens the counter for dir. serial.txt and serial.db may both
// exist when the backend changed between runs; every path takes the larger
// of the two so no value is handed out twice. The bbolt store mirrors its
// advances into serial.txt, and the file store starts past the database.
// The bbolt database lives on the OS filesystem.
func openStore(fsys afero.Fs, dir string, opts LoadOptions) (serial.Store, error) {
	txtPath := filepath.Join(dir, SerialFile)
	dbPath := filepath.Join(dir, SerialDBFile)

	txt, txtErr := serial.LoadFile(fsys, txtPath)
	if txtErr != nil && !pki.IsNotFound(txtErr) {
		return nil, txtErr
	}

	if opts.SerialBackend == SerialBackendBolt && !opts.ReadOnly {
		start := big.NewInt(1)
		if txt != nil {
			start = txt.PeekNext()
		}
		store, err := serial.OpenBolt(dbPath, boltCounter, start)
		if err != nil {
			return nil, err
		}
		if err := store.Mirror(fsys, txtPath); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	}

	db, err := serial.PeekBolt(dbPath, boltCounter)
	if err != nil && !pki.IsNotFound(err) {
		return nil, err
	}

	if txt == nil {
		if opts.SerialBackend == SerialBackendFile {
			return nil, txtErr
		}
		// Read-only bolt: report what OpenBolt would start from.
		return serial.NewMemory(db)
	}
	txt.Advance(db)
	if opts.ReadOnly {
		return serial.NewMemory(txt.PeekNext())
	}
	return txt, nil
}

// Save writes the authority to dir and moves the counter to dir/serial.txt.
// An existing directory holding a different authority is left untouched.
func (c *CA) Save(ctx context.Context, fsys afero.Fs, dir string) error {
	if err := c.checkSaveTarget(fsys, dir); err != nil {
		return NewCAError("save", err)
	}
	if err := fsys.MkdirAll(dir, 0700); err != nil {
		return NewCAError("save", fmt.Errorf("failed to create directory: %w", err))
	}

	keyPEM, err := c.key.PEM()
	if err != nil {
		return NewCAError("save", err)
	}
	certPEM, err := c.cert.PEM()
	if err != nil {
		return NewCAError("save", err)
	}

	if err := fsutil.WriteAtomic(fsys, filepath.Join(dir, KeyFile), keyPEM, 0600); err != nil {
		return NewCAError("save", fmt.Errorf("failed to write key: %w", err))
	}
	if err := fsutil.WriteAtomic(fsys, filepath.Join(dir, CertFile), certPEM, 0644); err != nil {
		return NewCAError("save", fmt.Errorf("failed to write certificate: %w", err))
	}

	store, err := serial.CreateFile(ctx, fsys, filepath.Join(dir, SerialFile), c.serials.PeekNext())
	if err != nil {
		return NewCAError("save", err)
	}
	if err := c.serials.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("closing previous serial store")
	}
	c.serials = store
	c.dir = dir

	c.logger.Info().Str("dir", dir).Str("subject", c.cert.Subject().String()).Msg("saved CA")
	return audit.LogCASaved(dir, c.cert.Subject().String(), true)
}

func (c *CA) checkSaveTarget(fsys afero.Fs, dir string) error {
	existing, err := x509util.LoadCertificateFile(fsys, filepath.Join(dir, CertFile))
	if err != nil {
		if pki.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !c.key.Equal(existing.PublicKey()) {
		return pki.NewPathError("save", pki.KindConflict, dir, errors.New("directory holds a different CA"))
	}
	return nil
}

// Issue signs csr. The serial is reserved durably before the certificate is
// built, so a failure afterwards burns it rather than risking reuse.
func (c *CA) Issue(ctx context.Context, csr *x509util.SigningRequest, opts IssueOptions) (*x509util.Certificate, error) {
	if csr == nil {
		return nil, NewCAError("issue", pki.NewError("issue", pki.KindInvalidInput, errors.New("signing request is required")))
	}
	if c.readOnly {
		return nil, NewCAError("issue", pki.NewPathError("issue", pki.KindInvalidInput, c.dir, errors.New("CA was loaded read-only")))
	}
	role, err := x509util.ParseRole(string(opts.Role))
	if err != nil {
		return nil, NewCAError("issue", err)
	}
	digest, err := x509util.ParseDigest(string(opts.Digest))
	if err != nil {
		return nil, NewCAError("issue", err)
	}

	caSubject := c.cert.Subject().String()
	sn, err := c.serials.Reserve(ctx)
	if err != nil {
		return nil, NewCAError("issue", err)
	}
	serialHex := serial.Format(sn)
	if err := audit.LogSerialReserved(caSubject, serialHex); err != nil {
		return nil, NewCAErrorWithSerial("issue", serialHex, err)
	}

	cert, err := c.sign(csr, sn, role, digest, opts)
	if err != nil {
		c.logger.Warn().Err(err).Str("serial", serialHex).Msg("issuance failed, serial burned")
		_ = audit.LogCertIssued(caSubject, serialHex, csr.Subject().String(), string(role), "", false)
		return nil, NewCAErrorWithSerial("issue", serialHex, err)
	}

	fp, err := cert.FingerprintSHA256()
	if err != nil {
		return nil, NewCAErrorWithSerial("issue", serialHex, err)
	}
	if err := audit.LogCertIssued(caSubject, serialHex, cert.Subject().String(), string(role), fp, true); err != nil {
		return nil, NewCAErrorWithSerial("issue", serialHex, err)
	}

	c.logger.Info().
		Str("serial", serialHex).
		Str("subject", cert.Subject().String()).
		Str("role", string(role)).
		Msg("issued certificate")
	return cert, nil
}

func (c *CA) sign(csr *x509util.SigningRequest, sn *big.Int, role x509util.Role, digest x509util.Digest, opts IssueOptions) (*x509util.Certificate, error) {
	cert, err := x509util.NewCertificate(csr, x509util.CertificateOptions{
		Issuer:    c.cert,
		Serial:    sn,
		Role:      role,
		ValidDays: opts.ValidDays,
		AltNames:  opts.AltNames,
		Digest:    digest,
	})
	if err != nil {
		return nil, err
	}
	if err := cert.Sign(c.key, digest); err != nil {
		return nil, err
	}
	return cert, nil
}

// SetLogger sets the logger used for technical messages.
func (c *CA) SetLogger(l zerolog.Logger) {
	c.logger = l
}

// PeekNextSerial returns the serial the next Issue will use.
func (c *CA) PeekNextSerial() *big.Int {
	return c.serials.PeekNext()
}

func (c *CA) Key() *pkicrypto.Key                { return c.key }
func (c *CA) Certificate() *x509util.Certificate { return c.cert }
func (c *CA) Serial() serial.Store               { return c.serials }

// Dir returns the directory the CA was loaded from or saved to.
func (c *CA) Dir() string { return c.dir }

// Close releases the serial store.
func (c *CA) Close() error {
	return c.serials.Close()
}

// Exists reports whether dir already holds a CA key or certificate.
func Exists(fsys afero.Fs, dir string) bool {
	for _, name := range []string{KeyFile, CertFile} {
		if _, err := fsys.Stat(filepath.Join(dir, name)); err == nil || !errors.Is(err, fs.ErrNotExist) {
			return true
		}
	}
	return false
}
