package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/remiblancher/eassl/pkg/ca"
	pkicrypto "github.com/remiblancher/eassl/pkg/crypto"
	"github.com/remiblancher/eassl/pkg/pki"
	"github.com/remiblancher/eassl/pkg/serial"
	"github.com/remiblancher/eassl/pkg/x509util"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Certificate Authority management",
	Long: `Create a CA directory, inspect it, and issue certificates from it.

The CA passphrase is read from --password-file, the ca.password_file config
entry, or the ` + EnvCAPassword + ` environment variable, in that order. When
none is set and the key is encrypted, eassl prompts on the terminal.`,
}

var caInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new CA directory",
	Long: `Generate a CA key and self-signed CA certificate and write them to --dir
together with a serial counter starting at 1.

Examples:
  eassl ca init --dir ./ca
  eassl ca init --dir ./ca --cn "Venda Root CA" --o "Venda Ltd" --c GB --bits 4096
  EASSL_CA_PASSWORD=s3cret eassl ca init --dir ./ca`,
	RunE: runCAInit,
}

var caInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display information about a CA",
	Long: `Display the CA certificate, its extensions and the next serial number.

Examples:
  eassl ca info --dir ./ca`,
	RunE: runCAInfo,
}

var caIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a certificate from a CSR",
	Long: `Sign a certificate signing request with the CA.

The serial number is reserved and written back to the CA directory before the
certificate is signed, so a failed issuance never causes a serial to be reused.

Roles:
  server   TLS Web Server Authentication (default)
  client   TLS Web Client Authentication, E-mail Protection
  ca       subordinate CA (CA:TRUE)

Examples:
  eassl ca issue --dir ./ca --csr server.csr --out server.crt --dns www.example.com --dns example.com
  eassl ca issue --dir ./ca --csr alice.csr --role client --days 365 --out alice.crt`,
	RunE: runCAIssue,
}

var (
	caDir          string
	caPasswordFile string
	caBackend      string

	caInitBits   int
	caInitDays   int
	caInitDigest string
	caInitName   nameFlags

	caIssueCSR    string
	caIssueOutput string
	caIssueRole   string
	caIssueDays   int
	caIssueDigest string
	caIssueDNS    []string
)

func init() {
	for _, c := range []*cobra.Command{caInitCmd, caInfoCmd, caIssueCmd} {
		c.Flags().StringVarP(&caDir, "dir", "d", "", "CA directory (default from config, ./ca)")
		c.Flags().StringVar(&caPasswordFile, "password-file", "", "File holding the CA key passphrase")
	}
	for _, c := range []*cobra.Command{caInfoCmd, caIssueCmd} {
		c.Flags().StringVar(&caBackend, "serial-backend", "", "Serial store: file or bolt (default from config, file)")
	}

	caInitCmd.Flags().IntVar(&caInitBits, "bits", 0, "RSA modulus size (default from config, 2048)")
	caInitCmd.Flags().IntVar(&caInitDays, "days", 0, "Validity in days (default from config, 3650)")
	caInitCmd.Flags().StringVar(&caInitDigest, "digest", "", "Signature digest: sha256, sha384, sha512")
	caInitName.register(caInitCmd)

	caIssueCmd.Flags().StringVar(&caIssueCSR, "csr", "", "CSR file (required)")
	caIssueCmd.Flags().StringVarP(&caIssueOutput, "out", "o", "", "Output certificate file (required)")
	caIssueCmd.Flags().StringVar(&caIssueRole, "role", "", "Certificate role: server, client, ca")
	caIssueCmd.Flags().IntVar(&caIssueDays, "days", 0, "Validity in days")
	caIssueCmd.Flags().StringVar(&caIssueDigest, "digest", "", "Signature digest: sha256, sha384, sha512")
	caIssueCmd.Flags().StringArrayVar(&caIssueDNS, "dns", nil, "DNS subject alternative name (repeatable)")
	_ = caIssueCmd.MarkFlagRequired("csr")
	_ = caIssueCmd.MarkFlagRequired("out")

	caCmd.AddCommand(caInitCmd)
	caCmd.AddCommand(caInfoCmd)
	caCmd.AddCommand(caIssueCmd)
}

// orDefault returns v unless it is the zero value.
func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func resolveCADir() string {
	return orDefault(caDir, cfg.CA.Dir)
}

// openCA loads the CA directory, prompting for the passphrase when needed.
// A read-only CA leaves the serial counters untouched.
func openCA(readOnly bool) (*ca.CA, error) {
	dir := resolveCADir()
	pass, err := caPassphrase(caPasswordFile)
	if err != nil {
		return nil, err
	}
	backend := ca.SerialBackend(orDefault(caBackend, cfg.CA.SerialBackend))

	c, err := withPrompt(pass, "CA passphrase: ", func(p []byte) (*ca.CA, error) {
		return ca.Load(appFs, dir, p, ca.LoadOptions{SerialBackend: backend, ReadOnly: readOnly})
	})
	if err != nil {
		return nil, err
	}
	c.SetLogger(logger.With().Str("ca", dir).Logger())
	return c, nil
}

func runCAInit(cmd *cobra.Command, args []string) error {
	dir := resolveCADir()
	if ca.Exists(appFs, dir) {
		return pki.NewPathError("ca init", pki.KindConflict, dir, errors.New("CA already exists"))
	}

	name, err := caInitName.name(cfg.CA.Name)
	if err != nil {
		return err
	}
	digest, err := x509util.ParseDigest(orDefault(caInitDigest, cfg.CA.Digest))
	if err != nil {
		return err
	}
	pass, err := caPassphrase(caPasswordFile)
	if err != nil {
		return err
	}

	authority, err := ca.New(ca.Options{
		Name:      name,
		Key:       pkicrypto.KeyOptions{Bits: orDefault(caInitBits, cfg.CA.Bits), Passphrase: pass},
		ValidDays: orDefault(caInitDays, cfg.CA.ValidDays),
		Digest:    digest,
	})
	if err != nil {
		return err
	}
	defer func() { _ = authority.Close() }()
	authority.SetLogger(logger.With().Str("ca", dir).Logger())

	if err := authority.Save(cmd.Context(), appFs, dir); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "CA initialized in %s\n", dir)
	printCertificate(out, authority.Certificate())
	fmt.Fprintf(out, "  Key:         %s (RSA %d bits, encrypted: %v)\n",
		filepath.Join(dir, ca.KeyFile), authority.Key().Length(), authority.Key().HasPassphrase())
	return nil
}

func runCAInfo(cmd *cobra.Command, args []string) error {
	authority, err := openCA(true)
	if err != nil {
		return err
	}
	defer func() { _ = authority.Close() }()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "CA directory:  %s\n", authority.Dir())
	printCertificate(out, authority.Certificate())
	fmt.Fprintf(out, "  Next serial: %s\n", serial.Format(authority.PeekNextSerial()))
	return nil
}

func runCAIssue(cmd *cobra.Command, args []string) error {
	authority, err := openCA(false)
	if err != nil {
		return err
	}
	defer func() { _ = authority.Close() }()

	csr, err := x509util.LoadSigningRequestFile(appFs, caIssueCSR)
	if err != nil {
		return err
	}

	cert, err := authority.Issue(cmd.Context(), csr, ca.IssueOptions{
		Role:      x509util.Role(orDefault(caIssueRole, cfg.Issue.Role)),
		ValidDays: orDefault(caIssueDays, cfg.Issue.ValidDays),
		Digest:    x509util.Digest(orDefault(caIssueDigest, cfg.Issue.Digest)),
		AltNames:  caIssueDNS,
	})
	if err != nil {
		return err
	}

	data, err := cert.PEM()
	if err != nil {
		return err
	}
	if err := afero.WriteFile(appFs, caIssueOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Certificate written to %s\n", caIssueOutput)
	printCertificate(out, cert)
	return nil
}

// printCertificate writes the fields shown by ca init, ca info and ca issue.
func printCertificate(w io.Writer, cert *x509util.Certificate) {
	sha1, _ := cert.FingerprintSHA1()
	sha256, _ := cert.FingerprintSHA256()

	fmt.Fprintf(w, "  Subject:     %s\n", cert.Subject())
	fmt.Fprintf(w, "  Issuer:      %s\n", cert.Issuer())
	fmt.Fprintf(w, "  Serial:      %s\n", serial.Format(cert.Serial()))
	fmt.Fprintf(w, "  Not Before:  %s\n", cert.NotBefore().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "  Not After:   %s\n", cert.NotAfter().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "  Digest:      %s\n", cert.Digest())
	fmt.Fprintf(w, "  SHA1:        %s\n", sha1)
	fmt.Fprintf(w, "  SHA256:      %s\n", sha256)
	for _, ext := range cert.Extensions() {
		fmt.Fprintf(w, "  %s\n", ext)
	}
}
