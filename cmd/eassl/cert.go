package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/remiblancher/eassl/pkg/x509util"
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Certificate commands",
	Long:  `Create self-signed certificates and inspect existing ones.`,
}

var certSelfSignCmd = &cobra.Command{
	Use:   "selfsign",
	Short: "Create a self-signed certificate",
	Long: `Create a certificate signed by its own key.

Examples:
  eassl cert selfsign --key server.key --cn localhost --dns localhost --out server.crt
  eassl cert selfsign --key ca.key --role ca --cn "Test CA" --days 30 --out ca.crt`,
	RunE: runCertSelfSign,
}

var certFingerprintCmd = &cobra.Command{
	Use:   "fingerprint <certfile>",
	Short: "Print certificate fingerprints",
	Long: `Print the SHA-1 and SHA-256 fingerprints of a PEM certificate as
colon-separated uppercase hex.

Examples:
  eassl cert fingerprint server.crt`,
	Args: cobra.ExactArgs(1),
	RunE: runCertFingerprint,
}

var (
	selfSignKeyFile        string
	selfSignPassphraseFile string
	selfSignOutput         string
	selfSignRole           string
	selfSignDays           int
	selfSignDigest         string
	selfSignDNS            []string
	selfSignName           nameFlags
)

func init() {
	certSelfSignCmd.Flags().StringVar(&selfSignKeyFile, "key", "", "Private key file (required)")
	certSelfSignCmd.Flags().StringVar(&selfSignPassphraseFile, "passphrase-file", "", "File holding the key passphrase")
	certSelfSignCmd.Flags().StringVarP(&selfSignOutput, "out", "o", "", "Output certificate file (required)")
	certSelfSignCmd.Flags().StringVar(&selfSignRole, "role", "", "Certificate role: server, client, ca")
	certSelfSignCmd.Flags().IntVar(&selfSignDays, "days", 0, "Validity in days")
	certSelfSignCmd.Flags().StringVar(&selfSignDigest, "digest", "", "Signature digest: sha256, sha384, sha512")
	certSelfSignCmd.Flags().StringArrayVar(&selfSignDNS, "dns", nil, "DNS subject alternative name (repeatable)")
	selfSignName.register(certSelfSignCmd)
	_ = certSelfSignCmd.MarkFlagRequired("key")
	_ = certSelfSignCmd.MarkFlagRequired("out")

	certCmd.AddCommand(certSelfSignCmd)
	certCmd.AddCommand(certFingerprintCmd)
}

func runCertSelfSign(cmd *cobra.Command, args []string) error {
	name, err := selfSignName.name(x509util.DistinguishedName{})
	if err != nil {
		return err
	}
	role, err := x509util.ParseRole(orDefault(selfSignRole, cfg.Issue.Role))
	if err != nil {
		return err
	}
	digest, err := x509util.ParseDigest(orDefault(selfSignDigest, cfg.Issue.Digest))
	if err != nil {
		return err
	}
	key, err := loadKey(selfSignKeyFile, selfSignPassphraseFile)
	if err != nil {
		return err
	}

	csr, err := x509util.NewSigningRequest(name, key)
	if err != nil {
		return err
	}
	cert, err := x509util.NewCertificate(csr, x509util.CertificateOptions{
		Role:      role,
		ValidDays: orDefault(selfSignDays, cfg.Issue.ValidDays),
		AltNames:  selfSignDNS,
		Digest:    digest,
	})
	if err != nil {
		return err
	}

	data, err := cert.PEM()
	if err != nil {
		return err
	}
	if err := afero.WriteFile(appFs, selfSignOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Certificate written to %s\n", selfSignOutput)
	printCertificate(out, cert)
	return nil
}

func runCertFingerprint(cmd *cobra.Command, args []string) error {
	cert, err := x509util.LoadCertificate(appFs, args[0])
	if err != nil {
		return err
	}
	sha1, err := cert.FingerprintSHA1()
	if err != nil {
		return err
	}
	sha256, err := cert.FingerprintSHA256()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "SHA1 Fingerprint=%s\n", sha1)
	fmt.Fprintf(out, "SHA256 Fingerprint=%s\n", sha256)
	return nil
}
