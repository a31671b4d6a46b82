package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/remiblancher/eassl/pkg/x509util"
)

var csrCmd = &cobra.Command{
	Use:   "csr",
	Short: "Create a certificate signing request",
	Long: `Create a PKCS#10 certificate signing request for an existing key.

The subject is given either field by field or as one slash-separated string.

Examples:
  eassl csr --key server.key --cn www.example.com --o "Example Ltd" --out server.csr
  eassl csr --key server.key --subject "/C=GB/O=Example Ltd/CN=www.example.com" --out server.csr`,
	RunE: runCSR,
}

var (
	csrKeyFile        string
	csrPassphraseFile string
	csrOutput         string
	csrName           nameFlags
)

// nameFlags are the subject flags shared by csr, ca init and cert selfsign.
type nameFlags struct {
	subject            string
	country            string
	state              string
	locality           string
	organization       string
	organizationalUnit string
	commonName         string
	email              string
}

func (n *nameFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&n.subject, "subject", "", "Full subject, e.g. /C=GB/O=Org/CN=name")
	cmd.Flags().StringVar(&n.country, "c", "", "Country (C)")
	cmd.Flags().StringVar(&n.state, "st", "", "State or province (ST)")
	cmd.Flags().StringVar(&n.locality, "l", "", "Locality (L)")
	cmd.Flags().StringVar(&n.organization, "o", "", "Organization (O)")
	cmd.Flags().StringVar(&n.organizationalUnit, "ou", "", "Organizational unit (OU)")
	cmd.Flags().StringVar(&n.commonName, "cn", "", "Common name (CN)")
	cmd.Flags().StringVar(&n.email, "email", "", "Email address (emailAddress)")
}

// name builds the subject. Individual field flags override the matching
// field of --subject, which overrides base.
func (n *nameFlags) name(base x509util.DistinguishedName) (x509util.DistinguishedName, error) {
	dn := base
	if n.subject != "" {
		parsed, err := x509util.ParseName(n.subject)
		if err != nil {
			return dn, err
		}
		dn = parsed
	}
	for _, f := range []struct {
		flag  string
		field *string
	}{
		{n.country, &dn.Country},
		{n.state, &dn.State},
		{n.locality, &dn.Locality},
		{n.organization, &dn.Organization},
		{n.organizationalUnit, &dn.OrganizationalUnit},
		{n.commonName, &dn.CommonName},
		{n.email, &dn.Email},
	} {
		if f.flag != "" {
			*f.field = f.flag
		}
	}
	return dn, nil
}

func (n *nameFlags) reset() {
	*n = nameFlags{}
}

func init() {
	csrCmd.Flags().StringVar(&csrKeyFile, "key", "", "Private key file (required)")
	csrCmd.Flags().StringVar(&csrPassphraseFile, "passphrase-file", "", "File holding the key passphrase")
	csrCmd.Flags().StringVarP(&csrOutput, "out", "o", "", "Output file (required)")
	csrName.register(csrCmd)
	_ = csrCmd.MarkFlagRequired("key")
	_ = csrCmd.MarkFlagRequired("out")
}

func runCSR(cmd *cobra.Command, args []string) error {
	name, err := csrName.name(x509util.DistinguishedName{})
	if err != nil {
		return err
	}
	key, err := loadKey(csrKeyFile, csrPassphraseFile)
	if err != nil {
		return err
	}

	csr, err := x509util.NewSigningRequest(name, key)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(appFs, csrOutput, csr.PEM(), 0644); err != nil {
		return fmt.Errorf("failed to write CSR: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "CSR written to %s\n  Subject: %s\n", csrOutput, csr.Subject())
	return nil
}
