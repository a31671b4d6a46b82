// Command eassl runs a small file-based certificate authority.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/remiblancher/eassl/internal/config"
	"github.com/remiblancher/eassl/internal/logging"
	"github.com/remiblancher/eassl/pkg/audit"
	"github.com/remiblancher/eassl/pkg/pki"
)

// Build-time variables
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// EnvAuditLog names the environment variable read when --audit-log is unset.
const EnvAuditLog = "EASSL_AUDIT_LOG"

// Global flags and state shared by the subcommands.
var (
	configPath   string
	auditLogPath string
	verbosity    int

	appFs  afero.Fs = afero.NewOsFs()
	cfg             = config.Default()
	logger          = zerolog.Nop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		_ = audit.Close()
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to process exit codes.
func exitCode(err error) int {
	var pkiErr *pki.PKIError
	if errors.As(err, &pkiErr) {
		return pkiErr.ExitCode()
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "eassl",
	Short: "eassl - a small certificate authority toolkit",
	Long: `eassl generates RSA keys, certificate signing requests and certificates,
and runs a file-based certificate authority.

A CA directory holds:
  cakey.pem    CA private key (optionally passphrase-encrypted)
  cacert.pem   self-signed CA certificate
  serial.txt   next serial number in hex (e.g. 000B)
  serial.db    counter database when --serial-backend=bolt

Examples:
  # Create a CA
  eassl ca init --dir ./ca --cn "Venda Root CA" --o "Venda Ltd"

  # Request and issue a server certificate
  eassl key gen --out server.key
  eassl csr --key server.key --cn www.example.com --out server.csr
  eassl ca issue --dir ./ca --csr server.csr --dns www.example.com --out server.crt`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.Setup(verbosity)

		path := configPath
		if path == "" {
			path = os.Getenv(config.EnvConfig)
		}
		loaded, err := config.Load(appFs, path)
		if err != nil {
			return err
		}
		cfg = loaded

		if auditLogPath == "" {
			auditLogPath = os.Getenv(EnvAuditLog)
		}
		if auditLogPath == "" {
			auditLogPath = cfg.AuditLog
		}
		if auditLogPath != "" {
			if err := audit.InitFile(appFs, auditLogPath); err != nil {
				return fmt.Errorf("failed to initialize audit log: %w", err)
			}
			logger.Debug().Str("path", auditLogPath).Msg("audit log enabled")
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return audit.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to YAML config file (or set "+config.EnvConfig+")")
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set "+EnvAuditLog+")")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v, -vv)")

	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(csrCmd)
	rootCmd.AddCommand(caCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(auditCmd)
}
