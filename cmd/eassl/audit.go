package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/eassl/pkg/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log management",
	Long: `Commands for verifying audit logs.

The audit log is a tamper-evident record of CA operations. Each event is a
JSON line chained to the previous one with a SHA-256 hash.

Examples:
  eassl audit verify /var/log/eassl/audit.jsonl`,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <logfile>",
	Short: "Verify audit log integrity",
	Long: `Verify the hash chain of an audit log file.

Each event carries:
  - hash_prev: hash of the previous event
  - hash:      hash of this event

The chain starts with hash_prev="sha256:genesis". An edited, removed or
inserted event breaks the chain and is reported with its line number.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditVerify,
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Verifying audit log: %s\n\n", args[0])

	count, err := audit.VerifyChain(appFs, args[0])
	if err != nil {
		fmt.Fprintf(out, "VERIFICATION FAILED\n")
		fmt.Fprintf(out, "  Valid events: %d\n", count)
		fmt.Fprintf(out, "  Error: %s\n", err)
		return fmt.Errorf("audit log verification failed: %w", err)
	}

	fmt.Fprintf(out, "VERIFICATION PASSED\n")
	fmt.Fprintf(out, "  Total events: %d\n", count)
	fmt.Fprintf(out, "  Hash chain: VALID\n")
	return nil
}
