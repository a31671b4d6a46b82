package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/remiblancher/eassl/internal/config"
	"github.com/remiblancher/eassl/pkg/audit"
	"github.com/remiblancher/eassl/pkg/x509util"
)

// executeCommand executes a Cobra command with the given args and returns output.
// Flags start from their defaults on every call.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	resetFlags(root)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

// newTestContext creates a temp directory and resets the command tree and
// the environment variables eassl reads.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	for _, env := range []string{EnvAuditLog, EnvCAPassword, config.EnvConfig} {
		t.Setenv(env, "")
	}
	resetFlags(rootCmd)
	t.Cleanup(func() {
		_ = audit.Close()
		resetFlags(rootCmd)
	})
	return &testContext{t: t, tempDir: t.TempDir()}
}

// resetFlags puts every flag of the tree back to its default. Flag values
// live in package variables and survive between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	require.NoError(tc.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run executes eassl and fails the test on error.
func (tc *testContext) run(args ...string) string {
	tc.t.Helper()
	out, err := executeCommand(rootCmd, args...)
	require.NoError(tc.t, err, out)
	return out
}

// genKey writes a 1024-bit key and returns its path.
func (tc *testContext) genKey(name string) string {
	tc.t.Helper()
	path := tc.path(name)
	tc.run("key", "gen", "--bits", "1024", "--out", path)
	return path
}

// genCSR writes a key and a request for cn and returns the CSR path.
func (tc *testContext) genCSR(name, cn string) string {
	tc.t.Helper()
	key := tc.genKey(name + ".key")
	path := tc.path(name + ".csr")
	tc.run("csr", "--key", key, "--cn", cn, "--o", "Venda", "--out", path)
	return path
}

// initCA creates a CA directory with a 1024-bit key.
func (tc *testContext) initCA(extra ...string) string {
	tc.t.Helper()
	dir := tc.path("ca")
	args := append([]string{"ca", "init", "--dir", dir, "--bits", "1024", "--cn", "CA", "--o", "Venda"}, extra...)
	tc.run(args...)
	return dir
}

// loadCert parses a PEM certificate written by a command.
func (tc *testContext) loadCert(path string) *x509util.Certificate {
	tc.t.Helper()
	cert, err := x509util.LoadCertificateFile(appFs, path)
	require.NoError(tc.t, err)
	return cert
}
