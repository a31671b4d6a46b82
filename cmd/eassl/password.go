package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/term"

	pkicrypto "github.com/remiblancher/eassl/pkg/crypto"
	"github.com/remiblancher/eassl/pkg/pki"
)

// EnvCAPassword names the environment variable holding the CA passphrase.
const EnvCAPassword = "EASSL_CA_PASSWORD"

// readPassphraseFile returns the first line of path.
func readPassphraseFile(path string) ([]byte, error) {
	data, err := afero.ReadFile(appFs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase file: %w", err)
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		data = data[:i]
	}
	return data, nil
}

// caPassphrase resolves the CA passphrase from the flag, the config file and
// then the environment. It returns nil when none is set.
func caPassphrase(flagFile string) ([]byte, error) {
	file := flagFile
	if file == "" {
		file = cfg.CA.PasswordFile
	}
	if file != "" {
		return readPassphraseFile(file)
	}
	if env := os.Getenv(EnvCAPassword); env != "" {
		return []byte(env), nil
	}
	return nil, nil
}

// keyPassphrase reads the optional --passphrase-file of the key commands.
func keyPassphrase(flagFile string) ([]byte, error) {
	if flagFile == "" {
		return nil, nil
	}
	return readPassphraseFile(flagFile)
}

// promptPassphrase reads a passphrase from the terminal. ok is false when
// stdin is not a terminal.
func promptPassphrase(prompt string) (pass []byte, ok bool, err error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, false, nil
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err = term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return pass, true, nil
}

// withPrompt runs load with pass and, when that fails for lack of a
// passphrase on an interactive terminal, asks for one and retries once.
func withPrompt[T any](pass []byte, prompt string, load func([]byte) (T, error)) (T, error) {
	v, err := load(pass)
	if err == nil || pass != nil || !pki.IsDecryption(err) {
		return v, err
	}
	entered, ok, perr := promptPassphrase(prompt)
	if perr != nil {
		return v, perr
	}
	if !ok {
		return v, err
	}
	return load(entered)
}

// loadKey loads a private key, prompting for its passphrase when needed.
func loadKey(path, passphraseFile string) (*pkicrypto.Key, error) {
	pass, err := keyPassphrase(passphraseFile)
	if err != nil {
		return nil, err
	}
	return withPrompt(pass, "Passphrase for "+path+": ", func(p []byte) (*pkicrypto.Key, error) {
		return pkicrypto.LoadKeyFile(appFs, path, p)
	})
}
