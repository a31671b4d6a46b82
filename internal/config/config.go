// Package config loads the eassl YAML configuration file.
//
// Example:
//
//	ca:
//	  dir: /etc/eassl/ca
//	  bits: 4096
//	  name:
//	    country: GB
//	    organization: Venda Ltd
//	    common_name: Venda Root CA
//	issue:
//	  role: server
//	  valid_days: 825
//
// Every field has a default, so an absent file and an empty file are both
// valid. Command-line flags override file values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/remiblancher/eassl/pkg/pki"
	"github.com/remiblancher/eassl/pkg/x509util"
)

// EnvConfig names the environment variable consulted when --config is not
// given.
const EnvConfig = "EASSL_CONFIG"

// CAConfig describes the authority directory and how new authorities are
// created.
type CAConfig struct {
	Dir           string                     `yaml:"dir" default:"./ca" validate:"required"`
	Name          x509util.DistinguishedName `yaml:"name"`
	Bits          int                        `yaml:"bits" default:"2048" validate:"min=1024,max=16384"`
	ValidDays     int                        `yaml:"valid_days" default:"3650" validate:"min=1"`
	Digest        string                     `yaml:"digest" default:"sha512" validate:"oneof=sha256 sha384 sha512"`
	SerialBackend string                     `yaml:"serial_backend" default:"file" validate:"oneof=file bolt"`
	PasswordFile  string                     `yaml:"password_file"`
}

// IssueConfig holds the defaults applied to issued certificates.
type IssueConfig struct {
	Role      string `yaml:"role" default:"server" validate:"oneof=server client ca"`
	ValidDays int    `yaml:"valid_days" default:"3650" validate:"min=1"`
	Digest    string `yaml:"digest" default:"sha512" validate:"oneof=sha256 sha384 sha512"`
}

// Config is the root of the configuration file.
type Config struct {
	CA       CAConfig    `yaml:"ca"`
	Issue    IssueConfig `yaml:"issue"`
	AuditLog string      `yaml:"audit_log"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(&cfg.CA)
	defaults.SetDefaults(&cfg.Issue)
	return cfg
}

// Load reads path on fsys over the defaults. An empty path returns the
// defaults.
func Load(fsys afero.Fs, path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, pki.NewPathError("load config", pki.KindNotFound, path, err)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, pki.NewPathError("load config", pki.KindFormat, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, pki.NewPathError("load config", pki.KindInvalidInput, path, err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
