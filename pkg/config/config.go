// Copyright 2026 the gtafsync authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the synchronization configuration from YAML or HCL,
// with credentials overridable from the environment.
package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/odissea/gtafsync/pkg/reconcile"
	"github.com/odissea/gtafsync/pkg/transport"
)

// 🔌 Parser is the interface for config parsers
type Parser interface {
	// 📝 Parse parses the config from bytes
	Parse(ctx context.Context, data []byte) (*Config, error)

	// 🔍 CanParse checks if this parser can handle the given file
	CanParse(filename string) bool
}

// 🗺️ parsers is a list of available parsers
var parsers []Parser

// 📝 Register registers a parser
func Register(p Parser) {
	parsers = append(parsers, p)
}

// 🎯 GetParser returns a parser that can handle the given file
func GetParser(filename string) Parser {
	for _, p := range parsers {
		if p.CanParse(filename) {
			return p
		}
	}
	return nil
}

// 🚚 Transfer configures the connection to the remote drop server.
type Transfer struct {
	Protocol  string   `yaml:"protocol" env:"GTAFSYNC_PROTOCOL"`
	Host      string   `yaml:"host" env:"GTAFSYNC_HOST"`
	Port      int      `yaml:"port" env:"GTAFSYNC_PORT"`
	Username  string   `yaml:"username" env:"GTAFSYNC_USERNAME"`
	Password  string   `yaml:"password" env:"GTAFSYNC_PASSWORD"`
	RemoteDir string   `yaml:"remote_dir" env:"GTAFSYNC_REMOTE_DIR"`
	Patterns  []string `yaml:"patterns"`
}

// 📥 Import configures the record reconciler.
type Import struct {
	Mode         string `yaml:"mode"`
	UpdatePolicy string `yaml:"update_policy"`

	AllowRenames  bool `yaml:"allow_renames"`
	AllowDeletes  bool `yaml:"allow_deletes"`
	AllowSuspends bool `yaml:"allow_suspends"`

	CreatePasswords bool   `yaml:"create_passwords"`
	UpdatePasswords bool   `yaml:"update_passwords"`
	PasswordReset   string `yaml:"password_reset"`

	StrictEmailDuplicates bool   `yaml:"strict_email_duplicates"`
	StandardUsernames     bool   `yaml:"standard_usernames"`
	UsernameTemplate      string `yaml:"username_template"`
	Delimiter             string `yaml:"delimiter"`

	Defaults    map[string]string `yaml:"defaults"`
	AuthAliases map[string]string `yaml:"auth_aliases"`
	// LegacyRoles maps the numeric type1..type3 codes to role IDs; keys are
	// the codes as strings so both config syntaxes can express them.
	LegacyRoles map[string]int64 `yaml:"legacy_roles"`
}

// 📧 Notify configures the aggregate failure mail for unattended runs.
type Notify struct {
	Host     string   `yaml:"host" env:"GTAFSYNC_SMTP_HOST"`
	Port     int      `yaml:"port" env:"GTAFSYNC_SMTP_PORT"`
	Username string   `yaml:"username" env:"GTAFSYNC_SMTP_USERNAME"`
	Password string   `yaml:"password" env:"GTAFSYNC_SMTP_PASSWORD"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// 📚 Config represents the complete configuration
type Config struct {
	Transfer Transfer `yaml:"transfer"`
	// StagingRoot is the local directory that holds pending, backup,
	// backup_error, results and log.
	StagingRoot string `yaml:"staging_root" env:"GTAFSYNC_STAGING_ROOT"`
	Import      Import `yaml:"import"`
	Notify      Notify `yaml:"notify"`
	// BudgetMinutes bounds one unattended run's wall clock; zero disables
	// the bound.
	BudgetMinutes int `yaml:"budget_minutes"`
}

// DefaultPatterns are the recognized batch-file name patterns: student
// batches and teacher batches.
var DefaultPatterns = []string{"alumnes*", "professors*"}

// 🎯 Load loads the configuration from a file
func Load(ctx context.Context, path string) (*Config, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("path", path).Msg("loading configuration")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading config file: %w", err)
	}

	p := GetParser(path)
	if p == nil {
		return nil, errors.Errorf("no parser found for file: %s", path)
	}

	cfg, err := p.Parse(ctx, data)
	if err != nil {
		return nil, errors.Errorf("parsing config: %w", err)
	}

	// Credentials may live in the environment instead of the file.
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// 🔍 Validate checks if the configuration is valid and fills defaults.
func (cfg *Config) Validate() error {
	if cfg.Transfer.Protocol == "" {
		cfg.Transfer.Protocol = "sftp"
	}
	if cfg.Transfer.Protocol != "sftp" && cfg.Transfer.Protocol != "ftp" {
		return errors.Errorf("transfer.protocol must be sftp or ftp, got %q", cfg.Transfer.Protocol)
	}
	if cfg.Transfer.Host == "" {
		return errors.Errorf("transfer.host is required")
	}
	if cfg.StagingRoot == "" {
		return errors.Errorf("staging_root is required")
	}
	if len(cfg.Transfer.Patterns) == 0 {
		cfg.Transfer.Patterns = append([]string(nil), DefaultPatterns...)
	}

	if cfg.Import.Mode == "" {
		cfg.Import.Mode = "add-new"
	}
	if cfg.Import.UpdatePolicy == "" {
		cfg.Import.UpdatePolicy = "no-changes"
	}
	if cfg.Import.PasswordReset == "" {
		cfg.Import.PasswordReset = "weak"
	}
	if cfg.Import.Delimiter == "" {
		cfg.Import.Delimiter = ";"
	}
	if utf8.RuneCountInString(cfg.Import.Delimiter) != 1 {
		return errors.Errorf("import.delimiter must be a single character, got %q", cfg.Import.Delimiter)
	}
	if cfg.Import.AuthAliases == nil {
		cfg.Import.AuthAliases = map[string]string{"odissea": "saml2"}
	}
	for code := range cfg.Import.LegacyRoles {
		n, err := strconv.Atoi(code)
		if err != nil || n < 1 || n > 3 {
			return errors.Errorf("import.legacy_roles key must be 1..3, got %q", code)
		}
	}
	if _, err := cfg.ReconcileOptions(); err != nil {
		return err
	}

	if len(cfg.Notify.To) > 0 {
		if cfg.Notify.Host == "" {
			return errors.Errorf("notify.host is required when recipients are set")
		}
		if cfg.Notify.From == "" {
			return errors.Errorf("notify.from is required when recipients are set")
		}
		if cfg.Notify.Port == 0 {
			cfg.Notify.Port = 25
		}
	}
	return nil
}

// Credentials returns the transfer credentials for the transport layer.
func (cfg *Config) Credentials() transport.Credentials {
	return transport.Credentials{
		Host:     cfg.Transfer.Host,
		Port:     cfg.Transfer.Port,
		Username: cfg.Transfer.Username,
		Password: cfg.Transfer.Password,
	}
}

// ReconcileOptions maps the import section onto reconciler options.
func (cfg *Config) ReconcileOptions() (reconcile.Options, error) {
	mode, err := parseMode(cfg.Import.Mode)
	if err != nil {
		return reconcile.Options{}, err
	}
	policy, err := parsePolicy(cfg.Import.UpdatePolicy)
	if err != nil {
		return reconcile.Options{}, err
	}
	reset, err := parseReset(cfg.Import.PasswordReset)
	if err != nil {
		return reconcile.Options{}, err
	}

	legacy := make(map[int]int64, len(cfg.Import.LegacyRoles))
	for code, roleID := range cfg.Import.LegacyRoles {
		n, convErr := strconv.Atoi(code)
		if convErr != nil {
			return reconcile.Options{}, errors.Errorf("import.legacy_roles key %q: %w", code, convErr)
		}
		legacy[n] = roleID
	}

	delim, _ := utf8.DecodeRuneInString(cfg.Import.Delimiter)

	return reconcile.Options{
		Mode:                  mode,
		UpdatePolicy:          policy,
		AllowRenames:          cfg.Import.AllowRenames,
		AllowDeletes:          cfg.Import.AllowDeletes,
		AllowSuspends:         cfg.Import.AllowSuspends,
		CreatePasswords:       cfg.Import.CreatePasswords,
		UpdatePasswords:       cfg.Import.UpdatePasswords,
		PasswordReset:         reset,
		StrictEmailDuplicates: cfg.Import.StrictEmailDuplicates,
		StandardUsernames:     cfg.Import.StandardUsernames,
		UsernameTemplate:      cfg.Import.UsernameTemplate,
		Defaults:              cfg.Import.Defaults,
		AuthAliases:           cfg.Import.AuthAliases,
		LegacyRoles:           legacy,
		Delimiter:             delim,
	}, nil
}

func parseMode(s string) (reconcile.Mode, error) {
	switch s {
	case "add-new":
		return reconcile.ModeAddNew, nil
	case "add-incrementing":
		return reconcile.ModeAddInc, nil
	case "add-update":
		return reconcile.ModeAddOrUpdate, nil
	case "update-only":
		return reconcile.ModeUpdateOnly, nil
	}
	return 0, errors.Errorf("unknown import.mode %q", s)
}

func parsePolicy(s string) (reconcile.UpdatePolicy, error) {
	switch s {
	case "no-changes":
		return reconcile.PolicyNoChanges, nil
	case "fill-missing":
		return reconcile.PolicyFillMissing, nil
	case "file-override":
		return reconcile.PolicyFileOverride, nil
	case "all-override":
		return reconcile.PolicyAllOverride, nil
	}
	return 0, errors.Errorf("unknown import.update_policy %q", s)
}

func parseReset(s string) (reconcile.PasswordReset, error) {
	switch s {
	case "none":
		return reconcile.ResetNone, nil
	case "weak":
		return reconcile.ResetWeak, nil
	case "all":
		return reconcile.ResetAll, nil
	}
	return 0, errors.Errorf("unknown import.password_reset %q", s)
}

// 🔧 YAMLParser implements the Parser interface for YAML files
type YAMLParser struct{}

func init() {
	Register(&YAMLParser{})
}

// 🔍 CanParse checks if this parser can handle the given file
func (p *YAMLParser) CanParse(filename string) bool {
	return strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml")
}

// 📝 Parse parses the config from YAML
func (p *YAMLParser) Parse(ctx context.Context, data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Errorf("parsing YAML: %w", err)
	}
	return &cfg, nil
}
