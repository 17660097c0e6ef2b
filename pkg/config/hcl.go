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

package config

import (
	"context"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"gitlab.com/tozd/go/errors"
)

func init() {
	Register(&HCLParser{})
}

// 🔧 HCLParser implements the Parser interface for HCL files
type HCLParser struct{}

// 🔍 CanParse checks if this parser can handle the given file
func (p *HCLParser) CanParse(filename string) bool {
	return strings.HasSuffix(filename, ".hcl")
}

// 📝 Parse parses the config from HCL
func (p *HCLParser) Parse(ctx context.Context, data []byte) (*Config, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(data, "config.hcl")
	if diags.HasErrors() {
		return nil, errors.Errorf("parsing HCL: %s", diags.Error())
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{},
	}

	// HCL schema mirrors the YAML shape as blocks.
	type hclConfig struct {
		Transfer struct {
			Protocol  string   `hcl:"protocol,optional"`
			Host      string   `hcl:"host"`
			Port      int      `hcl:"port,optional"`
			Username  string   `hcl:"username,optional"`
			Password  string   `hcl:"password,optional"`
			RemoteDir string   `hcl:"remote_dir,optional"`
			Patterns  []string `hcl:"patterns,optional"`
		} `hcl:"transfer,block"`
		StagingRoot string `hcl:"staging_root"`
		Import      *struct {
			Mode                  string            `hcl:"mode,optional"`
			UpdatePolicy          string            `hcl:"update_policy,optional"`
			AllowRenames          bool              `hcl:"allow_renames,optional"`
			AllowDeletes          bool              `hcl:"allow_deletes,optional"`
			AllowSuspends         bool              `hcl:"allow_suspends,optional"`
			CreatePasswords       bool              `hcl:"create_passwords,optional"`
			UpdatePasswords       bool              `hcl:"update_passwords,optional"`
			PasswordReset         string            `hcl:"password_reset,optional"`
			StrictEmailDuplicates bool              `hcl:"strict_email_duplicates,optional"`
			StandardUsernames     bool              `hcl:"standard_usernames,optional"`
			UsernameTemplate      string            `hcl:"username_template,optional"`
			Delimiter             string            `hcl:"delimiter,optional"`
			Defaults              map[string]string `hcl:"defaults,optional"`
			AuthAliases           map[string]string `hcl:"auth_aliases,optional"`
			LegacyRoles           map[string]int64  `hcl:"legacy_roles,optional"`
		} `hcl:"import,block"`
		Notify *struct {
			Host     string   `hcl:"host,optional"`
			Port     int      `hcl:"port,optional"`
			Username string   `hcl:"username,optional"`
			Password string   `hcl:"password,optional"`
			From     string   `hcl:"from,optional"`
			To       []string `hcl:"to,optional"`
		} `hcl:"notify,block"`
		BudgetMinutes int `hcl:"budget_minutes,optional"`
	}

	var hclCfg hclConfig
	diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &hclCfg)
	if diags.HasErrors() {
		return nil, errors.Errorf("decoding HCL: %s", diags.Error())
	}

	cfg := &Config{
		Transfer: Transfer{
			Protocol:  hclCfg.Transfer.Protocol,
			Host:      hclCfg.Transfer.Host,
			Port:      hclCfg.Transfer.Port,
			Username:  hclCfg.Transfer.Username,
			Password:  hclCfg.Transfer.Password,
			RemoteDir: hclCfg.Transfer.RemoteDir,
			Patterns:  hclCfg.Transfer.Patterns,
		},
		StagingRoot:   hclCfg.StagingRoot,
		BudgetMinutes: hclCfg.BudgetMinutes,
	}

	if hclCfg.Import != nil {
		cfg.Import = Import{
			Mode:                  hclCfg.Import.Mode,
			UpdatePolicy:          hclCfg.Import.UpdatePolicy,
			AllowRenames:          hclCfg.Import.AllowRenames,
			AllowDeletes:          hclCfg.Import.AllowDeletes,
			AllowSuspends:         hclCfg.Import.AllowSuspends,
			CreatePasswords:       hclCfg.Import.CreatePasswords,
			UpdatePasswords:       hclCfg.Import.UpdatePasswords,
			PasswordReset:         hclCfg.Import.PasswordReset,
			StrictEmailDuplicates: hclCfg.Import.StrictEmailDuplicates,
			StandardUsernames:     hclCfg.Import.StandardUsernames,
			UsernameTemplate:      hclCfg.Import.UsernameTemplate,
			Delimiter:             hclCfg.Import.Delimiter,
			Defaults:              hclCfg.Import.Defaults,
			AuthAliases:           hclCfg.Import.AuthAliases,
			LegacyRoles:           hclCfg.Import.LegacyRoles,
		}
	}
	if hclCfg.Notify != nil {
		cfg.Notify = Notify{
			Host:     hclCfg.Notify.Host,
			Port:     hclCfg.Notify.Port,
			Username: hclCfg.Notify.Username,
			Password: hclCfg.Notify.Password,
			From:     hclCfg.Notify.From,
			To:       hclCfg.Notify.To,
		}
	}

	return cfg, nil
}
