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

package reconcile

// 🎛️ Mode selects how rows map onto existing directory accounts.
type Mode int

const (
	// ModeAddNew creates accounts only; rows matching an existing username
	// are skipped.
	ModeAddNew Mode = iota
	// ModeAddInc creates accounts always, incrementing colliding usernames
	// until unique.
	ModeAddInc
	// ModeAddOrUpdate creates missing accounts and updates existing ones.
	ModeAddOrUpdate
	// ModeUpdateOnly updates existing accounts; rows without a match are
	// skipped.
	ModeUpdateOnly
)

// UpdatePolicy controls which fields of an existing account a row may change.
type UpdatePolicy int

const (
	// PolicyNoChanges leaves existing field values untouched.
	PolicyNoChanges UpdatePolicy = iota
	// PolicyFillMissing only fills fields that are currently empty.
	PolicyFillMissing
	// PolicyFileOverride overrides from file values, skipping fields the file
	// left to configured defaults.
	PolicyFileOverride
	// PolicyAllOverride overrides everything, defaults included.
	PolicyAllOverride
)

// PasswordReset selects when imported passwords force a change on next login.
type PasswordReset int

const (
	ResetNone PasswordReset = iota
	ResetWeak
	ResetAll
)

// DefaultDelimiter is the column delimiter of batch files.
const DefaultDelimiter = ';'

// 🔧 Options is the run-scoped reconciliation configuration. One Options
// value configures one Reconciler; there is no process-wide state.
type Options struct {
	Mode         Mode
	UpdatePolicy UpdatePolicy

	AllowRenames  bool
	AllowDeletes  bool
	AllowSuspends bool

	// CreatePasswords lets new internal-auth accounts defer password
	// generation when the file has none; otherwise a missing password is an
	// error.
	CreatePasswords bool
	// UpdatePasswords lets rows reset passwords of existing internal-auth
	// accounts.
	UpdatePasswords bool
	PasswordReset   PasswordReset

	// StrictEmailDuplicates makes a duplicate email a row error instead of a
	// warning.
	StrictEmailDuplicates bool
	// StandardUsernames canonicalizes usernames to the directory's allowed
	// character set.
	StandardUsernames bool
	// UsernameTemplate synthesizes a username from %f (firstname) and %l
	// (lastname) when a creation row leaves the username blank.
	UsernameTemplate string

	// Defaults supplies values for fields the file did not provide, keyed by
	// field name. Fields filled from here are remembered so
	// PolicyFileOverride can skip them.
	Defaults map[string]string
	// AuthAliases rewrites legacy auth method names during extraction.
	AuthAliases map[string]string
	// LegacyRoles maps the numeric type1..type3 codes of older batch formats
	// to role IDs.
	LegacyRoles map[int]int64

	// Delimiter is the CSV column delimiter; DefaultDelimiter when zero.
	Delimiter rune
}

// Derived capability gates: some capabilities are meaningless in creation
// modes regardless of configuration.

func (o Options) renamesEnabled() bool {
	return o.AllowRenames && o.Mode != ModeAddNew && o.Mode != ModeAddInc
}

func (o Options) deletesEnabled() bool {
	return o.AllowDeletes && o.Mode != ModeAddNew && o.Mode != ModeAddInc
}

func (o Options) createPasswordsEnabled() bool {
	return o.CreatePasswords && o.Mode != ModeUpdateOnly
}

func (o Options) updatePasswordsEnabled() bool {
	return o.UpdatePasswords && o.Mode != ModeAddNew && o.Mode != ModeAddInc &&
		(o.UpdatePolicy == PolicyFileOverride || o.UpdatePolicy == PolicyAllOverride)
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return DefaultDelimiter
	}
	return o.Delimiter
}
