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

// Package reconcile runs the rows of one user batch file through the
// per-record decision table: normalize, match against the user directory,
// choose create/update/rename/delete/skip, apply, and record the outcome.
// The whole file is parsed before any row takes effect. Row failures never
// escape the row; every domain error becomes a tracked severity plus a
// counter.
package reconcile

import (
	"context"
	"encoding/csv"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/odissea/gtafsync/pkg/directory"
	"github.com/odissea/gtafsync/pkg/schema"
	"github.com/odissea/gtafsync/pkg/tracker"
)

// ErrMalformedFile marks files that fail CSV parsing or header validation.
// The orchestrator quarantines such files whole; row processing never starts.
var ErrMalformedFile = errors.Base("malformed batch file")

// Row status messages.
const (
	msgUserCreated      = "New user created"
	msgUserUpdated      = "User updated"
	msgUserUpToDate     = "User already up to date"
	msgUserDeleted      = "User deleted"
	msgUserRenamed      = "User renamed"
	msgNotAddedExists   = "Not added: username already registered"
	msgNotAddedError    = "User not added"
	msgNotUpdated       = "User not updated"
	msgNotUpdatedAbsent = "Not updated: user does not exist"
	msgNotDeletedOff    = "Not deleted: user deletion is disabled"
	msgNotDeletedAbsent = "Not deleted: user does not exist"
	msgNotDeletedAdmin  = "Not deleted: administrator account is protected"
	msgNotDeletedError  = "Error deleting user"
	msgNotRenamedOff    = "Not renamed: user renaming is disabled"
	msgNotRenamedExists = "Not renamed: new username already taken"
	msgNotRenamedAbsent = "Not renamed: original user does not exist"
	msgNotRenamedAdmin  = "Not renamed: administrator account is protected"
	msgNotUpdatedAdmin  = "Not updated: administrator account is protected"
	msgGuestProtected   = "The guest account cannot be modified"
	msgEmailDuplicate   = "Email address already in use"
	msgEmailInvalid     = "Invalid email address"
	msgAuthUnsupported  = "Authentication method not supported"
	msgWeakPassword     = "Password does not meet the site policy"
	msgPasswordMissing  = "Missing required field: password"
	msgPasswordDeferred = "Password will be generated on first login"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// usernameAllowed is the canonical username character set.
var usernameAllowed = regexp.MustCompile(`[^a-z0-9._@-]+`)

// 🧮 Reconciler applies one batch file against the user directory. It holds
// the run-scoped caches (courses, groups, cohorts, roles, enrolment methods)
// and must not be shared between concurrent runs.
type Reconciler struct {
	dir  directory.Directory
	opts Options

	courses map[string]*courseEntry
	cohorts map[string]*cohortEntry
	roles   map[string]*directory.Role
	methods map[int64]*directory.EnrolMethod

	// today is midnight of the run's start day; enrolment start times use it.
	today time.Time
	now   func() time.Time
}

type courseEntry struct {
	course *directory.Course
	// groups caches the course's groups keyed by numeric id and, for
	// non-numeric names only, by name.
	groups map[string]*directory.Group
}

type cohortEntry struct {
	cohort *directory.Cohort
	errMsg string
}

// New creates a Reconciler over the given directory.
func New(dir directory.Directory, opts Options) *Reconciler {
	r := &Reconciler{
		dir:     dir,
		opts:    opts,
		courses: make(map[string]*courseEntry),
		cohorts: make(map[string]*cohortEntry),
		roles:   make(map[string]*directory.Role),
		methods: make(map[int64]*directory.EnrolMethod),
		now:     time.Now,
	}
	r.today = midnight(r.now())
	return r
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Run parses a batch file in full and then reconciles every data row. Header
// or CSV failures return an error wrapping ErrMalformedFile with the
// directory untouched; row-level problems are tracked in the Result instead.
func (r *Reconciler) Run(ctx context.Context, input io.Reader) (*Result, error) {
	logger := zerolog.Ctx(ctx)

	reader := csv.NewReader(input)
	reader.Comma = r.opts.delimiter()
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Errorf("%w: reading header: %w", ErrMalformedFile, err)
	}

	profiles, err := r.dir.CustomFields(ctx)
	if err != nil {
		return nil, errors.Errorf("listing custom profile fields: %w", err)
	}

	cols, err := schema.ValidateHeader(header, profiles)
	if err != nil {
		return nil, errors.Errorf("%w: %w", ErrMalformedFile, err)
	}

	// The whole file must parse before any row takes effect: a syntax error
	// anywhere quarantines the file with the directory untouched.
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Errorf("%w: reading rows: %w", ErrMalformedFile, err)
	}

	upt := tracker.New()
	upt.Start()
	res := &Result{}

	line := 1 // the header is line 1, data starts at line 2
	for _, record := range records {
		upt.Flush()
		line++
		upt.Track("line", strconv.Itoa(line), tracker.Normal, true)
		r.processRow(ctx, cols, record, upt, res)
	}

	res.Report = upt.Close()
	logger.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Int("errors", res.Errors+res.DeleteErrors+res.RenameErrors).
		Msg("batch reconciled")
	return res, nil
}

// row is one extracted data row: plain fields by name, indexed enrolment
// fields by (index, family), and the set of fields filled from configured
// defaults.
type row struct {
	vals         map[string]string
	indexed      map[int]map[string]string
	fromDefaults map[string]bool
}

func (w *row) value(field string) string { return w.vals[field] }

func (w *row) indices() []int {
	out := make([]int, 0, len(w.indexed))
	for i := range w.indexed {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// truthy interprets the suspended/deleted flags: empty and "0" are false.
func truthy(v string) bool { return v != "" && v != "0" }

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func trackable(field string) bool {
	switch field {
	case "username", "firstname", "lastname", "email", "password", "auth", "suspended", "deleted":
		return true
	}
	return false
}

// processRow runs the full decision table for one data row. It never returns
// an error: every outcome is tracked and counted.
func (r *Reconciler) processRow(ctx context.Context, cols []schema.Column, record []string, upt *tracker.Tracker, res *Result) {
	w := r.extract(cols, record, upt)

	username := w.value("username")

	// Creation modes require firstname and lastname; the username may be
	// synthesized from the configured template.
	if r.opts.Mode == ModeAddNew || r.opts.Mode == ModeAddInc {
		failed := false
		for _, field := range []string{"firstname", "lastname"} {
			if w.value(field) == "" {
				upt.Track("status", "Missing required field: "+field, tracker.Error, true)
				upt.Track(field, "error", tracker.Error, true)
				failed = true
			}
		}
		if failed {
			res.Errors++
			return
		}
		if username == "" && r.opts.UsernameTemplate != "" {
			username = expandTemplate(r.opts.UsernameTemplate, w)
			w.vals["username"] = username
			upt.Track("username", username, tracker.Normal, true)
		}
	}

	originalUsername := username
	if r.opts.StandardUsernames {
		username = cleanUsername(username)
	}

	if username == "" {
		upt.Track("status", "Missing required field: username", tracker.Error, true)
		upt.Track("username", "error", tracker.Error, true)
		res.Errors++
		return
	}
	if username == "guest" {
		upt.Track("status", msgGuestProtected, tracker.Error, true)
		res.Errors++
		return
	}
	if username != cleanUsername(username) {
		upt.Track("status", "Invalid username: "+username, tracker.Error, true)
		upt.Track("username", "error", tracker.Error, true)
		res.Errors++
	}
	w.vals["username"] = username

	existing := r.lookup(ctx, username)
	if existing != nil {
		upt.Track("id", strconv.FormatInt(existing.ID, 10), tracker.Normal, false)
	}

	// Incrementing mode forces the creation path on collision.
	if existing != nil && r.opts.Mode == ModeAddInc {
		username = r.incrementUsername(ctx, username)
		w.vals["username"] = username
		existing = nil
	}

	if originalUsername != username {
		upt.Track("username", "", tracker.Normal, false)
		upt.Track("username", originalUsername+"-->"+username, tracker.Info, true)
	} else {
		upt.Track("username", username, tracker.Normal, false)
	}

	r.applyDefaults(w, upt)

	// Deletion terminates row processing; no field sync happens after it.
	if truthy(w.value("deleted")) {
		r.deleteUser(ctx, w, existing, upt, res)
		return
	}
	delete(w.vals, "deleted")

	// Rename turns into an update against the renamed record.
	if w.value("oldusername") != "" {
		existing = r.renameUser(ctx, w, existing, upt, res)
		if existing == nil {
			return
		}
	}

	switch r.opts.Mode {
	case ModeAddNew:
		if existing != nil {
			res.Skipped++
			upt.Track("status", msgNotAddedExists, tracker.Warning, true)
			return
		}
	case ModeAddInc:
		if existing != nil {
			// collision should have been incremented away above
			res.Errors++
			upt.Track("status", msgNotAddedError, tracker.Error, true)
			return
		}
	case ModeAddOrUpdate:
	case ModeUpdateOnly:
		if existing == nil {
			res.Skipped++
			upt.Track("status", msgNotUpdatedAbsent, tracker.Warning, true)
			return
		}
	default:
		// unknown mode is a hard skip
		return
	}

	var user *directory.User
	if existing != nil {
		user = r.updateExisting(ctx, w, existing, upt, res)
	} else {
		user = r.createNew(ctx, w, upt, res)
	}
	if user == nil {
		return
	}

	// Cohort membership first: it may trigger enrolments indirectly.
	r.applyCohorts(ctx, w, user, upt)
	r.applyEnrolments(ctx, w, user, upt)
}

// extract maps cells onto field names through the validated header, trimming
// whitespace, rewriting aliased auth values, and ignoring cells beyond the
// header width.
func (r *Reconciler) extract(cols []schema.Column, record []string, upt *tracker.Tracker) *row {
	w := &row{
		vals:         make(map[string]string),
		indexed:      make(map[int]map[string]string),
		fromDefaults: make(map[string]bool),
	}
	for i, col := range cols {
		if i >= len(record) {
			break
		}
		value := strings.TrimSpace(record[i])

		if col.Indexed() {
			if w.indexed[col.Index] == nil {
				w.indexed[col.Index] = make(map[string]string)
			}
			w.indexed[col.Index][col.Base] = value
			continue
		}

		if col.Name == "auth" {
			if alias, ok := r.opts.AuthAliases[value]; ok {
				value = alias
			}
		}
		w.vals[col.Name] = value

		// The password cleartext must never reach the report.
		if trackable(col.Name) && col.Name != "password" {
			upt.Track(col.Name, value, tracker.Normal, true)
		}
	}
	return w
}

// applyDefaults fills configured default values into fields the file left
// unset, remembering them so PolicyFileOverride can tell them apart.
func (r *Reconciler) applyDefaults(w *row, upt *tracker.Tracker) {
	fields := make([]string, 0, len(r.opts.Defaults))
	for field := range r.opts.Defaults {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if _, set := w.vals[field]; set {
			continue
		}
		value := expandTemplate(r.opts.Defaults[field], w)
		w.vals[field] = value
		w.fromDefaults[field] = true
		if trackable(field) && field != "password" {
			upt.Track(field, value, tracker.Normal, true)
		}
	}
}

func (r *Reconciler) lookup(ctx context.Context, username string) *directory.User {
	u, err := r.dir.LookupByUsername(ctx, username)
	if err != nil {
		return nil
	}
	return u
}

// incrementUsername appends (or bumps) a numeric suffix until the username is
// free in the directory.
func (r *Reconciler) incrementUsername(ctx context.Context, username string) string {
	stem := strings.TrimRight(username, "0123456789")
	n := 2
	if tail := username[len(stem):]; tail != "" {
		if v, err := strconv.Atoi(tail); err == nil {
			n = v + 1
		}
	}
	for {
		candidate := stem + strconv.Itoa(n)
		if r.lookup(ctx, candidate) == nil {
			return candidate
		}
		n++
	}
}

func (r *Reconciler) deleteUser(ctx context.Context, w *row, existing *directory.User, upt *tracker.Tracker, res *Result) {
	if !r.opts.deletesEnabled() {
		res.Skipped++
		upt.Track("status", msgNotDeletedOff, tracker.Warning, true)
		return
	}
	if existing == nil {
		upt.Track("status", msgNotDeletedAbsent, tracker.Error, true)
		res.DeleteErrors++
		return
	}
	if existing.SiteAdmin {
		upt.Track("status", msgNotDeletedAdmin, tracker.Error, true)
		res.DeleteErrors++
		return
	}
	if err := r.dir.Delete(ctx, existing); err != nil {
		upt.Track("status", msgNotDeletedError, tracker.Error, true)
		res.DeleteErrors++
		return
	}
	upt.Track("status", msgUserDeleted, tracker.Normal, true)
	res.Deleted++
}

// renameUser resolves the oldusername branch. On success it returns the
// renamed record for the update path to continue with; nil terminates the
// row.
func (r *Reconciler) renameUser(ctx context.Context, w *row, existing *directory.User, upt *tracker.Tracker, res *Result) *directory.User {
	if !r.opts.renamesEnabled() {
		res.Skipped++
		upt.Track("status", msgNotRenamedOff, tracker.Warning, true)
		return nil
	}
	// The new username must not already belong to someone.
	if existing != nil {
		upt.Track("status", msgNotRenamedExists, tracker.Error, true)
		res.RenameErrors++
		return nil
	}

	oldUsername := w.value("oldusername")
	if r.opts.StandardUsernames {
		oldUsername = cleanUsername(oldUsername)
	}

	// No guessing for the old username: exact match only.
	oldUser, err := r.dir.LookupByUsername(ctx, oldUsername)
	if err != nil {
		upt.Track("status", msgNotRenamedAbsent, tracker.Error, true)
		res.RenameErrors++
		return nil
	}
	upt.Track("id", strconv.FormatInt(oldUser.ID, 10), tracker.Normal, false)
	if oldUser.SiteAdmin {
		upt.Track("status", msgNotRenamedAdmin, tracker.Error, true)
		res.RenameErrors++
		return nil
	}

	newUsername := w.value("username")
	if err := r.dir.Rename(ctx, oldUser.ID, newUsername); err != nil {
		upt.Track("status", msgNotRenamedExists, tracker.Error, true)
		res.RenameErrors++
		return nil
	}
	upt.Track("username", "", tracker.Normal, false)
	upt.Track("username", oldUsername+"-->"+newUsername, tracker.Info, true)
	upt.Track("status", msgUserRenamed, tracker.Normal, true)
	res.Renamed++

	oldUser.Username = newUsername
	return oldUser
}

// mergeExcluded are fields the generic merge must never touch: identity and
// the specially handled ones.
func mergeExcluded(field string) bool {
	switch field {
	case "id", "username", "password", "auth", "suspended", "oldusername", "deleted":
		return true
	}
	return false
}

func (r *Reconciler) updateExisting(ctx context.Context, w *row, existing *directory.User, upt *tracker.Tracker, res *Result) *directory.User {
	upt.Track("username", existing.Username, tracker.Normal, false)
	upt.Track("suspended", yesNo(existing.Suspended), tracker.Normal, false)
	upt.Track("auth", existing.Auth, tracker.Normal, false)

	if existing.SiteAdmin {
		upt.Track("status", msgNotUpdatedAdmin, tracker.Error, true)
		res.Errors++
		return nil
	}

	doUpdate := false
	doLogout := false
	authChanged := false

	if r.opts.UpdatePolicy != PolicyNoChanges {
		if fileAuth := w.value("auth"); fileAuth != "" && fileAuth != existing.Auth {
			upt.Track("auth", existing.Auth+"-->"+fileAuth, tracker.Info, false)
			existing.Auth = fileAuth
			authChanged = true
			doUpdate = true
			if method, err := r.dir.AuthMethod(fileAuth); err == nil && !method.Enabled {
				upt.Track("auth", msgAuthUnsupported, tracker.Warning, true)
			}
		}

		// Generic field merge, in sorted field order for stable reporting.
		fields := make([]string, 0, len(w.vals))
		for field := range w.vals {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			if mergeExcluded(field) {
				continue
			}
			newValue := w.vals[field]
			oldValue := existing.Field(field)

			switch r.opts.UpdatePolicy {
			case PolicyFillMissing:
				if oldValue != "" {
					continue
				}
			case PolicyFileOverride:
				if w.fromDefaults[field] {
					continue
				}
			case PolicyAllOverride:
				// override everything
			}
			if oldValue == newValue {
				continue
			}

			if field == "email" {
				inUse, err := r.dir.EmailInUse(ctx, newValue)
				if err == nil && inUse {
					if r.opts.StrictEmailDuplicates {
						upt.Track("email", msgEmailDuplicate, tracker.Error, true)
						upt.Track("status", msgNotUpdated, tracker.Error, true)
						res.Errors++
						return nil
					}
					upt.Track("email", msgEmailDuplicate, tracker.Warning, true)
				}
				if !emailPattern.MatchString(newValue) {
					upt.Track("email", msgEmailInvalid, tracker.Warning, true)
				}
			}

			if trackable(field) {
				upt.Track(field, oldValue+"-->"+newValue, tracker.Info, false)
			}
			existing.SetField(field, newValue)
			doUpdate = true
		}
	}

	method, err := r.dir.AuthMethod(existing.Auth)
	if err != nil {
		upt.Track("auth", "Unknown authentication method: "+existing.Auth, tracker.Error, true)
		upt.Track("status", msgNotUpdated, tracker.Error, true)
		res.Errors++
		return nil
	}
	if authChanged && method.LoginDisabled() {
		doLogout = true
	}

	if r.opts.AllowSuspends {
		if v, set := w.vals["suspended"]; set && v != "" {
			suspended := truthy(v)
			if existing.Suspended != suspended {
				upt.Track("suspended", "", tracker.Normal, false)
				upt.Track("suspended", yesNo(existing.Suspended)+"-->"+yesNo(suspended), tracker.Info, false)
				existing.Suspended = suspended
				doUpdate = true
				if suspended {
					doLogout = true
				}
			}
		}
	}

	// Passwords: external auth never stores one; internal auth may reset
	// from the file. The cleartext is never echoed to the report.
	oldPassword := existing.Password
	if !method.Internal {
		existing.Password = directory.NotCachedPassword
		existing.ForcePasswordChange = false
		existing.GeneratePassword = false
		upt.Track("password", "-", tracker.Normal, false)
	} else if pw := w.value("password"); pw != "" {
		if r.opts.updatePasswordsEnabled() {
			weak := r.dir.CheckPasswordPolicy(pw) != nil
			if r.opts.PasswordReset == ResetAll || (r.opts.PasswordReset == ResetWeak && weak) {
				if weak {
					res.WeakPasswords++
					upt.Track("password", msgWeakPassword, tracker.Warning, true)
				}
				existing.ForcePasswordChange = true
			} else {
				existing.ForcePasswordChange = false
			}
			existing.GeneratePassword = false
			existing.Password = r.dir.HashPassword(pw)
		}
		upt.Track("password", "", tracker.Normal, false)
	}

	if doUpdate || existing.Password != oldPassword {
		if err := r.dir.Update(ctx, existing); err != nil {
			upt.Track("status", msgNotUpdated, tracker.Error, true)
			res.Errors++
			return nil
		}
		upt.Track("status", msgUserUpdated, tracker.Normal, true)
		res.Updated++
	} else {
		upt.Track("status", msgUserUpToDate, tracker.Normal, true)
		res.UpToDate++
	}

	if doLogout {
		_ = r.dir.KillSessions(ctx, existing.ID)
	}
	return existing
}

func (r *Reconciler) createNew(ctx context.Context, w *row, upt *tracker.Tracker, res *Result) *directory.User {
	u := &directory.User{
		Username:  w.value("username"),
		Suspended: truthy(w.value("suspended")),
		Auth:      w.value("auth"),
		Fields:    make(map[string]string),
	}
	for field, value := range w.vals {
		if mergeExcluded(field) || field == "username" {
			continue
		}
		u.SetField(field, value)
	}
	if u.Auth == "" {
		u.Auth = "manual"
	}
	upt.Track("suspended", yesNo(u.Suspended), tracker.Normal, false)
	upt.Track("auth", u.Auth, tracker.Normal, false)

	method, err := r.dir.AuthMethod(u.Auth)
	if err != nil {
		upt.Track("auth", "Unknown authentication method: "+u.Auth, tracker.Error, true)
		upt.Track("status", msgNotAddedError, tracker.Error, true)
		res.Errors++
		return nil
	}
	if !method.Enabled {
		upt.Track("auth", msgAuthUnsupported, tracker.Warning, true)
	}

	email := u.Field("email")
	if email == "" {
		upt.Track("email", msgEmailInvalid, tracker.Error, true)
		upt.Track("status", msgNotAddedError, tracker.Error, true)
		res.Errors++
		return nil
	}
	if inUse, err := r.dir.EmailInUse(ctx, email); err == nil && inUse {
		if r.opts.StrictEmailDuplicates {
			upt.Track("email", msgEmailDuplicate, tracker.Error, true)
			upt.Track("status", msgNotAddedError, tracker.Error, true)
			res.Errors++
			return nil
		}
		upt.Track("email", msgEmailDuplicate, tracker.Warning, true)
	}
	if !emailPattern.MatchString(email) {
		upt.Track("email", msgEmailInvalid, tracker.Warning, true)
	}

	if method.Internal {
		pw := w.value("password")
		if pw == "" {
			if !r.opts.createPasswordsEnabled() {
				upt.Track("password", "", tracker.Normal, false)
				upt.Track("password", msgPasswordMissing, tracker.Error, true)
				upt.Track("status", msgNotAddedError, tracker.Error, true)
				res.Errors++
				return nil
			}
			u.GeneratePassword = true
			upt.Track("password", "", tracker.Normal, false)
			upt.Track("password", msgPasswordDeferred, tracker.Warning, false)
		} else {
			weak := r.dir.CheckPasswordPolicy(pw) != nil
			if r.opts.PasswordReset == ResetAll || (r.opts.PasswordReset == ResetWeak && weak) {
				if weak {
					res.WeakPasswords++
					upt.Track("password", msgWeakPassword, tracker.Warning, true)
				}
				u.ForcePasswordChange = true
			}
			u.Password = r.dir.HashPassword(pw)
		}
	} else {
		u.Password = directory.NotCachedPassword
		upt.Track("password", "-", tracker.Normal, false)
	}

	id, err := r.dir.Insert(ctx, u)
	if err != nil {
		upt.Track("status", msgNotAddedError, tracker.Error, true)
		res.Errors++
		return nil
	}
	upt.Track("id", strconv.FormatInt(id, 10), tracker.Normal, false)
	upt.Track("status", msgUserCreated, tracker.Normal, true)
	res.Created++
	return u
}

// cleanUsername canonicalizes a username to the directory's allowed
// character set.
func cleanUsername(username string) string {
	username = strings.ToLower(strings.TrimSpace(username))
	return usernameAllowed.ReplaceAllString(username, "")
}

// expandTemplate substitutes %f (firstname) and %l (lastname), lower-cased,
// into a username or default-value template.
func expandTemplate(tpl string, w *row) string {
	out := strings.ReplaceAll(tpl, "%f", strings.ToLower(w.value("firstname")))
	out = strings.ReplaceAll(out, "%l", strings.ToLower(w.value("lastname")))
	return strings.ReplaceAll(out, " ", "")
}
