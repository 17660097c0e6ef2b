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

// Package directory defines the user-directory collaborator consumed by the
// reconciler: account lookup and mutation, custom profile fields, and the
// course/cohort/group enrolment facilities. The hosting platform provides the
// real implementation; InMemory is a complete reference used in tests and by
// the bundled CLI.
package directory

import (
	"context"
	"time"

	"gitlab.com/tozd/go/errors"
)

var (
	ErrNotFound     = errors.Base("directory: record not found")
	ErrUnknownAuth  = errors.Base("directory: unknown authentication method")
	ErrWeakPassword = errors.Base("directory: password fails strength policy")
)

// 👤 User is one directory account record. Username, auth method, suspension,
// and password are first-class; every other account field (firstname,
// lastname, email, profile_field_*...) lives in Fields so the reconciler can
// merge them generically.
type User struct {
	ID        int64
	Username  string
	Auth      string
	Suspended bool
	// Password holds the stored (hashed) password, or the "not cached"
	// sentinel for externally authenticated accounts.
	Password  string
	SiteAdmin bool
	Confirmed bool
	Fields    map[string]string

	ForcePasswordChange bool
	GeneratePassword    bool

	TimeCreated  time.Time
	TimeModified time.Time
}

// Field returns a generic field value, "" when absent.
func (u *User) Field(name string) string {
	if u.Fields == nil {
		return ""
	}
	return u.Fields[name]
}

// SetField sets a generic field value.
func (u *User) SetField(name, value string) {
	if u.Fields == nil {
		u.Fields = make(map[string]string)
	}
	u.Fields[name] = value
}

// 🔑 AuthMethod describes one authentication plugin known to the directory.
type AuthMethod struct {
	Name string
	// Internal methods store passwords in the directory.
	Internal bool
	// Enabled methods are the supported set; assigning a disabled one is
	// tracked as a warning.
	Enabled bool
}

// LoginDisabled reports whether accounts on this method cannot log in at all.
// Switching an account to such a method forces session termination.
func (a AuthMethod) LoginDisabled() bool { return a.Name == "nologin" }

// 📚 Course is a course resolved by short name.
type Course struct {
	ID        int64
	ShortName string
}

// EnrolMethod is a course's manual-enrolment mechanism.
type EnrolMethod struct {
	ID            int64
	CourseID      int64
	DefaultRoleID int64
	// DefaultPeriod is the mechanism's default enrolment duration; zero means
	// open-ended.
	DefaultPeriod time.Duration
}

// Role is an assignable course role.
type Role struct {
	ID   int64
	Name string
}

// Group is a course group.
type Group struct {
	ID       int64
	CourseID int64
	Name     string
}

// Cohort is a site-wide cohort. Cohorts with a non-empty Component are
// managed by an external source and must not be modified here.
type Cohort struct {
	ID        int64
	IDNumber  string
	Name      string
	Component string
}

// 🗄️ Directory is the capability set the reconciler needs from the platform's
// user store. Implementations are expected to be safe for sequential use by a
// single run.
type Directory interface {
	// LookupByUsername returns the account with the given username within the
	// local authentication realm, or ErrNotFound.
	LookupByUsername(ctx context.Context, username string) (*User, error)
	// EmailInUse reports whether any account already uses the address.
	EmailInUse(ctx context.Context, email string) (bool, error)
	Insert(ctx context.Context, u *User) (int64, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, u *User) error
	// Rename changes an account's username in place.
	Rename(ctx context.Context, userID int64, newUsername string) error
	// KillSessions terminates every active session of the account.
	KillSessions(ctx context.Context, userID int64) error

	// CustomFields lists the short names of the custom profile fields the
	// directory knows, without the profile_field_ prefix.
	CustomFields(ctx context.Context) ([]string, error)

	// AuthMethod resolves an authentication plugin, or ErrUnknownAuth.
	AuthMethod(name string) (AuthMethod, error)
	// CheckPasswordPolicy returns ErrWeakPassword when the cleartext fails
	// the strength policy.
	CheckPasswordPolicy(password string) error
	// HashPassword converts a cleartext password to its stored form.
	HashPassword(password string) string

	// Course resolves a course by short name, or ErrNotFound.
	Course(ctx context.Context, shortName string) (*Course, error)
	// ManualEnrolMethod returns the course's manual-enrolment mechanism,
	// creating it when absent.
	ManualEnrolMethod(ctx context.Context, courseID int64) (*EnrolMethod, error)
	// EnrolUser grants the user the role in the mechanism's course between
	// start and end; a zero end means open-ended.
	EnrolUser(ctx context.Context, method *EnrolMethod, userID, roleID int64, start, end time.Time) error
	// IsEnrolled reports whether the user is enrolled in the course by any
	// mechanism.
	IsEnrolled(ctx context.Context, courseID, userID int64) (bool, error)
	// Role resolves an assignable role by name, or ErrNotFound.
	Role(ctx context.Context, name string) (*Role, error)

	// Groups lists the groups of a course.
	Groups(ctx context.Context, courseID int64) ([]*Group, error)
	CreateGroup(ctx context.Context, courseID int64, name string) (*Group, error)
	AddGroupMember(ctx context.Context, groupID, userID int64) error

	// Cohort resolves a cohort: numeric references match by id, anything else
	// by external identifier. Returns ErrNotFound when unknown.
	Cohort(ctx context.Context, ref string) (*Cohort, error)
	IsCohortMember(ctx context.Context, cohortID, userID int64) (bool, error)
	AddCohortMember(ctx context.Context, cohortID, userID int64) error
}
