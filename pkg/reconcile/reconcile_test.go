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

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/odissea/gtafsync/pkg/directory"
	"github.com/odissea/gtafsync/pkg/tracker"
)

func runBatch(t *testing.T, dir directory.Directory, opts Options, csv string) *Result {
	t.Helper()
	res, err := New(dir, opts).Run(context.Background(), strings.NewReader(csv))
	require.NoError(t, err)
	return res
}

func seedUser(dir *directory.InMemory, username, email string) *directory.User {
	u := &directory.User{Username: username, Auth: "manual", Fields: map[string]string{}}
	if email != "" {
		u.SetField("email", email)
	}
	return dir.AddUser(u)
}

func TestRun_CreateNewUser(t *testing.T) {
	dir := directory.NewInMemory()

	res := runBatch(t, dir, Options{Mode: ModeAddNew},
		"username;firstname;lastname;email;password\n"+
			"jsmith;John;Smith;jsmith@example.org;Secret123\n")

	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Errors)
	assert.False(t, res.Failed())

	u, err := dir.LookupByUsername(context.Background(), "jsmith")
	require.NoError(t, err)
	assert.Equal(t, "manual", u.Auth)
	assert.Equal(t, "hashed:Secret123", u.Password)
	assert.Equal(t, "John", u.Field("firstname"))

	rows := res.Report.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0]["line"].Value())
	assert.Equal(t, "New user created", rows[0]["status"].Value())
	// The cleartext must never reach the report.
	assert.NotContains(t, rows[0]["password"].Value(), "Secret123")
}

func TestRun_AddNewSkipsExisting(t *testing.T) {
	dir := directory.NewInMemory()
	seedUser(dir, "jsmith", "jsmith@example.org")

	res := runBatch(t, dir, Options{Mode: ModeAddNew},
		"username;firstname;lastname;email;password\n"+
			"jsmith;John;Smith;other@example.org;Secret123\n")

	assert.Zero(t, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, res.Failed())

	rows := res.Report.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, tracker.Warning, rows[0]["status"].MaxSeverity())
}

func TestRun_AddIncIncrementsUsername(t *testing.T) {
	dir := directory.NewInMemory()
	seedUser(dir, "jsmith", "jsmith@example.org")

	res := runBatch(t, dir, Options{Mode: ModeAddInc},
		"username;firstname;lastname;email;password\n"+
			"jsmith;John;Smith;other@example.org;Secret123\n")

	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Errors)

	u, err := dir.LookupByUsername(context.Background(), "jsmith2")
	require.NoError(t, err)
	assert.Equal(t, "other@example.org", u.Field("email"))
}

func TestRun_UpdateOnlySkipsAbsent(t *testing.T) {
	dir := directory.NewInMemory()

	res := runBatch(t, dir, Options{Mode: ModeUpdateOnly, UpdatePolicy: PolicyAllOverride},
		"username;email\nnobody;nobody@example.org\n")

	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Updated)
}

func TestRun_UpdateExisting(t *testing.T) {
	dir := directory.NewInMemory()
	u := seedUser(dir, "jsmith", "old@example.org")
	u.SetField("firstname", "Jon")

	csv := "username;firstname;email\njsmith;John;new@example.org\n"
	opts := Options{Mode: ModeAddOrUpdate, UpdatePolicy: PolicyAllOverride}

	res := runBatch(t, dir, opts, csv)
	assert.Equal(t, 1, res.Updated)

	got, err := dir.LookupByUsername(context.Background(), "jsmith")
	require.NoError(t, err)
	assert.Equal(t, "John", got.Field("firstname"))
	assert.Equal(t, "new@example.org", got.Field("email"))

	// A second identical run changes nothing.
	res = runBatch(t, dir, opts, csv)
	assert.Zero(t, res.Updated)
	assert.Equal(t, 1, res.UpToDate)
}

func TestRun_FillMissingKeepsExistingValues(t *testing.T) {
	dir := directory.NewInMemory()
	u := seedUser(dir, "jsmith", "old@example.org")
	u.SetField("city", "Girona")

	res := runBatch(t, dir, Options{Mode: ModeAddOrUpdate, UpdatePolicy: PolicyFillMissing},
		"username;city;department\njsmith;Lleida;Science\n")

	assert.Equal(t, 1, res.Updated)
	got, err := dir.LookupByUsername(context.Background(), "jsmith")
	require.NoError(t, err)
	assert.Equal(t, "Girona", got.Field("city"))
	assert.Equal(t, "Science", got.Field("department"))
}

func TestRun_Rename(t *testing.T) {
	dir := directory.NewInMemory()
	seedUser(dir, "jdoe", "jdoe@example.org")

	res := runBatch(t, dir, Options{Mode: ModeAddOrUpdate, UpdatePolicy: PolicyFillMissing, AllowRenames: true},
		"username;oldusername;email\njsmith;jdoe;jdoe@example.org\n")

	assert.Equal(t, 1, res.Renamed)
	assert.Zero(t, res.RenameErrors)

	_, err := dir.LookupByUsername(context.Background(), "jdoe")
	assert.ErrorIs(t, err, directory.ErrNotFound)
	_, err = dir.LookupByUsername(context.Background(), "jsmith")
	assert.NoError(t, err)
}

func TestRun_RenameDisabledInCreationModes(t *testing.T) {
	dir := directory.NewInMemory()
	seedUser(dir, "jdoe", "jdoe@example.org")

	res := runBatch(t, dir, Options{Mode: ModeAddNew, AllowRenames: true},
		"username;firstname;lastname;oldusername;email;password\n"+
			"jsmith;John;Smith;jdoe;jdoe@example.org;Secret123\n")

	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Renamed)
	_, err := dir.LookupByUsername(context.Background(), "jdoe")
	assert.NoError(t, err)
}

func TestRun_RenameTargetTaken(t *testing.T) {
	dir := directory.NewInMemory()
	seedUser(dir, "jdoe", "jdoe@example.org")
	seedUser(dir, "jsmith", "jsmith@example.org")

	res := runBatch(t, dir, Options{Mode: ModeAddOrUpdate, AllowRenames: true},
		"username;oldusername\njsmith;jdoe\n")

	assert.Equal(t, 1, res.RenameErrors)
	assert.True(t, res.Failed())
}

func TestRun_Delete(t *testing.T) {
	dir := directory.NewInMemory()
	seedUser(dir, "jsmith", "jsmith@example.org")

	res := runBatch(t, dir, Options{Mode: ModeAddOrUpdate, AllowDeletes: true},
		"username;deleted\njsmith;1\n")

	assert.Equal(t, 1, res.Deleted)
	_, err := dir.LookupByUsername(context.Background(), "jsmith")
	assert.ErrorIs(t, err, directory.ErrNotFound)
}

func TestRun_DeleteVariants(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		seed    func(dir *directory.InMemory)
		csv     string
		deleted int
		errs    int
		skipped int
	}{
		{
			name:    "disabled deletion is skipped",
			opts:    Options{Mode: ModeAddOrUpdate},
			seed:    func(dir *directory.InMemory) { seedUser(dir, "jsmith", "") },
			csv:     "username;deleted\njsmith;1\n",
			skipped: 1,
		},
		{
			name: "missing user is a delete error",
			opts: Options{Mode: ModeAddOrUpdate, AllowDeletes: true},
			seed: func(dir *directory.InMemory) {},
			csv:  "username;deleted\nnobody;1\n",
			errs: 1,
		},
		{
			name: "admin accounts are protected",
			opts: Options{Mode: ModeAddOrUpdate, AllowDeletes: true},
			seed: func(dir *directory.InMemory) {
				dir.AddUser(&directory.User{Username: "boss", Auth: "manual", SiteAdmin: true})
			},
			csv:  "username;deleted\nboss;1\n",
			errs: 1,
		},
		{
			name: "zero flag means keep",
			opts: Options{Mode: ModeAddOrUpdate, AllowDeletes: true},
			seed: func(dir *directory.InMemory) { seedUser(dir, "jsmith", "") },
			csv:  "username;deleted\njsmith;0\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := directory.NewInMemory()
			tt.seed(dir)
			res := runBatch(t, dir, tt.opts, tt.csv)
			assert.Equal(t, tt.deleted, res.Deleted, "deleted")
			assert.Equal(t, tt.errs, res.DeleteErrors, "delete errors")
			assert.Equal(t, tt.skipped, res.Skipped, "skipped")
		})
	}
}

func TestRun_EnrolmentWithRoleAndGroup(t *testing.T) {
	dir := directory.NewInMemory()
	course := dir.AddCourse("MATH101")
	dir.AddRole("student")

	res := runBatch(t, dir, Options{Mode: ModeAddNew},
		"username;firstname;lastname;email;password;course1;role1;group1\n"+
			"jsmith;John;Smith;jsmith@example.org;Secret123;MATH101;student;TeamA\n")

	assert.Equal(t, 1, res.Created)

	u, err := dir.LookupByUsername(context.Background(), "jsmith")
	require.NoError(t, err)
	enrolled, err := dir.IsEnrolled(context.Background(), course.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, enrolled)

	groups, err := dir.Groups(context.Background(), course.ID)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "TeamA", groups[0].Name)

	rows := res.Report.Rows()
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0]["enrolments"].Value(), "Added to group TeamA")
}

func TestRun_EnrolmentPeriod(t *testing.T) {
	tests := []struct {
		name   string
		period string // enrolperiod1 cell
		want   time.Duration
	}{
		{name: "days from file", period: "30", want: 30 * 24 * time.Hour},
		{name: "absent falls back to method default", period: "", want: 7 * 24 * time.Hour},
		// A present but unusable value means open-ended, not the default.
		{name: "zero is open-ended", period: "0", want: 0},
		{name: "garbage is open-ended", period: "junk", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := directory.NewInMemory()
			course := dir.AddCourse("MATH101")
			dir.AddRole("student")
			method, err := dir.ManualEnrolMethod(context.Background(), course.ID)
			require.NoError(t, err)
			method.DefaultPeriod = 7 * 24 * time.Hour

			res := runBatch(t, dir, Options{Mode: ModeAddNew},
				"username;firstname;lastname;email;password;course1;role1;enrolperiod1\n"+
					"jsmith;John;Smith;jsmith@example.org;Secret123;MATH101;student;"+tt.period+"\n")
			assert.Equal(t, 1, res.Created)

			enrols := dir.Enrolments()
			require.Len(t, enrols, 1)
			if tt.want == 0 {
				assert.True(t, enrols[0].End.IsZero())
			} else {
				assert.Equal(t, tt.want, enrols[0].End.Sub(enrols[0].Start))
			}
		})
	}
}

func TestRun_GroupWithoutEnrolmentIsTracked(t *testing.T) {
	dir := directory.NewInMemory()
	course := dir.AddCourse("MATH101")

	// Without a role the course's default applies, which enrols nobody here,
	// so the group reference must fail but the account is still created.
	res := runBatch(t, dir, Options{Mode: ModeAddNew},
		"username;firstname;lastname;email;password;course1;group1\n"+
			"jsmith;John;Smith;jsmith@example.org;Secret123;MATH101;TeamA\n")

	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Errors)

	groups, err := dir.Groups(context.Background(), course.ID)
	require.NoError(t, err)
	assert.Empty(t, groups)

	rows := res.Report.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, tracker.Error, rows[0]["enrolments"].MaxSeverity())
	assert.Contains(t, rows[0]["enrolments"].Value(), "not enrolled")
}

func TestRun_LegacyRoleTypes(t *testing.T) {
	dir := directory.NewInMemory()
	course := dir.AddCourse("MATH101")
	student := dir.AddRole("student")

	res := runBatch(t, dir, Options{
		Mode:        ModeAddNew,
		LegacyRoles: map[int]int64{1: student.ID},
	},
		"username;firstname;lastname;email;password;course1;type1\n"+
			"jsmith;John;Smith;jsmith@example.org;Secret123;MATH101;1\n")

	assert.Equal(t, 1, res.Created)
	u, err := dir.LookupByUsername(context.Background(), "jsmith")
	require.NoError(t, err)
	enrolled, err := dir.IsEnrolled(context.Background(), course.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, enrolled)
}

func TestRun_CohortMembership(t *testing.T) {
	dir := directory.NewInMemory()
	ours := dir.AddCohort(&directory.Cohort{IDNumber: "C1", Name: "First Years"})
	dir.AddCohort(&directory.Cohort{IDNumber: "EXT", Name: "Synced", Component: "enrol_ldap"})

	res := runBatch(t, dir, Options{Mode: ModeAddNew},
		"username;firstname;lastname;email;password;cohort1;cohort2\n"+
			"jsmith;John;Smith;jsmith@example.org;Secret123;C1;EXT\n")

	assert.Equal(t, 1, res.Created)

	u, err := dir.LookupByUsername(context.Background(), "jsmith")
	require.NoError(t, err)
	member, err := dir.IsCohortMember(context.Background(), ours.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, member)

	rows := res.Report.Rows()
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0]["enrolments"].Value(), "managed externally")
}

func TestRun_AuthAliasRewrite(t *testing.T) {
	dir := directory.NewInMemory()
	dir.RegisterAuthMethod(directory.AuthMethod{Name: "saml2", Enabled: true})

	res := runBatch(t, dir, Options{
		Mode:        ModeAddNew,
		AuthAliases: map[string]string{"odissea": "saml2"},
	},
		"username;firstname;lastname;email;auth\n"+
			"jsmith;John;Smith;jsmith@example.org;odissea\n")

	assert.Equal(t, 1, res.Created)
	u, err := dir.LookupByUsername(context.Background(), "jsmith")
	require.NoError(t, err)
	assert.Equal(t, "saml2", u.Auth)
	// External auth never stores a password.
	assert.Equal(t, directory.NotCachedPassword, u.Password)
}

func TestRun_WeakPasswordForcesChange(t *testing.T) {
	dir := directory.NewInMemory()

	res := runBatch(t, dir, Options{Mode: ModeAddNew, PasswordReset: ResetWeak},
		"username;firstname;lastname;email;password\n"+
			"jsmith;John;Smith;jsmith@example.org;abc\n")

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.WeakPasswords)

	u, err := dir.LookupByUsername(context.Background(), "jsmith")
	require.NoError(t, err)
	assert.True(t, u.ForcePasswordChange)
}

func TestRun_MissingPassword(t *testing.T) {
	csv := "username;firstname;lastname;email\njsmith;John;Smith;jsmith@example.org\n"

	t.Run("error without generation", func(t *testing.T) {
		dir := directory.NewInMemory()
		res := runBatch(t, dir, Options{Mode: ModeAddNew}, csv)
		assert.Equal(t, 1, res.Errors)
		assert.Zero(t, res.Created)
	})

	t.Run("deferred with generation enabled", func(t *testing.T) {
		dir := directory.NewInMemory()
		res := runBatch(t, dir, Options{Mode: ModeAddNew, CreatePasswords: true}, csv)
		assert.Equal(t, 1, res.Created)
		u, err := dir.LookupByUsername(context.Background(), "jsmith")
		require.NoError(t, err)
		assert.True(t, u.GeneratePassword)
	})
}

func TestRun_UpdatePassword(t *testing.T) {
	dir := directory.NewInMemory()
	u := seedUser(dir, "jsmith", "jsmith@example.org")
	u.Password = "hashed:OldSecret1"

	res := runBatch(t, dir, Options{
		Mode:            ModeAddOrUpdate,
		UpdatePolicy:    PolicyFileOverride,
		UpdatePasswords: true,
	},
		"username;password\njsmith;NewSecret1\n")

	assert.Equal(t, 1, res.Updated)
	got, err := dir.LookupByUsername(context.Background(), "jsmith")
	require.NoError(t, err)
	assert.Equal(t, "hashed:NewSecret1", got.Password)
}

func TestRun_SuspensionKillsSessions(t *testing.T) {
	dir := directory.NewInMemory()
	u := seedUser(dir, "jsmith", "jsmith@example.org")

	res := runBatch(t, dir, Options{Mode: ModeAddOrUpdate, AllowSuspends: true},
		"username;suspended\njsmith;1\n")

	assert.Equal(t, 1, res.Updated)
	got, err := dir.LookupByUsername(context.Background(), "jsmith")
	require.NoError(t, err)
	assert.True(t, got.Suspended)
	assert.Equal(t, 1, dir.KilledSessions(u.ID))
}

func TestRun_UsernameTemplate(t *testing.T) {
	dir := directory.NewInMemory()

	res := runBatch(t, dir, Options{Mode: ModeAddNew, UsernameTemplate: "%f.%l", CreatePasswords: true},
		"firstname;lastname;email\nJohn;Smith;jsmith@example.org\n")

	assert.Equal(t, 1, res.Created)
	_, err := dir.LookupByUsername(context.Background(), "john.smith")
	assert.NoError(t, err)
}

func TestRun_DefaultsFillUnsetFields(t *testing.T) {
	dir := directory.NewInMemory()

	res := runBatch(t, dir, Options{
		Mode:     ModeAddNew,
		Defaults: map[string]string{"city": "Barcelona", "lang": "ca"},
	},
		"username;firstname;lastname;email;password\n"+
			"jsmith;John;Smith;jsmith@example.org;Secret123\n")

	assert.Equal(t, 1, res.Created)
	u, err := dir.LookupByUsername(context.Background(), "jsmith")
	require.NoError(t, err)
	assert.Equal(t, "Barcelona", u.Field("city"))
	assert.Equal(t, "ca", u.Field("lang"))
}

func TestRun_StrictEmailDuplicate(t *testing.T) {
	dir := directory.NewInMemory()
	seedUser(dir, "existing", "shared@example.org")

	t.Run("strict mode rejects the row", func(t *testing.T) {
		res := runBatch(t, dir, Options{Mode: ModeAddNew, StrictEmailDuplicates: true},
			"username;firstname;lastname;email;password\n"+
				"jsmith;John;Smith;shared@example.org;Secret123\n")
		assert.Equal(t, 1, res.Errors)
		assert.Zero(t, res.Created)
	})

	t.Run("lenient mode warns and creates", func(t *testing.T) {
		res := runBatch(t, dir, Options{Mode: ModeAddNew},
			"username;firstname;lastname;email;password\n"+
				"jsmith;John;Smith;shared@example.org;Secret123\n")
		assert.Zero(t, res.Errors)
		assert.Equal(t, 1, res.Created)
		rows := res.Report.Rows()
		require.Len(t, rows, 1)
		assert.Equal(t, tracker.Warning, rows[0]["email"].MaxSeverity())
	})
}

func TestRun_GuestIsProtected(t *testing.T) {
	dir := directory.NewInMemory()

	res := runBatch(t, dir, Options{Mode: ModeAddNew},
		"username;firstname;lastname;email;password\n"+
			"guest;Guest;User;guest@example.org;Secret123\n"+
			"jsmith;John;Smith;jsmith@example.org;Secret123\n")

	// The bad row never stops the next one.
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Created)
	assert.Len(t, res.Report.Rows(), 2)
}

func TestRun_MalformedHeader(t *testing.T) {
	dir := directory.NewInMemory()

	tests := []struct {
		name string
		csv  string
	}{
		{name: "duplicate column", csv: "username;email;Email\njsmith;a@b.org;a@b.org\n"},
		{name: "unknown column", csv: "username;shoesize\njsmith;42\n"},
		{name: "single column", csv: "username\njsmith\n"},
		{name: "empty file", csv: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(dir, Options{Mode: ModeAddNew}).Run(context.Background(), strings.NewReader(tt.csv))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedFile))
		})
	}
}

func TestRun_MidFileParseErrorLeavesDirectoryUntouched(t *testing.T) {
	dir := directory.NewInMemory()

	// Valid rows precede the broken one; none of them may take effect.
	_, err := New(dir, Options{Mode: ModeAddNew}).Run(context.Background(), strings.NewReader(
		"username;firstname;lastname;email;password\n"+
			"jsmith;John;Smith;jsmith@example.org;Secret123\n"+
			"mgarcia;\"broken;Garcia;mgarcia@example.org;Secret123\n"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedFile))

	_, err = dir.LookupByUsername(context.Background(), "jsmith")
	assert.True(t, errors.Is(err, directory.ErrNotFound))
}

func TestRun_StandardUsernameCleanup(t *testing.T) {
	dir := directory.NewInMemory()

	res := runBatch(t, dir, Options{Mode: ModeAddNew, StandardUsernames: true},
		"username;firstname;lastname;email;password\n"+
			"J.Smith;John;Smith;jsmith@example.org;Secret123\n")

	assert.Equal(t, 1, res.Created)
	_, err := dir.LookupByUsername(context.Background(), "j.smith")
	assert.NoError(t, err)
}
