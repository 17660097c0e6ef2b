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

package directory

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gitlab.com/tozd/go/errors"
)

// NotCachedPassword is the sentinel stored for externally authenticated
// accounts instead of a real password hash.
const NotCachedPassword = "not cached"

// Enrolment records one EnrolUser call. A zero End means open-ended.
type Enrolment struct {
	CourseID int64
	UserID   int64
	RoleID   int64
	Start    time.Time
	End      time.Time
}

// 🧪 InMemory is a complete in-memory Directory. It backs the reconciler
// tests and the CLI's validation runs; real deployments inject their own
// implementation.
type InMemory struct {
	nextID   int64
	users    map[string]*User // by username
	emails   map[string]int
	auths    map[string]AuthMethod
	courses  map[string]*Course // by short name
	methods  map[int64]*EnrolMethod
	roles    map[string]*Role
	groups   map[int64][]*Group // by course id
	cohorts  []*Cohort
	enrolled map[int64]map[int64]bool // course id -> user id
	enrols   []Enrolment
	members  map[int64]map[int64]bool // group id -> user id
	cmembers map[int64]map[int64]bool // cohort id -> user id
	custom   []string
	killed   map[int64]int

	// MinPasswordLength is the strength policy: shorter cleartexts are weak.
	MinPasswordLength int
}

// NewInMemory returns an empty directory with the default authentication
// methods (manual, nologin) registered.
func NewInMemory() *InMemory {
	m := &InMemory{
		nextID:            1,
		users:             make(map[string]*User),
		emails:            make(map[string]int),
		auths:             make(map[string]AuthMethod),
		courses:           make(map[string]*Course),
		methods:           make(map[int64]*EnrolMethod),
		roles:             make(map[string]*Role),
		groups:            make(map[int64][]*Group),
		enrolled:          make(map[int64]map[int64]bool),
		members:           make(map[int64]map[int64]bool),
		cmembers:          make(map[int64]map[int64]bool),
		killed:            make(map[int64]int),
		MinPasswordLength: 8,
	}
	m.RegisterAuthMethod(AuthMethod{Name: "manual", Internal: true, Enabled: true})
	m.RegisterAuthMethod(AuthMethod{Name: "nologin", Internal: true, Enabled: true})
	return m
}

// Seeding helpers.

func (m *InMemory) RegisterAuthMethod(a AuthMethod) { m.auths[a.Name] = a }

func (m *InMemory) SetCustomFields(shortNames ...string) { m.custom = shortNames }

func (m *InMemory) AddUser(u *User) *User {
	if u.ID == 0 {
		u.ID = m.nextID
		m.nextID++
	}
	if u.Fields == nil {
		u.Fields = make(map[string]string)
	}
	m.users[u.Username] = u
	if email := u.Field("email"); email != "" {
		m.emails[email]++
	}
	return u
}

func (m *InMemory) AddCourse(shortName string) *Course {
	c := &Course{ID: m.nextID, ShortName: shortName}
	m.nextID++
	m.courses[shortName] = c
	return c
}

func (m *InMemory) AddRole(name string) *Role {
	r := &Role{ID: m.nextID, Name: name}
	m.nextID++
	m.roles[name] = r
	return r
}

func (m *InMemory) AddCohort(c *Cohort) *Cohort {
	if c.ID == 0 {
		c.ID = m.nextID
		m.nextID++
	}
	m.cohorts = append(m.cohorts, c)
	return c
}

// SetEnrolled marks the user enrolled in the course without going through a
// mechanism, for test setup.
func (m *InMemory) SetEnrolled(courseID, userID int64) {
	if m.enrolled[courseID] == nil {
		m.enrolled[courseID] = make(map[int64]bool)
	}
	m.enrolled[courseID][userID] = true
}

// KilledSessions returns how many times sessions were terminated for a user.
func (m *InMemory) KilledSessions(userID int64) int { return m.killed[userID] }

// Directory implementation.

func (m *InMemory) LookupByUsername(ctx context.Context, username string) (*User, error) {
	u, ok := m.users[username]
	if !ok {
		return nil, errors.Errorf("%s: %w", username, ErrNotFound)
	}
	cp := *u
	cp.Fields = make(map[string]string, len(u.Fields))
	for k, v := range u.Fields {
		cp.Fields[k] = v
	}
	return &cp, nil
}

func (m *InMemory) EmailInUse(ctx context.Context, email string) (bool, error) {
	return m.emails[email] > 0, nil
}

func (m *InMemory) Insert(ctx context.Context, u *User) (int64, error) {
	if _, exists := m.users[u.Username]; exists {
		return 0, errors.New("username already taken")
	}
	u.ID = m.nextID
	m.nextID++
	u.Confirmed = true
	now := time.Now()
	u.TimeCreated = now
	u.TimeModified = now
	m.AddUser(u)
	return u.ID, nil
}

func (m *InMemory) Update(ctx context.Context, u *User) error {
	stored := m.byID(u.ID)
	if stored == nil {
		return errors.Errorf("id %d: %w", u.ID, ErrNotFound)
	}
	if old := stored.Field("email"); old != u.Field("email") {
		if old != "" {
			m.emails[old]--
		}
		if email := u.Field("email"); email != "" {
			m.emails[email]++
		}
	}
	cp := *u
	cp.TimeModified = time.Now()
	cp.Fields = make(map[string]string, len(u.Fields))
	for k, v := range u.Fields {
		cp.Fields[k] = v
	}
	delete(m.users, stored.Username)
	m.users[cp.Username] = &cp
	return nil
}

func (m *InMemory) Delete(ctx context.Context, u *User) error {
	stored := m.byID(u.ID)
	if stored == nil {
		return errors.Errorf("id %d: %w", u.ID, ErrNotFound)
	}
	if email := stored.Field("email"); email != "" {
		m.emails[email]--
	}
	delete(m.users, stored.Username)
	return nil
}

func (m *InMemory) Rename(ctx context.Context, userID int64, newUsername string) error {
	stored := m.byID(userID)
	if stored == nil {
		return errors.Errorf("id %d: %w", userID, ErrNotFound)
	}
	if _, taken := m.users[newUsername]; taken {
		return errors.New("username already taken")
	}
	delete(m.users, stored.Username)
	stored.Username = newUsername
	m.users[newUsername] = stored
	return nil
}

func (m *InMemory) KillSessions(ctx context.Context, userID int64) error {
	m.killed[userID]++
	return nil
}

func (m *InMemory) CustomFields(ctx context.Context) ([]string, error) {
	return m.custom, nil
}

func (m *InMemory) AuthMethod(name string) (AuthMethod, error) {
	a, ok := m.auths[name]
	if !ok {
		return AuthMethod{}, errors.Errorf("%s: %w", name, ErrUnknownAuth)
	}
	return a, nil
}

func (m *InMemory) CheckPasswordPolicy(password string) error {
	if len(password) < m.MinPasswordLength {
		return errors.Errorf("shorter than %d characters: %w", m.MinPasswordLength, ErrWeakPassword)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return errors.Errorf("needs letters and digits: %w", ErrWeakPassword)
	}
	return nil
}

func (m *InMemory) HashPassword(password string) string {
	// Stand-in for the platform's real hash.
	return "hashed:" + password
}

func (m *InMemory) Course(ctx context.Context, shortName string) (*Course, error) {
	c, ok := m.courses[shortName]
	if !ok {
		return nil, errors.Errorf("course %s: %w", shortName, ErrNotFound)
	}
	return c, nil
}

func (m *InMemory) ManualEnrolMethod(ctx context.Context, courseID int64) (*EnrolMethod, error) {
	if method, ok := m.methods[courseID]; ok {
		return method, nil
	}
	method := &EnrolMethod{ID: m.nextID, CourseID: courseID}
	m.nextID++
	m.methods[courseID] = method
	return method, nil
}

func (m *InMemory) EnrolUser(ctx context.Context, method *EnrolMethod, userID, roleID int64, start, end time.Time) error {
	if m.enrolled[method.CourseID] == nil {
		m.enrolled[method.CourseID] = make(map[int64]bool)
	}
	m.enrolled[method.CourseID][userID] = true
	m.enrols = append(m.enrols, Enrolment{
		CourseID: method.CourseID,
		UserID:   userID,
		RoleID:   roleID,
		Start:    start,
		End:      end,
	})
	return nil
}

// Enrolments returns every EnrolUser call in order, for inspection.
func (m *InMemory) Enrolments() []Enrolment { return m.enrols }

func (m *InMemory) IsEnrolled(ctx context.Context, courseID, userID int64) (bool, error) {
	return m.enrolled[courseID][userID], nil
}

func (m *InMemory) Role(ctx context.Context, name string) (*Role, error) {
	r, ok := m.roles[name]
	if !ok {
		return nil, errors.Errorf("role %s: %w", name, ErrNotFound)
	}
	return r, nil
}

func (m *InMemory) Groups(ctx context.Context, courseID int64) ([]*Group, error) {
	return m.groups[courseID], nil
}

func (m *InMemory) CreateGroup(ctx context.Context, courseID int64, name string) (*Group, error) {
	g := &Group{ID: m.nextID, CourseID: courseID, Name: name}
	m.nextID++
	m.groups[courseID] = append(m.groups[courseID], g)
	return g, nil
}

func (m *InMemory) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	if m.members[groupID] == nil {
		m.members[groupID] = make(map[int64]bool)
	}
	m.members[groupID][userID] = true
	return nil
}

func (m *InMemory) Cohort(ctx context.Context, ref string) (*Cohort, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		for _, c := range m.cohorts {
			if c.ID == id {
				return c, nil
			}
		}
		return nil, errors.Errorf("cohort id %d: %w", id, ErrNotFound)
	}
	for _, c := range m.cohorts {
		if strings.EqualFold(c.IDNumber, ref) {
			return c, nil
		}
	}
	return nil, errors.Errorf("cohort %s: %w", ref, ErrNotFound)
}

func (m *InMemory) IsCohortMember(ctx context.Context, cohortID, userID int64) (bool, error) {
	return m.cmembers[cohortID][userID], nil
}

func (m *InMemory) AddCohortMember(ctx context.Context, cohortID, userID int64) error {
	if m.cmembers[cohortID] == nil {
		m.cmembers[cohortID] = make(map[int64]bool)
	}
	m.cmembers[cohortID][userID] = true
	return nil
}

func (m *InMemory) byID(id int64) *User {
	for _, u := range m.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

var _ Directory = (*InMemory)(nil)
