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
	"strconv"
	"time"

	"github.com/odissea/gtafsync/pkg/directory"
	"github.com/odissea/gtafsync/pkg/tracker"
)

// applyCohorts adds the row's user to every cohort1..cohortN referenced by
// the row. Cohort resolution is cached for the whole run, including the
// failure message for unknown or externally managed cohorts.
func (r *Reconciler) applyCohorts(ctx context.Context, w *row, user *directory.User, upt *tracker.Tracker) {
	for _, idx := range w.indices() {
		ref := w.indexed[idx]["cohort"]
		if ref == "" {
			continue
		}

		entry, cached := r.cohorts[ref]
		if !cached {
			entry = &cohortEntry{}
			cohort, err := r.dir.Cohort(ctx, ref)
			switch {
			case err != nil:
				entry.errMsg = "Unknown cohort: " + ref
			case cohort.Component != "":
				entry.errMsg = "Cohort is managed externally: " + ref
			default:
				entry.cohort = cohort
			}
			r.cohorts[ref] = entry
		}
		if entry.errMsg != "" {
			upt.Track("enrolments", entry.errMsg, tracker.Error, true)
			continue
		}

		member, err := r.dir.IsCohortMember(ctx, entry.cohort.ID, user.ID)
		if err != nil || member {
			continue
		}
		if err := r.dir.AddCohortMember(ctx, entry.cohort.ID, user.ID); err != nil {
			upt.Track("enrolments", "Error adding to cohort "+entry.cohort.Name, tracker.Error, true)
			continue
		}
		upt.Track("enrolments", "Added to cohort "+entry.cohort.Name, tracker.Info, true)
	}
}

// applyEnrolments processes the course1..courseN families: manual enrolment
// with the row's role and period, then group membership. Courses, groups,
// roles and enrol methods are cached for the whole run.
func (r *Reconciler) applyEnrolments(ctx context.Context, w *row, user *directory.User, upt *tracker.Tracker) {
	for _, idx := range w.indices() {
		family := w.indexed[idx]
		shortName := family["course"]
		if shortName == "" {
			continue
		}

		entry, err := r.course(ctx, shortName)
		if err != nil {
			upt.Track("enrolments", "Unknown course: "+shortName, tracker.Error, true)
			continue
		}
		course := entry.course

		method, err := r.enrolMethod(ctx, course.ID)
		if err != nil {
			upt.Track("enrolments", "Manual enrolment unavailable in course "+shortName, tracker.Error, true)
			continue
		}

		roleID, ok := r.resolveRole(ctx, family, method, upt)
		if !ok {
			// role resolution failed hard; the group reference is not
			// attempted either
			continue
		}

		if roleID != 0 {
			start := r.today
			end := time.Time{}
			// A present enrolperiod wins even when it does not parse to a
			// positive day count: such values mean open-ended, never the
			// method's default.
			period := method.DefaultPeriod
			if raw := family["enrolperiod"]; raw != "" {
				period = 0
				if days, convErr := strconv.Atoi(raw); convErr == nil && days > 0 {
					period = time.Duration(days) * 24 * time.Hour
				}
			}
			if period > 0 {
				end = start.Add(period)
			}
			if err := r.dir.EnrolUser(ctx, method, user.ID, roleID, start, end); err != nil {
				upt.Track("enrolments", "Error enrolling in course "+shortName, tracker.Error, true)
			} else {
				upt.Track("enrolments", "Enrolled in course "+shortName, tracker.Info, true)
			}
		}

		groupRef := family["group"]
		if groupRef == "" {
			continue
		}
		enrolled, err := r.dir.IsEnrolled(ctx, course.ID, user.ID)
		if err != nil || !enrolled {
			upt.Track("enrolments", "Not added to group "+groupRef+": user not enrolled in course "+shortName, tracker.Error, true)
			continue
		}
		r.addToGroup(ctx, entry, groupRef, user, upt)
	}
}

// resolveRole picks the role for one course family: roleN by name, then the
// legacy typeN mapping, then the method's default. A zero role id with
// ok=true means enrol nothing but keep processing the group reference.
func (r *Reconciler) resolveRole(ctx context.Context, family map[string]string, method *directory.EnrolMethod, upt *tracker.Tracker) (int64, bool) {
	if name := family["role"]; name != "" {
		role, cached := r.roles[name]
		if !cached {
			var err error
			role, err = r.dir.Role(ctx, name)
			if err != nil {
				upt.Track("enrolments", "Unknown role: "+name, tracker.Error, true)
				return 0, false
			}
			r.roles[name] = role
		}
		if role == nil {
			upt.Track("enrolments", "Unknown role: "+name, tracker.Error, true)
			return 0, false
		}
		return role.ID, true
	}

	if raw := family["type"]; raw != "" {
		legacy, err := strconv.Atoi(raw)
		if err != nil || legacy < 1 || legacy > 3 {
			upt.Track("enrolments", "Invalid role type: "+raw, tracker.Error, true)
			return 0, false
		}
		roleID, mapped := r.opts.LegacyRoles[legacy]
		if !mapped {
			// unmapped legacy types enrol nothing, silently
			return 0, true
		}
		return roleID, true
	}

	return method.DefaultRoleID, true
}

func (r *Reconciler) course(ctx context.Context, shortName string) (*courseEntry, error) {
	if entry, cached := r.courses[shortName]; cached {
		return entry, nil
	}
	course, err := r.dir.Course(ctx, shortName)
	if err != nil {
		// lookups that fail are retried next row; only hits are cached
		return nil, err
	}
	entry := &courseEntry{course: course, groups: make(map[string]*directory.Group)}
	r.courses[shortName] = entry
	return entry, nil
}

func (r *Reconciler) enrolMethod(ctx context.Context, courseID int64) (*directory.EnrolMethod, error) {
	if method, cached := r.methods[courseID]; cached {
		return method, nil
	}
	method, err := r.dir.ManualEnrolMethod(ctx, courseID)
	if err != nil {
		return nil, err
	}
	r.methods[courseID] = method
	return method, nil
}

// addToGroup resolves a group reference (numeric id or name, creating named
// groups on first use) and adds the user to it.
func (r *Reconciler) addToGroup(ctx context.Context, entry *courseEntry, ref string, user *directory.User, upt *tracker.Tracker) {
	if len(entry.groups) == 0 {
		groups, err := r.dir.Groups(ctx, entry.course.ID)
		if err == nil {
			for _, g := range groups {
				entry.groups[strconv.FormatInt(g.ID, 10)] = g
				if _, numeric := parseID(g.Name); !numeric {
					entry.groups[g.Name] = g
				}
			}
		}
	}

	group, known := entry.groups[ref]
	if !known {
		if _, numeric := parseID(ref); numeric {
			upt.Track("enrolments", "Unknown group: "+ref, tracker.Error, true)
			return
		}
		created, err := r.dir.CreateGroup(ctx, entry.course.ID, ref)
		if err != nil {
			upt.Track("enrolments", "Error creating group "+ref, tracker.Error, true)
			return
		}
		entry.groups[strconv.FormatInt(created.ID, 10)] = created
		entry.groups[created.Name] = created
		group = created
	}

	if err := r.dir.AddGroupMember(ctx, group.ID, user.ID); err != nil {
		upt.Track("enrolments", "Error adding to group "+group.Name, tracker.Error, true)
		return
	}
	upt.Track("enrolments", "Added to group "+group.Name, tracker.Info, true)
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}
