package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

var conflictNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e93-a0c1-3d2f9b8e7a61")

// DetectConflicts finds teacher, room and student-group double-bookings.
// It is pure and deterministic: the same schedule always yields the same list.
func DetectConflicts(schedule models.Schedule) []models.Conflict {
	var out []models.Conflict
	out = append(out, sweep(schedule, models.ConflictTeacher, func(a models.TimeSlotAssignment) string { return a.TeacherID }, nil)...)
	out = append(out, sweep(schedule, models.ConflictRoom, func(a models.TimeSlotAssignment) string { return a.ClassroomID }, nil)...)
	out = append(out, sweep(schedule, models.ConflictStudent, func(a models.TimeSlotAssignment) string { return a.DivisionID }, func(a, b models.TimeSlotAssignment) bool {
		return batchesClash(a.DivisionID, a.BatchID, b.DivisionID, b.BatchID)
	})...)
	normalizeConflicts(out)
	return out
}

type interval struct {
	idx        int
	start, end string
}

// sweep groups assignments by resource and day, sorts each group by start time and
// walks it keeping the set of still-open intervals. Each overlapping pair is reported once.
func sweep(
	schedule models.Schedule,
	kind models.ConflictType,
	resource func(models.TimeSlotAssignment) string,
	accept func(a, b models.TimeSlotAssignment) bool,
) []models.Conflict {
	type groupKey struct {
		resource string
		day      models.Day
	}
	groups := make(map[groupKey][]interval)
	for i, a := range schedule {
		id := resource(a)
		if id == "" || a.EndTime <= a.StartTime {
			continue
		}
		key := groupKey{resource: id, day: a.Day}
		groups[key] = append(groups[key], interval{idx: i, start: a.StartTime, end: a.EndTime})
	}

	var out []models.Conflict
	for key, items := range groups {
		if len(items) < 2 {
			continue
		}
		sort.Slice(items, func(i, j int) bool {
			if items[i].start != items[j].start {
				return items[i].start < items[j].start
			}
			if items[i].end != items[j].end {
				return items[i].end < items[j].end
			}
			return items[i].idx < items[j].idx
		})
		active := make([]interval, 0, len(items))
		for _, cur := range items {
			kept := active[:0]
			for _, open := range active {
				if open.end > cur.start {
					kept = append(kept, open)
				}
			}
			active = kept
			for _, open := range active {
				a, b := schedule[open.idx], schedule[cur.idx]
				if accept != nil && !accept(a, b) {
					continue
				}
				out = append(out, pairConflict(kind, key.resource, a, b))
			}
			active = append(active, cur)
		}
	}
	return out
}

func pairConflict(kind models.ConflictType, resource string, a, b models.TimeSlotAssignment) models.Conflict {
	window := string(a.Day) + "_" + maxString(a.StartTime, b.StartTime) + "_" + minString(a.EndTime, b.EndTime)
	entities := models.InvolvedEntities{
		Teachers:   uniqueSorted(a.TeacherID, b.TeacherID),
		Classrooms: uniqueSorted(a.ClassroomID, b.ClassroomID),
		Courses:    uniqueSorted(a.CourseID, b.CourseID),
		TimeSlot:   window,
	}
	var description string
	switch kind {
	case models.ConflictTeacher:
		entities.Teachers = []string{resource}
		description = fmt.Sprintf("Teacher %s is double-booked on %s: %s %s-%s overlaps %s %s-%s",
			resource, a.Day, a.CourseID, a.StartTime, a.EndTime, b.CourseID, b.StartTime, b.EndTime)
	case models.ConflictRoom:
		entities.Classrooms = []string{resource}
		description = fmt.Sprintf("Classroom %s is double-booked on %s: %s %s-%s overlaps %s %s-%s",
			resource, a.Day, a.CourseID, a.StartTime, a.EndTime, b.CourseID, b.StartTime, b.EndTime)
	default:
		description = fmt.Sprintf("Division %s has overlapping sessions on %s: %s %s-%s and %s %s-%s",
			resource, a.Day, a.CourseID, a.StartTime, a.EndTime, b.CourseID, b.StartTime, b.EndTime)
	}
	return models.Conflict{
		ID:               conflictID(kind, resource, window, side(a), side(b)),
		Type:             kind,
		Severity:         models.SeverityHigh,
		Description:      description,
		InvolvedEntities: entities,
	}
}

// side identifies one assignment of a clashing pair down to its room and teacher.
func side(a models.TimeSlotAssignment) string {
	return strings.Join([]string{a.SlotKey(), a.CourseID, string(a.SessionType), a.TeacherID, a.ClassroomID, a.DivisionID, a.BatchID}, "|")
}

// conflictID derives a stable identifier so re-detection returns identical ids.
func conflictID(kind models.ConflictType, parts ...string) string {
	sorted := append([]string(nil), parts...)
	if len(sorted) > 2 {
		tail := sorted[2:]
		sort.Strings(tail)
	}
	return uuid.NewSHA1(conflictNamespace, []byte(string(kind)+"|"+strings.Join(sorted, "|"))).String()
}

func uniqueSorted(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

var conflictRank = map[models.ConflictType]int{
	models.ConflictDataError:           0,
	models.ConflictSystemError:         1,
	models.ConflictGenerationError:     2,
	models.ConflictTeacher:             3,
	models.ConflictRoom:                4,
	models.ConflictStudent:             5,
	models.ConflictConstraintViolation: 6,
}

// normalizeConflicts orders conflicts and suffixes repeated ids, which only
// fully identical assignments can produce, so every id in a result is unique.
func normalizeConflicts(conflicts []models.Conflict) {
	sortConflicts(conflicts)
	seen := make(map[string]int, len(conflicts))
	for i := range conflicts {
		id := conflicts[i].ID
		n := seen[id]
		seen[id] = n + 1
		if n > 0 {
			conflicts[i].ID = uuid.NewSHA1(conflictNamespace, []byte(id+"#"+strconv.Itoa(n))).String()
		}
	}
}

func sortConflicts(conflicts []models.Conflict) {
	sort.SliceStable(conflicts, func(i, j int) bool {
		a, b := conflicts[i], conflicts[j]
		if conflictRank[a.Type] != conflictRank[b.Type] {
			return conflictRank[a.Type] < conflictRank[b.Type]
		}
		if a.InvolvedEntities.TimeSlot != b.InvolvedEntities.TimeSlot {
			return slotKeyLess(a.InvolvedEntities.TimeSlot, b.InvolvedEntities.TimeSlot)
		}
		if a.Description != b.Description {
			return a.Description < b.Description
		}
		return a.ID < b.ID
	})
}

// slotKeyLess orders Day_start_end keys by weekday before time.
func slotKeyLess(a, b string) bool {
	dayA, restA, _ := strings.Cut(a, "_")
	dayB, restB, _ := strings.Cut(b, "_")
	ia, ib := models.Day(dayA).Index(), models.Day(dayB).Index()
	if ia != ib {
		return ia < ib
	}
	return restA < restB
}

// DetectViolations reports assignments that break availability, capacity, feature
// or weekly-hour constraints against the snapshot's resources.
func DetectViolations(snapshot *models.Snapshot, schedule models.Schedule) []models.Conflict {
	if snapshot == nil {
		return nil
	}
	teachers := make(map[string]models.Teacher, len(snapshot.Teachers))
	for _, t := range snapshot.Teachers {
		teachers[t.ID] = t
	}
	rooms := make(map[string]models.Classroom, len(snapshot.Classrooms))
	for _, r := range snapshot.Classrooms {
		rooms[r.ID] = r
	}
	courses := make(map[string]models.Course, len(snapshot.Courses))
	for _, c := range snapshot.Courses {
		courses[c.ID] = c
	}

	var out []models.Conflict
	violation := func(kind ConstraintKind, a models.TimeSlotAssignment, description string) {
		out = append(out, models.Conflict{
			ID:          conflictID(models.ConflictConstraintViolation, string(kind), a.SlotKey(), a.CourseID, a.TeacherID, a.ClassroomID),
			Type:        models.ConflictConstraintViolation,
			Severity:    models.SeverityMedium,
			Description: description,
			InvolvedEntities: models.InvolvedEntities{
				Teachers:   uniqueSorted(a.TeacherID),
				Classrooms: uniqueSorted(a.ClassroomID),
				Courses:    uniqueSorted(a.CourseID),
				TimeSlot:   a.SlotKey(),
			},
		})
	}

	minutes := make(map[string]int)
	for _, a := range schedule {
		if t, ok := teachers[a.TeacherID]; ok {
			minutes[a.TeacherID] += durationMinutes(a.StartTime, a.EndTime)
			if !teacherAvailable(t, a.Day, a.StartTime, a.EndTime) {
				violation(HardTeacherAvailability, a, fmt.Sprintf("Teacher %s is not available on %s %s-%s", a.TeacherID, a.Day, a.StartTime, a.EndTime))
			}
		}
		room, roomKnown := rooms[a.ClassroomID]
		if !roomKnown {
			continue
		}
		if !room.Bookable() {
			violation(HardRoomFeatures, a, fmt.Sprintf("Classroom %s is %s and cannot host %s", room.ID, room.Status, a.CourseID))
		}
		students := a.StudentCount
		if course, ok := courses[a.CourseID]; ok {
			if course.EnrolledStudents > students {
				students = course.EnrolledStudents
			}
			for _, f := range requiredFeatures(course) {
				if !room.HasFeature(f) {
					violation(HardRoomFeatures, a, fmt.Sprintf("Classroom %s lacks feature %q required by %s", room.ID, f, a.CourseID))
				}
			}
		}
		if students > room.Capacity {
			violation(HardRoomCapacity, a, fmt.Sprintf("Classroom %s holds %d but %s enrols %d", room.ID, room.Capacity, a.CourseID, students))
		}
	}

	ids := make([]string, 0, len(minutes))
	for id := range minutes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := teachers[id]
		if t.MaxHoursPerWeek <= 0 {
			continue
		}
		hours := float64(minutes[id]) / 60
		if hours > t.MaxHoursPerWeek {
			out = append(out, models.Conflict{
				ID:          conflictID(models.ConflictConstraintViolation, string(HardTeacherMaxHours), id),
				Type:        models.ConflictConstraintViolation,
				Severity:    models.SeverityMedium,
				Description: fmt.Sprintf("Teacher %s is scheduled %.1fh, above the weekly maximum of %.1fh", id, hours, t.MaxHoursPerWeek),
				InvolvedEntities: models.InvolvedEntities{
					Teachers:   []string{id},
					Classrooms: []string{},
					Courses:    []string{},
				},
			})
		}
	}
	normalizeConflicts(out)
	return out
}
