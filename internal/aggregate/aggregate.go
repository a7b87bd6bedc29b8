// Package aggregate turns raw study sessions into time-bucketed rollups.
//
// All functions are pure: they never modify their input and return fresh
// slices. Day boundaries use the supplied location so that buckets match the
// user's calendar rather than UTC.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/abelbrown/studyboard/internal/model"
)

// DateLayout is the calendar date key format.
const DateLayout = "2006-01-02"

// DateKey returns the local calendar date of t.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}

// Daily groups sessions by the local date of their start time.
// Output is sorted ascending by date; empty input yields an empty slice.
func Daily(sessions []model.Session, loc *time.Location) []model.DailyAggregate {
	type bucket struct {
		total    int64
		count    int
		subjects map[string]struct{}
	}

	buckets := make(map[string]*bucket)
	for _, s := range sessions {
		key := DateKey(s.StartTime, loc)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{subjects: make(map[string]struct{})}
			buckets[key] = b
		}
		b.total += s.Duration
		b.count++
		b.subjects[s.SubjectID] = struct{}{}
	}

	out := make([]model.DailyAggregate, 0, len(buckets))
	for date, b := range buckets {
		out = append(out, model.DailyAggregate{
			Date:           date,
			TotalDuration:  b.total,
			Sessions:       b.count,
			UniqueSubjects: len(b.subjects),
		})
	}
	// YYYY-MM-DD sorts lexicographically in chronological order.
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// WeekKey returns the ISO week of t in loc, e.g. "2024-W01".
func WeekKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// Weekly groups sessions by ISO week. Subjects inside a week are ordered by
// total time, longest first.
func Weekly(sessions []model.Session, loc *time.Location) []model.WeeklyAggregate {
	type bucket struct {
		total     int64
		count     int
		questions int
		correct   int
		subjects  map[string]*model.SubjectTotal
	}

	buckets := make(map[string]*bucket)
	for _, s := range sessions {
		key := WeekKey(s.StartTime, loc)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{subjects: make(map[string]*model.SubjectTotal)}
			buckets[key] = b
		}
		b.total += s.Duration
		b.count++
		b.questions += s.QuestionsAnswered
		b.correct += s.CorrectAnswers
		addSubject(b.subjects, s)
	}

	out := make([]model.WeeklyAggregate, 0, len(buckets))
	for week, b := range buckets {
		out = append(out, model.WeeklyAggregate{
			Week:          week,
			TotalDuration: b.total,
			Sessions:      b.count,
			AvgDuration:   float64(b.total) / float64(b.count),
			Accuracy:      ratio(b.correct, b.questions),
			Subjects:      sortedSubjects(b.subjects),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Week < out[j].Week })
	return out
}

// BySubject totals sessions per subject, longest total time first.
func BySubject(sessions []model.Session) []model.SubjectTotal {
	subjects := make(map[string]*model.SubjectTotal)
	for _, s := range sessions {
		addSubject(subjects, s)
	}
	return sortedSubjects(subjects)
}

// InRange returns the sessions whose start time falls inside dr.
func InRange(sessions []model.Session, dr model.DateRange) []model.Session {
	out := make([]model.Session, 0, len(sessions))
	for _, s := range sessions {
		if dr.Contains(s.StartTime) {
			out = append(out, s)
		}
	}
	return out
}

// TotalDuration sums session durations in seconds.
func TotalDuration(sessions []model.Session) int64 {
	var total int64
	for _, s := range sessions {
		total += s.Duration
	}
	return total
}

func addSubject(m map[string]*model.SubjectTotal, s model.Session) {
	st, ok := m[s.SubjectID]
	if !ok {
		st = &model.SubjectTotal{SubjectID: s.SubjectID}
		m[s.SubjectID] = st
	}
	st.TotalDuration += s.Duration
	st.Sessions++
	st.Questions += s.QuestionsAnswered
	st.Correct += s.CorrectAnswers
}

func sortedSubjects(m map[string]*model.SubjectTotal) []model.SubjectTotal {
	out := make([]model.SubjectTotal, 0, len(m))
	for _, st := range m {
		st.Accuracy = ratio(st.Correct, st.Questions)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalDuration == out[j].TotalDuration {
			return out[i].SubjectID < out[j].SubjectID
		}
		return out[i].TotalDuration > out[j].TotalDuration
	})
	return out
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
