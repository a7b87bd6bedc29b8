package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Preset names a date range window.
type Preset string

const (
	PresetToday   Preset = "today"
	PresetWeek    Preset = "week"
	PresetMonth   Preset = "month"
	PresetQuarter Preset = "quarter"
	PresetYear    Preset = "year"
	PresetAll     Preset = "all"
	PresetCustom  Preset = "custom"
)

// ParsePreset validates a preset name.
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(strings.ToLower(strings.TrimSpace(s))); p {
	case PresetToday, PresetWeek, PresetMonth, PresetQuarter, PresetYear, PresetAll, PresetCustom:
		return p, nil
	default:
		return "", fmt.Errorf("unknown date range preset %q", s)
	}
}

// DateRange is the active query window. A zero Start means unbounded.
type DateRange struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Preset Preset    `json:"preset,omitempty"`
}

// NewDateRange builds the window for a preset ending at now.
// Custom returns an empty window ending at now; callers set Start themselves.
func NewDateRange(p Preset, now time.Time) DateRange {
	dr := DateRange{End: now, Preset: p}
	switch p {
	case PresetToday:
		y, m, d := now.Date()
		dr.Start = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case PresetWeek:
		dr.Start = now.AddDate(0, 0, -7)
	case PresetMonth:
		dr.Start = now.AddDate(0, 0, -30)
	case PresetQuarter:
		dr.Start = now.AddDate(0, -3, 0)
	case PresetYear:
		dr.Start = now.AddDate(-1, 0, 0)
	case PresetAll:
		dr.Start = time.Time{}
	case PresetCustom:
		dr.Start = now
	}
	return dr
}

// Contains reports whether t falls inside the window, both ends inclusive.
func (d DateRange) Contains(t time.Time) bool {
	if !d.Start.IsZero() && t.Before(d.Start) {
		return false
	}
	if !d.End.IsZero() && t.After(d.End) {
		return false
	}
	return true
}

// Filter scopes every fetch.
type Filter struct {
	UserID    string    `json:"userId"`
	DateRange DateRange `json:"dateRange"`
	Subjects  []string  `json:"subjects,omitempty"`
	Topics    []string  `json:"topics,omitempty"`
	ExamTypes []string  `json:"examTypes,omitempty"`
}

// DefaultFilter is the 30-day window for no particular user.
func DefaultFilter(now time.Time) Filter {
	return Filter{DateRange: NewDateRange(PresetMonth, now)}
}

// Clone returns a deep copy.
func (f Filter) Clone() Filter {
	f.Subjects = cloneStrings(f.Subjects)
	f.Topics = cloneStrings(f.Topics)
	f.ExamTypes = cloneStrings(f.ExamTypes)
	return f
}

// Matches reports whether a session is inside the filter scope.
func (f Filter) Matches(s Session) bool {
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if !f.DateRange.Contains(s.StartTime) {
		return false
	}
	if len(f.Subjects) > 0 && !containsString(f.Subjects, s.SubjectID) {
		return false
	}
	if len(f.Topics) > 0 && !containsString(f.Topics, s.TopicID) {
		return false
	}
	return true
}

// CacheKey derives a stable key from scope and filter. Slice order does not
// matter; the date range is keyed at second resolution.
func (f Filter) CacheKey(scope string) string {
	var b strings.Builder
	b.WriteString(scope)
	b.WriteByte(':')
	b.WriteString(f.UserID)
	b.WriteByte(':')
	b.WriteString(string(f.DateRange.Preset))
	b.WriteByte(':')
	b.WriteString(keyTime(f.DateRange.Start))
	b.WriteByte('-')
	b.WriteString(keyTime(f.DateRange.End))
	for _, part := range [][]string{f.Subjects, f.Topics, f.ExamTypes} {
		b.WriteByte(':')
		sorted := cloneStrings(part)
		sort.Strings(sorted)
		b.WriteString(strings.Join(sorted, ","))
	}
	return b.String()
}

// FilterPatch holds optional filter fields for a partial update.
type FilterPatch struct {
	UserID    *string    `json:"userId,omitempty"`
	DateRange *DateRange `json:"dateRange,omitempty"`
	Subjects  []string   `json:"subjects,omitempty"`
	Topics    []string   `json:"topics,omitempty"`
	ExamTypes []string   `json:"examTypes,omitempty"`
}

// Apply merges the patch over f. Non-nil slices replace the current ones.
func (p FilterPatch) Apply(f Filter) Filter {
	f = f.Clone()
	if p.UserID != nil {
		f.UserID = *p.UserID
	}
	if p.DateRange != nil {
		f.DateRange = *p.DateRange
	}
	if p.Subjects != nil {
		f.Subjects = cloneStrings(p.Subjects)
	}
	if p.Topics != nil {
		f.Topics = cloneStrings(p.Topics)
	}
	if p.ExamTypes != nil {
		f.ExamTypes = cloneStrings(p.ExamTypes)
	}
	return f
}

func keyTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return fmt.Sprintf("%d", t.Unix())
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
