package aggregate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/abelbrown/studyboard/internal/model"
)

func at(loc *time.Location, y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, loc)
}

func TestDailyExampleScenario(t *testing.T) {
	loc := time.UTC
	sessions := []model.Session{
		{ID: "a", SubjectID: "math", StartTime: at(loc, 2024, 1, 1, 9), Duration: 1800},
		{ID: "b", SubjectID: "english", StartTime: at(loc, 2024, 1, 1, 15), Duration: 900},
		{ID: "c", SubjectID: "math", StartTime: at(loc, 2024, 1, 2, 10), Duration: 600},
	}

	got := Daily(sessions, loc)
	want := []model.DailyAggregate{
		{Date: "2024-01-01", TotalDuration: 2700, Sessions: 2, UniqueSubjects: 2},
		{Date: "2024-01-02", TotalDuration: 600, Sessions: 1, UniqueSubjects: 1},
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d aggregates, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("aggregate[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDailyEmpty(t *testing.T) {
	got := Daily(nil, time.UTC)
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestDailySameTimestampDifferentSubjects(t *testing.T) {
	ts := at(time.UTC, 2024, 5, 5, 8)
	sessions := []model.Session{
		{SubjectID: "math", StartTime: ts, Duration: 60},
		{SubjectID: "science", StartTime: ts, Duration: 60},
		{SubjectID: "math", StartTime: ts, Duration: 60},
	}

	got := Daily(sessions, time.UTC)
	if len(got) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(got))
	}
	if got[0].UniqueSubjects != 2 {
		t.Errorf("unique subjects = %d, want 2", got[0].UniqueSubjects)
	}
	if got[0].Sessions != 3 {
		t.Errorf("sessions = %d, want 3", got[0].Sessions)
	}
}

func TestDailyUsesLocalDayBoundary(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 2024-01-01 20:00 UTC is already 2024-01-02 in Tokyo.
	s := model.Session{SubjectID: "math", StartTime: time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC), Duration: 60}

	if got := Daily([]model.Session{s}, tokyo); got[0].Date != "2024-01-02" {
		t.Errorf("tokyo date = %s, want 2024-01-02", got[0].Date)
	}
	if got := Daily([]model.Session{s}, time.UTC); got[0].Date != "2024-01-01" {
		t.Errorf("utc date = %s, want 2024-01-01", got[0].Date)
	}
}

func TestDailyPreservesTotalsAndOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	subjects := []string{"math", "english", "science", "social"}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for round := 0; round < 20; round++ {
		n := rng.Intn(200)
		sessions := make([]model.Session, n)
		var want int64
		for i := range sessions {
			sessions[i] = model.Session{
				SubjectID: subjects[rng.Intn(len(subjects))],
				StartTime: base.Add(time.Duration(rng.Intn(90*24)) * time.Hour),
				Duration:  int64(rng.Intn(7200)),
			}
			want += sessions[i].Duration
		}

		got := Daily(sessions, time.UTC)

		var sum int64
		seen := make(map[string]bool)
		for i, d := range got {
			sum += d.TotalDuration
			if seen[d.Date] {
				t.Fatalf("round %d: duplicate date %s", round, d.Date)
			}
			seen[d.Date] = true
			if i > 0 && got[i-1].Date >= d.Date {
				t.Fatalf("round %d: dates not ascending at %d: %s >= %s", round, i, got[i-1].Date, d.Date)
			}
		}
		if sum != want {
			t.Fatalf("round %d: total duration %d, want %d", round, sum, want)
		}
	}
}

func TestDailyDoesNotMutateInput(t *testing.T) {
	sessions := []model.Session{
		{ID: "b", SubjectID: "math", StartTime: at(time.UTC, 2024, 1, 2, 0), Duration: 10},
		{ID: "a", SubjectID: "math", StartTime: at(time.UTC, 2024, 1, 1, 0), Duration: 20},
	}
	Daily(sessions, time.UTC)
	if sessions[0].ID != "b" || sessions[1].ID != "a" {
		t.Error("input order changed")
	}
}

func TestWeekly(t *testing.T) {
	loc := time.UTC
	sessions := []model.Session{
		// 2024-01-01 is a Monday, ISO week 1.
		{SubjectID: "math", StartTime: at(loc, 2024, 1, 1, 9), Duration: 1200, QuestionsAnswered: 10, CorrectAnswers: 5},
		{SubjectID: "english", StartTime: at(loc, 2024, 1, 3, 9), Duration: 3600, QuestionsAnswered: 10, CorrectAnswers: 10},
		{SubjectID: "math", StartTime: at(loc, 2024, 1, 8, 9), Duration: 600},
	}

	got := Weekly(sessions, loc)
	if len(got) != 2 {
		t.Fatalf("expected 2 weeks, got %d", len(got))
	}
	if got[0].Week != "2024-W01" || got[1].Week != "2024-W02" {
		t.Errorf("weeks = %s, %s", got[0].Week, got[1].Week)
	}
	w1 := got[0]
	if w1.TotalDuration != 4800 || w1.Sessions != 2 {
		t.Errorf("week 1 totals = %d/%d", w1.TotalDuration, w1.Sessions)
	}
	if w1.Accuracy != 0.75 {
		t.Errorf("week 1 accuracy = %v, want 0.75", w1.Accuracy)
	}
	if len(w1.Subjects) != 2 || w1.Subjects[0].SubjectID != "english" {
		t.Errorf("expected english first (longest), got %+v", w1.Subjects)
	}
}

func TestBySubjectAndRange(t *testing.T) {
	loc := time.UTC
	sessions := []model.Session{
		{SubjectID: "math", StartTime: at(loc, 2024, 1, 1, 9), Duration: 100, QuestionsAnswered: 4, CorrectAnswers: 1},
		{SubjectID: "math", StartTime: at(loc, 2024, 1, 5, 9), Duration: 100, QuestionsAnswered: 4, CorrectAnswers: 3},
		{SubjectID: "english", StartTime: at(loc, 2024, 2, 1, 9), Duration: 50},
	}

	subjects := BySubject(sessions)
	if len(subjects) != 2 || subjects[0].SubjectID != "math" || subjects[0].Accuracy != 0.5 {
		t.Errorf("unexpected subjects: %+v", subjects)
	}

	jan := model.DateRange{Start: at(loc, 2024, 1, 1, 0), End: at(loc, 2024, 1, 31, 23)}
	inJan := InRange(sessions, jan)
	if len(inJan) != 2 {
		t.Errorf("expected 2 sessions in January, got %d", len(inJan))
	}
	if TotalDuration(inJan) != 200 {
		t.Errorf("total = %d, want 200", TotalDuration(inJan))
	}
}
