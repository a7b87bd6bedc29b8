package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abelbrown/studyboard/internal/model"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func sess(user, subject, topic string, hoursAfter int) model.Session {
	return model.Session{
		UserID:            user,
		SubjectID:         subject,
		TopicID:           topic,
		StartTime:         base.Add(time.Duration(hoursAfter) * time.Hour),
		Duration:          1200,
		QuestionsAnswered: 10,
		CorrectAnswers:    7,
		FocusScore:        80,
	}
}

func TestOpenCreatesTables(t *testing.T) {
	st := openTest(t)
	for _, table := range []string{"sessions", "mock_exams"} {
		var name string
		err := st.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("%s table not created: %v", table, err)
		}
	}
}

func TestSaveSessionsAssignsIDsInOrder(t *testing.T) {
	st := openTest(t)
	fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return fixed }

	in := []model.Session{sess("u1", "math", "", 0), sess("u1", "english", "", 1), {ID: "keep", UserID: "u1", SubjectID: "art", StartTime: base}}
	out, err := st.SaveSessions(context.Background(), in)
	if err != nil {
		t.Fatalf("SaveSessions: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 saved, got %d", len(out))
	}
	if out[0].ID == "" || out[1].ID == "" || out[0].ID == out[1].ID {
		t.Errorf("IDs not assigned uniquely: %q %q", out[0].ID, out[1].ID)
	}
	if out[0].ID >= out[1].ID {
		t.Errorf("ULIDs not monotonic: %q >= %q", out[0].ID, out[1].ID)
	}
	if out[2].ID != "keep" {
		t.Errorf("existing ID replaced: %q", out[2].ID)
	}
	if out[1].SubjectID != "english" || !out[0].CreatedAt.Equal(fixed) || !out[0].UpdatedAt.Equal(fixed) {
		t.Errorf("unexpected record: %+v", out[1])
	}

	n, err := st.SessionCount(context.Background())
	if err != nil || n != 3 {
		t.Errorf("count = %d, %v", n, err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	st := openTest(t)
	s := sess("u1", "math", "algebra", 0)
	s.EndTime = s.StartTime.Add(20 * time.Minute)
	s.PausedDuration = 60
	saved, err := st.SaveSessions(context.Background(), []model.Session{s})
	if err != nil {
		t.Fatalf("SaveSessions: %v", err)
	}

	got, err := st.Session(context.Background(), saved[0].ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.TopicID != "algebra" || got.PausedDuration != 60 || got.FocusScore != 80 {
		t.Errorf("fields lost: %+v", got)
	}
	if !got.StartTime.Equal(s.StartTime) || !got.EndTime.Equal(s.EndTime) {
		t.Errorf("times = %v..%v", got.StartTime, got.EndTime)
	}

	if _, err := st.Session(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing session err = %v", err)
	}
}

func TestUpdateSession(t *testing.T) {
	st := openTest(t)
	saved, _ := st.SaveSessions(context.Background(), []model.Session{sess("u1", "math", "", 0)})
	id := saved[0].ID

	correct := 9
	topic := "geometry"
	got, err := st.UpdateSession(context.Background(), id, model.SessionPatch{CorrectAnswers: &correct, TopicID: &topic})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if got.CorrectAnswers != 9 || got.TopicID != "geometry" || got.SubjectID != "math" {
		t.Errorf("patched = %+v", got)
	}

	reread, _ := st.Session(context.Background(), id)
	if reread.CorrectAnswers != 9 || reread.TopicID != "geometry" {
		t.Errorf("patch not persisted: %+v", reread)
	}

	if _, err := st.UpdateSession(context.Background(), "nope", model.SessionPatch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing update err = %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	st := openTest(t)
	saved, _ := st.SaveSessions(context.Background(), []model.Session{sess("u1", "math", "", 0)})

	if err := st.DeleteSession(context.Background(), saved[0].ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := st.DeleteSession(context.Background(), saved[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestQuerySessionsFilter(t *testing.T) {
	st := openTest(t)
	st.SaveSessions(context.Background(), []model.Session{
		sess("u1", "math", "algebra", 48),
		sess("u1", "math", "geometry", 0),
		sess("u1", "english", "grammar", 24),
		sess("u2", "math", "algebra", 24),
	})

	all, err := st.QuerySessions(context.Background(), model.Filter{UserID: "u1"})
	if err != nil {
		t.Fatalf("QuerySessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("u1 sessions = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartTime.Before(all[i-1].StartTime) {
			t.Error("sessions not ordered by start time")
		}
	}

	ranged, _ := st.QuerySessions(context.Background(), model.Filter{
		UserID:    "u1",
		DateRange: model.DateRange{Start: base.Add(24 * time.Hour), End: base.Add(48 * time.Hour)},
	})
	if len(ranged) != 2 {
		t.Errorf("inclusive range returned %d, want 2", len(ranged))
	}

	math, _ := st.QuerySessions(context.Background(), model.Filter{UserID: "u1", Subjects: []string{"math"}, Topics: []string{"algebra"}})
	if len(math) != 1 || math[0].TopicID != "algebra" {
		t.Errorf("subject/topic filter = %+v", math)
	}

	none, err := st.QuerySessions(context.Background(), model.Filter{UserID: "nobody"})
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("empty query = %v, %v", none, err)
	}
}

func TestMockExams(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()
	older := model.MockExamResult{UserID: "u1", ExamDate: base, ExamType: "national", TotalScore: 300, MaxScore: 500,
		Subjects: []model.SubjectScore{{SubjectID: "math", Score: 120, MaxScore: 200}}}
	newer := model.MockExamResult{UserID: "u1", ExamDate: base.AddDate(0, 1, 0), ExamType: "school", TotalScore: 80, MaxScore: 100}

	saved, err := st.SaveMockExam(ctx, older)
	if err != nil || saved.ID == "" {
		t.Fatalf("SaveMockExam: %+v, %v", saved, err)
	}
	if _, err := st.SaveMockExam(ctx, newer); err != nil {
		t.Fatalf("SaveMockExam: %v", err)
	}
	st.SaveMockExam(ctx, model.MockExamResult{UserID: "u2", ExamDate: base, ExamType: "national", MaxScore: 1})

	exams, err := st.MockExams(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("MockExams: %v", err)
	}
	if len(exams) != 2 || exams[0].ExamType != "school" {
		t.Fatalf("exams = %+v", exams)
	}
	if len(exams[1].Subjects) != 1 || exams[1].Subjects[0].Score != 120 {
		t.Errorf("subjects = %+v", exams[1].Subjects)
	}
	if exams[0].Subjects == nil {
		t.Error("empty subjects decoded as nil")
	}

	national, _ := st.MockExams(ctx, "u1", []string{"national"})
	if len(national) != 1 || !national[0].ExamDate.Equal(base) {
		t.Errorf("typed query = %+v", national)
	}
}

func TestConcurrentWrites(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "db", "studyboard.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := st.SaveSessions(context.Background(), []model.Session{sess("u1", "math", "", i)}); err != nil {
				t.Errorf("SaveSessions: %v", err)
			}
		}(i)
	}
	wg.Wait()

	n, _ := st.SessionCount(context.Background())
	if n != 10 {
		t.Errorf("count = %d, want 10", n)
	}
}
