package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/realtime"
	"github.com/abelbrown/studyboard/internal/remote"
	"github.com/abelbrown/studyboard/internal/storage"
)

var now = time.Date(2024, 4, 20, 12, 0, 0, 0, time.UTC)

type fixture struct {
	srv    *Server
	http   *httptest.Server
	client *remote.Client
	store  *storage.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	srv := New(st, Options{Location: time.UTC, Now: func() time.Time { return now }})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
		st.Close()
	})

	c, err := remote.New(remote.Options{BaseURL: hs.URL, Rate: 1000, Burst: 100, MaxRetries: -1})
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	return &fixture{srv: srv, http: hs, client: c, store: st}
}

func studySession(user, subject string, daysAgo, total, correct int) model.Session {
	return model.Session{
		UserID:            user,
		SubjectID:         subject,
		StartTime:         now.AddDate(0, 0, -daysAgo),
		Duration:          1800,
		QuestionsAnswered: total,
		CorrectAnswers:    correct,
	}
}

func TestBatchWriteThenQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.client.SaveSessions(ctx, []model.Session{
		studySession("u1", "math", 2, 10, 4),
		studySession("u1", "english", 1, 10, 9),
		studySession("u2", "math", 1, 10, 5),
	})
	if err != nil {
		t.Fatalf("SaveSessions: %v", err)
	}
	if len(saved) != 3 || saved[0].ID == "" || saved[0].SubjectID != "math" {
		t.Fatalf("saved = %+v", saved)
	}

	got, err := f.client.Sessions(ctx, model.Filter{UserID: "u1", DateRange: model.NewDateRange(model.PresetWeek, now)})
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("u1 sessions = %d, want 2", len(got))
	}
}

func TestBatchWriteValidation(t *testing.T) {
	f := newFixture(t)
	bad := studySession("u1", "math", 0, 5, 9) // more correct than attempted

	_, err := f.client.SaveSessions(context.Background(), []model.Session{bad})
	var se *remote.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusBadRequest || se.Code != codeValidation {
		t.Errorf("status error = %+v", se)
	}
	if n, _ := f.store.SessionCount(context.Background()); n != 0 {
		t.Errorf("invalid batch was stored: %d rows", n)
	}
}

func TestValidationReportsJSONFieldNames(t *testing.T) {
	f := newFixture(t)
	body, _ := json.Marshal(remote.SessionsBody{Sessions: []model.Session{{SubjectID: "math", StartTime: now}}})
	resp, err := http.Post(f.http.URL+remote.PathSessionBatch, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var eb remote.ErrorBody
	json.NewDecoder(resp.Body).Decode(&eb)
	if resp.StatusCode != http.StatusBadRequest || eb.Error.Fields["userId"] != "required" {
		t.Errorf("status %d, body %+v", resp.StatusCode, eb)
	}
}

func TestWeaknessesAndMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.SaveSessions(ctx, []model.Session{
		studySession("u1", "math", 3, 20, 4),
		studySession("u1", "math", 1, 20, 6),
		studySession("u1", "english", 0, 20, 19),
	})

	weak, err := f.client.Weaknesses(ctx, "u1")
	if err != nil {
		t.Fatalf("Weaknesses: %v", err)
	}
	if len(weak) != 2 || weak[0].SubjectID != "math" {
		t.Errorf("weaknesses = %+v", weak)
	}

	m, err := f.client.Metrics(ctx, model.Filter{UserID: "u1"})
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if m.TotalQuestions != 60 || m.TotalStudyTime != 90 {
		t.Errorf("metrics = %+v", m)
	}
	if m.StudyStreak != 2 {
		t.Errorf("streak = %d, want 2", m.StudyStreak)
	}
}

func TestWeaknessRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Weaknesses(context.Background(), "")
	var se *remote.StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Errorf("err = %v", err)
	}
}

func TestAnalyzeUsesStoredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.client.SaveSessions(ctx, []model.Session{
		studySession("u1", "math", 2, 10, 5),
		studySession("u1", "math", 1, 10, 7),
	})

	rep, err := f.client.Analyze(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rep.UserID != "u1" || !rep.GeneratedAt.Equal(now) {
		t.Errorf("report header = %+v", rep)
	}
	if rep.Metrics.TotalQuestions != 20 || len(rep.Weaknesses) != 1 || len(rep.Trends) != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestMockExamWriteAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.client.SaveMockExam(ctx, model.MockExamResult{
		UserID: "u1", ExamDate: now, ExamType: "national", TotalScore: 320, MaxScore: 500,
		Subjects: []model.SubjectScore{{SubjectID: "math", Score: 80, MaxScore: 100}},
	})
	if err != nil || saved.ID == "" {
		t.Fatalf("SaveMockExam: %+v, %v", saved, err)
	}

	exams, err := f.client.MockExams(ctx, "u1")
	if err != nil || len(exams) != 1 || exams[0].TotalScore != 320 {
		t.Errorf("exams = %+v, %v", exams, err)
	}

	_, err = f.client.SaveMockExam(ctx, model.MockExamResult{UserID: "u1", ExamDate: now, ExamType: "x", MaxScore: 0})
	if err == nil {
		t.Error("expected validation error for max score 0")
	}
}

func TestUpdateAndDeleteSession(t *testing.T) {
	f := newFixture(t)
	saved, _ := f.client.SaveSessions(context.Background(), []model.Session{studySession("u1", "math", 0, 10, 5)})
	id := saved[0].ID

	req, _ := http.NewRequest(http.MethodPatch, f.http.URL+"/api/sessions/"+id, bytes.NewReader([]byte(`{"correctAnswers":8}`)))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var updated model.Session
	json.NewDecoder(resp.Body).Decode(&updated)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || updated.CorrectAnswers != 8 {
		t.Errorf("patch: status %d, %+v", resp.StatusCode, updated)
	}

	req, _ = http.NewRequest(http.MethodDelete, f.http.URL+"/api/sessions/"+id, nil)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}

	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d", resp.StatusCode)
	}
}

func TestBatchWritePushesSessionEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stream, err := realtime.Dial(ctx, f.client.EventsURL("u1"), realtime.Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stream.Close()

	waitFor(t, func() bool { return f.srv.Hub().Subscribers("u1") == 1 })

	f.client.SaveSessions(ctx, []model.Session{studySession("u1", "math", 0, 10, 5), studySession("u2", "math", 0, 1, 1)})
	f.client.SaveMockExam(ctx, model.MockExamResult{UserID: "u1", ExamDate: now, ExamType: "school", TotalScore: 1, MaxScore: 2})

	want := []model.EventType{model.EventSessionEnd, model.EventExamCompleted}
	for _, typ := range want {
		select {
		case ev := <-stream.Events():
			if ev.Type != typ || ev.UserID != "u1" {
				t.Errorf("event = %+v, want %s", ev, typ)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestHubCloseDisconnectsSubscribers(t *testing.T) {
	f := newFixture(t)
	stream, err := realtime.Dial(context.Background(), f.client.EventsURL("u1"), realtime.Options{})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stream.Close()
	waitFor(t, func() bool { return f.srv.Hub().Subscribers("u1") == 1 })

	f.srv.Close()
	select {
	case <-stream.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after hub close")
	}
	if stream.Err() != nil {
		t.Errorf("hub close should be clean, got %v", stream.Err())
	}
	waitFor(t, func() bool { return f.srv.Hub().Subscribers("u1") == 0 })
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.http.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("healthz: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
