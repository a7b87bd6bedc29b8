package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abelbrown/studyboard/internal/analytics"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/otel"
)

var viewNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

// mockCmd records which command functions the view called.
type mockCmd struct {
	loads     int
	refreshes int
	analyses  int
	state     analytics.State
}

func (m *mockCmd) load() tea.Cmd {
	m.loads++
	st := m.state
	return func() tea.Msg { return StateLoaded{State: st} }
}

func (m *mockCmd) refresh() tea.Cmd {
	m.refreshes++
	return nil
}

func (m *mockCmd) analyze() tea.Cmd {
	m.analyses++
	return nil
}

func (m *mockCmd) commands(changes <-chan struct{}) Commands {
	return Commands{
		Load:    m.load,
		Refresh: m.refresh,
		Analyze: m.analyze,
		Changes: changes,
		Now:     func() time.Time { return viewNow },
	}
}

func sampleState() analytics.State {
	return analytics.State{
		Filter: model.Filter{UserID: "u1", DateRange: model.NewDateRange(model.PresetWeek, viewNow)},
		Sessions: []model.Session{
			{ID: "s1", UserID: "u1", SubjectID: "math"},
		},
		Weaknesses: []model.WeaknessPattern{
			{SubjectID: "math", TopicID: "algebra", ErrorCount: 9, TotalQuestions: 10, WeaknessScore: 72.5, Trend: "declining"},
		},
		MockExams: []model.MockExamResult{
			{ID: "e1", ExamType: "national", ExamDate: viewNow.AddDate(0, 0, -3), TotalScore: 420, MaxScore: 500},
			{ID: "e2", ExamType: "prefecture", ExamDate: viewNow.AddDate(0, 0, -1), TotalScore: 250, MaxScore: 500},
		},
		Metrics: &model.ProgressMetrics{
			TotalStudyTime:  125,
			TotalQuestions:  12345,
			OverallAccuracy: 81.2,
			StudyStreak:     4,
		},
		LastUpdated: viewNow.Add(-2 * time.Minute),
		Realtime:    true,
	}
}

func TestInitLoadsAndRefreshes(t *testing.T) {
	mock := &mockCmd{}
	m := New(mock.commands(nil))

	if cmd := m.Init(); cmd == nil {
		t.Fatal("Init should return a command")
	}
	if mock.loads != 1 || mock.refreshes != 1 {
		t.Errorf("loads=%d refreshes=%d, want 1 and 1", mock.loads, mock.refreshes)
	}
}

func TestViewBeforeLoad(t *testing.T) {
	m := New(Commands{})
	if !strings.Contains(m.View(), "loading") {
		t.Errorf("view before load = %q", m.View())
	}
}

func TestStateLoadedRendersDashboard(t *testing.T) {
	mock := &mockCmd{}
	var tm tea.Model = New(mock.commands(nil))
	tm, _ = tm.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	tm, _ = tm.Update(StateLoaded{State: sampleState()})

	view := tm.View()
	for _, want := range []string{
		"STUDYBOARD",
		"user u1",
		"live",
		"updated 2 minutes ago",
		"12,345",
		"math",
		"algebra",
		"9/10",
		"prefecture",
		"r:refresh",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Index(view, "prefecture") > strings.Index(view, "national") {
		t.Error("newest exam should be listed first")
	}
}

func TestErrorIsShown(t *testing.T) {
	st := sampleState()
	st.Err = &model.AnalyticsError{Name: model.ErrNameFetch, Code: model.CodeFetchMetrics, Message: "boom"}

	var tm tea.Model = New(Commands{Now: func() time.Time { return viewNow }})
	tm, _ = tm.Update(StateLoaded{State: st})

	view := tm.View()
	if !strings.Contains(view, model.CodeFetchMetrics) || !strings.Contains(view, "boom") {
		t.Errorf("error not rendered:\n%s", view)
	}
}

func TestKeys(t *testing.T) {
	mock := &mockCmd{}
	var tm tea.Model = New(mock.commands(nil))

	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if mock.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", mock.refreshes)
	}
	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	if mock.analyses != 1 {
		t.Errorf("analyses = %d, want 1", mock.analyses)
	}

	_, cmd := tm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestChangedReloadsAndRelistens(t *testing.T) {
	mock := &mockCmd{state: sampleState()}
	changes := make(chan struct{}, 1)
	var tm tea.Model = New(mock.commands(changes))

	_, cmd := tm.Update(Changed{})
	if cmd == nil {
		t.Fatal("Changed should return a command")
	}
	if mock.loads != 1 {
		t.Errorf("loads = %d, want 1", mock.loads)
	}

	m := tm.(Model)
	changes <- struct{}{}
	if _, ok := m.waitChange()().(Changed); !ok {
		t.Error("waitChange should turn a signal into Changed")
	}
	close(changes)
	if msg := m.waitChange()(); msg != nil {
		t.Errorf("closed channel should yield nil, got %T", msg)
	}
}

func TestRefreshTick(t *testing.T) {
	mock := &mockCmd{}
	cmds := mock.commands(nil)
	cmds.Interval = time.Minute
	var tm tea.Model = New(cmds)

	_, cmd := tm.Update(RefreshTick{})
	if mock.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", mock.refreshes)
	}
	if cmd == nil {
		t.Error("tick should be rescheduled")
	}
}

func TestRender(t *testing.T) {
	st := sampleState()
	st.Metrics = nil
	st.Weaknesses = nil
	st.LastUpdated = time.Time{}

	out := Render(st, viewNow)
	for _, want := range []string{"STUDYBOARD REPORT", "never updated", "no metrics yet", "national"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRecentExamsLimit(t *testing.T) {
	var exams []model.MockExamResult
	for i := 0; i < 8; i++ {
		exams = append(exams, model.MockExamResult{ID: string(rune('a' + i)), ExamDate: viewNow.AddDate(0, 0, -i)})
	}
	got := recentExams(exams, 3)
	if len(got) != 3 || got[0].ID != "a" || got[2].ID != "c" {
		t.Errorf("recentExams = %+v", got)
	}
}

func TestActivityShowsRecentEvents(t *testing.T) {
	events := []otel.Event{
		{Time: viewNow, Kind: otel.KindFetchStart, Scope: "sessions"},
		{Time: viewNow, Kind: otel.KindFetchComplete, Scope: "sessions", Dur: 40 * time.Millisecond},
		{Time: viewNow, Kind: otel.KindFetchError, Scope: "metrics", Err: "status 500"},
	}
	var tm tea.Model = New(Commands{Now: func() time.Time { return viewNow }})
	tm, _ = tm.Update(StateLoaded{State: sampleState(), Events: events})

	view := tm.View()
	for _, want := range []string{"Activity", "1 fetched, 1 failed", "fetch.complete", "40ms", "status 500"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
