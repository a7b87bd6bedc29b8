package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/abelbrown/studyboard/internal/analytics"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/otel"
)

const (
	maxWeaknessRows = 8
	maxEvents       = 6
)

// Commands connects the view to a store without holding it.
type Commands struct {
	Load    func() tea.Cmd // must produce StateLoaded
	Refresh func() tea.Cmd
	Analyze func() tea.Cmd
	Changes <-chan struct{}
	// Interval between automatic refreshes, 0 disables them.
	Interval time.Duration
	Now      func() time.Time
}

// Model is the Bubble Tea model for the watch view.
type Model struct {
	cmds    Commands
	state   analytics.State
	events  []otel.Event
	loaded  bool
	spinner spinner.Model
	table   table.Model

	width  int
	height int
}

// New creates the view.
func New(cmds Commands) Model {
	if cmds.Now == nil {
		cmds.Now = time.Now
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = goodStyle

	t := table.New(
		table.WithColumns(weaknessColumns()),
		table.WithHeight(maxWeaknessRows+1),
		table.WithFocused(false),
	)
	return Model{cmds: cmds, spinner: s, table: t}
}

func weaknessColumns() []table.Column {
	return []table.Column{
		{Title: "Subject", Width: 14},
		{Title: "Topic", Width: 14},
		{Title: "Score", Width: 6},
		{Title: "Errors", Width: 10},
		{Title: "Trend", Width: 16},
	}
}

// Init loads the first snapshot and starts listening for changes.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.waitChange()}
	if m.cmds.Load != nil {
		cmds = append(cmds, m.cmds.Load())
	}
	if m.cmds.Refresh != nil {
		cmds = append(cmds, m.cmds.Refresh())
	}
	cmds = append(cmds, m.tick())
	return tea.Batch(cmds...)
}

func (m Model) waitChange() tea.Cmd {
	ch := m.cmds.Changes
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return Changed{}
	}
}

func (m Model) tick() tea.Cmd {
	if m.cmds.Interval <= 0 {
		return nil
	}
	return tea.Tick(m.cmds.Interval, func(time.Time) tea.Msg { return RefreshTick{} })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if m.cmds.Refresh != nil {
				return m, m.cmds.Refresh()
			}
		case "a":
			if m.cmds.Analyze != nil {
				return m, m.cmds.Analyze()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case StateLoaded:
		m.state = msg.State
		m.events = msg.Events
		m.loaded = true
		m.table.SetRows(weaknessRows(m.state.Weaknesses))
		return m, nil

	case Changed:
		var load tea.Cmd
		if m.cmds.Load != nil {
			load = m.cmds.Load()
		}
		return m, tea.Batch(load, m.waitChange())

	case RefreshTick:
		var refresh tea.Cmd
		if m.cmds.Refresh != nil {
			refresh = m.cmds.Refresh()
		}
		return m, tea.Batch(refresh, m.tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if !m.loaded {
		return m.spinner.View() + " loading..."
	}

	var b strings.Builder
	header := "STUDYBOARD"
	if m.state.Loading || m.state.Analyzing {
		header += " " + m.spinner.View()
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("  ")
	b.WriteString(statsStyle.Render(statusLine(m.state, m.cmds.Now())))
	b.WriteString("\n\n")

	b.WriteString(body(m.state, m.table.View(), m.width))
	if len(m.events) > 0 {
		b.WriteString(divider(m.width))
		b.WriteString(activity(m.events))
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("r:refresh  a:analyze  q:quit"))
	return b.String()
}

// Render draws st once, without interaction, for the report command.
func Render(st analytics.State, now time.Time) string {
	t := table.New(
		table.WithColumns(weaknessColumns()),
		table.WithRows(weaknessRows(st.Weaknesses)),
		table.WithHeight(min(len(st.Weaknesses), maxWeaknessRows)+1),
		table.WithFocused(false),
	)
	var b strings.Builder
	b.WriteString(titleStyle.Render("STUDYBOARD REPORT"))
	b.WriteString("  ")
	b.WriteString(statsStyle.Render(statusLine(st, now)))
	b.WriteString("\n\n")
	b.WriteString(body(st, t.View(), 0))
	return b.String()
}

func statusLine(st analytics.State, now time.Time) string {
	parts := []string{}
	if st.Filter.UserID != "" {
		parts = append(parts, "user "+st.Filter.UserID)
	}
	if p := st.Filter.DateRange.Preset; p != "" {
		parts = append(parts, string(p))
	}
	if st.Realtime {
		parts = append(parts, "live")
	}
	if st.LastUpdated.IsZero() {
		parts = append(parts, "never updated")
	} else {
		parts = append(parts, "updated "+humanize.RelTime(st.LastUpdated, now, "ago", "from now"))
	}
	return strings.Join(parts, " · ")
}

func body(st analytics.State, weaknessTable string, width int) string {
	var b strings.Builder

	if st.Err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("%s [%s] %s", st.Err.Name, st.Err.Code, st.Err.Message)))
		b.WriteString("\n\n")
	}

	b.WriteString(labelStyle.Render("Progress"))
	b.WriteString("\n")
	if st.Metrics == nil {
		b.WriteString(dimStyle.Render("  no metrics yet"))
		b.WriteString("\n")
	} else {
		b.WriteString(metricsLines(*st.Metrics))
	}
	b.WriteString(fmt.Sprintf("  %s sessions in view\n", humanize.Comma(int64(len(st.Sessions)))))

	b.WriteString(divider(width))
	b.WriteString(labelStyle.Render("Weaknesses"))
	b.WriteString("\n")
	if len(st.Weaknesses) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		b.WriteString("\n")
	} else {
		b.WriteString(weaknessTable)
		b.WriteString("\n")
	}

	b.WriteString(divider(width))
	b.WriteString(labelStyle.Render("Mock exams"))
	b.WriteString("\n")
	exams := recentExams(st.MockExams, analytics.DefaultRecentExams)
	if len(exams) == 0 {
		b.WriteString(dimStyle.Render("  none"))
		b.WriteString("\n")
	}
	for _, e := range exams {
		b.WriteString(fmt.Sprintf("  %s  %-12s %s / %s  %s\n",
			e.ExamDate.Format("2006-01-02"), e.ExamType,
			humanize.Ftoa(e.TotalScore), humanize.Ftoa(e.MaxScore),
			scoreStyle(e.Ratio()*100).Render(fmt.Sprintf("%.0f%%", e.Ratio()*100))))
	}
	return b.String()
}

func activity(events []otel.Event) string {
	var b strings.Builder
	counts := otel.CountKinds(events)
	b.WriteString(labelStyle.Render("Activity"))
	b.WriteString(statsStyle.Render(fmt.Sprintf("  %d fetched, %d failed",
		counts[otel.KindFetchComplete], counts[otel.KindFetchError]+counts[otel.KindOffloadError])))
	b.WriteString("\n")

	if len(events) > maxEvents {
		events = events[len(events)-maxEvents:]
	}
	for _, e := range events {
		line := fmt.Sprintf("  %s  %-18s %s", e.Time.Format("15:04:05"), e.Kind, e.Scope)
		if e.Dur > 0 {
			line += " " + e.Dur.Round(time.Millisecond).String()
		}
		switch {
		case e.Err != "":
			b.WriteString(errorStyle.Render(line + " " + e.Err))
		case e.Level == otel.LevelDebug:
			b.WriteString(dimStyle.Render(line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func metricsLines(m model.ProgressMetrics) string {
	study := time.Duration(m.TotalStudyTime * float64(time.Minute)).Round(time.Minute)
	lines := []string{
		fmt.Sprintf("  study time   %s", study),
		fmt.Sprintf("  questions    %s", humanize.Comma(int64(m.TotalQuestions))),
		fmt.Sprintf("  accuracy     %s", scoreStyle(m.OverallAccuracy).Render(fmt.Sprintf("%.1f%%", m.OverallAccuracy))),
		fmt.Sprintf("  streak       %d days", m.StudyStreak),
		fmt.Sprintf("  weekly avg   %.0f min", m.WeeklyAverage),
		fmt.Sprintf("  growth       %+.1f%%", m.MonthlyGrowth),
	}
	return strings.Join(lines, "\n") + "\n"
}

func weaknessRows(ws []model.WeaknessPattern) []table.Row {
	rows := make([]table.Row, 0, min(len(ws), maxWeaknessRows))
	for i, w := range ws {
		if i == maxWeaknessRows {
			break
		}
		rows = append(rows, table.Row{
			w.SubjectID,
			w.TopicID,
			fmt.Sprintf("%.1f", w.WeaknessScore),
			fmt.Sprintf("%d/%d", w.ErrorCount, w.TotalQuestions),
			w.Trend,
		})
	}
	return rows
}

// recentExams is newest first, at most limit.
func recentExams(exams []model.MockExamResult, limit int) []model.MockExamResult {
	out := append([]model.MockExamResult(nil), exams...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExamDate.After(out[j].ExamDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func scoreStyle(pct float64) lipgloss.Style {
	switch {
	case pct >= 80:
		return goodStyle
	case pct >= 60:
		return warnStyle
	default:
		return errorStyle
	}
}

func divider(width int) string {
	n := 60
	if width > 4 && width-4 < n {
		n = width - 4
	}
	return dividerStyle.Render(strings.Repeat("─", n)) + "\n"
}
