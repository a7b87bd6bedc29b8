package analysis

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/offload"
	"github.com/abelbrown/studyboard/internal/score"
)

var day0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func session(subject, topic string, day int, total, correct int) model.Session {
	return model.Session{
		UserID:            "u1",
		SubjectID:         subject,
		TopicID:           topic,
		StartTime:         day0.AddDate(0, 0, day),
		Duration:          1800,
		QuestionsAnswered: total,
		CorrectAnswers:    correct,
	}
}

func TestWeaknessesOrderedWeakestFirst(t *testing.T) {
	sessions := []model.Session{
		session("math", "algebra", 0, 20, 18),
		session("math", "algebra", 1, 20, 19),
		session("english", "grammar", 0, 20, 4),
		session("english", "grammar", 1, 20, 6),
		session("science", "", 0, 0, 0), // no questions, ignored
	}

	got := Weaknesses(sessions, AdvancedScorer)
	if len(got) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(got))
	}
	if got[0].SubjectID != "english" {
		t.Errorf("weakest = %s, want english", got[0].SubjectID)
	}
	if got[0].WeaknessScore < got[1].WeaknessScore {
		t.Error("patterns not sorted by score desc")
	}

	eng := got[0]
	if eng.TotalQuestions != 40 || eng.ErrorCount != 30 {
		t.Errorf("english counts = %d/%d", eng.TotalQuestions, eng.ErrorCount)
	}
	if math.Abs(eng.Accuracy-0.25) > 1e-9 || math.Abs(eng.ErrorRate-75) > 1e-9 {
		t.Errorf("english accuracy = %v, error rate = %v", eng.Accuracy, eng.ErrorRate)
	}
	if eng.Trend != model.TrendImproving {
		t.Errorf("english trend = %s, want improving (20%% -> 30%%)", eng.Trend)
	}
	if !eng.LastPracticed.Equal(day0.AddDate(0, 0, 1)) {
		t.Errorf("last practiced = %v", eng.LastPracticed)
	}
	for _, p := range got {
		if p.WeaknessScore < 0 || p.WeaknessScore > 100 {
			t.Errorf("%s score out of range: %v", p.SubjectID, p.WeaknessScore)
		}
	}
}

func TestWeaknessesSingleSessionInsufficient(t *testing.T) {
	got := Weaknesses([]model.Session{session("math", "", 0, 10, 5)}, BasicScorer(score.DefaultWeights))
	if len(got) != 1 || got[0].Trend != model.TrendInsufficientData {
		t.Fatalf("unexpected: %+v", got)
	}
	want := score.Weakness(0.5, 10, 0, score.DefaultWeights)
	if got[0].WeaknessScore != want {
		t.Errorf("score = %v, want %v", got[0].WeaknessScore, want)
	}
}

func TestTrends(t *testing.T) {
	var sessions []model.Session
	for d := 0; d < 10; d++ {
		// math climbs 5 points a day, english is flat
		sessions = append(sessions, session("math", "", d, 100, 40+5*d))
		sessions = append(sessions, session("english", "", d, 100, 70))
	}
	sessions = append(sessions, session("science", "", 0, 10, 5))

	report, err := Trends(context.Background(), sessions, 2)
	if err != nil {
		t.Fatalf("Trends: %v", err)
	}
	if len(report.Subjects) != 3 {
		t.Fatalf("expected 3 subjects, got %d", len(report.Subjects))
	}
	bySubject := make(map[string]model.SubjectTrend)
	for _, st := range report.Subjects {
		bySubject[st.SubjectID] = st
	}

	math_ := bySubject["math"]
	if math.Abs(math_.Slope-5) > 1e-6 {
		t.Errorf("math slope = %v, want 5 per day", math_.Slope)
	}
	if math_.Trend != model.TrendImprovingFast {
		t.Errorf("math trend = %s", math_.Trend)
	}
	if math.Abs(math_.R2-1) > 1e-9 {
		t.Errorf("math r2 = %v", math_.R2)
	}
	if bySubject["english"].Trend != model.TrendStable {
		t.Errorf("english trend = %s", bySubject["english"].Trend)
	}
	if bySubject["science"].Trend != model.TrendInsufficientData {
		t.Errorf("science trend = %s", bySubject["science"].Trend)
	}
	if report.Overall == nil || report.Overall.DataPoints != 21 {
		t.Errorf("overall = %+v", report.Overall)
	}
}

func TestTrendsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Trends(ctx, []model.Session{session("math", "", 0, 10, 5)}, 1)
	if err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestHeatmap(t *testing.T) {
	sessions := []model.Session{
		session("math", "algebra", 0, 10, 5),
		session("math", "algebra", 1, 10, 7),
		session("math", "geometry", 0, 10, 9),
		session("english", "grammar", 0, 10, 3),
		session("english", "", 0, 10, 3), // no topic, skipped
	}

	hm := BuildHeatmap(sessions)
	if hm.DataPoints != 4 || len(hm.Cells) != 3 {
		t.Fatalf("unexpected heatmap: %+v", hm)
	}
	if hm.Cells[0].SubjectID != "english" || hm.Cells[1].TopicID != "algebra" {
		t.Errorf("cells not ordered: %+v", hm.Cells)
	}
	alg := hm.Cells[1]
	if alg.Count != 2 || math.Abs(alg.Accuracy-60) > 1e-9 || math.Abs(alg.StdDev-10) > 1e-9 {
		t.Errorf("algebra cell = %+v", alg)
	}
	if alg.Confidence != "very_low" {
		t.Errorf("confidence = %s", alg.Confidence)
	}
	// 3 of 2x3 cells filled
	if math.Abs(hm.Coverage-50) > 1e-9 {
		t.Errorf("coverage = %v, want 50", hm.Coverage)
	}
}

func TestPredictScores(t *testing.T) {
	var few []model.Session
	for d := 0; d < 3; d++ {
		few = append(few, session("math", "", d, 10, 5+d))
	}
	p := PredictScores(few, time.UTC)
	if p.Enough || p.Confidence != "low" || math.Abs(p.CurrentAvg-70) > 1e-9 {
		t.Errorf("sparse prediction = %+v", p)
	}

	var many []model.Session
	for d := 0; d < 20; d++ {
		many = append(many, session("math", "", d, 100, 40+d))
	}
	p = PredictScores(many, time.UTC)
	if !p.Enough || p.DataPoints != 20 {
		t.Fatalf("prediction = %+v", p)
	}
	if math.Abs(p.WeeklyTrend-7) > 1e-6 {
		t.Errorf("weekly trend = %v, want 7", p.WeeklyTrend)
	}
	if !(p.OneWeek > p.CurrentAvg && p.OneMonth > p.OneWeek) {
		t.Errorf("projection not increasing: %+v", p)
	}
	if p.Confidence != "medium" {
		t.Errorf("confidence = %s, want medium", p.Confidence)
	}
}

func TestMetrics(t *testing.T) {
	now := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)
	at := func(daysAgo int) time.Time { return now.AddDate(0, 0, -daysAgo) }
	sessions := []model.Session{
		{StartTime: at(0), Duration: 3600, QuestionsAnswered: 10, CorrectAnswers: 8},
		{StartTime: at(1), Duration: 1800, QuestionsAnswered: 10, CorrectAnswers: 6},
		{StartTime: at(2), Duration: 1800},
		{StartTime: at(40), Duration: 3600},
	}

	m := Metrics(sessions, MetricsOptions{Now: now, Location: time.UTC, WeeklyTargetMinutes: 60})
	if m.TotalStudyTime != 180 {
		t.Errorf("total study time = %v, want 180", m.TotalStudyTime)
	}
	if m.TotalQuestions != 20 || m.OverallAccuracy != 70 {
		t.Errorf("questions/accuracy = %d/%v", m.TotalQuestions, m.OverallAccuracy)
	}
	if m.StudyStreak != 3 {
		t.Errorf("streak = %d, want 3", m.StudyStreak)
	}
	// 120 minutes in the last 30 days vs 60 before
	if m.MonthlyGrowth != 100 {
		t.Errorf("monthly growth = %v, want 100", m.MonthlyGrowth)
	}
	if m.TargetAchievement <= 0 || m.TargetAchievement > 100 {
		t.Errorf("target achievement = %v", m.TargetAchievement)
	}

	if got := Metrics(nil, MetricsOptions{}); got != (model.ProgressMetrics{}) {
		t.Errorf("empty metrics = %+v", got)
	}
}

func TestStreakFromYesterday(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	sessions := []model.Session{
		{StartTime: now.AddDate(0, 0, -1)},
		{StartTime: now.AddDate(0, 0, -2)},
		{StartTime: now.AddDate(0, 0, -4)},
	}
	if got := Streak(sessions, now, time.UTC); got != 2 {
		t.Errorf("streak = %d, want 2", got)
	}
}

func TestRegisteredOperationsRunThroughPool(t *testing.T) {
	p := offload.NewPool(offload.Options{})
	defer p.Close()
	Register(p)

	req := Request{
		Sessions: []model.Session{
			session("math", "algebra", 0, 10, 2),
			session("english", "grammar", 0, 10, 9),
		},
		Zone: "UTC",
	}

	weak, err := offload.Do[[]model.WeaknessPattern](context.Background(), p, OpAnalyzeWeakness, req, time.Second)
	if err != nil {
		t.Fatalf("%s: %v", OpAnalyzeWeakness, err)
	}
	if len(weak) != 2 || weak[0].SubjectID != "math" {
		t.Errorf("weaknesses = %+v", weak)
	}

	weekly, err := offload.Do[[]model.WeeklyAggregate](context.Background(), p, OpAggregateWeekly, req, time.Second)
	if err != nil || len(weekly) != 1 || weekly[0].Sessions != 2 {
		t.Errorf("weekly = %+v, %v", weekly, err)
	}

	for _, op := range []string{OpCalculateTrends, OpGenerateHeatmap, OpPredictScores, OpProgressMetrics} {
		if _, err := p.Run(context.Background(), op, req, time.Second); err != nil {
			t.Errorf("%s: %v", op, err)
		}
	}
}
