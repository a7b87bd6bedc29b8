package analysis

import (
	"math"
	"time"

	"github.com/abelbrown/studyboard/internal/aggregate"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/stats"
)

// DefaultWeeklyTargetMinutes is the study-time goal behind TargetAchievement.
const DefaultWeeklyTargetMinutes = 600

// MetricsOptions parameterizes Metrics.
type MetricsOptions struct {
	Now                 time.Time
	Location            *time.Location
	WeeklyTargetMinutes float64
}

// Metrics summarizes sessions into progress metrics.
//   - the streak counts consecutive study days ending today, or yesterday
//     when nothing was studied yet today
//   - the weekly average divides total minutes over the covered weeks
//   - monthly growth compares the last 30 days with the 30 before
func Metrics(sessions []model.Session, opts MetricsOptions) model.ProgressMetrics {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.WeeklyTargetMinutes <= 0 {
		opts.WeeklyTargetMinutes = DefaultWeeklyTargetMinutes
	}

	var m model.ProgressMetrics
	if len(sessions) == 0 {
		return m
	}

	var correct int
	var recent, previous float64
	first := sessions[0].StartTime
	monthAgo := opts.Now.AddDate(0, 0, -30)
	twoMonthsAgo := opts.Now.AddDate(0, 0, -60)

	for _, s := range sessions {
		minutes := float64(s.Duration) / 60
		m.TotalStudyTime += minutes
		m.TotalQuestions += s.QuestionsAnswered
		correct += s.CorrectAnswers
		if s.StartTime.Before(first) {
			first = s.StartTime
		}
		switch {
		case !s.StartTime.Before(monthAgo):
			recent += minutes
		case !s.StartTime.Before(twoMonthsAgo):
			previous += minutes
		}
	}

	if m.TotalQuestions > 0 {
		m.OverallAccuracy = float64(correct) / float64(m.TotalQuestions) * 100
	}

	weeks := math.Max(1, opts.Now.Sub(first).Hours()/24/7)
	m.WeeklyAverage = m.TotalStudyTime / weeks
	m.MonthlyGrowth = stats.GrowthRate(previous, recent)
	m.TargetAchievement = math.Min(100, m.WeeklyAverage/opts.WeeklyTargetMinutes*100)
	m.StudyStreak = Streak(sessions, opts.Now, opts.Location)
	return m
}

// Streak counts consecutive local days with at least one session, ending
// today or yesterday.
func Streak(sessions []model.Session, now time.Time, loc *time.Location) int {
	days := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		days[aggregate.DateKey(s.StartTime, loc)] = true
	}

	day := now.In(loc)
	if !days[day.Format(aggregate.DateLayout)] {
		day = day.AddDate(0, 0, -1)
	}
	streak := 0
	for days[day.Format(aggregate.DateLayout)] {
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}
