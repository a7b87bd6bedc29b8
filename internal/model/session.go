// Package model defines the study analytics data types shared by the store,
// the offload operations and the reference backend.
//
// Sessions are the only source records. Everything else here (daily and
// weekly aggregates, weakness patterns, progress metrics) is derived from
// them and never persisted on its own by the client.
package model

import "time"

// Session is one unit of study activity, created when a study session ends.
// Sessions are immutable except for late corrections applied by ID.
type Session struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId" validate:"required"`
	SubjectID         string    `json:"subjectId" validate:"required"`
	TopicID           string    `json:"topicId,omitempty"`
	StartTime         time.Time `json:"startTime" validate:"required"`
	EndTime           time.Time `json:"endTime"`
	Duration          int64     `json:"duration" validate:"gte=0"`       // seconds
	PausedDuration    int64     `json:"pausedDuration" validate:"gte=0"` // seconds
	QuestionsAnswered int       `json:"questionsAnswered" validate:"gte=0"`
	CorrectAnswers    int       `json:"correctAnswers" validate:"gte=0,ltefield=QuestionsAnswered"`
	FocusScore        float64   `json:"focusScore" validate:"gte=0,lte=100"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Accuracy returns correct/attempted in [0,1], or 0 with no attempts.
func (s Session) Accuracy() float64 {
	if s.QuestionsAnswered <= 0 {
		return 0
	}
	return float64(s.CorrectAnswers) / float64(s.QuestionsAnswered)
}

// FocusTime returns the seconds actually spent studying (duration minus pauses).
func (s Session) FocusTime() int64 {
	if s.PausedDuration >= s.Duration {
		return 0
	}
	return s.Duration - s.PausedDuration
}

// SessionPatch is a late correction. Nil fields are left untouched.
type SessionPatch struct {
	SubjectID         *string    `json:"subjectId,omitempty"`
	TopicID           *string    `json:"topicId,omitempty"`
	StartTime         *time.Time `json:"startTime,omitempty"`
	EndTime           *time.Time `json:"endTime,omitempty"`
	Duration          *int64     `json:"duration,omitempty"`
	PausedDuration    *int64     `json:"pausedDuration,omitempty"`
	QuestionsAnswered *int       `json:"questionsAnswered,omitempty"`
	CorrectAnswers    *int       `json:"correctAnswers,omitempty"`
	FocusScore        *float64   `json:"focusScore,omitempty"`
}

// Apply returns a copy of s with the patch fields applied.
func (p SessionPatch) Apply(s Session) Session {
	if p.SubjectID != nil {
		s.SubjectID = *p.SubjectID
	}
	if p.TopicID != nil {
		s.TopicID = *p.TopicID
	}
	if p.StartTime != nil {
		s.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		s.EndTime = *p.EndTime
	}
	if p.Duration != nil {
		s.Duration = *p.Duration
	}
	if p.PausedDuration != nil {
		s.PausedDuration = *p.PausedDuration
	}
	if p.QuestionsAnswered != nil {
		s.QuestionsAnswered = *p.QuestionsAnswered
	}
	if p.CorrectAnswers != nil {
		s.CorrectAnswers = *p.CorrectAnswers
	}
	if p.FocusScore != nil {
		s.FocusScore = *p.FocusScore
	}
	return s
}

// DailyAggregate is the per-calendar-day rollup of sessions.
type DailyAggregate struct {
	Date           string `json:"date"` // YYYY-MM-DD
	TotalDuration  int64  `json:"totalDuration"`
	Sessions       int    `json:"sessions"`
	UniqueSubjects int    `json:"uniqueSubjects"`
}

// SubjectTotal is the per-subject share of a bucket.
type SubjectTotal struct {
	SubjectID     string  `json:"subjectId"`
	TotalDuration int64   `json:"totalDuration"`
	Sessions      int     `json:"sessions"`
	Questions     int     `json:"questions"`
	Correct       int     `json:"correct"`
	Accuracy      float64 `json:"accuracy"`
}

// WeeklyAggregate is an ISO-week rollup with a per-subject breakdown.
type WeeklyAggregate struct {
	Week          string         `json:"week"` // e.g. 2024-W01
	TotalDuration int64          `json:"totalDuration"`
	Sessions      int            `json:"sessions"`
	AvgDuration   float64        `json:"avgDuration"`
	Accuracy      float64        `json:"accuracy"`
	Subjects      []SubjectTotal `json:"subjects"`
}

// Trend labels used by weakness patterns and regressions.
const (
	TrendImproving        = "improving"
	TrendImprovingFast    = "improving_fast"
	TrendDeclining        = "declining"
	TrendDecliningFast    = "declining_fast"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// WeaknessPattern describes how weak a user is on a subject/topic.
type WeaknessPattern struct {
	SubjectID       string    `json:"subjectId"`
	TopicID         string    `json:"topicId,omitempty"`
	ErrorCount      int       `json:"errorCount"`
	TotalQuestions  int       `json:"totalQuestions"`
	ErrorRate       float64   `json:"errorRate"` // 0-100
	Accuracy        float64   `json:"accuracy"`  // 0-1
	ImprovementRate float64   `json:"improvementRate"`
	LastPracticed   time.Time `json:"lastPracticed"`
	WeaknessScore   float64   `json:"weaknessScore"` // 0-100
	Trend           string    `json:"trend"`
}

// ProgressMetrics summarises progress over the active filter window.
type ProgressMetrics struct {
	TotalStudyTime    float64 `json:"totalStudyTime"` // minutes
	TotalQuestions    int     `json:"totalQuestions"`
	OverallAccuracy   float64 `json:"overallAccuracy"` // 0-100
	StudyStreak       int     `json:"studyStreak"`     // consecutive days
	WeeklyAverage     float64 `json:"weeklyAverage"`   // minutes
	MonthlyGrowth     float64 `json:"monthlyGrowth"`   // percent
	TargetAchievement float64 `json:"targetAchievement"`
}

// SubjectTrend is the regression summary for one subject.
type SubjectTrend struct {
	SubjectID   string  `json:"subjectId"`
	Trend       string  `json:"trend"`
	Slope       float64 `json:"slope"` // accuracy points per day
	Intercept   float64 `json:"intercept"`
	R2          float64 `json:"r2"`
	AvgScore    float64 `json:"avgScore"`
	LastScore   float64 `json:"lastScore"`
	Improvement float64 `json:"improvement"` // percent, first to last
	DataPoints  int     `json:"dataPoints"`
}

// ProgressReport is returned by the remote analysis endpoint.
type ProgressReport struct {
	UserID      string            `json:"userId"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Metrics     ProgressMetrics   `json:"metrics"`
	Weaknesses  []WeaknessPattern `json:"weaknesses"`
	Trends      []SubjectTrend    `json:"trends"`
}
