package model

import "time"

// MockExamResult is one mock exam sitting.
type MockExamResult struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId" validate:"required"`
	ExamDate   time.Time      `json:"examDate" validate:"required"`
	ExamType   string         `json:"examType" validate:"required"`
	TotalScore float64        `json:"totalScore" validate:"gte=0"`
	MaxScore   float64        `json:"maxScore" validate:"gt=0"`
	Percentile float64        `json:"percentile"`
	Deviation  float64        `json:"deviation"`
	TimeSpent  int            `json:"timeSpent"` // minutes
	Subjects   []SubjectScore `json:"subjects" validate:"dive"`
}

// SubjectScore is the per-subject part of a mock exam.
type SubjectScore struct {
	SubjectID string  `json:"subjectId" validate:"required"`
	Score     float64 `json:"score" validate:"gte=0"`
	MaxScore  float64 `json:"maxScore" validate:"gt=0"`
	Accuracy  float64 `json:"accuracy"`
	Deviation float64 `json:"deviation"`
}

// Ratio returns TotalScore/MaxScore, 0 when MaxScore is not positive.
func (m MockExamResult) Ratio() float64 {
	if m.MaxScore <= 0 {
		return 0
	}
	return m.TotalScore / m.MaxScore
}
