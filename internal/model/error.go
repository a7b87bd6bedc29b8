package model

import "time"

// Error names.
const (
	ErrNameFetch    = "FetchError"
	ErrNameAnalysis = "AnalysisError"
	ErrNameRealtime = "RealtimeError"
)

// Error codes stored in the store's error slot.
const (
	CodeFetchSessions     = "FETCH_SESSIONS_ERROR"
	CodeFetchWeaknesses   = "FETCH_WEAKNESSES_ERROR"
	CodeFetchExams        = "FETCH_EXAMS_ERROR"
	CodeFetchMetrics      = "FETCH_METRICS_ERROR"
	CodeAnalyzeProgress   = "ANALYZE_PROGRESS_ERROR"
	CodeAnalyzeWeaknesses = "ANALYZE_WEAKNESSES_ERROR"
	CodeRealtime          = "REALTIME_ERROR"
)

// AnalyticsError is the structured error kept in the store's shared slot.
// It is a value for display, not something callers unwrap.
type AnalyticsError struct {
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *AnalyticsError) Error() string {
	return e.Name + " [" + e.Code + "]: " + e.Message
}
