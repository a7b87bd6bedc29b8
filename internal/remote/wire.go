package remote

import (
	"encoding/json"
	"fmt"

	"github.com/abelbrown/studyboard/internal/model"
)

// Endpoint paths, relative to the backend root.
const (
	PathSessions      = "/api/analytics/sessions"
	PathWeakness      = "/api/analytics/weakness"
	PathMockExams     = "/api/analytics/mock-exams"
	PathMetrics       = "/api/analytics/metrics"
	PathAnalyze       = "/api/analytics/analyze"
	PathEvents        = "/api/analytics/ws/{userId}"
	PathSessionBatch  = "/api/sessions/batch"
	PathMockExamWrite = "/api/mock-exams"
)

// Response and request bodies shared with the reference backend.
type (
	SessionsBody struct {
		Sessions []model.Session `json:"sessions"`
	}
	WeaknessesBody struct {
		Weaknesses []model.WeaknessPattern `json:"weaknesses"`
	}
	ExamsBody struct {
		Exams []model.MockExamResult `json:"exams"`
	}
	MetricsBody struct {
		Metrics model.ProgressMetrics `json:"metrics"`
	}
	AnalyzeRequest struct {
		UserID   string          `json:"userId" validate:"required"`
		Sessions []model.Session `json:"sessions"`
	}
	AnalyzeBody struct {
		Result model.ProgressReport `json:"result"`
	}
)

// ErrorBody is the backend's error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine code and a human message.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"` // field -> failed rule
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method  string
	URL     string
	Status  int
	Code    string // from the error envelope, when present
	Message string
	Body    string // raw body when it was not an error envelope
}

func newStatusError(method, url string, status int, body []byte) *StatusError {
	se := &StatusError{Method: method, URL: url, Status: status}
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && (eb.Error.Code != "" || eb.Error.Message != "") {
		se.Code = eb.Error.Code
		se.Message = eb.Error.Message
		return se
	}
	if len(body) > 512 {
		body = body[:512]
	}
	se.Body = string(body)
	return se
}

func (e *StatusError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("remote: %s %s: status %d: %s (%s)", e.Method, e.URL, e.Status, e.Message, e.Code)
	case e.Body != "":
		return fmt.Sprintf("remote: %s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
	default:
		return fmt.Sprintf("remote: %s %s: status %d", e.Method, e.URL, e.Status)
	}
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "remote: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }
