package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/abelbrown/studyboard/internal/analysis"
	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/otel"
	"github.com/abelbrown/studyboard/internal/remote"
	"github.com/abelbrown/studyboard/internal/storage"
)

const maxRequestBody = 8 << 20

// Error codes in the error envelope.
const (
	codeBadRequest = "BAD_REQUEST"
	codeValidation = "VALIDATION_ERROR"
	codeNotFound   = "NOT_FOUND"
	codeInternal   = "INTERNAL_ERROR"
)

func (s *Server) querySessions(w http.ResponseWriter, r *http.Request) {
	var f model.Filter
	if !s.decode(w, r, &f) {
		return
	}
	sessions, err := s.repo.QuerySessions(r.Context(), f)
	if err != nil {
		s.internal(w, "query sessions", err)
		return
	}
	respondJSON(w, remote.SessionsBody{Sessions: sessions}, http.StatusOK)
}

func (s *Server) weaknesses(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessions, err := s.repo.QuerySessions(r.Context(), model.Filter{UserID: userID})
	if err != nil {
		s.internal(w, "query sessions", err)
		return
	}
	respondJSON(w, remote.WeaknessesBody{Weaknesses: analysis.Weaknesses(sessions, s.opts.Scorer)}, http.StatusOK)
}

func (s *Server) mockExams(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	exams, err := s.repo.MockExams(r.Context(), userID, r.URL.Query()["examType"])
	if err != nil {
		s.internal(w, "query mock exams", err)
		return
	}
	respondJSON(w, remote.ExamsBody{Exams: exams}, http.StatusOK)
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	var f model.Filter
	if !s.decode(w, r, &f) {
		return
	}
	sessions, err := s.repo.QuerySessions(r.Context(), f)
	if err != nil {
		s.internal(w, "query sessions", err)
		return
	}
	m := analysis.Metrics(sessions, analysis.MetricsOptions{Now: s.opts.Now(), Location: s.opts.Location})
	respondJSON(w, remote.MetricsBody{Metrics: m}, http.StatusOK)
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req remote.AnalyzeRequest
	if !s.decode(w, r, &req) || !s.check(w, req) {
		return
	}

	sessions := req.Sessions
	if len(sessions) == 0 {
		var err error
		sessions, err = s.repo.QuerySessions(r.Context(), model.Filter{UserID: req.UserID})
		if err != nil {
			s.internal(w, "query sessions", err)
			return
		}
	}

	trends, err := analysis.Trends(r.Context(), sessions, 0)
	if err != nil {
		s.internal(w, "trends", err)
		return
	}
	now := s.opts.Now()
	report := model.ProgressReport{
		UserID:      req.UserID,
		GeneratedAt: now.UTC(),
		Metrics:     analysis.Metrics(sessions, analysis.MetricsOptions{Now: now, Location: s.opts.Location}),
		Weaknesses:  analysis.Weaknesses(sessions, s.opts.Scorer),
		Trends:      trends.Subjects,
	}
	respondJSON(w, remote.AnalyzeBody{Result: report}, http.StatusOK)
}

func (s *Server) saveSessions(w http.ResponseWriter, r *http.Request) {
	var body remote.SessionsBody
	if !s.decode(w, r, &body) {
		return
	}
	for i := range body.Sessions {
		if !s.check(w, body.Sessions[i]) {
			return
		}
	}

	saved, err := s.repo.SaveSessions(r.Context(), body.Sessions)
	if err != nil {
		s.internal(w, "save sessions", err)
		return
	}

	now := s.opts.Now().UTC()
	for _, userID := range distinctUsers(saved) {
		s.hub.Publish(model.Event{Type: model.EventSessionEnd, UserID: userID, Timestamp: now})
	}
	respondJSON(w, remote.SessionsBody{Sessions: saved}, http.StatusCreated)
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	var patch model.SessionPatch
	if !s.decode(w, r, &patch) {
		return
	}
	updated, err := s.repo.UpdateSession(r.Context(), chi.URLParam(r, "id"), patch)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, codeNotFound, "session not found", nil)
		return
	}
	if err != nil {
		s.internal(w, "update session", err)
		return
	}
	if !s.check(w, updated) {
		return
	}
	respondJSON(w, updated, http.StatusOK)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.repo.DeleteSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, codeNotFound, "session not found", nil)
		return
	}
	if err != nil {
		s.internal(w, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) saveMockExam(w http.ResponseWriter, r *http.Request) {
	var exam model.MockExamResult
	if !s.decode(w, r, &exam) || !s.check(w, exam) {
		return
	}
	saved, err := s.repo.SaveMockExam(r.Context(), exam)
	if err != nil {
		s.internal(w, "save mock exam", err)
		return
	}
	s.hub.Publish(model.Event{Type: model.EventExamCompleted, UserID: saved.UserID, Timestamp: s.opts.Now().UTC()})
	respondJSON(w, saved, http.StatusCreated)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, codeBadRequest, "userId is required", nil)
		return
	}
	s.hub.serve(w, r, userID)
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}

// check runs struct validation, writing a 400 with per-field rules.
func (s *Server) check(w http.ResponseWriter, v any) bool {
	err := s.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		respondError(w, http.StatusBadRequest, codeValidation, err.Error(), nil)
		return false
	}
	fields := make(map[string]string, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Field()] = rule
		names = append(names, fe.Field())
	}
	sort.Strings(names)
	respondError(w, http.StatusBadRequest, codeValidation, "invalid fields: "+strings.Join(names, ", "), fields)
	return false
}

func (s *Server) internal(w http.ResponseWriter, op string, err error) {
	logging.Error("server: "+op, "err", err)
	s.opts.Trace.Error(otel.KindStoreError, "server", fmt.Errorf("%s: %w", op, err))
	respondError(w, http.StatusInternalServerError, codeInternal, op+" failed", nil)
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, codeBadRequest, "userId is required", nil)
		return "", false
	}
	return userID, true
}

func distinctUsers(sessions []model.Session) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range sessions {
		if !seen[s.UserID] {
			seen[s.UserID] = true
			out = append(out, s.UserID)
		}
	}
	return out
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Warn("server: encode response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, fields map[string]string) {
	respondJSON(w, remote.ErrorBody{Error: remote.ErrorDetail{Code: code, Message: message, Fields: fields}}, status)
}
