// Package storage is the SQLite repository behind the reference backend.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/abelbrown/studyboard/internal/model"
)

// ErrNotFound is returned when an id matches no row.
var ErrNotFound = errors.New("storage: not found")

// Store handles SQLite persistence. Safe for concurrent use.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// Open creates a Store at dbPath, creating tables if they don't exist.
// ":memory:" opens a private in-memory database on a single connection.
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		connStr = dbPath + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:     time.Now,
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		topic_id TEXT NOT NULL DEFAULT '',
		start_ns INTEGER NOT NULL,
		end_ns INTEGER NOT NULL DEFAULT 0,
		duration INTEGER NOT NULL DEFAULT 0,
		paused_duration INTEGER NOT NULL DEFAULT 0,
		questions INTEGER NOT NULL DEFAULT 0,
		correct INTEGER NOT NULL DEFAULT 0,
		focus_score REAL NOT NULL DEFAULT 0,
		created_ns INTEGER NOT NULL,
		updated_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user_start ON sessions(user_id, start_ns);
	CREATE INDEX IF NOT EXISTS idx_sessions_subject ON sessions(subject_id);

	CREATE TABLE IF NOT EXISTS mock_exams (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		exam_date_ns INTEGER NOT NULL,
		exam_type TEXT NOT NULL,
		total_score REAL NOT NULL,
		max_score REAL NOT NULL,
		percentile REAL NOT NULL DEFAULT 0,
		deviation REAL NOT NULL DEFAULT 0,
		time_spent INTEGER NOT NULL DEFAULT 0,
		subjects TEXT NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_mock_exams_user_date ON mock_exams(user_id, exam_date_ns DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// newID must be called with s.mu held for writing.
func (s *Store) newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

const sessionColumns = `id, user_id, subject_id, topic_id, start_ns, end_ns, duration,
	paused_duration, questions, correct, focus_score, created_ns, updated_ns`

// SaveSessions inserts sessions in one transaction and returns the stored
// records in input order. Empty IDs get a ULID, UpdatedAt is set to now and
// a zero CreatedAt too. An existing ID is overwritten.
func (s *Store) SaveSessions(ctx context.Context, sessions []model.Session) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			subject_id = excluded.subject_id,
			topic_id = excluded.topic_id,
			start_ns = excluded.start_ns,
			end_ns = excluded.end_ns,
			duration = excluded.duration,
			paused_duration = excluded.paused_duration,
			questions = excluded.questions,
			correct = excluded.correct,
			focus_score = excluded.focus_score,
			updated_ns = excluded.updated_ns
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	out := make([]model.Session, len(sessions))
	for i, sess := range sessions {
		if sess.ID == "" {
			sess.ID = s.newID(now)
		}
		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = now
		}
		sess.UpdatedAt = now
		if _, err := stmt.ExecContext(ctx, sessionArgs(sess)...); err != nil {
			return nil, fmt.Errorf("insert session %d: %w", i, err)
		}
		out[i] = normalizeTimes(sess)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// Session loads one session by id.
func (s *Store) Session(ctx context.Context, id string) (model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) session(ctx context.Context, q querier, id string) (model.Session, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// UpdateSession applies a late correction and returns the updated record.
func (s *Store) UpdateSession(ctx context.Context, id string, patch model.SessionPatch) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Session{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := s.session(ctx, tx, id)
	if err != nil {
		return model.Session{}, err
	}
	next := patch.Apply(cur)
	next.UpdatedAt = s.now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET subject_id = ?, topic_id = ?, start_ns = ?, end_ns = ?,
			duration = ?, paused_duration = ?, questions = ?, correct = ?,
			focus_score = ?, updated_ns = ?
		WHERE id = ?`,
		next.SubjectID, next.TopicID, toNanos(next.StartTime), toNanos(next.EndTime),
		next.Duration, next.PausedDuration, next.QuestionsAnswered, next.CorrectAnswers,
		next.FocusScore, toNanos(next.UpdatedAt), id)
	if err != nil {
		return model.Session{}, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Session{}, fmt.Errorf("commit: %w", err)
	}
	return normalizeTimes(next), nil
}

// DeleteSession removes a session. Deleting a missing id returns ErrNotFound.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// QuerySessions returns sessions in the filter scope ordered by start time.
func (s *Store) QuerySessions(ctx context.Context, f model.Filter) ([]model.Session, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.DateRange.Start.IsZero() {
		where = append(where, "start_ns >= ?")
		args = append(args, toNanos(f.DateRange.Start))
	}
	if !f.DateRange.End.IsZero() {
		where = append(where, "start_ns <= ?")
		args = append(args, toNanos(f.DateRange.End))
	}
	if len(f.Subjects) > 0 {
		where = append(where, "subject_id IN ("+placeholders(len(f.Subjects))+")")
		for _, v := range f.Subjects {
			args = append(args, v)
		}
	}
	if len(f.Topics) > 0 {
		where = append(where, "topic_id IN ("+placeholders(len(f.Topics))+")")
		for _, v := range f.Topics {
			args = append(args, v)
		}
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_ns ASC, id ASC"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []model.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// SaveMockExam stores an exam result, assigning an ID when empty.
func (s *Store) SaveMockExam(ctx context.Context, exam model.MockExamResult) (model.MockExamResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exam.ID == "" {
		exam.ID = s.newID(s.now())
	}
	if exam.Subjects == nil {
		exam.Subjects = []model.SubjectScore{}
	}
	subjects, err := json.Marshal(exam.Subjects)
	if err != nil {
		return model.MockExamResult{}, fmt.Errorf("marshal subjects: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mock_exams (id, user_id, exam_date_ns, exam_type, total_score, max_score,
			percentile, deviation, time_spent, subjects)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exam_date_ns = excluded.exam_date_ns,
			exam_type = excluded.exam_type,
			total_score = excluded.total_score,
			max_score = excluded.max_score,
			percentile = excluded.percentile,
			deviation = excluded.deviation,
			time_spent = excluded.time_spent,
			subjects = excluded.subjects`,
		exam.ID, exam.UserID, toNanos(exam.ExamDate), exam.ExamType, exam.TotalScore, exam.MaxScore,
		exam.Percentile, exam.Deviation, exam.TimeSpent, string(subjects))
	if err != nil {
		return model.MockExamResult{}, fmt.Errorf("insert mock exam: %w", err)
	}
	exam.ExamDate = fromNanos(toNanos(exam.ExamDate))
	return exam, nil
}

// MockExams returns userID's exams, newest first. A non-empty examTypes
// restricts the result to those types.
func (s *Store) MockExams(ctx context.Context, userID string, examTypes []string) ([]model.MockExamResult, error) {
	query := `SELECT id, user_id, exam_date_ns, exam_type, total_score, max_score,
		percentile, deviation, time_spent, subjects FROM mock_exams WHERE user_id = ?`
	args := []any{userID}
	if len(examTypes) > 0 {
		query += " AND exam_type IN (" + placeholders(len(examTypes)) + ")"
		for _, v := range examTypes {
			args = append(args, v)
		}
	}
	query += " ORDER BY exam_date_ns DESC, id DESC"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mock exams: %w", err)
	}
	defer rows.Close()

	out := []model.MockExamResult{}
	for rows.Next() {
		var e model.MockExamResult
		var date int64
		var subjects string
		if err := rows.Scan(&e.ID, &e.UserID, &date, &e.ExamType, &e.TotalScore, &e.MaxScore,
			&e.Percentile, &e.Deviation, &e.TimeSpent, &subjects); err != nil {
			return nil, fmt.Errorf("scan mock exam: %w", err)
		}
		e.ExamDate = fromNanos(date)
		if err := json.Unmarshal([]byte(subjects), &e.Subjects); err != nil {
			return nil, fmt.Errorf("decode subjects of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (model.Session, error) {
	var sess model.Session
	var start, end, created, updated int64
	err := r.Scan(&sess.ID, &sess.UserID, &sess.SubjectID, &sess.TopicID, &start, &end,
		&sess.Duration, &sess.PausedDuration, &sess.QuestionsAnswered, &sess.CorrectAnswers,
		&sess.FocusScore, &created, &updated)
	if err != nil {
		return model.Session{}, err
	}
	sess.StartTime = fromNanos(start)
	sess.EndTime = fromNanos(end)
	sess.CreatedAt = fromNanos(created)
	sess.UpdatedAt = fromNanos(updated)
	return sess, nil
}

func sessionArgs(s model.Session) []any {
	return []any{
		s.ID, s.UserID, s.SubjectID, s.TopicID, toNanos(s.StartTime), toNanos(s.EndTime),
		s.Duration, s.PausedDuration, s.QuestionsAnswered, s.CorrectAnswers, s.FocusScore,
		toNanos(s.CreatedAt), toNanos(s.UpdatedAt),
	}
}

// normalizeTimes makes a written record look like one read back.
func normalizeTimes(s model.Session) model.Session {
	s.StartTime = fromNanos(toNanos(s.StartTime))
	s.EndTime = fromNanos(toNanos(s.EndTime))
	s.CreatedAt = fromNanos(toNanos(s.CreatedAt))
	s.UpdatedAt = fromNanos(toNanos(s.UpdatedAt))
	return s
}

// Zero times are stored as 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
