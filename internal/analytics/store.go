// Package analytics is the client-side state container: the active filter,
// the fetched sessions, weaknesses, mock exams and metrics, and the loading
// and error flags a view renders from.
//
// # Ordering
//
// Every slice carries a generation counter. A fetch records the generation
// when it starts and its result is applied only if no later fetch of the
// same slice has started since (last-started-wins). Loading is a count of
// fetches in flight.
//
// # Errors
//
// Fetch and analysis failures never propagate to the caller. They are
// converted to a model.AnalyticsError and kept in a single slot until
// ClearError, a later failure, or the start of FetchSessions replaces it.
// Refresh begins with a sessions fetch, so it clears the slot the same way.
// A failure from a fetch superseded by a later one of the same slice, or by
// Reset, is dropped.
//
// # Live updates
//
// Push events are invalidation hints. A session_end re-fetches sessions and
// metrics, an exam_completed drops the exam cache and re-fetches exams. The
// event payload itself is never applied to state.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/abelbrown/studyboard/internal/analysis"
	"github.com/abelbrown/studyboard/internal/batch"
	"github.com/abelbrown/studyboard/internal/cache"
	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/offload"
	"github.com/abelbrown/studyboard/internal/otel"
	"github.com/abelbrown/studyboard/internal/score"
)

// Backend is the remote data-query and analysis endpoint.
// *remote.Client implements it.
type Backend interface {
	Sessions(ctx context.Context, f model.Filter) ([]model.Session, error)
	Weaknesses(ctx context.Context, userID string) ([]model.WeaknessPattern, error)
	MockExams(ctx context.Context, userID string) ([]model.MockExamResult, error)
	Metrics(ctx context.Context, f model.Filter) (model.ProgressMetrics, error)
	Analyze(ctx context.Context, userID string, sessions []model.Session) (model.ProgressReport, error)
	SaveSessions(ctx context.Context, sessions []model.Session) ([]model.Session, error)
}

// Deps are the collaborators a Store drives.
type Deps struct {
	Backend Backend
	// Pool runs weakness analysis off the caller's goroutine. Nil creates
	// a private pool that Close shuts down.
	Pool *offload.Pool
	// Dial opens the push channel. Nil disables ConnectRealtime.
	Dial  Dialer
	Trace *otel.Logger
}

// Options tunes a Store. Zero values take the defaults.
type Options struct {
	Filter          model.Filter // initial filter, default model.DefaultFilter(now)
	CacheTTL        time.Duration
	CacheMaxEntries int
	BatchSize       int
	Debounce        time.Duration
	OffloadTimeout  time.Duration
	MaxWorkers      int // private pool only
	Weights         score.Weights
	Advanced        bool
	Location        *time.Location
	Now             func() time.Time
}

// State is a point-in-time copy of the store.
type State struct {
	Filter      model.Filter            `json:"filter"`
	Sessions    []model.Session         `json:"sessions"`
	Weaknesses  []model.WeaknessPattern `json:"weaknesses"`
	MockExams   []model.MockExamResult  `json:"mockExams"`
	Metrics     *model.ProgressMetrics  `json:"metrics,omitempty"`
	Report      *model.ProgressReport   `json:"report,omitempty"`
	Loading     bool                    `json:"isLoading"`
	Analyzing   bool                    `json:"isAnalyzing"`
	Err         *model.AnalyticsError   `json:"error,omitempty"`
	LastUpdated time.Time               `json:"lastUpdated"`
	Realtime    bool                    `json:"isRealtimeEnabled"`
}

// part names a slice of state with its own generation counter.
type part int

const (
	partSessions part = iota
	partWeaknesses
	partExams
	partMetrics
	partReport
	numParts
)

var partNames = [numParts]string{"sessions", "weaknesses", "mockExams", "metrics", "report"}

func (p part) String() string { return partNames[p] }

// Cache scopes passed to Filter.CacheKey.
const (
	ScopeWeaknesses = "weaknesses"
	ScopeMockExams  = "mockExams"
)

// Store is safe for concurrent use.
type Store struct {
	deps     Deps
	opts     Options
	ownsPool bool
	trace    *otel.Logger

	cache *cache.Cache[any]
	queue *batch.Queue[model.Session, model.Session]

	ctx    context.Context // cancelled by Close
	cancel context.CancelFunc

	mu        sync.Mutex
	st        State
	gen       [numParts]uint64
	loading   int
	analyzing int
	rt        *connection

	subsMu sync.Mutex
	subs   []chan struct{}
}

// New builds a store. The backend is required.
func New(deps Deps, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Weights.Validate() != nil {
		opts.Weights = score.DefaultWeights
	}
	if opts.Filter.DateRange.Preset == "" && opts.Filter.DateRange.End.IsZero() {
		user := opts.Filter.UserID
		opts.Filter = model.DefaultFilter(opts.Now())
		opts.Filter.UserID = user
	}

	s := &Store{
		deps:  deps,
		opts:  opts,
		trace: deps.Trace,
		cache: cache.New[any](cache.Options{
			TTL:        opts.CacheTTL,
			MaxEntries: opts.CacheMaxEntries,
			Now:        opts.Now,
		}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.st = s.initialState()

	s.cache.OnAccess(
		func(key string) { s.traceCache(otel.KindCacheHit, key) },
		func(key string) { s.traceCache(otel.KindCacheMiss, key) },
	)

	if s.deps.Pool == nil {
		s.deps.Pool = offload.NewPool(offload.Options{
			MaxWorkers: opts.MaxWorkers,
			Timeout:    opts.OffloadTimeout,
			Trace:      deps.Trace,
		})
		s.ownsPool = true
	}
	analysis.Register(s.deps.Pool)

	s.queue = batch.New(s.saveBatch, batch.Options{
		BatchSize: opts.BatchSize,
		Debounce:  opts.Debounce,
		OnFlush: func(size int, took time.Duration, err error) {
			ev := otel.Event{Level: otel.LevelInfo, Kind: otel.KindBatchFlush, Comp: "store", Count: size, Dur: took}
			if err != nil {
				ev.Level, ev.Err = otel.LevelError, err.Error()
			}
			s.trace.Emit(ev)
		},
	})
	return s
}

func (s *Store) initialState() State {
	return State{
		Filter:     s.opts.Filter.Clone(),
		Sessions:   []model.Session{},
		Weaknesses: []model.WeaknessPattern{},
		MockExams:  []model.MockExamResult{},
	}
}

// traceCache emits per-key cache events only in verbose mode.
func (s *Store) traceCache(kind otel.EventKind, key string) {
	if !otel.Verbose() {
		return
	}
	s.trace.Emit(otel.Event{Level: otel.LevelDebug, Kind: kind, Comp: "store", Scope: key})
}

// Pool returns the offload pool weakness analysis runs on.
func (s *Store) Pool() *offload.Pool { return s.deps.Pool }

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	st := s.st
	st.Filter = st.Filter.Clone()
	st.Sessions = clone(st.Sessions)
	st.Weaknesses = clone(st.Weaknesses)
	st.MockExams = cloneExams(st.MockExams)
	if st.Metrics != nil {
		m := *st.Metrics
		st.Metrics = &m
	}
	if st.Report != nil {
		st.Report = cloneReport(*st.Report)
	}
	if st.Err != nil {
		e := *st.Err
		st.Err = &e
	}
	st.Loading = s.loading > 0
	st.Analyzing = s.analyzing > 0
	st.Realtime = s.rt != nil
	return st
}

// Subscribe returns a channel that receives a signal after state changes.
// Signals coalesce: a slow reader sees one pending signal, not a backlog.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

// Unsubscribe stops signals on ch.
func (s *Store) Unsubscribe(ch <-chan struct{}) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, c := range s.subs {
		if c == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Store) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// SetError replaces the error slot. Nil clears it.
func (s *Store) SetError(err *model.AnalyticsError) {
	s.mu.Lock()
	if err != nil {
		e := *err
		err = &e
	}
	s.st.Err = err
	s.mu.Unlock()
	s.notify()
}

// ClearError empties the error slot.
func (s *Store) ClearError() { s.SetError(nil) }

// Err returns the current error, or nil.
func (s *Store) Err() *model.AnalyticsError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Err == nil {
		return nil
	}
	e := *s.st.Err
	return &e
}

func (s *Store) newError(name, code string, err error) *model.AnalyticsError {
	return &model.AnalyticsError{
		Name:      name,
		Message:   err.Error(),
		Code:      code,
		Timestamp: s.opts.Now(),
	}
}

func (s *Store) fail(name, code string, err error) {
	ae := s.newError(name, code, err)
	logging.Warn("store: "+code, "err", err)
	s.mu.Lock()
	s.st.Err = ae
	s.mu.Unlock()
}

// Reset disconnects the push channel, terminates offload workers, drops
// queued writes and the cache, and returns state to its initial values.
// Fetches still in flight are discarded when they land.
func (s *Store) Reset() {
	s.DisconnectRealtime()
	s.deps.Pool.TerminateAll()
	s.queue.Clear()
	s.cache.Clear()

	s.mu.Lock()
	for i := range s.gen {
		s.gen[i]++
	}
	s.st = s.initialState()
	s.mu.Unlock()

	s.trace.Info(otel.KindCacheClear, "store", "reset")
	s.notify()
}

// Close releases the push channel, the batch queue and a private pool.
func (s *Store) Close() {
	s.DisconnectRealtime()
	s.cancel()
	s.queue.Close()
	if s.ownsPool {
		s.deps.Pool.Close()
	}
}

func cloneExams(in []model.MockExamResult) []model.MockExamResult {
	out := make([]model.MockExamResult, len(in))
	for i, e := range in {
		e.Subjects = clone(e.Subjects)
		out[i] = e
	}
	return out
}

func cloneReport(r model.ProgressReport) *model.ProgressReport {
	r.Weaknesses = clone(r.Weaknesses)
	r.Trends = clone(r.Trends)
	return &r
}

func clone[T any](in []T) []T {
	return append(make([]T, 0, len(in)), in...)
}
