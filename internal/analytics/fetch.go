package analytics

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/studyboard/internal/logging"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/otel"
)

// begin claims a new generation for p and counts the fetch as loading.
func (s *Store) begin(p part) uint64 {
	s.mu.Lock()
	s.gen[p]++
	g := s.gen[p]
	s.loading++
	s.mu.Unlock()
	s.notify()
	return g
}

func (s *Store) end() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()
	s.notify()
}

// commit applies fn if gen is still the latest generation of p.
func (s *Store) commit(p part, gen uint64, fn func(st *State)) bool {
	s.mu.Lock()
	current := s.gen[p] == gen
	if current {
		fn(&s.st)
	}
	s.mu.Unlock()
	if !current {
		s.trace.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindFetchStale, Comp: "store", Scope: p.String()})
		logging.Debug("store: discarding superseded result", "part", p)
	}
	return current
}

// failCurrent records err in the error slot if gen is still the latest
// generation of p. A superseded failure is traced and dropped.
func (s *Store) failCurrent(p part, gen uint64, name, code string, err error) {
	ae := s.newError(name, code, err)
	s.mu.Lock()
	current := s.gen[p] == gen
	if current {
		s.st.Err = ae
	}
	s.mu.Unlock()
	if !current {
		s.trace.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindFetchStale, Comp: "store", Scope: p.String(), Err: err.Error()})
		logging.Debug("store: discarding superseded failure", "part", p, "err", err)
		return
	}
	logging.Warn("store: "+code, "err", err)
}

// run performs one fetch of p: loading is counted, the result goes through
// commit, and a failure lands in the error slot unless ctx itself ended or
// a later fetch of p has started.
func run[T any](ctx context.Context, s *Store, p part, code string, call func(context.Context) (T, error), apply func(st *State, v T)) bool {
	gen := s.begin(p)
	defer s.end()

	start := time.Now()
	s.trace.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindFetchStart, Comp: "store", Scope: p.String()})
	v, err := call(ctx)
	s.trace.Done(otel.KindFetchComplete, otel.KindFetchError, "store", p.String(), start, err)

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return false
		}
		s.failCurrent(p, gen, model.ErrNameFetch, code, err)
		return false
	}
	return s.commit(p, gen, func(st *State) { apply(st, v) })
}

// FetchSessions clears the error slot and loads the sessions for the current
// filter with patch merged over it. The patch scopes this request only; use
// SetFilter to change the stored filter.
func (s *Store) FetchSessions(ctx context.Context, patch *model.FilterPatch) {
	s.mu.Lock()
	s.st.Err = nil
	s.mu.Unlock()
	s.fetchSessions(ctx, patch)
}

func (s *Store) fetchSessions(ctx context.Context, patch *model.FilterPatch) {
	f := s.Filter()
	if patch != nil {
		f = patch.Apply(f)
	}
	run(ctx, s, partSessions, model.CodeFetchSessions,
		func(ctx context.Context) ([]model.Session, error) { return s.deps.Backend.Sessions(ctx, f) },
		func(st *State, v []model.Session) {
			st.Sessions = clone(v)
			st.LastUpdated = s.opts.Now()
		})
	s.notify()
}

// FetchWeaknesses loads weaknesses for the current user, reading through
// the cache.
func (s *Store) FetchWeaknesses(ctx context.Context) {
	f := s.Filter()
	key := f.CacheKey(ScopeWeaknesses)
	if v, ok := s.cache.Get(key); ok {
		if cached, ok := v.([]model.WeaknessPattern); ok {
			s.apply(partWeaknesses, func(st *State) { st.Weaknesses = clone(cached) })
			return
		}
	}
	run(ctx, s, partWeaknesses, model.CodeFetchWeaknesses,
		func(ctx context.Context) ([]model.WeaknessPattern, error) {
			return s.deps.Backend.Weaknesses(ctx, f.UserID)
		},
		func(st *State, v []model.WeaknessPattern) {
			st.Weaknesses = clone(v)
			s.cache.Set(key, clone(v))
		})
	s.notify()
}

// FetchMockExams loads mock exams for the current user, reading through the
// cache.
func (s *Store) FetchMockExams(ctx context.Context) {
	f := s.Filter()
	key := f.CacheKey(ScopeMockExams)
	if v, ok := s.cache.Get(key); ok {
		if cached, ok := v.([]model.MockExamResult); ok {
			s.apply(partExams, func(st *State) { st.MockExams = cloneExams(cached) })
			return
		}
	}
	run(ctx, s, partExams, model.CodeFetchExams,
		func(ctx context.Context) ([]model.MockExamResult, error) {
			return s.deps.Backend.MockExams(ctx, f.UserID)
		},
		func(st *State, v []model.MockExamResult) {
			st.MockExams = cloneExams(v)
			s.cache.Set(key, cloneExams(v))
		})
	s.notify()
}

// FetchMetrics loads progress metrics for the current filter.
func (s *Store) FetchMetrics(ctx context.Context) {
	f := s.Filter()
	run(ctx, s, partMetrics, model.CodeFetchMetrics,
		func(ctx context.Context) (model.ProgressMetrics, error) { return s.deps.Backend.Metrics(ctx, f) },
		func(st *State, v model.ProgressMetrics) { st.Metrics = &v })
	s.notify()
}

// Refresh clears the error slot and runs all four fetches concurrently.
func (s *Store) Refresh(ctx context.Context) {
	s.ClearError()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { s.fetchSessions(ctx, nil); return nil })
	g.Go(func() error { s.FetchWeaknesses(ctx); return nil })
	g.Go(func() error { s.FetchMockExams(ctx); return nil })
	g.Go(func() error { s.FetchMetrics(ctx); return nil })
	_ = g.Wait()
}

// apply sets state synchronously, superseding any fetch of p in flight.
func (s *Store) apply(p part, fn func(st *State)) {
	s.mu.Lock()
	s.gen[p]++
	fn(&s.st)
	s.mu.Unlock()
	s.notify()
}
