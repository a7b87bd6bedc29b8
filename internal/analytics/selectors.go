package analytics

import (
	"sort"
	"time"

	"github.com/abelbrown/studyboard/internal/aggregate"
	"github.com/abelbrown/studyboard/internal/config"
	"github.com/abelbrown/studyboard/internal/model"
)

// DefaultRecentExams is the RecentMockExams limit when none is given.
const DefaultRecentExams = 5

// SessionsBySubject returns the local sessions for one subject.
func (s *Store) SessionsBySubject(subjectID string) []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Session{}
	for _, sess := range s.st.Sessions {
		if sess.SubjectID == subjectID {
			out = append(out, sess)
		}
	}
	return out
}

// WeaknessesByPriority returns weaknesses, highest score first.
func (s *Store) WeaknessesByPriority() []model.WeaknessPattern {
	s.mu.Lock()
	out := clone(s.st.Weaknesses)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].WeaknessScore > out[j].WeaknessScore })
	return out
}

// RecentMockExams returns up to limit exams, newest first.
func (s *Store) RecentMockExams(limit int) []model.MockExamResult {
	if limit <= 0 {
		limit = DefaultRecentExams
	}
	s.mu.Lock()
	out := cloneExams(s.st.MockExams)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExamDate.After(out[j].ExamDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DailyAggregates buckets the local sessions by day.
func (s *Store) DailyAggregates() []model.DailyAggregate {
	s.mu.Lock()
	sessions := clone(s.st.Sessions)
	s.mu.Unlock()
	return aggregate.Daily(sessions, s.opts.Location)
}

// GetCachedData returns a live cache entry.
func (s *Store) GetCachedData(key string) (any, bool) {
	return s.cache.Get(key)
}

// SetCachedData stores v under key with a fresh timestamp.
func (s *Store) SetCachedData(key string, v any) {
	s.cache.Set(key, v)
}

// ClearCache drops every cache entry.
func (s *Store) ClearCache() {
	s.cache.Clear()
}

// SetCacheTimeout changes the cache TTL. Non-positive values are ignored.
func (s *Store) SetCacheTimeout(d time.Duration) {
	s.cache.SetTTL(d)
}

// CacheTimeout returns the cache TTL.
func (s *Store) CacheTimeout() time.Duration {
	return s.cache.TTL()
}

// PersistedState is what survives a restart: the filter and cache timeout.
func (s *Store) PersistedState() config.State {
	return config.NewState(s.Filter(), s.CacheTimeout())
}

// Restore applies a persisted state.
func (s *Store) Restore(st config.State) {
	s.SetCacheTimeout(st.CacheTimeout())
	s.mu.Lock()
	s.st.Filter = st.Filter.Clone()
	s.mu.Unlock()
	s.notify()
}
