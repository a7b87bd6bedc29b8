package analytics

import (
	"context"
	"fmt"

	"github.com/abelbrown/studyboard/internal/model"
)

// Filter returns a copy of the active filter.
func (s *Store) Filter() model.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Filter.Clone()
}

// SetFilter merges patch into the active filter.
func (s *Store) SetFilter(patch model.FilterPatch) {
	s.mu.Lock()
	s.st.Filter = patch.Apply(s.st.Filter)
	s.mu.Unlock()
	s.notify()
}

// SetDateRange replaces the filter's date range.
func (s *Store) SetDateRange(dr model.DateRange) {
	s.SetFilter(model.FilterPatch{DateRange: &dr})
}

// ClearFilters returns the filter to its initial value but keeps the user.
func (s *Store) ClearFilters() {
	f := s.opts.Filter.Clone()
	if p := f.DateRange.Preset; p != "" && p != model.PresetCustom {
		f.DateRange = model.NewDateRange(p, s.opts.Now())
	}

	s.mu.Lock()
	f.UserID = s.st.Filter.UserID
	s.st.Filter = f
	s.mu.Unlock()
	s.notify()
}

// AddSession appends a session to the local list.
func (s *Store) AddSession(sess model.Session) {
	s.apply(partSessions, func(st *State) {
		st.Sessions = append(st.Sessions, sess)
		st.LastUpdated = s.opts.Now()
	})
}

// UpdateSession applies patch to the local session with id. It reports
// whether the session was found.
func (s *Store) UpdateSession(id string, patch model.SessionPatch) bool {
	found := false
	s.apply(partSessions, func(st *State) {
		for i := range st.Sessions {
			if st.Sessions[i].ID == id {
				st.Sessions[i] = patch.Apply(st.Sessions[i])
				st.LastUpdated = s.opts.Now()
				found = true
				return
			}
		}
	})
	return found
}

// DeleteSession removes the local session with id. It reports whether
// anything was removed.
func (s *Store) DeleteSession(id string) bool {
	found := false
	s.apply(partSessions, func(st *State) {
		kept := st.Sessions[:0:0]
		for _, sess := range st.Sessions {
			if sess.ID == id {
				found = true
				continue
			}
			kept = append(kept, sess)
		}
		st.Sessions = kept
		st.LastUpdated = s.opts.Now()
	})
	return found
}

// RecordSession writes sess through the batch queue and adds the stored
// record, with its assigned ID, to the local list. Errors go to the caller
// only; the shared error slot is untouched.
func (s *Store) RecordSession(ctx context.Context, sess model.Session) (model.Session, error) {
	if sess.UserID == "" {
		sess.UserID = s.Filter().UserID
	}
	saved, err := s.queue.Add(ctx, sess)
	if err != nil {
		return model.Session{}, fmt.Errorf("record session: %w", err)
	}
	s.AddSession(saved)
	return saved, nil
}

// FlushWrites hands queued session writes to the backend without waiting
// for the debounce timer.
func (s *Store) FlushWrites() { s.queue.Flush() }

// PendingWrites counts sessions queued but not yet sent.
func (s *Store) PendingWrites() int { return s.queue.Len() }

func (s *Store) saveBatch(ctx context.Context, items []model.Session) ([]model.Session, error) {
	return s.deps.Backend.SaveSessions(ctx, items)
}
