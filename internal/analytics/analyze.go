package analytics

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/abelbrown/studyboard/internal/analysis"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/offload"
)

func (s *Store) beginAnalysis() {
	s.mu.Lock()
	s.analyzing++
	s.mu.Unlock()
	s.notify()
}

func (s *Store) endAnalysis() {
	s.mu.Lock()
	s.analyzing--
	s.mu.Unlock()
	s.notify()
}

// AnalyzeProgress sends the local sessions to the remote analysis endpoint
// and keeps the returned report.
func (s *Store) AnalyzeProgress(ctx context.Context) {
	s.beginAnalysis()
	defer s.endAnalysis()

	s.mu.Lock()
	s.gen[partReport]++
	gen := s.gen[partReport]
	user := s.st.Filter.UserID
	sessions := clone(s.st.Sessions)
	s.mu.Unlock()

	report, err := s.deps.Backend.Analyze(ctx, user, sessions)
	if err != nil {
		if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
			s.failCurrent(partReport, gen, model.ErrNameAnalysis, model.CodeAnalyzeProgress, err)
		}
		return
	}
	s.commit(partReport, gen, func(st *State) {
		st.Report = cloneReport(report)
		st.LastUpdated = s.opts.Now()
	})
}

// AnalyzeWeaknesses recomputes weaknesses from the local sessions on the
// offload pool. The result replaces the weakness slice.
func (s *Store) AnalyzeWeaknesses(ctx context.Context) {
	s.beginAnalysis()
	defer s.endAnalysis()

	s.mu.Lock()
	s.gen[partWeaknesses]++
	gen := s.gen[partWeaknesses]
	req := analysis.Request{
		Sessions: clone(s.st.Sessions),
		Zone:     s.opts.Location.String(),
		Now:      s.opts.Now(),
		Weights:  &s.opts.Weights,
		Advanced: s.opts.Advanced,
	}
	s.mu.Unlock()

	weak, err := offload.Do[[]model.WeaknessPattern](ctx, s.deps.Pool, analysis.OpAnalyzeWeakness, req, s.opts.OffloadTimeout)
	if err != nil {
		if !offload.HasCode(err, offload.CodeCancelled) {
			s.failCurrent(partWeaknesses, gen, model.ErrNameAnalysis, model.CodeAnalyzeWeaknesses, err)
		}
		return
	}
	s.commit(partWeaknesses, gen, func(st *State) { st.Weaknesses = clone(weak) })
}

// PredictPerformance projects overall accuracy to target by compounding the
// daily share of the monthly growth rate. It returns 0 without metrics or
// sessions and never more than 100.
func (s *Store) PredictPerformance(target time.Time) float64 {
	s.mu.Lock()
	metrics := s.st.Metrics
	n := len(s.st.Sessions)
	s.mu.Unlock()
	if metrics == nil || n == 0 {
		return 0
	}

	days := math.Ceil(target.Sub(s.opts.Now()).Hours() / 24)
	daily := metrics.MonthlyGrowth / 30
	predicted := metrics.OverallAccuracy * math.Pow(1+daily/100, days)
	return math.Min(100, predicted)
}
