package analysis

import (
	"context"
	"time"

	"github.com/abelbrown/studyboard/internal/aggregate"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/offload"
	"github.com/abelbrown/studyboard/internal/score"
)

// Offload operation names.
const (
	OpAnalyzeWeakness = "analyzeWeakness"
	OpAggregateWeekly = "aggregateWeekly"
	OpCalculateTrends = "calculateTrends"
	OpGenerateHeatmap = "generateHeatmap"
	OpPredictScores   = "predictScores"
	OpProgressMetrics = "progressMetrics"
)

// Request is the envelope every operation decodes. Zone is an IANA name;
// empty means the worker's local zone.
type Request struct {
	Sessions []model.Session `json:"sessions"`
	Zone     string          `json:"zone,omitempty"`
	Now      time.Time       `json:"now,omitempty"`
	Weights  *score.Weights  `json:"weights,omitempty"`
	Advanced bool            `json:"advanced,omitempty"`
}

func (r Request) location() *time.Location {
	if r.Zone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(r.Zone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Register installs every operation on p.
func Register(p *offload.Pool) {
	offload.Register(p, OpAnalyzeWeakness, func(ctx context.Context, r Request) ([]model.WeaknessPattern, error) {
		scorer := AdvancedScorer
		if !r.Advanced {
			w := score.DefaultWeights
			if r.Weights != nil {
				w = *r.Weights
			}
			scorer = BasicScorer(w)
		}
		return Weaknesses(r.Sessions, scorer), nil
	})
	offload.Register(p, OpAggregateWeekly, func(ctx context.Context, r Request) ([]model.WeeklyAggregate, error) {
		return aggregate.Weekly(r.Sessions, r.location()), nil
	})
	offload.Register(p, OpCalculateTrends, func(ctx context.Context, r Request) (TrendReport, error) {
		return Trends(ctx, r.Sessions, 0)
	})
	offload.Register(p, OpGenerateHeatmap, func(ctx context.Context, r Request) (Heatmap, error) {
		return BuildHeatmap(r.Sessions), nil
	})
	offload.Register(p, OpPredictScores, func(ctx context.Context, r Request) (Prediction, error) {
		return PredictScores(r.Sessions, r.location()), nil
	})
	offload.Register(p, OpProgressMetrics, func(ctx context.Context, r Request) (model.ProgressMetrics, error) {
		return Metrics(r.Sessions, MetricsOptions{Now: r.Now, Location: r.location()}), nil
	})
}
