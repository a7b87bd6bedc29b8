package analysis

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/stats"
)

// Daily slope thresholds, in accuracy points per day.
const (
	stableSlope = 0.1
	fastSlope   = 0.5
)

// TrendReport holds per-subject regressions and the pooled one.
type TrendReport struct {
	Subjects []model.SubjectTrend `json:"subjects"`
	Overall  *model.SubjectTrend  `json:"overall,omitempty"`
}

type point struct {
	at    time.Time
	score float64
}

// Trends fits accuracy over time per subject. Subjects are fitted
// concurrently, at most `limit` at once (<= 0 means unlimited).
func Trends(ctx context.Context, sessions []model.Session, limit int) (TrendReport, error) {
	bySubject := make(map[string][]point)
	var all []point
	for _, s := range sessions {
		if s.QuestionsAnswered <= 0 {
			continue
		}
		p := point{at: s.StartTime, score: s.Accuracy() * 100}
		bySubject[s.SubjectID] = append(bySubject[s.SubjectID], p)
		all = append(all, p)
	}

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	var mu sync.Mutex
	report := TrendReport{Subjects: make([]model.SubjectTrend, 0, len(bySubject))}
	for subject, points := range bySubject {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t := fit(points)
			t.SubjectID = subject
			mu.Lock()
			report.Subjects = append(report.Subjects, t)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return TrendReport{}, err
	}

	sort.Slice(report.Subjects, func(i, j int) bool {
		return report.Subjects[i].SubjectID < report.Subjects[j].SubjectID
	})
	if len(all) >= 2 {
		overall := fit(all)
		report.Overall = &overall
	}
	return report, nil
}

// fit regresses score on time normalized to [0,1] and converts the slope
// back to points per day.
func fit(points []point) model.SubjectTrend {
	sort.Slice(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })

	first, last := points[0], points[len(points)-1]
	t := model.SubjectTrend{
		LastScore:  last.score,
		DataPoints: len(points),
	}

	ys := make([]float64, len(points))
	for i, p := range points {
		ys[i] = p.score
	}
	t.AvgScore = stats.Mean(ys)

	if len(points) < 2 {
		t.Trend = model.TrendInsufficientData
		t.Intercept = t.AvgScore
		return t
	}
	if first.score != 0 {
		t.Improvement = (last.score - first.score) / first.score * 100
	}

	span := last.at.Sub(first.at)
	xs := make([]float64, len(points))
	for i, p := range points {
		if span > 0 {
			xs[i] = float64(p.at.Sub(first.at)) / float64(span)
		}
	}

	r := stats.LinearRegression(xs, ys)
	t.Intercept = r.Intercept
	t.R2 = math.Max(0, math.Min(1, r.R2))
	if span > 0 {
		t.Slope = r.Slope / (span.Hours() / 24)
	}

	switch {
	case math.Abs(t.Slope) < stableSlope:
		t.Trend = model.TrendStable
	case t.Slope > fastSlope:
		t.Trend = model.TrendImprovingFast
	case t.Slope > 0:
		t.Trend = model.TrendImproving
	case t.Slope < -fastSlope:
		t.Trend = model.TrendDecliningFast
	default:
		t.Trend = model.TrendDeclining
	}
	return t
}
