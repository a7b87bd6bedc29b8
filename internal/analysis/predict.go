package analysis

import (
	"math"
	"sort"
	"time"

	"github.com/abelbrown/studyboard/internal/aggregate"
	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/stats"
)

// MinPredictionDays is the number of distinct study days needed before
// scores are projected.
const MinPredictionDays = 7

// longTermDecay damps the three-month projection.
const longTermDecay = 0.9

// Prediction projects daily average accuracy forward.
type Prediction struct {
	CurrentAvg  float64 `json:"currentAvg"`
	MonthlyAvg  float64 `json:"monthlyAvg"`
	WeeklyTrend float64 `json:"weeklyTrend"` // points per week
	OneWeek     float64 `json:"oneWeek"`
	OneMonth    float64 `json:"oneMonth"`
	ThreeMonths float64 `json:"threeMonths"`
	Confidence  string  `json:"confidence"` // low, medium, high
	DataPoints  int     `json:"dataPoints"`
	TrendR2     float64 `json:"trendR2"`
	Volatility  float64 `json:"volatility"`
	Enough      bool    `json:"enough"`
}

// PredictScores averages accuracy per local day and extrapolates the last 30
// days with a linear fit. Fewer than MinPredictionDays days returns the latest
// average with low confidence and Enough false.
func PredictScores(sessions []model.Session, loc *time.Location) Prediction {
	byDay := make(map[string][]float64)
	for _, s := range sessions {
		if s.QuestionsAnswered <= 0 {
			continue
		}
		day := aggregate.DateKey(s.StartTime, loc)
		byDay[day] = append(byDay[day], s.Accuracy()*100)
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	daily := make([]float64, len(days))
	for i, d := range days {
		daily[i] = stats.Mean(byDay[d])
	}

	p := Prediction{DataPoints: len(daily), Confidence: "low"}
	if len(daily) == 0 {
		return p
	}
	if len(daily) < MinPredictionDays {
		p.CurrentAvg = daily[len(daily)-1]
		return p
	}
	p.Enough = true

	ma7 := stats.MovingAverage(daily, 7)
	p.CurrentAvg = ma7[len(ma7)-1]
	p.MonthlyAvg = p.CurrentAvg
	if len(daily) >= 30 {
		ma30 := stats.MovingAverage(daily, 30)
		p.MonthlyAvg = ma30[len(ma30)-1]
	}

	recent := daily
	if len(recent) > 30 {
		recent = recent[len(recent)-30:]
	}
	xs := make([]float64, len(recent))
	for i := range xs {
		xs[i] = float64(i)
	}
	fit := stats.LinearRegression(xs, recent)

	p.WeeklyTrend = fit.Slope * 7
	p.TrendR2 = fit.R2
	p.OneWeek = clampScore(p.CurrentAvg + fit.Slope*7)
	p.OneMonth = clampScore(p.CurrentAvg + fit.Slope*30)
	p.ThreeMonths = clampScore(p.CurrentAvg + fit.Slope*90*longTermDecay)
	p.Volatility = stats.StandardDeviation(daily)

	switch {
	case fit.R2 > 0.7 && len(daily) > 30:
		p.Confidence = "high"
	case fit.R2 > 0.4 || len(daily) > 14:
		p.Confidence = "medium"
	}
	return p
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
