// Package stats provides the small statistics toolkit used by analysis:
// moving averages, dispersion, standardized scores, regression and goal
// projection.
package stats

import (
	"math"
	"sort"
	"time"
)

// Direction is the coarse trend of a series.
type Direction string

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
	Stable     Direction = "stable"
)

// DefaultTrendThreshold is the normalized slope below which a series is stable.
const DefaultTrendThreshold = 0.05

// Mean returns the arithmetic mean, 0 for empty input.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// MovingAverage returns the trailing means of each full window. Input shorter
// than the window is returned as a copy.
func MovingAverage(data []float64, window int) []float64 {
	if window <= 0 || len(data) < window {
		out := make([]float64, len(data))
		copy(out, data)
		return out
	}
	out := make([]float64, 0, len(data)-window+1)
	var sum float64
	for i, v := range data {
		sum += v
		if i >= window {
			sum -= data[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out
}

// StandardDeviation is the population standard deviation.
func StandardDeviation(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	mean := Mean(data)
	var sq float64
	for _, v := range data {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(data)))
}

// Deviation is the standardized score centred on 50 with 10 points per
// standard deviation. A zero deviation yields 50.
func Deviation(score, mean, stddev float64) float64 {
	if stddev == 0 {
		return 50
	}
	return 50 + 10*(score-mean)/stddev
}

// Percentile returns the share of data strictly below value, in percent.
// A value above every sample is the 100th percentile.
func Percentile(data []float64, value float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	idx := sort.SearchFloat64s(sorted, value)
	if idx == len(sorted) {
		return 100
	}
	return float64(idx) / float64(len(data)) * 100
}

// GrowthRate is the percent change from old to new. Growth from zero is 100
// when new is positive and 0 otherwise.
func GrowthRate(oldValue, newValue float64) float64 {
	if oldValue == 0 {
		if newValue > 0 {
			return 100
		}
		return 0
	}
	return (newValue - oldValue) / oldValue * 100
}

// AverageGrowthRate is the mean step-to-step growth rate.
func AverageGrowthRate(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	rates := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		rates = append(rates, GrowthRate(values[i-1], values[i]))
	}
	return Mean(rates)
}

// Regression is a least-squares line fit.
type Regression struct {
	Slope     float64
	Intercept float64
	R2        float64
}

// LinearRegression fits y against x. With fewer than two points, or no spread
// in x, the slope is zero and the intercept is the mean of y.
func LinearRegression(x, y []float64) Regression {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n == 0 {
		return Regression{}
	}
	x, y = x[:n], y[:n]

	mx, my := Mean(x), Mean(y)
	var sxy, sxx, syy float64
	for i := 0; i < n; i++ {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if n < 2 || sxx == 0 {
		return Regression{Intercept: my}
	}

	r := Regression{Slope: sxy / sxx}
	r.Intercept = my - r.Slope*mx
	if syy == 0 {
		r.R2 = 1
	} else {
		r.R2 = sxy * sxy / (sxx * syy)
	}
	return r
}

// Trend classifies a series by its regression slope over the index,
// normalized by the mean.
func Trend(data []float64, threshold float64) Direction {
	if len(data) < 2 {
		return Stable
	}
	x := make([]float64, len(data))
	for i := range x {
		x[i] = float64(i)
	}
	mean := Mean(data)
	if mean == 0 {
		return Stable
	}
	normalized := LinearRegression(x, data).Slope / mean
	switch {
	case normalized > threshold:
		return Increasing
	case normalized < -threshold:
		return Decreasing
	default:
		return Stable
	}
}

// Consistency turns the coefficient of variation into a 0-100 score.
// Fewer than two values count as perfectly consistent.
func Consistency(values []float64) float64 {
	if len(values) < 2 {
		return 100
	}
	return math.Max(0, math.Min(100, (1-cv(values))*100))
}

func cv(values []float64) float64 {
	mean := Mean(values)
	if mean <= 0 {
		return 1
	}
	return StandardDeviation(values) / mean
}

// Point is a dated observation.
type Point struct {
	Date  time.Time
	Value float64
}

// GoalPrediction projects whether a target will be reached by a date.
type GoalPrediction struct {
	WillAchieve    bool      `json:"willAchieve"`
	PredictedValue float64   `json:"predictedValue"`
	Confidence     int       `json:"confidence"` // 0-100
	DaysRemaining  int       `json:"daysRemaining"`
	Direction      Direction `json:"direction"`
}

// PredictGoal compounds the average growth of history monthly until
// targetDate. Fewer than three points give a flat projection with zero
// confidence.
func PredictGoal(current, target float64, history []Point, targetDate, now time.Time) GoalPrediction {
	days := int(math.Ceil(targetDate.Sub(now).Hours() / 24))

	if len(history) < 3 {
		return GoalPrediction{
			WillAchieve:    current >= target,
			PredictedValue: current,
			DaysRemaining:  days,
			Direction:      Stable,
		}
	}

	values := make([]float64, len(history))
	for i, p := range history {
		values[i] = p.Value
	}

	growth := AverageGrowthRate(values)
	predicted := current * math.Pow(1+growth/100, float64(days)/30)
	confidence := math.Max(0, math.Min(100, (1-cv(values))*100))

	return GoalPrediction{
		WillAchieve:    predicted >= target,
		PredictedValue: math.Round(predicted*10) / 10,
		Confidence:     int(math.Round(confidence)),
		DaysRemaining:  days,
		Direction:      Trend(values, DefaultTrendThreshold),
	}
}
