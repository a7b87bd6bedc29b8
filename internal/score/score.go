// Package score holds the weakness and efficiency calculators.
//
// Every function here is pure. Results are clamped to [0,100].
package score

import (
	"errors"
	"math"

	"github.com/abelbrown/studyboard/internal/model"
)

// Weights controls how accuracy, volume and improvement reduce a weakness
// score. Raw weights need not sum to 1; Weakness normalizes them.
type Weights struct {
	Accuracy    float64 `json:"accuracy" toml:"accuracy"`
	Volume      float64 `json:"volume" toml:"volume"`
	Improvement float64 `json:"improvement" toml:"improvement"`
}

// DefaultWeights are used whenever the supplied weights are invalid.
var DefaultWeights = Weights{Accuracy: 0.5, Volume: 0.3, Improvement: 0.2}

var (
	ErrNegativeWeight = errors.New("score: negative weight")
	ErrZeroWeights    = errors.New("score: weights sum to zero")
)

// Validate rejects negative, non-finite or all-zero weights.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Accuracy, w.Volume, w.Improvement} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNegativeWeight
		}
	}
	if w.sum() == 0 {
		return ErrZeroWeights
	}
	return nil
}

// Normalize returns w scaled to sum to 1, or DefaultWeights if w is invalid.
func (w Weights) Normalize() Weights {
	if w.Validate() != nil {
		w = DefaultWeights
	}
	total := w.sum()
	return Weights{
		Accuracy:    w.Accuracy / total,
		Volume:      w.Volume / total,
		Improvement: w.Improvement / total,
	}
}

func (w Weights) sum() float64 {
	return w.Accuracy + w.Volume + w.Improvement
}

// Weakness scores how weak a subject is: higher accuracy, volume and
// improvement all reduce it. Volume saturates at 100 questions.
func Weakness(accuracy float64, totalQuestions int, improvementRate float64, w Weights) float64 {
	n := w.Normalize()

	accuracyScore := accuracy * n.Accuracy
	volumeScore := math.Min(float64(totalQuestions)/100, 1) * n.Volume * 100
	improvementScore := improvementRate * n.Improvement

	return clamp(100 - (accuracyScore + volumeScore + improvementScore))
}

// EfficiencyInput are the raw counters for one session or window.
type EfficiencyInput struct {
	FocusTime     float64
	TotalTime     float64
	Correct       int
	Total         int
	BreaksTaken   int
	OptimalBreaks int
}

// EfficiencyFromSession derives efficiency inputs from a session record.
func EfficiencyFromSession(s model.Session, breaksTaken, optimalBreaks int) EfficiencyInput {
	return EfficiencyInput{
		FocusTime:     float64(s.FocusTime()),
		TotalTime:     float64(s.Duration),
		Correct:       s.CorrectAnswers,
		Total:         s.QuestionsAnswered,
		BreaksTaken:   breaksTaken,
		OptimalBreaks: optimalBreaks,
	}
}

// Efficiency blends focus ratio (60%) and accuracy (40%), minus a penalty of
// 5% per break above optimal, capped at 20%.
func Efficiency(in EfficiencyInput) int {
	var focusRatio, accuracy, breakPenalty float64
	if in.TotalTime > 0 {
		focusRatio = in.FocusTime / in.TotalTime
	}
	if in.Total > 0 {
		accuracy = float64(in.Correct) / float64(in.Total)
	}
	if in.OptimalBreaks > 0 && in.BreaksTaken > in.OptimalBreaks {
		breakPenalty = math.Min(0.2, float64(in.BreaksTaken-in.OptimalBreaks)*0.05)
	}

	base := (focusRatio*0.6 + accuracy*0.4) * (1 - breakPenalty)
	return int(math.Round(clamp(base * 100)))
}

// Advanced is the offload variant of the weakness score. It starts from the
// error rate and adjusts for sample size, trend and difficulty. accuracyPct is
// 0-100; an avgDifficulty of 0 means unknown and skips that adjustment.
func Advanced(accuracyPct float64, totalQuestions int, trend string, avgDifficulty float64) float64 {
	s := 100 - accuracyPct

	switch {
	case totalQuestions < 10:
		s *= 0.7
	case totalQuestions < 20:
		s *= 0.85
	}

	switch trend {
	case model.TrendImproving, model.TrendImprovingFast:
		s *= 0.8
	case model.TrendDeclining, model.TrendDecliningFast:
		s *= 1.2
	}

	switch {
	case avgDifficulty <= 0:
	case avgDifficulty > 4:
		s *= 0.9
	case avgDifficulty < 2:
		s *= 1.1
	}

	return clamp(s)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
