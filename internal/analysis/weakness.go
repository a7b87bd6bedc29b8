// Package analysis holds the heavy, pure computations that the store
// offloads to the worker pool and the reference backend serves directly.
package analysis

import (
	"math"
	"sort"

	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/score"
)

// itemTrendThreshold is the accuracy change, in points, below which a
// subject counts as stable.
const itemTrendThreshold = 5

// Scorer turns a group summary into a 0-100 weakness score.
type Scorer func(g Group) float64

// Group is the per subject/topic summary a Scorer sees.
type Group struct {
	SubjectID   string
	TopicID     string
	Total       int
	Correct     int
	Accuracy    float64 // 0-1
	Improvement float64 // accuracy points, second half minus first half
	Trend       string
}

// BasicScorer uses the weighted weakness formula.
func BasicScorer(w score.Weights) Scorer {
	return func(g Group) float64 {
		return score.Weakness(g.Accuracy, g.Total, g.Improvement, w)
	}
}

// AdvancedScorer adjusts the error rate for sample size and trend.
func AdvancedScorer(g Group) float64 {
	return score.Advanced(g.Accuracy*100, g.Total, g.Trend, 0)
}

// Weaknesses groups sessions by subject and topic and scores each group,
// weakest first. Sessions with no attempted questions are ignored.
func Weaknesses(sessions []model.Session, scorer Scorer) []model.WeaknessPattern {
	if scorer == nil {
		scorer = BasicScorer(score.DefaultWeights)
	}

	type key struct{ subject, topic string }
	groups := make(map[key][]model.Session)
	for _, s := range sessions {
		if s.QuestionsAnswered <= 0 {
			continue
		}
		k := key{s.SubjectID, s.TopicID}
		groups[k] = append(groups[k], s)
	}

	out := make([]model.WeaknessPattern, 0, len(groups))
	for k, list := range groups {
		sort.Slice(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })

		g := Group{SubjectID: k.subject, TopicID: k.topic}
		for _, s := range list {
			g.Total += s.QuestionsAnswered
			g.Correct += s.CorrectAnswers
		}
		g.Accuracy = float64(g.Correct) / float64(g.Total)
		g.Improvement, g.Trend = halfTrend(list)

		out = append(out, model.WeaknessPattern{
			SubjectID:       g.SubjectID,
			TopicID:         g.TopicID,
			ErrorCount:      g.Total - g.Correct,
			TotalQuestions:  g.Total,
			ErrorRate:       (1 - g.Accuracy) * 100,
			Accuracy:        g.Accuracy,
			ImprovementRate: g.Improvement,
			LastPracticed:   list[len(list)-1].StartTime,
			WeaknessScore:   scorer(g),
			Trend:           g.Trend,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].WeaknessScore != out[j].WeaknessScore {
			return out[i].WeaknessScore > out[j].WeaknessScore
		}
		if out[i].SubjectID != out[j].SubjectID {
			return out[i].SubjectID < out[j].SubjectID
		}
		return out[i].TopicID < out[j].TopicID
	})
	return out
}

// halfTrend compares accuracy of the older and newer half of a
// chronologically sorted list.
func halfTrend(list []model.Session) (float64, string) {
	if len(list) < 2 {
		return 0, model.TrendInsufficientData
	}
	mid := len(list) / 2
	diff := (pooledAccuracy(list[mid:]) - pooledAccuracy(list[:mid])) * 100

	switch {
	case math.Abs(diff) < itemTrendThreshold:
		return diff, model.TrendStable
	case diff > 0:
		return diff, model.TrendImproving
	default:
		return diff, model.TrendDeclining
	}
}

func pooledAccuracy(list []model.Session) float64 {
	var total, correct int
	for _, s := range list {
		total += s.QuestionsAnswered
		correct += s.CorrectAnswers
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}
