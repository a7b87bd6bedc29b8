package analysis

import (
	"sort"

	"github.com/abelbrown/studyboard/internal/model"
	"github.com/abelbrown/studyboard/internal/stats"
)

// HeatmapCell is one subject x topic cell.
type HeatmapCell struct {
	SubjectID  string  `json:"subjectId"`
	TopicID    string  `json:"topicId"`
	Accuracy   float64 `json:"accuracy"` // mean of session accuracies, 0-100
	Count      int     `json:"count"`
	TotalTime  int64   `json:"totalTime"` // seconds
	AvgTime    float64 `json:"avgTime"`
	StdDev     float64 `json:"stdDev"`
	Trend      string  `json:"trend"`
	Confidence string  `json:"confidence"`
}

// Heatmap is the subject x topic accuracy matrix.
type Heatmap struct {
	Subjects    []string      `json:"subjects"`
	Topics      []string      `json:"topics"`
	Cells       []HeatmapCell `json:"cells"`
	DataPoints  int           `json:"dataPoints"`
	AvgAccuracy float64       `json:"avgAccuracy"`
	Coverage    float64       `json:"coverage"` // percent of filled cells
}

// BuildHeatmap groups scored sessions (topic set, questions attempted) into
// cells ordered by subject then topic.
func BuildHeatmap(sessions []model.Session) Heatmap {
	type cellKey struct{ subject, topic string }
	type acc struct {
		list []model.Session
	}

	subjects := make(map[string]struct{})
	topics := make(map[string]struct{})
	cells := make(map[cellKey]*acc)
	points := 0

	for _, s := range sessions {
		if s.TopicID == "" || s.QuestionsAnswered <= 0 {
			continue
		}
		points++
		subjects[s.SubjectID] = struct{}{}
		topics[s.TopicID] = struct{}{}
		k := cellKey{s.SubjectID, s.TopicID}
		if cells[k] == nil {
			cells[k] = &acc{}
		}
		cells[k].list = append(cells[k].list, s)
	}

	hm := Heatmap{
		Subjects:   sortedKeys(subjects),
		Topics:     sortedKeys(topics),
		Cells:      make([]HeatmapCell, 0, len(cells)),
		DataPoints: points,
	}

	var accSum float64
	for k, c := range cells {
		sort.Slice(c.list, func(i, j int) bool { return c.list[i].StartTime.Before(c.list[j].StartTime) })

		values := make([]float64, len(c.list))
		var total int64
		for i, s := range c.list {
			values[i] = s.Accuracy() * 100
			total += s.Duration
		}
		cell := HeatmapCell{
			SubjectID: k.subject,
			TopicID:   k.topic,
			Accuracy:  stats.Mean(values),
			Count:     len(values),
			TotalTime: total,
			AvgTime:   float64(total) / float64(len(values)),
			StdDev:    stats.StandardDeviation(values),
		}
		_, cell.Trend = halfTrend(c.list)
		cell.Confidence = confidence(cell.Count, cell.StdDev)
		accSum += cell.Accuracy
		hm.Cells = append(hm.Cells, cell)
	}

	sort.Slice(hm.Cells, func(i, j int) bool {
		if hm.Cells[i].SubjectID != hm.Cells[j].SubjectID {
			return hm.Cells[i].SubjectID < hm.Cells[j].SubjectID
		}
		return hm.Cells[i].TopicID < hm.Cells[j].TopicID
	})

	if n := len(hm.Cells); n > 0 {
		hm.AvgAccuracy = accSum / float64(n)
		hm.Coverage = float64(n) / float64(len(hm.Subjects)*len(hm.Topics)) * 100
	}
	return hm
}

func confidence(samples int, stddev float64) string {
	switch {
	case samples < 5:
		return "very_low"
	case samples < 10:
		return "low"
	case samples < 30, stddev > 20:
		return "medium"
	default:
		return "high"
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
