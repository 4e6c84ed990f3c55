package data

import (
	"context"
	"sort"
	"time"
)

// ScorePoint is one sentiment observation for a symbol.
type ScorePoint struct {
	Timestamp time.Time
	Score     float64
}

// SentimentSeries is a time-ordered set of sentiment scores for one symbol.
type SentimentSeries struct {
	points []ScorePoint
}

// NewSentimentSeries copies and sorts the supplied points.
func NewSentimentSeries(points []ScorePoint) *SentimentSeries {
	cp := make([]ScorePoint, len(points))
	copy(cp, points)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Timestamp.Before(cp[j].Timestamp) })
	return &SentimentSeries{points: cp}
}

// At returns the most recent score at or before ts, provided it is no older
// than the staleness tolerance. The second return value reports whether a
// usable score exists.
func (s *SentimentSeries) At(ts time.Time, tolerance time.Duration) (float64, bool) {
	if s == nil || len(s.points) == 0 {
		return 0, false
	}
	// First point strictly after ts.
	i := sort.Search(len(s.points), func(i int) bool { return s.points[i].Timestamp.After(ts) })
	if i == 0 {
		return 0, false
	}
	p := s.points[i-1]
	if ts.Sub(p.Timestamp) > tolerance {
		return 0, false
	}
	return p.Score, true
}

// Len returns the number of observations.
func (s *SentimentSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.points)
}

// MemorySentiment is a SentimentProvider backed by pre-loaded score points.
type MemorySentiment struct {
	scores map[string][]ScorePoint
}

// NewMemorySentiment wraps the supplied per-symbol score points.
func NewMemorySentiment(scores map[string][]ScorePoint) *MemorySentiment {
	return &MemorySentiment{scores: scores}
}

// GetScores returns the series for symbol restricted to [start, end].
func (m *MemorySentiment) GetScores(_ context.Context, symbol string, start, end time.Time) (*SentimentSeries, error) {
	var in []ScorePoint
	for _, p := range m.scores[symbol] {
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		in = append(in, p)
	}
	return NewSentimentSeries(in), nil
}
