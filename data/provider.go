// Package data defines the market-data collaborators the engine consumes:
// historical bar providers, pre-fetched sentiment scores, and fundamentals
// snapshots. All data is materialized before a run starts; nothing here is
// called from inside the per-bar loop except in-memory lookups.
package data

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/EpicSanDev/FinAgent-sub002/types"
)

// BarProvider supplies historical OHLCV bars in timestamp order. Providers
// must be gap-tolerant: missing bars are simply absent from the result,
// never interpolated.
type BarProvider interface {
	GetHistoricalBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]types.Bar, error)
}

// SentimentProvider supplies pre-fetched sentiment scores for a symbol.
// The engine never calls out to the underlying source mid-simulation.
type SentimentProvider interface {
	GetScores(ctx context.Context, symbol string, start, end time.Time) (*SentimentSeries, error)
}

// FundamentalsProvider supplies the fundamentals snapshot used by
// valuation-ratio indicators.
type FundamentalsProvider interface {
	GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error)
}

// MemoryProvider is a BarProvider backed by pre-loaded slices. It is the
// reference implementation for tests and parameter sweeps.
type MemoryProvider struct {
	bars map[string][]types.Bar
}

// NewMemoryProvider copies the supplied bars and sorts each symbol's series
// by timestamp.
func NewMemoryProvider(bars map[string][]types.Bar) *MemoryProvider {
	m := &MemoryProvider{bars: make(map[string][]types.Bar, len(bars))}
	for sym, bs := range bars {
		cp := make([]types.Bar, len(bs))
		copy(cp, bs)
		sort.Slice(cp, func(i, j int) bool { return cp[i].Timestamp.Before(cp[j].Timestamp) })
		m.bars[sym] = cp
	}
	return m
}

// GetHistoricalBars returns the bars for symbol within [start, end].
func (m *MemoryProvider) GetHistoricalBars(_ context.Context, symbol, _ string, start, end time.Time) ([]types.Bar, error) {
	series, ok := m.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("no bars loaded for symbol %s", symbol)
	}
	var out []types.Bar
	for _, b := range series {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
