package data

import "context"

// Fundamentals is the per-symbol snapshot consumed by valuation-ratio
// indicators. Values are as-of the start of the backtest; the engine does
// not model restatements within a run.
type Fundamentals struct {
	EarningsPerShare  float64
	BookValuePerShare float64
}

// MemoryFundamentals is a FundamentalsProvider backed by a static map.
type MemoryFundamentals struct {
	snapshots map[string]Fundamentals
}

// NewMemoryFundamentals wraps the supplied per-symbol snapshots.
func NewMemoryFundamentals(snapshots map[string]Fundamentals) *MemoryFundamentals {
	return &MemoryFundamentals{snapshots: snapshots}
}

// GetFundamentals returns the snapshot for symbol, or nil when none is
// loaded. A missing snapshot is not an error; the indicator degrades to
// undefined.
func (m *MemoryFundamentals) GetFundamentals(_ context.Context, symbol string) (*Fundamentals, error) {
	f, ok := m.snapshots[symbol]
	if !ok {
		return nil, nil
	}
	return &f, nil
}
