// Package types holds the domain values shared by every stage of the
// backtesting pipeline: bars in, signals and orders through the middle,
// transactions and equity points out.
package types

import "time"

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Direction is the outcome of evaluating a strategy's rule trees for one
// symbol at one bar.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

// Strength buckets a signal's score.
type Strength string

const (
	StrengthWeak       Strength = "weak"
	StrengthModerate   Strength = "moderate"
	StrengthStrong     Strength = "strong"
	StrengthVeryStrong Strength = "very_strong"
)

// Bar is a single OHLCV record for a symbol at a fixed granularity.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Signal is a directional, scored trading recommendation for one symbol at
// one bar. Contributing lists the condition ids that satisfied the winning
// rule tree.
type Signal struct {
	Symbol       string
	Timestamp    time.Time
	Direction    Direction
	Strength     Strength
	Confidence   float64
	Contributing []string
}

// Order is a risk-approved instruction to trade. Forced marks stop-loss and
// take-profit exits, which bypass the entry gates.
type Order struct {
	Symbol    string
	Side      Side
	Qty       float64
	Price     float64 // reference price; the fill applies slippage
	Timestamp time.Time
	SignalRef string
	Forced    bool
	Reason    string // "signal", "stop_loss", "take_profit"
}

// Position is an open holding. AvgCost is maintained as a volume-weighted
// average across partial fills.
type Position struct {
	Symbol   string
	Qty      float64
	AvgCost  float64
	Mark     float64
	OpenedAt time.Time
}

// MarketValue is the position marked at its last known price.
func (p *Position) MarketValue() float64 { return p.Qty * p.Mark }

// PortfolioState is the single mutable value owned by one simulator run.
// It is threaded through the bar loop and never shared across concurrent
// writers.
type PortfolioState struct {
	Cash      float64
	Positions map[string]*Position
	Timestamp time.Time
}

// NewPortfolioState returns a portfolio holding only cash.
func NewPortfolioState(cash float64) *PortfolioState {
	return &PortfolioState{
		Cash:      cash,
		Positions: make(map[string]*Position),
	}
}

// Clone deep-copies the portfolio, positions included.
func (p *PortfolioState) Clone() *PortfolioState {
	cp := &PortfolioState{
		Cash:      p.Cash,
		Positions: make(map[string]*Position, len(p.Positions)),
		Timestamp: p.Timestamp,
	}
	for sym, pos := range p.Positions {
		dup := *pos
		cp.Positions[sym] = &dup
	}
	return cp
}

// TotalValue is cash plus the marked value of every open position.
func (p *PortfolioState) TotalValue() float64 {
	total := p.Cash
	for _, pos := range p.Positions {
		total += pos.MarketValue()
	}
	return total
}

// Transaction is an executed fill. Append-only, immutable once recorded.
type Transaction struct {
	ID         string
	Symbol     string
	Side       Side
	Qty        float64
	FillPrice  float64
	Commission float64
	Timestamp  time.Time
	SignalRef  string
	Forced     bool
	Reason     string
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Value     float64
}

// Warning records a recoverable, bar-local problem with enough context to
// audit the run afterwards.
type Warning struct {
	Symbol    string
	Timestamp time.Time
	Code      string
	Message   string
}
