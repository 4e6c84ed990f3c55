// Package indicator computes derived signals from historical market-data
// windows. Evaluation is a pure function of the supplied window: no state
// survives between calls, which is what makes backtest runs reproducible.
package indicator

import (
	"errors"
	"fmt"
	"time"

	"github.com/EpicSanDev/FinAgent-sub002/data"
	"github.com/EpicSanDev/FinAgent-sub002/types"
)

// Kind identifies an indicator algorithm. The set is closed; configs are
// validated against it at load time.
type Kind string

const (
	KindSMA            Kind = "sma"
	KindEMA            Kind = "ema"
	KindRSI            Kind = "rsi"
	KindMFI            Kind = "mfi"
	KindMACD           Kind = "macd"
	KindBollinger      Kind = "bollinger"
	KindVolumeSurge    Kind = "volume_surge"
	KindVolatility     Kind = "volatility"
	KindValuationRatio Kind = "valuation_ratio"
	KindSentimentScore Kind = "sentiment_score"
)

// ParseKind validates a kind name from a configuration document.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindSMA, KindEMA, KindRSI, KindMFI, KindMACD, KindBollinger,
		KindVolumeSurge, KindVolatility, KindValuationRatio, KindSentimentScore:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown indicator kind %q", s)
}

// Spec describes one indicator instance declared by a strategy.
type Spec struct {
	ID     string
	Kind   Kind
	Params map[string]float64
	Weight float64
}

// Param returns the named parameter or def when absent.
func (s Spec) Param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

// Value is the result of evaluating one indicator at one bar. Aux carries
// the secondary outputs of multi-line indicators (MACD signal line,
// Bollinger bands). An undefined Value never satisfies a condition.
type Value struct {
	Scalar  float64
	Aux     map[string]float64
	Defined bool
}

// Scalar wraps a plain defined value.
func NewScalar(v float64) Value { return Value{Scalar: v, Defined: true} }

// Window is the per-symbol slice of history an evaluation may read: bars
// oldest to newest ending at the bar under evaluation, plus the pre-fetched
// sentiment series and the fundamentals snapshot when the strategy uses
// them.
type Window struct {
	Symbol       string
	Bars         []types.Bar
	Sentiment    *data.SentimentSeries
	Fundamentals *data.Fundamentals
}

// ErrInsufficientData reports that the window is too short (or the external
// series too stale) to define the indicator. Callers degrade the value to
// non-satisfying instead of aborting the run.
var ErrInsufficientData = errors.New("insufficient data for indicator")

// Snapshot maps indicator ids to their values for one symbol at one bar.
// Rebuilt every bar, discarded after signal generation.
type Snapshot struct {
	Symbol    string
	Timestamp time.Time
	Values    map[string]Value
}

// Value returns the evaluated value for an indicator id. Ids absent from
// the snapshot come back undefined.
func (s *Snapshot) Value(id string) Value {
	if s == nil {
		return Value{}
	}
	return s.Values[id]
}

// Evaluate computes the indicator described by spec over the window. A too
// short window yields (undefined, ErrInsufficientData); any other error
// means the spec itself is unusable.
func Evaluate(spec Spec, w Window) (Value, error) {
	switch spec.Kind {
	case KindSMA:
		return evalSMA(spec, w)
	case KindEMA:
		return evalEMA(spec, w)
	case KindRSI:
		return evalRSI(w)
	case KindMFI:
		return evalMFI(w)
	case KindMACD:
		return evalMACD(spec, w)
	case KindBollinger:
		return evalBollinger(spec, w)
	case KindVolumeSurge:
		return evalVolumeSurge(spec, w)
	case KindVolatility:
		return evalVolatility(spec, w)
	case KindValuationRatio:
		return evalValuationRatio(w)
	case KindSentimentScore:
		return evalSentimentScore(spec, w)
	}
	return Value{}, fmt.Errorf("unknown indicator kind %q", spec.Kind)
}
