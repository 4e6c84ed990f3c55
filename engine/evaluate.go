package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EpicSanDev/FinAgent-sub002/indicator"
	"github.com/EpicSanDev/FinAgent-sub002/types"
)

// symbolResult carries one symbol's evaluation output back to the driver.
// Results are indexed by universe position so the ordering phase never
// depends on goroutine scheduling.
type symbolResult struct {
	symbol   string
	bar      types.Bar
	hasBar   bool
	sig      types.Signal
	vol      indicator.Value
	warnings []types.Warning
}

// evaluate fans out one task per symbol with a bar at ts, bounded by the
// worker cap, and fans back in before returning. Tasks read only their own
// symbol's window; the portfolio is consulted up front so the parallel
// region touches no shared mutable state.
func (s *Simulator) evaluate(ts time.Time, series []*symbolSeries) []symbolResult {
	results := make([]symbolResult, len(series))

	workers := s.opts.Workers
	if workers <= 0 || workers > len(series) {
		workers = len(series)
	}
	if workers == 0 {
		return results
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, ss := range series {
		results[i].symbol = ss.symbol
		window, ok := ss.window(ts)
		if !ok {
			continue
		}
		results[i].hasBar = true
		results[i].bar = window[len(window)-1]
		_, hasPosition := s.pf.Positions[ss.symbol]

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, ss *symbolSeries, window []types.Bar, hasPosition bool) {
			defer wg.Done()
			defer func() { <-sem }()
			s.evaluateSymbol(&results[i], ss, window, ts, hasPosition)
		}(i, ss, window, hasPosition)
	}
	wg.Wait()
	return results
}

// evaluateSymbol computes the indicator snapshot, the sizing volatility,
// and the trading signal for one symbol. Indicator failures degrade the
// value to undefined — and therefore the condition to unsatisfied — with a
// warning; they never abort the run.
func (s *Simulator) evaluateSymbol(res *symbolResult, ss *symbolSeries, window []types.Bar, ts time.Time, hasPosition bool) {
	w := indicator.Window{
		Symbol:       ss.symbol,
		Bars:         window,
		Sentiment:    ss.sentiment,
		Fundamentals: ss.fundamentals,
	}
	snap := &indicator.Snapshot{
		Symbol:    ss.symbol,
		Timestamp: ts,
		Values:    make(map[string]indicator.Value, len(s.def.Indicators)),
	}
	for _, spec := range s.def.Indicators {
		v, err := indicator.Evaluate(spec, w)
		if err != nil {
			code := "indicator_error"
			if errors.Is(err, indicator.ErrInsufficientData) {
				code = "insufficient_data"
			}
			res.warnings = append(res.warnings, types.Warning{
				Symbol:    ss.symbol,
				Timestamp: ts,
				Code:      code,
				Message:   fmt.Sprintf("indicator %s: %v", spec.ID, err),
			})
		}
		snap.Values[spec.ID] = v
	}
	res.vol = s.sizingVolatility(snap, w)
	res.sig = s.gen.Generate(ss.symbol, ts, s.def.BuyRules, s.def.SellRules, snap, hasPosition)
}

// sizingVolatility prefers a volatility indicator the strategy declared;
// otherwise it computes the default trailing measure directly. Undefined is
// fine — sizing then falls back to the fixed fraction.
func (s *Simulator) sizingVolatility(snap *indicator.Snapshot, w indicator.Window) indicator.Value {
	for _, spec := range s.def.Indicators {
		if spec.Kind == indicator.KindVolatility {
			return snap.Value(spec.ID)
		}
	}
	v, _ := indicator.Evaluate(indicator.Spec{ID: "sizing_volatility", Kind: indicator.KindVolatility}, w)
	return v
}
