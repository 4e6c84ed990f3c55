// Package stats derives performance and risk statistics from a completed
// equity curve and transaction log. Every division-by-zero case produces a
// defined sentinel plus an explanatory warning instead of a crash, so a
// degenerate run (zero trades, flat equity) still reports cleanly.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/EpicSanDev/FinAgent-sub002/types"
)

// Summary is the metric block of a backtest report.
type Summary struct {
	TotalReturn      float64
	AnnualizedReturn float64
	SharpeRatio      float64
	MaxDrawdown      float64
	WinRate          float64
	ProfitFactor     float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	FinalEquity      float64
}

const hoursPerYear = 24 * 365.25

// Compute derives the summary from the run's outputs. The periods-per-year
// factor for annualization and Sharpe scaling is inferred from the median
// spacing of equity samples.
func Compute(curve []types.EquityPoint, txs []types.Transaction, initialCapital float64) (Summary, []types.Warning) {
	var warnings []types.Warning
	s := Summary{FinalEquity: initialCapital}
	if len(curve) > 0 {
		s.FinalEquity = curve[len(curve)-1].Value
	}
	if initialCapital > 0 {
		s.TotalReturn = s.FinalEquity/initialCapital - 1
	}

	ppy := periodsPerYear(curve)
	s.AnnualizedReturn = annualize(s.TotalReturn, len(curve), ppy)
	s.SharpeRatio, warnings = sharpe(curve, ppy, warnings)
	s.MaxDrawdown = maxDrawdown(curve)

	wins, losses, grossWin, grossLoss := closedTrades(txs)
	s.WinningTrades, s.LosingTrades = wins, losses
	s.TotalTrades = len(txs)
	switch {
	case wins+losses == 0:
		warnings = append(warnings, warning("no closed trades; win rate and profit factor report zero"))
	default:
		s.WinRate = float64(wins) / float64(wins+losses)
		if grossLoss == 0 {
			warnings = append(warnings, warning("no losing trades; profit factor reports zero sentinel"))
		} else {
			s.ProfitFactor = grossWin / grossLoss
		}
	}
	return s, warnings
}

// periodsPerYear infers the sampling frequency from the median gap between
// equity points. A curve too short to measure falls back to daily bars.
func periodsPerYear(curve []types.EquityPoint) float64 {
	const daily = 252
	if len(curve) < 3 {
		return daily
	}
	gaps := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		gap := curve[i].Timestamp.Sub(curve[i-1].Timestamp).Hours()
		if gap > 0 {
			gaps = append(gaps, gap)
		}
	}
	if len(gaps) == 0 {
		return daily
	}
	sort.Float64s(gaps)
	median := gaps[len(gaps)/2]
	if median >= 23 {
		// Daily or slower: use trading-day conventions.
		days := median / 24
		return math.Max(252/math.Round(days), 1)
	}
	return hoursPerYear / median
}

func annualize(totalReturn float64, samples int, ppy float64) float64 {
	if samples < 2 || totalReturn <= -1 {
		return 0
	}
	years := float64(samples) / ppy
	if years <= 0 {
		return 0
	}
	return math.Pow(1+totalReturn, 1/years) - 1
}

// sharpe is mean excess return over its standard deviation, scaled by the
// square root of periods per year. The risk-free rate is taken as zero.
func sharpe(curve []types.EquityPoint, ppy float64, warnings []types.Warning) (float64, []types.Warning) {
	rets := periodReturns(curve)
	if len(rets) < 2 {
		return 0, append(warnings, warning("too few equity samples for Sharpe ratio; reporting zero"))
	}
	m := mean(rets)
	sd := stdev(rets, m)
	if sd == 0 {
		return 0, append(warnings, warning("zero return volatility; Sharpe ratio reports zero sentinel"))
	}
	return m / sd * math.Sqrt(ppy), warnings
}

// maxDrawdown is the largest peak-to-trough decline over the curve, as a
// positive fraction.
func maxDrawdown(curve []types.EquityPoint) float64 {
	peak, maxDD := 0.0, 0.0
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (peak - p.Value) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// closedTrades replays the transaction log with average-cost accounting and
// tallies realized round trips. Buy commissions raise the cost basis; sell
// commissions reduce the proceeds.
func closedTrades(txs []types.Transaction) (wins, losses int, grossWin, grossLoss float64) {
	type basis struct {
		qty  float64
		cost float64 // total cost including commissions
	}
	open := make(map[string]*basis)
	for _, tx := range txs {
		switch tx.Side {
		case types.Buy:
			b := open[tx.Symbol]
			if b == nil {
				b = &basis{}
				open[tx.Symbol] = b
			}
			b.qty += tx.Qty
			b.cost += tx.FillPrice*tx.Qty + tx.Commission
		case types.Sell:
			b := open[tx.Symbol]
			if b == nil || b.qty <= 0 {
				continue
			}
			qty := math.Min(tx.Qty, b.qty)
			avg := b.cost / b.qty
			pnl := (tx.FillPrice*qty - tx.Commission) - avg*qty
			b.qty -= qty
			b.cost -= avg * qty
			if b.qty == 0 {
				delete(open, tx.Symbol)
			}
			if pnl >= 0 {
				wins++
				grossWin += pnl
			} else {
				losses++
				grossLoss += -pnl
			}
		}
	}
	return wins, losses, grossWin, grossLoss
}

func periodReturns(curve []types.EquityPoint) []float64 {
	var rets []float64
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev == 0 {
			continue
		}
		rets = append(rets, curve[i].Value/prev-1)
	}
	return rets
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stdev(vals []float64, m float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	ss := 0.0
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

func warning(msg string) types.Warning {
	return types.Warning{Timestamp: time.Time{}, Code: "metrics", Message: msg}
}
