package indicator

import (
	"math"
	"time"
)

func closes(w Window) []float64 {
	out := make([]float64, len(w.Bars))
	for i, b := range w.Bars {
		out[i] = b.Close
	}
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stdev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	ss := 0.0
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// emaSeries seeds with the SMA of the first period values and smooths the
// remainder with the standard 2/(n+1) factor.
func emaSeries(vals []float64, period int) []float64 {
	if len(vals) < period || period <= 0 {
		return nil
	}
	out := make([]float64, 0, len(vals)-period+1)
	seed := mean(vals[:period])
	out = append(out, seed)
	k := 2.0 / (float64(period) + 1.0)
	prev := seed
	for _, v := range vals[period:] {
		prev = v*k + prev*(1-k)
		out = append(out, prev)
	}
	return out
}

func evalSMA(spec Spec, w Window) (Value, error) {
	period := int(spec.Param("period", 20))
	cs := closes(w)
	if period <= 0 || len(cs) < period {
		return Value{}, ErrInsufficientData
	}
	return NewScalar(mean(cs[len(cs)-period:])), nil
}

func evalEMA(spec Spec, w Window) (Value, error) {
	period := int(spec.Param("period", 20))
	series := emaSeries(closes(w), period)
	if len(series) == 0 {
		return Value{}, ErrInsufficientData
	}
	return NewScalar(series[len(series)-1]), nil
}

// evalMACD reports the histogram (MACD line minus signal line) as the
// scalar, so "macd > 0" reads as "MACD above its signal line". The two
// lines ride along in Aux.
func evalMACD(spec Spec, w Window) (Value, error) {
	fast := int(spec.Param("fast", 12))
	slow := int(spec.Param("slow", 26))
	signal := int(spec.Param("signal", 9))
	cs := closes(w)
	if fast <= 0 || slow <= fast || signal <= 0 || len(cs) < slow+signal {
		return Value{}, ErrInsufficientData
	}
	fastE := emaSeries(cs, fast)
	slowE := emaSeries(cs, slow)
	// Align the tails: slowE is shorter than fastE by slow-fast samples.
	offset := len(fastE) - len(slowE)
	macdLine := make([]float64, len(slowE))
	for i := range slowE {
		macdLine[i] = fastE[i+offset] - slowE[i]
	}
	signalE := emaSeries(macdLine, signal)
	if len(signalE) == 0 {
		return Value{}, ErrInsufficientData
	}
	m := macdLine[len(macdLine)-1]
	s := signalE[len(signalE)-1]
	return Value{
		Scalar:  m - s,
		Aux:     map[string]float64{"macd": m, "signal": s},
		Defined: true,
	}, nil
}

// evalBollinger reports %B — where the close sits within the bands — as the
// scalar (0 at the lower band, 1 at the upper), with the bands in Aux.
func evalBollinger(spec Spec, w Window) (Value, error) {
	period := int(spec.Param("period", 20))
	mult := spec.Param("std_dev", 2.0)
	cs := closes(w)
	if period < 2 || len(cs) < period {
		return Value{}, ErrInsufficientData
	}
	tail := cs[len(cs)-period:]
	mid := mean(tail)
	sd := stdev(tail)
	upper := mid + mult*sd
	lower := mid - mult*sd
	last := cs[len(cs)-1]
	pctB := 0.5
	if upper != lower {
		pctB = (last - lower) / (upper - lower)
	}
	return Value{
		Scalar:  pctB,
		Aux:     map[string]float64{"upper": upper, "middle": mid, "lower": lower},
		Defined: true,
	}, nil
}

// evalVolumeSurge is the ratio of the latest bar's volume to the average
// volume of the preceding period bars.
func evalVolumeSurge(spec Spec, w Window) (Value, error) {
	period := int(spec.Param("period", 20))
	if period <= 0 || len(w.Bars) < period+1 {
		return Value{}, ErrInsufficientData
	}
	vols := make([]float64, period)
	n := len(w.Bars)
	for i := 0; i < period; i++ {
		vols[i] = w.Bars[n-1-period+i].Volume
	}
	avg := mean(vols)
	if avg == 0 {
		return Value{}, ErrInsufficientData
	}
	return NewScalar(w.Bars[n-1].Volume / avg), nil
}

// evalVolatility is the sample standard deviation of simple per-bar returns
// over the trailing period. The risk manager reuses this value when sizing
// volatility-scaled positions.
func evalVolatility(spec Spec, w Window) (Value, error) {
	period := int(spec.Param("period", 20))
	cs := closes(w)
	if period < 2 || len(cs) < period+1 {
		return Value{}, ErrInsufficientData
	}
	rets := make([]float64, 0, period)
	for i := len(cs) - period; i < len(cs); i++ {
		if cs[i-1] == 0 {
			return Value{}, ErrInsufficientData
		}
		rets = append(rets, cs[i]/cs[i-1]-1)
	}
	return NewScalar(stdev(rets)), nil
}

// evalValuationRatio is trailing price over earnings per share. Without a
// fundamentals snapshot (or with non-positive earnings) the ratio is
// undefined. Price-to-book rides along in Aux when book value is known.
func evalValuationRatio(w Window) (Value, error) {
	if len(w.Bars) == 0 || w.Fundamentals == nil || w.Fundamentals.EarningsPerShare <= 0 {
		return Value{}, ErrInsufficientData
	}
	last := w.Bars[len(w.Bars)-1].Close
	v := Value{Scalar: last / w.Fundamentals.EarningsPerShare, Defined: true}
	if bv := w.Fundamentals.BookValuePerShare; bv > 0 {
		v.Aux = map[string]float64{"price_to_book": last / bv}
	}
	return v, nil
}

// evalSentimentScore looks up the most recent pre-fetched score within the
// declared staleness tolerance. Stale or absent scores leave the indicator
// undefined rather than reusing old opinions.
func evalSentimentScore(spec Spec, w Window) (Value, error) {
	if len(w.Bars) == 0 {
		return Value{}, ErrInsufficientData
	}
	tolerance := time.Duration(spec.Param("staleness_hours", 24)) * time.Hour
	ts := w.Bars[len(w.Bars)-1].Timestamp
	score, ok := w.Sentiment.At(ts, tolerance)
	if !ok {
		return Value{}, ErrInsufficientData
	}
	return NewScalar(score), nil
}
