package indicator

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/EpicSanDev/FinAgent-sub002/data"
	"github.com/EpicSanDev/FinAgent-sub002/types"
)

var t0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func dailyBars(closes []float64, volume float64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		bars[i] = types.Bar{
			Symbol:    "TEST",
			Timestamp: t0.AddDate(0, 0, i),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    volume,
		}
	}
	return bars
}

func TestParseKind(t *testing.T) {
	for _, name := range []string{"sma", "ema", "rsi", "mfi", "macd", "bollinger", "volume_surge", "volatility", "valuation_ratio", "sentiment_score"} {
		if _, err := ParseKind(name); err != nil {
			t.Errorf("ParseKind(%q) failed: %v", name, err)
		}
	}
	if _, err := ParseKind("fibonacci"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestSMA(t *testing.T) {
	w := Window{Bars: dailyBars([]float64{1, 2, 3, 4, 5, 6}, 100)}
	v, err := Evaluate(Spec{ID: "sma", Kind: KindSMA, Params: map[string]float64{"period": 3}}, w)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if v.Scalar != 5 { // mean of 4,5,6
		t.Fatalf("expected SMA 5, got %v", v.Scalar)
	}
}

func TestShortWindowIsUndefinedNotFatal(t *testing.T) {
	w := Window{Bars: dailyBars([]float64{1, 2}, 100)}
	for _, spec := range []Spec{
		{ID: "sma", Kind: KindSMA, Params: map[string]float64{"period": 20}},
		{ID: "ema", Kind: KindEMA},
		{ID: "rsi", Kind: KindRSI},
		{ID: "mfi", Kind: KindMFI},
		{ID: "macd", Kind: KindMACD},
		{ID: "boll", Kind: KindBollinger},
		{ID: "vs", Kind: KindVolumeSurge},
		{ID: "vol", Kind: KindVolatility},
	} {
		v, err := Evaluate(spec, w)
		if !errors.Is(err, ErrInsufficientData) {
			t.Errorf("%s: expected ErrInsufficientData, got %v", spec.ID, err)
		}
		if v.Defined {
			t.Errorf("%s: short window must be undefined", spec.ID)
		}
	}
}

func TestEvaluateIsPure(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + 3*math.Sin(float64(i)/4)
	}
	w := Window{Bars: dailyBars(closes, 1000)}
	for _, spec := range []Spec{
		{ID: "sma", Kind: KindSMA},
		{ID: "ema", Kind: KindEMA},
		{ID: "macd", Kind: KindMACD},
		{ID: "boll", Kind: KindBollinger},
		{ID: "vs", Kind: KindVolumeSurge},
		{ID: "vol", Kind: KindVolatility},
	} {
		v1, err1 := Evaluate(spec, w)
		v2, err2 := Evaluate(spec, w)
		if err1 != nil || err2 != nil {
			t.Fatalf("%s: unexpected errors %v / %v", spec.ID, err1, err2)
		}
		if !reflect.DeepEqual(v1, v2) {
			t.Errorf("%s: two evaluations differ: %+v vs %+v", spec.ID, v1, v2)
		}
	}
}

func TestVolumeSurge(t *testing.T) {
	bars := dailyBars([]float64{1, 1, 1, 1, 1, 1}, 100)
	bars[len(bars)-1].Volume = 250
	w := Window{Bars: bars}
	v, err := Evaluate(Spec{ID: "vs", Kind: KindVolumeSurge, Params: map[string]float64{"period": 5}}, w)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if math.Abs(v.Scalar-2.5) > 1e-9 {
		t.Fatalf("expected surge ratio 2.5, got %v", v.Scalar)
	}
}

func TestBollingerPercentB(t *testing.T) {
	// Flat tail then a dip: the close sits well below the middle band.
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100
	}
	closes[len(closes)-1] = 90
	w := Window{Bars: dailyBars(closes, 100)}
	v, err := Evaluate(Spec{ID: "boll", Kind: KindBollinger}, w)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if v.Scalar >= 0.5 {
		t.Fatalf("expected %%B below 0.5 after a dip, got %v", v.Scalar)
	}
	if v.Aux["upper"] <= v.Aux["middle"] || v.Aux["middle"] <= v.Aux["lower"] {
		t.Fatalf("band ordering broken: %+v", v.Aux)
	}
}

func TestMACDHistogramSign(t *testing.T) {
	// A steady uptrend keeps the MACD line above its signal line.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	w := Window{Bars: dailyBars(closes, 100)}
	v, err := Evaluate(Spec{ID: "macd", Kind: KindMACD}, w)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if v.Aux["macd"] <= 0 {
		t.Fatalf("expected positive MACD line in uptrend, got %v", v.Aux["macd"])
	}
}

func TestVolatilityOfFlatSeriesIsZero(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 50
	}
	w := Window{Bars: dailyBars(closes, 100)}
	v, err := Evaluate(Spec{ID: "vol", Kind: KindVolatility}, w)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if v.Scalar != 0 {
		t.Fatalf("flat series must have zero volatility, got %v", v.Scalar)
	}
}

func TestValuationRatio(t *testing.T) {
	w := Window{
		Bars:         dailyBars([]float64{50}, 100),
		Fundamentals: &data.Fundamentals{EarningsPerShare: 5, BookValuePerShare: 25},
	}
	v, err := Evaluate(Spec{ID: "pe", Kind: KindValuationRatio}, w)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if v.Scalar != 10 {
		t.Fatalf("expected P/E 10, got %v", v.Scalar)
	}
	if v.Aux["price_to_book"] != 2 {
		t.Fatalf("expected P/B 2, got %v", v.Aux["price_to_book"])
	}

	// No fundamentals: undefined, not fatal.
	w.Fundamentals = nil
	v, err = Evaluate(Spec{ID: "pe", Kind: KindValuationRatio}, w)
	if !errors.Is(err, ErrInsufficientData) || v.Defined {
		t.Fatalf("expected undefined without fundamentals, got %+v / %v", v, err)
	}
}

func TestSentimentScoreStaleness(t *testing.T) {
	bars := dailyBars([]float64{100, 100, 100, 100, 100}, 100)
	fresh := data.NewSentimentSeries([]data.ScorePoint{
		{Timestamp: bars[4].Timestamp.Add(-2 * time.Hour), Score: 0.8},
	})
	stale := data.NewSentimentSeries([]data.ScorePoint{
		{Timestamp: bars[4].Timestamp.Add(-72 * time.Hour), Score: 0.8},
	})
	spec := Spec{ID: "news", Kind: KindSentimentScore, Params: map[string]float64{"staleness_hours": 24}}

	v, err := Evaluate(spec, Window{Bars: bars, Sentiment: fresh})
	if err != nil || !v.Defined || v.Scalar != 0.8 {
		t.Fatalf("expected fresh score 0.8, got %+v / %v", v, err)
	}
	v, err = Evaluate(spec, Window{Bars: bars, Sentiment: stale})
	if !errors.Is(err, ErrInsufficientData) || v.Defined {
		t.Fatalf("stale score must be undefined, got %+v / %v", v, err)
	}
}
