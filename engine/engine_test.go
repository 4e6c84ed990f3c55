package engine

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/EpicSanDev/FinAgent-sub002/config"
	"github.com/EpicSanDev/FinAgent-sub002/data"
	"github.com/EpicSanDev/FinAgent-sub002/testutils"
	"github.com/EpicSanDev/FinAgent-sub002/types"
)

// surgeTemplate is a minimal volume-surge strategy: buy when the last bar's
// volume runs 2x past the trailing average, sell when it collapses. A
// 3-bar period keeps the warm-up short.
const surgeTemplate = `
strategy:
  name: %s
  version: "1.0"
  type: momentum
universe: [%s]
analysis:
  technical:
    - id: surge
      type: volume_surge
      parameters:
        period: 3
rules:
  mode: weighted
  buy_conditions:
    indicator: surge
    operator: ">"
    threshold: 2.0
  sell_conditions:
    indicator: surge
    operator: "<"
    threshold: 0.2
risk_management:
  position_sizing:
    method: fixed_percentage
    size: %v
  stop_loss: 0.05
  take_profit: 0.5
  max_drawdown: 0.9
  max_positions: %d
backtesting:
  start_date: "2023-01-02"
  end_date: "2023-02-28"
  initial_capital: 100000
  commission: %v
  slippage: %v
`

func surgeDef(t *testing.T, name, universe string, size float64, maxPositions int, commission, slippageBps float64) *config.StrategyDefinition {
	t.Helper()
	raw := fmt.Sprintf(surgeTemplate, name, universe, size, maxPositions, commission, slippageBps)
	def, err := config.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parsing strategy: %v", err)
	}
	return def
}

func findWarning(report *Report, code, symbol string) *types.Warning {
	for i := range report.Warnings {
		w := &report.Warnings[i]
		if w.Code == code && (symbol == "" || w.Symbol == symbol) {
			return w
		}
	}
	return nil
}

func TestSingleEntryRun(t *testing.T) {
	def := surgeDef(t, "single-entry", "AAPL", 0.5, 2, 0, 0)
	bars := testutils.WithVolumeAt(testutils.FlatSeries("AAPL", 10, 100, 1000), 5, 5000)
	provider := data.NewMemoryProvider(map[string][]types.Bar{"AAPL": bars})

	sim := New(def, provider, Options{Logger: testutils.NewMockLogger()})
	report, err := sim.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Truncated {
		t.Fatal("complete run must not be truncated")
	}
	if sim.State() != Finished {
		t.Fatalf("expected Finished, got %v", sim.State())
	}

	if len(report.Transactions) != 1 {
		t.Fatalf("expected exactly one transaction, got %d", len(report.Transactions))
	}
	tx := report.Transactions[0]
	if tx.Side != types.Buy || tx.Symbol != "AAPL" {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	// Half of 100k at the 100 close.
	if tx.Qty != 500 || tx.FillPrice != 100 {
		t.Fatalf("expected 500 @ 100, got %v @ %v", tx.Qty, tx.FillPrice)
	}
	if !tx.Timestamp.Equal(testutils.Day0.AddDate(0, 0, 5)) {
		t.Fatalf("expected fill on the surge bar, got %v", tx.Timestamp)
	}
	if tx.Forced || tx.Reason != "signal" {
		t.Fatalf("signal fill mislabelled: %+v", tx)
	}

	if len(report.EquityCurve) != 10 {
		t.Fatalf("expected one equity point per bar, got %d", len(report.EquityCurve))
	}
	for i, p := range report.EquityCurve {
		if p.Value != 100_000 {
			t.Fatalf("flat-price run must hold equity constant, point %d = %v", i, p.Value)
		}
		if i > 0 && !p.Timestamp.After(report.EquityCurve[i-1].Timestamp) {
			t.Fatalf("equity timestamps not strictly increasing at %d", i)
		}
	}
	if report.Summary.FinalEquity != 100_000 || report.Summary.TotalTrades != 1 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}

	// The warm-up bars cannot compute the surge yet.
	if findWarning(report, "insufficient_data", "AAPL") == nil {
		t.Fatal("expected warm-up insufficient_data warnings")
	}
}

func TestStopLossForcesExit(t *testing.T) {
	def := surgeDef(t, "stop-loss", "AAPL", 0.5, 2, 0, 0)
	bars := testutils.FlatSeries("AAPL", 10, 100, 1000)
	bars = testutils.WithVolumeAt(bars, 3, 5000) // entry on bar 3
	bars = testutils.WithCloseAt(bars, 5, 90)    // 10% drop breaches the 5% stop
	provider := data.NewMemoryProvider(map[string][]types.Bar{"AAPL": bars})

	report, err := New(def, provider, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Transactions) != 2 {
		t.Fatalf("expected entry and forced exit, got %d transactions", len(report.Transactions))
	}
	exit := report.Transactions[1]
	if exit.Side != types.Sell || !exit.Forced || exit.Reason != "stop_loss" {
		t.Fatalf("unexpected exit %+v", exit)
	}
	if exit.Qty != 500 || exit.FillPrice != 90 {
		t.Fatalf("expected full flatten 500 @ 90, got %v @ %v", exit.Qty, exit.FillPrice)
	}
	if !exit.Timestamp.Equal(testutils.Day0.AddDate(0, 0, 5)) {
		t.Fatalf("exit must settle on the breach bar, got %v", exit.Timestamp)
	}

	// 500 shares bought at 100, stopped at 90: 5k realized loss.
	final := report.EquityCurve[len(report.EquityCurve)-1].Value
	if final != 95_000 {
		t.Fatalf("expected final equity 95000, got %v", final)
	}
	if report.Summary.LosingTrades != 1 || report.Summary.WinningTrades != 0 {
		t.Fatalf("unexpected trade tally %+v", report.Summary)
	}

	for i := 1; i < len(report.Transactions); i++ {
		if report.Transactions[i].Timestamp.Before(report.Transactions[i-1].Timestamp) {
			t.Fatalf("transaction log out of order at %d", i)
		}
	}
}

func TestMaxPositionsRejectsSecondSymbol(t *testing.T) {
	def := surgeDef(t, "one-slot", "AAPL, MSFT", 0.5, 1, 0, 0)
	aapl := testutils.WithVolumeAt(testutils.FlatSeries("AAPL", 10, 100, 1000), 5, 5000)
	msft := testutils.WithVolumeAt(testutils.FlatSeries("MSFT", 10, 50, 1000), 5, 5000)
	provider := data.NewMemoryProvider(map[string][]types.Bar{"AAPL": aapl, "MSFT": msft})

	report, err := New(def, provider, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Transactions) != 1 {
		t.Fatalf("expected a single fill, got %d", len(report.Transactions))
	}
	// Universe declaration order breaks the tie.
	if report.Transactions[0].Symbol != "AAPL" {
		t.Fatalf("expected the first-declared symbol to win, got %s", report.Transactions[0].Symbol)
	}
	w := findWarning(report, "rejected", "MSFT")
	if w == nil {
		t.Fatal("expected a rejection warning for MSFT")
	}
	if want := "rejected: max_positions"; len(w.Message) < len(want) || w.Message[:len(want)] != want {
		t.Fatalf("unexpected rejection message %q", w.Message)
	}
}

func TestQuietStrategyStaysFlat(t *testing.T) {
	def := surgeDef(t, "quiet", "AAPL", 0.5, 2, 0, 0)
	provider := data.NewMemoryProvider(map[string][]types.Bar{
		"AAPL": testutils.FlatSeries("AAPL", 10, 100, 1000),
	})

	report, err := New(def, provider, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Transactions) != 0 {
		t.Fatalf("expected no transactions, got %d", len(report.Transactions))
	}
	for _, p := range report.EquityCurve {
		if p.Value != 100_000 {
			t.Fatalf("idle run must hold initial capital, got %v", p.Value)
		}
	}
	if report.Summary.TotalReturn != 0 || report.Summary.TotalTrades != 0 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}
	if findWarning(report, "metrics", "") == nil {
		t.Fatal("expected the zero-trade metrics warning")
	}
}

// cancelAfter is a context whose Err trips after a fixed number of polls.
// The run loop polls once per bar, which makes the cancellation bar exact.
type cancelAfter struct {
	context.Context
	remaining int
}

func (c *cancelAfter) Err() error {
	if c.remaining <= 0 {
		return context.Canceled
	}
	c.remaining--
	return nil
}

func TestCancellationTruncatesReport(t *testing.T) {
	def := surgeDef(t, "cancelled", "AAPL", 0.5, 2, 0, 0)
	bars := testutils.WithVolumeAt(testutils.FlatSeries("AAPL", 10, 100, 1000), 3, 5000)
	provider := data.NewMemoryProvider(map[string][]types.Bar{"AAPL": bars})

	ctx := &cancelAfter{Context: context.Background(), remaining: 5}
	sim := New(def, provider, Options{})
	report, err := sim.Run(ctx)
	if err != nil {
		t.Fatalf("cancelled run must still return a report, got error %v", err)
	}
	if !report.Truncated {
		t.Fatal("expected a truncated report")
	}
	if sim.State() != Cancelled {
		t.Fatalf("expected Cancelled, got %v", sim.State())
	}
	if len(report.EquityCurve) != 5 {
		t.Fatalf("expected 5 bars before cancellation, got %d", len(report.EquityCurve))
	}
	if findWarning(report, "cancelled", "") == nil {
		t.Fatal("expected a cancellation warning")
	}

	// The entry on bar 3 settled before the cut; the partial state must
	// still balance.
	if len(report.Transactions) != 1 {
		t.Fatalf("expected the bar-3 entry, got %d transactions", len(report.Transactions))
	}
	last := report.EquityCurve[len(report.EquityCurve)-1].Value
	if last != 100_000 {
		t.Fatalf("truncated equity must still balance, got %v", last)
	}
}

func TestIdenticalRunsProduceIdenticalReports(t *testing.T) {
	bars := testutils.FlatSeries("AAPL", 10, 100, 1000)
	bars = testutils.WithVolumeAt(bars, 3, 5000)
	bars = testutils.WithCloseAt(bars, 5, 90)
	provider := data.NewMemoryProvider(map[string][]types.Bar{"AAPL": bars})

	run := func() *Report {
		def := surgeDef(t, "repeatable", "AAPL", 0.5, 2, 0.001, 10)
		report, err := New(def, provider, Options{Workers: 4}).Run(context.Background())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return report
	}
	first, second := run(), run()
	if first.RunID == "" || first.RunID != second.RunID {
		t.Fatalf("run ids must be stable, got %q and %q", first.RunID, second.RunID)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical configurations must produce byte-identical reports")
	}
}

func TestTransactionReplayMatchesEquity(t *testing.T) {
	def := surgeDef(t, "replay", "AAPL", 0.5, 2, 0.001, 10)
	bars := testutils.FlatSeries("AAPL", 10, 100, 1000)
	bars = testutils.WithVolumeAt(bars, 3, 5000)
	bars = testutils.WithCloseAt(bars, 5, 90)
	provider := data.NewMemoryProvider(map[string][]types.Bar{"AAPL": bars})

	report, err := New(def, provider, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Transactions) == 0 {
		t.Fatal("expected transactions to replay")
	}

	cash := 100_000.0
	qty := 0.0
	for _, tx := range report.Transactions {
		switch tx.Side {
		case types.Buy:
			cash -= tx.FillPrice*tx.Qty + tx.Commission
			qty += tx.Qty
		case types.Sell:
			cash += tx.FillPrice*tx.Qty - tx.Commission
			qty -= tx.Qty
		}
	}
	lastClose := bars[len(bars)-1].Close
	replayed := cash + qty*lastClose
	final := report.EquityCurve[len(report.EquityCurve)-1].Value
	if math.Abs(replayed-final) > 1e-6 {
		t.Fatalf("replayed equity %v does not match reported %v", replayed, final)
	}
}

func TestMissingBarWarnsAndSkips(t *testing.T) {
	def := surgeDef(t, "gappy", "AAPL, MSFT", 0.5, 2, 0, 0)
	aapl := testutils.FlatSeries("AAPL", 10, 100, 1000)
	msft := testutils.DropBar(testutils.FlatSeries("MSFT", 10, 50, 1000), 4)
	provider := data.NewMemoryProvider(map[string][]types.Bar{"AAPL": aapl, "MSFT": msft})

	report, err := New(def, provider, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	w := findWarning(report, "missing_bar", "MSFT")
	if w == nil {
		t.Fatal("expected a missing_bar warning for MSFT")
	}
	if !w.Timestamp.Equal(testutils.Day0.AddDate(0, 0, 4)) {
		t.Fatalf("warning on the wrong bar: %v", w.Timestamp)
	}
	// The union timeline still covers every AAPL bar.
	if len(report.EquityCurve) != 10 {
		t.Fatalf("expected 10 bars, got %d", len(report.EquityCurve))
	}
}

func TestUnavailableSymbolIsSkipped(t *testing.T) {
	def := surgeDef(t, "partial-universe", "AAPL, NOPE", 0.5, 2, 0, 0)
	provider := data.NewMemoryProvider(map[string][]types.Bar{
		"AAPL": testutils.FlatSeries("AAPL", 10, 100, 1000),
	})

	report, err := New(def, provider, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("a dead symbol must not abort the run: %v", err)
	}
	if findWarning(report, "data_unavailable", "NOPE") == nil {
		t.Fatal("expected a data_unavailable warning for NOPE")
	}
	if len(report.EquityCurve) != 10 {
		t.Fatalf("remaining universe must still run, got %d bars", len(report.EquityCurve))
	}
}

func TestSimulatorIsSingleUse(t *testing.T) {
	def := surgeDef(t, "single-use", "AAPL", 0.5, 2, 0, 0)
	provider := data.NewMemoryProvider(map[string][]types.Bar{
		"AAPL": testutils.FlatSeries("AAPL", 5, 100, 1000),
	})
	sim := New(def, provider, Options{})
	if _, err := sim.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := sim.Run(context.Background()); err == nil {
		t.Fatal("second run must be refused")
	}
}

func TestSweepOrdersReportsByInput(t *testing.T) {
	provider := data.NewMemoryProvider(map[string][]types.Bar{
		"AAPL": testutils.WithVolumeAt(testutils.FlatSeries("AAPL", 10, 100, 1000), 5, 5000),
	})
	defs := []*config.StrategyDefinition{
		surgeDef(t, "sweep-a", "AAPL", 0.5, 2, 0, 0),
		surgeDef(t, "sweep-b", "AAPL", 0.25, 2, 0, 0),
	}
	reports := Sweep(context.Background(), defs, provider, Options{})
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].Strategy != "sweep-a" || reports[1].Strategy != "sweep-b" {
		t.Fatalf("reports out of input order: %s, %s", reports[0].Strategy, reports[1].Strategy)
	}
	// Different sizing, different fills.
	if reports[0].Transactions[0].Qty != 500 || reports[1].Transactions[0].Qty != 250 {
		t.Fatalf("unexpected sweep quantities %v / %v",
			reports[0].Transactions[0].Qty, reports[1].Transactions[0].Qty)
	}
}
