// Package engine drives the discrete-event backtest: one sequential loop
// over historical bars, with a bounded parallel fan-out for per-symbol
// evaluation inside each bar. The portfolio state is owned exclusively by
// one Simulator instance and mutated only from the driver goroutine, which
// is what keeps runs deterministic and parameter sweeps trivially safe to
// parallelize at the run level.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/EpicSanDev/FinAgent-sub002/config"
	"github.com/EpicSanDev/FinAgent-sub002/data"
	"github.com/EpicSanDev/FinAgent-sub002/logger"
	"github.com/EpicSanDev/FinAgent-sub002/metrics"
	"github.com/EpicSanDev/FinAgent-sub002/risk"
	"github.com/EpicSanDev/FinAgent-sub002/signal"
	"github.com/EpicSanDev/FinAgent-sub002/stats"
	"github.com/EpicSanDev/FinAgent-sub002/types"
)

// State is the simulator's lifecycle position. Transitions are linear per
// bar (Evaluating → Ordering → Settling) with Cancelled reachable at any
// bar boundary.
type State int

const (
	Idle State = iota
	Evaluating
	Ordering
	Settling
	Finished
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Evaluating:
		return "evaluating"
	case Ordering:
		return "ordering"
	case Settling:
		return "settling"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Report is the complete output of one run, handed off exactly once at the
// end (or at cancellation, with Truncated set).
type Report struct {
	RunID        string
	Strategy     string
	EquityCurve  []types.EquityPoint
	Transactions []types.Transaction
	Warnings     []types.Warning
	Summary      stats.Summary
	Truncated    bool
}

// Options tune a run without touching the strategy definition.
type Options struct {
	// Workers caps the per-bar evaluation fan-out; zero means one worker
	// per universe symbol.
	Workers int
	// Timeout bounds the run's wall clock; zero disables it. A timeout is
	// just another cancellation source: the run still produces a truncated
	// report.
	Timeout time.Duration
	// Sentiment and Fundamentals are optional collaborators; strategies
	// that declare sentiment or valuation indicators need them, everything
	// else runs without.
	Sentiment    data.SentimentProvider
	Fundamentals data.FundamentalsProvider
	Logger       logger.Logger
}

// Simulator executes one backtest run. Instances are single-use: construct,
// Run once, read the report.
type Simulator struct {
	def     *config.StrategyDefinition
	bars    data.BarProvider
	opts    Options
	log     logger.Logger
	runID   uuid.UUID
	gen     *signal.Generator
	riskMgr *risk.Manager

	state    State
	pf       *types.PortfolioState
	curve    []types.EquityPoint
	txs      []types.Transaction
	warnings []types.Warning
	txSeq    int
	slippage *slippageModel
}

// New wires a Simulator for the given validated strategy.
func New(def *config.StrategyDefinition, bars data.BarProvider, opts Options) *Simulator {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Simulator{
		def:      def,
		bars:     bars,
		opts:     opts,
		log:      log,
		runID:    runUUID(def),
		gen:      signal.NewGenerator(def.Mode),
		riskMgr:  risk.NewManager(def.Risk, log),
		state:    Idle,
		pf:       types.NewPortfolioState(def.Backtest.InitialCapital),
		slippage: newSlippageModel(def.Backtest.SlippageBps, def.Backtest.JitterSeed),
	}
}

// State reports the simulator's current lifecycle state.
func (s *Simulator) State() State { return s.state }

// Run materializes the data, steps through every bar, and assembles the
// report. Bar-local failures degrade to warnings; only a context trigger
// ends the run early, and even then the partial report is well-formed.
func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	if s.state != Idle {
		return nil, fmt.Errorf("simulator already ran (state %s)", s.state)
	}
	started := time.Now()
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	series := s.loadSeries(ctx)
	timeline := buildTimeline(series)
	s.log.Info("run_started",
		logger.String("run_id", s.runID.String()),
		logger.String("strategy", s.def.Name),
		logger.Int("symbols", len(series)),
		logger.Int("bars", len(timeline)),
	)

	truncated := false
	for _, ts := range timeline {
		// Cancellation is cooperative and checked once per bar boundary,
		// so a bar's evaluation always completes atomically.
		if ctx.Err() != nil {
			s.state = Cancelled
			truncated = true
			s.warn("", ts, "cancelled", fmt.Sprintf("run cancelled: %v", ctx.Err()))
			break
		}
		s.step(ts, series)
		metrics.BarsProcessed.WithLabelValues(s.def.Name).Inc()
	}
	if s.state != Cancelled {
		s.state = Finished
	}

	summary, statWarnings := stats.Compute(s.curve, s.txs, s.def.Backtest.InitialCapital)
	s.warnings = append(s.warnings, statWarnings...)

	outcome := "finished"
	if truncated {
		outcome = "cancelled"
	}
	metrics.RunsCompleted.WithLabelValues(s.def.Name, outcome).Inc()
	metrics.RunDuration.WithLabelValues(s.def.Name).Observe(time.Since(started).Seconds())
	s.log.Info("run_complete",
		logger.String("run_id", s.runID.String()),
		logger.String("outcome", outcome),
		logger.Int("transactions", len(s.txs)),
		logger.Float64("final_equity", summary.FinalEquity),
	)

	return &Report{
		RunID:        s.runID.String(),
		Strategy:     s.def.Name,
		EquityCurve:  s.curve,
		Transactions: s.txs,
		Warnings:     s.warnings,
		Summary:      summary,
		Truncated:    truncated,
	}, nil
}

// step runs one bar through the full pipeline: mark, forced exits,
// evaluate, order, settle, record.
func (s *Simulator) step(ts time.Time, series []*symbolSeries) {
	s.pf.Timestamp = ts

	// Mark open positions to this bar's close before anything reads
	// portfolio value.
	for _, sym := range series {
		bar, ok := sym.at(ts)
		if !ok {
			continue
		}
		if pos, held := s.pf.Positions[sym.symbol]; held {
			pos.Mark = bar.Close
		}
	}
	s.riskMgr.UpdateEquity(s.pf.TotalValue())

	// Stop-loss/take-profit exits run every bar, independent of the rule
	// trees, and bypass the entry gates.
	exited := s.forcedExits(ts, series)

	s.state = Evaluating
	results := s.evaluate(ts, series)

	s.state = Ordering
	orders := s.order(ts, results, exited)

	s.state = Settling
	for _, o := range orders {
		s.settle(o)
	}

	value := s.pf.TotalValue()
	s.curve = append(s.curve, types.EquityPoint{Timestamp: ts, Value: value})
	metrics.EquityGauge.WithLabelValues(s.def.Name).Set(value)
}

// forcedExits settles stop/take-profit sells in universe order and returns
// the symbols flattened this bar, which are excluded from signal-driven
// ordering until the next bar.
func (s *Simulator) forcedExits(ts time.Time, series []*symbolSeries) map[string]bool {
	exited := make(map[string]bool)
	for _, sym := range series {
		bar, ok := sym.at(ts)
		if !ok {
			continue
		}
		pos, held := s.pf.Positions[sym.symbol]
		if !held {
			continue
		}
		if o := s.riskMgr.CheckExit(pos, bar); o != nil {
			s.settle(o)
			metrics.ForcedExits.WithLabelValues(s.def.Name, o.Reason).Inc()
			exited[sym.symbol] = true
		}
	}
	return exited
}

func (s *Simulator) warn(symbol string, ts time.Time, code, msg string) {
	s.warnings = append(s.warnings, types.Warning{
		Symbol:    symbol,
		Timestamp: ts,
		Code:      code,
		Message:   msg,
	})
}

// runUUID derives a stable run identifier from the strategy identity and
// window, so identical configurations produce byte-identical reports.
func runUUID(def *config.StrategyDefinition) uuid.UUID {
	seed := fmt.Sprintf("%s/%s/%s/%s",
		def.Name, def.Version,
		def.Backtest.Start.UTC().Format(time.RFC3339),
		def.Backtest.End.UTC().Format(time.RFC3339),
	)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
}

// ---------------------------------------------------------------------------
// Data materialization
// ---------------------------------------------------------------------------

// symbolSeries is one symbol's pre-materialized history plus its external
// series. Tasks in the evaluating phase read only their own series.
type symbolSeries struct {
	symbol       string
	bars         []types.Bar
	index        map[int64]int // unix-nano → bar index
	sentiment    *data.SentimentSeries
	fundamentals *data.Fundamentals
}

func (ss *symbolSeries) at(ts time.Time) (types.Bar, bool) {
	i, ok := ss.index[ts.UnixNano()]
	if !ok {
		return types.Bar{}, false
	}
	return ss.bars[i], true
}

// window is the symbol's history up to and including ts.
func (ss *symbolSeries) window(ts time.Time) ([]types.Bar, bool) {
	i, ok := ss.index[ts.UnixNano()]
	if !ok {
		return nil, false
	}
	return ss.bars[:i+1], true
}

// loadSeries fetches bars and external series for every universe symbol,
// in declaration order. A symbol whose provider fails is skipped with a
// warning; it never aborts the run.
func (s *Simulator) loadSeries(ctx context.Context) []*symbolSeries {
	bt := s.def.Backtest
	var out []*symbolSeries
	for _, symbol := range s.def.Universe {
		bars, err := s.bars.GetHistoricalBars(ctx, symbol, bt.Timeframe, bt.Start, bt.End)
		if err != nil {
			s.warn(symbol, bt.Start, "data_unavailable", fmt.Sprintf("no bars: %v", err))
			continue
		}
		ss := &symbolSeries{
			symbol: symbol,
			bars:   bars,
			index:  make(map[int64]int, len(bars)),
		}
		for i, b := range bars {
			ss.index[b.Timestamp.UnixNano()] = i
		}
		if s.opts.Sentiment != nil {
			if series, err := s.opts.Sentiment.GetScores(ctx, symbol, bt.Start, bt.End); err != nil {
				s.warn(symbol, bt.Start, "sentiment_unavailable", err.Error())
			} else {
				ss.sentiment = series
			}
		}
		if s.opts.Fundamentals != nil {
			if f, err := s.opts.Fundamentals.GetFundamentals(ctx, symbol); err != nil {
				s.warn(symbol, bt.Start, "fundamentals_unavailable", err.Error())
			} else {
				ss.fundamentals = f
			}
		}
		out = append(out, ss)
	}

	// Bars missing inside a symbol's own range are gaps: skipped with a
	// warning, never interpolated.
	timeline := buildTimeline(out)
	for _, ss := range out {
		if len(ss.bars) == 0 {
			continue
		}
		first, last := ss.bars[0].Timestamp, ss.bars[len(ss.bars)-1].Timestamp
		for _, ts := range timeline {
			if ts.Before(first) || ts.After(last) {
				continue
			}
			if _, ok := ss.index[ts.UnixNano()]; !ok {
				s.warn(ss.symbol, ts, "missing_bar", "bar absent from series, symbol skipped this bar")
			}
		}
	}
	return out
}

// buildTimeline is the sorted union of every symbol's bar timestamps.
func buildTimeline(series []*symbolSeries) []time.Time {
	seen := make(map[int64]time.Time)
	for _, ss := range series {
		for _, b := range ss.bars {
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
