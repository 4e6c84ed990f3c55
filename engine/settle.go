package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/EpicSanDev/FinAgent-sub002/logger"
	"github.com/EpicSanDev/FinAgent-sub002/metrics"
	"github.com/EpicSanDev/FinAgent-sub002/risk"
	"github.com/EpicSanDev/FinAgent-sub002/types"
)

// order walks the evaluation results in universe declaration order and
// passes each non-hold signal through the risk manager. Declaration order
// is the deterministic tie-break when symbols compete for a shared
// constraint such as max_positions. Approvals run against a projection of
// the portfolio that accrues each approved order, so a later symbol's gates
// see the slots and cash already claimed earlier in the same bar.
func (s *Simulator) order(ts time.Time, results []symbolResult, exited map[string]bool) []*types.Order {
	var orders []*types.Order
	proj := s.pf.Clone()
	for i := range results {
		res := &results[i]
		s.warnings = append(s.warnings, res.warnings...)
		if !res.hasBar || exited[res.symbol] || res.sig.Direction == types.DirectionHold {
			continue
		}
		o, err := s.riskMgr.Approve(res.sig, proj, res.bar.Close, res.vol)
		if err != nil {
			var rej *risk.RejectionError
			if errors.As(err, &rej) {
				s.warn(res.symbol, ts, "rejected", fmt.Sprintf("rejected: %s (%s)", rej.Reason, rej.Detail))
				metrics.OrdersRejected.WithLabelValues(s.def.Name, rej.Reason).Inc()
			} else {
				s.warn(res.symbol, ts, "rejected", err.Error())
				metrics.OrdersRejected.WithLabelValues(s.def.Name, "unknown").Inc()
			}
			continue
		}
		if o != nil {
			project(proj, o)
			orders = append(orders, o)
		}
	}
	return orders
}

// project applies an approved order to the projection at its reference
// price. Slippage and commission are settlement concerns; settle re-checks
// the exact cash cost before filling.
func project(pf *types.PortfolioState, o *types.Order) {
	switch o.Side {
	case types.Buy:
		pf.Cash -= o.Qty * o.Price
		pos, held := pf.Positions[o.Symbol]
		if !held {
			pos = &types.Position{Symbol: o.Symbol, OpenedAt: o.Timestamp}
			pf.Positions[o.Symbol] = pos
		}
		totalQty := pos.Qty + o.Qty
		pos.AvgCost = (pos.AvgCost*pos.Qty + o.Price*o.Qty) / totalQty
		pos.Qty = totalQty
		pos.Mark = o.Price
	case types.Sell:
		pos, held := pf.Positions[o.Symbol]
		if !held {
			return
		}
		pf.Cash += o.Qty * o.Price
		pos.Qty -= o.Qty
		if pos.Qty <= 0 {
			delete(pf.Positions, o.Symbol)
		}
	}
}

// settle applies one order to the portfolio: slippage against the trade
// direction, then commission on the slipped notional. The fill becomes a
// transaction and the position's average cost tracks the volume-weighted
// fill prices.
func (s *Simulator) settle(o *types.Order) {
	fill := s.slippage.apply(o.Price, o.Side)
	notional := fill * o.Qty
	commission := s.def.Backtest.Commission * notional

	switch o.Side {
	case types.Buy:
		cost := notional + commission
		if cost > s.pf.Cash {
			s.warn(o.Symbol, o.Timestamp, "rejected",
				fmt.Sprintf("rejected: %s (fill cost %.2f exceeds cash %.2f)", risk.ReasonInsufficientFunds, cost, s.pf.Cash))
			metrics.OrdersRejected.WithLabelValues(s.def.Name, risk.ReasonInsufficientFunds).Inc()
			return
		}
		s.pf.Cash -= cost
		pos, held := s.pf.Positions[o.Symbol]
		if !held {
			pos = &types.Position{Symbol: o.Symbol, OpenedAt: o.Timestamp}
			s.pf.Positions[o.Symbol] = pos
		}
		totalQty := pos.Qty + o.Qty
		pos.AvgCost = (pos.AvgCost*pos.Qty + fill*o.Qty) / totalQty
		pos.Qty = totalQty
		pos.Mark = fill
	case types.Sell:
		pos, held := s.pf.Positions[o.Symbol]
		if !held || pos.Qty < o.Qty {
			s.warn(o.Symbol, o.Timestamp, "rejected", "rejected: position smaller than sell quantity")
			return
		}
		s.pf.Cash += notional - commission
		realized := (fill-pos.AvgCost)*o.Qty - commission
		s.riskMgr.RecordTrade(realized)
		pos.Qty -= o.Qty
		if pos.Qty == 0 {
			delete(s.pf.Positions, o.Symbol)
		}
	}

	s.txSeq++
	tx := types.Transaction{
		ID:         uuid.NewSHA1(s.runID, []byte(fmt.Sprintf("tx-%d", s.txSeq))).String(),
		Symbol:     o.Symbol,
		Side:       o.Side,
		Qty:        o.Qty,
		FillPrice:  fill,
		Commission: commission,
		Timestamp:  o.Timestamp,
		SignalRef:  o.SignalRef,
		Forced:     o.Forced,
		Reason:     o.Reason,
	}
	s.txs = append(s.txs, tx)
	metrics.OrdersSubmitted.WithLabelValues(s.def.Name).Inc()
	s.log.Info("fill",
		logger.String("symbol", tx.Symbol),
		logger.String("side", string(tx.Side)),
		logger.Float64("qty", tx.Qty),
		logger.Float64("price", tx.FillPrice),
		logger.String("reason", tx.Reason),
	)
}

// slippageModel applies the configured basis points against the trade
// direction, optionally jittered by an explicitly seeded source. With a
// zero seed the adjustment is constant and reports stay byte-identical
// across runs.
type slippageModel struct {
	bps float64
	rng *rand.Rand
}

func newSlippageModel(bps float64, seed int64) *slippageModel {
	m := &slippageModel{bps: bps}
	if seed != 0 {
		m.rng = rand.New(rand.NewSource(seed))
	}
	return m
}

func (m *slippageModel) apply(price float64, side types.Side) float64 {
	bps := m.bps
	if m.rng != nil {
		// Uniform jitter in [0.5, 1.5] of the configured slippage.
		bps *= 0.5 + m.rng.Float64()
	}
	adj := price * bps / 10_000
	if side == types.Buy {
		return price + adj
	}
	return price - adj
}
