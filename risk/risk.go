// Package risk converts trading signals into sized orders, or rejects them.
// One Manager instance belongs to one simulator run: it tracks the run's
// equity peak for the drawdown kill-switch and the realized trade record
// that feeds kelly sizing.
package risk

import (
	"fmt"
	"math"

	"github.com/EpicSanDev/FinAgent-sub002/config"
	"github.com/EpicSanDev/FinAgent-sub002/indicator"
	"github.com/EpicSanDev/FinAgent-sub002/logger"
	"github.com/EpicSanDev/FinAgent-sub002/types"
)

// Rejection reasons, machine readable so warnings stay auditable.
const (
	ReasonMaxPositions      = "max_positions"
	ReasonMaxDrawdown       = "max_drawdown"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonZeroQuantity      = "zero_quantity"
)

// RejectionError reports why a specific order was not placed. Rejections
// never abort a run; the simulator records them and moves on.
type RejectionError struct {
	Symbol string
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected for %s: %s (%s)", e.Symbol, e.Reason, e.Detail)
}

// volBaseline is the per-bar return volatility at which volatility-based
// sizing equals fixed-percentage sizing; higher volatility scales the
// position down proportionally.
const volBaseline = 0.02

// kellyMinTrades is how many closed trades kelly sizing needs before it
// trusts the running win/loss record; below that it uses the fixed size.
const kellyMinTrades = 10

// Manager applies position sizing and the entry gates. Exits are always
// allowed; only new entries are gated.
type Manager struct {
	params config.RiskParams
	log    logger.Logger

	peakEquity float64
	killSwitch bool

	wins, losses        int
	grossWin, grossLoss float64
}

// NewManager creates a Manager for one run.
func NewManager(params config.RiskParams, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{params: params, log: log}
}

// UpdateEquity feeds the marked portfolio value once per bar. Once the
// peak-to-current drawdown breaches max_drawdown the kill-switch latches
// for the rest of the run: no new entries, exits still permitted.
func (m *Manager) UpdateEquity(value float64) {
	if value > m.peakEquity {
		m.peakEquity = value
	}
	if m.killSwitch || m.peakEquity <= 0 {
		return
	}
	dd := (m.peakEquity - value) / m.peakEquity
	if dd >= m.params.MaxDrawdown {
		m.killSwitch = true
		m.log.Warn("max_drawdown_breached",
			logger.Float64("drawdown", dd),
			logger.Float64("limit", m.params.MaxDrawdown),
		)
	}
}

// KillSwitchActive reports whether the drawdown gate has latched.
func (m *Manager) KillSwitchActive() bool { return m.killSwitch }

// RecordTrade feeds the realized profit of a closed trade into the running
// record kelly sizing draws from.
func (m *Manager) RecordTrade(pnl float64) {
	if pnl >= 0 {
		m.wins++
		m.grossWin += pnl
	} else {
		m.losses++
		m.grossLoss += -pnl
	}
}

// Approve turns a non-hold signal into an order or a *RejectionError.
// Sell signals close the full open position and bypass the entry gates; a
// sell with nothing to close is a no-op (nil, nil). Volatility is the
// symbol's recent return volatility, used by volatility-based sizing.
func (m *Manager) Approve(sig types.Signal, pf *types.PortfolioState, price float64, volatility indicator.Value) (*types.Order, error) {
	switch sig.Direction {
	case types.DirectionSell:
		pos, ok := pf.Positions[sig.Symbol]
		if !ok || pos.Qty <= 0 {
			return nil, nil
		}
		return &types.Order{
			Symbol:    sig.Symbol,
			Side:      types.Sell,
			Qty:       pos.Qty,
			Price:     price,
			Timestamp: sig.Timestamp,
			SignalRef: signalRef(sig),
			Reason:    "signal",
		}, nil
	case types.DirectionBuy:
		return m.approveEntry(sig, pf, price, volatility)
	}
	return nil, nil
}

func (m *Manager) approveEntry(sig types.Signal, pf *types.PortfolioState, price float64, volatility indicator.Value) (*types.Order, error) {
	_, held := pf.Positions[sig.Symbol]
	if !held && len(pf.Positions) >= m.params.MaxPositions {
		return nil, &RejectionError{
			Symbol: sig.Symbol,
			Reason: ReasonMaxPositions,
			Detail: fmt.Sprintf("already holding %d of %d positions", len(pf.Positions), m.params.MaxPositions),
		}
	}
	if m.killSwitch {
		return nil, &RejectionError{
			Symbol: sig.Symbol,
			Reason: ReasonMaxDrawdown,
			Detail: "drawdown kill-switch active, entries suspended",
		}
	}
	if price <= 0 {
		return nil, &RejectionError{Symbol: sig.Symbol, Reason: ReasonZeroQuantity, Detail: "non-positive price"}
	}

	qty := m.quantity(pf.TotalValue(), price, volatility)
	if qty <= 0 {
		return nil, &RejectionError{Symbol: sig.Symbol, Reason: ReasonZeroQuantity, Detail: "sized quantity is zero"}
	}
	if notional := qty * price; notional > pf.Cash {
		return nil, &RejectionError{
			Symbol: sig.Symbol,
			Reason: ReasonInsufficientFunds,
			Detail: fmt.Sprintf("need %.2f, have %.2f", notional, pf.Cash),
		}
	}
	return &types.Order{
		Symbol:    sig.Symbol,
		Side:      types.Buy,
		Qty:       qty,
		Price:     price,
		Timestamp: sig.Timestamp,
		SignalRef: signalRef(sig),
		Reason:    "signal",
	}, nil
}

// quantity applies the configured sizing method. All methods floor to whole
// units.
func (m *Manager) quantity(portfolioValue, price float64, volatility indicator.Value) float64 {
	fraction := m.params.PositionSize
	switch m.params.SizingMethod {
	case config.SizingVolatilityBased:
		if volatility.Defined && volatility.Scalar > volBaseline {
			fraction *= volBaseline / volatility.Scalar
		}
	case config.SizingKelly:
		fraction = m.kellyFraction()
	}
	if fraction <= 0 {
		return 0
	}
	return math.Floor(portfolioValue * fraction / price)
}

// kellyFraction is the simplified kelly criterion f = W - (1-W)/R over the
// run's realized trades, clamped to [0, max position size]. Until enough
// trades accumulate it defers to the fixed size.
func (m *Manager) kellyFraction() float64 {
	total := m.wins + m.losses
	if total < kellyMinTrades {
		return m.params.PositionSize
	}
	w := float64(m.wins) / float64(total)
	if m.losses == 0 || m.grossLoss == 0 {
		return m.params.MaxPositionSize
	}
	avgWin := m.grossWin / math.Max(float64(m.wins), 1)
	avgLoss := m.grossLoss / float64(m.losses)
	if avgLoss == 0 {
		return m.params.MaxPositionSize
	}
	r := avgWin / avgLoss
	if r == 0 {
		return 0
	}
	f := w - (1-w)/r
	return math.Max(0, math.Min(f, m.params.MaxPositionSize))
}

// CheckExit scans one open position against the bar's close and returns a
// forced sell when the stop-loss or take-profit level is crossed. Forced
// exits bypass every entry gate including the kill-switch.
func (m *Manager) CheckExit(pos *types.Position, bar types.Bar) *types.Order {
	if pos == nil || pos.Qty <= 0 || pos.AvgCost <= 0 {
		return nil
	}
	var reason string
	switch {
	case bar.Close <= pos.AvgCost*(1-m.params.StopLoss):
		reason = "stop_loss"
	case bar.Close >= pos.AvgCost*(1+m.params.TakeProfit):
		reason = "take_profit"
	default:
		return nil
	}
	return &types.Order{
		Symbol:    pos.Symbol,
		Side:      types.Sell,
		Qty:       pos.Qty,
		Price:     bar.Close,
		Timestamp: bar.Timestamp,
		Forced:    true,
		Reason:    reason,
	}
}

func signalRef(sig types.Signal) string {
	return fmt.Sprintf("%s/%s@%s", sig.Symbol, sig.Direction, sig.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
}
