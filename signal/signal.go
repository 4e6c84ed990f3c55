// Package signal turns condition-tree outcomes into directional trading
// signals. One generator instance serves a whole run; it holds no per-bar
// state.
package signal

import (
	"time"

	"github.com/EpicSanDev/FinAgent-sub002/indicator"
	"github.com/EpicSanDev/FinAgent-sub002/rules"
	"github.com/EpicSanDev/FinAgent-sub002/types"
)

// Generator evaluates a strategy's buy and sell trees for one symbol at one
// bar and resolves conflicts between them.
type Generator struct {
	mode rules.Mode
}

// NewGenerator creates a Generator using the given scoring mode.
func NewGenerator(mode rules.Mode) *Generator {
	return &Generator{mode: mode}
}

// Generate evaluates both trees against the snapshot. When both are
// satisfied on the same bar the resolution is position-aware: an open
// position makes the sell win (exits before new entries); with nothing to
// sell the buy wins. Neither satisfied yields a hold.
func (g *Generator) Generate(symbol string, ts time.Time, buy, sell *rules.Node, snap *indicator.Snapshot, hasPosition bool) types.Signal {
	buyOut := rules.Evaluate(buy, snap, g.mode)
	sellOut := rules.Evaluate(sell, snap, g.mode)

	sig := types.Signal{Symbol: symbol, Timestamp: ts, Direction: types.DirectionHold}
	switch {
	case buyOut.Satisfied && sellOut.Satisfied:
		if hasPosition {
			fill(&sig, types.DirectionSell, sellOut)
		} else {
			fill(&sig, types.DirectionBuy, buyOut)
		}
	case sellOut.Satisfied:
		fill(&sig, types.DirectionSell, sellOut)
	case buyOut.Satisfied:
		fill(&sig, types.DirectionBuy, buyOut)
	}
	return sig
}

func fill(sig *types.Signal, dir types.Direction, out rules.Outcome) {
	sig.Direction = dir
	sig.Confidence = out.Score
	sig.Strength = StrengthFor(out.Score)
	sig.Contributing = out.Contributing
}

// StrengthFor buckets a score into the four signal strengths.
func StrengthFor(score float64) types.Strength {
	switch {
	case score < 0.4:
		return types.StrengthWeak
	case score < 0.6:
		return types.StrengthModerate
	case score < 0.8:
		return types.StrengthStrong
	default:
		return types.StrengthVeryStrong
	}
}
