// Package rules interprets a strategy's declarative condition trees against
// an indicator snapshot. The tree is a closed tagged variant — atomic
// threshold comparisons at the leaves, AND/OR combinators above them —
// validated against the indicator registry at load time, so evaluation
// never sees an unknown operator or indicator id.
package rules

import (
	"fmt"
	"math"

	"github.com/EpicSanDev/FinAgent-sub002/indicator"
)

// Mode selects the scoring semantics. Weighted mode enforces min_score
// gates on composites; boolean mode reports scores but ignores the gates.
// Surfacing this as configuration keeps the two rule styles found in
// strategy libraries from being silently conflated.
type Mode string

const (
	ModeWeighted Mode = "weighted"
	ModeBoolean  Mode = "boolean"
)

// ParseMode validates a scoring mode name. Empty defaults to weighted.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeWeighted):
		return ModeWeighted, nil
	case string(ModeBoolean):
		return ModeBoolean, nil
	}
	return "", fmt.Errorf("unknown rules mode %q", s)
}

// Op is an atomic comparison operator.
type Op string

const (
	OpLT  Op = "<"
	OpLTE Op = "<="
	OpGT  Op = ">"
	OpGTE Op = ">="
	OpEQ  Op = "=="
)

// ParseOp validates a comparison operator name.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpLT, OpLTE, OpGT, OpGTE, OpEQ:
		return Op(s), nil
	}
	return "", fmt.Errorf("unknown comparison operator %q", s)
}

// BoolOp combines composite children.
type BoolOp string

const (
	And BoolOp = "AND"
	Or  BoolOp = "OR"
)

// ParseBoolOp validates a composite operator name.
func ParseBoolOp(s string) (BoolOp, error) {
	switch BoolOp(s) {
	case And, Or:
		return BoolOp(s), nil
	}
	return "", fmt.Errorf("unknown composite operator %q", s)
}

// Node is one condition. A node with children is a composite; a node
// without children is an atomic comparison of an indicator value against a
// threshold. Weight applies within the parent composite; a zero HasWeight
// means the node takes an equal share.
type Node struct {
	// Atomic fields.
	Indicator string
	Op        Op
	Threshold float64

	// Composite fields.
	BoolOp   BoolOp
	Children []*Node
	MinScore float64
	HasMin   bool

	Weight    float64
	HasWeight bool
}

// IsAtomic reports whether the node is a leaf comparison.
func (n *Node) IsAtomic() bool { return len(n.Children) == 0 }

// Outcome is the result of evaluating a node: whether it is satisfied, a
// normalized score in [0,1], and the indicator ids of the atoms that
// contributed to satisfaction.
type Outcome struct {
	Satisfied    bool
	Score        float64
	Contributing []string
}

// Evaluate walks the tree against the snapshot. Undefined indicator values
// leave their atoms unsatisfied with score 0; they are never an error at
// this layer.
func Evaluate(n *Node, snap *indicator.Snapshot, mode Mode) Outcome {
	if n == nil {
		return Outcome{}
	}
	if n.IsAtomic() {
		return evalAtomic(n, snap)
	}
	switch n.BoolOp {
	case And:
		return evalAnd(n, snap, mode)
	case Or:
		return evalOr(n, snap, mode)
	}
	return Outcome{}
}

// evalAtomic compares the indicator value to the threshold. The score is
// the distance past the threshold normalized by the threshold's magnitude,
// clipped at 1; an exactly-met threshold scores 0 but may still satisfy.
func evalAtomic(n *Node, snap *indicator.Snapshot) Outcome {
	v := snap.Value(n.Indicator)
	if !v.Defined {
		return Outcome{}
	}
	var satisfied bool
	switch n.Op {
	case OpLT:
		satisfied = v.Scalar < n.Threshold
	case OpLTE:
		satisfied = v.Scalar <= n.Threshold
	case OpGT:
		satisfied = v.Scalar > n.Threshold
	case OpGTE:
		satisfied = v.Scalar >= n.Threshold
	case OpEQ:
		satisfied = v.Scalar == n.Threshold
	}
	if !satisfied {
		return Outcome{}
	}
	score := 1.0
	if n.Op != OpEQ {
		denom := math.Abs(n.Threshold)
		if denom == 0 {
			denom = 1
		}
		score = math.Min(math.Abs(v.Scalar-n.Threshold)/denom, 1)
	}
	return Outcome{Satisfied: true, Score: score, Contributing: []string{n.Indicator}}
}

// weights resolves per-child weights: declared weights are kept, the
// remainder is split equally among undeclared children, and a degenerate
// all-zero set falls back to equal shares.
func weights(children []*Node) []float64 {
	ws := make([]float64, len(children))
	declared := 0.0
	undeclared := 0
	for i, c := range children {
		if c.HasWeight {
			ws[i] = c.Weight
			declared += c.Weight
		} else {
			undeclared++
		}
	}
	if undeclared > 0 {
		share := 0.0
		if remaining := 1.0 - declared; remaining > 0 {
			share = remaining / float64(undeclared)
		}
		if share == 0 {
			share = 1.0 / float64(len(children))
		}
		for i, c := range children {
			if !c.HasWeight {
				ws[i] = share
			}
		}
	}
	total := 0.0
	for _, w := range ws {
		total += w
	}
	if total == 0 {
		for i := range ws {
			ws[i] = 1.0 / float64(len(children))
		}
	}
	return ws
}

func evalAnd(n *Node, snap *indicator.Snapshot, mode Mode) Outcome {
	ws := weights(n.Children)
	all := true
	var contributing []string
	weightedSum, totalW := 0.0, 0.0
	for i, child := range n.Children {
		out := Evaluate(child, snap, mode)
		if !out.Satisfied {
			all = false
		} else {
			contributing = append(contributing, out.Contributing...)
		}
		weightedSum += ws[i] * out.Score
		totalW += ws[i]
	}
	score := 0.0
	if totalW > 0 {
		score = weightedSum / totalW
	}
	satisfied := all
	if satisfied && mode == ModeWeighted && n.HasMin && score < n.MinScore {
		satisfied = false
	}
	if !satisfied {
		contributing = nil
	}
	return Outcome{Satisfied: satisfied, Score: score, Contributing: contributing}
}

// evalOr scores as the weighted maximum among satisfied children, with
// weights normalized so the heaviest child can still reach a full score.
func evalOr(n *Node, snap *indicator.Snapshot, mode Mode) Outcome {
	ws := weights(n.Children)
	maxW := 0.0
	for _, w := range ws {
		if w > maxW {
			maxW = w
		}
	}
	any := false
	best := 0.0
	var contributing []string
	for i, child := range n.Children {
		out := Evaluate(child, snap, mode)
		if !out.Satisfied {
			continue
		}
		scaled := out.Score
		if maxW > 0 {
			scaled = out.Score * ws[i] / maxW
		}
		if !any || scaled > best {
			best = scaled
			contributing = out.Contributing
		}
		any = true
	}
	satisfied := any
	if satisfied && mode == ModeWeighted && n.HasMin && best < n.MinScore {
		satisfied = false
	}
	if !satisfied {
		contributing = nil
	}
	return Outcome{Satisfied: satisfied, Score: best, Contributing: contributing}
}
