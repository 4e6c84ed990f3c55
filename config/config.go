// Package config loads and validates declarative strategy documents. The
// loader is the single fail-fast stage of the engine: it either produces a
// fully validated StrategyDefinition or a ValidationError listing every
// violation found, so authors fix all problems in one pass. Everything
// downstream assumes a valid model.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/EpicSanDev/FinAgent-sub002/indicator"
	"github.com/EpicSanDev/FinAgent-sub002/rules"
)

// SizingMethod selects how the risk manager translates a signal into a
// quantity.
type SizingMethod string

const (
	SizingFixedPercentage SizingMethod = "fixed_percentage"
	SizingVolatilityBased SizingMethod = "volatility_based"
	SizingKelly           SizingMethod = "kelly"
)

// RiskParams are the validated risk-management settings for a run.
type RiskParams struct {
	SizingMethod    SizingMethod
	PositionSize    float64 // fraction of portfolio value per new entry
	MaxPositionSize float64 // clamp for kelly sizing
	StopLoss        float64 // fraction below entry that forces an exit
	TakeProfit      float64 // fraction above entry that forces an exit
	MaxDrawdown     float64 // kill-switch threshold on peak-to-trough equity
	MaxPositions    int
}

// BacktestParams are the validated simulation settings for a run.
type BacktestParams struct {
	Start          time.Time
	End            time.Time
	InitialCapital float64
	Commission     float64 // rate applied to notional
	SlippageBps    float64 // applied against the trade direction
	Timeframe      string
	JitterSeed     int64 // non-zero seeds uniform slippage jitter
}

// StrategyDefinition is the immutable in-memory model every component of a
// run consumes. Built once by Load/Parse, never mutated afterwards.
type StrategyDefinition struct {
	Name       string
	Version    string
	Type       string
	Mode       rules.Mode
	Universe   []string
	Indicators []indicator.Spec
	BuyRules   *rules.Node
	SellRules  *rules.Node
	Risk       RiskParams
	Backtest   BacktestParams
}

// Indicator returns the spec declared under id.
func (d *StrategyDefinition) Indicator(id string) (indicator.Spec, bool) {
	for _, s := range d.Indicators {
		if s.ID == id {
			return s, true
		}
	}
	return indicator.Spec{}, false
}

// Violation is one validation failure, addressed by document field path.
type Violation struct {
	Field  string
	Reason string
}

// ValidationError accumulates every violation found in a document.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "strategy configuration invalid (%d violations):", len(e.Violations))
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "\n  %s: %s", v.Field, v.Reason)
	}
	return b.String()
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{Field: field, Reason: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// ---------------------------------------------------------------------------
// Document shape
// ---------------------------------------------------------------------------

type document struct {
	Strategy struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		Type    string `yaml:"type"`
	} `yaml:"strategy"`
	Universe []string `yaml:"universe"`
	Analysis struct {
		Technical   []indicatorDoc `yaml:"technical"`
		Fundamental []indicatorDoc `yaml:"fundamental"`
		Sentiment   []indicatorDoc `yaml:"sentiment"`
	} `yaml:"analysis"`
	Rules struct {
		Mode           string        `yaml:"mode"`
		BuyConditions  *conditionDoc `yaml:"buy_conditions"`
		SellConditions *conditionDoc `yaml:"sell_conditions"`
	} `yaml:"rules"`
	RiskManagement struct {
		PositionSizing struct {
			Method  string  `yaml:"method"`
			Size    float64 `yaml:"size"`
			MaxSize float64 `yaml:"max_size"`
		} `yaml:"position_sizing"`
		StopLoss     float64 `yaml:"stop_loss"`
		TakeProfit   float64 `yaml:"take_profit"`
		MaxDrawdown  float64 `yaml:"max_drawdown"`
		MaxPositions int     `yaml:"max_positions"`
	} `yaml:"risk_management"`
	Backtesting struct {
		StartDate      string  `yaml:"start_date"`
		EndDate        string  `yaml:"end_date"`
		InitialCapital float64 `yaml:"initial_capital"`
		Commission     float64 `yaml:"commission"`
		Slippage       float64 `yaml:"slippage"`
		Timeframe      string  `yaml:"timeframe"`
		JitterSeed     int64   `yaml:"slippage_jitter_seed"`
	} `yaml:"backtesting"`
}

type indicatorDoc struct {
	ID         string             `yaml:"id"`
	Type       string             `yaml:"type"`
	Parameters map[string]float64 `yaml:"parameters"`
	Weight     *float64           `yaml:"weight"`
}

// conditionDoc is either atomic ({indicator, operator, threshold}) or
// composite ({operator, conditions, min_score}); the presence of children
// decides which.
type conditionDoc struct {
	Indicator  string         `yaml:"indicator"`
	Operator   string         `yaml:"operator"`
	Threshold  float64        `yaml:"threshold"`
	Weight     *float64       `yaml:"weight"`
	MinScore   *float64       `yaml:"min_score"`
	Conditions []conditionDoc `yaml:"conditions"`
}

// Load reads and validates the YAML strategy document at path.
func Load(path string) (*StrategyDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse validates a YAML strategy document and builds the immutable model.
// The returned error is a *ValidationError for content problems.
func Parse(raw []byte) (*StrategyDefinition, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing strategy document: %w", err)
	}
	return build(&doc)
}
