package config

import (
	"fmt"
	"time"

	"github.com/EpicSanDev/FinAgent-sub002/indicator"
	"github.com/EpicSanDev/FinAgent-sub002/rules"
)

const dateLayout = "2006-01-02"

// build runs the whole document through validation, accumulating every
// violation rather than stopping at the first, and assembles the definition
// only when the document is clean.
func build(doc *document) (*StrategyDefinition, error) {
	verr := &ValidationError{}

	if doc.Strategy.Name == "" {
		verr.add("strategy.name", "required field missing")
	}
	if len(doc.Universe) == 0 {
		verr.add("universe", "at least one symbol required")
	}
	seen := make(map[string]bool, len(doc.Universe))
	for i, sym := range doc.Universe {
		if sym == "" {
			verr.add(fmt.Sprintf("universe[%d]", i), "empty symbol")
			continue
		}
		if seen[sym] {
			verr.add(fmt.Sprintf("universe[%d]", i), "duplicate symbol %s", sym)
		}
		seen[sym] = true
	}

	mode, err := rules.ParseMode(doc.Rules.Mode)
	if err != nil {
		verr.add("rules.mode", "%v", err)
	}

	specs := buildIndicators(doc, verr)
	declared := make(map[string]indicator.Spec, len(specs))
	for _, s := range specs {
		declared[s.ID] = s
	}

	buy := buildConditions(doc.Rules.BuyConditions, "rules.buy_conditions", declared, verr)
	sell := buildConditions(doc.Rules.SellConditions, "rules.sell_conditions", declared, verr)
	if doc.Rules.BuyConditions == nil {
		verr.add("rules.buy_conditions", "required field missing")
	}
	if doc.Rules.SellConditions == nil {
		verr.add("rules.sell_conditions", "required field missing")
	}

	risk := buildRisk(doc, verr)
	backtest := buildBacktest(doc, verr)

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return &StrategyDefinition{
		Name:       doc.Strategy.Name,
		Version:    doc.Strategy.Version,
		Type:       doc.Strategy.Type,
		Mode:       mode,
		Universe:   append([]string(nil), doc.Universe...),
		Indicators: specs,
		BuyRules:   buy,
		SellRules:  sell,
		Risk:       risk,
		Backtest:   backtest,
	}, nil
}

func buildIndicators(doc *document, verr *ValidationError) []indicator.Spec {
	var specs []indicator.Spec
	ids := make(map[string]bool)
	groups := []struct {
		field string
		docs  []indicatorDoc
	}{
		{"analysis.technical", doc.Analysis.Technical},
		{"analysis.fundamental", doc.Analysis.Fundamental},
		{"analysis.sentiment", doc.Analysis.Sentiment},
	}
	for _, g := range groups {
		for i, d := range g.docs {
			field := fmt.Sprintf("%s[%d]", g.field, i)
			kind, err := indicator.ParseKind(d.Type)
			if err != nil {
				verr.add(field+".type", "%v", err)
				continue
			}
			id := d.ID
			if id == "" {
				id = d.Type
			}
			if ids[id] {
				verr.add(field+".id", "duplicate indicator id %q", id)
				continue
			}
			ids[id] = true
			weight := 1.0
			if d.Weight != nil {
				weight = *d.Weight
				if weight < 0 || weight > 1 {
					verr.add(field+".weight", "weight %v outside [0,1]", weight)
				}
			}
			specs = append(specs, indicator.Spec{
				ID:     id,
				Kind:   kind,
				Params: d.Parameters,
				Weight: weight,
			})
		}
	}
	if len(specs) == 0 {
		verr.add("analysis", "at least one indicator required")
	}
	return specs
}

// buildConditions converts a condition document into a rules tree,
// resolving every indicator reference against the declared specs. Atomic
// nodes without an explicit weight inherit the weight of the indicator they
// reference, so analysis-level weights flow into composite scoring.
func buildConditions(d *conditionDoc, field string, declared map[string]indicator.Spec, verr *ValidationError) *rules.Node {
	if d == nil {
		return nil
	}
	if len(d.Conditions) == 0 {
		// Atomic leaf.
		n := &rules.Node{Threshold: d.Threshold}
		if d.Indicator == "" {
			verr.add(field+".indicator", "required field missing")
		} else if spec, ok := declared[d.Indicator]; !ok {
			verr.add(field+".indicator", "reference to undeclared indicator %q", d.Indicator)
		} else if d.Weight == nil {
			n.Weight = spec.Weight
			n.HasWeight = true
		}
		n.Indicator = d.Indicator
		op, err := rules.ParseOp(d.Operator)
		if err != nil {
			verr.add(field+".operator", "%v", err)
		}
		n.Op = op
		if d.Weight != nil {
			if *d.Weight < 0 || *d.Weight > 1 {
				verr.add(field+".weight", "weight %v outside [0,1]", *d.Weight)
			}
			n.Weight = *d.Weight
			n.HasWeight = true
		}
		if d.MinScore != nil {
			verr.add(field+".min_score", "min_score is only valid on composite conditions")
		}
		return n
	}

	n := &rules.Node{}
	op, err := rules.ParseBoolOp(d.Operator)
	if err != nil {
		verr.add(field+".operator", "%v", err)
	}
	n.BoolOp = op
	if d.Indicator != "" {
		verr.add(field+".indicator", "composite conditions cannot reference an indicator")
	}
	if d.MinScore != nil {
		if *d.MinScore < 0 || *d.MinScore > 1 {
			verr.add(field+".min_score", "min_score %v outside [0,1]", *d.MinScore)
		}
		n.MinScore = *d.MinScore
		n.HasMin = true
	}
	if d.Weight != nil {
		if *d.Weight < 0 || *d.Weight > 1 {
			verr.add(field+".weight", "weight %v outside [0,1]", *d.Weight)
		}
		n.Weight = *d.Weight
		n.HasWeight = true
	}
	for i := range d.Conditions {
		child := buildConditions(&d.Conditions[i], fmt.Sprintf("%s.conditions[%d]", field, i), declared, verr)
		if child != nil {
			n.Children = append(n.Children, child)
		}
	}
	return n
}

func buildRisk(doc *document, verr *ValidationError) RiskParams {
	rm := doc.RiskManagement
	p := RiskParams{
		PositionSize:    rm.PositionSizing.Size,
		MaxPositionSize: rm.PositionSizing.MaxSize,
		StopLoss:        rm.StopLoss,
		TakeProfit:      rm.TakeProfit,
		MaxDrawdown:     rm.MaxDrawdown,
		MaxPositions:    rm.MaxPositions,
	}
	switch SizingMethod(rm.PositionSizing.Method) {
	case SizingFixedPercentage, SizingVolatilityBased, SizingKelly:
		p.SizingMethod = SizingMethod(rm.PositionSizing.Method)
	case "":
		verr.add("risk_management.position_sizing.method", "required field missing")
	default:
		verr.add("risk_management.position_sizing.method", "unknown sizing method %q", rm.PositionSizing.Method)
	}
	if p.PositionSize <= 0 || p.PositionSize > 1 {
		verr.add("risk_management.position_sizing.size", "size %v outside (0,1]", p.PositionSize)
	}
	if p.MaxPositionSize == 0 {
		p.MaxPositionSize = p.PositionSize
	} else if p.MaxPositionSize < 0 || p.MaxPositionSize > 1 {
		verr.add("risk_management.position_sizing.max_size", "max_size %v outside (0,1]", p.MaxPositionSize)
	}
	if p.StopLoss <= 0 || p.StopLoss >= 1 {
		verr.add("risk_management.stop_loss", "stop_loss %v outside (0,1)", p.StopLoss)
	}
	if p.TakeProfit <= 0 {
		verr.add("risk_management.take_profit", "take_profit %v must be positive", p.TakeProfit)
	}
	if p.StopLoss > 0 && p.TakeProfit > 0 && p.StopLoss >= p.TakeProfit {
		verr.add("risk_management", "stop_loss (%v) must be below take_profit (%v)", p.StopLoss, p.TakeProfit)
	}
	if p.MaxDrawdown <= 0 || p.MaxDrawdown >= 1 {
		verr.add("risk_management.max_drawdown", "max_drawdown %v outside (0,1)", p.MaxDrawdown)
	}
	if p.MaxPositions <= 0 {
		verr.add("risk_management.max_positions", "max_positions must be positive, got %d", p.MaxPositions)
	}
	if p.PositionSize > 0 && p.MaxPositions > 0 && p.PositionSize*float64(p.MaxPositions) > 1.0 {
		verr.add("risk_management", "position size %v x max_positions %d exceeds full capital", p.PositionSize, p.MaxPositions)
	}
	return p
}

func buildBacktest(doc *document, verr *ValidationError) BacktestParams {
	bt := doc.Backtesting
	p := BacktestParams{
		InitialCapital: bt.InitialCapital,
		Commission:     bt.Commission,
		SlippageBps:    bt.Slippage,
		Timeframe:      bt.Timeframe,
		JitterSeed:     bt.JitterSeed,
	}
	if p.Timeframe == "" {
		p.Timeframe = "1d"
	}
	start, err := parseDate(bt.StartDate)
	if err != nil {
		verr.add("backtesting.start_date", "%v", err)
	}
	end, err := parseDate(bt.EndDate)
	if err != nil {
		verr.add("backtesting.end_date", "%v", err)
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		verr.add("backtesting", "start_date %s is not before end_date %s", bt.StartDate, bt.EndDate)
	}
	p.Start, p.End = start, end
	if p.InitialCapital <= 0 {
		verr.add("backtesting.initial_capital", "initial_capital %v must be positive", p.InitialCapital)
	}
	if p.Commission < 0 || p.Commission >= 1 {
		verr.add("backtesting.commission", "commission %v outside [0,1)", p.Commission)
	}
	if p.SlippageBps < 0 {
		verr.add("backtesting.slippage", "slippage %v cannot be negative", p.SlippageBps)
	}
	return p
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("required field missing")
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q (want YYYY-MM-DD or RFC3339)", s)
	}
	return t.UTC(), nil
}
