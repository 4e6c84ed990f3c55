package engine

import (
	"context"
	"sync"

	"github.com/EpicSanDev/FinAgent-sub002/config"
	"github.com/EpicSanDev/FinAgent-sub002/data"
)

// Sweep runs one independent backtest per definition concurrently and
// returns the reports in input order. Each run owns its own simulator and
// portfolio, so no synchronization crosses run boundaries; the shared
// provider is only read from.
func Sweep(ctx context.Context, defs []*config.StrategyDefinition, bars data.BarProvider, opts Options) []*Report {
	reports := make([]*Report, len(defs))
	var wg sync.WaitGroup
	for i, def := range defs {
		wg.Add(1)
		go func(i int, def *config.StrategyDefinition) {
			defer wg.Done()
			report, err := New(def, bars, opts).Run(ctx)
			if err != nil {
				report = &Report{Strategy: def.Name, Truncated: true}
			}
			reports[i] = report
		}(i, def)
	}
	wg.Wait()
	return reports
}
