package data

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/EpicSanDev/FinAgent-sub002/types"
)

// Compile-time interface check.
var _ BarProvider = (*ParquetProvider)(nil)

// ParquetProvider reads pre-materialized OHLCV data from Parquet files on
// disk, organized one file per symbol and year:
//
//	<DataDir>/<timeframe>/<SYMBOL>/<YYYY>.parquet
type ParquetProvider struct {
	DataDir string
}

// NewParquetProvider creates a provider rooted at the given data directory.
func NewParquetProvider(dataDir string) *ParquetProvider {
	return &ParquetProvider{DataDir: dataDir}
}

// BarRecord is the on-disk Parquet schema for bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// GetHistoricalBars reads every year file overlapping [start, end] and
// returns the in-range bars sorted by timestamp. Year files that do not
// exist are skipped; gaps are the caller's concern.
func (p *ParquetProvider) GetHistoricalBars(_ context.Context, symbol, timeframe string, start, end time.Time) ([]types.Bar, error) {
	var bars []types.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		path := p.barPath(symbol, timeframe, year)
		records, err := parquet.ReadFile[BarRecord](path)
		if err != nil {
			// No file for this year.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, types.Bar{
				Symbol:    r.Symbol,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
			})
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// WriteBars materializes bars to disk in the provider's layout, grouped by
// symbol and year. Existing files for the touched years are overwritten.
func (p *ParquetProvider) WriteBars(timeframe string, bars []types.Bar) error {
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: b.Symbol, year: b.Timestamp.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    b.Symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	for k, records := range groups {
		sort.Slice(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })
		path := p.barPath(k.symbol, timeframe, k.year)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := parquet.WriteFile(path, records); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

func (p *ParquetProvider) barPath(symbol, timeframe string, year int) string {
	return filepath.Join(p.DataDir, timeframe, symbol, fmt.Sprintf("%d.parquet", year))
}
