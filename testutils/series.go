// Package testutils provides the in-memory fakes and synthetic market
// series the package tests share.
package testutils

import (
	"time"

	"github.com/EpicSanDev/FinAgent-sub002/types"
)

// Day0 is the base timestamp every builder counts bars from.
var Day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// DailyBar builds one daily bar n days after Day0 with a tight range around
// the close.
func DailyBar(symbol string, n int, close, volume float64) types.Bar {
	return types.Bar{
		Symbol:    symbol,
		Timestamp: Day0.AddDate(0, 0, n),
		Open:      close * 0.995,
		High:      close * 1.005,
		Low:       close * 0.99,
		Close:     close,
		Volume:    volume,
	}
}

// FlatSeries builds n daily bars all closing at price.
func FlatSeries(symbol string, n int, price, volume float64) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = DailyBar(symbol, i, price, volume)
	}
	return bars
}

// RampSeries builds n daily bars walking from start by step per bar.
// Negative steps make a downtrend.
func RampSeries(symbol string, n int, start, step, volume float64) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = DailyBar(symbol, i, start+float64(i)*step, volume)
	}
	return bars
}

// WithCloseAt returns a copy of bars with bar n's close (and surrounding
// range) replaced.
func WithCloseAt(bars []types.Bar, n int, close float64) []types.Bar {
	out := make([]types.Bar, len(bars))
	copy(out, bars)
	b := out[n]
	b.Open = close * 0.995
	b.High = close * 1.005
	b.Low = close * 0.99
	b.Close = close
	out[n] = b
	return out
}

// WithVolumeAt returns a copy of bars with bar n's volume replaced.
func WithVolumeAt(bars []types.Bar, n int, volume float64) []types.Bar {
	out := make([]types.Bar, len(bars))
	copy(out, bars)
	out[n].Volume = volume
	return out
}

// DropBar returns a copy of bars with bar n removed, leaving a gap.
func DropBar(bars []types.Bar, n int) []types.Bar {
	out := make([]types.Bar, 0, len(bars)-1)
	out = append(out, bars[:n]...)
	return append(out, bars[n+1:]...)
}
