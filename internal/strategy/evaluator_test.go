package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralprobe/D4/internal/config"
	"github.com/neuralprobe/D4/internal/indicator"
	"github.com/neuralprobe/D4/internal/models"
)

// Short periods keep the hand-computed fixtures small: BB and SMA warm
// up after two bars, the RSI hill scan needs six.
func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		BB1:        config.BandConfig{Length: 2, Mult: 2, Margin: 0.01},
		BB2:        config.BandConfig{Length: 2, Mult: 4, Margin: 0.01},
		RSI:        config.RSIConfig{Length: 2, HillWindow: 6, Hills: 1},
		SMA:        config.SMAConfig{Periods: []int{2, 3}, Margin: 0.01},
		PO:         config.POConfig{Length: 2},
		MaxWorkers: 4,
	}
}

var seriesBase = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

func hourlySeries(symbol string, closes []float64, lastLow float64) *models.History {
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		low := c - 1
		if i == len(closes)-1 {
			low = lastLow
		}
		b := models.Bar{
			Timestamp: seriesBase.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       low,
			Close:     c,
			Volume:    1000,
			VWAP:      c,
		}
		b.ComputeTradingValue()
		bars[i] = b
	}
	return models.NewHistory(symbol, len(closes)+8, bars)
}

func minuteAfter(hist *models.History, close float64) models.Bar {
	last, _ := hist.Last()
	return models.Bar{
		Timestamp: last.Timestamp.Add(31 * time.Minute),
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    100,
		VWAP:      close,
	}
}

func TestEvaluateRequiresHistory(t *testing.T) {
	eval := NewEvaluator(testStrategyConfig(), 0.01)

	_, err := eval.Evaluate(Input{})
	require.Error(t, err)

	_, err = eval.Evaluate(Input{History: models.NewHistory("AAPL", 8, nil)})
	require.Error(t, err)
}

func TestEvaluateErrorsWhenSMAColumnMissing(t *testing.T) {
	eval := NewEvaluator(testStrategyConfig(), 0.01)
	// Two bars warm up sma2 but not sma3.
	hist := hourlySeries("AAPL", []float64{10, 11}, 10)

	_, err := eval.Evaluate(Input{History: hist, Minute: minuteAfter(hist, 11)})
	require.ErrorContains(t, err, "sma3")
}

func TestEvaluateBuySignal(t *testing.T) {
	eval := NewEvaluator(testStrategyConfig(), 0.01)
	// Rising stack: sma2=13.5 over sma3=13, bb1_lower=12.0858 with the
	// bar low dipping to 12 and the minute close at 14.
	hist := hourlySeries("AAPL", []float64{10, 11, 12, 13, 14}, 12)
	minute := minuteAfter(hist, 14)

	rec, err := eval.Evaluate(Input{History: hist, Minute: minute})
	require.NoError(t, err)

	assert.True(t, rec.BreakoutBB1)
	assert.True(t, rec.BreakoutBB1AtMargin)
	assert.True(t, rec.TouchBB1)
	assert.False(t, rec.TouchBB2, "wide band should stay untouched")
	assert.Equal(t, 2, rec.SMABreakCount)
	assert.Equal(t, "sma2", rec.SMABelowClose)
	assert.InDelta(t, 1.0, rec.SMAAlignStrength, 1e-9)
	assert.Zero(t, rec.PODivergence)
	assert.Zero(t, rec.RSICheck)

	require.True(t, rec.Buy)
	assert.Equal(t, "bb1-sma", rec.BuyReason)
	assert.InDelta(t, 2.0, rec.BuyStrength, 1e-9)

	// Highest floor candidate is sma2 at 13.5, scaled by 1-trailing.
	assert.Equal(t, "sma2", rec.StopKey)
	assert.InDelta(t, 13.5*0.99, rec.StopValue, 1e-9)
	assert.InDelta(t, 14*0.99, rec.StopTrailing, 1e-9)
	assert.InDelta(t, 14000, rec.TradingValue, 1e-9)

	assert.False(t, rec.Sell)
	assert.Empty(t, rec.SellReason)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	eval := NewEvaluator(testStrategyConfig(), 0.01)
	hist := hourlySeries("AAPL", []float64{10, 11, 12, 13, 14}, 12)
	in := Input{History: hist, Minute: minuteAfter(hist, 14)}

	first, err := eval.Evaluate(in)
	require.NoError(t, err)
	second, err := eval.Evaluate(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvaluateTrailingStopRatchet(t *testing.T) {
	eval := NewEvaluator(testStrategyConfig(), 0.01)
	hist := hourlySeries("NVDA", []float64{104, 106, 108, 110, 112}, 111)
	pos := &models.Position{
		Symbol: "NVDA", Qty: 10, Cost: 1000, AvgPrice: 100,
		Price: 110, StopTrailing: 99,
	}

	// The ratchet lifts the floor to 110*0.99=108.9, so a close at 105
	// is a stop-loss exit.
	rec, err := eval.Evaluate(Input{History: hist, Minute: minuteAfter(hist, 105), Position: pos})
	require.NoError(t, err)
	assert.True(t, rec.StopLoss)
	assert.True(t, rec.Sell)
	assert.Equal(t, "|StopLoss|", rec.SellReason)

	// A close above the ratcheted floor holds the position.
	rec, err = eval.Evaluate(Input{History: hist, Minute: minuteAfter(hist, 109.5), Position: pos})
	require.NoError(t, err)
	assert.False(t, rec.StopLoss)
	assert.False(t, rec.Sell)

	// The evaluator works on a copy; the caller's book is untouched.
	assert.Equal(t, 99.0, pos.StopTrailing)
}

func TestEvaluateKeepProfitUpgradesStop(t *testing.T) {
	eval := NewEvaluator(testStrategyConfig(), 0.01)
	// Dip pattern 12 -> 11.9 with a shallower oscillator dip makes the
	// divergence bullish; the final gentle bar keeps the bands tight so
	// the close at 15 breaks sma2 and both upper bands.
	hist := hourlySeries("MSFT", []float64{14, 12, 13, 11.9, 14, 14.1}, 14)
	pos := &models.Position{
		Symbol: "MSFT", Qty: 5, Cost: 50, AvgPrice: 10,
		Price: 14, StopValue: 10, StopKey: "sma3",
	}

	rec, err := eval.Evaluate(Input{History: hist, Minute: minuteAfter(hist, 15), Position: pos})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, rec.PODivergence, 1e-9)
	assert.InDelta(t, -1.0, rec.RSICheck, 1e-9)

	sma3 := (11.9 + 14 + 14.1) / 3
	assert.InDelta(t, sma3, rec.TrackedStop, 1e-9)

	require.True(t, rec.ResistanceBreakout)
	require.True(t, rec.KeepProfit)
	assert.False(t, rec.Sell, "keep-profit must suppress the exit")
	assert.Empty(t, rec.SellReason)
	assert.False(t, rec.TopResistBreak)

	// Highest breaking resistance is bb2_upper; its scaled level is the
	// proposed new floor.
	bb2Upper := 14.05 + 4*0.07071067811865475
	assert.Equal(t, "bb2_upper", rec.NewStopKey)
	assert.InDelta(t, bb2Upper*0.99, rec.NewStopValue, 1e-9)

	// Bearish RSI vetoes the entry even though sma2 broke out.
	assert.False(t, rec.Buy)
}

func TestEvaluateKeepingCarriesBreakoutForward(t *testing.T) {
	eval := NewEvaluator(testStrategyConfig(), 0.01)
	// Bar low 13 never reaches bb1_lower at 12.0858, so only the carry
	// from the previous tick can flag the breakout.
	hist := hourlySeries("AAPL", []float64{10, 11, 12, 13, 14}, 13)
	minute := minuteAfter(hist, 14)

	rec, err := eval.Evaluate(Input{History: hist, Minute: minute})
	require.NoError(t, err)
	assert.False(t, rec.BreakoutBB1)

	prev := &models.DecisionRecord{BreakoutBB1: true}
	rec, err = eval.Evaluate(Input{History: hist, Minute: minute, Prev: prev})
	require.NoError(t, err)
	assert.True(t, rec.BreakoutBB1, "carry should keep the breakout alive")
	assert.False(t, rec.TouchBB1, "margin level was never taken out")

	// A previous touch consumes the carry.
	prev = &models.DecisionRecord{BreakoutBB1: true, TouchBB1: true}
	rec, err = eval.Evaluate(Input{History: hist, Minute: minute, Prev: prev})
	require.NoError(t, err)
	assert.False(t, rec.BreakoutBB1)
}

func TestUpwardBreakoutStaleBarUsesPreviousClose(t *testing.T) {
	table := indicator.NewTable()
	table.Add("level", []float64{10})

	fresh := models.Bar{
		Timestamp: seriesBase,
		Low:       11, Close: 9.5,
	}
	minute := models.Bar{
		Timestamp: seriesBase.Add(31 * time.Minute),
		Close:     10.5,
	}
	assert.False(t, upwardBreakout(table, fresh, minute, "level", 0),
		"fresh bar must be judged by its low")

	stale := fresh
	stale.Timestamp = seriesBase.Add(-5 * time.Hour)
	assert.True(t, upwardBreakout(table, stale, minute, "level", 0),
		"stale bar falls back to the previous close")
}

func TestSellEndOfDayNeverFiresWhileHeld(t *testing.T) {
	closing := time.Date(2024, 7, 1, 15, 59, 0, 0, time.UTC)

	assert.False(t, sellEndOfDay(closing, true))
	assert.True(t, sellEndOfDay(closing, false))
	assert.False(t, sellEndOfDay(closing.Add(-time.Minute), false))

	// Through the full evaluation the guard keeps the closing minute
	// from ejecting a held position. The close sits between the floors
	// and the resistances so no other exit path interferes.
	eval := NewEvaluator(testStrategyConfig(), 0.01)
	hist := hourlySeries("AAPL", []float64{104, 106, 108, 110, 112}, 111)
	minute := minuteAfter(hist, 110.5)
	minute.Timestamp = time.Date(2024, 7, 1, 15, 59, 0, 0, time.UTC)
	pos := &models.Position{Symbol: "AAPL", Qty: 1, Cost: 100, AvgPrice: 100, Price: 105}

	rec, err := eval.Evaluate(Input{History: hist, Minute: minute, Position: pos})
	require.NoError(t, err)
	assert.False(t, rec.Sell)
	assert.NotContains(t, rec.SellReason, "EndMarket")
}
