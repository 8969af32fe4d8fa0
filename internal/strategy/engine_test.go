package strategy

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralprobe/D4/internal/models"
)

func newTestEngine() *Engine {
	return NewEngine(testStrategyConfig(), 0.01, log.New(io.Discard, "", 0))
}

func TestEngineEvaluatesKnownSymbolsSorted(t *testing.T) {
	eng := newTestEngine()

	histB := hourlySeries("BBB", []float64{10, 11, 12, 13, 14}, 12)
	histA := hourlySeries("AAA", []float64{10, 11, 12, 13, 14}, 12)
	histories := map[string]*models.History{"AAA": histA, "BBB": histB}
	recent := map[string]models.Bar{
		"BBB": minuteAfter(histB, 14),
		"AAA": minuteAfter(histA, 14),
		"ZZZ": minuteAfter(histA, 14), // no history: silently dropped
	}

	records := eng.Evaluate(context.Background(), histories, recent, nil)

	require.Len(t, records, 2)
	assert.Equal(t, "AAA", records[0].Symbol)
	assert.Equal(t, "BBB", records[1].Symbol)
	assert.True(t, records[0].Buy)
}

func TestEngineSkipsFailingSymbolAndKeepsRest(t *testing.T) {
	eng := newTestEngine()

	good := hourlySeries("GOOD", []float64{10, 11, 12, 13, 14}, 12)
	thin := hourlySeries("THIN", []float64{10, 11}, 9) // sma3 cannot warm up
	histories := map[string]*models.History{"GOOD": good, "THIN": thin}
	recent := map[string]models.Bar{
		"GOOD": minuteAfter(good, 14),
		"THIN": minuteAfter(thin, 11),
	}

	records := eng.Evaluate(context.Background(), histories, recent, nil)

	require.Len(t, records, 1)
	assert.Equal(t, "GOOD", records[0].Symbol)
}

func TestEngineFeedsPreviousRecordForward(t *testing.T) {
	eng := newTestEngine()

	// First tick: the bar low reaches the band, so the breakout is
	// direct and the touch consumes it.
	hist := hourlySeries("AAPL", []float64{10, 11, 12, 13, 14}, 12)
	recent := map[string]models.Bar{"AAPL": minuteAfter(hist, 14)}
	histories := map[string]*models.History{"AAPL": hist}

	first := eng.Evaluate(context.Background(), histories, recent, nil)
	require.Len(t, first, 1)
	require.True(t, first[0].TouchBB1)

	// Second tick: the bar low has risen above the band. The previous
	// touch blocks the keeping carry, so the breakout flag drops.
	lifted := hourlySeries("AAPL", []float64{10, 11, 12, 13, 14}, 13)
	second := eng.Evaluate(context.Background(), map[string]*models.History{"AAPL": lifted}, recent, nil)
	require.Len(t, second, 1)
	assert.False(t, second[0].BreakoutBB1)
}

func TestEngineSeesPositionSnapshot(t *testing.T) {
	eng := newTestEngine()

	hist := hourlySeries("NVDA", []float64{104, 106, 108, 110, 112}, 111)
	histories := map[string]*models.History{"NVDA": hist}
	recent := map[string]models.Bar{"NVDA": minuteAfter(hist, 105)}
	book := map[string]models.Position{
		"NVDA": {Symbol: "NVDA", Qty: 10, Cost: 1000, AvgPrice: 100, Price: 110, StopTrailing: 99},
	}

	records := eng.Evaluate(context.Background(), histories, recent, book)

	require.Len(t, records, 1)
	assert.True(t, records[0].StopLoss)
	assert.True(t, records[0].Sell)
}

func TestEngineLastRecords(t *testing.T) {
	eng := newTestEngine()

	hist := hourlySeries("AAPL", []float64{10, 11, 12, 13, 14}, 12)
	recent := map[string]models.Bar{"AAPL": minuteAfter(hist, 14)}
	eng.Evaluate(context.Background(), map[string]*models.History{"AAPL": hist}, recent, nil)

	last := eng.LastRecords()
	require.Len(t, last, 1)
	assert.Equal(t, "AAPL", last[0].Symbol)
}
