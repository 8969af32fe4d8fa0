package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/models"
	"github.com/neuralprobe/D4/internal/portfolio"
	"github.com/neuralprobe/D4/internal/storage"
)

// fakeVenue serves scripted positions; the rest of the broker surface
// is never touched by the reconciler.
type fakeVenue struct {
	positions []broker.PositionItem
	err       error
}

func (f *fakeVenue) GetAccount() (*broker.Account, error) { return &broker.Account{}, nil }

func (f *fakeVenue) GetPositions() ([]broker.PositionItem, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.positions, nil
}

func (f *fakeVenue) GetClock() (*broker.Clock, error) { return &broker.Clock{}, nil }

func (f *fakeVenue) TradingDates(_ context.Context, _, _ time.Time) ([]time.Time, error) {
	return nil, nil
}

func (f *fakeVenue) ListAssets() ([]broker.Asset, error) { return nil, nil }

func (f *fakeVenue) SubmitMarketOrder(broker.OrderRequest) (*broker.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeVenue) GetOrderByClientID(string) (*broker.Order, error) { return nil, nil }

func (f *fakeVenue) GetOpenOrders() ([]broker.Order, error) { return nil, nil }

func (f *fakeVenue) CancelOrder(string) error { return nil }

func (f *fakeVenue) CancelAllOpenOrders() (int, error) { return 0, nil }

func newTestReconciler(t *testing.T, venue *fakeVenue) (*Reconciler, *portfolio.Positions, storage.Interface) {
	t.Helper()
	store, err := storage.NewJSONStorage(filepath.Join(t.TempDir(), "positions.json"))
	require.NoError(t, err)
	positions := portfolio.NewPositions()
	rec := NewReconciler(venue, store, positions, 0.01, log.New(io.Discard, "", 0))
	return rec, positions, store
}

func TestReconcileAdmitsVenuePositionWithSeededStop(t *testing.T) {
	venue := &fakeVenue{positions: []broker.PositionItem{
		{Symbol: "NVDA", Qty: 10, AvgEntryPrice: 190, CurrentPrice: 200, MarketValue: 2000, CostBasis: 1900},
	}}
	rec, positions, _ := newTestReconciler(t, venue)

	require.NoError(t, rec.Reconcile())

	pos := positions.Get("NVDA")
	require.NotNil(t, pos)
	assert.InDelta(t, 10, pos.Qty, 1e-9)
	assert.InDelta(t, 2000, pos.MarketValue, 1e-9)
	assert.InDelta(t, 198, pos.StopTrailing, 1e-9) // price less the 1% trail
	assert.Empty(t, pos.StopKey)
	assert.Zero(t, pos.StopValue)
}

func TestReconcileCarriesStopsFromBook(t *testing.T) {
	venue := &fakeVenue{positions: []broker.PositionItem{
		{Symbol: "TSLA", Qty: 12, AvgEntryPrice: 100, CurrentPrice: 105, MarketValue: 1260, CostBasis: 1200},
	}}
	rec, positions, _ := newTestReconciler(t, venue)
	entry := time.Date(2024, 6, 28, 10, 0, 0, 0, time.UTC)
	require.NoError(t, positions.Add(models.NewPosition("TSLA", entry, 10, 100, 1000, 95, "sma5", 99)))

	require.NoError(t, rec.Reconcile())

	pos := positions.Get("TSLA")
	require.NotNil(t, pos)
	assert.InDelta(t, 12, pos.Qty, 1e-9) // venue quantity wins
	assert.InDelta(t, 95, pos.StopValue, 1e-9)
	assert.Equal(t, "sma5", pos.StopKey)
	assert.InDelta(t, 99, pos.StopTrailing, 1e-9)
	assert.Equal(t, entry, pos.EntryTime)
}

func TestReconcileRestoresStopsFromStorage(t *testing.T) {
	venue := &fakeVenue{positions: []broker.PositionItem{
		{Symbol: "AMD", Qty: 5, AvgEntryPrice: 88, CurrentPrice: 90, MarketValue: 450, CostBasis: 440},
	}}
	rec, positions, store := newTestReconciler(t, venue)
	entry := time.Date(2024, 6, 27, 14, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetSymbolState("AMD", storage.SymbolState{
		StopValue: 80, StopKey: "bb1_lower", StopTrailing: 85, EntryTime: entry,
	}))

	require.NoError(t, rec.Reconcile())

	pos := positions.Get("AMD")
	require.NotNil(t, pos)
	assert.InDelta(t, 80, pos.StopValue, 1e-9)
	assert.Equal(t, "bb1_lower", pos.StopKey)
	assert.InDelta(t, 85, pos.StopTrailing, 1e-9)
	assert.Equal(t, entry, pos.EntryTime)
}

func TestReconcileDropsLocalOnlyPositionsAndPrunes(t *testing.T) {
	venue := &fakeVenue{positions: []broker.PositionItem{
		{Symbol: "KEEP", Qty: 1, AvgEntryPrice: 50, CurrentPrice: 50, MarketValue: 50, CostBasis: 50},
	}}
	rec, positions, store := newTestReconciler(t, venue)
	entry := time.Date(2024, 6, 28, 10, 0, 0, 0, time.UTC)
	require.NoError(t, positions.Add(models.NewPosition("GONE", entry, 3, 20, 60, 0, "", 19)))
	require.NoError(t, store.SetSymbolState("GONE", storage.SymbolState{StopTrailing: 19}))
	require.NoError(t, store.SetSymbolState("KEEP", storage.SymbolState{StopTrailing: 49}))

	require.NoError(t, rec.Reconcile())

	assert.False(t, positions.Has("GONE"))
	assert.True(t, positions.Has("KEEP"))
	assert.Equal(t, []string{"KEEP"}, store.Symbols())
}

func TestReconcileLeavesBookUntouchedOnFetchError(t *testing.T) {
	venue := &fakeVenue{err: errors.New("venue down")}
	rec, positions, _ := newTestReconciler(t, venue)
	entry := time.Date(2024, 6, 28, 10, 0, 0, 0, time.UTC)
	require.NoError(t, positions.Add(models.NewPosition("AAA", entry, 10, 100, 1000, 0, "", 99)))

	err := rec.Reconcile()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue down")
	assert.True(t, positions.Has("AAA"))
}

func TestReconcileIgnoresNonPositiveQuantities(t *testing.T) {
	venue := &fakeVenue{positions: []broker.PositionItem{
		{Symbol: "SHRT", Qty: -5, AvgEntryPrice: 10, CurrentPrice: 10},
		{Symbol: "LONG", Qty: 2, AvgEntryPrice: 10, CurrentPrice: 11, MarketValue: 22, CostBasis: 20},
	}}
	rec, positions, _ := newTestReconciler(t, venue)

	require.NoError(t, rec.Reconcile())

	assert.False(t, positions.Has("SHRT"))
	assert.True(t, positions.Has("LONG"))
}
