package models

import (
	"math"
	"testing"
	"time"
)

func TestDecisionRingEvictsOldest(t *testing.T) {
	r := NewDecisionRing(3)
	ts := time.Date(2024, 3, 4, 10, 31, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.Push(DecisionRecord{Symbol: "AAPL", Timestamp: ts.Add(time.Duration(i) * time.Minute), Price: float64(100 + i)})
	}

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	recs := r.Records()
	if recs[0].Price != 102 || recs[2].Price != 104 {
		t.Errorf("retained prices = [%v %v %v], want [102 103 104]", recs[0].Price, recs[1].Price, recs[2].Price)
	}
	last, ok := r.Last()
	if !ok || last.Price != 104 {
		t.Errorf("Last() = %v/%v, want price 104", last.Price, ok)
	}
}

func TestDecisionRingEmptyLast(t *testing.T) {
	r := NewDecisionRing(3)
	if _, ok := r.Last(); ok {
		t.Error("Last() on empty ring reported ok")
	}
}

func TestDecisionCSVRowMatchesHeader(t *testing.T) {
	d := DecisionRecord{
		Symbol:       "AAPL",
		Timestamp:    time.Date(2024, 3, 4, 10, 31, 0, 0, time.UTC),
		Price:        105.25,
		TouchBB1:     true,
		Buy:          true,
		BuyReason:    "bb1-sma",
		BuyStrength:  2,
		StopValue:    101.5,
		StopKey:      "sma20",
		StopTrailing: 104.1975,
		NewStopValue: math.NaN(),
		SellReason:   "|StopLoss|",
	}

	header := DecisionHeader()
	row := d.CSVRow()
	if len(row) != len(header) {
		t.Fatalf("CSVRow has %d fields, header has %d", len(row), len(header))
	}

	cols := make(map[string]string, len(header))
	for i, name := range header {
		cols[name] = row[i]
	}
	if cols["symbol"] != "AAPL" {
		t.Errorf("symbol = %q", cols["symbol"])
	}
	if cols["price"] != "105.25" {
		t.Errorf("price = %q, want 105.25", cols["price"])
	}
	if cols["touch_bb1"] != "true" || cols["touch_bb2"] != "false" {
		t.Errorf("touch flags = %q/%q", cols["touch_bb1"], cols["touch_bb2"])
	}
	if cols["buy_reason"] != "bb1-sma" {
		t.Errorf("buy_reason = %q", cols["buy_reason"])
	}
	if cols["sell_reason"] != "|StopLoss|" {
		t.Errorf("sell_reason = %q", cols["sell_reason"])
	}
	if cols["timestamp"] != "2024-03-04T10:31:00Z" {
		t.Errorf("timestamp = %q", cols["timestamp"])
	}
	if cols["new_stop_value"] != "0" {
		t.Errorf("new_stop_value = %q, want NaN serialized as 0", cols["new_stop_value"])
	}
}
