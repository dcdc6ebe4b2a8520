package engine

import (
	"context"
	"testing"

	"eve-trade-analytics/internal/esi"
)

func TestMemoCachesIdenticalInputs(t *testing.T) {
	m := NewMemo(10)
	in := sampleInput(34, []float64{100, 102, 104})

	a := m.Analyze(in, 7)
	b := m.Analyze(in, 7)
	if a.Trend.Regression != b.Trend.Regression || a.Points != b.Points {
		t.Errorf("cached result differs: %+v vs %+v", a, b)
	}
	hits, misses := m.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", hits, misses)
	}

	// Any changed input is a different key.
	m.Analyze(in, 8)
	changed := in
	changed.History = append([]esi.HistoryEntry(nil), in.History...)
	changed.History[0].Volume++
	m.Analyze(changed, 7)
	if m.Len() != 3 {
		t.Errorf("Len = %d, want 3", m.Len())
	}
}

func TestMemoClearsWhenFull(t *testing.T) {
	m := NewMemo(2)
	m.Analyze(sampleInput(1, []float64{1, 2}), 7)
	m.Analyze(sampleInput(2, []float64{1, 2}), 7)
	m.Analyze(sampleInput(3, []float64{1, 2}), 7)
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1 after overflow", m.Len())
	}
	m.Reset()
	if m.Len() != 0 {
		t.Errorf("Len = %d after Reset", m.Len())
	}
}

func TestMemoNilIsPassThrough(t *testing.T) {
	var m *Memo
	got := m.Analyze(sampleInput(5, []float64{1, 2, 3}), 7)
	if got.TypeID != 5 || m.Len() != 0 {
		t.Errorf("nil memo = %+v", got)
	}
	m.Reset()
}

func TestInputKeyStable(t *testing.T) {
	in := sampleInput(34, []float64{100, 101})
	if InputKey(in, 7) != InputKey(in, 7) {
		t.Error("InputKey not deterministic")
	}
	other := in
	other.Book.SellOrders++
	if InputKey(in, 7) == InputKey(other, 7) {
		t.Error("book change did not change key")
	}
}

func TestRunBatchUsesMemo(t *testing.T) {
	src := &fakeSource{inputs: map[int32]ItemInput{34: sampleInput(34, []float64{1, 2, 3})}}
	m := NewMemo(0)
	req := BatchRequest{TypeIDs: []int32{34}, Memo: m}
	for range 3 {
		if _, err := RunBatch(context.Background(), src, req); err != nil {
			t.Fatal(err)
		}
	}
	hits, misses := m.Stats()
	if hits != 2 || misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 2/1", hits, misses)
	}
}
