package engine

import (
	"math"
	"testing"
	"time"
)

func flowLedger(asOf time.Time, flows ...float64) []Transaction {
	var txns []Transaction
	for i, f := range flows {
		day := asOf.AddDate(0, 0, -len(flows)+i)
		txns = append(txns, Transaction{
			TypeID:    34,
			Date:      day,
			Quantity:  1,
			UnitPrice: math.Abs(f),
			IsBuy:     f < 0,
		})
	}
	return txns
}

func TestDailyCashFlow(t *testing.T) {
	asOf := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	day := func(n int, h int) time.Time { return time.Date(2024, 6, n, h, 0, 0, 0, time.UTC) }
	txns := []Transaction{
		{TypeID: 34, Date: day(10, 9), Quantity: 10, UnitPrice: 5, IsBuy: true},
		{TypeID: 34, Date: day(10, 18), Quantity: 4, UnitPrice: 20},
		{TypeID: 35, Date: day(12, 1), Quantity: 2, UnitPrice: 7},
		// Dropped: zero quantity, outside the window, after asOf.
		{TypeID: 35, Date: day(13, 1), Quantity: 0, UnitPrice: 7},
		{TypeID: 35, Date: asOf.AddDate(-1, 0, 0), Quantity: 1, UnitPrice: 1},
		{TypeID: 35, Date: asOf.AddDate(0, 0, 1), Quantity: 1, UnitPrice: 1},
	}
	got := DailyCashFlow(txns, asOf, 180)
	want := []float64{30, 14}
	if len(got) != len(want) {
		t.Fatalf("DailyCashFlow = %v, want %v", got, want)
	}
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Errorf("flow[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAssessCashFlowRisk(t *testing.T) {
	asOf := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	r := AssessCashFlowRisk(flowLedger(asOf, -100, 50, 20, -40, 60, 10), asOf)
	if r == nil {
		t.Fatal("expected a risk summary")
	}

	// Flows have mean 0 and sample variance 18200/5; median |flow| is 45.
	wantScore := 40 * math.Sqrt(3640) / 45
	if !approx(r.RiskScore, wantScore) {
		t.Errorf("RiskScore = %v, want %v", r.RiskScore, wantScore)
	}
	if r.RiskLevel != "balanced" {
		t.Errorf("RiskLevel = %q, want balanced", r.RiskLevel)
	}
	if r.TypicalDailyFlow != 45 {
		t.Errorf("TypicalDailyFlow = %v, want 45", r.TypicalDailyFlow)
	}
	// Six days: both tails are the single worst day.
	if r.VaR95 != 100 || r.VaR99 != 100 || r.ES95 != 100 || r.ES99 != 100 {
		t.Errorf("tails = %v %v %v %v, want all 100", r.VaR95, r.VaR99, r.ES95, r.ES99)
	}
	if r.WorstDay != 100 || r.BestDay != 60 {
		t.Errorf("worst/best = %v/%v, want 100/60", r.WorstDay, r.BestDay)
	}
	if r.SampleDays != 6 || !r.LowSample {
		t.Errorf("SampleDays = %d LowSample = %v", r.SampleDays, r.LowSample)
	}
}

func TestAssessCashFlowRisk_Degenerate(t *testing.T) {
	asOf := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		txns []Transaction
	}{
		{"empty", nil},
		{"too few days", flowLedger(asOf, 10, -10, 5, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if r := AssessCashFlowRisk(tt.txns, asOf); r != nil {
				t.Errorf("AssessCashFlowRisk = %+v, want nil", r)
			}
		})
	}
}

func TestAssessCashFlowRisk_Steady(t *testing.T) {
	asOf := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	flows := make([]float64, 30)
	for i := range flows {
		flows[i] = 100
	}
	r := AssessCashFlowRisk(flowLedger(asOf, flows...), asOf)
	if r == nil {
		t.Fatal("expected a risk summary")
	}
	if r.RiskScore != 0 || r.RiskLevel != "safe" {
		t.Errorf("score %v level %q, want 0 safe", r.RiskScore, r.RiskLevel)
	}
	if r.VaR95 != 0 || r.WorstDay != 0 {
		t.Errorf("VaR95 %v WorstDay %v, want 0 for an always-positive ledger", r.VaR95, r.WorstDay)
	}
	if r.LowSample {
		t.Error("30 days should not be a low sample")
	}
}

func TestHistoricalTail(t *testing.T) {
	x := make([]float64, 100)
	for i := range x {
		x[i] = float64(i + 1) // 1..100
	}
	q, es := historicalTail(x, 0.05)
	if q != 6 {
		t.Errorf("quantile = %v, want 6", q)
	}
	if !approx(es, 3.5) {
		t.Errorf("shortfall = %v, want 3.5", es)
	}
	if q, es := historicalTail(nil, 0.05); q != 0 || es != 0 {
		t.Errorf("empty tail = %v, %v", q, es)
	}
}
