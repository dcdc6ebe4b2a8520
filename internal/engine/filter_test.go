package engine

import "testing"

func TestVelocityFilter(t *testing.T) {
	results := []VelocityResult{
		{TypeID: 1, DailyVolume7d: 500, VelocityScore: 80, Spread: 12, CompetitionLevel: CompetitionLow},
		{TypeID: 2, DailyVolume7d: 50, VelocityScore: 90, Spread: 20, CompetitionLevel: CompetitionLow},
		{TypeID: 3, DailyVolume7d: 900, VelocityScore: 30, Spread: 15, CompetitionLevel: CompetitionHigh},
		{TypeID: 4, DailyVolume7d: 900, VelocityScore: 70, Spread: 2, CompetitionLevel: CompetitionLow},
	}
	tests := []struct {
		name   string
		filter VelocityFilter
		want   []int32
	}{
		{"no thresholds", VelocityFilter{}, []int32{1, 2, 3, 4}},
		{"min volume", VelocityFilter{MinDailyVolume: 100}, []int32{1, 3, 4}},
		{"min score", VelocityFilter{MinScore: 60}, []int32{1, 2, 4}},
		{"min spread", VelocityFilter{MinSpread: 10}, []int32{1, 2, 3}},
		{"competition", VelocityFilter{CompetitionLevel: CompetitionHigh}, []int32{3}},
		{"combined", VelocityFilter{MinDailyVolume: 100, MinScore: 60, MinSpread: 10}, []int32{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterVelocity(results, tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.want))
			}
			for i, r := range got {
				if r.TypeID != tt.want[i] {
					t.Errorf("[%d] TypeID = %d, want %d", i, r.TypeID, tt.want[i])
				}
			}
		})
	}
}
