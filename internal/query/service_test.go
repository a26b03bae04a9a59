package query

import "testing"

func TestDeriveDebt(t *testing.T) {
	tests := []struct {
		name         string
		portion      int64
		totalDebt    int64
		totalPortion int64
		want         int64
	}{
		{"whole pool", 100, 5000, 100, 5000},
		{"half pool", 50, 5000, 100, 2500},
		{"rounds down", 1, 100, 3, 33},
		{"zero portion", 0, 5000, 100, 0},
		{"empty pool", 100, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveDebt(tt.portion, tt.totalDebt, tt.totalPortion); got != tt.want {
				t.Errorf("deriveDebt(%d, %d, %d) = %d, want %d",
					tt.portion, tt.totalDebt, tt.totalPortion, got, tt.want)
			}
		})
	}
}
