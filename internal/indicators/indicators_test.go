package indicators

import (
	"math"
	"testing"

	"perps-control-plane/internal/exchange"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func klinesFromCloses(closes ...float64) []exchange.Kline {
	klines := make([]exchange.Kline, len(closes))
	for i, c := range closes {
		klines[i] = exchange.Kline{Open: c, High: c, Low: c, Close: c, Volume: 10}
	}
	return klines
}

func TestCalculateSMA(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		period int
		want   float64
	}{
		{"trailing window", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 5, 8},
		{"full series", []float64{2, 4, 6}, 3, 4},
		{"insufficient data", []float64{1, 2}, 5, 0},
		{"zero period", []float64{1, 2, 3}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateSMA(klinesFromCloses(tt.closes...), tt.period)
			if !floatEquals(got, tt.want) {
				t.Errorf("CalculateSMA() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateEMA(t *testing.T) {
	// Period 1 degenerates to the last close.
	klines := klinesFromCloses(1, 2, 3, 4, 5)
	if got := CalculateEMA(klines, 1); !floatEquals(got, 5) {
		t.Errorf("CalculateEMA(period=1) = %v, want 5", got)
	}

	if got := CalculateEMA(klines, 10); !floatEquals(got, 0) {
		t.Errorf("CalculateEMA(insufficient) = %v, want 0", got)
	}
}

func TestCalculateRSI(t *testing.T) {
	up := make([]float64, 30)
	down := make([]float64, 30)
	for i := range up {
		up[i] = float64(i + 1)
		down[i] = float64(60 - i)
	}

	if got := CalculateRSI(klinesFromCloses(up...), 14); !floatEquals(got, 100) {
		t.Errorf("RSI of monotonic gains = %v, want 100", got)
	}
	if got := CalculateRSI(klinesFromCloses(down...), 14); !floatEquals(got, 0) {
		t.Errorf("RSI of monotonic losses = %v, want 0", got)
	}
	if got := CalculateRSI(klinesFromCloses(1, 2, 3), 14); !floatEquals(got, 50) {
		t.Errorf("RSI with short series = %v, want neutral 50", got)
	}
}

func TestCalculateMACD(t *testing.T) {
	// Flat prices produce a zero MACD line and histogram.
	flat := make([]float64, 60)
	for i := range flat {
		flat[i] = 100
	}
	macd, signal, hist := CalculateMACD(klinesFromCloses(flat...), 12, 26, 9)
	if !floatEquals(macd, 0) || !floatEquals(signal, 0) || !floatEquals(hist, 0) {
		t.Errorf("MACD of flat series = (%v, %v, %v), want zeros", macd, signal, hist)
	}

	// Rising prices keep the fast EMA above the slow EMA.
	rising := make([]float64, 60)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	macd, _, _ = CalculateMACD(klinesFromCloses(rising...), 12, 26, 9)
	if macd <= 0 {
		t.Errorf("MACD of rising series = %v, want > 0", macd)
	}

	macd, signal, hist = CalculateMACD(klinesFromCloses(1, 2, 3), 12, 26, 9)
	if macd != 0 || signal != 0 || hist != 0 {
		t.Errorf("MACD with short series = (%v, %v, %v), want zeros", macd, signal, hist)
	}
}

func TestCalculateATR(t *testing.T) {
	klines := []exchange.Kline{
		{High: 10, Low: 8, Close: 9},
		{High: 11, Low: 9, Close: 10},
		{High: 12, Low: 10, Close: 11},
	}
	// True ranges over the last two candles are both 2.
	if got := CalculateATR(klines, 2); !floatEquals(got, 2) {
		t.Errorf("CalculateATR() = %v, want 2", got)
	}

	if got := CalculateATR(klines, 5); !floatEquals(got, 0) {
		t.Errorf("CalculateATR(insufficient) = %v, want 0", got)
	}
}

func TestCalculateAverageVolume(t *testing.T) {
	klines := []exchange.Kline{{Volume: 5}, {Volume: 15}, {Volume: 25}}
	if got := CalculateAverageVolume(klines, 2); !floatEquals(got, 20) {
		t.Errorf("CalculateAverageVolume() = %v, want 20", got)
	}
	// Period longer than the series shrinks to the series length.
	if got := CalculateAverageVolume(klines, 10); !floatEquals(got, 15) {
		t.Errorf("CalculateAverageVolume(shrunk) = %v, want 15", got)
	}
	if got := CalculateAverageVolume(nil, 10); !floatEquals(got, 0) {
		t.Errorf("CalculateAverageVolume(empty) = %v, want 0", got)
	}
}

func TestComputeSnapshot(t *testing.T) {
	snap := Compute(nil)
	if !floatEquals(snap.RSI14, 50) {
		t.Errorf("empty snapshot RSI = %v, want 50", snap.RSI14)
	}

	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 + float64(i%7)
	}
	snap = Compute(klinesFromCloses(closes...))
	if snap.MA5 == 0 || snap.MA20 == 0 || snap.MA60 == 0 || snap.MA99 == 0 {
		t.Errorf("expected all moving averages populated, got %+v", snap)
	}
	if !floatEquals(snap.LastClose, closes[len(closes)-1]) {
		t.Errorf("LastClose = %v, want %v", snap.LastClose, closes[len(closes)-1])
	}
	if !floatEquals(snap.Volume, 10) {
		t.Errorf("Volume = %v, want 10", snap.Volume)
	}
}
