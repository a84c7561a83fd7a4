package indicators

import (
	"math"

	"perps-control-plane/internal/exchange"
)

// Snapshot holds the indicator values for one symbol on one timeframe.
type Snapshot struct {
	MA5        float64 `json:"ma5"`
	MA20       float64 `json:"ma20"`
	MA60       float64 `json:"ma60"`
	MA99       float64 `json:"ma99"`
	RSI14      float64 `json:"rsi14"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	Volume     float64 `json:"volume"`
	AvgVolume  float64 `json:"avg_volume"`
	LastClose  float64 `json:"last_close"`
}

// Compute derives a full indicator snapshot from a kline series.
// Indicators whose lookback exceeds the series length report zero
// (RSI reports its neutral value of 50).
func Compute(klines []exchange.Kline) Snapshot {
	macd, signal, hist := CalculateMACD(klines, 12, 26, 9)

	snap := Snapshot{
		MA5:        CalculateSMA(klines, 5),
		MA20:       CalculateSMA(klines, 20),
		MA60:       CalculateSMA(klines, 60),
		MA99:       CalculateSMA(klines, 99),
		RSI14:      CalculateRSI(klines, 14),
		MACD:       macd,
		MACDSignal: signal,
		MACDHist:   hist,
		AvgVolume:  CalculateAverageVolume(klines, 20),
	}
	if len(klines) > 0 {
		last := klines[len(klines)-1]
		snap.Volume = last.Volume
		snap.LastClose = last.Close
	}
	return snap
}

// CalculateSMA calculates Simple Moving Average over the trailing period.
func CalculateSMA(klines []exchange.Kline, period int) float64 {
	if len(klines) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		sum += klines[i].Close
	}
	return sum / float64(period)
}

// CalculateEMA calculates Exponential Moving Average seeded with the
// SMA of the first period closes.
func CalculateEMA(klines []exchange.Kline, period int) float64 {
	series := emaSeries(closes(klines), period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// CalculateRSI calculates the Relative Strength Index with Wilder smoothing.
func CalculateRSI(klines []exchange.Kline, period int) float64 {
	if len(klines) < period+1 {
		return 50.0
	}

	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i <= period; i++ {
		change := klines[i].Close - klines[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(klines); i++ {
		change := klines[i].Close - klines[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateMACD calculates the MACD line, its signal line (EMA of the
// MACD series), and the histogram.
func CalculateMACD(klines []exchange.Kline, fastPeriod, slowPeriod, signalPeriod int) (macd, signal, hist float64) {
	prices := closes(klines)
	if len(prices) < slowPeriod+signalPeriod {
		return 0, 0, 0
	}

	fast := emaSeries(prices, fastPeriod)
	slow := emaSeries(prices, slowPeriod)

	// Align the series: the slow EMA starts later.
	offset := len(fast) - len(slow)
	macdSeries := make([]float64, len(slow))
	for i := range slow {
		macdSeries[i] = fast[i+offset] - slow[i]
	}

	signalSeries := emaSeries(macdSeries, signalPeriod)
	if len(signalSeries) == 0 {
		return macdSeries[len(macdSeries)-1], 0, 0
	}

	macd = macdSeries[len(macdSeries)-1]
	signal = signalSeries[len(signalSeries)-1]
	return macd, signal, macd - signal
}

// CalculateATR calculates Average True Range over the trailing period.
func CalculateATR(klines []exchange.Kline, period int) float64 {
	if len(klines) < period+1 {
		return 0
	}

	trSum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		high := klines[i].High
		low := klines[i].Low
		prevClose := klines[i-1].Close

		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trSum += tr
	}
	return trSum / float64(period)
}

// CalculateAverageVolume calculates average volume over the trailing
// period, shrinking the period when the series is shorter.
func CalculateAverageVolume(klines []exchange.Kline, period int) float64 {
	if len(klines) == 0 {
		return 0
	}
	if len(klines) < period {
		period = len(klines)
	}

	sum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		sum += klines[i].Volume
	}
	return sum / float64(period)
}

func closes(klines []exchange.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// emaSeries returns the EMA values from index period-1 onward, seeded
// with the SMA of the first period values.
func emaSeries(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	ema := sum / float64(period)
	multiplier := 2.0 / float64(period+1)

	series := make([]float64, 0, len(prices)-period+1)
	series = append(series, ema)
	for i := period; i < len(prices); i++ {
		ema = (prices[i] * multiplier) + (ema * (1 - multiplier))
		series = append(series, ema)
	}
	return series
}
