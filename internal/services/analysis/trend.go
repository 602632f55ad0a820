package analysis

import (
	"math"
)

// TrendPoint is one day of a variety's averaged price series.
type TrendPoint struct {
	Date     string  `json:"date"`
	AvgPrice float64 `json:"avg_price"`
}

// TrendResult summarizes the direction of a price series.
type TrendResult struct {
	Direction  string       `json:"direction"` // 上涨 / 下跌 / 平稳
	ChangeRate float64      `json:"change_rate"`
	Latest     float64      `json:"latest_price"`
	MA5        *float64     `json:"ma5,omitempty"`
	MA10       *float64     `json:"ma10,omitempty"`
	Points     []TrendPoint `json:"points"`
}

// CalculateMA calculates Simple Moving Average. Positions before the first
// full window are NaN.
func CalculateMA(prices []float64, period int) []float64 {
	if len(prices) < period || period <= 0 {
		return make([]float64, len(prices))
	}

	result := make([]float64, len(prices))
	for i := 0; i < len(prices); i++ {
		if i < period-1 {
			result[i] = math.NaN()
			continue
		}
		sum := 0.0
		for j := 0; j < period; j++ {
			sum += prices[i-period+1+j]
		}
		result[i] = sum / float64(period)
	}
	return result
}

// CalculateEMA calculates Exponential Moving Average, seeded with the SMA of
// the first window.
func CalculateEMA(prices []float64, period int) []float64 {
	if len(prices) < period || period <= 0 {
		return make([]float64, len(prices))
	}

	result := make([]float64, len(prices))
	multiplier := 2.0 / (float64(period) + 1)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += prices[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < len(prices); i++ {
		result[i] = (prices[i] * multiplier) + (result[i-1] * (1 - multiplier))
	}
	for i := 0; i < period-1; i++ {
		result[i] = math.NaN()
	}
	return result
}

// AnalyzeTrend classifies a daily price series. Points must be in ascending
// date order. Changes within ±1% count as flat.
func AnalyzeTrend(points []TrendPoint) TrendResult {
	result := TrendResult{Direction: "平稳", Points: points}
	if len(points) == 0 {
		return result
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.AvgPrice
	}
	result.Latest = prices[len(prices)-1]

	first := prices[0]
	if first > 0 {
		result.ChangeRate = (result.Latest - first) / first * 100
	}
	switch {
	case result.ChangeRate > 1:
		result.Direction = "上涨"
	case result.ChangeRate < -1:
		result.Direction = "下跌"
	}

	if ma5 := CalculateMA(prices, 5); len(ma5) > 0 {
		if v := ma5[len(ma5)-1]; !math.IsNaN(v) && v != 0 {
			result.MA5 = &v
		}
	}
	if ma10 := CalculateMA(prices, 10); len(ma10) > 0 {
		if v := ma10[len(ma10)-1]; !math.IsNaN(v) && v != 0 {
			result.MA10 = &v
		}
	}
	return result
}
