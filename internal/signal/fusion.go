// Package signal 把模型预测与指标派生的趋势/动量信号融合成
// 方向动作加置信度。每个 tick 重新计算，信号本身不落盘。
package signal

import (
	"github.com/derivbot/goderiv/internal/domain"
	"github.com/derivbot/goderiv/internal/features"
)

// Signal 一次评估周期的融合输出
type Signal struct {
	Action     domain.Action
	Confidence float64
	// Factors 各贡献因子的取值（观测/账本记录用）
	Factors map[string]float64
}

// 动作判定阈值（与原始策略一致）
const (
	buyPrediction  = 0.6
	sellPrediction = 0.4
	rsiOversold    = 35
	rsiOverbought  = 65
)

// Fuse 融合模型预测与指标快照。
//
// 置信度 = clamp(0,1, 0.6 + rsiAdj + (pred-0.5)*0.5)，
// rsiAdj: RSI<35 → +0.25，RSI>65 → -0.25，否则 0。
// 这是启发式混合，不是统计校准过的概率。
//
// BUY 需要 pred>0.6 且 RSI<35 且趋势看多且 MACD 买向；
// SELL 需要 pred<0.4 且 RSI>65 且趋势看空且 MACD 卖向；
// 其余一律 NONE。预测值越界（NaN 或超出 [0,1]）直接拒绝为 NONE。
func Fuse(prediction float64, snap *features.Snapshot) Signal {
	if snap == nil || !inUnitRange(prediction) {
		return Signal{Action: domain.ActionNone}
	}

	bullish := snap.Bullish()
	macdBuy := snap.MACD > snap.MACDSignal

	rsiAdj := 0.0
	switch {
	case snap.RSI < rsiOversold:
		rsiAdj = 0.25
	case snap.RSI > rsiOverbought:
		rsiAdj = -0.25
	}

	confidence := clamp01(0.6 + rsiAdj + (prediction-0.5)*0.5)

	action := domain.ActionNone
	switch {
	case prediction > buyPrediction && snap.RSI < rsiOversold && bullish && macdBuy:
		action = domain.ActionBuy
	case prediction < sellPrediction && snap.RSI > rsiOverbought && !bullish && !macdBuy:
		action = domain.ActionSell
	}

	trendBias := -1.0
	if bullish {
		trendBias = 1.0
	}
	macdSignal := -1.0
	if macdBuy {
		macdSignal = 1.0
	}

	return Signal{
		Action:     action,
		Confidence: confidence,
		Factors: map[string]float64{
			"prediction":  prediction,
			"rsi":         snap.RSI,
			"trend_bias":  trendBias,
			"macd_signal": macdSignal,
			"atr":         snap.ATR,
		},
	}
}

func inUnitRange(v float64) bool {
	// NaN 会让所有比较为 false，这里顺带排除
	return v >= 0 && v <= 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
