// Package features 把滚动 tick 缓冲区变成定宽特征向量。
//
// 指标数学本身由 go-talib 提供（外部协作者，不在本仓库实现）；
// 这里只负责两件事：
//  1. 适配层：把 talib 的“定长输出 + 前导暖机零值”裁剪成
//     “变长输出”（长度 = 输入长度 - lookback），与对齐器的契约一致；
//  2. 对齐器：把不同暖机长度的指标序列对齐到同一时间戳索引，
//     取各自最新值拼出特征向量。
package features

import (
	"github.com/markcheno/go-talib"
)

// 指标输出名（对齐器按名取用）
const (
	SeriesRSI        = "rsi"
	SeriesEMAShort   = "ema_short"
	SeriesEMALong    = "ema_long"
	SeriesMACD       = "macd"
	SeriesMACDSignal = "macd_signal"
	SeriesMACDHist   = "macd_hist"
	SeriesATR        = "atr"
)

// CalculatorConfig 指标周期配置（与原始策略一致的默认值）
type CalculatorConfig struct {
	RSIPeriod      int
	EMAShortPeriod int
	EMALongPeriod  int
	MACDFast       int
	MACDSlow       int
	MACDSignal     int
	ATRPeriod      int
}

// DefaultCalculatorConfig 返回默认周期
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		RSIPeriod:      14,
		EMAShortPeriod: 5,
		EMALongPeriod:  12,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		ATRPeriod:      14,
	}
}

// Calculator 指标计算适配层
type Calculator struct {
	cfg CalculatorConfig
}

// NewCalculator 创建计算器
func NewCalculator(cfg CalculatorConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// MinSamples 产出完整特征向量所需的最小样本数
// （最长 lookback + 1，MACD 的 lookback = slow-1 + signal-1）
func (c *Calculator) MinSamples() int {
	longest := c.cfg.RSIPeriod
	if lb := c.cfg.EMALongPeriod - 1; lb > longest {
		longest = lb
	}
	if lb := c.cfg.MACDSlow - 1 + c.cfg.MACDSignal - 1; lb > longest {
		longest = lb
	}
	if c.cfg.ATRPeriod > longest {
		longest = c.cfg.ATRPeriod
	}
	return longest + 1
}

// Calculate 对收盘价序列计算全部指标，输出变长序列映射。
// 每个序列长度 = len(closes) - lookback（可能为 0，由对齐器判定数据不足）。
func (c *Calculator) Calculate(closes []float64) map[string][]float64 {
	out := make(map[string][]float64, 7)

	out[SeriesRSI] = trim(talib.Rsi(closes, c.cfg.RSIPeriod), c.cfg.RSIPeriod)
	out[SeriesEMAShort] = trim(talib.Ema(closes, c.cfg.EMAShortPeriod), c.cfg.EMAShortPeriod-1)
	out[SeriesEMALong] = trim(talib.Ema(closes, c.cfg.EMALongPeriod), c.cfg.EMALongPeriod-1)

	macd, signal, hist := talib.Macd(closes, c.cfg.MACDFast, c.cfg.MACDSlow, c.cfg.MACDSignal)
	macdLookback := c.cfg.MACDSlow - 1 + c.cfg.MACDSignal - 1
	out[SeriesMACD] = trim(macd, macdLookback)
	out[SeriesMACDSignal] = trim(signal, macdLookback)
	out[SeriesMACDHist] = trim(hist, macdLookback)

	// venue 只给 tick 报价，没有真实 OHLC：按原始实现用
	// open=prevClose 合成 high/low 供 ATR 使用
	high, low := synthesizeHighLow(closes)
	out[SeriesATR] = trim(talib.Atr(high, low, closes, c.cfg.ATRPeriod), c.cfg.ATRPeriod)

	return out
}

// trim 裁掉 talib 输出的前导暖机区；输入不足 lookback 时返回空序列
func trim(series []float64, lookback int) []float64 {
	if lookback < 0 {
		lookback = 0
	}
	if len(series) <= lookback {
		return nil
	}
	return series[lookback:]
}

// synthesizeHighLow 用相邻收盘价合成 high/low
func synthesizeHighLow(closes []float64) (high, low []float64) {
	high = make([]float64, len(closes))
	low = make([]float64, len(closes))
	for i, close := range closes {
		prev := close
		if i > 0 {
			prev = closes[i-1]
		}
		if prev > close {
			high[i], low[i] = prev, close
		} else {
			high[i], low[i] = close, prev
		}
	}
	return high, low
}
