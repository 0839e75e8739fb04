package features

import (
	"math"

	"github.com/pkg/errors"
)

// SchemaVersion 特征顺序的版本号。
// 改动指标集合或顺序会使已训练模型失效，必须同步提升版本号，
// 并重新训练/导出模型（模型文件中记录训练时的版本）。
const SchemaVersion = 1

// FeatureNames 特征向量的固定顺序（有序、带版本）
var FeatureNames = []string{
	SeriesRSI,
	SeriesEMAShort,
	SeriesEMALong,
	SeriesMACD,
	SeriesMACDSignal,
	SeriesMACDHist,
	"trend_bias",
	SeriesATR,
}

// ErrInsufficientData 缓冲区长度不足最长 lookback，本周期跳过。
// 这不是错误路径：调用方静默跳过即可。
var ErrInsufficientData = errors.New("features: insufficient data")

// Snapshot 对齐后的指标快照（各指标在同一时间戳上的最新值）
type Snapshot struct {
	RSI        float64
	EMAShort   float64
	EMALong    float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	TrendBias  float64 // +1 bullish / -1 bearish（派生特征）
	ATR        float64
}

// Vector 按 FeatureNames 固定顺序导出特征向量
func (s *Snapshot) Vector() []float64 {
	return []float64{
		s.RSI,
		s.EMAShort,
		s.EMALong,
		s.MACD,
		s.MACDSignal,
		s.MACDHist,
		s.TrendBias,
		s.ATR,
	}
}

// Bullish 短期均线是否在长期均线上方
func (s *Snapshot) Bullish() bool {
	return s.EMAShort > s.EMALong
}

// Volatility 信号离散度：|RSI-50|/50，用于自适应下单间隔
func (s *Snapshot) Volatility() float64 {
	v := math.Abs(s.RSI-50) / 50
	if v > 1 {
		v = 1
	}
	return v
}

// Align 把变长指标输出对齐到缓冲区时间轴并取各自最新值。
//
// 对齐规则：缓冲区长度 L、指标输出长度 M（M<=L）时，
// 缓冲区第 i 个样本对应输出第 i-(L-M) 个值；暖机边界之前没有指标值。
// 特征向量只取每个序列的最后一个值（最新时间戳）。
// 任一序列为空（L 低于其 lookback）时返回 ErrInsufficientData，
// 绝不产出部分填充的向量。
func Align(closes []float64, outputs map[string][]float64) (*Snapshot, error) {
	bufLen := len(closes)

	latest := func(name string) (float64, error) {
		series, ok := outputs[name]
		if !ok || len(series) == 0 {
			return 0, ErrInsufficientData
		}
		if len(series) > bufLen {
			// 输出比输入还长说明指标适配层出了 bug，属于编程错误
			return 0, errors.Errorf("features: series %s longer than buffer (%d > %d)", name, len(series), bufLen)
		}
		return series[len(series)-1], nil
	}

	var snap Snapshot
	var err error
	if snap.RSI, err = latest(SeriesRSI); err != nil {
		return nil, err
	}
	if snap.EMAShort, err = latest(SeriesEMAShort); err != nil {
		return nil, err
	}
	if snap.EMALong, err = latest(SeriesEMALong); err != nil {
		return nil, err
	}
	if snap.MACD, err = latest(SeriesMACD); err != nil {
		return nil, err
	}
	if snap.MACDSignal, err = latest(SeriesMACDSignal); err != nil {
		return nil, err
	}
	if snap.MACDHist, err = latest(SeriesMACDHist); err != nil {
		return nil, err
	}
	if snap.ATR, err = latest(SeriesATR); err != nil {
		return nil, err
	}

	if snap.Bullish() {
		snap.TrendBias = 1
	} else {
		snap.TrendBias = -1
	}
	return &snap, nil
}
