package features

import (
	"math"
	"testing"
)

// 合成一段带趋势和噪声的价格序列
func syntheticCloses(n int) []float64 {
	closes := make([]float64, n)
	price := 100.0
	for i := 0; i < n; i++ {
		price += 0.1*math.Sin(float64(i)/5) + 0.05
		closes[i] = price
	}
	return closes
}

func TestCalculator_MinSamples(t *testing.T) {
	calc := NewCalculator(DefaultCalculatorConfig())
	// 默认周期下最长 lookback 是 MACD: 26-1 + 9-1 = 33
	if got := calc.MinSamples(); got != 34 {
		t.Fatalf("MinSamples 应为 34，得到 %d", got)
	}
}

func TestCalculator_VariableLengthOutputs(t *testing.T) {
	cfg := DefaultCalculatorConfig()
	calc := NewCalculator(cfg)
	n := 60
	out := calc.Calculate(syntheticCloses(n))

	// 每个序列长度 = n - lookback
	cases := map[string]int{
		SeriesRSI:        n - cfg.RSIPeriod,
		SeriesEMAShort:   n - (cfg.EMAShortPeriod - 1),
		SeriesEMALong:    n - (cfg.EMALongPeriod - 1),
		SeriesMACD:       n - (cfg.MACDSlow - 1 + cfg.MACDSignal - 1),
		SeriesMACDSignal: n - (cfg.MACDSlow - 1 + cfg.MACDSignal - 1),
		SeriesATR:        n - cfg.ATRPeriod,
	}
	for name, want := range cases {
		if got := len(out[name]); got != want {
			t.Errorf("序列 %s 长度应为 %d，得到 %d", name, want, got)
		}
	}

	// 裁剪后不应残留暖机零值开头
	for name, series := range out {
		if len(series) > 0 && series[0] == 0 {
			t.Errorf("序列 %s 开头残留暖机零值", name)
		}
	}
}

func TestAlign_TakesLatestOfEachSeries(t *testing.T) {
	closes := syntheticCloses(60)
	calc := NewCalculator(DefaultCalculatorConfig())
	out := calc.Calculate(closes)

	snap, err := Align(closes, out)
	if err != nil {
		t.Fatalf("Align 失败: %v", err)
	}

	// 快照取各序列最后一个值（同一最新时间戳）
	if snap.RSI != out[SeriesRSI][len(out[SeriesRSI])-1] {
		t.Error("RSI 应取序列最后一个值")
	}
	if snap.MACD != out[SeriesMACD][len(out[SeriesMACD])-1] {
		t.Error("MACD 应取序列最后一个值")
	}

	// 派生特征与均线关系一致
	wantBias := -1.0
	if snap.EMAShort > snap.EMALong {
		wantBias = 1.0
	}
	if snap.TrendBias != wantBias {
		t.Errorf("TrendBias 应为 %v，得到 %v", wantBias, snap.TrendBias)
	}

	vec := snap.Vector()
	if len(vec) != len(FeatureNames) {
		t.Fatalf("特征向量长度 %d 与 FeatureNames %d 不一致", len(vec), len(FeatureNames))
	}
}

func TestAlign_InsufficientData(t *testing.T) {
	calc := NewCalculator(DefaultCalculatorConfig())
	// 不足最长 lookback：MACD 序列为空
	closes := syntheticCloses(20)
	out := calc.Calculate(closes)

	if _, err := Align(closes, out); err != ErrInsufficientData {
		t.Fatalf("数据不足应返回 ErrInsufficientData，得到 %v", err)
	}
}

func TestAlign_NeverPartialVector(t *testing.T) {
	// 人为构造缺失序列，确保不会产出部分填充的向量
	closes := syntheticCloses(60)
	calc := NewCalculator(DefaultCalculatorConfig())
	out := calc.Calculate(closes)
	delete(out, SeriesATR)

	if _, err := Align(closes, out); err != ErrInsufficientData {
		t.Fatalf("缺失序列应整体拒绝，得到 %v", err)
	}
}

func TestSnapshot_Volatility(t *testing.T) {
	cases := []struct {
		rsi  float64
		want float64
	}{
		{50, 0},
		{25, 0.5},
		{100, 1},
		{0, 1},
	}
	for _, c := range cases {
		s := Snapshot{RSI: c.rsi}
		if got := s.Volatility(); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("RSI=%v 波动率应为 %v，得到 %v", c.rsi, c.want, got)
		}
	}
}
