package risk

import (
	"math"
	"testing"
	"testing/quick"
)

var testSizerCfg = SizerConfig{
	KellyFraction: 0.15,
	MinSize:       0.01,
	MaxSize:       0.15,
}

func TestSize_KnownValues(t *testing.T) {
	// balance=1, conf=1: raw = 1*0.15*1 = 0.15 = MaxSize
	if got := Size(testSizerCfg, 1, 1); got != 0.15 {
		t.Errorf("conf=1 balance=1 应为 0.15，得到 %v", got)
	}

	// conf=0: raw=0 → 裁剪到 MinSize
	if got := Size(testSizerCfg, 100, 0); got != 0.01 {
		t.Errorf("conf=0 应裁剪到 MinSize，得到 %v", got)
	}

	// balance=1, conf=0.7: raw = 0.15 * 0.7^1.5
	want := 0.15 * math.Pow(0.7, 1.5)
	if got := Size(testSizerCfg, 1, 0.7); math.Abs(got-want) > 1e-12 {
		t.Errorf("conf=0.7 应为 %v，得到 %v", want, got)
	}
}

// **属性 1: 输出恒在 [MinSize, MaxSize] 内**
// 无论余额和置信度取什么值（包括越界输入），仓位都不越过硬边界
func TestProperty_SizeAlwaysBounded(t *testing.T) {
	property := func(balance, confidence float64) bool {
		if math.IsNaN(balance) || math.IsInf(balance, 0) ||
			math.IsNaN(confidence) || math.IsInf(confidence, 0) {
			return true // 跳过非有限输入
		}
		got := Size(testSizerCfg, balance, confidence)
		return got >= testSizerCfg.MinSize && got <= testSizerCfg.MaxSize
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 2000}); err != nil {
		t.Errorf("仓位越界: %v", err)
	}
}

// **属性 2: 固定余额下对置信度单调不减**
func TestProperty_SizeMonotonicInConfidence(t *testing.T) {
	property := func(balance, c1, c2 float64) bool {
		if math.IsNaN(balance) || math.IsInf(balance, 0) ||
			math.IsNaN(c1) || math.IsNaN(c2) {
			return true
		}
		// 归一化到 [0,1]
		c1 = clampUnit(c1)
		c2 = clampUnit(c2)
		if c1 > c2 {
			c1, c2 = c2, c1
		}
		return Size(testSizerCfg, balance, c1) <= Size(testSizerCfg, balance, c2)
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 2000}); err != nil {
		t.Errorf("单调性被破坏: %v", err)
	}
}

// **属性 3: 纯函数，重复调用结果一致**
func TestProperty_SizeDeterministic(t *testing.T) {
	property := func(balance, confidence float64) bool {
		if math.IsNaN(balance) || math.IsNaN(confidence) {
			return true
		}
		return Size(testSizerCfg, balance, confidence) == Size(testSizerCfg, balance, confidence)
	}
	if err := quick.Check(property, nil); err != nil {
		t.Errorf("纯函数性被破坏: %v", err)
	}
}

func clampUnit(v float64) float64 {
	v = math.Abs(v)
	if v > 1 {
		v = math.Mod(v, 1)
	}
	return v
}
