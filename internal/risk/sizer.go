// Package risk 提供风险调整仓位计算与交易熔断。
package risk

import "math"

// SizerConfig 仓位计算配置
type SizerConfig struct {
	// KellyFraction 固定资金分数。注意这不是按历史胜负赔率计算的
	// 真 Kelly 准则，而是一个可配置的启发式常数（设计简化，保留）。
	KellyFraction float64
	// MinSize / MaxSize 仓位硬边界，无论模型输出如何都不越界
	MinSize float64
	MaxSize float64
}

// Size 风险调整仓位：raw = balance × kellyFraction × confidence^1.5，
// 再裁剪到 [MinSize, MaxSize]。
//
// 纯函数，无任何副作用（属性测试依赖这一点）：
// - 固定 balance 下对 confidence 单调不减；
// - 输出恒在 [MinSize, MaxSize] 内，包括 balance=0、confidence=1 等极端输入。
func Size(cfg SizerConfig, balance, confidence float64) float64 {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if balance < 0 {
		balance = 0
	}

	raw := balance * cfg.KellyFraction * math.Pow(confidence, 1.5)

	if raw < cfg.MinSize {
		return cfg.MinSize
	}
	if raw > cfg.MaxSize {
		return cfg.MaxSize
	}
	return raw
}
