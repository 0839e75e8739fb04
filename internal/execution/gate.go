// Package execution 决策门控：每个 tick 走一遍
// 缓冲 → 特征 → 推理 → 融合 → 门控 → 仓位 → 提交 的流水线。
//
// 评估每个 tick 都做（暖机攒满后），节流只作用于下单：
//  1. 融合信号方向非 NONE 且置信度过阈值；
//  2. 距上次成功下单已过自适应间隔；
//  3. 无在途订单（单仓位约束）；
//  4. 熔断器允许交易。
package execution

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/derivbot/goderiv/internal/domain"
	"github.com/derivbot/goderiv/internal/features"
	"github.com/derivbot/goderiv/internal/lifecycle"
	"github.com/derivbot/goderiv/internal/model"
	"github.com/derivbot/goderiv/internal/risk"
	"github.com/derivbot/goderiv/internal/signal"
	"github.com/derivbot/goderiv/internal/tickstore"
)

var log = logrus.WithField("component", "execution")

// Config 门控配置
type Config struct {
	BufferSize          int           // 滚动缓冲区容量
	ConfidenceThreshold float64       // 下单置信度阈值
	BaseInterval        time.Duration // 下单基础间隔
	MinInterval         time.Duration // 下单间隔下限
	Sizer               risk.SizerConfig
	StakeMultiplier     float64 // 仓位 → 下注金额换算系数
}

// Gate 决策门控
type Gate struct {
	cfg Config

	buffer    *domain.RollingBuffer
	store     *tickstore.Store // 可选，nil 表示不落地
	calc      *features.Calculator
	predictor model.Predictor
	breaker   *risk.CircuitBreaker
	manager   *lifecycle.Manager
	account   *domain.AccountState

	lastOrder    time.Time          // 上次成功下单时间（只在 Submit 成功时更新）
	snapCache    *features.Snapshot // 上次成功评估的快照（自适应间隔用）
	shapeFailure bool               // 模型维度错配后停机，不再评估
}

// NewGate 创建门控
func NewGate(cfg Config, calc *features.Calculator, predictor model.Predictor,
	breaker *risk.CircuitBreaker, manager *lifecycle.Manager,
	account *domain.AccountState, store *tickstore.Store) *Gate {

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 15 * time.Second
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Second
	}
	if cfg.StakeMultiplier <= 0 {
		cfg.StakeMultiplier = 100
	}

	return &Gate{
		cfg:       cfg,
		buffer:    domain.NewRollingBuffer(cfg.BufferSize),
		store:     store,
		calc:      calc,
		predictor: predictor,
		breaker:   breaker,
		manager:   manager,
		account:   account,
	}
}

// WarmStart 用持久化的历史 tick 回灌缓冲区
func (g *Gate) WarmStart(ticks []domain.Tick) {
	for _, t := range ticks {
		g.buffer.Push(t)
	}
	if len(ticks) > 0 {
		log.Infof("[Gate] 热启动回灌 %d 个 tick（缓冲 %d/%d）", len(ticks), g.buffer.Len(), g.buffer.Cap())
	}
}

// BufferLen 当前缓冲样本数（观测用）
func (g *Gate) BufferLen() int {
	return g.buffer.Len()
}

// OnTick 处理一个行情 tick。整条流水线同步执行，单事件路径调用。
// 暖机攒满后每个 tick 都完整评估；下单节奏由 evaluate 里的
// 自适应间隔单独控制。
func (g *Gate) OnTick(tick domain.Tick) {
	g.buffer.Push(tick)

	if g.store != nil {
		if err := g.store.Put(tick); err != nil {
			log.Warnf("[Gate] tick 落地失败: %v", err)
		}
	}

	if g.shapeFailure {
		return
	}

	// 暖机：样本不足时静默跳过
	if g.buffer.Len() < g.calc.MinSamples() {
		return
	}

	g.evaluate(tick)
}

// currentInterval 自适应下单间隔：max(min, base × (1 − volatility))。
// 信号越偏离中性区，允许的下单节奏越快。上次快照不可用时退回基础间隔。
func (g *Gate) currentInterval() time.Duration {
	snap := g.lastSnapshot()
	if snap == nil {
		return g.cfg.BaseInterval
	}
	d := time.Duration(float64(g.cfg.BaseInterval) * (1 - snap.Volatility()))
	if d < g.cfg.MinInterval {
		d = g.cfg.MinInterval
	}
	return d
}

func (g *Gate) lastSnapshot() *features.Snapshot {
	return g.snapCache
}

// evaluate 完整评估一次：特征 → 推理 → 融合 → 门控 → 提交
func (g *Gate) evaluate(tick domain.Tick) {
	closes := g.buffer.Closes()

	snap, err := features.Align(closes, g.calc.Calculate(closes))
	if err != nil {
		if err == features.ErrInsufficientData {
			return
		}
		log.Errorf("[Gate] 特征对齐失败: %v", err)
		return
	}
	g.snapCache = snap

	prediction, err := g.predictor.Predict(snap.Vector())
	if err != nil {
		// 维度错配属于编程/配置错误，决策循环必须停机
		log.Errorf("[Gate] 模型推理失败，决策循环停机: %v", err)
		g.shapeFailure = true
		g.breaker.Halt()
		return
	}

	sig := signal.Fuse(prediction, snap)
	log.Debugf("[Gate] 评估 price=%.4f pred=%.4f rsi=%.2f action=%s conf=%.3f 间隔=%v",
		tick.Price, prediction, snap.RSI, sig.Action, sig.Confidence, g.currentInterval())

	if sig.Action == domain.ActionNone || sig.Confidence < g.cfg.ConfidenceThreshold {
		return
	}
	// 下单节流：距上次成功下单不足自适应间隔时按兵不动。
	// 评估本身不受节流，NONE 评估也不占用下单节奏。
	if !g.lastOrder.IsZero() && tick.Timestamp.Sub(g.lastOrder) < g.currentInterval() {
		log.Debugf("[Gate] 下单间隔未到，跳过 %s 信号", sig.Action)
		return
	}
	if g.manager.HasOutstanding() {
		log.Debugf("[Gate] 仓位槽被占用，跳过 %s 信号", sig.Action)
		return
	}
	if err := g.breaker.AllowTrading(); err != nil {
		log.Warnf("[Gate] 熔断器禁止交易，跳过 %s 信号", sig.Action)
		return
	}

	balance, _ := g.account.Balance().Float64()
	size := risk.Size(g.cfg.Sizer, balance, sig.Confidence)
	stake := decimal.NewFromFloat(size * g.cfg.StakeMultiplier).Round(2)

	order, err := g.manager.Submit(lifecycle.SubmitRequest{
		Action:     sig.Action,
		Size:       size,
		Stake:      stake,
		Confidence: sig.Confidence,
		RSI:        snap.RSI,
	})
	if err != nil {
		log.Warnf("[Gate] 提交失败: %v", err)
		g.breaker.OnError()
		return
	}
	g.lastOrder = tick.Timestamp

	log.Infof("[Gate] 信号成交 %s ref=%s size=%.4f stake=%s conf=%.3f rsi=%.2f",
		order.Action, order.Ref, size, stake, sig.Confidence, snap.RSI)
}
