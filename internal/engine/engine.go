// Package engine 把 venue 会话、决策门控、交易生命周期串成
// 单一顺序事件路径：所有入站事件按到达顺序处理，处理期间
// 不并发修改任何共享状态。
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/derivbot/goderiv/internal/domain"
	"github.com/derivbot/goderiv/internal/execution"
	"github.com/derivbot/goderiv/internal/ledger"
	"github.com/derivbot/goderiv/internal/lifecycle"
	"github.com/derivbot/goderiv/internal/metrics"
	"github.com/derivbot/goderiv/internal/risk"
	"github.com/derivbot/goderiv/pkg/persistence"
	"github.com/derivbot/goderiv/pkg/sdk/deriv"
)

var log = logrus.WithField("component", "engine")

// statsWindow 胜率/盈亏汇总窗口（最近 N 笔结算）
const statsWindow = 100

// Snapshot 跨重启的运行时观测快照。
// 账本才是权威记录，这份快照丢了可以从账本重算。
type Snapshot struct {
	WinRate     float64   `json:"win_rate"`
	SettledN    int       `json:"settled_n"`
	TotalProfit string    `json:"total_profit"`
	Reconnects  int64     `json:"reconnects"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VenueSession 引擎消费的会话面（由 deriv.Client 提供）
type VenueSession interface {
	Messages() <-chan interface{}
	Errors() <-chan error
	State() deriv.SessionState
	Reconnects() int64
}

// Engine 顺序事件引擎
type Engine struct {
	client  VenueSession
	gate    *execution.Gate
	manager *lifecycle.Manager
	account *domain.AccountState
	breaker *risk.CircuitBreaker
	ledger  *ledger.Ledger
	state   *persistence.Store // 可选，nil 表示不落快照

	stats Snapshot
}

// New 创建引擎并挂接结算回调
func New(client VenueSession, gate *execution.Gate, manager *lifecycle.Manager,
	account *domain.AccountState, breaker *risk.CircuitBreaker,
	led *ledger.Ledger, state *persistence.Store) *Engine {

	e := &Engine{
		client:  client,
		gate:    gate,
		manager: manager,
		account: account,
		breaker: breaker,
		ledger:  led,
		state:   state,
	}
	manager.OnSettled(e.onSettled)
	return e
}

// Restore 启动对账：恢复快照与在途订单
func (e *Engine) Restore() error {
	if e.state != nil {
		if err := e.state.Load(&e.stats); err != nil && err != persistence.ErrNotExists {
			log.Warnf("[Engine] 加载快照失败: %v", err)
		}
	}
	return errors.Wrap(e.manager.Restore(), "恢复在途订单失败")
}

// Run 主事件循环（阻塞直到 ctx 取消或致命错误）。
// 入站事件、确认超时检查、快照落盘都在同一条路径上执行。
func (e *Engine) Run(ctx context.Context) error {
	timeoutTicker := time.NewTicker(time.Second)
	defer timeoutTicker.Stop()

	snapshotTicker := time.NewTicker(time.Minute)
	defer snapshotTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.saveSnapshot()
			return nil

		case err := <-e.client.Errors():
			// 只有致命错误会到这里（认证失败）
			e.saveSnapshot()
			return errors.Wrap(err, "venue 会话致命错误")

		case msg, ok := <-e.client.Messages():
			if !ok {
				return errors.New("消息通道已关闭")
			}
			e.dispatch(msg)

		case now := <-timeoutTicker.C:
			if e.manager.CheckTimeout(now) {
				metrics.OrdersRejected.Add(1)
				e.breaker.OnError()
			}

		case <-snapshotTicker.C:
			e.saveSnapshot()
		}
	}
}

// dispatch 按事件类型分发
func (e *Engine) dispatch(msg interface{}) {
	switch ev := msg.(type) {
	case deriv.AuthorizedEvent:
		// 认证载荷里带权威余额，先于 balance 推送可用
		e.account.Update(ev.Balance, ev.Currency, time.Now())
		if ev.Reconnect {
			metrics.Reconnects.Add(1)
			log.Infof("[Engine] 重连恢复 loginid=%s balance=%s", ev.LoginID, ev.Balance)
		} else {
			log.Infof("[Engine] 会话就绪 loginid=%s balance=%s", ev.LoginID, ev.Balance)
		}

	case deriv.TickEvent:
		metrics.TicksReceived.Add(1)
		e.gate.OnTick(domain.Tick{Timestamp: ev.Timestamp, Price: ev.Quote})

	case deriv.BalanceEvent:
		e.account.Update(ev.Balance, ev.Currency, ev.Timestamp)

	case deriv.BuyAckEvent:
		e.manager.OnBuyAck(ev)
		metrics.OrdersSubmitted.Add(1)
		e.breaker.OnSuccess()

	case deriv.BuyRejectEvent:
		e.manager.OnBuyReject(ev)
		metrics.OrdersRejected.Add(1)
		e.breaker.OnError()

	case deriv.ContractUpdateEvent:
		e.manager.OnContractUpdate(ev)

	default:
		log.Debugf("[Engine] 未处理的事件类型 %T", msg)
	}
}

// onSettled 结算后处理：熔断器 PnL、计数器、胜率重算、快照落盘
func (e *Engine) onSettled(order *domain.Order, st domain.Settlement) {
	e.breaker.AddPnL(st.Profit)

	metrics.OrdersSettled.Add(1)
	if st.Outcome == domain.OutcomeWin {
		metrics.Wins.Add(1)
	} else {
		metrics.Losses.Add(1)
	}

	e.recomputeStats()
	e.saveSnapshot()

	log.Infof("[Engine] 结算汇总 胜率=%.1f%%（最近 %d 笔）累计盈亏=%s",
		e.stats.WinRate*100, e.stats.SettledN, e.stats.TotalProfit)
}

// recomputeStats 从账本重算最近 statsWindow 笔已结算交易的胜率/盈亏
func (e *Engine) recomputeStats() {
	recs, err := e.ledger.RecentN(statsWindow)
	if err != nil {
		log.Warnf("[Engine] 读取账本汇总失败: %v", err)
		return
	}

	wins, settled := 0, 0
	total := decimal.Zero
	for _, r := range recs {
		if r.Status != domain.OrderStatusSettled {
			continue
		}
		settled++
		total = total.Add(r.Profit)
		if r.Outcome == domain.OutcomeWin {
			wins++
		}
	}

	e.stats.SettledN = settled
	e.stats.TotalProfit = total.String()
	e.stats.Reconnects = e.client.Reconnects()
	e.stats.UpdatedAt = time.Now()
	if settled > 0 {
		e.stats.WinRate = float64(wins) / float64(settled)
	}
}

func (e *Engine) saveSnapshot() {
	if e.state == nil {
		return
	}
	e.stats.Reconnects = e.client.Reconnects()
	e.stats.UpdatedAt = time.Now()
	if err := e.state.Save(&e.stats); err != nil {
		log.Warnf("[Engine] 快照落盘失败: %v", err)
	}
}

// Status 运行状态快照（状态服务 /status 用）
func (e *Engine) Status() map[string]interface{} {
	st := map[string]interface{}{
		"session_state": string(e.client.State()),
		"balance":       e.account.Balance().String(),
		"currency":      e.account.Currency(),
		"buffer_len":    e.gate.BufferLen(),
		"reconnects":    e.client.Reconnects(),
		"win_rate":      e.stats.WinRate,
		"settled_n":     e.stats.SettledN,
		"total_profit":  e.stats.TotalProfit,
	}
	if o := e.manager.Outstanding(); o != nil {
		st["outstanding"] = map[string]interface{}{
			"ref":         o.Ref,
			"contract_id": o.ContractID,
			"action":      string(o.Action),
			"stake":       o.Stake.String(),
			"status":      string(o.Status),
			"created_at":  o.CreatedAt,
		}
	}
	return st
}
