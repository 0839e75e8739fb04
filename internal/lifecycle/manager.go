// Package lifecycle 管理交易全生命周期：提交 → venue 确认 → 结算。
//
// 单仓位约束的唯一持有者：同一时刻最多一笔非终态订单。状态转换
// 全部发生在引擎的单事件路径上，Manager 自身不加锁。
package lifecycle

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/derivbot/goderiv/internal/domain"
	"github.com/derivbot/goderiv/internal/ledger"
	"github.com/derivbot/goderiv/pkg/sdk/deriv"
)

var log = logrus.WithField("component", "lifecycle")

// ErrPositionOccupied 已有非终态订单占用仓位槽
var ErrPositionOccupied = errors.New("lifecycle: position slot occupied")

// Venue 下单与合约追踪所需的 venue 能力（由 deriv.Client 提供）
type Venue interface {
	Buy(params deriv.BuyParams) error
	SubscribeContract(contractID int64) error
	UnsubscribeContract(contractID int64)
}

// SubmitRequest 一次下单请求
type SubmitRequest struct {
	Action     domain.Action
	Size       float64         // 风险仓位（余额比例口径）
	Stake      decimal.Decimal // 实际下注金额
	Confidence float64
	RSI        float64
}

// Config 生命周期配置
type Config struct {
	Symbol       string
	Currency     string
	Duration     int    // 合约时长
	DurationUnit string // "m"
	AckTimeout   time.Duration
}

// Manager 交易生命周期管理器
type Manager struct {
	cfg     Config
	venue   Venue
	ledger  *ledger.Ledger
	current *domain.Order // 唯一的非终态订单；nil 表示仓位槽空闲

	// 结算回调（引擎挂接：统计汇总、熔断器 PnL 等）
	onSettled func(order *domain.Order, st domain.Settlement)
}

// NewManager 创建管理器
func NewManager(cfg Config, venue Venue, led *ledger.Ledger) *Manager {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 1
	}
	if cfg.DurationUnit == "" {
		cfg.DurationUnit = "m"
	}
	return &Manager{cfg: cfg, venue: venue, ledger: led}
}

// OnSettled 注册结算回调
func (m *Manager) OnSettled(fn func(order *domain.Order, st domain.Settlement)) {
	m.onSettled = fn
}

// HasOutstanding 是否有非终态订单占用仓位槽
func (m *Manager) HasOutstanding() bool {
	return m.current != nil && m.current.IsOutstanding()
}

// Outstanding 当前非终态订单（观测用，可能为 nil）
func (m *Manager) Outstanding() *domain.Order {
	if m.current == nil || !m.current.IsOutstanding() {
		return nil
	}
	return m.current
}

// Submit 提交下单：生成本地引用、落账本、发往 venue、占用仓位槽。
// 仓位槽被占用时拒绝。
func (m *Manager) Submit(req SubmitRequest) (*domain.Order, error) {
	if m.HasOutstanding() {
		return nil, ErrPositionOccupied
	}

	contractType := "CALL"
	if req.Action == domain.ActionSell {
		contractType = "PUT"
	}

	order := &domain.Order{
		Ref:        uuid.New().String(),
		Action:     req.Action,
		Size:       req.Size,
		Stake:      req.Stake,
		Confidence: req.Confidence,
		RSI:        req.RSI,
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now(),
	}

	if err := m.ledger.Append(order); err != nil {
		return nil, errors.Wrap(err, "订单落账失败")
	}

	if err := m.venue.Buy(deriv.BuyParams{
		Ref:          order.Ref,
		ContractType: contractType,
		Stake:        order.Stake,
		Currency:     m.cfg.Currency,
		Duration:     m.cfg.Duration,
		DurationUnit: m.cfg.DurationUnit,
		Symbol:       m.cfg.Symbol,
		MaxPrice:     order.Stake,
	}); err != nil {
		// 发送失败即刻终态，不留悬挂的 pending
		order.Status = domain.OrderStatusFailed
		if lerr := m.ledger.MarkFailed(order.Ref); lerr != nil {
			log.Errorf("[Lifecycle] 标记失败状态落账失败: %v", lerr)
		}
		return nil, errors.Wrap(err, "提交下单失败")
	}

	m.current = order
	log.Infof("[Lifecycle] 已提交 %s ref=%s stake=%s conf=%.3f",
		order.Action, order.Ref, order.Stake, order.Confidence)
	return order, nil
}

// OnBuyAck 处理 venue 下单确认：绑定合约 id、订阅结算推送。
func (m *Manager) OnBuyAck(ev deriv.BuyAckEvent) {
	if m.current == nil || m.current.Ref != ev.Ref {
		log.Warnf("[Lifecycle] 收到未知引用的下单确认 ref=%s contract=%d", ev.Ref, ev.ContractID)
		return
	}
	if m.current.Status != domain.OrderStatusPending {
		log.Warnf("[Lifecycle] 非 pending 订单收到确认 ref=%s status=%s", ev.Ref, m.current.Status)
		return
	}

	m.current.ContractID = ev.ContractID
	m.current.Status = domain.OrderStatusOpen

	if err := m.ledger.AttachContract(ev.Ref, ev.ContractID); err != nil {
		log.Errorf("[Lifecycle] 绑定合约 id 落账失败: %v", err)
	}
	if err := m.venue.SubscribeContract(ev.ContractID); err != nil {
		log.Warnf("[Lifecycle] 合约 %d 订阅失败: %v", ev.ContractID, err)
	}
	log.Infof("[Lifecycle] 下单确认 ref=%s contract=%d price=%s", ev.Ref, ev.ContractID, ev.BuyPrice)
}

// OnBuyReject 处理 venue 拒单：转终态、释放仓位槽。
func (m *Manager) OnBuyReject(ev deriv.BuyRejectEvent) {
	if m.current == nil || m.current.Ref != ev.Ref {
		log.Warnf("[Lifecycle] 收到未知引用的拒单 ref=%s code=%s", ev.Ref, ev.Code)
		return
	}

	m.current.Status = domain.OrderStatusFailed
	if err := m.ledger.MarkFailed(ev.Ref); err != nil {
		log.Errorf("[Lifecycle] 标记拒单落账失败: %v", err)
	}
	log.Warnf("[Lifecycle] 下单被拒 ref=%s code=%s message=%s", ev.Ref, ev.Code, ev.Message)
	m.current = nil
}

// OnContractUpdate 处理合约状态推送。
// 只有合约 id 与在途订单严格匹配的到期/卖出通知才触发结算；
// 不匹配的通知记录异常后丢弃，绝不修改任何订单。
func (m *Manager) OnContractUpdate(ev deriv.ContractUpdateEvent) {
	if !ev.IsExpired && !ev.IsSold {
		// 中途状态推送，仅观测
		log.Debugf("[Lifecycle] 合约 %d 状态 %s profit=%s", ev.ContractID, ev.Status, ev.Profit)
		return
	}

	if m.current == nil || m.current.ContractID != ev.ContractID {
		log.Warnf("[Lifecycle] 结算通知与在途订单不匹配 contract=%d，忽略", ev.ContractID)
		return
	}
	if m.current.Status != domain.OrderStatusOpen {
		log.Warnf("[Lifecycle] 非 open 订单收到结算 contract=%d status=%s", ev.ContractID, m.current.Status)
		return
	}

	st := domain.Settlement{
		ContractID: ev.ContractID,
		Outcome:    domain.OutcomeFromProfit(ev.Profit),
		Profit:     ev.Profit,
		SettledAt:  ev.Timestamp,
	}

	order := m.current
	order.Status = domain.OrderStatusSettled
	order.SettledAt = &st.SettledAt

	if err := m.ledger.UpdateByContractID(st.ContractID, st.Outcome, st.Profit, st.SettledAt); err != nil {
		log.Errorf("[Lifecycle] 结算落账失败 contract=%d: %v", st.ContractID, err)
	}
	m.venue.UnsubscribeContract(ev.ContractID)
	m.current = nil

	log.Infof("[Lifecycle] 结算 contract=%d outcome=%s profit=%s", st.ContractID, st.Outcome, st.Profit)

	if m.onSettled != nil {
		m.onSettled(order, st)
	}
}

// CheckTimeout 检查 pending 订单是否确认超时。
// 超时转终态并释放仓位槽；返回是否发生了超时。
func (m *Manager) CheckTimeout(now time.Time) bool {
	if m.current == nil || m.current.Status != domain.OrderStatusPending {
		return false
	}
	if now.Sub(m.current.CreatedAt) < m.cfg.AckTimeout {
		return false
	}

	log.Warnf("[Lifecycle] 下单确认超时 ref=%s（%v），标记失败", m.current.Ref, m.cfg.AckTimeout)
	m.current.Status = domain.OrderStatusFailed
	if err := m.ledger.MarkFailed(m.current.Ref); err != nil {
		log.Errorf("[Lifecycle] 超时落账失败: %v", err)
	}
	m.current = nil
	return true
}

// Restore 从账本恢复在途订单（启动对账）。
// open 订单恢复追踪并重新订阅合约；pending 订单跨进程无法匹配确认，
// 直接标记失败。
func (m *Manager) Restore() error {
	rec, err := m.ledger.OutstandingOrder()
	if err != nil {
		return errors.Wrap(err, "读取在途订单失败")
	}
	if rec == nil {
		return nil
	}

	switch rec.Status {
	case domain.OrderStatusPending:
		log.Warnf("[Lifecycle] 账本遗留 pending 订单 ref=%s，跨进程无法确认，标记失败", rec.Ref)
		return m.ledger.MarkFailed(rec.Ref)

	case domain.OrderStatusOpen:
		m.current = &domain.Order{
			Ref:        rec.Ref,
			ContractID: rec.ContractID,
			Action:     rec.Action,
			Size:       rec.Size,
			Stake:      rec.Stake,
			Confidence: rec.Confidence,
			RSI:        rec.RSI,
			Status:     domain.OrderStatusOpen,
			CreatedAt:  rec.CreatedAt,
		}
		if err := m.venue.SubscribeContract(rec.ContractID); err != nil {
			log.Warnf("[Lifecycle] 恢复合约 %d 订阅失败: %v", rec.ContractID, err)
		}
		log.Infof("[Lifecycle] 恢复在途订单 ref=%s contract=%d", rec.Ref, rec.ContractID)
	}
	return nil
}
