package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action 交易方向
type Action string

const (
	ActionBuy  Action = "BUY"  // 买涨（venue 合约类型 CALL）
	ActionSell Action = "SELL" // 买跌（venue 合约类型 PUT）
	ActionNone Action = "NONE" // 不交易
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending" // 已提交，等待 venue 确认
	OrderStatusOpen    OrderStatus = "open"    // 已确认，已分配 contract id
	OrderStatusSettled OrderStatus = "settled" // 已结算（终态）
	OrderStatusFailed  OrderStatus = "failed"  // 被拒绝或确认超时（终态）
)

// Order 本地发起的订单。
//
// Ref 是提交前生成的本地引用（uuid）；ContractID 在 venue 确认后才有值。
// 结算匹配只认 ContractID，绝不按“最近一条 pending”猜。
type Order struct {
	Ref        string          // 本地引用 id（提交前生成）
	ContractID int64           // venue 分配的合约 id（确认后，0 表示未分配）
	Action     Action          // 方向
	Size       float64         // 仓位（Risk Sizer 输出）
	Stake      decimal.Decimal // 实际下注金额
	Confidence float64         // 信号置信度（观测用）
	RSI        float64         // 触发时的 RSI（观测用）
	Status     OrderStatus     // 状态
	CreatedAt  time.Time       // 创建时间
	SettledAt  *time.Time      // 结算时间（可选）
}

// IsTerminal 是否处于终态
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusSettled || o.Status == OrderStatusFailed
}

// IsOutstanding 是否占用单仓位槽（pending 或 open）
func (o *Order) IsOutstanding() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusOpen
}

// Outcome 结算结果
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
)

// Settlement 异步到达的结算通知
type Settlement struct {
	ContractID int64           // 合约 id（匹配键）
	Outcome    Outcome         // 胜负
	Profit     decimal.Decimal // 盈亏
	SettledAt  time.Time       // 结算时间
}

// OutcomeFromProfit 按盈亏判定胜负（profit >= 0 视为 win，与原始行为一致）
func OutcomeFromProfit(profit decimal.Decimal) Outcome {
	if profit.IsNegative() {
		return OutcomeLoss
	}
	return OutcomeWin
}
