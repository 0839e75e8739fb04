package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountState 账户状态。
//
// 余额只由 venue 的 balance 推送更新（venue 是唯一权威来源），
// 本地绝不自行累加盈亏。单事件路径读写，不加锁。
type AccountState struct {
	balance   decimal.Decimal
	currency  string
	updatedAt time.Time
}

// NewAccountState 创建账户状态
func NewAccountState() *AccountState {
	return &AccountState{}
}

// Update 套用一次余额推送
func (a *AccountState) Update(balance decimal.Decimal, currency string, at time.Time) {
	a.balance = balance
	a.currency = currency
	a.updatedAt = at
}

// Balance 当前余额
func (a *AccountState) Balance() decimal.Decimal {
	return a.balance
}

// Currency 计价货币
func (a *AccountState) Currency() string {
	return a.currency
}

// UpdatedAt 最近一次余额推送时间；零值表示尚未收到推送
func (a *AccountState) UpdatedAt() time.Time {
	return a.updatedAt
}
