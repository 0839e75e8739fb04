// Package metrics 进程级观测：expvar 计数器加一个只读 HTTP 状态端口。
// 纯观测，不回馈任何控制环。
package metrics

import (
	"expvar"
)

// 全局计数器（expvar 自带 /debug/vars 导出）
var (
	TicksReceived   = expvar.NewInt("ticks_received")
	OrdersSubmitted = expvar.NewInt("orders_submitted")
	OrdersRejected  = expvar.NewInt("orders_rejected")
	OrdersSettled   = expvar.NewInt("orders_settled")
	Wins            = expvar.NewInt("wins")
	Losses          = expvar.NewInt("losses")
	Reconnects      = expvar.NewInt("reconnects")
)
