// Package deriv 提供 Deriv 风格二元期权 venue 的 WebSocket 客户端。
//
// 协议为 JSON 帧的请求/响应加服务端推送：authorize 确认、tick 推送、
// balance 推送、buy 确认（携带 contract id）、proposal_open_contract
// 结算推送。客户端持有会话状态机，所有入站消息按到达顺序投递到
// 单一消息通道，由上层在单一事件路径上消费。
package deriv

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SessionState 会话状态。
// 生命周期由客户端独占管理，其他组件只读。
type SessionState string

const (
	StateDisconnected   SessionState = "disconnected"   // 初始态
	StateConnecting     SessionState = "connecting"     // 正在建立传输连接
	StateAuthenticating SessionState = "authenticating" // 已连接，等待 authorize 确认
	StateSubscribed     SessionState = "subscribed"     // 已认证并完成订阅
	StateDegraded       SessionState = "degraded"       // 传输故障，等待退避重连
	StateShutdown       SessionState = "shutdown"       // 操作员显式停止或致命错误（终态）
)

const (
	defaultPingInterval    = 30 * time.Second
	defaultPingJitter      = 5 * time.Second
	defaultReconnectDelay  = 3 * time.Second
	defaultReconnectJitter = time.Second

	defaultMessageBufferSize = 1000
	defaultErrorBufferSize   = 100

	defaultHandshakeTimeout = 15 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// Config 客户端配置
type Config struct {
	Endpoint string // WebSocket 端点（不含 app_id query）
	AppID    int    // 应用 ID
	Token    string // API token
	Symbol   string // tick 订阅标的

	PingInterval    time.Duration // 心跳基础间隔
	PingJitter      time.Duration // 心跳随机抖动上限（防止固定节奏被指纹识别）
	ReconnectDelay  time.Duration // 重连基础延迟
	ReconnectJitter time.Duration // 重连随机抖动上限

	MessageBufferSize int // 消息通道缓冲区大小
	ErrorBufferSize   int // 错误通道缓冲区大小

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		PingInterval:      defaultPingInterval,
		PingJitter:        defaultPingJitter,
		ReconnectDelay:    defaultReconnectDelay,
		ReconnectJitter:   defaultReconnectJitter,
		MessageBufferSize: defaultMessageBufferSize,
		ErrorBufferSize:   defaultErrorBufferSize,
		HandshakeTimeout:  defaultHandshakeTimeout,
		WriteTimeout:      defaultWriteTimeout,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingJitter < 0 {
		c.PingJitter = d.PingJitter
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.ReconnectJitter < 0 {
		c.ReconnectJitter = d.ReconnectJitter
	}
	if c.MessageBufferSize <= 0 {
		c.MessageBufferSize = d.MessageBufferSize
	}
	if c.ErrorBufferSize <= 0 {
		c.ErrorBufferSize = d.ErrorBufferSize
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
}

// envelope 入站帧的通用外壳
type envelope struct {
	MsgType string          `json:"msg_type"`
	Error   *apiError       `json:"error,omitempty"`
	EchoReq json.RawMessage `json:"echo_req,omitempty"`

	Authorize            *authorizePayload `json:"authorize,omitempty"`
	Tick                 *tickPayload      `json:"tick,omitempty"`
	Balance              *balancePayload   `json:"balance,omitempty"`
	Buy                  *buyPayload       `json:"buy,omitempty"`
	ProposalOpenContract *pocPayload       `json:"proposal_open_contract,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type authorizePayload struct {
	LoginID  string          `json:"loginid"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

type tickPayload struct {
	Symbol string  `json:"symbol"`
	Quote  float64 `json:"quote"`
	Epoch  int64   `json:"epoch"`
}

type balancePayload struct {
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

type buyPayload struct {
	ContractID    int64           `json:"contract_id"`
	TransactionID int64           `json:"transaction_id"`
	BuyPrice      decimal.Decimal `json:"buy_price"`
}

type pocPayload struct {
	ContractID int64           `json:"contract_id"`
	IsExpired  intBool         `json:"is_expired"`
	IsSold     intBool         `json:"is_sold"`
	Profit     decimal.Decimal `json:"profit"`
	Status     string          `json:"status"`
}

// intBool venue 用 0/1 表示布尔
type intBool bool

func (b *intBool) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		// 容忍 true/false
		var v bool
		if err2 := json.Unmarshal(data, &v); err2 != nil {
			return err
		}
		*b = intBool(v)
		return nil
	}
	i, err := n.Int64()
	if err != nil {
		return err
	}
	*b = i != 0
	return nil
}

// passthroughEnvelope 从 echo_req 中取回 passthrough.ref
type passthroughEnvelope struct {
	Passthrough struct {
		Ref string `json:"ref"`
	} `json:"passthrough"`
}

// --- 投递给上层的事件 ---

// AuthorizedEvent 认证成功（每次连接/重连都会出现一次）
type AuthorizedEvent struct {
	LoginID   string
	Balance   decimal.Decimal
	Currency  string
	Reconnect bool // 是否为重连后的再次认证
}

// TickEvent tick 推送
type TickEvent struct {
	Symbol    string
	Quote     float64
	Timestamp time.Time
}

// BalanceEvent 余额推送（venue 权威余额）
type BalanceEvent struct {
	Balance   decimal.Decimal
	Currency  string
	Timestamp time.Time
}

// BuyAckEvent 下单确认（venue 分配 contract id）
type BuyAckEvent struct {
	Ref           string // 提交时的本地引用（passthrough 回传）
	ContractID    int64
	TransactionID int64
	BuyPrice      decimal.Decimal
}

// BuyRejectEvent 下单被拒绝
type BuyRejectEvent struct {
	Ref     string
	Code    string
	Message string
}

// ContractUpdateEvent 合约状态推送（结算通知载体）
type ContractUpdateEvent struct {
	ContractID int64
	IsExpired  bool
	IsSold     bool
	Profit     decimal.Decimal
	Status     string
	Timestamp  time.Time
}

// BuyParams 下单参数
type BuyParams struct {
	Ref          string          // 本地引用，venue 会通过 passthrough 原样回传
	ContractType string          // CALL / PUT
	Stake        decimal.Decimal // 下注金额
	Currency     string
	Duration     int    // 合约时长
	DurationUnit string // 例如 "m"
	Symbol       string
	MaxPrice     decimal.Decimal // 可接受的最大价格
}
