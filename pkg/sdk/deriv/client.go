package deriv

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/derivbot/goderiv/pkg/ratelimit"
)

var log = logrus.WithField("component", "deriv")

// ErrAuthRejected 认证被 venue 拒绝。
// 认证失败是致命错误：同一凭证不做自动重试，直接上抛给操作员，
// 避免带着失效 token 静默空转。
var ErrAuthRejected = errors.New("deriv: authorization rejected")

// errStopped readLoop 因显式停止而退出
var errStopped = errors.New("deriv: client stopped")

// Client Deriv WebSocket 客户端。
//
// 独占持有会话状态机（见 SessionState）和物理连接。
// 所有入站消息按到达顺序投递到 Messages() 通道；
// 致命错误（认证失败）投递到 Errors() 通道并转入 SHUTDOWN。
type Client struct {
	cfg *Config

	// 连接相关
	conn      *websocket.Conn
	connMu    sync.Mutex
	running   bool
	runningMu sync.RWMutex

	// 会话状态
	state   SessionState
	stateMu sync.RWMutex
	authed  bool // 本进程内是否至少认证成功过一次（区分首连/重连）

	// 合约订阅（重连后需要重新发起，恢复对在途合约的追踪）
	contractSubs map[int64]bool
	subMu        sync.Mutex

	// 消息通道
	msgChan chan interface{}
	errChan chan error

	// 出站限速
	limiter *ratelimit.TokenBucket

	// 生命周期管理
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}

	// 观测计数
	reconnects atomic.Int64
}

// NewClient 创建客户端
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:          cfg,
		state:        StateDisconnected,
		contractSubs: make(map[int64]bool),
		msgChan:      make(chan interface{}, cfg.MessageBufferSize),
		errChan:      make(chan error, cfg.ErrorBufferSize),
		limiter:      ratelimit.NewTokenBucket(10, 5),
		ctx:          ctx,
		cancel:       cancel,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start 启动会话（非阻塞）。连接/认证/订阅/重连均在后台进行。
func (c *Client) Start(ctx context.Context) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return fmt.Errorf("deriv 客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	if ctx != nil {
		c.ctx = ctx
	}

	go c.run()
	go c.pingLoop()

	log.Infof("[WSDeriv] 已启动，端点 %s symbol=%s", c.cfg.Endpoint, c.cfg.Symbol)
	return nil
}

// Stop 操作员显式停止：取消计时器、关闭连接、转入 SHUTDOWN。
// 在途订单留在账本中，由重连后的对账恢复追踪。
func (c *Client) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	c.cancel()
	close(c.stopCh)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		log.Warnf("[WSDeriv] 关闭超时")
	}

	c.setState(StateShutdown)
	log.Infof("[WSDeriv] 已停止")
}

// State 当前会话状态（其他组件只读）
func (c *Client) State() SessionState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Messages 入站事件通道（单消费者）
func (c *Client) Messages() <-chan interface{} {
	return c.msgChan
}

// Errors 致命错误通道
func (c *Client) Errors() <-chan error {
	return c.errChan
}

// Reconnects 重连次数（观测用）
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

// Buy 提交下单请求。确认通过 BuyAckEvent/BuyRejectEvent 异步返回。
// 金额字段 venue 协议要求是 JSON 数字，decimal 直接序列化会变成
// 带引号的字符串，这里显式转成 float 写出。
func (c *Client) Buy(params BuyParams) error {
	req := map[string]interface{}{
		"buy":   1,
		"price": params.MaxPrice.InexactFloat64(),
		"parameters": map[string]interface{}{
			"amount":        params.Stake.InexactFloat64(),
			"basis":         "stake",
			"contract_type": params.ContractType,
			"currency":      params.Currency,
			"duration":      params.Duration,
			"duration_unit": params.DurationUnit,
			"symbol":        params.Symbol,
		},
		"passthrough": map[string]string{"ref": params.Ref},
	}
	return c.send(req)
}

// SubscribeContract 订阅合约状态推送（结算通知）。
// 订阅会记录在案，重连后自动重发。
func (c *Client) SubscribeContract(contractID int64) error {
	c.subMu.Lock()
	c.contractSubs[contractID] = true
	c.subMu.Unlock()

	return c.send(map[string]interface{}{
		"proposal_open_contract": 1,
		"contract_id":            contractID,
		"subscribe":              1,
	})
}

// UnsubscribeContract 停止追踪合约（仅从内部记录移除；
// venue 侧的流在合约到期后自然结束）。
func (c *Client) UnsubscribeContract(contractID int64) {
	c.subMu.Lock()
	delete(c.contractSubs, contractID)
	c.subMu.Unlock()
}

// run 会话主循环：连接 → 认证 → 读取，故障后退避重连。
// 传输故障永远重试；认证失败终止。
func (c *Client) run() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		c.setState(StateConnecting)
		if err := c.connect(); err != nil {
			log.Warnf("[WSDeriv] 连接失败: %v", err)
			c.setState(StateDegraded)
			if !c.backoff() {
				return
			}
			continue
		}

		c.setState(StateAuthenticating)
		if err := c.send(map[string]interface{}{"authorize": c.cfg.Token}); err != nil {
			log.Warnf("[WSDeriv] 发送认证请求失败: %v", err)
			c.closeConn()
			c.setState(StateDegraded)
			if !c.backoff() {
				return
			}
			continue
		}

		err := c.readLoop()
		c.closeConn()

		switch {
		case errors.Is(err, errStopped):
			return
		case errors.Is(err, ErrAuthRejected):
			// 致命：不重试，上抛并转入 SHUTDOWN
			c.setState(StateShutdown)
			select {
			case c.errChan <- err:
			default:
			}
			return
		default:
			log.Warnf("[WSDeriv] 连接中断: %v", err)
			c.setState(StateDegraded)
			if !c.backoff() {
				return
			}
		}
	}
}

// connect 建立传输连接
func (c *Client) connect() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	headers := make(http.Header)
	headers.Set("User-Agent", randomUserAgent())

	url := fmt.Sprintf("%s?app_id=%d", c.cfg.Endpoint, c.cfg.AppID)
	conn, _, err := dialer.Dial(url, headers)
	if err != nil {
		return errors.Wrap(err, "dial")
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// readLoop 持续读取并分发入站帧；返回触发退出的错误
func (c *Client) readLoop() error {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return errors.New("连接已清理")
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.runningMu.RLock()
			running := c.running
			c.runningMu.RUnlock()
			if !running {
				return errStopped
			}
			return errors.Wrap(err, "read")
		}

		if fatal := c.handleFrame(message); fatal != nil {
			return fatal
		}
	}
}

// handleFrame 解析并分发一帧。只有认证失败返回非 nil（致命）。
func (c *Client) handleFrame(message []byte) error {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		// 畸形帧按传输故障口径处理：记录后丢弃，不终止会话
		log.Warnf("[WSDeriv] 畸形帧: %v", err)
		return nil
	}

	switch env.MsgType {
	case "authorize":
		if env.Error != nil {
			return errors.Wrapf(ErrAuthRejected, "code=%s message=%s", env.Error.Code, env.Error.Message)
		}
		c.onAuthorized(env.Authorize)

	case "tick":
		if env.Tick == nil {
			return nil
		}
		c.emit(TickEvent{
			Symbol:    env.Tick.Symbol,
			Quote:     env.Tick.Quote,
			Timestamp: time.Unix(env.Tick.Epoch, 0),
		})

	case "balance":
		if env.Error != nil || env.Balance == nil {
			return nil
		}
		c.emit(BalanceEvent{
			Balance:   env.Balance.Balance,
			Currency:  env.Balance.Currency,
			Timestamp: time.Now(),
		})

	case "buy":
		ref := refFromEcho(env.EchoReq)
		if env.Error != nil {
			c.emit(BuyRejectEvent{Ref: ref, Code: env.Error.Code, Message: env.Error.Message})
			return nil
		}
		if env.Buy == nil {
			return nil
		}
		c.emit(BuyAckEvent{
			Ref:           ref,
			ContractID:    env.Buy.ContractID,
			TransactionID: env.Buy.TransactionID,
			BuyPrice:      env.Buy.BuyPrice,
		})

	case "proposal_open_contract":
		if env.Error != nil {
			log.Warnf("[WSDeriv] 合约订阅错误: code=%s message=%s", env.Error.Code, env.Error.Message)
			return nil
		}
		if env.ProposalOpenContract == nil {
			return nil
		}
		p := env.ProposalOpenContract
		c.emit(ContractUpdateEvent{
			ContractID: p.ContractID,
			IsExpired:  bool(p.IsExpired),
			IsSold:     bool(p.IsSold),
			Profit:     p.Profit,
			Status:     p.Status,
			Timestamp:  time.Now(),
		})

	case "ping":
		// 心跳响应，忽略

	default:
		log.Debugf("[WSDeriv] 未处理的消息类型: %s", env.MsgType)
	}
	return nil
}

// onAuthorized 认证成功：立即发起 tick/balance 订阅并恢复合约追踪
func (c *Client) onAuthorized(payload *authorizePayload) {
	reconnect := c.authed
	c.authed = true
	c.setState(StateSubscribed)

	if err := c.send(map[string]interface{}{"ticks": c.cfg.Symbol, "subscribe": 1}); err != nil {
		log.Warnf("[WSDeriv] tick 订阅失败: %v", err)
	}
	if err := c.send(map[string]interface{}{"balance": 1, "subscribe": 1}); err != nil {
		log.Warnf("[WSDeriv] balance 订阅失败: %v", err)
	}

	// 重连对账：重新订阅所有在途合约
	c.subMu.Lock()
	ids := make([]int64, 0, len(c.contractSubs))
	for id := range c.contractSubs {
		ids = append(ids, id)
	}
	c.subMu.Unlock()
	for _, id := range ids {
		if err := c.send(map[string]interface{}{
			"proposal_open_contract": 1,
			"contract_id":            id,
			"subscribe":              1,
		}); err != nil {
			log.Warnf("[WSDeriv] 合约 %d 重新订阅失败: %v", id, err)
		}
	}

	var ev AuthorizedEvent
	ev.Reconnect = reconnect
	if payload != nil {
		ev.LoginID = payload.LoginID
		ev.Balance = payload.Balance
		ev.Currency = payload.Currency
	}
	c.emit(ev)

	log.Infof("[WSDeriv] 认证成功 loginid=%s reconnect=%v，已订阅 ticks/balance", ev.LoginID, reconnect)
}

// pingLoop 心跳循环：SUBSCRIBED 状态下按抖动间隔发送 ping，
// 防止空闲超时断连，抖动同时避免固定节奏被指纹识别。
func (c *Client) pingLoop() {
	timer := time.NewTimer(c.nextPingDelay())
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-timer.C:
			if c.State() == StateSubscribed {
				if err := c.send(map[string]interface{}{"ping": 1}); err != nil {
					log.Warnf("[WSDeriv] ping 发送失败: %v", err)
				}
			}
			timer.Reset(c.nextPingDelay())
		}
	}
}

func (c *Client) nextPingDelay() time.Duration {
	d := c.cfg.PingInterval
	if c.cfg.PingJitter > 0 {
		d += time.Duration(rand.Int63n(int64(c.cfg.PingJitter)))
	}
	return d
}

// backoff 退避等待（基础延迟 + 随机抖动）。
// 返回 false 表示等待期间客户端被停止。
func (c *Client) backoff() bool {
	c.reconnects.Add(1)

	delay := c.cfg.ReconnectDelay
	if c.cfg.ReconnectJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(c.cfg.ReconnectJitter)))
	}
	log.Infof("[WSDeriv] %v 后重连（第 %d 次）", delay, c.reconnects.Load())

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-c.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// send 写出一帧（经过限速器，带写超时）
func (c *Client) send(v interface{}) error {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return errors.New("未连接")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// emit 投递事件（通道满时丢弃并告警，绝不阻塞读循环）
func (c *Client) emit(ev interface{}) {
	select {
	case c.msgChan <- ev:
	default:
		log.Warnf("[WSDeriv] 消息通道已满，丢弃 %T", ev)
	}
}

func (c *Client) setState(s SessionState) {
	c.stateMu.Lock()
	prev := c.state
	c.state = s
	c.stateMu.Unlock()
	if prev != s {
		log.Debugf("[WSDeriv] 会话状态 %s -> %s", prev, s)
	}
}

func refFromEcho(echo json.RawMessage) string {
	if len(echo) == 0 {
		return ""
	}
	var pe passthroughEnvelope
	if err := json.Unmarshal(echo, &pe); err != nil {
		return ""
	}
	return pe.Passthrough.Ref
}

// randomUserAgent venue 会对固定 UA 的空闲客户端做指纹限制，
// 与原始实现一致，在每次拨号时轮换 UA。
func randomUserAgent() string {
	agents := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
	}
	return agents[rand.Intn(len(agents))]
}
