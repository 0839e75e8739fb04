package deriv

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsHarness 测试用 venue 服务端：记录收到的请求，按脚本应答
type wsHarness struct {
	srv     *httptest.Server
	mu      sync.Mutex
	reqCh   chan map[string]interface{}
	conns   []*websocket.Conn
	authOK  bool
	dropped int
}

func newHarness(t *testing.T, authOK bool) *wsHarness {
	t.Helper()
	h := &wsHarness{
		reqCh:  make(chan map[string]interface{}, 100),
		authOK: authOK,
	}

	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, conn)
		h.mu.Unlock()

		for {
			var req map[string]interface{}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			h.reqCh <- req

			if _, ok := req["authorize"]; ok {
				if h.authOK {
					h.write(conn, map[string]interface{}{
						"msg_type": "authorize",
						"authorize": map[string]interface{}{
							"loginid":  "CR123",
							"balance":  1000.5,
							"currency": "USD",
						},
					})
				} else {
					h.write(conn, map[string]interface{}{
						"msg_type": "authorize",
						"error": map[string]interface{}{
							"code":    "InvalidToken",
							"message": "Token is not valid",
						},
					})
				}
			}
		}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *wsHarness) write(conn *websocket.Conn, v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = conn.WriteJSON(v)
}

// push 向最新连接推送一帧
func (h *wsHarness) push(t *testing.T, v interface{}) {
	t.Helper()
	h.mu.Lock()
	if len(h.conns) == 0 {
		h.mu.Unlock()
		t.Fatal("没有活跃连接")
	}
	conn := h.conns[len(h.conns)-1]
	h.mu.Unlock()
	h.write(conn, v)
}

// dropConn 服务端主动断开最新连接（模拟传输故障）
func (h *wsHarness) dropConn(t *testing.T) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) == 0 {
		t.Fatal("没有可断开的连接")
	}
	h.conns[len(h.conns)-1].Close()
	h.dropped++
}

func (h *wsHarness) endpoint() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

// waitReq 等待服务端收到包含指定 key 的请求
func (h *wsHarness) waitReq(t *testing.T, key string) map[string]interface{} {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case req := <-h.reqCh:
			if _, ok := req[key]; ok {
				return req
			}
		case <-deadline:
			t.Fatalf("等待 %q 请求超时", key)
		}
	}
}

func testConfig(endpoint string) *Config {
	return &Config{
		Endpoint:        endpoint,
		AppID:           1089,
		Token:           "test-token",
		Symbol:          "R_100",
		ReconnectDelay:  50 * time.Millisecond,
		ReconnectJitter: time.Millisecond,
		PingInterval:    time.Hour, // 测试期间不触发心跳
	}
}

// waitEvent 从消息通道等待指定类型的事件
func waitEvent[T any](t *testing.T, ch <-chan interface{}) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-ch:
			if ev, ok := msg.(T); ok {
				return ev
			}
		case <-deadline:
			var zero T
			t.Fatalf("等待事件 %T 超时", zero)
			return zero
		}
	}
}

func TestClient_ConnectAuthorizeSubscribe(t *testing.T) {
	h := newHarness(t, true)
	c := NewClient(testConfig(h.endpoint()))

	if c.State() != StateDisconnected {
		t.Fatalf("初始状态应为 disconnected，得到 %s", c.State())
	}

	if err := c.Start(nil); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	defer c.Stop()

	// 认证后立即发起 tick/balance 订阅
	h.waitReq(t, "authorize")
	tickReq := h.waitReq(t, "ticks")
	if tickReq["ticks"] != "R_100" {
		t.Errorf("tick 订阅标的应为 R_100，得到 %v", tickReq["ticks"])
	}
	h.waitReq(t, "balance")

	ev := waitEvent[AuthorizedEvent](t, c.Messages())
	if ev.LoginID != "CR123" {
		t.Errorf("loginid 应为 CR123，得到 %s", ev.LoginID)
	}
	if ev.Reconnect {
		t.Error("首连不应标记为 reconnect")
	}
	if !ev.Balance.Equal(mustDec("1000.5")) {
		t.Errorf("认证余额应为 1000.5，得到 %s", ev.Balance)
	}

	if c.State() != StateSubscribed {
		t.Fatalf("认证后状态应为 subscribed，得到 %s", c.State())
	}
}

func TestClient_TickAndBalanceEvents(t *testing.T) {
	h := newHarness(t, true)
	c := NewClient(testConfig(h.endpoint()))
	if err := c.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	waitEvent[AuthorizedEvent](t, c.Messages())

	h.push(t, map[string]interface{}{
		"msg_type": "tick",
		"tick":     map[string]interface{}{"symbol": "R_100", "quote": 123.45, "epoch": 1700000000},
	})
	tick := waitEvent[TickEvent](t, c.Messages())
	if tick.Quote != 123.45 || tick.Symbol != "R_100" {
		t.Errorf("tick 解析异常: %+v", tick)
	}
	if tick.Timestamp.Unix() != 1700000000 {
		t.Errorf("tick 时间戳应来自 venue epoch，得到 %v", tick.Timestamp.Unix())
	}

	h.push(t, map[string]interface{}{
		"msg_type": "balance",
		"balance":  map[string]interface{}{"balance": 995.25, "currency": "USD"},
	})
	bal := waitEvent[BalanceEvent](t, c.Messages())
	if !bal.Balance.Equal(mustDec("995.25")) {
		t.Errorf("balance 解析异常: %s", bal.Balance)
	}
}

func TestClient_AuthRejectedIsFatal(t *testing.T) {
	h := newHarness(t, false)
	c := NewClient(testConfig(h.endpoint()))
	if err := c.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	select {
	case err := <-c.Errors():
		if err == nil {
			t.Fatal("应收到致命错误")
		}
		if !isAuthRejected(err) {
			t.Fatalf("应为 ErrAuthRejected，得到 %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("等待致命错误超时")
	}

	// 认证失败不重试，直接终态
	waitForState(t, c, StateShutdown)
	if got := c.Reconnects(); got != 0 {
		t.Errorf("认证失败不应触发重连，重连计数 %d", got)
	}
}

func TestClient_ReconnectAfterTransportDrop(t *testing.T) {
	h := newHarness(t, true)
	c := NewClient(testConfig(h.endpoint()))
	if err := c.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	first := waitEvent[AuthorizedEvent](t, c.Messages())
	if first.Reconnect {
		t.Fatal("首连不应标记 reconnect")
	}

	// 追踪一个在途合约，然后断开传输
	if err := c.SubscribeContract(42); err != nil {
		t.Fatalf("订阅合约失败: %v", err)
	}
	h.waitReq(t, "proposal_open_contract")

	h.dropConn(t)

	// 客户端应退避后重连并重新认证
	second := waitEvent[AuthorizedEvent](t, c.Messages())
	if !second.Reconnect {
		t.Fatal("重连后的认证事件应标记 reconnect")
	}
	if c.Reconnects() == 0 {
		t.Error("重连计数应大于 0")
	}

	// 重连对账：在途合约被重新订阅（恰好一次）
	resub := h.waitReq(t, "proposal_open_contract")
	if id, ok := resub["contract_id"].(float64); !ok || int64(id) != 42 {
		t.Errorf("应重新订阅合约 42，得到 %v", resub["contract_id"])
	}

	select {
	case req := <-h.reqCh:
		if _, dup := req["proposal_open_contract"]; dup {
			t.Error("合约不应被重复订阅")
		}
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClient_BuyRoundTrip(t *testing.T) {
	h := newHarness(t, true)
	c := NewClient(testConfig(h.endpoint()))
	if err := c.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	waitEvent[AuthorizedEvent](t, c.Messages())

	if err := c.Buy(BuyParams{
		Ref:          "ref-1",
		ContractType: "CALL",
		Stake:        mustDec("5"),
		Currency:     "USD",
		Duration:     1,
		DurationUnit: "m",
		Symbol:       "R_100",
		MaxPrice:     mustDec("5"),
	}); err != nil {
		t.Fatalf("下单失败: %v", err)
	}

	req := h.waitReq(t, "buy")
	params, _ := req["parameters"].(map[string]interface{})
	if params == nil || params["contract_type"] != "CALL" || params["basis"] != "stake" {
		t.Fatalf("下单参数异常: %v", req)
	}
	// 协议要求金额是 JSON 数字，不是带引号的字符串
	if amt, ok := params["amount"].(float64); !ok || amt != 5 {
		t.Fatalf("amount 应为 JSON 数字 5，得到 %T(%v)", params["amount"], params["amount"])
	}
	if price, ok := req["price"].(float64); !ok || price != 5 {
		t.Fatalf("price 应为 JSON 数字 5，得到 %T(%v)", req["price"], req["price"])
	}

	// venue 确认：echo_req 回传 passthrough.ref
	h.push(t, map[string]interface{}{
		"msg_type": "buy",
		"echo_req": map[string]interface{}{"passthrough": map[string]interface{}{"ref": "ref-1"}},
		"buy": map[string]interface{}{
			"contract_id":    int64(987),
			"transaction_id": int64(111),
			"buy_price":      5.0,
		},
	})

	ack := waitEvent[BuyAckEvent](t, c.Messages())
	if ack.Ref != "ref-1" || ack.ContractID != 987 {
		t.Errorf("下单确认解析异常: %+v", ack)
	}
}

func TestClient_BuyRejectEvent(t *testing.T) {
	h := newHarness(t, true)
	c := NewClient(testConfig(h.endpoint()))
	if err := c.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	waitEvent[AuthorizedEvent](t, c.Messages())

	h.push(t, map[string]interface{}{
		"msg_type": "buy",
		"echo_req": map[string]interface{}{"passthrough": map[string]interface{}{"ref": "ref-2"}},
		"error":    map[string]interface{}{"code": "InsufficientBalance", "message": "余额不足"},
	})

	rej := waitEvent[BuyRejectEvent](t, c.Messages())
	if rej.Ref != "ref-2" || rej.Code != "InsufficientBalance" {
		t.Errorf("拒单解析异常: %+v", rej)
	}
}

func TestClient_ContractUpdateEvent(t *testing.T) {
	h := newHarness(t, true)
	c := NewClient(testConfig(h.endpoint()))
	if err := c.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	waitEvent[AuthorizedEvent](t, c.Messages())

	// venue 用 0/1 表示布尔
	h.push(t, map[string]interface{}{
		"msg_type": "proposal_open_contract",
		"proposal_open_contract": map[string]interface{}{
			"contract_id": int64(987),
			"is_expired":  1,
			"is_sold":     0,
			"profit":      1.7,
			"status":      "won",
		},
	})

	upd := waitEvent[ContractUpdateEvent](t, c.Messages())
	if upd.ContractID != 987 || !upd.IsExpired || upd.IsSold {
		t.Errorf("合约推送解析异常: %+v", upd)
	}
	if !upd.Profit.Equal(mustDec("1.7")) {
		t.Errorf("profit 应为 1.7，得到 %s", upd.Profit)
	}
}

func TestClient_MalformedFrameDoesNotKillSession(t *testing.T) {
	h := newHarness(t, true)
	c := NewClient(testConfig(h.endpoint()))
	if err := c.Start(nil); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	waitEvent[AuthorizedEvent](t, c.Messages())

	// 畸形帧按传输故障口径处理：丢弃，不终止会话
	h.mu.Lock()
	conn := h.conns[len(h.conns)-1]
	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	h.mu.Unlock()

	h.push(t, map[string]interface{}{
		"msg_type": "tick",
		"tick":     map[string]interface{}{"symbol": "R_100", "quote": 1.0, "epoch": 1700000001},
	})
	tick := waitEvent[TickEvent](t, c.Messages())
	if tick.Quote != 1.0 {
		t.Errorf("畸形帧后会话应继续工作: %+v", tick)
	}
	if c.State() != StateSubscribed {
		t.Errorf("畸形帧不应改变会话状态，得到 %s", c.State())
	}
}

func waitForState(t *testing.T, c *Client, want SessionState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("等待状态 %s 超时，当前 %s", want, c.State())
}

func isAuthRejected(err error) bool {
	for err != nil {
		if err == ErrAuthRejected {
			return true
		}
		type causer interface{ Cause() error }
		c, ok := err.(causer)
		if !ok {
			return false
		}
		err = c.Cause()
	}
	return false
}
