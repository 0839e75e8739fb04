// Package ledger 持久化交易账本（sqlite）。
//
// 读写契约：Append 落一条新订单、AttachContract 绑定 venue 合约 id、
// UpdateByContractID 按合约 id 写入结算结果、RecentN 供胜率/盈亏
// 汇总（纯观测，不回馈控制环）。
//
// 结算更新只按合约 id 匹配：账本里可能存在多条历史记录，
// “最近一条 pending”式的猜测匹配是正确性隐患，这里从接口上杜绝。
package ledger

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/derivbot/goderiv/internal/domain"
)

// Record 账本记录
type Record struct {
	ID         int64
	Ref        string
	ContractID int64 // 0 表示尚未绑定
	Action     domain.Action
	Size       float64
	Stake      decimal.Decimal
	Confidence float64
	RSI        float64
	Status     domain.OrderStatus
	Outcome    domain.Outcome // 仅 settled 记录有值
	Profit     decimal.Decimal
	CreatedAt  time.Time
	SettledAt  *time.Time
}

// Ledger sqlite 交易账本
type Ledger struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ref         TEXT    NOT NULL UNIQUE,
	contract_id INTEGER,
	action      TEXT    NOT NULL,
	size        REAL    NOT NULL,
	stake       TEXT    NOT NULL,
	confidence  REAL    NOT NULL,
	rsi         REAL    NOT NULL,
	status      TEXT    NOT NULL,
	outcome     TEXT,
	profit      TEXT,
	created_at  TIMESTAMP NOT NULL,
	settled_at  TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trades_contract ON trades(contract_id);
CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at);
`

// Open 打开（或创建）账本
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "打开账本失败: %s", path)
	}
	// 单事件路径写入，单连接即可，顺带规避 sqlite 写并发问题
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "初始化账本 schema 失败")
	}
	return &Ledger{db: db}, nil
}

// Close 关闭账本
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append 落一条新订单记录（状态 pending）
func (l *Ledger) Append(o *domain.Order) error {
	_, err := l.db.Exec(
		`INSERT INTO trades (ref, action, size, stake, confidence, rsi, status, profit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Ref, string(o.Action), o.Size, o.Stake.String(), o.Confidence, o.RSI,
		string(o.Status), "0", o.CreatedAt,
	)
	return errors.Wrap(err, "写入账本失败")
}

// AttachContract 按本地引用绑定 venue 合约 id 并置为 open
func (l *Ledger) AttachContract(ref string, contractID int64) error {
	res, err := l.db.Exec(
		`UPDATE trades SET contract_id = ?, status = ? WHERE ref = ?`,
		contractID, string(domain.OrderStatusOpen), ref,
	)
	if err != nil {
		return errors.Wrap(err, "绑定合约 id 失败")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.Errorf("账本中不存在引用 %s", ref)
	}
	return nil
}

// MarkFailed 按本地引用置为失败（拒单或确认超时）
func (l *Ledger) MarkFailed(ref string) error {
	_, err := l.db.Exec(
		`UPDATE trades SET status = ? WHERE ref = ?`,
		string(domain.OrderStatusFailed), ref,
	)
	return errors.Wrap(err, "标记失败状态失败")
}

// UpdateByContractID 按合约 id 写入结算结果。
// 只更新匹配该 id 且尚未终态的记录；没有匹配时返回 ErrNoMatch。
func (l *Ledger) UpdateByContractID(contractID int64, outcome domain.Outcome, profit decimal.Decimal, settledAt time.Time) error {
	res, err := l.db.Exec(
		`UPDATE trades SET status = ?, outcome = ?, profit = ?, settled_at = ?
		 WHERE contract_id = ? AND status = ?`,
		string(domain.OrderStatusSettled), string(outcome), profit.String(), settledAt,
		contractID, string(domain.OrderStatusOpen),
	)
	if err != nil {
		return errors.Wrap(err, "写入结算结果失败")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNoMatch
	}
	return nil
}

// ErrNoMatch 结算通知没有匹配到未终态的账本记录
var ErrNoMatch = errors.New("ledger: no open record matches contract id")

// RecentN 最近 limit 条记录（按创建时间倒序），供胜率/盈亏汇总
func (l *Ledger) RecentN(limit int) ([]Record, error) {
	rows, err := l.db.Query(
		`SELECT id, ref, COALESCE(contract_id, 0), action, size, stake, confidence, rsi,
		        status, COALESCE(outcome, ''), COALESCE(profit, '0'), created_at, settled_at
		 FROM trades ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "查询账本失败")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OutstandingOrder 返回账本中唯一的非终态记录（重连对账用）。
// 不存在时返回 (nil, nil)。
func (l *Ledger) OutstandingOrder() (*Record, error) {
	rows, err := l.db.Query(
		`SELECT id, ref, COALESCE(contract_id, 0), action, size, stake, confidence, rsi,
		        status, COALESCE(outcome, ''), COALESCE(profit, '0'), created_at, settled_at
		 FROM trades WHERE status IN (?, ?) ORDER BY created_at DESC LIMIT 1`,
		string(domain.OrderStatusPending), string(domain.OrderStatusOpen))
	if err != nil {
		return nil, errors.Wrap(err, "查询在途订单失败")
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var action, status, outcome, stakeStr, profitStr string
	var settledAt sql.NullTime

	if err := rows.Scan(&rec.ID, &rec.Ref, &rec.ContractID, &action, &rec.Size, &stakeStr,
		&rec.Confidence, &rec.RSI, &status, &outcome, &profitStr, &rec.CreatedAt, &settledAt); err != nil {
		return rec, errors.Wrap(err, "扫描账本记录失败")
	}

	rec.Action = domain.Action(action)
	rec.Status = domain.OrderStatus(status)
	rec.Outcome = domain.Outcome(outcome)

	stake, err := decimal.NewFromString(stakeStr)
	if err != nil {
		return rec, errors.Wrapf(err, "解析 stake 失败: %q", stakeStr)
	}
	rec.Stake = stake

	profit, err := decimal.NewFromString(profitStr)
	if err != nil {
		return rec, errors.Wrapf(err, "解析 profit 失败: %q", profitStr)
	}
	rec.Profit = profit

	if settledAt.Valid {
		t := settledAt.Time
		rec.SettledAt = &t
	}
	return rec, nil
}
