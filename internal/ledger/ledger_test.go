package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/derivbot/goderiv/internal/domain"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func newOrder(action domain.Action) *domain.Order {
	return &domain.Order{
		Ref:        uuid.New().String(),
		Action:     action,
		Size:       0.05,
		Stake:      decimal.NewFromFloat(5),
		Confidence: 0.8,
		RSI:        30,
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now(),
	}
}

func TestLedger_AppendAndAttach(t *testing.T) {
	l := openTestLedger(t)
	o := newOrder(domain.ActionBuy)

	require.NoError(t, l.Append(o))
	require.NoError(t, l.AttachContract(o.Ref, 1001))

	recs, err := l.RecentN(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int64(1001), recs[0].ContractID)
	require.Equal(t, domain.OrderStatusOpen, recs[0].Status)
	require.True(t, recs[0].Stake.Equal(o.Stake))
}

func TestLedger_AttachUnknownRef(t *testing.T) {
	l := openTestLedger(t)
	require.Error(t, l.AttachContract("no-such-ref", 1))
}

// 账本里已有一条已结算记录时，后到的结算通知只更新
// 合约 id 匹配的那条，绝不碰其他记录。
func TestLedger_SettlementMatchesByContractIDOnly(t *testing.T) {
	l := openTestLedger(t)

	o1 := newOrder(domain.ActionBuy)
	o2 := newOrder(domain.ActionSell)
	require.NoError(t, l.Append(o1))
	require.NoError(t, l.Append(o2))
	require.NoError(t, l.AttachContract(o1.Ref, 1))
	require.NoError(t, l.AttachContract(o2.Ref, 2))

	// 先结算记录 1
	require.NoError(t, l.UpdateByContractID(1, domain.OutcomeWin, decimal.NewFromFloat(1.7), time.Now()))

	// 再结算记录 2：只有记录 2 被更新
	require.NoError(t, l.UpdateByContractID(2, domain.OutcomeLoss, decimal.NewFromFloat(-5), time.Now()))

	recs, err := l.RecentN(10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	byContract := map[int64]Record{}
	for _, r := range recs {
		byContract[r.ContractID] = r
	}

	require.Equal(t, domain.OutcomeWin, byContract[1].Outcome)
	require.True(t, byContract[1].Profit.Equal(decimal.NewFromFloat(1.7)))
	require.Equal(t, domain.OutcomeLoss, byContract[2].Outcome)
	require.True(t, byContract[2].Profit.Equal(decimal.NewFromFloat(-5)))
}

func TestLedger_SettlementNoMatch(t *testing.T) {
	l := openTestLedger(t)

	o := newOrder(domain.ActionBuy)
	require.NoError(t, l.Append(o))
	require.NoError(t, l.AttachContract(o.Ref, 7))
	require.NoError(t, l.UpdateByContractID(7, domain.OutcomeWin, decimal.NewFromFloat(1), time.Now()))

	// 已终态的记录不再接受结算更新
	err := l.UpdateByContractID(7, domain.OutcomeLoss, decimal.NewFromFloat(-1), time.Now())
	require.ErrorIs(t, err, ErrNoMatch)

	// 完全未知的合约 id 同样返回 ErrNoMatch
	err = l.UpdateByContractID(999, domain.OutcomeWin, decimal.NewFromFloat(1), time.Now())
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestLedger_MarkFailed(t *testing.T) {
	l := openTestLedger(t)
	o := newOrder(domain.ActionBuy)
	require.NoError(t, l.Append(o))
	require.NoError(t, l.MarkFailed(o.Ref))

	recs, err := l.RecentN(1)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFailed, recs[0].Status)
}

func TestLedger_OutstandingOrder(t *testing.T) {
	l := openTestLedger(t)

	rec, err := l.OutstandingOrder()
	require.NoError(t, err)
	require.Nil(t, rec)

	o := newOrder(domain.ActionBuy)
	require.NoError(t, l.Append(o))
	require.NoError(t, l.AttachContract(o.Ref, 42))

	rec, err = l.OutstandingOrder()
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, o.Ref, rec.Ref)
	require.Equal(t, int64(42), rec.ContractID)

	require.NoError(t, l.UpdateByContractID(42, domain.OutcomeWin, decimal.NewFromFloat(1), time.Now()))
	rec, err = l.OutstandingOrder()
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestLedger_RecentNOrdering(t *testing.T) {
	l := openTestLedger(t)
	base := time.Now()
	for i := 0; i < 5; i++ {
		o := newOrder(domain.ActionBuy)
		o.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, l.Append(o))
	}

	recs, err := l.RecentN(3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// 倒序：最新的在前
	require.True(t, recs[0].CreatedAt.After(recs[1].CreatedAt))
	require.True(t, recs[1].CreatedAt.After(recs[2].CreatedAt))
}
