// Package tickstore 用 badger 落地最近的 tick，重启后回灌滚动缓冲，
// 免去冷启动重新攒满预热样本的等待。
//
// 只做热启动加速，不是行情历史库：超出保留窗口的 tick 会被清理，
// 丢失也不影响正确性（最多退化为冷启动）。
package tickstore

import (
	"encoding/binary"
	"math"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/derivbot/goderiv/internal/domain"
)

// Store badger tick 存储
type Store struct {
	db     *badger.DB
	symbol string
	ttl    time.Duration
}

// Open 打开（或创建）tick 存储。ttl 为保留窗口，<=0 用默认 24h。
func Open(path, symbol string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "打开 tick 存储失败: %s", path)
	}
	return &Store{db: db, symbol: symbol, ttl: ttl}, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	return s.db.Close()
}

// key 布局: "t/<symbol>/<unixnano big-endian>"，保证按时间升序遍历
func (s *Store) key(ts time.Time) []byte {
	prefix := s.prefix()
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], uint64(ts.UnixNano()))
	return k
}

func (s *Store) prefix() []byte {
	return []byte("t/" + s.symbol + "/")
}

// Put 写入一个 tick，带 TTL 自动过期
func (s *Store) Put(tick domain.Tick) error {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, math.Float64bits(tick.Price))

	err := s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(s.key(tick.Timestamp), val).WithTTL(s.ttl)
		return txn.SetEntry(e)
	})
	return errors.Wrap(err, "写入 tick 失败")
}

// RecentN 按时间升序返回最近 n 个 tick（热启动回灌用）
func (s *Store) RecentN(n int) ([]domain.Tick, error) {
	if n <= 0 {
		return nil, nil
	}

	var ticks []domain.Tick
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := s.prefix()
		// 反向迭代起点：prefix 的上界
		seek := make([]byte, len(prefix)+8)
		copy(seek, prefix)
		for i := len(prefix); i < len(seek); i++ {
			seek[i] = 0xff
		}

		for it.Seek(seek); it.ValidForPrefix(prefix) && len(ticks) < n; it.Next() {
			item := it.Item()
			k := item.Key()
			ts := time.Unix(0, int64(binary.BigEndian.Uint64(k[len(prefix):])))

			var price float64
			if err := item.Value(func(v []byte) error {
				if len(v) != 8 {
					return errors.Errorf("tick 值长度异常: %d", len(v))
				}
				price = math.Float64frombits(binary.BigEndian.Uint64(v))
				return nil
			}); err != nil {
				return err
			}
			ticks = append(ticks, domain.Tick{Timestamp: ts, Price: price})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "读取 tick 失败")
	}

	// 反向迭代出来是新到旧，翻转成时间升序
	for i, j := 0, len(ticks)-1; i < j; i, j = i+1, j-1 {
		ticks[i], ticks[j] = ticks[j], ticks[i]
	}
	return ticks, nil
}

// RunGC 触发一次 badger value log GC。定期调用，失败可忽略。
func (s *Store) RunGC() {
	// ErrNoRewrite 属于正常情况（没有可回收空间）
	_ = s.db.RunValueLogGC(0.5)
}
