// Package persistence 基于 JSON 文件的运行时快照存储。
//
// 账本（sqlite）才是交易记录的权威来源；这里只存跨重启的运行时
// 观测快照（胜率、累计盈亏、重连次数等），丢失不影响正确性。
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ErrNotExists 表示数据不存在
var ErrNotExists = fmt.Errorf("persistence data not exists")

// Store 命名快照存储
type Store struct {
	baseDir string
	key     string
}

// NewStore 创建一个以 key 命名的快照存储
func NewStore(baseDir, key string) *Store {
	return &Store{baseDir: baseDir, key: key}
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *Store) filePath() string {
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.baseDir, safe+".json")
}

// Save 原子写入快照（先写临时文件再 rename）
func (s *Store) Save(data interface{}) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load 加载快照；不存在或为空时返回 ErrNotExists
func (s *Store) Load(data interface{}) error {
	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}
