package persistence

import (
	"os"
	"path/filepath"
	"testing"
)

type snapshot struct {
	WinRate  float64 `json:"win_rate"`
	SettledN int     `json:"settled_n"`
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "engine:R_100")

	in := snapshot{WinRate: 0.62, SettledN: 50}
	if err := store.Save(in); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	var out snapshot
	if err := store.Load(&out); err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if out != in {
		t.Errorf("往返不一致: %+v != %+v", out, in)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(t.TempDir(), "nope")
	var out snapshot
	if err := store.Load(&out); err != ErrNotExists {
		t.Fatalf("不存在的数据应返回 ErrNotExists，得到 %v", err)
	}
}

func TestStore_KeySanitized(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "engine:R_100/评估")
	if err := store.Save(snapshot{}); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("应只有一个文件，得到 %d", len(entries))
	}
	name := entries[0].Name()
	if filepath.Ext(name) != ".json" {
		t.Errorf("文件名应以 .json 结尾: %s", name)
	}
	for _, ch := range name {
		if ch == ':' || ch == '/' {
			t.Errorf("文件名应已安全化: %s", name)
		}
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := NewStore(t.TempDir(), "k")
	if err := store.Save(snapshot{SettledN: 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(snapshot{SettledN: 2}); err != nil {
		t.Fatal(err)
	}

	var out snapshot
	if err := store.Load(&out); err != nil {
		t.Fatal(err)
	}
	if out.SettledN != 2 {
		t.Errorf("应为最后一次保存的值，得到 %d", out.SettledN)
	}
}
