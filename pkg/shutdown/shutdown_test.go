package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestManager_RunsAllCallbacks(t *testing.T) {
	m := NewManager()

	var ran atomic.Int32
	for i := 0; i < 3; i++ {
		m.OnShutdown(func(ctx context.Context) { ran.Add(1) })
	}

	m.Shutdown(context.Background())
	if got := ran.Load(); got != 3 {
		t.Fatalf("应执行全部 3 个回调，执行了 %d 个", got)
	}
}

func TestManager_TimeoutDoesNotBlockForever(t *testing.T) {
	m := NewManager()
	m.OnShutdown(func(ctx context.Context) {
		<-ctx.Done() // 慢回调：只在超时后才退出
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	m.Shutdown(ctx)
	if time.Since(start) > time.Second {
		t.Fatal("超时后应立即返回，不等慢回调")
	}
}

func TestManager_NoCallbacks(t *testing.T) {
	m := NewManager()
	m.Shutdown(context.Background()) // 不应 panic 或阻塞
}
