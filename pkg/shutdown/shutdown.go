// Package shutdown 编排进程收尾：退出时并发执行各组件注册的
// 关闭回调，整体受调用方传入的超时 context 约束。
package shutdown

import (
	"context"
	"sync"

	"github.com/derivbot/goderiv/pkg/logger"
)

// Handler 单个组件的收尾回调。应尊重 ctx 的超时，不做无界等待。
type Handler func(ctx context.Context)

// Manager 收集关闭回调并在退出时统一执行
type Manager struct {
	mu        sync.Mutex
	callbacks []Handler
}

// NewManager 创建关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册一个收尾回调
func (m *Manager) OnShutdown(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, h)
}

// Shutdown 并发执行全部回调，所有回调完成或 ctx 超时后返回。
// 超时后不等慢回调，直接放弃返回。
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}
	logger.Infof("开始收尾，共 %d 个回调", len(callbacks))

	var wg sync.WaitGroup
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		go func(h Handler) {
			defer wg.Done()
			h(ctx)
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("收尾完成")
	case <-ctx.Done():
		logger.Warnf("收尾超时: %v", ctx.Err())
	}
}
