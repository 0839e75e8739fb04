package domain

import "time"

// Tick 单个时间戳价格观测（来自行情推送）
type Tick struct {
	Timestamp time.Time // 观测时间（venue epoch）
	Price     float64   // 报价
}

// RollingBuffer 有界滚动 tick 缓冲区。
//
// 满了之后按 FIFO 淘汰最旧样本；容量固定，不做扩容。
// 单事件路径持有，不加锁。
type RollingBuffer struct {
	capacity int
	ticks    []Tick
}

// NewRollingBuffer 创建容量为 capacity 的滚动缓冲区
func NewRollingBuffer(capacity int) *RollingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingBuffer{
		capacity: capacity,
		ticks:    make([]Tick, 0, capacity),
	}
}

// Push 追加一个 tick，满时淘汰最旧的
func (b *RollingBuffer) Push(t Tick) {
	if len(b.ticks) >= b.capacity {
		// FIFO：丢弃最旧（下标 0）
		copy(b.ticks, b.ticks[1:])
		b.ticks = b.ticks[:len(b.ticks)-1]
	}
	b.ticks = append(b.ticks, t)
}

// Len 当前样本数
func (b *RollingBuffer) Len() int {
	return len(b.ticks)
}

// Cap 配置容量
func (b *RollingBuffer) Cap() int {
	return b.capacity
}

// Full 是否已达容量
func (b *RollingBuffer) Full() bool {
	return len(b.ticks) >= b.capacity
}

// Closes 返回按时间升序的收盘价序列（拷贝，调用方可自由修改）
func (b *RollingBuffer) Closes() []float64 {
	out := make([]float64, len(b.ticks))
	for i, t := range b.ticks {
		out[i] = t.Price
	}
	return out
}

// Ticks 返回按时间升序的 tick 切片（拷贝）
func (b *RollingBuffer) Ticks() []Tick {
	out := make([]Tick, len(b.ticks))
	copy(out, b.ticks)
	return out
}

// Last 最新 tick；缓冲区为空时第二个返回值为 false
func (b *RollingBuffer) Last() (Tick, bool) {
	if len(b.ticks) == 0 {
		return Tick{}, false
	}
	return b.ticks[len(b.ticks)-1], true
}
