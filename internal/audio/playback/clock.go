package playback

import (
	"sync"
	"time"
)

// Clock 以秒为单位报告输出时钟
type Clock interface {
	Now() float64
}

// WallClock 从创建时刻开始计时
type WallClock struct {
	start time.Time
}

// NewWallClock 创建一个从零开始的墙上时钟
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now()}
}

// Now 返回自创建以来经过的秒数
func (c *WallClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// ManualClock 只在调用 Set/Advance 时前进，供离线渲染与测试使用
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

// Now 返回当前时间
func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set 设置当前时间
func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance 将时钟前移 d 秒
func (c *ManualClock) Advance(d float64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
