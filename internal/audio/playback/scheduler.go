package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
)

// ErrPlaybackUnavailable 输出设备不可用
var ErrPlaybackUnavailable = errors.New("playback unavailable")

// Voice 是一个已排期的播放句柄
type Voice interface {
	// Stop 立即停止播放，不触发 onEnded
	Stop()
}

// Output 是带时钟的音频输出。
// Start 不得在调用栈内同步执行 onEnded；onEnded 只在自然播放结束时触发。
type Output interface {
	CurrentTime() float64
	Start(buf *pcm.Buffer, at float64, onEnded func()) (Voice, error)
}

// Context 是一个可关闭的音频上下文，对应某个固定采样率
type Context interface {
	Output
	SampleRate() int
	Close() error
}

// Scheduler 按接收顺序无缝排期音频缓冲。
//
// 对任意先后入队的两段缓冲 i、i+1，start(i+1) >= start(i) + duration(i)，
// 因此播放首尾相接、不重叠，且顺序与到达顺序一致。
type Scheduler struct {
	mu     sync.Mutex
	out    Output
	cursor float64
	active map[uint64]Voice
	nextID uint64
}

// NewScheduler 创建绑定到 out 的排期器，out 可以为 nil（此时 Enqueue 返回 ErrPlaybackUnavailable）
func NewScheduler(out Output) *Scheduler {
	return &Scheduler{
		out:    out,
		active: make(map[uint64]Voice),
	}
}

// Enqueue 将 buf 排在当前游标之后播放，返回实际起始时间
func (s *Scheduler) Enqueue(buf *pcm.Buffer) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil {
		return 0, ErrPlaybackUnavailable
	}

	start := s.cursor
	if now := s.out.CurrentTime(); now > start {
		start = now
	}

	s.nextID++
	id := s.nextID
	voice, err := s.out.Start(buf, start, func() { s.finish(id) })
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPlaybackUnavailable, err)
	}

	s.cursor = start + buf.Duration()
	s.active[id] = voice
	return start, nil
}

// Interrupt 停止所有在播与待播音频，并把游标拉回当前时钟
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	stopped := s.stopAllLocked()
	if s.out != nil {
		s.cursor = s.out.CurrentTime()
	} else {
		s.cursor = 0
	}
	return stopped
}

// Reset 停止全部音频并将游标归零，用于会话结束
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopAllLocked()
	s.cursor = 0
}

// Detach 停止全部音频并解绑输出，之后的 Enqueue 都会失败
func (s *Scheduler) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopAllLocked()
	s.cursor = 0
	s.out = nil
}

// Cursor 返回下一段音频的最早起始时间
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Active 返回尚未结束的播放句柄数量
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) stopAllLocked() int {
	n := len(s.active)
	for id, voice := range s.active {
		voice.Stop()
		delete(s.active, id)
	}
	return n
}

func (s *Scheduler) finish(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}
