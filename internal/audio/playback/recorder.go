package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
)

// ErrOutputClosed 上下文已关闭
var ErrOutputClosed = errors.New("audio output closed")

// Recorder 是一个把排期音频混入时间线的单声道输出。
// 被 Stop 的片段从停止时刻起不再出现在时间线上，与真实设备上听到的内容一致。
type Recorder struct {
	mu         sync.Mutex
	sampleRate int
	clock      Clock
	timeline   []float32
	closed     bool
}

// NewRecorder 创建录制输出；clock 为 nil 时使用墙上时钟
func NewRecorder(sampleRate int, clock Clock) *Recorder {
	if clock == nil {
		clock = NewWallClock()
	}
	return &Recorder{sampleRate: sampleRate, clock: clock}
}

// SampleRate 返回时间线采样率
func (r *Recorder) SampleRate() int { return r.sampleRate }

// CurrentTime 返回输出时钟
func (r *Recorder) CurrentTime() float64 { return r.clock.Now() }

// Start 在 at 秒处混入 buf，播放结束后异步调用 onEnded
func (r *Recorder) Start(buf *pcm.Buffer, at float64, onEnded func()) (Voice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrOutputClosed
	}

	samples := mixdown(buf)
	samples = pcm.Resample(samples, buf.SampleRate, r.sampleRate)

	offset := int(at * float64(r.sampleRate))
	if need := offset + len(samples); need > len(r.timeline) {
		grown := make([]float32, need)
		copy(grown, r.timeline)
		r.timeline = grown
	}
	for i, s := range samples {
		r.timeline[offset+i] += s
	}

	v := &recordedVoice{rec: r, offset: offset, samples: samples}
	end := at + float64(len(samples))/float64(r.sampleRate)
	v.timer = time.AfterFunc(secondsToDuration(end-r.clock.Now()), func() {
		if v.markDone() && onEnded != nil {
			onEnded()
		}
	})
	return v, nil
}

// Buffer 返回当前时间线的拷贝
func (r *Recorder) Buffer() *pcm.Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := pcm.NewBuffer(r.sampleRate, 1, len(r.timeline))
	for i, s := range r.timeline {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out.Channels[0][i] = s
	}
	return out
}

// Close 关闭输出，之后的 Start 返回 ErrOutputClosed
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Recorder) cut(v *recordedVoice) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := int(r.clock.Now() * float64(r.sampleRate))
	if from < v.offset {
		from = v.offset
	}
	for i := from; i < v.offset+len(v.samples) && i < len(r.timeline); i++ {
		r.timeline[i] -= v.samples[i-v.offset]
	}
}

type recordedVoice struct {
	rec     *Recorder
	offset  int
	samples []float32
	timer   *time.Timer

	mu   sync.Mutex
	done bool
}

func (v *recordedVoice) markDone() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.done {
		return false
	}
	v.done = true
	return true
}

// Stop 截断尚未播放的部分
func (v *recordedVoice) Stop() {
	if !v.markDone() {
		return
	}
	v.timer.Stop()
	v.rec.cut(v)
}

func mixdown(buf *pcm.Buffer) []float32 {
	if len(buf.Channels) == 1 {
		return append([]float32(nil), buf.Channels[0]...)
	}
	frames := buf.Frames()
	out := make([]float32, frames)
	scale := 1 / float32(len(buf.Channels))
	for _, plane := range buf.Channels {
		for i := 0; i < frames; i++ {
			out[i] += plane[i] * scale
		}
	}
	return out
}
