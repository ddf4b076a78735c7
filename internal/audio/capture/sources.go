package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
)

// WAVMicrophone 用 WAV 文件模拟麦克风，按实时节奏输出采样
type WAVMicrophone struct {
	Path            string
	Frame           time.Duration // 每次 Read 返回的时长
	TrailingSilence time.Duration // 文件结束后追加的静音，便于远端判断说话结束
}

// Open 读取文件并返回实时节奏的流
func (m *WAVMicrophone) Open(ctx context.Context) (Stream, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrMicPermissionDenied, err)
		}
		return nil, fmt.Errorf("open audio file: %w", err)
	}

	buf, err := pcm.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("decode audio file: %w", err)
	}

	samples := mixToMono(buf)
	if m.TrailingSilence > 0 {
		samples = append(samples, make([]float32, int(m.TrailingSilence.Seconds()*float64(buf.SampleRate)))...)
	}

	frame := m.Frame
	if frame <= 0 {
		frame = 100 * time.Millisecond
	}
	return NewSliceStream(samples, buf.SampleRate, frame), nil
}

// SliceStream 以固定节奏回放一段内存采样
type SliceStream struct {
	samples    []float32
	sampleRate int
	chunk      int
	ticker     *time.Ticker
	closed     chan struct{}
	closeOnce  sync.Once
}

// NewSliceStream 每隔 frame 返回 frame 时长的采样；frame 为 0 时不做节奏控制
func NewSliceStream(samples []float32, sampleRate int, frame time.Duration) *SliceStream {
	chunk := int(frame.Seconds() * float64(sampleRate))
	if chunk <= 0 {
		chunk = 1024
	}
	s := &SliceStream{
		samples:    samples,
		sampleRate: sampleRate,
		chunk:      chunk,
		closed:     make(chan struct{}),
	}
	if frame > 0 {
		s.ticker = time.NewTicker(frame)
	}
	return s
}

// SampleRate 返回原生采样率
func (s *SliceStream) SampleRate() int { return s.sampleRate }

// Read 返回下一段采样
func (s *SliceStream) Read(ctx context.Context) ([]float32, error) {
	if len(s.samples) == 0 {
		return nil, io.EOF
	}

	if s.ticker != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, io.EOF
		case <-s.ticker.C:
		}
	} else {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, io.EOF
		default:
		}
	}

	n := s.chunk
	if n > len(s.samples) {
		n = len(s.samples)
	}
	out := s.samples[:n]
	s.samples = s.samples[n:]
	return out, nil
}

// Close 结束流
func (s *SliceStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.ticker != nil {
			s.ticker.Stop()
		}
	})
	return nil
}

// RelayMicrophone 接收由浏览器等外部来源推送的采样
type RelayMicrophone struct {
	granted    bool
	sampleRate int
	frames     chan []float32

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewRelayMicrophone granted=false 表示客户端报告麦克风被拒绝
func NewRelayMicrophone(granted bool, sampleRate, backlog int) *RelayMicrophone {
	if backlog <= 0 {
		backlog = 64
	}
	return &RelayMicrophone{
		granted:    granted,
		sampleRate: sampleRate,
		frames:     make(chan []float32, backlog),
		done:       make(chan struct{}),
	}
}

// Push 推入一段采样，缓冲已满或已关闭时丢弃并返回 false
func (m *RelayMicrophone) Push(samples []float32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	select {
	case m.frames <- samples:
		return true
	default:
		return false
	}
}

// SampleRate 返回创建时约定的采样率，推入的采样必须是这个采样率
func (m *RelayMicrophone) SampleRate() int { return m.sampleRate }

// Open 返回推送流
func (m *RelayMicrophone) Open(ctx context.Context) (Stream, error) {
	if !m.granted {
		return nil, ErrMicPermissionDenied
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &relayStream{mic: m}, nil
}

type relayStream struct {
	mic *RelayMicrophone
}

func (s *relayStream) SampleRate() int { return s.mic.SampleRate() }

func (s *relayStream) Read(ctx context.Context) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.mic.done:
		return nil, io.EOF
	case frame := <-s.mic.frames:
		return frame, nil
	}
}

func (s *relayStream) Close() error {
	s.mic.mu.Lock()
	defer s.mic.mu.Unlock()
	if !s.mic.closed {
		s.mic.closed = true
		close(s.mic.done)
	}
	return nil
}

func mixToMono(buf *pcm.Buffer) []float32 {
	if len(buf.Channels) == 1 {
		return buf.Channels[0]
	}
	frames := buf.Frames()
	out := make([]float32, frames)
	for _, plane := range buf.Channels {
		for i := 0; i < frames; i++ {
			out[i] += plane[i] / float32(len(buf.Channels))
		}
	}
	return out
}
