package capture

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
)

var (
	// ErrMicPermissionDenied 用户或系统拒绝了麦克风访问
	ErrMicPermissionDenied = errors.New("microphone permission denied")
	// ErrPipelineStopped 流水线已停止，不能再次启动
	ErrPipelineStopped = errors.New("capture pipeline stopped")
)

// Stream 是一个已打开的单声道麦克风流
type Stream interface {
	// SampleRate 返回设备原生采样率
	SampleRate() int
	// Read 阻塞直到下一段采样可用；流结束时返回 io.EOF
	Read(ctx context.Context) ([]float32, error)
	Close() error
}

// Microphone 负责申请麦克风
type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

// Options 采集参数
type Options struct {
	SampleRate   int // 目标采样率
	FrameSamples int // 每个分片的采样数
}

// DefaultOptions 16kHz 单声道，每片 4096 个采样
func DefaultOptions() Options {
	return Options{SampleRate: 16000, FrameSamples: 4096}
}

// Pipeline 将麦克风输入重采样、分帧、编码后交给 onChunk。
// 投递节奏只取决于麦克风，不等待传输层。
type Pipeline struct {
	mic  Microphone
	opts Options

	mu      sync.Mutex
	stream  Stream
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped atomic.Bool
}

// NewPipeline 创建采集流水线
func NewPipeline(mic Microphone, opts Options) *Pipeline {
	defaults := DefaultOptions()
	if opts.SampleRate <= 0 {
		opts.SampleRate = defaults.SampleRate
	}
	if opts.FrameSamples <= 0 {
		opts.FrameSamples = defaults.FrameSamples
	}
	return &Pipeline{mic: mic, opts: opts}
}

// Options 返回生效的采集参数
func (p *Pipeline) Options() Options { return p.opts }

// Acquire 申请麦克风但不开始投递，重复调用无副作用
func (p *Pipeline) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquireLocked(ctx)
}

func (p *Pipeline) acquireLocked(ctx context.Context) error {
	if p.stopped.Load() {
		return ErrPipelineStopped
	}
	if p.stream != nil {
		return nil
	}
	if p.mic == nil {
		return ErrMicPermissionDenied
	}

	stream, err := p.mic.Open(ctx)
	if err != nil {
		return err
	}
	p.stream = stream
	return nil
}

// Start 开始投递分片；若尚未申请麦克风则先申请。
// onChunk 在采集 goroutine 上调用，不得在其中调用 Stop。
func (p *Pipeline) Start(ctx context.Context, onChunk func(pcm.Blob)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.acquireLocked(ctx); err != nil {
		return err
	}
	if p.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true

	go p.run(runCtx, p.stream, onChunk, p.done)
	return nil
}

// Stop 释放麦克风并停止投递，可重复调用
func (p *Pipeline) Stop() {
	if p.stopped.Swap(true) {
		return
	}

	p.mu.Lock()
	stream, cancel, done := p.stream, p.cancel, p.done
	p.stream = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			log.Printf("[capture] close microphone failed: %v", err)
		}
	}
	if done != nil {
		<-done
	}
}

func (p *Pipeline) run(ctx context.Context, stream Stream, onChunk func(pcm.Blob), done chan struct{}) {
	defer close(done)

	frameSize := p.opts.FrameSamples
	pending := make([]float32, 0, frameSize*2)
	resampler := pcm.NewResampler(stream.SampleRate(), p.opts.SampleRate)

	for {
		samples, err := stream.Read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) && !p.stopped.Load() {
				log.Printf("[capture] microphone read failed: %v", err)
			}
			return
		}

		pending = append(pending, resampler.Process(samples)...)
		for len(pending) >= frameSize {
			if p.stopped.Load() {
				return
			}
			blob := pcm.NewBlob(pcm.EncodeMono(pending[:frameSize]), p.opts.SampleRate)
			pending = append(pending[:0], pending[frameSize:]...)
			onChunk(blob)
		}
	}
}
