package coach

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/capture"
	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
	"github.com/zhouzirui/accent-coach/backend/internal/audio/playback"
	"github.com/zhouzirui/accent-coach/backend/internal/metrics"
	model "github.com/zhouzirui/accent-coach/backend/internal/model/coach"
	"github.com/zhouzirui/accent-coach/backend/internal/service/live"
)

var (
	// ErrSessionActive 已有连接中或已连接的会话
	ErrSessionActive = errors.New("coach: session already active")
	// ErrDisconnected 事件或连接属于已被断开的会话
	ErrDisconnected = errors.New("coach: session disconnected")
)

// RemoteSession 远端实时会话。Close 必须使阻塞中的 Receive 返回。
type RemoteSession interface {
	SendAudio(blob pcm.Blob) error
	Receive() (*live.ServerMessage, error)
	Close() error
}

// Dialer 打开远端会话
type Dialer interface {
	Dial(ctx context.Context, cfg live.SessionConfig) (RemoteSession, error)
}

// DialerFunc 函数形式的 Dialer
type DialerFunc func(ctx context.Context, cfg live.SessionConfig) (RemoteSession, error)

// Dial 实现 Dialer
func (f DialerFunc) Dial(ctx context.Context, cfg live.SessionConfig) (RemoteSession, error) {
	return f(ctx, cfg)
}

// LiveDialer 使用 live.Client 建立会话
func LiveDialer(client *live.Client) Dialer {
	return DialerFunc(func(ctx context.Context, cfg live.SessionConfig) (RemoteSession, error) {
		session, err := client.Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return session, nil
	})
}

// Devices 提供麦克风和音频上下文
type Devices interface {
	Microphone() capture.Microphone
	OpenContext(sampleRate int) (playback.Context, error)
}

// Config 会话参数
type Config struct {
	Model             string
	Voice             string
	SystemInstruction string
	InputRate         int // 采集上下文采样率
	OutputRate        int // 播放上下文采样率
	FrameSamples      int // 每个上行分片的采样数
	SendQueue         int // 上行队列长度，满时丢弃
}

// DefaultConfig 默认会话参数
func DefaultConfig() Config {
	return Config{
		Model:             "gemini-2.5-flash-native-audio-preview-12-2025",
		Voice:             "Zephyr",
		SystemInstruction: "You are an expert American English accent coach helping Hassan.",
		InputRate:         16000,
		OutputRate:        pcm.DefaultOutputRate,
		FrameSamples:      4096,
		SendQueue:         32,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.SystemInstruction == "" {
		c.SystemInstruction = d.SystemInstruction
	}
	if c.InputRate <= 0 {
		c.InputRate = d.InputRate
	}
	if c.OutputRate <= 0 {
		c.OutputRate = d.OutputRate
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = d.FrameSamples
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	return c
}

// EventType 会话事件类型
type EventType int

const (
	EventOpen EventType = iota
	EventMessage
	EventError
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event 由 Handle 统一处理的会话事件。Generation 不是当前连接的事件会被忽略。
type Event struct {
	Type       EventType
	Generation uint64
	Session    RemoteSession       // EventOpen
	Message    *live.ServerMessage // EventMessage
	Err        error               // EventError
}

// connection 一次 Connect 获得的全部资源
type connection struct {
	gen    uint64
	cancel context.CancelFunc
	queue  chan pcm.Blob
	done   chan struct{}

	pipeline  *capture.Pipeline
	input     playback.Context
	output    playback.Context
	scheduler *playback.Scheduler
	remote    RemoteSession

	startedAt time.Time
	openedAt  time.Time

	sent          atomic.Int64
	dropped       atomic.Int64
	buffers       int
	interruptions int
}

// Controller 管理一次实时教练会话的生命周期
type Controller struct {
	id      string
	cfg     Config
	dialer  Dialer
	devices Devices
	metrics *metrics.Metrics
	now     func() time.Time

	mu         sync.Mutex
	state      model.State
	listening  bool
	lastErr    *Error
	generation uint64
	conn       *connection
	lastStats  model.Stats
	transcript *Transcript
	updatedAt  time.Time

	subs    map[int]chan model.Snapshot
	nextSub int
}

// NewController 创建会话控制器，metrics 可以为 nil
func NewController(id string, cfg Config, dialer Dialer, devices Devices, m *metrics.Metrics) *Controller {
	return &Controller{
		id:         id,
		cfg:        cfg.withDefaults(),
		dialer:     dialer,
		devices:    devices,
		metrics:    m,
		now:        time.Now,
		state:      model.StateIdle,
		transcript: NewTranscript(nil),
		updatedAt:  time.Now(),
		subs:       make(map[int]chan model.Snapshot),
	}
}

// ID 会话 ID
func (c *Controller) ID() string { return c.id }

// Config 生效的会话参数
func (c *Controller) Config() Config { return c.cfg }

// Connect 申请麦克风和两个音频上下文并打开远端会话，阻塞直到会话建立或失败。
// 期间调用 Disconnect 会中止连接并返回 ErrDisconnected。
func (c *Controller) Connect(ctx context.Context, opts model.ConnectOptions) error {
	c.mu.Lock()
	if c.state == model.StateConnecting || c.state == model.StateConnected {
		c.mu.Unlock()
		return ErrSessionActive
	}

	c.generation++
	dialCtx, cancel := context.WithCancel(ctx)
	conn := &connection{
		gen:       c.generation,
		cancel:    cancel,
		queue:     make(chan pcm.Blob, c.cfg.SendQueue),
		done:      make(chan struct{}),
		startedAt: c.now(),
	}
	c.conn = conn
	c.state = model.StateConnecting
	c.listening = false
	c.lastErr = nil
	c.lastStats = model.Stats{}
	c.notifyLocked()
	c.mu.Unlock()

	log.Printf("[coach] session %s connecting (generation %d)", c.id, conn.gen)

	if err := c.acquire(dialCtx, conn); err != nil {
		return c.Handle(Event{Type: EventError, Generation: conn.gen, Err: err})
	}

	session, err := c.dialer.Dial(dialCtx, live.SessionConfig{
		Model:               c.cfg.Model,
		Voice:               c.cfg.Voice,
		SystemInstruction:   c.cfg.SystemInstruction,
		InputTranscription:  true,
		OutputTranscription: true,
		APIKey:              opts.APIKey,
	})
	if err != nil {
		return c.Handle(Event{Type: EventError, Generation: conn.gen, Err: err})
	}

	return c.Handle(Event{Type: EventOpen, Generation: conn.gen, Session: session})
}

// acquire 依次申请麦克风、采集上下文和播放上下文。
// 每个资源获得后立即挂到 conn 上，Disconnect 可以随时释放。
func (c *Controller) acquire(ctx context.Context, conn *connection) error {
	pipeline := capture.NewPipeline(c.devices.Microphone(), capture.Options{
		SampleRate:   c.cfg.InputRate,
		FrameSamples: c.cfg.FrameSamples,
	})
	if !c.attach(conn, func() { conn.pipeline = pipeline }) {
		return ErrDisconnected
	}
	if err := pipeline.Acquire(ctx); err != nil {
		return err
	}

	input, err := c.devices.OpenContext(c.cfg.InputRate)
	if err != nil {
		return fmt.Errorf("%w: input context: %v", playback.ErrPlaybackUnavailable, err)
	}
	if !c.attach(conn, func() { conn.input = input }) {
		input.Close()
		return ErrDisconnected
	}

	output, err := c.devices.OpenContext(c.cfg.OutputRate)
	if err != nil {
		return fmt.Errorf("%w: output context: %v", playback.ErrPlaybackUnavailable, err)
	}
	if !c.attach(conn, func() {
		conn.output = output
		conn.scheduler = playback.NewScheduler(output)
	}) {
		output.Close()
		return ErrDisconnected
	}
	return nil
}

func (c *Controller) attach(conn *connection, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return false
	}
	fn()
	return true
}

// Disconnect 释放全部资源并进入 Closed，可重复调用
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn := c.conn
	if conn == nil {
		return
	}
	log.Printf("[coach] session %s disconnecting from %s", c.id, c.state)
	c.releaseLocked(conn)
	c.notifyLocked()
}

// Handle 处理一个会话事件。所有状态变化都经过这里。
func (c *Controller) Handle(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn := c.conn
	if conn == nil || ev.Generation != conn.gen {
		if ev.Type == EventOpen && ev.Session != nil {
			ev.Session.Close()
		}
		return ErrDisconnected
	}

	switch ev.Type {
	case EventOpen:
		return c.handleOpenLocked(conn, ev.Session)
	case EventMessage:
		c.handleMessageLocked(conn, ev.Message)
		return nil
	case EventError:
		return c.handleErrorLocked(conn, ev.Err)
	case EventClose:
		log.Printf("[coach] session %s closed by remote", c.id)
		c.releaseLocked(conn)
		c.notifyLocked()
		return nil
	default:
		return fmt.Errorf("unknown event type %s", ev.Type)
	}
}

func (c *Controller) handleOpenLocked(conn *connection, session RemoteSession) error {
	if c.state != model.StateConnecting || session == nil {
		if session != nil {
			session.Close()
		}
		return ErrDisconnected
	}

	conn.remote = session
	conn.openedAt = c.now()
	c.state = model.StateConnected
	c.metrics.SessionOpened(conn.openedAt.Sub(conn.startedAt).Seconds())

	go c.sendLoop(conn)

	if err := conn.pipeline.Start(context.Background(), func(blob pcm.Blob) {
		c.enqueue(conn, blob)
	}); err != nil {
		return c.handleErrorLocked(conn, err)
	}
	c.listening = true

	go c.receiveLoop(conn)

	log.Printf("[coach] session %s connected", c.id)
	c.notifyLocked()
	return nil
}

func (c *Controller) handleMessageLocked(conn *connection, msg *live.ServerMessage) {
	if msg == nil {
		return
	}
	changed := false

	for _, blob := range msg.AudioBlobs() {
		buf, err := pcm.DecodeBlob(blob)
		if err != nil {
			log.Printf("[coach] session %s discarded malformed audio: %v", c.id, err)
			c.metrics.CodecError()
			continue
		}
		if _, err := conn.scheduler.Enqueue(buf); err != nil {
			c.lastErr = ClassifyError(err, PhaseSession)
			c.metrics.SessionError(string(c.lastErr.Kind))
			log.Printf("[coach] session %s playback failed: %v", c.id, err)
			changed = true
			continue
		}
		conn.buffers++
		c.metrics.BufferScheduled(buf.Duration())
	}

	if text, ok := msg.InputText(); ok && c.transcript.Append(model.RoleUser, text) {
		changed = true
	}
	if text, ok := msg.OutputText(); ok && c.transcript.Append(model.RoleCoach, text) {
		changed = true
	}

	if msg.Interrupted() {
		stopped := conn.scheduler.Interrupt()
		conn.interruptions++
		c.metrics.Interrupted()
		log.Printf("[coach] session %s interrupted, stopped %d voices", c.id, stopped)
		changed = true
	}

	if msg.GoAway != nil {
		log.Printf("[coach] session %s remote going away in %s", c.id, msg.GoAway.TimeLeft)
	}

	if changed {
		c.notifyLocked()
	}
}

func (c *Controller) handleErrorLocked(conn *connection, err error) error {
	if errors.Is(err, ErrDisconnected) {
		return ErrDisconnected
	}

	phase := PhaseSession
	if c.state == model.StateConnecting {
		phase = PhaseConnect
	}
	classified := ClassifyError(err, phase)

	log.Printf("[coach] session %s failed (%s): %v", c.id, classified.Kind, err)
	c.lastErr = classified
	c.metrics.SessionError(string(classified.Kind))
	c.releaseLocked(conn)
	c.notifyLocked()
	return classified
}

// releaseLocked 释放 conn 持有的全部资源，进入 Closed
func (c *Controller) releaseLocked(conn *connection) {
	if c.conn != conn {
		return
	}
	c.lastStats = c.statsLocked(conn)
	c.conn = nil

	close(conn.done)
	conn.cancel()

	if conn.pipeline != nil {
		conn.pipeline.Stop()
	}
	if conn.remote != nil {
		if err := conn.remote.Close(); err != nil {
			log.Printf("[coach] session %s close remote failed: %v", c.id, err)
		}
	}
	if conn.scheduler != nil {
		conn.scheduler.Reset()
		conn.scheduler.Detach()
	}
	if conn.input != nil {
		if err := conn.input.Close(); err != nil {
			log.Printf("[coach] session %s close input context failed: %v", c.id, err)
		}
	}
	if conn.output != nil {
		if err := conn.output.Close(); err != nil {
			log.Printf("[coach] session %s close output context failed: %v", c.id, err)
		}
	}
	if !conn.openedAt.IsZero() {
		c.metrics.SessionClosed(c.now().Sub(conn.openedAt).Seconds())
	}

	c.state = model.StateClosed
	c.listening = false
}

// enqueue 在采集 goroutine 上调用，不能获取 c.mu
func (c *Controller) enqueue(conn *connection, blob pcm.Blob) {
	select {
	case <-conn.done:
		return
	default:
	}

	select {
	case conn.queue <- blob:
		c.metrics.QueueDelta(1)
	default:
		if n := conn.dropped.Add(1); n == 1 || n%50 == 0 {
			log.Printf("[coach] session %s send queue full, dropped %d chunks", c.id, n)
		}
		c.metrics.ChunkDropped()
	}
}

func (c *Controller) sendLoop(conn *connection) {
	defer func() {
		for {
			select {
			case <-conn.queue:
				c.metrics.QueueDelta(-1)
			default:
				return
			}
		}
	}()

	for {
		select {
		case <-conn.done:
			return
		case blob := <-conn.queue:
			c.metrics.QueueDelta(-1)
			if err := conn.remote.SendAudio(blob); err != nil {
				c.Handle(Event{Type: EventError, Generation: conn.gen, Err: err})
				return
			}
			conn.sent.Add(1)
			c.metrics.ChunkSent()
		}
	}
}

func (c *Controller) receiveLoop(conn *connection) {
	for {
		msg, err := conn.remote.Receive()
		if err != nil {
			if live.IsNormalClose(err) {
				c.Handle(Event{Type: EventClose, Generation: conn.gen})
			} else {
				c.Handle(Event{Type: EventError, Generation: conn.gen, Err: err})
			}
			return
		}
		if errors.Is(c.Handle(Event{Type: EventMessage, Generation: conn.gen, Message: msg}), ErrDisconnected) {
			return
		}
	}
}

// Snapshot 返回当前状态的副本
func (c *Controller) Snapshot() model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() model.Snapshot {
	stats := c.lastStats
	if c.conn != nil {
		stats = c.statsLocked(c.conn)
	}
	return model.Snapshot{
		SessionID:  c.id,
		State:      c.state,
		Listening:  c.listening,
		Error:      c.lastErr.Info(),
		Transcript: c.transcript.Entries(),
		Stats:      stats,
		UpdatedAt:  c.updatedAt,
	}
}

func (c *Controller) statsLocked(conn *connection) model.Stats {
	stats := model.Stats{
		ChunksSent:    int(conn.sent.Load()),
		ChunksDropped: int(conn.dropped.Load()),
		BuffersPlayed: conn.buffers,
		Interruptions: conn.interruptions,
	}
	if conn.scheduler != nil {
		stats.ActiveVoices = conn.scheduler.Active()
	}
	return stats
}

// LastError 最近一次展示给用户的错误
func (c *Controller) LastError() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Transcript 返回转写副本
func (c *Controller) Transcript() []model.Entry {
	return c.transcript.Entries()
}

// ClearTranscript 清空转写
func (c *Controller) ClearTranscript() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript.Reset()
	c.notifyLocked()
}

// Subscribe 订阅状态变化，立即收到一次当前快照。
// 订阅者处理不过来时只保留最新快照。
func (c *Controller) Subscribe() (<-chan model.Snapshot, func()) {
	ch := make(chan model.Snapshot, 8)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

func (c *Controller) notifyLocked() {
	c.updatedAt = c.now()
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
