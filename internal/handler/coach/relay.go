package coach

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/capture"
	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
	"github.com/zhouzirui/accent-coach/backend/internal/audio/playback"
)

var errClientClosed = errors.New("relay client closed")

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// client 串行化对浏览器 websocket 的写入
type client struct {
	conn         *websocket.Conn
	sessionID    string
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, sessionID string, writeTimeout time.Duration) *client {
	return &client{conn: conn, sessionID: sessionID, writeTimeout: writeTimeout}
}

func (c *client) send(msgType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// relayDevices 把浏览器当作麦克风和扬声器。
// 每次 Connect 都会换一个新的 RelayMicrophone，旧的随上一次会话一起关闭。
type relayDevices struct {
	client  *client
	backlog int

	mu      sync.Mutex
	granted bool
	micRate int
	mic     *capture.RelayMicrophone
	resamp  *pcm.Resampler
}

func newRelayDevices(cl *client, micRate, backlog int) *relayDevices {
	return &relayDevices{client: cl, backlog: backlog, granted: true, micRate: micRate}
}

// prepare 记录客户端报告的麦克风授权和采样率，供下一次 Connect 使用
func (d *relayDevices) prepare(granted bool, micRate int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.granted = granted
	if micRate > 0 {
		d.micRate = micRate
	}
}

func (d *relayDevices) Microphone() capture.Microphone {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mic = capture.NewRelayMicrophone(d.granted, d.micRate, d.backlog)
	d.resamp = nil
	return d.mic
}

// push 将客户端采样写入当前麦克风，必要时先重采样到该麦克风的采样率。
// 会话进行中再次 prepare 不影响当前麦克风。
func (d *relayDevices) push(samples []float32, sampleRate int) bool {
	d.mu.Lock()
	mic := d.mic
	if mic == nil {
		d.mu.Unlock()
		return false
	}
	if micRate := mic.SampleRate(); sampleRate > 0 && sampleRate != micRate {
		if d.resamp == nil || !sameRates(d.resamp, sampleRate, micRate) {
			d.resamp = pcm.NewResampler(sampleRate, micRate)
		}
		samples = d.resamp.Process(samples)
	}
	d.mu.Unlock()

	if len(samples) == 0 {
		return true
	}
	return mic.Push(samples)
}

func sameRates(r *pcm.Resampler, fromRate, toRate int) bool {
	from, to := r.Rates()
	return from == fromRate && to == toRate
}

func (d *relayDevices) OpenContext(sampleRate int) (playback.Context, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	return newRelayContext(d.client, sampleRate), nil
}

type playMessage struct {
	VoiceID    string  `json:"voiceId"`
	At         float64 `json:"at"`
	Now        float64 `json:"now"`
	Duration   float64 `json:"duration"`
	Data       string  `json:"data"`
	SampleRate int     `json:"sampleRate"`
	Channels   int     `json:"channels"`
}

type stopMessage struct {
	VoiceID string `json:"voiceId"`
}

// relayContext 是浏览器端的输出设备。
// 时钟从创建时开始计时，客户端按 at-now 的差值排到自己的 AudioContext 上。
type relayContext struct {
	client     *client
	sampleRate int
	clock      *playback.WallClock

	mu     sync.Mutex
	closed bool
}

func newRelayContext(cl *client, sampleRate int) *relayContext {
	return &relayContext{client: cl, sampleRate: sampleRate, clock: playback.NewWallClock()}
}

func (c *relayContext) SampleRate() int { return c.sampleRate }

func (c *relayContext) CurrentTime() float64 { return c.clock.Now() }

func (c *relayContext) Start(buf *pcm.Buffer, at float64, onEnded func()) (playback.Voice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, playback.ErrOutputClosed
	}

	data, err := pcm.EncodeBuffer(buf)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	v := &relayVoice{client: c.client, id: uuid.NewString()}
	if err := c.client.send("play", playMessage{
		VoiceID:    v.id,
		At:         at,
		Now:        now,
		Duration:   buf.Duration(),
		Data:       pcm.ToTransportText(data),
		SampleRate: buf.SampleRate,
		Channels:   len(buf.Channels),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", playback.ErrPlaybackUnavailable, err)
	}

	v.timer = time.AfterFunc(secondsToDuration(at+buf.Duration()-now), func() {
		if v.finish() && onEnded != nil {
			onEnded()
		}
	})
	return v, nil
}

func (c *relayContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type relayVoice struct {
	client *client
	id     string
	timer  *time.Timer

	mu   sync.Mutex
	done bool
}

func (v *relayVoice) finish() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.done {
		return false
	}
	v.done = true
	return true
}

// Stop 通知客户端立即停止该片段
func (v *relayVoice) Stop() {
	if !v.finish() {
		return
	}
	v.timer.Stop()
	if err := v.client.send("stop", stopMessage{VoiceID: v.id}); err != nil && !errors.Is(err, errClientClosed) {
		log.Printf("[websocket] stop voice %s failed: %v", v.id, err)
	}
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
