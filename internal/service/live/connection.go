package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
)

// DefaultLiveURL Gemini Live 双向流式接口
const DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

var (
	// ErrMissingAPIKey 既没有默认密钥也没有用户密钥
	ErrMissingAPIKey = errors.New("live: api key is not configured")
	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("live: session closed")
)

// HandshakeError 握手阶段被服务端拒绝
type HandshakeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("live handshake failed with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("live handshake failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// CloseError 服务端关闭了连接，Reason 中常带有 RESOURCE_EXHAUSTED 等状态
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("live session closed by server (code %d): %s", e.Code, e.Reason)
}

// DialOptions 连接参数
type DialOptions struct {
	HandshakeTimeout time.Duration // 握手及等待 setupComplete 的超时
	ReadTimeout      time.Duration // 读超时，0 表示不限制
	WriteTimeout     time.Duration // 写超时
	PingInterval     time.Duration // Ping 间隔，0 表示不发送
}

// DefaultDialOptions 默认连接参数
func DefaultDialOptions() DialOptions {
	return DialOptions{
		HandshakeTimeout: 30 * time.Second,
		ReadTimeout:      0,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// Client 建立实时会话
type Client struct {
	url     string
	apiKey  string
	options DialOptions
	dialer  *websocket.Dialer
}

// NewClient 创建客户端，baseURL 为空时使用 DefaultLiveURL
func NewClient(baseURL, apiKey string, options DialOptions) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultLiveURL
	}
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = DefaultDialOptions().HandshakeTimeout
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultDialOptions().WriteTimeout
	}
	return &Client{
		url:     baseURL,
		apiKey:  apiKey,
		options: options,
		dialer: &websocket.Dialer{
			HandshakeTimeout: options.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// HasDefaultKey 是否配置了服务端默认密钥
func (c *Client) HasDefaultKey() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

// Dial 建立连接、发送 setup 并等待 setupComplete。
// ctx 取消会中止握手。
func (c *Client) Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		key = strings.TrimSpace(c.apiKey)
	}
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	endpoint, err := withKey(c.url, key)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body)), Err: err}
		}
		return nil, fmt.Errorf("live dial failed: %w", err)
	}

	s := newSession(conn, c.options)

	if err := s.writeJSON(clientMessage{Setup: buildSetup(cfg)}); err != nil {
		s.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	if err := s.awaitSetup(ctx, c.options.HandshakeTimeout); err != nil {
		s.Close()
		return nil, err
	}

	s.start()
	log.Printf("[live] session established with model %s", cfg.Model)
	return s, nil
}

func withKey(raw, key string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid live url: %w", err)
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Session 一条已建立的实时连接。
// SendAudio/SendText 可并发调用；Receive 只能由一个 goroutine 调用。
type Session struct {
	conn    *websocket.Conn
	options DialOptions

	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

func newSession(conn *websocket.Conn, options DialOptions) *Session {
	return &Session{
		conn:    conn,
		options: options,
		closed:  make(chan struct{}),
	}
}

func (s *Session) awaitSetup(ctx context.Context, timeout time.Duration) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// 解除阻塞中的读
			s.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	if timeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	for {
		msg, err := s.read()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		if msg.Error != nil {
			return msg.Error
		}
		if msg.SetupComplete != nil {
			s.conn.SetReadDeadline(time.Time{})
			return nil
		}
	}
}

func (s *Session) start() {
	if s.options.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.options.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			s.conn.SetReadDeadline(time.Now().Add(s.options.ReadTimeout))
			return nil
		})
	}
	if s.options.PingInterval > 0 {
		go s.pingLoop()
	}
}

// pingLoop 定期发送 ping
func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.options.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// SendAudio 发送一段实时音频
func (s *Session) SendAudio(blob pcm.Blob) error {
	return s.writeJSON(clientMessage{
		RealtimeInput: &realtimeInputPayload{MediaChunks: []pcm.Blob{blob}},
	})
}

// SendText 发送一轮文本输入
func (s *Session) SendText(text string) error {
	return s.writeJSON(clientMessage{
		ClientContent: &clientContentPayload{
			Turns:        []Content{{Role: "user", Parts: []Part{{Text: text}}}},
			TurnComplete: true,
		},
	})
}

func (s *Session) writeJSON(v any) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal live message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write live message: %w", err)
	}
	return nil
}

// Receive 阻塞直到下一条服务端消息。Close 会使其返回 ErrSessionClosed。
func (s *Session) Receive() (*ServerMessage, error) {
	msg, err := s.read()
	if err != nil {
		select {
		case <-s.closed:
			return nil, ErrSessionClosed
		default:
		}
		return nil, err
	}
	if s.options.ReadTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.options.ReadTimeout))
	}
	if msg.Error != nil {
		return nil, msg.Error
	}
	return msg, nil
}

func (s *Session) read() (*ServerMessage, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, &CloseError{Code: closeErr.Code, Reason: closeErr.Text}
		}
		return nil, err
	}

	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode live message: %w", err)
	}
	return &msg, nil
}

// closeFrameTimeout 关闭帧的最长等待时间，写阻塞时 Close 最多等这么久
const closeFrameTimeout = 200 * time.Millisecond

// Close 关闭会话，可重复调用
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		// WriteControl 可与进行中的写并发，不占用 writeMu
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeFrameTimeout))
		err = s.conn.Close()
	})
	return err
}

// IsNormalClose 判断是否为正常关闭
func IsNormalClose(err error) bool {
	if err == nil || errors.Is(err, ErrSessionClosed) {
		return true
	}
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
	}
	return false
}
