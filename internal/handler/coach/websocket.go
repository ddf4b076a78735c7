package coach

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
	"github.com/zhouzirui/accent-coach/backend/internal/metrics"
	"github.com/zhouzirui/accent-coach/backend/internal/middleware"
	model "github.com/zhouzirui/accent-coach/backend/internal/model/coach"
	coachservice "github.com/zhouzirui/accent-coach/backend/internal/service/coach"
)

// Options 浏览器 websocket 的连接参数
type Options struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MicBacklog     int
	AllowedOrigins []string
}

// DefaultOptions 默认连接参数
func DefaultOptions() Options {
	return Options{
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MicBacklog:     64,
		AllowedOrigins: []string{"*"},
	}
}

// Handler 实时教练会话的处理器
type Handler struct {
	cfg      coachservice.Config
	dialer   coachservice.Dialer
	registry *Registry
	metrics  *metrics.Metrics
	options  Options
	upgrader websocket.Upgrader
}

// New 创建教练处理器
func New(cfg coachservice.Config, dialer coachservice.Dialer, registry *Registry, m *metrics.Metrics, options Options) *Handler {
	defaults := DefaultOptions()
	if options.ReadTimeout <= 0 {
		options.ReadTimeout = defaults.ReadTimeout
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = defaults.WriteTimeout
	}
	if options.PingInterval <= 0 {
		options.PingInterval = defaults.PingInterval
	}
	if options.MicBacklog <= 0 {
		options.MicBacklog = defaults.MicBacklog
	}
	if len(options.AllowedOrigins) == 0 {
		options.AllowedOrigins = defaults.AllowedOrigins
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = coachservice.DefaultConfig().InputRate
	}

	h := &Handler{
		cfg:      cfg,
		dialer:   dialer,
		registry: registry,
		metrics:  m,
		options:  options,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return middleware.AllowsOrigin(h.options.AllowedOrigins, r.Header.Get("Origin"))
		},
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return h
}

// RegisterRoutes 注册教练相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/coach", func(r chi.Router) {
		r.Get("/ws", h.handleWebSocket)
		r.Get("/sessions", h.handleListSessions)
		r.Get("/sessions/{sessionID}", h.handleGetSession)
		r.Delete("/sessions/{sessionID}", h.handleDisconnectSession)
		r.Delete("/sessions/{sessionID}/transcript", h.handleClearTranscript)
		r.Get("/sessions/{sessionID}/events", h.handleSessionEvents)
	})
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// connectRequest 客户端发起会话
type connectRequest struct {
	APIKey     string `json:"apiKey,omitempty"`
	MicGranted *bool  `json:"micGranted,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// audioChunk 客户端麦克风采样，data 为 base64 编码的 16 位 PCM
type audioChunk struct {
	Data       string `json:"data"`
	SampleRate int    `json:"sampleRate"`
}

type stateMessage struct {
	State     model.State `json:"state"`
	Listening bool        `json:"listening"`
	Stats     model.Stats `json:"stats"`
}

type transcriptMessage struct {
	Entries []model.Entry `json:"entries"`
}

// handleWebSocket 一个 websocket 连接对应一个教练会话
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.dialer == nil {
		http.Error(w, "coach service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	cl := newClient(conn, sessionID, h.options.WriteTimeout)
	defer cl.close()

	devices := newRelayDevices(cl, h.cfg.InputRate, h.options.MicBacklog)
	ctrl := coachservice.NewController(sessionID, h.cfg, h.dialer, devices, h.metrics)
	h.registry.Add(ctrl)
	defer h.registry.Remove(sessionID)

	log.Printf("[websocket] new coach connection: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snaps, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	go h.forwardSnapshots(ctx, cl, snaps)

	conn.SetReadDeadline(time.Now().Add(h.options.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.options.ReadTimeout))
		return nil
	})
	go h.pingLoop(ctx, cl)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[websocket] read error for %s: %v", sessionID, err)
			}
			log.Printf("[websocket] coach connection closed: %s", sessionID)
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.options.ReadTimeout))

		h.handleMessage(ctx, cl, ctrl, devices, &msg)
	}
}

// handleMessage 分发客户端消息
func (h *Handler) handleMessage(ctx context.Context, cl *client, ctrl *coachservice.Controller, devices *relayDevices, msg *inboundMessage) {
	switch msg.Type {
	case "connect":
		var req connectRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				h.sendError(cl, "bad_request", "invalid connect payload")
				return
			}
		}
		granted := req.MicGranted == nil || *req.MicGranted
		devices.prepare(granted, req.SampleRate)

		// Connect 阻塞到会话建立，结果通过快照推送给客户端
		go func() {
			if err := ctrl.Connect(ctx, model.ConnectOptions{APIKey: req.APIKey}); err != nil {
				log.Printf("[websocket] connect %s finished with: %v", ctrl.ID(), err)
			}
		}()

	case "audio":
		var chunk audioChunk
		if err := json.Unmarshal(msg.Data, &chunk); err != nil {
			h.sendError(cl, "bad_request", "invalid audio payload")
			return
		}
		raw, err := pcm.FromTransportText(chunk.Data)
		if err != nil {
			h.sendError(cl, string(coachservice.KindCodecError), "audio chunk is not valid base64")
			return
		}
		rate := chunk.SampleRate
		if rate <= 0 {
			rate = h.cfg.InputRate
		}
		buf, err := pcm.DecodePCM16(raw, rate, 1)
		if err != nil {
			h.sendError(cl, string(coachservice.KindCodecError), "audio chunk is not 16-bit PCM")
			return
		}
		devices.push(buf.Channels[0], rate)

	case "disconnect":
		ctrl.Disconnect()

	case "clear_transcript":
		ctrl.ClearTranscript()

	default:
		h.sendError(cl, "bad_request", "unknown message type: "+msg.Type)
	}
}

// forwardSnapshots 将状态变化转换为客户端消息
func (h *Handler) forwardSnapshots(ctx context.Context, cl *client, snaps <-chan model.Snapshot) {
	var prev *model.Snapshot
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			for _, out := range diffSnapshot(prev, snap) {
				if err := cl.send(out.Type, out.Data); err != nil {
					return
				}
			}
			prev = &snap
		}
	}
}

// diffSnapshot 只发送变化的部分；prev 为 nil 时发送全部
func diffSnapshot(prev *model.Snapshot, snap model.Snapshot) []outgoingMessage {
	var out []outgoingMessage

	if prev == nil || prev.State != snap.State || prev.Listening != snap.Listening || prev.Stats != snap.Stats {
		out = append(out, outgoingMessage{Type: "state", Data: stateMessage{
			State:     snap.State,
			Listening: snap.Listening,
			Stats:     snap.Stats,
		}})
	}

	if prev == nil || transcriptChanged(prev.Transcript, snap.Transcript) {
		entries := snap.Transcript
		if entries == nil {
			entries = []model.Entry{}
		}
		out = append(out, outgoingMessage{Type: "transcript", Data: transcriptMessage{Entries: entries}})
	}

	if snap.Error != nil && (prev == nil || prev.Error == nil || *prev.Error != *snap.Error || prev.State != snap.State) {
		out = append(out, outgoingMessage{Type: "error", Data: *snap.Error})
	}
	return out
}

func transcriptChanged(prev, next []model.Entry) bool {
	if len(prev) != len(next) {
		return true
	}
	if len(next) == 0 {
		return false
	}
	return prev[len(prev)-1].Text != next[len(next)-1].Text
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, cl *client) {
	ticker := time.NewTicker(h.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cl.ping(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sendError(cl *client, kind, message string) {
	if err := cl.send("error", model.ErrorInfo{Kind: kind, Message: message}); err != nil {
		log.Printf("[websocket] failed to send error: %v", err)
	}
}
