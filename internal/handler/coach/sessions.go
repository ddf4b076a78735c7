package coach

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/accent-coach/backend/pkg/utils"
)

// heartbeatInterval SSE 心跳间隔
const heartbeatInterval = 8 * time.Second

// SessionCount 当前在线会话数
func (h *Handler) SessionCount() int {
	return h.registry.Len()
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": h.registry.List()})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, ctrl.Snapshot())
}

// handleDisconnectSession 断开远端会话，浏览器连接保持，可以再次 connect
func (h *Handler) handleDisconnectSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	ctrl.Disconnect()
	utils.RespondJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (h *Handler) handleClearTranscript(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.registry.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	ctrl.ClearTranscript()
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionEvents 以 SSE 推送会话快照，供只读观察端使用
func (h *Handler) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ctrl, ok := h.registry.Get(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)

	ctx := r.Context()
	log.Printf("[sse] opening event stream for session=%s", sessionID)

	snaps, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing event stream for session=%s", sessionID)
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "snapshot", snap); err != nil {
				log.Printf("[sse] write failed for session=%s: %v", sessionID, err)
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]any{
				"time": t.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}
