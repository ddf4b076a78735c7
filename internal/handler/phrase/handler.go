package phrase

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
	"github.com/zhouzirui/accent-coach/backend/internal/metrics"
	coachservice "github.com/zhouzirui/accent-coach/backend/internal/service/coach"
	"github.com/zhouzirui/accent-coach/backend/internal/service/live"
	"github.com/zhouzirui/accent-coach/backend/pkg/utils"
)

// Synthesizer 短语合成接口
type Synthesizer interface {
	Synthesize(ctx context.Context, text, apiKey string) (*live.PhraseAudio, error)
}

// Handler 短语发音的HTTP处理器
type Handler struct {
	synth   Synthesizer
	metrics *metrics.Metrics
}

// New 创建短语处理器，metrics 可以为 nil
func New(synth Synthesizer, m *metrics.Metrics) *Handler {
	return &Handler{synth: synth, metrics: m}
}

// RegisterRoutes 注册短语相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/phrases/synthesize", h.handleSynthesize)
}

type synthesizeRequest struct {
	Text   string `json:"text"`
	APIKey string `json:"apiKey,omitempty"`
}

type synthesizeResponse struct {
	AudioData  string `json:"audioData"`
	MimeType   string `json:"mimeType"`
	SampleRate int    `json:"sampleRate"`
	DurationMs int64  `json:"durationMs"`
}

// handleSynthesize 合成一句短语；?format=wav 时直接返回 WAV 文件
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(r.Header.Get("X-Api-Key"))
	}

	start := time.Now()
	audio, err := h.synth.Synthesize(r.Context(), req.Text, apiKey)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		h.respondSynthesisError(w, err, elapsed)
		return
	}
	h.metrics.PhraseRequest("ok", elapsed)

	if r.URL.Query().Get("format") == "wav" {
		wav, err := pcm.EncodeWAV(audio.Buffer)
		if err != nil {
			log.Printf("[phrase] encode wav failed: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to encode audio")
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(wav); err != nil {
			log.Printf("[phrase] write wav failed: %v", err)
		}
		return
	}

	utils.RespondJSON(w, http.StatusOK, synthesizeResponse{
		AudioData:  audio.Blob.Data,
		MimeType:   audio.Blob.MIMEType,
		SampleRate: audio.Buffer.SampleRate,
		DurationMs: int64(math.Round(audio.Buffer.Duration() * 1000)),
	})
}

func (h *Handler) respondSynthesisError(w http.ResponseWriter, err error, elapsed float64) {
	classified := coachservice.ClassifyError(err, coachservice.PhasePhrase)
	log.Printf("[phrase] synthesis failed (%s): %v", classified.Kind, err)

	status := http.StatusBadGateway
	outcome := "error"
	switch {
	case classified.Kind == coachservice.KindQuotaExceeded:
		status = http.StatusTooManyRequests
		outcome = "quota"
	case errors.Is(err, live.ErrMissingAPIKey):
		status = http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	h.metrics.PhraseRequest(outcome, elapsed)

	utils.RespondErrorKind(w, status, string(classified.Kind), classified.Message)
}
