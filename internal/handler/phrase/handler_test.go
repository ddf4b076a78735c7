package phrase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
	"github.com/zhouzirui/accent-coach/backend/internal/metrics"
	"github.com/zhouzirui/accent-coach/backend/internal/service/live"
	"github.com/zhouzirui/accent-coach/backend/pkg/utils"
)

type fakeSynth struct {
	audio   *live.PhraseAudio
	err     error
	gotText string
	gotKey  string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, apiKey string) (*live.PhraseAudio, error) {
	f.gotText = text
	f.gotKey = apiKey
	return f.audio, f.err
}

func newAudio(t *testing.T) *live.PhraseAudio {
	t.Helper()
	samples := make([]float32, 2400)
	for i := range samples {
		samples[i] = 0.25
	}
	blob := pcm.NewBlob(pcm.EncodeMono(samples), 24000)
	buf, err := pcm.DecodeBlob(blob)
	if err != nil {
		t.Fatalf("DecodeBlob err: %v", err)
	}
	return &live.PhraseAudio{Blob: blob, Buffer: buf}
}

func setupRouter(synth Synthesizer, m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()
	New(synth, m).RegisterRoutes(r)
	return r
}

func postJSON(r http.Handler, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestSynthesizeSuccess(t *testing.T) {
	synth := &fakeSynth{audio: newAudio(t)}
	r := setupRouter(synth, nil)

	resp := postJSON(r, "/phrases/synthesize", map[string]string{"text": "  Take it easy!  "}, map[string]string{"X-Api-Key": "user-key"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if synth.gotText != "Take it easy!" || synth.gotKey != "user-key" {
		t.Fatalf("unexpected call text=%q key=%q", synth.gotText, synth.gotKey)
	}

	var body synthesizeResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if body.SampleRate != 24000 || body.DurationMs != 100 || body.MimeType != "audio/pcm;rate=24000" {
		t.Fatalf("unexpected response %+v", body)
	}
	if body.AudioData == "" {
		t.Fatal("expected audio data")
	}
}

func TestSynthesizeWAV(t *testing.T) {
	r := setupRouter(&fakeSynth{audio: newAudio(t)}, nil)

	resp := postJSON(r, "/phrases/synthesize?format=wav", map[string]string{"text": "How's it going?"}, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Header().Get("Content-Type") != "audio/wav" {
		t.Fatalf("unexpected content type %s", resp.Header().Get("Content-Type"))
	}
	buf, err := pcm.DecodeWAV(resp.Body.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV err: %v", err)
	}
	if buf.Frames() != 2400 {
		t.Fatalf("expected 2400 frames, got %d", buf.Frames())
	}
}

func TestSynthesizeErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		err        error
		wantStatus int
		wantKind   string
	}{
		{
			name:       "quota",
			body:       map[string]string{"text": "hi"},
			err:        &live.StatusError{StatusCode: 429, API: &live.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}},
			wantStatus: http.StatusTooManyRequests,
			wantKind:   "quota_exceeded",
		},
		{
			name:       "missing key",
			body:       map[string]string{"text": "hi"},
			err:        live.ErrMissingAPIKey,
			wantStatus: http.StatusUnauthorized,
			wantKind:   "synthesis_failed",
		},
		{
			name:       "upstream failure",
			body:       map[string]string{"text": "hi"},
			err:        errors.New("connection reset"),
			wantStatus: http.StatusBadGateway,
			wantKind:   "synthesis_failed",
		},
		{
			name:       "empty text",
			body:       map[string]string{"text": "   "},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(&fakeSynth{err: tt.err}, nil)
			resp := postJSON(r, "/phrases/synthesize", tt.body, nil)
			if resp.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.Code)
			}
			if tt.wantKind == "" {
				return
			}
			var body utils.ErrorBody
			if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode err: %v", err)
			}
			if body.Kind != tt.wantKind || body.Error == "" {
				t.Fatalf("unexpected error body %+v", body)
			}
		})
	}
}

func TestSynthesizeRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := setupRouter(&fakeSynth{err: &live.APIError{Code: 429, Message: "quota"}}, m)

	postJSON(r, "/phrases/synthesize", map[string]string{"text": "hi"}, nil)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather err: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "coach_phrase_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetValue() == "quota" && metric.GetCounter().GetValue() == 1 {
					return
				}
			}
		}
	}
	t.Fatal("expected quota outcome to be counted")
}
