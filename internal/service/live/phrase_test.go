package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
)

func TestPhraseSynthesize(t *testing.T) {
	audio := pcm.ToTransportText(pcm.EncodeMono(make([]float32, 2400)))

	var gotPath, gotKey string
	var gotBody generateContentRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"audio/L16;codec=pcm;rate=24000","data":"` + audio + `"}}]}}]}`))
	}))
	defer server.Close()

	synth := NewPhraseSynthesizer(PhraseConfig{BaseURL: server.URL, APIKey: "server-key", Model: "models/tts", Voice: "Kore"})
	out, err := synth.Synthesize(context.Background(), "How's it going?", "")
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}

	if gotPath != "/models/tts:generateContent" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotKey != "server-key" {
		t.Fatalf("unexpected key %s", gotKey)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Parts[0].Text != PhrasePromptPrefix+"How's it going?" {
		t.Fatalf("unexpected prompt %+v", gotBody.Contents)
	}
	if gotBody.GenerationConfig.SpeechConfig == nil || gotBody.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
		t.Fatal("expected voice Kore in request")
	}

	if out.Buffer.SampleRate != 24000 {
		t.Fatalf("expected 24000 Hz, got %d", out.Buffer.SampleRate)
	}
	if out.Buffer.Duration() != 0.1 {
		t.Fatalf("expected 0.1s clip, got %f", out.Buffer.Duration())
	}
}

func TestPhraseSynthesizeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "quota",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`,
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
					t.Fatalf("expected 429 StatusError, got %v", err)
				}
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Status != "RESOURCE_EXHAUSTED" {
					t.Fatalf("expected RESOURCE_EXHAUSTED, got %v", err)
				}
			},
		},
		{
			name:   "plain text failure",
			status: http.StatusBadGateway,
			body:   "upstream down",
			check: func(t *testing.T, err error) {
				if err == nil || !strings.Contains(err.Error(), "upstream down") {
					t.Fatalf("expected body in error, got %v", err)
				}
			},
		},
		{
			name:   "no audio",
			status: http.StatusOK,
			body:   `{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrEmptyAudio) {
					t.Fatalf("expected ErrEmptyAudio, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			synth := NewPhraseSynthesizer(PhraseConfig{BaseURL: server.URL, APIKey: "k", Model: "tts"})
			_, err := synth.Synthesize(context.Background(), "hello", "")
			tt.check(t, err)
		})
	}
}

func TestPhraseSynthesizeValidatesInput(t *testing.T) {
	synth := NewPhraseSynthesizer(PhraseConfig{Model: "tts"})
	if _, err := synth.Synthesize(context.Background(), "   ", "k"); err == nil {
		t.Fatal("expected error for empty text")
	}
	if _, err := synth.Synthesize(context.Background(), "hello", ""); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
