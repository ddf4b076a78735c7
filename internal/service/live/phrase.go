package live

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
)

const (
	// DefaultRESTBaseURL generateContent 接口根地址
	DefaultRESTBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// PhrasePromptPrefix 让合成保留自然的连读和语调
	PhrasePromptPrefix = "Say this high-frequency American phrase with natural rhythm, linking, and intonation: "
)

// ErrEmptyAudio 响应中没有音频
var ErrEmptyAudio = errors.New("live: response carried no audio")

// PhraseConfig 短语合成配置
type PhraseConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	Timeout time.Duration
}

// PhraseSynthesizer 通过 generateContent 将一句短语合成为 PCM
type PhraseSynthesizer struct {
	config     PhraseConfig
	httpClient *http.Client
}

// NewPhraseSynthesizer 创建短语合成客户端
func NewPhraseSynthesizer(config PhraseConfig) *PhraseSynthesizer {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = DefaultRESTBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &PhraseSynthesizer{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// PhraseAudio 一段合成好的短语音频
type PhraseAudio struct {
	Blob   pcm.Blob
	Buffer *pcm.Buffer
}

type generateContentRequest struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content Content `json:"content"`
	} `json:"candidates"`
	Error *APIError `json:"error,omitempty"`
}

// Synthesize 合成一句短语。apiKey 非空时覆盖默认密钥。
func (s *PhraseSynthesizer) Synthesize(ctx context.Context, text, apiKey string) (*PhraseAudio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("phrase text is empty")
	}

	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = strings.TrimSpace(s.config.APIKey)
	}
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	reqBody := generateContentRequest{
		Contents: []Content{{Parts: []Part{{Text: PhrasePromptPrefix + text}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if s.config.Voice != "" {
		reqBody.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: s.config.Voice}},
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal phrase request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(s.config.BaseURL, "/"),
		strings.TrimPrefix(s.config.Model, "models/"),
		url.QueryEscape(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create phrase request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("phrase request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read phrase response: %w", err)
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(body, &parsed); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("decode phrase response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			if parsed.Error.Code == 0 {
				parsed.Error.Code = resp.StatusCode
			}
			return nil, &StatusError{StatusCode: resp.StatusCode, API: parsed.Error}
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, API: &APIError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}}
	}

	for _, candidate := range parsed.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			blob := *part.InlineData
			buf, err := pcm.DecodeBlob(blob)
			if err != nil {
				return nil, err
			}
			return &PhraseAudio{Blob: blob, Buffer: buf}, nil
		}
	}
	return nil, ErrEmptyAudio
}

// StatusError REST 接口返回的非 200 响应
type StatusError struct {
	StatusCode int
	API        *APIError
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("phrase synthesis failed with status %d: %v", e.StatusCode, e.API)
}

func (e *StatusError) Unwrap() error { return e.API }
