package live

import (
	"strings"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
)

// SessionConfig 描述一次实时会话的开场配置
type SessionConfig struct {
	Model             string
	Voice             string
	SystemInstruction string
	// 双向转写，对应 inputAudioTranscription / outputAudioTranscription
	InputTranscription  bool
	OutputTranscription bool
	// 覆盖客户端默认 API Key（用户自带密钥）
	APIKey string
}

type clientMessage struct {
	Setup         *setupPayload         `json:"setup,omitempty"`
	RealtimeInput *realtimeInputPayload `json:"realtimeInput,omitempty"`
	ClientContent *clientContentPayload `json:"clientContent,omitempty"`
}

type setupPayload struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *Content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type realtimeInputPayload struct {
	MediaChunks []pcm.Blob `json:"mediaChunks"`
}

type clientContentPayload struct {
	Turns        []Content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// Content 是一轮对话内容
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part 可以是文本或内联数据
type Part struct {
	Text       string    `json:"text,omitempty"`
	InlineData *pcm.Blob `json:"inlineData,omitempty"`
}

// ServerMessage 服务端下发的消息，字段按需出现
type ServerMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *ServerContent `json:"serverContent,omitempty"`
	GoAway        *GoAway        `json:"goAway,omitempty"`
	Error         *APIError      `json:"error,omitempty"`
}

// ServerContent 模型输出与转写
type ServerContent struct {
	ModelTurn           *Content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// Transcription 一段增量转写
type Transcription struct {
	Text string `json:"text"`
}

// GoAway 服务端即将断开的通知
type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

// APIError 是 Google API 的错误包
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return e.Status + ": " + e.Message
	}
	return e.Message
}

// AudioBlobs 返回模型回合中的所有内联音频
func (m *ServerMessage) AudioBlobs() []pcm.Blob {
	if m == nil || m.ServerContent == nil || m.ServerContent.ModelTurn == nil {
		return nil
	}
	var blobs []pcm.Blob
	for _, part := range m.ServerContent.ModelTurn.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" && strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
			blobs = append(blobs, *part.InlineData)
		}
	}
	return blobs
}

// InputText 用户侧转写片段
func (m *ServerMessage) InputText() (string, bool) {
	if m == nil || m.ServerContent == nil || m.ServerContent.InputTranscription == nil {
		return "", false
	}
	return m.ServerContent.InputTranscription.Text, true
}

// OutputText 教练侧转写片段
func (m *ServerMessage) OutputText() (string, bool) {
	if m == nil || m.ServerContent == nil || m.ServerContent.OutputTranscription == nil {
		return "", false
	}
	return m.ServerContent.OutputTranscription.Text, true
}

// Interrupted 用户插话打断了模型输出
func (m *ServerMessage) Interrupted() bool {
	return m != nil && m.ServerContent != nil && m.ServerContent.Interrupted
}

// TurnComplete 模型本轮输出结束
func (m *ServerMessage) TurnComplete() bool {
	return m != nil && m.ServerContent != nil && m.ServerContent.TurnComplete
}

func buildSetup(cfg SessionConfig) *setupPayload {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	setup := &setupPayload{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.InputTranscription {
		setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		setup.OutputAudioTranscription = &struct{}{}
	}
	return setup
}
