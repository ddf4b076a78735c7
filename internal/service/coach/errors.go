package coach

import (
	"errors"
	"net/http"
	"strings"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/capture"
	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
	"github.com/zhouzirui/accent-coach/backend/internal/audio/playback"
	model "github.com/zhouzirui/accent-coach/backend/internal/model/coach"
	"github.com/zhouzirui/accent-coach/backend/internal/service/live"
)

// Kind 错误分类
type Kind string

const (
	KindMicPermissionDenied Kind = "mic_permission_denied"
	KindPlaybackUnavailable Kind = "playback_unavailable"
	KindCodecError          Kind = "codec_error"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindConnectFailed       Kind = "connect_failed"
	KindConnectionLost      Kind = "connection_lost"
	KindSynthesisFailed     Kind = "synthesis_failed"
)

// Phase 错误发生的阶段，决定给用户的提示
type Phase int

const (
	PhaseConnect Phase = iota // 建立会话期间
	PhaseSession              // 会话进行中
	PhasePhrase               // 短语合成
)

// Error 带分类和用户提示的错误
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

const (
	msgMicDenied       = "Microphone access was denied. Allow microphone access and try again."
	msgPlayback        = "Audio playback is unavailable on this device."
	msgCodec           = "Received audio could not be decoded."
	msgConnectQuota    = "Quota exceeded. Connect your own API key in the header to continue."
	msgConnectFailed   = "Failed to start session. Check your internet."
	msgMissingKey      = "No API key is configured. Connect your own API key in the header to continue."
	msgSessionQuota    = "Quota exceeded. Please click 'Use Own Key' in the header to continue."
	msgConnectionLost  = "Connection lost. Please try again."
	msgPhraseQuota     = "Quota exceeded. Please link your own key in the header."
	msgSynthesisFailed = "Audio failed. Try again."
)

// ClassifyError 将任意错误归类。已分类的 *Error 原样返回。
func ClassifyError(err error, phase Phase) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, capture.ErrMicPermissionDenied):
		return &Error{Kind: KindMicPermissionDenied, Message: msgMicDenied, Err: err}
	case errors.Is(err, playback.ErrPlaybackUnavailable):
		return &Error{Kind: KindPlaybackUnavailable, Message: msgPlayback, Err: err}
	case errors.Is(err, pcm.ErrCodec):
		return &Error{Kind: KindCodecError, Message: msgCodec, Err: err}
	}

	if IsQuotaError(err) {
		switch phase {
		case PhaseConnect:
			return &Error{Kind: KindQuotaExceeded, Message: msgConnectQuota, Err: err}
		case PhasePhrase:
			return &Error{Kind: KindQuotaExceeded, Message: msgPhraseQuota, Err: err}
		default:
			return &Error{Kind: KindQuotaExceeded, Message: msgSessionQuota, Err: err}
		}
	}

	switch phase {
	case PhaseConnect:
		if errors.Is(err, live.ErrMissingAPIKey) {
			return &Error{Kind: KindConnectFailed, Message: msgMissingKey, Err: err}
		}
		return &Error{Kind: KindConnectFailed, Message: msgConnectFailed, Err: err}
	case PhasePhrase:
		return &Error{Kind: KindSynthesisFailed, Message: msgSynthesisFailed, Err: err}
	default:
		return &Error{Kind: KindConnectionLost, Message: msgConnectionLost, Err: err}
	}
}

// IsQuotaError 先检查结构化的状态码，再退回到错误文本匹配
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}

	var hsErr *live.HandshakeError
	if errors.As(err, &hsErr) && hsErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var statusErr *live.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var apiErr *live.APIError
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED") {
		return true
	}
	var closeErr *live.CloseError
	if errors.As(err, &closeErr) && strings.Contains(closeErr.Reason, "RESOURCE_EXHAUSTED") {
		return true
	}

	text := strings.ToLower(err.Error())
	return strings.Contains(text, "quota") || strings.Contains(text, "429")
}

// Info 转换为对外展示的结构
func (e *Error) Info() *model.ErrorInfo {
	if e == nil {
		return nil
	}
	return &model.ErrorInfo{Kind: string(e.Kind), Message: e.Message}
}
