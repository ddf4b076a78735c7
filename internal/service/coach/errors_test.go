package coach

import (
	"errors"
	"fmt"
	"testing"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/capture"
	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
	"github.com/zhouzirui/accent-coach/backend/internal/audio/playback"
	"github.com/zhouzirui/accent-coach/backend/internal/service/live"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		phase   Phase
		want    Kind
		message string
	}{
		{"quota substring connect", errors.New("Quota exceeded for model"), PhaseConnect, KindQuotaExceeded, msgConnectQuota},
		{"429 substring session", errors.New("got HTTP 429"), PhaseSession, KindQuotaExceeded, msgSessionQuota},
		{"quota case insensitive", errors.New("QUOTA"), PhaseSession, KindQuotaExceeded, msgSessionQuota},
		{"handshake 429", &live.HandshakeError{StatusCode: 429, Body: "too many"}, PhaseConnect, KindQuotaExceeded, msgConnectQuota},
		{"resource exhausted close", &live.CloseError{Code: 1011, Reason: "RESOURCE_EXHAUSTED"}, PhaseSession, KindQuotaExceeded, msgSessionQuota},
		{"api status", &live.APIError{Status: "RESOURCE_EXHAUSTED"}, PhaseSession, KindQuotaExceeded, msgSessionQuota},
		{"phrase quota", &live.StatusError{StatusCode: 429, API: &live.APIError{Code: 429}}, PhasePhrase, KindQuotaExceeded, msgPhraseQuota},
		{"generic connect", errors.New("dial tcp: timeout"), PhaseConnect, KindConnectFailed, msgConnectFailed},
		{"missing key", live.ErrMissingAPIKey, PhaseConnect, KindConnectFailed, msgMissingKey},
		{"generic session", errors.New("unexpected EOF"), PhaseSession, KindConnectionLost, msgConnectionLost},
		{"generic phrase", errors.New("boom"), PhasePhrase, KindSynthesisFailed, msgSynthesisFailed},
		{"mic denied", fmt.Errorf("open: %w", capture.ErrMicPermissionDenied), PhaseConnect, KindMicPermissionDenied, msgMicDenied},
		{"playback", fmt.Errorf("%w: busy", playback.ErrPlaybackUnavailable), PhaseSession, KindPlaybackUnavailable, msgPlayback},
		{"codec", &pcm.CodecError{Op: "decode", Err: errors.New("odd length")}, PhaseSession, KindCodecError, msgCodec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err, tt.phase)
			if got.Kind != tt.want {
				t.Fatalf("kind = %s, want %s", got.Kind, tt.want)
			}
			if got.Message != tt.message {
				t.Fatalf("message = %q, want %q", got.Message, tt.message)
			}
			if !errors.Is(got, tt.err) {
				t.Fatal("classified error must wrap the cause")
			}
		})
	}
}

func TestClassifyErrorPassthrough(t *testing.T) {
	if ClassifyError(nil, PhaseSession) != nil {
		t.Fatal("nil error must classify to nil")
	}

	original := &Error{Kind: KindConnectionLost, Message: "x"}
	if got := ClassifyError(fmt.Errorf("wrapped: %w", original), PhaseConnect); got != original {
		t.Fatalf("expected already classified error returned as is, got %v", got)
	}

	var nilErr *Error
	if nilErr.Info() != nil {
		t.Fatal("nil error must have nil info")
	}
	info := original.Info()
	if info.Kind != "connection_lost" || info.Message != "x" {
		t.Fatalf("unexpected info %+v", info)
	}
}
