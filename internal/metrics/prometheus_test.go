package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather err: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				total += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				total += metric.GetGauge().GetValue()
			}
		}
		return total
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionOpened(0.2)
	m.ChunkSent()
	m.ChunkSent()
	m.ChunkDropped()
	m.BufferScheduled(0.5)
	m.Interrupted()
	m.SessionError("quota_exceeded")
	m.SessionClosed(3)

	tests := []struct {
		name string
		want float64
	}{
		{"coach_sessions_started_total", 1},
		{"coach_active_sessions", 0},
		{"coach_audio_chunks_sent_total", 2},
		{"coach_audio_chunks_dropped_total", 1},
		{"coach_playback_audio_seconds_total", 0.5},
		{"coach_interruptions_total", 1},
		{"coach_session_errors_total", 1},
	}
	for _, tt := range tests {
		if got := gatherValue(t, reg, tt.name); got != tt.want {
			t.Fatalf("%s = %f, want %f", tt.name, got, tt.want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionOpened(1)
	m.ChunkSent()
	m.ChunkDropped()
	m.QueueDelta(1)
	m.BufferScheduled(1)
	m.Interrupted()
	m.CodecError()
	m.SessionError("x")
	m.PhraseRequest("ok", 1)
	m.SessionClosed(1)
}
