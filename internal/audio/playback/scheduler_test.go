package playback

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/zhouzirui/accent-coach/backend/internal/audio/pcm"
)

type fakeVoice struct {
	mu      sync.Mutex
	stopped bool
	onEnded func()
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
}

func (v *fakeVoice) isStopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

type fakeOutput struct {
	clock  ManualClock
	fail   error
	starts []float64
	voices []*fakeVoice
}

func (o *fakeOutput) CurrentTime() float64 { return o.clock.Now() }

func (o *fakeOutput) Start(buf *pcm.Buffer, at float64, onEnded func()) (Voice, error) {
	if o.fail != nil {
		return nil, o.fail
	}
	v := &fakeVoice{onEnded: onEnded}
	o.starts = append(o.starts, at)
	o.voices = append(o.voices, v)
	return v, nil
}

func seconds(d float64) *pcm.Buffer {
	return pcm.NewBuffer(1000, 1, int(d*1000))
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSchedulerOrdersBackToBack(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)

	durations := []float64{1.0, 0.5, 2.0}
	want := []float64{0, 1.0, 1.5}

	for i, d := range durations {
		start, err := s.Enqueue(seconds(d))
		if err != nil {
			t.Fatalf("Enqueue %d err: %v", i, err)
		}
		if !approxEqual(start, want[i]) {
			t.Fatalf("buffer %d start = %f, want %f", i, start, want[i])
		}
	}

	for i := 1; i < len(out.starts); i++ {
		prevEnd := out.starts[i-1] + durations[i-1]
		if out.starts[i] < prevEnd-1e-9 {
			t.Fatalf("buffer %d overlaps previous: start %f < %f", i, out.starts[i], prevEnd)
		}
	}

	if !approxEqual(s.Cursor(), 3.5) {
		t.Fatalf("expected cursor 3.5, got %f", s.Cursor())
	}
	if s.Active() != 3 {
		t.Fatalf("expected 3 active voices, got %d", s.Active())
	}
}

func TestSchedulerCatchesUpWithClock(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)

	if _, err := s.Enqueue(seconds(0.5)); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}

	// network stall: the first buffer already finished
	out.clock.Set(2.0)
	start, err := s.Enqueue(seconds(0.5))
	if err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	if !approxEqual(start, 2.0) {
		t.Fatalf("expected start at clock time 2.0, got %f", start)
	}
}

func TestSchedulerInterrupt(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)

	if _, err := s.Enqueue(seconds(30)); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	if _, err := s.Enqueue(seconds(5)); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}

	out.clock.Set(0.25)
	if stopped := s.Interrupt(); stopped != 2 {
		t.Fatalf("expected 2 voices stopped, got %d", stopped)
	}

	for i, v := range out.voices {
		if !v.isStopped() {
			t.Fatalf("voice %d still playing after interrupt", i)
		}
	}
	if s.Active() != 0 {
		t.Fatalf("expected no active voices, got %d", s.Active())
	}

	start, err := s.Enqueue(seconds(1))
	if err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	if !approxEqual(start, 0.25) {
		t.Fatalf("expected next buffer at current time 0.25, got %f", start)
	}
}

func TestSchedulerNaturalCompletionRemovesVoice(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)

	if _, err := s.Enqueue(seconds(1)); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	out.voices[0].onEnded()

	if s.Active() != 0 {
		t.Fatalf("expected voice removed on completion, got %d active", s.Active())
	}
}

func TestSchedulerPlaybackUnavailable(t *testing.T) {
	out := &fakeOutput{fail: errors.New("device busy")}
	s := NewScheduler(out)

	if _, err := s.Enqueue(seconds(1)); !errors.Is(err, ErrPlaybackUnavailable) {
		t.Fatalf("expected ErrPlaybackUnavailable, got %v", err)
	}
	if s.Cursor() != 0 {
		t.Fatalf("cursor must not advance on failure, got %f", s.Cursor())
	}

	detached := NewScheduler(nil)
	if _, err := detached.Enqueue(seconds(1)); !errors.Is(err, ErrPlaybackUnavailable) {
		t.Fatalf("expected ErrPlaybackUnavailable without output, got %v", err)
	}
}

func TestSchedulerResetAndDetach(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)

	if _, err := s.Enqueue(seconds(2)); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	out.clock.Set(1)
	s.Reset()
	if s.Cursor() != 0 || s.Active() != 0 {
		t.Fatalf("expected reset scheduler, cursor=%f active=%d", s.Cursor(), s.Active())
	}

	s.Detach()
	if _, err := s.Enqueue(seconds(1)); !errors.Is(err, ErrPlaybackUnavailable) {
		t.Fatalf("expected ErrPlaybackUnavailable after detach, got %v", err)
	}
}

func TestRecorderMixesAndTruncates(t *testing.T) {
	clock := &ManualClock{}
	rec := NewRecorder(10, clock)

	buf := pcm.NewBuffer(10, 1, 10)
	for i := range buf.Channels[0] {
		buf.Channels[0][i] = 0.5
	}

	s := NewScheduler(rec)
	if _, err := s.Enqueue(buf); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	if _, err := s.Enqueue(buf); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}

	clock.Set(1.5)
	s.Interrupt()

	out := rec.Buffer()
	if out.Frames() != 20 {
		t.Fatalf("expected 20 frames on timeline, got %d", out.Frames())
	}
	for i := 0; i < 15; i++ {
		if out.Channels[0][i] != 0.5 {
			t.Fatalf("frame %d = %f, want 0.5 before interruption", i, out.Channels[0][i])
		}
	}
	for i := 15; i < 20; i++ {
		if out.Channels[0][i] != 0 {
			t.Fatalf("frame %d = %f, want silence after interruption", i, out.Channels[0][i])
		}
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}
	if _, err := s.Enqueue(buf); !errors.Is(err, ErrPlaybackUnavailable) {
		t.Fatalf("expected ErrPlaybackUnavailable on closed recorder, got %v", err)
	}
}
