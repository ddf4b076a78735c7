package coach

import (
	"testing"
	"time"

	model "github.com/zhouzirui/accent-coach/backend/internal/model/coach"
)

func TestTranscriptMergesByRole(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	tr := NewTranscript(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	fragments := []struct {
		role model.Role
		text string
	}{
		{model.RoleUser, "Hel"},
		{model.RoleUser, "lo"},
		{model.RoleCoach, "Hi"},
		{model.RoleCoach, ""},
		{model.RoleCoach, " there"},
		{model.RoleUser, "Thanks"},
	}
	for _, f := range fragments {
		tr.Append(f.role, f.text)
	}

	want := []model.Entry{
		{Role: model.RoleUser, Text: "Hello", Timestamp: base.Add(1 * time.Second)},
		{Role: model.RoleCoach, Text: "Hi there", Timestamp: base.Add(2 * time.Second)},
		{Role: model.RoleUser, Text: "Thanks", Timestamp: base.Add(3 * time.Second)},
	}

	got := tr.Entries()
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestTranscriptIgnoresEmptyFragment(t *testing.T) {
	tr := NewTranscript(nil)
	if tr.Append(model.RoleUser, "") {
		t.Fatal("empty fragment reported a change")
	}
	if tr.Len() != 0 {
		t.Fatalf("expected no entries, got %d", tr.Len())
	}
}

func TestTranscriptEntriesIsCopy(t *testing.T) {
	tr := NewTranscript(nil)
	tr.Append(model.RoleCoach, "Good")

	entries := tr.Entries()
	entries[0].Text = "mutated"

	if tr.Entries()[0].Text != "Good" {
		t.Fatal("Entries must return a copy")
	}

	tr.Reset()
	if tr.Len() != 0 {
		t.Fatal("expected empty transcript after Reset")
	}
}
