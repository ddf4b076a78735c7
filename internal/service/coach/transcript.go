package coach

import (
	"sync"
	"time"

	model "github.com/zhouzirui/accent-coach/backend/internal/model/coach"
)

// Transcript 按说话方合并增量转写片段
type Transcript struct {
	mu      sync.Mutex
	entries []model.Entry
	now     func() time.Time
}

// NewTranscript now 为空时使用 time.Now
func NewTranscript(now func() time.Time) *Transcript {
	if now == nil {
		now = time.Now
	}
	return &Transcript{now: now}
}

// Append 同一说话方的片段追加到最后一条，否则新开一条。空片段忽略。
// 返回是否产生了变化。
func (t *Transcript) Append(role model.Role, fragment string) bool {
	if fragment == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.entries); n > 0 && t.entries[n-1].Role == role {
		t.entries[n-1].Text += fragment
		return true
	}
	t.entries = append(t.entries, model.Entry{
		Role:      role,
		Text:      fragment,
		Timestamp: t.now(),
	})
	return true
}

// Entries 返回副本
func (t *Transcript) Entries() []model.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len 条目数
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset 清空记录
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}
