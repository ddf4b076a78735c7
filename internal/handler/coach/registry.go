package coach

import (
	"sort"
	"sync"

	model "github.com/zhouzirui/accent-coach/backend/internal/model/coach"
	coachservice "github.com/zhouzirui/accent-coach/backend/internal/service/coach"
)

// Registry 在线教练会话登记表
type Registry struct {
	sessions map[string]*coachservice.Controller
	mu       sync.RWMutex
}

// NewRegistry 创建会话登记表
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*coachservice.Controller),
	}
}

// Add 登记会话
func (r *Registry) Add(ctrl *coachservice.Controller) {
	r.mu.Lock()
	old, exists := r.sessions[ctrl.ID()]
	r.sessions[ctrl.ID()] = ctrl
	r.mu.Unlock()

	// 如果已存在同 ID 会话，先断开旧会话
	if exists && old != ctrl {
		old.Disconnect()
	}
}

// Get 获取会话
func (r *Registry) Get(id string) (*coachservice.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctrl, exists := r.sessions[id]
	return ctrl, exists
}

// Remove 断开并移除会话
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	ctrl, exists := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if exists {
		ctrl.Disconnect()
	}
}

// List 返回所有会话的快照，按 ID 排序
func (r *Registry) List() []model.Snapshot {
	r.mu.RLock()
	ctrls := make([]*coachservice.Controller, 0, len(r.sessions))
	for _, ctrl := range r.sessions {
		ctrls = append(ctrls, ctrl)
	}
	r.mu.RUnlock()

	snaps := make([]model.Snapshot, 0, len(ctrls))
	for _, ctrl := range ctrls {
		snaps = append(snaps, ctrl.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].SessionID < snaps[j].SessionID })
	return snaps
}

// Len 会话数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll 断开所有会话
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ctrls := r.sessions
	r.sessions = make(map[string]*coachservice.Controller)
	r.mu.Unlock()

	for _, ctrl := range ctrls {
		ctrl.Disconnect()
	}
}
