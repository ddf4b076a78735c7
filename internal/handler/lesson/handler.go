package lesson

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/accent-coach/backend/internal/model/lesson"
	lessonservice "github.com/zhouzirui/accent-coach/backend/internal/service/lesson"
	"github.com/zhouzirui/accent-coach/backend/pkg/utils"
)

// Handler 课程内容的HTTP处理器
type Handler struct {
	store lessonservice.Store
}

// New 创建课程处理器
func New(store lessonservice.Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册课程相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/lesson", func(r chi.Router) {
		r.Get("/", h.handleGetLesson)
		r.Get("/steps", h.handleListSteps)
		r.Get("/steps/{step}", h.handleGetStep)
		r.Get("/phonetics", h.handleListPhonetics)
	})
}

type stepResponse struct {
	Step model.Step `json:"step"`
	Next model.Step `json:"next,omitempty"`
	Prev model.Step `json:"prev,omitempty"`
}

func (h *Handler) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.Lesson())
}

func (h *Handler) handleListSteps(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"steps": h.store.Steps()})
}

// handleGetStep 返回某一步的前后导航
func (h *Handler) handleGetStep(w http.ResponseWriter, r *http.Request) {
	step := model.Step(chi.URLParam(r, "step"))

	found := false
	for _, s := range h.store.Steps() {
		if s == step {
			found = true
			break
		}
	}
	if !found {
		utils.RespondError(w, http.StatusNotFound, "step not found")
		return
	}

	resp := stepResponse{Step: step}
	if next, ok := model.Next(step); ok {
		resp.Next = next
	}
	if prev, ok := model.Prev(step); ok {
		resp.Prev = prev
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListPhonetics(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"symbols": h.store.Phonetic()})
}
