package lesson

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/accent-coach/backend/internal/model/lesson"
	lessonservice "github.com/zhouzirui/accent-coach/backend/internal/service/lesson"
)

func setupRouter() *chi.Mux {
	r := chi.NewRouter()
	New(lessonservice.Default()).RegisterRoutes(r)
	return r
}

func TestGetLesson(t *testing.T) {
	r := setupRouter()
	req := httptest.NewRequest(http.MethodGet, "/lesson/", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var l model.Lesson
	if err := json.Unmarshal(resp.Body.Bytes(), &l); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if l.Sound != "/θ/ & /t/" || len(l.MinimalPairs) != 5 {
		t.Fatalf("unexpected lesson %+v", l)
	}
}

func TestListStepsAndPhonetics(t *testing.T) {
	r := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/lesson/steps", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var steps struct {
		Steps []model.Step `json:"steps"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &steps); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(steps.Steps) != 7 || steps.Steps[0] != model.StepOverview {
		t.Fatalf("unexpected steps %v", steps.Steps)
	}

	req = httptest.NewRequest(http.MethodGet, "/lesson/phonetics", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var phonetics struct {
		Symbols []model.PhoneticSymbol `json:"symbols"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &phonetics); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(phonetics.Symbols) != 16 {
		t.Fatalf("expected 16 symbols, got %d", len(phonetics.Symbols))
	}
}

func TestGetStep(t *testing.T) {
	r := setupRouter()

	tests := []struct {
		path       string
		wantStatus int
		wantNext   model.Step
		wantPrev   model.Step
	}{
		{"/lesson/steps/overview", http.StatusOK, model.StepMouthPosition, ""},
		{"/lesson/steps/tongue_twister", http.StatusOK, model.StepLiveConversation, model.StepEssentialPhrases},
		{"/lesson/steps/live_conversation", http.StatusOK, "", model.StepTongueTwister},
		{"/lesson/steps/sound_focus", http.StatusNotFound, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, req)

			if resp.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.Code)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var step stepResponse
			if err := json.Unmarshal(resp.Body.Bytes(), &step); err != nil {
				t.Fatalf("decode err: %v", err)
			}
			if step.Next != tt.wantNext || step.Prev != tt.wantPrev {
				t.Fatalf("unexpected navigation %+v", step)
			}
		})
	}
}
