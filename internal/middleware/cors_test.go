package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"wildcard", []string{"*"}, http.MethodGet, "http://a.test", http.StatusOK, "*"},
		{"listed", []string{"http://a.test/"}, http.MethodGet, "http://a.test", http.StatusOK, "http://a.test"},
		{"unlisted", []string{"http://a.test"}, http.MethodGet, "http://b.test", http.StatusOK, ""},
		{"preflight", []string{"*"}, http.MethodOptions, "http://a.test", http.StatusNoContent, "*"},
		{"no origin", []string{"*"}, http.MethodGet, "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/lesson", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Fatalf("expected allow origin %q, got %q", tt.wantAllow, got)
			}
		})
	}
}

func TestAllowsOrigin(t *testing.T) {
	allowed := []string{"https://coach.example.com"}
	if !AllowsOrigin(allowed, "") {
		t.Fatal("requests without origin are allowed")
	}
	if !AllowsOrigin(allowed, "https://coach.example.com/") {
		t.Fatal("listed origin must be allowed")
	}
	if AllowsOrigin(allowed, "https://evil.example.com") {
		t.Fatal("unlisted origin must be rejected")
	}
}
