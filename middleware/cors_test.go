package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serveCORS(cfg *CORSConfig, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/Playground/Vars", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	CORS(cfg)(okHandler).ServeHTTP(w, req)
	return w
}

func TestCORS_AllowAll(t *testing.T) {
	w := serveCORS(nil, http.MethodGet, "http://localhost:5173")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected *, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("expected no credentials header, got %q", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	w := serveCORS(&CORSConfig{MaxAge: 600}, http.MethodOptions, "http://localhost:5173")
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	h := w.Header()
	if got := h.Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Errorf("unexpected methods %q", got)
	}
	if got := h.Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization, Last-Event-ID" {
		t.Errorf("unexpected headers %q", got)
	}
	if got := h.Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("unexpected max age %q", got)
	}
}

func TestCORS_SpecificOrigins(t *testing.T) {
	cfg := &CORSConfig{AllowOrigins: []string{"https://play.example.com"}}

	tests := []struct {
		origin string
		want   string
	}{
		{"https://play.example.com", "https://play.example.com"},
		{"https://evil.example.com", ""},
		{"", ""},
	}
	for _, tt := range tests {
		w := serveCORS(cfg, http.MethodGet, tt.origin)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %q: expected %q, got %q", tt.origin, tt.want, got)
		}
		if got := w.Header().Get("Vary"); got != "Origin" {
			t.Errorf("origin %q: expected Vary: Origin, got %q", tt.origin, got)
		}
		if w.Code != http.StatusOK {
			t.Errorf("origin %q: request should still be served, got %d", tt.origin, w.Code)
		}
	}
}

func TestCORS_WildcardWithCredentials(t *testing.T) {
	cfg := &CORSConfig{AllowCredentials: true}

	w := serveCORS(cfg, http.MethodGet, "http://localhost:5173")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected the origin to be echoed, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("expected credentials, got %q", got)
	}

	w = serveCORS(cfg, http.MethodGet, "")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected * without an origin, got %q", got)
	}
}

func TestCORS_ExposeHeaders(t *testing.T) {
	w := serveCORS(&CORSConfig{ExposeHeaders: []string{"X-Invocation-ID"}}, http.MethodPost, "http://a")
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "X-Invocation-ID" {
		t.Errorf("unexpected expose headers %q", got)
	}
}
