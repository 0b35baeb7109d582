package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/autograph/gnnsearch/pkg/auth"
)

func TestRequireToken(t *testing.T) {
	g, err := auth.NewTokenGuard("letmein", "")
	if err != nil {
		t.Fatalf("NewTokenGuard: %v", err)
	}
	h := RequireToken(g, nil, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		value  string
		want   int
	}{
		{"public path", "/health", "", "", http.StatusNoContent},
		{"missing token", "/trials", "", "", http.StatusUnauthorized},
		{"bearer token", "/trials", "Authorization", "Bearer letmein", http.StatusNoContent},
		{"api key header", "/trials", "X-API-Key", "letmein", http.StatusNoContent},
		{"wrong token", "/trials", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "/trials", "Authorization", "Basic letmein", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}
