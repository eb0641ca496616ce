package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	tests := []struct {
		name      string
		allowed   []string
		origin    string
		method    string
		wantAllow string
		wantCreds string
		wantCode  int
	}{
		{name: "explicit origin", allowed: []string{"https://app.example"}, origin: "https://app.example", method: http.MethodGet, wantAllow: "https://app.example", wantCreds: "true", wantCode: http.StatusTeapot},
		{name: "wildcard no credentials", allowed: []string{"*"}, origin: "https://x.example", method: http.MethodGet, wantAllow: "https://x.example", wantCode: http.StatusTeapot},
		{name: "rejected origin", allowed: []string{"https://app.example"}, origin: "https://evil.example", method: http.MethodGet, wantCode: http.StatusTeapot},
		{name: "preflight", allowed: []string{"*"}, origin: "https://x.example", method: http.MethodOptions, wantAllow: "https://x.example", wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Fatalf("allow-origin = %q, want %q", got, tt.wantAllow)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Fatalf("allow-credentials = %q, want %q", got, tt.wantCreds)
			}
		})
	}
}
