package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"social-token-chat/internal/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_AllowedOrigin(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		shouldAllow    bool
	}{
		{
			name:           "allowed origin",
			allowedOrigins: []string{"http://localhost:3000", "http://example.com"},
			requestOrigin:  "http://localhost:3000",
			shouldAllow:    true,
		},
		{
			name:           "allowed second origin",
			allowedOrigins: []string{"http://localhost:3000", "http://example.com"},
			requestOrigin:  "http://example.com",
			shouldAllow:    true,
		},
		{
			name:           "case-insensitive match",
			allowedOrigins: []string{"http://Example.com"},
			requestOrigin:  "http://example.com",
			shouldAllow:    true,
		},
		{
			name:           "disallowed origin",
			allowedOrigins: []string{"http://localhost:3000"},
			requestOrigin:  "http://malicious.com",
			shouldAllow:    false,
		},
		{
			name:           "no origin header",
			allowedOrigins: []string{"*"},
			requestOrigin:  "",
			shouldAllow:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(tt.allowedOrigins)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/0xaaa/presence", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			testutil.AssertStatusCode(t, w, http.StatusOK)
			if tt.shouldAllow {
				testutil.AssertHeader(t, w, "Access-Control-Allow-Origin", tt.requestOrigin)
				testutil.AssertHeader(t, w, "Access-Control-Allow-Methods", "GET, OPTIONS")
			} else {
				testutil.AssertHeader(t, w, "Access-Control-Allow-Origin", "")
			}
		})
	}
}

func TestCORS_WildcardEchoesOrigin(t *testing.T) {
	handler := CORS([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/0xaaa/presence", nil)
	req.Header.Set("Origin", "http://anything.example")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	testutil.AssertHeader(t, w, "Access-Control-Allow-Origin", "http://anything.example")
	testutil.AssertHeader(t, w, "Vary", "Origin")
}

func TestCORS_Preflight(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		status int
	}{
		{"allowed origin", "http://localhost:3000", http.StatusNoContent},
		{"disallowed origin", "http://malicious.com", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := CORS([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/rooms/0xaaa/presence", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			testutil.AssertStatusCode(t, w, tt.status)
			if called {
				t.Error("preflight should not reach the next handler")
			}
		})
	}
}

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"single origin", "http://localhost:3000", []string{"http://localhost:3000"}},
		{"multiple origins", "http://a.com,http://b.com", []string{"http://a.com", "http://b.com"}},
		{"trims spaces", " http://a.com , http://b.com ", []string{"http://a.com", "http://b.com"}},
		{"wildcard", "*", []string{"*"}},
		{"skips empty entries", "http://a.com,, ,", []string{"http://a.com"}},
		{"empty string", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOrigins(tt.input)
			testutil.AssertLen(t, got, len(tt.expected))
			for i := range tt.expected {
				testutil.AssertEqual(t, got[i], tt.expected[i])
			}
		})
	}
}

func BenchmarkCORS(b *testing.B) {
	handler := CORS([]string{"http://localhost:3000", "http://example.com"})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/0xaaa/presence", nil)
	req.Header.Set("Origin", "http://example.com")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
}
