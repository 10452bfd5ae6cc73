package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestValidateURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{url: "https://example.com/invoice.pdf"},
		{url: "http://8.8.8.8/a.pdf"},
		{url: "", wantErr: true},
		{url: "ftp://example.com/a.pdf", wantErr: true},
		{url: "file:///etc/passwd", wantErr: true},
		{url: "http://localhost:8080/a.pdf", wantErr: true},
		{url: "http://127.0.0.1/a.pdf", wantErr: true},
		{url: "http://[::1]/a.pdf", wantErr: true},
		{url: "http://10.1.2.3/a.pdf", wantErr: true},
		{url: "http://172.20.0.5/a.pdf", wantErr: true},
		{url: "http://192.168.1.1/a.pdf", wantErr: true},
		{url: "http://169.254.169.254/latest/meta-data", wantErr: true},
		{url: "http://0.0.0.0/a.pdf", wantErr: true},
		{url: "http://224.0.0.1/a.pdf", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestIsInternalIP(t *testing.T) {
	t.Parallel()

	internal := []string{"127.0.0.1", "::1", "10.0.0.1", "172.16.0.1", "192.168.0.1", "169.254.169.254", "fe80::1", "fc00::1", "0.0.0.0", "::", "239.1.1.1"}
	public := []string{"8.8.8.8", "1.1.1.1", "2606:4700:4700::1111"}
	for _, s := range internal {
		if !IsInternalIP(net.ParseIP(s)) {
			t.Errorf("expected %s to be internal", s)
		}
	}
	for _, s := range public {
		if IsInternalIP(net.ParseIP(s)) {
			t.Errorf("expected %s to be public", s)
		}
	}
}

func TestValidateFingerprint(t *testing.T) {
	t.Parallel()

	if err := ValidateFingerprint(strings.Repeat("a1", 32)); err != nil {
		t.Errorf("expected valid fingerprint, got %v", err)
	}
	for _, bad := range []string{"", "abc", strings.Repeat("A1", 32), strings.Repeat("g", 64), strings.Repeat("a", 65)} {
		if err := ValidateFingerprint(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestValidateLimitOffset(t *testing.T) {
	t.Parallel()

	for in, want := range map[int]int{-1: 20, 0: 20, 5: 5, 100: 100, 1000: 100} {
		if got := ValidateLimit(in); got != want {
			t.Errorf("ValidateLimit(%d) = %d, want %d", in, got, want)
		}
	}
	if got := ValidateOffset(-5); got != 0 {
		t.Errorf("ValidateOffset(-5) = %d, want 0", got)
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(ClientFromContext(r.Context())))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()

	h := APIKeyAuth(map[string]string{"k-123": "frontend"})(okHandler())

	tests := []struct {
		name       string
		path       string
		header     string
		value      string
		wantStatus int
		wantClient string
	}{
		{name: "bearer key", path: "/analyze", header: "Authorization", value: "Bearer k-123", wantStatus: http.StatusOK, wantClient: "frontend"},
		{name: "x-api-key", path: "/results", header: "X-API-Key", value: "k-123", wantStatus: http.StatusOK, wantClient: "frontend"},
		{name: "wrong key", path: "/analyze", header: "Authorization", value: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "missing key", path: "/analyze", wantStatus: http.StatusUnauthorized},
		{name: "health is open", path: "/health", wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != tt.wantClient {
				t.Errorf("expected client %q, got %q", tt.wantClient, rec.Body.String())
			}
		})
	}

	t.Run("key with empty client name is accepted", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/analyze", nil)
		req.Header.Set("X-API-Key", "anon-key")
		rec := httptest.NewRecorder()
		APIKeyAuth(map[string]string{"anon-key": ""})(okHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("no keys disables auth", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		APIKeyAuth(nil)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analyze", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}

func TestTokenBucket(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(2, 1)
	now := tb.lastRefill
	if !tb.allowAt(now) || !tb.allowAt(now) {
		t.Fatal("expected the first two requests to pass")
	}
	if tb.allowAt(now) {
		t.Fatal("expected the bucket to be empty")
	}
	if !tb.allowAt(now.Add(1100 * time.Millisecond)) {
		t.Error("expected a token after one second")
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(NewRateLimiter(ctx, 1, 0.001))(okHandler())

	do := func(path, addr string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := do("/analyze", "1.2.3.4:1000"); got != http.StatusOK {
		t.Fatalf("expected 200, got %d", got)
	}
	// same ip, different port shares the bucket
	if got := do("/analyze", "1.2.3.4:2000"); got != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", got)
	}
	if got := do("/analyze", "5.6.7.8:1000"); got != http.StatusOK {
		t.Errorf("expected a separate bucket per ip, got %d", got)
	}
	if got := do("/health", "1.2.3.4:1000"); got != http.StatusOK {
		t.Errorf("health must bypass the limiter, got %d", got)
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

	m.AnalysisStarted()
	m.AnalysisFinished(true, nil)
	m.AnalysisStarted()
	m.AnalysisFinished(false, errors.New("visual stage failed"))

	rec := httptest.NewRecorder()
	m.Handler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	var snap map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	want := map[string]float64{
		"requests_total":   2,
		"requests_success": 1,
		"requests_failed":  1,
		"analyses_total":   2,
		"analyses_cached":  1,
		"analyses_failed":  1,
		"analyses_running": 0,
	}
	for k, v := range want {
		if snap[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, snap[k])
		}
	}
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   map[string]HealthChecker
		wantStatus int
	}{
		{
			name:       "all healthy",
			checkers:   map[string]HealthChecker{"database": CheckerFunc(func(context.Context) error { return nil })},
			wantStatus: http.StatusOK,
		},
		{
			name: "one failing",
			checkers: map[string]HealthChecker{
				"database": CheckerFunc(func(context.Context) error { return nil }),
				"storage":  CheckerFunc(func(context.Context) error { return errors.New("bucket missing") }),
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			HealthHandler(tt.checkers)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var hs HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&hs); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(hs.Checks) != len(tt.checkers) {
				t.Errorf("expected %d checks, got %d", len(tt.checkers), len(hs.Checks))
			}
		})
	}
}
