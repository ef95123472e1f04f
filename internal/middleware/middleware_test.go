package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qcom/otpguard/internal/config"
	"github.com/qcom/otpguard/internal/service"
	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireVerification(t *testing.T) {
	jwtService, err := service.NewJWTService(&config.JWTConfig{
		SecretKey:   "0123456789abcdef0123456789abcdef",
		TokenExpiry: time.Minute,
	}, discardLogger())
	if err != nil {
		t.Fatalf("jwt service: %v", err)
	}
	tok, err := jwtService.IssueVerificationToken("a@example.com", "email")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var seen *service.Claims
	h := NewAuthMiddleware(jwtService, discardLogger()).RequireVerification(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "malformed", header: "Token abc", want: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + tok.Token, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}

	if seen == nil || seen.Identifier != "a@example.com" {
		t.Fatalf("expected claims in context, got %+v", seen)
	}
}

func TestClientLimiter_RejectsOnceBurstIsSpent(t *testing.T) {
	cl := NewClientLimiter(0.01, 2, time.Minute)
	h := cl.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/otp/request", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)

		if rr.Code == http.StatusTooManyRequests && rr.Header().Get("Retry-After") == "" {
			t.Fatalf("expected Retry-After on rejection")
		}
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/otp/request", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected other client unaffected, got %d", rr.Code)
	}
}

func TestClientLimiter_CleanupRemovesIdleClients(t *testing.T) {
	cl := NewClientLimiter(10, 1, time.Millisecond)

	before := cl.get("10.0.0.1")
	time.Sleep(5 * time.Millisecond)
	cl.Cleanup()

	if after := cl.get("10.0.0.1"); before == after {
		t.Fatalf("expected limiter to be recreated after cleanup")
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	h := CORSMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/otp/request", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS headers")
	}
}

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	h := LoggingMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through, got %d", rr.Code)
	}
}
