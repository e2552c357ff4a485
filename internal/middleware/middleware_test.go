package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.POST("/v1/messages", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	r := newRouter(RequestID())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id must be generated")
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "upstream-id" {
		t.Fatalf("incoming id must be honored, got %q", got)
	}
}

func TestRecoveryRendersDialectAwareError(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.POST("/v1/messages", func(c *gin.Context) { panic("boom") })
	r.POST("/v1/chat/completions", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if gjson.Get(w.Body.String(), "error.code").String() != "panic_recovered" {
		t.Fatalf("openai envelope: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/messages", nil))
	if gjson.Get(w.Body.String(), "type").String() != "error" {
		t.Fatalf("anthropic envelope: %s", w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(CORS())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/ping", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing allow-origin header")
	}
}

func TestAPIKeyAuthStaticKeys(t *testing.T) {
	r := newRouter(APIKeyAuth(AuthConfig{StaticKeys: []string{"sk-good"}}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer sk-bad")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad key: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer sk-good")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("good bearer key: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("x-api-key", "sk-good")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("good x-api-key: status = %d", w.Code)
	}
}

func TestAPIKeyAuthOpenWhenUnconfigured(t *testing.T) {
	r := newRouter(APIKeyAuth(AuthConfig{}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("open gateway: status = %d", w.Code)
	}
}

func TestAPIKeyAuthValidatorSetsUserID(t *testing.T) {
	validator := func(ctx context.Context, key string) (any, error) {
		if key == "sk-known" {
			return "user-1", nil
		}
		return nil, errors.New("unknown key")
	}
	r := gin.New()
	r.Use(APIKeyAuth(AuthConfig{Validator: validator}))
	r.GET("/ping", func(c *gin.Context) {
		uid, _ := c.Get("user_id")
		c.String(http.StatusOK, "%v", uid)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer sk-known")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "user-1" {
		t.Fatalf("validator path: status=%d body=%q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer sk-unknown")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown key: status = %d", w.Code)
	}
}

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	r := newRouter(RateLimiter(1, 2))

	allowed, limited := 0, 0
	for i := 0; i < 6; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("x-api-key", "sk-bursty")
		r.ServeHTTP(w, req)
		switch w.Code {
		case http.StatusOK:
			allowed++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("unexpected status %d", w.Code)
		}
	}
	if allowed == 0 || limited == 0 {
		t.Fatalf("expected both outcomes, allowed=%d limited=%d", allowed, limited)
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	r := newRouter(RateLimiter(1, 1))

	drain := httptest.NewRequest(http.MethodGet, "/ping", nil)
	drain.Header.Set("x-api-key", "sk-a")
	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), drain)
	}

	w := httptest.NewRecorder()
	other := httptest.NewRequest(http.MethodGet, "/ping", nil)
	other.Header.Set("x-api-key", "sk-b")
	r.ServeHTTP(w, other)
	if w.Code != http.StatusOK {
		t.Fatalf("fresh key must not be limited, status = %d", w.Code)
	}
}
