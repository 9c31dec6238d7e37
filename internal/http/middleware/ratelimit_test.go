package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyByClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	c.Request = req

	if got := KeyByClientIP("inbound")(c); got != "inbound:203.0.113.9" {
		t.Fatalf("key = %q", got)
	}
}

func TestNewRateLimiter_BurstCoercionAndReuse(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyByClientIP("api"))
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}
	lim := rl.limiterFor("k1")
	if got := rl.limiterFor("k1"); got != lim {
		t.Fatalf("expected same limiter instance to be reused")
	}
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByClientIP("api"))
	rl.ttl = time.Nanosecond
	rl.sweepMax = 1

	rl.mu.Lock()
	rl.visitors["old"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-time.Hour)}
	rl.mu.Unlock()

	_ = rl.limiterFor("new")

	rl.mu.Lock()
	_, existsOld := rl.visitors["old"]
	_, existsNew := rl.visitors["new"]
	rl.mu.Unlock()
	if existsOld || !existsNew {
		t.Fatalf("old=%v new=%v; want evicted old and fresh new", existsOld, existsNew)
	}
}

func TestRateLimiter_Handler_AllowDenyAndScopes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	inbound := NewRateLimiter(0.5, 1, KeyByClientIP("inbound"))
	api := NewRateLimiter(0.5, 1, KeyByClientIP("api"))

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header(requestIDHeader, "rid-1"); c.Next() })
	r.POST("/inbound", inbound.Handler(), func(c *gin.Context) { c.Status(http.StatusAccepted) })
	r.GET("/quotes", api.Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })

	serve := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	if w := serve(http.MethodPost, "/inbound"); w.Code != http.StatusAccepted {
		t.Fatalf("first inbound = %d", w.Code)
	}
	w := serve(http.MethodPost, "/inbound")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second inbound = %d; want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q; want 2", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected JSON body: %v", body)
	}

	// The operator bucket is independent of the inbound one.
	if w := serve(http.MethodGet, "/quotes"); w.Code != http.StatusOK {
		t.Fatalf("api after inbound exhaustion = %d", w.Code)
	}
}
