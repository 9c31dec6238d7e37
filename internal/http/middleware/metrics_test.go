package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsByRouteAndFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/quotes/:id", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.POST("/inbound", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	baseQuote := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/quotes/:id", "200"))
	baseInbound := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/inbound", "202"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404"))

	for _, p := range []string{"/quotes/a", "/quotes/b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/inbound", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/quotes/:id", "200")); got != baseQuote+2 {
		t.Fatalf("route counter = %v; want %v (ids must not become labels)", got, baseQuote+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("POST", "/inbound", "202")); got != baseInbound+1 {
		t.Fatalf("inbound counter = %v; want %v", got, baseInbound+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404")); got != base404+1 {
		t.Fatalf("404 fallback counter = %v; want %v", got, base404+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}
