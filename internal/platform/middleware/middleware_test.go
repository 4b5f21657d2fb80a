package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestIPLimiters_EvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiters := newIPLimiters(rate.Every(time.Second), 1, 10*time.Minute, func() time.Time { return now })

	first := limiters.get("10.0.0.1")
	limiters.get("10.0.0.2")
	assert.Equal(t, 2, limiters.size())
	assert.Same(t, first, limiters.get("10.0.0.1"))

	now = now.Add(6 * time.Minute)
	limiters.get("10.0.0.1")

	// 10.0.0.2 has been quiet for the full idle period; 10.0.0.1 has not.
	now = now.Add(5 * time.Minute)
	limiters.get("10.0.0.3")
	assert.Equal(t, 2, limiters.size())
	assert.Same(t, first, limiters.get("10.0.0.1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(60, 2, zap.NewNop()))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "192.0.2.7:4321"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
