package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"), "keys are independent")

	now = now.Add(30 * time.Second)
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
}

func TestPerRoute_SeparateBudgets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	limiter := NewSimpleTokenBucket(1, 1).WithMessage("slow down")
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.POST("/a", limiter.PerRoute(), ok)
	r.POST("/b", limiter.PerRoute(), ok)

	hit := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, hit("/a").Code)
	assert.Equal(t, http.StatusOK, hit("/b").Code)
	w := hit("/a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"slow down"}`, w.Body.String())
}
