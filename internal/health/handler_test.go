package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	err error
}

func (f *fakeChecker) Ping(ctx context.Context) error {
	return f.err
}

func TestLiveness(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/live", nil)

	handler.Liveness(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
	assert.Contains(t, w.Body.String(), "timestamp")
}

func TestReadiness_NilDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "ready")
	assert.Contains(t, body, "store")
	assert.Contains(t, body, "queue")
	assert.Contains(t, body, "healthy")
}

func TestReadiness_StoreUnhealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(&fakeChecker{err: errors.New("connection refused")}, &fakeChecker{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "unavailable")
	assert.Contains(t, body, "unhealthy")
}

func TestReadiness_QueueUnhealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(&fakeChecker{}, &fakeChecker{err: errors.New("timeout")})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadiness_AllHealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(&fakeChecker{}, &fakeChecker{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "ready")
	assert.NotContains(t, body, "unhealthy")
}
