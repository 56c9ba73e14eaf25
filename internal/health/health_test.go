package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func grpcStatus(t *testing.T, c *Checker, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.GRPCServer().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestRunAllUp(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("db", func(context.Context) error { return nil })
	c.Register("redis", func(context.Context) error { return nil })

	report := c.Run(context.Background())

	assert.Equal(t, StatusUp, report.Status)
	assert.Equal(t, map[string]string{"db": StatusUp, "redis": StatusUp}, report.Checks)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, grpcStatus(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, grpcStatus(t, c, ServiceName))
}

func TestRunOneDown(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("db", func(context.Context) error { return nil })
	c.Register("redis", func(context.Context) error { return errors.New("connection refused") })

	report := c.Run(context.Background())

	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, StatusDown, report.Checks["redis"])
	assert.Equal(t, StatusUp, report.Checks["db"])
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, grpcStatus(t, c, ""))
}

func TestCheckTimesOut(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	report := c.Run(context.Background())

	assert.Equal(t, StatusDown, report.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegisterReplaces(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("db", func(context.Context) error { return errors.New("down") })
	c.Register("db", func(context.Context) error { return nil })

	report := c.Run(context.Background())
	assert.Equal(t, StatusUp, report.Status)
	assert.Len(t, report.Checks, 1)
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := true
	c := NewChecker(time.Second)
	c.Register("db", func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	})

	router := gin.New()
	router.GET("/health", c.Handler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUp, report.Status)

	healthy = false
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestShutdownStopsServing(t *testing.T) {
	c := NewChecker(time.Second)
	c.Run(context.Background())
	c.Shutdown()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, grpcStatus(t, c, ""))
}
