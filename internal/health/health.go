// Package health runs dependency checks and reports them over HTTP and the
// standard gRPC health service.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported next to the overall "".
const ServiceName = "watchparty.Rooms"

const (
	StatusUp   = "up"
	StatusDown = "down"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// Report is the outcome of one round of checks.
type Report struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Checker holds the named checks and mirrors their outcome into a gRPC
// health server.
type Checker struct {
	mu      sync.RWMutex
	names   []string
	checks  map[string]Check
	timeout time.Duration
	server  *health.Server
	now     func() time.Time
}

// NewChecker returns a Checker whose checks time out after timeout each.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		checks:  map[string]Check{},
		timeout: timeout,
		server:  health.NewServer(),
		now:     time.Now,
	}
}

// Register adds a named check. Registering a name twice replaces the check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.checks[name]; !ok {
		c.names = append(c.names, name)
	}
	c.checks[name] = check
}

// GRPCServer returns the health server to register on a grpc.Server.
func (c *Checker) GRPCServer() healthpb.HealthServer {
	return c.server
}

// Run executes every check and updates the gRPC serving status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := append([]string(nil), c.names...)
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = c.checks[name]
	}
	c.mu.RUnlock()

	results := make([]error, len(names))
	var wg sync.WaitGroup
	for i := range checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			results[i] = checks[i](checkCtx)
		}(i)
	}
	wg.Wait()

	report := Report{
		Status:    StatusUp,
		Checks:    make(map[string]string, len(names)),
		Timestamp: c.now().UTC().Format(time.RFC3339),
	}
	for i, name := range names {
		if results[i] != nil {
			log.Warn().Err(results[i]).Str("check", name).Msg("health check failed")
			report.Checks[name] = StatusDown
			report.Status = StatusDown
			continue
		}
		report.Checks[name] = StatusUp
	}

	status := healthpb.HealthCheckResponse_SERVING
	if report.Status != StatusUp {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
	return report
}

// Watch runs the checks every interval until ctx is done.
func (c *Checker) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Run(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to every gRPC health client.
func (c *Checker) Shutdown() {
	c.server.Shutdown()
}

// Handler serves the report: 200 when every check passes, 503 otherwise.
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		report := c.Run(ctx.Request.Context())
		code := http.StatusOK
		if report.Status != StatusUp {
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, report)
	}
}
