package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Probes serves the registry plus the process liveness and readiness flags.
// A nil flag always reports up.
type Probes struct {
	Registry *Registry
	Version  string
	Alive    func() bool
	Ready    func() bool
}

// Report is the body of GET /health.
type Report struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Checks    []Status `json:"checks,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// Register mounts /health, /health/live and /health/ready.
func (p Probes) Register(r gin.IRoutes) {
	r.GET("/health", p.report)
	r.GET("/health/live", probe(p.Alive, "alive", "unhealthy"))
	r.GET("/health/ready", probe(p.Ready, "ready", "not_ready"))
}

func (p Probes) report(c *gin.Context) {
	healthy, checks := p.Registry.CheckAll(c.Request.Context())
	code, status := http.StatusOK, "healthy"
	if !healthy {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, Report{
		Status:    status,
		Version:   p.Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func probe(up func() bool, ok, down string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if up != nil && !up() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": down})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": ok})
	}
}
