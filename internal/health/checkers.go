package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/visionward/sitewatch/internal/metrics"
	"github.com/visionward/sitewatch/internal/registry"
	"github.com/visionward/sitewatch/internal/stream"
)

// DatabaseChecker pings the descriptor and rule database
type DatabaseChecker struct {
	db *sql.DB
}

func NewDatabaseChecker(db *sql.DB) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
	}

	if c.db == nil {
		check.Status = StatusDegraded
		check.Message = "Database not configured"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// DetectorChecker probes the inference service over HTTP
type DetectorChecker struct {
	serviceURL string
	client     *http.Client
}

func NewDetectorChecker(serviceURL string) *DetectorChecker {
	return &DetectorChecker{
		serviceURL: serviceURL,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

func (c *DetectorChecker) Name() string {
	return "detector_service"
}

func (c *DetectorChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
	}

	if c.serviceURL == "" {
		check.Status = StatusDegraded
		check.Message = "Detector service URL not configured"
		return check
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL+"/health", nil)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Failed to build probe request: %v", err)
		return check
	}

	resp, err := c.client.Do(req)
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Detector service unreachable: %v", err)
		return check
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Detector service returned %d", resp.StatusCode)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Detector service OK"
	return check
}

// ScreenshotDirChecker verifies the screenshot directory is writable
type ScreenshotDirChecker struct {
	dir string
}

func NewScreenshotDirChecker(dir string) *ScreenshotDirChecker {
	return &ScreenshotDirChecker{dir: dir}
}

func (c *ScreenshotDirChecker) Name() string {
	return "screenshot_dir"
}

func (c *ScreenshotDirChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
	}

	if c.dir == "" {
		check.Status = StatusDegraded
		check.Message = "Screenshot directory not configured"
		return check
	}

	probe := filepath.Join(c.dir, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Screenshot directory not writable: %v", err)
		return check
	}
	os.Remove(probe)

	check.Status = StatusHealthy
	check.Message = "Screenshot directory writable"
	return check
}

// StreamChecker reports stream connectivity. All streams down is
// unhealthy, a partial outage is degraded. It also refreshes the
// connected-streams gauge on every check.
type StreamChecker struct {
	registry *registry.Registry
	metrics  *metrics.Metrics
}

func NewStreamChecker(reg *registry.Registry, m *metrics.Metrics) *StreamChecker {
	return &StreamChecker{registry: reg, metrics: m}
}

func (c *StreamChecker) Name() string {
	return "streams"
}

func (c *StreamChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}

	statuses := c.registry.Statuses()
	connected := 0
	for _, status := range statuses {
		if status == stream.StatusConnected {
			connected++
		}
	}

	if c.metrics != nil {
		c.metrics.StreamsConnected.Set(float64(connected))
	}

	check.Details["total"] = len(statuses)
	check.Details["connected"] = connected

	switch {
	case len(statuses) == 0:
		check.Status = StatusDegraded
		check.Message = "No streams registered"
	case connected == 0:
		check.Status = StatusUnhealthy
		check.Message = "All streams disconnected"
	case connected < len(statuses):
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d of %d streams connected", connected, len(statuses))
	default:
		check.Status = StatusHealthy
		check.Message = "All streams connected"
	}

	return check
}
