package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// ToolInvocationsTotal counts MCP tool calls by tool name and outcome
	// (§ambient "Metrics").
	ToolInvocationsTotal *prometheus.CounterVec

	// ActiveSessions tracks live MCP sessions (C7).
	ActiveSessions prometheus.Gauge

	// ModuleFanoutErrorsTotal counts per-module search failures contained
	// during a CMI fan-out (§8 scenario "partial fan-out failure").
	ModuleFanoutErrorsTotal *prometheus.CounterVec

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federated_memory_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "federated_memory_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	ToolInvocationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federated_memory_tool_invocations_total",
			Help: "Total MCP tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	ActiveSessions = f.NewGauge(prometheus.GaugeOpts{
		Name: "federated_memory_active_sessions",
		Help: "Number of active MCP sessions",
	})

	ModuleFanoutErrorsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "federated_memory_module_fanout_errors_total",
			Help: "Per-module search failures contained during a CMI fan-out",
		},
		[]string{"module"},
	)

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "federated_memory_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "federated_memory_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}

// RecordToolInvocation increments ToolInvocationsTotal, tolerating calls
// before InitMetrics (e.g. in unit tests that build tool handlers directly).
func RecordToolInvocation(tool, outcome string) {
	if ToolInvocationsTotal == nil {
		return
	}
	ToolInvocationsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordModuleFanoutError increments ModuleFanoutErrorsTotal for module.
func RecordModuleFanoutError(module string) {
	if ModuleFanoutErrorsTotal == nil {
		return
	}
	ModuleFanoutErrorsTotal.WithLabelValues(module).Inc()
}
