// Package telemetry holds the Prometheus collectors, the OpenTelemetry tracer
// setup and the small HTTP server that exposes them.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Command results used as label values.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultExit    = "exit"
	ResultError   = "error"
)

var (
	// Interactive command metrics
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpmetest",
			Subsystem: "interactive",
			Name:      "commands_total",
			Help:      "Interactive commands by outcome",
		},
		[]string{"result"},
	)

	CommandDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "helpmetest",
			Subsystem: "interactive",
			Name:      "command_duration_seconds",
			Help:      "Wall-clock duration of interactive commands",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	AckRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "helpmetest",
			Subsystem: "interactive",
			Name:      "ack_rejections_total",
			Help:      "Commands rejected because the previous result was not acknowledged",
		},
	)

	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpmetest",
			Subsystem: "interactive",
			Name:      "sessions_started_total",
			Help:      "Interactive sessions by origin",
		},
		[]string{"origin"},
	)

	// UI channel metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpmetest",
			Subsystem: "ui",
			Name:      "notifications_total",
			Help:      "UI notifications by kind and delivery result",
		},
		[]string{"kind", "result"},
	)

	PendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "helpmetest",
			Subsystem: "ui",
			Name:      "pending_events",
			Help:      "UI events queued for the next tool response",
		},
	)

	// MCP metrics
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "helpmetest",
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "MCP tool calls by tool and outcome",
		},
		[]string{"tool", "result"},
	)

	// API client metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "helpmetest",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Remote API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordCommand counts one finished interactive command.
func RecordCommand(result string, elapsed time.Duration) {
	CommandsTotal.WithLabelValues(result).Inc()
	if elapsed > 0 {
		CommandDuration.Observe(elapsed.Seconds())
	}
}

// RecordNotification counts one UI notification delivery attempt.
func RecordNotification(kind string, err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	NotificationsTotal.WithLabelValues(kind, result).Inc()
}

// RecordToolCall counts one MCP tool call. Tool errors and protocol errors
// both count as "error".
func RecordToolCall(tool string, failed bool) {
	result := ResultSuccess
	if failed {
		result = ResultError
	}
	ToolCallsTotal.WithLabelValues(tool, result).Inc()
}

// ObserveAPIRequest records the latency of one API call. status 0 means the
// request never got a response.
func ObserveAPIRequest(method, route string, status int, elapsed time.Duration) {
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	APIRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}
