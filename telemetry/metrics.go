// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	StreamDialAttempts  prometheus.Counter
	StreamConnects      prometheus.Counter
	StreamFailures      prometheus.Counter
	StreamHandlerErrors prometheus.Counter
	StreamEvents        *prometheus.CounterVec // label: type
	LoginCodeRequests   *prometheus.CounterVec // label: outcome
	VoiceEvents         *prometheus.CounterVec // label: direction
	AnnounceFailures    prometheus.Counter
	CommandInvocations  *prometheus.CounterVec // label: command

	// Histograms (seconds)
	StreamDispatchDuration prometheus.Observer
	LoginCodeDuration      prometheus.Observer

	// Gauges
	StreamStateGauge prometheus.Gauge // 0=disconnected,1=connecting,2=connected,3=exhausted
	StreamRetryGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		StreamDialAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_stream_dial_attempts_total", Help: "Number of event-stream connection attempts"})
		StreamConnects = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_stream_connects_total", Help: "Number of successful event-stream connections"})
		StreamFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_stream_failures_total", Help: "Number of event-stream transport failures"})
		StreamHandlerErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_stream_handler_errors_total", Help: "Number of event handler errors (loop continued)"})
		StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_stream_events_total", Help: "Events received from the stream by type"}, []string{"type"})
		LoginCodeRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_login_code_requests_total", Help: "Login code requests by outcome"}, []string{"outcome"})
		VoiceEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_voice_events_total", Help: "Voice presence changes by direction"}, []string{"direction"})
		AnnounceFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bot_voice_announce_failures_total", Help: "Voice announcements that could not be sent"})
		CommandInvocations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "bot_command_invocations_total", Help: "Slash command invocations by name"}, []string{"command"})
		StreamDispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_stream_dispatch_duration_seconds", Help: "Time spent handling one stream event", Buckets: prometheus.DefBuckets})
		LoginCodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bot_login_code_duration_seconds", Help: "Login code flow duration seconds", Buckets: prometheus.DefBuckets})
		StreamStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_stream_state", Help: "Event-stream state: 0=disconnected 1=connecting 2=connected 3=exhausted"})
		StreamRetryGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "bot_stream_retry_count", Help: "Consecutive event-stream failures"})
	})
}

// Inc increments c if it has been registered.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncLabel increments the labelled child of vec if vec has been registered.
func IncLabel(vec *prometheus.CounterVec, label string) {
	if vec != nil {
		vec.WithLabelValues(label).Inc()
	}
}

// SetStreamState records the numeric state and retry count of the event stream.
func SetStreamState(state int, retries int) {
	if StreamStateGauge != nil {
		StreamStateGauge.Set(float64(state))
	}
	if StreamRetryGauge != nil {
		StreamRetryGauge.Set(float64(retries))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
