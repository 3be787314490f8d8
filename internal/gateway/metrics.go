package gateway

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/edgegate/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics はゲートウェイのPrometheusメトリクス。
type Metrics struct {
	// registry はメトリクスの登録先。
	registry *prometheus.Registry
	// requests はルート・メソッド・ステータスごとのリクエスト数。
	requests *prometheus.CounterVec
	// requestDuration はルートごとの処理時間。
	requestDuration *prometheus.HistogramVec
	// upstreamDuration はバックエンドごとの転送時間。
	upstreamDuration *prometheus.HistogramVec
	// upstreamErrors はバックエンドごとの通信失敗数。
	upstreamErrors *prometheus.CounterVec
	// rateLimited はクラスごとのレート制限による拒否数。
	rateLimited *prometheus.CounterVec
	// rateLimitErrors はレート制限ストアの失敗数。
	rateLimitErrors prometheus.Counter
	// TelemetryDropped はキューが満杯で破棄したテレメトリの件数。
	TelemetryDropped prometheus.Counter
	// TelemetryFailed は永続ストアへの書き込みに失敗したテレメトリの件数。
	TelemetryFailed prometheus.Counter
}

// NewMetrics はregistryにメトリクスを登録する。Goランタイムとプロセスのメトリクスも登録する。
func NewMetrics(registry *prometheus.Registry) *Metrics {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests handled by the gateway",
		}, []string{"route", "method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Time spent handling requests, including the backend call",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_duration_seconds",
			Help:    "Time spent waiting for backend responses",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
		upstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_errors_total",
			Help: "Backend calls that failed at the transport level",
		}, []string{"backend", "kind"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"class"}),
		rateLimitErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ratelimit_errors_total",
			Help: "Rate limiter store failures (requests were admitted)",
		}),
		TelemetryDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_telemetry_dropped_total",
			Help: "Telemetry entries dropped because the queue was full",
		}),
		TelemetryFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_telemetry_write_failures_total",
			Help: "Telemetry entries that could not be written to the durable store",
		}),
	}
}

// middleware はリクエスト数と処理時間を記録するGinミドルウェアを返す。
func (m *Metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.GetString(middleware.ContextKeyRoute)
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// handler は /metrics のハンドラを返す。
func (m *Metrics) handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
}
