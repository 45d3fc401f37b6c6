package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var (
	paymentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "Total checkout attempts by payment method",
		},
		[]string{"method"},
	)

	paymentStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_transitions_total",
			Help: "Total payment status transitions",
		},
		[]string{"method", "status"},
	)

	reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Total provider reconciliations by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	ticketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Total ticket credentials issued",
		},
		[]string{"event", "category"},
	)

	issuanceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticket_issuance_failures_total",
			Help: "Approved payments whose issuance needed manual reconciliation",
		},
	)

	validations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_validations_total",
			Help: "Total door validation attempts by outcome",
		},
		[]string{"event", "outcome"},
	)

	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Duration of payment provider API calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation"},
	)

	serialCounters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_serial_counters_total",
			Help: "Per-event serial counters currently tracked in redis",
		},
	)
)

func RecordPaymentCreated(method string) {
	paymentsCreated.WithLabelValues(method).Inc()
}

func RecordPaymentStatus(method, status string) {
	paymentStatus.WithLabelValues(method, status).Inc()
}

func RecordReconciliation(source, outcome string) {
	reconciliations.WithLabelValues(source, outcome).Inc()
}

func RecordTicketIssued(event, category string) {
	ticketsIssued.WithLabelValues(event, category).Inc()
}

func RecordIssuanceFailure() {
	issuanceFailures.Inc()
}

func RecordValidation(event, outcome string) {
	validations.WithLabelValues(event, outcome).Inc()
}

func TrackProviderRequest(operation string, duration time.Duration) {
	providerRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()
		keys, _ := m.redis.Keys(ctx, "serial_seq:*").Result()
		serialCounters.Set(float64(len(keys)))
	}
}

// ServeOps runs the operational listener (metrics and health) on its own
// port, away from the public API.
func (m *Monitor) ServeOps(port string) error {
	e := echo.New()

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		if err := m.redis.Ping(ctx).Err(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "redis": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	slog.Info("ops listener starting", "port", port)
	return e.Start(fmt.Sprintf(":%s", port))
}
