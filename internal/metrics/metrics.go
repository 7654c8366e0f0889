// Package metrics exposes Prometheus instrumentation for the faucet.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus collectors of the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Faucet flow metrics
	ChallengesIssuedTotal prometheus.Counter
	DecoysIssuedTotal     prometheus.Counter
	RedemptionsTotal      *prometheus.CounterVec
	RejectionsTotal       *prometheus.CounterVec
	PayoutAmountTotal     prometheus.Counter

	// Ledger metrics
	LedgerErrorsTotal prometheus.Counter
}

// New creates and registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "faucet_http_request_duration_seconds",
				Help:    "Time spent handling HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		ChallengesIssuedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "faucet_challenges_issued_total",
				Help: "Total number of challenge tokens issued",
			},
		),
		DecoysIssuedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "faucet_decoys_issued_total",
				Help: "Total number of decoy tokens returned to deny-listed recipients",
			},
		),
		RedemptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_redemptions_total",
				Help: "Total number of redemption attempts by outcome",
			},
			[]string{"outcome"},
		),
		RejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_rejections_total",
				Help: "Total number of rejected requests by reason",
			},
			[]string{"reason"},
		),
		PayoutAmountTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "faucet_payout_amount_total",
				Help: "Cumulative awarded amount in the native unit",
			},
		),
		LedgerErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "faucet_ledger_errors_total",
				Help: "Total number of failed ledger submissions",
			},
		),
	}
}

// GinMiddleware records request counts and latency per route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
