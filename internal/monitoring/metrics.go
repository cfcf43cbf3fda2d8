package monitoring

import (
	"github.com/iotaledger/hive.go/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/service"
)

const namespace = "claimescrow"

const (
	resultSuccess  = "success"
	resultRejected = "rejected"
)

// MetricsCollector collects and exposes claim escrow metrics
type MetricsCollector struct {
	*logger.WrappedLogger

	// Operation metrics
	operationsTotal *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec

	// Escrow metrics
	pendingClaims prometheus.Gauge
	claimLatency  prometheus.Histogram
	attemptsUsed  prometheus.Histogram
	sweptClaims   prometheus.Counter
	purgedTickets prometheus.Counter

	// Alert metrics
	alertsTriggered *prometheus.CounterVec
	alertsResolved  *prometheus.CounterVec
}

// NewMetricsCollector registers the claim escrow collectors with registerer.
func NewMetricsCollector(log *logger.Logger, registerer prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registerer)

	return &MetricsCollector{
		WrappedLogger: logger.NewWrappedLogger(log),

		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "operations",
			Name:      "total",
			Help:      "Total number of escrow operations by outcome",
		}, []string{"operation", "result"}),

		rejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "operations",
			Name:      "rejections_total",
			Help:      "Total number of rejected escrow operations by error kind",
		}, []string{"operation", "kind"}),

		pendingClaims: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "pending",
			Help:      "Number of escrows waiting to be claimed",
		}),

		claimLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "latency_seconds",
			Help:      "Time between purchase and claim completion",
			Buckets:   []float64{60, 300, 900, 3600, 6 * 3600, 24 * 3600, 72 * 3600, 7 * 24 * 3600, 30 * 24 * 3600},
		}),

		attemptsUsed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "attempts_used",
			Help:      "Claim attempts spent on escrows that were fulfilled",
			Buckets:   prometheus.LinearBuckets(1, 1, escrow.DefaultMaxClaimAttempts),
		}),

		sweptClaims: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "expired_total",
			Help:      "Total number of escrows expired by the sweeper",
		}),

		purgedTickets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "tickets_purged_total",
			Help:      "Total number of stale claim tickets purged",
		}),

		alertsTriggered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "triggered_total",
			Help:      "Total number of alerts triggered",
		}, []string{"severity", "type"}),

		alertsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "resolved_total",
			Help:      "Total number of alerts resolved",
		}, []string{"severity", "type"}),
	}
}

// Attach hooks the collector to the service events. The returned function
// detaches it again.
func (mc *MetricsCollector) Attach(events *service.Events) (detach func()) {
	opHook := events.Operation.Hook(mc.RecordOperation)
	sweepHook := events.Swept.Hook(mc.RecordSweep)

	return func() {
		opHook.Unhook()
		sweepHook.Unhook()
	}
}

// RecordOperation records the outcome of one escrow operation.
func (mc *MetricsCollector) RecordOperation(ev *service.OperationEvent) {
	op := string(ev.Operation)

	if !ev.Succeeded() {
		mc.operationsTotal.WithLabelValues(op, resultRejected).Inc()
		mc.rejectionsTotal.WithLabelValues(op, escrow.KindOf(ev.Err).String()).Inc()
		return
	}
	mc.operationsTotal.WithLabelValues(op, resultSuccess).Inc()

	switch ev.Operation {
	case service.OpCreateClaim:
		mc.pendingClaims.Inc()
	case service.OpCompleteClaim:
		mc.pendingClaims.Dec()
		if ev.Claim != nil {
			mc.claimLatency.Observe(ev.Claim.ClaimedAt.Sub(ev.Claim.PurchasedAt).Seconds())
			mc.attemptsUsed.Observe(float64(ev.Claim.ClaimAttempts))
		}
	case service.OpCancelClaim, service.OpExpireClaim:
		mc.pendingClaims.Dec()
	}
}

// RecordSweep resynchronizes the pending gauge with the ledger.
func (mc *MetricsCollector) RecordSweep(result *service.SweepResult) {
	mc.pendingClaims.Set(float64(result.PendingRemains))
	mc.purgedTickets.Add(float64(result.TicketsPurged))
	mc.sweptClaims.Add(float64(result.Expired))
}

// RecordAlert records an alert event
func (mc *MetricsCollector) RecordAlert(severity AlertSeverity, alertType AlertType, triggered bool) {
	if triggered {
		mc.alertsTriggered.WithLabelValues(string(severity), string(alertType)).Inc()
	} else {
		mc.alertsResolved.WithLabelValues(string(severity), string(alertType)).Inc()
	}
}
