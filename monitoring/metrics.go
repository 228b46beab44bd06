package monitoring

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gate-checkin/models"
)

// GateMetrics are the gate device collectors. They satisfy gate.Metrics.
type GateMetrics struct {
	verifications *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	dropped       *prometheus.CounterVec
	statsRefresh  *prometheus.CounterVec
}

func NewGateMetrics(reg prometheus.Registerer) *GateMetrics {
	factory := promauto.With(reg)
	return &GateMetrics{
		verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_verifications_total",
				Help: "Verifications that reached the backend, by origin and result",
			},
			[]string{"origin", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gate_verification_duration_seconds",
				Help:    "Time from admission to classified outcome",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"origin"},
		),
		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_dropped_candidates_total",
				Help: "Scan candidates ignored before reaching the network",
			},
			[]string{"reason"},
		),
		statsRefresh: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_stats_refresh_total",
				Help: "Capacity refreshes by status",
			},
			[]string{"status"},
		),
	}
}

func (m *GateMetrics) ObserveVerification(origin models.Origin, result string, d time.Duration) {
	m.verifications.WithLabelValues(string(origin), result).Inc()
	m.duration.WithLabelValues(string(origin)).Observe(d.Seconds())
}

func (m *GateMetrics) IncDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *GateMetrics) IncStatsRefresh(ok bool) {
	m.statsRefresh.WithLabelValues(statusLabel(ok)).Inc()
}

// ServerMetrics are the reference backend collectors.
type ServerMetrics struct {
	checkIns     *prometheus.CounterVec
	bulkCheckIns *prometheus.CounterVec
	scanned      *prometheus.GaugeVec
	sold         *prometheus.GaugeVec
}

func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	factory := promauto.With(reg)
	return &ServerMetrics{
		checkIns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkins_total",
				Help: "Single ticket check-in attempts by result",
			},
			[]string{"result"},
		),
		bulkCheckIns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulk_checkins_total",
				Help: "Bulk check-in attempts by result",
			},
			[]string{"result"},
		),
		scanned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "event_scanned",
				Help: "Tickets checked in per event",
			},
			[]string{"event_id"},
		),
		sold: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "event_sold",
				Help: "Tickets sold per event",
			},
			[]string{"event_id"},
		),
	}
}

func (m *ServerMetrics) TrackCheckIn(result string) {
	m.checkIns.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) TrackBulkCheckIn(result string) {
	m.bulkCheckIns.WithLabelValues(result).Inc()
}

// SetCapacity records the counters of one event.
func (m *ServerMetrics) SetCapacity(eventID int64, sold, scanned int64) {
	id := strconv.FormatInt(eventID, 10)
	m.sold.WithLabelValues(id).Set(float64(sold))
	m.scanned.WithLabelValues(id).Set(float64(scanned))
}

type StatsReader interface {
	Stats(ctx context.Context) (models.AdminStats, error)
}

// Monitor periodically copies ledger counters into the capacity gauges.
type Monitor struct {
	src      StatsReader
	metrics  *ServerMetrics
	interval time.Duration
}

func NewMonitor(src StatsReader, metrics *ServerMetrics, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{src: src, metrics: metrics, interval: interval}
}

// Run collects once immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Collect(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) Collect(ctx context.Context) {
	stats, err := m.src.Stats(ctx)
	if err != nil {
		slog.Warn("collect capacity metrics", "error", err)
		return
	}
	for _, ev := range stats.Events {
		m.metrics.SetCapacity(ev.EventID, ev.Sold, ev.Scanned)
	}
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
