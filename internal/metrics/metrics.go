package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "price_backfill"

// Backfill holds the collectors updated by a backfill run.
type Backfill struct {
	Registry *prometheus.Registry

	items          *prometheus.CounterVec
	fetches        *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	rows           *prometheus.CounterVec
	recycles       prometheus.Counter
	backoffStreak  prometheus.Gauge
	lastRunSuccess prometheus.Gauge
}

// New registers the backfill collectors on a fresh registry.
func New() *Backfill {
	m := &Backfill{
		Registry: prometheus.NewRegistry(),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "items",
				Name:      "total",
				Help:      "Items handled, by outcome.",
			},
			[]string{"outcome"},
		),
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "fetches_total",
				Help:      "Range fetches issued, by range and status.",
			},
			[]string{"range", "status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "source",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of range fetches including rate-limit waits.",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
			},
			[]string{"range"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "rows_total",
				Help:      "Price rows written, by result.",
			},
			[]string{"result"},
		),
		recycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "session_recycles_total",
			Help:      "Source sessions discarded and rebuilt.",
		}),
		backoffStreak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "consecutive_errors",
			Help:      "Current consecutive empty-fetch streak.",
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_completed_timestamp_seconds",
			Help:      "Unix time of the last completed backfill pass.",
		}),
	}

	m.Registry.MustRegister(
		m.items,
		m.fetches,
		m.fetchDuration,
		m.rows,
		m.recycles,
		m.backoffStreak,
		m.lastRunSuccess,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// ItemDone counts an item outcome: processed, skipped or failed.
func (m *Backfill) ItemDone(outcome string) {
	m.items.WithLabelValues(outcome).Inc()
}

// FetchDone records a single range fetch.
func (m *Backfill) FetchDone(rangeKey, status string, d time.Duration) {
	m.fetches.WithLabelValues(rangeKey, status).Inc()
	m.fetchDuration.WithLabelValues(rangeKey).Observe(d.Seconds())
}

// RowsWritten counts inserted and failed rows.
func (m *Backfill) RowsWritten(inserted, failed int) {
	if inserted > 0 {
		m.rows.WithLabelValues("inserted").Add(float64(inserted))
	}
	if failed > 0 {
		m.rows.WithLabelValues("failed").Add(float64(failed))
	}
}

// SessionRecycled counts a session rebuild.
func (m *Backfill) SessionRecycled() {
	m.recycles.Inc()
}

// ErrorStreak publishes the rate gate's consecutive error count.
func (m *Backfill) ErrorStreak(n int) {
	m.backoffStreak.Set(float64(n))
}

// RunCompleted stamps the completion time of a pass.
func (m *Backfill) RunCompleted(at time.Time) {
	m.lastRunSuccess.Set(float64(at.Unix()))
}

// Handler exposes the registry over HTTP.
func (m *Backfill) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics listener until ctx is done.
func (m *Backfill) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
