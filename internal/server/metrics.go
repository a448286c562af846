package server

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/slipway-dev/slipway/internal/logstream"
	"github.com/slipway-dev/slipway/internal/store"
)

// linePublisher matches the publish surface of the log hub.
type linePublisher interface {
	Publish(ctx context.Context, line logstream.Line) error
}

// metrics holds the server's Prometheus instruments.
type metrics struct {
	reg          prometheus.Registerer
	releases     *prometheus.CounterVec
	buildSeconds prometheus.Histogram
	logLines     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		reg: reg,
		releases: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "slipway_releases_total",
			Help: "Finished releases by final status.",
		}, []string{"status"}),
		buildSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "slipway_build_duration_seconds",
			Help:    "Wall-clock duration of successful builds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		logLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "slipway_log_lines_total",
			Help: "Log lines routed through the server.",
		}),
	}
}

func (m *metrics) releaseFinished(status store.ReleaseStatus) {
	m.releases.WithLabelValues(string(status)).Inc()
}

func (m *metrics) buildFinished(d time.Duration) {
	m.buildSeconds.Observe(d.Seconds())
}

// trackDynos registers a gauge backed by the supervisor's live count.
func (m *metrics) trackDynos(running func() int) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "slipway_dynos_running",
		Help: "Currently supervised dynos across all apps.",
	}, func() float64 { return float64(running()) })
}

// countPublisher wraps the log hub so every routed line is counted.
func (m *metrics) countPublisher(next linePublisher) linePublisher {
	return &countingPublisher{next: next, lines: m.logLines}
}

type countingPublisher struct {
	next  linePublisher
	lines prometheus.Counter
}

func (p *countingPublisher) Publish(ctx context.Context, line logstream.Line) error {
	p.lines.Inc()
	return p.next.Publish(ctx, line)
}
