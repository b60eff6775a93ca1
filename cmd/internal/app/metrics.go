package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector aggregates Carelink runtime metrics. It satisfies the
// consumer-side interfaces declared by the realtime and notify packages so
// those packages never import prometheus directly.
type MetricsCollector struct {
	registry *prometheus.Registry

	wsActive   prometheus.Gauge
	wsOpened   prometheus.Counter
	wsEvicted  prometheus.Counter
	notifPush  prometheus.Counter
	notifDefer prometheus.Counter
	notifDrop  prometheus.Counter

	refreshRotated   prometheus.Counter
	rotationConflict prometheus.Counter
	cleanupRemoved   *prometheus.CounterVec
}

// NewMetricsCollector builds the collector and its private registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &MetricsCollector{
		registry: reg,
		wsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carelink_ws_active_connections",
			Help: "Currently registered realtime connections.",
		}),
		wsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_ws_opened_total",
			Help: "Accepted realtime connections.",
		}),
		wsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_ws_evicted_total",
			Help: "Connections superseded by a newer sign-in.",
		}),
		notifPush: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_notifications_pushed_total",
			Help: "Notifications delivered to a live connection.",
		}),
		notifDefer: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_notifications_deferred_total",
			Help: "Notifications persisted for an offline recipient.",
		}),
		notifDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_notifications_dropped_total",
			Help: "Live pushes refused by a saturated send queue.",
		}),
		refreshRotated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_auth_refresh_rotations_total",
			Help: "Successful refresh credential exchanges.",
		}),
		rotationConflict: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_auth_rotation_conflicts_total",
			Help: "Rotation attempts that lost to a concurrent exchange or reused a revoked credential.",
		}),
		cleanupRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_auth_cleanup_removed_total",
			Help: "Credential rows removed by the expiry sweeper.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.wsActive,
		c.wsOpened,
		c.wsEvicted,
		c.notifPush,
		c.notifDefer,
		c.notifDrop,
		c.refreshRotated,
		c.rotationConflict,
		c.cleanupRemoved,
	)
	return c
}

// realtime.Metrics

func (c *MetricsCollector) WSConnected() {
	c.wsActive.Inc()
	c.wsOpened.Inc()
}

func (c *MetricsCollector) WSDisconnected() { c.wsActive.Dec() }

func (c *MetricsCollector) WSEvicted() { c.wsEvicted.Inc() }

// notify.Metrics

func (c *MetricsCollector) NotificationPushed() { c.notifPush.Inc() }

func (c *MetricsCollector) NotificationDeferred() { c.notifDefer.Inc() }

func (c *MetricsCollector) NotificationDropped() { c.notifDrop.Inc() }

// authtoken.Metrics

func (c *MetricsCollector) RefreshRotated() { c.refreshRotated.Inc() }

func (c *MetricsCollector) RotationConflict() { c.rotationConflict.Inc() }

func (c *MetricsCollector) CleanupSwept(refreshRemoved, blacklistRemoved int64) {
	c.cleanupRemoved.WithLabelValues("refresh").Add(float64(refreshRemoved))
	c.cleanupRemoved.WithLabelValues("blacklist").Add(float64(blacklistRemoved))
}

// Handler returns the prometheus scrape handler for this registry.
func (c *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
