package consoled

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// sessionMetrics holds the Prometheus instruments a Session registers with
// Config.MetricsRegistry, when set.
type sessionMetrics struct {
	framesSent        prometheus.Counter
	framesReceived    prometheus.Counter
	reconnects        prometheus.Counter
	pings             prometheus.Counter
	inboundQueueDepth prometheus.Gauge
	activeSubs        prometheus.Gauge
}

func newSessionMetrics(reg prometheus.Registerer) *sessionMetrics {
	return &sessionMetrics{
		framesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "consoled",
			Name:      "frames_sent_total",
			Help:      "Total frames written to the server.",
		}),
		framesReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "consoled",
			Name:      "frames_received_total",
			Help:      "Total frames read from the server, including ping-requests.",
		}),
		reconnects: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "consoled",
			Name:      "reconnects_total",
			Help:      "Total successful Router (re)connects.",
		}),
		pings: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "consoled",
			Name:      "pings_total",
			Help:      "Total ping-request/ping-response exchanges handled by the Router.",
		}),
		inboundQueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "consoled",
			Name:      "inbound_queue_depth",
			Help:      "Number of inbound frames queued for ProcessMessages at last delivery.",
		}),
		activeSubs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "consoled",
			Name:      "active_subscriptions",
			Help:      "Number of streams currently subscribed.",
		}),
	}
}

// IncFramesSent implements router.Metrics.
func (m *sessionMetrics) IncFramesSent() { m.framesSent.Inc() }

// IncFramesReceived implements router.Metrics.
func (m *sessionMetrics) IncFramesReceived() { m.framesReceived.Inc() }

// IncReconnects implements router.Metrics.
func (m *sessionMetrics) IncReconnects() { m.reconnects.Inc() }

// IncPings implements router.Metrics.
func (m *sessionMetrics) IncPings() { m.pings.Inc() }
