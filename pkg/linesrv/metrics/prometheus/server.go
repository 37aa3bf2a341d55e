package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tbxark/linesrv/pkg/linesrv/metrics"
)

type serverMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	connectionsRejected *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	messagesTotal       prometheus.Counter
	bytesReceived       prometheus.Counter
	bytesSent           prometheus.Counter
	listenerOpen        prometheus.Gauge
}

// NewServerMetrics creates a Prometheus-backed ServerMetrics.
//
// Returns the no-op implementation if metrics are not enabled.
func NewServerMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopServerMetrics()
	}
	return newServerMetrics(metrics.GetRegistry())
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	return &serverMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "linesrv_connections_accepted_total",
			Help: "Total number of connections accepted",
		}),
		connectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "linesrv_connections_closed_total",
			Help: "Total number of connections that finished",
		}),
		connectionsRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "linesrv_connections_rejected_total",
			Help: "Connections dropped right after accept, by reason",
		}, []string{"reason"}),
		activeConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "linesrv_active_connections",
			Help: "Current number of occupied connection slots",
		}),
		messagesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "linesrv_messages_total",
			Help: "Total number of framed messages",
		}),
		bytesReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "linesrv_message_bytes_total",
			Help: "Total payload bytes of framed messages",
		}),
		bytesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "linesrv_sent_bytes_total",
			Help: "Total bytes written to clients",
		}),
		listenerOpen: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "linesrv_listener_open",
			Help: "1 while the listening socket is open, 0 while closed",
		}),
	}
}

func (m *serverMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *serverMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *serverMetrics) RecordConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *serverMetrics) SetActiveConnections(count int) {
	m.activeConnections.Set(float64(count))
}

func (m *serverMetrics) RecordMessage(bytes int) {
	m.messagesTotal.Inc()
	m.bytesReceived.Add(float64(bytes))
}

func (m *serverMetrics) RecordBytesSent(bytes int) {
	m.bytesSent.Add(float64(bytes))
}

func (m *serverMetrics) SetListenerOpen(open bool) {
	if open {
		m.listenerOpen.Set(1)
		return
	}
	m.listenerOpen.Set(0)
}
