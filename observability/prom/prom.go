package prom

import (
	"net/http"

	"github.com/floegence/snaprelay/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RelayObserver exports relay metrics to Prometheus.
type RelayObserver struct {
	connGauge       prometheus.Gauge
	sessionGauge    prometheus.Gauge
	joinTotal       *prometheus.CounterVec
	relayTotal      *prometheus.CounterVec
	fanoutSize      *prometheus.HistogramVec
	decisionTotal   *prometheus.CounterVec
	disconnectTotal *prometheus.CounterVec
}

// NewRelayObserver registers relay metrics on the registry.
func NewRelayObserver(reg *prometheus.Registry) *RelayObserver {
	o := &RelayObserver{
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snaprelay_connections",
			Help: "Current websocket connection count.",
		}),
		sessionGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snaprelay_sessions",
			Help: "Current session count with at least one member.",
		}),
		joinTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snaprelay_join_total",
			Help: "Session join attempts by result and reason.",
		}, []string{"result", "reason"}),
		relayTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snaprelay_relay_total",
			Help: "Relayed photos and offers by outcome.",
		}, []string{"kind", "result"}),
		fanoutSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "snaprelay_fanout_recipients",
			Help:    "Recipients per delivered photo or offer.",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}, []string{"kind"}),
		decisionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snaprelay_decision_total",
			Help: "Peer decisions by outcome.",
		}, []string{"result"}),
		disconnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snaprelay_disconnect_total",
			Help: "Connection closes by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		o.connGauge,
		o.sessionGauge,
		o.joinTotal,
		o.relayTotal,
		o.fanoutSize,
		o.decisionTotal,
		o.disconnectTotal,
	)
	return o
}

func (o *RelayObserver) ConnCount(n int64) {
	o.connGauge.Set(float64(n))
}

func (o *RelayObserver) SessionCount(n int) {
	o.sessionGauge.Set(float64(n))
}

func (o *RelayObserver) Join(result observability.JoinResult, reason observability.JoinReason) {
	o.joinTotal.WithLabelValues(string(result), string(reason)).Inc()
}

func (o *RelayObserver) Relay(kind observability.RelayKind, result observability.RelayResult, recipients int) {
	o.relayTotal.WithLabelValues(string(kind), string(result)).Inc()
	if result == observability.RelayResultDelivered {
		o.fanoutSize.WithLabelValues(string(kind)).Observe(float64(recipients))
	}
}

func (o *RelayObserver) Decision(result observability.DecisionResult) {
	o.decisionTotal.WithLabelValues(string(result)).Inc()
}

func (o *RelayObserver) Disconnect(reason observability.KickReason) {
	o.disconnectTotal.WithLabelValues(string(reason)).Inc()
}
