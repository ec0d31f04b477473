// Package telemetry exposes Prometheus metrics for presence and message relay.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	PresenceOnline prometheus.Gauge
	Announces      *prometheus.CounterVec
	Dispatches     *prometheus.CounterVec
	Deliveries     *prometheus.CounterVec
)

// Init registers metrics (idempotent). Helpers are no-ops until it runs.
func Init() {
	once.Do(func() {
		PresenceOnline = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chat_presence_online",
			Help: "Number of identities currently announced",
		})
		Announces = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_presence_announces_total",
			Help: "Announce events by outcome",
		}, []string{"result"})
		Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_dispatch_total",
			Help: "Dispatched message events by receiver presence",
		}, []string{"receiver"})
		Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_relay_deliveries_total",
			Help: "Per-handle deliveries by outcome",
		}, []string{"outcome"})
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SetPresence(n int) {
	if PresenceOnline != nil {
		PresenceOnline.Set(float64(n))
	}
}

// RecordAnnounce counts an announce; result is "added", "rebound" or "ignored".
func RecordAnnounce(result string) {
	if Announces != nil {
		Announces.WithLabelValues(result).Inc()
	}
}

func RecordDispatch(receiverOnline bool) {
	if Dispatches == nil {
		return
	}
	label := "offline"
	if receiverOnline {
		label = "online"
	}
	Dispatches.WithLabelValues(label).Inc()
}

func RecordDelivery(err error) {
	if Deliveries == nil {
		return
	}
	if err != nil {
		Deliveries.WithLabelValues("failed").Inc()
		return
	}
	Deliveries.WithLabelValues("ok").Inc()
}
