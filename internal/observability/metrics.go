package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/haasonsaas/proximo/internal/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records channel, location and API activity.
type Metrics struct {
	registry *prometheus.Registry

	// ChannelState is 1 for the current state of each channel, 0 otherwise.
	// Labels: channel, state
	ChannelState *prometheus.GaugeVec

	// ChannelReconnects counts successful reconnects.
	// Labels: channel
	ChannelReconnects *prometheus.CounterVec

	// ChannelEvents counts events by channel, event and direction.
	// Labels: channel, event, direction (inbound|outbound)
	ChannelEvents *prometheus.CounterVec

	// LocationSamples counts geolocation samples.
	// Labels: source (initial|watch|poll), status (ok|error)
	LocationSamples *prometheus.CounterVec

	// APIRequestDuration measures REST latency.
	// Labels: method, route, status_code
	APIRequestDuration *prometheus.HistogramVec
}

var channelStates = []realtime.State{
	realtime.StateIdle,
	realtime.StateConnecting,
	realtime.StateConnected,
	realtime.StateDisconnected,
	realtime.StateReconnecting,
	realtime.StateClosed,
}

// NewMetrics registers every metric on reg. A nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ChannelState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "proximo_channel_state",
				Help: "Current state of each realtime channel (1 for the active state)",
			},
			[]string{"channel", "state"},
		),
		ChannelReconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proximo_channel_reconnects_total",
				Help: "Total number of channel reconnects",
			},
			[]string{"channel"},
		),
		ChannelEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proximo_channel_events_total",
				Help: "Total number of channel events by direction",
			},
			[]string{"channel", "event", "direction"},
		),
		LocationSamples: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proximo_location_samples_total",
				Help: "Total number of geolocation samples by source and status",
			},
			[]string{"source", "status"},
		),
		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proximo_api_request_duration_seconds",
				Help:    "Duration of REST API requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
			},
			[]string{"method", "route", "status_code"},
		),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StateChanged implements realtime.Observer.
func (m *Metrics) StateChanged(ns realtime.Namespace, state realtime.State) {
	if m == nil {
		return
	}
	for _, s := range channelStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ChannelState.WithLabelValues(string(ns), s.String()).Set(v)
	}
}

// Reconnected implements realtime.Observer.
func (m *Metrics) Reconnected(ns realtime.Namespace) {
	if m == nil {
		return
	}
	m.ChannelReconnects.WithLabelValues(string(ns)).Inc()
}

// EventReceived implements realtime.Observer.
func (m *Metrics) EventReceived(ns realtime.Namespace, event string) {
	if m == nil {
		return
	}
	m.ChannelEvents.WithLabelValues(string(ns), event, "inbound").Inc()
}

// EventSent implements realtime.Observer.
func (m *Metrics) EventSent(ns realtime.Namespace, event string) {
	if m == nil {
		return
	}
	m.ChannelEvents.WithLabelValues(string(ns), event, "outbound").Inc()
}

// LocationSample counts one geolocation sample.
func (m *Metrics) LocationSample(source string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.LocationSamples.WithLabelValues(source, status).Inc()
}

// ObserveRequest implements api.RequestObserver. Status 0 is a transport failure.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.APIRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}
