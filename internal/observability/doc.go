// Package observability builds the structured logger and the Prometheus
// metrics of the client.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts credentials (bearer
// tokens, JWTs, passwords) from messages and string attributes before they
// reach the output:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "debug",
//	    Format: "text",
//	})
//	logger.Info("connected", "token", token) // token is redacted
//
// # Metrics
//
// Metrics are registered on a caller-supplied registry so tests and multiple
// sessions do not collide on the default one. A *Metrics implements both
// realtime.Observer and api.RequestObserver, and a nil *Metrics is a valid
// no-op recorder:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	http.Handle("/metrics", metrics.Handler())
//
// Useful queries:
//
//	# Channels currently connected
//	proximo_channel_state{state="connected"}
//
//	# Reconnect rate per channel
//	rate(proximo_channel_reconnects_total[5m])
//
//	# API latency (95th percentile)
//	histogram_quantile(0.95, rate(proximo_api_request_duration_seconds_bucket[5m]))
package observability
