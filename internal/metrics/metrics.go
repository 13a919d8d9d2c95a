// Package metrics exposes the Prometheus instrumentation for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Shortens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snip_shorten_requests_total",
		Help: "Total shorten requests.",
	})
	Redirects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snip_redirect_requests_total",
		Help: "Total redirect requests.",
	})
	ClickRecordFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snip_click_record_failures_total",
		Help: "Click events dropped because the store write failed.",
	})
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snip_rate_limited_requests_total",
		Help: "Requests rejected by the rate limiter.",
	})
)

func init() {
	prometheus.MustRegister(Shortens, Redirects, ClickRecordFailures, RateLimited)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
