// Package metrics exposes bot counters for Prometheus scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Operations *prometheus.CounterVec
	Denials    *prometheus.CounterVec
	Points     *prometheus.CounterVec
	Conflicts  prometheus.Counter
	LLMErrors  *prometheus.CounterVec
	Purchases  *prometheus.CounterVec

	DeliveryErrors prometheus.Counter
}

func New(prefix string) *Metrics {
	if prefix == "" {
		prefix = "gptbot"
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_operations_total",
			Help: "Metered model operations recorded",
		}, []string{"model", "scope"}),
		Denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_quota_denials_total",
			Help: "Requests refused because a limit was reached",
		}, []string{"model", "scope"}),
		Points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_usage_points_total",
			Help: "Usage points recorded per ledger code",
		}, []string{"code"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_usage_write_conflicts_total",
			Help: "Usage writes retried after a concurrent update",
		}),
		LLMErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_llm_errors_total",
			Help: "Failed LLM calls",
		}, []string{"kind"}),
		Purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_purchases_total",
			Help: "Products purchased",
		}, []string{"product", "provider"}),
		DeliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_delivery_errors_total",
			Help: "Model results that could not be sent to Telegram",
		}),
	}

	reg.MustRegister(m.Operations, m.Denials, m.Points, m.Conflicts, m.LLMErrors, m.Purchases, m.DeliveryErrors)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
