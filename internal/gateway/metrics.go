package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/smmsb/pkg/session"
)

// 認証結果のラベル値。
const (
	outcomeBypass  = "bypass"
	outcomeForward = "forward"
	outcomeReject  = "reject"
)

// Metrics はGatewayの認証メトリクス。サーバーごとに専用のレジストリを持つ。
type Metrics struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	lookups   *prometheus.HistogramVec
}

// NewMetrics は新しいレジストリにメトリクスを登録する。
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_auth_decisions_total",
				Help: "Gateway authentication decisions by outcome and error kind.",
			},
			[]string{"outcome", "kind"},
		),
		lookups: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_session_lookup_duration_seconds",
				Help:    "Latency of session store lookups.",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.decisions,
		m.lookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler は/metrics用のハンドラーを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeDecision(outcome, kind string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome, kind).Inc()
}

func (m *Metrics) observeLookup(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, session.ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	m.lookups.WithLabelValues(result).Observe(d.Seconds())
}
