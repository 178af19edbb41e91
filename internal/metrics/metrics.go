package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Credentials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicebridge",
		Name:      "credentials_total",
		Help:      "Ephemeral credential requests by result.",
	}, []string{"result"})

	Negotiations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicebridge",
		Name:      "negotiations_total",
		Help:      "WebRTC negotiations by result.",
	}, []string{"result"})

	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voicebridge",
		Name:      "upstream_duration_seconds",
		Help:      "Upstream call latency by operation.",
		Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
	}, []string{"op"})

	RelaysActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicebridge",
		Name:      "relays_active",
		Help:      "Open websocket relays.",
	})
)

func ObserveUpstream(op string, start time.Time) {
	UpstreamDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
