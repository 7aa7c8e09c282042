package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	packets  *prometheus.CounterVec
	duration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nhp",
			Name:      "packets_total",
			Help:      "Packets received, by packet type and outcome.",
		}, []string{"type", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nhp",
			Name:      "handle_seconds",
			Help:      "Time spent handling one packet.",
			Buckets:   prometheus.ExponentialBuckets(50e-6, 2, 12),
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.packets, m.duration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *metrics) observe(typ, result string, start time.Time) {
	m.packets.WithLabelValues(typ, result).Inc()
	m.duration.Observe(time.Since(start).Seconds())
}
