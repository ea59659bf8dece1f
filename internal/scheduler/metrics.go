package scheduler

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	processed    *prometheus.CounterVec // result=sent|skipped|failed|rescheduled
	tickDuration prometheus.Histogram
	lease        *prometheus.CounterVec // result=acquired|contended|error
	ticks        *prometheus.CounterVec // result=ok|contended|lease_error|error|closed
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calendar_alarm_processed_total",
				Help: "Alarm events processed, by result.",
			},
			[]string{"result"},
		),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calendar_alarm_tick_duration_seconds",
			Help:    "Duration of scheduler ticks.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms .. ~41s
		}),
		lease: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calendar_alarm_lease_total",
				Help: "Lease acquisition attempts, by result.",
			},
			[]string{"result"},
		),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calendar_alarm_ticks_total",
				Help: "Scheduler ticks, by outcome.",
			},
			[]string{"result"},
		),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.processed, m.tickDuration, m.lease, m.ticks} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
