package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sigranet/sigra-go/module"
)

const (
	namespaceSigra = "sigra"

	subsystemRoast     = "roast"
	subsystemValidator = "validator"
)

// RoastCollector implements module.RoastMetrics on top of prometheus
// counters.
type RoastCollector struct {
	sessionsStarted   prometheus.Counter
	retriesStarted    prometheus.Counter
	sessionsCompleted prometheus.Counter
	retriesExhausted  prometheus.Counter
	signersExcluded   prometheus.Counter
}

var _ module.RoastMetrics = (*RoastCollector)(nil)

func NewRoastCollector() *RoastCollector {
	return &RoastCollector{
		sessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name:      "sessions_started_total",
			Namespace: namespaceSigra,
			Subsystem: subsystemRoast,
			Help:      "number of signing sessions started",
		}),
		retriesStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name:      "retries_started_total",
			Namespace: namespaceSigra,
			Subsystem: subsystemRoast,
			Help:      "number of retry attempts started after a stall",
		}),
		sessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name:      "sessions_completed_total",
			Namespace: namespaceSigra,
			Subsystem: subsystemRoast,
			Help:      "number of sessions finalized with an aggregate signature",
		}),
		retriesExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Name:      "retries_exhausted_total",
			Namespace: namespaceSigra,
			Subsystem: subsystemRoast,
			Help:      "number of sessions that ran out of eligible signers",
		}),
		signersExcluded: promauto.NewCounter(prometheus.CounterOpts{
			Name:      "signers_excluded_total",
			Namespace: namespaceSigra,
			Subsystem: subsystemRoast,
			Help:      "number of signers excluded from future attempts",
		}),
	}
}

func (c *RoastCollector) RoastSessionStarted() {
	c.sessionsStarted.Inc()
}

func (c *RoastCollector) RoastRetryStarted() {
	c.retriesStarted.Inc()
}

func (c *RoastCollector) RoastSessionCompleted() {
	c.sessionsCompleted.Inc()
}

func (c *RoastCollector) RoastRetryExhausted() {
	c.retriesExhausted.Inc()
}

func (c *RoastCollector) RoastSignerExcluded() {
	c.signersExcluded.Inc()
}
