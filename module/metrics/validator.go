package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sigranet/sigra-go/module"
)

// ValidatorCollector implements module.ValidatorMetrics on top of prometheus
// counters.
type ValidatorCollector struct {
	roleTransitions *prometheus.CounterVec
	eventsDiscarded prometheus.Counter
}

var _ module.ValidatorMetrics = (*ValidatorCollector)(nil)

func NewValidatorCollector() *ValidatorCollector {
	return &ValidatorCollector{
		roleTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:      "role_transitions_total",
			Namespace: namespaceSigra,
			Subsystem: subsystemValidator,
			Help:      "number of role transitions of the validator state machine",
		}, []string{"role"}),
		eventsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Name:      "events_discarded_total",
			Namespace: namespaceSigra,
			Subsystem: subsystemValidator,
			Help:      "number of unexpected events discarded by the current role",
		}),
	}
}

func (c *ValidatorCollector) ValidatorRoleTransition(role string) {
	c.roleTransitions.With(prometheus.Labels{"role": role}).Inc()
}

func (c *ValidatorCollector) ValidatorEventDiscarded() {
	c.eventsDiscarded.Inc()
}
