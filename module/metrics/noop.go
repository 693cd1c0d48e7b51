package metrics

// NoopCollector implements all metrics interfaces with no-ops. It is used in
// tests and in deployments that do not scrape metrics.
type NoopCollector struct{}

func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (nc *NoopCollector) RoastSessionStarted()                 {}
func (nc *NoopCollector) RoastRetryStarted()                   {}
func (nc *NoopCollector) RoastSessionCompleted()               {}
func (nc *NoopCollector) RoastRetryExhausted()                 {}
func (nc *NoopCollector) RoastSignerExcluded()                 {}
func (nc *NoopCollector) ValidatorRoleTransition(role string)  {}
func (nc *NoopCollector) ValidatorEventDiscarded()             {}
