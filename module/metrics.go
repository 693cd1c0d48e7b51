package module

// RoastMetrics exposes instrumentation of the ROAST coordination layer.
type RoastMetrics interface {

	// RoastSessionStarted is called when a new signing session begins.
	RoastSessionStarted()

	// RoastRetryStarted is called when a stalled session moves to a new
	// attempt with a rotated leader.
	RoastRetryStarted()

	// RoastSessionCompleted is called when an aggregate signature is
	// finalized for a session.
	RoastSessionCompleted()

	// RoastRetryExhausted is called when a session can no longer reach its
	// threshold with the remaining eligible signers.
	RoastRetryExhausted()

	// RoastSignerExcluded is called for every signer newly excluded from
	// future attempts of a session.
	RoastSignerExcluded()
}

// ValidatorMetrics exposes instrumentation of the validator role state
// machine.
type ValidatorMetrics interface {

	// ValidatorRoleTransition is called on every role change of the
	// validator state machine.
	ValidatorRoleTransition(role string)

	// ValidatorEventDiscarded is called when an unexpected event is dropped
	// by the current role.
	ValidatorEventDiscarded()
}
