package validator

import (
	"github.com/rs/zerolog"

	roastmodel "github.com/sigranet/sigra-go/consensus/roast/model"
	"github.com/sigranet/sigra-go/model/consensus"
	"github.com/sigranet/sigra-go/module"
)

// MaxPendingEvents bounds the pending-event buffer. Events beyond the limit
// are dropped oldest-first, so a burst of early traffic cannot grow the
// buffer without bound.
const MaxPendingEvents = 10

// PendingEvent is an event that arrived before the state machine reached a
// state able to consume it. Only announces and validation requests are worth
// buffering; everything else is either always consumable or safely dropped.
type PendingEvent interface {
	isPendingEvent()
}

// PendingAnnounce buffers a producer announce for a later Subordinate state.
type PendingAnnounce struct {
	Announce consensus.VerifiedAnnounce
}

// PendingValidationRequest buffers a validation request for a later
// Participant state.
type PendingValidationRequest struct {
	Request consensus.VerifiedValidationRequest
}

func (PendingAnnounce) isPendingEvent()          {}
func (PendingValidationRequest) isPendingEvent() {}

// Context carries everything shared across the role states: the core
// collaborators, the pending-event buffer and the output queue. Exactly one
// role state owns the Context at any instant; transitions hand it over
// wholesale.
type Context struct {
	log        zerolog.Logger
	metrics    module.ValidatorMetrics
	core       *Core
	dispatcher *Dispatcher

	// pending holds buffered events newest-first.
	pending []PendingEvent
	output  []consensus.Event
}

func NewContext(log zerolog.Logger, metrics module.ValidatorMetrics, core *Core, dispatcher *Dispatcher) *Context {
	return &Context{
		log:        log.With().Str("component", "validator").Logger(),
		metrics:    metrics,
		core:       core,
		dispatcher: dispatcher,
	}
}

// Pending pushes the event to the front of the pending buffer, evicting the
// oldest event if the buffer is full.
func (c *Context) Pending(event PendingEvent) {
	c.pending = append([]PendingEvent{event}, c.pending...)
	if len(c.pending) > MaxPendingEvents {
		c.pending = c.pending[:MaxPendingEvents]
	}
}

// takePending removes and returns the whole pending buffer, oldest-last.
func (c *Context) takePending() []PendingEvent {
	pending := c.pending
	c.pending = nil
	return pending
}

// Output queues an event for the outer layers.
func (c *Context) Output(event consensus.Event) {
	c.output = append(c.output, event)
}

// Warning logs the reason and queues a warning event; unexpected input is
// visible but never fatal.
func (c *Context) Warning(reason string) {
	c.log.Warn().Msg(reason)
	c.metrics.ValidatorEventDiscarded()
	c.Output(consensus.Warning{Reason: reason})
}

// DrainOutputs removes and returns all queued output events in order.
func (c *Context) DrainOutputs() []consensus.Event {
	output := c.output
	c.output = nil
	return output
}

// dispatchMessage routes a verified ROAST message through the dispatcher and
// queues the signed replies for broadcast. The aggregate, if the message was
// one, is returned for the coordinator role.
func (c *Context) dispatchMessage(msg consensus.VerifiedValidatorMessage) (*roastmodel.SignAggregate, error) {
	signed, aggregate, err := c.dispatcher.Dispatch(msg)
	if err != nil {
		return nil, err
	}
	for _, message := range signed {
		c.Output(consensus.BroadcastValidatorMessage{Message: message})
	}
	return aggregate, nil
}

// emitMessages signs locally originated ROAST messages and queues them for
// broadcast.
func (c *Context) emitMessages(messages []roastmodel.Message) error {
	signed, err := c.dispatcher.SignMessages(messages)
	if err != nil {
		return err
	}
	for _, message := range signed {
		c.Output(consensus.BroadcastValidatorMessage{Message: message})
	}
	return nil
}
