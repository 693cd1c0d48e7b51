package consensus

import (
	"github.com/ethereum/go-ethereum/common"

	roastmodel "github.com/sigranet/sigra-go/consensus/roast/model"
)

// Event is an output of the validator state machine, consumed by the network
// and execution layers. The set of events is closed.
type Event interface {
	isEvent()
}

// Warning reports an unexpected but non-fatal condition, such as an event
// arriving in a state that cannot use it.
type Warning struct {
	Reason string
}

// PublishAnnounce asks the network layer to gossip the producer's announce.
type PublishAnnounce struct {
	Announce SignedAnnounce
}

// ComputeAnnounce asks the execution layer to compute the announce locally.
type ComputeAnnounce struct {
	Announce Announce
}

// AnnounceAccepted reports that an announce passed acceptance checks and was
// handed to the execution layer.
type AnnounceAccepted struct {
	Hash common.Hash
}

// AnnounceRejected reports that an announce failed acceptance checks.
type AnnounceRejected struct {
	Hash common.Hash
}

// PublishValidationRequest asks the network layer to gossip the coordinator's
// batch validation request.
type PublishValidationRequest struct {
	Request ValidationRequest
}

// PublishValidationReply asks the network layer to send a participant's
// signed validation reply.
type PublishValidationReply struct {
	Reply ValidationReply
}

// BroadcastValidatorMessage asks the network layer to gossip a signed ROAST
// protocol message.
type BroadcastValidatorMessage struct {
	Message SignedValidatorMessage
}

// CommitBatch reports that the batch commitment collected its threshold
// signature and is ready for on-chain submission.
type CommitBatch struct {
	Digest    common.Hash
	Aggregate *roastmodel.SignAggregate
}

func (Warning) isEvent()                  {}
func (PublishAnnounce) isEvent()          {}
func (ComputeAnnounce) isEvent()          {}
func (AnnounceAccepted) isEvent()         {}
func (AnnounceRejected) isEvent()         {}
func (PublishValidationRequest) isEvent() {}
func (PublishValidationReply) isEvent()   {}
func (BroadcastValidatorMessage) isEvent() {}
func (CommitBatch) isEvent()              {}
