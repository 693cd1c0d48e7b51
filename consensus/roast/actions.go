package roast

import (
	"github.com/sigranet/sigra-go/consensus/roast/model"
	"github.com/sigranet/sigra-go/consensus/roast/policy"
)

// Action is one instruction produced by a session state machine for its
// caller to carry out. The concrete set is closed.
type Action interface {
	isAction()
}

// BroadcastRequest instructs the caller to broadcast a session request to
// all participants.
type BroadcastRequest struct {
	Request *model.SignSessionRequest
}

// BroadcastSigningPackage instructs the caller to broadcast the leader's
// signing package.
type BroadcastSigningPackage struct {
	Package *model.SignNoncePackage
}

// BroadcastAggregate instructs the caller to broadcast the final aggregate
// signature.
type BroadcastAggregate struct {
	Aggregate *model.SignAggregate
}

// BroadcastCulprits instructs the caller to broadcast a malicious-signer
// report.
type BroadcastCulprits struct {
	Culprits *model.SignCulprits
}

// SendNonceCommit instructs the caller to send the participant's nonce
// commitment towards the leader.
type SendNonceCommit struct {
	Commit model.SignNonceCommit
}

// SendSignShare instructs the caller to send the participant's signature
// share towards the leader.
type SendSignShare struct {
	Share model.SignShare
}

// Completed reports that the session finished with an aggregate signature.
// It produces no outbound message.
type Completed struct {
	Aggregate *model.SignAggregate
}

// Failed reports that the attempt timed out in the given stage. It produces
// no outbound message; the caller decides whether to retry.
type Failed struct {
	Stage policy.TimeoutStage
}

func (BroadcastRequest) isAction()        {}
func (BroadcastSigningPackage) isAction() {}
func (BroadcastAggregate) isAction()      {}
func (BroadcastCulprits) isAction()       {}
func (SendNonceCommit) isAction()         {}
func (SendSignShare) isAction()           {}
func (Completed) isAction()               {}
func (Failed) isAction()                  {}

// ActionsToMessages converts the broadcast and send actions into their
// outbound protocol messages, preserving order. Completion and failure
// actions carry no message and are skipped.
func ActionsToMessages(actions []Action) []model.Message {
	var messages []model.Message
	for _, action := range actions {
		switch a := action.(type) {
		case BroadcastRequest:
			messages = append(messages, a.Request)
		case BroadcastSigningPackage:
			messages = append(messages, a.Package)
		case BroadcastAggregate:
			messages = append(messages, a.Aggregate)
		case BroadcastCulprits:
			messages = append(messages, a.Culprits)
		case SendNonceCommit:
			commit := a.Commit
			messages = append(messages, &commit)
		case SendSignShare:
			share := a.Share
			messages = append(messages, &share)
		}
	}
	return messages
}
