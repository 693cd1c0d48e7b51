package validator

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/model/consensus"
)

// State is one of exactly five validator roles: Initial, Producer,
// Coordinator, Subordinate or Participant. The set is closed; event routing
// dispatches over the concrete types exhaustively, with the shared defaults
// below applied wherever a role has no specific handler.
//
// Every transition consumes the current state and returns the next one; the
// Context moves with it. Callers must drop their reference to the consumed
// state immediately, so no two live states ever coexist.
type State interface {
	Context() *Context
	Name() string
	isState()
}

func (i *Initial) isState()     {}
func (p *Producer) isState()    {}
func (c *Coordinator) isState() {}
func (s *Subordinate) isState() {}
func (p *Participant) isState() {}

// ProcessChainHead resets the machine to Initial for the new head,
// discarding any in-progress role work. This is the only transition every
// state shares unconditionally.
func ProcessChainHead(s State, block consensus.SimpleBlock) (State, error) {
	return newInitialWithHead(s.Context(), block), nil
}

// ProcessSyncedBlock advances Initial's sync handshake; any other state logs
// a warning and stays put.
func ProcessSyncedBlock(s State, hash common.Hash) (State, error) {
	if initial, ok := s.(*Initial); ok {
		return initial.processSyncedBlock(hash)
	}
	s.Context().Warning(fmt.Sprintf("unexpected synced block %x in state %s", hash[:4], s.Name()))
	return s, nil
}

// ProcessPreparedBlock resolves the slot producer once Initial's handshake
// finished; any other state logs a warning and stays put.
func ProcessPreparedBlock(s State, block consensus.SimpleBlock, validators []common.Address) (State, error) {
	if initial, ok := s.(*Initial); ok {
		return initial.processPreparedBlock(block, validators)
	}
	s.Context().Warning(fmt.Sprintf("unexpected prepared block %x in state %s", block.Hash[:4], s.Name()))
	return s, nil
}

// ProcessComputedAnnounce is consumed by Producer and Subordinate, which wait
// for the execution layer; any other state logs a warning and stays put.
func ProcessComputedAnnounce(s State, hash common.Hash) (State, error) {
	switch state := s.(type) {
	case *Producer:
		return state.processComputedAnnounce(hash)
	case *Subordinate:
		return state.processComputedAnnounce(hash)
	}
	s.Context().Warning(fmt.Sprintf("unexpected computed announce %x in state %s", hash[:4], s.Name()))
	return s, nil
}

// ProcessAnnounce is consumed by Subordinate; in any other state the
// announce is buffered, since a Subordinate reached later may still use it.
func ProcessAnnounce(s State, announce consensus.VerifiedAnnounce) (State, error) {
	if subordinate, ok := s.(*Subordinate); ok {
		return subordinate.processAnnounce(announce)
	}
	return defaultAnnounce(s, announce)
}

// ProcessValidationRequest is consumed by Participant; Subordinate buffers
// requests from its producer; in any other state the request is buffered.
func ProcessValidationRequest(s State, request consensus.VerifiedValidationRequest) (State, error) {
	switch state := s.(type) {
	case *Participant:
		return state.processValidationRequest(request)
	case *Subordinate:
		return state.processValidationRequest(request)
	}
	return defaultValidationRequest(s, request)
}

// ProcessValidationReply is consumed by the Coordinator role; in any other
// state replies are logged and discarded, never buffered or retried.
func ProcessValidationReply(s State, reply consensus.ValidationReply) (State, error) {
	if coordinator, ok := s.(*Coordinator); ok {
		return coordinator.processValidationReply(reply)
	}
	s.Context().log.Debug().
		Hex("digest", reply.Digest[:4]).
		Str("state", s.Name()).
		Msg("discarding validation reply")
	return s, nil
}

// ProcessValidatorMessage routes verified ROAST traffic into the session
// manager regardless of the current role. When the message carries the
// aggregate the local Coordinator role is waiting for, the role completes.
func ProcessValidatorMessage(s State, msg consensus.VerifiedValidatorMessage) (State, error) {
	aggregate, err := s.Context().dispatchMessage(msg)
	if err != nil {
		return s, err
	}
	if coordinator, ok := s.(*Coordinator); ok && aggregate != nil {
		if aggregate.MsgHash == coordinator.batch.Digest {
			return coordinator.complete(aggregate)
		}
	}
	return s, nil
}

// ProcessRawMessage verifies the envelope signature of a raw network message
// and hands the result to ProcessValidatorMessage. Unverifiable messages are
// dropped with a warning.
func ProcessRawMessage(s State, msg consensus.SignedValidatorMessage) (State, error) {
	from, err := msg.Verify()
	if err != nil {
		s.Context().Warning(fmt.Sprintf("dropping unverifiable validator message: %v", err))
		return s, nil
	}
	return ProcessValidatorMessage(s, consensus.VerifiedValidatorMessage{
		Message: msg.Message,
		From:    from,
	})
}

// ProcessTransaction forwards an injected transaction to the shared pool,
// regardless of the current role.
func ProcessTransaction(s State, tx []byte) (State, error) {
	s.Context().core.TxPool.Add(tx)
	return s, nil
}

// PollNextState gives self-advancing states a chance to make progress
// without external input. Only Producer advances on time.
func PollNextState(s State, now time.Time) (State, error) {
	if producer, ok := s.(*Producer); ok {
		return producer.poll(now)
	}
	return s, nil
}

func defaultAnnounce(s State, announce consensus.VerifiedAnnounce) (State, error) {
	s.Context().log.Debug().
		Hex("from", announce.From[:]).
		Str("state", s.Name()).
		Msg("buffering early announce")
	s.Context().Pending(PendingAnnounce{Announce: announce})
	return s, nil
}

func defaultValidationRequest(s State, request consensus.VerifiedValidationRequest) (State, error) {
	s.Context().log.Debug().
		Hex("from", request.From[:]).
		Str("state", s.Name()).
		Msg("buffering early validation request")
	s.Context().Pending(PendingValidationRequest{Request: request})
	return s, nil
}
