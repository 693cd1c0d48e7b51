package validator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/model/consensus"
)

type subordinatePhase uint8

const (
	waitingAnnounce subordinatePhase = iota
	waitingComputed
)

// Subordinate is the role of a non-producer: it waits for the producer's
// announce, hands it to the execution layer and, once computed, switches to
// Participant if this node validates the current era, otherwise back to
// Initial.
type Subordinate struct {
	ctx         *Context
	block       consensus.SimpleBlock
	producer    common.Address
	era         uint64
	isValidator bool
	phase       subordinatePhase

	announceHash common.Hash
}

func newSubordinate(
	ctx *Context,
	block consensus.SimpleBlock,
	producer common.Address,
	era uint64,
	isValidator bool,
) (State, error) {

	// consume an announce that arrived before this state was reached; all
	// other buffered events are kept in order
	var earlier *consensus.VerifiedAnnounce
	kept := make([]PendingEvent, 0, MaxPendingEvents)
	for _, event := range ctx.takePending() {
		if announce, ok := event.(PendingAnnounce); ok && earlier == nil &&
			announce.Announce.From == producer &&
			announce.Announce.Announce.BlockHash == block.Hash {
			a := announce.Announce
			earlier = &a
			continue
		}
		kept = append(kept, event)
	}
	ctx.pending = kept

	subordinate := &Subordinate{
		ctx:         ctx,
		block:       block,
		producer:    producer,
		era:         era,
		isValidator: isValidator,
		phase:       waitingAnnounce,
	}

	if earlier != nil {
		return subordinate.acceptAnnounce(earlier.Announce)
	}
	return subordinate, nil
}

func (s *Subordinate) Context() *Context {
	return s.ctx
}

func (s *Subordinate) Name() string {
	return "subordinate"
}

func (s *Subordinate) processAnnounce(announce consensus.VerifiedAnnounce) (State, error) {
	if s.phase != waitingAnnounce ||
		announce.From != s.producer ||
		announce.Announce.BlockHash != s.block.Hash {
		return defaultAnnounce(s, announce)
	}
	return s.acceptAnnounce(announce.Announce)
}

// processValidationRequest buffers requests from the current producer for the
// Participant state this node may reach next.
func (s *Subordinate) processValidationRequest(request consensus.VerifiedValidationRequest) (State, error) {
	if request.From == s.producer {
		s.ctx.log.Debug().
			Hex("digest", request.Request.Digest[:4]).
			Msg("buffering validation request from producer")
		s.ctx.Pending(PendingValidationRequest{Request: request})
		return s, nil
	}
	return defaultValidationRequest(s, request)
}

func (s *Subordinate) processComputedAnnounce(hash common.Hash) (State, error) {
	if s.phase != waitingComputed || hash != s.announceHash {
		s.ctx.Warning(fmt.Sprintf("unexpected computed announce %x in state subordinate", hash[:4]))
		return s, nil
	}
	if s.isValidator {
		return newParticipant(s.ctx, s.block, s.producer)
	}
	return NewInitial(s.ctx), nil
}

// acceptAnnounce runs the acceptance checks and hands an accepted announce to
// the execution layer; a rejected announce aborts the slot back to Initial.
func (s *Subordinate) acceptAnnounce(announce consensus.Announce) (State, error) {
	hash, accepted, err := s.ctx.core.AcceptAnnounce(announce)
	if err != nil {
		return nil, fmt.Errorf("could not check announce: %w", err)
	}
	if !accepted {
		s.ctx.Output(consensus.AnnounceRejected{Hash: hash})
		s.ctx.Warning(fmt.Sprintf("announce %x from producer rejected", hash[:4]))
		return NewInitial(s.ctx), nil
	}

	s.ctx.Output(consensus.AnnounceAccepted{Hash: hash})
	s.ctx.Output(consensus.ComputeAnnounce{Announce: announce})
	s.phase = waitingComputed
	s.announceHash = hash
	return s, nil
}
