package validator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/model/consensus"
)

// Participant is the role of a validator that answers the producer's batch
// validation request: it recomputes the batch commitment locally, signs the
// digest on success and returns to Initial either way. A producer that sends
// an invalid request does not get a second chance within the slot.
type Participant struct {
	ctx      *Context
	block    consensus.SimpleBlock
	producer common.Address
	replied  bool
}

func newParticipant(ctx *Context, block consensus.SimpleBlock, producer common.Address) (State, error) {

	// consume a validation request that arrived before this state was
	// reached; all other buffered events are kept
	var earlier *consensus.ValidationRequest
	kept := make([]PendingEvent, 0, MaxPendingEvents)
	for _, event := range ctx.takePending() {
		if request, ok := event.(PendingValidationRequest); ok && earlier == nil &&
			request.Request.From == producer {
			r := request.Request.Request
			earlier = &r
			continue
		}
		kept = append(kept, event)
	}
	ctx.pending = kept

	participant := &Participant{
		ctx:      ctx,
		block:    block,
		producer: producer,
	}

	if earlier != nil {
		return participant.handleRequest(*earlier)
	}
	return participant, nil
}

func (p *Participant) Context() *Context {
	return p.ctx
}

func (p *Participant) Name() string {
	return "participant"
}

func (p *Participant) processValidationRequest(request consensus.VerifiedValidationRequest) (State, error) {
	if request.From != p.producer {
		return defaultValidationRequest(p, request)
	}
	if p.replied {
		p.ctx.Warning("unexpected repeated validation request")
		return p, nil
	}
	return p.handleRequest(request.Request)
}

// handleRequest validates the producer's claimed digest against the locally
// recomputed batch commitment and replies with a signature on success.
func (p *Participant) handleRequest(request consensus.ValidationRequest) (State, error) {
	p.replied = true

	digest, err := p.ctx.core.Planner.ValidateRequest(p.block, request)
	if err != nil {
		p.ctx.Warning(fmt.Sprintf("rejecting validation request: %v", err))
		return NewInitial(p.ctx), nil
	}

	signature, err := p.ctx.core.Signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("could not sign validation reply: %w", err)
	}

	p.ctx.Output(consensus.PublishValidationReply{
		Reply: consensus.ValidationReply{
			Digest:    digest,
			Signature: signature,
		},
	})
	return NewInitial(p.ctx), nil
}
