package validator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/exp/slices"

	roastmodel "github.com/sigranet/sigra-go/consensus/roast/model"
	"github.com/sigranet/sigra-go/model/consensus"
)

// Coordinator is the role the producer assumes once it has a batch
// commitment to get signed: it requests validation from the era validators,
// collects a threshold of ECDSA replies, then drives a ROAST signing session
// over the batch digest. The role completes when the matching aggregate
// signature arrives.
type Coordinator struct {
	ctx        *Context
	block      consensus.SimpleBlock
	validators []common.Address
	era        uint64
	batch      *BatchCommitment

	// replies records validation-reply signatures by validator, self included.
	replies map[common.Address][]byte
	signing bool
}

func newCoordinator(
	ctx *Context,
	block consensus.SimpleBlock,
	validators []common.Address,
	era uint64,
	batch *BatchCommitment,
) (State, error) {

	signature, err := ctx.core.Signer.Sign(batch.Digest)
	if err != nil {
		return nil, fmt.Errorf("could not sign batch digest: %w", err)
	}

	coordinator := &Coordinator{
		ctx:        ctx,
		block:      block,
		validators: validators,
		era:        era,
		batch:      batch,
		replies: map[common.Address][]byte{
			ctx.core.Self(): signature,
		},
	}

	ctx.Output(consensus.PublishValidationRequest{
		Request: consensus.ValidationRequest{
			BlockHash: block.Hash,
			Digest:    batch.Digest,
		},
	})

	// with a threshold of one, our own signature already suffices
	err = coordinator.maybeStartSigning()
	if err != nil {
		return nil, err
	}
	return coordinator, nil
}

func (c *Coordinator) Context() *Context {
	return c.ctx
}

func (c *Coordinator) Name() string {
	return "coordinator"
}

func (c *Coordinator) processValidationReply(reply consensus.ValidationReply) (State, error) {
	if reply.Digest != c.batch.Digest {
		c.ctx.Warning(fmt.Sprintf("discarding validation reply for foreign digest %x", reply.Digest[:4]))
		return c, nil
	}

	signer, err := reply.Signer()
	if err != nil {
		c.ctx.Warning(fmt.Sprintf("discarding unverifiable validation reply: %v", err))
		return c, nil
	}
	if !slices.Contains(c.validators, signer) {
		c.ctx.Warning(fmt.Sprintf("discarding validation reply from non-validator %x", signer[:4]))
		return c, nil
	}
	if _, ok := c.replies[signer]; ok {
		return c, nil
	}
	c.replies[signer] = reply.Signature

	err = c.maybeStartSigning()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// maybeStartSigning kicks off the ROAST session once a threshold of
// validators confirmed the batch digest. It runs at most once per role.
func (c *Coordinator) maybeStartSigning() error {
	if c.signing || uint32(len(c.replies)) < c.ctx.core.Threshold {
		return nil
	}

	messages, err := c.ctx.dispatcher.manager.StartSigning(
		c.batch.Digest,
		c.era,
		c.ctx.core.TweakTarget,
		c.ctx.core.Threshold,
		c.validators,
	)
	if err != nil {
		return fmt.Errorf("could not start signing session: %w", err)
	}
	c.signing = true

	c.ctx.log.Info().
		Hex("digest", c.batch.Digest[:4]).
		Uint64("era", c.era).
		Int("replies", len(c.replies)).
		Msg("batch validated, starting threshold signing")

	return c.ctx.emitMessages(messages)
}

// complete finishes the role with the aggregate signature over the batch
// digest and returns to Initial.
func (c *Coordinator) complete(aggregate *roastmodel.SignAggregate) (State, error) {
	c.ctx.Output(consensus.CommitBatch{
		Digest:    c.batch.Digest,
		Aggregate: aggregate,
	})
	return NewInitial(c.ctx), nil
}
