package validator

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/model/consensus"
)

type producerPhase uint8

const (
	collectingTransactions producerPhase = iota
	waitingAnnounceComputed
)

// Producer is the role of the elected slot producer: it collects injected
// transactions for a fraction of the slot, publishes its announce, waits for
// the local computation and then plans the batch commitment. A non-empty
// batch leads to the Coordinator role; an empty one back to Initial.
type Producer struct {
	ctx        *Context
	block      consensus.SimpleBlock
	validators []common.Address
	era        uint64
	phase      producerPhase

	// collectUntil is the deadline after which the announce is published.
	collectUntil time.Time
	announceHash common.Hash
}

func newProducer(ctx *Context, block consensus.SimpleBlock, validators []common.Address, era uint64) (State, error) {
	// the producer leads this slot; buffered events belong to older slots
	ctx.takePending()

	return &Producer{
		ctx:          ctx,
		block:        block,
		validators:   validators,
		era:          era,
		phase:        collectingTransactions,
		collectUntil: time.Now().Add(ctx.core.Timelines.SlotDuration / 6),
	}, nil
}

func (p *Producer) Context() *Context {
	return p.ctx
}

func (p *Producer) Name() string {
	return "producer"
}

// poll publishes the announce once the transaction collection window closed.
func (p *Producer) poll(now time.Time) (State, error) {
	if p.phase != collectingTransactions || now.Before(p.collectUntil) {
		return p, nil
	}

	announce := consensus.Announce{
		BlockHash:    p.block.Hash,
		Transactions: p.ctx.core.TxPool.Pending(),
	}
	hash, err := announce.ToHash()
	if err != nil {
		return nil, fmt.Errorf("could not hash announce: %w", err)
	}
	signature, err := p.ctx.core.Signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("could not sign announce: %w", err)
	}

	for _, tx := range announce.Transactions {
		p.ctx.core.TxPool.Remove(tx)
	}

	p.ctx.Output(consensus.PublishAnnounce{
		Announce: consensus.SignedAnnounce{Announce: announce, Signature: signature},
	})
	p.ctx.Output(consensus.ComputeAnnounce{Announce: announce})

	p.phase = waitingAnnounceComputed
	p.announceHash = hash
	return p, nil
}

func (p *Producer) processComputedAnnounce(hash common.Hash) (State, error) {
	if p.phase != waitingAnnounceComputed || hash != p.announceHash {
		p.ctx.Warning(fmt.Sprintf("unexpected computed announce %x in state producer", hash[:4]))
		return p, nil
	}

	batch, err := p.ctx.core.Planner.PlanBatch(p.block)
	if err != nil {
		return nil, fmt.Errorf("could not plan batch commitment: %w", err)
	}
	if batch == nil {
		p.ctx.log.Info().
			Hex("block", p.block.Hash[:4]).
			Msg("nothing to commit, skipping batch")
		return NewInitial(p.ctx), nil
	}

	return newCoordinator(p.ctx, p.block, p.validators, p.era, batch)
}
