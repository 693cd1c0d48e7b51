package validator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/exp/slices"

	"github.com/sigranet/sigra-go/model/consensus"
)

type initialPhase uint8

const (
	waitingChainHead initialPhase = iota
	waitingSyncedBlock
	waitingPreparedBlock
)

// Initial is the role every validator starts a slot in: it follows the chain
// head through sync and preparation, then resolves the slot producer and
// switches to Producer or Subordinate.
type Initial struct {
	ctx   *Context
	phase initialPhase
	head  common.Hash
}

// NewInitial creates the boot state, before any chain head is known.
func NewInitial(ctx *Context) *Initial {
	return &Initial{ctx: ctx, phase: waitingChainHead}
}

// newInitialWithHead creates the Initial state already tracking a head, as
// every new-head event does.
func newInitialWithHead(ctx *Context, block consensus.SimpleBlock) *Initial {
	ctx.log.Debug().
		Hex("head", block.Hash[:4]).
		Uint64("height", block.Height).
		Msg("tracking new chain head")
	return &Initial{ctx: ctx, phase: waitingSyncedBlock, head: block.Hash}
}

func (i *Initial) Context() *Context {
	return i.ctx
}

func (i *Initial) Name() string {
	return "initial"
}

func (i *Initial) processSyncedBlock(hash common.Hash) (State, error) {
	if i.phase != waitingSyncedBlock || hash != i.head {
		i.ctx.Warning(fmt.Sprintf("unexpected synced block %x, waiting for %x", hash[:4], i.head[:4]))
		return i, nil
	}
	i.phase = waitingPreparedBlock
	return i, nil
}

func (i *Initial) processPreparedBlock(block consensus.SimpleBlock, validators []common.Address) (State, error) {
	if i.phase != waitingPreparedBlock || block.Hash != i.head {
		i.ctx.Warning(fmt.Sprintf("unexpected prepared block %x, waiting for %x", block.Hash[:4], i.head[:4]))
		return i, nil
	}
	if len(validators) == 0 {
		return nil, fmt.Errorf("prepared block %x carries an empty validator set", block.Hash)
	}

	timelines := i.ctx.core.Timelines
	era := timelines.Era(block.Timestamp)
	producer := timelines.SlotProducer(validators, block.Timestamp)
	self := i.ctx.core.Self()
	isValidator := slices.Contains(validators, self)

	i.ctx.log.Debug().
		Uint64("era", era).
		Hex("producer", producer[:]).
		Bool("is_validator", isValidator).
		Msg("resolved slot producer")

	if producer == self && isValidator {
		return newProducer(i.ctx, block, validators, era)
	}
	return newSubordinate(i.ctx, block, producer, era, isValidator)
}
