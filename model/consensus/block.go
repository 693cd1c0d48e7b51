package consensus

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SimpleBlock is the minimal view of a chain block this layer needs: identity,
// parentage and the timestamp that anchors slot and era arithmetic.
type SimpleBlock struct {
	Hash       common.Hash
	ParentHash common.Hash
	Height     uint64
	// Timestamp is the block time in unix seconds.
	Timestamp uint64
}

// Timelines derives protocol time coordinates from block timestamps. Slot 0
// and era 0 both begin at GenesisTime.
type Timelines struct {
	// GenesisTime is the unix timestamp of the start of slot 0.
	GenesisTime  uint64
	SlotDuration time.Duration
	EraDuration  time.Duration
}

// Era returns the era the timestamp falls into.
func (t Timelines) Era(timestamp uint64) uint64 {
	if timestamp < t.GenesisTime {
		return 0
	}
	return (timestamp - t.GenesisTime) / uint64(t.EraDuration/time.Second)
}

// Slot returns the slot the timestamp falls into.
func (t Timelines) Slot(timestamp uint64) uint64 {
	if timestamp < t.GenesisTime {
		return 0
	}
	return (timestamp - t.GenesisTime) / uint64(t.SlotDuration/time.Second)
}

// SlotProducer returns the validator responsible for producing in the slot of
// the given timestamp, by round-robin over the era validator set.
func (t Timelines) SlotProducer(validators []common.Address, timestamp uint64) common.Address {
	slot := t.Slot(timestamp)
	return validators[slot%uint64(len(validators))]
}
