package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/model/consensus"
	"github.com/sigranet/sigra-go/utils/unittest"
)

func TestSubordinate_AcceptsProducerAnnounce(t *testing.T) {
	h := newHarness(t, 3, 2)
	producer := h.peer()
	block := h.blockForProducer(t, producer)
	h.advanceTo(t, block)
	require.Equal(t, "subordinate", h.service.State())

	announce := announceFrom(producer, block)
	require.NoError(t, h.service.OnAnnounce(announce))

	require.Equal(t, "subordinate", h.service.State())
	outputs := h.service.Outputs()
	require.Len(t, outputs, 2)
	accepted, ok := outputs[0].(consensus.AnnounceAccepted)
	require.True(t, ok)
	computed, ok := outputs[1].(consensus.ComputeAnnounce)
	require.True(t, ok)

	hash, err := computed.Announce.ToHash()
	require.NoError(t, err)
	assert.Equal(t, hash, accepted.Hash)
}

func TestSubordinate_ConsumesBufferedAnnounce(t *testing.T) {
	h := newHarness(t, 3, 2)
	producer := h.peer()
	block := h.blockForProducer(t, producer)

	// the announce arrives before the role is resolved and is buffered
	require.NoError(t, h.service.OnAnnounce(announceFrom(producer, block)))
	require.Equal(t, "initial", h.service.State())
	require.Empty(t, h.service.Outputs())

	h.advanceTo(t, block)

	// the buffered announce is consumed on entry
	require.Equal(t, "subordinate", h.service.State())
	outputs := h.service.Outputs()
	require.Len(t, outputs, 2)
	_, ok := outputs[0].(consensus.AnnounceAccepted)
	assert.True(t, ok)
}

func TestSubordinate_IgnoresForeignAnnounce(t *testing.T) {
	h := newHarness(t, 4, 2)
	producer := h.peer()
	block := h.blockForProducer(t, producer)
	h.advanceTo(t, block)

	// an announce from a non-producer is buffered, not accepted
	var other common.Address
	for _, validator := range h.validators {
		if validator != h.self && validator != producer {
			other = validator
			break
		}
	}
	require.NoError(t, h.service.OnAnnounce(announceFrom(other, block)))

	assert.Equal(t, "subordinate", h.service.State())
	assert.Empty(t, h.service.Outputs())
}

func TestSubordinate_RejectsOversizedAnnounce(t *testing.T) {
	h := newHarness(t, 3, 2)
	producer := h.peer()
	block := h.blockForProducer(t, producer)
	h.advanceTo(t, block)

	limit := h.service.state.Context().core.MaxAnnounceTransactions
	txs := make([][]byte, limit+1)
	for i := range txs {
		txs[i] = unittest.BytesFixture(8)
	}
	announce := announceFrom(producer, block, txs...)
	require.NoError(t, h.service.OnAnnounce(announce))

	// rejection aborts the slot
	require.Equal(t, "initial", h.service.State())
	outputs := h.service.Outputs()
	require.Len(t, outputs, 2)
	_, ok := outputs[0].(consensus.AnnounceRejected)
	assert.True(t, ok)
	_, ok = outputs[1].(consensus.Warning)
	assert.True(t, ok)

	// a replay is rejected straight from the buffer
	h.advanceTo(t, block)
	require.NoError(t, h.service.OnAnnounce(announce))
	require.Equal(t, "initial", h.service.State())
	outputs = h.service.Outputs()
	require.Len(t, outputs, 2)
	_, ok = outputs[0].(consensus.AnnounceRejected)
	assert.True(t, ok)
}

func TestSubordinate_ToParticipantReply(t *testing.T) {
	h := newHarness(t, 3, 2)
	producer := h.peer()
	block := h.blockForProducer(t, producer)
	h.advanceTo(t, block)

	// producer's validation request arrives early and is buffered
	digest := unittest.HashFixture()
	require.NoError(t, h.service.OnValidationRequest(consensus.VerifiedValidationRequest{
		Request: consensus.ValidationRequest{BlockHash: block.Hash, Digest: digest},
		From:    producer,
	}))
	require.Equal(t, "subordinate", h.service.State())
	require.Empty(t, h.service.Outputs())

	require.NoError(t, h.service.OnAnnounce(announceFrom(producer, block)))
	outputs := h.service.Outputs()
	require.Len(t, outputs, 2)
	computed := outputs[1].(consensus.ComputeAnnounce)
	hash, err := computed.Announce.ToHash()
	require.NoError(t, err)

	// computation done: the node becomes participant, consumes the buffered
	// request and replies immediately
	require.NoError(t, h.service.OnComputedAnnounce(hash))

	assert.Equal(t, "initial", h.service.State())
	outputs = h.service.Outputs()
	require.Len(t, outputs, 1)
	published, ok := outputs[0].(consensus.PublishValidationReply)
	require.True(t, ok)
	assert.Equal(t, digest, published.Reply.Digest)

	signer, err := published.Reply.Signer()
	require.NoError(t, err)
	assert.Equal(t, h.self, signer)
}

func TestParticipant_RejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, 3, 2)
	producer := h.peer()
	block := h.blockForProducer(t, producer)
	h.advanceTo(t, block)

	require.NoError(t, h.service.OnAnnounce(announceFrom(producer, block)))
	outputs := h.service.Outputs()
	require.Len(t, outputs, 2)
	computed := outputs[1].(consensus.ComputeAnnounce)
	hash, err := computed.Announce.ToHash()
	require.NoError(t, err)

	require.NoError(t, h.service.OnComputedAnnounce(hash))
	require.Equal(t, "participant", h.service.State())

	// a request the planner cannot reproduce is rejected; the participant
	// does not wait for a second chance
	h.planner.validateErr = assert.AnError
	require.NoError(t, h.service.OnValidationRequest(consensus.VerifiedValidationRequest{
		Request: consensus.ValidationRequest{BlockHash: block.Hash, Digest: unittest.HashFixture()},
		From:    producer,
	}))

	assert.Equal(t, "initial", h.service.State())
	outputs = h.service.Outputs()
	require.Len(t, outputs, 1)
	_, ok := outputs[0].(consensus.Warning)
	assert.True(t, ok)
}

func TestParticipant_IgnoresForeignRequest(t *testing.T) {
	h := newHarness(t, 4, 2)
	producer := h.peer()
	block := h.blockForProducer(t, producer)
	h.advanceTo(t, block)

	require.NoError(t, h.service.OnAnnounce(announceFrom(producer, block)))
	outputs := h.service.Outputs()
	require.Len(t, outputs, 2)
	computed := outputs[1].(consensus.ComputeAnnounce)
	hash, err := computed.Announce.ToHash()
	require.NoError(t, err)
	require.NoError(t, h.service.OnComputedAnnounce(hash))
	require.Equal(t, "participant", h.service.State())

	var other common.Address
	for _, validator := range h.validators {
		if validator != h.self && validator != producer {
			other = validator
			break
		}
	}
	require.NoError(t, h.service.OnValidationRequest(consensus.VerifiedValidationRequest{
		Request: consensus.ValidationRequest{BlockHash: block.Hash, Digest: unittest.HashFixture()},
		From:    other,
	}))

	// buffered for later, role unchanged
	assert.Equal(t, "participant", h.service.State())
	assert.Empty(t, h.service.Outputs())
}
