package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"

	roastmodel "github.com/sigranet/sigra-go/consensus/roast/model"
	"github.com/sigranet/sigra-go/model/consensus"
	"github.com/sigranet/sigra-go/utils/unittest"
)

// announceProduced drives the producer through its collection window and
// returns the published announce.
func announceProduced(t *testing.T, h *harness) consensus.SignedAnnounce {
	t.Helper()

	require.NoError(t, h.service.Poll(time.Now().Add(time.Minute)))

	outputs := h.service.Outputs()
	require.Len(t, outputs, 2)
	published, ok := outputs[0].(consensus.PublishAnnounce)
	require.True(t, ok)
	computed, ok := outputs[1].(consensus.ComputeAnnounce)
	require.True(t, ok)
	assert.Equal(t, published.Announce.Announce, computed.Announce)

	return published.Announce
}

func TestProducer_PublishesAnnounceWithPooledTransactions(t *testing.T) {
	h := newHarness(t, 3, 2)
	block := h.blockForProducer(t, h.self)
	h.advanceTo(t, block)
	require.Equal(t, "producer", h.service.State())

	tx := unittest.BytesFixture(64)
	require.NoError(t, h.service.OnTransaction(tx))

	// the window has not elapsed yet
	require.NoError(t, h.service.Poll(time.Now()))
	require.Empty(t, h.service.Outputs())
	require.Equal(t, "producer", h.service.State())

	announce := announceProduced(t, h)
	assert.Equal(t, block.Hash, announce.Announce.BlockHash)
	require.Len(t, announce.Announce.Transactions, 1)
	assert.Equal(t, tx, announce.Announce.Transactions[0])

	// the announce signature recovers the producer
	signer, err := announce.Verify()
	require.NoError(t, err)
	assert.Equal(t, h.self, signer)

	// included transactions leave the pool
	require.NoError(t, h.service.Poll(time.Now().Add(2*time.Minute)))
	assert.Empty(t, h.service.Outputs())
}

func TestProducer_EmptyBatchReturnsToInitial(t *testing.T) {
	h := newHarness(t, 3, 2)
	block := h.blockForProducer(t, h.self)
	h.advanceTo(t, block)

	announce := announceProduced(t, h)
	hash, err := announce.Announce.ToHash()
	require.NoError(t, err)

	h.planner.batch = nil
	require.NoError(t, h.service.OnComputedAnnounce(hash))

	assert.Equal(t, "initial", h.service.State())
	assert.Empty(t, h.service.Outputs())
}

func TestProducer_BatchLeadsToCoordinator(t *testing.T) {
	h := newHarness(t, 3, 2)
	block := h.blockForProducer(t, h.self)
	h.advanceTo(t, block)

	announce := announceProduced(t, h)
	hash, err := announce.Announce.ToHash()
	require.NoError(t, err)

	digest := unittest.HashFixture()
	h.planner.batch = &BatchCommitment{BlockHash: block.Hash, Digest: digest}
	require.NoError(t, h.service.OnComputedAnnounce(hash))

	require.Equal(t, "coordinator", h.service.State())
	outputs := h.service.Outputs()
	require.Len(t, outputs, 1)
	request, ok := outputs[0].(consensus.PublishValidationRequest)
	require.True(t, ok)
	assert.Equal(t, digest, request.Request.Digest)
	assert.Equal(t, block.Hash, request.Request.BlockHash)
}

func TestProducer_UnrelatedComputedAnnounceWarns(t *testing.T) {
	h := newHarness(t, 3, 2)
	block := h.blockForProducer(t, h.self)
	h.advanceTo(t, block)
	announceProduced(t, h)

	require.NoError(t, h.service.OnComputedAnnounce(unittest.HashFixture()))

	assert.Equal(t, "producer", h.service.State())
	outputs := h.service.Outputs()
	require.Len(t, outputs, 1)
	_, ok := outputs[0].(consensus.Warning)
	assert.True(t, ok)
}

// reachCoordinator drives the service from boot to the coordinator role over
// the given batch digest, and returns the slot block.
func reachCoordinator(t *testing.T, h *harness, digest common.Hash) consensus.SimpleBlock {
	t.Helper()

	block := h.blockForProducer(t, h.self)
	h.advanceTo(t, block)

	announce := announceProduced(t, h)
	hash, err := announce.Announce.ToHash()
	require.NoError(t, err)

	h.planner.batch = &BatchCommitment{BlockHash: block.Hash, Digest: digest}
	require.NoError(t, h.service.OnComputedAnnounce(hash))
	require.Equal(t, "coordinator", h.service.State())
	h.service.Outputs()

	return block
}

func TestCoordinator_ThresholdOfRepliesStartsSigning(t *testing.T) {
	h := newHarness(t, 3, 2)
	digest := unittest.HashFixture()
	reachCoordinator(t, h, digest)

	// a reply over a foreign digest is discarded
	foreign := unittest.HashFixture()
	require.NoError(t, h.service.OnValidationReply(consensus.ValidationReply{
		Digest:    foreign,
		Signature: h.sign(t, h.peer(), foreign),
	}))
	outputs := h.service.Outputs()
	require.Len(t, outputs, 1)
	_, warned := outputs[0].(consensus.Warning)
	assert.True(t, warned)

	// the second confirmation (self counts as the first) starts signing
	require.NoError(t, h.service.OnValidationReply(consensus.ValidationReply{
		Digest:    digest,
		Signature: h.sign(t, h.peer(), digest),
	}))

	require.Equal(t, "coordinator", h.service.State())
	outputs = h.service.Outputs()
	require.Len(t, outputs, 1)
	broadcast, ok := outputs[0].(consensus.BroadcastValidatorMessage)
	require.True(t, ok)

	request, ok := broadcast.Message.Message.(*roastmodel.SignSessionRequest)
	require.True(t, ok)
	assert.Equal(t, digest, request.MsgHash)
	assert.Equal(t, uint32(2), request.Threshold)
	assert.ElementsMatch(t, h.validators, request.Participants)

	// the envelope recovers self
	sender, err := broadcast.Message.Verify()
	require.NoError(t, err)
	assert.Equal(t, h.self, sender)

	// a duplicate reply changes nothing
	require.NoError(t, h.service.OnValidationReply(consensus.ValidationReply{
		Digest:    digest,
		Signature: h.sign(t, h.peer(), digest),
	}))
	assert.Empty(t, h.service.Outputs())
}

func TestCoordinator_MatchingAggregateCommitsBatch(t *testing.T) {
	h := newHarness(t, 3, 2)
	digest := unittest.HashFixture()
	block := reachCoordinator(t, h, digest)

	require.NoError(t, h.service.OnValidationReply(consensus.ValidationReply{
		Digest:    digest,
		Signature: h.sign(t, h.peer(), digest),
	}))
	h.service.Outputs()

	era := h.timelines.Era(block.Timestamp)
	aggregate := &roastmodel.SignAggregate{
		Era:              era,
		MsgHash:          digest,
		TweakedPublicKey: unittest.BytesFixture(33),
		Signature:        unittest.BytesFixture(96),
	}
	require.NoError(t, h.service.OnValidatorMessage(h.signMessage(t, h.peer(), aggregate)))

	assert.Equal(t, "initial", h.service.State())
	outputs := h.service.Outputs()
	require.Len(t, outputs, 1)
	commit, ok := outputs[0].(consensus.CommitBatch)
	require.True(t, ok)
	assert.Equal(t, digest, commit.Digest)
	assert.Equal(t, aggregate, commit.Aggregate)
}

func TestCoordinator_ForeignAggregateDoesNotComplete(t *testing.T) {
	h := newHarness(t, 3, 2)
	digest := unittest.HashFixture()
	block := reachCoordinator(t, h, digest)

	aggregate := &roastmodel.SignAggregate{
		Era:              h.timelines.Era(block.Timestamp),
		MsgHash:          unittest.HashFixture(),
		TweakedPublicKey: unittest.BytesFixture(33),
		Signature:        unittest.BytesFixture(96),
	}
	require.NoError(t, h.service.OnValidatorMessage(h.signMessage(t, h.peer(), aggregate)))

	assert.Equal(t, "coordinator", h.service.State())
	assert.Empty(t, h.service.Outputs())
}
