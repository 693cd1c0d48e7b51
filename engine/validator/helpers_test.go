package validator

import (
	"crypto/ecdsa"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sigranet/sigra-go/consensus/roast"
	roastmodel "github.com/sigranet/sigra-go/consensus/roast/model"
	"github.com/sigranet/sigra-go/model/consensus"
	"github.com/sigranet/sigra-go/module/metrics"
	"github.com/sigranet/sigra-go/storage/inmem"
	"github.com/sigranet/sigra-go/utils/unittest"
)

// fakePlanner is a deterministic stand-in for the execution-layer batch
// aggregation.
type fakePlanner struct {
	batch       *BatchCommitment
	planErr     error
	validateErr error
}

func (f *fakePlanner) PlanBatch(block consensus.SimpleBlock) (*BatchCommitment, error) {
	return f.batch, f.planErr
}

func (f *fakePlanner) ValidateRequest(block consensus.SimpleBlock, request consensus.ValidationRequest) (common.Hash, error) {
	if f.validateErr != nil {
		return common.Hash{}, f.validateErr
	}
	return request.Digest, nil
}

// fakeSessionCore forms the signing package at a threshold of commitments and
// the signature at a threshold of shares.
type fakeSessionCore struct {
	threshold int
	commits   []roastmodel.SignerCommitment
	shares    int
}

func (f *fakeSessionCore) Receive(from common.Address, share []byte, commitments []byte) (*roast.SessionStatus, error) {
	if share == nil {
		f.commits = append(f.commits, roastmodel.SignerCommitment{Signer: from, Commitment: commitments})
		if len(f.commits) == f.threshold {
			return &roast.SessionStatus{Package: f.commits}, nil
		}
		return &roast.SessionStatus{}, nil
	}
	f.shares++
	if f.shares == f.threshold {
		return &roast.SessionStatus{Signature: unittest.BytesFixture(96)}, nil
	}
	return &roast.SessionStatus{}, nil
}

func (f *fakeSessionCore) TweakedPublicKey() []byte {
	return unittest.BytesFixture(33)
}

type fakeSignerCore struct{}

func (f *fakeSignerCore) Commit() ([]byte, error) {
	return unittest.BytesFixture(66), nil
}

func (f *fakeSignerCore) Sign(pkg *roastmodel.SignNoncePackage) ([]byte, []byte, error) {
	return unittest.BytesFixture(32), unittest.BytesFixture(66), nil
}

// harness drives one validator instance against a set of peer keys.
type harness struct {
	service    *Service
	sessions   *inmem.RoastState
	planner    *fakePlanner
	keys       map[common.Address]*ecdsa.PrivateKey
	validators []common.Address
	self       common.Address
	timelines  consensus.Timelines
}

func newHarness(t *testing.T, n int, threshold uint32) *harness {
	t.Helper()

	keys := make(map[common.Address]*ecdsa.PrivateKey, n)
	validators := make([]common.Address, 0, n)
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		addr := crypto.PubkeyToAddress(key.PublicKey)
		keys[addr] = key
		validators = append(validators, addr)
	}
	slices.SortFunc(validators, func(a, b common.Address) int { return a.Cmp(b) })

	self := validators[0]
	timelines := consensus.Timelines{
		GenesisTime:  0,
		SlotDuration: 12 * time.Second,
		EraDuration:  time.Hour,
	}

	sessions := inmem.NewRoastState()
	planner := &fakePlanner{}

	config := DefaultConfig()
	config.Timelines = timelines
	config.Threshold = threshold
	config.TweakTarget = unittest.HashFixture()

	service, err := NewService(
		unittest.Logger(),
		metrics.NewNoopCollector(),
		metrics.NewNoopCollector(),
		sessions,
		NewECDSASigner(keys[self]),
		planner,
		func(config roast.SessionConfig) (roast.SessionCore, error) {
			return &fakeSessionCore{threshold: int(config.Threshold)}, nil
		},
		func(request *roastmodel.SignSessionRequest) (roast.SignerCore, error) {
			return &fakeSignerCore{}, nil
		},
		config,
	)
	require.NoError(t, err)

	return &harness{
		service:    service,
		sessions:   sessions,
		planner:    planner,
		keys:       keys,
		validators: validators,
		self:       self,
		timelines:  timelines,
	}
}

// blockForProducer crafts a block whose slot elects the given producer.
func (h *harness) blockForProducer(t *testing.T, producer common.Address) consensus.SimpleBlock {
	t.Helper()
	n := uint64(len(h.validators))
	for slot := uint64(0); slot < n; slot++ {
		if h.validators[slot%n] == producer {
			return consensus.SimpleBlock{
				Hash:       unittest.HashFixture(),
				ParentHash: unittest.HashFixture(),
				Height:     slot,
				Timestamp:  h.timelines.GenesisTime + slot*uint64(h.timelines.SlotDuration/time.Second),
			}
		}
	}
	t.Fatalf("producer %x not in validator set", producer)
	return consensus.SimpleBlock{}
}

// advanceTo walks the service through head, sync and preparation of the block.
func (h *harness) advanceTo(t *testing.T, block consensus.SimpleBlock) {
	t.Helper()
	require.NoError(t, h.service.OnChainHead(block))
	require.NoError(t, h.service.OnSyncedBlock(block.Hash))
	require.NoError(t, h.service.OnPreparedBlock(block, h.validators))
}

// sign produces a recoverable signature over the digest with the key of the
// given validator.
func (h *harness) sign(t *testing.T, validator common.Address, digest common.Hash) []byte {
	t.Helper()
	key, ok := h.keys[validator]
	require.True(t, ok, "unknown validator %x", validator)
	signature, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	return signature
}

// signMessage wraps a ROAST message into a network envelope signed by the
// given validator.
func (h *harness) signMessage(t *testing.T, validator common.Address, message roastmodel.Message) consensus.SignedValidatorMessage {
	t.Helper()
	digest, err := consensus.MessageDigest(message)
	require.NoError(t, err)
	return consensus.SignedValidatorMessage{
		Message:   message,
		Signature: h.sign(t, validator, digest),
	}
}

// signedAnnounce builds a verified announce from the given producer.
func announceFrom(producer common.Address, block consensus.SimpleBlock, txs ...[]byte) consensus.VerifiedAnnounce {
	return consensus.VerifiedAnnounce{
		Announce: consensus.Announce{
			BlockHash:    block.Hash,
			Transactions: txs,
		},
		From: producer,
	}
}

// peer returns a validator address other than self.
func (h *harness) peer() common.Address {
	for _, validator := range h.validators {
		if validator != h.self {
			return validator
		}
	}
	panic(fmt.Sprintf("no peer besides %x", h.self))
}
