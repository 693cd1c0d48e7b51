package validator

import (
	"crypto/ecdsa"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sigranet/sigra-go/model/consensus"
)

// Signer signs protocol digests with the validator's ECDSA identity key.
type Signer interface {

	// Address returns the validator address bound to the key.
	Address() common.Address

	// Sign produces a 65-byte recoverable signature over the digest.
	Sign(digest common.Hash) ([]byte, error)
}

// ECDSASigner is a Signer over an in-memory secp256k1 private key.
type ECDSASigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ Signer = (*ECDSASigner)(nil)

func NewECDSASigner(key *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *ECDSASigner) Address() common.Address {
	return s.address
}

func (s *ECDSASigner) Sign(digest common.Hash) ([]byte, error) {
	signature, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("could not sign digest: %w", err)
	}
	return signature, nil
}

// BatchCommitment is the digest of everything a block commits on-chain. The
// aggregation of the underlying commitments happens in the execution layer;
// this layer only coordinates its validation and threshold signing.
type BatchCommitment struct {
	BlockHash common.Hash
	Digest    common.Hash
}

// BatchPlanner is the execution-layer collaborator that aggregates and
// validates batch commitments.
type BatchPlanner interface {

	// PlanBatch aggregates the batch commitment for a computed block. A nil
	// commitment means there is nothing to commit for this block.
	PlanBatch(block consensus.SimpleBlock) (*BatchCommitment, error)

	// ValidateRequest recomputes the batch commitment for the block and
	// checks it against the digest claimed by the request. It returns the
	// confirmed digest, or an error describing the mismatch.
	ValidateRequest(block consensus.SimpleBlock, request consensus.ValidationRequest) (common.Hash, error)
}

// Core bundles the collaborators and parameters shared by all role states. It
// is owned by the Context and moves with it across transitions.
type Core struct {
	Signer    Signer
	Timelines consensus.Timelines

	// Threshold is the number of validator confirmations a batch commitment
	// needs, both as ECDSA validation replies and as the FROST threshold.
	Threshold uint32

	// TweakTarget scopes the tweaked group key of every signing session, so
	// signatures for one deployment never verify under another.
	TweakTarget common.Hash

	Planner BatchPlanner
	TxPool  *TransactionPool

	// MaxAnnounceTransactions bounds how many injected transactions an
	// announce may carry before it is rejected.
	MaxAnnounceTransactions int

	rejectedAnnounces *lru.Cache
}

const defaultRejectedAnnounceCacheSize = 1024

// NewCore wires the shared validator core. The rejected-announce buffer
// remembers announces that failed acceptance, so replays are dropped without
// re-validation.
func NewCore(
	signer Signer,
	timelines consensus.Timelines,
	threshold uint32,
	tweakTarget common.Hash,
	planner BatchPlanner,
	txPool *TransactionPool,
	maxAnnounceTransactions int,
) (*Core, error) {

	rejected, err := lru.New(defaultRejectedAnnounceCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create rejected announce cache: %w", err)
	}

	return &Core{
		Signer:                  signer,
		Timelines:               timelines,
		Threshold:               threshold,
		TweakTarget:             tweakTarget,
		Planner:                 planner,
		TxPool:                  txPool,
		MaxAnnounceTransactions: maxAnnounceTransactions,
		rejectedAnnounces:       rejected,
	}, nil
}

// Self returns the validator's own address.
func (c *Core) Self() common.Address {
	return c.Signer.Address()
}

// AcceptAnnounce runs the acceptance checks on a producer announce. It
// returns the announce hash and whether the announce was accepted; rejected
// announces are remembered so replays short-circuit.
func (c *Core) AcceptAnnounce(announce consensus.Announce) (common.Hash, bool, error) {
	hash, err := announce.ToHash()
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("could not hash announce: %w", err)
	}

	if c.rejectedAnnounces.Contains(hash) {
		return hash, false, nil
	}

	if len(announce.Transactions) > c.MaxAnnounceTransactions {
		c.rejectedAnnounces.Add(hash, struct{}{})
		return hash, false, nil
	}

	return hash, true, nil
}
