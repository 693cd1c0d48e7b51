package consensus

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v4"

	roastmodel "github.com/sigranet/sigra-go/consensus/roast/model"
)

// Announce is the slot producer's proposal for a block: which block it extends
// and which injected transactions it carries. All validators compute the
// announce independently and validate the resulting batch commitment.
type Announce struct {
	BlockHash      common.Hash
	ParentAnnounce common.Hash
	// Transactions are the injected off-chain transactions included by the
	// producer, in inclusion order.
	Transactions [][]byte
}

// ToHash returns the canonical identity of the announce.
func (a *Announce) ToHash() (common.Hash, error) {
	return digest(a)
}

// SignedAnnounce is an announce together with the producer's recoverable
// ECDSA signature over its hash.
type SignedAnnounce struct {
	Announce  Announce
	Signature []byte
}

// Verify recovers the producer address from the signature.
func (s *SignedAnnounce) Verify() (common.Address, error) {
	hash, err := s.Announce.ToHash()
	if err != nil {
		return common.Address{}, fmt.Errorf("could not hash announce: %w", err)
	}
	return RecoverSigner(hash, s.Signature)
}

// VerifiedAnnounce is an announce whose producer signature has already been
// verified at the network boundary.
type VerifiedAnnounce struct {
	Announce Announce
	From     common.Address
}

// ValidationRequest asks the other validators of the era to confirm the batch
// commitment digest the producer computed for a block.
type ValidationRequest struct {
	BlockHash common.Hash
	Digest    common.Hash
}

// VerifiedValidationRequest is a validation request whose sender signature has
// already been verified at the network boundary.
type VerifiedValidationRequest struct {
	Request ValidationRequest
	From    common.Address
}

// ValidationReply is a validator's recoverable ECDSA signature over a batch
// commitment digest it has independently recomputed.
type ValidationReply struct {
	Digest    common.Hash
	Signature []byte
}

// Signer returns the validator address recovered from the reply signature.
func (r *ValidationReply) Signer() (common.Address, error) {
	return RecoverSigner(r.Digest, r.Signature)
}

// SignedValidatorMessage is the network envelope around one ROAST protocol
// message: the payload plus the sender's recoverable ECDSA signature over the
// payload digest.
type SignedValidatorMessage struct {
	Message   roastmodel.Message
	Signature []byte
}

// Verify recovers the sender address from the envelope signature. It fails on
// a malformed signature or an unhashable payload.
func (m *SignedValidatorMessage) Verify() (common.Address, error) {
	hash, err := MessageDigest(m.Message)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverSigner(hash, m.Signature)
}

// VerifiedValidatorMessage is a ROAST protocol message with an authenticated
// sender.
type VerifiedValidatorMessage struct {
	Message roastmodel.Message
	From    common.Address
}

// MessageDigest returns the digest a validator signs when broadcasting the
// given ROAST message.
func MessageDigest(message roastmodel.Message) (common.Hash, error) {
	return digest(message)
}

// RecoverSigner recovers the address behind a 65-byte recoverable ECDSA
// signature over the given digest.
func RecoverSigner(hash common.Hash, signature []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(hash[:], signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("could not recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func digest(value interface{}) (common.Hash, error) {
	encoded, err := msgpack.Marshal(value)
	if err != nil {
		return common.Hash{}, fmt.Errorf("could not encode value for hashing: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}
