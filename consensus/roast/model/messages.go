package model

import (
	"github.com/ethereum/go-ethereum/common"
)

// Message is implemented by every ROAST protocol message that crosses the
// network boundary. The concrete set is closed: session requests, nonce
// commitments, nonce packages, signature shares, culprit reports and
// aggregate signatures.
type Message interface {
	// SessionID returns the session the message belongs to.
	SessionID() SessionID
}

// SignNonceCommit carries one participant's FROST round-1 nonce commitment
// for a signing attempt.
type SignNonceCommit struct {
	Era     uint64
	From    common.Address
	MsgHash common.Hash
	// NonceCommit is the serialized signing commitment; opaque to this layer.
	NonceCommit []byte
}

// SignNoncePackage is the leader's signing package: the selected signer set
// together with their commitments, broadcast once the leader has collected a
// threshold of nonce commitments.
type SignNoncePackage struct {
	Era     uint64
	MsgHash common.Hash
	// Commitments maps the selected signers (in canonical address order) to
	// their serialized commitments.
	Commitments []SignerCommitment
}

// SignerCommitment pairs a signer with its serialized commitment inside a
// signing package.
type SignerCommitment struct {
	Signer     common.Address
	Commitment []byte
}

// Signers returns the addresses selected into the package, in package order.
func (p *SignNoncePackage) Signers() []common.Address {
	signers := make([]common.Address, 0, len(p.Commitments))
	for _, c := range p.Commitments {
		signers = append(signers, c.Signer)
	}
	return signers
}

// SignShare carries one participant's FROST round-2 partial signature, plus
// its pre-committed nonces for the next attempt.
type SignShare struct {
	Era     uint64
	From    common.Address
	MsgHash common.Hash
	// PartialSig is the serialized signature share; opaque to this layer.
	PartialSig []byte
	// NextCommitments pre-commits nonces usable by a follow-up attempt.
	NextCommitments []byte
}

// SignCulprits reports signers whose contribution failed cryptographic
// verification. Culprits are excluded from all future attempts of the
// session.
type SignCulprits struct {
	Era      uint64
	MsgHash  common.Hash
	Culprits []common.Address
}

// SignAggregate is the final joint Schnorr signature for a session.
type SignAggregate struct {
	Era     uint64
	MsgHash common.Hash
	// TweakedPublicKey is the 33-byte compressed group key after tweaking.
	TweakedPublicKey []byte
	// Signature is the 96-byte (Rx || Ry || z) aggregate signature.
	Signature []byte
}

func (c *SignNonceCommit) SessionID() SessionID {
	return SessionID{MsgHash: c.MsgHash, Era: c.Era}
}

func (p *SignNoncePackage) SessionID() SessionID {
	return SessionID{MsgHash: p.MsgHash, Era: p.Era}
}

func (s *SignShare) SessionID() SessionID {
	return SessionID{MsgHash: s.MsgHash, Era: s.Era}
}

func (c *SignCulprits) SessionID() SessionID {
	return SessionID{MsgHash: c.MsgHash, Era: c.Era}
}

func (a *SignAggregate) SessionID() SessionID {
	return SessionID{MsgHash: a.MsgHash, Era: a.Era}
}
