package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/exp/slices"
)

// SessionID identifies one logical ROAST signing round. A session spans one
// or more attempts; all attempts of a session share the same SessionID.
type SessionID struct {
	MsgHash common.Hash
	Era     uint64
}

func (s SessionID) String() string {
	return fmt.Sprintf("%x@%d", s.MsgHash[:4], s.Era)
}

// SignKind discriminates what the message hash of a signing session commits to.
type SignKind uint8

const (
	// SignKindBatchCommitment is a signature over a batch commitment digest.
	SignKindBatchCommitment SignKind = iota
	// SignKindArbitraryHash is a signature over an arbitrary 32-byte hash.
	SignKindArbitraryHash
)

// SignSessionRequest asks the listed participants to take part in one signing
// attempt led by Leader. Requests are produced by the initial leader and by
// any node that computes a retry plan after a stall.
type SignSessionRequest struct {
	Era         uint64
	Leader      common.Address
	Attempt     uint32
	MsgHash     common.Hash
	TweakTarget common.Hash
	Threshold   uint32
	// Participants is sorted ascending by address. Leader election and DKG
	// identifier assignment both depend on this canonical order.
	Participants []common.Address
	Kind         SignKind
}

// SessionID returns the session the request belongs to.
func (r *SignSessionRequest) SessionID() SessionID {
	return SessionID{MsgHash: r.MsgHash, Era: r.Era}
}

// Validate checks the structural invariants of the request:
// a non-empty, sorted, duplicate-free participant set that satisfies the
// threshold, and a leader drawn from the participant set.
func (r *SignSessionRequest) Validate() error {
	if len(r.Participants) == 0 {
		return NewInvalidRequestErrorf("empty participant set")
	}
	if r.Threshold == 0 {
		return NewInvalidRequestErrorf("zero threshold")
	}
	if uint32(len(r.Participants)) < r.Threshold {
		return NewInvalidRequestErrorf("threshold %d exceeds %d participants", r.Threshold, len(r.Participants))
	}
	if !slices.IsSortedFunc(r.Participants, func(a, b common.Address) int { return a.Cmp(b) }) {
		return NewInvalidRequestErrorf("participants not in canonical order")
	}
	for i := 1; i < len(r.Participants); i++ {
		if r.Participants[i] == r.Participants[i-1] {
			return NewInvalidRequestErrorf("duplicate participant %x", r.Participants[i])
		}
	}
	if !slices.Contains(r.Participants, r.Leader) {
		return NewInvalidRequestErrorf("leader %x not in participant set", r.Leader)
	}
	return nil
}

// SessionState is the persisted state of a signing session. It is created
// lazily on the first request or commit for a session, mutated by every
// ingest call, and read back after a restart to restore in-flight rounds.
type SessionState struct {
	Request      *SignSessionRequest
	NonceCommits []SignNonceCommit
	SignShares   []SignShare
	Aggregate    *SignAggregate
	Completed    bool
}

// HasNonceCommit reports whether the given signer has already contributed a
// nonce commitment to this session.
func (s *SessionState) HasNonceCommit(signer common.Address) bool {
	for _, c := range s.NonceCommits {
		if c.From == signer {
			return true
		}
	}
	return false
}

// HasSignShare reports whether the given signer has already contributed a
// partial signature to this session.
func (s *SessionState) HasSignShare(signer common.Address) bool {
	for _, sh := range s.SignShares {
		if sh.From == signer {
			return true
		}
	}
	return false
}

// AddNonceCommit appends the commitment unless the signer already has one
// recorded. It returns true if the state changed.
func (s *SessionState) AddNonceCommit(commit SignNonceCommit) bool {
	if s.HasNonceCommit(commit.From) {
		return false
	}
	s.NonceCommits = append(s.NonceCommits, commit)
	return true
}

// AddSignShare appends the partial signature unless the signer already has
// one recorded. It returns true if the state changed.
func (s *SessionState) AddSignShare(share SignShare) bool {
	if s.HasSignShare(share.From) {
		return false
	}
	s.SignShares = append(s.SignShares, share)
	return true
}
