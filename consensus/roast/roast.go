// Package roast implements the coordination layer of the ROAST threshold
// signing protocol: session bookkeeping, stall detection, leader rotation and
// persistence of in-flight rounds. The FROST cryptography itself sits behind
// the SessionCore and SignerCore interfaces, so this package never touches
// nonces or signature shares beyond treating them as opaque bytes.
package roast

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/consensus/roast/model"
)

// SessionConfig parameterizes one signing attempt.
type SessionConfig struct {
	Era          uint64
	MsgHash      common.Hash
	TweakTarget  common.Hash
	Attempt      uint32
	Threshold    uint32
	Participants []common.Address
	Self         common.Address
	Kind         model.SignKind
}

// SessionID returns the session the attempt belongs to.
func (c *SessionConfig) SessionID() model.SessionID {
	return model.SessionID{MsgHash: c.MsgHash, Era: c.Era}
}

// Coordinator is the leader-side state machine of one signing session. It is
// driven synchronously by the Manager; every call returns the actions the
// caller must carry out (broadcasts, completion, failure). Implementations
// are not required to be safe for concurrent use.
type Coordinator interface {

	// Start begins a signing attempt with self as leader. It errors if the
	// coordinator is already active or self is not the elected leader for
	// the attempt.
	Start(config SessionConfig) ([]Action, error)

	// ProcessNonceCommit ingests a participant's round-1 nonce commitment.
	// Once a threshold of commitments is collected, the returned actions
	// include the signing-package broadcast.
	ProcessNonceCommit(commit model.SignNonceCommit) ([]Action, error)

	// ProcessSignShare ingests a participant's round-2 signature share.
	// Once the aggregate is complete, the returned actions include the
	// aggregate broadcast and session completion.
	ProcessSignShare(share model.SignShare) ([]Action, error)

	// ProcessTimeout checks the attempt against its stage deadline. On
	// expiry the coordinator fails the attempt and reports the stalled
	// stage, so the caller can exclude missing signers and retry.
	ProcessTimeout(now time.Time) ([]Action, error)
}

// Participant is the signer-side state machine of one signing session.
type Participant interface {

	// ProcessSignRequest ingests the leader's session request and produces
	// the nonce-commitment reply.
	ProcessSignRequest(request *model.SignSessionRequest) ([]Action, error)

	// ProcessNoncePackage ingests the leader's signing package and produces
	// the signature-share reply.
	ProcessNoncePackage(pkg *model.SignNoncePackage) ([]Action, error)
}

// CoordinatorFactory creates a fresh, idle coordinator for one signing
// attempt. The Manager calls it whenever self is elected leader, including on
// restore after a restart.
type CoordinatorFactory func() Coordinator

// ParticipantFactory creates a fresh participant for one signing session.
type ParticipantFactory func() Participant

// SessionCore abstracts the FROST mathematics of one leader-side signing
// attempt. Contributions and results cross the interface as opaque
// serialized bytes.
type SessionCore interface {

	// Receive ingests one participant's contribution: commitments only on
	// round 1, a signature share plus next-attempt commitments on round 2.
	// It returns MaliciousSignerError if the contribution fails
	// cryptographic verification.
	Receive(from common.Address, share []byte, commitments []byte) (*SessionStatus, error)

	// TweakedPublicKey returns the 33-byte compressed group public key
	// after tweaking for the session's target.
	TweakedPublicKey() []byte
}

// SessionStatus reports the progress of the underlying FROST session after a
// contribution was ingested. At most one of the fields is set.
type SessionStatus struct {
	// Package lists the selected signers with their commitments; it is set
	// once a threshold of round-1 commitments has been collected.
	Package []model.SignerCommitment
	// Signature is the complete 96-byte (Rx || Ry || z) aggregate; it is
	// set once enough valid signature shares have been collected.
	Signature []byte
}

// SessionCoreFactory creates the FROST session core for one signing attempt.
type SessionCoreFactory func(config SessionConfig) (SessionCore, error)

// SignerCore abstracts the FROST mathematics of the signer side.
type SignerCore interface {

	// Commit produces the serialized round-1 nonce commitment.
	Commit() ([]byte, error)

	// Sign produces the serialized round-2 signature share for the signing
	// package, together with fresh commitments for a follow-up attempt.
	Sign(pkg *model.SignNoncePackage) (share []byte, nextCommitments []byte, err error)
}

// SignerCoreFactory creates the FROST signer core for one signing session.
type SignerCoreFactory func(request *model.SignSessionRequest) (SignerCore, error)
