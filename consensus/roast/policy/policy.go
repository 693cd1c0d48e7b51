// Package policy contains the pure decision functions of the ROAST
// coordination layer: deterministic leader election, missing-signer
// detection, retry-plan construction and timeout-stage selection. All
// functions are free of I/O and side effects, so every retry decision can be
// recomputed identically by every honest node.
package policy

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/exp/slices"

	"github.com/sigranet/sigra-go/consensus/roast/model"
)

// leaderElectionTag domain-separates the leader election hash from every
// other use of keccak over session data.
const leaderElectionTag = "ROAST_LEADER_ELECTION"

// TimeoutStage identifies which protocol round a session is stalled in.
type TimeoutStage int

const (
	// StageNonce means the session is waiting for round-1 nonce commitments.
	StageNonce TimeoutStage = iota
	// StagePartial means a signing package is out and the session is waiting
	// for round-2 partial signatures.
	StagePartial
)

func (s TimeoutStage) String() string {
	switch s {
	case StageNonce:
		return "nonce"
	case StagePartial:
		return "partial"
	default:
		return "unknown"
	}
}

// RetryPlan describes the follow-up attempt of a stalled session: the bumped
// attempt counter, the leader elected for that attempt, and the participant
// set with excluded signers removed.
type RetryPlan struct {
	Attempt      uint32
	Leader       common.Address
	Participants []common.Address
}

// SelectLeader deterministically elects the leader for the given attempt of a
// session. The base leader is derived from a keccak hash over the session
// identity, then rotated round-robin once per attempt, so that every retry
// lands on a different participant.
func SelectLeader(participants []common.Address, msgHash common.Hash, era uint64, attempt uint32) common.Address {
	sorted := append([]common.Address(nil), participants...)
	slices.SortFunc(sorted, func(a, b common.Address) int { return a.Cmp(b) })

	leader := electLeader(sorted, msgHash, era)
	for i := uint32(0); i < attempt; i++ {
		leader = nextLeader(leader, sorted)
	}
	return leader
}

// electLeader picks the attempt-0 leader: seed the index with the first 8
// bytes (big-endian) of keccak(tag || msgHash || era_le) mod n.
func electLeader(sorted []common.Address, msgHash common.Hash, era uint64) common.Address {
	var eraBytes [8]byte
	binary.LittleEndian.PutUint64(eraBytes[:], era)
	seedHash := crypto.Keccak256([]byte(leaderElectionTag), msgHash[:], eraBytes[:])
	seed := binary.BigEndian.Uint64(seedHash[:8])
	return sorted[seed%uint64(len(sorted))]
}

// nextLeader rotates to the participant following the current leader in the
// sorted set, wrapping around at the end.
func nextLeader(current common.Address, sorted []common.Address) common.Address {
	idx := slices.IndexFunc(sorted, func(a common.Address) bool { return a == current })
	if idx < 0 {
		// Current leader was excluded from the set; restart at the front.
		return sorted[0]
	}
	return sorted[(idx+1)%len(sorted)]
}

// BuildRetryPlan computes the follow-up attempt for a stalled session. The
// attempt counter is bumped, excluded signers are removed from the
// participant set, and a fresh leader is elected for the new attempt. It
// returns nil if the remaining participants can no longer reach the
// threshold, which means retries are exhausted.
func BuildRetryPlan(
	sessionID model.SessionID,
	currentAttempt uint32,
	participants []common.Address,
	threshold uint32,
	excluded map[common.Address]struct{},
) *RetryPlan {

	nextAttempt := currentAttempt + 1

	eligible := make([]common.Address, 0, len(participants))
	for _, participant := range participants {
		if _, ok := excluded[participant]; ok {
			continue
		}
		eligible = append(eligible, participant)
	}

	if uint32(len(eligible)) < threshold {
		return nil
	}

	leader := SelectLeader(eligible, sessionID.MsgHash, sessionID.Era, nextAttempt)
	return &RetryPlan{
		Attempt:      nextAttempt,
		Leader:       leader,
		Participants: eligible,
	}
}

// MissingSigners returns the participants of the request that have not yet
// contributed to the round identified by the stage: nonce commitments for
// StageNonce, partial signatures for StagePartial.
func MissingSigners(stage TimeoutStage, request *model.SignSessionRequest, state *model.SessionState) []common.Address {
	var missing []common.Address
	for _, participant := range request.Participants {
		switch stage {
		case StageNonce:
			if !state.HasNonceCommit(participant) {
				missing = append(missing, participant)
			}
		case StagePartial:
			if !state.HasSignShare(participant) {
				missing = append(missing, participant)
			}
		}
	}
	return missing
}

// StageFromState infers the stalled stage from persisted session state: the
// session is stalled on partial signatures iff at least one signature share
// has been recorded, otherwise on nonce commitments.
func StageFromState(state *model.SessionState) TimeoutStage {
	if state != nil && len(state.SignShares) > 0 {
		return StagePartial
	}
	return StageNonce
}

// TimeoutDuration returns the idle timeout to apply for the given stage.
func TimeoutDuration(stage TimeoutStage, nonceTimeout time.Duration, partialTimeout time.Duration) time.Duration {
	if stage == StagePartial {
		return partialTimeout
	}
	return nonceTimeout
}

// TimeoutElapsed reports whether the session has been idle longer than the
// timeout of its stage.
func TimeoutElapsed(now time.Time, lastActivity time.Time, stage TimeoutStage, nonceTimeout time.Duration, partialTimeout time.Duration) bool {
	return now.Sub(lastActivity) >= TimeoutDuration(stage, nonceTimeout, partialTimeout)
}
