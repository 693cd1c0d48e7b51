package policy

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/sigranet/sigra-go/consensus/roast/model"
	"github.com/sigranet/sigra-go/utils/unittest"
)

// TestSelectLeader_Deterministic checks that leader election is a pure
// function of the inputs and does not depend on the input ordering of the
// participant set.
func TestSelectLeader_Deterministic(t *testing.T) {
	participants := unittest.AddressFixtures(5)
	msgHash := unittest.HashFixture()

	leader := SelectLeader(participants, msgHash, 3, 0)
	require.Contains(t, participants, leader)

	// same inputs, same leader
	assert.Equal(t, leader, SelectLeader(participants, msgHash, 3, 0))

	// reordered input, same leader
	shuffled := append([]common.Address(nil), participants...)
	shuffled[0], shuffled[len(shuffled)-1] = shuffled[len(shuffled)-1], shuffled[0]
	assert.Equal(t, leader, SelectLeader(shuffled, msgHash, 3, 0))
}

// TestSelectLeader_RotatesPerAttempt checks that consecutive attempts rotate
// round-robin over the sorted participant set.
func TestSelectLeader_RotatesPerAttempt(t *testing.T) {
	participants := unittest.AddressFixtures(4)
	msgHash := unittest.HashFixture()

	sorted := append([]common.Address(nil), participants...)
	slices.SortFunc(sorted, func(a, b common.Address) int { return a.Cmp(b) })

	base := SelectLeader(participants, msgHash, 9, 0)
	baseIdx := slices.Index(sorted, base)
	require.GreaterOrEqual(t, baseIdx, 0)

	for attempt := uint32(1); attempt < 9; attempt++ {
		expected := sorted[(baseIdx+int(attempt))%len(sorted)]
		assert.Equal(t, expected, SelectLeader(participants, msgHash, 9, attempt))
	}
}

// TestSelectLeader_Distribution checks that, over many sessions, the base
// leader is not stuck on a single participant.
func TestSelectLeader_Distribution(t *testing.T) {
	participants := unittest.AddressFixtures(5)

	counts := make(map[common.Address]int)
	for i := 0; i < 200; i++ {
		leader := SelectLeader(participants, unittest.HashFixture(), 1, 0)
		counts[leader]++
	}

	// every participant should lead at least once in 200 draws
	assert.Len(t, counts, len(participants))
}

func TestBuildRetryPlan_FiltersExcludedAndBumpsAttempt(t *testing.T) {
	participants := unittest.AddressFixtures(3)
	sessionID := model.SessionID{MsgHash: unittest.HashFixture(), Era: 7}
	excluded := map[common.Address]struct{}{
		participants[1]: {},
	}

	plan := BuildRetryPlan(sessionID, 0, participants, 2, excluded)
	require.NotNil(t, plan)
	assert.Equal(t, uint32(1), plan.Attempt)
	assert.Len(t, plan.Participants, 2)
	assert.NotContains(t, plan.Participants, participants[1])
	assert.Contains(t, plan.Participants, plan.Leader)
}

func TestBuildRetryPlan_NilWhenBelowThreshold(t *testing.T) {
	participants := unittest.AddressFixtures(2)
	sessionID := model.SessionID{MsgHash: unittest.HashFixture(), Era: 7}
	excluded := map[common.Address]struct{}{
		participants[1]: {},
	}

	plan := BuildRetryPlan(sessionID, 0, participants, 2, excluded)
	assert.Nil(t, plan)
}

func TestMissingSigners(t *testing.T) {
	request := unittest.SignSessionRequestFixture(unittest.WithParticipantCount(3))
	state := &model.SessionState{Request: request}

	// nobody contributed yet: all participants missing in both stages
	assert.Len(t, MissingSigners(StageNonce, request, state), 3)
	assert.Len(t, MissingSigners(StagePartial, request, state), 3)

	state.AddNonceCommit(model.SignNonceCommit{
		Era:     request.Era,
		From:    request.Participants[0],
		MsgHash: request.MsgHash,
	})
	state.AddSignShare(model.SignShare{
		Era:     request.Era,
		From:    request.Participants[1],
		MsgHash: request.MsgHash,
	})

	missingNonces := MissingSigners(StageNonce, request, state)
	assert.NotContains(t, missingNonces, request.Participants[0])
	assert.Len(t, missingNonces, 2)

	missingShares := MissingSigners(StagePartial, request, state)
	assert.NotContains(t, missingShares, request.Participants[1])
	assert.Len(t, missingShares, 2)
}

func TestStageFromState(t *testing.T) {
	assert.Equal(t, StageNonce, StageFromState(nil))
	assert.Equal(t, StageNonce, StageFromState(&model.SessionState{}))

	withShare := &model.SessionState{
		SignShares: []model.SignShare{{From: unittest.AddressFixture()}},
	}
	assert.Equal(t, StagePartial, StageFromState(withShare))
}

func TestTimeoutElapsed_TracksStageDeadlines(t *testing.T) {
	now := time.Now()
	lastActivity := now.Add(-5 * time.Second)
	nonceTimeout := 2 * time.Second
	partialTimeout := 10 * time.Second

	assert.True(t, TimeoutElapsed(now, lastActivity, StageNonce, nonceTimeout, partialTimeout))
	assert.False(t, TimeoutElapsed(now, lastActivity, StagePartial, nonceTimeout, partialTimeout))
}
