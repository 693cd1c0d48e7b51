package inmem

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/consensus/roast/model"
	"github.com/sigranet/sigra-go/storage"
)

type aggregateKey struct {
	era         uint64
	tweakTarget common.Hash
	msgHash     common.Hash
}

// RoastState is a map-backed implementation of storage.RoastState. It is
// used in tests and in single-process deployments that can afford to lose
// in-flight sessions on restart.
type RoastState struct {
	mu         sync.RWMutex
	sessions   map[model.SessionID]*model.SessionState
	aggregates map[aggregateKey]*model.SignAggregate
}

var _ storage.RoastState = (*RoastState)(nil)

func NewRoastState() *RoastState {
	return &RoastState{
		sessions:   make(map[model.SessionID]*model.SessionState),
		aggregates: make(map[aggregateKey]*model.SignAggregate),
	}
}

func (r *RoastState) SessionState(sessionID model.SessionID) (*model.SessionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySessionState(state), nil
}

func (r *RoastState) UpsertSessionState(sessionID model.SessionID, state *model.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = copySessionState(state)
	return nil
}

func (r *RoastState) Aggregate(era uint64, tweakTarget common.Hash, msgHash common.Hash) (*model.SignAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	aggregate, ok := r.aggregates[aggregateKey{era: era, tweakTarget: tweakTarget, msgHash: msgHash}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cpy := *aggregate
	return &cpy, nil
}

func (r *RoastState) PutAggregate(era uint64, tweakTarget common.Hash, msgHash common.Hash, aggregate *model.SignAggregate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *aggregate
	r.aggregates[aggregateKey{era: era, tweakTarget: tweakTarget, msgHash: msgHash}] = &cpy
	return nil
}

// copySessionState clones the state so that callers cannot mutate the stored
// value through a retained pointer.
func copySessionState(state *model.SessionState) *model.SessionState {
	cpy := model.SessionState{
		NonceCommits: append([]model.SignNonceCommit(nil), state.NonceCommits...),
		SignShares:   append([]model.SignShare(nil), state.SignShares...),
		Completed:    state.Completed,
	}
	if state.Request != nil {
		req := *state.Request
		req.Participants = append([]common.Address(nil), state.Request.Participants...)
		cpy.Request = &req
	}
	if state.Aggregate != nil {
		agg := *state.Aggregate
		cpy.Aggregate = &agg
	}
	return &cpy
}
