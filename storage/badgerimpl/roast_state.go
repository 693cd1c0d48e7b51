package badgerimpl

import (
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/consensus/roast/model"
	"github.com/sigranet/sigra-go/storage"
	"github.com/sigranet/sigra-go/storage/badgerimpl/operation"
)

// RoastState is a badger-backed implementation of storage.RoastState.
// Session states and cached aggregates are msgpack-encoded under prefixed
// keys, so in-flight signing sessions survive a node restart.
type RoastState struct {
	db *badger.DB
}

var _ storage.RoastState = (*RoastState)(nil)

func NewRoastState(db *badger.DB) *RoastState {
	return &RoastState{db: db}
}

func (r *RoastState) SessionState(sessionID model.SessionID) (*model.SessionState, error) {
	var state model.SessionState
	err := r.db.View(operation.RetrieveSessionState(sessionID, &state))
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *RoastState) UpsertSessionState(sessionID model.SessionID, state *model.SessionState) error {
	err := r.db.Update(operation.UpsertSessionState(sessionID, state))
	if err != nil {
		return fmt.Errorf("could not store session state: %w", err)
	}
	return nil
}

func (r *RoastState) Aggregate(era uint64, tweakTarget common.Hash, msgHash common.Hash) (*model.SignAggregate, error) {
	var aggregate model.SignAggregate
	err := r.db.View(operation.RetrieveAggregate(era, tweakTarget, msgHash, &aggregate))
	if err != nil {
		return nil, err
	}
	return &aggregate, nil
}

func (r *RoastState) PutAggregate(era uint64, tweakTarget common.Hash, msgHash common.Hash, aggregate *model.SignAggregate) error {
	err := r.db.Update(operation.UpsertAggregate(era, tweakTarget, msgHash, aggregate))
	if err != nil {
		return fmt.Errorf("could not store aggregate: %w", err)
	}
	return nil
}
