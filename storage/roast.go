package storage

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/consensus/roast/model"
)

// RoastState persists the per-session signing state, so that in-flight
// sessions survive a restart and duplicate protocol messages can be detected
// across restarts. Implementations must be safe for concurrent use.
type RoastState interface {

	// SessionState retrieves the persisted state for the given session.
	// It returns storage.ErrNotFound if no state has been stored.
	SessionState(sessionID model.SessionID) (*model.SessionState, error)

	// UpsertSessionState stores the state for the given session, overwriting
	// any previously stored state.
	UpsertSessionState(sessionID model.SessionID, state *model.SessionState) error

	// Aggregate retrieves a cached aggregate signature for the given era,
	// tweak target and message hash. It returns storage.ErrNotFound if no
	// aggregate has been cached for the triple.
	Aggregate(era uint64, tweakTarget common.Hash, msgHash common.Hash) (*model.SignAggregate, error)

	// PutAggregate caches the aggregate signature under the given era, tweak
	// target and message hash. Overwrites are allowed; the protocol only ever
	// produces one valid aggregate per triple.
	PutAggregate(era uint64, tweakTarget common.Hash, msgHash common.Hash, aggregate *model.SignAggregate) error
}
