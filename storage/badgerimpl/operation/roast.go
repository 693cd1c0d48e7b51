package operation

import (
	"github.com/dgraph-io/badger/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/consensus/roast/model"
)

func UpsertSessionState(sessionID model.SessionID, state *model.SessionState) func(*badger.Txn) error {
	return upsert(makePrefix(codeSessionState, sessionID.Era, sessionID.MsgHash), state)
}

func RetrieveSessionState(sessionID model.SessionID, state *model.SessionState) func(*badger.Txn) error {
	return retrieve(makePrefix(codeSessionState, sessionID.Era, sessionID.MsgHash), state)
}

func UpsertAggregate(era uint64, tweakTarget common.Hash, msgHash common.Hash, aggregate *model.SignAggregate) func(*badger.Txn) error {
	return upsert(makePrefix(codeAggregate, era, tweakTarget, msgHash), aggregate)
}

func RetrieveAggregate(era uint64, tweakTarget common.Hash, msgHash common.Hash, aggregate *model.SignAggregate) func(*badger.Txn) error {
	return retrieve(makePrefix(codeAggregate, era, tweakTarget, msgHash), aggregate)
}
