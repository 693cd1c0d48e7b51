package unittest

import (
	crand "crypto/rand"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/exp/slices"

	"github.com/sigranet/sigra-go/consensus/roast/model"
)

func HashFixture() common.Hash {
	var hash common.Hash
	read(hash[:])
	return hash
}

func AddressFixture() common.Address {
	var addr common.Address
	read(addr[:])
	return addr
}

// AddressFixtures returns n distinct addresses in canonical ascending order.
func AddressFixtures(n int) []common.Address {
	addresses := make([]common.Address, 0, n)
	seen := make(map[common.Address]struct{}, n)
	for len(addresses) < n {
		addr := AddressFixture()
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		addresses = append(addresses, addr)
	}
	slices.SortFunc(addresses, func(a, b common.Address) int { return a.Cmp(b) })
	return addresses
}

func SignSessionRequestFixture(opts ...func(*model.SignSessionRequest)) *model.SignSessionRequest {
	participants := AddressFixtures(4)
	request := &model.SignSessionRequest{
		Era:          1,
		Leader:       participants[0],
		Attempt:      0,
		MsgHash:      HashFixture(),
		TweakTarget:  HashFixture(),
		Threshold:    3,
		Participants: participants,
		Kind:         model.SignKindBatchCommitment,
	}
	for _, opt := range opts {
		opt(request)
	}
	return request
}

func WithParticipantCount(n int) func(*model.SignSessionRequest) {
	return func(request *model.SignSessionRequest) {
		participants := AddressFixtures(n)
		request.Participants = participants
		request.Leader = participants[0]
		if n > 1 {
			request.Threshold = uint32(n - 1)
		} else {
			request.Threshold = 1
		}
	}
}

func WithThreshold(threshold uint32) func(*model.SignSessionRequest) {
	return func(request *model.SignSessionRequest) {
		request.Threshold = threshold
	}
}

func WithEra(era uint64) func(*model.SignSessionRequest) {
	return func(request *model.SignSessionRequest) {
		request.Era = era
	}
}

func WithAttempt(attempt uint32) func(*model.SignSessionRequest) {
	return func(request *model.SignSessionRequest) {
		request.Attempt = attempt
	}
}

func WithLeader(leader common.Address) func(*model.SignSessionRequest) {
	return func(request *model.SignSessionRequest) {
		request.Leader = leader
	}
}

func SignNonceCommitFixture(request *model.SignSessionRequest, from common.Address) model.SignNonceCommit {
	return model.SignNonceCommit{
		Era:         request.Era,
		From:        from,
		MsgHash:     request.MsgHash,
		NonceCommit: BytesFixture(66),
	}
}

func SignShareFixture(request *model.SignSessionRequest, from common.Address) model.SignShare {
	return model.SignShare{
		Era:             request.Era,
		From:            from,
		MsgHash:         request.MsgHash,
		PartialSig:      BytesFixture(32),
		NextCommitments: BytesFixture(66),
	}
}

func SignAggregateFixture(request *model.SignSessionRequest) *model.SignAggregate {
	return &model.SignAggregate{
		Era:              request.Era,
		MsgHash:          request.MsgHash,
		TweakedPublicKey: BytesFixture(33),
		Signature:        BytesFixture(96),
	}
}

func BytesFixture(n int) []byte {
	b := make([]byte, n)
	read(b)
	return b
}

func read(b []byte) {
	_, err := crand.Read(b)
	if err != nil {
		panic(err)
	}
}
