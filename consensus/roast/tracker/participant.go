package tracker

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/consensus/roast"
	"github.com/sigranet/sigra-go/consensus/roast/model"
)

// Participant is the signer-side session state machine: it answers the
// leader's request with a nonce commitment and the leader's signing package
// with a signature share.
type Participant struct {
	log     zerolog.Logger
	newCore roast.SignerCoreFactory
	self    common.Address

	core    roast.SignerCore
	request *model.SignSessionRequest
}

var _ roast.Participant = (*Participant)(nil)

func NewParticipant(log zerolog.Logger, newCore roast.SignerCoreFactory, self common.Address) *Participant {
	return &Participant{
		log:     log.With().Str("component", "roast_participant").Logger(),
		newCore: newCore,
		self:    self,
	}
}

func (p *Participant) ProcessSignRequest(request *model.SignSessionRequest) ([]roast.Action, error) {
	if p.core != nil {
		return nil, fmt.Errorf("participant already active")
	}

	core, err := p.newCore(request)
	if err != nil {
		return nil, fmt.Errorf("could not create signer core: %w", err)
	}

	commitment, err := core.Commit()
	if err != nil {
		return nil, fmt.Errorf("could not produce nonce commitment: %w", err)
	}

	p.core = core
	p.request = request

	commit := model.SignNonceCommit{
		Era:         request.Era,
		From:        p.self,
		MsgHash:     request.MsgHash,
		NonceCommit: commitment,
	}
	return []roast.Action{roast.SendNonceCommit{Commit: commit}}, nil
}

func (p *Participant) ProcessNoncePackage(pkg *model.SignNoncePackage) ([]roast.Action, error) {
	if p.core == nil {
		return nil, fmt.Errorf("no active signing session")
	}

	// The leader may have selected a threshold subset that excludes us.
	if !slices.Contains(pkg.Signers(), p.self) {
		return nil, nil
	}

	share, nextCommitments, err := p.core.Sign(pkg)
	if err != nil {
		return nil, fmt.Errorf("could not produce signature share: %w", err)
	}

	reply := model.SignShare{
		Era:             pkg.Era,
		From:            p.self,
		MsgHash:         pkg.MsgHash,
		PartialSig:      share,
		NextCommitments: nextCommitments,
	}
	return []roast.Action{roast.SendSignShare{Share: reply}}, nil
}
