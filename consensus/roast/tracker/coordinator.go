// Package tracker implements the per-session state machines of the ROAST
// protocol: the leader-side Coordinator and the signer-side Participant.
// Both delegate all FROST cryptography to the cores injected at
// construction and only track session bookkeeping and persistence.
package tracker

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/consensus/roast"
	"github.com/sigranet/sigra-go/consensus/roast/model"
	"github.com/sigranet/sigra-go/consensus/roast/policy"
	"github.com/sigranet/sigra-go/storage"
)

// DefaultNonceTimeout bounds how long an attempt waits for round-1 nonce
// commitments before it is considered stalled.
const DefaultNonceTimeout = 30 * time.Second

// DefaultPartialTimeout bounds how long an attempt waits for round-2
// signature shares before it is considered stalled.
const DefaultPartialTimeout = 30 * time.Second

type coordinatorState int

const (
	stateIdle coordinatorState = iota
	stateWaitingNonces
	stateWaitingPartials
	stateCompleted
	stateFailed
)

// Coordinator is the leader-side session state machine. It collects nonce
// commitments until the threshold is reached, broadcasts the signing
// package, collects signature shares, and finally broadcasts the aggregate.
// Every accepted contribution is persisted, so a restarted node can resume
// the attempt from storage.
type Coordinator struct {
	log            zerolog.Logger
	sessions       storage.RoastState
	newCore        roast.SessionCoreFactory
	nonceTimeout   time.Duration
	partialTimeout time.Duration

	state     coordinatorState
	startedAt time.Time
	config    roast.SessionConfig
	core      roast.SessionCore
}

var _ roast.Coordinator = (*Coordinator)(nil)

func NewCoordinator(
	log zerolog.Logger,
	sessions storage.RoastState,
	newCore roast.SessionCoreFactory,
	nonceTimeout time.Duration,
	partialTimeout time.Duration,
) *Coordinator {
	return &Coordinator{
		log:            log.With().Str("component", "roast_coordinator").Logger(),
		sessions:       sessions,
		newCore:        newCore,
		nonceTimeout:   nonceTimeout,
		partialTimeout: partialTimeout,
		state:          stateIdle,
	}
}

func (c *Coordinator) Start(config roast.SessionConfig) ([]roast.Action, error) {
	if c.state != stateIdle {
		return nil, fmt.Errorf("coordinator already active")
	}

	participants := append([]common.Address(nil), config.Participants...)
	slices.SortFunc(participants, func(a, b common.Address) int { return a.Cmp(b) })
	config.Participants = participants

	leader := policy.SelectLeader(participants, config.MsgHash, config.Era, config.Attempt)
	if leader != config.Self {
		return nil, fmt.Errorf("self is not elected leader for attempt %d", config.Attempt)
	}

	core, err := c.newCore(config)
	if err != nil {
		return nil, fmt.Errorf("could not create session core: %w", err)
	}

	request := &model.SignSessionRequest{
		Era:          config.Era,
		Leader:       config.Self,
		Attempt:      config.Attempt,
		MsgHash:      config.MsgHash,
		TweakTarget:  config.TweakTarget,
		Threshold:    config.Threshold,
		Participants: participants,
		Kind:         config.Kind,
	}

	// A new attempt resets the collected contributions; signers re-commit
	// for every attempt.
	err = c.sessions.UpsertSessionState(config.SessionID(), &model.SessionState{Request: request})
	if err != nil {
		return nil, fmt.Errorf("could not persist session state: %w", err)
	}

	c.core = core
	c.config = config
	c.state = stateWaitingNonces
	c.startedAt = time.Now()

	c.log.Debug().
		Uint64("era", config.Era).
		Hex("msg_hash", config.MsgHash[:]).
		Uint32("attempt", config.Attempt).
		Int("participants", len(participants)).
		Msg("signing attempt started")

	return []roast.Action{roast.BroadcastRequest{Request: request}}, nil
}

func (c *Coordinator) ProcessNonceCommit(commit model.SignNonceCommit) ([]roast.Action, error) {
	if c.core == nil {
		return nil, fmt.Errorf("no active signing attempt")
	}

	status, err := c.core.Receive(commit.From, nil, commit.NonceCommit)
	if roast.IsMaliciousSignerError(err) {
		return c.reportCulprit(commit.From), nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not ingest nonce commitment: %w", err)
	}

	err = c.mutateSession(func(state *model.SessionState) {
		state.AddNonceCommit(commit)
	})
	if err != nil {
		return nil, err
	}

	if status.Package == nil {
		return nil, nil
	}

	c.state = stateWaitingPartials
	c.startedAt = time.Now()

	pkg := &model.SignNoncePackage{
		Era:         c.config.Era,
		MsgHash:     c.config.MsgHash,
		Commitments: status.Package,
	}
	return []roast.Action{roast.BroadcastSigningPackage{Package: pkg}}, nil
}

func (c *Coordinator) ProcessSignShare(share model.SignShare) ([]roast.Action, error) {
	if c.core == nil {
		return nil, fmt.Errorf("no active signing attempt")
	}

	status, err := c.core.Receive(share.From, share.PartialSig, share.NextCommitments)
	if roast.IsMaliciousSignerError(err) {
		return c.reportCulprit(share.From), nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not ingest signature share: %w", err)
	}

	err = c.mutateSession(func(state *model.SessionState) {
		state.AddSignShare(share)
	})
	if err != nil {
		return nil, err
	}

	if status.Signature == nil {
		return nil, nil
	}

	aggregate := &model.SignAggregate{
		Era:              c.config.Era,
		MsgHash:          c.config.MsgHash,
		TweakedPublicKey: c.core.TweakedPublicKey(),
		Signature:        status.Signature,
	}

	err = c.mutateSession(func(state *model.SessionState) {
		state.Aggregate = aggregate
		state.Completed = true
	})
	if err != nil {
		return nil, err
	}

	c.state = stateCompleted

	c.log.Info().
		Uint64("era", c.config.Era).
		Hex("msg_hash", c.config.MsgHash[:]).
		Uint32("attempt", c.config.Attempt).
		Msg("aggregate signature complete")

	return []roast.Action{
		roast.BroadcastAggregate{Aggregate: aggregate},
		roast.Completed{Aggregate: aggregate},
	}, nil
}

func (c *Coordinator) ProcessTimeout(now time.Time) ([]roast.Action, error) {
	switch c.state {
	case stateWaitingNonces:
		if now.Sub(c.startedAt) > c.nonceTimeout {
			c.state = stateFailed
			return []roast.Action{roast.Failed{Stage: policy.StageNonce}}, nil
		}
	case stateWaitingPartials:
		if now.Sub(c.startedAt) > c.partialTimeout {
			c.state = stateFailed
			return []roast.Action{roast.Failed{Stage: policy.StagePartial}}, nil
		}
	}
	return nil, nil
}

func (c *Coordinator) reportCulprit(signer common.Address) []roast.Action {
	c.log.Warn().
		Uint64("era", c.config.Era).
		Hex("msg_hash", c.config.MsgHash[:]).
		Hex("signer", signer[:]).
		Msg("malicious contribution rejected")

	culprits := &model.SignCulprits{
		Era:      c.config.Era,
		MsgHash:  c.config.MsgHash,
		Culprits: []common.Address{signer},
	}
	return []roast.Action{roast.BroadcastCulprits{Culprits: culprits}}
}

func (c *Coordinator) mutateSession(mutate func(*model.SessionState)) error {
	sessionID := c.config.SessionID()
	state, err := c.sessions.SessionState(sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		state = &model.SessionState{}
	} else if err != nil {
		return fmt.Errorf("could not retrieve session state: %w", err)
	}
	mutate(state)
	err = c.sessions.UpsertSessionState(sessionID, state)
	if err != nil {
		return fmt.Errorf("could not persist session state: %w", err)
	}
	return nil
}
