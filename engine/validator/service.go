package validator

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/consensus/roast"
	"github.com/sigranet/sigra-go/consensus/roast/tracker"
	"github.com/sigranet/sigra-go/model/consensus"
	"github.com/sigranet/sigra-go/module"
	"github.com/sigranet/sigra-go/storage"
)

// Config bundles the validator parameters.
type Config struct {
	Timelines   consensus.Timelines
	Threshold   uint32
	TweakTarget common.Hash

	// TxPoolSize bounds the injected-transaction pool.
	TxPoolSize int
	// MaxAnnounceTransactions bounds injected transactions per announce.
	MaxAnnounceTransactions int
	// TimeoutSweepInterval paces the ROAST stall sweep driven from Poll.
	TimeoutSweepInterval time.Duration
}

// DefaultConfig returns production defaults for everything but the protocol
// parameters, which have no sensible defaults.
func DefaultConfig() Config {
	return Config{
		TxPoolSize:              4096,
		MaxAnnounceTransactions: 256,
		TimeoutSweepInterval:    5 * time.Second,
	}
}

// Service owns the single live role state and the ROAST session manager, and
// is the entry point for all chain and network events. It is driven from one
// event loop and is not safe for concurrent use; the concurrency model is
// single-writer by construction.
type Service struct {
	log     zerolog.Logger
	metrics module.ValidatorMetrics
	config  Config

	state   State
	manager *roast.Manager

	// processed counts ingested events; readable from other goroutines for
	// liveness checks.
	processed *atomic.Uint64

	lastSweep time.Time
}

// NewService wires the full validator stack: transaction pool, shared core,
// ROAST manager with the leader- and signer-side trackers, dispatcher,
// context and the boot state.
func NewService(
	log zerolog.Logger,
	validatorMetrics module.ValidatorMetrics,
	roastMetrics module.RoastMetrics,
	sessions storage.RoastState,
	signer Signer,
	planner BatchPlanner,
	newSessionCore roast.SessionCoreFactory,
	newSignerCore roast.SignerCoreFactory,
	config Config,
) (*Service, error) {

	txPool, err := NewTransactionPool(config.TxPoolSize)
	if err != nil {
		return nil, err
	}

	core, err := NewCore(
		signer,
		config.Timelines,
		config.Threshold,
		config.TweakTarget,
		planner,
		txPool,
		config.MaxAnnounceTransactions,
	)
	if err != nil {
		return nil, err
	}

	self := signer.Address()
	manager := roast.NewManager(
		log,
		roastMetrics,
		sessions,
		self,
		func() roast.Coordinator {
			return tracker.NewCoordinator(log, sessions, newSessionCore, tracker.DefaultNonceTimeout, tracker.DefaultPartialTimeout)
		},
		func() roast.Participant {
			return tracker.NewParticipant(log, newSignerCore, self)
		},
	)

	dispatcher := NewDispatcher(log, manager, signer)
	ctx := NewContext(log, validatorMetrics, core, dispatcher)

	return &Service{
		log:       log.With().Str("component", "validator_service").Logger(),
		metrics:   validatorMetrics,
		config:    config,
		state:     NewInitial(ctx),
		manager:   manager,
		processed: atomic.NewUint64(0),
	}, nil
}

// Manager exposes the ROAST session manager, e.g. for querying finalized
// signatures.
func (s *Service) Manager() *roast.Manager {
	return s.manager
}

// State returns the name of the current role, for logging and tests.
func (s *Service) State() string {
	return s.state.Name()
}

// Processed returns the number of events ingested so far.
func (s *Service) Processed() uint64 {
	return s.processed.Load()
}

// Outputs drains the queued output events in order.
func (s *Service) Outputs() []consensus.Event {
	return s.state.Context().DrainOutputs()
}

func (s *Service) OnChainHead(block consensus.SimpleBlock) error {
	return s.apply(func(state State) (State, error) {
		return ProcessChainHead(state, block)
	})
}

func (s *Service) OnSyncedBlock(hash common.Hash) error {
	return s.apply(func(state State) (State, error) {
		return ProcessSyncedBlock(state, hash)
	})
}

func (s *Service) OnPreparedBlock(block consensus.SimpleBlock, validators []common.Address) error {
	return s.apply(func(state State) (State, error) {
		return ProcessPreparedBlock(state, block, validators)
	})
}

func (s *Service) OnComputedAnnounce(hash common.Hash) error {
	return s.apply(func(state State) (State, error) {
		return ProcessComputedAnnounce(state, hash)
	})
}

func (s *Service) OnAnnounce(announce consensus.VerifiedAnnounce) error {
	return s.apply(func(state State) (State, error) {
		return ProcessAnnounce(state, announce)
	})
}

func (s *Service) OnValidationRequest(request consensus.VerifiedValidationRequest) error {
	return s.apply(func(state State) (State, error) {
		return ProcessValidationRequest(state, request)
	})
}

func (s *Service) OnValidationReply(reply consensus.ValidationReply) error {
	return s.apply(func(state State) (State, error) {
		return ProcessValidationReply(state, reply)
	})
}

// OnValidatorMessage ingests a raw network message; the envelope signature is
// verified before any protocol processing.
func (s *Service) OnValidatorMessage(msg consensus.SignedValidatorMessage) error {
	return s.apply(func(state State) (State, error) {
		return ProcessRawMessage(state, msg)
	})
}

func (s *Service) OnTransaction(tx []byte) error {
	return s.apply(func(state State) (State, error) {
		return ProcessTransaction(state, tx)
	})
}

// Poll advances self-advancing states and, at most once per sweep interval,
// runs the ROAST stall sweep. Retry exhaustion during the sweep abandons the
// affected rounds with a warning; the service keeps running.
func (s *Service) Poll(now time.Time) error {
	err := s.apply(func(state State) (State, error) {
		return PollNextState(state, now)
	})
	if err != nil {
		return err
	}

	if now.Sub(s.lastSweep) < s.config.TimeoutSweepInterval {
		return nil
	}
	s.lastSweep = now

	messages, err := s.manager.ProcessTimeouts(now)
	if err != nil {
		if !errors.Is(err, roast.ErrRetryExhausted) {
			return fmt.Errorf("could not sweep session timeouts: %w", err)
		}
		s.log.Warn().Err(err).Msg("signing rounds abandoned, retries exhausted")
	}
	return s.state.Context().emitMessages(messages)
}

// apply runs one transition on the live state. The previous state value is
// dropped the moment the transition returns, so two live states never
// coexist. On error the state is left unchanged.
func (s *Service) apply(process func(State) (State, error)) error {
	before := s.state.Name()
	next, err := process(s.state)
	if err != nil {
		return err
	}
	s.state = next
	s.processed.Inc()

	if next.Name() != before {
		s.metrics.ValidatorRoleTransition(next.Name())
		s.log.Debug().
			Str("from", before).
			Str("to", next.Name()).
			Msg("role transition")
	}
	return nil
}
