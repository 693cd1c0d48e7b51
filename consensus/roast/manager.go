package roast

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sigranet/sigra-go/consensus/roast/model"
	"github.com/sigranet/sigra-go/consensus/roast/policy"
	"github.com/sigranet/sigra-go/module"
	"github.com/sigranet/sigra-go/storage"
)

// SessionProgress tracks the observed progress of a session for stall
// detection and leader failover. It is in-memory only; after a restart it is
// rebuilt lazily from persisted session state.
type SessionProgress struct {
	LastActivity      time.Time
	Attempt           uint32
	Leader            common.Address
	Participants      []common.Address
	Threshold         uint32
	TweakTarget       common.Hash
	LeaderRequestSeen bool
}

// Manager coordinates all in-flight ROAST signing sessions of one validator.
// It gates incoming protocol messages against persisted session state,
// restores leader-side coordinators after a restart, tracks excluded
// signers, and rotates the leader when a session stalls.
//
// The Manager is driven synchronously from a single event loop and is not
// safe for concurrent use.
type Manager struct {
	log      zerolog.Logger
	metrics  module.RoastMetrics
	sessions storage.RoastState
	self     common.Address

	newCoordinator CoordinatorFactory
	newParticipant ParticipantFactory

	coordinators map[model.SessionID]Coordinator
	participants map[model.SessionID]Participant
	progress     map[model.SessionID]*SessionProgress
	excluded     map[model.SessionID]map[common.Address]struct{}

	nonceTimeout   time.Duration
	partialTimeout time.Duration
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithTimeouts overrides the stage timeouts used for stall detection.
func WithTimeouts(nonceTimeout time.Duration, partialTimeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.nonceTimeout = nonceTimeout
		m.partialTimeout = partialTimeout
	}
}

func NewManager(
	log zerolog.Logger,
	metrics module.RoastMetrics,
	sessions storage.RoastState,
	self common.Address,
	newCoordinator CoordinatorFactory,
	newParticipant ParticipantFactory,
	opts ...ManagerOption,
) *Manager {
	m := &Manager{
		log:            log.With().Str("component", "roast_manager").Logger(),
		metrics:        metrics,
		sessions:       sessions,
		self:           self,
		newCoordinator: newCoordinator,
		newParticipant: newParticipant,
		coordinators:   make(map[model.SessionID]Coordinator),
		participants:   make(map[model.SessionID]Participant),
		progress:       make(map[model.SessionID]*SessionProgress),
		excluded:       make(map[model.SessionID]map[common.Address]struct{}),
		nonceTimeout:   30 * time.Second,
		partialTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSigning begins a signing session over the given message hash. If an
// aggregate is already cached for the (era, tweak target, hash) triple, it
// is re-broadcast immediately. Otherwise the attempt-0 leader is elected; if
// self is leader the local coordinator is started, else the session request
// is emitted towards the elected leader.
func (m *Manager) StartSigning(
	msgHash common.Hash,
	era uint64,
	tweakTarget common.Hash,
	threshold uint32,
	participants []common.Address,
) ([]model.Message, error) {

	cached, err := m.sessions.Aggregate(era, tweakTarget, msgHash)
	if err == nil {
		m.log.Debug().
			Uint64("era", era).
			Hex("msg_hash", msgHash[:]).
			Bool("cache_hit", true).
			Msg("signature cache hit")
		return []model.Message{cached}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("could not check aggregate cache: %w", err)
	}

	sessionID := model.SessionID{MsgHash: msgHash, Era: era}
	const attempt = 0

	sorted := append([]common.Address(nil), participants...)
	slices.SortFunc(sorted, func(a, b common.Address) int { return a.Cmp(b) })

	leader := policy.SelectLeader(sorted, msgHash, era, attempt)
	m.metrics.RoastSessionStarted()

	if leader == m.self {
		return m.startAsCoordinator(sessionID, attempt, tweakTarget, threshold, sorted, model.SignKindBatchCommitment)
	}

	request := &model.SignSessionRequest{
		Era:          era,
		Leader:       leader,
		Attempt:      attempt,
		MsgHash:      msgHash,
		TweakTarget:  tweakTarget,
		Threshold:    threshold,
		Participants: sorted,
		Kind:         model.SignKindBatchCommitment,
	}
	m.progress[sessionID] = &SessionProgress{
		LastActivity:      time.Now(),
		Attempt:           attempt,
		Leader:            leader,
		Participants:      sorted,
		Threshold:         threshold,
		TweakTarget:       tweakTarget,
		LeaderRequestSeen: false,
	}
	return []model.Message{request}, nil
}

// startAsCoordinator starts the local leader-side coordinator for the given
// attempt. It is a no-op if self is not the elected leader.
func (m *Manager) startAsCoordinator(
	sessionID model.SessionID,
	attempt uint32,
	tweakTarget common.Hash,
	threshold uint32,
	participants []common.Address,
	kind model.SignKind,
) ([]model.Message, error) {

	leader := policy.SelectLeader(participants, sessionID.MsgHash, sessionID.Era, attempt)
	if leader != m.self {
		return nil, nil
	}

	config := SessionConfig{
		Era:          sessionID.Era,
		MsgHash:      sessionID.MsgHash,
		TweakTarget:  tweakTarget,
		Attempt:      attempt,
		Threshold:    threshold,
		Participants: participants,
		Self:         m.self,
		Kind:         kind,
	}

	coordinator := m.newCoordinator()
	actions, err := coordinator.Start(config)
	if err != nil {
		return nil, fmt.Errorf("could not start coordinator for session %s: %w", sessionID, err)
	}

	m.coordinators[sessionID] = coordinator
	m.progress[sessionID] = &SessionProgress{
		LastActivity:      time.Now(),
		Attempt:           attempt,
		Leader:            m.self,
		Participants:      participants,
		Threshold:         threshold,
		TweakTarget:       tweakTarget,
		LeaderRequestSeen: true,
	}

	return ActionsToMessages(actions), nil
}

// ProcessSignRequest handles an incoming session request on the participant
// path. Stale attempts, duplicate leader requests and requests from a
// mismatched leader of record are silently dropped. If the request elects
// self as leader and was forwarded by another node, the local coordinator is
// bootstrapped instead.
func (m *Manager) ProcessSignRequest(from common.Address, request *model.SignSessionRequest) ([]model.Message, error) {

	cached, err := m.sessions.Aggregate(request.Era, request.TweakTarget, request.MsgHash)
	if err == nil {
		return []model.Message{cached}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("could not check aggregate cache: %w", err)
	}

	sessionID := request.SessionID()

	// already participating in this session
	if _, ok := m.participants[sessionID]; ok {
		return nil, nil
	}

	if progress, ok := m.progress[sessionID]; ok {
		// stale attempt
		if request.Attempt < progress.Attempt {
			return nil, nil
		}
		if request.Attempt == progress.Attempt && request.Leader == progress.Leader {
			// the leader of record already requested this attempt
			if progress.LeaderRequestSeen && request.Leader != m.self {
				return nil, nil
			}
			if from != request.Leader {
				return nil, nil
			}
		}
	}

	err = request.Validate()
	if err != nil {
		m.log.Warn().Err(err).
			Hex("from", from[:]).
			Str("session", sessionID.String()).
			Msg("dropping malformed sign request")
		return nil, nil
	}

	expectedLeader := policy.SelectLeader(request.Participants, request.MsgHash, request.Era, request.Attempt)
	if expectedLeader != request.Leader {
		m.log.Warn().
			Hex("from", from[:]).
			Hex("claimed_leader", request.Leader[:]).
			Hex("expected_leader", expectedLeader[:]).
			Str("session", sessionID.String()).
			Msg("dropping sign request with mismatched leader")
		return nil, nil
	}

	if request.Leader == m.self {
		if from != request.Leader {
			// a peer forwarded a request that elects us; bootstrap the
			// local coordinator
			return m.startAsCoordinator(sessionID, request.Attempt, request.TweakTarget, request.Threshold, request.Participants, request.Kind)
		}
	} else if from != request.Leader {
		return nil, nil
	}

	if !slices.Contains(request.Participants, m.self) {
		m.log.Warn().
			Str("session", sessionID.String()).
			Msg("dropping sign request that does not include self")
		return nil, nil
	}

	// persist the request so the session survives a restart and incoming
	// contributions can be gated against it
	_, err = m.sessions.SessionState(sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		err = m.sessions.UpsertSessionState(sessionID, &model.SessionState{Request: request})
		if err != nil {
			return nil, fmt.Errorf("could not persist session state: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("could not retrieve session state: %w", err)
	}

	participant := m.newParticipant()
	actions, err := participant.ProcessSignRequest(request)
	if err != nil {
		return nil, fmt.Errorf("could not process sign request for session %s: %w", sessionID, err)
	}

	m.participants[sessionID] = participant
	m.progress[sessionID] = &SessionProgress{
		LastActivity:      time.Now(),
		Attempt:           request.Attempt,
		Leader:            request.Leader,
		Participants:      request.Participants,
		Threshold:         request.Threshold,
		TweakTarget:       request.TweakTarget,
		LeaderRequestSeen: true,
	}

	return ActionsToMessages(actions), nil
}

// ProcessNonceCommit handles a participant's nonce commitment on the leader
// path. Duplicates and commits for unknown sessions are silently dropped; a
// persisted session without a live coordinator triggers a restore. After
// driving the coordinator, the Manager checks for a stalled attempt: if a
// threshold of commitments is persisted but no signing package went out, the
// missing signers are excluded and the retry plan is fanned out.
//
// If the retry plan cannot be built because the eligible signers dropped
// below the threshold, ErrRetryExhausted is returned alongside any messages
// produced before exhaustion.
func (m *Manager) ProcessNonceCommit(commit model.SignNonceCommit) ([]model.Message, error) {
	sessionID := commit.SessionID()

	state, err := m.sessionState(sessionID)
	if err != nil {
		return nil, err
	}

	// the session is finalized; no further transitions
	if state != nil && state.Completed {
		return nil, nil
	}

	// drop duplicate commits from the same signer
	if state != nil && state.HasNonceCommit(commit.From) {
		return nil, nil
	}

	// drop commits for sessions we neither coordinate nor have persisted
	if _, ok := m.coordinators[sessionID]; !ok && state == nil {
		return nil, nil
	}

	var messages []model.Message
	if _, ok := m.coordinators[sessionID]; !ok {
		restored, err := m.restoreCoordinator(sessionID)
		if err != nil {
			return nil, err
		}
		messages = append(messages, restored...)
	}

	coordinator, ok := m.coordinators[sessionID]
	if !ok {
		return messages, nil
	}

	// drop contributions from signers excluded in a previous attempt
	if m.isExcluded(sessionID, commit.From) {
		return messages, nil
	}

	actions, err := coordinator.ProcessNonceCommit(commit)
	if err != nil {
		return nil, fmt.Errorf("could not process nonce commit for session %s: %w", sessionID, err)
	}
	m.touch(sessionID)

	hasSigningPackage := false
	for _, action := range actions {
		if _, ok := action.(BroadcastSigningPackage); ok {
			hasSigningPackage = true
		}
	}
	messages = append(messages, ActionsToMessages(actions)...)

	if hasSigningPackage {
		return messages, nil
	}

	// a threshold of commitments is persisted but no package went out, so
	// some selected signer went missing mid-attempt
	state, err = m.sessionState(sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Request == nil {
		return messages, nil
	}
	request := state.Request
	if uint32(len(state.NonceCommits)) < request.Threshold {
		return messages, nil
	}

	missing := policy.MissingSigners(policy.StageNonce, request, state)
	if len(missing) == 0 {
		return messages, nil
	}
	m.exclude(sessionID, missing)

	currentAttempt := request.Attempt
	if progress, ok := m.progress[sessionID]; ok {
		currentAttempt = progress.Attempt
	}

	plan := policy.BuildRetryPlan(sessionID, currentAttempt, request.Participants, request.Threshold, m.excluded[sessionID])
	if plan == nil {
		m.metrics.RoastRetryExhausted()
		return messages, fmt.Errorf("session %s: %w", sessionID, ErrRetryExhausted)
	}

	retry, err := m.applyRetryPlan(sessionID, request, plan)
	if err != nil {
		return nil, err
	}
	messages = append(messages, retry...)

	return messages, nil
}

// ProcessPartialSignature handles a participant's signature share on the
// leader path, with the same gating as ProcessNonceCommit.
func (m *Manager) ProcessPartialSignature(share model.SignShare) ([]model.Message, error) {
	sessionID := share.SessionID()

	state, err := m.sessionState(sessionID)
	if err != nil {
		return nil, err
	}

	// the session is finalized; no further transitions
	if state != nil && state.Completed {
		return nil, nil
	}

	// drop duplicate shares from the same signer
	if state != nil && state.HasSignShare(share.From) {
		return nil, nil
	}

	// drop shares for sessions we neither coordinate nor have persisted
	if _, ok := m.coordinators[sessionID]; !ok && state == nil {
		return nil, nil
	}

	var messages []model.Message
	if _, ok := m.coordinators[sessionID]; !ok {
		restored, err := m.restoreCoordinator(sessionID)
		if err != nil {
			return nil, err
		}
		messages = append(messages, restored...)
	}

	coordinator, ok := m.coordinators[sessionID]
	if !ok {
		return messages, nil
	}

	if m.isExcluded(sessionID, share.From) {
		return messages, nil
	}

	actions, err := coordinator.ProcessSignShare(share)
	if err != nil {
		return nil, fmt.Errorf("could not process signature share for session %s: %w", sessionID, err)
	}
	m.touch(sessionID)

	for _, action := range actions {
		if completed, ok := action.(Completed); ok {
			err = m.finalize(sessionID, completed.Aggregate)
			if err != nil {
				return nil, err
			}
		}
	}

	messages = append(messages, ActionsToMessages(actions)...)
	return messages, nil
}

// ProcessNoncePackage handles the leader's signing package on the
// participant path. Packages for sessions we do not participate in are
// silently dropped.
func (m *Manager) ProcessNoncePackage(pkg *model.SignNoncePackage) ([]model.Message, error) {
	sessionID := pkg.SessionID()

	participant, ok := m.participants[sessionID]
	if !ok {
		return nil, nil
	}

	actions, err := participant.ProcessNoncePackage(pkg)
	if err != nil {
		return nil, fmt.Errorf("could not process signing package for session %s: %w", sessionID, err)
	}
	m.touch(sessionID)

	return ActionsToMessages(actions), nil
}

// ProcessCulprits records reported malicious signers; they are excluded from
// all future attempts of the session. Exclusion only grows.
func (m *Manager) ProcessCulprits(culprits *model.SignCulprits) {
	m.exclude(culprits.SessionID(), culprits.Culprits)
}

// ProcessAggregate finalizes a session with the received aggregate
// signature: the aggregate is persisted, cached under the session's tweak
// target, and all in-memory state for the session is released. The call is
// idempotent.
func (m *Manager) ProcessAggregate(aggregate *model.SignAggregate) error {
	sessionID := aggregate.SessionID()

	state, err := m.sessionState(sessionID)
	if err != nil {
		return err
	}
	if state == nil {
		state = &model.SessionState{}
	}
	state.Aggregate = aggregate
	state.Completed = true

	err = m.sessions.UpsertSessionState(sessionID, state)
	if err != nil {
		return fmt.Errorf("could not persist aggregate: %w", err)
	}

	if state.Request != nil {
		err = m.sessions.PutAggregate(sessionID.Era, state.Request.TweakTarget, sessionID.MsgHash, aggregate)
		if err != nil {
			return fmt.Errorf("could not cache aggregate: %w", err)
		}
	}

	return m.finalize(sessionID, aggregate)
}

// ProcessTimeouts sweeps all tracked sessions for stalled attempts. It is
// driven externally from the service poll loop; the Manager itself contains
// no timers. Expired coordinator attempts exclude their missing signers;
// idle sessions are retried under a rotated leader. Sessions whose eligible
// signers dropped below the threshold contribute an ErrRetryExhausted to the
// returned error while the sweep continues.
func (m *Manager) ProcessTimeouts(now time.Time) ([]model.Message, error) {
	var messages []model.Message
	var sweepErr *multierror.Error

	for sessionID, coordinator := range m.coordinators {
		actions, err := coordinator.ProcessTimeout(now)
		if err != nil {
			return nil, fmt.Errorf("could not process timeout for session %s: %w", sessionID, err)
		}

		for _, action := range actions {
			failed, ok := action.(Failed)
			if !ok {
				continue
			}
			state, err := m.sessionState(sessionID)
			if err != nil {
				return nil, err
			}
			if state == nil || state.Request == nil {
				continue
			}
			missing := policy.MissingSigners(failed.Stage, state.Request, state)
			if len(missing) == 0 {
				continue
			}
			m.exclude(sessionID, missing)
			m.log.Debug().
				Str("session", sessionID.String()).
				Str("stage", failed.Stage.String()).
				Int("excluded", len(m.excluded[sessionID])).
				Msg("excluded missing signers after timeout")
		}

		messages = append(messages, ActionsToMessages(actions)...)
	}

	for sessionID, progress := range m.progress {
		state, err := m.sessionState(sessionID)
		if err != nil {
			return nil, err
		}
		stage := policy.StageFromState(state)
		if !policy.TimeoutElapsed(now, progress.LastActivity, stage, m.nonceTimeout, m.partialTimeout) {
			continue
		}

		plan := policy.BuildRetryPlan(sessionID, progress.Attempt, progress.Participants, progress.Threshold, m.excluded[sessionID])
		if plan == nil {
			m.metrics.RoastRetryExhausted()
			sweepErr = multierror.Append(sweepErr, fmt.Errorf("session %s: %w", sessionID, ErrRetryExhausted))
			continue
		}

		if plan.Leader == m.self {
			started, err := m.startAsCoordinator(sessionID, plan.Attempt, progress.TweakTarget, progress.Threshold, plan.Participants, model.SignKindBatchCommitment)
			if err != nil {
				return nil, err
			}
			messages = append(messages, started...)
		}
		m.metrics.RoastRetryStarted()

		// startAsCoordinator replaces the progress entry when self leads
		progress = m.progress[sessionID]
		progress.LastActivity = now
		progress.Attempt = plan.Attempt
		progress.Leader = plan.Leader
		progress.Participants = plan.Participants
		progress.LeaderRequestSeen = plan.Leader == m.self
	}

	return messages, sweepErr.ErrorOrNil()
}

// Signature returns the finalized aggregate for the session, or
// storage.ErrNotFound if the session has not completed.
func (m *Manager) Signature(msgHash common.Hash, era uint64) (*model.SignAggregate, error) {
	state, err := m.sessionState(model.SessionID{MsgHash: msgHash, Era: era})
	if err != nil {
		return nil, err
	}
	if state == nil || state.Aggregate == nil {
		return nil, storage.ErrNotFound
	}
	return state.Aggregate, nil
}

// restoreCoordinator rebuilds the leader-side coordinator from persisted
// session state after a restart. Only the leader of record restores; other
// nodes keep relying on the leader or on the timeout sweep.
func (m *Manager) restoreCoordinator(sessionID model.SessionID) ([]model.Message, error) {
	state, err := m.sessionState(sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Request == nil || state.Completed {
		return nil, nil
	}
	request := state.Request
	if request.Leader != m.self {
		return nil, nil
	}

	return m.startAsCoordinator(sessionID, request.Attempt, request.TweakTarget, request.Threshold, request.Participants, request.Kind)
}

// applyRetryPlan fans out the follow-up attempt of a stalled session: self
// as next leader starts the local coordinator, otherwise the retry request
// is emitted towards the elected leader.
func (m *Manager) applyRetryPlan(sessionID model.SessionID, request *model.SignSessionRequest, plan *policy.RetryPlan) ([]model.Message, error) {
	var messages []model.Message

	if plan.Leader == m.self {
		started, err := m.startAsCoordinator(sessionID, plan.Attempt, request.TweakTarget, request.Threshold, plan.Participants, request.Kind)
		if err != nil {
			return nil, err
		}
		messages = append(messages, started...)
	} else {
		retry := &model.SignSessionRequest{
			Era:          request.Era,
			Leader:       plan.Leader,
			Attempt:      plan.Attempt,
			MsgHash:      request.MsgHash,
			TweakTarget:  request.TweakTarget,
			Threshold:    request.Threshold,
			Participants: plan.Participants,
			Kind:         request.Kind,
		}
		messages = append(messages, retry)
	}
	m.metrics.RoastRetryStarted()

	if progress, ok := m.progress[sessionID]; ok {
		progress.LastActivity = time.Now()
		progress.Attempt = plan.Attempt
		progress.Leader = plan.Leader
		progress.Participants = plan.Participants
		progress.LeaderRequestSeen = plan.Leader == m.self
	}

	m.log.Info().
		Str("session", sessionID.String()).
		Uint32("attempt", plan.Attempt).
		Hex("leader", plan.Leader[:]).
		Int("participants", len(plan.Participants)).
		Msg("session stalled, rotating leader")

	return messages, nil
}

// finalize releases all in-memory state of a completed session and caches
// the aggregate under the session's tweak target.
func (m *Manager) finalize(sessionID model.SessionID, aggregate *model.SignAggregate) error {
	if progress, tracked := m.progress[sessionID]; tracked {
		err := m.sessions.PutAggregate(sessionID.Era, progress.TweakTarget, sessionID.MsgHash, aggregate)
		if err != nil {
			return fmt.Errorf("could not cache aggregate: %w", err)
		}
		m.metrics.RoastSessionCompleted()
	}
	delete(m.coordinators, sessionID)
	delete(m.participants, sessionID)
	delete(m.progress, sessionID)
	return nil
}

// sessionState loads the persisted state for the session, mapping
// storage.ErrNotFound to nil.
func (m *Manager) sessionState(sessionID model.SessionID) (*model.SessionState, error) {
	state, err := m.sessions.SessionState(sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not retrieve session state: %w", err)
	}
	return state, nil
}

// touch records activity on the session for stall detection.
func (m *Manager) touch(sessionID model.SessionID) {
	if progress, ok := m.progress[sessionID]; ok {
		progress.LastActivity = time.Now()
	}
}

func (m *Manager) isExcluded(sessionID model.SessionID, signer common.Address) bool {
	set, ok := m.excluded[sessionID]
	if !ok {
		return false
	}
	_, excluded := set[signer]
	return excluded
}

// exclude adds the signers to the session's exclusion set. The set only ever
// grows for the lifetime of the session.
func (m *Manager) exclude(sessionID model.SessionID, signers []common.Address) {
	set, ok := m.excluded[sessionID]
	if !ok {
		set = make(map[common.Address]struct{})
		m.excluded[sessionID] = set
	}
	for _, signer := range signers {
		if _, ok := set[signer]; ok {
			continue
		}
		set[signer] = struct{}{}
		m.metrics.RoastSignerExcluded()
	}
}
