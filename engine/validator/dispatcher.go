package validator

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sigranet/sigra-go/consensus/roast"
	roastmodel "github.com/sigranet/sigra-go/consensus/roast/model"
	"github.com/sigranet/sigra-go/model/consensus"
)

// Dispatcher routes verified ROAST protocol messages into the session
// manager and signs the manager's outbound messages for broadcast. It runs
// for every role state, since this node may participate in another
// validator's signing round concurrently with its own role work.
type Dispatcher struct {
	log     zerolog.Logger
	manager *roast.Manager
	signer  Signer
}

func NewDispatcher(log zerolog.Logger, manager *roast.Manager, signer Signer) *Dispatcher {
	return &Dispatcher{
		log:     log.With().Str("component", "validator_dispatcher").Logger(),
		manager: manager,
		signer:  signer,
	}
}

// Dispatch feeds one verified message into the session manager and returns
// the signed outbound messages to broadcast. When the message is an aggregate
// signature, it is additionally returned so the coordinator role can detect
// completion of its own session.
//
// Messages whose embedded sender does not match the authenticated envelope
// sender are dropped as forgeries. Retry exhaustion inside the manager is
// surfaced as a warning, not an error: the round is abandoned but the node
// keeps operating.
func (d *Dispatcher) Dispatch(msg consensus.VerifiedValidatorMessage) ([]consensus.SignedValidatorMessage, *roastmodel.SignAggregate, error) {

	var outbound []roastmodel.Message
	var aggregate *roastmodel.SignAggregate
	var err error

	switch m := msg.Message.(type) {

	case *roastmodel.SignSessionRequest:
		outbound, err = d.manager.ProcessSignRequest(msg.From, m)

	case *roastmodel.SignNonceCommit:
		if m.From != msg.From {
			d.forged(msg, "nonce commit")
			return nil, nil, nil
		}
		outbound, err = d.manager.ProcessNonceCommit(*m)

	case *roastmodel.SignNoncePackage:
		outbound, err = d.manager.ProcessNoncePackage(m)

	case *roastmodel.SignShare:
		if m.From != msg.From {
			d.forged(msg, "signature share")
			return nil, nil, nil
		}
		outbound, err = d.manager.ProcessPartialSignature(*m)

	case *roastmodel.SignCulprits:
		d.manager.ProcessCulprits(m)

	case *roastmodel.SignAggregate:
		err = d.manager.ProcessAggregate(m)
		aggregate = m

	default:
		d.log.Warn().
			Str("session", msg.Message.SessionID().String()).
			Msg("dropping validator message of unknown type")
		return nil, nil, nil
	}

	if errors.Is(err, roast.ErrRetryExhausted) {
		d.log.Warn().Err(err).
			Str("session", msg.Message.SessionID().String()).
			Msg("signing round abandoned, retries exhausted")
		err = nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not dispatch validator message: %w", err)
	}

	signed, err := d.SignMessages(outbound)
	if err != nil {
		return nil, nil, err
	}
	return signed, aggregate, nil
}

// SignMessages wraps outbound ROAST messages into signed network envelopes.
func (d *Dispatcher) SignMessages(messages []roastmodel.Message) ([]consensus.SignedValidatorMessage, error) {
	signed := make([]consensus.SignedValidatorMessage, 0, len(messages))
	for _, message := range messages {
		digest, err := consensus.MessageDigest(message)
		if err != nil {
			return nil, fmt.Errorf("could not hash outbound message: %w", err)
		}
		signature, err := d.signer.Sign(digest)
		if err != nil {
			return nil, fmt.Errorf("could not sign outbound message: %w", err)
		}
		signed = append(signed, consensus.SignedValidatorMessage{
			Message:   message,
			Signature: signature,
		})
	}
	return signed, nil
}

func (d *Dispatcher) forged(msg consensus.VerifiedValidatorMessage, kind string) {
	d.log.Warn().
		Hex("from", msg.From[:]).
		Str("session", msg.Message.SessionID().String()).
		Msgf("dropping %s with mismatched sender", kind)
}
