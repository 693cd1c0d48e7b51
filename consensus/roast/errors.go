package roast

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrRetryExhausted is returned when a stalled session cannot be retried
// because the eligible participants no longer reach the threshold.
var ErrRetryExhausted = errors.New("retry exhausted: eligible participants below threshold")

// MaliciousSignerError indicates that a signer's contribution failed
// cryptographic verification. The signer is reported as a culprit and
// excluded from all future attempts of the session.
type MaliciousSignerError struct {
	Signer common.Address
}

func NewMaliciousSignerError(signer common.Address) error {
	return MaliciousSignerError{Signer: signer}
}

func (e MaliciousSignerError) Error() string {
	return fmt.Sprintf("malicious signer %x", e.Signer)
}

// IsMaliciousSignerError returns whether err is a MaliciousSignerError.
func IsMaliciousSignerError(err error) bool {
	var target MaliciousSignerError
	return errors.As(err, &target)
}

// AsMaliciousSignerError returns the MaliciousSignerError wrapped in err, if
// any.
func AsMaliciousSignerError(err error) (MaliciousSignerError, bool) {
	var target MaliciousSignerError
	ok := errors.As(err, &target)
	return target, ok
}
