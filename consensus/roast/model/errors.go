package model

import (
	"errors"
	"fmt"
)

// InvalidRequestError indicates that a signing session request violates a
// structural invariant (empty or unsorted participant set, unsatisfiable
// threshold, leader outside the participant set). Such requests are dropped
// by the recipient without affecting session state.
type InvalidRequestError struct {
	err error
}

func NewInvalidRequestErrorf(msg string, args ...interface{}) error {
	return InvalidRequestError{
		err: fmt.Errorf(msg, args...),
	}
}

func (e InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid sign session request: %s", e.err.Error())
}

func (e InvalidRequestError) Unwrap() error {
	return e.err
}

// IsInvalidRequestError returns whether err is an InvalidRequestError.
func IsInvalidRequestError(err error) bool {
	var target InvalidRequestError
	return errors.As(err, &target)
}
