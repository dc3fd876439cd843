package retrospect

import (
	"errors"
	"fmt"
)

var (
	ErrLimitExceeded   = errors.New("limit reached")
	ErrInProgressLimit = fmt.Errorf("%w: at most %d retrospects can be in progress, finish one before starting another", ErrLimitExceeded, InProgressLimit)
	ErrPinLimit        = fmt.Errorf("%w: at most %d retrospects can be pinned, unpin one first", ErrLimitExceeded, PinLimit)

	ErrInvalidRetrospect = errors.New("retrospect does not exist")
	ErrCreationFailed    = errors.New("retrospect creation failed")
	ErrStorage           = errors.New("storage failure")
	ErrAssistant         = errors.New("assistant failure")
	ErrAlreadyFinished   = errors.New("retrospect already finished")
	ErrRetrospectEnded   = errors.New("retrospect conversation has ended")
	ErrEmptyMessage      = errors.New("message content is empty")

	// Returned by Store implementations.
	ErrStoreNotFound = errors.New("record not found in store")
	ErrStoreConflict = errors.New("stored record does not match expected version")
)

// OpError ties a failed operation to its category sentinel and the cause.
// errors.Is matches either.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func storageError(op string, err error) error {
	return &OpError{Op: op, Kind: ErrStorage, Err: err}
}

func assistantError(op string, err error) error {
	return &OpError{Op: op, Kind: ErrAssistant, Err: err}
}
