package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNameRequired        = errors.New("name is required")
	ErrEmailRequired       = errors.New("email is required")
	ErrDuplicateRegistrant = errors.New("this email is already registered")
	ErrEventFull           = errors.New("the event is full")
	ErrCycleNotFound       = errors.New("event cycle not found")
	ErrInvalidCapacity     = errors.New("invalid capacity")
	ErrCapacityBelowTaken  = errors.New("capacity cannot be lower than spots already taken")
	ErrReminderNotFound    = errors.New("reminder not found")
	ErrTimeout             = errors.New("operation timed out")
	ErrDispatchFailed      = errors.New("no weekly email could be sent")
)

// IsValidation reports whether err is a user-correctable input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNameRequired) || errors.Is(err, ErrEmailRequired)
}

// StoreError wraps a failed read or write against the data store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// TransportError wraps a failed email send.
type TransportError struct {
	Recipient string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Recipient, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// LifecycleError marks a weekly reset run that was aborted.
type LifecycleError struct {
	Step string
	Err  error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("weekly reset %s: %v", e.Step, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// StoreFailure classifies err for the operation op. Business errors from the
// domain pass through unchanged, deadline errors become ErrTimeout.
func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	if isBusiness(err) {
		return err
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func isBusiness(err error) bool {
	for _, target := range []error{
		ErrNameRequired,
		ErrEmailRequired,
		ErrDuplicateRegistrant,
		ErrEventFull,
		ErrCycleNotFound,
		ErrInvalidCapacity,
		ErrCapacityBelowTaken,
		ErrReminderNotFound,
		ErrTimeout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
