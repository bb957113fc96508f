// Package faults classifies failures raised while reading the alarm source,
// writing bookkeeping rows or talking to the alerting gateway.
package faults

import (
	"errors"
	"fmt"
)

// Kind is the failure class used by retry and state decisions.
type Kind string

const (
	// KindTransient covers unreachable stores or gateways and timeouts. Safe to retry next cycle.
	KindTransient Kind = "transient_infra"
	// KindFatal covers requests the peer rejected. Not retried until the payload changes.
	KindFatal Kind = "fatal_request"
	// KindIntegrity covers source rows referencing missing reference data.
	KindIntegrity Kind = "data_integrity"
)

// Error wraps an underlying error with its class and the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Transient wraps err as a transient infrastructure failure.
func Transient(op string, err error) error {
	return wrap(KindTransient, op, err)
}

// Fatal wraps err as a non-retryable request failure.
func Fatal(op string, err error) error {
	return wrap(KindFatal, op, err)
}

// Integrity wraps err as a data integrity problem.
func Integrity(op string, err error) error {
	return wrap(KindIntegrity, op, err)
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the class of err. Unclassified errors are treated as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsFatal reports whether err was rejected by the peer.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}
