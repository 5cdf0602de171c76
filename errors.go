package rvg

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// timeout, 5xx, connection failure: retried immediately by the polling loop
	ErrorKindTransient ErrorKind = "transient"
	// unparsable provider response: fatal
	ErrorKindSchema ErrorKind = "schema"
	// anything else: fatal
	ErrorKindFatal ErrorKind = "fatal"
)

// ProviderError is returned by every Provider query.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Url        string
	Body       []byte
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s error (status code %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Transient() bool {
	return e.Kind == ErrorKindTransient
}

func IsTransient(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Transient()
}

// EligibilityError aborts the run before polling starts.
type EligibilityError struct {
	Status string
	Name   string
	Reason string
}

func (e *EligibilityError) Error() string {
	return e.Reason
}

// ReservationUncertainError means a reservation request was sent and its
// server-side effect is unknown. Never retried.
type ReservationUncertainError struct {
	OrgCode     string
	VaccineCode string
	Err         error
}

func (e *ReservationUncertainError) Error() string {
	return fmt.Sprintf("reservation of %s at %s has an unknown result, check with the organization whether it went through: %v", e.VaccineCode, e.OrgCode, e.Err)
}

func (e *ReservationUncertainError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is a non-2xx response that was not whitelisted.
type HTTPStatusError struct {
	Url        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("Status code: %d from %s", e.StatusCode, e.Url)
}
