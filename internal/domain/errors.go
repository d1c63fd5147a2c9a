package domain

import "errors"

var (
	// ErrUnknownBackend indicates a backend id with no registered profile.
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrInvalidSample indicates a sample that cannot be recorded.
	ErrInvalidSample = errors.New("invalid metric sample")
	// ErrInvalidThreshold indicates a malformed threshold definition.
	ErrInvalidThreshold = errors.New("invalid threshold")
	// ErrThresholdNotFound indicates an adjustment against a missing threshold.
	ErrThresholdNotFound = errors.New("threshold not found")
	// ErrNoEligibleBackends indicates routing was asked with an empty set.
	ErrNoEligibleBackends = errors.New("no eligible backends provided")
	// ErrUnknownStrategy indicates an unrecognized routing strategy.
	ErrUnknownStrategy = errors.New("unknown routing strategy")
	// ErrCycleInFlight indicates an overlapping tuning cycle attempt.
	ErrCycleInFlight = errors.New("tuning cycle already in flight")
	// ErrStoreClosed indicates use of a closed sample store.
	ErrStoreClosed = errors.New("sample store is closed")
)
