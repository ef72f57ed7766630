package model

import "errors"

// Failure taxonomy shared by the coordinator, the stores, and the HTTP layer.
// Wrap with fmt.Errorf("...: %w", Err...) and test with errors.Is.
var (
	// ErrNotFound: a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict: a lost race for a slot, or another uniqueness violation.
	// This is an expected outcome under concurrent booking, not a server fault.
	ErrConflict = errors.New("conflict")

	// ErrInvalidArgument: malformed or mismatched references (end <= start,
	// slot belongs to a different specialist/service, bad role).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState: the operation is not valid for the appointment's
	// current status (e.g. cancelling a completed appointment).
	ErrInvalidState = errors.New("invalid state")
)
