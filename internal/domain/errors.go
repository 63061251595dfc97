package domain

import "errors"

var (
	// ErrNotFound is returned by stores when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a ledger entry is not in a status
	// the requested transition may start from.
	ErrInvalidTransition = errors.New("invalid ledger status transition")
)
