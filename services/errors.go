package services

import "errors"

// Error taxonomy for the approval pipeline. Handlers map these to HTTP
// statuses; services never let anything else escape untyped.
var (
	// ErrUnauthorized — no session, or the acting user is not an active
	// reviewer. Any auth-collaborator failure also lands here (fail closed).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidArgument — stage id outside 1..6, empty batch, bad input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound — no record in the required precondition status. This is
	// the race-safety guard: a second reviewer approving an already-resolved
	// submission gets this, never a silent double-apply.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition — submit called on a record that is absent or
	// not in current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrPayloadTooLarge — bulk batch over the 50-item cap.
	ErrPayloadTooLarge = errors.New("payload too large")
)
