package services

import "errors"

// Expected pipeline outcomes are modelled as sentinel errors so callers are
// forced to handle each case explicitly. Handlers map these onto HTTP
// responses; anything not in this list is an internal error.
var (
	// ErrDataConflict is returned when submitted identity fields mismatch an
	// existing stakeholder record. Logged as a security warning by the caller.
	ErrDataConflict = errors.New("stakeholder identity conflict")

	// ErrDuplicateEndorsement is returned when a (stakeholder, campaign) pair
	// already has an endorsement.
	ErrDuplicateEndorsement = errors.New("endorsement already exists for this campaign")

	// ErrTokenInvalid is returned for unknown or already-consumed tokens.
	ErrTokenInvalid = errors.New("verification token is invalid")

	// ErrTokenExpired is returned for tokens past their 24h lifetime.
	ErrTokenExpired = errors.New("verification token has expired")

	// ErrImmutableRecord is returned on mutation attempts after email
	// verification. Logged as a security warning by the caller.
	ErrImmutableRecord = errors.New("verified endorsement is immutable")

	// ErrInvalidTransition is returned when a moderation action targets an
	// endorsement that is not in the required state.
	ErrInvalidTransition = errors.New("endorsement is not in a state that allows this action")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
)
