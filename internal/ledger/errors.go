package ledger

import "errors"

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrTransientConflict      = errors.New("transient store conflict")
	ErrAccountDisabled        = errors.New("account disabled")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrNotEligible            = errors.New("not eligible")
	ErrAlreadyExists          = errors.New("already exists")

	// ErrConflict marks a store error that is safe to retry (serialization failure,
	// deadlock, stale version, duplicate insert race). Ledger.Run turns exhaustion into
	// ErrTransientConflict.
	ErrConflict = errors.New("concurrent update conflict")
)
