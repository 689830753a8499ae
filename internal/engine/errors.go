package engine

import "errors"

// Error taxonomy surfaced by transit operations. The server layer maps
// these onto HTTP statuses; the CLI prints them as-is.
var (
	ErrUnauthorized      = errors.New("tramite: action not permitted for this user")
	ErrInvalidRecipient  = errors.New("tramite: recipient has no contact email")
	ErrNoCredential      = errors.New("tramite: no signature credential registered")
	ErrInvalidCredential = errors.New("tramite: signature passphrase does not match")
	ErrWeakPassphrase    = errors.New("tramite: passphrase must have at least 6 characters")
	ErrEmptyReason       = errors.New("tramite: rejection requires a justification")
	ErrAlreadyExists     = errors.New("tramite: process already initialized for task")
	ErrNoAssignee        = errors.New("tramite: task has no assignee")
	ErrConflict          = errors.New("tramite: step was resolved by another user")
)
