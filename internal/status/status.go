package status

import "errors"

// Payment errors.
var (
	ErrInvalidMethod      = errors.New("payment: invalid payment method")
	ErrMissingToken       = errors.New("payment: card token is required")
	ErrDuplicateReference = errors.New("payment: external reference already exists")
	ErrProviderInternal   = errors.New("payment: provider internal error")
	ErrIntentNotFound     = errors.New("payment: intent not found")
	ErrStatusConflict     = errors.New("payment: conflicting terminal status")
	ErrIssuanceFailed     = errors.New("ticket: issuance failed after payment approval")
)

// Validation errors, ordered the way the engine checks them.
var (
	ErrSerialNotFound   = errors.New("validate: serial not found")
	ErrEventMismatch    = errors.New("validate: wrong event code")
	ErrCategoryMismatch = errors.New("validate: wrong ticket category")
	ErrAlreadyUsed      = errors.New("validate: ticket already used")
)

// Organizer gate errors.
var (
	ErrEventNotFound     = errors.New("organizer: event not found")
	ErrInvalidAccessCode = errors.New("organizer: invalid access code")
)
