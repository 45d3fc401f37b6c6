package models

import (
	"fmt"
	"regexp"
	"time"
)

// CredentialStatus is the redemption state of a ticket credential.
type CredentialStatus string

const (
	CredentialIssued   CredentialStatus = "issued"
	CredentialRedeemed CredentialStatus = "redeemed"
)

// SerialPrefix is the fixed prefix of every credential serial.
const SerialPrefix = "SAFE"

var serialPattern = regexp.MustCompile(`^SAFE-\d{3,}-[A-Z0-9]+$`)

// FormatSerial builds a credential serial, e.g. SAFE-001-SARALINA.
func FormatSerial(seq int64, eventSlug string) string {
	return fmt.Sprintf("%s-%03d-%s", SerialPrefix, seq, eventSlug)
}

// ValidSerial reports whether s looks like a credential serial.
func ValidSerial(s string) bool {
	return serialPattern.MatchString(s)
}

// TicketCredential is one redeemable ticket unit.
type TicketCredential struct {
	ID                string           `json:"id"` // pocketbase record id
	Serial            string           `json:"serial"`
	EventCode         string           `json:"event_code"`
	Category          string           `json:"category"`
	Status            CredentialStatus `json:"status"`
	ExternalReference string           `json:"external_reference"`
	IssuedAt          time.Time        `json:"issued_at"`
	RedeemedAt        *time.Time       `json:"redeemed_at,omitempty"`
}

// ValidationContext is the organizer-side context a credential is checked
// against at the door.
type ValidationContext struct {
	EventCode       string   `json:"event_code"`
	ValidCategories []string `json:"valid_categories"`
	Device          string   `json:"device,omitempty"`
}

// ValidationReason identifies the outcome of one validation call.
type ValidationReason string

const (
	ReasonSuccess          ValidationReason = "success"
	ReasonSerialNotFound   ValidationReason = "serial_not_found"
	ReasonEventMismatch    ValidationReason = "event_mismatch"
	ReasonCategoryMismatch ValidationReason = "category_mismatch"
	ReasonAlreadyUsed      ValidationReason = "already_used"

	// ReasonError records a call that won the redemption claim but could
	// not persist the redeem mark.
	ReasonError ValidationReason = "error"
)

// Message is the human-readable reason shown on the scanning device.
func (r ValidationReason) Message() string {
	switch r {
	case ReasonSuccess:
		return "Ticket validated successfully."
	case ReasonSerialNotFound:
		return "Serial number not found."
	case ReasonEventMismatch:
		return "Wrong event code."
	case ReasonCategoryMismatch:
		return "Wrong ticket category."
	case ReasonAlreadyUsed:
		return "Ticket has already been used."
	}
	return "Ticket not validated."
}

// ValidationOutcome is returned to the scanning device.
type ValidationOutcome struct {
	Valid     bool             `json:"valid"`
	Reason    ValidationReason `json:"reason"`
	Message   string           `json:"message"`
	Serial    string           `json:"serial"`
	Category  string           `json:"category,omitempty"`
	EventCode string           `json:"event_code,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ValidationAttempt is the append-only audit record of one validation call.
type ValidationAttempt struct {
	Serial    string           `json:"serial"`
	EventCode string           `json:"event_code"`
	Outcome   ValidationReason `json:"outcome"`
	Device    string           `json:"device,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
