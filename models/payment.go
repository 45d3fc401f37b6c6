package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is the checkout payment method.
type PaymentMethod string

const (
	MethodPix  PaymentMethod = "pix"
	MethodCard PaymentMethod = "card"
)

// PaymentStatus is the lifecycle state of a PaymentIntent.
//
// created -> pending -> approved | rejected
// created -> error (adapter failure before any provider id exists)
type PaymentStatus string

const (
	StatusCreated  PaymentStatus = "created"
	StatusPending  PaymentStatus = "pending"
	StatusApproved PaymentStatus = "approved"
	StatusRejected PaymentStatus = "rejected"
	StatusError    PaymentStatus = "error"
)

// statusRank orders statuses along the state machine. Terminal states share
// the highest rank so a move between two different terminals is never a
// forward move.
var statusRank = map[PaymentStatus]int{
	StatusCreated:  0,
	StatusPending:  1,
	StatusApproved: 2,
	StatusRejected: 2,
	StatusError:    2,
}

// Terminal reports whether s is a final state.
func (s PaymentStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusError
}

// CanTransition reports whether moving from s to next is a legal forward
// move. Re-applying the current status is not a transition (idempotent
// no-op handled by the caller).
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	if s == next {
		return false
	}
	if s.Terminal() {
		return false
	}
	// error is only reachable straight from created.
	if next == StatusError && s != StatusCreated {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// PaymentIntent is the durable record of one checkout attempt.
type PaymentIntent struct {
	ID                string          `json:"id"` // pocketbase record id
	ProviderID        string          `json:"provider_id,omitempty"`
	ExternalReference string          `json:"external_reference"`
	Method            PaymentMethod   `json:"method"`
	Amount            decimal.Decimal `json:"amount"`
	PayerEmail        string          `json:"payer_email"`
	EventCode         string          `json:"event_code"`
	Items             []LineItem      `json:"items"`
	Status            PaymentStatus   `json:"status"`
	StatusDetail      string          `json:"status_detail,omitempty"`
	ExpirationDate    *time.Time      `json:"expiration_date,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	LastReconciledAt  *time.Time      `json:"last_reconciled_at,omitempty"`
	NeedsAttention    bool            `json:"needs_attention,omitempty"`
}

// LineItem is one purchased ticket category on a checkout.
type LineItem struct {
	Category string          `json:"category"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// Units is the total number of credentials the intent pays for.
func (p *PaymentIntent) Units() int {
	n := 0
	for _, it := range p.Items {
		n += it.Quantity
	}
	return n
}
