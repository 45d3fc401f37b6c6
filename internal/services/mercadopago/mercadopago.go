package mercadopago

import (
	"context"
	"fmt"
	"time"

	"safeswap/internal/status"

	"github.com/shopspring/decimal"
)

// Status is the closed set of provider payment statuses this system
// handles. Anything the provider adds later parses to StatusUnknown and
// fails loudly at the call site instead of falling through a default.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInProcess Status = "in_process"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// ParseStatus maps a raw provider status onto the closed set.
func ParseStatus(raw string) Status {
	switch Status(raw) {
	case StatusPending, StatusInProcess, StatusApproved, StatusRejected, StatusCancelled:
		return Status(raw)
	}
	return StatusUnknown
}

// Settled reports whether the provider considers the payment final.
func (s Status) Settled() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

type (
	Config struct {
		BaseURL             string `json:"baseUrl" mapstructure:"base_url"`
		AccessToken         string `json:"accessToken" mapstructure:"access_token"`
		PublicKey           string `json:"publicKey" mapstructure:"public_key"`
		WebhookSecret       string `json:"webhookSecret" mapstructure:"webhook_secret"`
		NotificationURL     string `json:"notificationUrl" mapstructure:"notification_url"`
		StatementDescriptor string `json:"statementDescriptor" mapstructure:"statement_descriptor"`

		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	// Gateway normalizes calls to the MercadoPago payments API. It never
	// mutates any store; callers reconcile results themselves.
	Gateway struct {
		notificationURL     string
		statementDescriptor string
		webhookSecret       string

		client *Client
	}
)

// Payer identifies who pays.
type Payer struct {
	Email          string `json:"email"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Identification struct {
		Type   string `json:"type,omitempty"`
		Number string `json:"number,omitempty"`
	} `json:"identification,omitempty"`
}

// PixRequest creates an instant-transfer payment.
type PixRequest struct {
	Amount            decimal.Decimal
	Description       string
	Payer             Payer
	ExternalReference string
	Metadata          map[string]any
}

// CardRequest creates a tokenized card payment.
type CardRequest struct {
	Token             string
	Amount            decimal.Decimal
	Description       string
	Installments      int
	PaymentMethodID   string
	IssuerID          string
	Payer             Payer
	ExternalReference string
	Metadata          map[string]any
}

// TransactionData is the scannable PIX payload.
type TransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

// PointOfInteraction carries the PIX interaction data.
type PointOfInteraction struct {
	Type            string          `json:"type"`
	TransactionData TransactionData `json:"transaction_data"`
}

// PaymentResult is the normalized provider response.
type PaymentResult struct {
	ID                string
	Status            Status
	StatusDetail      string
	ExternalReference string
	PaymentMethodID   string
	Amount            decimal.Decimal
	PayerEmail        string
	CardLastFour      string
	DateCreated       time.Time
	DateApproved      *time.Time
	DateOfExpiration  *time.Time
	PointOfInteraction *PointOfInteraction
}

// New returns a new MercadoPago gateway.
func New(_ context.Context, cfg *Config) (*Gateway, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("mercadopago: access token is required")
	}

	return &Gateway{
		notificationURL:     cfg.NotificationURL,
		statementDescriptor: cfg.StatementDescriptor,
		webhookSecret:       cfg.WebhookSecret,
		client:              newClient(cfg),
	}, nil
}

// CreatePix creates an instant-transfer payment and returns the scannable
// payload plus its expiration instant.
func (g *Gateway) CreatePix(ctx context.Context, req *PixRequest) (*PaymentResult, error) {
	payload := &createPayload{
		TransactionAmount:   req.Amount.InexactFloat64(),
		Description:         req.Description,
		PaymentMethodID:     "pix",
		Payer:               req.Payer,
		NotificationURL:     g.notificationURL,
		StatementDescriptor: g.statementDescriptor,
		Metadata:            req.Metadata,
		ExternalReference:   req.ExternalReference,
	}

	result, err := g.client.createPayment(ctx, payload, req.ExternalReference)
	if err != nil {
		return nil, err
	}
	if result.PointOfInteraction == nil {
		return nil, fmt.Errorf("mercadopago: CreatePix: response carries no interaction data")
	}
	return result, nil
}

// createRetryPolicy is the declared retry table for payment creation,
// keyed by provider error, not by message matching at call sites. Creation
// is not idempotent on the provider side beyond the dedupe key, so only the
// one narrow named fallback is retried.
var createRetryPolicy = map[string]retryAction{
	"bin not found": retryWithoutPaymentMethod,
}

type retryAction int

const (
	retryNone retryAction = iota
	retryWithoutPaymentMethod
)

// CreateCard creates a tokenized card payment. A missing token fails fast
// before any network call. If the provider rejects the create because the
// payment-method identifier was unrecognized ("bin not found"), the call is
// retried exactly once with the identifier omitted; every other error
// surfaces unretried.
func (g *Gateway) CreateCard(ctx context.Context, req *CardRequest) (*PaymentResult, error) {
	if req.Token == "" {
		return nil, status.ErrMissingToken
	}

	installments := req.Installments
	if installments <= 0 {
		installments = 1
	}

	payload := &createPayload{
		Token:               req.Token,
		TransactionAmount:   req.Amount.InexactFloat64(),
		Description:         req.Description,
		Installments:        installments,
		PaymentMethodID:     req.PaymentMethodID,
		IssuerID:            req.IssuerID,
		Payer:               req.Payer,
		NotificationURL:     g.notificationURL,
		StatementDescriptor: g.statementDescriptor,
		Metadata:            req.Metadata,
		ExternalReference:   req.ExternalReference,
	}

	result, err := g.client.createPayment(ctx, payload, req.ExternalReference)
	if err == nil {
		return result, nil
	}

	apiErr, ok := AsAPIError(err)
	if !ok || createRetryPolicy[apiErr.Message] != retryWithoutPaymentMethod {
		return nil, err
	}

	// One retry with a minimized payload: the optional payment-method
	// identifier is dropped so the provider infers it from the token.
	minimized := *payload
	minimized.PaymentMethodID = ""
	minimized.IssuerID = ""
	return g.client.createPayment(ctx, &minimized, req.ExternalReference)
}

// GetPayment fetches the authoritative payment state by provider id. Used
// both for client polling and webhook reconciliation.
func (g *Gateway) GetPayment(ctx context.Context, id string) (*PaymentResult, error) {
	return g.client.getPayment(ctx, id)
}

// VerifySignature checks a webhook delivery signature when a secret is
// configured. With no secret, every delivery passes.
func (g *Gateway) VerifySignature(xSignature, xRequestID, dataID string) bool {
	if g.webhookSecret == "" {
		return true
	}
	return verifySignature(g.webhookSecret, xSignature, xRequestID, dataID)
}
