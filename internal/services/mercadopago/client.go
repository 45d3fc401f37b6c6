package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"safeswap/internal/status"
	"safeswap/monitoring"
	"safeswap/utils"

	"github.com/shopspring/decimal"
)

type Client struct {
	// baseURL is the base url of the MercadoPago API.
	baseURL string

	// accessToken authenticates every request.
	accessToken string

	// breaker guards the provider from hammering during outages.
	breaker *utils.CircuitBreaker

	// hc is the http client.
	hc *http.Client
}

// newClient creates a new MercadoPago API client.
func newClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		accessToken: cfg.AccessToken,
		breaker:     utils.NewCircuitBreaker("mercadopago"),

		// set http client with timeout; a provider hang must never block a
		// checkout forever, the intent stays pending and is reconciled later.
		hc: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx reply from the provider.
type APIError struct {
	StatusCode int      `json:"status"`
	Message    string   `json:"message"`
	ErrorCode  string   `json:"error"`
	Causes     []string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: api error %d: %s", e.StatusCode, e.Message)
}

// AsAPIError unwraps err into an APIError if there is one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// createPayload is the wire form of a payment create request.
type createPayload struct {
	Token               string         `json:"token,omitempty"`
	TransactionAmount   float64        `json:"transaction_amount"`
	Description         string         `json:"description,omitempty"`
	Installments        int            `json:"installments,omitempty"`
	PaymentMethodID     string         `json:"payment_method_id,omitempty"`
	IssuerID            string         `json:"issuer_id,omitempty"`
	Payer               Payer          `json:"payer"`
	NotificationURL     string         `json:"notification_url,omitempty"`
	StatementDescriptor string         `json:"statement_descriptor,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	ExternalReference   string         `json:"external_reference"`
}

// paymentReply is the wire form of a payment resource.
type paymentReply struct {
	ID                json.Number         `json:"id"`
	Status            string              `json:"status"`
	StatusDetail      string              `json:"status_detail"`
	ExternalReference string              `json:"external_reference"`
	PaymentMethodID   string              `json:"payment_method_id"`
	TransactionAmount decimal.Decimal     `json:"transaction_amount"`
	DateCreated       string              `json:"date_created"`
	DateApproved      string              `json:"date_approved"`
	DateOfExpiration  string              `json:"date_of_expiration"`
	PointOfInteraction *PointOfInteraction `json:"point_of_interaction"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
	Card struct {
		LastFourDigits string `json:"last_four_digits"`
	} `json:"card"`
}

const wireTime = "2006-01-02T15:04:05.000-07:00"

func (p *paymentReply) toDomain() (*PaymentResult, error) {
	created, err := parseWireTime(p.DateCreated)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: toDomain: date_created: %w", err)
	}

	result := &PaymentResult{
		ID:                 p.ID.String(),
		Status:             ParseStatus(p.Status),
		StatusDetail:       p.StatusDetail,
		ExternalReference:  p.ExternalReference,
		PaymentMethodID:    p.PaymentMethodID,
		Amount:             p.TransactionAmount,
		PayerEmail:         p.Payer.Email,
		CardLastFour:       p.Card.LastFourDigits,
		PointOfInteraction: p.PointOfInteraction,
	}
	if created != nil {
		result.DateCreated = *created
	}

	result.DateApproved, err = parseWireTime(p.DateApproved)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: toDomain: date_approved: %w", err)
	}
	result.DateOfExpiration, err = parseWireTime(p.DateOfExpiration)
	if err != nil {
		return nil, fmt.Errorf("mercadopago: toDomain: date_of_expiration: %w", err)
	}

	return result, nil
}

func parseWireTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(wireTime, raw)
	if err != nil {
		// some provider fields come back without milliseconds
		ts, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, err
		}
	}
	return &ts, nil
}

// createPayment posts a payment create request. The idempotency key lets
// the provider dedupe a re-sent create for the same checkout.
func (c *Client) createPayment(ctx context.Context, payload *createPayload, idempotencyKey string) (*PaymentResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("createPayment: json.Marshal: %w", err)
	}

	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s%s", _baseURL.String(), "/v1/payments"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("createPayment: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	return c.do(req, "create_payment")
}

// getPayment fetches a payment resource by provider id.
func (c *Client) getPayment(ctx context.Context, id string) (*PaymentResult, error) {
	_baseURL, _ := url.Parse(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/payments/%s", _baseURL.String(), id), nil)
	if err != nil {
		return nil, fmt.Errorf("getPayment: http.NewReq: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))

	return c.do(req, "get_payment")
}

func (c *Client) do(req *http.Request, operation string) (*PaymentResult, error) {
	start := time.Now()
	defer func() {
		monitoring.TrackProviderRequest(operation, time.Since(start))
	}()

	raw, err := c.breaker.Execute(req.Context(), func() (any, error) {
		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", status.ErrProviderInternal, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: http status %d", status.ErrProviderInternal, resp.StatusCode)
		}

		if resp.StatusCode >= http.StatusBadRequest {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			dec := json.NewDecoder(resp.Body)
			if err := dec.Decode(apiErr); err != nil {
				apiErr.Message = "unreadable error body"
			}
			return nil, apiErr
		}

		var reply paymentReply
		dec := json.NewDecoder(resp.Body)
		if err := dec.Decode(&reply); err != nil {
			return nil, fmt.Errorf("do: json.Decode: %w", err)
		}
		return reply.toDomain()
	})
	if err != nil {
		return nil, err
	}

	return raw.(*PaymentResult), nil
}
