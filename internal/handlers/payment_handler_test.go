package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"safeswap/internal/services"
	"safeswap/internal/services/mercadopago"
	"safeswap/internal/status"
	"safeswap/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway returns canned provider replies.
type stubGateway struct {
	result *mercadopago.PaymentResult
	err    error
}

func (s *stubGateway) CreatePix(context.Context, *mercadopago.PixRequest) (*mercadopago.PaymentResult, error) {
	return s.result, s.err
}

func (s *stubGateway) CreateCard(context.Context, *mercadopago.CardRequest) (*mercadopago.PaymentResult, error) {
	return s.result, s.err
}

func (s *stubGateway) GetPayment(context.Context, string) (*mercadopago.PaymentResult, error) {
	return s.result, s.err
}

// stubIntentStore holds a single intent.
type stubIntentStore struct {
	intent *models.PaymentIntent
}

func (s *stubIntentStore) Create(_ context.Context, intent *models.PaymentIntent) error {
	cp := *intent
	s.intent = &cp
	return nil
}

func (s *stubIntentStore) FindByReference(_ context.Context, ref string) (*models.PaymentIntent, error) {
	if s.intent != nil && s.intent.ExternalReference == ref {
		cp := *s.intent
		return &cp, nil
	}
	return nil, status.ErrIntentNotFound
}

func (s *stubIntentStore) FindByProviderID(_ context.Context, providerID string) (*models.PaymentIntent, error) {
	if s.intent != nil && s.intent.ProviderID == providerID {
		cp := *s.intent
		return &cp, nil
	}
	return nil, status.ErrIntentNotFound
}

func (s *stubIntentStore) Update(_ context.Context, intent *models.PaymentIntent) error {
	cp := *intent
	s.intent = &cp
	return nil
}

func newRequestEvent(method, target string, body []byte) (*core.RequestEvent, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	event := &core.RequestEvent{}
	event.Request = req
	event.Response = rec
	return event, rec
}

func TestCreatePixPayment_RejectsInvalidAmount(t *testing.T) {
	handler := &PaymentHandler{}

	event, _ := newRequestEvent(http.MethodPost, "/api/create-pix-payment", []byte(`{"amount": 0}`))
	err := handler.CreatePixPayment(event)
	assert.Error(t, err)

	event, _ = newRequestEvent(http.MethodPost, "/api/create-pix-payment", []byte(`{"amount": -10}`))
	err = handler.CreatePixPayment(event)
	assert.Error(t, err)
}

func TestProcessCardPayment_RejectsMissingToken(t *testing.T) {
	handler := &PaymentHandler{}

	event, _ := newRequestEvent(http.MethodPost, "/api/process-card-payment", []byte(`{"amount": 100}`))
	err := handler.ProcessCardPayment(event)
	assert.Error(t, err)
}

func TestValidateTicket_RejectsMissingSerial(t *testing.T) {
	handler := &ValidationHandler{}

	event, _ := newRequestEvent(http.MethodPost, "/api/validate-ticket", []byte(`{"event_code": "SARALINA26", "access_code": "porta123"}`))
	err := handler.ValidateTicket(event)
	assert.Error(t, err)
}

func TestSendTicket_RejectsMissingReference(t *testing.T) {
	handler := &TicketHandler{}

	event, _ := newRequestEvent(http.MethodPost, "/api/send-ticket", []byte(`{}`))
	err := handler.SendTicket(event)
	require.Error(t, err)
}

func TestCreatePixPayment_RejectsNonPixMethod(t *testing.T) {
	// handler validation must stop a card body before any service call
	handler := &PaymentHandler{}

	event, _ := newRequestEvent(http.MethodPost, "/api/create-pix-payment",
		[]byte(`{"amount": 100, "payment_method_id": "credit_card"}`))
	err := handler.CreatePixPayment(event)
	require.Error(t, err)

	var apiErr *router.ApiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestCheckPaymentStatus_ReturnsIntentDetails(t *testing.T) {
	created := time.Now().Add(-5 * time.Minute).UTC().Truncate(time.Second)
	approved := time.Now().UTC().Truncate(time.Second)

	store := &stubIntentStore{intent: &models.PaymentIntent{
		ID:                "rec1",
		ProviderID:        "777",
		ExternalReference: "festa_9_Z",
		Method:            models.MethodPix,
		Amount:            decimal.NewFromInt(150),
		PayerEmail:        "ana@example.com",
		EventCode:         "SARALINA26",
		Status:            models.StatusPending,
		CreatedAt:         created,
	}}
	gateway := &stubGateway{result: &mercadopago.PaymentResult{
		ID:                "777",
		Status:            mercadopago.StatusApproved,
		StatusDetail:      "accredited",
		ExternalReference: "festa_9_Z",
		DateApproved:      &approved,
	}}
	svc := services.NewPaymentService(gateway, store, nil, nil)
	handler := NewPaymentHandler(svc, nil)

	event, rec := newRequestEvent(http.MethodGet, "/api/payment-status/777", nil)
	event.Request.SetPathValue("paymentId", "777")

	require.NoError(t, handler.CheckPaymentStatus(event))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "777", resp["id"])
	assert.Equal(t, "approved", resp["status"])
	assert.Equal(t, "pix", resp["method"])
	assert.Equal(t, "ana@example.com", resp["payer_email"])
	assert.Equal(t, "festa_9_Z", resp["external_reference"])
	assert.Contains(t, resp, "amount")
	assert.Contains(t, resp, "created_at")
	assert.Contains(t, resp, "approved_at")
}

func TestCheckPaymentStatus_ProviderNotFound(t *testing.T) {
	gateway := &stubGateway{err: &mercadopago.APIError{
		StatusCode: http.StatusNotFound,
		Message:    "Payment not found",
	}}
	svc := services.NewPaymentService(gateway, &stubIntentStore{}, nil, nil)
	handler := NewPaymentHandler(svc, nil)

	event, _ := newRequestEvent(http.MethodGet, "/api/payment-status/999", nil)
	event.Request.SetPathValue("paymentId", "999")

	err := handler.CheckPaymentStatus(event)
	require.Error(t, err)

	var apiErr *router.ApiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}
