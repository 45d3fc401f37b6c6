package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"safeswap/internal/status"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw, err := New(context.Background(), &Config{
		BaseURL:             srv.URL,
		AccessToken:         "test-token",
		NotificationURL:     "https://example.com/webhooks/mercadopago",
		StatementDescriptor: "INGRESSOS",
	})
	require.NoError(t, err)

	return gw, srv
}

func TestNew_RequiresAccessToken(t *testing.T) {
	_, err := New(context.Background(), &Config{BaseURL: "https://api.mercadopago.com"})
	assert.Error(t, err)
}

func TestCreatePix_Success(t *testing.T) {
	var gotAuth, gotIdempotency string
	var gotPayload createPayload

	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("X-Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{
			"id": 12345678,
			"status": "pending",
			"status_detail": "pending_waiting_transfer",
			"external_reference": "festa_1782041200000_AB12CD34",
			"payment_method_id": "pix",
			"transaction_amount": 150.00,
			"date_created": "2026-06-20T10:00:00.000-03:00",
			"date_of_expiration": "2026-06-20T10:30:00.000-03:00",
			"point_of_interaction": {
				"type": "PIX",
				"transaction_data": {
					"qr_code": "00020126360014BR.GOV.BCB.PIX",
					"qr_code_base64": "aGVsbG8=",
					"ticket_url": "https://mercadopago.com/payments/12345678/ticket"
				}
			}
		}`))
	})

	result, err := gw.CreatePix(context.Background(), &PixRequest{
		Amount:            decimal.NewFromFloat(150.00),
		Description:       "Festa Saralina - Pista",
		Payer:             Payer{Email: "buyer@example.com"},
		ExternalReference: "festa_1782041200000_AB12CD34",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "festa_1782041200000_AB12CD34", gotIdempotency)
	assert.Equal(t, "pix", gotPayload.PaymentMethodID)
	assert.Equal(t, "https://example.com/webhooks/mercadopago", gotPayload.NotificationURL)

	assert.Equal(t, "12345678", result.ID)
	assert.Equal(t, StatusPending, result.Status)
	require.NotNil(t, result.PointOfInteraction)
	assert.Equal(t, "00020126360014BR.GOV.BCB.PIX", result.PointOfInteraction.TransactionData.QRCode)
	require.NotNil(t, result.DateOfExpiration)
}

func TestCreatePix_MissingInteractionData(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 1, "status": "pending", "date_created": "2026-06-20T10:00:00.000-03:00"}`))
	})

	_, err := gw.CreatePix(context.Background(), &PixRequest{
		Amount:            decimal.NewFromInt(100),
		ExternalReference: "festa_1_REF",
	})
	assert.Error(t, err)
}

func TestCreateCard_MissingTokenFailsBeforeNetwork(t *testing.T) {
	var calls int32
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	_, err := gw.CreateCard(context.Background(), &CardRequest{
		Amount:            decimal.NewFromInt(100),
		ExternalReference: "festa_1_REF",
	})
	assert.ErrorIs(t, err, status.ErrMissingToken)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestCreateCard_BinNotFoundRetriesOnceMinimized(t *testing.T) {
	var calls int32
	var secondPayload createPayload

	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"status": 400, "message": "bin not found", "error": "bad_request"}`))
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&secondPayload))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 99, "status": "approved", "status_detail": "accredited", "date_created": "2026-06-20T10:00:00.000-03:00", "date_approved": "2026-06-20T10:00:01.000-03:00"}`))
	})

	result, err := gw.CreateCard(context.Background(), &CardRequest{
		Token:             "tok_abc",
		Amount:            decimal.NewFromInt(100),
		Installments:      1,
		PaymentMethodID:   "visa",
		IssuerID:          "310",
		ExternalReference: "festa_1_REF",
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Empty(t, secondPayload.PaymentMethodID)
	assert.Empty(t, secondPayload.IssuerID)
	assert.Equal(t, "tok_abc", secondPayload.Token)
	assert.Equal(t, StatusApproved, result.Status)
	require.NotNil(t, result.DateApproved)
}

func TestCreateCard_OtherErrorsAreNotRetried(t *testing.T) {
	var calls int32
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status": 400, "message": "invalid token", "error": "bad_request"}`))
	})

	_, err := gw.CreateCard(context.Background(), &CardRequest{
		Token:             "tok_abc",
		Amount:            decimal.NewFromInt(100),
		ExternalReference: "festa_1_REF",
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "invalid token", apiErr.Message)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestGetPayment_ServerErrorWrapsProviderInternal(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := gw.GetPayment(context.Background(), "123")
	assert.True(t, errors.Is(err, status.ErrProviderInternal))
}

func TestGetPayment_Success(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payments/555", r.URL.Path)
		w.Write([]byte(`{"id": 555, "status": "approved", "status_detail": "accredited", "external_reference": "festa_1_REF", "date_created": "2026-06-20T10:00:00.000-03:00", "date_approved": "2026-06-20T10:05:00.000-03:00", "card": {"last_four_digits": "4242"}}`))
	})

	result, err := gw.GetPayment(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, result.Status)
	assert.Equal(t, "festa_1_REF", result.ExternalReference)
	assert.Equal(t, "4242", result.CardLastFour)
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusApproved, ParseStatus("approved"))
	assert.Equal(t, StatusInProcess, ParseStatus("in_process"))
	assert.Equal(t, StatusUnknown, ParseStatus("charged_back"))
	assert.Equal(t, StatusUnknown, ParseStatus(""))
}

func TestRejectMessage(t *testing.T) {
	assert.Equal(t, "Insufficient balance", RejectMessage("cc_rejected_insufficient_amount"))
	assert.Equal(t, "Payment declined", RejectMessage("cc_rejected_other_reason"))
	assert.Equal(t, "Payment not processed. Try again.", RejectMessage("something_new"))
}

func TestVerifySignature(t *testing.T) {
	gw := &Gateway{webhookSecret: "secret"}

	ts := "1782041200"
	rid := "req-1"
	dataID := "12345"
	manifest := "id:" + dataID + ";request-id:" + rid + ";ts:" + ts + ";"
	v1 := Hmac256([]byte(manifest), []byte("secret"))
	xSignature := "ts=" + ts + ",v1=" + v1

	assert.True(t, gw.VerifySignature(xSignature, rid, dataID))
	assert.False(t, gw.VerifySignature("ts="+ts+",v1=deadbeef", rid, dataID))
	assert.False(t, gw.VerifySignature("", rid, dataID))

	open := &Gateway{}
	assert.True(t, open.VerifySignature("", rid, dataID))
}

func TestParseWireTime(t *testing.T) {
	ts, err := parseWireTime("2026-06-20T10:00:00.000-03:00")
	require.NoError(t, err)
	require.NotNil(t, ts)

	ts, err = parseWireTime("2026-06-20T10:00:00-03:00")
	require.NoError(t, err)
	require.NotNil(t, ts)

	ts, err = parseWireTime("")
	require.NoError(t, err)
	assert.Nil(t, ts)

	_, err = parseWireTime("not-a-time")
	assert.Error(t, err)
}
