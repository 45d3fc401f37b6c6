package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"safeswap/internal/services"
	"safeswap/internal/services/mercadopago"
	"safeswap/internal/status"
	"safeswap/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
	gateway        *mercadopago.Gateway
}

func NewPaymentHandler(paymentService *services.PaymentService, gateway *mercadopago.Gateway) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		gateway:        gateway,
	}
}

type checkoutReq struct {
	Amount      decimal.Decimal   `json:"amount"`
	Description string            `json:"description"`
	Payer       mercadopago.Payer `json:"payer"`
	EventCode   string            `json:"event_code"`
	Items       []models.LineItem `json:"items"`

	Token           string `json:"token,omitempty"`
	Installments    int    `json:"installments,omitempty"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
	IssuerID        string `json:"issuer_id,omitempty"`
}

// CreatePixPayment - Create a PIX payment and return its QR code
func (h *PaymentHandler) CreatePixPayment(e *core.RequestEvent) error {
	var req checkoutReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.PaymentMethodID != "" && req.PaymentMethodID != "pix" {
		return apis.NewBadRequestError("Only pix payments are accepted on this endpoint", nil)
	}
	if !req.Amount.IsPositive() {
		return apis.NewBadRequestError("Invalid amount", nil)
	}
	ctx := e.Request.Context()

	intent, result, err := h.paymentService.CreatePayment(ctx, &services.CheckoutRequest{
		Method:      models.MethodPix,
		Amount:      req.Amount,
		Description: req.Description,
		Payer:       req.Payer,
		EventCode:   req.EventCode,
		Items:       req.Items,
	})
	if err != nil {
		slog.Error("h.paymentService.CreatePayment()", "method", "pix", "error", err)
		return apis.NewInternalServerError("Error creating payment", err)
	}

	resp := map[string]any{
		"id":                 result.ID,
		"status":             string(result.Status),
		"status_detail":      result.StatusDetail,
		"external_reference": intent.ExternalReference,
	}
	if result.PointOfInteraction != nil {
		resp["qr_code"] = result.PointOfInteraction.TransactionData.QRCode
		resp["qr_code_base64"] = result.PointOfInteraction.TransactionData.QRCodeBase64
		resp["ticket_url"] = result.PointOfInteraction.TransactionData.TicketURL
	}
	if result.DateOfExpiration != nil {
		resp["expiration_date"] = result.DateOfExpiration
	}

	return e.JSON(http.StatusOK, resp)
}

// ProcessCardPayment - Charge a tokenized card
func (h *PaymentHandler) ProcessCardPayment(e *core.RequestEvent) error {
	var req checkoutReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Token == "" {
		return apis.NewBadRequestError("Card token is required", nil)
	}
	if !req.Amount.IsPositive() {
		return apis.NewBadRequestError("Invalid amount", nil)
	}
	ctx := e.Request.Context()

	intent, result, err := h.paymentService.CreatePayment(ctx, &services.CheckoutRequest{
		Method:          models.MethodCard,
		Amount:          req.Amount,
		Description:     req.Description,
		Payer:           req.Payer,
		EventCode:       req.EventCode,
		Items:           req.Items,
		Token:           req.Token,
		Installments:    req.Installments,
		PaymentMethodID: req.PaymentMethodID,
		IssuerID:        req.IssuerID,
	})
	if err != nil {
		if errors.Is(err, status.ErrMissingToken) {
			return apis.NewBadRequestError("Card token is required", nil)
		}
		slog.Error("h.paymentService.CreatePayment()", "method", "card", "error", err)
		return apis.NewInternalServerError("Error processing payment", err)
	}

	resp := map[string]any{
		"id":                 result.ID,
		"status":             string(result.Status),
		"status_detail":      result.StatusDetail,
		"external_reference": intent.ExternalReference,
	}

	switch result.Status {
	case mercadopago.StatusApproved:
		resp["message"] = "Payment approved."
		return e.JSON(http.StatusOK, resp)
	case mercadopago.StatusPending, mercadopago.StatusInProcess:
		resp["message"] = "Payment is being processed."
		return e.JSON(http.StatusOK, resp)
	default:
		resp["message"] = mercadopago.RejectMessage(result.StatusDetail)
		return e.JSON(http.StatusBadRequest, resp)
	}
}

// CheckPaymentStatus - Poll the provider for the payment's current status
func (h *PaymentHandler) CheckPaymentStatus(e *core.RequestEvent) error {
	paymentID := e.Request.PathValue("paymentId")
	ctx := e.Request.Context()

	intent, err := h.paymentService.CheckPaymentStatus(ctx, paymentID)
	if err != nil {
		if errors.Is(err, status.ErrIntentNotFound) {
			return apis.NewNotFoundError("Payment not found", nil)
		}
		if apiErr, ok := mercadopago.AsAPIError(err); ok && apiErr.StatusCode == http.StatusNotFound {
			return apis.NewNotFoundError("Payment not found", nil)
		}
		slog.Error("h.paymentService.CheckPaymentStatus()", "paymentId", paymentID, "error", err)
		return apis.NewInternalServerError("Error checking payment", err)
	}

	resp := map[string]any{
		"id":                 intent.ProviderID,
		"status":             string(intent.Status),
		"status_detail":      intent.StatusDetail,
		"method":             string(intent.Method),
		"amount":             intent.Amount,
		"payer_email":        intent.PayerEmail,
		"created_at":         intent.CreatedAt,
		"external_reference": intent.ExternalReference,
		"needs_attention":    intent.NeedsAttention,
	}
	if intent.ApprovedAt != nil {
		resp["approved_at"] = intent.ApprovedAt
	}

	return e.JSON(http.StatusOK, resp)
}

type webhookReq struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Webhook - Provider payment notification. Always acknowledged with 200;
// a failed reconcile is retried by the provider or caught by polling.
func (h *PaymentHandler) Webhook(e *core.RequestEvent) error {
	dataID := e.Request.URL.Query().Get("data.id")
	xSignature := e.Request.Header.Get("x-signature")
	xRequestID := e.Request.Header.Get("x-request-id")

	if !h.gateway.VerifySignature(xSignature, xRequestID, dataID) {
		slog.Warn("webhook signature rejected", "data_id", dataID, "request_id", xRequestID)
		return e.JSON(http.StatusOK, map[string]any{"received": true})
	}

	var req webhookReq
	if err := e.BindBody(&req); err != nil {
		slog.Warn("webhook body rejected", "error", err)
		return e.JSON(http.StatusOK, map[string]any{"received": true})
	}

	if req.Type == "payment" && req.Data.ID != "" {
		if err := h.paymentService.ReconcileWebhook(e.Request.Context(), req.Data.ID); err != nil {
			slog.Error("h.paymentService.ReconcileWebhook()", "payment_id", req.Data.ID, "error", err)
		}
	}

	return e.JSON(http.StatusOK, map[string]any{"received": true})
}
