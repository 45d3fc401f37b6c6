package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"safeswap/internal/services"
	"safeswap/internal/status"
	"safeswap/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/mailer"
)

type TicketHandler struct {
	app            core.App
	ticketService  *services.TicketService
	paymentService *services.PaymentService
	senderName     string
	senderAddress  string
}

func NewTicketHandler(app core.App, ticketService *services.TicketService, paymentService *services.PaymentService, senderName, senderAddress string) *TicketHandler {
	return &TicketHandler{
		app:            app,
		ticketService:  ticketService,
		paymentService: paymentService,
		senderName:     senderName,
		senderAddress:  senderAddress,
	}
}

type sendTicketReq struct {
	ExternalReference string `json:"external_reference"`
	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone,omitempty"`
}

// SendTicket - Deliver the credentials of a paid checkout to the buyer
func (h *TicketHandler) SendTicket(e *core.RequestEvent) error {
	var req sendTicketReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.ExternalReference == "" {
		return apis.NewBadRequestError("External reference is required", nil)
	}
	ctx := e.Request.Context()

	intent, err := h.paymentService.FindIntent(ctx, req.ExternalReference)
	if err != nil {
		if errors.Is(err, status.ErrIntentNotFound) {
			return apis.NewNotFoundError("Payment not found", nil)
		}
		slog.Error("h.paymentService.FindIntent()", "ref", req.ExternalReference, "error", err)
		return apis.NewInternalServerError("Error loading payment", err)
	}
	if intent.Status != models.StatusApproved {
		return apis.NewBadRequestError("Payment is not approved", nil)
	}

	creds, err := h.ticketService.CredentialsFor(ctx, intent.ExternalReference)
	if err != nil {
		slog.Error("h.ticketService.CredentialsFor()", "ref", intent.ExternalReference, "error", err)
		return apis.NewInternalServerError("Error loading tickets", err)
	}
	if len(creds) == 0 {
		return apis.NewNotFoundError("No tickets issued for this payment", nil)
	}

	email := req.Email
	if email == "" {
		email = intent.PayerEmail
	}

	delivered := []string{}
	if email != "" {
		if err := h.sendEmail(email, intent, creds); err != nil {
			slog.Error("h.sendEmail()", "ref", intent.ExternalReference, "error", err)
			return apis.NewInternalServerError("Error sending ticket email", err)
		}
		delivered = append(delivered, "email")
	}
	if req.Phone != "" {
		// whatsapp delivery is simulated until a provider is contracted
		slog.Info("whatsapp ticket delivery",
			"ref", intent.ExternalReference,
			"phone", req.Phone,
			"tickets", len(creds),
		)
		delivered = append(delivered, "whatsapp")
	}
	if len(delivered) == 0 {
		return apis.NewBadRequestError("No delivery channel available", nil)
	}

	serials := make([]string, 0, len(creds))
	for _, c := range creds {
		serials = append(serials, c.Serial)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"external_reference": intent.ExternalReference,
		"serials":            serials,
		"delivered_via":      delivered,
	})
}

func (h *TicketHandler) sendEmail(to string, intent *models.PaymentIntent, creds []*models.TicketCredential) error {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>Your tickets for %s</h2><ul>", intent.EventCode)
	for _, c := range creds {
		fmt.Fprintf(&b, "<li><strong>%s</strong> (%s)</li>", c.Serial, c.Category)
	}
	b.WriteString("</ul><p>Present the serial number at the entrance.</p>")

	from := h.senderAddress
	if from == "" {
		from = h.app.Settings().Meta.SenderAddress
	}

	message := &mailer.Message{
		From: mail.Address{
			Address: from,
			Name:    h.senderName,
		},
		To:      []mail.Address{{Address: to}},
		Subject: fmt.Sprintf("Your tickets (%s)", intent.ExternalReference),
		HTML:    b.String(),
	}

	if err := h.app.NewMailClient().Send(message); err != nil {
		return fmt.Errorf("sendEmail: %w", err)
	}
	return nil
}
