package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"safeswap/internal/services"
	"safeswap/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type ValidationHandler struct {
	organizerService  *services.OrganizerService
	validationService *services.ValidationService
}

func NewValidationHandler(organizerService *services.OrganizerService, validationService *services.ValidationService) *ValidationHandler {
	return &ValidationHandler{
		organizerService:  organizerService,
		validationService: validationService,
	}
}

type validateReq struct {
	EventCode  string `json:"event_code"`
	AccessCode string `json:"access_code"`
	Serial     string `json:"serial"`
	Device     string `json:"device,omitempty"`
}

// ValidateTicket - Redeem a scanned credential at the door
func (h *ValidationHandler) ValidateTicket(e *core.RequestEvent) error {
	var req validateReq
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if req.Serial == "" {
		return apis.NewBadRequestError("Serial is required", nil)
	}
	ctx := e.Request.Context()

	vctx, err := h.organizerService.Authenticate(ctx, req.EventCode, req.AccessCode, req.Device)
	if err != nil {
		switch {
		case errors.Is(err, status.ErrEventNotFound):
			return apis.NewNotFoundError("Event not found", nil)
		case errors.Is(err, status.ErrInvalidAccessCode):
			return apis.NewUnauthorizedError("Invalid access code", nil)
		}
		slog.Error("h.organizerService.Authenticate()", "event", req.EventCode, "error", err)
		return apis.NewInternalServerError("Error authenticating", err)
	}

	outcome, err := h.validationService.Validate(ctx, req.Serial, vctx)
	if err != nil {
		slog.Error("h.validationService.Validate()", "serial", req.Serial, "error", err)
		return apis.NewInternalServerError("Error validating ticket", err)
	}

	return e.JSON(http.StatusOK, outcome)
}

// ValidationStats - Per-outcome counts of an event's validation attempts
func (h *ValidationHandler) ValidationStats(e *core.RequestEvent) error {
	eventCode := e.Request.PathValue("eventCode")
	accessCode := e.Request.Header.Get("X-Access-Code")
	ctx := e.Request.Context()

	if _, err := h.organizerService.Authenticate(ctx, eventCode, accessCode, ""); err != nil {
		switch {
		case errors.Is(err, status.ErrEventNotFound):
			return apis.NewNotFoundError("Event not found", nil)
		case errors.Is(err, status.ErrInvalidAccessCode):
			return apis.NewUnauthorizedError("Invalid access code", nil)
		}
		slog.Error("h.organizerService.Authenticate()", "event", eventCode, "error", err)
		return apis.NewInternalServerError("Error authenticating", err)
	}

	counts, err := h.validationService.Stats(ctx, eventCode)
	if err != nil {
		slog.Error("h.validationService.Stats()", "event", eventCode, "error", err)
		return apis.NewInternalServerError("Error loading stats", err)
	}

	total := 0
	byOutcome := map[string]int{}
	for reason, n := range counts {
		byOutcome[string(reason)] = n
		total += n
	}

	return e.JSON(http.StatusOK, map[string]any{
		"event_code": eventCode,
		"total":      total,
		"outcomes":   byOutcome,
	})
}
