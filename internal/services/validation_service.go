package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"safeswap/internal/status"
	"safeswap/models"
	"safeswap/monitoring"

	"github.com/redis/go-redis/v9"
)

const redeemedKey = "redeemed:%s"

// ValidationService performs door-side credential redemption. The atomic
// claim is a Redis SETNX on the serial: of two devices scanning the same
// ticket at the same moment, exactly one wins.
type ValidationService struct {
	credentials CredentialStore
	redis       *redis.Client
}

func NewValidationService(credentials CredentialStore, rdb *redis.Client) *ValidationService {
	return &ValidationService{credentials: credentials, redis: rdb}
}

// Validate checks a scanned serial against the organizer's context and
// redeems it when every check passes. Checks run in a fixed order and the
// first failure wins, so a redeemed ticket scanned at the wrong event still
// reports the event mismatch. Every call, success or failure, lands in the
// attempt log.
func (s *ValidationService) Validate(ctx context.Context, serial string, vctx *models.ValidationContext) (*models.ValidationOutcome, error) {
	reason, cred, err := s.check(ctx, serial, vctx)
	if err != nil {
		return nil, err
	}

	outcome := &models.ValidationOutcome{
		Valid:     reason == models.ReasonSuccess,
		Reason:    reason,
		Message:   reason.Message(),
		Serial:    serial,
		Timestamp: time.Now(),
	}
	if cred != nil {
		outcome.Category = cred.Category
		outcome.EventCode = cred.EventCode
	}

	s.logAttempt(ctx, serial, vctx, reason)
	monitoring.RecordValidation(vctx.EventCode, string(reason))
	return outcome, nil
}

func (s *ValidationService) check(ctx context.Context, serial string, vctx *models.ValidationContext) (models.ValidationReason, *models.TicketCredential, error) {
	cred, err := s.credentials.FindBySerial(ctx, serial)
	if err != nil {
		if errors.Is(err, status.ErrSerialNotFound) {
			return models.ReasonSerialNotFound, nil, nil
		}
		return "", nil, fmt.Errorf("Validate: lookup %q: %w", serial, err)
	}

	if cred.EventCode != vctx.EventCode {
		return models.ReasonEventMismatch, cred, nil
	}
	if len(vctx.ValidCategories) > 0 && !slices.Contains(vctx.ValidCategories, cred.Category) {
		return models.ReasonCategoryMismatch, cred, nil
	}
	if cred.Status == models.CredentialRedeemed {
		return models.ReasonAlreadyUsed, cred, nil
	}

	// the claim: first SETNX wins, every later scan of this serial loses
	won, err := s.redis.SetNX(ctx, fmt.Sprintf(redeemedKey, serial), vctx.Device, 0).Result()
	if err != nil {
		return "", nil, fmt.Errorf("Validate: claim %q: %w", serial, err)
	}
	if !won {
		return models.ReasonAlreadyUsed, cred, nil
	}

	now := time.Now()
	if err := s.credentials.MarkRedeemed(ctx, serial, now); err != nil {
		// the claim is taken; the durable record lagging behind is an
		// operational problem, not a reason to let the ticket in twice
		slog.Error("mark redeemed failed after claim", "serial", serial, "error", err)
		s.logAttempt(ctx, serial, vctx, models.ReasonError)
		return "", cred, fmt.Errorf("Validate: mark redeemed %q: %w", serial, err)
	}
	cred.Status = models.CredentialRedeemed
	cred.RedeemedAt = &now

	return models.ReasonSuccess, cred, nil
}

func (s *ValidationService) logAttempt(ctx context.Context, serial string, vctx *models.ValidationContext, reason models.ValidationReason) {
	attempt := &models.ValidationAttempt{
		Serial:    serial,
		EventCode: vctx.EventCode,
		Outcome:   reason,
		Device:    vctx.Device,
		Timestamp: time.Now(),
	}
	if err := s.credentials.AppendAttempt(ctx, attempt); err != nil {
		slog.Error("append validation attempt", "serial", serial, "error", err)
	}
}

// Stats aggregates the attempt log for an event by outcome.
func (s *ValidationService) Stats(ctx context.Context, eventCode string) (map[models.ValidationReason]int, error) {
	return s.credentials.CountAttempts(ctx, eventCode)
}
