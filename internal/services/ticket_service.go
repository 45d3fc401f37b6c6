package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"safeswap/internal/status"
	"safeswap/models"
	"safeswap/monitoring"

	"github.com/redis/go-redis/v9"
)

const serialSeqKey = "serial_seq:%s"

// TicketService mints ticket credentials for approved payment intents.
// Serial numbers come from a monotonic Redis counter per event, so two
// issuances for the same event can never race into the same serial.
type TicketService struct {
	credentials CredentialStore
	events      EventStore
	redis       *redis.Client
}

func NewTicketService(credentials CredentialStore, events EventStore, rdb *redis.Client) *TicketService {
	return &TicketService{credentials: credentials, events: events, redis: rdb}
}

// Issue mints one credential per paid unit of the intent. A save collision
// on a serial is retried with a fresh sequence number; if a unit still
// cannot be minted the whole intent is reported failed so the paid units
// are never silently dropped.
func (s *TicketService) Issue(ctx context.Context, intent *models.PaymentIntent) ([]*models.TicketCredential, error) {
	event, _, err := s.events.FindByCode(ctx, intent.EventCode)
	if err != nil {
		return nil, fmt.Errorf("Issue: event %q: %w", intent.EventCode, err)
	}

	units := intent.Units()
	if units == 0 {
		return nil, fmt.Errorf("Issue: intent %s has no units", intent.ExternalReference)
	}

	creds := make([]*models.TicketCredential, 0, units)
	for _, item := range intent.Items {
		for i := 0; i < item.Quantity; i++ {
			cred, err := s.mint(ctx, event, item.Category, intent.ExternalReference)
			if err != nil {
				slog.Error("credential mint failed",
					"ref", intent.ExternalReference,
					"event", event.Code,
					"category", item.Category,
					"issued", len(creds),
					"expected", units,
					"error", err,
				)
				return creds, fmt.Errorf("%w: %d of %d units issued", status.ErrIssuanceFailed, len(creds), units)
			}
			creds = append(creds, cred)
			monitoring.RecordTicketIssued(event.Code, item.Category)
		}
	}

	slog.Info("credentials issued",
		"ref", intent.ExternalReference,
		"event", event.Code,
		"count", len(creds),
	)
	return creds, nil
}

func (s *TicketService) mint(ctx context.Context, event *models.Event, category, ref string) (*models.TicketCredential, error) {
	const maxAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		serial, err := s.nextSerial(ctx, event)
		if err != nil {
			return nil, err
		}

		cred := &models.TicketCredential{
			Serial:            serial,
			EventCode:         event.Code,
			Category:          category,
			Status:            models.CredentialIssued,
			ExternalReference: ref,
			IssuedAt:          time.Now(),
		}
		if err := s.credentials.Create(ctx, cred); err != nil {
			// unique index collision on serial: take the next number
			lastErr = err
			continue
		}
		return cred, nil
	}
	return nil, fmt.Errorf("mint: %d attempts: %w", maxAttempts, lastErr)
}

func (s *TicketService) nextSerial(ctx context.Context, event *models.Event) (string, error) {
	seq, err := s.redis.Incr(ctx, fmt.Sprintf(serialSeqKey, event.Code)).Result()
	if err != nil {
		return "", fmt.Errorf("nextSerial: %w", err)
	}
	return models.FormatSerial(seq, strings.ToUpper(event.Slug)), nil
}

// CredentialsFor lists the credentials minted for an external reference.
func (s *TicketService) CredentialsFor(ctx context.Context, ref string) ([]*models.TicketCredential, error) {
	return s.credentials.FindByReference(ctx, ref)
}
