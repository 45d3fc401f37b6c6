package services

import (
	"context"
	"errors"
	"fmt"

	"safeswap/internal/status"
	"safeswap/models"

	"golang.org/x/crypto/bcrypt"
)

// OrganizerService authenticates door staff against an event's access code
// and hands back the validation context their scans run under.
type OrganizerService struct {
	events EventStore
}

func NewOrganizerService(events EventStore) *OrganizerService {
	return &OrganizerService{events: events}
}

// Authenticate checks the access code for the event and returns the
// context scans at that door are validated against. The stored code is a
// bcrypt hash; a wrong code and an unknown event are both reported as
// distinct errors so the device can tell them apart.
func (s *OrganizerService) Authenticate(ctx context.Context, eventCode, accessCode, device string) (*models.ValidationContext, error) {
	event, accessHash, err := s.events.FindByCode(ctx, eventCode)
	if err != nil {
		if errors.Is(err, status.ErrEventNotFound) {
			return nil, status.ErrEventNotFound
		}
		return nil, fmt.Errorf("Authenticate: event %q: %w", eventCode, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(accessHash), []byte(accessCode)); err != nil {
		return nil, status.ErrInvalidAccessCode
	}

	return &models.ValidationContext{
		EventCode:       event.Code,
		ValidCategories: event.CategoryNames(),
		Device:          device,
	}, nil
}
