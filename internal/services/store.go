package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"safeswap/internal/status"
	"safeswap/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
)

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// IntentStore is the durable home of PaymentIntent records.
type IntentStore interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	FindByReference(ctx context.Context, ref string) (*models.PaymentIntent, error)
	FindByProviderID(ctx context.Context, providerID string) (*models.PaymentIntent, error)
	Update(ctx context.Context, intent *models.PaymentIntent) error
}

// CredentialStore is the durable home of ticket credentials and their
// append-only validation audit trail.
type CredentialStore interface {
	Create(ctx context.Context, cred *models.TicketCredential) error
	FindBySerial(ctx context.Context, serial string) (*models.TicketCredential, error)
	FindByReference(ctx context.Context, ref string) ([]*models.TicketCredential, error)
	MarkRedeemed(ctx context.Context, serial string, at time.Time) error
	AppendAttempt(ctx context.Context, attempt *models.ValidationAttempt) error
	CountAttempts(ctx context.Context, eventCode string) (map[models.ValidationReason]int, error)
}

// EventStore resolves events for checkout and the organizer gate.
type EventStore interface {
	FindByCode(ctx context.Context, code string) (*models.Event, string, error)
}

// NewIntentStore returns the pocketbase-backed IntentStore.
func NewIntentStore(app core.App) IntentStore { return &pbIntentStore{app: app} }

// NewCredentialStore returns the pocketbase-backed CredentialStore.
func NewCredentialStore(app core.App) CredentialStore { return &pbCredentialStore{app: app} }

// NewEventStore returns the pocketbase-backed EventStore.
func NewEventStore(app core.App) EventStore { return &pbEventStore{app: app} }

type pbIntentStore struct {
	app core.App
}

func (s *pbIntentStore) Create(_ context.Context, intent *models.PaymentIntent) error {
	if _, err := s.app.FindFirstRecordByFilter(
		"payment_intents",
		"external_reference = {:ref}",
		dbx.Params{"ref": intent.ExternalReference},
	); err == nil {
		return status.ErrDuplicateReference
	}

	collection, err := s.app.FindCollectionByNameOrId("payment_intents")
	if err != nil {
		return fmt.Errorf("intentStore.Create: find collection: %w", err)
	}

	record := core.NewRecord(collection)
	applyIntent(record, intent)
	if err := s.app.Save(record); err != nil {
		// the unique index on external_reference is the last word when two
		// checkouts race past the pre-check
		if _, findErr := s.app.FindFirstRecordByFilter(
			"payment_intents",
			"external_reference = {:ref}",
			dbx.Params{"ref": intent.ExternalReference},
		); findErr == nil {
			return status.ErrDuplicateReference
		}
		return fmt.Errorf("intentStore.Create: save: %w", err)
	}

	intent.ID = record.Id
	intent.CreatedAt = record.GetDateTime("created").Time()
	return nil
}

func (s *pbIntentStore) FindByReference(_ context.Context, ref string) (*models.PaymentIntent, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"payment_intents",
		"external_reference = {:ref}",
		dbx.Params{"ref": ref},
	)
	if err != nil {
		return nil, status.ErrIntentNotFound
	}
	return intentFromRecord(record)
}

func (s *pbIntentStore) FindByProviderID(_ context.Context, providerID string) (*models.PaymentIntent, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"payment_intents",
		"provider_id = {:id}",
		dbx.Params{"id": providerID},
	)
	if err != nil {
		return nil, status.ErrIntentNotFound
	}
	return intentFromRecord(record)
}

func (s *pbIntentStore) Update(_ context.Context, intent *models.PaymentIntent) error {
	record, err := s.app.FindRecordById("payment_intents", intent.ID)
	if err != nil {
		return status.ErrIntentNotFound
	}
	applyIntent(record, intent)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("intentStore.Update: save: %w", err)
	}
	return nil
}

func applyIntent(record *core.Record, intent *models.PaymentIntent) {
	items, _ := json.Marshal(intent.Items)

	record.Set("external_reference", intent.ExternalReference)
	record.Set("provider_id", intent.ProviderID)
	record.Set("method", string(intent.Method))
	record.Set("amount", intent.Amount.InexactFloat64())
	record.Set("payer_email", intent.PayerEmail)
	record.Set("event_code", intent.EventCode)
	record.Set("items", string(items))
	record.Set("status", string(intent.Status))
	record.Set("status_detail", intent.StatusDetail)
	record.Set("needs_attention", intent.NeedsAttention)
	if intent.ExpirationDate != nil {
		record.Set("expiration_date", *intent.ExpirationDate)
	}
	if intent.ApprovedAt != nil {
		record.Set("approved_at", *intent.ApprovedAt)
	}
	if intent.LastReconciledAt != nil {
		record.Set("last_reconciled_at", *intent.LastReconciledAt)
	}
}

func intentFromRecord(record *core.Record) (*models.PaymentIntent, error) {
	intent := &models.PaymentIntent{
		ID:                record.Id,
		ExternalReference: record.GetString("external_reference"),
		ProviderID:        record.GetString("provider_id"),
		Method:            models.PaymentMethod(record.GetString("method")),
		PayerEmail:        record.GetString("payer_email"),
		EventCode:         record.GetString("event_code"),
		Status:            models.PaymentStatus(record.GetString("status")),
		StatusDetail:      record.GetString("status_detail"),
		NeedsAttention:    record.GetBool("needs_attention"),
		CreatedAt:         record.GetDateTime("created").Time(),
	}

	intent.Amount = decimalFromFloat(record.GetFloat("amount"))

	if raw := record.GetString("items"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &intent.Items); err != nil {
			return nil, fmt.Errorf("intentFromRecord: items: %w", err)
		}
	}

	if dt := record.GetDateTime("expiration_date"); !dt.IsZero() {
		t := dt.Time()
		intent.ExpirationDate = &t
	}
	if dt := record.GetDateTime("approved_at"); !dt.IsZero() {
		t := dt.Time()
		intent.ApprovedAt = &t
	}
	if dt := record.GetDateTime("last_reconciled_at"); !dt.IsZero() {
		t := dt.Time()
		intent.LastReconciledAt = &t
	}

	return intent, nil
}

type pbCredentialStore struct {
	app core.App
}

func (s *pbCredentialStore) Create(_ context.Context, cred *models.TicketCredential) error {
	collection, err := s.app.FindCollectionByNameOrId("ticket_credentials")
	if err != nil {
		return fmt.Errorf("credentialStore.Create: find collection: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("serial", cred.Serial)
	record.Set("event_code", cred.EventCode)
	record.Set("category", cred.Category)
	record.Set("status", string(cred.Status))
	record.Set("external_reference", cred.ExternalReference)
	record.Set("issued_at", cred.IssuedAt)

	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("credentialStore.Create: save: %w", err)
	}
	cred.ID = record.Id
	return nil
}

func (s *pbCredentialStore) FindBySerial(_ context.Context, serial string) (*models.TicketCredential, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"ticket_credentials",
		"serial = {:serial}",
		dbx.Params{"serial": serial},
	)
	if err != nil {
		return nil, status.ErrSerialNotFound
	}
	return credentialFromRecord(record), nil
}

func (s *pbCredentialStore) FindByReference(_ context.Context, ref string) ([]*models.TicketCredential, error) {
	records, err := s.app.FindRecordsByFilter(
		"ticket_credentials",
		"external_reference = {:ref}",
		"issued_at",
		0,
		0,
		dbx.Params{"ref": ref},
	)
	if err != nil {
		return nil, fmt.Errorf("credentialStore.FindByReference: %w", err)
	}

	creds := make([]*models.TicketCredential, 0, len(records))
	for _, record := range records {
		creds = append(creds, credentialFromRecord(record))
	}
	return creds, nil
}

func (s *pbCredentialStore) MarkRedeemed(_ context.Context, serial string, at time.Time) error {
	record, err := s.app.FindFirstRecordByFilter(
		"ticket_credentials",
		"serial = {:serial}",
		dbx.Params{"serial": serial},
	)
	if err != nil {
		return status.ErrSerialNotFound
	}

	record.Set("status", string(models.CredentialRedeemed))
	record.Set("redeemed_at", at)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("credentialStore.MarkRedeemed: save: %w", err)
	}
	return nil
}

func (s *pbCredentialStore) AppendAttempt(_ context.Context, attempt *models.ValidationAttempt) error {
	collection, err := s.app.FindCollectionByNameOrId("validation_attempts")
	if err != nil {
		return fmt.Errorf("credentialStore.AppendAttempt: find collection: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("serial", attempt.Serial)
	record.Set("event_code", attempt.EventCode)
	record.Set("outcome", string(attempt.Outcome))
	record.Set("device", attempt.Device)

	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("credentialStore.AppendAttempt: save: %w", err)
	}
	return nil
}

func (s *pbCredentialStore) CountAttempts(_ context.Context, eventCode string) (map[models.ValidationReason]int, error) {
	var rows []dbx.NullStringMap
	if err := s.app.DB().NewQuery(
		"SELECT outcome, COUNT(*) AS total FROM validation_attempts WHERE event_code = {:code} GROUP BY outcome",
	).Bind(dbx.Params{"code": eventCode}).All(&rows); err != nil {
		return nil, fmt.Errorf("credentialStore.CountAttempts: %w", err)
	}

	counts := make(map[models.ValidationReason]int, len(rows))
	for _, row := range rows {
		var total int
		fmt.Sscanf(row["total"].String, "%d", &total)
		counts[models.ValidationReason(row["outcome"].String)] = total
	}
	return counts, nil
}

func credentialFromRecord(record *core.Record) *models.TicketCredential {
	cred := &models.TicketCredential{
		ID:                record.Id,
		Serial:            record.GetString("serial"),
		EventCode:         record.GetString("event_code"),
		Category:          record.GetString("category"),
		Status:            models.CredentialStatus(record.GetString("status")),
		ExternalReference: record.GetString("external_reference"),
		IssuedAt:          record.GetDateTime("issued_at").Time(),
	}
	if dt := record.GetDateTime("redeemed_at"); !dt.IsZero() {
		t := dt.Time()
		cred.RedeemedAt = &t
	}
	return cred
}

type pbEventStore struct {
	app core.App
}

func (s *pbEventStore) FindByCode(_ context.Context, code string) (*models.Event, string, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"events",
		"code = {:code}",
		dbx.Params{"code": code},
	)
	if err != nil {
		return nil, "", status.ErrEventNotFound
	}

	event := &models.Event{
		ID:       record.Id,
		Code:     record.GetString("code"),
		Slug:     record.GetString("slug"),
		Name:     record.GetString("name"),
		Status:   record.GetString("status"),
		StartsAt: record.GetDateTime("starts_at").Time(),
	}

	if raw := record.GetString("categories"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &event.Categories); err != nil {
			return nil, "", fmt.Errorf("eventStore.FindByCode: categories: %w", err)
		}
	}

	return event, record.GetString("access_code_hash"), nil
}
