package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"safeswap/internal/services/mercadopago"
	"safeswap/internal/status"
	"safeswap/models"
	"safeswap/monitoring"
	"safeswap/utils"

	"github.com/shopspring/decimal"
)

// PaymentGateway is the slice of the provider gateway the service needs.
type PaymentGateway interface {
	CreatePix(ctx context.Context, req *mercadopago.PixRequest) (*mercadopago.PaymentResult, error)
	CreateCard(ctx context.Context, req *mercadopago.CardRequest) (*mercadopago.PaymentResult, error)
	GetPayment(ctx context.Context, id string) (*mercadopago.PaymentResult, error)
}

// Issuer mints credentials for an approved intent.
type Issuer interface {
	Issue(ctx context.Context, intent *models.PaymentIntent) ([]*models.TicketCredential, error)
}

// PaymentService owns the PaymentIntent lifecycle: it records checkouts,
// reconciles provider results arriving via webhook or polling, and triggers
// ticket issuance exactly once per approved intent.
type PaymentService struct {
	gateway  PaymentGateway
	intents  IntentStore
	issuer   Issuer
	notifier Notifier

	// locks serializes reconciliation per external reference so a webhook
	// delivery and a poll for the same intent never interleave.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPaymentService(gateway PaymentGateway, intents IntentStore, issuer Issuer, notifier Notifier) *PaymentService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &PaymentService{
		gateway:  gateway,
		intents:  intents,
		issuer:   issuer,
		notifier: notifier,
		locks:    map[string]*sync.Mutex{},
	}
}

func (s *PaymentService) refLock(ref string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[ref]
	if !ok {
		l = &sync.Mutex{}
		s.locks[ref] = l
	}
	return l
}

// CheckoutRequest is one storefront checkout attempt.
type CheckoutRequest struct {
	Method            models.PaymentMethod
	Amount            decimal.Decimal
	Description       string
	Payer             mercadopago.Payer
	EventCode         string
	Items             []models.LineItem
	ExternalReference string
	Metadata          map[string]any

	// card only
	Token           string
	Installments    int
	PaymentMethodID string
	IssuerID        string
}

// CreatePayment records the intent and creates the provider payment. The
// intent is written before the outbound call so a provider failure leaves a
// durable error record instead of a vanished checkout.
func (s *PaymentService) CreatePayment(ctx context.Context, req *CheckoutRequest) (*models.PaymentIntent, *mercadopago.PaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: amount must be positive", status.ErrInvalidMethod)
	}
	if req.Method == models.MethodCard && req.Token == "" {
		return nil, nil, status.ErrMissingToken
	}

	ref := req.ExternalReference
	if ref == "" {
		generated, err := utils.NewExternalReference()
		if err != nil {
			return nil, nil, fmt.Errorf("CreatePayment: reference: %w", err)
		}
		ref = generated
	}

	lock := s.refLock(ref)
	lock.Lock()
	defer lock.Unlock()

	intent := &models.PaymentIntent{
		ExternalReference: ref,
		Method:            req.Method,
		Amount:            req.Amount,
		PayerEmail:        req.Payer.Email,
		EventCode:         req.EventCode,
		Items:             req.Items,
		Status:            models.StatusCreated,
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, nil, err
	}
	monitoring.RecordPaymentCreated(string(req.Method))

	result, err := s.createWithProvider(ctx, req, ref)
	if err != nil {
		// no provider id exists; the intent dies here rather than pending
		intent.Status = models.StatusError
		intent.StatusDetail = providerErrorDetail(err)
		if updErr := s.intents.Update(ctx, intent); updErr != nil {
			slog.Error("CreatePayment: mark error", "ref", ref, "error", updErr)
		}
		return intent, nil, err
	}

	updated, err := s.applyLocked(ctx, intent, result, "create")
	if err != nil {
		return intent, result, err
	}
	return updated, result, nil
}

func (s *PaymentService) createWithProvider(ctx context.Context, req *CheckoutRequest, ref string) (*mercadopago.PaymentResult, error) {
	switch req.Method {
	case models.MethodPix:
		return s.gateway.CreatePix(ctx, &mercadopago.PixRequest{
			Amount:            req.Amount,
			Description:       req.Description,
			Payer:             req.Payer,
			ExternalReference: ref,
			Metadata:          req.Metadata,
		})

	case models.MethodCard:
		return s.gateway.CreateCard(ctx, &mercadopago.CardRequest{
			Token:             req.Token,
			Amount:            req.Amount,
			Description:       req.Description,
			Installments:      req.Installments,
			PaymentMethodID:   req.PaymentMethodID,
			IssuerID:          req.IssuerID,
			Payer:             req.Payer,
			ExternalReference: ref,
			Metadata:          req.Metadata,
		})
	}

	return nil, status.ErrInvalidMethod
}

func providerErrorDetail(err error) string {
	if apiErr, ok := mercadopago.AsAPIError(err); ok {
		return apiErr.Message
	}
	return "provider_unreachable"
}

// CheckPaymentStatus is the polling backstop: it fetches the authoritative
// provider state and reconciles it, so status stays correct even when every
// webhook delivery is dropped.
func (s *PaymentService) CheckPaymentStatus(ctx context.Context, providerID string) (*models.PaymentIntent, error) {
	result, err := s.gateway.GetPayment(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return s.ApplyProviderResult(ctx, providerID, result)
}

// ReconcileWebhook handles a provider notification for the given payment
// id. Failures are the caller's to log only; the transport acknowledgment
// never depends on them.
func (s *PaymentService) ReconcileWebhook(ctx context.Context, providerID string) error {
	result, err := s.gateway.GetPayment(ctx, providerID)
	if err != nil {
		monitoring.RecordReconciliation("webhook", "fetch_failed")
		return fmt.Errorf("ReconcileWebhook: fetch: %w", err)
	}

	if _, err := s.ApplyProviderResult(ctx, providerID, result); err != nil {
		monitoring.RecordReconciliation("webhook", "apply_failed")
		return fmt.Errorf("ReconcileWebhook: apply: %w", err)
	}
	monitoring.RecordReconciliation("webhook", "ok")
	return nil
}

// FindIntent resolves an intent by external reference or provider id.
func (s *PaymentService) FindIntent(ctx context.Context, refOrID string) (*models.PaymentIntent, error) {
	intent, err := s.intents.FindByReference(ctx, refOrID)
	if err == nil {
		return intent, nil
	}
	if !errors.Is(err, status.ErrIntentNotFound) {
		return nil, err
	}
	return s.intents.FindByProviderID(ctx, refOrID)
}

// ApplyProviderResult reconciles a provider result against the stored
// intent. Idempotent: re-applying the current terminal status is a no-op;
// a different terminal status after one is recorded is a consistency fault,
// logged and rejected.
func (s *PaymentService) ApplyProviderResult(ctx context.Context, refOrID string, result *mercadopago.PaymentResult) (*models.PaymentIntent, error) {
	intent, err := s.FindIntent(ctx, refOrID)
	if err != nil {
		return nil, err
	}

	lock := s.refLock(intent.ExternalReference)
	lock.Lock()
	defer lock.Unlock()

	// reload under the lock; a concurrent reconcile may have moved it
	intent, err = s.intents.FindByReference(ctx, intent.ExternalReference)
	if err != nil {
		return nil, err
	}
	return s.applyLocked(ctx, intent, result, "poll")
}

func (s *PaymentService) applyLocked(ctx context.Context, intent *models.PaymentIntent, result *mercadopago.PaymentResult, source string) (*models.PaymentIntent, error) {
	next, err := intentStatusFor(result.Status)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	intent.LastReconciledAt = &now
	if intent.ProviderID == "" {
		intent.ProviderID = result.ID
	}
	if result.DateOfExpiration != nil {
		intent.ExpirationDate = result.DateOfExpiration
	}

	switch {
	case intent.Status == next:
		// same status again: refresh bookkeeping only, never re-issue

	case intent.Status.Terminal() && next.Terminal():
		slog.Error("payment status consistency fault",
			"ref", intent.ExternalReference,
			"stored", intent.Status,
			"incoming", next,
			"source", source,
		)
		monitoring.RecordReconciliation(source, "conflict")
		return nil, status.ErrStatusConflict

	case intent.Status.Terminal():
		// a late non-terminal delivery after settlement is out-of-order
		// news, not a fault
		slog.Info("ignoring stale provider status after settlement",
			"ref", intent.ExternalReference,
			"stored", intent.Status,
			"incoming", next,
		)

	case intent.Status.CanTransition(next):
		intent.Status = next
		intent.StatusDetail = result.StatusDetail

		if next == models.StatusApproved {
			if result.DateApproved != nil {
				intent.ApprovedAt = result.DateApproved
			} else {
				intent.ApprovedAt = &now
			}
			s.issueOnce(ctx, intent)
		}

		s.notifier.PublishPaymentUpdate(intent.ExternalReference, intent.Status, intent.StatusDetail)
		monitoring.RecordPaymentStatus(string(intent.Method), string(next))

	default:
		// a backward move (e.g. pending reported after approval was already
		// applied in this same call chain) is stale news, not a fault
		slog.Info("ignoring stale provider status",
			"ref", intent.ExternalReference,
			"stored", intent.Status,
			"incoming", next,
		)
	}

	if err := s.intents.Update(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// issueOnce mints the credentials for a freshly approved intent. The caller
// holds the per-reference lock and only ever reaches this on the single
// pending->approved transition, which is what makes issuance exactly-once.
func (s *PaymentService) issueOnce(ctx context.Context, intent *models.PaymentIntent) {
	if s.issuer == nil {
		return
	}

	if _, err := s.issuer.Issue(ctx, intent); err != nil {
		// a paid checkout without tickets is never swallowed: flag it for
		// manual reconciliation and keep the approval
		intent.NeedsAttention = true
		monitoring.RecordIssuanceFailure()
		slog.Error("ticket issuance failed for approved payment, manual reconciliation required",
			"ref", intent.ExternalReference,
			"provider_id", intent.ProviderID,
			"error", err,
		)
	}
}

func intentStatusFor(s mercadopago.Status) (models.PaymentStatus, error) {
	switch s {
	case mercadopago.StatusPending, mercadopago.StatusInProcess:
		return models.StatusPending, nil
	case mercadopago.StatusApproved:
		return models.StatusApproved, nil
	case mercadopago.StatusRejected, mercadopago.StatusCancelled:
		return models.StatusRejected, nil
	case mercadopago.StatusUnknown:
	}
	return "", fmt.Errorf("unhandled provider status %q", s)
}
