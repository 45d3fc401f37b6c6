package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"safeswap/internal/services/mercadopago"
	"safeswap/internal/status"
	"safeswap/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock gateway for PaymentService tests
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePix(ctx context.Context, req *mercadopago.PixRequest) (*mercadopago.PaymentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mercadopago.PaymentResult), args.Error(1)
}

func (m *MockGateway) CreateCard(ctx context.Context, req *mercadopago.CardRequest) (*mercadopago.PaymentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mercadopago.PaymentResult), args.Error(1)
}

func (m *MockGateway) GetPayment(ctx context.Context, id string) (*mercadopago.PaymentResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mercadopago.PaymentResult), args.Error(1)
}

// Mock issuer for PaymentService tests
type MockIssuer struct {
	mock.Mock
}

func (m *MockIssuer) Issue(ctx context.Context, intent *models.PaymentIntent) ([]*models.TicketCredential, error) {
	args := m.Called(ctx, intent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TicketCredential), args.Error(1)
}

// memIntentStore is an in-memory IntentStore, safe for concurrent use so
// reconciliation races can be exercised for real.
type memIntentStore struct {
	mu      sync.Mutex
	byRef   map[string]*models.PaymentIntent
	nextID  int
	updates int
}

func newMemIntentStore() *memIntentStore {
	return &memIntentStore{byRef: map[string]*models.PaymentIntent{}}
}

func (s *memIntentStore) Create(_ context.Context, intent *models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byRef[intent.ExternalReference]; ok {
		return status.ErrDuplicateReference
	}
	s.nextID++
	intent.ID = intent.ExternalReference
	intent.CreatedAt = time.Now()
	cp := *intent
	s.byRef[intent.ExternalReference] = &cp
	return nil
}

func (s *memIntentStore) FindByReference(_ context.Context, ref string) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.byRef[ref]
	if !ok {
		return nil, status.ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

func (s *memIntentStore) FindByProviderID(_ context.Context, providerID string) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, intent := range s.byRef {
		if intent.ProviderID == providerID {
			cp := *intent
			return &cp, nil
		}
	}
	return nil, status.ErrIntentNotFound
}

func (s *memIntentStore) Update(_ context.Context, intent *models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byRef[intent.ExternalReference]; !ok {
		return status.ErrIntentNotFound
	}
	s.updates++
	cp := *intent
	s.byRef[intent.ExternalReference] = &cp
	return nil
}

func pendingPixResult(ref string) *mercadopago.PaymentResult {
	return &mercadopago.PaymentResult{
		ID:                "777",
		Status:            mercadopago.StatusPending,
		StatusDetail:      "pending_waiting_transfer",
		ExternalReference: ref,
		PointOfInteraction: &mercadopago.PointOfInteraction{
			Type: "PIX",
			TransactionData: mercadopago.TransactionData{
				QRCode: "00020126360014BR.GOV.BCB.PIX",
			},
		},
	}
}

func approvedResult(ref string) *mercadopago.PaymentResult {
	approved := time.Now()
	return &mercadopago.PaymentResult{
		ID:                "777",
		Status:            mercadopago.StatusApproved,
		StatusDetail:      "accredited",
		ExternalReference: ref,
		DateApproved:      &approved,
	}
}

func checkout(ref string) *CheckoutRequest {
	return &CheckoutRequest{
		Method:            models.MethodPix,
		Amount:            decimal.NewFromInt(150),
		EventCode:         "SARALINA26",
		Items:             []models.LineItem{{Category: "Pista", Quantity: 2, Price: decimal.NewFromInt(75)}},
		ExternalReference: ref,
		Payer:             mercadopago.Payer{Email: "buyer@example.com"},
	}
}

func TestCreatePayment_Pix(t *testing.T) {
	store := newMemIntentStore()
	gateway := &MockGateway{}
	issuer := &MockIssuer{}
	svc := NewPaymentService(gateway, store, issuer, nil)

	gateway.On("CreatePix", mock.Anything, mock.Anything).Return(pendingPixResult("festa_1_A"), nil)

	intent, result, err := svc.CreatePayment(context.Background(), checkout("festa_1_A"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, intent.Status)
	assert.Equal(t, "777", intent.ProviderID)
	require.NotNil(t, result.PointOfInteraction)

	stored, err := store.FindByReference(context.Background(), "festa_1_A")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	issuer.AssertNotCalled(t, "Issue")
}

func TestCreatePayment_DuplicateReference(t *testing.T) {
	store := newMemIntentStore()
	gateway := &MockGateway{}
	svc := NewPaymentService(gateway, store, &MockIssuer{}, nil)

	gateway.On("CreatePix", mock.Anything, mock.Anything).Return(pendingPixResult("festa_1_A"), nil)

	_, _, err := svc.CreatePayment(context.Background(), checkout("festa_1_A"))
	require.NoError(t, err)

	_, _, err = svc.CreatePayment(context.Background(), checkout("festa_1_A"))
	assert.ErrorIs(t, err, status.ErrDuplicateReference)
}

func TestCreatePayment_RejectsNonPositiveAmount(t *testing.T) {
	svc := NewPaymentService(&MockGateway{}, newMemIntentStore(), &MockIssuer{}, nil)

	req := checkout("festa_1_A")
	req.Amount = decimal.Zero
	_, _, err := svc.CreatePayment(context.Background(), req)
	assert.Error(t, err)

	req.Amount = decimal.NewFromInt(-10)
	_, _, err = svc.CreatePayment(context.Background(), req)
	assert.Error(t, err)
}

func TestCreatePayment_ProviderFailureLeavesErrorRecord(t *testing.T) {
	store := newMemIntentStore()
	gateway := &MockGateway{}
	svc := NewPaymentService(gateway, store, &MockIssuer{}, nil)

	gateway.On("CreatePix", mock.Anything, mock.Anything).Return(nil, status.ErrProviderInternal)

	_, _, err := svc.CreatePayment(context.Background(), checkout("festa_1_A"))
	require.Error(t, err)

	stored, err := store.FindByReference(context.Background(), "festa_1_A")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, stored.Status)
}

func TestApplyProviderResult_ApprovalIssuesOnce(t *testing.T) {
	store := newMemIntentStore()
	gateway := &MockGateway{}
	issuer := &MockIssuer{}
	svc := NewPaymentService(gateway, store, issuer, nil)

	gateway.On("CreatePix", mock.Anything, mock.Anything).Return(pendingPixResult("festa_1_A"), nil)
	issuer.On("Issue", mock.Anything, mock.Anything).Return([]*models.TicketCredential{{Serial: "SAFE-001-SARALINA"}}, nil)

	_, _, err := svc.CreatePayment(context.Background(), checkout("festa_1_A"))
	require.NoError(t, err)

	intent, err := svc.ApplyProviderResult(context.Background(), "festa_1_A", approvedResult("festa_1_A"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, intent.Status)
	require.NotNil(t, intent.ApprovedAt)

	// a re-delivered approval is a bookkeeping no-op
	intent, err = svc.ApplyProviderResult(context.Background(), "festa_1_A", approvedResult("festa_1_A"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, intent.Status)

	issuer.AssertNumberOfCalls(t, "Issue", 1)
}

func TestApplyProviderResult_ConflictingTerminalRejected(t *testing.T) {
	store := newMemIntentStore()
	gateway := &MockGateway{}
	issuer := &MockIssuer{}
	svc := NewPaymentService(gateway, store, issuer, nil)

	gateway.On("CreatePix", mock.Anything, mock.Anything).Return(pendingPixResult("festa_1_A"), nil)
	issuer.On("Issue", mock.Anything, mock.Anything).Return([]*models.TicketCredential{}, nil)

	_, _, err := svc.CreatePayment(context.Background(), checkout("festa_1_A"))
	require.NoError(t, err)

	_, err = svc.ApplyProviderResult(context.Background(), "festa_1_A", approvedResult("festa_1_A"))
	require.NoError(t, err)

	rejected := approvedResult("festa_1_A")
	rejected.Status = mercadopago.StatusRejected
	_, err = svc.ApplyProviderResult(context.Background(), "festa_1_A", rejected)
	assert.ErrorIs(t, err, status.ErrStatusConflict)

	stored, err := store.FindByReference(context.Background(), "festa_1_A")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
}

func TestApplyProviderResult_StalePendingAfterApprovalIgnored(t *testing.T) {
	store := newMemIntentStore()
	gateway := &MockGateway{}
	issuer := &MockIssuer{}
	svc := NewPaymentService(gateway, store, issuer, nil)

	gateway.On("CreatePix", mock.Anything, mock.Anything).Return(pendingPixResult("festa_1_A"), nil)
	issuer.On("Issue", mock.Anything, mock.Anything).Return([]*models.TicketCredential{}, nil)

	_, _, err := svc.CreatePayment(context.Background(), checkout("festa_1_A"))
	require.NoError(t, err)

	_, err = svc.ApplyProviderResult(context.Background(), "festa_1_A", approvedResult("festa_1_A"))
	require.NoError(t, err)

	// an out-of-order pending delivery after settlement is ignored
	intent, err := svc.ApplyProviderResult(context.Background(), "festa_1_A", pendingPixResult("festa_1_A"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, intent.Status)
}

func TestApplyProviderResult_UnknownStatusFailsLoudly(t *testing.T) {
	store := newMemIntentStore()
	gateway := &MockGateway{}
	svc := NewPaymentService(gateway, store, &MockIssuer{}, nil)

	gateway.On("CreatePix", mock.Anything, mock.Anything).Return(pendingPixResult("festa_1_A"), nil)

	_, _, err := svc.CreatePayment(context.Background(), checkout("festa_1_A"))
	require.NoError(t, err)

	weird := approvedResult("festa_1_A")
	weird.Status = mercadopago.StatusUnknown
	_, err = svc.ApplyProviderResult(context.Background(), "festa_1_A", weird)
	assert.Error(t, err)
}

func TestApplyProviderResult_WebhookPollRaceIssuesOnce(t *testing.T) {
	store := newMemIntentStore()
	gateway := &MockGateway{}
	issuer := &MockIssuer{}
	svc := NewPaymentService(gateway, store, issuer, nil)

	gateway.On("CreatePix", mock.Anything, mock.Anything).Return(pendingPixResult("festa_1_A"), nil)
	issuer.On("Issue", mock.Anything, mock.Anything).Return([]*models.TicketCredential{}, nil)

	_, _, err := svc.CreatePayment(context.Background(), checkout("festa_1_A"))
	require.NoError(t, err)

	// webhook and polling deliver the same approval at the same time
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.ApplyProviderResult(context.Background(), "festa_1_A", approvedResult("festa_1_A"))
		}()
	}
	wg.Wait()

	issuer.AssertNumberOfCalls(t, "Issue", 1)

	stored, err := store.FindByReference(context.Background(), "festa_1_A")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
}

func TestApplyProviderResult_IssuanceFailureFlagsIntent(t *testing.T) {
	store := newMemIntentStore()
	gateway := &MockGateway{}
	issuer := &MockIssuer{}
	svc := NewPaymentService(gateway, store, issuer, nil)

	gateway.On("CreatePix", mock.Anything, mock.Anything).Return(pendingPixResult("festa_1_A"), nil)
	issuer.On("Issue", mock.Anything, mock.Anything).Return(nil, status.ErrIssuanceFailed)

	_, _, err := svc.CreatePayment(context.Background(), checkout("festa_1_A"))
	require.NoError(t, err)

	intent, err := svc.ApplyProviderResult(context.Background(), "festa_1_A", approvedResult("festa_1_A"))
	require.NoError(t, err)

	// payment stays approved, the missing tickets are flagged instead
	assert.Equal(t, models.StatusApproved, intent.Status)
	assert.True(t, intent.NeedsAttention)
}

func TestCheckPaymentStatus_ResolvesByProviderID(t *testing.T) {
	store := newMemIntentStore()
	gateway := &MockGateway{}
	issuer := &MockIssuer{}
	svc := NewPaymentService(gateway, store, issuer, nil)

	gateway.On("CreatePix", mock.Anything, mock.Anything).Return(pendingPixResult("festa_1_A"), nil)
	gateway.On("GetPayment", mock.Anything, "777").Return(approvedResult("festa_1_A"), nil)
	issuer.On("Issue", mock.Anything, mock.Anything).Return([]*models.TicketCredential{}, nil)

	_, _, err := svc.CreatePayment(context.Background(), checkout("festa_1_A"))
	require.NoError(t, err)

	intent, err := svc.CheckPaymentStatus(context.Background(), "777")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, intent.Status)
	require.NotNil(t, intent.LastReconciledAt)
}

func TestReconcileWebhook_PropagatesFetchError(t *testing.T) {
	gateway := &MockGateway{}
	svc := NewPaymentService(gateway, newMemIntentStore(), &MockIssuer{}, nil)

	gateway.On("GetPayment", mock.Anything, "404").Return(nil, status.ErrProviderInternal)

	err := svc.ReconcileWebhook(context.Background(), "404")
	assert.Error(t, err)
}
