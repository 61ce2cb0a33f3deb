package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"newsroomledger/internal/common"
	"newsroomledger/internal/models"
	"newsroomledger/internal/pricing"
	"newsroomledger/internal/repositories"
	"newsroomledger/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockCreditService struct {
	mock.Mock
}

func (m *MockCreditService) GetOrCreateAccount(ctx context.Context, tenantID uuid.UUID) (*models.TenantAccount, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantAccount), args.Error(1)
}

func (m *MockCreditService) AccountBySubscriptionRef(ctx context.Context, subscriptionRef string) (*models.TenantAccount, error) {
	args := m.Called(ctx, subscriptionRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantAccount), args.Error(1)
}

func (m *MockCreditService) Deduct(ctx context.Context, tenantID uuid.UUID, feature string, quantity int, referenceID string) (*services.DeductionResult, error) {
	args := m.Called(ctx, tenantID, feature, quantity, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DeductionResult), args.Error(1)
}

func (m *MockCreditService) DeductTTS(ctx context.Context, tenantID uuid.UUID, characterCount int, referenceID string) (*services.DeductionResult, error) {
	args := m.Called(ctx, tenantID, characterCount, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DeductionResult), args.Error(1)
}

func (m *MockCreditService) AddTopOff(ctx context.Context, tenantID uuid.UUID, credits int64, stamp *services.EventStamp) (*models.TenantAccount, error) {
	args := m.Called(ctx, tenantID, credits, stamp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantAccount), args.Error(1)
}

func (m *MockCreditService) AddBonus(ctx context.Context, tenantID uuid.UUID, credits int64, reason string) (*models.TenantAccount, error) {
	args := m.Called(ctx, tenantID, credits, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantAccount), args.Error(1)
}

func (m *MockCreditService) Refund(ctx context.Context, tenantID uuid.UUID, credits int64, reason string) (*models.TenantAccount, error) {
	args := m.Called(ctx, tenantID, credits, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantAccount), args.Error(1)
}

func (m *MockCreditService) StartSubscription(ctx context.Context, tenantID uuid.UUID, tier pricing.SubscriptionTier, customerRef, subscriptionRef string, stamp *services.EventStamp) (*models.TenantAccount, error) {
	args := m.Called(ctx, tenantID, tier, customerRef, subscriptionRef, stamp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantAccount), args.Error(1)
}

func (m *MockCreditService) Renew(ctx context.Context, tenantID uuid.UUID, tier pricing.SubscriptionTier, stamp *services.EventStamp) (*models.TenantAccount, error) {
	args := m.Called(ctx, tenantID, tier, stamp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantAccount), args.Error(1)
}

func (m *MockCreditService) Cancel(ctx context.Context, tenantID uuid.UUID, stamp *services.EventStamp) error {
	args := m.Called(ctx, tenantID, stamp)
	return args.Error(0)
}

func (m *MockCreditService) VerifyLedger(ctx context.Context, tenantID uuid.UUID) (*services.LedgerAuditReport, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.LedgerAuditReport), args.Error(1)
}

func (m *MockCreditService) SuspendExpiredTrials(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockBalanceService struct {
	mock.Mock
}

func (m *MockBalanceService) GetSummary(ctx context.Context, tenantID uuid.UUID) (*models.BalanceSummary, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BalanceSummary), args.Error(1)
}

func (m *MockBalanceService) GetTransactions(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	return args.Get(0).([]*models.LedgerEntry), args.Error(1)
}

type MockCheckoutService struct {
	mock.Mock
}

func (m *MockCheckoutService) CreateSession(ctx context.Context, req *services.CheckoutRequest) (*services.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.CheckoutSession), args.Error(1)
}

type MockCacheService struct {
	mock.Mock
}

func (m *MockCacheService) GetBalanceSummary(ctx context.Context, tenantID uuid.UUID) (*models.BalanceSummary, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BalanceSummary), args.Error(1)
}

func (m *MockCacheService) SetBalanceSummary(ctx context.Context, tenantID uuid.UUID, summary *models.BalanceSummary, ttl time.Duration) error {
	args := m.Called(ctx, tenantID, summary, ttl)
	return args.Error(0)
}

func (m *MockCacheService) InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

func (m *MockCacheService) IsRateLimited(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

type creditHandlersFixture struct {
	credits  *MockCreditService
	balances *MockBalanceService
	checkout *MockCheckoutService
	cache    *MockCacheService
	handler  *CreditHandlers
	tenantID uuid.UUID
}

func newCreditHandlersFixture() *creditHandlersFixture {
	f := &creditHandlersFixture{
		credits:  &MockCreditService{},
		balances: &MockBalanceService{},
		checkout: &MockCheckoutService{},
		cache:    &MockCacheService{},
		tenantID: uuid.New(),
	}
	f.handler = NewCreditHandlers(f.credits, f.balances, f.checkout, f.cache, pricing.DefaultCatalog())
	return f
}

// newTenantRequest builds an echo context carrying the tenant in the request
// context, the way the JWT middleware does after token validation.
func (f *creditHandlersFixture) newTenantRequest(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := context.WithValue(req.Context(), common.TenantIDKey, f.tenantID)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func trialAccount(tenantID uuid.UUID) *models.TenantAccount {
	return &models.TenantAccount{
		TenantID:            tenantID,
		Plan:                models.PlanNone,
		SubscriptionCredits: 100,
		Status:              models.StatusTrial,
	}
}

func TestGetBalance_Success(t *testing.T) {
	f := newCreditHandlersFixture()

	f.credits.On("GetOrCreateAccount", mock.Anything, f.tenantID).
		Return(trialAccount(f.tenantID), nil)
	f.balances.On("GetSummary", mock.Anything, f.tenantID).
		Return(&models.BalanceSummary{
			Balance: models.CreditBalance{
				TenantID:            f.tenantID,
				SubscriptionCredits: 100,
				TotalCredits:        100,
			},
			Plan:   models.PlanNone,
			Status: models.StatusTrial,
		}, nil)

	c, rec := f.newTenantRequest(http.MethodGet, "/api/v1/credits", "")
	err := f.handler.GetBalance(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"subscription_credits":100`)
	f.credits.AssertExpectations(t)
	f.balances.AssertExpectations(t)
}

func TestGetBalance_TenantFromQueryParam(t *testing.T) {
	f := newCreditHandlersFixture()
	tenantID := uuid.New()

	f.credits.On("GetOrCreateAccount", mock.Anything, tenantID).
		Return(trialAccount(tenantID), nil)
	f.balances.On("GetSummary", mock.Anything, tenantID).
		Return(&models.BalanceSummary{Status: models.StatusTrial}, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits?tenantId="+tenantID.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := f.handler.GetBalance(c)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetBalance_InvalidTenant(t *testing.T) {
	f := newCreditHandlersFixture()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/credits?tenantId=not-a-uuid", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := f.handler.GetBalance(c)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.credits.AssertNotCalled(t, "GetOrCreateAccount", mock.Anything, mock.Anything)
}

func TestGetTransactions_Success(t *testing.T) {
	f := newCreditHandlersFixture()

	f.balances.On("GetTransactions", mock.Anything, f.tenantID, 20, 10).
		Return([]*models.LedgerEntry{
			{ID: uuid.New(), TenantID: f.tenantID, Type: models.EntryUsage, Amount: -5},
		}, nil)

	c, rec := f.newTenantRequest(http.MethodGet, "/api/v1/credits/transactions?limit=20&offset=10", "")
	err := f.handler.GetTransactions(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"transactions"`)
	f.balances.AssertExpectations(t)
}

func TestDeductCredits_Success(t *testing.T) {
	f := newCreditHandlersFixture()
	entryID := uuid.New()

	f.credits.On("Deduct", mock.Anything, f.tenantID, "article", 1, "post-42").
		Return(&services.DeductionResult{
			EntryID: entryID,
			Account: &models.TenantAccount{
				TenantID:            f.tenantID,
				SubscriptionCredits: 95,
				TopOffCredits:       20,
			},
			DeductedFromSubscription: 5,
		}, nil)

	c, rec := f.newTenantRequest(http.MethodPost, "/api/v1/credits/deduct",
		`{"feature":"article","referenceId":"post-42"}`)
	err := f.handler.DeductCredits(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), entryID.String())
	assert.Contains(t, rec.Body.String(), `"deductedFromSubscription":5`)
	f.credits.AssertExpectations(t)
}

func TestDeductCredits_TTSUsesCharacterCount(t *testing.T) {
	f := newCreditHandlersFixture()

	f.credits.On("DeductTTS", mock.Anything, f.tenantID, 1200, "").
		Return(&services.DeductionResult{
			EntryID:                  uuid.New(),
			Account:                  trialAccount(f.tenantID),
			DeductedFromSubscription: 3,
		}, nil)

	c, rec := f.newTenantRequest(http.MethodPost, "/api/v1/credits/deduct",
		`{"feature":"tts","characterCount":1200}`)
	err := f.handler.DeductCredits(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	f.credits.AssertExpectations(t)
	f.credits.AssertNotCalled(t, "Deduct", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeductCredits_TTSMissingCharacterCount(t *testing.T) {
	f := newCreditHandlersFixture()

	c, rec := f.newTenantRequest(http.MethodPost, "/api/v1/credits/deduct",
		`{"feature":"tts"}`)
	err := f.handler.DeductCredits(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeductCredits_MissingFeature(t *testing.T) {
	f := newCreditHandlersFixture()

	c, rec := f.newTenantRequest(http.MethodPost, "/api/v1/credits/deduct", `{"quantity":2}`)
	err := f.handler.DeductCredits(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeductCredits_UnknownFeature(t *testing.T) {
	f := newCreditHandlersFixture()

	f.credits.On("Deduct", mock.Anything, f.tenantID, "video", 1, "").
		Return(nil, services.ErrUnknownFeature)

	c, rec := f.newTenantRequest(http.MethodPost, "/api/v1/credits/deduct",
		`{"feature":"video"}`)
	err := f.handler.DeductCredits(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeductCredits_InsufficientCredits(t *testing.T) {
	f := newCreditHandlersFixture()

	f.credits.On("Deduct", mock.Anything, f.tenantID, "article", 1, "").
		Return(nil, repositories.ErrInsufficientCredits)

	c, rec := f.newTenantRequest(http.MethodPost, "/api/v1/credits/deduct",
		`{"feature":"article"}`)
	err := f.handler.DeductCredits(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "INSUFFICIENT_CREDITS")
}

func TestCreateCheckout_Subscription(t *testing.T) {
	f := newCreditHandlersFixture()

	f.cache.On("IsRateLimited", mock.Anything, "checkout:"+f.tenantID.String(), checkoutRateLimit, checkoutRateWindow).
		Return(false, nil)
	f.checkout.On("CreateSession", mock.Anything, mock.MatchedBy(func(req *services.CheckoutRequest) bool {
		return req.Type == "subscription" && req.PlanID == "growth" && req.TenantID == f.tenantID
	})).Return(&services.CheckoutSession{
		ID:  "cs_123",
		URL: "https://pay.example.com/cs_123",
	}, nil)

	c, rec := f.newTenantRequest(http.MethodPost, "/api/v1/credits/checkout",
		`{"type":"subscription","planId":"growth"}`)
	err := f.handler.CreateCheckout(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sessionId":"cs_123"`)
	assert.Contains(t, rec.Body.String(), `"redirectUrl":"https://pay.example.com/cs_123"`)
	f.checkout.AssertExpectations(t)
}

func TestCreateCheckout_RateLimited(t *testing.T) {
	f := newCreditHandlersFixture()

	f.cache.On("IsRateLimited", mock.Anything, mock.Anything, checkoutRateLimit, checkoutRateWindow).
		Return(true, nil)

	c, _ := f.newTenantRequest(http.MethodPost, "/api/v1/credits/checkout",
		`{"type":"subscription","planId":"growth"}`)
	err := f.handler.CreateCheckout(c)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)
	f.checkout.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
}

func TestCreateCheckout_UnknownPlan(t *testing.T) {
	f := newCreditHandlersFixture()

	f.cache.On("IsRateLimited", mock.Anything, mock.Anything, checkoutRateLimit, checkoutRateWindow).
		Return(false, nil)
	f.checkout.On("CreateSession", mock.Anything, mock.Anything).
		Return(nil, services.ErrUnknownPlan)

	c, rec := f.newTenantRequest(http.MethodPost, "/api/v1/credits/checkout",
		`{"type":"subscription","planId":"platinum"}`)
	err := f.handler.CreateCheckout(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPricing(t *testing.T) {
	f := newCreditHandlersFixture()

	c, rec := f.newTenantRequest(http.MethodGet, "/api/v1/credits/pricing", "")
	err := f.handler.GetPricing(c)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"tiers"`)
	assert.Contains(t, rec.Body.String(), `"growth"`)
	assert.Contains(t, rec.Body.String(), `"packs"`)
}
