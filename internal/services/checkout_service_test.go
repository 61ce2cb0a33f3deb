package services

import (
	"context"
	"testing"

	"newsroomledger/internal/pricing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MockPaymentProviderClient struct {
	mock.Mock
}

func (m *MockPaymentProviderClient) CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CheckoutSession), args.Error(1)
}

type CheckoutServiceTestSuite struct {
	suite.Suite
	provider *MockPaymentProviderClient
	service  CheckoutService
	tenantID uuid.UUID
	ctx      context.Context
}

func (suite *CheckoutServiceTestSuite) SetupTest() {
	suite.provider = &MockPaymentProviderClient{}
	suite.service = NewCheckoutService(suite.provider, pricing.DefaultCatalog(), "https://app.example.com")
	suite.tenantID = uuid.New()
	suite.ctx = context.Background()

	suite.provider.Test(suite.T())
}

func (suite *CheckoutServiceTestSuite) TearDownTest() {
	suite.provider.AssertExpectations(suite.T())
}

func TestCheckoutServiceTestSuite(t *testing.T) {
	suite.Run(t, new(CheckoutServiceTestSuite))
}

func (suite *CheckoutServiceTestSuite) TestCreateSession_Subscription() {
	session := &CheckoutSession{ID: "cs_1", URL: "https://pay.example.com/cs_1"}

	suite.provider.On("CreateCheckoutSession", suite.ctx, mock.MatchedBy(func(req *CheckoutSessionRequest) bool {
		return req.Mode == CheckoutModeSubscription &&
			req.Recurring &&
			req.UnitAmountCents == 4900 &&
			req.Metadata["type"] == "subscription" &&
			req.Metadata["tenant_id"] == suite.tenantID.String() &&
			req.Metadata["plan_id"] == "growth" &&
			req.Metadata["credits"] == "575"
	})).Return(session, nil)

	got, err := suite.service.CreateSession(suite.ctx, &CheckoutRequest{
		Type:     "subscription",
		TenantID: suite.tenantID,
		PlanID:   "growth",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "https://pay.example.com/cs_1", got.URL)
}

func (suite *CheckoutServiceTestSuite) TestCreateSession_TopOff() {
	session := &CheckoutSession{ID: "cs_2", URL: "https://pay.example.com/cs_2"}

	suite.provider.On("CreateCheckoutSession", suite.ctx, mock.MatchedBy(func(req *CheckoutSessionRequest) bool {
		return req.Mode == CheckoutModePayment &&
			!req.Recurring &&
			req.UnitAmountCents == 2000 &&
			req.Metadata["type"] == "topoff" &&
			req.Metadata["pack_id"] == "large" &&
			req.Metadata["credits"] == "250"
	})).Return(session, nil)

	got, err := suite.service.CreateSession(suite.ctx, &CheckoutRequest{
		Type:     "topoff",
		TenantID: suite.tenantID,
		PackID:   "large",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "cs_2", got.ID)
}

func (suite *CheckoutServiceTestSuite) TestCreateSession_MissingTenant() {
	_, err := suite.service.CreateSession(suite.ctx, &CheckoutRequest{
		Type:   "subscription",
		PlanID: "growth",
	})
	assert.ErrorIs(suite.T(), err, ErrMissingTenant)
}

func (suite *CheckoutServiceTestSuite) TestCreateSession_UnknownPlan() {
	_, err := suite.service.CreateSession(suite.ctx, &CheckoutRequest{
		Type:     "subscription",
		TenantID: suite.tenantID,
		PlanID:   "platinum",
	})
	assert.ErrorIs(suite.T(), err, ErrUnknownPlan)
}

func (suite *CheckoutServiceTestSuite) TestCreateSession_UnknownPack() {
	_, err := suite.service.CreateSession(suite.ctx, &CheckoutRequest{
		Type:     "topoff",
		TenantID: suite.tenantID,
		PackID:   "mega",
	})
	assert.ErrorIs(suite.T(), err, ErrUnknownPack)
}

func (suite *CheckoutServiceTestSuite) TestCreateSession_UnknownType() {
	_, err := suite.service.CreateSession(suite.ctx, &CheckoutRequest{
		Type:     "donation",
		TenantID: suite.tenantID,
	})
	assert.Error(suite.T(), err)
}
