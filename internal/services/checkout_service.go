package services

import (
	"context"
	"fmt"
	"strconv"

	"newsroomledger/internal/pricing"

	"github.com/google/uuid"
)

// CheckoutTypeTopOff is the metadata type for one-time credit pack purchases.
// Subscription checkouts reuse CheckoutModeSubscription as their type.
const CheckoutTypeTopOff = "topoff"

// CheckoutRequest is the internal API's request for a hosted checkout.
type CheckoutRequest struct {
	Type     string    `json:"type"` // "subscription" or "topoff"
	TenantID uuid.UUID `json:"tenant_id"`
	PlanID   string    `json:"plan_id,omitempty"`
	PackID   string    `json:"pack_id,omitempty"`
}

// CheckoutService builds provider checkout sessions. The session metadata
// carries tenant, plan/pack and credit amount so the webhook processor can
// apply the resulting checkout_completed event without a second lookup.
type CheckoutService interface {
	CreateSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)
}

type checkoutService struct {
	provider PaymentProviderClient
	catalog  *pricing.Catalog
	baseURL  string
}

func NewCheckoutService(provider PaymentProviderClient, catalog *pricing.Catalog, baseURL string) CheckoutService {
	return &checkoutService{provider: provider, catalog: catalog, baseURL: baseURL}
}

func (s *checkoutService) CreateSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	if req.TenantID == uuid.Nil {
		return nil, ErrMissingTenant
	}

	switch req.Type {
	case CheckoutModeSubscription:
		tier, ok := s.catalog.TierByID(req.PlanID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, req.PlanID)
		}
		return s.provider.CreateCheckoutSession(ctx, &CheckoutSessionRequest{
			Mode:            CheckoutModeSubscription,
			ProductName:     fmt.Sprintf("%s Plan (%d credits/month)", tier.Name, tier.TotalCredits()),
			UnitAmountCents: tier.MonthlyPriceCents,
			Recurring:       true,
			SuccessURL:      s.baseURL + "/admin?tab=credits&success=subscription&plan=" + tier.ID,
			CancelURL:       s.baseURL + "/admin?tab=credits&canceled=true",
			Metadata: map[string]string{
				"type":      CheckoutModeSubscription,
				"tenant_id": req.TenantID.String(),
				"plan_id":   tier.ID,
				"credits":   strconv.FormatInt(tier.TotalCredits(), 10),
			},
		})

	case CheckoutTypeTopOff:
		pack, ok := s.catalog.PackByID(req.PackID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPack, req.PackID)
		}
		return s.provider.CreateCheckoutSession(ctx, &CheckoutSessionRequest{
			Mode:            CheckoutModePayment,
			ProductName:     fmt.Sprintf("%s Credit Pack (%d credits)", pack.Name, pack.CreditAmount),
			UnitAmountCents: pack.PriceCents,
			Recurring:       false,
			SuccessURL:      s.baseURL + "/admin?tab=credits&success=topoff",
			CancelURL:       s.baseURL + "/admin?tab=credits&canceled=true",
			Metadata: map[string]string{
				"type":      CheckoutTypeTopOff,
				"tenant_id": req.TenantID.String(),
				"pack_id":   pack.ID,
				"credits":   strconv.FormatInt(pack.CreditAmount, 10),
			},
		})

	default:
		return nil, fmt.Errorf("checkout type must be \"subscription\" or \"topoff\", got %q", req.Type)
	}
}
