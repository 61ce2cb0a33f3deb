package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"newsroomledger/internal/caching"
	"newsroomledger/internal/common"
	"newsroomledger/internal/pricing"
	"newsroomledger/internal/repositories"
	"newsroomledger/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// checkoutRateLimit caps checkout session creation per tenant
const (
	checkoutRateLimit  = 10
	checkoutRateWindow = time.Minute
)

// CreditHandlers handles HTTP requests for credit balances, deductions and
// checkout sessions
type CreditHandlers struct {
	creditService   services.CreditService
	balanceService  services.BalanceService
	checkoutService services.CheckoutService
	cacheService    caching.CacheService
	catalog         *pricing.Catalog
}

// NewCreditHandlers creates a new credit handlers instance
func NewCreditHandlers(
	creditService services.CreditService,
	balanceService services.BalanceService,
	checkoutService services.CheckoutService,
	cacheService caching.CacheService,
	catalog *pricing.Catalog,
) *CreditHandlers {
	return &CreditHandlers{
		creditService:   creditService,
		balanceService:  balanceService,
		checkoutService: checkoutService,
		cacheService:    cacheService,
		catalog:         catalog,
	}
}

// tenantID resolves the tenant from the authenticated context, falling back
// to the tenantId query parameter for unauthenticated internal calls.
func (h *CreditHandlers) tenantID(c echo.Context) (uuid.UUID, error) {
	if id, ok := common.GetTenantIDFromContext(c.Request().Context()); ok {
		return id, nil
	}
	return common.ValidateUUID(c.QueryParam("tenantId"), "tenantId")
}

// GetBalance handles GET /credits
func (h *CreditHandlers) GetBalance(c echo.Context) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return common.SendValidationError(c, "tenantId", err.Error())
	}

	// First sight of a tenant provisions its trial account
	if _, err := h.creditService.GetOrCreateAccount(c.Request().Context(), tenantID); err != nil {
		log.Printf("failed to ensure account for tenant %s: %v", tenantID, err)
		return common.SendServerError(c, "Failed to load credit balance")
	}

	summary, err := h.balanceService.GetSummary(c.Request().Context(), tenantID)
	if err != nil {
		log.Printf("failed to load balance for tenant %s: %v", tenantID, err)
		return common.SendServerError(c, "Failed to load credit balance")
	}

	return c.JSON(http.StatusOK, summary)
}

// GetTransactions handles GET /credits/transactions
func (h *CreditHandlers) GetTransactions(c echo.Context) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return common.SendValidationError(c, "tenantId", err.Error())
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, offset, err = common.ValidatePaginationParams(limit, offset)
	if err != nil {
		return common.SendClientError(c, err.Error())
	}

	entries, err := h.balanceService.GetTransactions(c.Request().Context(), tenantID, limit, offset)
	if err != nil {
		log.Printf("failed to list transactions for tenant %s: %v", tenantID, err)
		return common.SendServerError(c, "Failed to load transactions")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"transactions": entries,
		"limit":        limit,
		"offset":       offset,
	})
}

type deductRequest struct {
	Feature        string `json:"feature"`
	Quantity       int    `json:"quantity"`
	CharacterCount int    `json:"characterCount"`
	ReferenceID    string `json:"referenceId"`
}

// DeductCredits handles POST /credits/deduct
func (h *CreditHandlers) DeductCredits(c echo.Context) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return common.SendValidationError(c, "tenantId", err.Error())
	}

	var req deductRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request body")
	}
	if err := common.ValidateRequiredString(req.Feature, "feature"); err != nil {
		return common.SendValidationError(c, "feature", err.Error())
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	var result *services.DeductionResult
	if req.Feature == pricing.FeatureTTS {
		if err := common.ValidatePositiveInteger(req.CharacterCount, "characterCount", 1_000_000); err != nil {
			return common.SendValidationError(c, "characterCount", err.Error())
		}
		result, err = h.creditService.DeductTTS(c.Request().Context(), tenantID, req.CharacterCount, req.ReferenceID)
	} else {
		result, err = h.creditService.Deduct(c.Request().Context(), tenantID, req.Feature, req.Quantity, req.ReferenceID)
	}
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownFeature):
			return common.SendValidationError(c, "feature", err.Error())
		case errors.Is(err, repositories.ErrInsufficientCredits):
			return common.SendPaymentRequiredError(c, "Insufficient credits")
		case errors.Is(err, repositories.ErrAccountNotFound):
			return common.SendNotFoundError(c, "Credit account")
		default:
			log.Printf("deduction failed for tenant %s: %v", tenantID, err)
			return common.SendServerError(c, "Failed to deduct credits")
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"entryId":                  result.EntryID,
		"subscriptionCredits":      result.Account.SubscriptionCredits,
		"topOffCredits":            result.Account.TopOffCredits,
		"totalCredits":             result.Account.TotalCredits(),
		"deductedFromSubscription": result.DeductedFromSubscription,
		"deductedFromTopOff":       result.DeductedFromTopOff,
	})
}

type checkoutRequest struct {
	Type   string `json:"type"`
	PlanID string `json:"planId"`
	PackID string `json:"packId"`
}

// CreateCheckout handles POST /credits/checkout
func (h *CreditHandlers) CreateCheckout(c echo.Context) error {
	tenantID, err := h.tenantID(c)
	if err != nil {
		return common.SendValidationError(c, "tenantId", err.Error())
	}

	if h.cacheService != nil {
		limited, err := h.cacheService.IsRateLimited(c.Request().Context(), "checkout:"+tenantID.String(), checkoutRateLimit, checkoutRateWindow)
		if err != nil {
			log.Printf("WARN: checkout rate-limit check failed for tenant %s: %v", tenantID, err)
		} else if limited {
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many checkout attempts, try again later")
		}
	}

	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return common.SendClientError(c, "Invalid request body")
	}

	session, err := h.checkoutService.CreateSession(c.Request().Context(), &services.CheckoutRequest{
		Type:     req.Type,
		TenantID: tenantID,
		PlanID:   req.PlanID,
		PackID:   req.PackID,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownPlan):
			return common.SendValidationError(c, "planId", err.Error())
		case errors.Is(err, services.ErrUnknownPack):
			return common.SendValidationError(c, "packId", err.Error())
		case errors.Is(err, services.ErrMissingTenant):
			return common.SendValidationError(c, "tenantId", err.Error())
		default:
			log.Printf("checkout session creation failed for tenant %s: %v", tenantID, err)
			return common.SendServerError(c, "Failed to create checkout session")
		}
	}

	return c.JSON(http.StatusOK, map[string]string{
		"sessionId":   session.ID,
		"redirectUrl": session.URL,
	})
}

// GetPricing handles GET /credits/pricing
func (h *CreditHandlers) GetPricing(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tiers": h.catalog.Tiers(),
		"packs": h.catalog.Packs(),
	})
}
