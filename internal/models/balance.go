package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditBalance is the point-in-time view of both pools.
type CreditBalance struct {
	TenantID            uuid.UUID `json:"tenant_id"`
	SubscriptionCredits int64     `json:"subscription_credits"`
	TopOffCredits       int64     `json:"topoff_credits"`
	TotalCredits        int64     `json:"total_credits"`
	LastUpdated         time.Time `json:"last_updated"`
}

// UsageStats aggregates usage entries for the current billing cycle.
type UsageStats struct {
	TotalUsed int64            `json:"total_used"`
	ByFeature map[string]int64 `json:"by_feature"`
}

// BalanceSummary is the read-only aggregation served by GET /credits.
type BalanceSummary struct {
	Balance          CreditBalance  `json:"balance"`
	Plan             string         `json:"plan"`
	MonthlyAllotment int64          `json:"monthly_allotment"`
	Status           string         `json:"status"`
	DaysUntilRenewal int            `json:"days_until_renewal"`
	Transactions     []*LedgerEntry `json:"transactions"`
	UsageStats       UsageStats     `json:"usage_stats"`
}
