package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant plans, ordered by size.
const (
	PlanNone         = ""
	PlanStarter      = "starter"
	PlanGrowth       = "growth"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

// Account statuses.
const (
	StatusTrial     = "trial"
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusCancelled = "cancelled"
)

// TenantAccount holds the two credit pools and billing-cycle metadata for one
// paying tenant. It is a cached snapshot of the ledger; the ledger entries are
// the source of truth. Version is bumped on every balance change and used for
// optimistic concurrency control.
type TenantAccount struct {
	TenantID            uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Plan                string     `json:"plan" db:"plan"`
	SubscriptionCredits int64      `json:"subscription_credits" db:"subscription_credits"`
	TopOffCredits       int64      `json:"topoff_credits" db:"topoff_credits"`
	Status              string     `json:"status" db:"status"`
	BillingCycleStart   *time.Time `json:"billing_cycle_start" db:"billing_cycle_start"`
	NextBillingDate     *time.Time `json:"next_billing_date" db:"next_billing_date"`
	TrialEndsAt         *time.Time `json:"trial_ends_at" db:"trial_ends_at"`
	ExternalCustomerRef *string    `json:"external_customer_ref" db:"external_customer_ref"`
	ExternalSubRef      *string    `json:"external_subscription_ref" db:"external_subscription_ref"`
	Version             int64      `json:"-" db:"version"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// TotalCredits returns the spendable balance across both pools.
func (a *TenantAccount) TotalCredits() int64 {
	return a.SubscriptionCredits + a.TopOffCredits
}
