package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry types.
const (
	EntrySubscription = "subscription"
	EntryTopOff       = "topoff"
	EntryUsage        = "usage"
	EntryRefund       = "refund"
	EntryExpiry       = "expiry"
	EntryBonus        = "bonus"
)

// Credit pools a ledger entry can affect.
const (
	PoolSubscription = "subscription"
	PoolTopOff       = "topoff"
)

// LedgerEntry is one immutable record of a balance change. Amount is signed:
// positive credits the pool, negative debits it. The balance-after columns
// snapshot both pools as of this entry so the history is self-describing.
type LedgerEntry struct {
	ID                       uuid.UUID `json:"id" db:"id"`
	TenantID                 uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Type                     string    `json:"type" db:"type"`
	CreditPool               string    `json:"credit_pool" db:"credit_pool"`
	Amount                   int64     `json:"amount" db:"amount"`
	SubscriptionBalanceAfter int64     `json:"subscription_balance_after" db:"subscription_balance_after"`
	TopOffBalanceAfter       int64     `json:"topoff_balance_after" db:"topoff_balance_after"`
	Feature                  *string   `json:"feature,omitempty" db:"feature"`
	Description              string    `json:"description" db:"description"`
	ExternalEventRef         *string   `json:"external_event_ref,omitempty" db:"external_event_ref"`
	BillingCycleID           *string   `json:"billing_cycle_id,omitempty" db:"billing_cycle_id"`
	CreatedAt                time.Time `json:"created_at" db:"created_at"`
}
