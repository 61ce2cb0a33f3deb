package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"newsroomledger/internal/caching"
	"newsroomledger/internal/models"
	"newsroomledger/internal/pricing"
	"newsroomledger/internal/repositories"

	"github.com/google/uuid"
)

// transactionPageSize bounds the recent-transactions list in a summary.
const transactionPageSize = 50

// balanceCacheTTL is short: the cache only absorbs dashboard polling, and
// every ledger mutation invalidates it anyway.
const balanceCacheTTL = 30 * time.Second

// BalanceService is the read-only aggregation behind GET /credits. It never
// mutates: it is a pure function of the account snapshot and the transaction
// log.
type BalanceService interface {
	GetSummary(ctx context.Context, tenantID uuid.UUID) (*models.BalanceSummary, error)
	GetTransactions(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, error)
}

type balanceService struct {
	accounts repositories.TenantAccountRepository
	entries  repositories.LedgerEntryRepository
	catalog  *pricing.Catalog
	cache    caching.CacheService
}

// NewBalanceService creates a BalanceService. cache may be nil.
func NewBalanceService(accounts repositories.TenantAccountRepository, entries repositories.LedgerEntryRepository, catalog *pricing.Catalog, cache caching.CacheService) BalanceService {
	return &balanceService{accounts: accounts, entries: entries, catalog: catalog, cache: cache}
}

func (s *balanceService) GetSummary(ctx context.Context, tenantID uuid.UUID) (*models.BalanceSummary, error) {
	if s.cache != nil {
		cached, err := s.cache.GetBalanceSummary(ctx, tenantID)
		if err != nil {
			log.Printf("WARN: balance cache read failed for tenant %s: %v", tenantID, err)
		}
		if cached != nil {
			return cached, nil
		}
	}

	account, err := s.accounts.GetByTenantID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if account.SubscriptionCredits < 0 || account.TopOffCredits < 0 {
		// Should be impossible given the store's non-negative guards.
		return nil, fmt.Errorf("corrupt balance snapshot for tenant %s", tenantID)
	}

	transactions, err := s.entries.ListForTenant(ctx, tenantID, transactionPageSize, 0)
	if err != nil {
		return nil, err
	}

	stats, err := s.usageStats(ctx, account)
	if err != nil {
		return nil, err
	}

	summary := &models.BalanceSummary{
		Balance: models.CreditBalance{
			TenantID:            tenantID,
			SubscriptionCredits: account.SubscriptionCredits,
			TopOffCredits:       account.TopOffCredits,
			TotalCredits:        account.TotalCredits(),
			LastUpdated:         account.UpdatedAt,
		},
		Plan:             account.Plan,
		MonthlyAllotment: s.catalog.SubscriptionCredits(account.Plan),
		Status:           account.Status,
		DaysUntilRenewal: daysUntilRenewal(account.NextBillingDate),
		Transactions:     transactions,
		UsageStats:       stats,
	}

	if s.cache != nil {
		if err := s.cache.SetBalanceSummary(ctx, tenantID, summary, balanceCacheTTL); err != nil {
			log.Printf("WARN: balance cache write failed for tenant %s: %v", tenantID, err)
		}
	}
	return summary, nil
}

func (s *balanceService) GetTransactions(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, error) {
	if limit <= 0 || limit > transactionPageSize {
		limit = transactionPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.entries.ListForTenant(ctx, tenantID, limit, offset)
}

// usageStats sums usage entries for the current billing cycle, broken down by
// feature. Accounts without a cycle (trial) fall back to the last 30 days.
func (s *balanceService) usageStats(ctx context.Context, account *models.TenantAccount) (models.UsageStats, error) {
	since := time.Now().AddDate(0, 0, -30)
	if account.BillingCycleStart != nil {
		since = *account.BillingCycleStart
	}

	entries, err := s.entries.ListForTenantSince(ctx, account.TenantID, since)
	if err != nil {
		return models.UsageStats{}, err
	}

	stats := models.UsageStats{ByFeature: make(map[string]int64)}
	for _, entry := range entries {
		if entry.Type != models.EntryUsage {
			continue
		}
		used := -entry.Amount
		stats.TotalUsed += used
		if entry.Feature != nil {
			stats.ByFeature[*entry.Feature] += used
		}
	}
	return stats, nil
}

func daysUntilRenewal(next *time.Time) int {
	if next == nil {
		return 0
	}
	diff := time.Until(*next)
	if diff <= 0 {
		return 0
	}
	return int(math.Ceil(diff.Hours() / 24))
}
