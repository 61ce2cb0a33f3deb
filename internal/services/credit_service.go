package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"newsroomledger/internal/caching"
	"newsroomledger/internal/models"
	"newsroomledger/internal/pricing"
	"newsroomledger/internal/repositories"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// maxApplyRetries bounds the optimistic-concurrency retry loop.
const maxApplyRetries = 3

// EventStamp ties a ledger mutation to the provider event that caused it.
// When present, the event id is recorded in the processed-events set inside
// the same transaction as the balance change, so a retry of a half-failed
// delivery finds no stamp and safely reapplies.
type EventStamp struct {
	EventID   string
	EventType string
}

// DeductionResult reports how a usage debit was split across the two pools.
type DeductionResult struct {
	EntryID                  uuid.UUID
	Account                  *models.TenantAccount
	DeductedFromSubscription int64
	DeductedFromTopOff       int64
}

// LedgerAuditReport compares the account snapshot against a full replay of
// the tenant's ledger entries.
type LedgerAuditReport struct {
	TenantID             uuid.UUID
	SnapshotSubscription int64
	SnapshotTopOff       int64
	ReplayedSubscription int64
	ReplayedTopOff       int64
}

// Consistent reports whether replaying the ledger reproduces the snapshot.
func (r *LedgerAuditReport) Consistent() bool {
	return r.SnapshotSubscription == r.ReplayedSubscription && r.SnapshotTopOff == r.ReplayedTopOff
}

// CreditService owns every mutation of tenant balances. Each operation pairs
// the account update with its ledger entry (and processed-event stamp, when
// webhook-driven) in a single transaction.
type CreditService interface {
	GetOrCreateAccount(ctx context.Context, tenantID uuid.UUID) (*models.TenantAccount, error)
	AccountBySubscriptionRef(ctx context.Context, subscriptionRef string) (*models.TenantAccount, error)
	Deduct(ctx context.Context, tenantID uuid.UUID, feature string, quantity int, referenceID string) (*DeductionResult, error)
	DeductTTS(ctx context.Context, tenantID uuid.UUID, characterCount int, referenceID string) (*DeductionResult, error)
	AddTopOff(ctx context.Context, tenantID uuid.UUID, credits int64, stamp *EventStamp) (*models.TenantAccount, error)
	AddBonus(ctx context.Context, tenantID uuid.UUID, credits int64, reason string) (*models.TenantAccount, error)
	Refund(ctx context.Context, tenantID uuid.UUID, credits int64, reason string) (*models.TenantAccount, error)
	StartSubscription(ctx context.Context, tenantID uuid.UUID, tier pricing.SubscriptionTier, customerRef, subscriptionRef string, stamp *EventStamp) (*models.TenantAccount, error)
	Renew(ctx context.Context, tenantID uuid.UUID, tier pricing.SubscriptionTier, stamp *EventStamp) (*models.TenantAccount, error)
	Cancel(ctx context.Context, tenantID uuid.UUID, stamp *EventStamp) error
	VerifyLedger(ctx context.Context, tenantID uuid.UUID) (*LedgerAuditReport, error)
	SuspendExpiredTrials(ctx context.Context) (int, error)
}

type creditService struct {
	pool  repositories.Pool
	cache caching.CacheService
}

// NewCreditService creates a CreditService backed by a pgx pool. cache may be
// nil when no Redis is configured.
func NewCreditService(pool repositories.Pool, cache caching.CacheService) CreditService {
	return &creditService{pool: pool, cache: cache}
}

// GetOrCreateAccount returns the tenant's account, creating it with trial
// defaults on first sight. The trial grant is written to the ledger so the
// replay property holds from the very first entry.
func (s *creditService) GetOrCreateAccount(ctx context.Context, tenantID uuid.UUID) (*models.TenantAccount, error) {
	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		now := time.Now()
		trialEnd := now.AddDate(0, 0, pricing.TrialDurationDays)
		account := &models.TenantAccount{
			TenantID:            tenantID,
			Plan:                models.PlanNone,
			SubscriptionCredits: pricing.TrialCredits,
			TopOffCredits:       0,
			Status:              models.StatusTrial,
			TrialEndsAt:         &trialEnd,
		}
		created, err := repositories.NewTenantAccountRepo(tx).Create(ctx, account)
		if err != nil || !created {
			return err
		}
		return repositories.NewLedgerEntryRepo(tx).Append(ctx, &models.LedgerEntry{
			ID:                       uuid.New(),
			TenantID:                 tenantID,
			Type:                     models.EntryBonus,
			CreditPool:               models.PoolSubscription,
			Amount:                   pricing.TrialCredits,
			SubscriptionBalanceAfter: pricing.TrialCredits,
			TopOffBalanceAfter:       0,
			Description:              fmt.Sprintf("Trial: %d starter credits", pricing.TrialCredits),
		})
	})
	if err != nil {
		return nil, err
	}
	return repositories.NewTenantAccountRepo(s.pool).GetByTenantID(ctx, tenantID)
}

func (s *creditService) AccountBySubscriptionRef(ctx context.Context, subscriptionRef string) (*models.TenantAccount, error) {
	return repositories.NewTenantAccountRepo(s.pool).GetBySubscriptionRef(ctx, subscriptionRef)
}

// Deduct charges a feature use, draining subscription credits before top-off
// credits. Fails with ErrInsufficientCredits without touching either pool.
func (s *creditService) Deduct(ctx context.Context, tenantID uuid.UUID, feature string, quantity int, referenceID string) (*DeductionResult, error) {
	costPerUse, ok := pricing.FeatureCost(feature)
	if !ok {
		return nil, ErrUnknownFeature
	}
	if quantity <= 0 {
		quantity = 1
	}
	return s.deduct(ctx, tenantID, feature, costPerUse*int64(quantity), referenceID, "")
}

// DeductTTS charges text-to-speech by character count.
func (s *creditService) DeductTTS(ctx context.Context, tenantID uuid.UUID, characterCount int, referenceID string) (*DeductionResult, error) {
	cost := pricing.CalculateTTSCredits(characterCount)
	if cost == 0 {
		return nil, fmt.Errorf("character count must be positive")
	}
	description := fmt.Sprintf("Text-to-speech: %d characters (%d credits)", characterCount, cost)
	return s.deduct(ctx, tenantID, pricing.FeatureTTS, cost, referenceID, description)
}

func (s *creditService) deduct(ctx context.Context, tenantID uuid.UUID, feature string, cost int64, referenceID, description string) (*DeductionResult, error) {
	if description == "" {
		description = fmt.Sprintf("Used %d credits for %s", cost, feature)
	}
	if referenceID != "" {
		description = fmt.Sprintf("%s (ref %s)", description, referenceID)
	}

	var result *DeductionResult
	err := s.mutate(ctx, tenantID, nil, func(tx pgx.Tx, account *models.TenantAccount) error {
		if account.TotalCredits() < cost {
			return repositories.ErrInsufficientCredits
		}

		// Subscription pool first, remainder from top-off.
		fromSubscription := account.SubscriptionCredits
		if fromSubscription > cost {
			fromSubscription = cost
		}
		fromTopOff := cost - fromSubscription

		updated, err := repositories.NewTenantAccountRepo(tx).ApplyDelta(ctx, tenantID, -fromSubscription, -fromTopOff, account.Version)
		if err != nil {
			return err
		}

		// One usage entry per drained pool: the per-pool entry sums must
		// replay to exactly the deltas applied to the snapshot.
		entries := repositories.NewLedgerEntryRepo(tx)
		var entryID uuid.UUID
		if fromSubscription > 0 {
			entry := &models.LedgerEntry{
				ID:                       uuid.New(),
				TenantID:                 tenantID,
				Type:                     models.EntryUsage,
				CreditPool:               models.PoolSubscription,
				Amount:                   -fromSubscription,
				SubscriptionBalanceAfter: updated.SubscriptionCredits,
				TopOffBalanceAfter:       account.TopOffCredits,
				Feature:                  &feature,
				Description:              description,
			}
			if err := entries.Append(ctx, entry); err != nil {
				return err
			}
			entryID = entry.ID
		}
		if fromTopOff > 0 {
			entry := &models.LedgerEntry{
				ID:                       uuid.New(),
				TenantID:                 tenantID,
				Type:                     models.EntryUsage,
				CreditPool:               models.PoolTopOff,
				Amount:                   -fromTopOff,
				SubscriptionBalanceAfter: updated.SubscriptionCredits,
				TopOffBalanceAfter:       updated.TopOffCredits,
				Feature:                  &feature,
				Description:              description,
			}
			if err := entries.Append(ctx, entry); err != nil {
				return err
			}
			if entryID == uuid.Nil {
				entryID = entry.ID
			}
		}

		result = &DeductionResult{
			EntryID:                  entryID,
			Account:                  updated,
			DeductedFromSubscription: fromSubscription,
			DeductedFromTopOff:       fromTopOff,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddTopOff credits a purchased pack to the never-expiring pool.
func (s *creditService) AddTopOff(ctx context.Context, tenantID uuid.UUID, credits int64, stamp *EventStamp) (*models.TenantAccount, error) {
	description := fmt.Sprintf("Purchased %d top-off credits", credits)
	return s.creditTopOffPool(ctx, tenantID, credits, models.EntryTopOff, description, stamp)
}

// AddBonus grants promotional credits. They go to the top-off pool so they
// never expire.
func (s *creditService) AddBonus(ctx context.Context, tenantID uuid.UUID, credits int64, reason string) (*models.TenantAccount, error) {
	return s.creditTopOffPool(ctx, tenantID, credits, models.EntryBonus, "Bonus: "+reason, nil)
}

// Refund returns credits to the top-off pool.
func (s *creditService) Refund(ctx context.Context, tenantID uuid.UUID, credits int64, reason string) (*models.TenantAccount, error) {
	return s.creditTopOffPool(ctx, tenantID, credits, models.EntryRefund, "Refund: "+reason, nil)
}

func (s *creditService) creditTopOffPool(ctx context.Context, tenantID uuid.UUID, credits int64, entryType, description string, stamp *EventStamp) (*models.TenantAccount, error) {
	if credits <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", credits)
	}

	var result *models.TenantAccount
	err := s.mutate(ctx, tenantID, stamp, func(tx pgx.Tx, account *models.TenantAccount) error {
		updated, err := repositories.NewTenantAccountRepo(tx).ApplyDelta(ctx, tenantID, 0, credits, account.Version)
		if err != nil {
			return err
		}
		entry := &models.LedgerEntry{
			ID:                       uuid.New(),
			TenantID:                 tenantID,
			Type:                     entryType,
			CreditPool:               models.PoolTopOff,
			Amount:                   credits,
			SubscriptionBalanceAfter: updated.SubscriptionCredits,
			TopOffBalanceAfter:       updated.TopOffCredits,
			Description:              description,
		}
		if stamp != nil {
			entry.ExternalEventRef = &stamp.EventID
		}
		if err := repositories.NewLedgerEntryRepo(tx).Append(ctx, entry); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StartSubscription applies a completed subscription checkout: the account
// moves to the purchased tier with a fresh billing cycle. Any prior
// subscription credits (trial or previous plan) are expired first so the
// ledger replay still matches the snapshot.
func (s *creditService) StartSubscription(ctx context.Context, tenantID uuid.UUID, tier pricing.SubscriptionTier, customerRef, subscriptionRef string, stamp *EventStamp) (*models.TenantAccount, error) {
	var result *models.TenantAccount
	err := s.mutate(ctx, tenantID, stamp, func(tx pgx.Tx, account *models.TenantAccount) error {
		now := time.Now()
		next := now.AddDate(0, 1, 0)
		prior := account.SubscriptionCredits

		updated := *account
		updated.Plan = tier.ID
		updated.SubscriptionCredits = tier.TotalCredits()
		updated.Status = models.StatusActive
		updated.BillingCycleStart = &now
		updated.NextBillingDate = &next
		updated.ExternalCustomerRef = &customerRef
		updated.ExternalSubRef = &subscriptionRef
		if err := repositories.NewTenantAccountRepo(tx).SetSubscriptionState(ctx, &updated, account.Version); err != nil {
			return err
		}

		entries := repositories.NewLedgerEntryRepo(tx)
		if prior > 0 {
			if err := entries.Append(ctx, &models.LedgerEntry{
				ID:                       uuid.New(),
				TenantID:                 tenantID,
				Type:                     models.EntryExpiry,
				CreditPool:               models.PoolSubscription,
				Amount:                   -prior,
				SubscriptionBalanceAfter: 0,
				TopOffBalanceAfter:       account.TopOffCredits,
				Description:              fmt.Sprintf("Expired %d unused subscription credits", prior),
			}); err != nil {
				return err
			}
		}

		cycleID := now.Format("2006-01-02")
		grant := &models.LedgerEntry{
			ID:                       uuid.New(),
			TenantID:                 tenantID,
			Type:                     models.EntrySubscription,
			CreditPool:               models.PoolSubscription,
			Amount:                   tier.TotalCredits(),
			SubscriptionBalanceAfter: tier.TotalCredits(),
			TopOffBalanceAfter:       account.TopOffCredits,
			Description:              fmt.Sprintf("Subscription started: %d monthly credits (%s plan)", tier.TotalCredits(), tier.ID),
			BillingCycleID:           &cycleID,
		}
		if stamp != nil {
			grant.ExternalEventRef = &stamp.EventID
		}
		if err := entries.Append(ctx, grant); err != nil {
			return err
		}
		result = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Renew applies a recurring-cycle payment: unused subscription credits from
// the prior cycle expire, the new allotment is granted, and the cycle dates
// advance. Top-off credits are untouched. Only the grant entry carries the
// event ref; the paired expiry entry is identified by its cycle id.
func (s *creditService) Renew(ctx context.Context, tenantID uuid.UUID, tier pricing.SubscriptionTier, stamp *EventStamp) (*models.TenantAccount, error) {
	var result *models.TenantAccount
	err := s.mutate(ctx, tenantID, stamp, func(tx pgx.Tx, account *models.TenantAccount) error {
		now := time.Now()
		next := now.AddDate(0, 1, 0)
		expired := account.SubscriptionCredits

		updated := *account
		updated.Plan = tier.ID
		updated.SubscriptionCredits = tier.TotalCredits()
		updated.Status = models.StatusActive
		updated.BillingCycleStart = &now
		updated.NextBillingDate = &next
		if err := repositories.NewTenantAccountRepo(tx).SetSubscriptionState(ctx, &updated, account.Version); err != nil {
			return err
		}

		entries := repositories.NewLedgerEntryRepo(tx)
		cycleID := now.Format("2006-01-02")
		if expired > 0 {
			if err := entries.Append(ctx, &models.LedgerEntry{
				ID:                       uuid.New(),
				TenantID:                 tenantID,
				Type:                     models.EntryExpiry,
				CreditPool:               models.PoolSubscription,
				Amount:                   -expired,
				SubscriptionBalanceAfter: 0,
				TopOffBalanceAfter:       account.TopOffCredits,
				Description:              fmt.Sprintf("Expired %d unused subscription credits", expired),
				BillingCycleID:           &cycleID,
			}); err != nil {
				return err
			}
		}

		grant := &models.LedgerEntry{
			ID:                       uuid.New(),
			TenantID:                 tenantID,
			Type:                     models.EntrySubscription,
			CreditPool:               models.PoolSubscription,
			Amount:                   tier.TotalCredits(),
			SubscriptionBalanceAfter: tier.TotalCredits(),
			TopOffBalanceAfter:       account.TopOffCredits,
			Description:              fmt.Sprintf("Monthly subscription renewal: %d credits (%s plan)", tier.TotalCredits(), tier.ID),
			BillingCycleID:           &cycleID,
		}
		if stamp != nil {
			grant.ExternalEventRef = &stamp.EventID
		}
		if err := entries.Append(ctx, grant); err != nil {
			return err
		}
		result = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel marks the account cancelled and detaches the provider subscription.
// Already-granted credits stay spendable, so no ledger entry is written.
func (s *creditService) Cancel(ctx context.Context, tenantID uuid.UUID, stamp *EventStamp) error {
	return s.mutate(ctx, tenantID, stamp, func(tx pgx.Tx, account *models.TenantAccount) error {
		updated := *account
		updated.Status = models.StatusCancelled
		updated.ExternalSubRef = nil
		return repositories.NewTenantAccountRepo(tx).SetSubscriptionState(ctx, &updated, account.Version)
	})
}

// VerifyLedger replays the tenant's full ledger and compares the per-pool
// sums against the account snapshot.
func (s *creditService) VerifyLedger(ctx context.Context, tenantID uuid.UUID) (*LedgerAuditReport, error) {
	account, err := repositories.NewTenantAccountRepo(s.pool).GetByTenantID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	totals, err := repositories.NewLedgerEntryRepo(s.pool).SumByPool(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &LedgerAuditReport{
		TenantID:             tenantID,
		SnapshotSubscription: account.SubscriptionCredits,
		SnapshotTopOff:       account.TopOffCredits,
		ReplayedSubscription: totals.Subscription,
		ReplayedTopOff:       totals.TopOff,
	}, nil
}

// SuspendExpiredTrials moves trial accounts past their trial window to
// suspended. Returns how many accounts were changed.
func (s *creditService) SuspendExpiredTrials(ctx context.Context) (int, error) {
	accounts := repositories.NewTenantAccountRepo(s.pool)
	expired, err := accounts.ListExpiredTrials(ctx)
	if err != nil {
		return 0, err
	}

	suspended := 0
	for _, account := range expired {
		updated := *account
		updated.Status = models.StatusSuspended
		err := accounts.SetSubscriptionState(ctx, &updated, account.Version)
		if errors.Is(err, repositories.ErrConcurrentModification) {
			// Raced with another writer, likely a checkout. Skip.
			continue
		}
		if err != nil {
			return suspended, err
		}
		s.invalidate(ctx, account.TenantID)
		suspended++
	}
	return suspended, nil
}

// mutate runs fn against a freshly-read account inside a transaction, retrying
// a bounded number of times when the optimistic version check fails. The
// processed-event stamp, balance update and ledger append all commit together
// or not at all.
func (s *creditService) mutate(ctx context.Context, tenantID uuid.UUID, stamp *EventStamp, fn func(tx pgx.Tx, account *models.TenantAccount) error) error {
	var err error
	for attempt := 0; attempt < maxApplyRetries; attempt++ {
		err = s.runInTx(ctx, func(tx pgx.Tx) error {
			account, err := repositories.NewTenantAccountRepo(tx).GetByTenantID(ctx, tenantID)
			if err != nil {
				return err
			}
			if stamp != nil {
				processed := &models.ProcessedEvent{
					EventID:   stamp.EventID,
					EventType: stamp.EventType,
					TenantID:  &tenantID,
				}
				if err := repositories.NewProcessedEventRepo(tx).Record(ctx, processed); err != nil {
					return err
				}
			}
			return fn(tx, account)
		})
		if errors.Is(err, repositories.ErrConcurrentModification) {
			continue
		}
		break
	}
	if err == nil {
		s.invalidate(ctx, tenantID)
	}
	return err
}

func (s *creditService) runInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *creditService) invalidate(ctx context.Context, tenantID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTenant(ctx, tenantID); err != nil {
		log.Printf("WARN: failed to invalidate balance cache for tenant %s: %v", tenantID, err)
	}
}
