package repositories

import (
	"context"
	"errors"

	"newsroomledger/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const tenantAccountColumns = `tenant_id, plan, subscription_credits, topoff_credits, status, billing_cycle_start, next_billing_date, trial_ends_at, external_customer_ref, external_subscription_ref, version, created_at, updated_at`

type TenantAccountRepository interface {
	Create(ctx context.Context, account *models.TenantAccount) (bool, error)
	GetByTenantID(ctx context.Context, tenantID uuid.UUID) (*models.TenantAccount, error)
	GetBySubscriptionRef(ctx context.Context, subscriptionRef string) (*models.TenantAccount, error)
	ApplyDelta(ctx context.Context, tenantID uuid.UUID, subscriptionDelta, topOffDelta, expectedVersion int64) (*models.TenantAccount, error)
	SetSubscriptionState(ctx context.Context, account *models.TenantAccount, expectedVersion int64) error
	ListTenantIDs(ctx context.Context) ([]uuid.UUID, error)
	ListExpiredTrials(ctx context.Context) ([]*models.TenantAccount, error)
}

type tenantAccountRepo struct {
	db DB
}

func NewTenantAccountRepo(db DB) TenantAccountRepository {
	return &tenantAccountRepo{db: db}
}

// Create inserts the account if the tenant is not known yet. Returns true
// when a row was inserted, false when the tenant already existed.
func (r *tenantAccountRepo) Create(ctx context.Context, account *models.TenantAccount) (bool, error) {
	query := `
		INSERT INTO tenant_accounts (tenant_id, plan, subscription_credits, topoff_credits, status, billing_cycle_start, next_billing_date, trial_ends_at, external_customer_ref, external_subscription_ref, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, NOW(), NOW())
		ON CONFLICT (tenant_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		account.TenantID, account.Plan, account.SubscriptionCredits, account.TopOffCredits,
		account.Status, account.BillingCycleStart, account.NextBillingDate, account.TrialEndsAt,
		account.ExternalCustomerRef, account.ExternalSubRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *tenantAccountRepo) GetByTenantID(ctx context.Context, tenantID uuid.UUID) (*models.TenantAccount, error) {
	query := `SELECT ` + tenantAccountColumns + ` FROM tenant_accounts WHERE tenant_id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, tenantID))
}

func (r *tenantAccountRepo) GetBySubscriptionRef(ctx context.Context, subscriptionRef string) (*models.TenantAccount, error) {
	query := `SELECT ` + tenantAccountColumns + ` FROM tenant_accounts WHERE external_subscription_ref = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, subscriptionRef))
}

// ApplyDelta adjusts both pools in one conditional update. The version guard
// makes it safe under concurrent writers; the non-negative guards keep a
// miscomputed debit from ever committing.
func (r *tenantAccountRepo) ApplyDelta(ctx context.Context, tenantID uuid.UUID, subscriptionDelta, topOffDelta, expectedVersion int64) (*models.TenantAccount, error) {
	query := `
		UPDATE tenant_accounts
		SET subscription_credits = subscription_credits + $1,
		    topoff_credits = topoff_credits + $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE tenant_id = $3 AND version = $4
		  AND subscription_credits + $1 >= 0
		  AND topoff_credits + $2 >= 0
		RETURNING ` + tenantAccountColumns
	account, err := r.scanOne(r.db.QueryRow(ctx, query, subscriptionDelta, topOffDelta, tenantID, expectedVersion))
	if errors.Is(err, ErrAccountNotFound) {
		// Version mismatch, vanished row, or a pool that would go negative.
		// The caller re-reads to tell those apart.
		return nil, ErrConcurrentModification
	}
	return account, err
}

// SetSubscriptionState writes plan, balances, status, billing dates and
// provider refs in one guarded update. Used by the subscription lifecycle
// transitions (checkout, renewal, cancellation).
func (r *tenantAccountRepo) SetSubscriptionState(ctx context.Context, account *models.TenantAccount, expectedVersion int64) error {
	query := `
		UPDATE tenant_accounts
		SET plan = $1,
		    subscription_credits = $2,
		    topoff_credits = $3,
		    status = $4,
		    billing_cycle_start = $5,
		    next_billing_date = $6,
		    external_customer_ref = $7,
		    external_subscription_ref = $8,
		    version = version + 1,
		    updated_at = NOW()
		WHERE tenant_id = $9 AND version = $10
	`
	tag, err := r.db.Exec(ctx, query,
		account.Plan, account.SubscriptionCredits, account.TopOffCredits, account.Status,
		account.BillingCycleStart, account.NextBillingDate,
		account.ExternalCustomerRef, account.ExternalSubRef,
		account.TenantID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (r *tenantAccountRepo) ListTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT tenant_id FROM tenant_accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *tenantAccountRepo) ListExpiredTrials(ctx context.Context) ([]*models.TenantAccount, error) {
	query := `
		SELECT ` + tenantAccountColumns + `
		FROM tenant_accounts
		WHERE status = $1 AND trial_ends_at IS NOT NULL AND trial_ends_at < NOW()
		ORDER BY trial_ends_at
	`
	rows, err := r.db.Query(ctx, query, models.StatusTrial)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.TenantAccount
	for rows.Next() {
		account := &models.TenantAccount{}
		if err := scanAccount(rows, account); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (r *tenantAccountRepo) scanOne(row pgx.Row) (*models.TenantAccount, error) {
	account := &models.TenantAccount{}
	if err := scanAccount(row, account); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func scanAccount(row pgx.Row, account *models.TenantAccount) error {
	return row.Scan(
		&account.TenantID, &account.Plan, &account.SubscriptionCredits, &account.TopOffCredits,
		&account.Status, &account.BillingCycleStart, &account.NextBillingDate, &account.TrialEndsAt,
		&account.ExternalCustomerRef, &account.ExternalSubRef,
		&account.Version, &account.CreatedAt, &account.UpdatedAt)
}
