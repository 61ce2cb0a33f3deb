package repositories

import (
	"context"
	"errors"
	"time"

	"newsroomledger/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const ledgerEntryColumns = `id, tenant_id, type, credit_pool, amount, subscription_balance_after, topoff_balance_after, feature, description, external_event_ref, billing_cycle_id, created_at`

// PoolTotals is the per-pool sum of signed ledger amounts for one tenant.
// Replaying the full log must reproduce the account snapshot exactly.
type PoolTotals struct {
	Subscription int64
	TopOff       int64
}

type LedgerEntryRepository interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	ListForTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, error)
	ListForTenantSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*models.LedgerEntry, error)
	FindByExternalEventRef(ctx context.Context, ref string) (*models.LedgerEntry, error)
	SumByPool(ctx context.Context, tenantID uuid.UUID) (PoolTotals, error)
}

type ledgerEntryRepo struct {
	db DB
}

func NewLedgerEntryRepo(db DB) LedgerEntryRepository {
	return &ledgerEntryRepo{db: db}
}

// Append inserts one immutable entry. Entries are never updated or deleted.
func (r *ledgerEntryRepo) Append(ctx context.Context, entry *models.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, tenant_id, type, credit_pool, amount, subscription_balance_after, topoff_balance_after, feature, description, external_event_ref, billing_cycle_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.TenantID, entry.Type, entry.CreditPool, entry.Amount,
		entry.SubscriptionBalanceAfter, entry.TopOffBalanceAfter,
		entry.Feature, entry.Description, entry.ExternalEventRef, entry.BillingCycleID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// The unique index on external_event_ref caught a replayed event.
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// ListForTenant pages newest first. seq orders entries that share a
// created_at, such as an expiry and grant written in one transaction.
func (r *ledgerEntryRepo) ListForTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerEntryColumns + `
		FROM ledger_entries
		WHERE tenant_id = $1
		ORDER BY seq DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (r *ledgerEntryRepo) ListForTenantSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]*models.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerEntryColumns + `
		FROM ledger_entries
		WHERE tenant_id = $1 AND created_at >= $2
		ORDER BY seq DESC
	`
	rows, err := r.db.Query(ctx, query, tenantID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// FindByExternalEventRef returns nil, nil when the ref is unknown.
func (r *ledgerEntryRepo) FindByExternalEventRef(ctx context.Context, ref string) (*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerEntryColumns + ` FROM ledger_entries WHERE external_event_ref = $1`
	entry := &models.LedgerEntry{}
	err := scanEntry(r.db.QueryRow(ctx, query, ref), entry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *ledgerEntryRepo) SumByPool(ctx context.Context, tenantID uuid.UUID) (PoolTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE credit_pool = $2), 0),
			COALESCE(SUM(amount) FILTER (WHERE credit_pool = $3), 0)
		FROM ledger_entries
		WHERE tenant_id = $1
	`
	var totals PoolTotals
	err := r.db.QueryRow(ctx, query, tenantID, models.PoolSubscription, models.PoolTopOff).
		Scan(&totals.Subscription, &totals.TopOff)
	return totals, err
}

func scanEntries(rows pgx.Rows) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	for rows.Next() {
		entry := &models.LedgerEntry{}
		if err := scanEntry(rows, entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row, entry *models.LedgerEntry) error {
	return row.Scan(
		&entry.ID, &entry.TenantID, &entry.Type, &entry.CreditPool, &entry.Amount,
		&entry.SubscriptionBalanceAfter, &entry.TopOffBalanceAfter,
		&entry.Feature, &entry.Description, &entry.ExternalEventRef, &entry.BillingCycleID,
		&entry.CreatedAt)
}
