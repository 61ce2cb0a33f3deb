package repositories

import (
	"context"
	"errors"

	"newsroomledger/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres unique_violation.
const pgUniqueViolation = "23505"

type ProcessedEventRepository interface {
	Record(ctx context.Context, event *models.ProcessedEvent) error
	Exists(ctx context.Context, eventID string) (bool, error)
}

type processedEventRepo struct {
	db DB
}

func NewProcessedEventRepo(db DB) ProcessedEventRepository {
	return &processedEventRepo{db: db}
}

// Record marks an event as applied. Returns ErrDuplicateEvent when the event
// id was already recorded; the unique index makes this safe even when two
// deliveries of the same event race past the Exists check.
func (r *processedEventRepo) Record(ctx context.Context, event *models.ProcessedEvent) error {
	query := `
		INSERT INTO processed_events (event_id, event_type, tenant_id, processed_at)
		VALUES ($1, $2, $3, NOW())
	`
	_, err := r.db.Exec(ctx, query, event.EventID, event.EventType, event.TenantID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

func (r *processedEventRepo) Exists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&exists)
	return exists, err
}
