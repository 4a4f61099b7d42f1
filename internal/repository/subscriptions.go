package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/entitlements/pkg/pg"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

const subscriptionColumns = `id, user_id, plan, status, is_active, cancelation_type, start_date, end_date,
	external_payment_ref, version, last_event_id, last_event_at, superseded_at, created_at, updated_at`

// SubscriptionRepository is the PostgreSQL subscription.Store. Each user has at
// most one current row (superseded_at IS NULL), enforced by a partial unique index.
type SubscriptionRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

var (
	_ subscription.Store         = (*SubscriptionRepository)(nil)
	_ subscription.HistoryReader = (*SubscriptionRepository)(nil)
)

// NewSubscriptionRepository creates a repository over pool.
func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	if pool == nil {
		panic("repository: nil pool")
	}
	return &SubscriptionRepository{db: pool, now: time.Now}
}

func (r *SubscriptionRepository) Get(ctx context.Context, userID string) (*subscription.Record, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 AND superseded_at IS NULL`,
		userID))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return rec, nil
}

// Put writes rec if the user's current version equals expectedVersion. The
// current row is locked for the duration of the check; a concurrent first
// insert loses on the unique index and reports a version conflict.
func (r *SubscriptionRepository) Put(ctx context.Context, rec *subscription.Record, expectedVersion int64) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	var version int64
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var (
			curID      uuid.UUID
			curVersion int64
			exists     = true
		)
		err := tx.QueryRow(ctx,
			`SELECT id, version FROM subscriptions WHERE user_id = $1 AND superseded_at IS NULL FOR UPDATE`,
			rec.UserID).Scan(&curID, &curVersion)
		switch {
		case pg.IsNotFoundError(err):
			exists = false
		case err != nil:
			return fmt.Errorf("lock current subscription: %w", err)
		}
		if curVersion != expectedVersion {
			return subscription.ErrVersionConflict
		}

		now := r.now()
		if exists && curID == rec.ID {
			err = tx.QueryRow(ctx, `
				UPDATE subscriptions SET
					plan = $2, status = $3, is_active = $4, cancelation_type = $5, start_date = $6,
					end_date = $7, external_payment_ref = $8, last_event_id = $9, last_event_at = $10,
					version = version + 1, updated_at = $11
				WHERE id = $1
				RETURNING version`,
				rec.ID, rec.Plan, rec.Status, rec.IsActive, nullable(string(rec.CancelationType)), rec.StartDate,
				rec.EndDate, rec.ExternalPaymentRef, rec.LastEventID, rec.LastEventAt, now,
			).Scan(&version)
			if err != nil {
				return fmt.Errorf("update subscription: %w", err)
			}
			return nil
		}

		if exists {
			if _, err := tx.Exec(ctx,
				`UPDATE subscriptions SET superseded_at = $2, updated_at = $2 WHERE id = $1`,
				curID, now); err != nil {
				return fmt.Errorf("supersede subscription: %w", err)
			}
		}

		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		version = 1
		if _, err := tx.Exec(ctx, `
			INSERT INTO subscriptions (`+subscriptionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULL, $13, $14)`,
			rec.ID, rec.UserID, rec.Plan, rec.Status, rec.IsActive, nullable(string(rec.CancelationType)),
			rec.StartDate, rec.EndDate, rec.ExternalPaymentRef, version, rec.LastEventID, rec.LastEventAt,
			createdAt, now,
		); err != nil {
			if pg.IsDuplicateKeyError(err) {
				return subscription.ErrVersionConflict
			}
			return fmt.Errorf("insert subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	rec.Version = version
	rec.SupersededAt = nil
	return nil
}

func (r *SubscriptionRepository) FindByExternalRef(ctx context.Context, ref string) (*subscription.Record, error) {
	if ref == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	rec, err := scanRecord(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE external_payment_ref = $1 AND superseded_at IS NULL
		LIMIT 1`,
		ref))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("find subscription by external ref: %w", err)
	}
	return rec, nil
}

// ListDueForExpiry returns pending cancellations whose end date is not after
// now, earliest first.
func (r *SubscriptionRepository) ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*subscription.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE superseded_at IS NULL
			AND status = 'canceled' AND is_active AND cancelation_type = 'end_of_period'
			AND end_date <= $1
		ORDER BY end_date
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions due for expiry: %w", err)
	}
	return collectRecords(rows)
}

// History lists the current lineage first, then superseded ones newest first.
func (r *SubscriptionRepository) History(ctx context.Context, userID string) ([]*subscription.Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1
		ORDER BY superseded_at DESC NULLS FIRST`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list subscription history: %w", err)
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]*subscription.Record, error) {
	defer rows.Close()

	var out []*subscription.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*subscription.Record, error) {
	var (
		rec    subscription.Record
		cancel *string
	)
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.Plan, &rec.Status, &rec.IsActive, &cancel, &rec.StartDate, &rec.EndDate,
		&rec.ExternalPaymentRef, &rec.Version, &rec.LastEventID, &rec.LastEventAt, &rec.SupersededAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if cancel != nil {
		rec.CancelationType = subscription.CancelationType(*cancel)
	}
	return &rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

