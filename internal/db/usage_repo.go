package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"modelpass/internal/types"
)

const usageColumns = `id, user_id, api_calls, storage_used, last_active, created_at, updated_at`

// UsageRepo provides data access for the usage_stats table.
type UsageRepo struct {
	db DBTX
}

// NewUsageRepo creates a UsageRepo.
func NewUsageRepo(db DBTX) *UsageRepo {
	return &UsageRepo{db: db}
}

// GetByUserID returns the user's counters, or nil when no usage was recorded.
func (r *UsageRepo) GetByUserID(ctx context.Context, userID string) (*types.UsageStats, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+usageColumns+` FROM usage_stats WHERE user_id = $1`,
		userID,
	)
	stats, err := scanUsage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load usage stats", err)
	}
	return stats, nil
}

// TryAddAPICalls adds delta API calls unless the total would exceed limit.
func (r *UsageRepo) TryAddAPICalls(ctx context.Context, userID string, delta, limit int64) (*types.UsageStats, bool, error) {
	return r.tryAdd(ctx, "api_calls", userID, delta, limit)
}

// TryAddStorage adds delta bytes of storage unless the total would exceed
// limit.
func (r *UsageRepo) TryAddStorage(ctx context.Context, userID string, delta, limit int64) (*types.UsageStats, bool, error) {
	return r.tryAdd(ctx, "storage_used", userID, delta, limit)
}

// tryAdd is a single upsert guarded by the limit on both the insert and the
// update path; no row comes back when the guard rejects the write. column is
// always one of the two fixed counter names above.
func (r *UsageRepo) tryAdd(ctx context.Context, column, userID string, delta, limit int64) (*types.UsageStats, bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO usage_stats (user_id, %[1]s, last_active)
		SELECT $1::uuid, $2::bigint, now()
		WHERE $2::bigint <= $3::bigint
		ON CONFLICT (user_id) DO UPDATE
		SET %[1]s = usage_stats.%[1]s + EXCLUDED.%[1]s,
		    last_active = now(),
		    updated_at = now()
		WHERE EXCLUDED.%[1]s <= $3::bigint - usage_stats.%[1]s
		RETURNING %[2]s`, column, usageColumns)

	stats, err := scanUsage(r.db.QueryRow(ctx, query, userID, delta, limit))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to record usage", err)
	}
	return stats, true, nil
}

func scanUsage(row pgx.Row) (*types.UsageStats, error) {
	var u types.UsageStats
	if err := row.Scan(
		&u.ID,
		&u.UserID,
		&u.APICalls,
		&u.StorageUsed,
		&u.LastActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}
