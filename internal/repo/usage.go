package repo

import (
	"context"

	"seohub/internal/domain"
)

// Scope kinds for usage counters.
const (
	ScopeDealership = "dealership"
	ScopeUser       = "user"
)

// IncrementUsage upserts a monthly usage tally. This runs outside the request
// transaction; it is a separate consistency domain and callers treat failures
// as best-effort.
func (r Repo) IncrementUsage(ctx context.Context, scopeKind, scopeID, usageKey, period string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO usage_counters(scope_kind,scope_id,usage_key,period,count) VALUES (?,?,?,?,1)
ON CONFLICT(scope_kind,scope_id,usage_key,period) DO UPDATE SET count=count+1`,
		scopeKind, scopeID, usageKey, period)
	return err
}

func (r Repo) ListUsage(ctx context.Context, scopeKind, scopeID, period string) ([]domain.UsageCounter, error) {
	query := `SELECT scope_kind,scope_id,usage_key,period,count FROM usage_counters WHERE scope_kind=? AND scope_id=?`
	args := []any{scopeKind, scopeID}
	if period != "" {
		query += ` AND period=?`
		args = append(args, period)
	}
	query += ` ORDER BY period DESC, usage_key ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UsageCounter
	for rows.Next() {
		var c domain.UsageCounter
		if err := rows.Scan(&c.ScopeKind, &c.ScopeID, &c.UsageKey, &c.Period, &c.Count); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
