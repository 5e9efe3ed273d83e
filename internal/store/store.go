// Package store reads records on behalf of validated query plans. Two
// backends share one contract: the Postgres JSONB backend used in production
// and an in-memory backend used by tests and local development. Both scope
// every read to the caller's organization; there is no unscoped read path.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/domain"
)

// Aggregate row keys. Group keys are keyed by the group field name (not the
// alias); the executor maps raw keys onto plan aliases.
const CountKey = "__count"

// AggregateKey returns the raw result key for an aggregation over a field.
// A plain count collapses to CountKey since it counts rows, not a field.
func AggregateKey(field string, op domain.AggregateOp) string {
	if op == domain.AggregateCount {
		return CountKey
	}
	return field + ":" + string(op)
}

// Store is the read contract the executor runs plans against. Pagination,
// ordering and filtering are pushed down; relation path traversal beyond the
// first segment is not, the executor resolves hops itself.
type Store interface {
	// Count returns the number of records matching the plan's filter.
	Count(ctx context.Context, id auth.Identity, plan domain.QueryPlan) (int64, error)

	// List returns the plan's page of matching records, ordered per the plan.
	List(ctx context.Context, id auth.Identity, plan domain.QueryPlan) ([]domain.Record, error)

	// Aggregate evaluates the plan's aggregations, grouped by its group_by
	// keys. Result rows use raw keys: the group field name for group keys and
	// AggregateKey(field, op) for aggregate values.
	Aggregate(ctx context.Context, id auth.Identity, plan domain.QueryPlan) ([]map[string]any, error)

	// Get fetches records of one entity by id, for relation hop resolution.
	// Missing ids are absent from the result, not an error.
	Get(ctx context.Context, id auth.Identity, entity string, ids []uuid.UUID) (map[uuid.UUID]domain.Record, error)
}
