package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/domain"
)

// Postgres reads records from the JSONB-backed records table. Field values
// live in a properties jsonb column and are cast per catalog type; hierarchy
// queries use the ltree path column.
type Postgres struct {
	pool    *pgxpool.Pool
	catalog catalog.Catalog
}

// NewPostgres builds a Postgres-backed store.
func NewPostgres(pool *pgxpool.Pool, cat catalog.Catalog) *Postgres {
	return &Postgres{pool: pool, catalog: cat}
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// builder accumulates a WHERE clause with numbered placeholder args.
type builder struct {
	args []any
}

func (b *builder) bind(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

// fieldExpr renders the SQL expression for a directly owned field of the
// aliased records row, cast per catalog type.
func (s *Postgres) fieldExpr(alias, entity, field string) (string, domain.FieldMetadata, error) {
	meta, ok := s.catalog.ResolveField(entity, field)
	if !ok {
		return "", domain.FieldMetadata{}, fmt.Errorf("%w: field %s not found on %s", domain.ErrUnknownEntityOrField, field, entity)
	}
	if field == "id" {
		return alias + ".id::text", meta, nil
	}
	raw := fmt.Sprintf("%s.properties->>%s", alias, quoteLiteral(field))
	switch meta.Type {
	case domain.FieldTypeInteger, domain.FieldTypeFloat:
		return "(" + raw + ")::numeric", meta, nil
	case domain.FieldTypeBoolean:
		return "(" + raw + ")::boolean", meta, nil
	case domain.FieldTypeDate, domain.FieldTypeDatetime:
		return "(" + raw + ")::timestamptz", meta, nil
	default:
		return raw, meta, nil
	}
}

// filterSQL renders the parsed filter tree as a WHERE fragment for the given
// row alias. Dotted predicate paths become nested IN subqueries, one per
// relation hop, each re-scoped to the caller's organization.
func (s *Postgres) filterSQL(b *builder, node *filterNode, alias, entity string, orgID uuid.UUID, depth int) (string, error) {
	if node == nil {
		return "TRUE", nil
	}
	if node.isLeaf() {
		return s.predicateSQL(b, node.pred, alias, entity, orgID, depth)
	}
	parts := make([]string, 0, len(node.children))
	for _, child := range node.children {
		sql, err := s.filterSQL(b, child, alias, entity, orgID, depth)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	switch node.connective {
	case domain.ConnectiveAnd:
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case domain.ConnectiveOr:
		return "(" + strings.Join(parts, " OR ") + ")", nil
	case domain.ConnectiveNot:
		return "NOT (" + parts[0] + ")", nil
	default:
		return "", fmt.Errorf("%w: unknown filter connective %q", domain.ErrMalformedPlan, node.connective)
	}
}

func (s *Postgres) predicateSQL(b *builder, pred *domain.Predicate, alias, entity string, orgID uuid.UUID, depth int) (string, error) {
	head, rest, _ := strings.Cut(pred.Field, ".")

	if rest != "" {
		meta, ok := s.catalog.ResolveField(entity, head)
		if !ok || meta.Type != domain.FieldTypeRelation || meta.RelationTarget == "" {
			return "", fmt.Errorf("%w: cannot traverse %s on %s", domain.ErrDisallowedOperation, pred.Field, entity)
		}
		inner := fmt.Sprintf("r%d", depth+1)
		innerPred := &domain.Predicate{Field: rest, Operator: pred.Operator, Value: pred.Value}
		innerSQL, err := s.predicateSQL(b, innerPred, inner, meta.RelationTarget, orgID, depth+1)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"%s.properties->>%s IN (SELECT %s.id::text FROM records %s WHERE %s.entity_type = %s AND %s.organization_id = %s AND %s)",
			alias, quoteLiteral(head),
			inner, inner,
			inner, b.bind(meta.RelationTarget),
			inner, b.bind(orgID),
			innerSQL,
		), nil
	}

	switch pred.Operator {
	case domain.OpChildOf:
		return fmt.Sprintf(
			"%s.path <@ (SELECT path FROM records WHERE id = %s::uuid AND organization_id = %s)",
			alias, b.bind(fmt.Sprint(pred.Value)), b.bind(orgID),
		), nil
	case domain.OpParentOf:
		return fmt.Sprintf(
			"%s.path @> (SELECT path FROM records WHERE id = %s::uuid AND organization_id = %s)",
			alias, b.bind(fmt.Sprint(pred.Value)), b.bind(orgID),
		), nil
	}

	expr, _, err := s.fieldExpr(alias, entity, head)
	if err != nil {
		return "", err
	}

	switch pred.Operator {
	case domain.OpEq:
		if pred.Value == nil {
			return expr + " IS NULL", nil
		}
		return fmt.Sprintf("%s = %s", expr, b.bind(pred.Value)), nil
	case domain.OpNeq:
		return fmt.Sprintf("%s IS DISTINCT FROM %s", expr, b.bind(pred.Value)), nil
	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		return fmt.Sprintf("%s %s %s", expr, pred.Operator, b.bind(pred.Value)), nil
	case domain.OpLike:
		return fmt.Sprintf("%s LIKE '%%' || %s || '%%'", expr, b.bind(fmt.Sprint(pred.Value))), nil
	case domain.OpNotLike:
		return fmt.Sprintf("%s NOT LIKE '%%' || %s || '%%'", expr, b.bind(fmt.Sprint(pred.Value))), nil
	case domain.OpILike:
		return fmt.Sprintf("%s ILIKE '%%' || %s || '%%'", expr, b.bind(fmt.Sprint(pred.Value))), nil
	case domain.OpNotILike:
		return fmt.Sprintf("%s NOT ILIKE '%%' || %s || '%%'", expr, b.bind(fmt.Sprint(pred.Value))), nil
	case domain.OpEqLike:
		return fmt.Sprintf("%s LIKE %s", expr, b.bind(fmt.Sprint(pred.Value))), nil
	case domain.OpEqILike:
		return fmt.Sprintf("%s ILIKE %s", expr, b.bind(fmt.Sprint(pred.Value))), nil
	case domain.OpIn, domain.OpNotIn:
		values, ok := pred.Value.([]any)
		if !ok {
			return "", fmt.Errorf("%w: %s requires a list value for %s", domain.ErrMalformedPlan, pred.Operator, pred.Field)
		}
		if len(values) == 0 {
			if pred.Operator == domain.OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = b.bind(v)
		}
		clause := fmt.Sprintf("%s IN (%s)", expr, strings.Join(placeholders, ", "))
		if pred.Operator == domain.OpNotIn {
			clause = "NOT (" + clause + ")"
		}
		return clause, nil
	default:
		return "", fmt.Errorf("%w: filter operator %q", domain.ErrDisallowedOperation, pred.Operator)
	}
}

// whereSQL renders the full scoped WHERE clause for a plan.
func (s *Postgres) whereSQL(b *builder, id auth.Identity, plan domain.QueryPlan) (string, error) {
	tree, err := parseFilterTree(plan.Filter)
	if err != nil {
		return "", err
	}
	filter, err := s.filterSQL(b, tree, "r", plan.TargetEntity, id.OrganizationID, 0)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"r.entity_type = %s AND r.organization_id = %s AND %s",
		b.bind(plan.TargetEntity), b.bind(id.OrganizationID), filter,
	), nil
}

func (s *Postgres) orderSQL(entity string, terms []domain.OrderTerm) (string, error) {
	if len(terms) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		head, _, _ := strings.Cut(term.Field, ".")
		expr, _, err := s.fieldExpr("r", entity, head)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if strings.EqualFold(term.Direction, "desc") {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s NULLS LAST", expr, dir))
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// Count implements Store.
func (s *Postgres) Count(ctx context.Context, id auth.Identity, plan domain.QueryPlan) (int64, error) {
	b := &builder{}
	where, err := s.whereSQL(b, id, plan)
	if err != nil {
		return 0, err
	}
	var count int64
	query := "SELECT count(*) FROM records r WHERE " + where
	if err := s.pool.QueryRow(ctx, query, b.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count records: %v", domain.ErrExecutionFailure, err)
	}
	return count, nil
}

// List implements Store.
func (s *Postgres) List(ctx context.Context, id auth.Identity, plan domain.QueryPlan) ([]domain.Record, error) {
	b := &builder{}
	where, err := s.whereSQL(b, id, plan)
	if err != nil {
		return nil, err
	}
	order, err := s.orderSQL(plan.TargetEntity, plan.OrderBy)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT r.id, r.path::text, r.properties FROM records r WHERE %s%s LIMIT %s OFFSET %s",
		where, order, b.bind(plan.Pagination.Limit), b.bind(plan.Pagination.Offset),
	)
	rows, err := s.pool.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %v", domain.ErrExecutionFailure, err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		var (
			record     domain.Record
			properties []byte
		)
		if err := rows.Scan(&record.ID, &record.Path, &properties); err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", domain.ErrExecutionFailure, err)
		}
		if len(properties) > 0 {
			if err := json.Unmarshal(properties, &record.Values); err != nil {
				return nil, fmt.Errorf("%w: decode record %s: %v", domain.ErrExecutionFailure, record.ID, err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list records: %v", domain.ErrExecutionFailure, err)
	}
	return records, nil
}

// Aggregate implements Store.
func (s *Postgres) Aggregate(ctx context.Context, id auth.Identity, plan domain.QueryPlan) ([]map[string]any, error) {
	b := &builder{}
	where, err := s.whereSQL(b, id, plan)
	if err != nil {
		return nil, err
	}

	selects := make([]string, 0, len(plan.GroupBy)+len(plan.Aggregations))
	keys := make([]string, 0, cap(selects))
	groups := make([]string, 0, len(plan.GroupBy))

	for _, group := range plan.GroupBy {
		head, _, _ := strings.Cut(group.Field, ".")
		expr, _, err := s.fieldExpr("r", plan.TargetEntity, head)
		if err != nil {
			return nil, err
		}
		if group.Granularity != "" {
			expr = fmt.Sprintf("date_trunc(%s, %s)", quoteLiteral(string(group.Granularity)), expr)
		}
		selects = append(selects, expr)
		groups = append(groups, expr)
		keys = append(keys, group.Field)
	}
	for _, agg := range plan.Aggregations {
		expr, err := s.aggregateExpr(plan.TargetEntity, agg)
		if err != nil {
			return nil, err
		}
		selects = append(selects, expr)
		keys = append(keys, AggregateKey(agg.Field, agg.Operator))
	}
	if len(selects) == 0 {
		return nil, fmt.Errorf("%w: aggregate plan has nothing to compute", domain.ErrMalformedPlan)
	}

	query := fmt.Sprintf("SELECT %s FROM records r WHERE %s", strings.Join(selects, ", "), where)
	if len(groups) > 0 {
		query += " GROUP BY " + strings.Join(groups, ", ") + " ORDER BY " + strings.Join(groups, ", ")
	}

	rows, err := s.pool.Query(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("%w: aggregate records: %v", domain.ErrExecutionFailure, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(keys))
		targets := make([]any, len(keys))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("%w: scan aggregate row: %v", domain.ErrExecutionFailure, err)
		}
		row := make(map[string]any, len(keys))
		for i, key := range keys {
			row[key] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: aggregate records: %v", domain.ErrExecutionFailure, err)
	}
	return out, nil
}

func (s *Postgres) aggregateExpr(entity string, agg domain.AggregationDescriptor) (string, error) {
	if agg.Operator == domain.AggregateCount {
		return "count(*)::bigint", nil
	}
	head, _, _ := strings.Cut(agg.Field, ".")
	expr, meta, err := s.fieldExpr("r", entity, head)
	if err != nil {
		return "", err
	}
	switch agg.Operator {
	case domain.AggregateCountDistinct:
		return fmt.Sprintf("count(DISTINCT %s)::bigint", expr), nil
	case domain.AggregateSum, domain.AggregateAvg:
		return fmt.Sprintf("%s(%s)::float8", agg.Operator, expr), nil
	case domain.AggregateMin, domain.AggregateMax:
		if meta.Type.IsNumeric() {
			return fmt.Sprintf("%s(%s)::float8", agg.Operator, expr), nil
		}
		return fmt.Sprintf("%s(%s)", agg.Operator, expr), nil
	default:
		return "", fmt.Errorf("%w: aggregation operator %q", domain.ErrDisallowedOperation, agg.Operator)
	}
}

// Get implements Store.
func (s *Postgres) Get(ctx context.Context, id auth.Identity, entity string, ids []uuid.UUID) (map[uuid.UUID]domain.Record, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]domain.Record{}, nil
	}
	rows, err := s.pool.Query(ctx,
		"SELECT r.id, r.path::text, r.properties FROM records r WHERE r.entity_type = $1 AND r.organization_id = $2 AND r.id = ANY($3)",
		entity, id.OrganizationID, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: get records: %v", domain.ErrExecutionFailure, err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]domain.Record, len(ids))
	for rows.Next() {
		var (
			record     domain.Record
			properties []byte
		)
		if err := rows.Scan(&record.ID, &record.Path, &properties); err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", domain.ErrExecutionFailure, err)
		}
		if len(properties) > 0 {
			if err := json.Unmarshal(properties, &record.Values); err != nil {
				return nil, fmt.Errorf("%w: decode record %s: %v", domain.ErrExecutionFailure, record.ID, err)
			}
		}
		out[record.ID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: get records: %v", domain.ErrExecutionFailure, err)
	}
	return out, nil
}
