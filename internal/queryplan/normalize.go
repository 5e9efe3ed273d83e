package queryplan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/domain"
)

// Pagination clamps applied during normalization.
const (
	DefaultPageLimit   = 100
	MaxPageLimit       = 1000
	MaxPageOffset      = 100000
	DefaultPreviewRows = 10
	MaxPreviewRows     = 100
)

// Normalizer turns a loosely typed input plan into a canonical QueryPlan:
// defaults filled, types coerced, unknown keys dropped. It rejects
// immediately only for an unsupported version, an unknown or unreadable
// target entity, or unresolvable projection/aggregation/group/order paths;
// everything else is left to the validator so rejection reasons accumulate.
type Normalizer struct {
	catalog  catalog.Catalog
	resolver *Resolver
	cursors  *CursorCodec
}

// NewNormalizer wires a normalizer. The cursor codec is needed because
// cursor-mode pagination is rewritten to the offset the token carries.
func NewNormalizer(cat catalog.Catalog, resolver *Resolver, cursors *CursorCodec) *Normalizer {
	return &Normalizer{catalog: cat, resolver: resolver, cursors: cursors}
}

// Normalize is a pure function of the input and catalog state; it performs
// no store access and has no side effects.
func (n *Normalizer) Normalize(id auth.Identity, raw map[string]any) (domain.QueryPlan, error) {
	if raw == nil {
		return domain.QueryPlan{}, fmt.Errorf("%w: query plan must be an object", domain.ErrMalformedPlan)
	}

	plan := domain.QueryPlan{
		Version:      strings.TrimSpace(asString(raw["version"], domain.SupportedPlanVersion)),
		TargetEntity: strings.TrimSpace(asString(raw["target_entity"], "")),
	}
	if plan.Version != domain.SupportedPlanVersion {
		return domain.QueryPlan{}, fmt.Errorf("%w: unsupported query plan version %q", domain.ErrMalformedPlan, plan.Version)
	}
	if plan.TargetEntity == "" || !n.catalog.EntityExists(plan.TargetEntity) {
		return domain.QueryPlan{}, fmt.Errorf("%w: invalid target entity %q", domain.ErrUnknownEntityOrField, plan.TargetEntity)
	}
	if !n.catalog.CanRead(id, plan.TargetEntity) {
		return domain.QueryPlan{}, fmt.Errorf("%w: no read access to entity %s", domain.ErrAccessDenied, plan.TargetEntity)
	}

	var err error
	if plan.Filter, err = normalizeFilter(raw["filter"]); err != nil {
		return domain.QueryPlan{}, err
	}
	if plan.Fields, err = n.normalizeFields(plan.TargetEntity, raw["fields"]); err != nil {
		return domain.QueryPlan{}, err
	}
	if plan.Aggregations, err = n.normalizeAggregations(plan.TargetEntity, raw["aggregations"]); err != nil {
		return domain.QueryPlan{}, err
	}
	if plan.GroupBy, err = n.normalizeGroupBy(plan.TargetEntity, raw["group_by"]); err != nil {
		return domain.QueryPlan{}, err
	}
	if plan.OrderBy, err = n.normalizeOrderBy(plan.TargetEntity, raw["order_by"]); err != nil {
		return domain.QueryPlan{}, err
	}
	if plan.Pagination, err = n.normalizePagination(raw["pagination"]); err != nil {
		return domain.QueryPlan{}, err
	}
	plan.Options = normalizeOptions(raw["options"])
	return plan, nil
}

func normalizeFilter(raw any) ([]domain.FilterTerm, error) {
	if raw == nil {
		return []domain.FilterTerm{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		if terms, isCanonical := raw.([]domain.FilterTerm); isCanonical {
			return append([]domain.FilterTerm{}, terms...), nil
		}
		return nil, fmt.Errorf("%w: filter must be an array", domain.ErrMalformedPlan)
	}
	out := make([]domain.FilterTerm, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, domain.ConnectiveTerm(domain.Connective(v)))
		case []any:
			if len(v) < 3 {
				return nil, fmt.Errorf("%w: filter term needs field, operator and value", domain.ErrMalformedPlan)
			}
			field, fOK := v[0].(string)
			op, oOK := v[1].(string)
			if !fOK || !oOK {
				return nil, fmt.Errorf("%w: filter term field and operator must be strings", domain.ErrMalformedPlan)
			}
			out = append(out, domain.PredicateTerm(field, domain.FilterOperator(op), v[2]))
		case domain.FilterTerm:
			out = append(out, v)
		default:
			return nil, fmt.Errorf("%w: filter term must be a string or an array", domain.ErrMalformedPlan)
		}
	}
	return out, nil
}

func (n *Normalizer) normalizeFields(entity string, raw any) ([]domain.FieldDescriptor, error) {
	items, err := asObjectList(raw, "fields")
	if err != nil {
		return nil, err
	}
	if len(items) > domain.MaxPlanFields {
		return nil, fmt.Errorf("%w: too many fields, max %d", domain.ErrMalformedPlan, domain.MaxPlanFields)
	}
	out := make([]domain.FieldDescriptor, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(asString(item["name"], ""))
		if name == "" {
			return nil, fmt.Errorf("%w: each field descriptor requires a name", domain.ErrMalformedPlan)
		}
		if _, err := n.resolver.Resolve(entity, name); err != nil {
			return nil, err
		}
		alias := strings.TrimSpace(asString(item["alias"], ""))
		if alias == "" {
			alias = strings.ReplaceAll(name, ".", "_")
		}
		out = append(out, domain.FieldDescriptor{
			Name:    name,
			Alias:   alias,
			Extract: asBool(item["extract"], false),
		})
	}
	return out, nil
}

func (n *Normalizer) normalizeAggregations(entity string, raw any) ([]domain.AggregationDescriptor, error) {
	items, err := asObjectList(raw, "aggregations")
	if err != nil {
		return nil, err
	}
	if len(items) > domain.MaxPlanAggregations {
		return nil, fmt.Errorf("%w: too many aggregations, max %d", domain.ErrMalformedPlan, domain.MaxPlanAggregations)
	}
	out := make([]domain.AggregationDescriptor, 0, len(items))
	for _, item := range items {
		field := strings.TrimSpace(asString(item["field"], ""))
		op := domain.AggregateOp(strings.TrimSpace(asString(item["operator"], "")))
		if field == "" {
			return nil, fmt.Errorf("%w: each aggregation requires a field", domain.ErrMalformedPlan)
		}
		if _, ok := domain.AllowedAggregateOps[op]; !ok {
			return nil, fmt.Errorf("%w: aggregation operator %q is not allowed", domain.ErrDisallowedOperation, op)
		}
		if _, err := n.resolver.Resolve(entity, field); err != nil {
			return nil, err
		}
		alias := strings.TrimSpace(asString(item["alias"], ""))
		if alias == "" {
			alias = fmt.Sprintf("%s_%s", strings.ReplaceAll(field, ".", "_"), op)
		}
		out = append(out, domain.AggregationDescriptor{Field: field, Operator: op, Alias: alias})
	}
	return out, nil
}

func (n *Normalizer) normalizeGroupBy(entity string, raw any) ([]domain.GroupByDescriptor, error) {
	items, err := asObjectList(raw, "group_by")
	if err != nil {
		return nil, err
	}
	if len(items) > domain.MaxPlanGroupBy {
		return nil, fmt.Errorf("%w: too many group_by fields, max %d", domain.ErrMalformedPlan, domain.MaxPlanGroupBy)
	}
	out := make([]domain.GroupByDescriptor, 0, len(items))
	for _, item := range items {
		field := strings.TrimSpace(asString(item["field"], ""))
		if field == "" {
			return nil, fmt.Errorf("%w: each group_by descriptor requires a field", domain.ErrMalformedPlan)
		}
		meta, err := n.resolver.Resolve(entity, field)
		if err != nil {
			return nil, err
		}
		granularity := domain.Granularity(strings.TrimSpace(asString(item["granularity"], "")))
		if granularity != "" {
			if _, ok := domain.AllowedGranularities[granularity]; !ok {
				return nil, fmt.Errorf("%w: unknown granularity %q", domain.ErrMalformedPlan, granularity)
			}
			if !meta.Type.IsTemporal() {
				return nil, fmt.Errorf("%w: granularity is only valid for date/datetime fields, %s is %s", domain.ErrDisallowedOperation, field, meta.Type)
			}
		}
		alias := strings.TrimSpace(asString(item["alias"], ""))
		if alias == "" {
			alias = strings.ReplaceAll(field, ".", "_")
		}
		out = append(out, domain.GroupByDescriptor{Field: field, Granularity: granularity, Alias: alias})
	}
	return out, nil
}

func (n *Normalizer) normalizeOrderBy(entity string, raw any) ([]domain.OrderTerm, error) {
	items, err := asObjectList(raw, "order_by")
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderTerm, 0, len(items))
	for _, item := range items {
		if len(out) >= domain.MaxPlanOrderBy {
			break
		}
		field := strings.TrimSpace(asString(item["field"], ""))
		if field == "" {
			continue
		}
		if _, err := n.resolver.Resolve(entity, field); err != nil {
			return nil, err
		}
		direction := "asc"
		if strings.EqualFold(asString(item["direction"], ""), "desc") {
			direction = "desc"
		}
		out = append(out, domain.OrderTerm{Field: field, Direction: direction})
	}
	return out, nil
}

func (n *Normalizer) normalizePagination(raw any) (domain.PaginationState, error) {
	input := asMap(raw)
	mode := domain.PaginationMode(asString(input["mode"], string(domain.PaginationModeOffset)))
	if mode != domain.PaginationModeOffset && mode != domain.PaginationModeCursor {
		return domain.PaginationState{}, fmt.Errorf("%w: pagination.mode must be offset or cursor", domain.ErrMalformedPlan)
	}
	limit := clamp(asInt(input["limit"], DefaultPageLimit), 1, MaxPageLimit)
	offset := clamp(asInt(input["offset"], 0), 0, MaxPageOffset)
	cursor := strings.TrimSpace(asString(input["cursor"], ""))
	if mode == domain.PaginationModeCursor && cursor != "" {
		decoded, err := n.cursors.Decode(cursor)
		if err != nil {
			return domain.PaginationState{}, err
		}
		offset = clamp(decoded, 0, MaxPageOffset)
	}
	return domain.PaginationState{Mode: mode, Limit: limit, Offset: offset, Cursor: cursor}, nil
}

func normalizeOptions(raw any) domain.PlanOptions {
	input := asMap(raw)
	format := domain.OutputFormat(asString(input["output_format"], string(domain.OutputFormatJSON)))
	switch format {
	case domain.OutputFormatJSON, domain.OutputFormatCSV, domain.OutputFormatXLSX:
	default:
		format = domain.OutputFormatJSON
	}
	opts := domain.PlanOptions{
		PreviewOnly:     asBool(input["preview_only"], false),
		PreviewLimit:    clamp(asInt(input["preview_limit"], DefaultPreviewRows), 1, MaxPreviewRows),
		IncludeMetadata: asBool(input["include_metadata"], true),
		CountOnly:       asBool(input["count_only"], false),
		OutputFormat:    format,
	}
	if chart := asMap(input["chart_request"]); len(chart) > 0 {
		opts.ChartRequest = &domain.ChartRequest{
			Type:  asString(chart["type"], "bar"),
			Title: asString(chart["title"], ""),
			XAxis: asString(chart["x_axis"], ""),
			YAxis: asString(chart["y_axis"], ""),
		}
	}
	return opts
}

func asObjectList(raw any, what string) ([]map[string]any, error) {
	if raw == nil {
		return []map[string]any{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array", domain.ErrMalformedPlan, what)
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: each %s entry must be an object", domain.ErrMalformedPlan, what)
		}
		out = append(out, obj)
	}
	return out, nil
}

func asMap(raw any) map[string]any {
	if m, ok := raw.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func asString(raw any, fallback string) string {
	if s, ok := raw.(string); ok {
		return s
	}
	return fallback
}

func asInt(raw any, fallback int) int {
	switch v := raw.(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return fallback
}

func asBool(raw any, fallback bool) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return fallback
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
