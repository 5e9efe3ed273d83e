package queryplan

import (
	"context"
	"fmt"
	"strings"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/domain"
	"github.com/rpattn/querygate/internal/store"
)

// RowCountProber answers "how many rows would this plan touch" without
// materializing them. The validator and the cost estimator share it.
type RowCountProber interface {
	Count(ctx context.Context, id auth.Identity, plan domain.QueryPlan) (int64, error)
}

// Validator runs the full safety check suite over a normalized plan. Every
// check runs even after a failure, so callers always receive the complete
// list of violations in one round trip.
type Validator struct {
	catalog  catalog.Catalog
	resolver *Resolver
	prober   RowCountProber
}

// NewValidator wires a validator. The prober may be nil, in which case the
// volume check degrades to a warning.
func NewValidator(cat catalog.Catalog, resolver *Resolver, prober RowCountProber) *Validator {
	return &Validator{catalog: cat, resolver: resolver, prober: prober}
}

// Validate checks the plan against the safety envelope: entity readability,
// filter structure and operator allowlist, field path resolution for every
// projection, aggregation, group key and sort key, shape invariants, and the
// estimated result volume.
func (v *Validator) Validate(ctx context.Context, id auth.Identity, plan domain.QueryPlan) domain.ValidationResult {
	result := domain.NewValidationResult()

	def, ok := v.catalog.Definition(plan.TargetEntity)
	if !ok {
		result.AddError(fmt.Sprintf("unknown entity %q", plan.TargetEntity))
		return result
	}
	if !v.catalog.CanRead(id, plan.TargetEntity) {
		result.AddError(fmt.Sprintf("no read access to entity %s", plan.TargetEntity))
	}

	v.validateFilter(&result, plan)
	v.validateFields(&result, plan)
	v.validateAggregations(&result, plan)
	v.validateGroupBy(&result, plan)
	v.validateOrderBy(&result, plan)

	if len(plan.Aggregations) == 0 && len(plan.GroupBy) > 0 {
		result.AddError("group_by requires at least one aggregation")
	}
	if len(plan.Aggregations) > 0 && len(plan.Fields) > 0 && len(plan.GroupBy) == 0 {
		result.AddError("fields cannot be combined with aggregations unless group_by is present")
	}

	if def.TenantField != "" && !filterMentions(plan.Filter, def.TenantField) {
		result.AddWarning(fmt.Sprintf("filter does not constrain tenant field %q; scoping is enforced by the store", def.TenantField))
	}

	v.validateVolume(ctx, &result, id, plan)
	return result
}

func (v *Validator) validateFilter(result *domain.ValidationResult, plan domain.QueryPlan) {
	// Per-term checks below don't see the expression as a whole, so run the
	// same arity parse the store uses; a connective missing its operands must
	// fail here, not mid-execution.
	if err := store.CheckFilterShape(plan.Filter); err != nil {
		result.AddError(fmt.Sprintf("filter expression: %v", err))
	}
	for _, term := range plan.Filter {
		if term.IsConnective() {
			if _, ok := domain.AllowedConnectives[term.Connective]; !ok {
				result.AddError(fmt.Sprintf("unknown filter connective %q", term.Connective))
			}
			continue
		}
		pred := term.Predicate
		if _, ok := domain.AllowedFilterOperators[pred.Operator]; !ok {
			result.AddError(fmt.Sprintf("filter operator %q is not allowed", pred.Operator))
		}
		meta, err := v.resolver.Resolve(plan.TargetEntity, pred.Field)
		if err != nil {
			result.AddError(fmt.Sprintf("filter field %s: %v", pred.Field, err))
			continue
		}
		if !meta.Stored {
			result.AddError(fmt.Sprintf("filter field %s is not stored and cannot be filtered on", pred.Field))
		}
		switch pred.Operator {
		case domain.OpIn, domain.OpNotIn:
			if _, ok := pred.Value.([]any); !ok {
				result.AddError(fmt.Sprintf("filter field %s: %s requires a list value", pred.Field, pred.Operator))
			}
		case domain.OpChildOf, domain.OpParentOf:
			if meta.Type != domain.FieldTypeRelation && pred.Field != "id" {
				result.AddError(fmt.Sprintf("filter field %s: %s applies to relation fields only", pred.Field, pred.Operator))
			}
		}
	}
}

func (v *Validator) validateFields(result *domain.ValidationResult, plan domain.QueryPlan) {
	for _, field := range plan.Fields {
		meta, err := v.resolver.Resolve(plan.TargetEntity, field.Name)
		if err != nil {
			result.AddError(fmt.Sprintf("field %s: %v", field.Name, err))
			continue
		}
		if !meta.Stored {
			result.AddError(fmt.Sprintf("field %s is not stored and cannot be selected", field.Name))
		}
	}
}

func (v *Validator) validateAggregations(result *domain.ValidationResult, plan domain.QueryPlan) {
	for _, agg := range plan.Aggregations {
		if _, ok := domain.AllowedAggregateOps[agg.Operator]; !ok {
			result.AddError(fmt.Sprintf("aggregation operator %q is not allowed", agg.Operator))
		}
		// Stores aggregate on the entity's own columns; a relation path here
		// would silently aggregate the foreign key instead of the named field.
		if strings.Contains(agg.Field, ".") {
			result.AddError(fmt.Sprintf("aggregation field %s: relation paths cannot be aggregated", agg.Field))
			continue
		}
		meta, err := v.resolver.Resolve(plan.TargetEntity, agg.Field)
		if err != nil {
			result.AddError(fmt.Sprintf("aggregation field %s: %v", agg.Field, err))
			continue
		}
		if !meta.Stored {
			result.AddError(fmt.Sprintf("aggregation field %s is not stored", agg.Field))
		}
		switch agg.Operator {
		case domain.AggregateSum, domain.AggregateAvg:
			if !meta.Type.IsNumeric() {
				result.AddError(fmt.Sprintf("aggregation %s requires a numeric field, %s is %s", agg.Operator, agg.Field, meta.Type))
			}
		}
	}
}

func (v *Validator) validateGroupBy(result *domain.ValidationResult, plan domain.QueryPlan) {
	for _, group := range plan.GroupBy {
		if strings.Contains(group.Field, ".") {
			base, _, _ := strings.Cut(group.Field, ".")
			result.AddError(fmt.Sprintf("group_by field %s: relation paths cannot be grouped on; group by %q instead", group.Field, base))
			continue
		}
		meta, err := v.resolver.Resolve(plan.TargetEntity, group.Field)
		if err != nil {
			result.AddError(fmt.Sprintf("group_by field %s: %v", group.Field, err))
			continue
		}
		if !meta.Stored {
			result.AddError(fmt.Sprintf("group_by field %s is not stored", group.Field))
		}
		if group.Granularity != "" && !meta.Type.IsTemporal() {
			result.AddError(fmt.Sprintf("granularity %s is only valid for date/datetime fields, %s is %s", group.Granularity, group.Field, meta.Type))
		}
	}
}

func (v *Validator) validateOrderBy(result *domain.ValidationResult, plan domain.QueryPlan) {
	for _, order := range plan.OrderBy {
		meta, err := v.resolver.Resolve(plan.TargetEntity, order.Field)
		if err != nil {
			result.AddError(fmt.Sprintf("order_by field %s: %v", order.Field, err))
			continue
		}
		if !meta.Stored {
			result.AddError(fmt.Sprintf("order_by field %s is not stored and cannot be sorted on", order.Field))
		}
	}
}

func (v *Validator) validateVolume(ctx context.Context, result *domain.ValidationResult, id auth.Identity, plan domain.QueryPlan) {
	if v.prober == nil {
		result.AddWarning("row count unavailable; volume check skipped")
		return
	}
	count, err := v.prober.Count(ctx, id, plan)
	if err != nil {
		result.AddWarning(fmt.Sprintf("row count probe failed: %v", err))
		return
	}
	if count > domain.HardRowCeiling {
		result.TooExpensive = true
		result.AddError(fmt.Sprintf("query matches %d rows, above the hard ceiling of %d; narrow the filter", count, domain.HardRowCeiling))
	} else if count > domain.SoftRowThreshold {
		result.AddWarning(fmt.Sprintf("query matches %d rows; expect async export", count))
	}
}

func filterMentions(terms []domain.FilterTerm, field string) bool {
	for _, term := range terms {
		if !term.IsConnective() && term.Predicate.Field == field {
			return true
		}
	}
	return false
}
