// Package executor runs validated query plans against a store and shapes the
// results into output rows keyed by plan aliases. Relation hops are resolved
// here, batched per target entity, so the store never needs to join.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/domain"
	"github.com/rpattn/querygate/internal/store"
)

// Executor evaluates plans. It is stateless; loaders are created per request
// so no cached record outlives the request that fetched it.
type Executor struct {
	store   store.Store
	catalog catalog.Catalog
}

// New builds an executor over the given store and catalog.
func New(st store.Store, cat catalog.Catalog) *Executor {
	return &Executor{store: st, catalog: cat}
}

// Count returns the number of rows the plan's filter matches. It also serves
// as the row count probe for validation and cost estimation.
func (e *Executor) Count(ctx context.Context, id auth.Identity, plan domain.QueryPlan) (int64, error) {
	return e.store.Count(ctx, id, plan)
}

// Execute runs one page of the plan and returns output rows keyed by plan
// aliases, in OutputColumns order semantics.
func (e *Executor) Execute(ctx context.Context, id auth.Identity, plan domain.QueryPlan) ([]map[string]any, error) {
	switch {
	case plan.Options.CountOnly:
		count, err := e.store.Count(ctx, id, plan)
		if err != nil {
			return nil, err
		}
		return []map[string]any{{"count": count}}, nil
	case len(plan.Aggregations) > 0:
		return e.executeAggregate(ctx, id, plan)
	default:
		return e.executeList(ctx, id, plan)
	}
}

func (e *Executor) executeAggregate(ctx context.Context, id auth.Identity, plan domain.QueryPlan) ([]map[string]any, error) {
	raw, err := e.store.Aggregate(ctx, id, plan)
	if err != nil {
		return nil, err
	}

	labels, err := e.groupLabels(ctx, id, plan, raw)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(raw))
	for _, row := range raw {
		shaped := make(map[string]any, len(plan.GroupBy)+len(plan.Aggregations))
		for _, group := range plan.GroupBy {
			value := row[group.Field]
			if resolved, ok := labels[group.Field]; ok {
				if label, found := resolved[fmt.Sprint(value)]; found {
					value = label
				}
			}
			shaped[group.Alias] = normalizeOutputValue(value)
		}
		for _, agg := range plan.Aggregations {
			shaped[agg.Alias] = normalizeOutputValue(row[store.AggregateKey(agg.Field, agg.Operator)])
		}
		out = append(out, shaped)
	}
	return out, nil
}

// groupLabels resolves relation-typed group keys to their display labels, one
// batched Get per group field.
func (e *Executor) groupLabels(ctx context.Context, id auth.Identity, plan domain.QueryPlan, raw []map[string]any) (map[string]map[string]string, error) {
	out := map[string]map[string]string{}
	for _, group := range plan.GroupBy {
		head, _, _ := strings.Cut(group.Field, ".")
		meta, ok := e.catalog.ResolveField(plan.TargetEntity, head)
		if !ok || meta.Type != domain.FieldTypeRelation || meta.RelationTarget == "" {
			continue
		}
		var ids []uuid.UUID
		for _, row := range raw {
			if parsed, err := uuid.Parse(fmt.Sprint(row[group.Field])); err == nil {
				ids = append(ids, parsed)
			}
		}
		if len(ids) == 0 {
			continue
		}
		records, err := e.store.Get(ctx, id, meta.RelationTarget, ids)
		if err != nil {
			return nil, err
		}
		labels := make(map[string]string, len(records))
		for rid, record := range records {
			labels[rid.String()] = e.displayLabel(meta.RelationTarget, record)
		}
		out[group.Field] = labels
	}
	return out, nil
}

func (e *Executor) executeList(ctx context.Context, id auth.Identity, plan domain.QueryPlan) ([]map[string]any, error) {
	records, err := e.store.List(ctx, id, plan)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []map[string]any{}, nil
	}

	loaders := newLoaderSet(e.store, id)
	rows := make([]map[string]any, len(records))
	for i := range rows {
		rows[i] = make(map[string]any, len(plan.Fields))
	}

	for _, field := range plan.Fields {
		values, err := e.resolveColumn(ctx, loaders, plan.TargetEntity, field, records)
		if err != nil {
			return nil, err
		}
		for i := range records {
			rows[i][field.Alias] = normalizeOutputValue(values[i])
		}
	}
	return rows, nil
}

// resolveColumn materializes one field path for every record, hopping
// relations wave by wave so each depth level is a single batched fetch.
func (e *Executor) resolveColumn(ctx context.Context, loaders *loaderSet, entity string, field domain.FieldDescriptor, records []domain.Record) ([]any, error) {
	type cursor struct {
		record domain.Record
		live   bool
	}
	current := make([]cursor, len(records))
	for i, r := range records {
		current[i] = cursor{record: r, live: true}
	}
	currentEntity := entity
	segments := strings.Split(field.Name, ".")

	for len(segments) > 1 {
		head := segments[0]
		meta, ok := e.catalog.ResolveField(currentEntity, head)
		if !ok || meta.Type != domain.FieldTypeRelation || meta.RelationTarget == "" {
			return nil, fmt.Errorf("%w: cannot traverse %s on %s", domain.ErrDisallowedOperation, field.Name, currentEntity)
		}
		thunks := make([]dataloader.Thunk, len(current))
		loader := loaders.forEntity(meta.RelationTarget)
		for i := range current {
			if !current[i].live {
				continue
			}
			ref, err := uuid.Parse(fmt.Sprint(current[i].record.Value(head)))
			if err != nil {
				current[i].live = false
				continue
			}
			thunks[i] = loader.Load(ctx, dataloader.StringKey(ref.String()))
		}
		for i := range current {
			if thunks[i] == nil {
				continue
			}
			data, err := thunks[i]()
			if err != nil {
				return nil, err
			}
			next, ok := data.(domain.Record)
			if !ok {
				current[i].live = false
				continue
			}
			current[i].record = next
		}
		currentEntity = meta.RelationTarget
		segments = segments[1:]
	}

	terminal := segments[0]
	meta, _ := e.catalog.ResolveField(currentEntity, terminal)

	values := make([]any, len(current))
	if meta.Type == domain.FieldTypeRelation && meta.RelationTarget != "" && field.Extract {
		loader := loaders.forEntity(meta.RelationTarget)
		thunks := make([]dataloader.Thunk, len(current))
		for i := range current {
			if !current[i].live {
				continue
			}
			ref, err := uuid.Parse(fmt.Sprint(current[i].record.Value(terminal)))
			if err != nil {
				continue
			}
			thunks[i] = loader.Load(ctx, dataloader.StringKey(ref.String()))
		}
		for i := range current {
			if thunks[i] == nil {
				continue
			}
			data, err := thunks[i]()
			if err != nil {
				return nil, err
			}
			if target, ok := data.(domain.Record); ok {
				values[i] = e.displayLabel(meta.RelationTarget, target)
			}
		}
		return values, nil
	}

	for i := range current {
		if current[i].live {
			values[i] = current[i].record.Value(terminal)
		}
	}
	return values, nil
}

func (e *Executor) displayLabel(entity string, record domain.Record) string {
	if def, ok := e.catalog.Definition(entity); ok && def.DisplayField != "" {
		if value := record.Value(def.DisplayField); value != nil {
			return fmt.Sprint(value)
		}
	}
	return record.ID.String()
}

// normalizeOutputValue makes store-native values JSON and CSV friendly.
func normalizeOutputValue(value any) any {
	if t, ok := value.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return value
}

// loaderSet lazily builds one batched loader per target entity. Loaders are
// request scoped; a missing record loads as nil data, never an error.
type loaderSet struct {
	store   store.Store
	id      auth.Identity
	loaders map[string]*dataloader.Loader
}

func newLoaderSet(st store.Store, id auth.Identity) *loaderSet {
	return &loaderSet{store: st, id: id, loaders: make(map[string]*dataloader.Loader)}
}

func (s *loaderSet) forEntity(entity string) *dataloader.Loader {
	if loader, ok := s.loaders[entity]; ok {
		return loader
	}
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]uuid.UUID, len(keys))
		for i, key := range keys {
			parsed, err := uuid.Parse(key.String())
			if err != nil {
				results := make([]*dataloader.Result, len(keys))
				for j := range results {
					results[j] = &dataloader.Result{Error: fmt.Errorf("invalid record id %q: %w", key.String(), err)}
				}
				return results
			}
			ids[i] = parsed
		}
		records, err := s.store.Get(ctx, s.id, entity, ids)
		results := make([]*dataloader.Result, len(keys))
		for i, rid := range ids {
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			if record, ok := records[rid]; ok {
				results[i] = &dataloader.Result{Data: record}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}
	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(2*time.Millisecond))
	s.loaders[entity] = loader
	return loader
}
