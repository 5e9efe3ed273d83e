package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/domain"
)

// Memory is an in-memory Store used by tests and local development. It
// mirrors the Postgres backend's semantics closely enough that executor and
// gateway behavior is exercised without a database.
type Memory struct {
	catalog catalog.Catalog

	mu      sync.RWMutex
	records map[string][]memRecord // keyed by entity type
}

type memRecord struct {
	orgID  uuid.UUID
	record domain.Record
}

// NewMemory builds an empty in-memory store.
func NewMemory(cat catalog.Catalog) *Memory {
	return &Memory{catalog: cat, records: make(map[string][]memRecord)}
}

// Add seeds one record. Not part of the Store contract.
func (m *Memory) Add(entity string, orgID uuid.UUID, record domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Values == nil {
		record.Values = map[string]any{}
	}
	m.records[entity] = append(m.records[entity], memRecord{orgID: orgID, record: record})
}

func (m *Memory) match(id auth.Identity, entity string, terms []domain.FilterTerm) ([]domain.Record, error) {
	tree, err := parseFilterTree(terms)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Record
	for _, item := range m.records[entity] {
		if item.orgID != id.OrganizationID {
			continue
		}
		ok, err := m.evalNode(id, entity, item.record, tree)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item.record)
		}
	}
	return out, nil
}

func (m *Memory) evalNode(id auth.Identity, entity string, record domain.Record, node *filterNode) (bool, error) {
	if node == nil {
		return true, nil
	}
	if node.isLeaf() {
		return m.evalPredicate(id, entity, record, node.pred)
	}
	switch node.connective {
	case domain.ConnectiveAnd:
		for _, child := range node.children {
			ok, err := m.evalNode(id, entity, record, child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case domain.ConnectiveOr:
		for _, child := range node.children {
			ok, err := m.evalNode(id, entity, record, child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case domain.ConnectiveNot:
		ok, err := m.evalNode(id, entity, record, node.children[0])
		return !ok, err
	default:
		return false, fmt.Errorf("%w: unknown filter connective %q", domain.ErrMalformedPlan, node.connective)
	}
}

func (m *Memory) evalPredicate(id auth.Identity, entity string, record domain.Record, pred *domain.Predicate) (bool, error) {
	head, rest, _ := strings.Cut(pred.Field, ".")

	if rest != "" {
		meta, ok := m.catalog.ResolveField(entity, head)
		if !ok || meta.Type != domain.FieldTypeRelation || meta.RelationTarget == "" {
			return false, fmt.Errorf("%w: cannot traverse %s on %s", domain.ErrDisallowedOperation, pred.Field, entity)
		}
		target, ok := m.lookup(id, meta.RelationTarget, fmt.Sprint(record.Value(head)))
		if !ok {
			return false, nil
		}
		return m.evalPredicate(id, meta.RelationTarget, target, &domain.Predicate{Field: rest, Operator: pred.Operator, Value: pred.Value})
	}

	switch pred.Operator {
	case domain.OpChildOf, domain.OpParentOf:
		anchor, ok := m.lookup(id, entity, fmt.Sprint(pred.Value))
		if !ok {
			return false, nil
		}
		if pred.Operator == domain.OpChildOf {
			return pathUnder(record.Path, anchor.Path), nil
		}
		return pathUnder(anchor.Path, record.Path), nil
	}

	value := record.Value(head)
	switch pred.Operator {
	case domain.OpEq:
		return looseEqual(value, pred.Value), nil
	case domain.OpNeq:
		return !looseEqual(value, pred.Value), nil
	case domain.OpGt, domain.OpGte, domain.OpLt, domain.OpLte:
		cmp, ok := looseCompare(value, pred.Value)
		if !ok {
			return false, nil
		}
		switch pred.Operator {
		case domain.OpGt:
			return cmp > 0, nil
		case domain.OpGte:
			return cmp >= 0, nil
		case domain.OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case domain.OpLike:
		return likeMatch(value, pred.Value, true, false), nil
	case domain.OpNotLike:
		return !likeMatch(value, pred.Value, true, false), nil
	case domain.OpILike:
		return likeMatch(value, pred.Value, true, true), nil
	case domain.OpNotILike:
		return !likeMatch(value, pred.Value, true, true), nil
	case domain.OpEqLike:
		return likeMatch(value, pred.Value, false, false), nil
	case domain.OpEqILike:
		return likeMatch(value, pred.Value, false, true), nil
	case domain.OpIn, domain.OpNotIn:
		values, ok := pred.Value.([]any)
		if !ok {
			return false, fmt.Errorf("%w: %s requires a list value for %s", domain.ErrMalformedPlan, pred.Operator, pred.Field)
		}
		found := false
		for _, candidate := range values {
			if looseEqual(value, candidate) {
				found = true
				break
			}
		}
		if pred.Operator == domain.OpNotIn {
			return !found, nil
		}
		return found, nil
	default:
		return false, fmt.Errorf("%w: filter operator %q", domain.ErrDisallowedOperation, pred.Operator)
	}
}

// lookup finds a record of an entity by its id string, scoped to the caller.
// Callers must hold at least the read lock.
func (m *Memory) lookup(id auth.Identity, entity, recordID string) (domain.Record, bool) {
	for _, item := range m.records[entity] {
		if item.orgID == id.OrganizationID && item.record.ID.String() == recordID {
			return item.record, true
		}
	}
	return domain.Record{}, false
}

func pathUnder(candidate, anchor string) bool {
	if anchor == "" || candidate == "" {
		return false
	}
	return candidate == anchor || strings.HasPrefix(candidate, anchor+".")
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func looseCompare(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if a == nil || b == nil {
		return 0, false
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// likeMatch implements SQL LIKE over record values: % matches any run, _ a
// single character. substring wraps the pattern in % on both sides.
func likeMatch(value, pattern any, substring, foldCase bool) bool {
	if value == nil {
		return false
	}
	text := fmt.Sprint(value)
	pat := fmt.Sprint(pattern)
	if substring {
		pat = "%" + pat + "%"
	}
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pat {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	expr := sb.String()
	if foldCase {
		expr = "(?is)" + expr
	} else {
		expr = "(?s)" + expr
	}
	matched, err := regexp.MatchString(expr, text)
	return err == nil && matched
}

// Count implements Store.
func (m *Memory) Count(ctx context.Context, id auth.Identity, plan domain.QueryPlan) (int64, error) {
	matched, err := m.match(id, plan.TargetEntity, plan.Filter)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// List implements Store.
func (m *Memory) List(ctx context.Context, id auth.Identity, plan domain.QueryPlan) ([]domain.Record, error) {
	matched, err := m.match(id, plan.TargetEntity, plan.Filter)
	if err != nil {
		return nil, err
	}
	m.sortRecords(matched, plan.OrderBy)

	offset := plan.Pagination.Offset
	if offset >= len(matched) {
		return []domain.Record{}, nil
	}
	end := offset + plan.Pagination.Limit
	if plan.Pagination.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (m *Memory) sortRecords(records []domain.Record, terms []domain.OrderTerm) {
	if len(terms) == 0 {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].ID.String() < records[j].ID.String()
		})
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, term := range terms {
			head, _, _ := strings.Cut(term.Field, ".")
			cmp, ok := looseCompare(records[i].Value(head), records[j].Value(head))
			if !ok || cmp == 0 {
				continue
			}
			if strings.EqualFold(term.Direction, "desc") {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// Aggregate implements Store.
func (m *Memory) Aggregate(ctx context.Context, id auth.Identity, plan domain.QueryPlan) ([]map[string]any, error) {
	matched, err := m.match(id, plan.TargetEntity, plan.Filter)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		keys    map[string]any
		records []domain.Record
	}
	buckets := map[string]*bucket{}
	var order []string

	for _, record := range matched {
		keys := make(map[string]any, len(plan.GroupBy))
		sig := make([]string, 0, len(plan.GroupBy))
		for _, group := range plan.GroupBy {
			head, _, _ := strings.Cut(group.Field, ".")
			value := record.Value(head)
			if group.Granularity != "" {
				value = truncateTime(value, group.Granularity)
			}
			keys[group.Field] = value
			sig = append(sig, fmt.Sprint(value))
		}
		key := strings.Join(sig, "\x00")
		b, ok := buckets[key]
		if !ok {
			b = &bucket{keys: keys}
			buckets[key] = b
			order = append(order, key)
		}
		b.records = append(b.records, record)
	}
	sort.Strings(order)

	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		row := make(map[string]any, len(b.keys)+len(plan.Aggregations))
		for k, v := range b.keys {
			row[k] = v
		}
		for _, agg := range plan.Aggregations {
			value, err := aggregate(b.records, agg)
			if err != nil {
				return nil, err
			}
			row[AggregateKey(agg.Field, agg.Operator)] = value
		}
		out = append(out, row)
	}
	return out, nil
}

func aggregate(records []domain.Record, agg domain.AggregationDescriptor) (any, error) {
	head, _, _ := strings.Cut(agg.Field, ".")
	switch agg.Operator {
	case domain.AggregateCount:
		return int64(len(records)), nil
	case domain.AggregateCountDistinct:
		seen := map[string]struct{}{}
		for _, r := range records {
			if v := r.Value(head); v != nil {
				seen[fmt.Sprint(v)] = struct{}{}
			}
		}
		return int64(len(seen)), nil
	case domain.AggregateSum, domain.AggregateAvg:
		var sum float64
		var n int
		for _, r := range records {
			if f, ok := toFloat(r.Value(head)); ok {
				sum += f
				n++
			}
		}
		if agg.Operator == domain.AggregateSum {
			return sum, nil
		}
		if n == 0 {
			return nil, nil
		}
		return sum / float64(n), nil
	case domain.AggregateMin, domain.AggregateMax:
		var best any
		for _, r := range records {
			v := r.Value(head)
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			cmp, ok := looseCompare(v, best)
			if !ok {
				continue
			}
			if (agg.Operator == domain.AggregateMin && cmp < 0) || (agg.Operator == domain.AggregateMax && cmp > 0) {
				best = v
			}
		}
		return best, nil
	default:
		return nil, fmt.Errorf("%w: aggregation operator %q", domain.ErrDisallowedOperation, agg.Operator)
	}
}

// truncateTime buckets a date/datetime value. Unparsable values pass through
// unchanged so a bad row groups by its raw value instead of erroring.
func truncateTime(value any, granularity domain.Granularity) any {
	text := fmt.Sprint(value)
	var parsed time.Time
	var err error
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err = time.Parse(layout, text); err == nil {
			break
		}
	}
	if err != nil {
		return value
	}
	switch granularity {
	case domain.GranularityDay:
		parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, parsed.Location())
	case domain.GranularityWeek:
		parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, parsed.Location())
		for parsed.Weekday() != time.Monday {
			parsed = parsed.AddDate(0, 0, -1)
		}
	case domain.GranularityMonth:
		parsed = time.Date(parsed.Year(), parsed.Month(), 1, 0, 0, 0, 0, parsed.Location())
	case domain.GranularityQuarter:
		month := ((int(parsed.Month())-1)/3)*3 + 1
		parsed = time.Date(parsed.Year(), time.Month(month), 1, 0, 0, 0, 0, parsed.Location())
	case domain.GranularityYear:
		parsed = time.Date(parsed.Year(), 1, 1, 0, 0, 0, 0, parsed.Location())
	}
	return parsed.Format("2006-01-02")
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, id auth.Identity, entity string, ids []uuid.UUID) (map[uuid.UUID]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, rid := range ids {
		want[rid] = struct{}{}
	}
	out := make(map[uuid.UUID]domain.Record, len(ids))
	for _, item := range m.records[entity] {
		if item.orgID != id.OrganizationID {
			continue
		}
		if _, ok := want[item.record.ID]; ok {
			out[item.record.ID] = item.record
		}
	}
	return out, nil
}
