// Package planner drafts raw query plans from natural-language questions.
// Drafting is deliberately heuristic: each tier produces a candidate plan and
// the gateway's planning loop validates it, escalating to the next tier when
// validation rejects the draft. Drafts are never executed unvalidated.
package planner

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/domain"
)

// Tier identifies one drafting strategy, ordered by effort.
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// TierChain is the escalation order the planning loop walks.
var TierChain = []Tier{TierCheap, TierStandard, TierPremium}

// Planner drafts plans against a catalog.
type Planner struct {
	catalog catalog.Catalog
	now     func() time.Time
}

// New builds a planner over the given catalog.
func New(cat catalog.Catalog) *Planner {
	return &Planner{catalog: cat, now: time.Now}
}

var (
	wordRe     = regexp.MustCompile(`[a-z0-9_]+`)
	lastDaysRe = regexp.MustCompile(`last\s+(\d+)\s+days?`)
	groupByRe  = regexp.MustCompile(`(?:\bby\b|\bper\b)\s+([a-z0-9_]+)`)
)

// stopwords excluded from keyword matching; they carry intent, not content.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "in": {}, "on": {}, "for": {},
	"how": {}, "many": {}, "much": {}, "count": {}, "number": {}, "total": {},
	"show": {}, "list": {}, "all": {}, "me": {}, "get": {}, "find": {},
	"by": {}, "per": {}, "and": {}, "or": {}, "with": {}, "last": {},
	"days": {}, "day": {}, "month": {}, "week": {}, "year": {}, "this": {},
}

// Draft produces a raw plan for the question at the given tier. The result is
// the loose map shape the normalizer accepts, not a validated plan.
func (p *Planner) Draft(tier Tier, question string) (map[string]any, error) {
	q := strings.ToLower(question)
	words := tokenize(q)

	entity, matched := p.pickEntity(words)
	if entity == "" {
		return nil, fmt.Errorf("%w: no entity matches question %q", domain.ErrUnknownEntityOrField, question)
	}
	def, _ := p.catalog.Definition(entity)

	plan := map[string]any{
		"version":       domain.SupportedPlanVersion,
		"target_entity": entity,
	}

	wantCount := strings.Contains(q, "how many") || strings.Contains(q, "count") || strings.Contains(q, "number of")

	switch tier {
	case TierCheap:
		if wantCount {
			plan["options"] = map[string]any{"count_only": true}
		} else {
			plan["fields"] = p.defaultFields(def)
			plan["pagination"] = map[string]any{"limit": 50}
		}
		return plan, nil

	case TierStandard, TierPremium:
		filter := p.timeFilter(q, def)
		filter = append(filter, p.keywordFilter(def, words, matched)...)
		if len(filter) > 0 {
			plan["filter"] = filter
		}
		if tier == TierPremium {
			if group := p.groupField(q, def); group != "" {
				plan["group_by"] = []any{map[string]any{"field": group}}
				plan["aggregations"] = []any{map[string]any{"field": "id", "operator": "count", "alias": "count"}}
				return plan, nil
			}
		}
		if wantCount {
			plan["options"] = map[string]any{"count_only": true}
		} else {
			plan["fields"] = p.defaultFields(def)
			plan["pagination"] = map[string]any{"limit": 50}
		}
		return plan, nil

	default:
		return nil, fmt.Errorf("%w: unknown planning tier %q", domain.ErrMalformedPlan, tier)
	}
}

func tokenize(q string) []string {
	raw := wordRe.FindAllString(q, -1)
	out := make([]string, 0, len(raw))
	for _, w := range raw {
		if _, skip := stopwords[w]; !skip {
			out = append(out, w)
		}
	}
	return out
}

// pickEntity scores catalog entities by keyword overlap with their name,
// label and synonyms and returns the best match plus the words that hit it.
func (p *Planner) pickEntity(words []string) (string, map[string]struct{}) {
	best := ""
	bestScore := 0
	var bestMatched map[string]struct{}

	for _, name := range p.catalog.Entities() {
		def, ok := p.catalog.Definition(name)
		if !ok {
			continue
		}
		keywords := map[string]struct{}{}
		for _, w := range tokenize(strings.ToLower(def.Name)) {
			keywords[w] = struct{}{}
			keywords[singular(w)] = struct{}{}
		}
		for _, w := range tokenize(strings.ToLower(def.Label)) {
			keywords[w] = struct{}{}
			keywords[singular(w)] = struct{}{}
		}
		for _, syn := range def.Synonyms {
			for _, w := range tokenize(strings.ToLower(syn)) {
				keywords[w] = struct{}{}
				keywords[singular(w)] = struct{}{}
			}
		}

		score := 0
		matched := map[string]struct{}{}
		for _, w := range words {
			if _, ok := keywords[w]; ok {
				score++
				matched[w] = struct{}{}
				continue
			}
			if _, ok := keywords[singular(w)]; ok {
				score++
				matched[w] = struct{}{}
			}
		}
		if score > bestScore {
			best = name
			bestScore = score
			bestMatched = matched
		}
	}
	return best, bestMatched
}

func singular(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
		return strings.TrimSuffix(w, "s")
	}
	return w
}

// defaultFields projects the display field plus a handful of stored scalars.
func (p *Planner) defaultFields(def domain.EntityDefinition) []any {
	var fields []any
	if def.DisplayField != "" {
		fields = append(fields, map[string]any{"name": def.DisplayField})
	}
	for _, meta := range def.Fields {
		if len(fields) >= 5 {
			break
		}
		if !meta.Stored || meta.Name == def.DisplayField || meta.Type == domain.FieldTypeRelation {
			continue
		}
		fields = append(fields, map[string]any{"name": meta.Name})
	}
	if len(fields) == 0 {
		fields = append(fields, map[string]any{"name": "id"})
	}
	return fields
}

// timeFilter translates "last N days" / "last month" phrasings into a range
// filter on the entity's first stored datetime field, preferring created_at.
func (p *Planner) timeFilter(q string, def domain.EntityDefinition) []any {
	field := ""
	if meta, ok := def.Field("created_at"); ok && meta.Type.IsTemporal() {
		field = "created_at"
	} else {
		for _, meta := range def.Fields {
			if meta.Stored && meta.Type.IsTemporal() {
				field = meta.Name
				break
			}
		}
	}
	if field == "" {
		return nil
	}

	now := p.now().UTC()
	var since time.Time
	if m := lastDaysRe.FindStringSubmatch(q); m != nil {
		days, err := strconv.Atoi(m[1])
		if err != nil || days <= 0 {
			return nil
		}
		since = now.AddDate(0, 0, -days)
	} else if strings.Contains(q, "last month") {
		since = now.AddDate(0, -1, 0)
	} else if strings.Contains(q, "this month") {
		since = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	} else {
		return nil
	}
	return []any{[]any{field, ">=", since.Format(time.RFC3339)}}
}

// keywordFilter turns leftover question words into ILIKE predicates on the
// display field, OR-joined. Words already consumed by entity matching are
// skipped.
func (p *Planner) keywordFilter(def domain.EntityDefinition, words []string, matched map[string]struct{}) []any {
	if def.DisplayField == "" {
		return nil
	}
	var leftovers []string
	for _, w := range words {
		if _, consumed := matched[w]; consumed {
			continue
		}
		if len(w) < 3 {
			continue
		}
		leftovers = append(leftovers, w)
	}
	if len(leftovers) == 0 {
		return nil
	}
	sort.Strings(leftovers)
	if len(leftovers) > 3 {
		leftovers = leftovers[:3]
	}

	var terms []any
	for i := 0; i < len(leftovers)-1; i++ {
		terms = append(terms, "|")
	}
	for _, w := range leftovers {
		terms = append(terms, []any{def.DisplayField, "ilike", w})
	}
	return terms
}

// groupField finds a "by <field>" phrase naming a stored field.
func (p *Planner) groupField(q string, def domain.EntityDefinition) string {
	for _, m := range groupByRe.FindAllStringSubmatch(q, -1) {
		candidate := m[1]
		if meta, ok := def.Field(candidate); ok && meta.Stored {
			return candidate
		}
		if meta, ok := def.Field(singular(candidate)); ok && meta.Stored {
			return singular(candidate)
		}
	}
	return ""
}
