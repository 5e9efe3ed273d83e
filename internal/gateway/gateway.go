// Package gateway is the single entry point callers use to run query plans:
// normalization, validation, cost estimation, mode selection, execution,
// result caching and deferral to async export all happen behind one surface.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/cache"
	"github.com/rpattn/querygate/internal/domain"
	"github.com/rpattn/querygate/internal/executor"
	"github.com/rpattn/querygate/internal/planner"
	"github.com/rpattn/querygate/internal/queryplan"
)

// Execution concurrency bounds. Acquisition waits at most AcquireTimeout
// before failing with domain.ErrBusy.
const (
	DefaultMaxConcurrent  = 10
	DefaultAcquireTimeout = 10 * time.Second
)

// Exporter enqueues deferred exports. Implemented by the export service; the
// gateway only sees this narrow surface.
type Exporter interface {
	Enqueue(ctx context.Context, id auth.Identity, plan domain.QueryPlan) (domain.ExportJob, error)
}

// ValidationError carries a failed validation verdict across the error
// boundary so handlers can render the full error list.
type ValidationError struct {
	Result domain.ValidationResult
}

func (e *ValidationError) Error() string {
	return "plan validation failed: " + strings.Join(e.Result.Errors, "; ")
}

// Unwrap maps validation failure onto the disallowed-operation class, except
// for hard-ceiling volume rejections which carry the too-expensive class.
func (e *ValidationError) Unwrap() error {
	if e.Result.TooExpensive {
		return domain.ErrTooExpensive
	}
	return domain.ErrDisallowedOperation
}

// Gateway wires the plan pipeline together.
type Gateway struct {
	normalizer *queryplan.Normalizer
	validator  *queryplan.Validator
	estimator  *queryplan.Estimator
	executor   *executor.Executor
	cursors    *queryplan.CursorCodec
	results    *cache.ResultCache
	planner    *planner.Planner

	sem            *semaphore.Weighted
	acquireTimeout time.Duration

	exporter Exporter
}

// New builds a gateway. maxConcurrent and acquireTimeout fall back to the
// package defaults when non-positive; the exporter is wired later with
// SetExporter because the export service itself executes through the gateway.
func New(
	normalizer *queryplan.Normalizer,
	validator *queryplan.Validator,
	estimator *queryplan.Estimator,
	exec *executor.Executor,
	cursors *queryplan.CursorCodec,
	results *cache.ResultCache,
	plnr *planner.Planner,
	maxConcurrent int64,
	acquireTimeout time.Duration,
) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	return &Gateway{
		normalizer:     normalizer,
		validator:      validator,
		estimator:      estimator,
		executor:       exec,
		cursors:        cursors,
		results:        results,
		planner:        plnr,
		sem:            semaphore.NewWeighted(maxConcurrent),
		acquireTimeout: acquireTimeout,
	}
}

// SetExporter wires the async export service. Must be called before the first
// plan routes to async_export; until then such plans fail with an execution
// error rather than silently running inline.
func (g *Gateway) SetExporter(exporter Exporter) {
	g.exporter = exporter
}

// Validate re-runs the safety checks on an already normalized plan. Part of
// the surface the export worker consumes.
func (g *Gateway) Validate(ctx context.Context, id auth.Identity, plan domain.QueryPlan) domain.ValidationResult {
	return g.validator.Validate(ctx, id, plan)
}

// Count returns the number of rows the plan's filter matches.
func (g *Gateway) Count(ctx context.Context, id auth.Identity, plan domain.QueryPlan) (int64, error) {
	return g.executor.Count(ctx, id, plan)
}

// RunPage executes one page of a validated plan directly, bypassing mode
// selection and the result cache. Used by the export worker's page loop.
func (g *Gateway) RunPage(ctx context.Context, id auth.Identity, plan domain.QueryPlan) ([]map[string]any, error) {
	return g.executor.Execute(ctx, id, plan)
}

// NormalizeAndValidate compiles a raw plan and runs the full safety check
// suite. The returned plan is only meaningful when err is nil; the validation
// result is populated whenever normalization itself succeeded.
func (g *Gateway) NormalizeAndValidate(ctx context.Context, id auth.Identity, raw map[string]any) (domain.QueryPlan, domain.ValidationResult, error) {
	plan, err := g.normalizer.Normalize(id, raw)
	if err != nil {
		return domain.QueryPlan{}, domain.ValidationResult{}, err
	}
	return plan, g.validator.Validate(ctx, id, plan), nil
}

// EstimateCost normalizes, validates and estimates a raw plan without
// executing it.
func (g *Gateway) EstimateCost(ctx context.Context, id auth.Identity, raw map[string]any) (domain.QueryPlan, domain.ValidationResult, *domain.CostEstimate, error) {
	plan, verdict, err := g.NormalizeAndValidate(ctx, id, raw)
	if err != nil {
		return domain.QueryPlan{}, domain.ValidationResult{}, nil, err
	}
	if !verdict.Valid {
		return plan, verdict, nil, &ValidationError{Result: verdict}
	}
	estimate := g.estimator.Estimate(ctx, id, plan)
	return plan, verdict, &estimate, nil
}

// Execute runs a raw plan end to end: compile, validate, estimate, pick a
// mode, then execute inline/paginated or defer to an export job.
func (g *Gateway) Execute(ctx context.Context, id auth.Identity, raw map[string]any) (*domain.QueryResult, error) {
	plan, verdict, err := g.NormalizeAndValidate(ctx, id, raw)
	if err != nil {
		return nil, err
	}
	if !verdict.Valid {
		return nil, &ValidationError{Result: verdict}
	}
	return g.ExecuteValidated(ctx, id, plan)
}

// ExecuteValidated runs an already validated plan. Exposed for the planning
// loop and the export service, both of which validate before calling.
func (g *Gateway) ExecuteValidated(ctx context.Context, id auth.Identity, plan domain.QueryPlan) (*domain.QueryResult, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, g.acquireTimeout)
	defer cancel()
	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		return nil, domain.ErrBusy
	}
	defer g.sem.Release(1)

	estimate := g.estimator.Estimate(ctx, id, plan)
	mode := estimate.RecommendedMode

	if mode == domain.ExecutionModeAsyncExport {
		if g.exporter == nil {
			return nil, fmt.Errorf("%w: async export requested but no exporter wired", domain.ErrExecutionFailure)
		}
		job, err := g.exporter.Enqueue(ctx, id, plan)
		if err != nil {
			return nil, err
		}
		log.Printf("[gateway] deferred plan on %s to export job %s (est %d rows)", plan.TargetEntity, job.ID, estimate.EstimatedRows)
		return &domain.QueryResult{
			Rows:    []map[string]any{},
			Columns: plan.OutputColumns(),
			Mode:    mode,
			Cost:    &estimate,
			Job:     &job,
		}, nil
	}

	page := plan
	if plan.Options.PreviewOnly {
		state := plan.Pagination
		state.Limit = plan.Options.PreviewLimit
		page = plan.WithPagination(state)
	}

	// Offset pagination is bounded; scans past the window go through an
	// export job instead.
	if !page.Options.CountOnly && len(page.Aggregations) == 0 && page.Pagination.Offset >= domain.PaginatedMaxTotal {
		return nil, fmt.Errorf("%w: offset %d is past the paginated window of %d rows; request an export for a full scan",
			domain.ErrTooExpensive, page.Pagination.Offset, domain.PaginatedMaxTotal)
	}

	fingerprint, err := queryplan.Fingerprint(id, page)
	if err != nil {
		return nil, err
	}
	if payload, ok := g.results.Get(fingerprint); ok {
		var cached domain.QueryResult
		if err := json.Unmarshal(payload, &cached); err == nil {
			cached.Cached = true
			return &cached, nil
		}
		// Undecodable entries are simply recomputed; the overwrite below heals
		// the cache.
		log.Printf("[gateway] dropping undecodable cache entry %s", fingerprint[:12])
	}

	rows, err := g.executor.Execute(ctx, id, page)
	if err != nil {
		return nil, err
	}

	result := &domain.QueryResult{
		Rows:    rows,
		Columns: page.OutputColumns(),
		Mode:    mode,
		Cost:    &estimate,
	}

	switch {
	case page.Options.CountOnly:
		if len(rows) == 1 {
			if count, ok := rows[0]["count"].(int64); ok {
				result.Count = count
			}
		}
	case len(page.Aggregations) > 0:
		result.Count = int64(len(rows))
	default:
		total, err := g.executor.Count(ctx, id, page)
		if err != nil {
			return nil, err
		}
		result.Count = total
		info := &domain.PageInfo{
			Total:  int(total),
			Offset: page.Pagination.Offset,
			Limit:  page.Pagination.Limit,
		}
		next := page.Pagination.Offset + page.Pagination.Limit
		if !page.Options.PreviewOnly && page.Pagination.Offset+len(rows) < int(total) && next < domain.PaginatedMaxTotal {
			info.HasMore = true
			info.NextOffset = next
			if page.Pagination.Mode == domain.PaginationModeCursor {
				cursor, err := g.cursors.Encode(info.NextOffset)
				if err != nil {
					return nil, err
				}
				info.NextCursor = cursor
			}
		}
		result.Page = info
	}

	if page.Options.ChartRequest != nil {
		result.Chart = buildChart(page, rows)
	}

	if payload, err := json.Marshal(result); err == nil {
		g.results.Set(fingerprint, payload)
	}
	return result, nil
}

// buildChart shapes executed rows into a chart payload. The x axis defaults
// to the first group key, the series to every aggregation alias.
func buildChart(plan domain.QueryPlan, rows []map[string]any) *domain.Chart {
	req := plan.Options.ChartRequest

	xAxis := req.XAxis
	if xAxis == "" && len(plan.GroupBy) > 0 {
		xAxis = plan.GroupBy[0].Alias
	}
	if xAxis == "" {
		return nil
	}

	var seriesAliases []string
	if req.YAxis != "" {
		seriesAliases = []string{req.YAxis}
	} else {
		for _, agg := range plan.Aggregations {
			seriesAliases = append(seriesAliases, agg.Alias)
		}
	}
	if len(seriesAliases) == 0 {
		return nil
	}

	chart := &domain.Chart{Type: req.Type, Title: req.Title}
	if chart.Type == "" {
		chart.Type = "bar"
	}
	for _, row := range rows {
		chart.Labels = append(chart.Labels, fmt.Sprint(row[xAxis]))
	}
	for _, alias := range seriesAliases {
		dataset := domain.ChartDataset{Label: alias}
		for _, row := range rows {
			dataset.Data = append(dataset.Data, row[alias])
		}
		chart.Datasets = append(chart.Datasets, dataset)
	}
	return chart
}
