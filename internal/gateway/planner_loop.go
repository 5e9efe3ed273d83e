package gateway

import (
	"context"
	"fmt"
	"log"

	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/domain"
	"github.com/rpattn/querygate/internal/planner"
)

// PlanningFailedError reports that every tier's draft was rejected. The trace
// records one attempt per tier so callers can see why each draft failed.
type PlanningFailedError struct {
	Trace []domain.TierAttempt
}

func (e *PlanningFailedError) Error() string {
	if len(e.Trace) == 0 {
		return "planning failed: no tier produced a draft"
	}
	last := e.Trace[len(e.Trace)-1]
	return fmt.Sprintf("planning failed after %d tiers, last errors: %v", len(e.Trace), last.Errors)
}

// Unwrap maps planning failure onto the disallowed-operation class.
func (e *PlanningFailedError) Unwrap() error { return domain.ErrDisallowedOperation }

// Answer drafts a plan for a natural-language question and executes the first
// draft that passes validation, escalating cheap -> standard -> premium.
// Invalid drafts are never executed; the full escalation trace rides on the
// result either way.
func (g *Gateway) Answer(ctx context.Context, id auth.Identity, question string) (*domain.QueryResult, error) {
	var trace []domain.TierAttempt

	for _, tier := range planner.TierChain {
		raw, err := g.planner.Draft(tier, question)
		if err != nil {
			trace = append(trace, domain.TierAttempt{Tier: string(tier), Errors: []string{err.Error()}})
			continue
		}
		plan, verdict, err := g.NormalizeAndValidate(ctx, id, raw)
		if err != nil {
			trace = append(trace, domain.TierAttempt{Tier: string(tier), Errors: []string{err.Error()}})
			continue
		}
		if !verdict.Valid {
			trace = append(trace, domain.TierAttempt{Tier: string(tier), Errors: verdict.Errors})
			log.Printf("[gateway] tier %s draft rejected for %q, escalating", tier, question)
			continue
		}
		trace = append(trace, domain.TierAttempt{Tier: string(tier), Valid: true})

		result, err := g.ExecuteValidated(ctx, id, plan)
		if err != nil {
			return nil, err
		}
		result.EscalationTrace = trace
		return result, nil
	}

	return nil, &PlanningFailedError{Trace: trace}
}
