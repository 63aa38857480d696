package engine

import (
	"context"
	"time"

	"github.com/spellrun/spell/pkg/receipt"
)

// RunRollback walks the actually-executed steps in reverse and runs each
// declared rollback handler as a synthetic shell step named
// rollback.<original>. Handler failures are recorded, never rethrown; the
// pass only stops early when the execution deadline itself is exceeded,
// in which case the remaining handlers are recorded as timed out.
func (s *Scheduler) RunRollback(ctx context.Context, executed []ExecutedStep, deadline time.Time) ([]receipt.StepResult, *receipt.RollbackSummary) {
	summary := &receipt.RollbackSummary{TotalExecuted: len(executed)}
	if len(executed) == 0 {
		summary.State = receipt.RollbackNotNeeded
		return nil, summary
	}

	var results []receipt.StepResult
	timedOut := false

	for i := len(executed) - 1; i >= 0; i-- {
		step := executed[i].Step
		if step.Rollback == "" {
			// The failed step itself has no completed effects to undo; only
			// a succeeded step without a handler leaves the run uncovered.
			if executed[i].Success {
				summary.RollbackSkippedWithoutHandler++
			}
			continue
		}
		summary.RollbackPlanned++

		name := "rollback." + step.Name

		if timedOut || (!deadline.IsZero() && time.Until(deadline) <= 0) {
			timedOut = true
			now := time.Now().UTC()
			results = append(results, receipt.StepResult{
				StepName:   name,
				Uses:       "shell",
				StartedAt:  now,
				FinishedAt: now,
				Message:    "rollback skipped: execution deadline exceeded",
			})
			summary.RollbackFailed++
			summary.FailedSteps = append(summary.FailedSteps, name)
			continue
		}

		summary.RollbackAttempted++
		result, _, err := shellAttempt(ctx, name, s.bundleRoot, step.Rollback, s.input, s.env, s.opts.StepTimeout)
		results = append(results, *result)
		if err != nil {
			summary.RollbackFailed++
			summary.FailedSteps = append(summary.FailedSteps, name)
			continue
		}
		summary.RollbackSucceeded++
	}

	summary.State = compensationState(summary)
	return results, summary
}

// compensationState classifies the pass over the compensation set (the
// steps whose effects need undoing; the failed step is not part of it):
// not_needed when the set is empty; fully_compensated when every member
// declared a rollback and all succeeded; partially_compensated when at
// least one succeeded; not_compensated otherwise.
func compensationState(s *receipt.RollbackSummary) string {
	switch {
	case s.RollbackPlanned == 0 && s.RollbackSkippedWithoutHandler == 0:
		return receipt.RollbackNotNeeded
	case s.RollbackSkippedWithoutHandler == 0 && s.RollbackFailed == 0 && s.RollbackSucceeded == s.RollbackPlanned:
		return receipt.RollbackFullyCompensated
	case s.RollbackSucceeded > 0:
		return receipt.RollbackPartiallyCompensated
	default:
		return receipt.RollbackNotCompensated
	}
}
