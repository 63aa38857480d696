package api

import (
	"context"
	"time"

	"github.com/spellrun/spell/pkg/cast"
	"github.com/spellrun/spell/pkg/errs"
)

// launch runs one queued execution asynchronously. The per-execution
// cancel func backs both the cancel endpoint and server shutdown.
func (s *Server) launch(executionID string) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancels.Store(executionID, cancel)
	s.executions.Add(1)
	go func() {
		defer s.executions.Done()
		defer s.cancels.Delete(executionID)
		defer cancel()
		s.execute(ctx, executionID)
	}()
}

func (s *Server) execute(ctx context.Context, executionID string) {
	rec, err := s.store.Update(executionID, func(r *Record) error {
		// A cancel that lands before this point keeps the execution from
		// ever starting.
		if r.Status != StatusQueued {
			return errs.New(errs.CodeAlreadyTerminal, "execution %s is %s", r.ExecutionID, r.Status)
		}
		now := time.Now().UTC()
		r.Status = StatusRunning
		r.StartedAt = &now
		return nil
	})
	if err != nil {
		return
	}

	_, castErr := s.caster.Cast(ctx, cast.Options{
		ID:               rec.SpellID,
		Version:          rec.Version,
		ExecutionID:      rec.ExecutionID,
		Input:            rec.Input,
		DryRun:           rec.DryRun,
		Yes:              rec.Flags.Yes,
		AllowBilling:     rec.Flags.AllowBilling,
		RequireSignature: rec.Flags.RequireSignature,
	})

	_, err = s.store.Update(executionID, func(r *Record) error {
		now := time.Now().UTC()
		r.FinishedAt = &now
		if r.Status == StatusCanceled {
			// The cancel endpoint already flipped the record; keep it and
			// only attach the failure detail.
			if castErr != nil {
				r.Error = castErr.Error()
			}
			return nil
		}
		switch {
		case castErr == nil:
			r.Status = StatusSucceeded
		case ctx.Err() == context.Canceled:
			r.Status = StatusCanceled
			r.Error = castErr.Error()
		case errs.CodeOf(castErr) == errs.CodeExecutionTimeout:
			r.Status = StatusTimeout
			r.ErrorCode = errs.CodeExecutionTimeout
			r.Error = castErr.Error()
		default:
			r.Status = StatusFailed
			r.ErrorCode = errs.CodeOf(castErr)
			r.Error = castErr.Error()
		}
		return nil
	})
	if err != nil {
		s.logger.Error("execution finalize failed", "execution_id", executionID, "error", err)
	}
	if castErr != nil {
		s.logger.Warn("execution failed", "execution_id", executionID, "error", castErr)
	}

	s.store.Prune(s.cfg.API.LogMaxFiles, s.cfg.API.LogRetentionDays, s.caster.Receipts.Path)
}
