package engine

import (
	"context"
	"time"

	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/manifest"
	"github.com/spellrun/spell/pkg/receipt"
)

// Report is the serializable outcome of one engine run: the step results
// in completion order (rollback results appended), the outputs map, and
// the failure, if any. The docker runner emits this exact JSON from inside
// the container.
type Report struct {
	Steps     []receipt.StepResult     `json:"steps"`
	Outputs   map[string]any           `json:"outputs,omitempty"`
	Rollback  *receipt.RollbackSummary `json:"rollback,omitempty"`
	Error     string                   `json:"error,omitempty"`
	ErrorCode string                   `json:"error_code,omitempty"`
}

// Failed reports whether the run ended in failure.
func (r *Report) Failed() bool { return r.Error != "" }

// Execute runs the manifest's DAG and, on failure, the rollback pass.
func Execute(ctx context.Context, m *manifest.Manifest, bundleRoot string, input map[string]any, env map[string]string, opts Options) *Report {
	start := time.Now()
	var deadline time.Time
	if opts.ExecutionTimeout > 0 {
		deadline = start.Add(opts.ExecutionTimeout)
	}

	sched := NewScheduler(m, bundleRoot, input, env, opts)
	result := sched.Run(ctx)

	report := &Report{Steps: result.Steps, Outputs: result.Outputs}
	if result.Err == nil {
		return report
	}

	report.Error = result.Err.Error()
	report.ErrorCode = errs.CodeOf(result.Err)

	// Rollback runs detached from the cancel/timeout signal that ended the
	// run, so handlers still execute after a cancel; the wall-clock
	// deadline bounds the pass.
	rollbackSteps, summary := sched.RunRollback(context.WithoutCancel(ctx), result.Executed, deadline)
	report.Steps = append(report.Steps, rollbackSteps...)
	report.Rollback = summary
	return report
}
