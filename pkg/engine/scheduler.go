package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/manifest"
	"github.com/spellrun/spell/pkg/receipt"
	"github.com/spellrun/spell/pkg/template"
)

// Options controls one scheduler run.
type Options struct {
	StepTimeout      time.Duration // per shell-step attempt cap; 0 = unbounded
	ExecutionTimeout time.Duration // whole-run deadline; 0 = disabled
	HTTPClient       *http.Client
}

// ExecutedStep records a step that actually ran (not skipped), for the
// rollback planner. Success distinguishes steps whose effects need
// compensation from the step that caused the failure.
type ExecutedStep struct {
	Step    manifest.Step
	Success bool
}

// Result is the scheduler outcome. Steps holds every StepResult produced,
// including results for concurrent siblings of a failed step and skip
// records; Outputs maps step.<name>.stdout / step.<name>.json.
type Result struct {
	Steps    []receipt.StepResult
	Outputs  map[string]any
	Executed []ExecutedStep
	Err      error
}

// Scheduler runs a manifest's step DAG with bounded parallelism.
type Scheduler struct {
	manifest   *manifest.Manifest
	bundleRoot string
	input      map[string]any
	env        map[string]string
	opts       Options
	outputs    map[string]any
}

// NewScheduler builds a scheduler for one cast.
func NewScheduler(m *manifest.Manifest, bundleRoot string, input map[string]any, env map[string]string, opts Options) *Scheduler {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Scheduler{manifest: m, bundleRoot: bundleRoot, input: input, env: env, opts: opts}
}

type stepOutcome struct {
	index   int
	result  *receipt.StepResult
	output  any // stdout string for shell, parsed body for http
	spawned bool
	err     error
}

// Run executes the DAG. On failure the returned Result still carries every
// StepResult produced so far; rollback is the caller's concern.
func (s *Scheduler) Run(ctx context.Context) Result {
	start := time.Now()
	var deadline time.Time
	if s.opts.ExecutionTimeout > 0 {
		deadline = start.Add(s.opts.ExecutionTimeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	s.outputs = make(map[string]any)
	res := Result{Outputs: s.outputs}

	pending := make(map[string]int, len(s.manifest.Steps)) // name -> manifest index
	for i, step := range s.manifest.Steps {
		pending[step.Name] = i
	}
	completed := make(map[string]bool, len(s.manifest.Steps))

	maxParallel := s.manifest.Runtime.MaxParallelSteps
	if maxParallel < 1 {
		maxParallel = 1
	}

	for len(pending) > 0 {
		ready := s.readySteps(pending, completed)
		if len(ready) == 0 {
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			sort.Strings(names)
			res.Err = errs.New(errs.CodeStepDeadlock, "step dependency deadlock: %s", strings.Join(names, ", "))
			return res
		}

		// Conditional skips resolve serially before the batch launches so
		// siblings can observe a consistent completed set.
		launch := ready[:0]
		for _, idx := range ready {
			step := s.manifest.Steps[idx]
			if step.When != nil {
				skip, err := s.evalCondition(step.When)
				if err != nil {
					res.Err = err
					return res
				}
				if skip {
					res.Steps = append(res.Steps, skipResult(step))
					completed[step.Name] = true
					delete(pending, step.Name)
					continue
				}
			}
			launch = append(launch, idx)
		}
		if len(launch) == 0 {
			continue
		}
		if len(launch) > maxParallel {
			launch = launch[:maxParallel]
		}

		// Deadline gate before launching the batch.
		if !deadline.IsZero() && time.Until(deadline) <= 0 {
			res.Err = s.timeoutErr(s.manifest.Steps[launch[0]].Name)
			return res
		}

		outcomes := s.runBatch(ctx, launch, deadline)

		// A batch's outputs are serialized on completion so they are all
		// visible before the next batch starts.
		var firstErr error
		for _, out := range outcomes {
			step := s.manifest.Steps[out.index]
			res.Steps = append(res.Steps, *out.result)
			if out.spawned {
				res.Executed = append(res.Executed, ExecutedStep{Step: step, Success: out.err == nil})
			}
			if out.err != nil {
				if firstErr == nil {
					firstErr = out.err
				}
				continue
			}
			switch step.Uses {
			case manifest.UsesShell:
				res.Outputs["step."+step.Name+".stdout"] = out.output
			case manifest.UsesHTTP:
				res.Outputs["step."+step.Name+".json"] = out.output
			}
			completed[step.Name] = true
		}
		for _, out := range outcomes {
			delete(pending, s.manifest.Steps[out.index].Name)
		}
		if firstErr != nil {
			res.Err = firstErr
			return res
		}
	}

	return res
}

// readySteps returns pending steps whose dependencies are all completed,
// stable-sorted by manifest index.
func (s *Scheduler) readySteps(pending map[string]int, completed map[string]bool) []int {
	var ready []int
	for _, idx := range pending {
		ok := true
		for _, dep := range s.manifest.Steps[idx].DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, idx)
		}
	}
	sort.Ints(ready)
	return ready
}

// runBatch launches the batch and waits for every member to settle, so on
// any failure each concurrent sibling still produces a StepResult.
func (s *Scheduler) runBatch(ctx context.Context, indices []int, deadline time.Time) []stepOutcome {
	outcomes := make([]stepOutcome, len(indices))
	var wg sync.WaitGroup
	for i, idx := range indices {
		wg.Add(1)
		go func(slot, stepIdx int) {
			defer wg.Done()
			outcomes[slot] = s.runStepWithRetry(ctx, stepIdx, deadline)
		}(i, idx)
	}
	wg.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].index < outcomes[j].index })
	return outcomes
}

// runStepWithRetry performs up to max_attempts attempts with backoff_ms
// between attempts. Backoff sleeps never run past the execution deadline.
func (s *Scheduler) runStepWithRetry(ctx context.Context, idx int, deadline time.Time) stepOutcome {
	step := s.manifest.Steps[idx]
	attempts, backoff := 1, time.Duration(0)
	if step.Retry != nil {
		attempts = step.Retry.MaxAttempts
		backoff = time.Duration(step.Retry.BackoffMs) * time.Millisecond
	}

	var out stepOutcome
	for attempt := 1; attempt <= attempts; attempt++ {
		if !deadline.IsZero() && time.Until(deadline) <= 0 {
			return s.timeoutOutcome(idx, step, attempt > 1)
		}

		out = s.runOnce(ctx, idx, step)

		if out.err == nil {
			return out
		}
		if ctx.Err() != nil {
			return s.interruptOutcome(ctx, idx, step, true)
		}
		if attempt == attempts {
			return out
		}

		// Non-final attempt: annotate and back off.
		out.result.Message = fmt.Sprintf("%s (attempt %d/%d)", out.result.Message, attempt, attempts)

		if backoff > 0 {
			if !deadline.IsZero() && time.Until(deadline) < backoff {
				return s.timeoutOutcome(idx, step, true)
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return s.interruptOutcome(ctx, idx, step, true)
			}
		}
	}
	return out
}

func (s *Scheduler) runOnce(ctx context.Context, idx int, step manifest.Step) stepOutcome {
	switch step.Uses {
	case manifest.UsesShell:
		result, stdout, err := shellAttempt(ctx, step.Name, s.bundleRoot, step.Run, s.input, s.env, s.opts.StepTimeout)
		return stepOutcome{index: idx, result: result, output: stdout, spawned: true, err: err}
	case manifest.UsesHTTP:
		result, body, err := httpAttempt(ctx, s.opts.HTTPClient, step.Name, s.bundleRoot, step.Run, s.input, s.env)
		return stepOutcome{index: idx, result: result, output: body, spawned: true, err: err}
	default:
		res := &receipt.StepResult{StepName: step.Name, Uses: step.Uses, StartedAt: time.Now().UTC(), FinishedAt: time.Now().UTC()}
		err := errs.New(errs.CodeStepFailed, "step failed: %s (unknown executor %q)", step.Name, step.Uses)
		res.Message = err.Message
		return stepOutcome{index: idx, result: res, err: err}
	}
}

func (s *Scheduler) timeoutErr(stepName string) error {
	return errs.New(errs.CodeExecutionTimeout,
		"cast execution timed out after %dms while running step '%s'",
		s.opts.ExecutionTimeout.Milliseconds(), stepName)
}

func (s *Scheduler) timeoutOutcome(idx int, step manifest.Step, spawned bool) stepOutcome {
	return abortedOutcome(idx, step, spawned, s.timeoutErr(step.Name))
}

// interruptOutcome classifies a context interruption mid-step: the
// execution deadline reports EXECUTION_TIMEOUT, a cooperative cancel
// reports CANCELED.
func (s *Scheduler) interruptOutcome(ctx context.Context, idx int, step manifest.Step, spawned bool) stepOutcome {
	if errors.Is(ctx.Err(), context.Canceled) {
		err := errs.New(errs.CodeCanceled, "cast execution canceled while running step '%s'", step.Name)
		return abortedOutcome(idx, step, spawned, err)
	}
	return s.timeoutOutcome(idx, step, spawned)
}

func abortedOutcome(idx int, step manifest.Step, spawned bool, err error) stepOutcome {
	now := time.Now().UTC()
	return stepOutcome{
		index: idx,
		result: &receipt.StepResult{
			StepName:   step.Name,
			Uses:       step.Uses,
			StartedAt:  now,
			FinishedAt: now,
			Message:    err.Error(),
		},
		spawned: spawned,
		err:     err,
	}
}

// evalCondition evaluates a step's when clause. A missing output reference
// is a skip, not an error.
func (s *Scheduler) evalCondition(c *manifest.Condition) (skip bool, err error) {
	// The Result outputs map is only written between batches, so reading it
	// here (before the next batch launches) is race-free.
	var val any
	var found bool
	if c.InputPath != "" {
		val, found = template.GetPath(s.input, c.InputPath)
	} else {
		v, refErr := template.ResolveOutputReference(s.outputs, c.OutputPath)
		var notFound *template.ErrOutputNotFound
		if refErr != nil {
			if errors.As(refErr, &notFound) {
				return true, nil
			}
			return false, refErr
		}
		val, found = v, true
	}
	if !found {
		return true, nil
	}

	if c.Equals != nil {
		return !looseEqual(val, *c.Equals), nil
	}
	return looseEqual(val, *c.NotEquals), nil
}

// looseEqual compares dynamic JSON scalars by their string rendering, so
// YAML-typed manifest literals match JSON-typed runtime values.
func looseEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func skipResult(step manifest.Step) receipt.StepResult {
	now := time.Now().UTC()
	return receipt.StepResult{
		StepName:   step.Name,
		Uses:       step.Uses,
		StartedAt:  now,
		FinishedAt: now,
		Success:    true,
		Message:    "skipped by condition",
	}
}
