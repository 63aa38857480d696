// Package engine runs the declared steps of a bundle: shell and http
// executors, the dependency-ordered scheduler with bounded parallelism and
// retries, and the reverse-order rollback planner.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/receipt"
)

// shellAttempt spawns the step's run file directly (no shell interpretation)
// with cwd = bundleRoot and the inherited env plus INPUT_JSON. The step
// succeeds iff the process exits 0. maxDuration bounds the attempt; zero
// means unbounded (the execution deadline, if any, still applies via ctx).
func shellAttempt(ctx context.Context, name, bundleRoot, runPath string, input map[string]any, env map[string]string, maxDuration time.Duration) (*receipt.StepResult, string, error) {
	res := &receipt.StepResult{StepName: name, Uses: "shell", StartedAt: time.Now().UTC()}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		res.FinishedAt = time.Now().UTC()
		res.Message = fmt.Sprintf("encode input: %v", err)
		return res, "", errs.New(errs.CodeStepFailed, "step failed: %s (input encoding)", name)
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if maxDuration > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, maxDuration)
		defer cancel()
	}

	cmd := exec.CommandContext(attemptCtx, filepath.Join(bundleRoot, runPath))
	cmd.Dir = bundleRoot
	cmd.Env = append(os.Environ(), "INPUT_JSON="+string(inputJSON))
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	// The step runs in its own process group and the whole group is killed
	// on timeout or cancel; otherwise a backgrounded child inheriting the
	// stdout pipe keeps Run blocked past the deadline. WaitDelay backstops
	// a group member that survives the kill.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(runErr, exec.ErrWaitDelay) {
		// The step exited 0 but a surviving child held the pipes open.
		runErr = nil
	}
	res.FinishedAt = time.Now().UTC()
	res.StdoutHead = receipt.Head(stdout.String())
	res.StderrHead = receipt.Head(stderr.String())

	if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// The per-attempt limit fired, not the execution deadline.
		msg := fmt.Sprintf("shell step '%s' timed out after %dms", name, maxDuration.Milliseconds())
		res.Message = msg
		return res, stdout.String(), errs.New(errs.CodeStepTimeout, "%s", msg)
	}
	if ctx.Err() != nil {
		res.Message = "canceled"
		return res, stdout.String(), ctx.Err()
	}
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			res.ExitCode = &code
			msg := fmt.Sprintf("step failed: %s (exit code %d)", name, code)
			res.Message = msg
			return res, stdout.String(), errs.New(errs.CodeStepFailed, "%s", msg)
		}
		res.Message = runErr.Error()
		return res, stdout.String(), errs.New(errs.CodeStepFailed, "step failed: %s (%v)", name, runErr)
	}

	zero := 0
	res.ExitCode = &zero
	res.Success = true
	return res, stdout.String(), nil
}
