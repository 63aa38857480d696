package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spellrun/spell/pkg/engine"
	"github.com/spellrun/spell/pkg/manifest"
)

// runExecCmd is the hidden in-container entrypoint used by the docker
// runner: it reads the input object from stdin, runs the step DAG against
// the mounted bundle, and prints the engine report as JSON on stdout.
func runExecCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("exec", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	bundlePath := cmd.String("bundle", "", "bundle root directory")
	stepTimeoutMs := cmd.Int("step-timeout-ms", 0, "per-step attempt timeout")
	execTimeoutMs := cmd.Int("execution-timeout-ms", 0, "whole-run timeout")
	if err := cmd.Parse(args); err != nil {
		return 1
	}
	if *bundlePath == "" {
		fmt.Fprintln(stderr, "exec: --bundle is required")
		return 1
	}

	m, err := manifest.Load(filepath.Join(*bundlePath, "spell.yaml"))
	if err != nil {
		return fail(stderr, err)
	}

	input := make(map[string]any)
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fail(stderr, fmt.Errorf("exec: read input: %w", err))
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &input); err != nil {
			return fail(stderr, fmt.Errorf("exec: parse input: %w", err))
		}
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	report := engine.Execute(context.Background(), m, *bundlePath, input, env, engine.Options{
		StepTimeout:      time.Duration(*stepTimeoutMs) * time.Millisecond,
		ExecutionTimeout: time.Duration(*execTimeoutMs) * time.Millisecond,
	})

	out, err := json.Marshal(report)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, string(out))
	if report.Failed() {
		return 1
	}
	return 0
}
