package cast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spellrun/spell/pkg/engine"
	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/install"
)

// DockerRunner executes a bundle's step DAG inside a container and
// returns the same report the host scheduler produces.
type DockerRunner interface {
	Run(ctx context.Context, bundle *install.InstalledBundle, input map[string]any, env map[string]string, opts engine.Options) (*engine.Report, error)
}

// CLIDockerRunner shells out to the docker CLI: it mounts the bundle and
// the running binary into the manifest's image and re-invokes the hidden
// exec subcommand, which prints an engine report as JSON on stdout.
type CLIDockerRunner struct {
	Binary string // docker binary; default "docker"
}

const (
	containerBundlePath = "/bundle"
	containerExecPath   = "/opt/spell"
)

// Run launches `docker run` for one cast. The input object is passed on
// stdin; CONNECTOR_* tokens and SPELL_RUNTIME_* settings are forwarded
// into the container environment.
func (r *CLIDockerRunner) Run(ctx context.Context, bundle *install.InstalledBundle, input map[string]any, env map[string]string, opts engine.Options) (*engine.Report, error) {
	binary := r.Binary
	if binary == "" {
		binary = "docker"
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("docker runner: resolve executable: %w", err)
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("docker runner: marshal input: %w", err)
	}

	args := []string{
		"run", "--rm", "-i",
		"-v", bundle.Path + ":" + containerBundlePath + ":ro",
		"-v", self + ":" + containerExecPath + ":ro",
		"-w", containerBundlePath,
	}
	for name, value := range env {
		if strings.HasPrefix(name, "CONNECTOR_") || strings.HasPrefix(name, "SPELL_RUNTIME_") {
			args = append(args, "-e", name+"="+value)
		}
	}
	args = append(args, bundle.Manifest.Runtime.Image,
		containerExecPath, "exec",
		"--bundle", containerBundlePath,
		"--step-timeout-ms", fmt.Sprint(opts.StepTimeout.Milliseconds()),
		"--execution-timeout-ms", fmt.Sprint(opts.ExecutionTimeout.Milliseconds()),
	)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = bytes.NewReader(inputJSON)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// A failed run still reports through stdout when the in-container
		// scheduler got far enough; only fall back to an error when the
		// report is unreadable.
		if report, perr := parseReport(stdout.Bytes()); perr == nil {
			return report, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.New(errs.CodeStepFailed, "docker execution failed: %v: %s", err, headLine(stderr.String()))
	}
	return parseReport(stdout.Bytes())
}

func parseReport(out []byte) (*engine.Report, error) {
	var report engine.Report
	if err := json.Unmarshal(bytes.TrimSpace(out), &report); err != nil {
		return nil, fmt.Errorf("docker runner: parse report: %w", err)
	}
	return &report, nil
}

func headLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
