package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/receipt"
	"github.com/spellrun/spell/pkg/template"
)

// httpRequestSpec is the JSON document in an http step's run file, expanded
// with the template engine against {INPUT.*, ENV.*} before dispatch.
type httpRequestSpec struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// httpAttempt performs one http step attempt. The context carries the
// cancellation signal that fires on cancel or at the execution deadline.
func httpAttempt(ctx context.Context, client *http.Client, name, bundleRoot, runPath string, input map[string]any, env map[string]string) (*receipt.StepResult, any, error) {
	res := &receipt.StepResult{StepName: name, Uses: "http", StartedAt: time.Now().UTC()}
	fail := func(format string, args ...any) (*receipt.StepResult, any, error) {
		res.FinishedAt = time.Now().UTC()
		msg := fmt.Sprintf(format, args...)
		res.Message = msg
		return res, nil, errs.New(errs.CodeStepFailed, "%s", msg)
	}

	raw, err := os.ReadFile(filepath.Join(bundleRoot, runPath))
	if err != nil {
		return fail("step failed: %s (read %s: %v)", name, runPath, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fail("step failed: %s (run file is not JSON: %v)", name, err)
	}

	expanded, err := template.Apply(doc, input, env)
	if err != nil {
		return fail("step failed: %s (%v)", name, err)
	}
	specJSON, err := json.Marshal(expanded)
	if err != nil {
		return fail("step failed: %s (re-encode request: %v)", name, err)
	}
	var spec httpRequestSpec
	if err := json.Unmarshal(specJSON, &spec); err != nil {
		return fail("step failed: %s (invalid request spec: %v)", name, err)
	}
	if spec.Method == "" || spec.URL == "" {
		return fail("step failed: %s (request spec requires method and url)", name)
	}

	headers := make(map[string]string, len(spec.Headers))
	for k, v := range spec.Headers {
		headers[strings.ToLower(k)] = v
	}

	var bodyReader io.Reader
	if spec.Body != nil {
		switch b := spec.Body.(type) {
		case string:
			bodyReader = strings.NewReader(b)
		default:
			encoded, err := json.Marshal(b)
			if err != nil {
				return fail("step failed: %s (encode body: %v)", name, err)
			}
			bodyReader = bytes.NewReader(encoded)
			if _, ok := headers["content-type"]; !ok {
				headers["content-type"] = "application/json"
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(spec.Method), spec.URL, bodyReader)
	if err != nil {
		return fail("step failed: %s (build request: %v)", name, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			res.FinishedAt = time.Now().UTC()
			res.Message = "canceled"
			return res, nil, ctx.Err()
		}
		return fail("step failed: %s (%v)", name, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail("step failed: %s (read response: %v)", name, err)
	}

	// Parse the body as JSON when possible, keep text otherwise.
	var parsed any
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		parsed = string(bodyBytes)
	}

	res.FinishedAt = time.Now().UTC()
	res.StdoutHead = receipt.Head(string(bodyBytes))
	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("step failed: %s (status %d)", name, resp.StatusCode)
		res.Message = msg
		return res, parsed, errs.New(errs.CodeStepFailed, "%s", msg)
	}

	res.Success = true
	return res, parsed, nil
}
