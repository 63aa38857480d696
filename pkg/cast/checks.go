package cast

import (
	"fmt"

	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/manifest"
	"github.com/spellrun/spell/pkg/receipt"
	"github.com/spellrun/spell/pkg/template"
)

// EvaluateChecks runs every declared check against the outputs map. All
// checks are evaluated even when an earlier one fails; the returned error
// names the first failing check.
func EvaluateChecks(checks []manifest.Check, outputs map[string]any) ([]receipt.CheckResult, error) {
	if len(checks) == 0 {
		return nil, nil
	}

	results := make([]receipt.CheckResult, 0, len(checks))
	var firstErr error
	for _, chk := range checks {
		res := evalCheck(chk, outputs)
		results = append(results, res)
		if !res.Success && firstErr == nil {
			firstErr = errs.New(errs.CodeStepFailed, "check failed: %s (%s)", chk.Name, res.Message)
		}
	}
	return results, firstErr
}

func evalCheck(chk manifest.Check, outputs map[string]any) receipt.CheckResult {
	val, err := template.ResolveOutputReference(outputs, chk.Output)
	if err != nil {
		// A missing output is a check failure here, not a skip.
		return receipt.CheckResult{Name: chk.Name, Message: err.Error()}
	}

	switch {
	case chk.Equals != nil:
		if looseEqual(val, *chk.Equals) {
			return receipt.CheckResult{Name: chk.Name, Success: true}
		}
		return receipt.CheckResult{
			Name:    chk.Name,
			Message: fmt.Sprintf("expected %v, got %v", *chk.Equals, val),
		}
	case chk.NotEquals != nil:
		if !looseEqual(val, *chk.NotEquals) {
			return receipt.CheckResult{Name: chk.Name, Success: true}
		}
		return receipt.CheckResult{
			Name:    chk.Name,
			Message: fmt.Sprintf("value must not equal %v", *chk.NotEquals),
		}
	default:
		return receipt.CheckResult{Name: chk.Name, Message: "check declares neither equals nor not_equals"}
	}
}

// looseEqual compares dynamic scalars by string rendering, matching the
// condition evaluator's semantics.
func looseEqual(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
