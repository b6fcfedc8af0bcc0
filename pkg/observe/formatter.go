// Package observe renders raw execution results into the observation
// text appended to the scratchpad.
package observe

import (
	"fmt"
	"sort"
	"strings"

	"github.com/metahuman-os/operator/pkg/core"
)

// DefaultVerbatimBudget caps verbatim content length in characters.
const DefaultVerbatimBudget = 8192

// Formatter turns execution results into observations. The zero value
// uses the default verbatim budget.
type Formatter struct {
	// VerbatimBudget caps verbatim output; content past the budget is
	// cut and the observation flagged as truncated, never silently.
	VerbatimBudget int
}

// Format renders a result in the requested mode. It is a pure function
// of its inputs.
func (f Formatter) Format(result core.ExecutionResult, mode core.ObservationMode) core.Observation {
	obs := core.Observation{
		Mode:    mode,
		Success: result.Success,
		Error:   result.Error,
	}
	switch mode {
	case core.ModeStructured:
		obs.Content = f.structured(result)
	case core.ModeVerbatim:
		obs.Content, obs.Truncated = f.verbatim(result)
	default:
		obs.Mode = core.ModeNarrative
		obs.Content = f.narrative(result)
	}
	return obs
}

func (f Formatter) narrative(result core.ExecutionResult) string {
	if !result.Success {
		if result.Error != nil {
			return fmt.Sprintf("The action failed: %s (%s).", result.Error.Message, result.Error.Code)
		}
		return "The action failed without a reported cause."
	}
	if result.Error != nil {
		// Negative lookup: classified non-fatal, but the miss itself is
		// the information.
		return fmt.Sprintf("The lookup found nothing: %s.", result.Error.Message)
	}
	if result.Data == nil {
		return "The action succeeded with no output."
	}
	switch data := result.Data.(type) {
	case string:
		if strings.TrimSpace(data) == "" {
			return "The action succeeded with empty output."
		}
		return fmt.Sprintf("The action succeeded. Output: %s", summarize(data, 400))
	case []string:
		return fmt.Sprintf("The action succeeded and returned %d items: %s",
			len(data), summarize(strings.Join(data, ", "), 400))
	case map[string]any:
		return fmt.Sprintf("The action succeeded and returned %d fields.", len(data))
	default:
		return fmt.Sprintf("The action succeeded. Output: %s", summarize(fmt.Sprint(data), 400))
	}
}

func (f Formatter) structured(result core.ExecutionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "success: %t\n", result.Success)
	if result.Error != nil {
		fmt.Fprintf(&b, "error_code: %s\n", result.Error.Code)
		fmt.Fprintf(&b, "error_message: %s\n", result.Error.Message)
	}
	switch data := result.Data.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, data[k])
		}
	case []string:
		fmt.Fprintf(&b, "count: %d\n", len(data))
		for i, item := range data {
			fmt.Fprintf(&b, "item_%d: %s\n", i, item)
		}
	default:
		fmt.Fprintf(&b, "data: %v\n", data)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (f Formatter) verbatim(result core.ExecutionResult) (string, bool) {
	budget := f.VerbatimBudget
	if budget <= 0 {
		budget = DefaultVerbatimBudget
	}
	raw := ""
	switch data := result.Data.(type) {
	case nil:
	case string:
		raw = data
	case []byte:
		raw = string(data)
	default:
		raw = fmt.Sprint(data)
	}
	if len(raw) <= budget {
		return raw, false
	}
	return raw[:budget], true
}

func summarize(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
