// Package adapt turns failures into recoverable guidance: fuzzy path
// correction, failure-loop detection, and escalation packaging.
package adapt

import (
	"path"
	"strings"

	"github.com/metahuman-os/operator/pkg/core"
)

// minSimilarity is the normalized score below which no suggestion is
// surfaced; a bad guess is worse than an honest failure.
const minSimilarity = 0.5

// ResolvePath matches a not-found path against the most recent
// directory-listing observation and returns the best candidate, so the
// next planning step sees a suggestion instead of a raw failure.
func ResolvePath(missing string, steps []core.Step) (string, bool) {
	candidates := latestListing(steps)
	if len(candidates) == 0 {
		return "", false
	}
	return bestMatch(missing, candidates)
}

// latestListing walks the scratchpad backwards for the most recent
// successful observation whose raw output is a file listing.
func latestListing(steps []core.Step) []string {
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if step.Observation == nil || !step.Observation.Success {
			continue
		}
		switch raw := step.RawOutput.(type) {
		case []string:
			if len(raw) > 0 {
				return raw
			}
		case []any:
			out := make([]string, 0, len(raw))
			for _, item := range raw {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

func bestMatch(missing string, candidates []string) (string, bool) {
	target := strings.ToLower(path.Base(missing))
	best := ""
	bestScore := 0.0
	for _, candidate := range candidates {
		score := similarity(target, strings.ToLower(path.Base(candidate)))
		if score > bestScore || (score == bestScore && best != "" && len(candidate) < len(best)) {
			best = candidate
			bestScore = score
		}
	}
	if bestScore < minSimilarity {
		return "", false
	}
	return best, true
}

// similarity is 1 - normalized Levenshtein distance. Any reasonable
// ranking heuristic would do here; edit distance is cheap and stable.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
