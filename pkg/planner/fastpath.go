package planner

import (
	"regexp"
	"strings"
)

// The fast path skips planning and completion checking for goals that
// are unambiguously pure conversation, so trivial chat never pays for
// reasoning calls that add no value. Classification errs toward the
// full loop: anything ambiguous takes the planner path.

var greetingPattern = regexp.MustCompile(`(?i)^(hi|hey|hello|yo|good (morning|afternoon|evening)|how are you|how's it going|what's up|thanks?|thank you|bye|goodbye|good night)\b`)

var opinionPattern = regexp.MustCompile(`(?i)^(what do you think|do you (like|prefer|believe)|how do you feel|what('s| is) your (favorite|opinion|take))\b`)

// actionVerbs are strong signals that the goal needs the full loop.
var actionVerbs = []string{
	"list", "read", "write", "create", "delete", "remove", "open",
	"search", "find", "look up", "lookup", "fetch", "download",
	"run", "execute", "install", "update", "upgrade", "move", "copy",
	"rename", "send", "email", "schedule", "remind", "add", "edit",
	"fix", "build", "deploy", "commit", "push", "pull", "check",
	"show me", "summarize", "translate",
}

var pathLikePattern = regexp.MustCompile(`[\w-]+\.[\w]{1,5}\b|/[\w./-]+`)

// IsPureConversational reports whether a goal is unambiguously plain
// conversation: greeting or opinion shaped, with no action verbs and no
// path-shaped tokens.
func IsPureConversational(goal string) bool {
	trimmed := strings.TrimSpace(goal)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, verb := range actionVerbs {
		if mentionsVerb(lower, verb) {
			return false
		}
	}
	if pathLikePattern.MatchString(trimmed) {
		return false
	}
	return greetingPattern.MatchString(trimmed) || opinionPattern.MatchString(trimmed)
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9']+`)

// mentionsVerb matches the verb and its common inflections so that
// "deleting the cache" is still recognized as a task.
func mentionsVerb(lower, verb string) bool {
	if strings.Contains(verb, " ") {
		return strings.Contains(lower, verb)
	}
	for _, token := range tokenSplit.Split(lower, -1) {
		if token == verb {
			return true
		}
		if strings.HasPrefix(token, verb) {
			switch token[len(verb):] {
			case "s", "es", "d", "ed", "ing":
				return true
			}
		}
		// verbs ending in e drop it before -ing (delete -> deleting)
		if strings.HasSuffix(verb, "e") && token == verb[:len(verb)-1]+"ing" {
			return true
		}
	}
	return false
}
