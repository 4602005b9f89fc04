// Package detect classifies attack prompt text as suspicious or not.
// Flagging is advisory: callers fail open when classification errors out.
package detect

import (
	"context"
	"regexp"
	"strings"
)

// Classifier decides whether an attack prompt looks like a known injection
// attempt. Implementations must be side-effect free.
type Classifier interface {
	Classify(ctx context.Context, text string) (bool, error)
}

// defaultMarkers are phrases commonly seen in prompt injection payloads.
var defaultMarkers = []string{
	`ignore (all |any )?(previous|prior|above) (instructions|prompts|rules)`,
	`disregard (the |your )?(system|previous) (prompt|instructions)`,
	`you are (now|no longer)`,
	`pretend (to be|you are)`,
	`repeat (the|your) (text|prompt|instructions) above`,
	`reveal (the|your) (system prompt|secret|password)`,
	`jailbreak`,
	`developer mode`,
}

// HeuristicClassifier flags prompts matching a fixed marker list.
type HeuristicClassifier struct {
	patterns []*regexp.Regexp
}

// NewHeuristicClassifier builds a classifier from the default marker list.
func NewHeuristicClassifier() *HeuristicClassifier {
	patterns := make([]*regexp.Regexp, 0, len(defaultMarkers))
	for _, m := range defaultMarkers {
		patterns = append(patterns, regexp.MustCompile(m))
	}
	return &HeuristicClassifier{patterns: patterns}
}

// Classify reports whether text matches any known injection marker.
func (c *HeuristicClassifier) Classify(ctx context.Context, text string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	lowered := strings.ToLower(text)
	for _, p := range c.patterns {
		if p.MatchString(lowered) {
			return true, nil
		}
	}
	return false, nil
}
