// Package judge evaluates attack prompts against defense prompts.
//
// The judge is an external collaborator: the orchestrator treats it as
// potentially slow and potentially failing, and applies no mutation before a
// verdict arrives.
package judge

import (
	"context"
)

// Judge responses for the two verdict outcomes.
const (
	ResponseGranted = "access granted"
	ResponseDenied  = "access denied"
)

// Verdict is the judge's decision on one (defense, attack) pair.
type Verdict struct {
	Successful bool   `json:"successful"`
	Response   string `json:"response"`
}

// Evaluator judges whether an attack prompt defeats a defense prompt.
type Evaluator interface {
	Judge(ctx context.Context, defenseText, attackText string) (Verdict, error)
}
