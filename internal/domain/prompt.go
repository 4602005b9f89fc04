package domain

import (
	"time"
)

// Log context tags recorded on PromptLog entries.
const (
	LogContextDefense    = "defense"
	LogContextEvaluation = "evaluation"
)

// DefensePrompt is text an account publishes to be attacked. Immutable after
// creation.
type DefensePrompt struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"account_id"`
	Text      string    `json:"prompt_text"`
	CreatedAt time.Time `json:"created_at"`
}

// AttackPrompt is text submitted against a specific defense, carrying the
// judge's verdict and the detector flag. Exactly one row exists per accepted
// submission and rows are never updated.
type AttackPrompt struct {
	ID                 int64     `json:"id"`
	AttackerID         string    `json:"attacker_id"`
	DefenseID          int64     `json:"defense_id"`
	Text               string    `json:"prompt_text"`
	Successful         bool      `json:"successful"`
	EvaluationResponse string    `json:"evaluation_response"`
	Flagged            bool      `json:"flagged"`
	CreatedAt          time.Time `json:"created_at"`
}

// PromptLog is one entry in the append-only audit trail. Exactly one entry
// exists per settled attack.
type PromptLog struct {
	ID        int64     `json:"id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Context   string    `json:"context"`
	Flagged   bool      `json:"flagged"`
	Timestamp time.Time `json:"timestamp"`
}
