package domain

// Dashboard event types.
const (
	EventAttackSettled = "attack_settled"
	EventDefensePosted = "defense_posted"
)

// DashboardEvent is the payload fanned out to connected dashboard observers
// after a settlement or a defense submission. Balance fields carry the
// post-settlement values.
type DashboardEvent struct {
	Type            string `json:"type"`
	AttackID        int64  `json:"attack_id,omitempty"`
	DefenseID       int64  `json:"defense_id,omitempty"`
	AttackerID      string `json:"attacker_id,omitempty"`
	DefenderID      string `json:"defender_id,omitempty"`
	Successful      bool   `json:"successful"`
	Flagged         bool   `json:"flagged"`
	AttackerBalance int64  `json:"attacker_balance,omitempty"`
	DefenderBalance int64  `json:"defender_balance,omitempty"`
}
