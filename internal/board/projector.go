// Package board builds the read-only leaderboard and metrics projections.
package board

import (
	"context"
	"fmt"
	"sort"

	"github.com/mossfit/spc/internal/domain"
	"github.com/mossfit/spc/internal/store"
)

// Reader is the slice of the store the projector needs.
type Reader interface {
	ListAccountsByBalance(ctx context.Context) ([]*domain.Account, error)
	PromptStats(ctx context.Context) (*store.PromptStats, error)
}

// Entry is one leaderboard row.
type Entry struct {
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
}

// Metrics is the aggregate dashboard view.
type Metrics struct {
	TotalDefensePrompts int64   `json:"total_defense_prompts"`
	TotalAttackPrompts  int64   `json:"total_attack_prompts"`
	FlaggedPrompts      int64   `json:"flagged_prompts"`
	AttackSuccessRate   float64 `json:"attack_success_rate"`
	AverageBalance      float64 `json:"average_account_balance"`
}

// Projector recomputes leaderboard and metrics on demand. It holds no state
// of its own.
type Projector struct {
	reader Reader
}

// NewProjector creates a projector over the given reader.
func NewProjector(reader Reader) *Projector {
	return &Projector{reader: reader}
}

// Leaderboard returns all accounts ranked by balance descending, ties broken
// by ascending account id.
func (p *Projector) Leaderboard(ctx context.Context) ([]Entry, error) {
	accounts, err := p.reader.ListAccountsByBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	// The store already orders its result; keep the ranking rule enforced
	// here so any Reader yields the same board.
	sort.SliceStable(accounts, func(i, j int) bool {
		if accounts[i].Balance != accounts[j].Balance {
			return accounts[i].Balance > accounts[j].Balance
		}
		return accounts[i].ID < accounts[j].ID
	})

	entries := make([]Entry, 0, len(accounts))
	for _, account := range accounts {
		entries = append(entries, Entry{Username: account.Username, Balance: account.Balance})
	}
	return entries, nil
}

// Metrics returns the aggregate counters. A system with no attacks reports a
// success rate of zero.
func (p *Projector) Metrics(ctx context.Context) (*Metrics, error) {
	stats, err := p.reader.PromptStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("prompt stats: %w", err)
	}

	accounts, err := p.reader.ListAccountsByBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	metrics := &Metrics{
		TotalDefensePrompts: stats.TotalDefenses,
		TotalAttackPrompts:  stats.TotalAttacks,
		FlaggedPrompts:      stats.FlaggedAttacks,
	}
	if stats.TotalAttacks > 0 {
		metrics.AttackSuccessRate = float64(stats.SuccessfulAttacks) / float64(stats.TotalAttacks) * 100
	}
	if len(accounts) > 0 {
		var total int64
		for _, account := range accounts {
			total += account.Balance
		}
		metrics.AverageBalance = float64(total) / float64(len(accounts))
	}
	return metrics, nil
}
