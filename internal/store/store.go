// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/mossfit/spc/internal/domain"
)

// Sentinel errors surfaced by the store. Handlers map these to HTTP status
// codes with errors.Is.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrDefenseNotFound   = errors.New("defense prompt not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTransfer   = errors.New("invalid transfer")
)

// SettlementParams describes one judged attack submission ready to settle.
type SettlementParams struct {
	AttackerID string
	DefenderID string
	DefenseID  int64
	Text       string
	Successful bool
	Response   string
	Flagged    bool
	// Award is transferred from defender to attacker iff Successful.
	Award int64
	// LogPrompt and LogContext fill the audit trail entry.
	LogPrompt  string
	LogContext string
}

// SettlementOutcome is the durable result of an atomic settlement. Balances
// are the committed post-settlement values of both parties.
type SettlementOutcome struct {
	Attack          *domain.AttackPrompt
	Log             *domain.PromptLog
	AttackerBalance int64
	DefenderBalance int64
}

// PromptStats aggregates prompt counters for the metrics projection.
type PromptStats struct {
	TotalDefenses     int64
	TotalAttacks      int64
	SuccessfulAttacks int64
	FlaggedAttacks    int64
}

// Ledger holds account balances and performs atomic conserved-sum transfers.
type Ledger interface {
	// CreateAccount provisions a new account with the given starting balance.
	CreateAccount(ctx context.Context, username string, balance int64) (*domain.Account, error)

	// GetAccount retrieves an account by id, ErrAccountNotFound if absent.
	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	// ListAccountsByBalance returns all accounts ordered by balance
	// descending, ties broken by account id ascending.
	ListAccountsByBalance(ctx context.Context) ([]*domain.Account, error)

	// Transfer atomically moves amount from one account to the other.
	// amount must be positive and the accounts distinct. When negative
	// balances are disallowed, ErrInsufficientFunds is returned and no
	// balance changes.
	Transfer(ctx context.Context, fromID, toID string, amount int64) error
}

// PromptRepository persists defense, attack and audit-log records. Attack
// and log rows are append-only: no update or delete is exposed.
type PromptRepository interface {
	// CreateDefense appends one defense prompt owned by the account.
	CreateDefense(ctx context.Context, accountID, text string) (*domain.DefensePrompt, error)

	// GetDefense retrieves a defense by id, ErrDefenseNotFound if absent.
	GetDefense(ctx context.Context, id int64) (*domain.DefensePrompt, error)

	// CreateLog appends one audit trail entry.
	CreateLog(ctx context.Context, prompt, response, logContext string, flagged bool) (*domain.PromptLog, error)

	// PromptStats returns aggregate prompt counters.
	PromptStats(ctx context.Context) (*PromptStats, error)
}

// Repository is the full persistence surface: ledger, prompt records and the
// atomic settlement used by the orchestrator.
type Repository interface {
	Ledger
	PromptRepository

	// SettleAttack commits the attack record, its audit log entry and, iff
	// the attack succeeded, the award transfer, as a single all-or-nothing
	// transaction. A transfer failure rolls back the record creation too.
	SettleAttack(ctx context.Context, p SettlementParams) (*SettlementOutcome, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
