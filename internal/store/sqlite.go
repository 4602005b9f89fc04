package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mossfit/spc/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	// writeMu serializes write transactions to prevent SQLITE_BUSY under
	// concurrent settlements.
	writeMu       sync.Mutex
	allowNegative bool
}

// NewSQLite creates a new SQLite-backed repository. allowNegative controls
// whether transfers may drive the paying account below zero.
func NewSQLite(dbPath string, allowNegative bool) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, allowNegative: allowNegative}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		balance INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_balance ON accounts(balance);

	CREATE TABLE IF NOT EXISTS defense_prompts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		prompt_text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_defenses_account ON defense_prompts(account_id);

	CREATE TABLE IF NOT EXISTS attack_prompts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attacker_id TEXT NOT NULL REFERENCES accounts(id),
		defense_id INTEGER NOT NULL REFERENCES defense_prompts(id),
		prompt_text TEXT NOT NULL,
		successful INTEGER NOT NULL DEFAULT 0,
		evaluation_response TEXT NOT NULL DEFAULT '',
		flagged INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attacks_defense ON attack_prompts(defense_id);

	CREATE TABLE IF NOT EXISTS prompt_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		context TEXT NOT NULL,
		flagged INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateAccount provisions a new account with the given starting balance.
func (s *SQLiteStore) CreateAccount(ctx context.Context, username string, balance int64) (*domain.Account, error) {
	account := &domain.Account{
		ID:        uuid.NewString(),
		Username:  username,
		Balance:   balance,
		CreatedAt: time.Now(),
	}

	query := `INSERT INTO accounts (id, username, balance, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.Username, account.Balance, account.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}

// GetAccount retrieves an account by id.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT id, username, balance, created_at FROM accounts WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var account domain.Account
	var createdAt int64
	err := row.Scan(&account.ID, &account.Username, &account.Balance, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account row: %w", err)
	}

	account.CreatedAt = time.Unix(createdAt, 0)
	return &account, nil
}

// ListAccountsByBalance returns all accounts, highest balance first, ties
// broken by ascending account id.
func (s *SQLiteStore) ListAccountsByBalance(ctx context.Context) ([]*domain.Account, error) {
	query := `SELECT id, username, balance, created_at FROM accounts ORDER BY balance DESC, id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close account rows", "error", closeErr)
		}
	}()

	var accounts []*domain.Account
	for rows.Next() {
		var account domain.Account
		var createdAt int64
		if err := rows.Scan(&account.ID, &account.Username, &account.Balance, &createdAt); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		account.CreatedAt = time.Unix(createdAt, 0)
		accounts = append(accounts, &account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// Transfer atomically moves amount between two accounts.
func (s *SQLiteStore) Transfer(ctx context.Context, fromID, toID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}
	if fromID == toID {
		return fmt.Errorf("%w: accounts must be distinct", ErrInvalidTransfer)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}
	defer rollback(tx)

	if _, _, err := applyTransfer(ctx, tx, fromID, toID, amount, s.allowNegative); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	return nil
}

// applyTransfer performs the balance movement inside an open transaction and
// returns the resulting (from, to) balances. Rows are read and written in
// ascending id order so concurrent transfers touching overlapping accounts
// always take them in the same sequence.
func applyTransfer(ctx context.Context, tx *sql.Tx, fromID, toID string, amount int64, allowNegative bool) (int64, int64, error) {
	firstID, secondID := fromID, toID
	if firstID > secondID {
		firstID, secondID = secondID, firstID
	}

	balances := make(map[string]int64, 2)
	for _, id := range []string{firstID, secondID} {
		var balance int64
		err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, id).Scan(&balance)
		if err == sql.ErrNoRows {
			return 0, 0, ErrAccountNotFound
		}
		if err != nil {
			return 0, 0, fmt.Errorf("read balance: %w", err)
		}
		balances[id] = balance
	}

	if !allowNegative && balances[fromID] < amount {
		return 0, 0, ErrInsufficientFunds
	}

	deltas := map[string]int64{fromID: -amount, toID: amount}
	for _, id := range []string{firstID, secondID} {
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance + ? WHERE id = ?`, deltas[id], id,
		); err != nil {
			return 0, 0, fmt.Errorf("update balance: %w", err)
		}
	}

	return balances[fromID] - amount, balances[toID] + amount, nil
}

// CreateDefense appends one defense prompt owned by the account.
func (s *SQLiteStore) CreateDefense(ctx context.Context, accountID, text string) (*domain.DefensePrompt, error) {
	defense := &domain.DefensePrompt{
		AccountID: accountID,
		Text:      text,
		CreatedAt: time.Now(),
	}

	query := `INSERT INTO defense_prompts (account_id, prompt_text, created_at) VALUES (?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, defense.AccountID, defense.Text, defense.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert defense prompt: %w", err)
	}

	defense.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("defense prompt id: %w", err)
	}
	return defense, nil
}

// GetDefense retrieves a defense prompt by id.
func (s *SQLiteStore) GetDefense(ctx context.Context, id int64) (*domain.DefensePrompt, error) {
	query := `SELECT id, account_id, prompt_text, created_at FROM defense_prompts WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var defense domain.DefensePrompt
	var createdAt int64
	err := row.Scan(&defense.ID, &defense.AccountID, &defense.Text, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrDefenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan defense row: %w", err)
	}

	defense.CreatedAt = time.Unix(createdAt, 0)
	return &defense, nil
}

// CreateLog appends one audit trail entry.
func (s *SQLiteStore) CreateLog(ctx context.Context, prompt, response, logContext string, flagged bool) (*domain.PromptLog, error) {
	entry := &domain.PromptLog{
		Prompt:    prompt,
		Response:  response,
		Context:   logContext,
		Flagged:   flagged,
		Timestamp: time.Now(),
	}

	query := `INSERT INTO prompt_logs (prompt, response, context, flagged, timestamp) VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		entry.Prompt, entry.Response, entry.Context, entry.Flagged, entry.Timestamp.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert prompt log: %w", err)
	}

	entry.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("prompt log id: %w", err)
	}
	return entry, nil
}

// PromptStats returns aggregate prompt counters.
func (s *SQLiteStore) PromptStats(ctx context.Context) (*PromptStats, error) {
	var stats PromptStats

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM defense_prompts`).Scan(&stats.TotalDefenses); err != nil {
		return nil, fmt.Errorf("count defenses: %w", err)
	}

	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(successful), 0),
		       COALESCE(SUM(flagged), 0)
		FROM attack_prompts`
	if err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalAttacks, &stats.SuccessfulAttacks, &stats.FlaggedAttacks,
	); err != nil {
		return nil, fmt.Errorf("count attacks: %w", err)
	}

	return &stats, nil
}

// SettleAttack commits the attack record, the audit log entry and the
// conditional award transfer as one transaction. Retries with exponential
// backoff on SQLITE_BUSY.
func (s *SQLiteStore) SettleAttack(ctx context.Context, p SettlementParams) (*SettlementOutcome, error) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var outcome *SettlementOutcome
	var err error
	for i := 0; i < maxRetries; i++ {
		outcome, err = s.settleAttackOnce(ctx, p)
		if err == nil {
			return outcome, nil
		}
		if !isSQLiteBusy(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("settlement hit SQLITE_BUSY, retrying",
			"attacker_id", p.AttackerID, "defense_id", p.DefenseID,
			"attempt", i+1, "delay", delay)
		time.Sleep(delay)
	}
	return nil, err
}

func (s *SQLiteStore) settleAttackOnce(ctx context.Context, p SettlementParams) (*SettlementOutcome, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin settlement: %w", err)
	}
	defer rollback(tx)

	now := time.Now()
	attack := &domain.AttackPrompt{
		AttackerID:         p.AttackerID,
		DefenseID:          p.DefenseID,
		Text:               p.Text,
		Successful:         p.Successful,
		EvaluationResponse: p.Response,
		Flagged:            p.Flagged,
		CreatedAt:          now,
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO attack_prompts
			(attacker_id, defense_id, prompt_text, successful, evaluation_response, flagged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attack.AttackerID, attack.DefenseID, attack.Text,
		attack.Successful, attack.EvaluationResponse, attack.Flagged, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert attack prompt: %w", err)
	}
	if attack.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("attack prompt id: %w", err)
	}

	entry := &domain.PromptLog{
		Prompt:    p.LogPrompt,
		Response:  p.Response,
		Context:   p.LogContext,
		Flagged:   p.Flagged,
		Timestamp: now,
	}
	res, err = tx.ExecContext(ctx, `
		INSERT INTO prompt_logs (prompt, response, context, flagged, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		entry.Prompt, entry.Response, entry.Context, entry.Flagged, now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert prompt log: %w", err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("prompt log id: %w", err)
	}

	outcome := &SettlementOutcome{Attack: attack, Log: entry}

	if p.Successful {
		// Award moves from defender to attacker; a failure here aborts the
		// whole settlement, record creation included.
		defenderBalance, attackerBalance, err := applyTransfer(
			ctx, tx, p.DefenderID, p.AttackerID, p.Award, s.allowNegative,
		)
		if err != nil {
			return nil, err
		}
		outcome.DefenderBalance = defenderBalance
		outcome.AttackerBalance = attackerBalance
	} else {
		for _, pair := range []struct {
			id   string
			dest *int64
		}{
			{p.AttackerID, &outcome.AttackerBalance},
			{p.DefenderID, &outcome.DefenderBalance},
		} {
			err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, pair.id).Scan(pair.dest)
			if err == sql.ErrNoRows {
				return nil, ErrAccountNotFound
			}
			if err != nil {
				return nil, fmt.Errorf("read balance: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}
	return outcome, nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Warn("transaction rollback failed", "error", err)
	}
}

// isSQLiteBusy reports whether err is a SQLite concurrency error that
// warrants a retry.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY") ||
		strings.Contains(err.Error(), "database is locked")
}
