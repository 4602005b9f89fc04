// Package domain contains core domain types for the prompt exchange.
package domain

import (
	"time"
)

// Account is a participant's balance-holding identity. Balances are kept in
// integer minor units; they are only ever mutated through the ledger's
// atomic transfer.
type Account struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}
