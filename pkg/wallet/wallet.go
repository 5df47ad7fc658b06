// Package wallet is the chip ledger. Table buy-ins reserve funds before a
// player is seated; the hold is either released (seat never materialised)
// or committed when the player leaves the table, with winnings credited
// separately. Every movement leaves a transaction row.
package wallet

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientFunds is returned when a reserve exceeds the balance.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")

	// ErrReservationNotFound is returned for unknown or already settled
	// reservations.
	ErrReservationNotFound = errors.New("wallet: reservation not found")

	// ErrPlayerNotFound is returned when the player has no ledger entry.
	ErrPlayerNotFound = errors.New("wallet: player not found")
)

// Transaction types recorded in the ledger.
const (
	TxnDeposit = "deposit"
	TxnReserve = "reserve"
	TxnRelease = "release"
	TxnLoss    = "loss"
	TxnWin     = "win"
)

// Reservation is a hold on a player's balance backing a table buy-in.
type Reservation struct {
	ID        string
	PlayerID  string
	Amount    int64
	CreatedAt time.Time
}

// Transaction is one ledger movement.
type Transaction struct {
	ID          int64
	PlayerID    string
	Amount      int64
	Type        string
	Description string
	CreatedAt   time.Time
}

// Ledger is the chip accounting backend.
type Ledger interface {
	// Balance returns the player's available balance, holds excluded.
	Balance(ctx context.Context, playerID string) (int64, error)

	// Deposit credits the player, creating the account if needed.
	Deposit(ctx context.Context, playerID string, amount int64, description string) error

	// Reserve places a hold for a buy-in. Fails with
	// ErrInsufficientFunds without touching the balance.
	Reserve(ctx context.Context, playerID string, amount int64, description string) (*Reservation, error)

	// Release returns a hold to the balance.
	Release(ctx context.Context, reservationID string, description string) error

	// CommitLoss consumes a hold: the chips went to the table and were
	// lost there.
	CommitLoss(ctx context.Context, reservationID string, description string) error

	// CommitWin credits chips carried away from a table.
	CommitWin(ctx context.Context, playerID string, amount int64, description string) error

	// History returns the player's most recent transactions, newest
	// first, up to limit.
	History(ctx context.Context, playerID string, limit int) ([]Transaction, error)

	Close() error
}
