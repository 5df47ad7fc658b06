package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// store implements Ledger over database/sql. The dialect only differs in
// placeholder style and DDL, handled by rebind and the schema passed in.
type store struct {
	db       *sql.DB
	bindDollar bool
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *store) rebind(query string) string {
	if !s.bindDollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *store) Balance(ctx context.Context, playerID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT balance FROM players WHERE id = ?"), playerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrPlayerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("wallet: balance: %w", err)
	}
	return balance, nil
}

func (s *store) Deposit(ctx context.Context, playerID string, amount int64, description string) error {
	if amount <= 0 {
		return fmt.Errorf("wallet: deposit must be positive, got %d", amount)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO players (id, name, balance) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET balance = players.balance + ?`),
		playerID, playerID, amount, amount); err != nil {
		return fmt.Errorf("wallet: deposit: %w", err)
	}
	if err := s.record(ctx, tx, playerID, amount, TxnDeposit, description); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *store) Reserve(ctx context.Context, playerID string, amount int64, description string) (*Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("wallet: reserve must be positive, got %d", amount)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, s.rebind(
		"SELECT balance FROM players WHERE id = ?"), playerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("wallet: reserve: %w", err)
	}
	if balance < amount {
		return nil, ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		"UPDATE players SET balance = balance - ? WHERE id = ?"), amount, playerID); err != nil {
		return nil, fmt.Errorf("wallet: reserve: %w", err)
	}

	res := &Reservation{ID: uuid.NewString(), PlayerID: playerID, Amount: amount}
	if _, err := tx.ExecContext(ctx, s.rebind(
		"INSERT INTO reservations (id, player_id, amount) VALUES (?, ?, ?)"),
		res.ID, res.PlayerID, res.Amount); err != nil {
		return nil, fmt.Errorf("wallet: reserve: %w", err)
	}
	if err := s.record(ctx, tx, playerID, -amount, TxnReserve, description); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// settle removes a reservation and optionally returns the hold.
func (s *store) settle(ctx context.Context, reservationID string, refund bool, txnType, description string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var playerID string
	var amount int64
	err = tx.QueryRowContext(ctx, s.rebind(
		"SELECT player_id, amount FROM reservations WHERE id = ?"), reservationID).
		Scan(&playerID, &amount)
	if err == sql.ErrNoRows {
		return ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("wallet: settle: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		"DELETE FROM reservations WHERE id = ?"), reservationID); err != nil {
		return fmt.Errorf("wallet: settle: %w", err)
	}

	recorded := int64(0)
	if refund {
		if _, err := tx.ExecContext(ctx, s.rebind(
			"UPDATE players SET balance = balance + ? WHERE id = ?"), amount, playerID); err != nil {
			return fmt.Errorf("wallet: settle: %w", err)
		}
		recorded = amount
	}
	if err := s.record(ctx, tx, playerID, recorded, txnType, description); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *store) Release(ctx context.Context, reservationID string, description string) error {
	return s.settle(ctx, reservationID, true, TxnRelease, description)
}

func (s *store) CommitLoss(ctx context.Context, reservationID string, description string) error {
	return s.settle(ctx, reservationID, false, TxnLoss, description)
}

func (s *store) CommitWin(ctx context.Context, playerID string, amount int64, description string) error {
	if amount < 0 {
		return fmt.Errorf("wallet: win must not be negative, got %d", amount)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(
		"UPDATE players SET balance = balance + ? WHERE id = ?"), amount, playerID)
	if err != nil {
		return fmt.Errorf("wallet: win: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrPlayerNotFound
	}
	if err := s.record(ctx, tx, playerID, amount, TxnWin, description); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *store) History(ctx context.Context, playerID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, player_id, amount, type, description, created_at
		FROM transactions WHERE player_id = ?
		ORDER BY id DESC LIMIT ?`), playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("wallet: history: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.PlayerID, &t.Amount, &t.Type, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("wallet: history: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *store) record(ctx context.Context, tx *sql.Tx, playerID string, amount int64, txnType, description string) error {
	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO transactions (player_id, amount, type, description)
		VALUES (?, ?, ?, ?)`), playerID, amount, txnType, description); err != nil {
		return fmt.Errorf("wallet: record txn: %w", err)
	}
	return nil
}

func (s *store) Close() error { return s.db.Close() }
