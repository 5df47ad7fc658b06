package wallet

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) Ledger {
	t.Helper()
	l, err := NewSQLite(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestDepositAndBalance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Deposit(ctx, "alice", 1000, "initial deposit"))
	require.NoError(t, l.Deposit(ctx, "alice", 500, "top up"))

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1500), bal)

	_, err = l.Balance(ctx, "nobody")
	require.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestReserveHoldsFunds(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Deposit(ctx, "alice", 1000, "deposit"))

	res, err := l.Reserve(ctx, "alice", 400, "buy-in table tbl-1")
	require.NoError(t, err)
	require.Equal(t, int64(400), res.Amount)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(600), bal, "hold must come off the available balance")

	// The remaining balance cannot cover a second large buy-in.
	_, err = l.Reserve(ctx, "alice", 700, "buy-in table tbl-2")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	bal, err = l.Balance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(600), bal, "failed reserve must not move funds")
}

func TestReleaseReturnsHold(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Deposit(ctx, "alice", 1000, "deposit"))

	res, err := l.Reserve(ctx, "alice", 400, "buy-in")
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, res.ID, "seat unavailable"))

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1000), bal)

	// A settled reservation cannot be settled again.
	require.ErrorIs(t, l.Release(ctx, res.ID, "again"), ErrReservationNotFound)
}

func TestCommitLossAndWinSettlement(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Deposit(ctx, "alice", 1000, "deposit"))

	// Alice buys in for 400 and leaves the table with 650 chips.
	res, err := l.Reserve(ctx, "alice", 400, "buy-in table tbl-1")
	require.NoError(t, err)
	require.NoError(t, l.CommitLoss(ctx, res.ID, "buy-in consumed at tbl-1"))
	require.NoError(t, l.CommitWin(ctx, "alice", 650, "cash out from tbl-1"))

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1250), bal)

	require.ErrorIs(t, l.CommitWin(ctx, "nobody", 10, "x"), ErrPlayerNotFound)
}

func TestHistoryNewestFirst(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Deposit(ctx, "alice", 1000, "deposit"))
	res, err := l.Reserve(ctx, "alice", 100, "buy-in")
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, res.ID, "cancelled"))

	hist, err := l.History(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, TxnRelease, hist[0].Type)
	require.Equal(t, TxnReserve, hist[1].Type)
	require.Equal(t, TxnDeposit, hist[2].Type)
	require.Equal(t, "cancelled", hist[0].Description)
}
