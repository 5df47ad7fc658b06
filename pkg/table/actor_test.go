package table

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/require"

	"github.com/vglenn/cardroom/pkg/audit"
	"github.com/vglenn/cardroom/pkg/poker"
	"github.com/vglenn/cardroom/pkg/rng"
	"github.com/vglenn/cardroom/pkg/session"
	"github.com/vglenn/cardroom/pkg/wallet"
)

type capBroadcaster struct {
	mu     sync.Mutex
	table  []session.Envelope
	direct map[string][]session.Envelope
}

func newCapBroadcaster() *capBroadcaster {
	return &capBroadcaster{direct: make(map[string][]session.Envelope)}
}

func (c *capBroadcaster) BroadcastTable(tableID string, env session.Envelope) {
	c.mu.Lock()
	c.table = append(c.table, env)
	c.mu.Unlock()
}

func (c *capBroadcaster) SendToPlayer(playerID string, env session.Envelope) {
	c.mu.Lock()
	c.direct[playerID] = append(c.direct[playerID], env)
	c.mu.Unlock()
}

func (c *capBroadcaster) lastTable(msgType string) (session.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.table) - 1; i >= 0; i-- {
		if c.table[i].Type == msgType {
			return c.table[i], true
		}
	}
	return session.Envelope{}, false
}

func (c *capBroadcaster) lastDirect(playerID, msgType string) (session.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.direct[playerID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == msgType {
			return msgs[i], true
		}
	}
	return session.Envelope{}, false
}

type capObserver struct {
	mu         sync.Mutex
	eliminated []string
	hands      int
}

func (o *capObserver) PlayerEliminated(tableID, playerID string) {
	o.mu.Lock()
	o.eliminated = append(o.eliminated, playerID)
	o.mu.Unlock()
}

func (o *capObserver) HandFinished(tableID string, stacks map[string]int64) {
	o.mu.Lock()
	o.hands++
	o.mu.Unlock()
}

func newTestActor(t *testing.T, tournament bool, l wallet.Ledger) (*Actor, *capBroadcaster, *capObserver) {
	t.Helper()
	src, err := rng.NewSystem()
	require.NoError(t, err)

	store, err := audit.NewFSStore(t.TempDir(), slog.Disabled)
	require.NoError(t, err)
	writer := audit.NewWriter(store, slog.Disabled)
	t.Cleanup(func() { writer.Close() })

	bcast := newCapBroadcaster()
	obs := &capObserver{}
	a := New(Config{
		ID: "tbl-test",
		Rules: poker.TableRules{
			SmallBlind: 5, BigBlind: 10,
			MinBuyIn: 100, MaxBuyIn: 2000, MaxSeats: 6,
			TimeBank: 0, Grace: 30 * time.Second,
		},
		ActionTimeout:  time.Second,
		InterHandDelay: time.Millisecond,
		Tournament:     tournament,
	}, Deps{
		Dealer:      rng.NewDealer(src, writer, slog.Disabled),
		Audit:       writer,
		Backup:      store,
		Wallet:      l,
		Broadcaster: bcast,
		Observer:    obs,
		Log:         slog.Disabled,
	})
	return a, bcast, obs
}

func join(t *testing.T, a *Actor, playerID string, buyIn int64) {
	t.Helper()
	res := a.join(context.Background(), CmdJoin{PlayerID: playerID, Name: playerID, Seat: -1, BuyIn: buyIn})
	require.Nil(t, res.Err, "join %s: %v", playerID, res.Err)
}

func startHand(t *testing.T, a *Actor) {
	t.Helper()
	a.maybeStartHand(context.Background(), time.Now().Add(time.Second))
	require.True(t, a.state.Phase.IsBetting(), "hand should have started, phase is %s", a.state.Phase)
}

func TestJoinReservesBuyInFromWallet(t *testing.T) {
	l, err := wallet.NewSQLite(t.TempDir() + "/w.db")
	require.NoError(t, err)
	defer l.Close()
	ctx := context.Background()
	require.NoError(t, l.Deposit(ctx, "alice", 500, "deposit"))

	a, bcast, _ := newTestActor(t, false, l)
	join(t, a, "alice", 400)

	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(100), bal, "buy-in must be held")

	res := a.join(ctx, CmdJoin{PlayerID: "bob", Name: "bob", Seat: -1, BuyIn: 400})
	require.NotNil(t, res.Err)
	require.Equal(t, poker.CodeInsufficientChips, res.Err.Code)

	_, ok := bcast.lastTable(session.TypePlayerJoined)
	require.True(t, ok, "player_joined must be broadcast")
}

func TestLeaveCashesOut(t *testing.T) {
	l, err := wallet.NewSQLite(t.TempDir() + "/w.db")
	require.NoError(t, err)
	defer l.Close()
	ctx := context.Background()
	require.NoError(t, l.Deposit(ctx, "alice", 500, "deposit"))

	a, _, _ := newTestActor(t, false, l)
	join(t, a, "alice", 400)

	res := a.leave(ctx, "alice")
	require.Nil(t, res.Err)

	// No hand was played, so the full stack comes back.
	bal, err := l.Balance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(500), bal)
}

func TestHandStartPublishesCommitmentAndMasksCards(t *testing.T) {
	a, bcast, _ := newTestActor(t, true, nil)
	join(t, a, "alice", 500)
	join(t, a, "bob", 500)
	startHand(t, a)

	started, ok := bcast.lastTable(session.TypeHandStarted)
	require.True(t, ok)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(started.Payload, &payload))
	require.NotEmpty(t, payload["deck_commitment"], "commitment must be published at hand start")

	// Alice's own view shows her cards; the spectator view masks them.
	env, ok := bcast.lastDirect("alice", session.TypeStateUpdate)
	require.True(t, ok)
	var own TableView
	require.NoError(t, json.Unmarshal(env.Payload, &own))
	var alice, spectAlice *PlayerView
	for i := range own.Players {
		if own.Players[i].PlayerID == "alice" {
			alice = &own.Players[i]
		}
	}
	require.NotNil(t, alice)
	require.Len(t, alice.HoleCards, 2)
	require.NotEqual(t, HiddenCard, alice.HoleCards[0])

	spect, ok := bcast.lastTable(session.TypeStateUpdate)
	require.True(t, ok)
	var sview TableView
	require.NoError(t, json.Unmarshal(spect.Payload, &sview))
	for i := range sview.Players {
		if sview.Players[i].PlayerID == "alice" {
			spectAlice = &sview.Players[i]
		}
	}
	require.NotNil(t, spectAlice)
	require.Equal(t, []string{HiddenCard, HiddenCard}, spectAlice.HoleCards)
}

func TestFoldEndsHandAndConservesChips(t *testing.T) {
	a, bcast, obs := newTestActor(t, true, nil)
	join(t, a, "alice", 500)
	join(t, a, "bob", 500)
	startHand(t, a)

	// Heads-up: the button is the small blind and acts first.
	actorID := a.state.PlayerBySeat(a.state.ActiveSeat).ID
	res := a.action(context.Background(), CmdAction{PlayerID: actorID, Action: poker.Action{Kind: poker.ActionFold}})
	require.Nil(t, res.Err)

	_, ok := bcast.lastTable(session.TypeHandCompleted)
	require.True(t, ok, "hand_completed must be broadcast")
	require.Equal(t, poker.PhaseFinished, a.state.Phase)
	require.Equal(t, int64(1000), a.state.StackTotal(), "chips must be conserved")
	require.Equal(t, 1, obs.hands)
}

func TestOutOfTurnActionRejectedWithoutMutation(t *testing.T) {
	a, _, _ := newTestActor(t, true, nil)
	join(t, a, "alice", 500)
	join(t, a, "bob", 500)
	startHand(t, a)

	waiting := "alice"
	if a.state.PlayerBySeat(a.state.ActiveSeat).ID == "alice" {
		waiting = "bob"
	}
	version := a.version
	res := a.action(context.Background(), CmdAction{PlayerID: waiting, Action: poker.Action{Kind: poker.ActionCall}})
	require.NotNil(t, res.Err)
	require.Equal(t, poker.CodeNotYourTurn, res.Err.Code)
	require.Equal(t, version, a.version, "a rejection must not bump the state version")
}

func TestActionTimeoutChecksOrFolds(t *testing.T) {
	a, _, _ := newTestActor(t, true, nil)
	join(t, a, "alice", 500)
	join(t, a, "bob", 500)
	startHand(t, a)

	// Facing the big blind, the timed-out button folds.
	active := a.state.ActiveSeat
	a.checkActionTimeout(context.Background(), a.actionDeadline.Add(time.Second))
	require.True(t, a.state.PlayerBySeat(active).Folded || a.state.Phase == poker.PhaseFinished,
		"the timed-out player facing a bet must fold")
	require.Equal(t, poker.PhaseFinished, a.state.Phase, "heads-up fold ends the hand")
}

func TestEliminationReportedInTournament(t *testing.T) {
	a, _, obs := newTestActor(t, true, nil)
	join(t, a, "alice", 500)
	join(t, a, "bob", 500)
	startHand(t, a)

	// Drive both players all-in and run the board out.
	ctx := context.Background()
	first := a.state.PlayerBySeat(a.state.ActiveSeat).ID
	res := a.action(ctx, CmdAction{PlayerID: first, Action: poker.Action{Kind: poker.ActionAllIn}})
	require.Nil(t, res.Err)
	second := "alice"
	if first == "alice" {
		second = "bob"
	}
	res = a.action(ctx, CmdAction{PlayerID: second, Action: poker.Action{Kind: poker.ActionAllIn}})
	require.Nil(t, res.Err)

	for i := 0; i < 5 && a.state.Phase != poker.PhaseFinished; i++ {
		a.tick(ctx, time.Now())
	}
	require.Equal(t, poker.PhaseFinished, a.state.Phase)
	require.Equal(t, int64(1000), a.state.StackTotal())

	// A split is possible; when it is not, the loser is eliminated.
	obs.mu.Lock()
	defer obs.mu.Unlock()
	for _, p := range a.state.Seats {
		if p != nil && p.Chips == 0 {
			require.Contains(t, obs.eliminated, p.ID)
			require.Equal(t, poker.StatusEliminated, p.Status)
		}
	}
}

func TestDisconnectPastGraceBlocksNextHand(t *testing.T) {
	a, _, _ := newTestActor(t, true, nil)
	join(t, a, "alice", 500)
	join(t, a, "bob", 500)

	a.bind("bob", false)
	p := a.state.PlayerByID("bob")
	p.DisconnectedAt = time.Now().Add(-time.Minute) // past the 30s grace

	a.maybeStartHand(context.Background(), time.Now().Add(time.Second))
	require.Equal(t, poker.PhaseWaiting, a.state.Phase,
		"a hand must not start with only one connected player")

	a.bind("bob", true)
	startHand(t, a)
}

func TestSupervisorMoveAndTake(t *testing.T) {
	a, _, _ := newTestActor(t, true, nil)
	join(t, a, "alice", 500)

	ctx := context.Background()
	res := a.movePlayerHere(ctx, MovePlayerHere{PlayerID: "carol", Name: "carol", Chips: 750})
	require.Nil(t, res.Err)
	require.NotNil(t, a.state.PlayerByID("carol"))
	require.Equal(t, int64(750), a.state.PlayerByID("carol").Chips)

	take := a.takePlayer(ctx, TakePlayer{PlayerID: "carol"})
	require.Nil(t, take.Err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(take.Payload, &payload))
	require.Equal(t, float64(750), payload["chips"])
	require.Nil(t, a.state.PlayerByID("carol"))
}

func TestSitOutBlocksDealAndSitInRestores(t *testing.T) {
	a, _, _ := newTestActor(t, true, nil)
	join(t, a, "alice", 500)
	join(t, a, "bob", 500)

	ctx := context.Background()
	res := a.sitOut(ctx, "bob")
	require.Nil(t, res.Err)
	require.Equal(t, poker.StatusSittingOut, a.state.PlayerByID("bob").Status)

	a.maybeStartHand(ctx, time.Now().Add(time.Second))
	require.Equal(t, poker.PhaseWaiting, a.state.Phase,
		"a sitting-out player must not be dealt in")

	res = a.sitIn("bob")
	require.Nil(t, res.Err)
	startHand(t, a)
}

func TestSitOutMidHandFolds(t *testing.T) {
	a, bcast, _ := newTestActor(t, true, nil)
	join(t, a, "alice", 500)
	join(t, a, "bob", 500)
	startHand(t, a)

	// Heads-up: the button is the small blind and acts first. Sitting
	// them out folds them and ends the hand.
	actorID := a.state.PlayerBySeat(a.state.ActiveSeat).ID
	res := a.sitOut(context.Background(), actorID)
	require.Nil(t, res.Err)

	_, ok := bcast.lastTable(session.TypeHandCompleted)
	require.True(t, ok, "folding the last opponent completes the hand")
	require.Equal(t, poker.StatusSittingOut, a.state.PlayerByID(actorID).Status)
	require.Equal(t, int64(1000), a.state.StackTotal())
}

func TestSitInRequiresSittingOut(t *testing.T) {
	a, _, _ := newTestActor(t, true, nil)
	join(t, a, "alice", 500)

	res := a.sitIn("alice")
	require.NotNil(t, res.Err)
	require.Equal(t, poker.CodeInvalidPhase, res.Err.Code)

	res = a.sitOut(context.Background(), "nobody")
	require.NotNil(t, res.Err)
	require.Equal(t, poker.CodePlayerNotFound, res.Err.Code)
}

func TestPauseBlocksNewHands(t *testing.T) {
	a, _, _ := newTestActor(t, true, nil)
	join(t, a, "alice", 500)
	join(t, a, "bob", 500)

	a.handle(context.Background(), Pause{Reason: "break"})
	a.maybeStartHand(context.Background(), time.Now().Add(time.Second))
	require.Equal(t, poker.PhaseWaiting, a.state.Phase)

	a.handle(context.Background(), Resume{})
	startHand(t, a)
}

func TestLevelChangeAppliesToNextHand(t *testing.T) {
	a, _, _ := newTestActor(t, true, nil)
	join(t, a, "alice", 500)
	join(t, a, "bob", 500)

	a.handle(context.Background(), LevelChange{SmallBlind: 50, BigBlind: 100, Level: 2})
	startHand(t, a)
	require.Equal(t, int64(100), a.state.CurrentBet, "the big blind of the new level opens the betting")
}
