package table

import (
	"context"
	"encoding/json"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"

	"github.com/vglenn/cardroom/pkg/audit"
	"github.com/vglenn/cardroom/pkg/poker"
	"github.com/vglenn/cardroom/pkg/rng"
	"github.com/vglenn/cardroom/pkg/session"
	"github.com/vglenn/cardroom/pkg/statemachine"
	"github.com/vglenn/cardroom/pkg/wallet"
)

// Broadcaster delivers envelopes to clients. The session hub implements
// it; tests substitute a capture.
type Broadcaster interface {
	BroadcastTable(tableID string, env session.Envelope)
	SendToPlayer(playerID string, env session.Envelope)
}

// Observer hears table lifecycle facts. The tournament coordinator uses
// it to track eliminations and stack sizes.
type Observer interface {
	PlayerEliminated(tableID, playerID string)
	HandFinished(tableID string, stacks map[string]int64)
}

// Config fixes a table's identity and pacing.
type Config struct {
	ID    string
	Rules poker.TableRules

	// ActionTimeout is the base time to act; a player's time bank is
	// added on top once and then consumed.
	ActionTimeout time.Duration
	// InterHandDelay separates the end of one hand from the next deal.
	InterHandDelay time.Duration
	// HandStartBackoff delays retries after hand_start_failed.
	HandStartBackoff time.Duration

	// Tournament tables use tournament chips; the wallet is not touched
	// on join or leave.
	Tournament bool
}

func (c *Config) defaults() {
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 20 * time.Second
	}
	if c.InterHandDelay <= 0 {
		c.InterHandDelay = 3 * time.Second
	}
	if c.HandStartBackoff <= 0 {
		c.HandStartBackoff = 5 * time.Second
	}
}

// Deps are the actor's collaborators.
type Deps struct {
	Dealer      *rng.Dealer
	Audit       *audit.Writer
	Backup      BackupWriter
	Wallet      wallet.Ledger
	Broadcaster Broadcaster
	Observer    Observer
	Log         slog.Logger
}

// BackupWriter stores reveal blobs for recovery; the filesystem audit
// store implements it.
type BackupWriter interface {
	WriteBackup(tableID, handID string, blob any) error
}

const inboxSize = 256

// Actor owns one table. All state mutation happens on the Run goroutine.
type Actor struct {
	cfg  Config
	deps Deps
	log  slog.Logger

	inbox chan Message

	state   *poker.HandState
	deck    *rng.HandDeck
	version uint64

	reservations map[string]string // playerID -> wallet reservation
	revealed     map[int]bool

	paused      bool
	pauseReason string
	closing     bool
	level       int

	nextHandAt     time.Time
	actionDeadline time.Time
}

// New creates the actor. Call Run to start it.
func New(cfg Config, deps Deps) *Actor {
	cfg.defaults()
	return &Actor{
		cfg:          cfg,
		deps:         deps,
		log:          deps.Log,
		inbox:        make(chan Message, inboxSize),
		state:        poker.NewHandState(cfg.ID, cfg.Rules),
		reservations: make(map[string]string),
	}
}

// ID returns the table id.
func (a *Actor) ID() string { return a.cfg.ID }

// Send enqueues a message without blocking. It reports false when the
// inbox is full; callers treat that as backpressure.
func (a *Actor) Send(msg Message) bool {
	select {
	case a.inbox <- msg:
		return true
	default:
		return false
	}
}

// Run processes the inbox until the context ends or the table closes.
func (a *Actor) Run(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case msg := <-a.inbox:
			a.handle(ctx, msg)
		case <-ticker.C:
			a.tick(ctx, time.Now())
		case <-ctx.Done():
			a.log.Infof("table %s stopping: %v", a.cfg.ID, ctx.Err())
			return
		}
		if a.closing && !a.state.Phase.IsBetting() && a.state.Phase != poker.PhaseShowdown {
			a.log.Infof("table %s closed", a.cfg.ID)
			return
		}
	}
}

func (a *Actor) handle(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case CmdJoin:
		m.Reply <- a.join(ctx, m)
	case CmdLeave:
		m.Reply <- a.leave(ctx, m.PlayerID)
	case CmdAction:
		m.Reply <- a.action(ctx, m)
	case CmdSitOut:
		m.Reply <- a.sitOut(ctx, m.PlayerID)
	case CmdSitIn:
		m.Reply <- a.sitIn(m.PlayerID)
	case CmdChat:
		a.chat(ctx, m)
	case SessionBind:
		a.bind(m.PlayerID, true)
	case SessionUnbind:
		a.bind(m.PlayerID, false)
	case QuerySnapshot:
		m.Reply <- a.snapshotResult(m.PlayerID)
	case Tick:
		a.tick(ctx, m.Now)
	case MovePlayerHere:
		m.Reply <- a.movePlayerHere(ctx, m)
	case TakePlayer:
		m.Reply <- a.takePlayer(ctx, m)
	case Notice:
		a.deps.Broadcaster.BroadcastTable(a.cfg.ID, a.envelope(session.TypeChat, map[string]any{
			"player_id": "", "name": "director", "text": m.Text,
		}))
	case Pause:
		a.paused = true
		a.pauseReason = m.Reason
		a.broadcastState()
	case Resume:
		a.paused = false
		a.pauseReason = ""
		a.broadcastState()
	case LevelChange:
		a.level = m.Level
		a.state.Rules.SmallBlind = m.SmallBlind
		a.state.Rules.BigBlind = m.BigBlind
		a.state.Rules.Ante = m.Ante
		a.log.Infof("table %s blinds now %d/%d ante %d (level %d)",
			a.cfg.ID, m.SmallBlind, m.BigBlind, m.Ante, m.Level)
	case CloseTable:
		a.closing = true
		if !a.state.Phase.IsBetting() && a.state.Phase != poker.PhaseShowdown {
			a.cashOutAll(ctx)
		}
		m.Reply <- Result{Payload: mustJSON(map[string]any{"closing": true})}
	}
}

func (a *Actor) join(ctx context.Context, m CmdJoin) Result {
	if a.closing {
		return Result{Err: poker.NewGameError(poker.CodeTableClosed, "table %s is closing", a.cfg.ID)}
	}
	if m.BuyIn < a.cfg.Rules.MinBuyIn || (a.cfg.Rules.MaxBuyIn > 0 && m.BuyIn > a.cfg.Rules.MaxBuyIn) {
		return Result{Err: poker.NewGameError(poker.CodeInvalidBetAmount,
			"buy-in %d outside [%d, %d]", m.BuyIn, a.cfg.Rules.MinBuyIn, a.cfg.Rules.MaxBuyIn)}
	}

	seat := m.Seat
	if seat < 0 {
		seat = a.openSeat()
		if seat < 0 {
			return Result{Err: poker.NewGameError(poker.CodeSeatTaken, "table %s is full", a.cfg.ID)}
		}
	}

	if a.deps.Wallet != nil && !a.cfg.Tournament {
		res, err := a.deps.Wallet.Reserve(ctx, m.PlayerID, m.BuyIn, "buy-in table "+a.cfg.ID)
		if err == wallet.ErrInsufficientFunds {
			return Result{Err: poker.NewGameError(poker.CodeInsufficientChips, "balance cannot cover buy-in %d", m.BuyIn)}
		}
		if err != nil {
			a.log.Errorf("reserve buy-in for %s: %v", m.PlayerID, err)
			return Result{Err: poker.NewGameError(poker.CodeInsufficientChips, "wallet unavailable")}
		}
		a.reservations[m.PlayerID] = res.ID
	}

	p := &poker.Player{
		ID:       m.PlayerID,
		Name:     m.Name,
		Chips:    m.BuyIn,
		Status:   poker.StatusActive,
		TimeBank: a.cfg.Rules.TimeBank,
	}
	if gerr := a.state.Seat(p, seat); gerr != nil {
		if resID, ok := a.reservations[m.PlayerID]; ok {
			delete(a.reservations, m.PlayerID)
			if err := a.deps.Wallet.Release(ctx, resID, "seat unavailable at "+a.cfg.ID); err != nil {
				a.log.Errorf("release reservation for %s: %v", m.PlayerID, err)
			}
		}
		return Result{Err: gerr}
	}

	a.record(audit.TypeHandEvent, map[string]any{
		"kind": "player_joined", "player_id": m.PlayerID, "seat": seat, "buy_in": m.BuyIn,
	})
	a.bump()
	a.deps.Broadcaster.BroadcastTable(a.cfg.ID, a.envelope(session.TypePlayerJoined, map[string]any{
		"player_id": m.PlayerID, "name": m.Name, "seat": seat, "chips": m.BuyIn,
	}))
	a.broadcastState()
	return a.snapshotResult(m.PlayerID)
}

func (a *Actor) leave(ctx context.Context, playerID string) Result {
	p := a.state.PlayerByID(playerID)
	if p == nil {
		return Result{Err: poker.NewGameError(poker.CodePlayerNotFound, "player %s is not seated", playerID)}
	}

	events := a.state.ForceFold(p.Seat)
	a.processEvents(ctx, events)

	a.state.Unseat(playerID)
	a.cashOut(ctx, playerID, p.Chips)

	a.record(audit.TypeHandEvent, map[string]any{
		"kind": "player_left", "player_id": playerID, "chips": p.Chips,
	})
	a.bump()
	a.deps.Broadcaster.BroadcastTable(a.cfg.ID, a.envelope(session.TypePlayerLeft, map[string]any{
		"player_id": playerID, "chips": p.Chips,
	}))
	a.broadcastState()
	return Result{Payload: mustJSON(map[string]any{"left": true, "chips": p.Chips})}
}

func (a *Actor) action(ctx context.Context, m CmdAction) Result {
	events, gerr := a.state.Apply(m.PlayerID, m.Action)
	if gerr != nil {
		return Result{Err: gerr}
	}
	a.processEvents(ctx, events)
	a.armActionTimer(time.Now())
	a.broadcastState()
	return Result{Payload: mustJSON(map[string]any{
		"applied": true, "action": m.Action.Kind, "state_version": a.version,
	})}
}

func (a *Actor) sitOut(ctx context.Context, playerID string) Result {
	p := a.state.PlayerByID(playerID)
	if p == nil {
		return Result{Err: poker.NewGameError(poker.CodePlayerNotFound, "player %s is not seated", playerID)}
	}
	if p.Status == poker.StatusEliminated {
		return Result{Err: poker.NewGameError(poker.CodeInvalidPhase, "player %s is eliminated", playerID)}
	}
	if p.DealtIn && a.state.Phase.IsBetting() {
		events := a.state.ForceFold(p.Seat)
		a.processEvents(ctx, events)
	}
	p.Status = poker.StatusSittingOut
	a.record(audit.TypeHandEvent, map[string]any{
		"kind": "player_sat_out", "player_id": playerID,
	})
	a.bump()
	a.broadcastState()
	return a.snapshotResult(playerID)
}

func (a *Actor) sitIn(playerID string) Result {
	p := a.state.PlayerByID(playerID)
	if p == nil {
		return Result{Err: poker.NewGameError(poker.CodePlayerNotFound, "player %s is not seated", playerID)}
	}
	if p.Status != poker.StatusSittingOut {
		return Result{Err: poker.NewGameError(poker.CodeInvalidPhase, "player %s is not sitting out", playerID)}
	}
	// They rejoin the rotation from the next deal.
	p.Status = poker.StatusActive
	a.record(audit.TypeHandEvent, map[string]any{
		"kind": "player_sat_in", "player_id": playerID,
	})
	a.bump()
	a.broadcastState()
	return a.snapshotResult(playerID)
}

func (a *Actor) chat(ctx context.Context, m CmdChat) {
	p := a.state.PlayerByID(m.PlayerID)
	if p == nil {
		return
	}
	a.deps.Broadcaster.BroadcastTable(a.cfg.ID, a.envelope(session.TypeChat, map[string]any{
		"player_id": m.PlayerID, "name": p.Name, "text": m.Text,
	}))
}

func (a *Actor) bind(playerID string, connected bool) {
	p := a.state.PlayerByID(playerID)
	if p == nil {
		return
	}
	if connected {
		if p.Status == poker.StatusDisconnected {
			p.Status = poker.StatusActive
			p.DisconnectedAt = time.Time{}
		}
	} else if p.Status == poker.StatusActive {
		p.Status = poker.StatusDisconnected
		p.DisconnectedAt = time.Now()
	}
	a.bump()
	a.broadcastState()
}

func (a *Actor) snapshotResult(playerID string) Result {
	view := Snapshot(a.state, playerID, a.commitment(), a.version, a.paused, a.revealed)
	return Result{Payload: mustJSON(view)}
}

func (a *Actor) movePlayerHere(ctx context.Context, m MovePlayerHere) Result {
	seat := a.openSeat()
	if seat < 0 {
		return Result{Err: poker.NewGameError(poker.CodeSeatTaken, "table %s is full", a.cfg.ID)}
	}
	p := &poker.Player{
		ID:       m.PlayerID,
		Name:     m.Name,
		Chips:    m.Chips,
		Status:   poker.StatusActive,
		TimeBank: a.cfg.Rules.TimeBank,
	}
	if gerr := a.state.Seat(p, seat); gerr != nil {
		return Result{Err: gerr}
	}
	a.record(audit.TypeHandEvent, map[string]any{
		"kind": "player_moved_in", "player_id": m.PlayerID, "seat": seat, "chips": m.Chips,
	})
	a.bump()
	a.broadcastState()
	return Result{Payload: mustJSON(map[string]any{"seat": seat})}
}

func (a *Actor) takePlayer(ctx context.Context, m TakePlayer) Result {
	p := a.state.PlayerByID(m.PlayerID)
	if p == nil {
		return Result{Err: poker.NewGameError(poker.CodePlayerNotFound, "player %s is not here", m.PlayerID)}
	}
	if p.DealtIn && a.state.Phase.IsBetting() || a.state.Phase == poker.PhaseShowdown {
		return Result{Err: poker.NewGameError(poker.CodeInvalidPhase, "player %s is in a hand", m.PlayerID)}
	}
	a.state.Unseat(m.PlayerID)
	a.record(audit.TypeHandEvent, map[string]any{
		"kind": "player_moved_out", "player_id": m.PlayerID, "chips": p.Chips,
	})
	a.bump()
	a.broadcastState()
	return Result{Payload: mustJSON(map[string]any{"chips": p.Chips, "name": p.Name})}
}

func (a *Actor) tick(ctx context.Context, now time.Time) {
	if a.state.Runout && a.state.Phase.IsBetting() {
		events, gerr := a.state.AdvanceStreet()
		if gerr == nil {
			a.processEvents(ctx, events)
			a.broadcastState()
		}
		return
	}

	if a.state.Phase.IsBetting() {
		a.checkActionTimeout(ctx, now)
		return
	}

	a.maybeStartHand(ctx, now)
}

func (a *Actor) maybeStartHand(ctx context.Context, now time.Time) {
	if a.paused || a.closing {
		return
	}
	if a.state.Phase != poker.PhaseWaiting && a.state.Phase != poker.PhaseFinished {
		return
	}
	if now.Before(a.nextHandAt) {
		return
	}
	if a.state.EligibleCount(now) < 2 {
		return
	}

	handID := uuid.NewString()
	deck, gerr := a.deps.Dealer.NewHand(ctx, a.cfg.ID, handID)
	if gerr != nil {
		a.log.Warnf("hand start failed on table %s: %v", a.cfg.ID, gerr)
		a.nextHandAt = now.Add(a.cfg.HandStartBackoff)
		a.deps.Broadcaster.BroadcastTable(a.cfg.ID, session.ErrorEnvelope("",
			poker.NewGameError(poker.CodeHandStartFailed, "hand could not start").
				WithDetail("cause", string(gerr.Code))))
		return
	}

	hs := &handStart{actor: a, ctx: ctx, now: now, handID: handID, deck: deck}
	statemachine.New(hs, seedButton).Run()
	if hs.failed {
		a.nextHandAt = now.Add(a.cfg.HandStartBackoff)
	}
}

// handStart carries one hand-start attempt through its state functions.
type handStart struct {
	actor  *Actor
	ctx    context.Context
	now    time.Time
	handID string
	deck   *rng.HandDeck
	events []poker.Event
	failed bool
}

// seedButton picks the first button uniformly among seats; later hands
// skip straight to rotation.
func seedButton(hs *handStart) statemachine.StateFn[handStart] {
	a := hs.actor
	if a.state.Button < 0 {
		seats := make([]int, 0, len(a.state.Seats))
		for i := range a.state.Seats {
			seats = append(seats, i)
		}
		idx, err := a.deps.Dealer.Source().IntN(len(seats))
		if err != nil {
			idx = 0
		}
		a.state.SeedButton(seats[idx], hs.now)
	}
	return rotateButton
}

func rotateButton(hs *handStart) statemachine.StateFn[handStart] {
	a := hs.actor
	if gerr := a.state.RotateButton(hs.now); gerr != nil {
		hs.failed = true
		return nil
	}
	if gerr := a.state.BeginHand(hs.handID, hs.now); gerr != nil {
		hs.failed = true
		return nil
	}
	a.deck = hs.deck
	a.revealed = nil
	return postAndDeal
}

// postAndDeal posts the blinds and deals two cards each, one at a time,
// starting left of the button.
func postAndDeal(hs *handStart) statemachine.StateFn[handStart] {
	a := hs.actor
	hs.events = a.state.PostBlinds()
	for pass := 0; pass < 2; pass++ {
		for _, seat := range a.state.DealtInSeats() {
			card, gerr := a.deck.Deal()
			if gerr != nil {
				a.log.Errorf("deal on table %s: %v", a.cfg.ID, gerr)
				hs.failed = true
				return nil
			}
			a.state.DealHole(seat, card)
		}
	}
	return announceHand
}

func announceHand(hs *handStart) statemachine.StateFn[handStart] {
	a := hs.actor
	a.record(audit.TypeHandEvent, map[string]any{
		"kind": "hand_started", "hand_id": hs.handID, "hand_num": a.state.HandNum,
		"button": a.state.Button, "commitment": a.deck.Commitment(),
	})
	a.processEvents(hs.ctx, hs.events)
	a.bump()
	a.deps.Broadcaster.BroadcastTable(a.cfg.ID, a.envelope(session.TypeHandStarted, map[string]any{
		"hand_id": hs.handID, "hand_num": a.state.HandNum,
		"button": a.state.Button, "deck_commitment": a.deck.Commitment(),
		"small_blind": a.cfg.Rules.SmallBlind, "big_blind": a.cfg.Rules.BigBlind,
	}))
	a.broadcastState()
	a.armActionTimer(hs.now)
	return nil
}

func (a *Actor) armActionTimer(now time.Time) {
	seat := a.state.ActiveSeat
	if seat < 0 || !a.state.Phase.IsBetting() {
		a.actionDeadline = time.Time{}
		return
	}
	p := a.state.PlayerBySeat(seat)
	a.actionDeadline = now.Add(a.cfg.ActionTimeout + p.TimeBank)
}

func (a *Actor) checkActionTimeout(ctx context.Context, now time.Time) {
	seat := a.state.ActiveSeat
	if seat < 0 || a.actionDeadline.IsZero() || now.Before(a.actionDeadline) {
		return
	}
	p := a.state.PlayerBySeat(seat)
	if p == nil {
		return
	}
	// The overrun consumed the time bank.
	p.TimeBank = 0

	auto := poker.Action{Kind: poker.ActionCheck}
	if a.state.CurrentBet > p.RoundBet {
		auto.Kind = poker.ActionFold
	}
	a.log.Debugf("table %s seat %d timed out, auto %s", a.cfg.ID, seat, auto.Kind)
	a.record(audit.TypeAction, map[string]any{
		"kind": "action_timeout", "player_id": p.ID, "auto": auto.Kind,
	})

	events, gerr := a.state.Apply(p.ID, auto)
	if gerr != nil {
		a.actionDeadline = time.Time{}
		return
	}
	a.processEvents(ctx, events)
	a.armActionTimer(now)
	a.broadcastState()
}

// processEvents records every engine event to the audit trail before any
// broadcast, then performs the consequences: dealing streets, settling
// showdowns and finishing hands.
func (a *Actor) processEvents(ctx context.Context, events []poker.Event) {
	for _, ev := range events {
		a.record(audit.TypeAction, eventPayload(ev))
	}
	a.bump()

	for _, ev := range events {
		switch e := ev.(type) {
		case poker.RoundClosed:
			if e.NextPhase.IsBetting() {
				a.dealBoard()
				a.armActionTimer(time.Now())
			}
		case poker.ShowdownReached:
			a.settleShowdown(ctx)
		case poker.HandWonUncontested:
			a.deps.Broadcaster.BroadcastTable(a.cfg.ID, a.envelope(session.TypeHandCompleted, map[string]any{
				"hand_id": a.state.HandID, "uncontested": true,
				"winner": e.PlayerID, "amount": e.Amount,
			}))
			a.finishHand(ctx)
		}
	}
}

// dealBoard tops the community cards up to what the phase requires.
func (a *Actor) dealBoard() {
	need := communityCount(a.state.Phase) - len(a.state.Community)
	if need <= 0 || a.deck == nil {
		return
	}
	cards, gerr := a.deck.DealStreet(need)
	if gerr != nil {
		a.log.Errorf("deal board on table %s: %v", a.cfg.ID, gerr)
		return
	}
	a.state.DealCommunity(cards...)
}

func communityCount(p poker.Phase) int {
	switch p {
	case poker.PhaseFlop:
		return 3
	case poker.PhaseTurn:
		return 4
	case poker.PhaseRiver, poker.PhaseShowdown:
		return 5
	default:
		return 0
	}
}

func (a *Actor) settleShowdown(ctx context.Context) {
	a.dealBoard()
	result, gerr := a.state.Showdown()
	if gerr != nil {
		a.log.Errorf("showdown on table %s: %v", a.cfg.ID, gerr)
		return
	}

	a.revealed = make(map[int]bool, len(result.Hands))
	hands := make(map[string]any, len(result.Hands))
	for seat, hv := range result.Hands {
		a.revealed[seat] = true
		p := a.state.PlayerBySeat(seat)
		hands[p.ID] = map[string]any{
			"seat": seat, "rank": hv.Rank.String(), "description": hv.Description,
			"cards": cardStrings(p.HoleCards),
		}
	}

	reveal := a.deck.Reveal()
	a.record(audit.TypeReveal, map[string]any{
		"kind": "deck_reveal", "hand_id": a.state.HandID, "reveal": reveal,
	})
	a.record(audit.TypeHandEvent, map[string]any{
		"kind": "hand_completed", "hand_id": a.state.HandID, "awards": result.Awards,
	})
	if a.deps.Backup != nil {
		if err := a.deps.Backup.WriteBackup(a.cfg.ID, a.state.HandID, reveal); err != nil {
			a.log.Errorf("write reveal backup: %v", err)
		}
	}

	a.bump()
	a.deps.Broadcaster.BroadcastTable(a.cfg.ID, a.envelope(session.TypeHandCompleted, map[string]any{
		"hand_id": a.state.HandID,
		"awards":  result.Awards,
		"hands":   hands,
		"reveal":  reveal,
	}))
	a.finishHand(ctx)
}

func (a *Actor) finishHand(ctx context.Context) {
	now := time.Now()
	stacks := make(map[string]int64)
	for _, p := range a.state.Seats {
		if p == nil {
			continue
		}
		stacks[p.ID] = p.Chips
		if p.Chips == 0 && p.DealtIn {
			if a.cfg.Tournament {
				p.Status = poker.StatusEliminated
				if a.deps.Observer != nil {
					a.deps.Observer.PlayerEliminated(a.cfg.ID, p.ID)
				}
			} else {
				// Cash game: busted players stand up automatically.
				a.state.Unseat(p.ID)
				a.cashOut(ctx, p.ID, 0)
				a.deps.Broadcaster.BroadcastTable(a.cfg.ID, a.envelope(session.TypePlayerLeft, map[string]any{
					"player_id": p.ID, "chips": int64(0), "busted": true,
				}))
			}
		}
	}
	if a.deps.Observer != nil {
		a.deps.Observer.HandFinished(a.cfg.ID, stacks)
	}
	a.deck = nil
	a.actionDeadline = time.Time{}
	a.nextHandAt = now.Add(a.cfg.InterHandDelay)
	a.deps.Audit.Flush()

	if a.closing {
		a.cashOutAll(ctx)
	}
	a.broadcastState()
}

func (a *Actor) cashOut(ctx context.Context, playerID string, chips int64) {
	if a.deps.Wallet == nil || a.cfg.Tournament {
		return
	}
	if resID, ok := a.reservations[playerID]; ok {
		delete(a.reservations, playerID)
		if err := a.deps.Wallet.CommitLoss(ctx, resID, "buy-in consumed at "+a.cfg.ID); err != nil {
			a.log.Errorf("commit buy-in for %s: %v", playerID, err)
		}
	}
	if chips > 0 {
		if err := a.deps.Wallet.CommitWin(ctx, playerID, chips, "cash out from "+a.cfg.ID); err != nil {
			a.log.Errorf("cash out %d for %s: %v", chips, playerID, err)
		}
	}
}

func (a *Actor) cashOutAll(ctx context.Context) {
	for _, p := range a.state.Seats {
		if p == nil {
			continue
		}
		a.state.Unseat(p.ID)
		a.cashOut(ctx, p.ID, p.Chips)
		a.deps.Broadcaster.SendToPlayer(p.ID, a.envelope(session.TypePlayerLeft, map[string]any{
			"player_id": p.ID, "chips": p.Chips, "table_closed": true,
		}))
	}
}

// broadcastState sends each seated player their own masked view and the
// table channel a spectator view. Clients reconcile duplicates by
// state_version.
func (a *Actor) broadcastState() {
	for _, p := range a.state.Seats {
		if p == nil {
			continue
		}
		view := Snapshot(a.state, p.ID, a.commitment(), a.version, a.paused, a.revealed)
		a.deps.Broadcaster.SendToPlayer(p.ID, a.envelope(session.TypeStateUpdate, view))
	}
	spectator := Snapshot(a.state, "", a.commitment(), a.version, a.paused, a.revealed)
	a.deps.Broadcaster.BroadcastTable(a.cfg.ID, a.envelope(session.TypeStateUpdate, spectator))
}

func (a *Actor) commitment() string {
	if a.deck == nil {
		return ""
	}
	return a.deck.Commitment()
}

func (a *Actor) openSeat() int {
	for i, p := range a.state.Seats {
		if p == nil {
			return i
		}
	}
	return -1
}

func (a *Actor) bump() { a.version++ }

func (a *Actor) record(recType string, payload map[string]any) {
	a.deps.Audit.Append(audit.Record{
		TableID: a.cfg.ID,
		HandID:  a.state.HandID,
		Type:    recType,
		Payload: mustJSON(payload),
	})
}

func (a *Actor) envelope(msgType string, payload any) session.Envelope {
	return session.Envelope{
		Type:         msgType,
		StateVersion: a.version,
		Timestamp:    time.Now().UTC(),
		Payload:      mustJSON(payload),
	}
}

func eventPayload(ev poker.Event) map[string]any {
	switch e := ev.(type) {
	case poker.BlindPosted:
		return map[string]any{"kind": "blind_posted", "seat": e.Seat, "player_id": e.PlayerID, "amount": e.Amount, "blind": e.Kind}
	case poker.ActionApplied:
		return map[string]any{"kind": "action_applied", "seat": e.Seat, "player_id": e.PlayerID, "action": e.Action, "amount": e.Amount, "to_bet": e.ToBet, "all_in": e.AllIn}
	case poker.RoundClosed:
		return map[string]any{"kind": "round_closed", "closed": e.Closed.String(), "next": e.NextPhase.String()}
	case poker.UncalledReturned:
		return map[string]any{"kind": "uncalled_returned", "seat": e.Seat, "amount": e.Amount}
	case poker.HandWonUncontested:
		return map[string]any{"kind": "hand_won_uncontested", "seat": e.Seat, "player_id": e.PlayerID, "amount": e.Amount}
	case poker.RunoutStarted:
		return map[string]any{"kind": "runout_started", "from": e.From.String()}
	case poker.ShowdownReached:
		return map[string]any{"kind": "showdown_reached"}
	default:
		return map[string]any{"kind": "unknown"}
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
