package tourney

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"github.com/vglenn/cardroom/pkg/poker"
	"github.com/vglenn/cardroom/pkg/table"
	"github.com/vglenn/cardroom/pkg/wallet"
)

// State is the tournament lifecycle.
type State string

const (
	StateRegistering State = "registering"
	StateStarting    State = "starting"
	StateInProgress  State = "in_progress"
	StateFinalTable  State = "final_table"
	StateFinished    State = "finished"
	StateCancelled   State = "cancelled"
)

// Level is one blind level.
type Level struct {
	SmallBlind int64
	BigBlind   int64
	Ante       int64
	Duration   time.Duration
}

// Config fixes a tournament's structure.
type Config struct {
	ID            string
	Name          string
	BuyIn         int64
	StartingChips int64
	SeatsPerTable int
	MaxPlayers    int
	Levels        []Level
	// LateRegLevels keeps registration open through the first n levels.
	LateRegLevels int
	// BreakEvery inserts a pause after every n levels; 0 disables.
	BreakEvery    int
	BreakDuration time.Duration
	Strategy      Strategy
	// MoveTimeout bounds one table-to-table player move.
	MoveTimeout time.Duration
}

func (c *Config) defaults() {
	if c.SeatsPerTable <= 0 {
		c.SeatsPerTable = 9
	}
	if c.Strategy == "" {
		c.Strategy = MinimizeMoves
	}
	if c.MoveTimeout <= 0 {
		c.MoveTimeout = 5 * time.Second
	}
	if len(c.Levels) == 0 {
		c.Levels = []Level{{SmallBlind: 10, BigBlind: 20, Duration: 10 * time.Minute}}
	}
}

// TableRef is the coordinator's handle on a running table actor.
type TableRef interface {
	ID() string
	Send(table.Message) bool
}

// Factory spawns and starts a table actor for the tournament.
type Factory func(id string, rules poker.TableRules) TableRef

// Entrant is one registered player.
type Entrant struct {
	ID      string
	Name    string
	TableID string
	Chips   int64
	// Place is 0 until the player busts; the winner gets place 1.
	Place int
}

// payoutShares is the prize split over the paid places, best first.
var payoutShares = []int{50, 30, 20}

// Coordinator owns one tournament. Table actors report eliminations and
// stacks through the table.Observer interface; everything else arrives
// via exported methods.
type Coordinator struct {
	cfg     Config
	log     slog.Logger
	ledger  wallet.Ledger
	factory Factory

	mu        sync.Mutex
	state     State
	entrants  map[string]*Entrant
	tables    map[string]TableRef
	stacks    map[string]map[string]int64
	busted    int
	level     int // 1-based
	levelEnds time.Time
	breakEnds time.Time
	feature   string
}

// NewCoordinator creates a tournament accepting registrations.
func NewCoordinator(cfg Config, ledger wallet.Ledger, factory Factory, log slog.Logger) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		cfg:      cfg,
		log:      log,
		ledger:   ledger,
		factory:  factory,
		state:    StateRegistering,
		entrants: make(map[string]*Entrant),
		tables:   make(map[string]TableRef),
		stacks:   make(map[string]map[string]int64),
	}
}

// Status returns the lifecycle state.
func (c *Coordinator) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Register enters a player, charging the buy-in. Late registration stays
// open through the configured levels.
func (c *Coordinator) Register(ctx context.Context, playerID, name string) *poker.GameError {
	c.mu.Lock()
	late := c.state == StateInProgress && c.level <= c.cfg.LateRegLevels
	if c.state != StateRegistering && !late {
		c.mu.Unlock()
		return poker.NewGameError(poker.CodeRegistrationClosed, "tournament %s is %s", c.cfg.ID, c.state)
	}
	if _, dup := c.entrants[playerID]; dup {
		c.mu.Unlock()
		return poker.NewGameError(poker.CodeDuplicateRegistration, "player %s is already registered", playerID)
	}
	if c.cfg.MaxPlayers > 0 && len(c.entrants) >= c.cfg.MaxPlayers {
		c.mu.Unlock()
		return poker.NewGameError(poker.CodeTournamentFull, "tournament %s is full", c.cfg.ID)
	}
	c.mu.Unlock()

	if c.ledger != nil {
		res, err := c.ledger.Reserve(ctx, playerID, c.cfg.BuyIn, "buy-in tournament "+c.cfg.ID)
		if err == wallet.ErrInsufficientFunds {
			return poker.NewGameError(poker.CodeInsufficientChips, "balance cannot cover buy-in %d", c.cfg.BuyIn)
		}
		if err != nil {
			c.log.Errorf("reserve tournament buy-in for %s: %v", playerID, err)
			return poker.NewGameError(poker.CodeInsufficientChips, "wallet unavailable")
		}
		// The buy-in is spent the moment registration succeeds.
		if err := c.ledger.CommitLoss(ctx, res.ID, "entered tournament "+c.cfg.ID); err != nil {
			c.log.Errorf("commit tournament buy-in for %s: %v", playerID, err)
		}
	}

	c.mu.Lock()
	entrant := &Entrant{ID: playerID, Name: name, Chips: c.cfg.StartingChips}
	c.entrants[playerID] = entrant
	lateSeat := late
	c.mu.Unlock()

	if lateSeat {
		c.seatLate(entrant)
	}
	c.log.Infof("tournament %s: %s registered (%d entrants)", c.cfg.ID, playerID, c.fieldSize())
	return nil
}

// Start seats the field and opens play at level 1.
func (c *Coordinator) Start(ctx context.Context) *poker.GameError {
	c.mu.Lock()
	if c.state != StateRegistering {
		c.mu.Unlock()
		return poker.NewGameError(poker.CodeInvalidPhase, "tournament %s is %s", c.cfg.ID, c.state)
	}
	if len(c.entrants) < 2 {
		c.mu.Unlock()
		return poker.NewGameError(poker.CodeInsufficientPlayers, "need 2 players, have %d", len(c.entrants))
	}
	c.state = StateStarting

	nTables := (len(c.entrants) + c.cfg.SeatsPerTable - 1) / c.cfg.SeatsPerTable
	rules := c.levelRules(1)
	ids := make([]string, 0, nTables)
	for i := 0; i < nTables; i++ {
		id := fmt.Sprintf("%s-t%d", c.cfg.ID, i+1)
		c.tables[id] = c.factory(id, rules)
		c.stacks[id] = make(map[string]int64)
		ids = append(ids, id)
	}
	c.feature = ids[0]

	// Round-robin seating keeps the starting tables within one player.
	seats := make(map[string][]*Entrant)
	i := 0
	for _, e := range c.entrants {
		id := ids[i%len(ids)]
		e.TableID = id
		c.stacks[id][e.ID] = e.Chips
		seats[id] = append(seats[id], e)
		i++
	}
	c.level = 1
	c.levelEnds = time.Now().Add(c.cfg.Levels[0].Duration)
	c.state = StateInProgress
	c.mu.Unlock()

	for id, list := range seats {
		for _, e := range list {
			c.moveIn(c.tables[id], e)
		}
	}
	c.log.Infof("tournament %s started: %d players over %d tables", c.cfg.ID, c.fieldSize(), nTables)
	return nil
}

// Run drives the level clock and breaks until the tournament ends.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if done := c.clockTick(now); done {
				return
			}
		}
	}
}

func (c *Coordinator) clockTick(now time.Time) bool {
	c.mu.Lock()
	switch c.state {
	case StateFinished, StateCancelled:
		c.mu.Unlock()
		return true
	case StateInProgress, StateFinalTable:
	default:
		c.mu.Unlock()
		return false
	}

	if !c.breakEnds.IsZero() {
		if now.Before(c.breakEnds) {
			c.mu.Unlock()
			return false
		}
		c.breakEnds = time.Time{}
		refs := c.tableRefs()
		c.mu.Unlock()
		for _, ref := range refs {
			ref.Send(table.Resume{})
		}
		return false
	}

	if now.Before(c.levelEnds) || c.level >= len(c.cfg.Levels) {
		c.mu.Unlock()
		return false
	}

	c.level++
	lvl := c.cfg.Levels[c.level-1]
	c.levelEnds = now.Add(lvl.Duration)
	onBreak := c.cfg.BreakEvery > 0 && (c.level-1)%c.cfg.BreakEvery == 0 && c.level > 1
	if onBreak {
		c.breakEnds = now.Add(c.cfg.BreakDuration)
	}
	refs := c.tableRefs()
	level := c.level
	c.mu.Unlock()

	c.log.Infof("tournament %s: level %d, blinds %d/%d", c.cfg.ID, level, lvl.SmallBlind, lvl.BigBlind)
	for _, ref := range refs {
		ref.Send(table.LevelChange{SmallBlind: lvl.SmallBlind, BigBlind: lvl.BigBlind, Ante: lvl.Ante, Level: level})
		if onBreak {
			ref.Send(table.Pause{Reason: "scheduled break"})
		}
	}
	return false
}

// Break pauses every table for d. The level clock is pushed back by the
// same amount and play resumes automatically when the break ends.
func (c *Coordinator) Break(d time.Duration) *poker.GameError {
	c.mu.Lock()
	switch c.state {
	case StateInProgress, StateFinalTable:
	default:
		st := c.state
		c.mu.Unlock()
		return poker.NewGameError(poker.CodeInvalidPhase, "tournament %s is %s", c.cfg.ID, st)
	}
	now := time.Now()
	c.breakEnds = now.Add(d)
	c.levelEnds = c.levelEnds.Add(d)
	refs := c.tableRefs()
	c.mu.Unlock()

	c.log.Infof("tournament %s: break for %s", c.cfg.ID, d)
	for _, ref := range refs {
		ref.Send(table.Pause{Reason: "tournament break"})
	}
	return nil
}

// Announce fans a director message out to every open table.
func (c *Coordinator) Announce(text string) {
	c.mu.Lock()
	refs := c.tableRefs()
	c.mu.Unlock()
	for _, ref := range refs {
		ref.Send(table.Notice{Text: text})
	}
}

// PlayerEliminated implements table.Observer. Places count down from the
// field size; the last player standing wins.
func (c *Coordinator) PlayerEliminated(tableID, playerID string) {
	c.mu.Lock()
	e, ok := c.entrants[playerID]
	if !ok || e.Place != 0 {
		c.mu.Unlock()
		return
	}
	c.busted++
	e.Place = len(c.entrants) - c.busted + 1
	e.Chips = 0
	delete(c.stacks[tableID], playerID)
	remaining := len(c.entrants) - c.busted
	c.mu.Unlock()

	c.log.Infof("tournament %s: %s eliminated in place %d, %d remain", c.cfg.ID, playerID, e.Place, remaining)

	switch {
	case remaining == 1:
		c.finish()
	case remaining <= c.cfg.SeatsPerTable && c.tableCount() > 1:
		c.consolidate()
	default:
		c.rebalance()
	}
}

// HandFinished implements table.Observer, keeping the stack census fresh.
func (c *Coordinator) HandFinished(tableID string, stacks map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	census := c.stacks[tableID]
	if census == nil {
		return
	}
	for pid, chips := range stacks {
		if e, ok := c.entrants[pid]; ok && e.TableID == tableID {
			e.Chips = chips
			if chips > 0 {
				census[pid] = chips
			} else {
				delete(census, pid)
			}
		}
	}
}

// TableFailure reseats a dead table's players from the last known stack
// census and retires the table.
func (c *Coordinator) TableFailure(tableID string) {
	c.mu.Lock()
	census := c.stacks[tableID]
	delete(c.stacks, tableID)
	delete(c.tables, tableID)
	var stranded []*Entrant
	for pid := range census {
		if e, ok := c.entrants[pid]; ok {
			stranded = append(stranded, e)
		}
	}
	c.mu.Unlock()

	c.log.Warnf("tournament %s: table %s failed, reseating %d players", c.cfg.ID, tableID, len(stranded))
	for _, e := range stranded {
		c.seatLate(e)
	}
	c.rebalance()
}

// rebalance evens out table sizes, applying move batches concurrently
// where the tables involved are disjoint.
func (c *Coordinator) rebalance() {
	c.mu.Lock()
	moves := PlanBalance(c.stacks, c.cfg.Strategy)
	c.mu.Unlock()
	if len(moves) > 0 {
		c.applyMoves(moves)
	}
}

// consolidate collapses the field onto the final table.
func (c *Coordinator) consolidate() {
	c.mu.Lock()
	dest, moves := PlanConsolidation(c.stacks, c.feature)
	c.state = StateFinalTable
	c.mu.Unlock()

	c.log.Infof("tournament %s: final table at %s, %d moves", c.cfg.ID, dest, len(moves))
	c.applyMoves(moves)

	c.mu.Lock()
	for id, ref := range c.tables {
		if id == dest {
			continue
		}
		reply := make(chan table.Result, 1)
		ref.Send(table.CloseTable{Reply: reply})
		delete(c.tables, id)
		delete(c.stacks, id)
	}
	c.mu.Unlock()
}

func (c *Coordinator) applyMoves(moves []Move) {
	for _, batch := range DisjointBatches(moves) {
		var g errgroup.Group
		for _, m := range batch {
			m := m
			g.Go(func() error { return c.applyMove(m) })
		}
		if err := g.Wait(); err != nil {
			c.log.Errorf("tournament %s: rebalance: %v", c.cfg.ID, err)
		}
	}
}

func (c *Coordinator) applyMove(m Move) error {
	c.mu.Lock()
	from, to := c.tables[m.From], c.tables[m.To]
	e := c.entrants[m.PlayerID]
	c.mu.Unlock()
	if from == nil || to == nil || e == nil {
		return fmt.Errorf("move %s: table gone", m.PlayerID)
	}

	taken, err := c.request(from, func(reply chan table.Result) table.Message {
		return table.TakePlayer{PlayerID: m.PlayerID, Reply: reply}
	})
	if err != nil {
		return fmt.Errorf("take %s from %s: %w", m.PlayerID, m.From, err)
	}
	var payload struct {
		Chips int64  `json:"chips"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(taken, &payload); err != nil {
		return fmt.Errorf("take %s: bad reply: %w", m.PlayerID, err)
	}

	if _, err := c.request(to, func(reply chan table.Result) table.Message {
		return table.MovePlayerHere{PlayerID: m.PlayerID, Name: payload.Name, Chips: payload.Chips, Reply: reply}
	}); err != nil {
		return fmt.Errorf("seat %s at %s: %w", m.PlayerID, m.To, err)
	}

	c.mu.Lock()
	delete(c.stacks[m.From], m.PlayerID)
	if c.stacks[m.To] != nil {
		c.stacks[m.To][m.PlayerID] = payload.Chips
	}
	e.TableID = m.To
	e.Chips = payload.Chips
	c.mu.Unlock()
	return nil
}

// request sends a replying message and waits with the move deadline.
func (c *Coordinator) request(ref TableRef, build func(chan table.Result) table.Message) (json.RawMessage, error) {
	reply := make(chan table.Result, 1)
	if !ref.Send(build(reply)) {
		return nil, fmt.Errorf("table %s inbox full", ref.ID())
	}
	select {
	case res := <-reply:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Payload, nil
	case <-time.After(c.cfg.MoveTimeout):
		return nil, fmt.Errorf("table %s did not reply", ref.ID())
	}
}

// seatLate puts an entrant on the smallest live table.
func (c *Coordinator) seatLate(e *Entrant) {
	c.mu.Lock()
	var dest string
	best := int(^uint(0) >> 1)
	for id, census := range c.stacks {
		if len(census) < best {
			best = len(census)
			dest = id
		}
	}
	ref := c.tables[dest]
	if ref == nil {
		c.mu.Unlock()
		return
	}
	e.TableID = dest
	c.stacks[dest][e.ID] = e.Chips
	c.mu.Unlock()
	c.moveIn(ref, e)
}

func (c *Coordinator) moveIn(ref TableRef, e *Entrant) {
	if _, err := c.request(ref, func(reply chan table.Result) table.Message {
		return table.MovePlayerHere{PlayerID: e.ID, Name: e.Name, Chips: e.Chips, Reply: reply}
	}); err != nil {
		c.log.Errorf("tournament %s: seat %s: %v", c.cfg.ID, e.ID, err)
	}
}

// finish pays out the places and closes the remaining table.
func (c *Coordinator) finish() {
	c.mu.Lock()
	var winner *Entrant
	for _, e := range c.entrants {
		if e.Place == 0 {
			winner = e
			winner.Place = 1
		}
	}
	pool := c.cfg.BuyIn * int64(len(c.entrants))
	paid := len(payoutShares)
	if paid > len(c.entrants) {
		paid = len(c.entrants)
	}
	payouts := make(map[string]int64)
	total := 0
	for i := 0; i < paid; i++ {
		total += payoutShares[i]
	}
	for _, e := range c.entrants {
		if e.Place >= 1 && e.Place <= paid {
			payouts[e.ID] = pool * int64(payoutShares[e.Place-1]) / int64(total)
		}
	}
	refs := c.tableRefs()
	c.state = StateFinished
	c.mu.Unlock()

	if winner != nil {
		c.log.Infof("tournament %s: %s wins", c.cfg.ID, winner.ID)
	}
	if c.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for pid, amount := range payouts {
			if err := c.ledger.CommitWin(ctx, pid, amount, "payout tournament "+c.cfg.ID); err != nil {
				c.log.Errorf("payout %d to %s: %v", amount, pid, err)
			}
		}
	}
	for _, ref := range refs {
		reply := make(chan table.Result, 1)
		ref.Send(table.CloseTable{Reply: reply})
	}
}

// Standings returns entrants ordered by place (winner first), with live
// players ahead of busted ones by chip count.
func (c *Coordinator) Standings() []Entrant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entrant, 0, len(c.entrants))
	for _, e := range c.entrants {
		out = append(out, *e)
	}
	sortStandings(out)
	return out
}

func (c *Coordinator) fieldSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entrants)
}

func (c *Coordinator) tableCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tables)
}

func (c *Coordinator) tableRefs() []TableRef {
	refs := make([]TableRef, 0, len(c.tables))
	for _, ref := range c.tables {
		refs = append(refs, ref)
	}
	return refs
}

func (c *Coordinator) levelRules(level int) poker.TableRules {
	lvl := c.cfg.Levels[level-1]
	return poker.TableRules{
		SmallBlind: lvl.SmallBlind,
		BigBlind:   lvl.BigBlind,
		Ante:       lvl.Ante,
		MaxSeats:   c.cfg.SeatsPerTable,
		TimeBank:   30 * time.Second,
		Grace:      30 * time.Second,
	}
}
