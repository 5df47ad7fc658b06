package poker

import (
	"time"
)

// Phase is the lifecycle phase of a hand at a table.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhasePreFlop
	PhaseFlop
	PhaseTurn
	PhaseRiver
	PhaseShowdown
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhasePreFlop:
		return "pre_flop"
	case PhaseFlop:
		return "flop"
	case PhaseTurn:
		return "turn"
	case PhaseRiver:
		return "river"
	case PhaseShowdown:
		return "showdown"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// IsBetting reports whether p is a street with live betting.
func (p Phase) IsBetting() bool {
	return p >= PhasePreFlop && p <= PhaseRiver
}

// communityCount is the number of board cards bound to each phase.
func communityCount(p Phase) int {
	switch p {
	case PhaseFlop:
		return 3
	case PhaseTurn:
		return 4
	case PhaseRiver, PhaseShowdown, PhaseFinished:
		return 5
	default:
		return 0
	}
}

// PlayerStatus is a seated player's table-level status.
type PlayerStatus string

const (
	StatusActive       PlayerStatus = "active"
	StatusSittingOut   PlayerStatus = "sitting_out"
	StatusDisconnected PlayerStatus = "disconnected"
	StatusEliminated   PlayerStatus = "eliminated"
)

// Player is a seated player. The owning table actor is the only writer.
type Player struct {
	ID   string
	Name string
	Seat int

	Chips    int64
	RoundBet int64 // chips committed in the current betting round

	HasActed bool
	Folded   bool
	AllIn    bool
	DealtIn  bool // dealt into the current hand

	Status         PlayerStatus
	DisconnectedAt time.Time
	TimeBank       time.Duration

	HoleCards []Card
}

// ActiveAndConnected reports whether the player counts for button rotation
// and blind posting: active status, chips behind, and either connected or
// inside the disconnect grace window.
func (p *Player) ActiveAndConnected(now time.Time, grace time.Duration) bool {
	if p == nil || p.Chips <= 0 {
		return false
	}
	switch p.Status {
	case StatusActive:
		return true
	case StatusDisconnected:
		return now.Sub(p.DisconnectedAt) < grace
	default:
		return false
	}
}

// resetForHand clears hand-local state ahead of a new deal.
func (p *Player) resetForHand() {
	p.RoundBet = 0
	p.HasActed = false
	p.Folded = false
	p.AllIn = false
	p.DealtIn = false
	p.HoleCards = nil
}

// TableRules is the fixed configuration of a table's game.
type TableRules struct {
	SmallBlind int64
	BigBlind   int64
	Ante       int64
	MinBuyIn   int64
	MaxBuyIn   int64
	MaxSeats   int
	TimeBank   time.Duration
	Grace      time.Duration
}

// HandState is the authoritative game state of one table. It is owned by
// exactly one table actor; the betting engine methods below are the only
// mutators during a hand.
type HandState struct {
	TableID string
	HandID  string
	HandNum uint64
	Rules   TableRules

	Phase Phase
	Seats []*Player // len == Rules.MaxSeats; nil for empty seats

	Button        int
	SmallBlindPos int
	BigBlindPos   int

	CurrentBet int64
	MinRaise   int64
	ActiveSeat int // -1 when no one is to act

	Community []Card
	Pots      *PotManager

	// Runout is set when betting is closed for the rest of the hand
	// (everyone all-in or exactly one live bettor); the actor deals the
	// remaining streets without further actions.
	Runout bool
}

// NewHandState creates the state for an empty table.
func NewHandState(tableID string, rules TableRules) *HandState {
	return &HandState{
		TableID:    tableID,
		Rules:      rules,
		Phase:      PhaseWaiting,
		Seats:      make([]*Player, rules.MaxSeats),
		Button:     -1,
		ActiveSeat: -1,
		Pots:       NewPotManager(rules.MaxSeats),
	}
}

// PlayerBySeat returns the player in seat, or nil.
func (h *HandState) PlayerBySeat(seat int) *Player {
	if seat < 0 || seat >= len(h.Seats) {
		return nil
	}
	return h.Seats[seat]
}

// PlayerByID returns the seated player with the given id, or nil.
func (h *HandState) PlayerByID(id string) *Player {
	for _, p := range h.Seats {
		if p != nil && p.ID == id {
			return p
		}
	}
	return nil
}

// Seat places a player into the given seat.
func (h *HandState) Seat(p *Player, seat int) *GameError {
	if seat < 0 || seat >= len(h.Seats) {
		return NewGameError(CodeSeatTaken, "seat %d out of range", seat)
	}
	if h.Seats[seat] != nil {
		return NewGameError(CodeSeatTaken, "seat %d is occupied", seat).WithDetail("seat", seat)
	}
	if existing := h.PlayerByID(p.ID); existing != nil {
		return NewGameError(CodeSeatTaken, "player %s already seated", p.ID)
	}
	p.Seat = seat
	h.Seats[seat] = p
	return nil
}

// Unseat removes the player with the given id and returns it.
func (h *HandState) Unseat(id string) *Player {
	for i, p := range h.Seats {
		if p != nil && p.ID == id {
			h.Seats[i] = nil
			return p
		}
	}
	return nil
}

// EligibleCount reports how many seats would be dealt into a new hand.
func (h *HandState) EligibleCount(now time.Time) int {
	return len(h.eligibleSeats(now))
}

// eligibleSeats returns seats that would be dealt into a new hand.
func (h *HandState) eligibleSeats(now time.Time) []int {
	var seats []int
	for i, p := range h.Seats {
		if p != nil && p.ActiveAndConnected(now, h.Rules.Grace) {
			seats = append(seats, i)
		}
	}
	return seats
}

// nextEligible returns the first eligible seat strictly clockwise from
// `from`, or -1.
func (h *HandState) nextEligible(from int, now time.Time) int {
	n := len(h.Seats)
	for i := 1; i <= n; i++ {
		seat := (from + i) % n
		if p := h.Seats[seat]; p != nil && p.ActiveAndConnected(now, h.Rules.Grace) {
			return seat
		}
	}
	return -1
}

// RotateButton moves the button to the next active-and-connected seat and
// assigns the blinds. The first hand's button must be seeded beforehand via
// SeedButton. Heads-up, the button posts the small blind.
func (h *HandState) RotateButton(now time.Time) *GameError {
	eligible := h.eligibleSeats(now)
	if len(eligible) < 2 {
		return NewGameError(CodeInsufficientPlayers, "need 2 active players, have %d", len(eligible))
	}

	prev := h.Button
	if prev < 0 {
		prev = len(h.Seats) - 1
	}
	h.Button = h.nextEligible(prev, now)

	if len(eligible) == 2 {
		h.SmallBlindPos = h.Button
		h.BigBlindPos = h.nextEligible(h.Button, now)
	} else {
		h.SmallBlindPos = h.nextEligible(h.Button, now)
		h.BigBlindPos = h.nextEligible(h.SmallBlindPos, now)
	}
	return nil
}

// SeedButton places the button on the given seat for the first hand. The
// caller picks the seat at random from the eligible set using the RNG core.
func (h *HandState) SeedButton(seat int, now time.Time) *GameError {
	eligible := h.eligibleSeats(now)
	if len(eligible) < 2 {
		return NewGameError(CodeInsufficientPlayers, "need 2 active players, have %d", len(eligible))
	}
	// Walk back one so RotateButton lands exactly on seat.
	n := len(h.Seats)
	for i := 1; i <= n; i++ {
		prev := ((seat-i)%n + n) % n
		if p := h.Seats[prev]; p != nil && p.ActiveAndConnected(now, h.Rules.Grace) {
			h.Button = prev
			return nil
		}
	}
	h.Button = -1
	return nil
}

// BeginHand resets per-hand state and marks eligible players dealt in.
// Blinds are posted and cards dealt by the caller afterwards.
func (h *HandState) BeginHand(handID string, now time.Time) *GameError {
	eligible := h.eligibleSeats(now)
	if len(eligible) < 2 {
		return NewGameError(CodeInsufficientPlayers, "need 2 active players, have %d", len(eligible))
	}

	h.HandID = handID
	h.HandNum++
	h.Community = nil
	h.Pots = NewPotManager(len(h.Seats))
	h.CurrentBet = 0
	h.MinRaise = h.Rules.BigBlind
	h.ActiveSeat = -1
	h.Runout = false

	for _, p := range h.Seats {
		if p == nil {
			continue
		}
		p.resetForHand()
	}
	for _, seat := range eligible {
		h.Seats[seat].DealtIn = true
	}

	h.Phase = PhasePreFlop
	return nil
}

// PostBlinds posts antes and blinds, sets the opening bet level, and hands
// the action to the first seat to act pre-flop.
func (h *HandState) PostBlinds() []Event {
	var events []Event

	if h.Rules.Ante > 0 {
		for seat, p := range h.Seats {
			if p == nil || !p.DealtIn {
				continue
			}
			amt := h.Rules.Ante
			if amt >= p.Chips {
				amt = p.Chips
				p.AllIn = true
			}
			p.Chips -= amt
			h.Pots.AddBet(seat, amt)
			events = append(events, BlindPosted{Seat: seat, PlayerID: p.ID, Amount: amt, Kind: "ante"})
		}
	}

	post := func(seat int, amount int64, kind string) {
		p := h.Seats[seat]
		if p == nil || !p.DealtIn {
			return
		}
		if amount >= p.Chips {
			amount = p.Chips
			p.AllIn = true
		}
		p.Chips -= amount
		p.RoundBet += amount
		h.Pots.AddBet(seat, amount)
		events = append(events, BlindPosted{Seat: seat, PlayerID: p.ID, Amount: amount, Kind: kind})
	}

	post(h.SmallBlindPos, h.Rules.SmallBlind, "small_blind")
	post(h.BigBlindPos, h.Rules.BigBlind, "big_blind")

	h.CurrentBet = h.Rules.BigBlind
	h.MinRaise = h.Rules.BigBlind

	// Pre-flop the action opens left of the big blind (heads-up: the
	// button, which already posted the small blind).
	h.ActiveSeat = h.nextDealtIn(h.BigBlindPos)
	return events
}

// DealHole assigns hole cards seat by seat. order must follow the standard
// deal: one card per dealt-in seat starting left of the button, twice.
func (h *HandState) DealHole(seat int, card Card) {
	if p := h.Seats[seat]; p != nil {
		p.HoleCards = append(p.HoleCards, card)
	}
}

// DealtInSeats returns the seats dealt into this hand in deal order,
// starting left of the button.
func (h *HandState) DealtInSeats() []int {
	n := len(h.Seats)
	var seats []int
	for i := 1; i <= n; i++ {
		seat := (h.Button + i) % n
		if p := h.Seats[seat]; p != nil && p.DealtIn {
			seats = append(seats, seat)
		}
	}
	return seats
}

// nextDealtIn returns the next seat clockwise from `from` that is dealt in
// and can still act (not folded, not all-in), or -1.
func (h *HandState) nextDealtIn(from int) int {
	n := len(h.Seats)
	for i := 1; i <= n; i++ {
		seat := (from + i) % n
		p := h.Seats[seat]
		if p != nil && p.DealtIn && !p.Folded && !p.AllIn {
			return seat
		}
	}
	return -1
}

// liveSeats returns dealt-in, non-folded seats.
func (h *HandState) liveSeats() []int {
	var seats []int
	for i, p := range h.Seats {
		if p != nil && p.DealtIn && !p.Folded {
			seats = append(seats, i)
		}
	}
	return seats
}

// actionableSeats returns live seats that are not all-in.
func (h *HandState) actionableSeats() []int {
	var seats []int
	for i, p := range h.Seats {
		if p != nil && p.DealtIn && !p.Folded && !p.AllIn {
			seats = append(seats, i)
		}
	}
	return seats
}

// DealCommunity appends street cards dealt by the deck manager. The board
// size must end up matching the current phase.
func (h *HandState) DealCommunity(cards ...Card) {
	h.Community = append(h.Community, cards...)
}

// foldedMask returns the seat-aligned fold mask. Seats not dealt in count
// as folded for pot purposes.
func (h *HandState) foldedMask() []bool {
	mask := make([]bool, len(h.Seats))
	for i, p := range h.Seats {
		mask[i] = p == nil || !p.DealtIn || p.Folded
	}
	return mask
}

// StackTotal sums all live stacks, committed bets included.
func (h *HandState) StackTotal() int64 {
	var total int64
	for _, p := range h.Seats {
		if p != nil {
			total += p.Chips
		}
	}
	return total + h.Pots.Total()
}
