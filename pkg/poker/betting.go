package poker

// ActionKind is a player betting action.
type ActionKind string

const (
	ActionFold  ActionKind = "fold"
	ActionCheck ActionKind = "check"
	ActionCall  ActionKind = "call"
	ActionBet   ActionKind = "bet"
	ActionRaise ActionKind = "raise"
	ActionAllIn ActionKind = "all_in"
)

// Action is a requested betting action. For bet and raise, Amount is the
// total the player wants committed in the current round (raise-to), not
// the increment. Fold, check, call and all_in ignore Amount.
type Action struct {
	Kind   ActionKind
	Amount int64
}

// Apply validates and applies one player action. Validation happens fully
// before any mutation: a rejected action leaves the state untouched and
// returns a GameError. On success the returned events describe everything
// that happened, including round closure and hand completion.
func (h *HandState) Apply(playerID string, act Action) ([]Event, *GameError) {
	if !h.Phase.IsBetting() || h.Runout {
		return nil, NewGameError(CodeInvalidPhase, "no betting in phase %s", h.Phase)
	}
	p := h.PlayerByID(playerID)
	if p == nil || !p.DealtIn {
		return nil, NewGameError(CodePlayerNotFound, "player %s is not in this hand", playerID)
	}
	if p.Folded || p.AllIn || p.Seat != h.ActiveSeat {
		return nil, NewGameError(CodeNotYourTurn, "seat %d is not the active seat", p.Seat).
			WithDetail("active_seat", h.ActiveSeat)
	}

	toCall := h.CurrentBet - p.RoundBet

	var (
		commit     int64 // chips leaving the stack
		fullRaise  bool
		allIn      bool
		appliedFor ActionKind = act.Kind
	)

	switch act.Kind {
	case ActionFold:
		// Always legal in turn.

	case ActionCheck:
		if toCall > 0 {
			return nil, NewGameError(CodeInvalidBetAmount, "cannot check facing a bet of %d", h.CurrentBet).
				WithDetail("to_call", toCall)
		}

	case ActionCall:
		if toCall <= 0 {
			return nil, NewGameError(CodeInvalidBetAmount, "nothing to call")
		}
		commit = toCall
		if commit >= p.Chips {
			commit = p.Chips
			allIn = true
		}

	case ActionBet:
		if h.CurrentBet > 0 {
			return nil, NewGameError(CodeInvalidBetAmount, "cannot bet facing a bet, raise instead")
		}
		if act.Amount <= 0 {
			return nil, NewGameError(CodeInvalidBetAmount, "bet must be positive")
		}
		if act.Amount > p.Chips {
			return nil, NewGameError(CodeInsufficientChips, "bet %d exceeds stack %d", act.Amount, p.Chips)
		}
		if act.Amount < h.Rules.BigBlind && act.Amount < p.Chips {
			return nil, NewGameError(CodeInvalidBetAmount, "minimum bet is %d", h.Rules.BigBlind).
				WithDetail("min_bet", h.Rules.BigBlind)
		}
		commit = act.Amount
		allIn = commit == p.Chips
		fullRaise = act.Amount >= h.Rules.BigBlind

	case ActionRaise:
		if h.CurrentBet == 0 {
			return nil, NewGameError(CodeInvalidBetAmount, "nothing to raise, bet instead")
		}
		if p.HasActed {
			// A short all-in did not reopen the action for this player.
			return nil, NewGameError(CodeInvalidBetAmount, "betting is not reopened")
		}
		if act.Amount <= h.CurrentBet {
			return nil, NewGameError(CodeInvalidBetAmount, "raise must exceed the current bet of %d", h.CurrentBet)
		}
		commit = act.Amount - p.RoundBet
		if commit > p.Chips {
			return nil, NewGameError(CodeInsufficientChips, "raise to %d needs %d, stack is %d", act.Amount, commit, p.Chips)
		}
		allIn = commit == p.Chips
		increment := act.Amount - h.CurrentBet
		if increment < h.MinRaise && !allIn {
			return nil, NewGameError(CodeInvalidBetAmount, "minimum raise is to %d", h.CurrentBet+h.MinRaise).
				WithDetail("min_raise_to", h.CurrentBet+h.MinRaise)
		}
		fullRaise = increment >= h.MinRaise

	case ActionAllIn:
		if p.Chips <= 0 {
			return nil, NewGameError(CodeInsufficientChips, "no chips behind")
		}
		if p.HasActed && p.RoundBet+p.Chips > h.CurrentBet {
			return nil, NewGameError(CodeInvalidBetAmount, "betting is not reopened")
		}
		commit = p.Chips
		allIn = true
		to := p.RoundBet + commit
		if to > h.CurrentBet {
			fullRaise = to-h.CurrentBet >= h.MinRaise && h.CurrentBet > 0 ||
				h.CurrentBet == 0 && to >= h.Rules.BigBlind
		}

	default:
		return nil, NewGameError(CodeUnknownType, "unknown action %q", act.Kind)
	}

	// Validation is done; mutate.
	events := make([]Event, 0, 2)

	if act.Kind == ActionFold {
		p.Folded = true
	} else if commit > 0 {
		p.Chips -= commit
		p.RoundBet += commit
		h.Pots.AddBet(p.Seat, commit)
		p.AllIn = allIn
		if p.RoundBet > h.CurrentBet {
			increment := p.RoundBet - h.CurrentBet
			h.CurrentBet = p.RoundBet
			if fullRaise {
				h.MinRaise = increment
				// A full bet or raise reopens the action.
				for _, s := range h.actionableSeats() {
					if s != p.Seat {
						h.Seats[s].HasActed = false
					}
				}
			}
		}
	}
	p.HasActed = true

	events = append(events, ActionApplied{
		Seat:     p.Seat,
		PlayerID: p.ID,
		Action:   appliedFor,
		Amount:   commit,
		ToBet:    p.RoundBet,
		AllIn:    allIn,
	})

	if h.roundComplete() {
		events = append(events, h.closeRound()...)
	} else {
		h.ActiveSeat = h.nextDealtIn(h.ActiveSeat)
	}
	return events, nil
}

// ForceFold folds a seat out of turn, for leaves and timeouts. It keeps
// the round invariants intact: the turn advances if the seat was active,
// and the round closes if the fold settled it. Returns nil when the seat
// has nothing to fold.
func (h *HandState) ForceFold(seat int) []Event {
	if !h.Phase.IsBetting() || h.Runout {
		return nil
	}
	p := h.PlayerBySeat(seat)
	if p == nil || !p.DealtIn || p.Folded || p.AllIn {
		return nil
	}

	p.Folded = true
	p.HasActed = true
	events := []Event{ActionApplied{
		Seat:     seat,
		PlayerID: p.ID,
		Action:   ActionFold,
		ToBet:    p.RoundBet,
	}}

	wasActive := h.ActiveSeat == seat
	switch {
	case h.roundComplete():
		events = append(events, h.closeRound()...)
	case wasActive:
		h.ActiveSeat = h.nextDealtIn(seat)
	}
	return events
}

// roundComplete reports whether the current betting round is settled:
// every seat that can still act has matched the bet and had its turn.
func (h *HandState) roundComplete() bool {
	actionable := h.actionableSeats()
	if len(actionable) == 0 {
		return true
	}
	for _, s := range actionable {
		p := h.Seats[s]
		if p.RoundBet < h.CurrentBet {
			return false
		}
		if !p.HasActed && len(actionable) > 1 {
			return false
		}
	}
	return true
}

// closeRound refunds any uncalled bet, then either settles an uncontested
// hand or advances to the next street.
func (h *HandState) closeRound() []Event {
	var events []Event

	if seat, amt := h.Pots.ReturnUncalledBet(); seat >= 0 {
		p := h.Seats[seat]
		p.Chips += amt
		p.RoundBet -= amt
		if p.AllIn && p.Chips > 0 {
			p.AllIn = false
		}
		events = append(events, UncalledReturned{Seat: seat, Amount: amt})
	}

	if live := h.liveSeats(); len(live) == 1 {
		return append(events, h.settleUncontested(live[0])...)
	}

	closed := h.Phase
	if closed == PhaseRiver {
		h.Phase = PhaseShowdown
		h.ActiveSeat = -1
		return append(events, RoundClosed{Closed: closed, NextPhase: PhaseShowdown}, ShowdownReached{})
	}

	h.Phase = closed + 1
	h.Pots.ResetCurrentBets()
	h.CurrentBet = 0
	h.MinRaise = h.Rules.BigBlind
	for _, p := range h.Seats {
		if p != nil && p.DealtIn {
			p.RoundBet = 0
			p.HasActed = false
		}
	}

	events = append(events, RoundClosed{Closed: closed, NextPhase: h.Phase})

	if len(h.actionableSeats()) <= 1 && !h.Runout {
		// Betting is over for the hand; the board runs out.
		h.Runout = true
		h.ActiveSeat = -1
		events = append(events, RunoutStarted{From: h.Phase})
	} else if h.Runout {
		h.ActiveSeat = -1
	} else {
		h.ActiveSeat = h.nextDealtIn(h.Button)
	}
	return events
}

// AdvanceStreet moves a running-out hand to its next street. The caller
// deals the matching board cards after each advance.
func (h *HandState) AdvanceStreet() ([]Event, *GameError) {
	if !h.Runout || !h.Phase.IsBetting() {
		return nil, NewGameError(CodeInvalidPhase, "hand is not running out in phase %s", h.Phase)
	}
	closed := h.Phase
	if closed == PhaseRiver {
		h.Phase = PhaseShowdown
		return []Event{RoundClosed{Closed: closed, NextPhase: PhaseShowdown}, ShowdownReached{}}, nil
	}
	h.Phase = closed + 1
	return []Event{RoundClosed{Closed: closed, NextPhase: h.Phase}}, nil
}

// settleUncontested pays the whole pot to the single live seat without
// revealing any cards.
func (h *HandState) settleUncontested(seat int) []Event {
	folded := h.foldedMask()
	h.Pots.BuildPots(folded)

	var total int64
	for _, pot := range h.Pots.Pots {
		total += pot.Amount
	}
	p := h.Seats[seat]
	p.Chips += total

	h.Phase = PhaseFinished
	h.ActiveSeat = -1
	return []Event{HandWonUncontested{Seat: seat, PlayerID: p.ID, Amount: total}}
}

// ShowdownResult is the settlement of a hand that reached showdown.
type ShowdownResult struct {
	Awards []PotAward
	Hands  map[int]HandValue // seat -> evaluated hand, live seats only
}

// Showdown evaluates every live hand against the full board, settles all
// pots and credits the winners. The board must be complete.
func (h *HandState) Showdown() (*ShowdownResult, *GameError) {
	if h.Phase != PhaseShowdown {
		return nil, NewGameError(CodeInvalidPhase, "showdown in phase %s", h.Phase)
	}
	if len(h.Community) != 5 {
		return nil, NewGameError(CodeInvalidPhase, "showdown with %d board cards", len(h.Community))
	}

	folded := h.foldedMask()
	hands := make([]*HandValue, len(h.Seats))
	byseat := make(map[int]HandValue)
	for _, seat := range h.liveSeats() {
		p := h.Seats[seat]
		hv, err := EvaluateHand(p.HoleCards, h.Community)
		if err != nil {
			return nil, NewGameError(CodeInvalidPhase, "evaluate seat %d: %v", seat, err)
		}
		hands[seat] = &hv
		byseat[seat] = hv
	}

	h.Pots.BuildPots(folded)
	awards := h.Pots.Distribute(hands, folded, h.Button)
	for _, award := range awards {
		for seat, chips := range award.Payouts {
			h.Seats[seat].Chips += chips
		}
	}

	h.Phase = PhaseFinished
	h.ActiveSeat = -1
	return &ShowdownResult{Awards: awards, Hands: byseat}, nil
}
