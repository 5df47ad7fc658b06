package poker

// Event is an engine-level occurrence produced by applying an action or
// posting blinds. The table actor turns these into broadcasts and audit
// records.
type Event interface {
	eventKind() string
}

// BlindPosted records a forced bet (ante, small blind or big blind).
type BlindPosted struct {
	Seat     int
	PlayerID string
	Amount   int64
	Kind     string
}

func (BlindPosted) eventKind() string { return "blind_posted" }

// ActionApplied records an accepted player action.
type ActionApplied struct {
	Seat     int
	PlayerID string
	Action   ActionKind
	Amount   int64 // chips moved by this action
	ToBet    int64 // player's round bet after the action
	AllIn    bool
}

func (ActionApplied) eventKind() string { return "action_applied" }

// RoundClosed records the end of a betting round. NextPhase is the phase
// the hand moved to; the actor deals the matching street before play
// resumes.
type RoundClosed struct {
	Closed    Phase
	NextPhase Phase
}

func (RoundClosed) eventKind() string { return "round_closed" }

// UncalledReturned records the refund of the uncalled portion of a bet.
type UncalledReturned struct {
	Seat   int
	Amount int64
}

func (UncalledReturned) eventKind() string { return "uncalled_returned" }

// HandWonUncontested records a hand ending because everyone else folded.
// The winner's hole cards are never revealed.
type HandWonUncontested struct {
	Seat     int
	PlayerID string
	Amount   int64
}

func (HandWonUncontested) eventKind() string { return "hand_won_uncontested" }

// RunoutStarted records that betting is over for the hand and the
// remaining streets run out automatically.
type RunoutStarted struct {
	From Phase
}

func (RunoutStarted) eventKind() string { return "runout_started" }

// ShowdownReached records that the hand reached showdown; the actor
// evaluates hands, settles pots and reveals the deck proof.
type ShowdownReached struct{}

func (ShowdownReached) eventKind() string { return "showdown_reached" }
