// Package table runs one actor goroutine per table. The actor owns the
// hand state exclusively; everything else talks to it through its inbox.
package table

import (
	"encoding/json"
	"time"

	"github.com/vglenn/cardroom/pkg/poker"
)

// Result is the reply to a command. Payload is the serialized success
// reply; Err carries a rejection that never mutated state.
type Result struct {
	Payload json.RawMessage
	Err     *poker.GameError
}

// Message is anything the actor accepts on its inbox.
type Message interface {
	message()
}

// CmdJoin seats a player with a wallet-reserved buy-in. Seat -1 takes any
// open seat.
type CmdJoin struct {
	PlayerID string
	Name     string
	Seat     int
	BuyIn    int64
	Reply    chan Result
}

// CmdLeave stands the player up and cashes out their stack.
type CmdLeave struct {
	PlayerID string
	Reply    chan Result
}

// CmdAction is a betting action from a player.
type CmdAction struct {
	PlayerID string
	Action   poker.Action
	Reply    chan Result
}

// CmdSitOut excuses the player from upcoming hands without standing up.
// A player sitting out mid-hand is folded first.
type CmdSitOut struct {
	PlayerID string
	Reply    chan Result
}

// CmdSitIn returns a sitting-out player to the deal rotation.
type CmdSitIn struct {
	PlayerID string
	Reply    chan Result
}

// CmdChat relays a chat line to the table.
type CmdChat struct {
	PlayerID string
	Text     string
}

// SessionBind marks the player connected again.
type SessionBind struct {
	PlayerID string
}

// SessionUnbind marks the player disconnected and starts their grace
// window.
type SessionUnbind struct {
	PlayerID string
}

// QuerySnapshot asks for the player's view of the table, for reconnect
// replay.
type QuerySnapshot struct {
	PlayerID string
	Reply    chan Result
}

// Tick drives timers: hand starts, action timeouts and runouts.
type Tick struct {
	Now time.Time
}

// Supervisor messages, sent by the tournament coordinator.

// MovePlayerHere seats a player carried over from another table with
// their chips intact.
type MovePlayerHere struct {
	PlayerID string
	Name     string
	Chips    int64
	Reply    chan Result
}

// TakePlayer removes a player for a rebalancing move and returns their
// chips in the reply payload.
type TakePlayer struct {
	PlayerID string
	Reply    chan Result
}

// Pause stops new hands from starting; the current hand finishes.
type Pause struct{ Reason string }

// Resume lifts a pause.
type Resume struct{}

// LevelChange updates the blinds for the next hand.
type LevelChange struct {
	SmallBlind int64
	BigBlind   int64
	Ante       int64
	Level      int
}

// CloseTable finishes the current hand, cashes everyone out and stops
// the actor.
type CloseTable struct {
	Reply chan Result
}

// Notice relays a coordinator announcement to everyone at the table.
type Notice struct {
	Text string
}

func (CmdJoin) message()        {}
func (CmdLeave) message()       {}
func (CmdAction) message()      {}
func (CmdSitOut) message()      {}
func (CmdSitIn) message()       {}
func (CmdChat) message()        {}
func (Notice) message()         {}
func (SessionBind) message()    {}
func (SessionUnbind) message()  {}
func (QuerySnapshot) message()  {}
func (Tick) message()           {}
func (MovePlayerHere) message() {}
func (TakePlayer) message()     {}
func (Pause) message()          {}
func (Resume) message()         {}
func (LevelChange) message()    {}
func (CloseTable) message()     {}
