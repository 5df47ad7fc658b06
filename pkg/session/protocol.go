// Package session is the client-facing edge: the WebSocket hub, the wire
// envelope, and the idempotency and coalescing pipeline in front of the
// table actors.
package session

import (
	"encoding/json"
	"time"

	"github.com/vglenn/cardroom/pkg/poker"
)

// Client to server message types.
const (
	TypeJoinTable    = "join_table"
	TypeLeaveTable   = "leave_table"
	TypePlayerAction = "player_action"
	TypeChat         = "chat"
	TypeHeartbeat    = "heartbeat"
)

// Server to client message types.
const (
	TypeConnectionAck = "connection_ack"
	TypeStateUpdate   = "state_update"
	TypeHandStarted   = "hand_started"
	TypeHandCompleted = "hand_completed"
	TypePlayerJoined  = "player_joined"
	TypePlayerLeft    = "player_left"
	TypeError         = "error"
)

// clientTypes is the closed set a client may send; anything else is
// rejected with unknown_type.
var clientTypes = map[string]bool{
	TypeJoinTable:    true,
	TypeLeaveTable:   true,
	TypePlayerAction: true,
	TypeChat:         true,
	TypeHeartbeat:    true,
}

// KnownClientType reports whether t is a message type clients may send.
func KnownClientType(t string) bool { return clientTypes[t] }

// Envelope is the wire frame for every message in both directions.
// Server frames carry ID and a per-connection Seq; client commands carry
// IdempotencyKey so retries are safe, and replies echo CorrelationID.
type Envelope struct {
	Type           string          `json:"type"`
	ID             string          `json:"id,omitempty"`
	Seq            uint64          `json:"seq,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	StateVersion   uint64          `json:"state_version,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// BypassHeader disables the idempotency pipeline for one request, for
// debugging against live tables.
const BypassHeader = "X-Dedupe-Bypass"

// JoinTablePayload seats the player, reserving BuyIn from the wallet.
// Seat -1 takes any open seat.
type JoinTablePayload struct {
	TableID string `json:"table_id"`
	BuyIn   int64  `json:"buy_in"`
	Seat    int    `json:"seat"`
}

// LeaveTablePayload stands the player up and cashes out their stack.
type LeaveTablePayload struct {
	TableID string `json:"table_id"`
}

// PlayerActionPayload is one betting action.
type PlayerActionPayload struct {
	TableID string `json:"table_id"`
	Action  string `json:"action"`
	Amount  int64  `json:"amount,omitempty"`
}

// ChatPayload relays a table chat line.
type ChatPayload struct {
	TableID string `json:"table_id"`
	Text    string `json:"text"`
}

// ErrorPayload carries a rejection to the client.
type ErrorPayload struct {
	Code    poker.ErrorCode        `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorEnvelope builds an error reply correlated to a client frame.
func ErrorEnvelope(correlationID string, gerr *poker.GameError) Envelope {
	payload, _ := json.Marshal(ErrorPayload{
		Code:    gerr.Code,
		Message: gerr.Message,
		Details: gerr.Details,
	})
	return Envelope{
		Type:          TypeError,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	}
}
