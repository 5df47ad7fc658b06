// Package audit persists the per-table audit trail: hand events, shuffle
// proofs, deck reveals and security alerts. Records are buffered and
// written in batches; alerts bypass the buffer.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Record types written to the trail.
const (
	TypeHandEvent = "hand_event"
	TypeAction    = "action"
	TypeShuffle   = "shuffle"
	TypeReveal    = "reveal"
	TypeSnapshot  = "snapshot"
)

// Record is one immutable audit entry. Seq orders records within a table;
// the pair (TableID, Seq) is unique.
type Record struct {
	ID        string          `json:"id"`
	TableID   string          `json:"table_id"`
	HandID    string          `json:"hand_id,omitempty"`
	Type      string          `json:"type"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Alert is a security finding. Alerts are never buffered; they go to the
// sink (and any broker) as soon as they are raised.
type Alert struct {
	ID        string          `json:"id"`
	TableID   string          `json:"table_id"`
	HandID    string          `json:"hand_id,omitempty"`
	Level     string          `json:"level"`
	Check     string          `json:"check"`
	Detail    string          `json:"detail"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// RetentionPeriod is how long audit data is kept before Cleanup removes it.
const RetentionPeriod = 90 * 24 * time.Hour

// Sink is a durable audit backend.
type Sink interface {
	// AppendBatch writes a batch of records for one table. The batch is
	// atomic per backend: either all records land or none do.
	AppendBatch(ctx context.Context, tableID string, records []Record) error

	// AppendAlert writes one security alert.
	AppendAlert(ctx context.Context, alert Alert) error

	// Query returns a table's records in [from, to), ordered by Seq.
	Query(ctx context.Context, tableID string, from, to time.Time) ([]Record, error)

	// Cleanup removes data older than the cutoff.
	Cleanup(ctx context.Context, olderThan time.Time) error

	Close() error
}
