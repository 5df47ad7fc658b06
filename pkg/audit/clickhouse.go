package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/decred/slog"
)

// CHStore is the ClickHouse audit backend, for deployments that want the
// trail queryable by analysts rather than on local disk.
type CHStore struct {
	conn driver.Conn
	log  slog.Logger
}

const chRecordsDDL = `
CREATE TABLE IF NOT EXISTS audit_records (
	id        String,
	table_id  String,
	hand_id   String,
	type      String,
	seq       UInt64,
	payload   String,
	timestamp DateTime64(6, 'UTC')
) ENGINE = MergeTree()
ORDER BY (table_id, seq)
TTL toDateTime(timestamp) + INTERVAL 90 DAY`

const chAlertsDDL = `
CREATE TABLE IF NOT EXISTS security_alerts (
	id        String,
	table_id  String,
	hand_id   String,
	level     String,
	check_name String,
	detail    String,
	payload   String,
	timestamp DateTime64(6, 'UTC')
) ENGINE = MergeTree()
ORDER BY (timestamp)
TTL toDateTime(timestamp) + INTERVAL 90 DAY`

// NewCHStore connects to ClickHouse and creates the tables.
func NewCHStore(ctx context.Context, addr, database, username, password string, log slog.Logger) (*CHStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("audit: clickhouse ping: %w", err)
	}
	for _, ddl := range []string{chRecordsDDL, chAlertsDDL} {
		if err := conn.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("audit: clickhouse ddl: %w", err)
		}
	}
	return &CHStore{conn: conn, log: log}, nil
}

// AppendBatch inserts the records with the driver's native batch API.
func (s *CHStore) AppendBatch(ctx context.Context, tableID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO audit_records")
	if err != nil {
		return fmt.Errorf("audit: prepare batch: %w", err)
	}
	for _, rec := range records {
		if err := batch.Append(
			rec.ID,
			tableID,
			rec.HandID,
			rec.Type,
			rec.Seq,
			string(rec.Payload),
			rec.Timestamp,
		); err != nil {
			return fmt.Errorf("audit: batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("audit: batch send: %w", err)
	}
	return nil
}

// AppendAlert inserts one alert row.
func (s *CHStore) AppendAlert(ctx context.Context, alert Alert) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO security_alerts")
	if err != nil {
		return fmt.Errorf("audit: prepare alert: %w", err)
	}
	if err := batch.Append(
		alert.ID,
		alert.TableID,
		alert.HandID,
		alert.Level,
		alert.Check,
		alert.Detail,
		string(alert.Payload),
		alert.Timestamp,
	); err != nil {
		return fmt.Errorf("audit: alert append: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("audit: alert send: %w", err)
	}
	return nil
}

// Query returns the table's records in [from, to) ordered by Seq.
func (s *CHStore) Query(ctx context.Context, tableID string, from, to time.Time) ([]Record, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id, table_id, hand_id, type, seq, payload, timestamp
		 FROM audit_records
		 WHERE table_id = ? AND timestamp >= ? AND timestamp < ?
		 ORDER BY seq`,
		tableID, from, to)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var payload string
		if err := rows.Scan(&rec.ID, &rec.TableID, &rec.HandID, &rec.Type, &rec.Seq, &payload, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Cleanup is handled by the table TTLs; an explicit call issues a mutation
// for anything the TTL has not collected yet.
func (s *CHStore) Cleanup(ctx context.Context, olderThan time.Time) error {
	if err := s.conn.Exec(ctx, "ALTER TABLE audit_records DELETE WHERE timestamp < ?", olderThan); err != nil {
		return fmt.Errorf("audit: cleanup records: %w", err)
	}
	if err := s.conn.Exec(ctx, "ALTER TABLE security_alerts DELETE WHERE timestamp < ?", olderThan); err != nil {
		return fmt.Errorf("audit: cleanup alerts: %w", err)
	}
	return nil
}

func (s *CHStore) Close() error { return s.conn.Close() }
