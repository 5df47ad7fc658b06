package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
)

// Filesystem layout under the store root:
//
//	audit-batch/{table_id}/{batch_id}.json
//	audit-index/{table_id}/{YYYY-MM-DD}.json
//	security-alert/{table_id}/{alert_id}.json
//	rng-backup/{table_id}/{timestamp}.json
//
// Batch files are immutable once written; the daily index lists the
// batches that landed that day so range queries do not scan everything.
const (
	dirBatch  = "audit-batch"
	dirIndex  = "audit-index"
	dirAlert  = "security-alert"
	dirBackup = "rng-backup"
)

const dateLayout = "2006-01-02"

// FSStore is the filesystem audit backend.
type FSStore struct {
	root string
	log  slog.Logger
}

// NewFSStore creates the layout under root.
func NewFSStore(root string, log slog.Logger) (*FSStore, error) {
	for _, d := range []string{dirBatch, dirIndex, dirAlert, dirBackup} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("audit: create %s: %w", d, err)
		}
	}
	return &FSStore{root: root, log: log}, nil
}

type batchFile struct {
	BatchID   string    `json:"batch_id"`
	TableID   string    `json:"table_id"`
	Count     int       `json:"count"`
	Records   []Record  `json:"records"`
	WrittenAt time.Time `json:"written_at"`
}

type indexFile struct {
	TableID string   `json:"table_id"`
	Date    string   `json:"date"`
	Batches []string `json:"batches"`
}

// AppendBatch writes the records as one immutable batch file and adds it
// to the day's index.
func (s *FSStore) AppendBatch(ctx context.Context, tableID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	batchID := uuid.NewString()
	bf := batchFile{
		BatchID:   batchID,
		TableID:   tableID,
		Count:     len(records),
		Records:   records,
		WrittenAt: now,
	}

	dir := filepath.Join(s.root, dirBatch, tableID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("audit: batch dir: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(dir, batchID+".json"), bf); err != nil {
		return fmt.Errorf("audit: write batch: %w", err)
	}

	if err := s.appendIndex(tableID, now.Format(dateLayout), batchID); err != nil {
		return err
	}
	s.log.Tracef("audit batch %s for table %s, %d records", batchID, tableID, len(records))
	return nil
}

func (s *FSStore) appendIndex(tableID, date, batchID string) error {
	dir := filepath.Join(s.root, dirIndex, tableID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("audit: index dir: %w", err)
	}
	path := filepath.Join(dir, date+".json")

	idx := indexFile{TableID: tableID, Date: date}
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &idx); err != nil {
			return fmt.Errorf("audit: corrupt index %s: %w", path, err)
		}
	}
	idx.Batches = append(idx.Batches, batchID)
	if err := writeJSONAtomic(path, idx); err != nil {
		return fmt.Errorf("audit: write index: %w", err)
	}
	return nil
}

// AppendAlert writes one alert under the table's alert directory. The
// file mtime is set to the alert timestamp so retention can sweep by
// age without parsing every file.
func (s *FSStore) AppendAlert(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	tableID := alert.TableID
	if tableID == "" {
		tableID = "global"
	}
	dir := filepath.Join(s.root, dirAlert, tableID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("audit: alert dir: %w", err)
	}
	path := filepath.Join(dir, alert.ID+".json")
	if err := writeJSONAtomic(path, alert); err != nil {
		return fmt.Errorf("audit: write alert: %w", err)
	}
	if err := os.Chtimes(path, alert.Timestamp, alert.Timestamp); err != nil {
		s.log.Warnf("audit: stamp alert %s: %v", alert.ID, err)
	}
	return nil
}

// backupFile wraps a randomness backup blob with its provenance.
type backupFile struct {
	TableID   string    `json:"table_id"`
	HandID    string    `json:"hand_id"`
	WrittenAt time.Time `json:"written_at"`
	Blob      any       `json:"blob"`
}

// WriteBackup stores an opaque randomness backup blob, used for deck
// reveals and recovery snapshots. Files are keyed by write time;
// nanoseconds keep rapid hands on one table apart.
func (s *FSStore) WriteBackup(tableID, handID string, blob any) error {
	dir := filepath.Join(s.root, dirBackup, tableID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("audit: backup dir: %w", err)
	}
	now := time.Now().UTC()
	name := fmt.Sprintf("%d.json", now.UnixNano())
	bf := backupFile{TableID: tableID, HandID: handID, WrittenAt: now, Blob: blob}
	if err := writeJSONAtomic(filepath.Join(dir, name), bf); err != nil {
		return fmt.Errorf("audit: write backup: %w", err)
	}
	return nil
}

// Query loads the daily indexes covering [from, to) and returns matching
// records ordered by Seq.
func (s *FSStore) Query(ctx context.Context, tableID string, from, to time.Time) ([]Record, error) {
	var out []Record
	for day := from.UTC().Truncate(24 * time.Hour); day.Before(to); day = day.Add(24 * time.Hour) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.root, dirIndex, tableID, day.Format(dateLayout)+".json")
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("audit: read index: %w", err)
		}
		var idx indexFile
		if err := json.Unmarshal(raw, &idx); err != nil {
			return nil, fmt.Errorf("audit: corrupt index %s: %w", path, err)
		}
		for _, batchID := range idx.Batches {
			bf, err := s.readBatch(tableID, batchID)
			if err != nil {
				return nil, err
			}
			for _, rec := range bf.Records {
				if !rec.Timestamp.Before(from) && rec.Timestamp.Before(to) {
					out = append(out, rec)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *FSStore) readBatch(tableID, batchID string) (*batchFile, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, dirBatch, tableID, batchID+".json"))
	if err != nil {
		return nil, fmt.Errorf("audit: read batch %s: %w", batchID, err)
	}
	var bf batchFile
	if err := json.Unmarshal(raw, &bf); err != nil {
		return nil, fmt.Errorf("audit: corrupt batch %s: %w", batchID, err)
	}
	return &bf, nil
}

// Cleanup removes index days, their batches, and alert days older than
// the cutoff.
func (s *FSStore) Cleanup(ctx context.Context, olderThan time.Time) error {
	cutoff := olderThan.UTC().Format(dateLayout)

	tables, err := os.ReadDir(filepath.Join(s.root, dirIndex))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("audit: cleanup: %w", err)
	}
	for _, tbl := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		tdir := filepath.Join(s.root, dirIndex, tbl.Name())
		days, err := os.ReadDir(tdir)
		if err != nil {
			continue
		}
		for _, day := range days {
			date := day.Name()
			if len(date) < len(dateLayout) || date[:len(dateLayout)] >= cutoff {
				continue
			}
			raw, err := os.ReadFile(filepath.Join(tdir, date))
			if err == nil {
				var idx indexFile
				if json.Unmarshal(raw, &idx) == nil {
					for _, batchID := range idx.Batches {
						os.Remove(filepath.Join(s.root, dirBatch, tbl.Name(), batchID+".json"))
					}
				}
			}
			os.Remove(filepath.Join(tdir, date))
		}
	}

	alertTables, err := os.ReadDir(filepath.Join(s.root, dirAlert))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("audit: cleanup alerts: %w", err)
	}
	for _, tbl := range alertTables {
		tdir := filepath.Join(s.root, dirAlert, tbl.Name())
		files, err := os.ReadDir(tdir)
		if err != nil {
			continue
		}
		for _, f := range files {
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(olderThan) {
				os.Remove(filepath.Join(tdir, f.Name()))
			}
		}
		if rest, err := os.ReadDir(tdir); err == nil && len(rest) == 0 {
			os.Remove(tdir)
		}
	}
	return nil
}

// Close is a no-op for the filesystem backend.
func (s *FSStore) Close() error { return nil }

// writeJSONAtomic writes v to path via a temp file and rename so readers
// never observe a partial file.
func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
