// Package journal persists a relay activity journal in SQLite.
//
// The journal is append-only operational history (who registered,
// who paired, what was relayed), separate from the protocol event log
// in pkg/log. It implements relay.AuditSink.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pairlink/pairlink-go/pkg/relay"
)

const (
	// DefaultFileName is the SQLite filename under the data directory.
	DefaultFileName = "journal.db"

	// DefaultWALCheckpointInterval controls periodic WAL truncation.
	DefaultWALCheckpointInterval = 1 * time.Hour
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS relay_events (
  id        INTEGER PRIMARY KEY AUTOINCREMENT,
  kind      TEXT NOT NULL,
  device_id TEXT NOT NULL,
  peer_id   TEXT,
  detail    TEXT,
  timestamp INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_relay_events_time
ON relay_events (timestamp DESC, id DESC);
`,
	`
CREATE INDEX IF NOT EXISTS idx_relay_events_kind
ON relay_events (kind, timestamp DESC, id DESC);
`,
	`
CREATE INDEX IF NOT EXISTS idx_relay_events_device
ON relay_events (device_id, timestamp DESC, id DESC);
`,
}

// Entry is one journal row.
type Entry struct {
	ID       int64
	Time     time.Time
	Kind     string
	DeviceID string
	PeerID   string
	Detail   string
}

// Filter narrows a Recent query. Zero values match everything.
type Filter struct {
	// Kind matches one audit kind (relay.AuditRegistered, ...).
	Kind string

	// DeviceID matches events triggered by or involving a device.
	DeviceID string

	// Limit caps the number of rows (default 100, max 1000).
	Limit int
}

// Journal is a SQLite-backed relay.AuditSink.
type Journal struct {
	db *sql.DB

	checkpointInterval time.Duration
	checkpointStop     chan struct{}
	checkpointWG       sync.WaitGroup
	closeOnce          sync.Once
}

var _ relay.AuditSink = (*Journal)(nil)

// Open opens (or creates) journal.db under the given data directory
// and runs schema migrations.
func Open(dataDir string) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return OpenPath(filepath.Join(dataDir, DefaultFileName))
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Journal, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal database: %w", err)
	}

	j := &Journal{
		db:                 db,
		checkpointInterval: DefaultWALCheckpointInterval,
		checkpointStop:     make(chan struct{}),
	}
	if err := j.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := j.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	j.startCheckpointLoop()

	return j, nil
}

// Record appends one audit event.
func (j *Journal) Record(ctx context.Context, e relay.AuditEvent) error {
	if strings.TrimSpace(e.Kind) == "" {
		return errors.New("audit event kind is required")
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO relay_events (kind, device_id, peer_id, detail, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Kind, e.DeviceID, e.PeerID, e.Detail, e.Time.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert journal event %q: %w", e.Kind, err)
	}
	return nil
}

// Recent returns journal entries, newest first.
func (j *Journal) Recent(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := strings.Builder{}
	query.WriteString(`SELECT id, kind, device_id, peer_id, detail, timestamp FROM relay_events`)

	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.DeviceID != "" {
		where = append(where, "(device_id = ? OR peer_id = ?)")
		args = append(args, filter.DeviceID, filter.DeviceID)
	}
	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry  Entry
			peer   sql.NullString
			detail sql.NullString
			ts     int64
		)
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.DeviceID, &peer, &detail, &ts); err != nil {
			return nil, fmt.Errorf("scan journal event row: %w", err)
		}
		entry.PeerID = peer.String
		entry.Detail = detail.String
		entry.Time = time.UnixMilli(ts)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal event rows: %w", err)
	}

	return entries, nil
}

// CountByKind returns how many events of each kind the journal holds.
func (j *Journal) CountByKind(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM relay_events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count journal events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan journal count row: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal count rows: %w", err)
	}

	return counts, nil
}

// Close checkpoints the WAL and closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	var closeErr error
	j.closeOnce.Do(func() {
		if j.checkpointStop != nil {
			close(j.checkpointStop)
			j.checkpointWG.Wait()
		}
		_ = j.checkpointWAL()
		closeErr = j.db.Close()
	})
	return closeErr
}

func (j *Journal) applyMigrations() error {
	var version int
	if err := j.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}

	return nil
}

func (j *Journal) enableWALMode() error {
	var journalMode string
	if err := j.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (j *Journal) checkpointWAL() error {
	if _, err := j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("wal checkpoint truncate: %w", err)
	}
	return nil
}

func (j *Journal) startCheckpointLoop() {
	if j.checkpointInterval <= 0 {
		return
	}

	j.checkpointWG.Add(1)
	go func() {
		defer j.checkpointWG.Done()
		ticker := time.NewTicker(j.checkpointInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = j.checkpointWAL()
			case <-j.checkpointStop:
				return
			}
		}
	}()
}
