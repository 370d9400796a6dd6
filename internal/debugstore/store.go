// Package debugstore persists every frame a Router sends or receives into
// a SQLite database, complementing the Router's Debug-level log lines with
// a queryable record: which stream a frame concerned, which direction it
// travelled, and when it crossed the wire.
package debugstore

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS frames (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TEXT    NOT NULL,
	direction   TEXT    NOT NULL,
	identifier  TEXT,
	stream      TEXT,
	raw         BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_frames_stream ON frames(stream);
`

// Store is a single-writer SQLite-backed log of wire frames. Frames are
// inserted from the Router's multiplex goroutine only, but Store guards
// its handle with a mutex so a concurrent reader (Recent, StreamHistory)
// can query safely from another goroutine, such as a CLI front-end
// tailing the debug trace while the session is still open.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// Open creates or opens the SQLite database at path and ensures the
// frames table exists.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("debugstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite does not support concurrent writers

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("debugstore: create schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Record inserts one frame. raw is the frame's bytes as they crossed the
// wire: outbound frames still carry their CR LF terminator, inbound frames
// arrive already split from it; identifier and stream, if extractable, are
// pulled out for indexed lookups but the full raw bytes are kept too.
func (s *Store) Record(direction string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identifier, stream := sniffFields(raw)

	_, err := s.db.Exec(
		`INSERT INTO frames (recorded_at, direction, identifier, stream, raw) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), direction, identifier, stream, raw,
	)
	if err != nil {
		s.logger.Warn("debugstore: insert failed", "error", err)
		return fmt.Errorf("debugstore: insert: %w", err)
	}
	return nil
}

// FrameRecord is one row read back from the store.
type FrameRecord struct {
	RecordedAt time.Time
	Direction  string
	Identifier string
	Stream     string
	Raw        []byte
}

// StreamHistory returns every recorded frame naming the given stream, in
// the order they were recorded.
func (s *Store) StreamHistory(stream string) ([]FrameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT recorded_at, direction, identifier, stream, raw FROM frames WHERE stream = ? ORDER BY id ASC`,
		stream,
	)
	if err != nil {
		return nil, fmt.Errorf("debugstore: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanFrames(rows)
}

// Recent returns the most recently recorded frames, oldest first, up to
// limit rows.
func (s *Store) Recent(limit int) ([]FrameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT recorded_at, direction, identifier, stream, raw FROM frames ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("debugstore: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records, err := scanFrames(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func scanFrames(rows *sql.Rows) ([]FrameRecord, error) {
	var records []FrameRecord
	for rows.Next() {
		var rec FrameRecord
		var recordedAt string
		if err := rows.Scan(&recordedAt, &rec.Direction, &rec.Identifier, &rec.Stream, &rec.Raw); err != nil {
			return nil, fmt.Errorf("debugstore: scan: %w", err)
		}
		rec.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// sniffFields pulls the "identifier" and "stream" string fields out of a
// raw JSON frame without paying for a full decode through the wire
// package - the debug store runs on the hot path for every frame, so it
// scans for the two fields it indexes on rather than allocating a Frame.
func sniffFields(raw []byte) (identifier, stream string) {
	identifier = jsonStringField(raw, "identifier")
	stream = jsonStringField(raw, "stream")
	return identifier, stream
}

func jsonStringField(raw []byte, field string) string {
	key := []byte(`"` + field + `":"`)
	idx := indexOf(raw, key)
	if idx < 0 {
		return ""
	}
	start := idx + len(key)
	end := start
	for end < len(raw) && raw[end] != '"' {
		if raw[end] == '\\' {
			end++
		}
		end++
	}
	if end > len(raw) {
		return ""
	}
	return string(raw[start:end])
}

func indexOf(haystack, needle []byte) int {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return i
		}
	}
	return -1
}
