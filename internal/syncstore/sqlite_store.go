package syncstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"crawshaw.io/sqlite"

	"github.com/localrivet/synk/internal/util"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore is a LogStore backed by a local SQLite file. It also accepts
// appends so a local log can be populated without the hosted service.
type SQLiteStore struct {
	mu     sync.Mutex
	conn   *sqlite.Conn
	dbPath string
	table  string
}

// NewSQLiteStore creates a new SQLiteStore for the given table.
func NewSQLiteStore(table string) *SQLiteStore {
	return &SQLiteStore{table: table}
}

// Initialize opens the database at dbPath and creates the table if needed.
func (s *SQLiteStore) Initialize(dbPath string) error {
	if !tableNamePattern.MatchString(s.table) {
		return fmt.Errorf("invalid table name %q", s.table)
	}
	s.dbPath = dbPath

	conn, err := sqlite.OpenConn(dbPath, sqlite.SQLITE_OPEN_CREATE|sqlite.SQLITE_OPEN_READWRITE)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}
	s.conn = conn

	if err := s.createTable(); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("failed to create table: %w", err)
	}

	return nil
}

func (s *SQLiteStore) createTable() error {
	statements := []string{
		fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		delta TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_created_at_idx ON %s (created_at);`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_filename_idx ON %s (filename, created_at);`, s.table, s.table),
	}

	for _, sql := range statements {
		stmt, err := s.conn.Prepare(sql)
		if err != nil {
			return fmt.Errorf("failed to prepare schema statement: %w", err)
		}
		_, err = stmt.Step()
		stmt.Reset()
		if err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the store and releases any resources.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// Append inserts a record. A missing ID or creation time is filled in.
func (s *SQLiteStore) Append(ctx context.Context, rec SyncLogRecord) (SyncLogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return SyncLogRecord{}, errors.New("store not initialized")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	id, _ := rec.ID.(string)
	if id == "" {
		id = util.GenerateRecordID(rec.Filename, rec.Delta, rec.CreatedAt)
	}
	rec.ID = id

	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)

	stmt, err := s.conn.Prepare(fmt.Sprintf(`
	INSERT OR REPLACE INTO %s (id, filename, delta, summary, created_at)
	VALUES (?, ?, ?, ?, ?);`, s.table))
	if err != nil {
		return SyncLogRecord{}, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Reset()

	stmt.BindText(1, id)
	stmt.BindText(2, rec.Filename)
	stmt.BindText(3, rec.Delta)
	stmt.BindText(4, rec.Summary)
	stmt.BindInt64(5, rec.CreatedAt.UnixNano())

	if _, err := stmt.Step(); err != nil {
		return SyncLogRecord{}, fmt.Errorf("failed to insert sync log record: %w", err)
	}
	return rec, nil
}

// Query returns records in the requested order. Only created_at ordering is supported.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]SyncLogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil, errors.New("store not initialized")
	}
	if q.OrderBy != "" && q.OrderBy != ColumnCreatedAt {
		return nil, fmt.Errorf("unsupported order column %q", q.OrderBy)
	}

	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}
	where := ""
	if q.Filename != nil {
		where = "WHERE filename = ?"
	}
	selectSQL := fmt.Sprintf(`
	SELECT id, filename, delta, summary, created_at FROM %s
	%s
	ORDER BY created_at %s
	LIMIT ?;`, s.table, where, direction)

	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)

	stmt, err := s.conn.Prepare(selectSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare select statement: %w", err)
	}
	defer stmt.Reset()

	param := 1
	if q.Filename != nil {
		stmt.BindText(param, *q.Filename)
		param++
	}
	limit := int64(q.Limit)
	if limit < 0 {
		limit = -1
	}
	stmt.BindInt64(param, limit)

	records := []SyncLogRecord{}
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, fmt.Errorf("failed to read sync log: %w", err)
		}
		if !hasRow {
			break
		}
		records = append(records, SyncLogRecord{
			ID:        stmt.ColumnText(0),
			Filename:  stmt.ColumnText(1),
			Delta:     stmt.ColumnText(2),
			Summary:   stmt.ColumnText(3),
			CreatedAt: time.Unix(0, stmt.ColumnInt64(4)).UTC(),
		})
	}

	return records, nil
}

var _ LogStore = (*SQLiteStore)(nil)
