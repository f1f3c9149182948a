// Package syncstore provides the sync log store interface and its
// implementations: a Supabase (PostgREST) client for the hosted log and a
// SQLite store for local use.
package syncstore

import (
	"context"
)

// ColumnCreatedAt is the only ordering column the stores support.
const ColumnCreatedAt = "created_at"

// Query describes one read against the log.
type Query struct {
	// OrderBy names the ordering column; empty leaves the order to the store.
	OrderBy    string
	Descending bool

	// Limit caps the number of rows returned.
	Limit int

	// Filename restricts results to rows whose filename equals it exactly.
	Filename *string
}

// LogStore defines the read interface over the sync log.
type LogStore interface {
	// Query returns the records matching q, in the order q requests.
	Query(ctx context.Context, q Query) ([]SyncLogRecord, error)

	// Close releases any resources held by the store.
	Close() error
}

// RecentQuery builds the newest-first query used by read_sync_state.
func RecentQuery(limit int, filename *string) Query {
	return Query{
		OrderBy:    ColumnCreatedAt,
		Descending: true,
		Limit:      limit,
		Filename:   filename,
	}
}

// LogWriter is implemented by stores that accept new records locally.
type LogWriter interface {
	Append(ctx context.Context, rec SyncLogRecord) (SyncLogRecord, error)
}

var _ LogWriter = (*SQLiteStore)(nil)
