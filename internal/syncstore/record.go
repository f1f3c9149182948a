package syncstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SyncLogRecord is one row of the sync log.
//
// A record decoded from JSON keeps every column exactly as the store returned
// it, and encodes back to the same columns in the same order. The typed fields
// are filled on a best-effort basis: null becomes the zero value and a
// created_at in an unrecognised layout leaves CreatedAt zero.
type SyncLogRecord struct {
	// ID is an integer or a string depending on how the table was created.
	ID        any       `json:"id,omitempty" yaml:"id,omitempty"`
	Filename  string    `json:"filename" yaml:"filename"`
	Delta     string    `json:"delta" yaml:"delta"`
	Summary   string    `json:"summary" yaml:"summary"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	columns []column
}

type column struct {
	name  string
	value json.RawMessage
}

// syncLogFields has the typed fields of SyncLogRecord without its methods.
type syncLogFields struct {
	ID        any       `json:"id,omitempty"`
	Filename  string    `json:"filename"`
	Delta     string    `json:"delta"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// Layouts accepted for created_at, with and without a zone.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

func parseCreatedAt(s string) (time.Time, bool) {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Columns returns the column names of a decoded record in store order, or
// nil for a record built in code.
func (r SyncLogRecord) Columns() []string {
	if r.columns == nil {
		return nil
	}
	names := make([]string, len(r.columns))
	for i, c := range r.columns {
		names[i] = c.name
	}
	return names
}

// Column returns the raw JSON of one column of a decoded record.
func (r SyncLogRecord) Column(name string) (json.RawMessage, bool) {
	for _, c := range r.columns {
		if c.name == name {
			return c.value, true
		}
	}
	return nil, false
}

// MarshalJSON writes the stored columns unchanged when the record was decoded
// from a store, and the typed fields otherwise.
func (r SyncLogRecord) MarshalJSON() ([]byte, error) {
	if r.columns == nil {
		return json.Marshal(syncLogFields{
			ID:        r.ID,
			Filename:  r.Filename,
			Delta:     r.Delta,
			Summary:   r.Summary,
			CreatedAt: r.CreatedAt,
		})
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(c.name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(c.value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps every column of a JSON object and fills the typed
// fields it recognises.
func (r *SyncLogRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("sync log record must be a JSON object")
	}

	rec := SyncLogRecord{columns: []column{}}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in sync log record", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode column %q: %w", name, err)
		}
		rec.columns = append(rec.columns, column{name: name, value: value})
		rec.setField(name, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = rec
	return nil
}

func (r *SyncLogRecord) setField(name string, value json.RawMessage) {
	switch name {
	case "id":
		dec := json.NewDecoder(bytes.NewReader(value))
		dec.UseNumber()
		var id any
		if dec.Decode(&id) == nil {
			r.ID = id
		}
	case "filename":
		r.Filename = stringColumn(value)
	case "delta":
		r.Delta = stringColumn(value)
	case "summary":
		r.Summary = stringColumn(value)
	case ColumnCreatedAt:
		if t, ok := parseCreatedAt(stringColumn(value)); ok {
			r.CreatedAt = t
		}
	}
}

func stringColumn(value json.RawMessage) string {
	var s string
	if json.Unmarshal(value, &s) != nil {
		return ""
	}
	return s
}
