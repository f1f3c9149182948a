package syncstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupabaseStore(t *testing.T, handler http.HandlerFunc) *SupabaseStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := NewSupabaseStore(SupabaseConfig{
		URL:        srv.URL + "/",
		ServiceKey: "service-key",
		Table:      "sync_logs",
	})
	require.NoError(t, err)
	return store
}

func TestSupabaseStoreQueryBuildsPostgrestRequest(t *testing.T) {
	var got *http.Request
	store := newTestSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": 7, "filename": "a.ts", "delta": "x", "summary": "y", "created_at": "2025-01-01T10:02:00.123456+00:00"},
			{"id": 6, "filename": "a.ts", "delta": "w", "summary": "v", "created_at": "2025-01-01T10:01:00+00:00"}
		]`))
	})

	filename := "a.ts"
	records, err := store.Query(context.Background(), RecentQuery(5, &filename))
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/rest/v1/sync_logs", got.URL.Path)
	assert.Equal(t, "*", got.URL.Query().Get("select"))
	assert.Equal(t, "created_at.desc", got.URL.Query().Get("order"))
	assert.Equal(t, "5", got.URL.Query().Get("limit"))
	assert.Equal(t, "eq.a.ts", got.URL.Query().Get("filename"))
	assert.Equal(t, "service-key", got.Header.Get("apikey"))
	assert.Equal(t, "Bearer service-key", got.Header.Get("Authorization"))

	require.Len(t, records, 2)
	assert.Equal(t, json.Number("7"), records[0].ID)
	assert.Equal(t, "x", records[0].Delta)
	assert.Equal(t, "w", records[1].Delta)
}

func TestSupabaseStoreQueryWithoutFilter(t *testing.T) {
	var query map[string][]string
	store := newTestSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		_, _ = w.Write([]byte(`[]`))
	})

	records, err := store.Query(context.Background(), RecentQuery(10, nil))
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)
	assert.NotContains(t, query, "filename")
	assert.Equal(t, []string{"10"}, query["limit"])
}

func TestSupabaseStoreQueryPassesErrorMessageThrough(t *testing.T) {
	store := newTestSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"42P01","message":"relation \"public.sync_logs\" does not exist","details":null,"hint":null}`))
	})

	_, err := store.Query(context.Background(), RecentQuery(10, nil))
	require.Error(t, err)
	assert.Equal(t, `relation "public.sync_logs" does not exist`, err.Error())
}

func TestSupabaseStoreQueryNonJSONFailure(t *testing.T) {
	store := newTestSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})

	_, err := store.Query(context.Background(), RecentQuery(10, nil))
	assert.EqualError(t, err, "query failed with status 502: upstream down")
}

func TestNewSupabaseStoreValidation(t *testing.T) {
	_, err := NewSupabaseStore(SupabaseConfig{ServiceKey: "k", Table: "t"})
	assert.ErrorContains(t, err, "url is required")

	_, err = NewSupabaseStore(SupabaseConfig{URL: "https://x.supabase.co", Table: "t"})
	assert.ErrorContains(t, err, "service key is required")

	_, err = NewSupabaseStore(SupabaseConfig{URL: "https://x.supabase.co", ServiceKey: "k"})
	assert.ErrorContains(t, err, "table is required")
}

func TestSupabaseStoreQueryKeepsRowsAsReturned(t *testing.T) {
	row := `{"id":1,"filename":"a.ts","delta":"+x","summary":null,` +
		`"created_at":"2025-01-01T10:02:00.123456","agent_id":"claude","project":"p1"}`
	store := newTestSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[" + row + "]"))
	})

	records, err := store.Query(context.Background(), RecentQuery(10, nil))
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "", rec.Summary)
	assert.True(t, time.Date(2025, 1, 1, 10, 2, 0, 123456000, time.UTC).Equal(rec.CreatedAt))
	assert.Equal(t, []string{"id", "filename", "delta", "summary", "created_at", "agent_id", "project"}, rec.Columns())

	out, err := json.Marshal(records)
	require.NoError(t, err)
	assert.Equal(t, "["+row+"]", string(out))
}
