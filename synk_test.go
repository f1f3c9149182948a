package synk

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/synk/internal/broadcast"
	"github.com/localrivet/synk/internal/config"
	"github.com/localrivet/synk/internal/errortypes"
	"github.com/localrivet/synk/internal/syncstore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func localConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "synk.db")
	cfg.Broadcast.Backend = config.BackendMemory
	return cfg
}

func newLocalServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(ServerOptions{Config: localConfig(t), Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.URL = ""
	cfg.Store.ServiceKey = ""

	_, err := NewServer(ServerOptions{Config: cfg, Logger: quietLogger()})
	require.Error(t, err)
	assert.Equal(t, errortypes.ErrorTypeConfig, errortypes.TypeOf(err))
}

func TestCreateComponentsLocalBackends(t *testing.T) {
	store, bc, err := CreateComponents(localConfig(t), quietLogger())
	require.NoError(t, err)
	defer store.Close()
	defer bc.Close()

	assert.IsType(t, &syncstore.SQLiteStore{}, store)
	assert.IsType(t, &broadcast.MemoryBroadcaster{}, bc)
}

func TestCreateComponentsUnknownBackend(t *testing.T) {
	cfg := localConfig(t)
	cfg.Broadcast.Backend = "carrier-pigeon"

	_, _, err := CreateComponents(cfg, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestServerAppendAndReadBack(t *testing.T) {
	srv := newLocalServer(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err := srv.AppendLog(ctx, syncstore.SyncLogRecord{Filename: "a.ts", Delta: "one", Summary: "first", CreatedAt: base})
	require.NoError(t, err)
	_, err = srv.AppendLog(ctx, syncstore.SyncLogRecord{Filename: "b.ts", Delta: "two", Summary: "second", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)

	records, err := srv.RecentLogs(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "two", records[0].Delta)

	text, err := srv.CallTool(ctx, "read_sync_state", map[string]any{"filename": "a.ts"})
	require.NoError(t, err)

	var decoded []syncstore.SyncLogRecord
	require.NoError(t, json.Unmarshal([]byte(text), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "one", decoded[0].Delta)
}

func TestServerTools(t *testing.T) {
	srv := newLocalServer(t)
	assert.IsType(t, &syncstore.SQLiteStore{}, srv.GetStore())
	assert.IsType(t, &broadcast.MemoryBroadcaster{}, srv.GetBroadcaster())

	names := []string{}
	for _, info := range srv.Tools() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"read_sync_state", "trigger_broadcast"}, names)
}

func TestServerAppendRequiresWritableStore(t *testing.T) {
	srv, err := NewServer(ServerOptions{
		Config:      DefaultConfig(),
		Logger:      quietLogger(),
		Store:       readOnlyStore{},
		Broadcaster: broadcast.NewMemoryBroadcaster(0),
	})
	require.NoError(t, err)
	defer srv.Close()

	_, err = srv.AppendLog(context.Background(), syncstore.SyncLogRecord{Filename: "a.ts"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not accept appends")
}

func TestHandlerForwardsBroadcastsToListeners(t *testing.T) {
	srv := newLocalServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The subscription is registered before headers are flushed, so a publish
	// issued now reaches this listener.
	call := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"trigger_broadcast",` +
		`"arguments":{"filename":"a.ts","content":"x","summary":"y"}}}`
	post, err := http.Post(ts.URL+"/api/mcp", "application/json", strings.NewReader(call))
	require.NoError(t, err)
	body, err := io.ReadAll(post.Body)
	post.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, post.StatusCode)
	assert.Contains(t, string(body), "Broadcast Status: ok")

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, data)

	var note struct {
		Method string `json:"method"`
		Params struct {
			Data broadcast.Message `json:"data"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &note))
	assert.Equal(t, "notifications/message", note.Method)
	assert.Equal(t, "synk-stream", note.Params.Data.Topic)
	assert.Equal(t, "code_update", note.Params.Data.Event)
	assert.Equal(t, "a.ts", note.Params.Data.Payload.Filename)
}

type readOnlyStore struct{}

func (readOnlyStore) Query(context.Context, syncstore.Query) ([]syncstore.SyncLogRecord, error) {
	return nil, nil
}

func (readOnlyStore) Close() error { return nil }

// slowStore blocks each query until released, failing if its context ends first.
type slowStore struct {
	started chan struct{}
	release chan struct{}
}

func (s *slowStore) Query(ctx context.Context, _ syncstore.Query) ([]syncstore.SyncLogRecord, error) {
	close(s.started)
	select {
	case <-s.release:
		return []syncstore.SyncLogRecord{{Filename: "a.ts", Delta: "late"}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slowStore) Close() error { return nil }

func TestServeDrainsInFlightCalls(t *testing.T) {
	store := &slowStore{started: make(chan struct{}), release: make(chan struct{})}
	srv, err := NewServer(ServerOptions{
		Config:      DefaultConfig(),
		Logger:      quietLogger(),
		Store:       store,
		Broadcaster: broadcast.NewMemoryBroadcaster(0),
	})
	require.NoError(t, err)
	defer srv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	type reply struct {
		body string
		err  error
	}
	replies := make(chan reply, 1)
	go func() {
		call := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"read_sync_state","arguments":{}}}`
		resp, err := http.Post("http://"+ln.Addr().String()+"/api/mcp", "application/json", strings.NewReader(call))
		if err != nil {
			replies <- reply{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		replies <- reply{body: string(body), err: err}
	}()

	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("tool call never reached the store")
	}
	cancel()
	time.Sleep(100 * time.Millisecond)
	close(store.release)

	r := <-replies
	require.NoError(t, r.err)
	assert.Contains(t, r.body, `late`)
	assert.NotContains(t, r.body, `"isError":true`)
	assert.NoError(t, <-served)
}
