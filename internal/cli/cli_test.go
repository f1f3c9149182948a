package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/localrivet/synk/internal/config"
	"github.com/localrivet/synk/internal/syncstore"
)

// executeCommand runs a fresh command tree with args and captures stdout/stderr.
func executeCommand(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	root := NewRootCmd("test")
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// useLocalConfig points every command at a SQLite log in a temp dir.
func useLocalConfig(t *testing.T) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "synk.db")
	prev := loadConfig
	loadConfig = func(string) (*config.Config, error) {
		cfg := config.NewConfig()
		cfg.Store.Backend = config.BackendSQLite
		cfg.Store.SQLitePath = dbPath
		cfg.Broadcast.Backend = config.BackendMemory
		cfg.Logging.Level = "error"
		return cfg, nil
	}
	t.Cleanup(func() { loadConfig = prev })
}

func TestToolsTable(t *testing.T) {
	out, _, err := executeCommand(t, "", "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "read_sync_state")
	assert.Contains(t, out, "trigger_broadcast")
}

func TestToolsJSON(t *testing.T) {
	out, _, err := executeCommand(t, "", "tools", "--format", "json")
	require.NoError(t, err)

	var infos []struct {
		Name        string         `json:"name"`
		InputSchema map[string]any `json:"inputSchema"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "read_sync_state", infos[0].Name)
	assert.Equal(t, "object", infos[1].InputSchema["type"])
}

func TestToolsYAML(t *testing.T) {
	out, _, err := executeCommand(t, "", "tools", "--format", "yaml")
	require.NoError(t, err)

	var infos []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "trigger_broadcast", infos[1]["name"])
}

func TestToolsUnknownFormat(t *testing.T) {
	_, _, err := executeCommand(t, "", "tools", "--format", "xml")
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, exitUsage, exitErr.Code)
}

func TestLogAppendThenTail(t *testing.T) {
	useLocalConfig(t)

	out, _, err := executeCommand(t, "", "log", "append", "--filename", "a.ts", "--delta", "+one", "--summary", "first")
	require.NoError(t, err)
	assert.Contains(t, out, "Appended")

	_, _, err = executeCommand(t, "+two from stdin", "log", "append", "--filename", "b.ts", "--delta", "-", "--summary", "second")
	require.NoError(t, err)

	out, _, err = executeCommand(t, "", "log", "tail", "--format", "json")
	require.NoError(t, err)

	var records []syncstore.SyncLogRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 2)
	deltas := []string{records[0].Delta, records[1].Delta}
	assert.ElementsMatch(t, []string{"+one", "+two from stdin"}, deltas)

	out, _, err = executeCommand(t, "", "log", "tail", "--filename", "a.ts")
	require.NoError(t, err)
	assert.Contains(t, out, "a.ts")
	assert.NotContains(t, out, "b.ts")
}

func TestLogTailEmpty(t *testing.T) {
	useLocalConfig(t)

	out, _, err := executeCommand(t, "", "log", "tail", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestLogTailRejectsNegativeLimit(t *testing.T) {
	_, _, err := executeCommand(t, "", "log", "tail", "--limit", "-1")
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, exitUsage, exitErr.Code)
}

func TestLogAppendRequiresFlags(t *testing.T) {
	useLocalConfig(t)

	_, _, err := executeCommand(t, "", "log", "append", "--filename", "a.ts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary")
}

func TestConfigLoadFailure(t *testing.T) {
	prev := loadConfig
	loadConfig = func(string) (*config.Config, error) { return nil, errors.New("bad file") }
	t.Cleanup(func() { loadConfig = prev })

	_, _, err := executeCommand(t, "", "log", "tail")
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, exitConfig, exitErr.Code)
	assert.Contains(t, err.Error(), "bad file")
}

func TestConfigShowRedactsServiceKey(t *testing.T) {
	prev := loadConfig
	loadConfig = func(string) (*config.Config, error) {
		cfg := config.NewConfig()
		cfg.Store.URL = "https://demo.supabase.co"
		cfg.Store.ServiceKey = "very-secret"
		return cfg, nil
	}
	t.Cleanup(func() { loadConfig = prev })

	out, _, err := executeCommand(t, "", "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "very-secret")

	var shown map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "https://demo.supabase.co", shown["store"]["url"])
	assert.Equal(t, "********", shown["store"]["service_key"])
}

func TestConfigInitRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synk.json")

	_, _, err := executeCommand(t, "", "--config", path, "config", "init")
	require.NoError(t, err)

	_, _, err = executeCommand(t, "", "--config", path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
