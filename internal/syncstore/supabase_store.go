package syncstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultSupabaseTimeout = 30 * time.Second

// SupabaseConfig configures a SupabaseStore.
type SupabaseConfig struct {
	// URL is the project URL, e.g. https://xyz.supabase.co.
	URL string
	// ServiceKey is sent both as the apikey header and as the bearer token.
	ServiceKey string
	// Table is the sync log table.
	Table string
	// Timeout bounds each request (default 30s).
	Timeout time.Duration
	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client
}

// SupabaseStore reads the sync log through the PostgREST API of a Supabase project.
type SupabaseStore struct {
	endpoint   string
	serviceKey string
	client     *http.Client
}

// NewSupabaseStore creates a SupabaseStore.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("supabase store: url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("supabase store: invalid url: %w", err)
	}
	if strings.TrimSpace(cfg.ServiceKey) == "" {
		return nil, errors.New("supabase store: service key is required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, errors.New("supabase store: table is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultSupabaseTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &SupabaseStore{
		endpoint:   base + "/rest/v1/" + url.PathEscape(table),
		serviceKey: cfg.ServiceKey,
		client:     client,
	}, nil
}

// postgrestError is the error body PostgREST returns on failure.
type postgrestError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// Query runs one select against the table. A failure reported by PostgREST is
// returned with its message unchanged.
func (s *SupabaseStore) Query(ctx context.Context, q Query) ([]SyncLogRecord, error) {
	params := url.Values{}
	params.Set("select", "*")
	if q.OrderBy != "" {
		direction := "asc"
		if q.Descending {
			direction = "desc"
		}
		params.Set("order", q.OrderBy+"."+direction)
	}
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Filename != nil {
		params.Set("filename", "eq."+*q.Filename)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read query response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var pgErr postgrestError
		if json.Unmarshal(body, &pgErr) == nil && pgErr.Message != "" {
			return nil, errors.New(pgErr.Message)
		}
		return nil, fmt.Errorf("query failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	records := []SyncLogRecord{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return records, nil
}

// Close is a no-op; the HTTP client holds no dedicated resources.
func (s *SupabaseStore) Close() error {
	return nil
}

var _ LogStore = (*SupabaseStore)(nil)
