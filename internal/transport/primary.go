package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/waypost/waypost/internal/config"
	wperrors "github.com/waypost/waypost/internal/errors"
	"github.com/waypost/waypost/pkg/types"
)

// PrimaryClient inserts event rows into the managed-database REST API.
// Every call is bounded by the configured timeout; a non-2xx response is
// a failure.
type PrimaryClient struct {
	baseURL string
	apiKey  string
	table   string
	timeout time.Duration
	enabled bool
	client  Doer
}

// NewPrimaryClient creates a primary client from config. A nil doer
// falls back to http.DefaultClient.
func NewPrimaryClient(cfg config.PrimaryConfig, doer Doer) *PrimaryClient {
	if doer == nil {
		doer = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	table := cfg.EventsTable
	if table == "" {
		table = "analytics_events"
	}
	return &PrimaryClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		table:   table,
		timeout: timeout,
		enabled: cfg.Enabled && cfg.BaseURL != "",
		client:  doer,
	}
}

// Enabled reports whether the primary backend is configured.
func (c *PrimaryClient) Enabled() bool {
	return c.enabled
}

// InsertEvents inserts a batch of rows into the events table. Field
// limits are enforced before serialization; an oversized field is a
// validation failure.
func (c *PrimaryClient) InsertEvents(ctx context.Context, events []types.EnrichedEvent) error {
	if !c.enabled {
		return wperrors.NewTransportError(wperrors.CodePrimaryDisabled, "primary backend not configured", nil)
	}
	if len(events) == 0 {
		return wperrors.NewValidationError(wperrors.CodeEmptyBatch, "no events to insert")
	}

	for i := range events {
		events[i].Truncate()
		if err := events[i].Validate(); err != nil {
			return wperrors.NewValidationError(wperrors.CodeFieldTooLong, err.Error())
		}
	}

	body, err := json.Marshal(events)
	if err != nil {
		return wperrors.NewInternalError("failed to encode events", err)
	}

	return c.post(ctx, "/rest/v1/"+c.table, body, http.Header{
		"Prefer": []string{"return=minimal"},
	})
}

// CounterValue reads a named counter from the counters table.
func (c *PrimaryClient) CounterValue(ctx context.Context, name string) (int64, error) {
	if !c.enabled {
		return 0, wperrors.NewTransportError(wperrors.CodePrimaryDisabled, "primary backend not configured", nil)
	}

	q := url.Values{}
	q.Set("name", "eq."+name)
	q.Set("select", "value")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/v1/counters?"+q.Encode(), nil)
	if err != nil {
		return 0, wperrors.NewInternalError("failed to build counter request", err)
	}
	c.setAuthHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, c.transportError("counter read failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, wperrors.NewTransportError(wperrors.CodeInsertFailed,
			fmt.Sprintf("counter read returned status %d", resp.StatusCode), nil)
	}

	var rows []struct {
		Value int64 `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return 0, wperrors.NewInternalError("failed to decode counter response", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Value, nil
}

// IncrementCounter atomically increments a named counter through an RPC
// endpoint.
func (c *PrimaryClient) IncrementCounter(ctx context.Context, name string) error {
	if !c.enabled {
		return wperrors.NewTransportError(wperrors.CodePrimaryDisabled, "primary backend not configured", nil)
	}

	body, err := json.Marshal(map[string]string{"counter_name": name})
	if err != nil {
		return wperrors.NewInternalError("failed to encode increment request", err)
	}
	return c.post(ctx, "/rest/v1/rpc/increment_counter", body, nil)
}

func (c *PrimaryClient) post(ctx context.Context, path string, body []byte, extra http.Header) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return wperrors.NewInternalError("failed to build request", err)
	}
	c.setAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError("request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return wperrors.NewTransportError(wperrors.CodeInsertFailed,
			fmt.Sprintf("insert returned status %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *PrimaryClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func (c *PrimaryClient) transportError(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return wperrors.NewTransportError(wperrors.CodeRequestTimeout, msg+": timeout", err)
	}
	return wperrors.NewTransportError(wperrors.CodeInsertFailed, msg, err)
}
