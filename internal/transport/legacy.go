package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/waypost/waypost/internal/config"
	wperrors "github.com/waypost/waypost/internal/errors"
)

// LegacyClient talks to the script-based collector. Writes are
// fire-and-forget: the collector never exposes a readable response, so
// any completed request counts as delivered.
type LegacyClient struct {
	baseURL string
	enabled bool
	timeout time.Duration
	client  Doer
}

// NewLegacyClient creates a legacy client from config.
func NewLegacyClient(cfg config.LegacyConfig, doer Doer) *LegacyClient {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &LegacyClient{
		baseURL: cfg.BaseURL,
		enabled: cfg.Enabled && cfg.BaseURL != "",
		timeout: 10 * time.Second,
		client:  doer,
	}
}

// Enabled reports whether the legacy fallback is configured.
func (c *LegacyClient) Enabled() bool {
	return c.enabled
}

// SendJSON posts an arbitrary payload. The response status is ignored;
// only a failure to complete the request is an error.
func (c *LegacyClient) SendJSON(ctx context.Context, payload interface{}) error {
	if !c.enabled {
		return wperrors.NewTransportError(wperrors.CodeLegacyFailed, "legacy collector not configured", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return wperrors.NewInternalError("failed to encode legacy payload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return wperrors.NewInternalError("failed to build legacy request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return wperrors.NewTransportError(wperrors.CodeLegacyFailed, "legacy send failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// SendQuery issues a GET with the payload encoded in the query string,
// the shape page-exit beacons use.
func (c *LegacyClient) SendQuery(ctx context.Context, params url.Values) error {
	if !c.enabled {
		return wperrors.NewTransportError(wperrors.CodeLegacyFailed, "legacy collector not configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return wperrors.NewInternalError("failed to build legacy request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return wperrors.NewTransportError(wperrors.CodeLegacyFailed, "legacy send failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// BeaconURL builds the GET-style URL a beacon uses for this payload.
func (c *LegacyClient) BeaconURL(params url.Values) string {
	return c.baseURL + "?" + params.Encode()
}

// ReadSatisfaction fetches the feedback distribution (love, good,
// neutral, sad, total). The collector answers with a plain JSON object.
func (c *LegacyClient) ReadSatisfaction(ctx context.Context) (map[string]int64, error) {
	if !c.enabled {
		return nil, wperrors.NewTransportError(wperrors.CodeLegacyFailed, "legacy collector not configured", nil)
	}

	q := url.Values{}
	q.Set("action", "getSatisfactionData")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, wperrors.NewInternalError("failed to build satisfaction request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, wperrors.NewTransportError(wperrors.CodeLegacyFailed, "satisfaction read failed", err)
	}
	defer resp.Body.Close()

	var dist map[string]int64
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&dist); err != nil {
		return nil, wperrors.NewTransportError(wperrors.CodeLegacyFailed, "unparseable satisfaction response", err)
	}
	return dist, nil
}

var jsonpValue = regexp.MustCompile(`"(?:value|count)"\s*:\s*(\d+)`)

// ReadCounter fetches a counter over the collector's JSONP-style
// endpoint and extracts the numeric value from the wrapped response.
func (c *LegacyClient) ReadCounter(ctx context.Context, name string) (int64, error) {
	if !c.enabled {
		return 0, wperrors.NewTransportError(wperrors.CodeLegacyFailed, "legacy collector not configured", nil)
	}

	q := url.Values{}
	q.Set("action", "get")
	q.Set("counter", name)
	q.Set("callback", "cb")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, wperrors.NewInternalError("failed to build counter request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, wperrors.NewTransportError(wperrors.CodeLegacyFailed, "legacy counter read failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return 0, wperrors.NewTransportError(wperrors.CodeLegacyFailed, "legacy counter read failed", err)
	}

	// Accept both bare JSON and a cb({...}) wrapper.
	m := jsonpValue.FindSubmatch(body)
	if m == nil {
		return 0, wperrors.NewTransportError(wperrors.CodeLegacyFailed,
			fmt.Sprintf("unparseable counter response: %.60s", body), nil)
	}
	return strconv.ParseInt(string(m[1]), 10, 64)
}
