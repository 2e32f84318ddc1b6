package transport

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	wperrors "github.com/waypost/waypost/internal/errors"
	"github.com/waypost/waypost/pkg/types"
)

// Transport names used in delivery stats.
const (
	TransportPrimary = "primary"
	TransportLegacy  = "legacy"
	TransportBeacon  = "beacon"
)

// legacyBatchPayload is the wire shape the script collector accepts.
type legacyBatchPayload struct {
	Batch   []types.EnrichedEvent `json:"batch"`
	BatchID string                `json:"batchId"`
	Source  string                `json:"source"`
}

// Chain delivers batches through the primary backend first and falls
// back to the legacy collector. Beacon drains skip both and fire at the
// legacy URL directly.
type Chain struct {
	primary *PrimaryClient
	legacy  *LegacyClient
	beacon  BeaconSender
	stats   StatsRecorder
}

// NewChain wires the delivery chain. stats may be nil.
func NewChain(primary *PrimaryClient, legacy *LegacyClient, beacon BeaconSender, stats StatsRecorder) *Chain {
	if stats == nil {
		stats = nopRecorder{}
	}
	if beacon == nil {
		beacon = NewHTTPBeacon()
	}
	return &Chain{primary: primary, legacy: legacy, beacon: beacon, stats: stats}
}

// SendBatch attempts primary insert, then the legacy collector. The
// returned error reflects the last transport tried.
func (c *Chain) SendBatch(ctx context.Context, events []types.EnrichedEvent) error {
	if len(events) == 0 {
		return nil
	}

	var lastErr error
	if c.primary.Enabled() {
		start := time.Now()
		err := c.primary.InsertEvents(ctx, events)
		c.stats.RecordAttempt(TransportPrimary, err == nil, time.Since(start).Milliseconds())
		if err == nil {
			return nil
		}
		// Validation failures never succeed elsewhere either
		if wperrors.GetCategory(err) == wperrors.ErrCategoryValidation {
			return err
		}
		log.Printf("transport: primary insert failed, trying legacy: %v", err)
		lastErr = err
	}

	if c.legacy.Enabled() {
		start := time.Now()
		err := c.legacy.SendJSON(ctx, legacyBatchPayload{
			Batch:   events,
			BatchID: uuid.NewString(),
			Source:  "batch-analytics",
		})
		c.stats.RecordAttempt(TransportLegacy, err == nil, time.Since(start).Milliseconds())
		if err == nil {
			return nil
		}
		log.Printf("transport: legacy send failed: %v", err)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = wperrors.NewTransportError(wperrors.CodePrimaryDisabled, "no transport configured", nil)
	}
	return lastErr
}

// DrainBeacon fires the batch at the legacy collector without waiting.
// Used on page hide and shutdown, where a blocking send would be lost.
func (c *Chain) DrainBeacon(events []types.EnrichedEvent) bool {
	if len(events) == 0 {
		return true
	}

	target := c.legacy.baseURL
	if target == "" && c.primary.baseURL != "" {
		target = c.primary.baseURL + "/rest/v1/" + c.primary.table
	}
	if target == "" {
		return false
	}

	payload, err := json.Marshal(legacyBatchPayload{
		Batch:   events,
		BatchID: uuid.NewString(),
		Source:  "beacon",
	})
	if err != nil {
		log.Printf("transport: failed to encode beacon payload: %v", err)
		return false
	}

	ok := c.beacon.SendBeacon(target, payload)
	c.stats.RecordAttempt(TransportBeacon, ok, 0)
	return ok
}
