// Package archive exports exhausted retry entries as compressed
// dead-letter batches to object storage, so events that could not be
// delivered are kept for later inspection and replay.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang/snappy"

	"github.com/waypost/waypost/internal/clock"
	"github.com/waypost/waypost/pkg/types"
)

// Common errors for archive operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
)

// keyPrefix groups dead-letter batches under one object namespace.
const keyPrefix = "dead-letter/"

// ObjectStore abstracts the object storage a dead-letter batch lands in.
// Implementations include S3 and a local directory.
type ObjectStore interface {
	// Put stores data under objectPath, overwriting any existing object.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get returns the object's contents, or ErrObjectNotFound.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// List returns all object paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Source yields the entries to archive. Taking must remove them from
// the underlying store.
type Source interface {
	TakeExhausted() []types.FailedEvent
}

// Batch is the decoded form of one archived object.
type Batch struct {
	ArchivedAt time.Time           `json:"archived_at"`
	Entries    []types.FailedEvent `json:"entries"`
}

// Archiver drains exhausted retry entries into object storage.
type Archiver struct {
	store  ObjectStore
	source Source
	clock  clock.Clock
}

// NewArchiver wires an archiver over the given store and source.
func NewArchiver(store ObjectStore, source Source, clk clock.Clock) *Archiver {
	return &Archiver{store: store, source: source, clock: clk}
}

// Export takes all exhausted entries and writes them as one
// snappy-compressed JSON batch. It returns the object path and the
// number of entries archived; no entries means no object is written.
func (a *Archiver) Export(ctx context.Context) (string, int, error) {
	entries := a.source.TakeExhausted()
	if len(entries) == 0 {
		return "", 0, nil
	}

	now := a.clock.Now().UTC()
	raw, err := json.Marshal(Batch{ArchivedAt: now, Entries: entries})
	if err != nil {
		return "", 0, fmt.Errorf("failed to encode dead-letter batch: %w", err)
	}

	path := fmt.Sprintf("%s%s_%d.json.snappy", keyPrefix, now.Format("20060102T150405Z"), len(entries))
	if err := a.store.Put(ctx, path, snappy.Encode(nil, raw)); err != nil {
		return "", 0, err
	}

	log.Printf("archive: exported %d exhausted entries to %s", len(entries), path)
	return path, len(entries), nil
}

// ReadBatch fetches and decodes one archived batch.
func (a *Archiver) ReadBatch(ctx context.Context, objectPath string) (Batch, error) {
	compressed, err := a.store.Get(ctx, objectPath)
	if err != nil {
		return Batch{}, err
	}

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return Batch{}, fmt.Errorf("failed to decompress %s: %w", objectPath, err)
	}

	var batch Batch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return Batch{}, fmt.Errorf("failed to decode %s: %w", objectPath, err)
	}
	return batch, nil
}

// ListBatches returns the paths of all archived batches.
func (a *Archiver) ListBatches(ctx context.Context) ([]string, error) {
	return a.store.List(ctx, keyPrefix)
}
