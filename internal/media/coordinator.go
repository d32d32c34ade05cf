// Package media turns batches of local media items into uploaded
// attachments, with per-item progress and independent retry.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Joe3124t/pingy/internal/bus"
	"github.com/Joe3124t/pingy/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Item is a local media item selected for upload.
type Item struct {
	ID       string
	Filename string
	MimeType string
	Kind     string // image, video, voice, file
	Data     []byte
}

// Outcome is the terminal result for one item. Exactly one of RemoteURL or
// Err is set; cancelled items produce no outcome at all.
type Outcome struct {
	ItemID    string
	RemoteURL string
	Err       error
	Retryable bool
}

// UploadError is a per-item upload failure. Failures are never aggregated
// into a batch-wide error.
type UploadError struct {
	ItemID    string
	Retryable bool
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of item %s failed: %v", e.ItemID, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Transcoder re-encodes visual media to fit a maximum dimension. The codec
// itself is a collaborator; this package only applies the quality policy.
type Transcoder interface {
	Encode(item Item, maxDimension int) ([]byte, error)
}

// Limits is the size/quality policy for uploads.
type Limits struct {
	MaxBytes       int64
	HDMaxDimension int
	SDMaxDimension int
}

// Coordinator uploads media batches. Items are independent: one failing
// never cancels or fails its siblings.
type Coordinator struct {
	client     transport.Client
	transcoder Transcoder
	limits     Limits
	workers    int
	bus        *bus.Bus
	logger     *zap.Logger

	mu      sync.Mutex
	batches map[string]*batchState
}

type batchState struct {
	conversationID string
	caption        string
	hd             bool
	items          map[string]Item
	outcomes       map[string]Outcome
}

// NewCoordinator creates an upload coordinator.
func NewCoordinator(client transport.Client, transcoder Transcoder, limits Limits, workers int, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if workers <= 0 {
		workers = 3
	}
	return &Coordinator{
		client:     client,
		transcoder: transcoder,
		limits:     limits,
		workers:    workers,
		bus:        b,
		logger:     logger,
		batches:    make(map[string]*batchState),
	}
}

// UploadBatch uploads each item independently and streams outcomes on the
// returned channel, which is closed when every non-cancelled item settles.
// Cancelling ctx drops unfinished items without marking them failed.
func (c *Coordinator) UploadBatch(ctx context.Context, conversationID string, items []Item, caption string, hd bool) (string, <-chan Outcome) {
	batchID := uuid.NewString()

	state := &batchState{
		conversationID: conversationID,
		caption:        caption,
		hd:             hd,
		items:          make(map[string]Item, len(items)),
		outcomes:       make(map[string]Outcome),
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		state.items[items[i].ID] = items[i]
	}
	c.mu.Lock()
	c.batches[batchID] = state
	c.mu.Unlock()

	results := make(chan Outcome, len(items))
	go func() {
		defer close(results)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)
		for _, item := range items {
			item := item
			g.Go(func() error {
				c.uploadOne(gctx, batchID, item, hd, results)
				// Item failures are per-item outcomes, never group errors.
				return nil
			})
		}
		_ = g.Wait()
	}()
	return batchID, results
}

// RetryItem re-attempts a single failed item, preserving sibling outcomes.
func (c *Coordinator) RetryItem(ctx context.Context, batchID, itemID string) (<-chan Outcome, error) {
	c.mu.Lock()
	state, ok := c.batches[batchID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("unknown batch %s", batchID)
	}
	item, ok := state.items[itemID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("unknown item %s in batch %s", itemID, batchID)
	}
	outcome, settled := state.outcomes[itemID]
	hd := state.hd
	c.mu.Unlock()

	if !settled || outcome.Err == nil {
		return nil, fmt.Errorf("item %s is not in a failed state", itemID)
	}

	results := make(chan Outcome, 1)
	go func() {
		defer close(results)
		c.uploadOne(ctx, batchID, item, hd, results)
	}()
	return results, nil
}

// Outcomes returns a snapshot of settled outcomes for a batch.
func (c *Coordinator) Outcomes(batchID string) map[string]Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.batches[batchID]
	if !ok {
		return nil
	}
	snapshot := make(map[string]Outcome, len(state.outcomes))
	for id, o := range state.outcomes {
		snapshot[id] = o
	}
	return snapshot
}

func (c *Coordinator) uploadOne(ctx context.Context, batchID string, item Item, hd bool, results chan<- Outcome) {
	if ctx.Err() != nil {
		// Cancelled before starting: dropped, not failed.
		return
	}
	c.progress(batchID, item.ID, 0)

	data, err := c.encodeForUpload(item, hd)
	if err != nil {
		c.settle(ctx, batchID, results, Outcome{ItemID: item.ID, Err: err, Retryable: false})
		return
	}
	c.progress(batchID, item.ID, 0.3)

	url, err := c.client.UploadMedia(ctx, data, item.Filename, item.MimeType)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		retryable := true
		var netErr *transport.NetworkError
		if errors.As(err, &netErr) {
			retryable = netErr.Transient
		}
		c.settle(ctx, batchID, results, Outcome{
			ItemID:    item.ID,
			Err:       &UploadError{ItemID: item.ID, Retryable: retryable, Err: err},
			Retryable: retryable,
		})
		return
	}

	c.progress(batchID, item.ID, 1)
	c.settle(ctx, batchID, results, Outcome{ItemID: item.ID, RemoteURL: url})
}

// encodeForUpload applies the quality policy. With HD enabled the large
// target is tried first, but an encoding that exceeds the byte ceiling
// falls back to the standard-quality encoding instead of failing.
func (c *Coordinator) encodeForUpload(item Item, hd bool) ([]byte, error) {
	if !isVisual(item.Kind) || c.transcoder == nil {
		return item.Data, nil
	}
	if !hd {
		return c.transcoder.Encode(item, c.limits.SDMaxDimension)
	}

	data, err := c.transcoder.Encode(item, c.limits.HDMaxDimension)
	if err != nil {
		return nil, err
	}
	if c.limits.MaxBytes > 0 && int64(len(data)) > c.limits.MaxBytes {
		if c.logger != nil {
			c.logger.Info("hd encoding over byte ceiling, falling back to sd",
				zap.String("item_id", item.ID),
				zap.Int("hd_bytes", len(data)),
				zap.Int64("ceiling", c.limits.MaxBytes))
		}
		return c.transcoder.Encode(item, c.limits.SDMaxDimension)
	}
	return data, nil
}

func (c *Coordinator) settle(ctx context.Context, batchID string, results chan<- Outcome, outcome Outcome) {
	c.mu.Lock()
	if state, ok := c.batches[batchID]; ok {
		state.outcomes[outcome.ItemID] = outcome
	}
	c.mu.Unlock()

	reason := ""
	if outcome.Err != nil {
		reason = outcome.Err.Error()
	}
	c.bus.Emit(bus.KindUploadDone, bus.UploadDone{
		BatchID:   batchID,
		ItemID:    outcome.ItemID,
		OK:        outcome.Err == nil,
		RemoteURL: outcome.RemoteURL,
		Reason:    reason,
		Retryable: outcome.Retryable,
	})

	select {
	case results <- outcome:
	case <-ctx.Done():
	}
}

func (c *Coordinator) progress(batchID, itemID string, fraction float64) {
	c.bus.Emit(bus.KindUploadProgress, bus.UploadProgress{
		BatchID:  batchID,
		ItemID:   itemID,
		Fraction: fraction,
	})
}

func isVisual(kind string) bool {
	return kind == "image" || kind == "video"
}
