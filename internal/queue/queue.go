// Package queue is the job dispatch fabric: a Redis Streams consumer-group
// reader with reclaim-after-idle and acknowledge-on-completion,
// generalizing the teacher's internal/pipeline/bus.Bus
// subscribe/blocking-read loop from an in-process channel bus to a durable
// stream, keeping the same "read in a loop, hand off to a goroutine"
// control flow as Orchestrator.Run's select over subStart.C()/subStop.C().
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Joshi004/moments-pipeline/internal/coordstore"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/log"
	"github.com/Joshi004/moments-pipeline/internal/metrics"
)

// DefaultReclaimIdle is the spec's default idle-reclaim threshold.
const DefaultReclaimIdle = 60 * time.Second

// Entry is one pending run submission read from the requests stream.
// LockToken carries the fencing token the enqueue adapter's lock
// acquisition produced, so the worker that eventually dequeues this entry
// can assert and refresh the same lock without a second acquire (which
// would otherwise fail since the key is already held).
type Entry struct {
	ID          string           // stream entry id, used to Ack
	RunID       string           `json:"run_id"`
	SubjectID   string           `json:"subject_id"`
	Config      domain.RunConfig `json:"config"`
	RequestedAt time.Time        `json:"requested_at"`
	LockToken   string           `json:"lock_token"`
}

// Dispatcher is the consumer-group reader over pipeline:requests.
type Dispatcher struct {
	store  *coordstore.Client
	stream string
}

// New returns a Dispatcher over the given stream (default pipeline:requests).
func New(store *coordstore.Client, stream string) *Dispatcher {
	if stream == "" {
		stream = coordstore.StreamRequests
	}
	return &Dispatcher{store: store, stream: stream}
}

// EnsureGroup idempotently creates the consumer group at the stream's tail.
func (d *Dispatcher) EnsureGroup(ctx context.Context, group string) error {
	return d.store.EnsureGroup(ctx, d.stream, group)
}

// Append publishes a new run submission, used by the enqueue adapter.
func (d *Dispatcher) Append(ctx context.Context, e Entry) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("queue: marshal entry: %w", err)
	}
	return d.store.XAdd(ctx, d.stream, map[string]any{"payload": string(raw)})
}

// Read performs a blocking multi-read against the consumer group.
func (d *Dispatcher) Read(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	raw, err := d.store.ReadGroup(ctx, d.stream, group, consumer, count, block)
	if err != nil {
		return nil, err
	}
	return decodeAll(raw)
}

// ReclaimIdle claims entries idle longer than minIdle, covering worker
// crashes mid-run — at-least-once delivery.
func (d *Dispatcher) ReclaimIdle(ctx context.Context, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	raw, err := d.store.ReclaimIdle(ctx, d.stream, group, consumer, minIdle, count)
	if err != nil {
		return nil, err
	}
	entries, err := decodeAll(raw)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		metrics.QueueReclaimTotal.Add(float64(len(entries)))
		log.WithComponent("queue").Info().Int("count", len(entries)).Str("consumer", consumer).Msg("reclaimed idle stream entries")
	}
	return entries, nil
}

// Ack acknowledges an entry, removing it from the group's pending list.
// Entries are acknowledged on terminal outcome only — the queue layer
// never re-dispatches on error.
func (d *Dispatcher) Ack(ctx context.Context, group, entryID string) error {
	return d.store.Ack(ctx, d.stream, group, entryID)
}

func decodeAll(raw []coordstore.StreamEntry) ([]Entry, error) {
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		payload, _ := r.Values["payload"].(string)
		var e Entry
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e); err != nil {
				return nil, fmt.Errorf("queue: decode entry %s: %w", r.ID, err)
			}
		}
		e.ID = r.ID
		out = append(out, e)
	}
	return out, nil
}
