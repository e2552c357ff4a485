// Package batch runs Anthropic message batches in process: each item is an
// independent non-streaming completion, results accumulate for NDJSON
// retrieval.
package batch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Processing statuses.
const (
	StatusInProgress = "in_progress"
	StatusEnded      = "ended"
	StatusCanceled   = "canceled"
)

var (
	ErrNotFound = errors.New("batch not found")
	// ErrActive rejects deletion of a batch that is still processing.
	ErrActive = errors.New("batch is still processing")
)

// Runner executes one batch item. Params is the raw Anthropic message
// request; the returned message is the Anthropic response body.
type Runner func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Item is one entry of a batch creation request.
type Item struct {
	CustomID string          `json:"custom_id"`
	Params   json.RawMessage `json:"params"`
}

// RequestCounts mirrors the Anthropic batch accounting object.
type RequestCounts struct {
	Processing int `json:"processing"`
	Succeeded  int `json:"succeeded"`
	Errored    int `json:"errored"`
	Canceled   int `json:"canceled"`
	Expired    int `json:"expired"`
}

// Snapshot is the public view of a batch, safe to serialize.
type Snapshot struct {
	ID               string        `json:"id"`
	Type             string        `json:"type"`
	CreatedAt        string        `json:"created_at"`
	ProcessingStatus string        `json:"processing_status"`
	RequestCounts    RequestCounts `json:"request_counts"`
	ResultsURL       string        `json:"results_url"`
}

// Result is one NDJSON results line.
type Result struct {
	CustomID string          `json:"custom_id"`
	Result   json.RawMessage `json:"result"`
}

type batchState struct {
	snapshot Snapshot
	items    []Item
	results  []Result
	cancel   context.CancelFunc
}

// Registry owns all in-process batches. Batches survive until deleted; the
// registry has no persistence, matching the in-memory lifecycle of the
// gateway itself.
type Registry struct {
	mu     sync.Mutex
	runner Runner
	by     map[string]*batchState
	order  []string
}

func NewRegistry(runner Runner) *Registry {
	return &Registry{runner: runner, by: make(map[string]*batchState)}
}

func newBatchID() string {
	u := uuid.New()
	return "msgbatch_" + hex.EncodeToString(u[:])
}

// Create registers a batch and starts its run loop.
func (r *Registry) Create(items []Item, resultsURL func(id string) string) Snapshot {
	id := newBatchID()
	ctx, cancel := context.WithCancel(context.Background())
	st := &batchState{
		snapshot: Snapshot{
			ID:               id,
			Type:             "message_batch",
			CreatedAt:        time.Now().UTC().Format(time.RFC3339),
			ProcessingStatus: StatusInProgress,
			ResultsURL:       resultsURL(id),
		},
		items:  items,
		cancel: cancel,
	}

	r.mu.Lock()
	st.snapshot.RequestCounts.Processing = len(items)
	r.by[id] = st
	r.order = append(r.order, id)
	snap := st.snapshot
	r.mu.Unlock()

	go r.run(ctx, id)
	return snap
}

func (r *Registry) run(ctx context.Context, id string) {
	r.mu.Lock()
	st, ok := r.by[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	items := st.items
	r.mu.Unlock()

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		message, err := r.runner(ctx, item.Params)

		r.mu.Lock()
		st, ok := r.by[id]
		if !ok {
			r.mu.Unlock()
			return
		}
		if st.snapshot.ProcessingStatus == StatusCanceled {
			r.mu.Unlock()
			return
		}
		if err != nil {
			log.WithError(err).WithField("batch", id).Warn("batch item failed")
			st.results = append(st.results, Result{
				CustomID: item.CustomID,
				Result:   mustMarshal(map[string]any{
					"type": "errored",
					"error": map[string]string{
						"type":    "internal_error",
						"message": err.Error(),
					},
				}),
			})
			st.snapshot.RequestCounts.Errored++
		} else {
			st.results = append(st.results, Result{
				CustomID: item.CustomID,
				Result: mustMarshal(map[string]any{
					"type":    "succeeded",
					"message": json.RawMessage(message),
				}),
			})
			st.snapshot.RequestCounts.Succeeded++
		}
		if st.snapshot.RequestCounts.Processing > 0 {
			st.snapshot.RequestCounts.Processing--
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	if st, ok := r.by[id]; ok && st.snapshot.ProcessingStatus == StatusInProgress {
		st.snapshot.ProcessingStatus = StatusEnded
	}
	r.mu.Unlock()
}

// List returns snapshots in creation order.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.by[id].snapshot)
	}
	return out
}

func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.by[id]
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot, true
}

// Cancel marks the batch canceled and stops its run loop. Canceling an
// already terminal batch is a no-op returning the current snapshot.
func (r *Registry) Cancel(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.by[id]
	if !ok {
		return Snapshot{}, false
	}
	if st.snapshot.ProcessingStatus == StatusInProgress {
		st.snapshot.ProcessingStatus = StatusCanceled
		st.snapshot.RequestCounts.Canceled = len(st.items)
		st.snapshot.RequestCounts.Processing = 0
		st.cancel()
	}
	return st.snapshot, true
}

// Delete removes a terminal batch. Active batches return ErrActive so the
// caller can surface a conflict.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.by[id]
	if !ok {
		return ErrNotFound
	}
	if st.snapshot.ProcessingStatus == StatusInProgress {
		return ErrActive
	}
	st.cancel()
	delete(r.by, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// ResultsAfter returns results past offset plus whether the batch is still
// producing. The NDJSON handler polls this until done.
func (r *Registry) ResultsAfter(id string, offset int) (results []Result, done bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, found := r.by[id]
	if !found {
		return nil, false, false
	}
	if offset < len(st.results) {
		results = append(results, st.results[offset:]...)
	}
	done = st.snapshot.ProcessingStatus != StatusInProgress
	return results, done, true
}

func mustMarshal(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
