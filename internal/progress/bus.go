// Package progress broadcasts ingestion progress to websocket listeners.
// Subscriptions are keyed by connector external id; publishing never
// blocks on a slow listener.
package progress

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/korahq/kora/pkg/store"
)

// Update is one progress frame sent to listeners.
type Update struct {
	JobID     string             `json:"jobId"`
	Status    store.JobStatus    `json:"status"`
	Progress  store.ProgressData `json:"progress"`
	LastError string             `json:"lastError,omitempty"`
}

type subscriber chan Update

// Bus fans progress updates out to websocket subscribers.
type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[subscriber]struct{}
}

// NewBus builds a Bus. log may be nil.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log, subs: make(map[string]map[subscriber]struct{})}
}

// Publish delivers update to every listener on key. Listeners that cannot
// keep up drop intermediate frames; progress is monotonic so skipping
// states is safe.
func (b *Bus) Publish(key string, update Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[key] {
		select {
		case sub <- update:
		default:
		}
	}
}

func (b *Bus) subscribe(key string) subscriber {
	sub := make(subscriber, 16)
	b.mu.Lock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[subscriber]struct{})
	}
	b.subs[key][sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(key string, sub subscriber) {
	b.mu.Lock()
	delete(b.subs[key], sub)
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
	b.mu.Unlock()
}

// ListenerCount reports the current number of subscribers for key.
func (b *Bus) ListenerCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}

// Serve upgrades the request to a websocket and streams updates for key
// until the client disconnects or ctx ends.
func (b *Bus) Serve(w http.ResponseWriter, r *http.Request, key string) error {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := b.subscribe(key)
	defer b.unsubscribe(key, sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-sub:
			if err := wsjson.Write(ctx, conn, update); err != nil {
				return err
			}
			if update.Status == store.JobSucceeded || update.Status == store.JobFailed || update.Status == store.JobCancelled {
				return nil
			}
		}
	}
}

// PublishJob is the publisher hook handed to the ingest orchestrator.
func (b *Bus) PublishJob(ctx context.Context, connectorExternalID string, update Update) {
	b.Publish(connectorExternalID, update)
	b.log.DebugContext(ctx, "progress published",
		slog.String("connector", connectorExternalID),
		slog.String("job", update.JobID),
		slog.Int("processed", update.Progress.Processed),
		slog.Int("total", update.Progress.Total))
}
