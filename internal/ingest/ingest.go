// Package ingest orchestrates background ingestion jobs: at-most-one
// active job per (user, connector), resumable metadata, fire-and-forget
// workers with error capture, and the periodic room cleanup loop.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/korahq/kora/internal/progress"
	"github.com/korahq/kora/pkg/store"
)

// ErrInvalidDateRange is returned when a requested ingestion window has a
// start date after its end date or an unparseable bound.
var ErrInvalidDateRange = errors.New("ingest: invalid date range")

const dateLayout = "2006-01-02"

const (
	defaultMaxRetries = 3
	defaultBackoff    = 2 * time.Second
	upsertParallelism = 4
)

// Fetcher pulls one unit of work for a connector. done reports that no
// work remains; next carries the cursor state to persist before the
// following unit.
type Fetcher interface {
	Fetch(ctx context.Context, c *store.Connector, state store.ResumeState) (docs []store.Document, next store.ResumeState, done bool, err error)
}

// Orchestrator schedules and runs ingestion jobs.
type Orchestrator struct {
	jobs     store.JobStore
	content  store.ContentStore
	rooms    store.RoomStore
	fetchers map[store.App]Fetcher
	bus      *progress.Bus
	log      *slog.Logger

	maxRetries int
	backoff    time.Duration

	wg sync.WaitGroup
}

// New builds an Orchestrator. bus may be nil when progress broadcasting is
// not wanted; rooms may be nil when the cleanup loop is not run.
func New(jobs store.JobStore, content store.ContentStore, rooms store.RoomStore, fetchers map[store.App]Fetcher, bus *progress.Bus, log *slog.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		jobs:       jobs,
		content:    content,
		rooms:      rooms,
		fetchers:   fetchers,
		bus:        bus,
		log:        log,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option tunes an Orchestrator.
type Option func(*Orchestrator)

// WithRetries overrides the per-unit retry budget and linear backoff base.
// Non-positive values keep the defaults.
func WithRetries(maxRetries int, backoff time.Duration) Option {
	return func(o *Orchestrator) {
		if maxRetries > 0 {
			o.maxRetries = maxRetries
		}
		if backoff > 0 {
			o.backoff = backoff
		}
	}
}

// parseWindow validates an ingestion date window. Both bounds are
// optional; a missing end date defaults to now.
func parseWindow(startDate, endDate string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if startDate != "" {
		start, err = time.Parse(dateLayout, startDate)
		if err != nil {
			return start, end, fmt.Errorf("%w: start %q", ErrInvalidDateRange, startDate)
		}
	}
	if endDate == "" {
		end = time.Now()
	} else {
		end, err = time.Parse(dateLayout, endDate)
		if err != nil {
			return start, end, fmt.Errorf("%w: end %q", ErrInvalidDateRange, endDate)
		}
	}
	if startDate != "" && start.After(end) {
		return start, end, fmt.Errorf("%w: start %s after end %s", ErrInvalidDateRange, startDate, endDate)
	}
	return start, end, nil
}

// Schedule creates a job row for the connector and starts its worker in
// the background. The job identifier is returned immediately; worker
// failures land on the job row, never on this caller.
func (o *Orchestrator) Schedule(ctx context.Context, c *store.Connector, state store.ResumeState) (string, error) {
	if _, _, err := parseWindow(state.StartDate, state.EndDate); err != nil {
		return "", err
	}
	state.UpdatedAt = time.Now()

	job := &store.IngestionJob{
		ID:          uuid.NewString(),
		WorkspaceID: c.WorkspaceID,
		UserID:      c.UserID,
		ConnectorID: c.ID,
		Status:      store.JobPending,
		Metadata:    store.JobMetadata{IngestionState: state},
	}
	if err := o.jobs.CreateIfAbsent(ctx, job); err != nil {
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// The worker outlives the request that scheduled it.
		o.run(context.WithoutCancel(ctx), job, c)
	}()
	return job.ID, nil
}

// Wait blocks until all running workers finish. Used on shutdown and in
// tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Cancel records a cancellation request on the job row; the worker honors
// it between units of work.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	return o.jobs.RequestCancel(ctx, jobID)
}

// Progress returns the broadcastable half of the job's metadata.
func (o *Orchestrator) Progress(ctx context.Context, jobID string) (store.JobStatus, store.ProgressData, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return "", store.ProgressData{}, err
	}
	return job.Status, job.Metadata.WebsocketData, nil
}

// run executes the job to completion. All failure paths are captured on
// the job row.
func (o *Orchestrator) run(ctx context.Context, job *store.IngestionJob, c *store.Connector) {
	defer func() {
		if r := recover(); r != nil {
			o.log.ErrorContext(ctx, "ingestion worker panicked",
				slog.String("job", job.ID), slog.Any("panic", r))
			o.finish(ctx, job, c, store.JobFailed, fmt.Sprintf("worker panic: %v", r))
		}
	}()

	fetcher, ok := o.fetchers[c.App]
	if !ok {
		o.finish(ctx, job, c, store.JobFailed, fmt.Sprintf("no fetcher for app %q", c.App))
		return
	}

	if err := o.jobs.UpdateStatus(ctx, job.ID, store.JobRunning, ""); err != nil {
		o.log.ErrorContext(ctx, "mark job running", slog.String("job", job.ID), slog.Any("error", err))
		return
	}
	job.Status = store.JobRunning

	state := job.Metadata.IngestionState
	meta := job.Metadata

	for {
		cancelled, err := o.jobs.CancelRequested(ctx, job.ID)
		if err != nil {
			o.finish(ctx, job, c, store.JobFailed, fmt.Sprintf("read cancel flag: %v", err))
			return
		}
		if cancelled {
			o.finish(ctx, job, c, store.JobCancelled, "")
			return
		}

		docs, next, done, err := o.fetchUnit(ctx, fetcher, c, state)
		if err != nil {
			o.finish(ctx, job, c, store.JobFailed, err.Error())
			return
		}

		if err := o.storeDocs(ctx, docs); err != nil {
			o.finish(ctx, job, c, store.JobFailed, err.Error())
			return
		}

		state = next
		state.UpdatedAt = time.Now()
		meta.IngestionState = state
		meta.WebsocketData.Processed += len(docs)
		if meta.WebsocketData.Total < meta.WebsocketData.Processed {
			meta.WebsocketData.Total = meta.WebsocketData.Processed
		}
		if err := o.jobs.UpdateMetadata(ctx, job.ID, meta); err != nil {
			o.finish(ctx, job, c, store.JobFailed, fmt.Sprintf("persist progress: %v", err))
			return
		}
		job.Metadata = meta
		o.publish(ctx, job, c, "")

		if done {
			o.finish(ctx, job, c, store.JobSucceeded, "")
			return
		}
	}
}

// fetchUnit runs one fetch with worker-local retries and backoff. The
// retry counter never touches the job row.
func (o *Orchestrator) fetchUnit(ctx context.Context, fetcher Fetcher, c *store.Connector, state store.ResumeState) ([]store.Document, store.ResumeState, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, state, false, ctx.Err()
			case <-time.After(o.backoff * time.Duration(attempt)):
			}
		}
		docs, next, done, err := fetcher.Fetch(ctx, c, state)
		if err == nil {
			return docs, next, done, nil
		}
		lastErr = err
		o.log.WarnContext(ctx, "fetch unit failed",
			slog.String("connector", c.ExternalID),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}
	return nil, state, false, fmt.Errorf("fetch failed after %d attempts: %w", o.maxRetries+1, lastErr)
}

// storeDocs indexes a unit's documents with bounded parallelism.
func (o *Orchestrator) storeDocs(ctx context.Context, docs []store.Document) error {
	if len(docs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(upsertParallelism)
	for i := range docs {
		doc := docs[i]
		g.Go(func() error {
			return o.content.Upsert(gctx, &doc)
		})
	}
	return g.Wait()
}

// finish moves the job to a terminal status and broadcasts it.
func (o *Orchestrator) finish(ctx context.Context, job *store.IngestionJob, c *store.Connector, status store.JobStatus, lastError string) {
	if err := o.jobs.UpdateStatus(ctx, job.ID, status, lastError); err != nil {
		o.log.ErrorContext(ctx, "mark job terminal",
			slog.String("job", job.ID), slog.String("status", string(status)), slog.Any("error", err))
	}
	job.Status = status
	if lastError != "" {
		job.Metadata.LastError = lastError
		o.log.ErrorContext(ctx, "ingestion job failed",
			slog.String("job", job.ID), slog.String("error", lastError))
	}
	o.publish(ctx, job, c, lastError)
}

func (o *Orchestrator) publish(ctx context.Context, job *store.IngestionJob, c *store.Connector, lastError string) {
	if o.bus == nil {
		return
	}
	o.bus.PublishJob(ctx, c.ExternalID, progress.Update{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Metadata.WebsocketData,
		LastError: lastError,
	})
}

// MoreUsersParams expands the scope of a service-account connector.
type MoreUsersParams struct {
	EmailsToIngest         []string
	StartDate, EndDate     string
	InsertDriveAndContacts bool
	InsertGmail            bool
	InsertCalendar         bool
}

// services maps the insertion flags onto service names.
func (p MoreUsersParams) services() []string {
	var out []string
	if p.InsertGmail {
		out = append(out, string(store.AppGmail))
	}
	if p.InsertDriveAndContacts {
		out = append(out, string(store.AppDrive), string(store.AppContacts))
	}
	if p.InsertCalendar {
		out = append(out, string(store.AppCalendar))
	}
	return out
}

// IngestMoreUsers schedules ingestion for additional users of an existing
// service-account connector.
func (o *Orchestrator) IngestMoreUsers(ctx context.Context, c *store.Connector, p MoreUsersParams) (string, error) {
	return o.Schedule(ctx, c, store.ResumeState{
		Emails:    p.EmailsToIngest,
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
		Services:  p.services(),
	})
}

// SlackChannelsParams scopes a Slack channel ingestion.
type SlackChannelsParams struct {
	ChannelsToIngest   []string
	StartDate, EndDate string
	IncludeBotMessage  bool
}

// IngestSlackChannels schedules ingestion of the given Slack channels.
func (o *Orchestrator) IngestSlackChannels(ctx context.Context, c *store.Connector, p SlackChannelsParams) (string, error) {
	return o.Schedule(ctx, c, store.ResumeState{
		Channels:    p.ChannelsToIngest,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		IncludeBots: p.IncludeBotMessage,
		Services:    []string{string(store.AppSlack)},
	})
}
