package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/korahq/kora/pkg/store"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*store.IngestionJob
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*store.IngestionJob)}
}

func (m *memJobs) CreateIfAbsent(_ context.Context, job *store.IngestionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.UserID == job.UserID && existing.ConnectorID == job.ConnectorID && existing.Status.Active() {
			return store.ErrIngestionAlreadyRunning
		}
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) Get(_ context.Context, id string) (*store.IngestionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memJobs) UpdateStatus(_ context.Context, id string, status store.JobStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = status
	if lastError != "" {
		job.Metadata.LastError = lastError
	}
	return nil
}

func (m *memJobs) UpdateMetadata(_ context.Context, id string, meta store.JobMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Metadata = meta
	return nil
}

func (m *memJobs) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !job.Status.Active() {
		return store.ErrNotFound
	}
	job.CancelRequested = true
	return nil
}

func (m *memJobs) CancelRequested(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	return job.CancelRequested, nil
}

func (m *memJobs) DeleteQueuedForOwner(_ context.Context, _ string, _ []string) (int, error) {
	return 0, nil
}

type memContent struct {
	mu   sync.Mutex
	docs map[string]store.Document
}

func newMemContent() *memContent {
	return &memContent{docs: make(map[string]store.Document)}
}

func (m *memContent) Upsert(_ context.Context, doc *store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = *doc
	return nil
}

func (m *memContent) Search(_ context.Context, _ string, _ []float32, _ int) ([]store.Document, error) {
	return nil, nil
}

func (m *memContent) DeleteForOwner(_ context.Context, _ string, _ []string) (int, error) {
	return 0, nil
}

func (m *memContent) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

type memRooms struct {
	mu    sync.Mutex
	rooms map[string]*store.CallRoom
}

func (m *memRooms) Upsert(_ context.Context, room *store.CallRoom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *room
	m.rooms[room.ID] = &cp
	return nil
}

func (m *memRooms) ListActive(_ context.Context) ([]store.CallRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.CallRoom
	for _, r := range m.rooms {
		if r.EndedAt == nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRooms) MarkEnded(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[id]
	if !ok {
		return store.ErrNotFound
	}
	room.EndedAt = &at
	return nil
}

// scriptedFetcher hands out a fixed number of units, optionally failing
// or blocking along the way.
type scriptedFetcher struct {
	mu        sync.Mutex
	units     int
	docsPer   int
	served    int
	failTimes int
	block     chan struct{}
}

func (f *scriptedFetcher) Fetch(_ context.Context, c *store.Connector, state store.ResumeState) ([]store.Document, store.ResumeState, bool, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTimes > 0 {
		f.failTimes--
		return nil, state, false, errors.New("upstream throttled")
	}
	var docs []store.Document
	for i := 0; i < f.docsPer; i++ {
		docs = append(docs, store.Document{
			ID:          fmt.Sprintf("%s-doc-%d-%d", c.ExternalID, f.served, i),
			WorkspaceID: c.WorkspaceID,
			ConnectorID: c.ID,
			Body:        "body",
		})
	}
	f.served++
	next := state
	next.CurrentIndex = f.served
	return docs, next, f.served >= f.units, nil
}

func testConnector() *store.Connector {
	return &store.Connector{
		ID:          1,
		ExternalID:  "conn-ext-1",
		WorkspaceID: "ws1",
		UserID:      "u1",
		App:         store.AppDrive,
	}
}

func newTestOrchestrator(fetcher Fetcher, jobs *memJobs, content *memContent) *Orchestrator {
	o := New(jobs, content, nil, map[store.App]Fetcher{store.AppDrive: fetcher}, nil, nil)
	o.backoff = time.Millisecond
	return o
}

func TestSchedule_RunsToCompletion(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	content := newMemContent()
	o := newTestOrchestrator(&scriptedFetcher{units: 3, docsPer: 2}, jobs, content)

	jobID, err := o.Schedule(t.Context(), testConnector(), store.ResumeState{StartDate: "2026-01-01"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	o.Wait()

	job, err := jobs.Get(t.Context(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != store.JobSucceeded {
		t.Errorf("status = %q, want succeeded (lastError %q)", job.Status, job.Metadata.LastError)
	}
	if job.Metadata.WebsocketData.Processed != 6 {
		t.Errorf("processed = %d, want 6", job.Metadata.WebsocketData.Processed)
	}
	if job.Metadata.IngestionState.CurrentIndex != 3 {
		t.Errorf("resume index = %d, want 3", job.Metadata.IngestionState.CurrentIndex)
	}
	if content.count() != 6 {
		t.Errorf("indexed docs = %d, want 6", content.count())
	}
}

func TestSchedule_SecondActiveJobRejected(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	fetcher := &scriptedFetcher{units: 1, docsPer: 1, block: make(chan struct{})}
	o := newTestOrchestrator(fetcher, jobs, newMemContent())

	c := testConnector()
	if _, err := o.Schedule(t.Context(), c, store.ResumeState{}); err != nil {
		t.Fatalf("first Schedule: %v", err)
	}
	if _, err := o.Schedule(t.Context(), c, store.ResumeState{}); !errors.Is(err, store.ErrIngestionAlreadyRunning) {
		t.Errorf("second Schedule err = %v, want ErrIngestionAlreadyRunning", err)
	}
	close(fetcher.block)
	o.Wait()

	// The slot frees up once the first job reaches a terminal status.
	if _, err := o.Schedule(t.Context(), c, store.ResumeState{}); err != nil {
		t.Errorf("Schedule after completion: %v", err)
	}
	o.Wait()
}

func TestSchedule_InvalidWindow(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(&scriptedFetcher{units: 1}, newMemJobs(), newMemContent())

	cases := []struct{ start, end string }{
		{"2026-03-01", "2026-01-01"},
		{"yesterday", ""},
		{"2026-01-01", "soon"},
	}
	for _, tc := range cases {
		_, err := o.Schedule(t.Context(), testConnector(), store.ResumeState{StartDate: tc.start, EndDate: tc.end})
		if !errors.Is(err, ErrInvalidDateRange) {
			t.Errorf("Schedule(%q, %q) err = %v, want ErrInvalidDateRange", tc.start, tc.end, err)
		}
	}

	// An open-ended window defaults the end bound to now.
	if _, err := o.Schedule(t.Context(), testConnector(), store.ResumeState{StartDate: "2026-01-01"}); err != nil {
		t.Errorf("open-ended window: %v", err)
	}
	o.Wait()
}

func TestCancelBetweenUnits(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	fetcher := &scriptedFetcher{units: 100, docsPer: 1, block: make(chan struct{}, 1)}
	o := newTestOrchestrator(fetcher, jobs, newMemContent())

	jobID, err := o.Schedule(t.Context(), testConnector(), store.ResumeState{})
	if err != nil {
		t.Fatal(err)
	}
	fetcher.block <- struct{}{} // let exactly one unit through
	if err := o.Cancel(t.Context(), jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(fetcher.block)
	o.Wait()

	status, prog, err := o.Progress(t.Context(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	if status != store.JobCancelled {
		t.Errorf("status = %q, want cancelled", status)
	}
	if prog.Processed > 2 {
		t.Errorf("processed = %d, cancellation must land between units", prog.Processed)
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	o := newTestOrchestrator(&scriptedFetcher{units: 1, docsPer: 1, failTimes: 2}, jobs, newMemContent())

	jobID, err := o.Schedule(t.Context(), testConnector(), store.ResumeState{})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	job, _ := jobs.Get(t.Context(), jobID)
	if job.Status != store.JobSucceeded {
		t.Errorf("status = %q, want succeeded after retries", job.Status)
	}
}

func TestPersistentFailureLandsOnJobRow(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	o := newTestOrchestrator(&scriptedFetcher{units: 1, docsPer: 1, failTimes: 100}, jobs, newMemContent())

	jobID, err := o.Schedule(t.Context(), testConnector(), store.ResumeState{})
	if err != nil {
		t.Fatalf("Schedule must not surface worker failures: %v", err)
	}
	o.Wait()

	job, _ := jobs.Get(t.Context(), jobID)
	if job.Status != store.JobFailed {
		t.Errorf("status = %q, want failed", job.Status)
	}
	if !strings.Contains(job.Metadata.LastError, "upstream throttled") {
		t.Errorf("lastError = %q, want the upstream cause", job.Metadata.LastError)
	}
}

func TestMissingFetcherFailsJob(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	o := New(jobs, newMemContent(), nil, nil, nil, nil)

	c := testConnector()
	c.App = store.AppSlack
	jobID, err := o.Schedule(t.Context(), c, store.ResumeState{})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	job, _ := jobs.Get(t.Context(), jobID)
	if job.Status != store.JobFailed || !strings.Contains(job.Metadata.LastError, "no fetcher") {
		t.Errorf("job = %q / %q", job.Status, job.Metadata.LastError)
	}
}

func TestIngestMoreUsers_ServiceMapping(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	o := newTestOrchestrator(&scriptedFetcher{units: 1}, jobs, newMemContent())

	jobID, err := o.IngestMoreUsers(t.Context(), testConnector(), MoreUsersParams{
		EmailsToIngest:         []string{"a@corp.example"},
		InsertGmail:            true,
		InsertDriveAndContacts: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	job, _ := jobs.Get(t.Context(), jobID)
	got := job.Metadata.IngestionState.Services
	want := []string{"gmail", "drive", "contacts"}
	if len(got) != len(want) {
		t.Fatalf("services = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("services[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIngestSlackChannels_State(t *testing.T) {
	t.Parallel()
	jobs := newMemJobs()
	c := testConnector()
	c.App = store.AppSlack
	o := New(jobs, newMemContent(), nil, map[store.App]Fetcher{store.AppSlack: &scriptedFetcher{units: 1}}, nil, nil)
	o.backoff = time.Millisecond

	jobID, err := o.IngestSlackChannels(t.Context(), c, SlackChannelsParams{
		ChannelsToIngest:  []string{"general", "eng"},
		IncludeBotMessage: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	o.Wait()

	job, _ := jobs.Get(t.Context(), jobID)
	state := job.Metadata.IngestionState
	if len(state.Channels) != 2 || !state.IncludeBots {
		t.Errorf("state = %+v", state)
	}
}

func TestRoomCleanup_EndsEmptyRoomsOnly(t *testing.T) {
	t.Parallel()
	rooms := &memRooms{rooms: make(map[string]*store.CallRoom)}
	now := time.Now()
	rooms.rooms["empty"] = &store.CallRoom{ID: "empty", Participants: 0, StartedAt: now}
	rooms.rooms["busy"] = &store.CallRoom{ID: "busy", Participants: 3, StartedAt: now}
	ended := now.Add(-time.Hour)
	rooms.rooms["done"] = &store.CallRoom{ID: "done", Participants: 0, StartedAt: now, EndedAt: &ended}

	o := New(newMemJobs(), newMemContent(), rooms, nil, nil, nil)
	o.cleanupRooms(t.Context())

	if rooms.rooms["empty"].EndedAt == nil {
		t.Error("empty room must be ended")
	}
	if rooms.rooms["busy"].EndedAt != nil {
		t.Error("busy room must stay active")
	}
	if !rooms.rooms["done"].EndedAt.Equal(ended) {
		t.Error("already-ended room must not be touched")
	}
}
