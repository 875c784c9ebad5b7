// Package store defines the persistence model for connectors, OAuth
// providers, ingestion jobs, tools, indexed content, and call rooms, plus
// the store interfaces the rest of the system depends on. Implementations
// live in subpackages; pkg/store/postgres is the production one.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist or is
	// soft-deleted.
	ErrNotFound = errors.New("store: not found")

	// ErrIngestionAlreadyRunning is returned by CreateIfAbsent when the
	// (user, connector) pair already has a pending or running job.
	ErrIngestionAlreadyRunning = errors.New("store: ingestion already running")

	// ErrGlobalProviderExists is returned when a second global OAuth
	// provider is registered for the same (workspace, app) pair.
	ErrGlobalProviderExists = errors.New("store: global oauth provider already exists")
)

// App tags the external data source a connector binds to.
type App string

const (
	AppGmail      App = "gmail"
	AppDrive      App = "drive"
	AppCalendar   App = "calendar"
	AppContacts   App = "contacts"
	AppSlack      App = "slack"
	AppSharepoint App = "sharepoint"
	AppMCP        App = "mcp"
)

// AuthType is the authentication mode of a connector. Exactly one
// credential shape is stored, consistent with the mode.
type AuthType string

const (
	AuthOAuth          AuthType = "oauth"
	AuthServiceAccount AuthType = "service_account"
	AuthAPIKey         AuthType = "api_key"
	AuthCustom         AuthType = "custom"
)

// ConnectorStatus is the lifecycle state of a connector.
type ConnectorStatus string

const (
	StatusNotConnected ConnectorStatus = "not_connected"
	StatusConnecting   ConnectorStatus = "connecting"
	StatusConnected    ConnectorStatus = "connected"
	StatusFailed       ConnectorStatus = "failed"
	StatusPaused       ConnectorStatus = "paused"
)

// Connector binds a workspace to an external data source. Credentials hold
// the sealed (encrypted) blob; callers never see plaintext here.
type Connector struct {
	ID          int64
	ExternalID  string
	WorkspaceID string
	UserID      string
	App         App
	AuthType    AuthType
	Credentials []byte
	Subject     string
	Status      ConnectorStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// OAuthProvider holds client credentials for an OAuth connector. A global
// provider belongs to the workspace and may back many connectors.
type OAuthProvider struct {
	ID           int64
	ConnectorID  *int64
	WorkspaceID  string
	App          App
	ClientID     string
	ClientSecret []byte
	Scopes       []string
	IsGlobal     bool
	CreatedAt    time.Time
}

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Active reports whether the status counts against the one-active-job
// invariant.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// ProgressData is the public half of job metadata, safe to broadcast to
// progress listeners.
type ProgressData struct {
	Stage     string `json:"stage,omitempty"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
}

// ResumeState is the private half of job metadata: everything a worker
// needs to continue after a crash.
type ResumeState struct {
	Cursors      map[string]string `json:"cursors,omitempty"`
	StartDate    string            `json:"startDate,omitempty"`
	EndDate      string            `json:"endDate,omitempty"`
	Emails       []string          `json:"emails,omitempty"`
	Channels     []string          `json:"channels,omitempty"`
	Services     []string          `json:"services,omitempty"`
	IncludeBots  bool              `json:"includeBots,omitempty"`
	CurrentIndex int               `json:"currentIndex"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// JobMetadata is the JSON document persisted on a job row.
type JobMetadata struct {
	WebsocketData  ProgressData `json:"websocketData"`
	IngestionState ResumeState  `json:"ingestionState"`
	LastError      string       `json:"lastError,omitempty"`
}

// IngestionJob is a resumable unit of ingestion work bound to a
// (user, connector) pair.
type IngestionJob struct {
	ID              string
	WorkspaceID     string
	UserID          string
	ConnectorID     int64
	Status          JobStatus
	Metadata        JobMetadata
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Tool is one entry of a connector's MCP tool catalog.
type Tool struct {
	ID          int64
	WorkspaceID string
	ConnectorID int64
	Name        string
	Description string
	Schema      string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Document is one indexed content item in the retrieval store.
type Document struct {
	ID          string
	WorkspaceID string
	ConnectorID int64
	OwnerEmail  string
	Service     string
	Title       string
	URL         string
	Body        string
	Embedding   []float32
	UpdatedAt   time.Time
}

// CallRoom is a real-time room tracked for the cleanup loop.
type CallRoom struct {
	ID           string
	ExternalID   string
	Participants int
	StartedAt    time.Time
	EndedAt      *time.Time
}

// ConnectorStore persists connectors. Delete soft-deletes and relies on
// the schema to cascade tools, providers, and jobs.
type ConnectorStore interface {
	Create(ctx context.Context, c *Connector) error
	GetByExternalID(ctx context.Context, externalID string) (*Connector, error)
	List(ctx context.Context, workspaceID, userID string) ([]Connector, error)
	UpdateStatus(ctx context.Context, externalID string, status ConnectorStatus) error
	UpdateCredentials(ctx context.Context, externalID string, sealed []byte) error
	Delete(ctx context.Context, externalID string) error
}

// ProviderStore persists OAuth client credentials.
type ProviderStore interface {
	Create(ctx context.Context, p *OAuthProvider) error
	ForConnector(ctx context.Context, connectorID int64) (*OAuthProvider, error)
	GlobalForApp(ctx context.Context, workspaceID string, app App) (*OAuthProvider, error)
}

// JobStore persists ingestion jobs. CreateIfAbsent enforces the
// at-most-one-active-job invariant transactionally.
type JobStore interface {
	CreateIfAbsent(ctx context.Context, job *IngestionJob) error
	Get(ctx context.Context, id string) (*IngestionJob, error)
	UpdateStatus(ctx context.Context, id string, status JobStatus, lastError string) error
	UpdateMetadata(ctx context.Context, id string, meta JobMetadata) error
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
	DeleteQueuedForOwner(ctx context.Context, ownerEmail string, services []string) (int, error)
}

// ToolStore persists MCP tool catalogs. Sync replaces a connector's
// catalog atomically.
type ToolStore interface {
	Sync(ctx context.Context, workspaceID string, connectorID int64, tools []Tool) error
	List(ctx context.Context, workspaceID string, connectorID int64) ([]Tool, error)
	ListEnabled(ctx context.Context, workspaceID string) ([]Tool, error)
	SetEnabled(ctx context.Context, workspaceID string, toolID int64, enabled bool) error
}

// ContentStore is the retrieval index over ingested documents.
type ContentStore interface {
	Upsert(ctx context.Context, doc *Document) error
	Search(ctx context.Context, workspaceID string, embedding []float32, limit int) ([]Document, error)
	DeleteForOwner(ctx context.Context, ownerEmail string, services []string) (int, error)
}

// RoomStore tracks call rooms for the periodic cleanup loop.
type RoomStore interface {
	Upsert(ctx context.Context, room *CallRoom) error
	ListActive(ctx context.Context) ([]CallRoom, error)
	MarkEnded(ctx context.Context, id string, at time.Time) error
}
