// Package connector manages the lifecycle of data-source connectors:
// creation, status transitions, soft deletion with cascade, OAuth
// authorization flows, and service-account registration.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/korahq/kora/internal/secrets"
	"github.com/korahq/kora/pkg/store"
)

// Scheduler starts ingestion for a freshly registered connector. It is
// implemented by the ingest orchestrator; the indirection keeps this
// package free of a dependency cycle.
type Scheduler interface {
	Schedule(ctx context.Context, c *store.Connector, state store.ResumeState) (jobID string, err error)
}

// Service coordinates connector persistence, credential sealing, and
// ingestion scheduling.
type Service struct {
	connectors store.ConnectorStore
	providers  store.ProviderStore
	sealer     *secrets.Sealer
	scheduler  Scheduler
	log        *slog.Logger

	// redirectBase is the externally visible base URL the OAuth callback
	// is registered under.
	redirectBase string
}

// New builds a Service. scheduler may be nil when ingestion is disabled.
func New(connectors store.ConnectorStore, providers store.ProviderStore, sealer *secrets.Sealer, scheduler Scheduler, redirectBase string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		connectors:   connectors,
		providers:    providers,
		sealer:       sealer,
		scheduler:    scheduler,
		redirectBase: redirectBase,
		log:          log,
	}
}

// List returns the user's live connectors.
func (s *Service) List(ctx context.Context, workspaceID, userID string) ([]store.Connector, error) {
	return s.connectors.List(ctx, workspaceID, userID)
}

// Get resolves a connector by its opaque external identifier.
func (s *Service) Get(ctx context.Context, externalID string) (*store.Connector, error) {
	return s.connectors.GetByExternalID(ctx, externalID)
}

// CreateParams describes a new connector.
type CreateParams struct {
	WorkspaceID string
	UserID      string
	App         store.App
	AuthType    store.AuthType
	Credentials []byte // plaintext; sealed before persisting
	Subject     string
}

// Create persists a new connector with a generated opaque external
// identifier and status NotConnected.
func (s *Service) Create(ctx context.Context, p CreateParams) (*store.Connector, error) {
	var sealed []byte
	if len(p.Credentials) > 0 {
		var err error
		sealed, err = s.sealer.Seal(p.Credentials)
		if err != nil {
			return nil, fmt.Errorf("seal credentials: %w", err)
		}
	}

	c := &store.Connector{
		ExternalID:  uuid.NewString(),
		WorkspaceID: p.WorkspaceID,
		UserID:      p.UserID,
		App:         p.App,
		AuthType:    p.AuthType,
		Credentials: sealed,
		Subject:     p.Subject,
		Status:      store.StatusNotConnected,
	}
	if err := s.connectors.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "connector created",
		slog.String("connector", c.ExternalID),
		slog.String("app", string(c.App)),
		slog.String("auth", string(c.AuthType)))
	return c, nil
}

// UpdateStatus moves a connector to status.
func (s *Service) UpdateStatus(ctx context.Context, externalID string, status store.ConnectorStatus) error {
	return s.connectors.UpdateStatus(ctx, externalID, status)
}

// Delete soft-deletes the connector; tools, providers, and active jobs go
// with it.
func (s *Service) Delete(ctx context.Context, externalID string) error {
	if err := s.connectors.Delete(ctx, externalID); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "connector deleted", slog.String("connector", externalID))
	return nil
}

// ProviderParams describes OAuth client credentials to register.
type ProviderParams struct {
	WorkspaceID  string
	ConnectorID  *int64
	App          store.App
	ClientID     string
	ClientSecret string
	Scopes       []string
	IsGlobal     bool
}

// CreateOAuthProvider records client credentials, sealing the secret. A
// second global provider for the same (workspace, app) pair fails with
// store.ErrGlobalProviderExists.
func (s *Service) CreateOAuthProvider(ctx context.Context, p ProviderParams) (*store.OAuthProvider, error) {
	sealed, err := s.sealer.Seal([]byte(p.ClientSecret))
	if err != nil {
		return nil, fmt.Errorf("seal client secret: %w", err)
	}
	provider := &store.OAuthProvider{
		ConnectorID:  p.ConnectorID,
		WorkspaceID:  p.WorkspaceID,
		App:          p.App,
		ClientID:     p.ClientID,
		ClientSecret: sealed,
		Scopes:       p.Scopes,
		IsGlobal:     p.IsGlobal,
	}
	if err := s.providers.Create(ctx, provider); err != nil {
		return nil, err
	}
	return provider, nil
}

// ServiceConnectionParams registers a service-account connector.
type ServiceConnectionParams struct {
	WorkspaceID       string
	UserID            string
	App               store.App
	ServiceKeyBlob    []byte
	SubjectEmail      string
	WhitelistedEmails []string
	StartDate         string
	EndDate           string
	Services          []string
}

// microsoftKey is the shape of a Microsoft service key blob.
type microsoftKey struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	TenantID     string `json:"tenantId"`
}

// sealedServiceCredentials is what actually lands in the credential blob:
// the original key plus, for validated providers, the probe token expiry.
type sealedServiceCredentials struct {
	Key         json.RawMessage `json:"key"`
	TokenExpiry *time.Time      `json:"tokenExpiry,omitempty"`
}

// AddServiceConnection persists a service-account connector and schedules
// its initial ingestion. Microsoft credentials are validated by obtaining
// an access token before anything is stored.
func (s *Service) AddServiceConnection(ctx context.Context, p ServiceConnectionParams) (*store.Connector, string, error) {
	creds := sealedServiceCredentials{Key: p.ServiceKeyBlob}

	if p.App == store.AppSharepoint {
		expiry, err := s.validateMicrosoftKey(ctx, p.ServiceKeyBlob)
		if err != nil {
			return nil, "", fmt.Errorf("validate microsoft credentials: %w", err)
		}
		creds.TokenExpiry = &expiry
	}

	blob, err := json.Marshal(creds)
	if err != nil {
		return nil, "", fmt.Errorf("encode credentials: %w", err)
	}

	c, err := s.Create(ctx, CreateParams{
		WorkspaceID: p.WorkspaceID,
		UserID:      p.UserID,
		App:         p.App,
		AuthType:    store.AuthServiceAccount,
		Credentials: blob,
		Subject:     p.SubjectEmail,
	})
	if err != nil {
		return nil, "", err
	}

	if s.scheduler == nil {
		return c, "", nil
	}
	jobID, err := s.scheduler.Schedule(ctx, c, store.ResumeState{
		Emails:    p.WhitelistedEmails,
		StartDate: p.StartDate,
		EndDate:   p.EndDate,
		Services:  p.Services,
	})
	if err != nil {
		// The connector exists; the caller can retry ingestion separately.
		s.log.ErrorContext(ctx, "initial ingestion scheduling failed",
			slog.String("connector", c.ExternalID), slog.Any("error", err))
		return c, "", err
	}
	return c, jobID, nil
}

// validateMicrosoftKey probes the client-credentials grant and returns the
// token expiry.
func (s *Service) validateMicrosoftKey(ctx context.Context, blob []byte) (time.Time, error) {
	var key microsoftKey
	if err := json.Unmarshal(blob, &key); err != nil {
		return time.Time{}, fmt.Errorf("decode service key: %w", err)
	}
	if key.ClientID == "" || key.ClientSecret == "" || key.TenantID == "" {
		return time.Time{}, fmt.Errorf("service key is missing clientId, clientSecret, or tenantId")
	}

	cfg := clientcredentials.Config{
		ClientID:     key.ClientID,
		ClientSecret: key.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(key.TenantID)),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return tok.Expiry, nil
}

// providerConfig resolves the OAuth client configuration for app, trying
// the workspace's global provider first.
func (s *Service) providerConfig(ctx context.Context, workspaceID string, app store.App) (*oauth2.Config, error) {
	p, err := s.providers.GlobalForApp(ctx, workspaceID, app)
	if err != nil {
		return nil, fmt.Errorf("no oauth provider for app %q: %w", app, err)
	}
	return &oauth2.Config{
		ClientID:    p.ClientID,
		Scopes:      p.Scopes,
		Endpoint:    endpointFor(app),
		RedirectURL: s.redirectBase + "/oauth/callback/" + string(app),
	}, nil
}
