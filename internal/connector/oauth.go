package connector

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"crypto/rand"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/korahq/kora/pkg/store"
)

// OAuth state cookies live at most this long; the user has ten minutes to
// complete the provider consent screen.
const stateCookieMaxAge = 600

const (
	slackAuthURL  = "https://slack.com/oauth/v2/authorize"
	slackTokenURL = "https://slack.com/api/oauth.v2.access"
)

// StatePayload is the JSON document encoded into the OAuth state
// parameter. Extra carries optional ingestion parameters that survive the
// provider round-trip.
type StatePayload struct {
	App    store.App         `json:"app"`
	Random string            `json:"random"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// endpointFor maps an app to its OAuth2 endpoint. Google and Microsoft use
// the standard helpers; Slack gets its v2 endpoints spelled out.
func endpointFor(app store.App) oauth2.Endpoint {
	switch app {
	case store.AppGmail, store.AppDrive, store.AppCalendar, store.AppContacts:
		return endpoints.Google
	case store.AppSharepoint:
		return endpoints.AzureAD("common")
	case store.AppSlack:
		return oauth2.Endpoint{AuthURL: slackAuthURL, TokenURL: slackTokenURL}
	}
	return oauth2.Endpoint{}
}

// StartOAuthParams begins an authorization flow.
type StartOAuthParams struct {
	WorkspaceID string
	App         store.App

	// Extra ingestion parameters to embed in the state payload.
	Extra map[string]string
}

// StartOAuth generates the state and PKCE verifier, stores both in
// short-lived host-only cookies on w, and returns the provider
// authorization URL to redirect to.
func (s *Service) StartOAuth(ctx context.Context, w http.ResponseWriter, p StartOAuthParams) (string, error) {
	cfg, err := s.providerConfig(ctx, p.WorkspaceID, p.App)
	if err != nil {
		return "", err
	}

	random, err := randomToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(StatePayload{App: p.App, Random: random, Extra: p.Extra})
	if err != nil {
		return "", fmt.Errorf("encode oauth state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(payload)
	verifier := oauth2.GenerateVerifier()

	setStateCookie(w, stateCookieName(p.App), state)
	setStateCookie(w, verifierCookieName(p.App), verifier)

	if p.App == store.AppSlack {
		return slackAuthorizeURL(cfg, state), nil
	}

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if cfg.Endpoint == endpoints.Google {
		// Offline access with forced consent so a refresh token is issued
		// even on re-authorization.
		opts = append(opts, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return cfg.AuthCodeURL(state, opts...), nil
}

// slackAuthorizeURL builds the Slack v2 authorization URL; Slack does not
// follow the standard scope/PKCE conventions.
func slackAuthorizeURL(cfg *oauth2.Config, state string) string {
	q := url.Values{}
	q.Set("client_id", cfg.ClientID)
	q.Set("scope", strings.Join(cfg.Scopes, ","))
	q.Set("state", state)
	q.Set("redirect_uri", cfg.RedirectURL)
	return slackAuthURL + "?" + q.Encode()
}

// CompleteOAuth validates the callback against the state cookie, exchanges
// the code using the stored PKCE verifier, and seals the resulting token
// into the connector's credentials. The state cookies are cleared either
// way.
func (s *Service) CompleteOAuth(ctx context.Context, w http.ResponseWriter, r *http.Request, workspaceID, connectorExternalID string, app store.App) (*StatePayload, error) {
	defer func() {
		clearStateCookie(w, stateCookieName(app))
		clearStateCookie(w, verifierCookieName(app))
	}()

	stateCookie, err := r.Cookie(stateCookieName(app))
	if err != nil {
		return nil, fmt.Errorf("missing oauth state cookie: %w", err)
	}
	if got := r.URL.Query().Get("state"); got == "" || got != stateCookie.Value {
		return nil, fmt.Errorf("oauth state mismatch")
	}
	verifierCookie, err := r.Cookie(verifierCookieName(app))
	if err != nil {
		return nil, fmt.Errorf("missing code verifier cookie: %w", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(stateCookie.Value)
	if err != nil {
		return nil, fmt.Errorf("decode oauth state: %w", err)
	}
	var payload StatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode oauth state: %w", err)
	}

	cfg, err := s.providerConfig(ctx, workspaceID, app)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.GlobalForApp(ctx, workspaceID, app)
	if err != nil {
		return nil, err
	}
	secret, err := s.sealer.Open(provider.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("unseal client secret: %w", err)
	}
	cfg.ClientSecret = string(secret)

	tok, err := cfg.Exchange(ctx, r.URL.Query().Get("code"), oauth2.VerifierOption(verifierCookie.Value))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	blob, err := json.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("encode token: %w", err)
	}
	sealed, err := s.sealer.Seal(blob)
	if err != nil {
		return nil, fmt.Errorf("seal token: %w", err)
	}
	if err := s.connectors.UpdateCredentials(ctx, connectorExternalID, sealed); err != nil {
		return nil, err
	}
	if err := s.connectors.UpdateStatus(ctx, connectorExternalID, store.StatusConnected); err != nil {
		return nil, err
	}
	return &payload, nil
}

func stateCookieName(app store.App) string    { return string(app) + "-state" }
func verifierCookieName(app store.App) string { return string(app) + "-code-verifier" }

func setStateCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   stateCookieMaxAge,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearStateCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Path:     "/",
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
