package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/korahq/kora/internal/connector"
	"github.com/korahq/kora/pkg/store"
)

// oauthApps are the apps an authorization flow can be started for.
var oauthApps = map[store.App]bool{
	store.AppGmail:      true,
	store.AppDrive:      true,
	store.AppCalendar:   true,
	store.AppContacts:   true,
	store.AppSlack:      true,
	store.AppSharepoint: true,
}

// handleOAuthStart begins an authorization flow. If no connectorId query
// parameter is given a fresh OAuth connector is created first; its external
// id travels through the state payload so the callback can find it again.
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app := store.App(r.URL.Query().Get("app"))
	if !oauthApps[app] {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("unknown app %q", app)})
		return
	}

	connectorID := r.URL.Query().Get("connectorId")
	if connectorID == "" {
		c, err := s.opts.Connectors.Create(ctx, connector.CreateParams{
			WorkspaceID: workspaceID(r),
			UserID:      userID(r),
			App:         app,
			AuthType:    store.AuthOAuth,
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		connectorID = c.ExternalID
	}

	extra := map[string]string{"connectorId": connectorID}
	for _, key := range []string{"startDate", "endDate", "services"} {
		if v := r.URL.Query().Get(key); v != "" {
			extra[key] = v
		}
	}

	authURL, err := s.opts.Connectors.StartOAuth(ctx, w, connector.StartOAuthParams{
		WorkspaceID: workspaceID(r),
		App:         app,
		Extra:       extra,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleOAuthCallback completes the flow. The connector external id is
// recovered from the state payload before the exchange so the sealed token
// lands on the right row.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app := store.App(chi.URLParam(r, "app"))
	if !oauthApps[app] {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("unknown app %q", app)})
		return
	}

	state := r.URL.Query().Get("state")
	raw, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed oauth state"})
		return
	}
	var payload connector.StatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed oauth state"})
		return
	}
	connectorID := payload.Extra["connectorId"]
	if connectorID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "oauth state carries no connector"})
		return
	}

	completed, err := s.opts.Connectors.CompleteOAuth(ctx, w, r, workspaceID(r), connectorID, app)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := struct {
		ConnectorID string `json:"connectorId"`
		Status      string `json:"status"`
		IngestionID string `json:"ingestionId,omitempty"`
	}{ConnectorID: connectorID, Status: "connected"}

	// Ingestion parameters embedded at start time kick off the first sync.
	if s.opts.Ingest != nil {
		if jobID := s.scheduleFromState(r, connectorID, completed); jobID != "" {
			resp.IngestionID = jobID
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) scheduleFromState(r *http.Request, connectorID string, payload *connector.StatePayload) string {
	ctx := r.Context()
	services := payload.Extra["services"]
	if services == "" && payload.Extra["startDate"] == "" && payload.Extra["endDate"] == "" {
		return ""
	}
	c, err := s.opts.Connectors.Get(ctx, connectorID)
	if err != nil {
		s.log.ErrorContext(ctx, "post-oauth connector lookup failed",
			slog.String("connector", connectorID), slog.Any("error", err))
		return ""
	}
	state := store.ResumeState{
		StartDate: payload.Extra["startDate"],
		EndDate:   payload.Extra["endDate"],
	}
	if services != "" {
		state.Services = strings.Split(services, ",")
	}
	jobID, err := s.opts.Ingest.Schedule(ctx, c, state)
	if err != nil {
		s.log.ErrorContext(ctx, "post-oauth ingestion scheduling failed",
			slog.String("connector", connectorID), slog.Any("error", err))
		return ""
	}
	return jobID
}

// handleCreateProvider records OAuth client credentials from a form post.
func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed form body"})
		return
	}
	app := store.App(r.PostFormValue("app"))
	clientID := r.PostFormValue("clientId")
	clientSecret := r.PostFormValue("clientSecret")
	if app == "" || clientID == "" || clientSecret == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "app, clientId and clientSecret are required"})
		return
	}
	var scopes []string
	if raw := r.PostFormValue("scopes"); raw != "" {
		scopes = strings.Split(raw, ",")
		for i := range scopes {
			scopes[i] = strings.TrimSpace(scopes[i])
		}
	}

	provider, err := s.opts.Connectors.CreateOAuthProvider(r.Context(), connector.ProviderParams{
		WorkspaceID:  workspaceID(r),
		App:          app,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       scopes,
		IsGlobal:     r.PostFormValue("isGlobal") == "true",
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		App      store.App `json:"app"`
		ClientID string    `json:"clientId"`
		IsGlobal bool      `json:"isGlobal"`
	}{App: provider.App, ClientID: provider.ClientID, IsGlobal: provider.IsGlobal})
}
