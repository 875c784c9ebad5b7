package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/korahq/kora/internal/admin"
	"github.com/korahq/kora/internal/connector"
	"github.com/korahq/kora/internal/ingest"
	"github.com/korahq/kora/internal/toolreg"
	"github.com/korahq/kora/pkg/store"
)

// maxServiceKeySize bounds the uploaded service key blob.
const maxServiceKeySize = 1 << 20

// handleServiceAccount registers a service-account connector from a
// multipart form and schedules its initial ingestion.
func (s *Server) handleServiceAccount(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxServiceKeySize); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed multipart body"})
		return
	}
	file, _, err := r.FormFile("serviceKey")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "serviceKey file is required"})
		return
	}
	defer file.Close()
	blob, err := io.ReadAll(io.LimitReader(file, maxServiceKeySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read serviceKey: " + err.Error()})
		return
	}

	app := store.App(r.PostFormValue("app"))
	if app == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "app is required"})
		return
	}

	c, jobID, err := s.opts.Connectors.AddServiceConnection(r.Context(), connector.ServiceConnectionParams{
		WorkspaceID:       workspaceID(r),
		UserID:            userID(r),
		App:               app,
		ServiceKeyBlob:    blob,
		SubjectEmail:      r.PostFormValue("subjectEmail"),
		WhitelistedEmails: splitCommaList(r.PostFormValue("emailsToIngest")),
		StartDate:         r.PostFormValue("startDate"),
		EndDate:           r.PostFormValue("endDate"),
		Services:          splitCommaList(r.PostFormValue("services")),
	})
	if err != nil {
		// The connector may exist even when scheduling failed; report it so
		// the caller can retry ingestion without re-uploading the key.
		if c != nil {
			writeJSON(w, http.StatusAccepted, serviceAccountResponse{
				ConnectorID: c.ExternalID,
				Error:       err.Error(),
			})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, serviceAccountResponse{
		ConnectorID: c.ExternalID,
		IngestionID: jobID,
	})
}

type serviceAccountResponse struct {
	ConnectorID string `json:"connectorId"`
	IngestionID string `json:"ingestionId,omitempty"`
	Error       string `json:"error,omitempty"`
}

func splitCommaList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// handleIngestMoreUsers widens a service-account connector's scope.
func (s *Server) handleIngestMoreUsers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConnectorID            string   `json:"connectorId"`
		EmailsToIngest         []string `json:"emailsToIngest"`
		StartDate              string   `json:"startDate"`
		EndDate                string   `json:"endDate"`
		InsertDriveAndContacts bool     `json:"insertDriveAndContacts"`
		InsertGmail            bool     `json:"insertGmail"`
		InsertCalendar         bool     `json:"insertCalendar"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	c, err := s.opts.Connectors.Get(r.Context(), body.ConnectorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobID, err := s.opts.Ingest.IngestMoreUsers(r.Context(), c, ingest.MoreUsersParams{
		EmailsToIngest:         body.EmailsToIngest,
		StartDate:              body.StartDate,
		EndDate:                body.EndDate,
		InsertDriveAndContacts: body.InsertDriveAndContacts,
		InsertGmail:            body.InsertGmail,
		InsertCalendar:         body.InsertCalendar,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestionResponse{IngestionID: jobID})
}

// handleSlackIngestChannels schedules ingestion of Slack channels.
func (s *Server) handleSlackIngestChannels(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConnectorID       string   `json:"connectorId"`
		ChannelsToIngest  []string `json:"channelsToIngest"`
		StartDate         string   `json:"startDate"`
		EndDate           string   `json:"endDate"`
		IncludeBotMessage bool     `json:"includeBotMessage"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	c, err := s.opts.Connectors.Get(r.Context(), body.ConnectorID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jobID, err := s.opts.Ingest.IngestSlackChannels(r.Context(), c, ingest.SlackChannelsParams{
		ChannelsToIngest:  body.ChannelsToIngest,
		StartDate:         body.StartDate,
		EndDate:           body.EndDate,
		IncludeBotMessage: body.IncludeBotMessage,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestionResponse{IngestionID: jobID})
}

type ingestionResponse struct {
	IngestionID string `json:"ingestionId"`
}

// handleCancelIngestion flags the job; the worker notices between units.
func (s *Server) handleCancelIngestion(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := s.opts.Ingest.Cancel(r.Context(), jobID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, struct {
		IngestionID string `json:"ingestionId"`
		Status      string `json:"status"`
	}{IngestionID: jobID, Status: "cancelling"})
}

// handleIngestionProgress reports the last persisted progress snapshot.
func (s *Server) handleIngestionProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	status, progress, err := s.opts.Ingest.Progress(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		IngestionID string             `json:"ingestionId"`
		Status      store.JobStatus    `json:"status"`
		Progress    store.ProgressData `json:"progress"`
	}{IngestionID: jobID, Status: status, Progress: progress})
}

// handleDeleteUserData erases a user's data per service. Partial failures
// come back itemized with a 207.
func (s *Server) handleDeleteUserData(w http.ResponseWriter, r *http.Request) {
	var params admin.DeleteUserDataParams
	if err := decodeJSON(r, &params); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	result, err := s.opts.Admin.DeleteUserData(r.Context(), params)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	status := http.StatusOK
	if result.Failed() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}

// handleUpdateToolsStatus toggles tools independently; partial success.
func (s *Server) handleUpdateToolsStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tools []toolreg.StatusChange `json:"tools"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	result := s.opts.Tools.UpdateToolsStatus(r.Context(), workspaceID(r), body.Tools)
	status := http.StatusOK
	if len(result.Failures) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}

// handleRefreshTools re-syncs a connector's MCP tool catalog.
func (s *Server) handleRefreshTools(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Transport toolreg.TransportMode `json:"transport"`
		URL       string                `json:"url"`
		Headers   map[string]string     `json:"headers"`
		Command   string                `json:"command"`
		Args      []string              `json:"args"`
		Env       map[string]string     `json:"env"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	c, err := s.opts.Connectors.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.opts.Tools.Refresh(r.Context(), c, toolreg.TransportConfig{
		Mode:    body.Transport,
		URL:     body.URL,
		Headers: body.Headers,
		Command: body.Command,
		Args:    body.Args,
		Env:     body.Env,
	})
	if err != nil {
		// Transport and handshake failures are the upstream's fault.
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ConnectorID string `json:"connectorId"`
		Status      string `json:"status"`
	}{ConnectorID: c.ExternalID, Status: string(store.StatusConnected)})
}

// handleProgressSocket upgrades to a websocket and streams job progress
// for one connector until the client goes away.
func (s *Server) handleProgressSocket(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "connectorId")
	if err := s.opts.Bus.Serve(w, r, key); err != nil {
		s.log.DebugContext(r.Context(), "progress socket closed",
			slog.String("connector", key), slog.Any("error", err))
	}
}
