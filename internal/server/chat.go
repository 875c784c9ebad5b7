package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/korahq/kora/internal/pipeline"
	"github.com/korahq/kora/pkg/ai"
)

// chatRequest is the JSON body shared by the chat endpoints.
type chatRequest struct {
	Query       string `json:"query"`
	Model       string `json:"model"`
	UserContext string `json:"userContext"`
	AgentPrompt string `json:"agentPrompt"`

	Reasoning     bool `json:"reasoning"`
	WebSearch     bool `json:"webSearch"`
	SpecificFiles bool `json:"specificFiles"`

	Bundle struct {
		Kind      string `json:"kind"`
		Fragments []struct {
			Index  int    `json:"index"`
			Title  string `json:"title"`
			Source string `json:"source"`
			Text   string `json:"text"`
		} `json:"fragments"`
	} `json:"bundle"`

	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// toPipelineRequest maps the wire body onto a pipeline request, resolving
// the default model when none was asked for.
func (s *Server) toPipelineRequest(body chatRequest) (pipeline.Request, error) {
	modelID := body.Model
	if modelID == "" {
		desc, err := s.opts.Registry.DefaultModel()
		if err != nil {
			return pipeline.Request{}, err
		}
		modelID = desc.ModelID
	}

	req := pipeline.Request{
		Query:           body.Query,
		ModelID:         modelID,
		UserContext:     body.UserContext,
		Date:            time.Now().Format("2006-01-02"),
		AgentPromptBlob: body.AgentPrompt,
		SpecificFiles:   body.SpecificFiles,
		Reasoning:       body.Reasoning,
		WebSearch:       body.WebSearch,
	}

	kind := pipeline.BundleKind(body.Bundle.Kind)
	if kind == "" {
		kind = pipeline.BundleGeneric
	}
	req.Bundle.Kind = kind
	for _, f := range body.Bundle.Fragments {
		req.Bundle.Fragments = append(req.Bundle.Fragments, pipeline.Fragment{
			Index:  f.Index,
			Title:  f.Title,
			Source: f.Source,
			Text:   f.Text,
		})
	}
	for _, m := range body.Messages {
		req.Messages = append(req.Messages, ai.Message{
			Role:    ai.Role(m.Role),
			Content: m.Content,
		})
	}
	return req, nil
}

// handleChatAnswer streams the agentic answer as Server-Sent Events, one
// JSON-encoded response record per event, ending with the terminal record.
func (s *Server) handleChatAnswer(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	req, err := s.toPipelineRequest(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ch, err := s.opts.Pipeline.AnswerOrSearch(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range ch {
		line, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", line)
		flusher.Flush()
	}
}

// handleChatTitle generates a short session title. Never fails; parse
// errors fall back to a default title inside the pipeline.
func (s *Server) handleChatTitle(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	req, err := s.toPipelineRequest(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	title := s.opts.Pipeline.GenerateTitleUsingQuery(r.Context(), req)
	writeJSON(w, http.StatusOK, struct {
		Title string `json:"title"`
	}{Title: title})
}

// handleFollowUps suggests follow-up questions for the session.
func (s *Server) handleFollowUps(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	req, err := s.toPipelineRequest(body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	questions, err := s.opts.Pipeline.GenerateFollowUpQuestions(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if questions == nil {
		questions = []string{}
	}
	writeJSON(w, http.StatusOK, struct {
		FollowUps []string `json:"followUps"`
	}{FollowUps: questions})
}

type modelInfo struct {
	ModelID     string `json:"modelId"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Backend     string `json:"backend"`
}

// handleListModels reports what the active backend can serve.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	descriptors, err := s.opts.Registry.AvailableModels()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	models := make([]modelInfo, 0, len(descriptors))
	for _, d := range descriptors {
		models = append(models, modelInfo{
			ModelID:     d.ModelID,
			Label:       d.Label,
			Description: d.Description,
			Backend:     string(d.Backend),
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Models []modelInfo `json:"models"`
	}{Models: models})
}
