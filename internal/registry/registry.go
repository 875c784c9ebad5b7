// Package registry resolves which LLM backend is active for this process
// and maps logical model identifiers to drivers.
//
// Exactly one backend is active at a time, chosen by a fixed priority order
// over the configured credentials. Driver clients are built lazily on first
// use and shared by all requests afterwards; construction is idempotent.
package registry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/korahq/kora/pkg/ai"
	"github.com/korahq/kora/pkg/ai/anthropicvtx"
	"github.com/korahq/kora/pkg/ai/bedrock"
	"github.com/korahq/kora/pkg/ai/gemini"
	"github.com/korahq/kora/pkg/ai/openai"
)

// Sub-backend selection for Vertex: VERTEX_PROVIDER forces one of these,
// otherwise the wire name decides per model.
const (
	vertexProviderAnthropic = "ANTHROPIC"
	vertexProviderGoogle    = "GOOGLE"
)

// OpenAI-compatible endpoints for the hosted inference services.
const (
	togetherBaseURL  = "https://api.together.xyz/v1"
	fireworksBaseURL = "https://api.fireworks.ai/inference/v1"
	defaultOllama    = "http://localhost:11434"
)

// Env holds the backend configuration read from the environment.
type Env struct {
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	OllamaModel string
	OllamaHost  string

	TogetherAPIKey string
	TogetherModel  string

	FireworksAPIKey string
	FireworksModel  string

	GeminiAPIKey string
	GeminiModel  string

	VertexProjectID string
	VertexRegion    string
	VertexProvider  string
	VertexModel     string
}

// FromEnv reads the recognised environment variables.
func FromEnv() Env {
	return Env{
		AWSRegion:          os.Getenv("AWS_REGION"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSSessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		OllamaModel:        os.Getenv("OLLAMA_MODEL"),
		OllamaHost:         os.Getenv("OLLAMA_HOST"),
		TogetherAPIKey:     os.Getenv("TOGETHER_API_KEY"),
		TogetherModel:      os.Getenv("TOGETHER_MODEL"),
		FireworksAPIKey:    os.Getenv("FIREWORKS_API_KEY"),
		FireworksModel:     os.Getenv("FIREWORKS_MODEL"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        os.Getenv("GEMINI_MODEL"),
		VertexProjectID:    os.Getenv("VERTEX_PROJECT_ID"),
		VertexRegion:       os.Getenv("VERTEX_REGION"),
		VertexProvider:     os.Getenv("VERTEX_PROVIDER"),
		VertexModel:        os.Getenv("VERTEX_MODEL"),
	}
}

// configured reports whether env carries enough configuration for backend.
func (e Env) configured(backend Backend) bool {
	switch backend {
	case BackendAwsBedrock:
		return e.AWSRegion != "" && e.AWSAccessKeyID != "" && e.AWSSecretAccessKey != ""
	case BackendOpenAI:
		return e.OpenAIAPIKey != ""
	case BackendOllama:
		return e.OllamaModel != ""
	case BackendTogether:
		return e.TogetherAPIKey != "" && e.TogetherModel != ""
	case BackendFireworks:
		return e.FireworksAPIKey != "" && e.FireworksModel != ""
	case BackendGoogleAI:
		return e.GeminiAPIKey != ""
	case BackendVertexAI:
		return e.VertexProjectID != "" && e.VertexRegion != ""
	}
	return false
}

// dynamicModel returns the configured wire model name for a dynamic
// backend, or "" when the backend has a static catalog.
func (e Env) dynamicModel(backend Backend) string {
	switch backend {
	case BackendOllama:
		return e.OllamaModel
	case BackendTogether:
		return e.TogetherModel
	case BackendFireworks:
		return e.FireworksModel
	case BackendGoogleAI:
		return e.GeminiModel
	case BackendVertexAI:
		return e.VertexModel
	}
	return ""
}

// Registry is the process-wide model lookup. Construct once at boot with
// [New] and pass explicitly to handlers; it is safe for concurrent use.
type Registry struct {
	env Env

	mu      sync.Mutex
	drivers map[string]ai.Driver // key: backend or backend/sub
}

// New builds a Registry over env. No backend clients are created until the
// first driver lookup.
func New(env Env) *Registry {
	return &Registry{env: env, drivers: make(map[string]ai.Driver)}
}

// ActiveBackend returns the single active backend for this process, chosen
// by priority over the configured credentials. ok is false when nothing is
// configured.
func (r *Registry) ActiveBackend() (Backend, bool) {
	for _, b := range backendPriority {
		if r.env.configured(b) {
			return b, true
		}
	}
	return "", false
}

// AvailableModels returns the descriptors servable by the active backend.
// Dynamic backends surface the configured model name directly when no
// static descriptor applies.
func (r *Registry) AvailableModels() ([]ModelDescriptor, error) {
	backend, ok := r.ActiveBackend()
	if !ok {
		return nil, ai.ErrNoProviderConfigured
	}

	models := staticModelsFor(backend)
	if name := r.env.dynamicModel(backend); name != "" {
		models = append(models, r.dynamicDescriptor(backend, name))
	}
	return models, nil
}

// dynamicDescriptor wraps a configured model name in a descriptor so the
// rest of the system never special-cases dynamic backends.
func (r *Registry) dynamicDescriptor(backend Backend, wireName string) ModelDescriptor {
	return ModelDescriptor{
		ModelID:  wireName,
		Backend:  backend,
		WireName: wireName,
		Label:    wireName,
	}
}

// Descriptor resolves modelID against the active backend's catalog.
func (r *Registry) Descriptor(modelID string) (ModelDescriptor, error) {
	models, err := r.AvailableModels()
	if err != nil {
		return ModelDescriptor{}, err
	}
	for _, d := range models {
		if d.ModelID == modelID {
			return d, nil
		}
	}
	return ModelDescriptor{}, fmt.Errorf("%w: %q", ai.ErrInvalidModel, modelID)
}

// ResolveByLabel maps a human label back to its descriptor, scoped to the
// active backend. Dynamic model names match by direct equality.
func (r *Registry) ResolveByLabel(label string) (ModelDescriptor, error) {
	models, err := r.AvailableModels()
	if err != nil {
		return ModelDescriptor{}, err
	}
	for _, d := range models {
		if d.Label == label || d.ModelID == label {
			return d, nil
		}
	}
	return ModelDescriptor{}, fmt.Errorf("%w: no model labelled %q", ai.ErrInvalidModel, label)
}

// DefaultModel returns the first available descriptor, used when a caller
// does not name a model.
func (r *Registry) DefaultModel() (ModelDescriptor, error) {
	models, err := r.AvailableModels()
	if err != nil {
		return ModelDescriptor{}, err
	}
	if len(models) == 0 {
		return ModelDescriptor{}, ai.ErrNoProviderConfigured
	}
	return models[0], nil
}

// DriverForModel resolves modelID to its descriptor and the shared driver
// instance for its backend, building the backend client on first use.
func (r *Registry) DriverForModel(ctx context.Context, modelID string) (ai.Driver, ModelDescriptor, error) {
	desc, err := r.Descriptor(modelID)
	if err != nil {
		return nil, ModelDescriptor{}, err
	}
	drv, err := r.driver(ctx, desc)
	if err != nil {
		return nil, ModelDescriptor{}, err
	}
	return drv, desc, nil
}

// driver returns (building if necessary) the shared driver for desc.
func (r *Registry) driver(ctx context.Context, desc ModelDescriptor) (ai.Driver, error) {
	key := string(desc.Backend)
	if desc.Backend == BackendVertexAI {
		key += "/" + r.vertexSub(desc.WireName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if drv, ok := r.drivers[key]; ok {
		return drv, nil
	}

	drv, err := r.build(ctx, desc)
	if err != nil {
		return nil, err
	}
	r.drivers[key] = drv
	return drv, nil
}

// build constructs the backend client for desc. Called with r.mu held; the
// constructors only assemble clients, they do not dial.
func (r *Registry) build(ctx context.Context, desc ModelDescriptor) (ai.Driver, error) {
	switch desc.Backend {
	case BackendAwsBedrock:
		return bedrock.New(ctx, bedrock.Credentials{
			Region:          r.env.AWSRegion,
			AccessKeyID:     r.env.AWSAccessKeyID,
			SecretAccessKey: r.env.AWSSecretAccessKey,
			SessionToken:    r.env.AWSSessionToken,
		})
	case BackendOpenAI:
		var opts []openai.Option
		if r.env.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(r.env.OpenAIBaseURL))
		}
		return openai.New(r.env.OpenAIAPIKey, opts...)
	case BackendOllama:
		host := r.env.OllamaHost
		if host == "" {
			host = defaultOllama
		}
		return openai.New("ollama", openai.WithBaseURL(strings.TrimSuffix(host, "/")+"/v1"))
	case BackendTogether:
		return openai.New(r.env.TogetherAPIKey, openai.WithBaseURL(togetherBaseURL))
	case BackendFireworks:
		return openai.New(r.env.FireworksAPIKey, openai.WithBaseURL(fireworksBaseURL))
	case BackendGoogleAI:
		return gemini.New(ctx, r.env.GeminiAPIKey)
	case BackendVertexAI:
		if r.vertexSub(desc.WireName) == vertexProviderGoogle {
			return gemini.NewVertex(ctx, r.env.VertexProjectID, r.env.VertexRegion)
		}
		return anthropicvtx.New(ctx, r.env.VertexProjectID, r.env.VertexRegion)
	}
	return nil, fmt.Errorf("%w: unknown backend %q", ai.ErrNoProviderConfigured, desc.Backend)
}

// vertexSub picks the Vertex sub-backend for a wire model name. An explicit
// VERTEX_PROVIDER setting wins; otherwise Gemini names go to the Google
// sub-backend and everything else to Anthropic.
func (r *Registry) vertexSub(wireName string) string {
	switch strings.ToUpper(r.env.VertexProvider) {
	case vertexProviderAnthropic:
		return vertexProviderAnthropic
	case vertexProviderGoogle:
		return vertexProviderGoogle
	}
	if strings.Contains(strings.ToLower(wireName), "gemini") {
		return vertexProviderGoogle
	}
	return vertexProviderAnthropic
}
