package registry

import (
	"errors"
	"testing"

	"github.com/korahq/kora/pkg/ai"
)

func TestActiveBackend_PriorityOrder(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		env  Env
		want Backend
		ok   bool
	}{
		{name: "nothing configured", env: Env{}, ok: false},
		{
			name: "bedrock wins over everything",
			env: Env{
				AWSRegion: "us-east-1", AWSAccessKeyID: "AKIA", AWSSecretAccessKey: "s",
				OpenAIAPIKey: "k", OllamaModel: "llama3", GeminiAPIKey: "g",
			},
			want: BackendAwsBedrock, ok: true,
		},
		{
			name: "openai beats ollama",
			env:  Env{OpenAIAPIKey: "k", OllamaModel: "llama3"},
			want: BackendOpenAI, ok: true,
		},
		{
			name: "together needs both key and model",
			env:  Env{TogetherAPIKey: "k"},
			ok:   false,
		},
		{
			name: "fireworks",
			env:  Env{FireworksAPIKey: "k", FireworksModel: "accounts/fireworks/models/llama-v3"},
			want: BackendFireworks, ok: true,
		},
		{
			name: "google ai beats vertex",
			env:  Env{GeminiAPIKey: "g", VertexProjectID: "p", VertexRegion: "europe-west1"},
			want: BackendGoogleAI, ok: true,
		},
		{
			name: "vertex last",
			env:  Env{VertexProjectID: "p", VertexRegion: "europe-west1"},
			want: BackendVertexAI, ok: true,
		},
		{
			name: "incomplete bedrock falls through",
			env:  Env{AWSRegion: "us-east-1", OpenAIAPIKey: "k"},
			want: BackendOpenAI, ok: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := New(tc.env).ActiveBackend()
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Errorf("backend = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAvailableModels_OpenAIOnly(t *testing.T) {
	t.Parallel()
	r := New(Env{OpenAIAPIKey: "k"})

	models, err := r.AvailableModels()
	if err != nil {
		t.Fatalf("AvailableModels: %v", err)
	}
	want := staticModelsFor(BackendOpenAI)
	if len(models) != len(want) {
		t.Fatalf("got %d models, want %d", len(models), len(want))
	}
	for i, d := range models {
		if d.Backend != BackendOpenAI {
			t.Errorf("model %q backend = %q, want openai", d.ModelID, d.Backend)
		}
		if d.ModelID != want[i].ModelID {
			t.Errorf("model[%d] = %q, want %q", i, d.ModelID, want[i].ModelID)
		}
	}
}

func TestAvailableModels_NothingConfigured(t *testing.T) {
	t.Parallel()
	_, err := New(Env{}).AvailableModels()
	if !errors.Is(err, ai.ErrNoProviderConfigured) {
		t.Errorf("err = %v, want ErrNoProviderConfigured", err)
	}
}

func TestAvailableModels_DynamicBackendSurfacesConfiguredModel(t *testing.T) {
	t.Parallel()
	r := New(Env{OllamaModel: "llama3.1:8b"})

	models, err := r.AvailableModels()
	if err != nil {
		t.Fatalf("AvailableModels: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("got %d models, want 1", len(models))
	}
	d := models[0]
	if d.ModelID != "llama3.1:8b" || d.WireName != "llama3.1:8b" || d.Backend != BackendOllama {
		t.Errorf("descriptor = %+v", d)
	}
}

func TestDescriptor_UnknownModel(t *testing.T) {
	t.Parallel()
	r := New(Env{OpenAIAPIKey: "k"})
	if _, err := r.Descriptor("claude-sonnet-4"); !errors.Is(err, ai.ErrInvalidModel) {
		t.Errorf("cross-backend lookup err = %v, want ErrInvalidModel", err)
	}
	if _, err := r.Descriptor("no-such-model"); !errors.Is(err, ai.ErrInvalidModel) {
		t.Errorf("err = %v, want ErrInvalidModel", err)
	}
}

func TestResolveByLabel_RoundTrip(t *testing.T) {
	t.Parallel()
	r := New(Env{OpenAIAPIKey: "k"})

	models, err := r.AvailableModels()
	if err != nil {
		t.Fatalf("AvailableModels: %v", err)
	}
	for _, want := range models {
		got, err := r.ResolveByLabel(want.Label)
		if err != nil {
			t.Fatalf("ResolveByLabel(%q): %v", want.Label, err)
		}
		if got.ModelID != want.ModelID {
			t.Errorf("ResolveByLabel(%q) = %q, want %q", want.Label, got.ModelID, want.ModelID)
		}
	}
}

func TestDefaultModel(t *testing.T) {
	t.Parallel()
	r := New(Env{OpenAIAPIKey: "k"})
	d, err := r.DefaultModel()
	if err != nil {
		t.Fatalf("DefaultModel: %v", err)
	}
	if d.ModelID != "gpt-4o" {
		t.Errorf("default = %q, want gpt-4o", d.ModelID)
	}

	if _, err := New(Env{}).DefaultModel(); !errors.Is(err, ai.ErrNoProviderConfigured) {
		t.Errorf("err = %v, want ErrNoProviderConfigured", err)
	}
}

func TestDriverForModel_SharedInstance(t *testing.T) {
	t.Parallel()
	r := New(Env{OpenAIAPIKey: "k"})

	drv1, desc, err := r.DriverForModel(t.Context(), "gpt-4o")
	if err != nil {
		t.Fatalf("DriverForModel: %v", err)
	}
	if desc.WireName != "gpt-4o" {
		t.Errorf("wire name = %q", desc.WireName)
	}
	drv2, _, err := r.DriverForModel(t.Context(), "gpt-4o-mini")
	if err != nil {
		t.Fatalf("DriverForModel: %v", err)
	}
	if drv1 != drv2 {
		t.Error("same backend must reuse one driver instance")
	}
}

func TestVertexSub(t *testing.T) {
	t.Parallel()
	r := New(Env{VertexProjectID: "p", VertexRegion: "europe-west1"})
	if got := r.vertexSub("gemini-2.0-flash"); got != vertexProviderGoogle {
		t.Errorf("gemini wire name routed to %q", got)
	}
	if got := r.vertexSub("claude-sonnet-4@20250514"); got != vertexProviderAnthropic {
		t.Errorf("claude wire name routed to %q", got)
	}
}

func TestVertexSub_ProviderOverride(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		provider string
		wireName string
		want     string
	}{
		{"forced google overrides claude name", "GOOGLE", "claude-sonnet-4@20250514", vertexProviderGoogle},
		{"forced anthropic overrides gemini name", "anthropic", "gemini-2.0-flash", vertexProviderAnthropic},
		{"unknown value falls back to wire name", "mistral", "gemini-2.0-flash", vertexProviderGoogle},
		{"empty value falls back to wire name", "", "claude-opus-4", vertexProviderAnthropic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := New(Env{VertexProjectID: "p", VertexRegion: "europe-west1", VertexProvider: tc.provider})
			if got := r.vertexSub(tc.wireName); got != tc.want {
				t.Errorf("vertexSub(%q) with VERTEX_PROVIDER=%q = %q, want %q",
					tc.wireName, tc.provider, got, tc.want)
			}
		})
	}
}
