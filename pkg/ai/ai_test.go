package ai_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/korahq/kora/pkg/ai"
)

func TestWithDefaults_FillsUnsetFields(t *testing.T) {
	t.Parallel()
	p := ai.ModelParams{ModelID: "gpt-4o"}.WithDefaults()
	if p.MaxNewTokens != ai.DefaultMaxNewTokens {
		t.Errorf("MaxNewTokens = %d, want %d", p.MaxNewTokens, ai.DefaultMaxNewTokens)
	}
	if p.TopP != ai.DefaultTopP {
		t.Errorf("TopP = %v, want %v", p.TopP, ai.DefaultTopP)
	}
	if p.Temperature != ai.DefaultTemperature {
		t.Errorf("Temperature = %v, want %v", p.Temperature, ai.DefaultTemperature)
	}
}

func TestWithDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()
	p := ai.ModelParams{ModelID: "gpt-4o", MaxNewTokens: 64, TopP: 0.5, Temperature: 1.2}.WithDefaults()
	if p.MaxNewTokens != 64 || p.TopP != 0.5 || p.Temperature != 1.2 {
		t.Errorf("explicit values were overwritten: %+v", p)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want ai.ErrorKind
	}{
		{nil, ""},
		{context.Canceled, ai.KindCancelled},
		{context.DeadlineExceeded, ai.KindCancelled},
		{ai.ErrNoProviderConfigured, ai.KindNoProviderConfigured},
		{fmt.Errorf("lookup: %w", ai.ErrInvalidModel), ai.KindInvalidModel},
		{fmt.Errorf("429: %w", ai.ErrRateLimited), ai.KindProviderRateLimited},
		{errors.New("connection reset"), ai.KindProviderTransport},
	}
	for _, tc := range cases {
		if got := ai.Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestTerminal_RoundTripsErrorKind(t *testing.T) {
	t.Parallel()
	ev := ai.Terminal(fmt.Errorf("too fast: %w", ai.ErrRateLimited))
	if !ev.Done {
		t.Fatal("terminal event must set Done")
	}
	if ev.Err == nil || ev.Err.Kind != ai.KindProviderRateLimited {
		t.Fatalf("terminal error = %+v, want rate-limited kind", ev.Err)
	}
	if !errors.Is(ev.Err.AsError(), ai.ErrRateLimited) {
		t.Error("AsError should match ErrRateLimited under errors.Is")
	}
}

func TestTerminal_NilError(t *testing.T) {
	t.Parallel()
	ev := ai.Terminal(nil)
	if !ev.Done || ev.Err != nil {
		t.Errorf("Terminal(nil) = %+v, want clean done", ev)
	}
}

func TestCollect_ConcatenatesDeltasAndCapturesCost(t *testing.T) {
	t.Parallel()
	ch := make(chan ai.ConverseResponse, 8)
	ch <- ai.ConverseResponse{Text: "Hello, "}
	ch <- ai.ConverseResponse{Reasoning: "thinking…"}
	ch <- ai.ConverseResponse{Text: "world"}
	ch <- ai.ConverseResponse{Cost: &ai.Cost{InputTokens: 3, OutputTokens: 2, USD: 0.0001}}
	ch <- ai.Terminal(nil)
	close(ch)

	text, cost, err := ai.Collect(ch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello, world" {
		t.Errorf("text = %q, want %q", text, "Hello, world")
	}
	if cost == nil || cost.OutputTokens != 2 {
		t.Errorf("cost = %+v, want output tokens 2", cost)
	}
}

func TestCollect_SurfacesTerminalError(t *testing.T) {
	t.Parallel()
	ch := make(chan ai.ConverseResponse, 2)
	ch <- ai.ConverseResponse{Text: "partial"}
	ch <- ai.Terminal(fmt.Errorf("boom: %w", ai.ErrTransport))
	close(ch)

	text, _, err := ai.Collect(ch)
	if text != "partial" {
		t.Errorf("text = %q, want the partial delta preserved", text)
	}
	if !errors.Is(err, ai.ErrTransport) {
		t.Errorf("err = %v, want transport kind", err)
	}
}
