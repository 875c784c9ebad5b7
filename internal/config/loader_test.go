package config_test

import (
	"strings"
	"testing"

	"github.com/korahq/kora/internal/config"
)

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/kora/tls.crt
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for partial TLS config, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_DuplicateMCPServerNames(t *testing.T) {
	t.Parallel()
	yaml := `
mcp:
  servers:
    - name: tickets
      transport: streamable-http
      url: "https://a.example/mcp"
    - name: tickets
      transport: streamable-http
      url: "https://b.example/mcp"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate server names, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_StdioRequiresCommand(t *testing.T) {
	t.Parallel()
	yaml := `
mcp:
  servers:
    - name: local
      transport: stdio
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for stdio server without command, got nil")
	}
	if !strings.Contains(err.Error(), "command") {
		t.Errorf("error should mention command, got: %v", err)
	}
}

func TestValidate_HTTPTransportsRequireURL(t *testing.T) {
	t.Parallel()
	for _, transport := range []string{"streamable-http", "sse"} {
		yaml := `
mcp:
  servers:
    - name: remote
      transport: ` + transport + `
`
		_, err := config.LoadFromReader(strings.NewReader(yaml))
		if err == nil {
			t.Fatalf("expected error for %s server without url, got nil", transport)
		}
		if !strings.Contains(err.Error(), "url") {
			t.Errorf("error should mention url, got: %v", err)
		}
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
mcp:
  servers:
    - name: local
      transport: stdio
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "command") {
		t.Errorf("error should list every failure, got: %v", err)
	}
}

func TestValidate_NegativeIngestionValues(t *testing.T) {
	t.Parallel()
	yaml := `
ingestion:
  max_retries: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_retries, got nil")
	}
}
