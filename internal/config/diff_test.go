package config_test

import (
	"testing"

	"github.com/korahq/kora/internal/config"
)

func mcpServer(name string) config.MCPServerConfig {
	return config.MCPServerConfig{
		Name:      name,
		Transport: config.MCPTransportStreamableHTTP,
		URL:       "https://" + name + ".example/mcp",
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{
			LogLevel:           config.LogInfo,
			CORSAllowedOrigins: []string{"https://app.example"},
		},
		MCP: config.MCPConfig{Servers: []config.MCPServerConfig{mcpServer("tickets")}},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.CORSChanged || d.MCPChanged {
		t.Errorf("diff of identical configs = %+v, want no changes", d)
	}
	if len(d.MCPChanges) != 0 {
		t.Errorf("expected 0 MCP changes, got %d", len(d.MCPChanges))
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_CORSChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{CORSAllowedOrigins: []string{"https://a.example"}}}
	new := &config.Config{Server: config.ServerConfig{CORSAllowedOrigins: []string{"https://a.example", "https://b.example"}}}

	d := config.Diff(old, new)
	if !d.CORSChanged {
		t.Error("expected CORSChanged=true")
	}
}

func TestDiff_MCPServerAddedAndRemoved(t *testing.T) {
	t.Parallel()
	old := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{mcpServer("tickets")}}}
	new := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{mcpServer("wiki")}}}

	d := config.Diff(old, new)
	if !d.MCPChanged {
		t.Fatal("expected MCPChanged=true")
	}
	var added, removed bool
	for _, c := range d.MCPChanges {
		if c.Name == "wiki" && c.Added {
			added = true
		}
		if c.Name == "tickets" && c.Removed {
			removed = true
		}
	}
	if !added || !removed {
		t.Errorf("changes = %+v, want wiki added and tickets removed", d.MCPChanges)
	}
}

func TestDiff_MCPServerModified(t *testing.T) {
	t.Parallel()
	old := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{mcpServer("tickets")}}}

	modified := mcpServer("tickets")
	modified.Headers = map[string]string{"Authorization": "Bearer new"}
	new := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{modified}}}

	d := config.Diff(old, new)
	if !d.MCPChanged {
		t.Fatal("expected MCPChanged=true")
	}
	if len(d.MCPChanges) != 1 || !d.MCPChanges[0].Modified {
		t.Errorf("changes = %+v, want one modified entry", d.MCPChanges)
	}
}

func TestDiff_ArgsOrderMatters(t *testing.T) {
	t.Parallel()
	a := config.MCPServerConfig{Name: "local", Transport: config.MCPTransportStdio, Command: "/bin/mcp", Args: []string{"--a", "--b"}}
	b := a
	b.Args = []string{"--b", "--a"}

	old := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{a}}}
	new := &config.Config{MCP: config.MCPConfig{Servers: []config.MCPServerConfig{b}}}

	if d := config.Diff(old, new); !d.MCPChanged {
		t.Error("reordered args must count as a modification")
	}
}
