package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CORSChanged bool

	MCPChanged bool      // true if any MCP server was added, removed, or modified
	MCPChanges []MCPDiff // per-server diffs
}

// MCPDiff describes what changed for a single MCP server between two configs.
type MCPDiff struct {
	Name     string
	Modified bool
	Added    bool
	Removed  bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// CORS origins
	if !slices.Equal(old.Server.CORSAllowedOrigins, new.Server.CORSAllowedOrigins) {
		d.CORSChanged = true
	}

	// Build MCP server lookup maps keyed by name.
	oldServers := make(map[string]*MCPServerConfig, len(old.MCP.Servers))
	for i := range old.MCP.Servers {
		oldServers[old.MCP.Servers[i].Name] = &old.MCP.Servers[i]
	}
	newServers := make(map[string]*MCPServerConfig, len(new.MCP.Servers))
	for i := range new.MCP.Servers {
		newServers[new.MCP.Servers[i].Name] = &new.MCP.Servers[i]
	}

	// Detect modified and removed servers.
	for name, oldSrv := range oldServers {
		newSrv, exists := newServers[name]
		if !exists {
			d.MCPChanges = append(d.MCPChanges, MCPDiff{Name: name, Removed: true})
			d.MCPChanged = true
			continue
		}
		if serverModified(oldSrv, newSrv) {
			d.MCPChanges = append(d.MCPChanges, MCPDiff{Name: name, Modified: true})
			d.MCPChanged = true
		}
	}

	// Detect added servers.
	for name := range newServers {
		if _, exists := oldServers[name]; !exists {
			d.MCPChanges = append(d.MCPChanges, MCPDiff{Name: name, Added: true})
			d.MCPChanged = true
		}
	}

	return d
}

// serverModified compares two MCP server configs with the same name.
func serverModified(old, new *MCPServerConfig) bool {
	if old.Transport != new.Transport || old.Command != new.Command || old.URL != new.URL {
		return true
	}
	if !slices.Equal(old.Args, new.Args) {
		return true
	}
	return !mapsEqual(old.Headers, new.Headers) || !mapsEqual(old.Env, new.Env)
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
