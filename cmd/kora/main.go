// Command kora is the knowledge assistant backend: LLM driver dispatch,
// the agentic answering pipeline, connector lifecycle, and ingestion
// orchestration behind one HTTP surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/korahq/kora/internal/admin"
	"github.com/korahq/kora/internal/config"
	"github.com/korahq/kora/internal/connector"
	"github.com/korahq/kora/internal/health"
	"github.com/korahq/kora/internal/ingest"
	"github.com/korahq/kora/internal/observe"
	"github.com/korahq/kora/internal/pipeline"
	"github.com/korahq/kora/internal/progress"
	"github.com/korahq/kora/internal/registry"
	"github.com/korahq/kora/internal/secrets"
	"github.com/korahq/kora/internal/server"
	"github.com/korahq/kora/internal/toolreg"
	"github.com/korahq/kora/pkg/store"
	"github.com/korahq/kora/pkg/store/postgres"
)

// Config-declared MCP servers are owned by this synthetic tenant.
const systemWorkspace = "default"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kora: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kora: %v\n", err)
		}
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("kora starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "kora"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// Model registry and answering pipeline. Backend selection comes from
	// the environment, not the config file.
	reg := registry.New(registry.FromEnv())
	if backend, ok := reg.ActiveBackend(); ok {
		slog.Info("llm backend selected", "backend", backend)
	} else {
		slog.Warn("no llm backend configured; chat requests will fail")
	}
	pipe := pipeline.New(reg, logger)

	opts := server.Options{
		Registry:           reg,
		Pipeline:           pipe,
		Metrics:            metrics,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Log:                logger,
	}

	// Everything below needs the database. Without a DSN the process runs
	// chat-only and the connector, ingestion, and tool routes stay off.
	var st *postgres.Store
	var orch *ingest.Orchestrator
	var connSvc *connector.Service
	var tools *toolreg.Registry
	if cfg.Database.PostgresDSN != "" {
		st, err = postgres.New(ctx, cfg.Database.PostgresDSN, cfg.Database.EmbeddingDimensions)
		if err != nil {
			slog.Error("failed to open database", "err", err)
			return 1
		}
		defer st.Close()

		sealer, err := secrets.New(cfg.Secrets.CredentialKey)
		if err != nil {
			slog.Error("failed to initialise credential sealing", "err", err)
			return 1
		}

		bus := progress.NewBus(logger)
		orch = ingest.New(st.Jobs(), st.Content(), st.Rooms(), fetchers(), bus, logger,
			ingest.WithRetries(cfg.Ingestion.MaxRetries, cfg.Ingestion.RetryBackoff))
		go orch.RunRoomCleanup(ctx)

		connSvc = connector.New(st.Connectors(), st.Providers(), sealer, orch, cfg.Server.PublicBaseURL, logger)
		tools = toolreg.New(st.Tools(), st.Connectors(), logger)

		opts.Connectors = connSvc
		opts.Ingest = orch
		opts.Tools = tools
		opts.Admin = admin.New(st.Content(), st.Jobs(), logger)
		opts.Bus = bus
		opts.Health = health.New(health.Checker{Name: "database", Check: st.Ping})

		go syncMCPServers(ctx, cfg.MCP.Servers, connSvc, tools)
	} else {
		slog.Warn("no database configured; running chat-only")
	}

	srv := server.New(opts)
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Hot-reload: log level applies immediately, MCP server changes
	// trigger a catalog refresh, everything else needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(d.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.CORSChanged {
			slog.Warn("cors origins changed; restart required to apply")
		}
		if d.MCPChanged && connSvc != nil {
			var changed []config.MCPServerConfig
			for _, c := range d.MCPChanges {
				if c.Removed {
					slog.Info("mcp server removed from config", "name", c.Name)
					continue
				}
				for _, s := range new.MCP.Servers {
					if s.Name == c.Name {
						changed = append(changed, s)
					}
				}
			}
			go syncMCPServers(ctx, changed, connSvc, tools)
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if orch != nil {
		// Let running ingestion workers finish their current unit.
		orch.Wait()
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// fetchers maps connector apps to their source fetchers. The upstream API
// clients (Google Workspace, Slack, Microsoft Graph) plug in here; none
// ship in this module.
func fetchers() map[store.App]ingest.Fetcher {
	return map[store.App]ingest.Fetcher{}
}

// syncMCPServers resolves a connector for each config-declared MCP server
// and refreshes its tool catalog. Connectors are matched by subject within
// the system workspace and created on first sight.
func syncMCPServers(ctx context.Context, servers []config.MCPServerConfig, connSvc *connector.Service, tools *toolreg.Registry) {
	if len(servers) == 0 {
		return
	}
	existing, err := connSvc.List(ctx, systemWorkspace, systemWorkspace)
	if err != nil {
		slog.Error("list mcp connectors", "err", err)
		return
	}
	bySubject := make(map[string]store.Connector, len(existing))
	for _, c := range existing {
		if c.App == store.AppMCP {
			bySubject[c.Subject] = c
		}
	}

	for _, s := range servers {
		c, ok := bySubject[s.Name]
		if !ok {
			created, err := connSvc.Create(ctx, connector.CreateParams{
				WorkspaceID: systemWorkspace,
				UserID:      systemWorkspace,
				App:         store.AppMCP,
				AuthType:    store.AuthCustom,
				Subject:     s.Name,
			})
			if err != nil {
				slog.Error("create mcp connector", "name", s.Name, "err", err)
				continue
			}
			c = *created
		}
		cfg := toolreg.TransportConfig{
			Mode:    toolreg.TransportMode(s.Transport),
			URL:     s.URL,
			Headers: s.Headers,
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
		}
		if err := tools.Refresh(ctx, &c, cfg); err != nil {
			slog.Error("mcp catalog refresh failed", "name", s.Name, "err", err)
			continue
		}
		slog.Info("mcp catalog refreshed", "name", s.Name)
	}
}
