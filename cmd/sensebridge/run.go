package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	cfhttp "github.com/Strob0t/sensebridge/internal/adapter/http"
	lspAdapter "github.com/Strob0t/sensebridge/internal/adapter/lsp"
	cfmcp "github.com/Strob0t/sensebridge/internal/adapter/mcp"
	cfnats "github.com/Strob0t/sensebridge/internal/adapter/nats"
	cfotel "github.com/Strob0t/sensebridge/internal/adapter/otel"
	"github.com/Strob0t/sensebridge/internal/adapter/ristretto"
	"github.com/Strob0t/sensebridge/internal/adapter/transcript"
	"github.com/Strob0t/sensebridge/internal/adapter/watcher"
	"github.com/Strob0t/sensebridge/internal/adapter/ws"
	"github.com/Strob0t/sensebridge/internal/config"
	lspDomain "github.com/Strob0t/sensebridge/internal/domain/lsp"
	"github.com/Strob0t/sensebridge/internal/domain/semantic"
	"github.com/Strob0t/sensebridge/internal/logger"
	"github.com/Strob0t/sensebridge/internal/port/broadcast"
	"github.com/Strob0t/sensebridge/internal/resilience"
	"github.com/Strob0t/sensebridge/internal/service"
	"github.com/Strob0t/sensebridge/internal/workpool"
)

const (
	natsDefaultPrefix = "sensebridge"
	transcriptSubdir  = ".sensebridge/transcript"
	httpShutdown      = 10 * time.Second
	telemetryShutdown = 5 * time.Second
)

func run(ctx context.Context, cfg *config.Config, configPath string, opts options) error {
	log, closeLog := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLog.Close()

	root, err := filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	if info, err := os.Stat(root); err != nil {
		return fmt.Errorf("workspace: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("workspace %s is not a directory", root)
	}

	slog.Info("config loaded",
		"config", configPath,
		"workspace", root,
		"language", cfg.Workspace.Language,
		"transport", opts.transport,
		"log_level", cfg.Logging.Level,
	)
	if opts.transport == transportStdio && term.IsTerminal(int(os.Stdin.Fd())) { //nolint:gosec // fd fits in int
		slog.Warn("stdin is a terminal; sensebridge expects an MCP client on stdio")
	}

	// --- Telemetry ---

	tel, err := cfotel.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdown)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		slog.Warn("metrics disabled", "error", err)
	}

	// --- Event fan-out ---

	hub := ws.NewHub()
	defer hub.Close()
	events := broadcast.Multi{hub}

	var queue *cfnats.Queue
	if cfg.NATS.URL != "" {
		var extra []string
		if subj := cfg.Transcript.NATSSubject; subj != "" && !underPrefix(subj, natsDefaultPrefix) {
			extra = append(extra, subj+".>")
		}
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL, natsDefaultPrefix, extra...)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		events = append(events, queue)
	}

	// --- Transcript ---

	rec, err := newRecorder(cfg, root, opts, queue)
	if err != nil {
		return err
	}

	// --- Language server session ---

	serverCfg, ok := lspDomain.ServerFor(cfg.Workspace.Language, cfg.LSP.Command)
	if !ok {
		return fmt.Errorf("no language server known for %q; set lsp.command", cfg.Workspace.Language)
	}
	clientOpts := []lspAdapter.Option{lspAdapter.WithMetrics(metrics), lspAdapter.WithVersion(version)}
	if rec != nil {
		clientOpts = append(clientOpts,
			lspAdapter.WithStreamWrapper(rec.WrapLSP),
			lspAdapter.WithStderr(rec.WrapStderr(os.Stderr)),
		)
	}
	client := lspAdapter.NewClient(serverCfg, &cfg.LSP, root, clientOpts...)
	lspSvc := service.NewLSPService(&cfg.LSP, client, events)

	// --- Services ---

	models, err := ristretto.New(cfg.Index.CacheMaxCost, func(m *semantic.Model) int64 { return int64(max(m.Len(), 1)) })
	if err != nil {
		return fmt.Errorf("index cache: %w", err)
	}
	defer models.Close()

	index := service.NewIndex(client, models, &cfg.Index, metrics)
	client.OnDocumentEvent(index.OnDocumentEvent)
	finder := service.NewFinder(client, &cfg.Finder)
	resolver := service.NewResolver(client, index, finder, workpool.New(cfg.Resolver.Concurrency), &cfg.Resolver, cfg.Workspace.Ignore)
	breakers := resilience.NewBreakers(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, service.BreakerFailure)
	aggregator := service.NewAggregator(client, breakers, metrics)

	if err := lspSvc.Start(ctx); err != nil {
		// Keep serving: tool calls report the failure to the assistant.
		slog.Error("language server unavailable", "command", strings.Join(serverCfg.Command, " "), "error", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.LSP.ShutdownTimeout+time.Second)
		defer cancel()
		if err := lspSvc.Stop(stopCtx); err != nil {
			slog.Warn("language server shutdown", "error", err)
		}
		if rec != nil {
			if err := rec.Close(); err != nil {
				slog.Warn("transcript close", "error", err)
			}
		}
	}()

	if cfg.Watcher.Enabled {
		w, err := watcher.New(client, root, cfg.Workspace.Ignore, cfg.Watcher.Debounce)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
	}

	// --- MCP ---

	mcpSrv := cfmcp.NewServer(cfmcp.ServerConfig{
		Name:    "sensebridge",
		Version: version,
		Root:    root,
		APIKey:  cfg.HTTP.APIKey,
	}, cfmcp.ServerDeps{
		Session:    lspSvc,
		Finder:     finder,
		Resolver:   resolver,
		Aggregator: aggregator,
		Metrics:    metrics,
		Events:     events,
	})

	// --- HTTP ---

	addr := cfg.HTTP.Addr
	if addr == "" && opts.transport == transportHTTP {
		addr = defaultHTTPAddr
	}
	if addr != "" {
		deps := cfhttp.RouterDeps{
			Session:    lspSvc,
			Breakers:   breakers,
			Events:     http.HandlerFunc(hub.HandleWS),
			Metrics:    tel.MetricsHandler(),
			Middleware: []func(http.Handler) http.Handler{cfotel.HTTPMiddleware(cfg.Telemetry.ServiceName)},
			Auth:       mcpSrv.Auth(),
		}
		if opts.transport == transportHTTP {
			deps.MCP = mcpSrv.HTTPHandler()
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           cfhttp.NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		go func() {
			slog.Info("starting http server", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdown)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("http shutdown", "error", err)
			}
		}()
	}

	// --- Serve ---

	if opts.transport == transportStdio {
		var in io.Reader = os.Stdin
		var out io.Writer = os.Stdout
		if rec != nil {
			in, out = rec.WrapMCP(in, out)
		}
		err = mcpSrv.ServeStdio(ctx, in, out)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
			return fmt.Errorf("mcp stdio: %w", err)
		}
	} else {
		<-ctx.Done()
	}

	slog.Info("shutting down")
	return nil
}

// newRecorder returns nil when neither transcript files nor broker
// publishing are configured.
func newRecorder(cfg *config.Config, root string, opts options, queue *cfnats.Queue) (*transcript.Recorder, error) {
	dir := cfg.Transcript.Dir
	if dir == "" && opts.interceptIO {
		dir = filepath.Join(root, filepath.FromSlash(transcriptSubdir))
	}
	subject := cfg.Transcript.NATSSubject
	if dir == "" && (subject == "" || queue == nil) {
		return nil, nil
	}

	ropts := transcript.Options{Dir: dir}
	if subject != "" && queue != nil {
		ropts.Publisher = queue
		ropts.Subject = func(stream string) string { return subject + "." + stream }
	}
	rec, err := transcript.New(ropts)
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	return rec, nil
}

// underPrefix reports whether subject is already captured by prefix.>.
func underPrefix(subject, prefix string) bool {
	return strings.HasPrefix(subject, prefix+".")
}
