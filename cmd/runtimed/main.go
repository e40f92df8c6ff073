// Package main provides the entry point for the runtime daemon: it wires
// an App, a SessionManager, and a Multiplexer together and serves the HTTP
// surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/super-agent/runtime/internal/app"
	"github.com/super-agent/runtime/internal/config"
	"github.com/super-agent/runtime/internal/multiplex"
	"github.com/super-agent/runtime/internal/provider"
	"github.com/super-agent/runtime/internal/server"
	"github.com/super-agent/runtime/internal/sessionmgr"
	"github.com/super-agent/runtime/internal/toolspec"
	"github.com/super-agent/runtime/pkg/types"
)

var (
	port      = flag.Int("port", 8080, "Server port")
	directory = flag.String("directory", "", "Working directory")
	version   = flag.Bool("version", false, "Print version and exit")
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// noToolServers is the ToolDispatcher used when no tool-protocol server is
// configured. The core treats those servers as an opaque capability list,
// so wiring a real one stays an integration concern.
type noToolServers struct{}

func (noToolServers) Dispatch(ctx context.Context, sessionID string, call toolspec.Call) (toolspec.CallResult, error) {
	return toolspec.CallResult{}, errors.New("no tool-protocol server configured for this session")
}

// interruptForward breaks the TaskRunner/SessionManager construction
// cycle: TaskRunner needs an Interruptible at
// construction time, but SessionManager is only buildable once App already
// exists. mgr is set once SessionManager is constructed; calls that arrive
// before that point find no session running anyway.
type interruptForward struct {
	mgr *sessionmgr.Manager
}

func (f *interruptForward) Interrupt(sessionID string) bool {
	if f.mgr == nil {
		return false
	}
	return f.mgr.Interrupt(sessionID)
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("runtimed %s (%s)\n", Version, BuildTime)
		os.Exit(0)
	}

	workDir := *directory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
	}

	log.Printf("starting runtimed v%s", Version)
	log.Printf("working directory: %s", workDir)

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		log.Fatalf("failed to create data directories: %v", err)
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, &types.Config{Model: cfg.DefaultModel})
	if err != nil {
		log.Printf("warning: failed to initialize some providers: %v", err)
	}

	worker := pickWorker(providerReg)

	interr := &interruptForward{}
	a, err := app.New(cfg, paths, interr, worker, nil)
	if err != nil {
		log.Fatalf("failed to wire runtime components: %v", err)
	}

	sessions := sessionmgr.New(a.Sessions, a.Gate, providerReg, noToolServers{}, cfg.IdleTimeout)
	interr.mgr = sessions

	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	sessions.StartCleanupSweep(cleanupCtx, cfg.CleanupInterval, a.Tasks.IsRunning)

	hub := multiplex.New(a.Events, a.Gate, sessionKnown(a), queryHandler(a, sessions, workDir), a.Tasks.MarkViewed)

	srvConfig := server.DefaultConfig()
	srvConfig.Port = *port
	srv := server.New(srvConfig, a, sessions, hub)

	go func() {
		log.Printf("listening on http://localhost:%d", *port)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	log.Println("stopped")
}

// pickWorker resolves the provider backing autonomous-mode Worker/Checker
// calls from the registry's resolved default model. Falls back to a
// zero-value CompletionWorker — RunOnce then fails each cycle until a
// provider is configured — rather than crashing at startup, since a
// freshly installed runtime has no providers yet.
func pickWorker(reg *provider.Registry) provider.CompletionWorker {
	model, err := reg.DefaultModel()
	if err != nil || model == nil {
		return provider.CompletionWorker{}
	}
	p, err := reg.Get(model.ProviderID)
	if err != nil {
		return provider.CompletionWorker{}
	}
	return provider.CompletionWorker{Provider: p, Model: model.ID}
}

func sessionKnown(a *app.App) multiplex.SessionLookup {
	return func(sessionID string) bool {
		_, err := a.Sessions.Load(context.Background(), sessionID)
		return err == nil
	}
}

// queryHandler adapts SessionManager+TaskRunner into the QueryHandler the
// Multiplexer's `query` frame needs: resolve the turn's effective
// configuration (query overrides, then the session's last config, then the
// runtime defaults), reuse or create the ManagedSession, then hand its
// Stream producer to TaskRunner.
func queryHandler(a *app.App, sessions *sessionmgr.Manager, defaultCWD string) multiplex.QueryHandler {
	return func(ctx context.Context, sessionID string, q multiplex.QueryPayload) (string, error) {
		session, err := a.Sessions.Load(ctx, sessionID)
		if err != nil {
			return "", err
		}

		endpoint := q.Endpoint
		if endpoint == "" {
			endpoint = session.LastConfig.Endpoint
		}
		if endpoint == "" {
			endpoint = a.Config.DefaultEndpoint
		}
		model := q.Model
		if model == "" {
			model = session.LastConfig.Model
		}
		if model == "" {
			model = a.Config.DefaultModel
		}
		permissionMode := q.PermissionMode
		if permissionMode == "" {
			permissionMode = session.LastConfig.PermissionMode
		}
		cwd := q.CWD
		if cwd == "" {
			cwd = defaultCWD
		}

		cfg := types.SessionConfig{
			Endpoint:         endpoint,
			Model:            model,
			PermissionMode:   permissionMode,
			WorkingDirectory: cwd,
			ToolAllow:        a.Config.ToolAllow,
			ToolDeny:         a.Config.ToolDeny,
			MaxTurns:         a.Config.MaxTurns,
			ToolServers:      a.Config.ToolServers,
		}
		ms, err := sessions.GetOrCreate(sessionID, cfg, nil, session.ResumeToken)
		if err != nil {
			return "", err
		}

		return a.Tasks.StartTask(sessionID, q.Prompt, sessions.Stream(ms, q.Prompt))
	}
}
