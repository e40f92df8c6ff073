// Package app wires together the components built in
// internal/store, internal/eventbuf, internal/taskrunner,
// internal/interaction, and internal/orchestrator into the single value
// that cmd/runtimed constructs once and threads through explicitly. It is
// kept separate from internal/runtime itself so that leaf package
// (sentinel errors only) never has to import the components that depend
// on it.
package app

import (
	"github.com/super-agent/runtime/internal/config"
	"github.com/super-agent/runtime/internal/eventbuf"
	"github.com/super-agent/runtime/internal/interaction"
	"github.com/super-agent/runtime/internal/orchestrator"
	"github.com/super-agent/runtime/internal/store"
	"github.com/super-agent/runtime/internal/taskrunner"
)

// App is the single injected value every handler, worker, and cycle
// loop receives instead of reaching for ambient package-level state.
// Constructed once in cmd/runtimed and threaded through explicitly from
// there.
type App struct {
	Config RuntimeConfig

	Sessions *store.SessionStore
	States   *store.StateStore
	Events   *eventbuf.Buffer
	Tasks    *taskrunner.Runner
	Gate     *interaction.Gate
	Cycles   *orchestrator.Orchestrator
}

// RuntimeConfig aliases internal/config's RuntimeConfig so callers that only
// import internal/app still see the configuration shape.
type RuntimeConfig = config.RuntimeConfig

// New wires every component together. interr and workers are supplied by
// the caller since they close over the SessionManager and LLM provider
// registry, both of which depend on App's own fields.
func New(
	cfg RuntimeConfig,
	paths *config.Paths,
	interr taskrunner.Interruptible,
	worker, checker orchestrator.Worker,
) (*App, error) {
	events := eventbuf.New(paths.TasksPath())
	if _, err := events.LoadAll(); err != nil {
		return nil, err
	}

	tasks := taskrunner.New(paths.TasksPath(), events, interr)
	if err := tasks.Start(); err != nil {
		return nil, err
	}

	states := store.NewStateStore(paths.Data)
	cycles := orchestrator.New(states, worker, checker, events, func(sessionID string) string {
		return paths.WorkspacePath() + "/" + sessionID
	}, orchestrator.Templates{
		WorkerPrompt:  cfg.WorkerPromptTemplate,
		CheckerPrompt: cfg.CheckerPromptTemplate,
	})

	return &App{
		Config:   cfg,
		Sessions: store.NewSessionStore(paths.Data),
		States:   states,
		Events:   events,
		Tasks:    tasks,
		Gate: interaction.New(interaction.Config{
			AskUserDeadline:    cfg.AskUserDeadline,
			PermissionDeadline: cfg.PermissionDeadline,
		}, events),
		Cycles: cycles,
	}, nil
}
