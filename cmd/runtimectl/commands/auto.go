package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/super-agent/runtime/internal/app"
	"github.com/super-agent/runtime/internal/config"
	"github.com/super-agent/runtime/internal/orchestrator"
	"github.com/super-agent/runtime/internal/provider"
	"github.com/super-agent/runtime/pkg/types"
)

var (
	autoSessionID       string
	autoWorkerModel     string
	autoCheckerModel    string
	autoExpectedOutcome string
	autoCycleBudget     int
	autoResetOnExhaust  bool
	autoResetLimit      int
	autoOnce            bool
	autoDir             string
)

var autoCmd = &cobra.Command{
	Use:   "auto <task>",
	Short: "Run an autonomous Worker/Checker cycle loop to completion",
	Long: `Auto creates an autonomous-mode session and drives its
Worker/Checker cycle loop in-process, the same
Orchestrator runtimed's HTTP surface calls, and prints the final
session state as JSON.

Examples:
  runtimectl auto "write a hello world CLI in hello.py"
  runtimectl auto --once "triage the failing test" --session sess123`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAuto,
}

func init() {
	autoCmd.Flags().StringVarP(&autoSessionID, "session", "s", "", "Resume an existing autonomous session instead of creating one")
	autoCmd.Flags().StringVar(&autoWorkerModel, "worker-model", "", "Model used for the Worker role (provider/model format)")
	autoCmd.Flags().StringVar(&autoCheckerModel, "checker-model", "", "Model used for the Checker role; defaults to worker-model")
	autoCmd.Flags().StringVar(&autoExpectedOutcome, "expected-outcome", "", "What the Checker should verify the Worker achieved")
	autoCmd.Flags().IntVar(&autoCycleBudget, "cycle-budget", 0, "Cycle budget for a new session (0 uses the configured default)")
	autoCmd.Flags().BoolVar(&autoResetOnExhaust, "reset-on-exhaust", false, "Allow the orchestrator to reset the budget once exhausted")
	autoCmd.Flags().IntVar(&autoResetLimit, "reset-limit", 1, "Maximum number of budget resets")
	autoCmd.Flags().BoolVar(&autoOnce, "once", false, "Run a single cycle instead of driving to completion")
	autoCmd.Flags().StringVar(&autoDir, "directory", "", "Working directory")
}

func runAuto(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(autoDir)
	if err != nil {
		return err
	}

	task := args[0]
	for _, extra := range args[1:] {
		task += " " + extra
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	workerModel := autoWorkerModel
	if workerModel == "" {
		workerModel = GetGlobalModel()
	}
	if workerModel == "" {
		workerModel = cfg.DefaultModel
	}
	checkerModel := autoCheckerModel
	if checkerModel == "" {
		checkerModel = workerModel
	}

	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, &types.Config{Model: workerModel})
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	worker, err := completionWorkerFor(providerReg, workerModel)
	if err != nil {
		return err
	}
	checker, err := completionWorkerFor(providerReg, checkerModel)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, paths, nil, worker, checker)
	if err != nil {
		return fmt.Errorf("failed to wire runtime components: %w", err)
	}

	cycleBudget := autoCycleBudget
	if cycleBudget == 0 {
		cycleBudget = cfg.DefaultCycleBudget
	}

	sessionID := autoSessionID
	var state types.SessionState
	if sessionID == "" {
		sessionID = ulid.Make().String()
		state, err = a.Cycles.CreateSession(sessionID, orchestrator.SessionParams{
			Task:            task,
			ExpectedOutcome: autoExpectedOutcome,
			CycleBudget:     cycleBudget,
			ResetOnExhaust:  autoResetOnExhaust,
			ResetLimit:      autoResetLimit,
		})
		if err != nil {
			return fmt.Errorf("failed to create autonomous session: %w", err)
		}
	}

	if autoOnce {
		state, err = a.Cycles.RunOnce(ctx, sessionID)
	} else {
		state, err = a.Cycles.Run(ctx, sessionID, 0)
	}
	if err != nil {
		return fmt.Errorf("cycle run failed: %w", err)
	}

	data, marshalErr := json.MarshalIndent(state, "", "  ")
	if marshalErr != nil {
		return marshalErr
	}
	fmt.Println(string(data))
	return nil
}

func completionWorkerFor(reg *provider.Registry, model string) (provider.CompletionWorker, error) {
	providerID, modelID := provider.ParseModelString(model)
	if providerID == "" {
		m, err := reg.DefaultModel()
		if err != nil {
			return provider.CompletionWorker{}, fmt.Errorf("no model configured: %w", err)
		}
		providerID, modelID = m.ProviderID, m.ID
	}
	p, err := reg.Get(providerID)
	if err != nil {
		return provider.CompletionWorker{}, fmt.Errorf("provider %q not available: %w", providerID, err)
	}
	return provider.CompletionWorker{Provider: p, Model: modelID}, nil
}
