package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/super-agent/runtime/internal/config"
	"github.com/super-agent/runtime/internal/interaction"
	"github.com/super-agent/runtime/internal/provider"
	"github.com/super-agent/runtime/internal/sessionmgr"
	"github.com/super-agent/runtime/internal/store"
	"github.com/super-agent/runtime/internal/toolspec"
	"github.com/super-agent/runtime/pkg/types"
)

var (
	runModel       string
	runEndpoint    string
	runSession     string
	runPermission  string
	runTitle       string
	runDir         string
	runQuiet       bool
	runJSON        bool
	runAutoApprove bool
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Run a single turn on a session and print the result",
	Long: `Run drives one SessionManager turn to completion in-process, the
same Stream a WebSocket 'query' frame would start, and prints the
assistant's response to stdout.

Examples:
  runtimectl run "fix the bug in main.go"
  runtimectl run --session sess123 "what did you just change?"
  runtimectl run --model anthropic/claude-sonnet-4-20250514 "explain this repo"`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().StringVar(&runEndpoint, "endpoint", "", "Provider id to route to; defaults to the model's provider")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session id to continue; a new one is created when empty")
	runCmd.Flags().StringVar(&runPermission, "permission-mode", "auto", "Permission mode for tool calls (auto|ask)")
	runCmd.Flags().StringVar(&runTitle, "title", "", "Title for a newly created session")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print the final assistant text")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the result as JSON instead of text")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", true, "Auto-approve tool permission requests in ask mode")
}

// toolDispatcherStub stands in for a configured tool-protocol server; a
// one-shot CLI invocation has no server to dispatch to.
type toolDispatcherStub struct{}

// cliChannel builds the one-shot CLI's client channel: suspension prompts
// raised mid-turn print to the terminal, and permission requests are
// auto-approved when enabled, standing in for an out-of-band UI client.
func cliChannel(gate *interaction.Gate, autoApprove bool) sessionmgr.ClientChannel {
	return func(eventType string, payload any) {
		ev, ok := payload.(interaction.RequestEvent)
		if !ok {
			return
		}
		switch eventType {
		case "permission_request":
			if autoApprove {
				go gate.Respond(ev.RequestID, interaction.Reply{Status: interaction.StatusApproved, Approved: true})
			}
		case "ask_user":
			if ask, ok := ev.Payload.(interaction.AskUserPayload); ok {
				for _, q := range ask.Questions {
					fmt.Fprintf(os.Stderr, "agent asks: %s\n", q)
				}
			}
		}
	}
}

func (toolDispatcherStub) Dispatch(ctx context.Context, sessionID string, call toolspec.Call) (toolspec.CallResult, error) {
	return toolspec.CallResult{}, fmt.Errorf("no tool-protocol server configured for this session")
}

type runResult struct {
	SessionID  string `json:"sessionId"`
	Text       string `json:"text"`
	Turns      int    `json:"turns"`
	DurationMS int64  `json:"durationMs"`
	Err        string `json:"error,omitempty"`
}

func runOnce(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" {
		return fmt.Errorf("message required. usage: runtimectl run \"your message\"")
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	model := runModel
	if model == "" {
		model = GetGlobalModel()
	}
	if model == "" {
		model = cfg.DefaultModel
	}

	ctx := context.Background()
	providerReg, err := provider.InitializeProviders(ctx, &types.Config{Model: model})
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	endpoint := runEndpoint
	modelID := model
	if providerID, id := provider.ParseModelString(model); providerID != "" {
		if endpoint == "" {
			endpoint = providerID
		}
		modelID = id
	}
	if endpoint == "" {
		defaultModel, err := providerReg.DefaultModel()
		if err != nil {
			return fmt.Errorf("no provider endpoint given and no default model configured: %w", err)
		}
		endpoint = defaultModel.ProviderID
		modelID = defaultModel.ID
	}

	sessions := store.NewSessionStore(paths.Data)
	gate := interaction.New(interaction.DefaultConfig(), nil)
	mgr := sessionmgr.New(sessions, gate, providerReg, toolDispatcherStub{}, cfg.IdleTimeout)

	sessionID, err := resolveSession(ctx, sessions)
	if err != nil {
		return err
	}

	sessionCfg := types.SessionConfig{
		Endpoint:         endpoint,
		Model:            modelID,
		PermissionMode:   runPermission,
		WorkingDirectory: workDir,
		ToolAllow:        cfg.ToolAllow,
		ToolDeny:         cfg.ToolDeny,
		MaxTurns:         cfg.MaxTurns,
	}
	ms, err := mgr.GetOrCreate(sessionID, sessionCfg, cliChannel(gate, runAutoApprove), "")
	if err != nil {
		return err
	}

	result := runResult{SessionID: sessionID}
	var textBuf strings.Builder

	producer := mgr.Stream(ms, message)
	producer(ctx, func(eventType string, payload any) {
		switch eventType {
		case "text_delta":
			if m, ok := payload.(map[string]string); ok {
				textBuf.WriteString(m["delta"])
				if !runQuiet && !runJSON {
					fmt.Print(m["delta"])
				}
			}
		case "error":
			if m, ok := payload.(map[string]string); ok {
				result.Err = m["content"]
			}
		case "done":
			if m, ok := payload.(map[string]any); ok {
				if turns, ok := m["turns"].(int); ok {
					result.Turns = turns
				}
				if dur, ok := m["durationMs"].(int64); ok {
					result.DurationMS = dur
				}
			}
		}
	})

	result.Text = textBuf.String()

	if runJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else if runQuiet {
		fmt.Println(result.Text)
	} else {
		fmt.Println()
	}

	if result.Err != "" {
		return fmt.Errorf("%s", result.Err)
	}
	return nil
}

func resolveSession(ctx context.Context, sessions *store.SessionStore) (string, error) {
	if runSession != "" {
		if _, err := sessions.Load(ctx, runSession); err != nil {
			return "", fmt.Errorf("session not found: %s", runSession)
		}
		return runSession, nil
	}

	title := runTitle
	if title == "" {
		title = types.DefaultTitle
	}

	now := time.Now().UnixMilli()
	sessionID := ulid.Make().String()
	session := types.Session{
		ID:        sessionID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := sessions.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}
