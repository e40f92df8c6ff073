package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/super-agent/runtime/pkg/types"
)

// RuntimeConfig holds the process-wide defaults threaded through
// construction as an immutable record. Never consulted as ambient state
// once loaded.
type RuntimeConfig struct {
	DefaultEndpoint string `json:"defaultEndpoint"`
	DefaultModel    string `json:"defaultModel"`

	IdleTimeout     time.Duration `json:"-"`
	IdleTimeoutSecs int           `json:"idleTimeoutSeconds"`

	CleanupInterval     time.Duration `json:"-"`
	CleanupIntervalSecs int           `json:"cleanupIntervalSeconds"`

	AskUserDeadline     time.Duration `json:"-"`
	AskUserDeadlineSecs int           `json:"askUserDeadlineSeconds"`

	PermissionDeadline     time.Duration `json:"-"`
	PermissionDeadlineSecs int           `json:"permissionDeadlineSeconds"`

	DefaultCycleBudget int `json:"defaultCycleBudget"`

	// ToolAllow/ToolDeny are the default glob lists applied to every
	// session's tool calls unless a session supplies its own.
	ToolAllow []string `json:"toolAllow"`
	ToolDeny  []string `json:"toolDeny"`

	// MaxTurns bounds the tool rounds of a single streamed turn.
	MaxTurns int `json:"maxTurns"`

	WorkerPromptTemplate  string `json:"workerPromptTemplate"`
	CheckerPromptTemplate string `json:"checkerPromptTemplate"`

	ToolServers []types.ToolServerDesc `json:"toolServers"`
}

// Default returns the runtime defaults: 300s idle timeout, 60s cleanup
// sweep, 55s ask-user deadline, 120s permission deadline.
func Default() RuntimeConfig {
	cfg := RuntimeConfig{
		DefaultEndpoint:        "default",
		DefaultModel:           "claude-sonnet",
		IdleTimeoutSecs:        300,
		CleanupIntervalSecs:    60,
		AskUserDeadlineSecs:    55,
		PermissionDeadlineSecs: 120,
		DefaultCycleBudget:     10,
		MaxTurns:               50,
		WorkerPromptTemplate:   defaultWorkerPromptTemplate,
		CheckerPromptTemplate:  defaultCheckerPromptTemplate,
	}
	cfg.resolveDurations()
	return cfg
}

const defaultWorkerPromptTemplate = `Work toward the objective. When you produce structured output, write it
to __output.json in your working directory as a JSON object; include a
"files" list naming any files you created.`

const defaultCheckerPromptTemplate = `Verify the Worker's claims using available tools and respond with a JSON
object: {"verdict": "failed"|"needs_improvement"|"passed", "reason": "...",
"feedback": "...", "verified": ["..."]}`

// resolveDurations fills the time.Duration fields from their *Secs
// counterparts, applying the documented defaults where a loaded document
// left them at zero.
func (c *RuntimeConfig) resolveDurations() {
	if c.IdleTimeoutSecs == 0 {
		c.IdleTimeoutSecs = 300
	}
	if c.CleanupIntervalSecs == 0 {
		c.CleanupIntervalSecs = 60
	}
	if c.AskUserDeadlineSecs == 0 {
		c.AskUserDeadlineSecs = 55
	}
	if c.PermissionDeadlineSecs == 0 {
		c.PermissionDeadlineSecs = 120
	}
	c.IdleTimeout = time.Duration(c.IdleTimeoutSecs) * time.Second
	c.CleanupInterval = time.Duration(c.CleanupIntervalSecs) * time.Second
	c.AskUserDeadline = time.Duration(c.AskUserDeadlineSecs) * time.Second
	c.PermissionDeadline = time.Duration(c.PermissionDeadlineSecs) * time.Second
}

// Load loads configuration from (priority order, later wins):
//  1. Global config (~/.config/agent-runtime/runtime.jsonc), then the
//     global templates.yaml beside it
//  2. Project config (<directory>/.agent-runtime/runtime.jsonc), then the
//     project templates.yaml beside it
//  3. A project .env file, then environment variables
func Load(directory string) (RuntimeConfig, error) {
	cfg := Default()

	loadConfigFile(GlobalConfigPath(), &cfg)
	loadTemplatesFile(GlobalTemplatesPath(), &cfg)
	if directory != "" {
		loadConfigFile(ProjectConfigPath(directory), &cfg)
		loadTemplatesFile(ProjectTemplatesPath(directory), &cfg)
		// .env populates the environment without clobbering variables the
		// caller already set, so real env vars still win below.
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}
	applyEnvOverrides(&cfg)
	cfg.resolveDurations()

	return cfg, nil
}

// promptTemplates is the shape of a templates.yaml document: the worker and
// checker prompt fragments, authored as YAML for readable multi-line text.
type promptTemplates struct {
	Worker  string `yaml:"worker"`
	Checker string `yaml:"checker"`
}

func loadTemplatesFile(path string, cfg *RuntimeConfig) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var tpl promptTemplates
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return
	}
	if tpl.Worker != "" {
		cfg.WorkerPromptTemplate = tpl.Worker
	}
	if tpl.Checker != "" {
		cfg.CheckerPromptTemplate = tpl.Checker
	}
}

func loadConfigFile(path string, cfg *RuntimeConfig) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	// tidwall/jsonc strips // and /* */ comments before decoding.
	data = jsonc.ToJSON(data)

	var fileConfig RuntimeConfig
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return
	}
	merge(cfg, &fileConfig)
}

func merge(target, source *RuntimeConfig) {
	if source.DefaultEndpoint != "" {
		target.DefaultEndpoint = source.DefaultEndpoint
	}
	if source.DefaultModel != "" {
		target.DefaultModel = source.DefaultModel
	}
	if source.IdleTimeoutSecs != 0 {
		target.IdleTimeoutSecs = source.IdleTimeoutSecs
	}
	if source.CleanupIntervalSecs != 0 {
		target.CleanupIntervalSecs = source.CleanupIntervalSecs
	}
	if source.AskUserDeadlineSecs != 0 {
		target.AskUserDeadlineSecs = source.AskUserDeadlineSecs
	}
	if source.PermissionDeadlineSecs != 0 {
		target.PermissionDeadlineSecs = source.PermissionDeadlineSecs
	}
	if source.DefaultCycleBudget != 0 {
		target.DefaultCycleBudget = source.DefaultCycleBudget
	}
	if len(source.ToolAllow) > 0 {
		target.ToolAllow = source.ToolAllow
	}
	if len(source.ToolDeny) > 0 {
		target.ToolDeny = source.ToolDeny
	}
	if source.MaxTurns != 0 {
		target.MaxTurns = source.MaxTurns
	}
	if source.WorkerPromptTemplate != "" {
		target.WorkerPromptTemplate = source.WorkerPromptTemplate
	}
	if source.CheckerPromptTemplate != "" {
		target.CheckerPromptTemplate = source.CheckerPromptTemplate
	}
	if len(source.ToolServers) > 0 {
		target.ToolServers = source.ToolServers
	}
}

func applyEnvOverrides(cfg *RuntimeConfig) {
	if v := os.Getenv("RUNTIME_DEFAULT_ENDPOINT"); v != "" {
		cfg.DefaultEndpoint = v
	}
	if v := os.Getenv("RUNTIME_DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
}

// Save writes a RuntimeConfig document to disk as indented JSON (a valid
// JSONC document with no comments).
func Save(cfg RuntimeConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
