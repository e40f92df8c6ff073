package sessionmgr

import (
	"context"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/super-agent/runtime/internal/interaction"
	"github.com/super-agent/runtime/internal/provider"
	"github.com/super-agent/runtime/internal/store"
	"github.com/super-agent/runtime/internal/toolspec"
	"github.com/super-agent/runtime/pkg/types"
)

// fakeProvider scripts one chunk sequence per CreateCompletion call.
type fakeProvider struct {
	id      string
	scripts [][]*schema.Message
	calls   int
}

func (p *fakeProvider) ID() string   { return p.id }
func (p *fakeProvider) Name() string { return p.id }

func (p *fakeProvider) Models() []types.Model {
	return []types.Model{{ID: "test-model", Name: "Test Model", ProviderID: p.id, InputPrice: 3, OutputPrice: 15}}
}

func (p *fakeProvider) ChatModel() model.ToolCallingChatModel { return nil }

func (p *fakeProvider) CreateCompletion(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	script := p.scripts[p.calls%len(p.scripts)]
	p.calls++

	reader, writer := schema.Pipe[*schema.Message](len(script) + 1)
	go func() {
		defer writer.Close()
		for _, msg := range script {
			writer.Send(msg, nil)
		}
	}()
	return provider.NewCompletionStream(reader), nil
}

// recordingDispatcher captures dispatched calls and replies with a fixed
// result.
type recordingDispatcher struct {
	calls  []toolspec.Call
	result toolspec.CallResult
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, sessionID string, call toolspec.Call) (toolspec.CallResult, error) {
	d.calls = append(d.calls, call)
	return d.result, nil
}

func newTestManager(t *testing.T, p provider.Provider, tools ToolDispatcher, gate *interaction.Gate) (*Manager, *store.SessionStore) {
	t.Helper()
	registry := provider.NewRegistry(&types.Config{})
	registry.Register(p)
	sessions := store.NewSessionStore(t.TempDir())
	return New(sessions, gate, registry, tools, 300*time.Second), sessions
}

func createSession(t *testing.T, sessions *store.SessionStore, id string) {
	t.Helper()
	now := time.Now().UnixMilli()
	require.NoError(t, sessions.Create(context.Background(), types.Session{
		ID: id, Title: types.DefaultTitle, CreatedAt: now, UpdatedAt: now,
	}))
}

func sessCfg(endpoint, model, mode string) types.SessionConfig {
	return types.SessionConfig{Endpoint: endpoint, Model: model, PermissionMode: mode}
}

func TestGetOrCreate_ReusesWhileEndpointAndModelMatch(t *testing.T) {
	p := &fakeProvider{id: "test"}
	mgr, sessions := newTestManager(t, p, nil, nil)
	createSession(t, sessions, "s1")

	first, err := mgr.GetOrCreate("s1", sessCfg("test", "test-model", "auto"), nil, "tok-1")
	require.NoError(t, err)

	var channelBound bool
	second, err := mgr.GetOrCreate("s1", sessCfg("test", "test-model", "ask"), func(string, any) { channelBound = true }, "")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, "ask", second.Config.PermissionMode, "requested mode is remembered for the next turn")
	require.Equal(t, "tok-1", second.ResumeToken)

	second.push("ask_user", nil)
	require.True(t, channelBound, "reuse rebinds the client channel")
}

func TestGetOrCreate_RecreatesOnModelChange(t *testing.T) {
	p := &fakeProvider{id: "test"}
	mgr, sessions := newTestManager(t, p, nil, nil)
	createSession(t, sessions, "s1")

	first, err := mgr.GetOrCreate("s1", sessCfg("test", "test-model", "auto"), nil, "tok-1")
	require.NoError(t, err)

	second, err := mgr.GetOrCreate("s1", sessCfg("test", "other-model", "auto"), nil, "tok-1")
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.Equal(t, "tok-1", second.ResumeToken, "stored resume token carries across recreation")
	require.False(t, second.HasStarted(), "a recreated session has not started its client yet")
}

func TestGetOrCreate_UnknownEndpointFails(t *testing.T) {
	p := &fakeProvider{id: "test"}
	mgr, sessions := newTestManager(t, p, nil, nil)
	createSession(t, sessions, "s1")

	_, err := mgr.GetOrCreate("s1", sessCfg("nope", "test-model", "auto"), nil, "")
	require.Error(t, err)
	require.False(t, mgr.IsRunning("s1"), "a failed create must not cache a half-initialized session")
}

func TestSweep_ClosesIdleSessionsButSparesRunningTasks(t *testing.T) {
	p := &fakeProvider{id: "test"}
	mgr, sessions := newTestManager(t, p, nil, nil)
	mgr.idleTimeout = time.Millisecond
	createSession(t, sessions, "idle")
	createSession(t, sessions, "busy")

	_, err := mgr.GetOrCreate("idle", sessCfg("test", "test-model", "auto"), nil, "")
	require.NoError(t, err)
	_, err = mgr.GetOrCreate("busy", sessCfg("test", "test-model", "auto"), nil, "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	mgr.sweep(func(sessionID string) bool { return sessionID == "busy" })

	require.False(t, mgr.IsRunning("idle"))
	require.True(t, mgr.IsRunning("busy"))
}

func TestClose_RemovesManagedSession(t *testing.T) {
	p := &fakeProvider{id: "test"}
	mgr, sessions := newTestManager(t, p, nil, nil)
	createSession(t, sessions, "s1")

	_, err := mgr.GetOrCreate("s1", sessCfg("test", "test-model", "auto"), nil, "")
	require.NoError(t, err)

	mgr.Close("s1")
	require.False(t, mgr.IsRunning("s1"))
}
