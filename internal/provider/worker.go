package provider

import (
	"context"
	"errors"
	"io"

	"github.com/cloudwego/eino/schema"

	"github.com/super-agent/runtime/pkg/types"
)

var errNoProvider = errors.New("provider: no provider configured for this worker")

// CompletionWorker adapts a Provider into an orchestrator.Worker: one
// blocking, non-interactive LLM call per cycle.
// It drains a CompletionStream fully rather than translating it into
// canonical events — autonomous-mode cycles have no live subscriber to
// stream deltas to.
type CompletionWorker struct {
	Provider Provider
	Model    string
}

// Run sends prompt as a single user turn and aggregates the response into
// one LLMResult.
func (w CompletionWorker) Run(ctx context.Context, prompt, workspace, resumeToken string) (types.LLMResult, error) {
	if w.Provider == nil {
		return types.LLMResult{}, errNoProvider
	}

	stream, err := w.Provider.CreateCompletion(ctx, &CompletionRequest{
		Model:    w.Model,
		Messages: []*schema.Message{{Role: schema.User, Content: prompt}},
	})
	if err != nil {
		return types.LLMResult{}, err
	}
	defer stream.Close()

	var text string
	var toolCalls []string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.LLMResult{}, err
		}
		text += chunk.Content
		for _, tc := range chunk.ToolCalls {
			toolCalls = append(toolCalls, tc.Function.Name)
		}
	}

	return types.LLMResult{
		Text:        text,
		ToolCalls:   toolCalls,
		ResumeToken: resumeToken,
	}, nil
}
