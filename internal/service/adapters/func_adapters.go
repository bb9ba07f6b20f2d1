package adapters

import (
	"context"
	"errors"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
	"github.com/khuzaima-ocs/Synapse/internal/plugin"
	"github.com/khuzaima-ocs/Synapse/internal/runner"
)

// ModelRunner adapts a plain function to ports.ModelRunner.
type ModelRunner struct {
	GenerateTurnFunc func(ctx context.Context, messages []domain.ModelMessage, cfg runner.GenerateConfig, tools []runner.ToolDefinition) (runner.TurnResult, error)
}

func (r ModelRunner) GenerateTurn(ctx context.Context, messages []domain.ModelMessage, cfg runner.GenerateConfig, tools []runner.ToolDefinition) (runner.TurnResult, error) {
	if r.GenerateTurnFunc == nil {
		return runner.TurnResult{}, errors.New("model runner is unavailable")
	}
	return r.GenerateTurnFunc(ctx, messages, cfg, tools)
}

// ToolInvoker adapts a plain function to plugin.ToolInvoker.
type ToolInvoker struct {
	InvokeFunc func(ctx context.Context, call plugin.ToolCommand) (plugin.ToolResult, error)
}

func (t ToolInvoker) Invoke(ctx context.Context, call plugin.ToolCommand) (plugin.ToolResult, error) {
	if t.InvokeFunc == nil {
		return plugin.ToolResult{}, errors.New("tool invoker is unavailable")
	}
	return t.InvokeFunc(ctx, call)
}
