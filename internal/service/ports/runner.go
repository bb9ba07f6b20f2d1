package ports

import (
	"context"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
	"github.com/khuzaima-ocs/Synapse/internal/runner"
)

type ModelRunner interface {
	GenerateTurn(ctx context.Context, messages []domain.ModelMessage, cfg runner.GenerateConfig, tools []runner.ToolDefinition) (runner.TurnResult, error)
}
