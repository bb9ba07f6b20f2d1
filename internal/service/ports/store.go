package ports

import (
	"context"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
)

// ConversationStore is the append-only turn log. LoadTurns returns the most
// recent limit turns for one (agent, user) pair, oldest first.
type ConversationStore interface {
	AppendTurn(ctx context.Context, turn domain.Turn) (domain.Turn, error)
	LoadTurns(ctx context.Context, agentID, userID string, limit int) ([]domain.Turn, error)
}

// EntityReader exposes the records owned by external CRUD services. GetTools
// keeps the order of ids and skips ids that no longer exist.
type EntityReader interface {
	GetAgent(ctx context.Context, id string) (domain.Agent, error)
	GetAPIKey(ctx context.Context, id string) (domain.APIKey, error)
	GetTools(ctx context.Context, ids []string) ([]domain.Tool, error)
	GetCustomGPT(ctx context.Context, id string) (domain.CustomGPT, error)
}

type EntityWriter interface {
	PutAgent(ctx context.Context, agent domain.Agent) error
	PutAPIKey(ctx context.Context, key domain.APIKey) error
	PutTool(ctx context.Context, tool domain.Tool) error
	PutCustomGPT(ctx context.Context, gpt domain.CustomGPT) error
}

type BindingStore interface {
	GetBinding(ctx context.Context, id string) (domain.ChannelBinding, error)
	GetBindingByToken(ctx context.Context, pathToken string) (domain.ChannelBinding, error)
	CreateBinding(ctx context.Context, binding domain.ChannelBinding) (domain.ChannelBinding, error)
	// ListBindings filters by user and, when agentID is not empty, by agent.
	ListBindings(ctx context.Context, userID, agentID string) ([]domain.ChannelBinding, error)
	DeleteBinding(ctx context.Context, id string) error
}

type Repository interface {
	ConversationStore
	EntityReader
	EntityWriter
	BindingStore
	Close() error
}
