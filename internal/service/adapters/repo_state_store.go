package adapters

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
	"github.com/khuzaima-ocs/Synapse/internal/repo"
	"github.com/khuzaima-ocs/Synapse/internal/service/ports"
)

var _ ports.Repository = RepoStateStore{}

// RepoStateStore serves the store ports from the JSON file store.
type RepoStateStore struct {
	Store *repo.Store
}

func NewRepoStateStore(store *repo.Store) RepoStateStore {
	return RepoStateStore{Store: store}
}

var errStoreUnavailable = errors.New("state store is unavailable")

func (s RepoStateStore) Close() error {
	return nil
}

func (s RepoStateStore) AppendTurn(_ context.Context, turn domain.Turn) (domain.Turn, error) {
	if s.Store == nil {
		return domain.Turn{}, errStoreUnavailable
	}
	if strings.TrimSpace(turn.ID) == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	key := repo.ConversationKey(turn.AgentID, turn.UserID)
	err := s.Store.Write(func(state *repo.State) error {
		history := state.Histories[key]
		// Keep created_at monotonic within one conversation so ordering by
		// timestamp and by append position agree.
		if n := len(history); n > 0 && !turn.CreatedAt.After(history[n-1].CreatedAt) {
			turn.CreatedAt = history[n-1].CreatedAt.Add(time.Microsecond)
		}
		state.Histories[key] = append(history, turn)
		return nil
	})
	if err != nil {
		return domain.Turn{}, err
	}
	return turn, nil
}

func (s RepoStateStore) LoadTurns(_ context.Context, agentID, userID string, limit int) ([]domain.Turn, error) {
	if s.Store == nil {
		return nil, errStoreUnavailable
	}
	var out []domain.Turn
	s.Store.Read(func(state *repo.State) {
		history := state.Histories[repo.ConversationKey(agentID, userID)]
		start := 0
		if limit > 0 && len(history) > limit {
			start = len(history) - limit
		}
		out = append([]domain.Turn(nil), history[start:]...)
	})
	return out, nil
}

func (s RepoStateStore) GetAgent(_ context.Context, id string) (domain.Agent, error) {
	return readEntity(s.Store, func(state *repo.State) (domain.Agent, bool) {
		agent, ok := state.Agents[strings.TrimSpace(id)]
		return agent, ok
	})
}

func (s RepoStateStore) GetAPIKey(_ context.Context, id string) (domain.APIKey, error) {
	return readEntity(s.Store, func(state *repo.State) (domain.APIKey, bool) {
		key, ok := state.APIKeys[strings.TrimSpace(id)]
		return key, ok
	})
}

func (s RepoStateStore) GetCustomGPT(_ context.Context, id string) (domain.CustomGPT, error) {
	return readEntity(s.Store, func(state *repo.State) (domain.CustomGPT, bool) {
		gpt, ok := state.CustomGPTs[strings.TrimSpace(id)]
		return gpt, ok
	})
}

func (s RepoStateStore) GetTools(_ context.Context, ids []string) ([]domain.Tool, error) {
	if s.Store == nil {
		return nil, errStoreUnavailable
	}
	out := make([]domain.Tool, 0, len(ids))
	s.Store.Read(func(state *repo.State) {
		for _, id := range ids {
			if tool, ok := state.Tools[strings.TrimSpace(id)]; ok {
				out = append(out, tool)
			}
		}
	})
	return out, nil
}

func (s RepoStateStore) PutAgent(_ context.Context, agent domain.Agent) error {
	return s.write(func(state *repo.State) {
		if agent.CreatedAt.IsZero() {
			agent.CreatedAt = time.Now().UTC()
		}
		state.Agents[agent.ID] = agent
	})
}

func (s RepoStateStore) PutAPIKey(_ context.Context, key domain.APIKey) error {
	return s.write(func(state *repo.State) {
		if key.CreatedAt.IsZero() {
			key.CreatedAt = time.Now().UTC()
		}
		state.APIKeys[key.ID] = key
	})
}

func (s RepoStateStore) PutTool(_ context.Context, tool domain.Tool) error {
	return s.write(func(state *repo.State) {
		if tool.CreatedAt.IsZero() {
			tool.CreatedAt = time.Now().UTC()
		}
		state.Tools[tool.ID] = tool
	})
}

func (s RepoStateStore) PutCustomGPT(_ context.Context, gpt domain.CustomGPT) error {
	return s.write(func(state *repo.State) {
		if gpt.CreatedAt.IsZero() {
			gpt.CreatedAt = time.Now().UTC()
		}
		state.CustomGPTs[gpt.ID] = gpt
	})
}

func (s RepoStateStore) GetBinding(_ context.Context, id string) (domain.ChannelBinding, error) {
	return readEntity(s.Store, func(state *repo.State) (domain.ChannelBinding, bool) {
		binding, ok := state.Bindings[strings.TrimSpace(id)]
		return binding, ok
	})
}

func (s RepoStateStore) GetBindingByToken(_ context.Context, pathToken string) (domain.ChannelBinding, error) {
	token := strings.TrimSpace(pathToken)
	return readEntity(s.Store, func(state *repo.State) (domain.ChannelBinding, bool) {
		if token == "" {
			return domain.ChannelBinding{}, false
		}
		for _, binding := range state.Bindings {
			if binding.PathToken == token {
				return binding, true
			}
		}
		return domain.ChannelBinding{}, false
	})
}

func (s RepoStateStore) CreateBinding(_ context.Context, binding domain.ChannelBinding) (domain.ChannelBinding, error) {
	if s.Store == nil {
		return domain.ChannelBinding{}, errStoreUnavailable
	}
	if strings.TrimSpace(binding.ID) == "" {
		binding.ID = uuid.NewString()
	}
	if binding.CreatedAt.IsZero() {
		binding.CreatedAt = time.Now().UTC()
	}
	err := s.Store.Write(func(state *repo.State) error {
		if _, exists := state.Bindings[binding.ID]; exists {
			return repo.ErrConflict
		}
		for _, existing := range state.Bindings {
			if existing.PathToken == binding.PathToken {
				return repo.ErrConflict
			}
		}
		state.Bindings[binding.ID] = binding
		return nil
	})
	if err != nil {
		return domain.ChannelBinding{}, err
	}
	return binding, nil
}

func (s RepoStateStore) ListBindings(_ context.Context, userID, agentID string) ([]domain.ChannelBinding, error) {
	if s.Store == nil {
		return nil, errStoreUnavailable
	}
	userID = strings.TrimSpace(userID)
	agentID = strings.TrimSpace(agentID)
	out := []domain.ChannelBinding{}
	s.Store.Read(func(state *repo.State) {
		for _, binding := range state.Bindings {
			if binding.UserID != userID {
				continue
			}
			if agentID != "" && binding.AgentID != agentID {
				continue
			}
			out = append(out, binding)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s RepoStateStore) DeleteBinding(_ context.Context, id string) error {
	if s.Store == nil {
		return errStoreUnavailable
	}
	id = strings.TrimSpace(id)
	return s.Store.Write(func(state *repo.State) error {
		if _, ok := state.Bindings[id]; !ok {
			return repo.ErrNotFound
		}
		delete(state.Bindings, id)
		return nil
	})
}

func (s RepoStateStore) write(fn func(state *repo.State)) error {
	if s.Store == nil {
		return errStoreUnavailable
	}
	return s.Store.Write(func(state *repo.State) error {
		fn(state)
		return nil
	})
}

func readEntity[T any](store *repo.Store, fn func(state *repo.State) (T, bool)) (T, error) {
	var zero T
	if store == nil {
		return zero, errStoreUnavailable
	}
	var (
		out T
		ok  bool
	)
	store.Read(func(state *repo.State) {
		out, ok = fn(state)
	})
	if !ok {
		return zero, repo.ErrNotFound
	}
	return out, nil
}
