package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
	"github.com/khuzaima-ocs/Synapse/internal/repo"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "synapse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestTurnsRoundTripMostRecentOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 4; i++ {
		_, err := s.AppendTurn(ctx, domain.Turn{AgentID: "a1", UserID: "u1", Role: domain.RoleUser, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}
	call := domain.ToolCallRequest{ID: "call_1", Type: "function", Function: domain.ToolCallFunction{Name: "get_weather", Arguments: `{"city":"Lahore"}`}}
	_, err := s.AppendTurn(ctx, domain.Turn{AgentID: "a1", UserID: "u1", Role: domain.RoleAssistant, ToolCalls: []domain.ToolCallRequest{call}})
	require.NoError(t, err)
	_, err = s.AppendTurn(ctx, domain.Turn{AgentID: "a1", UserID: "u1", Role: domain.RoleTool, Content: `{"temp":21}`, ToolCallID: "call_1"})
	require.NoError(t, err)
	_, err = s.AppendTurn(ctx, domain.Turn{AgentID: "a1", UserID: "u1", Role: domain.RoleAssistant, Content: "21C", ExecutedToolCalls: []domain.ToolCallRequest{call}})
	require.NoError(t, err)

	turns, err := s.LoadTurns(ctx, "a1", "u1", 4)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "m3", turns[0].Content)
	assert.Equal(t, []domain.ToolCallRequest{call}, turns[1].ToolCalls)
	assert.Equal(t, "call_1", turns[2].ToolCallID)
	assert.Empty(t, turns[3].ToolCalls)
	assert.Equal(t, []domain.ToolCallRequest{call}, turns[3].ExecutedToolCalls)

	all, err := s.LoadTurns(ctx, "a1", "u1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 7)

	none, err := s.LoadTurns(ctx, "a1", "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEntitiesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.PutAPIKey(ctx, domain.APIKey{ID: "k1", Name: "main", Key: "sk-1", Provider: domain.ProviderAzureOpenAI, IsAzure: true, BaseURL: "https://x.openai.azure.com"}))
	require.NoError(t, s.PutAgent(ctx, domain.Agent{ID: "a1", UserID: "u1", Model: "gpt-4o", Temperature: 0.2, APIKeyID: "k1", ToolIDs: []string{"t2", "t1"}}))
	require.NoError(t, s.PutTool(ctx, domain.Tool{ID: "t1", Name: "one", FunctionSchema: json.RawMessage(`{"type":"function"}`)}))
	require.NoError(t, s.PutTool(ctx, domain.Tool{ID: "t2", Name: "two"}))
	require.NoError(t, s.PutCustomGPT(ctx, domain.CustomGPT{ID: "g1", UserID: "u1", AgentID: "a1"}))

	key, err := s.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, key.IsAzure)
	assert.Equal(t, "sk-1", key.Key)

	agent, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t1"}, agent.ToolIDs)
	assert.InDelta(t, 0.2, agent.Temperature, 1e-9)

	require.NoError(t, s.PutAgent(ctx, domain.Agent{ID: "a1", UserID: "u1", Model: "gpt-4o-mini"}))
	agent, err = s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", agent.Model)
	assert.Empty(t, agent.ToolIDs)

	tools, err := s.GetTools(ctx, []string{"t2", "missing", "t1"})
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "t2", tools[0].ID)
	assert.JSONEq(t, `{"type":"function"}`, string(tools[1].FunctionSchema))

	gpt, err := s.GetCustomGPT(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "a1", gpt.AgentID)

	_, err = s.GetAgent(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestBindingLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created, err := s.CreateBinding(ctx, domain.ChannelBinding{UserID: "u1", AgentID: "a1", Provider: domain.ChannelProviderTwilio, PathToken: "tok1", TwilioAuthToken: "auth", Enabled: true})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	_, err = s.CreateBinding(ctx, domain.ChannelBinding{UserID: "u2", AgentID: "a9", PathToken: "tok1"})
	assert.ErrorIs(t, err, repo.ErrConflict)

	got, err := s.GetBindingByToken(ctx, "tok1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, got.Enabled)
	assert.Equal(t, "auth", got.TwilioAuthToken)

	_, err = s.CreateBinding(ctx, domain.ChannelBinding{UserID: "u1", AgentID: "a2", PathToken: "tok2"})
	require.NoError(t, err)

	list, err := s.ListBindings(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	list, err = s.ListBindings(ctx, "u1", "a2")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteBinding(ctx, created.ID))
	assert.ErrorIs(t, s.DeleteBinding(ctx, created.ID), repo.ErrNotFound)
	_, err = s.GetBinding(ctx, created.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}
