// Package chat runs the model/tool loop for one user message: it seeds the
// working history, calls the model, dispatches requested tool calls with a
// bounded retry budget per call id and persists every settled turn.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/khuzaima-ocs/Synapse/internal/catalog"
	"github.com/khuzaima-ocs/Synapse/internal/domain"
	"github.com/khuzaima-ocs/Synapse/internal/plugin"
	"github.com/khuzaima-ocs/Synapse/internal/repo"
	"github.com/khuzaima-ocs/Synapse/internal/runner"
	"github.com/khuzaima-ocs/Synapse/internal/service/ports"
)

const (
	MaxToolAttempts       = 3
	DefaultMaxModelRounds = 25
)

type State string

const (
	StateAwaitingModel    State = "AWAITING_MODEL"
	StateModelResponded   State = "MODEL_RESPONDED"
	StateDispatchingTools State = "DISPATCHING_TOOLS"
	StateTerminalResponse State = "TERMINAL_RESPONSE"
	StateFatal            State = "FATAL"
)

type Request struct {
	AgentID string
	UserID  string
	Message string
}

type Result struct {
	Turn   domain.Turn
	Rounds int
}

type Dependencies struct {
	Entities      ports.EntityReader
	Conversations ports.ConversationStore
	Runner        ports.ModelRunner
	Tools         plugin.ToolInvoker
}

type Options struct {
	HistoryLimit   int
	ModelTimeout   time.Duration
	MaxModelRounds int
	// Serialize runs at most one orchestration per (agent, user) at a time.
	Serialize bool
}

type Service struct {
	deps  Dependencies
	opts  Options
	locks *keyedMutex
}

func NewService(deps Dependencies, opts Options) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = domain.DefaultHistoryLimit
	}
	if opts.MaxModelRounds <= 0 {
		opts.MaxModelRounds = DefaultMaxModelRounds
	}
	return &Service{deps: deps, opts: opts, locks: newKeyedMutex()}
}

// Handle orchestrates one user message sent straight to an agent.
func (s *Service) Handle(ctx context.Context, req Request) (Result, error) {
	if err := s.validate(req); err != nil {
		return Result{}, err
	}
	agent, err := s.loadAgent(ctx, req.AgentID)
	if err != nil {
		return Result{}, err
	}
	return s.run(ctx, agent, agent.APIKeyID, req)
}

// HandleCustomGPT orchestrates a message sent through a custom GPT. The
// credential is read from the agent at call time unless the custom GPT
// carries its own key.
func (s *Service) HandleCustomGPT(ctx context.Context, customGPTID, userID, message string) (Result, error) {
	if s == nil {
		return Result{}, fatalError("chat_service_unavailable", "chat service is unavailable", nil)
	}
	gpt, err := s.deps.Entities.GetCustomGPT(ctx, strings.TrimSpace(customGPTID))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{}, clientError(http.StatusNotFound, ErrorCodeCustomGPTNotFound, "custom gpt not found")
		}
		return Result{}, fatalError(ErrorCodeStoreFailed, "failed to load custom gpt", err)
	}
	req := Request{AgentID: gpt.AgentID, UserID: userID, Message: message}
	if err := s.validate(req); err != nil {
		return Result{}, err
	}
	agent, err := s.loadAgent(ctx, gpt.AgentID)
	if err != nil {
		return Result{}, err
	}
	keyID := strings.TrimSpace(gpt.APIKeyID)
	if keyID == "" {
		keyID = agent.APIKeyID
	}
	return s.run(ctx, agent, keyID, req)
}

func (s *Service) validate(req Request) error {
	if s == nil {
		return fatalError("chat_service_unavailable", "chat service is unavailable", nil)
	}
	switch {
	case s.deps.Entities == nil, s.deps.Conversations == nil, s.deps.Runner == nil, s.deps.Tools == nil:
		return fatalError("chat_service_misconfigured", "chat service dependencies are missing", nil)
	case strings.TrimSpace(req.AgentID) == "":
		return clientError(http.StatusBadRequest, ErrorCodeInvalidRequest, "agent_id is required")
	case strings.TrimSpace(req.UserID) == "":
		return clientError(http.StatusBadRequest, ErrorCodeInvalidRequest, "user_id is required")
	}
	return nil
}

func (s *Service) loadAgent(ctx context.Context, agentID string) (domain.Agent, error) {
	agent, err := s.deps.Entities.GetAgent(ctx, strings.TrimSpace(agentID))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Agent{}, clientError(http.StatusNotFound, ErrorCodeAgentNotFound, "agent not found")
		}
		return domain.Agent{}, fatalError(ErrorCodeStoreFailed, "failed to load agent", err)
	}
	return agent, nil
}

func (s *Service) resolveCredential(ctx context.Context, keyID string) (domain.APIKey, error) {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return domain.APIKey{}, clientError(http.StatusBadRequest, ErrorCodeCredentialMissing, "agent has no api key configured")
	}
	key, err := s.deps.Entities.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.APIKey{}, clientError(http.StatusBadRequest, ErrorCodeCredentialMissing, "api key not found")
		}
		return domain.APIKey{}, fatalError(ErrorCodeStoreFailed, "failed to load api key", err)
	}
	if strings.TrimSpace(key.Key) == "" {
		return domain.APIKey{}, clientError(http.StatusBadRequest, ErrorCodeCredentialMissing, "api key is empty")
	}
	if err := runner.CheckProvider(key.Provider, key.IsAzure); err != nil {
		return domain.APIKey{}, clientError(http.StatusBadRequest, ErrorCodeCredentialUnsupported, err.Error())
	}
	return key, nil
}

// loop holds everything scoped to one orchestration call.
type loop struct {
	agent    domain.Agent
	userID   string
	config   runner.GenerateConfig
	catalog  catalog.Catalog
	tools    []runner.ToolDefinition
	working  []domain.ModelMessage
	attempts map[string]int
	state    State
	round    int
}

func (l *loop) transition(next State) {
	log.Printf("[chat] agent=%s user=%s round=%d state=%s->%s", l.agent.ID, l.userID, l.round, l.state, next)
	l.state = next
}

func (s *Service) run(ctx context.Context, agent domain.Agent, keyID string, req Request) (Result, error) {
	key, err := s.resolveCredential(ctx, keyID)
	if err != nil {
		return Result{}, err
	}
	if err := runner.CheckTemperature(agent.Temperature); err != nil {
		return Result{}, clientError(http.StatusBadRequest, ErrorCodeInvalidAgentConfig, err.Error())
	}

	userID := strings.TrimSpace(req.UserID)
	if s.opts.Serialize {
		unlock, err := s.locks.Lock(ctx, agent.ID+"|"+userID)
		if err != nil {
			return Result{}, fatalError(ErrorCodeRequestCancelled, "request cancelled while waiting for the conversation", err)
		}
		defer unlock()
	}

	toolRecords, err := s.deps.Entities.GetTools(ctx, agent.ToolIDs)
	if err != nil {
		return Result{}, fatalError(ErrorCodeStoreFailed, "failed to load agent tools", err)
	}
	resolved := catalog.Resolve(toolRecords)

	history, err := s.deps.Conversations.LoadTurns(ctx, agent.ID, userID, s.opts.HistoryLimit)
	if err != nil {
		return Result{}, fatalError(ErrorCodeStoreFailed, "failed to load conversation history", err)
	}

	l := &loop{
		agent:    agent,
		userID:   userID,
		config:   generateConfig(agent, key, s.opts.ModelTimeout),
		catalog:  resolved,
		tools:    toolDefinitions(resolved),
		working:  make([]domain.ModelMessage, 0, len(history)+8),
		attempts: map[string]int{},
		state:    StateAwaitingModel,
	}
	if instructions := strings.TrimSpace(agent.Instructions); instructions != "" {
		l.working = append(l.working, domain.ModelMessage{Role: domain.RoleSystem, Content: instructions})
	}
	l.working = append(l.working, projectHistory(history)...)

	userTurn, err := s.persist(ctx, domain.Turn{AgentID: agent.ID, UserID: userID, Role: domain.RoleUser, Content: req.Message})
	if err != nil {
		return Result{}, err
	}
	l.working = append(l.working, userTurn.ModelMessage())
	log.Printf("[chat] start agent=%s user=%s history=%d tools=%d message_chars=%d", agent.ID, userID, len(history), len(l.tools), len(req.Message))

	var audit []domain.ToolCallRequest
	for l.round = 1; l.round <= s.opts.MaxModelRounds; l.round++ {
		if err := ctx.Err(); err != nil {
			l.transition(StateFatal)
			return Result{}, fatalError(ErrorCodeRequestCancelled, "request cancelled", err)
		}

		turn, err := s.deps.Runner.GenerateTurn(ctx, l.working, l.config, l.tools)
		if err != nil {
			l.transition(StateFatal)
			return Result{}, fatalError(ErrorCodeModelCallFailed, "model call failed", err)
		}
		l.transition(StateModelResponded)

		if len(turn.ToolCalls) == 0 {
			l.transition(StateTerminalResponse)
			final, err := s.persist(ctx, domain.Turn{
				AgentID:           agent.ID,
				UserID:            userID,
				Role:              domain.RoleAssistant,
				Content:           turn.Text,
				ExecutedToolCalls: audit,
			})
			if err != nil {
				return Result{}, err
			}
			log.Printf("[chat] done agent=%s user=%s rounds=%d reply_chars=%d", agent.ID, userID, l.round, len(turn.Text))
			return Result{Turn: final, Rounds: l.round}, nil
		}

		l.transition(StateDispatchingTools)
		for index, call := range turn.ToolCalls {
			text := ""
			if index == 0 {
				text = turn.Text
			}
			if err := s.dispatch(ctx, l, call, text); err != nil {
				l.transition(StateFatal)
				return Result{}, err
			}
		}
		audit = turn.ToolCalls
		l.transition(StateAwaitingModel)
	}

	l.transition(StateFatal)
	return Result{}, fatalError(ErrorCodeMaxRoundsExceeded, fmt.Sprintf("model did not produce a final answer within %d rounds", s.opts.MaxModelRounds), nil)
}

// dispatch runs one tool call and folds the outcome into the working list.
// Successful rounds are persisted; failed attempts are shown to the model only.
func (s *Service) dispatch(ctx context.Context, l *loop, call domain.ToolCallRequest, text string) error {
	request := domain.Turn{
		AgentID:   l.agent.ID,
		UserID:    l.userID,
		Role:      domain.RoleAssistant,
		Content:   text,
		ToolCalls: []domain.ToolCallRequest{call},
	}

	result, callErr := s.invoke(ctx, l, call)
	if callErr != nil {
		l.attempts[call.ID]++
		attempt := l.attempts[call.ID]
		log.Printf("[chat] tool failed agent=%s user=%s tool=%s call_id=%s attempt=%d err=%v", l.agent.ID, l.userID, call.Function.Name, call.ID, attempt, callErr)
		if attempt >= MaxToolAttempts {
			return fatalError(
				ErrorCodeToolRetryExhausted,
				fmt.Sprintf("tool %s failed %d times", call.Function.Name, attempt),
				callErr,
			)
		}
		l.working = append(l.working, request.ModelMessage(), domain.ModelMessage{
			Role:       domain.RoleTool,
			Content:    errorPayload(callErr),
			ToolCallID: call.ID,
		})
		return nil
	}

	persistedRequest, err := s.persist(ctx, request)
	if err != nil {
		return err
	}
	response, err := s.persist(ctx, domain.Turn{
		AgentID:    l.agent.ID,
		UserID:     l.userID,
		Role:       domain.RoleTool,
		Content:    result.String(),
		ToolCallID: call.ID,
	})
	if err != nil {
		return err
	}
	l.working = append(l.working, persistedRequest.ModelMessage(), response.ModelMessage())
	return nil
}

func (s *Service) invoke(ctx context.Context, l *loop, call domain.ToolCallRequest) (plugin.ToolResult, error) {
	name := strings.TrimSpace(call.Function.Name)
	target, ok := l.catalog.Lookup(name)
	if !ok {
		return plugin.ToolResult{}, &plugin.ToolCallError{ToolName: name, Cause: fmt.Errorf("no endpoint configured for tool %s", name)}
	}
	args, err := parseArguments(call.Function.Arguments)
	if err != nil {
		return plugin.ToolResult{}, &plugin.ToolCallError{ToolName: name, Endpoint: target.Endpoint, Cause: err}
	}
	return s.deps.Tools.Invoke(ctx, plugin.ToolCommand{
		Endpoint:  target.Endpoint,
		Name:      name,
		Arguments: args,
		Secret:    target.Secret,
	})
}

func (s *Service) persist(ctx context.Context, turn domain.Turn) (domain.Turn, error) {
	saved, err := s.deps.Conversations.AppendTurn(ctx, turn)
	if err != nil {
		return domain.Turn{}, fatalError(ErrorCodeStoreFailed, "failed to persist conversation turn", err)
	}
	return saved, nil
}

func parseArguments(raw string) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

func errorPayload(err error) string {
	b, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return `{"error":"tool call failed"}`
	}
	return string(b)
}

func generateConfig(agent domain.Agent, key domain.APIKey, timeout time.Duration) runner.GenerateConfig {
	model := strings.TrimSpace(agent.Model)
	if model == "" {
		model = domain.DefaultAgentModel
	}
	return runner.GenerateConfig{
		ProviderID:  key.Provider,
		Model:       model,
		APIKey:      key.Key,
		BaseURL:     key.BaseURL,
		IsAzure:     key.IsAzure,
		Temperature: agent.Temperature,
		Timeout:     timeout,
	}
}

func toolDefinitions(c catalog.Catalog) []runner.ToolDefinition {
	if c.Empty() {
		return nil
	}
	out := make([]runner.ToolDefinition, 0, len(c.Specs))
	for _, spec := range c.Specs {
		out = append(out, runner.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Parameters,
			Strict:      spec.Strict,
		})
	}
	return out
}
