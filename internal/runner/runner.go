package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
)

const (
	AdapterOpenAICompatible = "openai-compatible"
	AdapterAzureOpenAI      = "azure-openai"

	ErrorCodeProviderNotConfigured = "provider_not_configured"
	ErrorCodeProviderNotSupported  = "provider_not_supported"
	ErrorCodeProviderRequestFailed = "provider_request_failed"
	ErrorCodeProviderInvalidReply  = "provider_invalid_reply"
	ErrorCodeInvalidTemperature    = "invalid_temperature"

	MaxTemperature = 2.0
)

type RunnerError struct {
	Code    string
	Message string
	Err     error
}

func (e *RunnerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *RunnerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type GenerateConfig struct {
	ProviderID  string
	Model       string
	APIKey      string
	BaseURL     string
	IsAzure     bool
	Temperature float64
	Timeout     time.Duration
}

type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Strict      bool
}

// TurnResult is one model reply. Tool call arguments are kept as the raw JSON
// text the model produced; parsing them is the caller's job.
type TurnResult struct {
	Text       string
	ToolCalls  []domain.ToolCallRequest
	ResponseID string
}

type ProviderAdapter interface {
	ID() string
	GenerateTurn(ctx context.Context, messages []domain.ModelMessage, cfg GenerateConfig, tools []ToolDefinition, runner *Runner) (TurnResult, error)
}

type Runner struct {
	httpClient     *http.Client
	defaultBaseURL string
	adapters       map[string]ProviderAdapter
}

func New() *Runner {
	return NewWithHTTPClient(&http.Client{})
}

func NewWithHTTPClient(client *http.Client) *Runner {
	if client == nil {
		client = &http.Client{}
	}
	r := &Runner{
		httpClient: client,
		adapters:   map[string]ProviderAdapter{},
	}
	r.registerAdapter(&openAICompatibleAdapter{})
	r.registerAdapter(&azureOpenAIAdapter{})
	return r
}

// WithDefaultBaseURL sets the endpoint used for OpenAI-compatible keys that do
// not carry their own base URL.
func (r *Runner) WithDefaultBaseURL(baseURL string) *Runner {
	r.defaultBaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return r
}

func (r *Runner) registerAdapter(adapter ProviderAdapter) {
	if adapter == nil {
		return
	}
	id := strings.TrimSpace(adapter.ID())
	if id == "" {
		return
	}
	r.adapters[id] = adapter
}

func (r *Runner) GenerateTurn(ctx context.Context, messages []domain.ModelMessage, cfg GenerateConfig, tools []ToolDefinition) (TurnResult, error) {
	if err := CheckProvider(cfg.ProviderID, cfg.IsAzure); err != nil {
		return TurnResult{}, err
	}
	if err := CheckTemperature(cfg.Temperature); err != nil {
		return TurnResult{}, err
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return TurnResult{}, &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "model is required for active provider"}
	}
	adapterID := adapterForProvider(normalizeProvider(cfg.ProviderID), cfg.IsAzure)
	adapter, ok := r.adapters[adapterID]
	if !ok {
		return TurnResult{}, &RunnerError{
			Code:    ErrorCodeProviderNotSupported,
			Message: fmt.Sprintf("adapter %q is not supported", adapterID),
		}
	}
	return adapter.GenerateTurn(ctx, messages, cfg, tools, r)
}

// CheckProvider reports whether an api key with this provider can be served.
// Anthropic keys are stored but only reachable through an OpenAI-compatible
// gateway registered under provider "other".
func CheckProvider(providerID string, isAzure bool) error {
	providerID = normalizeProvider(providerID)
	if adapterForProvider(providerID, isAzure) != "" {
		return nil
	}
	if providerID == domain.ProviderAnthropic {
		return &RunnerError{
			Code:    ErrorCodeProviderNotSupported,
			Message: `provider "anthropic" is not supported; use provider "other" with an OpenAI-compatible base_url`,
		}
	}
	return &RunnerError{
		Code:    ErrorCodeProviderNotSupported,
		Message: fmt.Sprintf("provider %q is not supported", providerID),
	}
}

// CheckTemperature rejects values outside the range chat completions accept.
func CheckTemperature(value float64) error {
	if math.IsNaN(value) || value < 0 || value > MaxTemperature {
		return &RunnerError{
			Code:    ErrorCodeInvalidTemperature,
			Message: fmt.Sprintf("temperature %v is outside [0, %v]", value, MaxTemperature),
		}
	}
	return nil
}

func normalizeProvider(providerID string) string {
	return strings.ToLower(strings.TrimSpace(providerID))
}

func adapterForProvider(providerID string, isAzure bool) string {
	if isAzure {
		return AdapterAzureOpenAI
	}
	switch providerID {
	case "", domain.ProviderOpenAI, domain.ProviderOther:
		return AdapterOpenAICompatible
	case domain.ProviderAzureOpenAI:
		return AdapterAzureOpenAI
	}
	if strings.HasPrefix(providerID, AdapterOpenAICompatible) {
		return AdapterOpenAICompatible
	}
	return ""
}

type openAICompatibleAdapter struct{}

func (a *openAICompatibleAdapter) ID() string {
	return AdapterOpenAICompatible
}

func (a *openAICompatibleAdapter) GenerateTurn(ctx context.Context, messages []domain.ModelMessage, cfg GenerateConfig, tools []ToolDefinition, runner *Runner) (TurnResult, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return TurnResult{}, &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "provider api_key is required"}
	}
	clientCfg := openai.DefaultConfig(apiKey)
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = runner.defaultBaseURL
	}
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	clientCfg.HTTPClient = runner.httpClient
	return runner.createChatCompletion(ctx, openai.NewClientWithConfig(clientCfg), messages, cfg, tools)
}

type azureOpenAIAdapter struct{}

func (a *azureOpenAIAdapter) ID() string {
	return AdapterAzureOpenAI
}

func (a *azureOpenAIAdapter) GenerateTurn(ctx context.Context, messages []domain.ModelMessage, cfg GenerateConfig, tools []ToolDefinition, runner *Runner) (TurnResult, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return TurnResult{}, &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "provider api_key is required"}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return TurnResult{}, &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "azure openai requires a base_url"}
	}
	clientCfg := openai.DefaultAzureConfig(apiKey, baseURL)
	clientCfg.HTTPClient = runner.httpClient
	return runner.createChatCompletion(ctx, openai.NewClientWithConfig(clientCfg), messages, cfg, tools)
}

func (r *Runner) createChatCompletion(ctx context.Context, client *openai.Client, messages []domain.ModelMessage, cfg GenerateConfig, tools []ToolDefinition) (TurnResult, error) {
	payload := openai.ChatCompletionRequest{
		Model:       strings.TrimSpace(cfg.Model),
		Messages:    toOpenAIMessages(messages),
		Tools:       toOpenAITools(tools),
		Temperature: toOpenAITemperature(cfg.Temperature),
	}
	if len(payload.Messages) == 0 {
		return TurnResult{}, &RunnerError{Code: ErrorCodeProviderRequestFailed, Message: "no messages to send"}
	}

	requestCtx := ctx
	cancel := func() {}
	if cfg.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	}
	defer cancel()

	started := time.Now()
	resp, err := client.CreateChatCompletion(requestCtx, payload)
	if err != nil {
		log.Printf("[runner] chat completion failed model=%s messages=%d tools=%d elapsed=%s err=%v", payload.Model, len(payload.Messages), len(payload.Tools), time.Since(started), err)
		return TurnResult{}, mapCompletionError(err)
	}
	if len(resp.Choices) == 0 {
		return TurnResult{}, &RunnerError{
			Code:    ErrorCodeProviderInvalidReply,
			Message: "provider response has no choices",
		}
	}

	message := resp.Choices[0].Message
	toolCalls, err := parseOpenAIToolCalls(message.ToolCalls)
	if err != nil {
		return TurnResult{}, &RunnerError{
			Code:    ErrorCodeProviderInvalidReply,
			Message: err.Error(),
			Err:     err,
		}
	}
	log.Printf("[runner] chat completion model=%s messages=%d tools=%d tool_calls=%d elapsed=%s", payload.Model, len(payload.Messages), len(payload.Tools), len(toolCalls), time.Since(started))
	return TurnResult{
		Text:       message.Content,
		ToolCalls:  toolCalls,
		ResponseID: strings.TrimSpace(resp.ID),
	}, nil
}

func mapCompletionError(err error) *RunnerError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &RunnerError{
			Code:    ErrorCodeProviderRequestFailed,
			Message: fmt.Sprintf("provider returned status %d: %s", apiErr.HTTPStatusCode, strings.TrimSpace(apiErr.Message)),
			Err:     err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &RunnerError{
			Code:    ErrorCodeProviderRequestFailed,
			Message: fmt.Sprintf("provider returned status %d", reqErr.HTTPStatusCode),
			Err:     err,
		}
	}
	return &RunnerError{
		Code:    ErrorCodeProviderRequestFailed,
		Message: "provider request failed",
		Err:     err,
	}
}

// toOpenAITemperature maps an explicit zero onto the smallest non-zero value,
// since the request field is dropped from the payload when it is zero.
func toOpenAITemperature(value float64) float32 {
	if value == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(value)
}

func toOpenAIMessages(input []domain.ModelMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(input))
	for _, msg := range input {
		role := normalizeRole(msg.Role)
		item := openai.ChatCompletionMessage{Role: role, Content: msg.Content}
		switch role {
		case domain.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				item.ToolCalls = toOpenAIToolCalls(msg.ToolCalls)
			}
			if item.Content == "" && len(item.ToolCalls) == 0 {
				continue
			}
		case domain.RoleTool:
			item.ToolCallID = strings.TrimSpace(msg.ToolCallID)
		case domain.RoleSystem:
			if strings.TrimSpace(item.Content) == "" {
				continue
			}
		}
		out = append(out, item)
	}
	return out
}

func toOpenAIToolCalls(calls []domain.ToolCallRequest) []openai.ToolCall {
	out := make([]openai.ToolCall, 0, len(calls))
	for _, call := range calls {
		arguments := strings.TrimSpace(call.Function.Arguments)
		if arguments == "" {
			arguments = "{}"
		}
		out = append(out, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Function.Name,
				Arguments: arguments,
			},
		})
	}
	return out
}

func toOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, item := range tools {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: strings.TrimSpace(item.Description),
				Strict:      item.Strict,
				Parameters:  normalizeToolParameters(item.Parameters),
			},
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseOpenAIToolCalls(in []openai.ToolCall) ([]domain.ToolCallRequest, error) {
	if len(in) == 0 {
		return nil, nil
	}
	calls := make([]domain.ToolCallRequest, 0, len(in))
	for i, item := range in {
		name := strings.TrimSpace(item.Function.Name)
		if name == "" {
			return nil, fmt.Errorf("provider tool call[%d] name is empty", i)
		}
		callID := strings.TrimSpace(item.ID)
		if callID == "" {
			callID = fmt.Sprintf("call_%d", i+1)
		}
		calls = append(calls, domain.ToolCallRequest{
			ID:   callID,
			Type: string(openai.ToolTypeFunction),
			Function: domain.ToolCallFunction{
				Name:      name,
				Arguments: item.Function.Arguments,
			},
		})
	}
	return calls, nil
}

func normalizeToolParameters(in json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(in))
	if trimmed == "" || trimmed == "null" || !json.Valid([]byte(trimmed)) {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return json.RawMessage(trimmed)
}

func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case domain.RoleSystem, domain.RoleAssistant, domain.RoleUser, domain.RoleTool:
		return strings.ToLower(strings.TrimSpace(role))
	default:
		return domain.RoleUser
	}
}
