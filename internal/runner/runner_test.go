package runner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/khuzaima-ocs/Synapse/internal/domain"
)

func userMessages(text string) []domain.ModelMessage {
	return []domain.ModelMessage{
		{Role: domain.RoleSystem, Content: "be brief"},
		{Role: domain.RoleUser, Content: text},
	}
}

func TestGenerateTurnSendsEmptyUserTurn(t *testing.T) {
	t.Parallel()
	var req struct {
		Messages []map[string]interface{} `json:"messages"`
	}
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"did you mean to send something?"}}]}`))
	}))
	defer mock.Close()

	messages := []domain.ModelMessage{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: "earlier question"},
		{Role: domain.RoleAssistant, Content: "earlier answer"},
		{Role: domain.RoleUser, Content: ""},
	}
	cfg := GenerateConfig{Model: "gpt-4o", APIKey: "sk-test", BaseURL: mock.URL}
	r := NewWithHTTPClient(mock.Client())
	if _, err := r.GenerateTurn(context.Background(), messages, cfg, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Messages) != 4 {
		t.Fatalf("expected 4 messages, got=%d (%v)", len(req.Messages), req.Messages)
	}
	last := req.Messages[3]
	if last["role"] != "user" {
		t.Fatalf("expected trailing user turn, got=%v", last)
	}
	if content, _ := last["content"].(string); content != "" {
		t.Fatalf("expected empty content, got=%q", content)
	}

	// A first message with no instructions still reaches the provider.
	req.Messages = nil
	if _, err := r.GenerateTurn(context.Background(), []domain.ModelMessage{{Role: domain.RoleUser}}, cfg, nil); err != nil {
		t.Fatalf("unexpected error for lone empty user turn: %v", err)
	}
	if len(req.Messages) != 1 || req.Messages[0]["role"] != "user" {
		t.Fatalf("unexpected payload: %v", req.Messages)
	}
}

func TestToOpenAIMessagesDropsBlankSystemOnly(t *testing.T) {
	got := toOpenAIMessages([]domain.ModelMessage{
		{Role: domain.RoleSystem, Content: "  "},
		{Role: domain.RoleUser, Content: " "},
	})
	if len(got) != 1 || got[0].Role != domain.RoleUser {
		t.Fatalf("unexpected messages: %+v", got)
	}
}

func TestNewRunnerUsesNoGlobalHTTPTimeout(t *testing.T) {
	t.Parallel()
	r := New()
	if r.httpClient == nil {
		t.Fatal("httpClient should not be nil")
	}
	if r.httpClient.Timeout != 0 {
		t.Fatalf("expected no global timeout, got=%s", r.httpClient.Timeout)
	}
}

func TestGenerateTurnOpenAISuccess(t *testing.T) {
	t.Parallel()
	var auth string
	var req map[string]interface{}

	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"hello from provider"}}]}`))
	}))
	defer mock.Close()

	r := NewWithHTTPClient(mock.Client())
	got, err := r.GenerateTurn(context.Background(), userMessages("hello"), GenerateConfig{
		ProviderID:  domain.ProviderOpenAI,
		Model:       "gpt-4o-mini",
		APIKey:      "sk-test",
		BaseURL:     mock.URL,
		Temperature: 0.7,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "hello from provider" || got.ResponseID != "chatcmpl-1" {
		t.Fatalf("unexpected turn: %+v", got)
	}
	if auth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header: %q", auth)
	}
	if req["model"] != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %v", req["model"])
	}
	if _, ok := req["tools"]; ok {
		t.Fatalf("tools must be omitted when the catalog is empty: %v", req["tools"])
	}
	temp, _ := req["temperature"].(float64)
	if temp < 0.69 || temp > 0.71 {
		t.Fatalf("unexpected temperature: %v", req["temperature"])
	}
	messages, _ := req["messages"].([]interface{})
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got=%d", len(messages))
	}
	first, _ := messages[0].(map[string]interface{})
	if first["role"] != "system" {
		t.Fatalf("expected system message first, got=%v", first["role"])
	}
}

func TestGenerateTurnReturnsRawToolCallArguments(t *testing.T) {
	t.Parallel()
	var req map[string]interface{}
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[
			{"id":"call_a","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Lahore\"}"}},
			{"id":"","type":"function","function":{"name":"lookup","arguments":"{not json"}}
		]}}]}`))
	}))
	defer mock.Close()

	r := NewWithHTTPClient(mock.Client())
	got, err := r.GenerateTurn(context.Background(), userMessages("weather?"), GenerateConfig{
		ProviderID: domain.ProviderOpenAI,
		Model:      "gpt-4o",
		APIKey:     "sk-test",
		BaseURL:    mock.URL,
	}, []ToolDefinition{{Name: "get_weather", Description: "weather", Parameters: json.RawMessage(`{"type":"object"}`)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got=%d", len(got.ToolCalls))
	}
	if got.ToolCalls[0].ID != "call_a" || got.ToolCalls[0].Function.Arguments != `{"city":"Lahore"}` {
		t.Fatalf("unexpected first call: %+v", got.ToolCalls[0])
	}
	if got.ToolCalls[1].ID != "call_2" || got.ToolCalls[1].Function.Arguments != "{not json" {
		t.Fatalf("unexpected second call: %+v", got.ToolCalls[1])
	}
	tools, _ := req["tools"].([]interface{})
	if len(tools) != 1 {
		t.Fatalf("expected one tool in request, got=%v", req["tools"])
	}
}

func TestGenerateTurnReplaysToolMessages(t *testing.T) {
	t.Parallel()
	var req struct {
		Messages []struct {
			Role       string `json:"role"`
			ToolCallID string `json:"tool_call_id"`
			ToolCalls  []struct {
				ID string `json:"id"`
			} `json:"tool_calls"`
		} `json:"messages"`
	}
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"done"}}]}`))
	}))
	defer mock.Close()

	messages := []domain.ModelMessage{
		{Role: domain.RoleUser, Content: "weather?"},
		{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCallRequest{{ID: "call_a", Type: "function", Function: domain.ToolCallFunction{Name: "get_weather"}}}},
		{Role: domain.RoleTool, Content: `{"temp":21}`, ToolCallID: "call_a"},
	}
	_, err := NewWithHTTPClient(mock.Client()).GenerateTurn(context.Background(), messages, GenerateConfig{
		Model:   "gpt-4o",
		APIKey:  "sk-test",
		BaseURL: mock.URL,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got=%d", len(req.Messages))
	}
	if len(req.Messages[1].ToolCalls) != 1 || req.Messages[1].ToolCalls[0].ID != "call_a" {
		t.Fatalf("assistant tool calls not replayed: %+v", req.Messages[1])
	}
	if req.Messages[2].ToolCallID != "call_a" {
		t.Fatalf("tool_call_id not replayed: %+v", req.Messages[2])
	}
}

func TestGenerateTurnZeroTemperatureIsSent(t *testing.T) {
	t.Parallel()
	var req map[string]interface{}
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer mock.Close()

	_, err := NewWithHTTPClient(mock.Client()).GenerateTurn(context.Background(), userMessages("hi"), GenerateConfig{
		Model:   "gpt-4o",
		APIKey:  "sk-test",
		BaseURL: mock.URL,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	temp, ok := req["temperature"].(float64)
	if !ok || temp <= 0 || temp > 1e-6 {
		t.Fatalf("expected near-zero temperature in request, got=%v", req["temperature"])
	}
}

func TestGenerateTurnAzure(t *testing.T) {
	t.Parallel()
	var path, apiKey string
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiKey = r.Header.Get("api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"from azure"}}]}`))
	}))
	defer mock.Close()

	got, err := NewWithHTTPClient(mock.Client()).GenerateTurn(context.Background(), userMessages("hi"), GenerateConfig{
		ProviderID: domain.ProviderOpenAI,
		IsAzure:    true,
		Model:      "gpt-4o",
		APIKey:     "azure-key",
		BaseURL:    mock.URL,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "from azure" {
		t.Fatalf("unexpected reply: %q", got.Text)
	}
	if !strings.Contains(path, "/openai/deployments/gpt-4o/chat/completions") {
		t.Fatalf("unexpected azure path: %s", path)
	}
	if apiKey != "azure-key" {
		t.Fatalf("unexpected api-key header: %q", apiKey)
	}
}

func TestGenerateTurnAzureRequiresBaseURL(t *testing.T) {
	_, err := New().GenerateTurn(context.Background(), userMessages("hi"), GenerateConfig{
		ProviderID: domain.ProviderAzureOpenAI,
		Model:      "gpt-4o",
		APIKey:     "azure-key",
	}, nil)
	assertRunnerCode(t, err, ErrorCodeProviderNotConfigured)
}

func TestGenerateTurnProviderFailure(t *testing.T) {
	t.Parallel()
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer mock.Close()

	_, err := NewWithHTTPClient(mock.Client()).GenerateTurn(context.Background(), userMessages("hi"), GenerateConfig{
		Model:   "gpt-4o",
		APIKey:  "sk-bad",
		BaseURL: mock.URL,
	}, nil)
	assertRunnerCode(t, err, ErrorCodeProviderRequestFailed)
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status in message, got=%q", err.Error())
	}
}

func TestGenerateTurnNoChoices(t *testing.T) {
	t.Parallel()
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer mock.Close()

	_, err := NewWithHTTPClient(mock.Client()).GenerateTurn(context.Background(), userMessages("hi"), GenerateConfig{
		Model:   "gpt-4o",
		APIKey:  "sk-test",
		BaseURL: mock.URL,
	}, nil)
	assertRunnerCode(t, err, ErrorCodeProviderInvalidReply)
}

func TestGenerateTurnTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	mock := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer mock.Close()
	defer close(release)

	_, err := NewWithHTTPClient(mock.Client()).GenerateTurn(context.Background(), userMessages("hi"), GenerateConfig{
		Model:   "gpt-4o",
		APIKey:  "sk-test",
		BaseURL: mock.URL,
		Timeout: 50 * time.Millisecond,
	}, nil)
	assertRunnerCode(t, err, ErrorCodeProviderRequestFailed)
}

func TestGenerateTurnUsesDefaultBaseURL(t *testing.T) {
	t.Parallel()
	called := false
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer mock.Close()

	r := NewWithHTTPClient(mock.Client()).WithDefaultBaseURL(mock.URL + "/")
	if _, err := r.GenerateTurn(context.Background(), userMessages("hi"), GenerateConfig{Model: "gpt-4o", APIKey: "sk-test"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected default base url to be used")
	}
}

func TestGenerateTurnConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  GenerateConfig
		code string
	}{
		{name: "unsupported provider", cfg: GenerateConfig{ProviderID: domain.ProviderAnthropic, Model: "claude", APIKey: "k"}, code: ErrorCodeProviderNotSupported},
		{name: "unknown provider", cfg: GenerateConfig{ProviderID: "demo", Model: "gpt-4o", APIKey: "k"}, code: ErrorCodeProviderNotSupported},
		{name: "negative temperature", cfg: GenerateConfig{ProviderID: domain.ProviderOpenAI, Model: "gpt-4o", APIKey: "k", Temperature: -0.1}, code: ErrorCodeInvalidTemperature},
		{name: "temperature too high", cfg: GenerateConfig{ProviderID: domain.ProviderOpenAI, Model: "gpt-4o", APIKey: "k", Temperature: 2.5}, code: ErrorCodeInvalidTemperature},
		{name: "missing model", cfg: GenerateConfig{ProviderID: domain.ProviderOpenAI, APIKey: "k"}, code: ErrorCodeProviderNotConfigured},
		{name: "missing key", cfg: GenerateConfig{ProviderID: domain.ProviderOpenAI, Model: "gpt-4o"}, code: ErrorCodeProviderNotConfigured},
	}
	for _, tc := range cases {
		_, err := New().GenerateTurn(context.Background(), userMessages("hi"), tc.cfg, nil)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		var runnerErr *RunnerError
		if !errors.As(err, &runnerErr) || runnerErr.Code != tc.code {
			t.Fatalf("%s: expected code %s, got=%v", tc.name, tc.code, err)
		}
	}
}

func assertRunnerCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected runner error %s, got nil", code)
	}
	var runnerErr *RunnerError
	if !errors.As(err, &runnerErr) {
		t.Fatalf("expected *RunnerError, got=%T %v", err, err)
	}
	if runnerErr.Code != code {
		t.Fatalf("expected code=%s, got=%s (%v)", code, runnerErr.Code, err)
	}
}

func TestCheckProvider(t *testing.T) {
	for _, provider := range []string{"", domain.ProviderOpenAI, domain.ProviderOther, domain.ProviderAzureOpenAI, " OpenAI "} {
		if err := CheckProvider(provider, false); err != nil {
			t.Fatalf("provider %q: unexpected error: %v", provider, err)
		}
	}
	if err := CheckProvider(domain.ProviderAnthropic, true); err != nil {
		t.Fatalf("azure flag should select the azure adapter: %v", err)
	}
	err := CheckProvider(domain.ProviderAnthropic, false)
	assertRunnerCode(t, err, ErrorCodeProviderNotSupported)
	if !strings.Contains(err.Error(), "OpenAI-compatible") {
		t.Fatalf("expected a hint in the message, got=%q", err.Error())
	}
}
