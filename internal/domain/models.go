package domain

import (
	"encoding/json"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"

	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azure-openai"
	ProviderAnthropic   = "anthropic"
	ProviderOther       = "other"

	ChannelProviderTwilio = "twilio"

	DefaultAgentModel       = "gpt-4o"
	DefaultAgentTemperature = 1.0
	DefaultHistoryLimit     = 50
)

type APIErrorBody struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type Agent struct {
	ID           string    `json:"id" yaml:"id"`
	UserID       string    `json:"user_id" yaml:"user_id"`
	Name         string    `json:"name" yaml:"name"`
	Model        string    `json:"model" yaml:"model"`
	Temperature  float64   `json:"temperature" yaml:"temperature"`
	Instructions string    `json:"role_instructions,omitempty" yaml:"role_instructions"`
	APIKeyID     string    `json:"api_key_id,omitempty" yaml:"api_key_id"`
	ToolIDs      []string  `json:"tool_ids,omitempty" yaml:"tool_ids"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
}

type APIKey struct {
	ID        string    `json:"id" yaml:"id"`
	UserID    string    `json:"user_id,omitempty" yaml:"user_id"`
	Name      string    `json:"name" yaml:"name"`
	Key       string    `json:"key" yaml:"key"`
	Provider  string    `json:"provider" yaml:"provider"`
	IsAzure   bool      `json:"is_azure,omitempty" yaml:"is_azure"`
	BaseURL   string    `json:"base_url,omitempty" yaml:"base_url"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// Tool is a stored tool record. FunctionSchema holds the raw JSON the owner
// registered; it is classified by the catalog package on every resolve.
type Tool struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id,omitempty"`
	Name           string          `json:"name"`
	BaseURL        string          `json:"base_url"`
	SecretCode     string          `json:"secret_code,omitempty"`
	FunctionSchema json.RawMessage `json:"function_schema,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// CustomGPT points at an agent. APIKeyID is an optional override; when empty the
// credential is read from the agent at chat time.
type CustomGPT struct {
	ID        string    `json:"id" yaml:"id"`
	UserID    string    `json:"user_id" yaml:"user_id"`
	Name      string    `json:"name" yaml:"name"`
	AgentID   string    `json:"agent_id" yaml:"agent_id"`
	APIKeyID  string    `json:"api_key_id,omitempty" yaml:"api_key_id"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolCallRequest struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// Turn is one persisted conversation message. ExecutedToolCalls is audit data on
// a final assistant turn and is never replayed to the model.
type Turn struct {
	ID                string            `json:"id"`
	AgentID           string            `json:"agent_id"`
	UserID            string            `json:"user_id"`
	Role              string            `json:"role"`
	Content           string            `json:"content"`
	ToolCalls         []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID        string            `json:"tool_call_id,omitempty"`
	ExecutedToolCalls []ToolCallRequest `json:"executed_tool_calls,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// ModelMessage is the projection of a turn sent to the language model.
type ModelMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCallRequest
	ToolCallID string
}

func (t Turn) ModelMessage() ModelMessage {
	msg := ModelMessage{Role: t.Role, Content: t.Content}
	if t.Role == RoleAssistant && len(t.ToolCalls) > 0 {
		msg.ToolCalls = append([]ToolCallRequest(nil), t.ToolCalls...)
	}
	if t.Role == RoleTool {
		msg.ToolCallID = t.ToolCallID
	}
	return msg
}

// ChannelBinding maps a public webhook path token to one (agent, user) pair.
type ChannelBinding struct {
	ID                string    `json:"id" yaml:"id"`
	UserID            string    `json:"user_id" yaml:"user_id"`
	AgentID           string    `json:"agent_id" yaml:"agent_id"`
	Provider          string    `json:"provider" yaml:"provider"`
	PathToken         string    `json:"path_token" yaml:"path_token"`
	TwilioAuthToken   string    `json:"twilio_auth_token,omitempty" yaml:"twilio_auth_token"`
	TwilioAccountSID  string    `json:"twilio_account_sid,omitempty" yaml:"twilio_account_sid"`
	TwilioPhoneNumber string    `json:"twilio_phone_number,omitempty" yaml:"twilio_phone_number"`
	Enabled           bool      `json:"enabled" yaml:"enabled"`
	CreatedAt         time.Time `json:"created_at" yaml:"-"`
}

type ChatRequest struct {
	AgentID        string `json:"agent_id"`
	UserID         string `json:"user_id"`
	MessageContent string `json:"message_content"`
}

type CustomGPTChatRequest struct {
	UserID         string `json:"user_id"`
	MessageContent string `json:"message_content"`
}

type ChatResponse struct {
	MessageID string            `json:"message_id"`
	Content   string            `json:"content"`
	Role      string            `json:"role"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type HistoryEntry struct {
	ID         string            `json:"id"`
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (t Turn) HistoryEntry() HistoryEntry {
	calls := t.ToolCalls
	if len(calls) == 0 {
		calls = t.ExecutedToolCalls
	}
	return HistoryEntry{
		ID:         t.ID,
		Role:       t.Role,
		Content:    t.Content,
		ToolCalls:  calls,
		ToolCallID: t.ToolCallID,
		CreatedAt:  t.CreatedAt,
	}
}

type WhatsAppIntegrationRequest struct {
	UserID            string `json:"user_id"`
	AgentID           string `json:"agent_id"`
	TwilioAuthToken   string `json:"twilio_auth_token"`
	TwilioAccountSID  string `json:"twilio_account_sid"`
	TwilioPhoneNumber string `json:"twilio_phone_number"`
	Enabled           *bool  `json:"enabled,omitempty"`
}

// InboundMessage is the channel-agnostic shape produced by channel adapters.
type InboundMessage struct {
	Source         string            `json:"source"`
	ConnectorType  string            `json:"connector_type"`
	ConversationID string            `json:"conversation_id"`
	SenderID       string            `json:"sender_id"`
	Text           string            `json:"text"`
	Raw            map[string]string `json:"raw,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
