package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/khuzaima-ocs/Synapse/internal/config"
	"github.com/khuzaima-ocs/Synapse/internal/domain"
	"github.com/khuzaima-ocs/Synapse/internal/plugin"
	"github.com/khuzaima-ocs/Synapse/internal/runner"
	chatservice "github.com/khuzaima-ocs/Synapse/internal/service/chat"
	integrationservice "github.com/khuzaima-ocs/Synapse/internal/service/integration"
	"github.com/khuzaima-ocs/Synapse/internal/service/ports"

	transport "github.com/khuzaima-ocs/Synapse/internal/app/http"
)

const version = "0.1.0"

const maxRequestBodyBytes = 1 << 20

// Dependencies lets callers swap the model runner and tool invoker. Nil
// fields fall back to the OpenAI compatible runner and the HTTP tool client.
type Dependencies struct {
	Repository ports.Repository
	Runner     ports.ModelRunner
	Tools      plugin.ToolInvoker
}

type Server struct {
	cfg          config.Config
	repository   ports.Repository
	chat         *chatservice.Service
	integrations *integrationservice.Service
	closeOnce    sync.Once
}

func NewServer(cfg config.Config, deps Dependencies) (*Server, error) {
	repository := deps.Repository
	if repository == nil {
		opened, err := OpenRepository(context.Background(), cfg)
		if err != nil {
			return nil, fmt.Errorf("open store failed: %w", err)
		}
		repository = opened
	}
	modelRunner := deps.Runner
	if modelRunner == nil {
		modelRunner = runner.New().WithDefaultBaseURL(cfg.OpenAIBaseURL)
	}
	tools := deps.Tools
	if tools == nil {
		tools = plugin.NewRemoteTool()
	}

	return &Server{
		cfg:        cfg,
		repository: repository,
		chat: chatservice.NewService(chatservice.Dependencies{
			Entities:      repository,
			Conversations: repository,
			Runner:        modelRunner,
			Tools:         tools,
		}, chatservice.Options{
			HistoryLimit:   cfg.HistoryLimit,
			ModelTimeout:   cfg.ModelTimeout,
			MaxModelRounds: cfg.MaxModelRounds,
			Serialize:      cfg.SerializeConversations,
		}),
		integrations: integrationservice.NewService(integrationservice.Dependencies{
			Agents:   repository,
			Bindings: repository,
		}),
	}, nil
}

func (s *Server) Close() {
	s.closeOnce.Do(func() {
		_ = s.repository.Close()
	})
}

func (s *Server) Handler() http.Handler {
	return transport.NewRouter(s.cfg.APIKey, transport.Handlers{
		System: transport.SystemHandlers{
			Version: s.handleVersion,
			Healthz: s.handleHealthz,
		},
		Chat: transport.ChatHandlers{
			Chat:          s.chatWithAgent,
			History:       s.getChatHistory,
			CustomGPTChat: s.chatWithCustomGPT,
		},
		Integrations: transport.IntegrationHandlers{
			CreateWhatsApp:       s.createWhatsAppIntegration,
			ListWhatsApp:         s.listWhatsAppIntegrations,
			ListWhatsAppForAgent: s.listAgentWhatsAppIntegrations,
			DeleteWhatsApp:       s.deleteWhatsAppIntegration,
		},
		Connectors: transport.ConnectorHandlers{
			TwilioWebhook: s.handleTwilioWebhook,
			TwilioStatus:  s.handleTwilioWebhookStatus,
		},
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", "invalid request body", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErr(w http.ResponseWriter, code int, errCode, message string, details interface{}) {
	writeJSON(w, code, domain.APIErrorBody{Error: domain.APIError{Code: errCode, Message: message, Details: details}})
}

// writeServiceErr maps orchestration failures onto the error envelope.
func writeServiceErr(w http.ResponseWriter, err error) {
	if chatErr, ok := chatservice.ErrorFrom(err); ok {
		writeErr(w, chatErr.Status, chatErr.Code, chatErr.Error(), nil)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeErr(w, http.StatusInternalServerError, chatservice.ErrorCodeRequestCancelled, err.Error(), nil)
		return
	}
	writeErr(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
}

func queryParam(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}
