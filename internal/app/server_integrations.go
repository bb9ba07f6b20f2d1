package app

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/khuzaima-ocs/Synapse/internal/channel"
	"github.com/khuzaima-ocs/Synapse/internal/domain"
	chatservice "github.com/khuzaima-ocs/Synapse/internal/service/chat"
	integrationservice "github.com/khuzaima-ocs/Synapse/internal/service/integration"
)

func (s *Server) createWhatsAppIntegration(w http.ResponseWriter, r *http.Request) {
	var req domain.WhatsAppIntegrationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	created, err := s.integrations.Create(r.Context(), req)
	if err != nil {
		writeIntegrationErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, integrationservice.Redacted(created))
}

func (s *Server) listWhatsAppIntegrations(w http.ResponseWriter, r *http.Request) {
	s.writeIntegrationList(w, r, "")
}

func (s *Server) listAgentWhatsAppIntegrations(w http.ResponseWriter, r *http.Request) {
	s.writeIntegrationList(w, r, chi.URLParam(r, "agent_id"))
}

func (s *Server) writeIntegrationList(w http.ResponseWriter, r *http.Request, agentID string) {
	bindings, err := s.integrations.List(r.Context(), queryParam(r, "user_id"), agentID)
	if err != nil {
		writeIntegrationErr(w, err)
		return
	}
	out := make([]domain.ChannelBinding, 0, len(bindings))
	for _, binding := range bindings {
		out = append(out, integrationservice.Redacted(binding))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteWhatsAppIntegration(w http.ResponseWriter, r *http.Request) {
	if err := s.integrations.Delete(r.Context(), chi.URLParam(r, "integration_id"), queryParam(r, "user_id")); err != nil {
		writeIntegrationErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Integration deleted successfully"})
}

func writeIntegrationErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, integrationservice.ErrInvalidRequest):
		writeErr(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.Is(err, integrationservice.ErrAgentNotFound):
		writeErr(w, http.StatusNotFound, chatservice.ErrorCodeAgentNotFound, "agent not found", nil)
	case errors.Is(err, integrationservice.ErrBindingNotFound):
		writeErr(w, http.StatusNotFound, "integration_not_found", "integration not found", nil)
	case errors.Is(err, integrationservice.ErrBindingForbidden):
		writeErr(w, http.StatusForbidden, "forbidden", "not authorized to delete this integration", nil)
	default:
		writeErr(w, http.StatusInternalServerError, "store_failed", err.Error(), nil)
	}
}

// handleTwilioWebhook answers Twilio with plain text. Once the request is
// authenticated every failure becomes the fallback reply so the sender always
// gets an answer.
func (s *Server) handleTwilioWebhook(w http.ResponseWriter, r *http.Request) {
	binding, err := s.integrations.Resolve(r.Context(), chi.URLParam(r, "path_token"))
	if err != nil {
		if errors.Is(err, integrationservice.ErrBindingNotFound) || errors.Is(err, integrationservice.ErrBindingDisabled) {
			writeErr(w, http.StatusNotFound, "integration_not_found", "integration not found", nil)
			return
		}
		writeErr(w, http.StatusInternalServerError, "store_failed", err.Error(), nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_form", "invalid form body", nil)
		return
	}

	if !s.cfg.TwilioDisableSignatureValidation {
		webhookURL := channel.WebhookURL(s.cfg.TwilioPublicBaseURL, r)
		signature := r.Header.Get(channel.TwilioSignatureHeader)
		if err := channel.VerifyTwilioSignature(binding.TwilioAuthToken, webhookURL, r.PostForm, signature); err != nil {
			log.Printf("[channel] rejected webhook binding=%s err=%v", binding.ID, err)
			writeErr(w, http.StatusUnauthorized, "invalid_signature", "invalid signature", nil)
			return
		}
	}

	msg := channel.NormalizeTwilio(r.PostForm)
	channel.LogInbound(msg)

	result, err := s.chat.Handle(r.Context(), chatservice.Request{
		AgentID: binding.AgentID,
		UserID:  binding.UserID,
		Message: msg.Text,
	})
	if err != nil {
		log.Printf("[channel] orchestration failed binding=%s conversation=%s err=%v", binding.ID, msg.ConversationID, err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(channel.ReplyText(result.Turn.Content, err)))
}

func (s *Server) handleTwilioWebhookStatus(w http.ResponseWriter, r *http.Request) {
	_, err := s.integrations.Resolve(r.Context(), chi.URLParam(r, "path_token"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "enabled": err == nil})
}
